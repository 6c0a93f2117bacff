package utils

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOptionalMutexSerializes(t *testing.T) {
	mutex := OptionalMutex{UseMutex: true}
	counter := 0

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			mutex.Do(func() {
				counter++
			})
		}()
	}
	wg.Wait()

	require.Equal(t, 50, counter)
}

func TestOptionalMutexDisabled(t *testing.T) {
	mutex := OptionalMutex{UseMutex: false}

	// Without the mutex in use, recursive locking must not deadlock
	mutex.Lock()
	mutex.Lock()
	mutex.Unlock()
	mutex.Unlock()

	rw := OptionalRWMutex{UseMutex: false}
	rw.Lock()
	rw.RLock()
	rw.RUnlock()
	rw.Unlock()
}

package subcapture

import (
	"context"
	"sync/atomic"

	"github.com/vkngwrapper/aubstream/internal/utils"
	"golang.org/x/exp/slog"
)

// Mode selects how a sub-capture decides which enqueues reach the trace
type Mode uint32

const (
	// ModeOff captures every enqueue
	ModeOff Mode = iota
	// ModeFilter captures the enqueues whose kernel index and name pass the filter
	ModeFilter
	// ModeToggle captures while the toggle is switched on
	ModeToggle
)

var modeMapping = make(map[Mode]string)

func (m Mode) String() string {
	str, ok := modeMapping[m]
	if !ok {
		return "unknown"
	}
	return str
}

func init() {
	modeMapping[ModeOff] = "ModeOff"
	modeMapping[ModeFilter] = "ModeFilter"
	modeMapping[ModeToggle] = "ModeToggle"
}

// Options configures a Manager
type Options struct {
	Mode Mode
	// FilterKernelStartIdx and FilterKernelEndIdx bound the enqueue indices captured in ModeFilter.
	// A negative FilterKernelEndIdx leaves the range open ended.
	FilterKernelStartIdx int
	FilterKernelEndIdx   int
	// FilterKernelName restricts ModeFilter to kernels with this name. Empty matches every kernel.
	FilterKernelName string
}

// Status is the outcome of one enqueue's sub-capture check
type Status struct {
	IsActive                   bool
	WasActiveInPreviousEnqueue bool
}

// Manager tracks whether the trace is currently capturing. The toggle may be flipped from any goroutine;
// everything else is used by the owning command stream receiver.
type Manager struct {
	logger  *slog.Logger
	options Options
	mutex   utils.OptionalMutex

	toggleActive atomic.Bool

	isActive         bool
	wasActive        bool
	kernelCurrentIdx int
}

func New(logger *slog.Logger, options Options) *Manager {
	return &Manager{
		logger:  logger,
		options: options,
		mutex:   utils.OptionalMutex{UseMutex: true},
	}
}

func (m *Manager) Mode() Mode {
	return m.options.Mode
}

// IsSubCaptureMode reports whether captures are restricted at all
func (m *Manager) IsSubCaptureMode() bool {
	return m.options.Mode != ModeOff
}

func (m *Manager) IsSubCaptureActive() bool {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	return m.isActive
}

// SetToggleActive switches the capture toggle used by ModeToggle. The change takes effect at the next
// CheckAndActivate.
func (m *Manager) SetToggleActive(active bool) {
	m.toggleActive.Store(active)
}

func (m *Manager) IsToggleActive() bool {
	return m.toggleActive.Load()
}

// SetActive overrides the capture state, as if the previous enqueue had been decided that way
func (m *Manager) SetActive(active bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.isActive = active
}

// CheckAndActivate decides whether the enqueue of kernelName is captured
func (m *Manager) CheckAndActivate(kernelName string) Status {
	m.logger.Debug("Manager::CheckAndActivate")

	if m.options.Mode == ModeOff {
		return Status{}
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.wasActive = m.isActive

	switch m.options.Mode {
	case ModeToggle:
		m.isActive = m.toggleActive.Load()
	case ModeFilter:
		m.isActive = m.filterActive(kernelName)
		m.kernelCurrentIdx++
	}

	if m.isActive != m.wasActive {
		m.logger.LogAttrs(context.Background(), slog.LevelInfo, "sub-capture state changed",
			slog.String("Mode", m.options.Mode.String()),
			slog.String("Kernel", kernelName),
			slog.Bool("Active", m.isActive))
	}

	return Status{IsActive: m.isActive, WasActiveInPreviousEnqueue: m.wasActive}
}

func (m *Manager) filterActive(kernelName string) bool {
	if m.options.FilterKernelName != "" && m.options.FilterKernelName != kernelName {
		return false
	}
	if m.kernelCurrentIdx < m.options.FilterKernelStartIdx {
		return false
	}
	return m.options.FilterKernelEndIdx < 0 || m.kernelCurrentIdx <= m.options.FilterKernelEndIdx
}

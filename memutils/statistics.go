package memutils

import (
	"math"

	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
)

// Statistics counts the traffic a command stream receiver pushed into a trace
type Statistics struct {
	FlushCount       int
	WriteCount       int
	WriteBytes       int
	FailedWriteCount int
}

func (s *Statistics) Clear() {
	s.FlushCount = 0
	s.WriteCount = 0
	s.WriteBytes = 0
	s.FailedWriteCount = 0
}

func (s *Statistics) AddStatistics(other *Statistics) {
	s.FlushCount += other.FlushCount
	s.WriteCount += other.WriteCount
	s.WriteBytes += other.WriteBytes
	s.FailedWriteCount += other.FailedWriteCount
}

type DetailedStatistics struct {
	Statistics
	PageWriteCount int
	WriteSizeMin   int
	WriteSizeMax   int
}

func (s *DetailedStatistics) Clear() {
	s.Statistics.Clear()
	s.PageWriteCount = 0
	s.WriteSizeMin = math.MaxInt
	s.WriteSizeMax = 0
}

// AddWrite records one successful write of size bytes
func (s *DetailedStatistics) AddWrite(size int) {
	s.WriteCount++
	s.WriteBytes += size

	if size < s.WriteSizeMin {
		s.WriteSizeMin = size
	}

	if size > s.WriteSizeMax {
		s.WriteSizeMax = size
	}
}

func (s *DetailedStatistics) AddFailedWrite() {
	s.FailedWriteCount++
}

func (s *DetailedStatistics) AddPageWrites(count int) {
	s.PageWriteCount += count
}

func (s *DetailedStatistics) AddDetailedStatistics(other *DetailedStatistics) {
	s.Statistics.AddStatistics(&other.Statistics)
	s.PageWriteCount += other.PageWriteCount

	if other.WriteSizeMin < s.WriteSizeMin {
		s.WriteSizeMin = other.WriteSizeMin
	}

	if other.WriteSizeMax > s.WriteSizeMax {
		s.WriteSizeMax = other.WriteSizeMax
	}
}

// PrintJson writes the statistics as fields of an open json object
func (s *DetailedStatistics) PrintJson(json *jwriter.ObjectState) {
	json.Name("Flushes").Int(s.FlushCount)
	json.Name("Writes").Int(s.WriteCount)
	json.Name("WrittenBytes").Int(s.WriteBytes)
	json.Name("FailedWrites").Int(s.FailedWriteCount)
	json.Name("PageWrites").Int(s.PageWriteCount)

	if s.WriteCount > 0 {
		json.Name("WriteSizeMin").Int(s.WriteSizeMin)
		json.Name("WriteSizeMax").Int(s.WriteSizeMax)
	}
}

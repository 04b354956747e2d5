package memutils

import "math"

// Statistics summarizes frame usage in some range of physical memory. Values are counted in
// frames, not bytes.
type Statistics struct {
	FrameCount      int
	ReservedFrames  int
	AllocationCount int
	AllocatedFrames int
}

func (s *Statistics) Clear() {
	s.FrameCount = 0
	s.ReservedFrames = 0
	s.AllocationCount = 0
	s.AllocatedFrames = 0
}

func (s *Statistics) AddStatistics(other *Statistics) {
	s.FrameCount += other.FrameCount
	s.ReservedFrames += other.ReservedFrames
	s.AllocationCount += other.AllocationCount
	s.AllocatedFrames += other.AllocatedFrames
}

// FreeFrames is the number of frames that are neither reserved nor allocated
func (s *Statistics) FreeFrames() int {
	return s.FrameCount - s.ReservedFrames - s.AllocatedFrames
}

type DetailedStatistics struct {
	Statistics
	FreeRunCount     int
	AllocationMin    int
	AllocationMax    int
	FreeRunLengthMin int
	FreeRunLengthMax int
}

func (s *DetailedStatistics) Clear() {
	s.Statistics.Clear()
	s.FreeRunCount = 0
	s.AllocationMin = math.MaxInt
	s.AllocationMax = 0
	s.FreeRunLengthMin = math.MaxInt
	s.FreeRunLengthMax = 0
}

func (s *DetailedStatistics) AddFreeRun(length int) {
	s.FreeRunCount++

	if length < s.FreeRunLengthMin {
		s.FreeRunLengthMin = length
	}

	if length > s.FreeRunLengthMax {
		s.FreeRunLengthMax = length
	}
}

func (s *DetailedStatistics) AddAllocation(frames int) {
	s.AllocationCount++
	s.AllocatedFrames += frames

	if frames < s.AllocationMin {
		s.AllocationMin = frames
	}

	if frames > s.AllocationMax {
		s.AllocationMax = frames
	}
}

func (s *DetailedStatistics) AddDetailedStatistics(other *DetailedStatistics) {
	s.Statistics.AddStatistics(&other.Statistics)
	s.FreeRunCount += other.FreeRunCount

	if other.FreeRunLengthMin < s.FreeRunLengthMin {
		s.FreeRunLengthMin = other.FreeRunLengthMin
	}

	if other.FreeRunLengthMax > s.FreeRunLengthMax {
		s.FreeRunLengthMax = other.FreeRunLengthMax
	}

	if other.AllocationMin < s.AllocationMin {
		s.AllocationMin = other.AllocationMin
	}

	if other.AllocationMax > s.AllocationMax {
		s.AllocationMax = other.AllocationMax
	}
}

package coremap

import (
	"fmt"

	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/kernvm/memutils"
)

func hex(value uint32) string {
	return fmt.Sprintf("0x%08x", value)
}

// AddStatistics sums this coremap's frame usage into stats
func (c *Coremap) AddStatistics(stats *memutils.Statistics) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if !c.created.Load() {
		return
	}

	stats.FrameCount += c.frameCount
	stats.ReservedFrames += c.reservedFrames
	stats.AllocationCount += c.extents.Count()
	stats.AllocatedFrames += c.allocatedFrames
}

// AddDetailedStatistics sums this coremap's frame usage, including allocation sizes and free
// runs, into stats
func (c *Coremap) AddDetailedStatistics(stats *memutils.DetailedStatistics) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if !c.created.Load() {
		return
	}

	stats.FrameCount += c.frameCount
	stats.ReservedFrames += c.reservedFrames

	c.visitRuns(func(start, length int, state frameState) {
		switch state {
		case frameAllocated:
			stats.AddAllocation(length)
		case frameFree:
			stats.AddFreeRun(length)
		}
	})
}

// visitRuns calls visit once for the reserved run, once per allocation and once per maximal
// run of free frames, in ascending frame order
func (c *Coremap) visitRuns(visit func(start, length int, state frameState)) {
	if c.reservedFrames > 0 {
		visit(0, c.reservedFrames, frameReserved)
	}

	freeStart := -1
	for i := c.reservedFrames; i < c.frameCount; {
		length, allocated := c.extents.Get(i)
		if !allocated {
			if freeStart < 0 {
				freeStart = i
			}
			i++
			continue
		}

		if freeStart >= 0 {
			visit(freeStart, i-freeStart, frameFree)
			freeStart = -1
		}
		visit(i, length, frameAllocated)
		i += length
	}

	if freeStart >= 0 {
		visit(freeStart, c.frameCount-freeStart, frameFree)
	}
}

// BuildStatsString returns a JSON document describing frame usage. If detailedMap is true,
// every run of frames is listed.
func (c *Coremap) BuildStatsString(detailedMap bool) string {
	var stats memutils.DetailedStatistics
	stats.Clear()
	c.AddDetailedStatistics(&stats)

	writer := jwriter.NewWriter()
	objState := writer.Object()

	total := objState.Name("Total").Object()
	total.Name("FrameCount").Int(stats.FrameCount)
	total.Name("ReservedFrames").Int(stats.ReservedFrames)
	total.Name("AllocatedFrames").Int(stats.AllocatedFrames)
	total.Name("FreeFrames").Int(stats.FreeFrames())
	total.Name("Allocations").Int(stats.AllocationCount)
	total.Name("FreeRuns").Int(stats.FreeRunCount)
	if stats.AllocationCount > 0 {
		total.Name("AllocationFramesMin").Int(stats.AllocationMin)
		total.Name("AllocationFramesMax").Int(stats.AllocationMax)
	}
	if stats.FreeRunCount > 0 {
		total.Name("FreeRunFramesMin").Int(stats.FreeRunLengthMin)
		total.Name("FreeRunFramesMax").Int(stats.FreeRunLengthMax)
	}
	total.End()

	if detailedMap && c.Created() {
		runs := objState.Name("Runs").Array()

		c.mutex.Lock()
		c.visitRuns(func(start, length int, state frameState) {
			run := runs.Object()
			run.Name("Paddr").String(hex(c.paddr(start)))
			run.Name("Frames").Int(length)
			run.Name("Type").String(state.String())
			run.End()
		})
		c.mutex.Unlock()

		runs.End()
	}

	objState.End()
	return string(writer.Bytes())
}

package vm

import (
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/kernvm/arch/mips"
)

func printRegion(json *jwriter.ObjectState, region *Region, writable bool) {
	json.Name("VBase").String(hex(region.VBase))
	json.Name("Pages").Int(region.NPages)
	json.Name("Perms").String(region.Perms.String())
	json.Name("Writable").Bool(writable)

	frames := json.Name("Frames").Array()
	defer frames.End()

	for page, paddr := range region.frames {
		obj := frames.Object()
		obj.Name("VAddr").String(hex(region.VBase + uint32(page)*mips.PageSize))
		obj.Name("Paddr").String(hex(paddr))
		obj.End()
	}
}

// PrintDetailedMap writes every region of the address space and the frames backing it
func (as *AddressSpace) PrintDetailedMap(writer *jwriter.Writer) {
	objState := writer.Object()
	defer objState.End()

	objState.Name("Loaded").Bool(as.loaded)

	regions := objState.Name("Regions").Array()
	for i := 0; i < as.regionCount; i++ {
		obj := regions.Object()
		printRegion(&obj, &as.regions[i], !(i == 0 && as.loaded))
		obj.End()
	}
	regions.End()

	if as.stack.frames != nil {
		obj := objState.Name("Stack").Object()
		printRegion(&obj, &as.stack, true)
		obj.End()
	}
}

// BuildStatsString returns PrintDetailedMap's output as a string
func (as *AddressSpace) BuildStatsString() string {
	writer := jwriter.NewWriter()
	as.PrintDetailedMap(&writer)
	return string(writer.Bytes())
}

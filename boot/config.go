package boot

import (
	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jreader"
	"github.com/vkngwrapper/kernvm/arch/mips"
	"github.com/vkngwrapper/kernvm/memutils"
	"github.com/vkngwrapper/kernvm/proc"
	"golang.org/x/exp/slog"
)

const (
	DefaultRAMSize   uint32 = 4 << 20
	DefaultKernelEnd uint32 = 0x40000
	DefaultTLBSeed   int64  = 1
)

// Config describes the simulated machine
type Config struct {
	// RAMSize is the number of bytes of physical memory. It must be a multiple of the page size.
	RAMSize uint32
	// KernelEnd is the first physical address past the kernel image
	KernelEnd uint32
	// TLBSeed seeds the TLB's random replacement
	TLBSeed int64
	MinPID  proc.PID
	MaxPID  proc.PID
	// MaxThreads bounds the threads running at once. 0 means no limit.
	MaxThreads int
	LogLevel   slog.Level
}

// DefaultConfig returns a 4 MiB machine with the kernel image ending at 256 KiB
func DefaultConfig() Config {
	return Config{
		RAMSize:   DefaultRAMSize,
		KernelEnd: DefaultKernelEnd,
		TLBSeed:   DefaultTLBSeed,
		MinPID:    proc.DefaultMinPID,
		MaxPID:    proc.DefaultMaxPID,
		LogLevel:  slog.LevelInfo,
	}
}

// ParseConfig reads a JSON object over the defaults. Keys that are not recognized are ignored.
//
//	{"ram_size": 1048576, "kernel_end": 65536, "tlb_seed": 7, "min_pid": 2, "max_pid": 64,
//	 "max_threads": 16, "log_level": "debug"}
func ParseConfig(data []byte) (Config, error) {
	config := DefaultConfig()

	reader := jreader.NewReader(data)
	for obj := reader.Object(); obj.Next(); {
		switch string(obj.Name()) {
		case "ram_size":
			config.RAMSize = uint32(reader.Int())
		case "kernel_end":
			config.KernelEnd = uint32(reader.Int())
		case "tlb_seed":
			config.TLBSeed = int64(reader.Int())
		case "min_pid":
			config.MinPID = proc.PID(reader.Int())
		case "max_pid":
			config.MaxPID = proc.PID(reader.Int())
		case "max_threads":
			config.MaxThreads = reader.Int()
		case "log_level":
			level := reader.String()
			if reader.Error() == nil {
				if err := config.LogLevel.UnmarshalText([]byte(level)); err != nil {
					return config, errors.Wrap(err, "log_level")
				}
			}
		default:
			_ = reader.SkipValue()
		}
	}

	if err := reader.Error(); err != nil {
		return config, errors.Wrap(err, "parsing boot config")
	}

	return config, config.Validate()
}

// Validate reports the first setting that cannot describe a machine
func (c Config) Validate() error {
	if err := memutils.CheckAligned(c.RAMSize, mips.PageSize, "ram_size"); err != nil {
		return err
	}
	if c.RAMSize == 0 || c.RAMSize > mips.KSeg1-mips.KSeg0 {
		return errors.Newf("ram_size 0x%x does not fit in KSEG0", c.RAMSize)
	}
	if c.KernelEnd >= c.RAMSize {
		return errors.Newf("kernel_end 0x%x is past ram_size 0x%x", c.KernelEnd, c.RAMSize)
	}
	if c.MinPID <= 0 || c.MaxPID < c.MinPID {
		return errors.Newf("pid range [%d, %d] is empty", c.MinPID, c.MaxPID)
	}
	if c.MaxThreads < 0 {
		return errors.Newf("max_threads %d is negative", c.MaxThreads)
	}
	return nil
}

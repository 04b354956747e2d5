// Package elf loads 32-bit big-endian MIPS executables into an address space
package elf

import (
	"context"
	"debug/elf"
	"io"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/kernvm/errno"
	"github.com/vkngwrapper/kernvm/kern"
	"github.com/vkngwrapper/kernvm/vm"
	"golang.org/x/exp/slog"
)

// ErrBadImage is returned for anything that is not a loadable MIPS executable
var ErrBadImage = errno.New(errno.ENOEXEC, "not a loadable executable")

// progTypeMipsRegInfo is the register usage segment MIPS toolchains emit. It is not loaded.
const progTypeMipsRegInfo elf.ProgType = 0x70000000

// Loader loads executables. Every PT_LOAD segment becomes a region of the address space, so
// an image may have at most two.
type Loader struct {
	logger *slog.Logger
}

var _ kern.ImageLoader = &Loader{}

// New creates an ELF loader
func New(logger *slog.Logger) *Loader {
	return &Loader{logger: logger}
}

func permissions(flags elf.ProgFlag) vm.Permissions {
	var perms vm.Permissions
	if flags&elf.PF_R != 0 {
		perms |= vm.PermRead
	}
	if flags&elf.PF_W != 0 {
		perms |= vm.PermWrite
	}
	if flags&elf.PF_X != 0 {
		perms |= vm.PermExec
	}
	return perms
}

func badImage(format string, args ...any) error {
	return errors.Wrapf(ErrBadImage, format, args...)
}

// Load reads the executable in image into as, which must be empty, and returns its entry
// point. On success the load has been completed and the text region is read-only.
func (l *Loader) Load(image kern.Image, as *vm.AddressSpace) (uint32, error) {
	file, err := elf.NewFile(image)
	if err != nil {
		return 0, badImage("%v", err)
	}

	switch {
	case file.Class != elf.ELFCLASS32:
		return 0, badImage("class %s", file.Class)
	case file.Data != elf.ELFDATA2MSB:
		return 0, badImage("byte order %s", file.Data)
	case file.Machine != elf.EM_MIPS:
		return 0, badImage("machine %s", file.Machine)
	case file.Type != elf.ET_EXEC:
		return 0, badImage("type %s", file.Type)
	}

	var segments []*elf.Prog
	for _, prog := range file.Progs {
		switch prog.Type {
		case elf.PT_NULL, elf.PT_PHDR, progTypeMipsRegInfo:
			continue
		case elf.PT_LOAD:
		default:
			return 0, badImage("unknown segment type %s", prog.Type)
		}

		if prog.Filesz > prog.Memsz {
			return 0, badImage("segment at 0x%x has %d file bytes but only %d in memory", prog.Vaddr, prog.Filesz, prog.Memsz)
		}
		if prog.Vaddr+prog.Memsz > 1<<32 {
			return 0, badImage("segment at 0x%x does not fit in 32 bits", prog.Vaddr)
		}

		if err := as.DefineRegion(uint32(prog.Vaddr), uint32(prog.Memsz), permissions(prog.Flags)); err != nil {
			return 0, err
		}
		segments = append(segments, prog)
	}

	if err := as.PrepareLoad(); err != nil {
		return 0, err
	}

	for _, prog := range segments {
		contents := make([]byte, prog.Filesz)
		if _, err := io.ReadFull(prog.Open(), contents); err != nil {
			return 0, badImage("reading segment at 0x%x: %v", prog.Vaddr, err)
		}

		if err := as.CopyOut(uint32(prog.Vaddr), contents); err != nil {
			return 0, err
		}

		l.logger.LogAttrs(context.Background(), slog.LevelDebug, "elf: loaded segment",
			slog.Uint64("vaddr", prog.Vaddr),
			slog.Uint64("filesz", prog.Filesz),
			slog.Uint64("memsz", prog.Memsz),
			slog.String("flags", prog.Flags.String()))
	}

	if err := as.CompleteLoad(); err != nil {
		return 0, err
	}

	return uint32(file.Entry), nil
}

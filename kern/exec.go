package kern

import (
	"context"
	"encoding/binary"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/kernvm/errno"
	"github.com/vkngwrapper/kernvm/internal/utils"
	"github.com/vkngwrapper/kernvm/memutils"
	"github.com/vkngwrapper/kernvm/proc"
	"github.com/vkngwrapper/kernvm/thread"
	"github.com/vkngwrapper/kernvm/vm"
	"golang.org/x/exp/slog"
)

// SysExecv replaces the calling process's program with the image at the user string
// progPtr, passing it the NULL-terminated vector of user strings at argvPtr. It returns only
// on failure, in which case the process carries on with its old address space.
func (k *Kernel) SysExecv(t *thread.Thread, progPtr uint32, argvPtr uint32) error {
	p, err := userProcess(t)
	if err != nil {
		return err
	}
	as := p.AddressSpace()

	path, err := as.CopyInStr(progPtr, PathMax)
	if err != nil {
		return err
	}

	args, err := copyInArgs(as, argvPtr)
	if err != nil {
		return err
	}

	return k.execute(t, path, args)
}

func copyInArgs(as *vm.AddressSpace, argvPtr uint32) ([]string, error) {
	var args []string
	remaining := ArgMax

	for slot := argvPtr; ; slot += 4 {
		var word [4]byte
		if err := as.CopyIn(word[:], slot); err != nil {
			return nil, err
		}

		argPtr := binary.BigEndian.Uint32(word[:])
		if argPtr == 0 {
			return args, nil
		}

		arg, err := as.CopyInStr(argPtr, remaining)
		if errors.Is(err, vm.ErrStringTooLong) {
			return nil, errors.Wrapf(ErrArgsTooLong, "argument %d", len(args))
		} else if err != nil {
			return nil, err
		}

		remaining -= len(arg) + 1
		args = append(args, arg)
	}
}

// RunProgram starts path as a new process with no parent. Loading happens on the new
// process's own thread; if it fails the process exits with the error number as its code.
func (k *Kernel) RunProgram(path string, args []string) (proc.PID, error) {
	size := 0
	for _, arg := range args {
		size += len(arg) + 1
	}
	if size > ArgMax {
		return 0, errors.Wrapf(ErrArgsTooLong, "%d bytes", size)
	}
	if len(path)+1 > PathMax {
		return 0, errors.Wrapf(vm.ErrStringTooLong, "path of %d bytes", len(path))
	}

	p, err := k.procs.Create(path)
	if err != nil {
		return 0, err
	}

	err = k.threads.Fork(path, p, func(t *thread.Thread) {
		err := k.execute(t, path, args)
		k.logger.LogAttrs(context.Background(), slog.LevelError, "runprogram failed",
			slog.String("path", path),
			slog.Any("error", err))
		k.exitProcess(t, proc.MakeExitStatus(int(errno.Of(err))))
	})
	if err != nil {
		p.Destroy()
		return 0, errors.Wrapf(err, "starting %s", path)
	}

	return p.PID(), nil
}

// execute loads path into a new address space and enters it. The new space is installed as
// soon as it exists, so the loader and the fault path see it, but the old one is only
// destroyed once the new image and its arguments are fully in place. On failure the old
// space is reinstalled and the error returned.
func (k *Kernel) execute(t *thread.Thread, path string, args []string) error {
	p := t.Process()

	image, err := k.fs.Open(path)
	if err != nil {
		return withErrno(errors.Wrapf(err, "opening %s", path), errno.EACCES)
	}

	newAS := k.vm.CreateAddressSpace()
	oldAS := p.SetAddressSpace(newAS)
	k.activate(newAS)

	restore := func(err error) error {
		p.SetAddressSpace(oldAS)
		k.forget(newAS)
		newAS.Destroy()
		if oldAS != nil {
			k.activate(oldAS)
		}
		return err
	}

	entry, err := k.loader.Load(image, newAS)
	if closeErr := image.Close(); closeErr != nil {
		k.logger.LogAttrs(context.Background(), slog.LevelWarn, "exec: closing image",
			slog.String("path", path),
			slog.Any("error", closeErr))
	}
	if err != nil {
		return restore(withErrno(errors.Wrapf(err, "loading %s", path), errno.ENOEXEC))
	}

	stackPtr, err := newAS.DefineStack()
	if err != nil {
		return restore(err)
	}

	argv, stackPtr, err := pushArgs(newAS, stackPtr, args)
	if err != nil {
		return restore(errors.Wrapf(err, "building arguments for %s", path))
	}

	if oldAS != nil {
		k.forget(oldAS)
		oldAS.Destroy()
	}

	k.logger.LogAttrs(context.Background(), slog.LevelDebug, "exec",
		slog.Int("pid", int(p.PID())),
		slog.String("path", path),
		slog.Int("argc", len(args)),
		slog.Uint64("entry", uint64(entry)))

	k.user.EnterNewProcess(t, len(args), argv, stackPtr, entry)
	utils.Panicf("process %d returned from user mode after exec", p.PID())
	return nil
}

// pushArgs copies args onto the user stack below stackPtr, last argument first, each
// padded to a word, and then the NULL-terminated array of pointers to them. It returns the
// address of that array and the new stack pointer, aligned to 8 bytes.
func pushArgs(as *vm.AddressSpace, stackPtr uint32, args []string) (argv uint32, sp uint32, err error) {
	sp = stackPtr
	pointers := make([]uint32, len(args)+1)

	for i := len(args) - 1; i >= 0; i-- {
		padded := make([]byte, memutils.AlignUp(len(args[i])+1, 4))
		copy(padded, args[i])

		sp -= uint32(len(padded))
		if err := as.CopyOut(sp, padded); err != nil {
			return 0, 0, err
		}
		pointers[i] = sp
	}

	sp -= uint32(4 * len(pointers))
	argv = sp
	for i := len(pointers) - 1; i >= 0; i-- {
		var word [4]byte
		binary.BigEndian.PutUint32(word[:], pointers[i])
		if err := as.CopyOut(argv+uint32(4*i), word[:]); err != nil {
			return 0, 0, err
		}
	}

	return argv, memutils.AlignDown(sp, 8), nil
}

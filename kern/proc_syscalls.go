package kern

import (
	"context"
	"encoding/binary"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/kernvm/arch/mips"
	"github.com/vkngwrapper/kernvm/errno"
	"github.com/vkngwrapper/kernvm/internal/utils"
	"github.com/vkngwrapper/kernvm/proc"
	"github.com/vkngwrapper/kernvm/thread"
	"golang.org/x/exp/slog"
)

func userProcess(t *thread.Thread) (*proc.Process, error) {
	p := t.Process()
	if p == nil {
		return nil, errors.Wrapf(ErrNotUserProcess, "thread %s", t.Name())
	}
	return p, nil
}

// SysGetpid returns the id of the calling process
func (k *Kernel) SysGetpid(t *thread.Thread) (proc.PID, error) {
	p, err := userProcess(t)
	if err != nil {
		return 0, err
	}
	return p.PID(), nil
}

// SysFork duplicates the calling process. The child gets a copy of the parent's address
// space and resumes from tf in a thread of its own. The parent gets the child's id.
func (k *Kernel) SysFork(t *thread.Thread, tf *mips.TrapFrame) (proc.PID, error) {
	parent, err := userProcess(t)
	if err != nil {
		return 0, err
	}

	child, err := k.procs.Create(parent.Name())
	if err != nil {
		return 0, err
	}

	parentAS := parent.AddressSpace()
	if parentAS != nil {
		childAS, err := parentAS.Copy()
		if err != nil {
			k.logger.LogAttrs(context.Background(), slog.LevelWarn, "fork: could not copy address space",
				slog.Int("pid", int(parent.PID())),
				slog.Any("error", err))
			child.Destroy()
			return 0, withErrno(err, errno.ENOMEM)
		}
		child.SetAddressSpace(childAS)
	}

	childFrame := *tf
	parent.AddChild(child)

	err = k.threads.Fork(child.Name(), child, func(ct *thread.Thread) {
		k.activate(ct.Process().AddressSpace())
		k.user.EnterForkedProcess(ct, &childFrame)
		utils.Panicf("forked child %d returned from user mode", ct.Process().PID())
	})
	if err != nil {
		k.logger.LogAttrs(context.Background(), slog.LevelWarn, "fork: could not start thread",
			slog.Int("pid", int(parent.PID())),
			slog.Any("error", err))
		parent.RemoveChild(child)
		child.Destroy()
		return 0, errno.Mark(errors.Wrapf(err, "forking %d", parent.PID()), errno.ENOMEM)
	}

	k.logger.LogAttrs(context.Background(), slog.LevelDebug, "fork",
		slog.Int("parent", int(parent.PID())),
		slog.Int("child", int(child.PID())))

	return child.PID(), nil
}

// SysExit ends the calling process with the given exit code. It never returns.
func (k *Kernel) SysExit(t *thread.Thread, code int) {
	k.exitProcess(t, proc.MakeExitStatus(code))
}

// exitProcess tears down the calling thread's process, publishes status and ends the thread.
// The address space goes before the status is published, so whoever reaps the process never
// races with its teardown.
func (k *Kernel) exitProcess(t *thread.Thread, status proc.WaitStatus) {
	p := t.Process()
	utils.Assert(p != nil, "kernel thread %s tried to exit a process", t.Name())

	as := p.SetAddressSpace(nil)
	if as != nil {
		k.forget(as)
		as.Destroy()
	}

	k.logger.LogAttrs(context.Background(), slog.LevelInfo, "process exited",
		slog.Int("pid", int(p.PID())),
		slog.String("name", p.Name()),
		slog.Bool("exited", status.Exited()),
		slog.Int("code", status.ExitStatus()),
		slog.Int("signal", status.Signal()))

	if p.Exit(status) {
		p.Destroy()
	}

	k.threads.Exit(t)
	utils.Panicf("thread %s returned from exit", t.Name())
}

// SysWaitpid waits for the child pid of the calling process to exit and reaps it. If
// statusPtr is not 0, the encoded status is stored there. options must be 0. A statusPtr that
// cannot be written fails before waiting, so the child is left for a later waitpid.
func (k *Kernel) SysWaitpid(t *thread.Thread, pid proc.PID, statusPtr uint32, options int) (proc.PID, error) {
	if options != 0 {
		return 0, errors.Wrapf(ErrBadWaitOptions, "options 0x%x", options)
	}

	p, err := userProcess(t)
	if err != nil {
		return 0, err
	}

	if statusPtr != 0 {
		if err := p.AddressSpace().CheckWritable(statusPtr, 4); err != nil {
			return 0, err
		}
	}

	status, err := p.Wait(pid)
	if err != nil {
		return 0, err
	}

	if statusPtr != 0 {
		var word [4]byte
		binary.BigEndian.PutUint32(word[:], uint32(status))
		if err := p.AddressSpace().CopyOut(statusPtr, word[:]); err != nil {
			return 0, err
		}
	}

	return pid, nil
}

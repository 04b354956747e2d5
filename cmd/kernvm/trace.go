package main

import (
	"context"
	"fmt"
	"io"

	"github.com/vkngwrapper/kernvm/arch/mips"
	"github.com/vkngwrapper/kernvm/internal/utils"
	"github.com/vkngwrapper/kernvm/kern"
	"github.com/vkngwrapper/kernvm/proc"
	"github.com/vkngwrapper/kernvm/thread"
	"golang.org/x/exp/slog"
)

// traceEntry stands in for user mode. Each program reports what the kernel set up for it,
// optionally forks and reaps some children, and exits.
type traceEntry struct {
	logger   *slog.Logger
	kernel   *kern.Kernel
	exitCode int
	forks    int
	dumpAS   io.Writer
}

func hex(value uint32) string {
	return fmt.Sprintf("0x%08x", value)
}

// pid is getpid for code that can only run in user mode
func (e *traceEntry) pid(t *thread.Thread) int {
	pid, err := e.kernel.SysGetpid(t)
	if err != nil {
		utils.Panicf("user entry on %s: %v", t.Name(), err)
	}
	return int(pid)
}

func (e *traceEntry) readString(t *thread.Thread, uaddr uint32) string {
	var str []byte
	for len(str) < kern.ArgMax {
		c := e.kernel.LoadByte(t, uaddr+uint32(len(str)))
		if c == 0 {
			break
		}
		str = append(str, c)
	}
	return string(str)
}

func (e *traceEntry) EnterNewProcess(t *thread.Thread, argc int, argv uint32, stackPtr uint32, entry uint32) {
	args := make([]string, argc)
	for i := range args {
		args[i] = e.readString(t, e.kernel.LoadWord(t, argv+uint32(4*i)))
	}

	e.logger.LogAttrs(context.Background(), slog.LevelInfo, "user: entered program",
		slog.Int("pid", e.pid(t)),
		slog.String("entry", hex(entry)),
		slog.String("sp", hex(stackPtr)),
		slog.String("argv", hex(argv)),
		slog.Any("args", args),
		slog.String("firstWord", hex(e.kernel.LoadWord(t, entry))))

	if e.dumpAS != nil {
		fmt.Fprintln(e.dumpAS, t.Process().AddressSpace().BuildStatsString())
	}

	for i := 0; i < e.forks; i++ {
		e.forkAndWait(t, stackPtr-4)
	}

	e.kernel.SysExit(t, e.exitCode)
}

// forkAndWait reaps the child into the word at statusPtr
func (e *traceEntry) forkAndWait(t *thread.Thread, statusPtr uint32) {
	tf := &mips.TrapFrame{Epc: 0x400000}
	childPID, err := e.kernel.SysFork(t, tf)
	if err != nil {
		e.logger.LogAttrs(context.Background(), slog.LevelWarn, "user: fork failed", slog.Any("error", err))
		return
	}
	tf.SetSyscallReturn(uint32(childPID), 0)

	if _, err := e.kernel.SysWaitpid(t, childPID, statusPtr, 0); err != nil {
		e.logger.LogAttrs(context.Background(), slog.LevelWarn, "user: waitpid failed", slog.Any("error", err))
		return
	}

	status := proc.WaitStatus(e.kernel.LoadWord(t, statusPtr))
	e.logger.LogAttrs(context.Background(), slog.LevelInfo, "user: reaped child",
		slog.Int("pid", int(childPID)),
		slog.Bool("exited", status.Exited()),
		slog.Int("exitStatus", status.ExitStatus()),
		slog.Int("signal", status.Signal()))
}

func (e *traceEntry) EnterForkedProcess(t *thread.Thread, tf *mips.TrapFrame) {
	tf.PrepareForkedChild()

	e.logger.LogAttrs(context.Background(), slog.LevelInfo, "user: entered forked child",
		slog.Int("pid", e.pid(t)),
		slog.String("epc", hex(tf.Epc)))

	e.kernel.SysExit(t, 0)
}

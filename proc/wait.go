package proc

const (
	waitExited   = 0
	waitSignaled = 1
	waitCoreDump = 2
	waitStopped  = 3

	waitKindMask = 3
)

const (
	// SIGBUS is the signal reported for a process killed by an unaligned access
	SIGBUS = 10
	// SIGSEGV is the signal reported for a process killed by a bad memory access
	SIGSEGV = 11
)

// WaitStatus is the encoded status word that waitpid stores for the caller. The low two bits
// say how the process ended and the rest hold the exit code or signal number.
type WaitStatus int32

// MakeExitStatus encodes a voluntary exit with the given code
func MakeExitStatus(code int) WaitStatus {
	return WaitStatus(code<<2 | waitExited)
}

// MakeSignalStatus encodes termination by the given signal
func MakeSignalStatus(signal int) WaitStatus {
	return WaitStatus(signal<<2 | waitSignaled)
}

func (w WaitStatus) Exited() bool   { return w&waitKindMask == waitExited }
func (w WaitStatus) Signaled() bool { return w&waitKindMask == waitSignaled || w&waitKindMask == waitCoreDump }
func (w WaitStatus) Stopped() bool  { return w&waitKindMask == waitStopped }

// ExitStatus returns the exit code of a process that exited
func (w WaitStatus) ExitStatus() int {
	if !w.Exited() {
		return -1
	}
	return int(w >> 2)
}

// Signal returns the signal that terminated a process
func (w WaitStatus) Signal() int {
	if !w.Signaled() {
		return -1
	}
	return int(w >> 2)
}

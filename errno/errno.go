// Package errno contains the kernel's error numbers. Errors produced anywhere in the kernel are
// marked with one of these values so that the syscall surface can report a return code while
// the rest of the kernel keeps rich, wrapped errors.
package errno

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

// Errno is a kernel error number. The numbering follows OS/161's kern/errno.h so that return
// codes match what user programs expect.
type Errno int

const (
	ENOSYS       Errno = 1
	EUNIMP       Errno = 2
	ENOMEM       Errno = 3
	EAGAIN       Errno = 4
	EINTR        Errno = 5
	EFAULT       Errno = 6
	ENAMETOOLONG Errno = 7
	EINVAL       Errno = 8
	EPERM        Errno = 9
	EACCES       Errno = 10
	EMPROC       Errno = 11
	ENPROC       Errno = 12
	ENOEXEC      Errno = 13
	E2BIG        Errno = 14
	ESRCH        Errno = 15
	ECHILD       Errno = 16
)

var errnoMapping = map[Errno]string{
	ENOSYS:       "Function not implemented",
	EUNIMP:       "Operation not implemented",
	ENOMEM:       "Out of memory",
	EAGAIN:       "Operation would block",
	EINTR:        "Interrupted system call",
	EFAULT:       "Bad memory reference",
	ENAMETOOLONG: "String too long",
	EINVAL:       "Invalid argument",
	EPERM:        "Operation not permitted",
	EACCES:       "Permission denied",
	EMPROC:       "Too many processes",
	ENPROC:       "Too many processes in system",
	ENOEXEC:      "File is not executable",
	E2BIG:        "Argument list too long",
	ESRCH:        "No such process",
	ECHILD:       "No child processes",
}

// ordered so that Of reports the same value for an error marked more than once
var knownErrnos = []Errno{
	ENOSYS, EUNIMP, ENOMEM, EAGAIN, EINTR, EFAULT, ENAMETOOLONG, EINVAL,
	EPERM, EACCES, EMPROC, ENPROC, ENOEXEC, E2BIG, ESRCH, ECHILD,
}

func (e Errno) Error() string {
	str, ok := errnoMapping[e]
	if !ok {
		return fmt.Sprintf("unknown error %d", int(e))
	}
	return str
}

func (e Errno) String() string {
	return e.Error()
}

// codedError attaches an error number to cause. The cause keeps its own identity under
// errors.Is, and the error also matches its Errno.
type codedError struct {
	cause error
	errno Errno
}

func (c *codedError) Error() string { return c.cause.Error() }
func (c *codedError) Unwrap() error { return c.cause }

func (c *codedError) Is(target error) bool {
	e, ok := target.(Errno)
	return ok && e == c.errno
}

// New creates a sentinel error with the provided message that matches e under errors.Is.
// Sentinels created with the same Errno remain distinct from one another.
func New(e Errno, msg string) error {
	return &codedError{cause: errors.New(msg), errno: e}
}

// Mark attaches e to err. Of reports the outermost number attached to an error chain.
func Mark(err error, e Errno) error {
	if err == nil {
		return nil
	}
	return &codedError{cause: err, errno: e}
}

// Of returns the Errno that err has been marked with. When more than one number is attached,
// the outermost wins. A nil error returns 0 and an error that carries no kernel error number
// returns ENOSYS.
func Of(err error) Errno {
	if err == nil {
		return 0
	}

	for c := err; c != nil; c = errors.UnwrapOnce(c) {
		switch coded := c.(type) {
		case *codedError:
			return coded.errno
		case Errno:
			return coded
		}
	}

	for _, e := range knownErrnos {
		if errors.Is(err, e) {
			return e
		}
	}

	return ENOSYS
}

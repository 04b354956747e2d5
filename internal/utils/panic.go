package utils

import (
	"fmt"

	goerrors "github.com/go-errors/errors"
)

// Panicf stops the kernel. It is used for violated design assumptions, never for conditions
// a caller could recover from. The panic value is a *goerrors.Error so that whoever recovers
// it can print the stack of the stop site with ErrorStack.
func Panicf(format string, args ...any) {
	panic(goerrors.Wrap(fmt.Errorf(format, args...), 1))
}

// Assert stops the kernel with the provided message if cond is false
func Assert(cond bool, format string, args ...any) {
	if !cond {
		panic(goerrors.Wrap(fmt.Errorf("assertion failed: "+format, args...), 1))
	}
}

package memutils

import (
	cerrors "github.com/cockroachdb/errors"
	"golang.org/x/exp/constraints"
)

type Number interface {
	constraints.Unsigned | ~int
}

func CheckPow2[T Number](number T, name string) error {
	if number == 0 || number&(number-1) != 0 {
		return cerrors.Wrapf(PowerOfTwoError, "%s is %d", name, number)
	}
	return nil
}

// CheckAligned returns AlignmentError if value is not a multiple of alignment, which must be a power of two
func CheckAligned[T Number](value T, alignment T, name string) error {
	DebugCheckPow2(alignment, name+" alignment")
	if value&(alignment-1) != 0 {
		return cerrors.Wrapf(AlignmentError, "%s is 0x%x, alignment 0x%x", name, value, alignment)
	}
	return nil
}

func AlignUp[T Number](value T, alignment T) T {
	return (value + alignment - 1) &^ (alignment - 1)
}

func AlignDown[T Number](value T, alignment T) T {
	return value &^ (alignment - 1)
}

// DivRoundUp returns the number of alignment-sized units needed to hold value
func DivRoundUp[T Number](value T, unit T) T {
	return (value + unit - 1) / unit
}

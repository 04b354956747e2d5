//go:build !debug_kernvm

package memutils

// DebugFill is the byte written over every frame when it is returned to the frame allocator,
// so that stale reads of freed memory are easy to spot. It is 0 unless the debug_kernvm
// build tag is present.
const DebugFill byte = 0

// DebugValidate will call Validate on the provided object and panics if any errors are returned. This
// method no-ops unless the debug_kernvm build tag is present
func DebugValidate(validatable Validatable) {
}

// DebugCheckPow2 will verify that the numerical value passed in is a power of two, and panics if it is not.
// This method no-ops unless the debug_kernvm build tag is present.
func DebugCheckPow2[T Number](value T, name string) {
}

package mips

// TrapFrame is the register snapshot saved when a thread enters the kernel. It is a plain
// value: copying it duplicates the execution context.
type TrapFrame struct {
	VAddr  uint32 // coprocessor 0 vaddr register
	Status uint32 // coprocessor 0 status register
	Cause  uint32 // coprocessor 0 cause register
	Lo     uint32
	Hi     uint32
	Ra     uint32
	At     uint32
	V0     uint32 // syscall number on entry, return value on exit
	V1     uint32
	A0     uint32
	A1     uint32
	A2     uint32
	A3     uint32 // error flag on syscall return
	T0     uint32
	T1     uint32
	T2     uint32
	T3     uint32
	T4     uint32
	T5     uint32
	T6     uint32
	T7     uint32
	S0     uint32
	S1     uint32
	S2     uint32
	S3     uint32
	S4     uint32
	S5     uint32
	S6     uint32
	S7     uint32
	T8     uint32
	T9     uint32
	K0     uint32
	K1     uint32
	Gp     uint32
	Sp     uint32
	S8     uint32
	Epc    uint32 // address of the faulting or syscall instruction
}

// SetSyscallReturn writes a syscall result the way the syscall dispatcher does: v0 holds the
// value or the error number, a3 holds 1 for failure and 0 for success, and the program
// counter moves past the syscall instruction.
func (tf *TrapFrame) SetSyscallReturn(value uint32, errorCode uint32) {
	if errorCode != 0 {
		tf.V0 = errorCode
		tf.A3 = 1
	} else {
		tf.V0 = value
		tf.A3 = 0
	}
	tf.Epc += 4
}

// PrepareForkedChild turns a copy of the parent's fork trap frame into the child's: the
// child sees fork return 0.
func (tf *TrapFrame) PrepareForkedChild() {
	tf.SetSyscallReturn(0, 0)
}

package vm

import (
	"errors"
	"fmt"

	"github.com/xplshn/tyro/pkg/bytecode"
)

var (
	ErrUnknownOpcode   = errors.New("unknown opcode")
	ErrUnknownSysCode  = errors.New("unknown system code")
	ErrStackOverflow   = errors.New("stack overflow")
	ErrStackUnderflow  = errors.New("stack underflow")
	ErrLocalOutOfRange = errors.New("local variable outside the locals window")
	ErrDivideByZero    = errors.New("integer division by zero")
	ErrBadJump         = errors.New("jump outside the program")
	ErrBadCall         = errors.New("call index outside the function table")
	ErrUnlinked        = errors.New("call to an unlinked function")
	ErrNativeStack     = errors.New("native argument stack imbalance")
	ErrStepLimit       = errors.New("step limit exceeded")
	// ErrRuntime wraps a Go runtime panic caught while executing, which is
	// how faults surface when guards are disabled.
	ErrRuntime = errors.New("runtime error")
)

// Fault is returned by Execute when the program cannot continue.
type Fault struct {
	IP      int // word offset of the faulting instruction
	Op      bytecode.Opcode
	Operand bytecode.Word
	Err     error
}

func (f *Fault) Error() string {
	return fmt.Sprintf("fault at %04d (%s %d): %v", f.IP, f.Op, f.Operand, f.Err)
}

func (f *Fault) Unwrap() error { return f.Err }

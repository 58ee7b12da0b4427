package bytecode

import (
	"fmt"
	"strings"
)

type Opcode Word

// When updating these, keep opcodes[] below in the same order.
const (
	OpNoop Opcode = iota // does nothing, usually a jump target
	OpSys                // executes a system command, see SysCode
	OpPush
	OpPop
	OpLoad
	OpStore
	OpLocal // reserves the local variable window on the stack
	OpCall  // calls a native function from the function table

	// Control ops. The operand is an absolute word offset.
	OpGoto
	OpIft // jump if the popped value is 1
	OpIff // jump if the popped value is 0

	OpIeq
	OpIne
	OpIlt
	OpIle
	OpIgt
	OpIge

	OpI2f
	OpF2i

	OpIand
	OpIor

	OpIadd
	OpIsub
	OpImul
	OpIdiv
	OpImod

	OpFadd
	OpFsub
	OpFmul
	OpFdiv
	OpFcmp

	OpCount
)

type SysCode Word

const (
	SysExit   SysCode = iota // stops execution
	SysPrintC                // prints the char on top of the stack
	SysPrintI                // prints an int followed by a newline
	SysPrintF                // prints a float
	SysSleep                 // sleeps for the number of milliseconds on the stack
)

// InstructionWidth is the number of words taken by one (opcode, operand) pair.
const InstructionWidth = 2

type OpDesc struct {
	Code       Opcode
	Name       string
	ParamCount int
}

var opcodes = [OpCount]OpDesc{
	{OpNoop, "noop", 0},
	{OpSys, "sys", 1},
	{OpPush, "push", 1},
	{OpPop, "pop", 0},
	{OpLoad, "load", 1},
	{OpStore, "store", 1},
	{OpLocal, "local", 1},
	{OpCall, "call", 1},
	{OpGoto, "goto", 1},
	{OpIft, "ift", 1},
	{OpIff, "iff", 1},
	{OpIeq, "ieq", 0},
	{OpIne, "ine", 0},
	{OpIlt, "ilt", 0},
	{OpIle, "ile", 0},
	{OpIgt, "igt", 0},
	{OpIge, "ige", 0},
	{OpI2f, "i2f", 0},
	{OpF2i, "f2i", 0},
	{OpIand, "iand", 0},
	{OpIor, "ior", 0},
	{OpIadd, "iadd", 0},
	{OpIsub, "isub", 0},
	{OpImul, "imul", 0},
	{OpIdiv, "idiv", 0},
	{OpImod, "imod", 0},
	{OpFadd, "fadd", 0},
	{OpFsub, "fsub", 0},
	{OpFmul, "fmul", 0},
	{OpFdiv, "fdiv", 0},
	{OpFcmp, "fcmp", 0},
}

// Desc returns the descriptor of a known opcode.
func (op Opcode) Desc() (OpDesc, bool) {
	if op >= OpCount {
		return OpDesc{}, false
	}
	return opcodes[op], true
}

func (op Opcode) String() string {
	if d, ok := op.Desc(); ok {
		return d.Name
	}
	return fmt.Sprintf("Opcode(%d)", Word(op))
}

// IsJump reports whether op takes a code position as its operand.
func (op Opcode) IsJump() bool { return op >= OpGoto && op <= OpIff }

// LookupMnemonic finds an opcode by name, ignoring case.
func LookupMnemonic(name string) (OpDesc, bool) {
	for _, d := range opcodes {
		if strings.EqualFold(d.Name, name) {
			return d, true
		}
	}
	return OpDesc{}, false
}

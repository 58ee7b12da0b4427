package codegen

import (
	"github.com/xplshn/tyro/pkg/bytecode"
	"github.com/xplshn/tyro/pkg/ir"
)

// Assemble appends the chain starting at head to out. It prepends
// "local localCount", resolves every jump target to the word offset of the
// next real instruction at or after it, and always finishes with "sys exit".
// No-op anchors take no space.
func Assemble(prog *ir.Program, head ir.OpID, out *bytecode.Container, localCount int) error {
	first := prog.New(bytecode.OpLocal, bytecode.Word(localCount))
	if err := prog.Concat(first, head); err != nil {
		return err
	}

	base := out.Size()
	offset := base
	prog.Walk(first, func(_ ir.OpID, op *ir.Op) {
		op.Offset = offset
		if !op.IsNoop() {
			offset += bytecode.InstructionWidth
		}
	})

	prog.Walk(first, func(_ ir.OpID, op *ir.Op) {
		if op.IsNoop() {
			return
		}
		out.WriteOp(op.Opcode, operand(prog, op))
	})

	out.WriteOp(bytecode.OpSys, bytecode.Word(bytecode.SysExit))
	return nil
}

func operand(prog *ir.Program, op *ir.Op) bytecode.Word {
	switch {
	case op.Symbol != nil:
		return bytecode.Word(op.Symbol.Index)
	case op.Target != ir.None:
		return bytecode.Word(prog.Op(op.Target).Offset)
	}
	return op.Immediate
}

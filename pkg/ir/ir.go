// Package ir holds the intermediate Op chains produced by code generation.
// Ops live in an arena owned by a Program and refer to each other by index.
package ir

import (
	"errors"
	"fmt"
	"strings"

	"github.com/xplshn/tyro/pkg/bytecode"
	"github.com/xplshn/tyro/pkg/symbol"
)

type OpID int32

// None marks an absent jump target or the end of a chain.
const None OpID = -1

var ErrCycle = errors.New("op is already part of the chain")

type Op struct {
	Opcode    bytecode.Opcode
	Immediate bytecode.Word
	Target    OpID
	Symbol    *symbol.Symbol
	Next      OpID
	// Offset is the word offset assigned by the assembler.
	Offset int
}

func (o *Op) IsNoop() bool { return o.Opcode == bytecode.OpNoop }

type Program struct {
	ops []Op
}

func NewProgram() *Program { return &Program{} }

func (p *Program) add(op Op) OpID {
	op.Next = None
	op.Offset = -1
	p.ops = append(p.ops, op)
	return OpID(len(p.ops) - 1)
}

func (p *Program) New(opcode bytecode.Opcode, immediate bytecode.Word) OpID {
	return p.add(Op{Opcode: opcode, Immediate: immediate, Target: None})
}

// Noop returns a fresh zero-width anchor.
func (p *Program) Noop() OpID { return p.New(bytecode.OpNoop, 0) }

func (p *Program) NewSymbol(opcode bytecode.Opcode, sym *symbol.Symbol) OpID {
	return p.add(Op{Opcode: opcode, Symbol: sym, Target: None})
}

func (p *Program) NewJump(opcode bytecode.Opcode, target OpID) OpID {
	return p.add(Op{Opcode: opcode, Target: target})
}

func (p *Program) Op(id OpID) *Op { return &p.ops[id] }

func (p *Program) Len() int { return len(p.ops) }

func (p *Program) SetTarget(id, target OpID) { p.ops[id].Target = target }

// Tail returns the last Op of the chain starting at head.
func (p *Program) Tail(head OpID) OpID {
	id := head
	for p.ops[id].Next != None {
		id = p.ops[id].Next
	}
	return id
}

// Concat appends the chain starting at b to the end of the chain starting at
// a. It fails with ErrCycle if b's chain already reaches a's tail, which is
// the case whenever the two chains share an Op.
func (p *Program) Concat(a, b OpID) error {
	if b == None {
		return nil
	}
	tail := p.Tail(a)
	for id := b; id != None; id = p.ops[id].Next {
		if id == tail {
			return fmt.Errorf("%w: concat %d onto %d", ErrCycle, b, a)
		}
	}
	p.ops[tail].Next = b
	return nil
}

// Chain concatenates ids in order and returns the head.
func (p *Program) Chain(ids ...OpID) (OpID, error) {
	head := ids[0]
	for _, id := range ids[1:] {
		if err := p.Concat(head, id); err != nil {
			return None, err
		}
	}
	return head, nil
}

// Walk calls fn for every Op of the chain starting at head, in program order.
func (p *Program) Walk(head OpID, fn func(id OpID, op *Op)) {
	for id := head; id != None; id = p.ops[id].Next {
		fn(id, &p.ops[id])
	}
}

// Dump renders the chain starting at head, one Op per line, for debugging.
func (p *Program) Dump(head OpID) string {
	var sb strings.Builder
	p.Walk(head, func(id OpID, op *Op) {
		fmt.Fprintf(&sb, "%4d  %-6s", id, op.Opcode)
		switch {
		case op.Symbol != nil:
			fmt.Fprintf(&sb, " %s#%d", op.Symbol.Name, op.Symbol.Index)
		case op.Target != None:
			fmt.Fprintf(&sb, " -> %d", op.Target)
		case op.Immediate != 0:
			fmt.Fprintf(&sb, " %d", int32(op.Immediate))
		}
		sb.WriteByte('\n')
	})
	return sb.String()
}

// Package bytecode defines the instruction set and the container that holds a
// compiled Tyro program: a flat buffer of 32-bit words, read two at a time as
// (opcode, operand) pairs, plus the table of native functions the program calls.
package bytecode

import (
	"encoding/binary"
	"fmt"

	"github.com/cespare/xxhash/v2"
)

type Word uint32

const initialCapacity = 1024

type Container struct {
	words     []Word
	functions []*Function
}

func NewContainer() *Container { return &Container{} }

// FromWords builds a container around a copy of words.
func FromWords(words []Word) *Container {
	c := &Container{words: make([]Word, len(words), max(len(words), initialCapacity))}
	copy(c.words, words)
	return c
}

func (c *Container) WriteWord(w Word) {
	if len(c.words) == cap(c.words) {
		newCap := cap(c.words) * 2
		if newCap == 0 {
			newCap = initialCapacity
		}
		grown := make([]Word, len(c.words), newCap)
		copy(grown, c.words)
		c.words = grown
	}
	c.words = append(c.words, w)
}

func (c *Container) WriteOp(op Opcode, operand Word) {
	c.WriteWord(Word(op))
	c.WriteWord(operand)
}

// Size returns the number of words written so far.
func (c *Container) Size() int { return len(c.words) }

// Words returns the raw word buffer. Callers must not retain it across writes.
func (c *Container) Words() []Word { return c.words }

// Instruction returns the opcode and operand at word offset pos.
func (c *Container) Instruction(pos int) (Opcode, Word) {
	return Opcode(c.words[pos]), c.words[pos+1]
}

func (c *Container) SetWord(pos int, w Word) { c.words[pos] = w }

func (c *Container) Functions() []*Function { return c.functions }

func (c *Container) SetFunctions(fns []*Function) {
	c.functions = append([]*Function(nil), fns...)
}

// Clear drops all code and the function table.
func (c *Container) Clear() {
	c.words = c.words[:0]
	c.functions = nil
}

// IsTerminated reports whether the last instruction is "sys exit".
func (c *Container) IsTerminated() bool {
	n := len(c.words)
	if n < InstructionWidth {
		return false
	}
	return Opcode(c.words[n-2]) == OpSys && SysCode(c.words[n-1]) == SysExit
}

// EnsureTerminated appends "sys exit" unless the program already ends with it.
func (c *Container) EnsureTerminated() bool {
	if c.IsTerminated() {
		return false
	}
	c.WriteOp(OpSys, Word(SysExit))
	return true
}

// Link attaches native handles to the function table by name. It is used after
// loading an image, whose function table carries names and signatures only.
func (c *Container) Link(natives []*Function) error {
	byName := make(map[string]*Function, len(natives))
	for _, fn := range natives {
		byName[fn.Name] = fn
	}
	for i, fn := range c.functions {
		native, ok := byName[fn.Name]
		if !ok {
			return fmt.Errorf("link: reference to unknown function '%s'", fn.Name)
		}
		if native.ParamCount != fn.ParamCount || native.ReturnCount != fn.ReturnCount {
			return fmt.Errorf("link: '%s' signature mismatch: program wants (%d) -> %d, native is (%d) -> %d",
				fn.Name, fn.ParamCount, fn.ReturnCount, native.ParamCount, native.ReturnCount)
		}
		c.functions[i] = native
	}
	return nil
}

// Rebind makes natives the function table, rewriting every call operand to
// the index of the same-named function in natives. Formats that store no
// function table rely on it to agree with the table they are loaded with.
func (c *Container) Rebind(natives []*Function) error {
	index := make(map[string]Word, len(natives))
	for i, fn := range natives {
		index[fn.Name] = Word(i)
	}
	for pos := 0; pos+1 < len(c.words); pos += InstructionWidth {
		if Opcode(c.words[pos]) != OpCall {
			continue
		}
		old := int(c.words[pos+1])
		if old >= len(c.functions) || c.functions[old] == nil {
			return fmt.Errorf("rebind: call at %d uses index %d outside the function table", pos, old)
		}
		name := c.functions[old].Name
		i, ok := index[name]
		if !ok {
			return fmt.Errorf("rebind: reference to unknown function '%s'", name)
		}
		c.words[pos+1] = i
	}
	c.SetFunctions(natives)
	return nil
}

// Fingerprint hashes the code and the function table signatures.
func (c *Container) Fingerprint() uint64 {
	h := xxhash.New()
	var buf [4]byte
	for _, w := range c.words {
		binary.LittleEndian.PutUint32(buf[:], uint32(w))
		h.Write(buf[:])
	}
	for _, fn := range c.functions {
		fmt.Fprintf(h, "%s/%d/%d/%t;", fn.Name, fn.ParamCount, fn.ReturnCount, fn.CalleePopsParams)
	}
	return h.Sum64()
}

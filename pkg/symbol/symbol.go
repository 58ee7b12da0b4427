// Package symbol holds the per-compilation symbol tables. Each table keeps its
// symbols in first-reference order and hands out operand indices only when it
// is finalized, after the whole tree has been bound.
package symbol

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/xplshn/tyro/pkg/bytecode"
	"github.com/xplshn/tyro/pkg/token"
)

type Kind int

const (
	Variable Kind = iota
	Constant
	Function
)

func (k Kind) String() string {
	switch k {
	case Variable:
		return "variable"
	case Constant:
		return "constant"
	case Function:
		return "function"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

type Symbol struct {
	Name     string
	Kind     Kind
	DeclLine int
	// Tok is the token of the first reference.
	Tok token.Token
	// Index is the operand index, -1 until the owning table is finalized.
	Index int
	// Native is the descriptor a function symbol was linked to.
	Native *bytecode.Function

	Reads  int
	Writes int
}

// Word converts a constant's spelling to its operand word. Decimal values wrap
// to 32 bits; true and false are 1 and 0.
func (s *Symbol) Word() (bytecode.Word, error) {
	text := s.Name
	switch text {
	case "true":
		return 1, nil
	case "false":
		return 0, nil
	}
	if strings.HasPrefix(text, "0x") || strings.HasPrefix(text, "0X") {
		v, err := strconv.ParseUint(text[2:], 16, 32)
		if err != nil {
			return 0, fmt.Errorf("constant '%s' does not fit in a word", text)
		}
		return bytecode.Word(v), nil
	}
	v, err := strconv.ParseInt(text, 10, 64)
	if err != nil || v > 0xffffffff || v < -0x80000000 {
		return 0, fmt.Errorf("constant '%s' does not fit in a word", text)
	}
	return bytecode.Word(uint32(v)), nil
}

type Table struct {
	kind      Kind
	order     []*Symbol
	byName    map[string]*Symbol
	finalized bool
}

func NewTable(kind Kind) *Table {
	return &Table{kind: kind, byName: make(map[string]*Symbol)}
}

// Get returns the symbol called name, creating it at tok if this is the first
// reference.
func (t *Table) Get(name string, tok token.Token) *Symbol {
	if sym, ok := t.byName[name]; ok {
		return sym
	}
	sym := &Symbol{Name: name, Kind: t.kind, DeclLine: tok.Line, Tok: tok, Index: -1}
	if t.finalized {
		sym.Index = len(t.order)
	}
	t.byName[name] = sym
	t.order = append(t.order, sym)
	return sym
}

func (t *Table) Find(name string) (*Symbol, bool) {
	sym, ok := t.byName[name]
	return sym, ok
}

func (t *Table) Len() int { return len(t.order) }

// Symbols returns the symbols in index order.
func (t *Table) Symbols() []*Symbol { return t.order }

// Finalize assigns indices in first-reference order. Calling it again is a no-op.
func (t *Table) Finalize() {
	if t.finalized {
		return
	}
	for i, sym := range t.order {
		sym.Index = i
	}
	t.finalized = true
}

func (t *Table) Finalized() bool { return t.finalized }

// Tables are the three disjoint namespaces of one compilation.
type Tables struct {
	Variables *Table
	Constants *Table
	Functions *Table
}

func NewTables() *Tables {
	return &Tables{
		Variables: NewTable(Variable),
		Constants: NewTable(Constant),
		Functions: NewTable(Function),
	}
}

func (ts *Tables) Finalize() {
	ts.Variables.Finalize()
	ts.Constants.Finalize()
	ts.Functions.Finalize()
}

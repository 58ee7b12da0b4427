// Package asm reads and writes the line-oriented textual form of bytecode.
//
// One instruction per line: a mnemonic, matched without regard to case, and
// at most one operand. A line may start with "name:" to declare a label at
// the current position. Lines starting with "//" or ";" are comments.
package asm

import (
	"bufio"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/xplshn/tyro/pkg/bytecode"
)

var (
	ErrSyntax        = errors.New("syntax error")
	ErrLabelNotFound = errors.New("label not found")
	ErrLabelRange    = errors.New("label index out of range")
)

// LineError ties an assembly failure to its source line.
type LineError struct {
	Line int // 1-based
	Text string
	Err  error
}

func (e *LineError) Error() string {
	return fmt.Sprintf("line %d: %v: %q", e.Line, e.Err, e.Text)
}

func (e *LineError) Unwrap() error { return e.Err }

type fixup struct {
	pos   int // word offset of the operand
	label string
	line  int
	text  string
}

type assembler struct {
	out     *bytecode.Container
	natives map[string]int
	labels  map[string]int
	fixups  []fixup
	line    int
	text    string
}

// Assemble translates text into a container. natives becomes the container's
// function table and lets "call" name a function instead of its index.
func Assemble(text string, natives []*bytecode.Function) (*bytecode.Container, error) {
	a := &assembler{
		out:     bytecode.NewContainer(),
		natives: make(map[string]int, len(natives)),
		labels:  make(map[string]int),
	}
	for i, fn := range natives {
		a.natives[fn.Name] = i
	}
	a.out.SetFunctions(natives)

	sc := bufio.NewScanner(strings.NewReader(text))
	for n := 1; sc.Scan(); n++ {
		line := sc.Text()
		a.line, a.text = n, line
		if err := a.parseLine(line); err != nil {
			return nil, &LineError{Line: n, Text: line, Err: err}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if err := a.resolve(); err != nil {
		return nil, err
	}
	return a.out, nil
}

func (a *assembler) parseLine(line string) error {
	body := strings.TrimSpace(line)
	if body == "" || strings.HasPrefix(body, "//") || strings.HasPrefix(body, ";") {
		return nil
	}

	if name, rest, ok := splitLabel(body); ok {
		if _, dup := a.labels[name]; dup {
			return fmt.Errorf("%w: label '%s' defined twice", ErrSyntax, name)
		}
		a.labels[name] = a.out.Size()
		if rest == "" {
			return nil
		}
		body = rest
	}

	fields := strings.Fields(body)
	desc, ok := bytecode.LookupMnemonic(fields[0])
	if !ok {
		return fmt.Errorf("%w: unknown mnemonic '%s'", ErrSyntax, fields[0])
	}
	if len(fields) > 2 {
		return fmt.Errorf("%w: '%s' takes at most one operand", ErrSyntax, desc.Name)
	}
	arg := ""
	if len(fields) == 2 {
		arg = fields[1]
	}

	if desc.Code.IsJump() {
		if arg == "" {
			return fmt.Errorf("%w: '%s' needs a label", ErrSyntax, desc.Name)
		}
		a.fixups = append(a.fixups, fixup{pos: a.out.Size() + 1, label: arg, line: a.line, text: a.text})
		a.out.WriteOp(desc.Code, 0)
		return nil
	}

	if arg == "" {
		if desc.ParamCount > 0 {
			return fmt.Errorf("%w: '%s' needs an operand", ErrSyntax, desc.Name)
		}
		a.out.WriteOp(desc.Code, 0)
		return nil
	}

	if desc.Code == bytecode.OpCall {
		if idx, ok := a.natives[arg]; ok {
			a.out.WriteOp(desc.Code, bytecode.Word(idx))
			return nil
		}
	}
	w, err := ParseOperand(arg)
	if err != nil {
		return err
	}
	a.out.WriteOp(desc.Code, w)
	return nil
}

// splitLabel recognises "name:" at the start of a line.
func splitLabel(body string) (name, rest string, ok bool) {
	i := strings.IndexByte(body, ':')
	if i <= 0 {
		return "", "", false
	}
	name = body[:i]
	if strings.ContainsAny(name, " \t'") {
		return "", "", false
	}
	return name, strings.TrimSpace(body[i+1:]), true
}

// resolve patches jump operands once every label is known.
func (a *assembler) resolve() error {
	count := a.out.Size() / bytecode.InstructionWidth
	for _, f := range a.fixups {
		if pos, ok := a.labels[f.label]; ok {
			a.out.SetWord(f.pos, bytecode.Word(pos))
			continue
		}
		lower := strings.ToLower(f.label)
		w, ok := parseInt(lower, strings.HasPrefix(lower, "0x"))
		n := int(int32(w))
		if !ok || strings.HasPrefix(lower, "-") || n <= 0 {
			return &LineError{Line: f.line, Text: f.text, Err: fmt.Errorf("%w: %s", ErrLabelNotFound, f.label)}
		}
		if n > count+1 {
			return &LineError{Line: f.line, Text: f.text, Err: fmt.Errorf("%w: %d (program has %d instructions)", ErrLabelRange, n, count)}
		}
		a.out.SetWord(f.pos, bytecode.Word((n-1)*bytecode.InstructionWidth))
	}
	return nil
}

// ParseOperand converts a literal into a word. Accepted forms, tried in
// order: 'c', '\n' '\r' '\b' '\t' (other escapes give 0), floats ending in f
// or containing a '.', stored as float32 bits, decimal or 0x integers, and
// true/false.
func ParseOperand(s string) (bytecode.Word, error) {
	switch {
	case len(s) == 3 && s[0] == '\'' && s[2] == '\'':
		return bytecode.Word(s[1]), nil
	case len(s) == 4 && s[0] == '\'' && s[1] == '\\' && s[3] == '\'':
		switch s[2] {
		case 'n':
			return '\n', nil
		case 'r':
			return '\r', nil
		case 'b':
			return '\b', nil
		case 't':
			return '\t', nil
		}
		return 0, nil
	}

	lower := strings.ToLower(s)
	hex := strings.HasPrefix(strings.TrimLeft(lower, "+-"), "0x")
	if !hex && (strings.HasSuffix(lower, "f") || strings.Contains(s, ".")) {
		f, err := strconv.ParseFloat(strings.TrimSuffix(lower, "f"), 32)
		if err != nil {
			return 0, fmt.Errorf("%w: bad float literal '%s'", ErrSyntax, s)
		}
		return bytecode.Word(math.Float32bits(float32(f))), nil
	}

	if w, ok := parseInt(lower, hex); ok {
		return w, nil
	}

	switch lower {
	case "true":
		return 1, nil
	case "false":
		return 0, nil
	}
	return 0, fmt.Errorf("%w: bad operand '%s'", ErrSyntax, s)
}

func parseInt(s string, hex bool) (bytecode.Word, bool) {
	if hex {
		neg := strings.HasPrefix(s, "-")
		digits := strings.TrimPrefix(strings.TrimLeft(s, "+-"), "0x")
		v, err := strconv.ParseUint(digits, 16, 32)
		if err != nil {
			return 0, false
		}
		if neg {
			v = -v
		}
		return bytecode.Word(v), true
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil || v < math.MinInt32 || v > math.MaxUint32 {
		return 0, false
	}
	return bytecode.Word(uint32(v)), true
}

// Disassemble renders c one instruction per line. Jump operands print as
// 1-based instruction indices, which Assemble accepts back.
func Disassemble(c *bytecode.Container, hex bool) string {
	var sb strings.Builder
	words := c.Words()
	for pos := 0; pos+1 < len(words); pos += bytecode.InstructionWidth {
		op, operand := bytecode.Opcode(words[pos]), words[pos+1]
		desc, ok := op.Desc()
		if !ok {
			fmt.Fprintf(&sb, "; unknown opcode %d\n", words[pos])
			continue
		}
		if op.IsJump() {
			operand = operand/bytecode.InstructionWidth + 1
		}
		switch {
		case desc.ParamCount == 0:
			fmt.Fprintf(&sb, "%s\n", desc.Name)
		case hex:
			fmt.Fprintf(&sb, "%s\t0x%08x\n", desc.Name, uint32(operand))
		default:
			fmt.Fprintf(&sb, "%s\t%d\n", desc.Name, uint32(operand))
		}
	}
	return sb.String()
}

package asm

import (
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/xplshn/tyro/pkg/bytecode"
)

type W = bytecode.Word

func op(o bytecode.Opcode) W { return W(o) }

var printFn = bytecode.MustFunction("print", func(args []bytecode.Word) bytecode.Word { return 0 }, 1, 0, false)

func TestAssembleLabelsAndComments(t *testing.T) {
	src := `
// counts down from 3
; semicolon comments too
	PUSH 3
loop:	push 1
	isub
	ine
	iff done
	goto loop
done: sys 0
`
	c, err := Assemble(src, nil)
	if err != nil {
		t.Fatal(err)
	}
	want := []W{
		op(bytecode.OpPush), 3,
		op(bytecode.OpPush), 1,
		op(bytecode.OpIsub), 0,
		op(bytecode.OpIne), 0,
		op(bytecode.OpIff), 12,
		op(bytecode.OpGoto), 2,
		op(bytecode.OpSys), 0,
	}
	if diff := cmp.Diff(want, c.Words()); diff != "" {
		t.Fatalf("words mismatch (-want +got):\n%s", diff)
	}
}

func TestMissingLabel(t *testing.T) {
	_, err := Assemble("push 1\ngoto missing_label\n", nil)
	if !errors.Is(err, ErrLabelNotFound) {
		t.Fatalf("err = %v, want ErrLabelNotFound", err)
	}
	var le *LineError
	if !errors.As(err, &le) || le.Line != 2 {
		t.Fatalf("err = %#v, want a LineError for line 2", err)
	}
	if !strings.Contains(err.Error(), "missing_label") {
		t.Errorf("error does not name the label: %v", err)
	}
}

func TestNumericJumpTargets(t *testing.T) {
	c, err := Assemble("goto 3\npush 1\npop\n", nil)
	if err != nil {
		t.Fatal(err)
	}
	if got := c.Words()[1]; got != 4 {
		t.Errorf("goto 3 resolved to %d, want 4", got)
	}

	if _, err := Assemble("goto 5\npop\n", nil); !errors.Is(err, ErrLabelRange) {
		t.Errorf("err = %v, want ErrLabelRange", err)
	}
}

func TestSyntaxErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		line int
	}{
		{"unknown mnemonic", "push 1\nfrob 2\n", 2},
		{"missing operand", "push\n", 1},
		{"bad literal", "pop\npop\npush banana\n", 3},
		{"extra operand", "push 1 2\n", 1},
		{"duplicate label", "a:\na: pop\n", 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Assemble(tt.src, nil)
			if !errors.Is(err, ErrSyntax) {
				t.Fatalf("err = %v, want ErrSyntax", err)
			}
			var le *LineError
			if errors.As(err, &le) && le.Line != tt.line {
				t.Errorf("line = %d, want %d", le.Line, tt.line)
			}
		})
	}
}

func TestParseOperand(t *testing.T) {
	tests := []struct {
		in   string
		want W
	}{
		{"'A'", 'A'},
		{`'\n'`, '\n'},
		{`'\t'`, '\t'},
		{`'\q'`, 0},
		{"1.5", W(math.Float32bits(1.5))},
		{"2f", W(math.Float32bits(2))},
		{"-0.25F", W(math.Float32bits(-0.25))},
		{"42", 42},
		{"-1", 0xffffffff},
		{"0xff", 0xff},
		{"0XDEADBEEF", 0xdeadbeef},
		{"TRUE", 1},
		{"false", 0},
	}
	for _, tt := range tests {
		got, err := ParseOperand(tt.in)
		if err != nil {
			t.Errorf("ParseOperand(%q): %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseOperand(%q) = %#x, want %#x", tt.in, got, tt.want)
		}
	}

	for _, bad := range []string{"nope", "0xZZ", "99999999999", "1.2.3"} {
		if _, err := ParseOperand(bad); !errors.Is(err, ErrSyntax) {
			t.Errorf("ParseOperand(%q) err = %v, want ErrSyntax", bad, err)
		}
	}
}

func TestCallByName(t *testing.T) {
	other := bytecode.MustFunction("other", func(args []bytecode.Word) bytecode.Word { return 0 }, 0, 1, false)
	c, err := Assemble("call other\ncall print\ncall 1\n", []*bytecode.Function{printFn, other})
	if err != nil {
		t.Fatal(err)
	}
	want := []W{op(bytecode.OpCall), 1, op(bytecode.OpCall), 0, op(bytecode.OpCall), 1}
	if diff := cmp.Diff(want, c.Words()); diff != "" {
		t.Fatalf("words mismatch (-want +got):\n%s", diff)
	}
	if len(c.Functions()) != 2 {
		t.Errorf("function table has %d entries, want 2", len(c.Functions()))
	}
}

func TestDisassemble(t *testing.T) {
	c := bytecode.FromWords([]W{
		op(bytecode.OpPush), 10,
		op(bytecode.OpIff), 6,
		op(bytecode.OpPop), 0,
		op(bytecode.OpSys), 0,
	})
	want := "push\t10\niff\t4\npop\nsys\t0\n"
	if diff := cmp.Diff(want, Disassemble(c, false)); diff != "" {
		t.Errorf("text mismatch (-want +got):\n%s", diff)
	}
	wantHex := "push\t0x0000000a\niff\t0x00000004\npop\nsys\t0x00000000\n"
	if diff := cmp.Diff(wantHex, Disassemble(c, true)); diff != "" {
		t.Errorf("hex text mismatch (-want +got):\n%s", diff)
	}
}

func TestRoundTrip(t *testing.T) {
	orig := bytecode.FromWords([]W{
		op(bytecode.OpLocal), 1,
		op(bytecode.OpLoad), 0,
		op(bytecode.OpIff), 12,
		op(bytecode.OpPush), 0,
		op(bytecode.OpStore), 0,
		op(bytecode.OpGoto), 2,
		op(bytecode.OpSys), 0,
	})
	for _, hex := range []bool{false, true} {
		back, err := Assemble(Disassemble(orig, hex), nil)
		if err != nil {
			t.Fatalf("hex=%t: %v", hex, err)
		}
		if diff := cmp.Diff(orig.Words(), back.Words()); diff != "" {
			t.Errorf("hex=%t round trip mismatch (-want +got):\n%s", hex, diff)
		}
	}
}

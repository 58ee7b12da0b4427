package compiler

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/xplshn/tyro/pkg/asm"
	"github.com/xplshn/tyro/pkg/bytecode"
	"github.com/xplshn/tyro/pkg/natives"
	"github.com/xplshn/tyro/pkg/vm"
)

type result struct {
	out   string
	stack []bytecode.Word
}

func compileAndRun(t *testing.T, src string) result {
	t.Helper()
	var out bytes.Buffer
	fns := natives.Standard(&out)
	c := New(nil, nil)
	code := bytecode.NewContainer()
	if err := c.CompileSource("test.ty", src, code, fns); err != nil {
		t.Fatalf("compile: %v\n%v", err, c.Diagnostics().List())
	}
	opts := vm.DefaultOptions()
	opts.Out = &out
	opts.MaxSteps = 100000
	m := vm.NewMachine(opts)
	if err := m.Execute(code); err != nil {
		t.Fatalf("execute: %v", err)
	}
	return result{out: out.String(), stack: m.Stack()}
}

func compileErrors(t *testing.T, src string) []string {
	t.Helper()
	c := New(nil, nil)
	code := bytecode.NewContainer()
	err := c.CompileSource("test.ty", src, code, natives.Standard(nil))
	if !errors.Is(err, ErrFailed) {
		t.Fatalf("err = %v, want ErrFailed", err)
	}
	if code.Size() != 0 {
		t.Errorf("failed compilation left %d words in the container", code.Size())
	}
	var msgs []string
	for _, d := range c.Diagnostics().Errors() {
		msgs = append(msgs, d.Message)
	}
	return msgs
}

func TestControlFlowPrograms(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{"while false runs zero times", "while (false) print(1); print(2);", "2\n"},
		{"do while false runs once", "do print(1); while (false); print(2);", "1\n2\n"},
		{"if takes then", "a = 3; if (a > 2) print(1); else print(0);", "1\n"},
		{"if takes else", "a = 1; if (a > 2) print(1); else print(0);", "0\n"},
		{"if without else", "if (0 == 1) print(9); print(5);", "5\n"},
		{"counting loop", "i = 0; while (i < 3) { print(i); i = i + 1; }", "0\n1\n2\n"},
		{"do while counts", "n = 3; do { print(n); n = n - 1; } while (n != 0);", "3\n2\n1\n"},
		{"arithmetic", "print((7 + 5) * 2 / 3 % 5); print(-4 - 6); print(!0);", "3\n-10\n1\n"},
		{"boolean ops", "a = 1; b = 0; if (a && b) print(1); if (a || b) print(2);", "2\n"},
		{"hex constants", "print(0x10 + 1);", "17\n"},
		{"chained assignment", "a = b = 4; print(a + b);", "8\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := compileAndRun(t, tt.src).out; got != tt.want {
				t.Errorf("output = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestLocalsWindowHoldsEveryVariable(t *testing.T) {
	r := compileAndRun(t, "x = 5; y = x * 2;")
	// the window holds x and y; each assignment statement pops its value
	if diff := cmp.Diff([]bytecode.Word{5, 10}, r.stack); diff != "" {
		t.Errorf("stack mismatch (-want +got):\n%s", diff)
	}
}

func TestArity(t *testing.T) {
	tests := []struct {
		src  string
		want string
	}{
		{"print();", "'print' : function does not take 0 parameters"},
		{"print(1, 2);", "'print' : function does not take 2 parameters"},
		{"x = rand(5);", "'rand' : function does not take 1 parameters"},
	}
	for _, tt := range tests {
		msgs := compileErrors(t, tt.src)
		if diff := cmp.Diff([]string{tt.want}, msgs); diff != "" {
			t.Errorf("%s: errors mismatch (-want +got):\n%s", tt.src, diff)
		}
	}
}

func TestUnknownFunction(t *testing.T) {
	msgs := compileErrors(t, "launch(1); print(2); launch(3);")
	want := []string{"reference to unknown function 'launch'"}
	if diff := cmp.Diff(want, msgs); diff != "" {
		t.Errorf("errors mismatch (-want +got):\n%s", diff)
	}
}

func TestSyntaxErrorStopsCompilation(t *testing.T) {
	c := New(nil, nil)
	err := c.CompileSource("bad.ty", "x = 1;\ny = (2 + ;\n", bytecode.NewContainer(), nil)
	if !errors.Is(err, ErrFailed) {
		t.Fatalf("err = %v", err)
	}
	errs := c.Diagnostics().Errors()
	if len(errs) != 1 || errs[0].Line != 2 || errs[0].File != "bad.ty" {
		t.Fatalf("diagnostics = %v", errs)
	}
	if c.Tree() != nil || c.IR() != "" {
		t.Error("failed compilation kept a tree or IR")
	}
}

func TestFunctionTableFollowsFirstReference(t *testing.T) {
	c := New(nil, nil)
	code := bytecode.NewContainer()
	if err := c.CompileSource("t.ty", "seed(time(0)); print(rand());", code, natives.Standard(nil)); err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, fn := range code.Functions() {
		names = append(names, fn.Name)
	}
	if diff := cmp.Diff([]string{"seed", "time", "print", "rand"}, names); diff != "" {
		t.Errorf("function table mismatch (-want +got):\n%s", diff)
	}
	if !strings.Contains(c.IR(), "call") {
		t.Errorf("IR dump lacks calls:\n%s", c.IR())
	}
}

func TestDisassembleRoundTrip(t *testing.T) {
	src := "i = 0; while (i < 4) { if (i % 2 == 0) print(i); else print(0 - i); i = i + 1; }"
	var direct, viaText bytes.Buffer

	code := bytecode.NewContainer()
	if err := New(nil, nil).CompileSource("t.ty", src, code, natives.Standard(&direct)); err != nil {
		t.Fatal(err)
	}
	text := asm.Disassemble(code, false)
	back, err := asm.Assemble(text, nil)
	if err != nil {
		t.Fatalf("reassemble: %v\n%s", err, text)
	}
	// text carries call indices only; rebind the table by name
	back.SetFunctions(code.Functions())
	if err := back.Link(natives.Standard(&viaText)); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(code.Words(), back.Words()); diff != "" {
		t.Errorf("words mismatch (-want +got):\n%s", diff)
	}

	for _, c := range []*bytecode.Container{code, back} {
		if err := vm.NewMachine(vm.DefaultOptions()).Execute(c); err != nil {
			t.Fatal(err)
		}
	}
	if direct.String() != "0\n-1\n2\n-3\n" || direct.String() != viaText.String() {
		t.Errorf("outputs differ: %q vs %q", direct.String(), viaText.String())
	}
}

func TestCompileFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prog.ty")
	if err := os.WriteFile(path, []byte("print(6 * 7);"), 0o644); err != nil {
		t.Fatal(err)
	}
	var out bytes.Buffer
	code := bytecode.NewContainer()
	if err := Compile(path, code, natives.Standard(&out)); err != nil {
		t.Fatal(err)
	}
	if err := vm.NewMachine(vm.DefaultOptions()).Execute(code); err != nil {
		t.Fatal(err)
	}
	if out.String() != "42\n" {
		t.Errorf("output = %q", out.String())
	}

	if err := Compile(filepath.Join(t.TempDir(), "missing.ty"), code, nil); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("err = %v, want a not-exist error", err)
	}
}

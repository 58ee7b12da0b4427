package vm

import (
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/xplshn/tyro/pkg/asm"
	"github.com/xplshn/tyro/pkg/bytecode"
)

func TestZeroReturnNativePushesZero(t *testing.T) {
	var printed []int32
	printNative := bytecode.MustFunction("print", func(n int32) { printed = append(printed, n) }, 1, 0, false)
	m, _, err := run(t, "push 42\ncall print", []*bytecode.Function{printNative}, guarded())
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]int32{42}, printed); diff != "" {
		t.Errorf("printed mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]W{0}, m.Stack()); diff != "" {
		t.Errorf("stack mismatch (-want +got):\n%s", diff)
	}
}

func TestArgumentsArriveInSourceOrder(t *testing.T) {
	var got []W
	fast := bytecode.MustFunction("fast", bytecode.NativeFunc(func(args []W) W {
		got = append([]W(nil), args...)
		return args[0] - args[1]
	}), 2, 1, false)
	m, _, err := run(t, "push 10\npush 3\ncall fast", []*bytecode.Function{fast}, guarded())
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]W{10, 3}, got); diff != "" {
		t.Errorf("args mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]W{7}, m.Stack()); diff != "" {
		t.Errorf("stack mismatch (-want +got):\n%s", diff)
	}
}

func TestReflectConversions(t *testing.T) {
	scale := bytecode.MustFunction("scale", func(f float32, k int8) float64 { return float64(f) * float64(k) }, 2, 1, true)
	both := bytecode.MustFunction("both", func(a, b bool) bool { return a && b }, 2, 1, false)
	neg := bytecode.MustFunction("neg", func(v int64) int64 { return -v }, 1, 1, false)
	natives := []*bytecode.Function{scale, both, neg}

	src := "push 1.5\npush -2\ncall scale\npush 7\npush 1\ncall both\npush 5\ncall neg"
	m, _, err := run(t, src, natives, guarded())
	if err != nil {
		t.Fatal(err)
	}
	want := []W{W(math.Float32bits(-3)), 1, 0xfffffffb}
	if diff := cmp.Diff(want, m.Stack()); diff != "" {
		t.Errorf("stack mismatch (-want +got):\n%s", diff)
	}
	if m.native.depth() != 0 {
		t.Errorf("native stack holds %d words after the calls", m.native.depth())
	}
}

func TestBridgeFaults(t *testing.T) {
	unlinked := &bytecode.Function{Name: "ghost", ParamCount: 0, ReturnCount: 1}
	two := bytecode.MustFunction("two", func(a, b int32) int32 { return a + b }, 2, 1, false)
	boom := bytecode.MustFunction("boom", func() int32 { panic("native failure") }, 0, 1, false)

	tests := []struct {
		name    string
		src     string
		natives []*bytecode.Function
		opts    Options
		want    error
	}{
		{"unlinked", "call ghost", []*bytecode.Function{unlinked}, guarded(), ErrUnlinked},
		{"missing arguments", "push 1\ncall two", []*bytecode.Function{two}, guarded(), ErrStackUnderflow},
		{"native panic", "call boom", []*bytecode.Function{boom}, guarded(), ErrRuntime},
		{"native stack limit", "push 1\npush 2\ncall two", []*bytecode.Function{two}, Options{MaxNativeArgs: 1, Guards: true}, ErrNativeStack},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := run(t, tt.src, tt.natives, tt.opts)
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestDeterminism(t *testing.T) {
	src := `
	local 1
	push 0
	store 0
	pop
loop:	load 0
	push 5
	isub
	ilt
	iff done
	load 0
	call show
	pop
	load 0
	push 1
	iadd
	store 0
	pop
	goto loop
done:	sys 0
`
	var outputs []string
	var fingerprints []uint64
	for i := 0; i < 2; i++ {
		var log []string
		show := bytecode.MustFunction("show", func(n int32) { log = append(log, fmt.Sprint(n)) }, 1, 0, false)
		c, err := asm.Assemble(src, []*bytecode.Function{show})
		if err != nil {
			t.Fatal(err)
		}
		m := NewMachine(guarded())
		if err := m.Execute(c); err != nil {
			t.Fatal(err)
		}
		outputs = append(outputs, fmt.Sprint(log, m.Stack()))
		fingerprints = append(fingerprints, c.Fingerprint())
	}
	if outputs[0] != outputs[1] || fingerprints[0] != fingerprints[1] {
		t.Errorf("runs differ: %q vs %q", outputs[0], outputs[1])
	}
	if outputs[0] != "[0 1 2 3 4] [5]" {
		t.Errorf("output = %q", outputs[0])
	}
}

package bytecode

import (
	"bytes"
	"encoding/binary"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestContainerGrowsPastInitialCapacity(t *testing.T) {
	c := NewContainer()
	for i := 0; i < initialCapacity*3; i++ {
		c.WriteOp(OpPush, Word(i))
	}
	if got, want := c.Size(), initialCapacity*6; got != want {
		t.Fatalf("size = %d, want %d", got, want)
	}
	op, operand := c.Instruction(2 * 2500)
	if op != OpPush || operand != 2500 {
		t.Fatalf("instruction 2500 = (%v, %d)", op, operand)
	}
}

func TestEnsureTerminated(t *testing.T) {
	c := NewContainer()
	if !c.EnsureTerminated() {
		t.Fatal("empty container should receive a terminator")
	}
	if c.EnsureTerminated() {
		t.Fatal("terminator appended twice")
	}
	want := []Word{Word(OpSys), Word(SysExit)}
	if diff := cmp.Diff(want, c.Words()); diff != "" {
		t.Fatalf("words mismatch (-want +got):\n%s", diff)
	}

	c.WriteOp(OpPush, 1)
	if c.IsTerminated() {
		t.Fatal("container ending in push reported as terminated")
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	c := NewContainer()
	c.WriteOp(OpLocal, 2)
	c.WriteOp(OpPush, 0xdeadbeef)
	c.WriteOp(OpStore, 1)
	c.EnsureTerminated()

	path := filepath.Join(t.TempDir(), "prog.tbc")
	if err := c.Save(path); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded := NewContainer()
	if err := loaded.Load(path); err != nil {
		t.Fatalf("load: %v", err)
	}
	if diff := cmp.Diff(c.Words(), loaded.Words()); diff != "" {
		t.Fatalf("words mismatch (-saved +loaded):\n%s", diff)
	}
}

func TestLoadRejectsMalformedFiles(t *testing.T) {
	header := func(n uint32, words ...uint32) []byte {
		buf := binary.NativeEndian.AppendUint32(nil, n)
		for _, w := range words {
			buf = binary.NativeEndian.AppendUint32(buf, w)
		}
		return buf
	}
	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"odd count", header(3, 1, 2, 3)},
		{"truncated", header(4, 1, 2)},
		{"trailing bytes", append(header(2, 1, 0), 0xff)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewContainer().ReadFrom(bytes.NewReader(tt.data))
			if !errors.Is(err, ErrMalformed) {
				t.Fatalf("err = %v, want ErrMalformed", err)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	err := NewContainer().Load(filepath.Join(t.TempDir(), "nope.tbc"))
	if err == nil || !strings.Contains(err.Error(), "load bytecode") {
		t.Fatalf("err = %v", err)
	}
}

func TestImageKeepsFunctionTable(t *testing.T) {
	print := MustFunction("print", func(args []Word) Word { return 0 }, 1, 0, false)
	c := NewContainer()
	c.SetFunctions([]*Function{print})
	c.WriteOp(OpPush, 42)
	c.WriteOp(OpCall, 0)
	c.EnsureTerminated()

	data, err := MarshalImage(c)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	loaded, err := UnmarshalImage(data)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if loaded.Fingerprint() != c.Fingerprint() {
		t.Fatal("fingerprint changed across the image round trip")
	}
	if loaded.Functions()[0].Handle != nil {
		t.Fatal("unlinked image should carry no handles")
	}
	if err := loaded.Link([]*Function{print}); err != nil {
		t.Fatalf("link: %v", err)
	}
	if loaded.Functions()[0] != print {
		t.Fatal("link did not attach the native descriptor")
	}
}

func TestLinkReportsUnknownAndMismatchedFunctions(t *testing.T) {
	c := NewContainer()
	c.SetFunctions([]*Function{{Name: "rand", ReturnCount: 1}})
	if err := c.Link(nil); err == nil || !strings.Contains(err.Error(), "unknown function 'rand'") {
		t.Fatalf("err = %v", err)
	}
	other := MustFunction("rand", func(a, b int32) int32 { return a + b }, 2, 1, false)
	if err := c.Link([]*Function{other}); err == nil || !strings.Contains(err.Error(), "signature mismatch") {
		t.Fatalf("err = %v", err)
	}
}

func TestFunctionValidate(t *testing.T) {
	tests := []struct {
		name    string
		fn      Function
		wantErr string
	}{
		{"fast path", Function{Name: "f", Handle: NativeFunc(func([]Word) Word { return 0 }), ParamCount: 3}, ""},
		{"reflect ints", Function{Name: "f", Handle: func(a int32, b uint8) int64 { return 0 }, ParamCount: 2, ReturnCount: 1}, ""},
		{"reflect void", Function{Name: "f", Handle: func(float32) {}, ParamCount: 1}, ""},
		{"arity", Function{Name: "f", Handle: func(int32) {}, ParamCount: 2}, "takes 1 parameters"},
		{"bad param", Function{Name: "f", Handle: func(string) {}, ParamCount: 1}, "unsupported type"},
		{"no result", Function{Name: "f", Handle: func() {}, ReturnCount: 1}, "does not"},
		{"return count", Function{Name: "f", Handle: func() {}, ReturnCount: 2}, "0 or 1"},
		{"not a func", Function{Name: "f", Handle: 3}, "not a function"},
		{"nil", Function{Name: "f"}, "missing handle"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.fn.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("err = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestLookupMnemonicIgnoresCase(t *testing.T) {
	d, ok := LookupMnemonic("IADD")
	if !ok || d.Code != OpIadd {
		t.Fatalf("LookupMnemonic(IADD) = %v, %v", d, ok)
	}
	if _, ok := LookupMnemonic("bogus"); ok {
		t.Fatal("unknown mnemonic matched")
	}
	for op := OpNoop; op < OpCount; op++ {
		if d, _ := op.Desc(); d.Code != op {
			t.Fatalf("opcode table out of order at %d (%s)", op, d.Name)
		}
	}
}

func TestRebindRewritesCallOperands(t *testing.T) {
	fn := func(name string) *Function {
		return MustFunction(name, func(args []Word) Word { return 0 }, 0, 1, false)
	}
	rand, seed, sleep := fn("rand"), fn("seed"), fn("sleep")
	c := NewContainer()
	c.SetFunctions([]*Function{sleep, rand})
	c.WriteOp(OpCall, 0)
	c.WriteOp(OpPush, 0)
	c.WriteOp(OpCall, 1)

	if err := c.Rebind([]*Function{rand, seed, sleep}); err != nil {
		t.Fatal(err)
	}
	want := []Word{Word(OpCall), 2, Word(OpPush), 0, Word(OpCall), 0}
	if diff := cmp.Diff(want, c.Words()); diff != "" {
		t.Errorf("words mismatch (-want +got):\n%s", diff)
	}
	if len(c.Functions()) != 3 || c.Functions()[1] != seed {
		t.Error("function table was not replaced")
	}

	if err := c.Rebind([]*Function{seed}); err == nil || !strings.Contains(err.Error(), "unknown function 'sleep'") {
		t.Errorf("err = %v", err)
	}
}

package ir

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/xplshn/tyro/pkg/bytecode"
)

func chainIDs(p *Program, head OpID) []OpID {
	var ids []OpID
	p.Walk(head, func(id OpID, _ *Op) { ids = append(ids, id) })
	return ids
}

func TestConcatLinksChains(t *testing.T) {
	p := NewProgram()
	a := p.New(bytecode.OpPush, 1)
	b := p.New(bytecode.OpPush, 2)
	c := p.New(bytecode.OpIadd, 0)
	if err := p.Concat(a, b); err != nil {
		t.Fatal(err)
	}
	if err := p.Concat(a, c); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]OpID{a, b, c}, chainIDs(p, a)); diff != "" {
		t.Fatalf("chain mismatch (-want +got):\n%s", diff)
	}
	if p.Tail(a) != c {
		t.Fatalf("tail = %d, want %d", p.Tail(a), c)
	}
}

func TestConcatRejectsCycles(t *testing.T) {
	p := NewProgram()
	a := p.New(bytecode.OpPush, 1)
	b := p.New(bytecode.OpPop, 0)
	if err := p.Concat(a, b); err != nil {
		t.Fatal(err)
	}

	if err := p.Concat(a, a); !errors.Is(err, ErrCycle) {
		t.Errorf("self concat: err = %v", err)
	}
	if err := p.Concat(a, b); !errors.Is(err, ErrCycle) {
		t.Errorf("re-append member: err = %v", err)
	}
	if err := p.Concat(b, a); !errors.Is(err, ErrCycle) {
		t.Errorf("append own head: err = %v", err)
	}
	if diff := cmp.Diff([]OpID{a, b}, chainIDs(p, a)); diff != "" {
		t.Fatalf("failed concat modified the chain (-want +got):\n%s", diff)
	}
}

func TestDumpShowsTargets(t *testing.T) {
	p := NewProgram()
	anchor := p.Noop()
	jump := p.NewJump(bytecode.OpGoto, anchor)
	head, err := p.Chain(jump, anchor)
	if err != nil {
		t.Fatal(err)
	}
	out := p.Dump(head)
	if !strings.Contains(out, "goto") || !strings.Contains(out, "-> 0") {
		t.Fatalf("unexpected dump:\n%s", out)
	}
}

// Package natives provides the functions every tyro program can call.
package natives

import (
	"fmt"
	"io"
	"math/rand/v2"
	"time"

	"github.com/xplshn/tyro/pkg/bytecode"
)

// RandMax is the largest value rand() returns.
const RandMax = 0x7fff

// Env is the outside world the standard functions talk to.
type Env struct {
	Out   io.Writer
	Now   func() time.Time
	Sleep func(time.Duration)
	rng   *rand.Rand
}

func NewEnv(out io.Writer) *Env {
	return &Env{Out: out, Now: time.Now, Sleep: time.Sleep, rng: rand.New(rand.NewPCG(1, 0))}
}

// Standard returns the native table with output going to w.
func Standard(w io.Writer) []*bytecode.Function {
	return NewEnv(w).Functions()
}

// Functions returns rand, seed, time, print and sleep bound to env.
// sleep releases its own arguments; the rest leave that to the caller.
func (env *Env) Functions() []*bytecode.Function {
	return []*bytecode.Function{
		bytecode.MustFunction("rand", env.rand, 0, 1, false),
		bytecode.MustFunction("seed", env.seed, 1, 0, false),
		bytecode.MustFunction("time", env.time, 1, 1, false),
		bytecode.MustFunction("print", env.print, 1, 0, false),
		bytecode.MustFunction("sleep", env.sleep, 1, 0, true),
	}
}

func (env *Env) rand() int32 { return env.rng.Int32N(RandMax + 1) }

func (env *Env) seed(n uint32) { env.rng = rand.New(rand.NewPCG(uint64(n), 0)) }

// time ignores its argument and returns the current Unix time in seconds.
func (env *Env) time(uint32) uint32 { return uint32(env.Now().Unix()) }

func (env *Env) print(n int32) { fmt.Fprintf(env.Out, "%d\n", n) }

func (env *Env) sleep(ms uint32) { env.Sleep(time.Duration(ms) * time.Millisecond) }

// Package vm executes bytecode containers on a word stack machine.
package vm

import (
	"fmt"
	"io"
	"math"
	"os"
	"time"

	"github.com/tliron/commonlog"
	"github.com/xplshn/tyro/pkg/bytecode"
	"github.com/xplshn/tyro/pkg/config"
)

type State int

const (
	Ready State = iota
	Running
	Halted
	Faulted
)

func (s State) String() string {
	switch s {
	case Ready:
		return "ready"
	case Running:
		return "running"
	case Halted:
		return "halted"
	case Faulted:
		return "faulted"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

type Options struct {
	StackSize     int
	MaxNativeArgs int
	// Guards enables bounds, division and jump checks. Without them a bad
	// program still faults, but through a recovered Go runtime error.
	Guards bool
	// Trace logs every dispatched instruction at debug level.
	Trace bool
	// MaxSteps stops runaway programs; zero means no limit.
	MaxSteps uint64
	Out      io.Writer
	Sleep    func(time.Duration)
}

func DefaultOptions() Options {
	return Options{
		StackSize:     config.DefaultStackSize,
		MaxNativeArgs: config.DefaultMaxNativeArgs,
		Guards:        true,
		Out:           os.Stdout,
		Sleep:         time.Sleep,
	}
}

// OptionsFromConfig reads the machine limits and the guards feature.
func OptionsFromConfig(cfg *config.Config) Options {
	opts := DefaultOptions()
	if cfg.StackSize > 0 {
		opts.StackSize = cfg.StackSize
	}
	if cfg.MaxNativeArgs > 0 {
		opts.MaxNativeArgs = cfg.MaxNativeArgs
	}
	opts.Guards = cfg.IsFeatureEnabled(config.FeatGuards)
	return opts
}

// Machine owns all interpreter state, so separate machines can run on
// separate goroutines.
type Machine struct {
	opts   Options
	guards bool
	log    commonlog.Logger

	state      State
	stack      []bytecode.Word
	sp         int // number of words on the stack
	localBase  int
	localCount int
	ip         int
	steps      uint64
	native     *nativeStack

	code []bytecode.Word
	fns  []*bytecode.Function
}

func NewMachine(opts Options) *Machine {
	def := DefaultOptions()
	if opts.StackSize <= 0 {
		opts.StackSize = def.StackSize
	}
	if opts.MaxNativeArgs <= 0 {
		opts.MaxNativeArgs = def.MaxNativeArgs
	}
	if opts.Out == nil {
		opts.Out = def.Out
	}
	if opts.Sleep == nil {
		opts.Sleep = def.Sleep
	}
	return &Machine{
		opts:   opts,
		guards: opts.Guards,
		log:    commonlog.GetLogger("tyro.vm"),
		stack:  make([]bytecode.Word, opts.StackSize),
		native: &nativeStack{limit: opts.MaxNativeArgs},
	}
}

func (m *Machine) State() State { return m.state }

// Steps is the number of instructions dispatched by the last Execute.
func (m *Machine) Steps() uint64 { return m.steps }

// Stack returns a copy of the live stack, bottom first.
func (m *Machine) Stack() []bytecode.Word {
	return append([]bytecode.Word(nil), m.stack[:m.sp]...)
}

// Top returns the word on top of the stack.
func (m *Machine) Top() (bytecode.Word, bool) {
	if m.sp == 0 {
		return 0, false
	}
	return m.stack[m.sp-1], true
}

// DumpStack writes the live stack as hex words, eight per line.
func (m *Machine) DumpStack(w io.Writer) {
	fmt.Fprintln(w)
	for i, word := range m.stack[:m.sp] {
		fmt.Fprintf(w, "%08x ", uint32(word))
		if (i+1)%8 == 0 {
			fmt.Fprintln(w)
		}
	}
	fmt.Fprintln(w)
}

func (m *Machine) reset(c *bytecode.Container) {
	clear(m.stack)
	m.sp = 0
	m.localBase, m.localCount = 0, 0
	m.ip = 0
	m.steps = 0
	m.native.words = m.native.words[:0]
	m.code = c.Words()
	m.fns = c.Functions()
	m.state = Ready
}

// Execute runs c from its first instruction until "sys exit" is dispatched
// or a fault occurs. A missing terminator is appended to c first.
func (m *Machine) Execute(c *bytecode.Container) (err error) {
	c.EnsureTerminated()
	m.reset(c)
	m.state = Running

	var op bytecode.Opcode
	var operand bytecode.Word
	at := 0
	defer func() {
		if r := recover(); r != nil {
			err = &Fault{IP: at, Op: op, Operand: operand, Err: fmt.Errorf("%w: %v", ErrRuntime, r)}
		}
		if err != nil {
			m.state = Faulted
		}
	}()

	for m.state == Running {
		at = m.ip
		if m.guards && (at < 0 || at+1 >= len(m.code)) {
			return &Fault{IP: at, Err: ErrBadJump}
		}
		op, operand = bytecode.Opcode(m.code[at]), m.code[at+1]
		m.ip += bytecode.InstructionWidth
		m.steps++
		if m.opts.Trace {
			m.log.Debugf("%04d %-6s %-10d sp=%d", at, op, int32(operand), m.sp)
		}
		if m.opts.MaxSteps > 0 && m.steps > m.opts.MaxSteps {
			return &Fault{IP: at, Op: op, Operand: operand, Err: ErrStepLimit}
		}
		if e := m.executeOneOp(op, operand); e != nil {
			return &Fault{IP: at, Op: op, Operand: operand, Err: e}
		}
	}
	return nil
}

func (m *Machine) push(w bytecode.Word) error {
	if m.guards && m.sp >= len(m.stack) {
		return ErrStackOverflow
	}
	m.stack[m.sp] = w
	m.sp++
	return nil
}

func (m *Machine) pop() (bytecode.Word, error) {
	if m.guards && m.sp == 0 {
		return 0, ErrStackUnderflow
	}
	m.sp--
	return m.stack[m.sp], nil
}

// top returns a pointer to the top word for ops that rewrite it in place.
func (m *Machine) top() (*bytecode.Word, error) {
	if m.guards && m.sp == 0 {
		return nil, ErrStackUnderflow
	}
	return &m.stack[m.sp-1], nil
}

// binary pops b and returns a pointer to a, which receives the result.
func (m *Machine) binary() (a *bytecode.Word, b bytecode.Word, err error) {
	if b, err = m.pop(); err != nil {
		return nil, 0, err
	}
	a, err = m.top()
	return a, b, err
}

func (m *Machine) local(index bytecode.Word) (*bytecode.Word, error) {
	if m.guards && int(index) >= m.localCount {
		return nil, fmt.Errorf("%w: slot %d, window holds %d", ErrLocalOutOfRange, index, m.localCount)
	}
	return &m.stack[m.localBase+int(index)], nil
}

func (m *Machine) jump(target bytecode.Word) error {
	if m.guards && (int(target) >= len(m.code) || target%bytecode.InstructionWidth != 0) {
		return fmt.Errorf("%w: target %d, program has %d words", ErrBadJump, target, len(m.code))
	}
	m.ip = int(target)
	return nil
}

func boolWord(b bool) bytecode.Word {
	if b {
		return 1
	}
	return 0
}

func f32(w bytecode.Word) float32 { return math.Float32frombits(uint32(w)) }

func fword(f float32) bytecode.Word { return bytecode.Word(math.Float32bits(f)) }

func (m *Machine) executeOneOp(op bytecode.Opcode, operand bytecode.Word) error {
	switch op {
	case bytecode.OpNoop:

	case bytecode.OpSys:
		return m.system(bytecode.SysCode(operand))

	case bytecode.OpPush:
		return m.push(operand)

	case bytecode.OpPop:
		_, err := m.pop()
		return err

	case bytecode.OpLoad:
		slot, err := m.local(operand)
		if err != nil {
			return err
		}
		return m.push(*slot)

	case bytecode.OpStore:
		slot, err := m.local(operand)
		if err != nil {
			return err
		}
		t, err := m.top()
		if err != nil {
			return err
		}
		*slot = *t

	case bytecode.OpLocal:
		n := int(operand)
		if m.guards && m.sp+n > len(m.stack) {
			return ErrStackOverflow
		}
		clear(m.stack[m.sp : m.sp+n])
		m.localBase, m.localCount = m.sp, n
		m.sp += n

	case bytecode.OpCall:
		if int(operand) >= len(m.fns) {
			return fmt.Errorf("%w: index %d, table has %d entries", ErrBadCall, operand, len(m.fns))
		}
		return m.call(m.fns[operand])

	case bytecode.OpGoto:
		return m.jump(operand)

	case bytecode.OpIft, bytecode.OpIff:
		v, err := m.pop()
		if err != nil {
			return err
		}
		if (op == bytecode.OpIft && v == 1) || (op == bytecode.OpIff && v == 0) {
			return m.jump(operand)
		}

	case bytecode.OpIeq, bytecode.OpIne, bytecode.OpIlt, bytecode.OpIle, bytecode.OpIgt, bytecode.OpIge:
		t, err := m.top()
		if err != nil {
			return err
		}
		*t = boolWord(compareZero(op, int32(*t)))

	case bytecode.OpI2f:
		t, err := m.top()
		if err != nil {
			return err
		}
		*t = fword(float32(int32(*t)))

	case bytecode.OpF2i:
		t, err := m.top()
		if err != nil {
			return err
		}
		*t = bytecode.Word(uint32(int32(f32(*t))))

	case bytecode.OpIand, bytecode.OpIor, bytecode.OpIadd, bytecode.OpIsub, bytecode.OpImul,
		bytecode.OpIdiv, bytecode.OpImod:
		a, b, err := m.binary()
		if err != nil {
			return err
		}
		r, err := m.intOp(op, int32(*a), int32(b))
		if err != nil {
			return err
		}
		*a = bytecode.Word(uint32(r))

	case bytecode.OpFadd, bytecode.OpFsub, bytecode.OpFmul, bytecode.OpFdiv, bytecode.OpFcmp:
		a, b, err := m.binary()
		if err != nil {
			return err
		}
		*a = floatOp(op, f32(*a), f32(b))

	default:
		return ErrUnknownOpcode
	}
	return nil
}

func compareZero(op bytecode.Opcode, v int32) bool {
	switch op {
	case bytecode.OpIeq:
		return v == 0
	case bytecode.OpIne:
		return v != 0
	case bytecode.OpIlt:
		return v < 0
	case bytecode.OpIle:
		return v <= 0
	case bytecode.OpIgt:
		return v > 0
	}
	return v >= 0
}

func (m *Machine) intOp(op bytecode.Opcode, a, b int32) (int32, error) {
	switch op {
	case bytecode.OpIand:
		return int32(boolWord(a != 0 && b != 0)), nil
	case bytecode.OpIor:
		return int32(boolWord(a != 0 || b != 0)), nil
	case bytecode.OpIadd:
		return a + b, nil
	case bytecode.OpIsub:
		return a - b, nil
	case bytecode.OpImul:
		return a * b, nil
	}
	if b == 0 && m.guards {
		return 0, ErrDivideByZero
	}
	if op == bytecode.OpIdiv {
		return a / b, nil
	}
	return a % b, nil
}

func floatOp(op bytecode.Opcode, a, b float32) bytecode.Word {
	switch op {
	case bytecode.OpFadd:
		return fword(a + b)
	case bytecode.OpFsub:
		return fword(a - b)
	case bytecode.OpFmul:
		return fword(a * b)
	case bytecode.OpFdiv:
		return fword(a / b)
	}
	switch {
	case a < b:
		return bytecode.Word(math.MaxUint32) // -1
	case a > b:
		return 1
	}
	return 0
}

// system runs a sys instruction; every code but exit pops its operand.
func (m *Machine) system(code bytecode.SysCode) error {
	if code == bytecode.SysExit {
		m.state = Halted
		return nil
	}
	if code > bytecode.SysSleep {
		return fmt.Errorf("%w: %d", ErrUnknownSysCode, code)
	}
	v, err := m.pop()
	if err != nil {
		return err
	}
	switch code {
	case bytecode.SysPrintC:
		_, err = m.opts.Out.Write([]byte{byte(v)})
	case bytecode.SysPrintI:
		_, err = fmt.Fprintf(m.opts.Out, "%d\n", int32(v))
	case bytecode.SysPrintF:
		_, err = fmt.Fprintf(m.opts.Out, "%f", f32(v))
	case bytecode.SysSleep:
		m.opts.Sleep(time.Duration(v) * time.Millisecond)
	}
	return err
}

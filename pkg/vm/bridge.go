package vm

import (
	"fmt"
	"math"
	"reflect"

	"github.com/xplshn/tyro/pkg/bytecode"
)

// nativeStack stands in for the machine stack a native call frame lives on.
// Arguments are pushed before the handle runs and released by whichever side
// the function's cleanup convention names.
type nativeStack struct {
	words []bytecode.Word
	limit int
}

func (n *nativeStack) push(args []bytecode.Word) error {
	if len(n.words)+len(args) > n.limit {
		return fmt.Errorf("%w: %d words exceed the limit of %d", ErrNativeStack, len(n.words)+len(args), n.limit)
	}
	n.words = append(n.words, args...)
	return nil
}

func (n *nativeStack) release(count int) error {
	if count > len(n.words) {
		return fmt.Errorf("%w: releasing %d of %d words", ErrNativeStack, count, len(n.words))
	}
	n.words = n.words[:len(n.words)-count]
	return nil
}

func (n *nativeStack) depth() int { return len(n.words) }

// call pops fn.ParamCount operands, invokes the handle with them in source
// order and pushes its result, or 0 for functions that return nothing.
func (m *Machine) call(fn *bytecode.Function) error {
	if fn == nil || fn.Handle == nil {
		return ErrUnlinked
	}
	pc := fn.ParamCount
	if m.guards && m.sp < pc {
		return ErrStackUnderflow
	}
	args := make([]bytecode.Word, pc)
	copy(args, m.stack[m.sp-pc:m.sp])
	m.sp -= pc

	depth := m.native.depth()
	if err := m.native.push(args); err != nil {
		return err
	}

	r, err := m.thunk(fn, args)
	if err != nil {
		return err
	}
	if !fn.CalleePopsParams {
		if err := m.native.release(pc); err != nil {
			return err
		}
	}
	if m.native.depth() != depth {
		return fmt.Errorf("%w: '%s' left %d words behind", ErrNativeStack, fn.Name, m.native.depth()-depth)
	}

	if fn.ReturnCount == 0 {
		r = 0
	}
	return m.push(r)
}

// thunk runs the handle and, for callee-cleanup functions, releases the
// argument frame before returning.
func (m *Machine) thunk(fn *bytecode.Function, args []bytecode.Word) (bytecode.Word, error) {
	r := invoke(fn.Handle, args)
	if fn.CalleePopsParams {
		if err := m.native.release(len(args)); err != nil {
			return 0, err
		}
	}
	return r, nil
}

func invoke(handle any, args []bytecode.Word) bytecode.Word {
	switch h := handle.(type) {
	case bytecode.NativeFunc:
		return h(args)
	case func([]bytecode.Word) bytecode.Word:
		return h(args)
	}

	v := reflect.ValueOf(handle)
	t := v.Type()
	in := make([]reflect.Value, len(args))
	for i, w := range args {
		in[i] = wordToValue(w, t.In(i))
	}
	out := v.Call(in)
	if len(out) == 0 {
		return 0
	}
	return valueToWord(out[0])
}

// wordToValue converts by the parameter kind: signed kinds sign-extend,
// float kinds read the word as float32 bits.
func wordToValue(w bytecode.Word, t reflect.Type) reflect.Value {
	v := reflect.New(t).Elem()
	switch t.Kind() {
	case reflect.Bool:
		v.SetBool(w != 0)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		v.SetInt(int64(int32(w)))
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		v.SetUint(uint64(w))
	case reflect.Float32, reflect.Float64:
		v.SetFloat(float64(math.Float32frombits(uint32(w))))
	}
	return v
}

func valueToWord(v reflect.Value) bytecode.Word {
	switch v.Kind() {
	case reflect.Bool:
		if v.Bool() {
			return 1
		}
		return 0
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return bytecode.Word(uint32(v.Int()))
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return bytecode.Word(uint32(v.Uint()))
	case reflect.Float32, reflect.Float64:
		return bytecode.Word(math.Float32bits(float32(v.Float())))
	}
	return 0
}

package bytecode

import (
	"fmt"
	"reflect"
)

// NativeFunc is the fast-path handle shape: arguments arrive in source order.
type NativeFunc func(args []Word) Word

// Function describes a native function callable from bytecode.
//
// Handle is either a NativeFunc (or an unnamed func([]Word) Word) or any Go
// function whose parameters and single optional result are integer, float or
// bool kinds. CalleePopsParams selects who releases the native argument frame:
// the callee (true) or the calling bridge after the call returns (false).
type Function struct {
	Name             string
	Handle           any
	ParamCount       int
	ReturnCount      int
	CalleePopsParams bool
}

func NewFunction(name string, handle any, paramCount, returnCount int, calleePopsParams bool) (*Function, error) {
	fn := &Function{
		Name:             name,
		Handle:           handle,
		ParamCount:       paramCount,
		ReturnCount:      returnCount,
		CalleePopsParams: calleePopsParams,
	}
	if err := fn.Validate(); err != nil {
		return nil, err
	}
	return fn, nil
}

// MustFunction is NewFunction for static tables.
func MustFunction(name string, handle any, paramCount, returnCount int, calleePopsParams bool) *Function {
	fn, err := NewFunction(name, handle, paramCount, returnCount, calleePopsParams)
	if err != nil {
		panic(err)
	}
	return fn
}

// Validate checks the descriptor against the shape of its handle.
func (f *Function) Validate() error {
	if f.Name == "" {
		return fmt.Errorf("native function has no name")
	}
	if f.ParamCount < 0 {
		return fmt.Errorf("'%s': negative parameter count %d", f.Name, f.ParamCount)
	}
	if f.ReturnCount != 0 && f.ReturnCount != 1 {
		return fmt.Errorf("'%s': return count must be 0 or 1, got %d", f.Name, f.ReturnCount)
	}
	switch f.Handle.(type) {
	case nil:
		return fmt.Errorf("'%s': missing handle", f.Name)
	case NativeFunc, func([]Word) Word:
		return nil
	}

	t := reflect.TypeOf(f.Handle)
	if t.Kind() != reflect.Func {
		return fmt.Errorf("'%s': handle is %s, not a function", f.Name, t)
	}
	if t.IsVariadic() {
		return fmt.Errorf("'%s': variadic handles are not supported", f.Name)
	}
	if t.NumIn() != f.ParamCount {
		return fmt.Errorf("'%s': handle takes %d parameters, descriptor says %d", f.Name, t.NumIn(), f.ParamCount)
	}
	for i := 0; i < t.NumIn(); i++ {
		if !IsWordKind(t.In(i).Kind()) {
			return fmt.Errorf("'%s': parameter %d has unsupported type %s", f.Name, i+1, t.In(i))
		}
	}
	switch {
	case t.NumOut() > 1:
		return fmt.Errorf("'%s': handle returns %d values", f.Name, t.NumOut())
	case t.NumOut() == 1 && !IsWordKind(t.Out(0).Kind()):
		return fmt.Errorf("'%s': result has unsupported type %s", f.Name, t.Out(0))
	case t.NumOut() == 0 && f.ReturnCount == 1:
		return fmt.Errorf("'%s': descriptor returns a value but the handle does not", f.Name)
	}
	return nil
}

// IsWordKind reports whether values of kind k convert to and from a Word.
func IsWordKind(k reflect.Kind) bool {
	switch k {
	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}

package interp

import (
	stderrors "errors"
	"fmt"

	"github.com/scottag99/glowroot/internal/runtime/flow"
	"github.com/scottag99/glowroot/internal/weaving/code"
)

// ErrVM reports malformed code found during execution. Unlike throwables it
// is never caught by handler tables.
var ErrVM = stderrors.New("invalid code")

// Thread executes methods. A thread is used by one goroutine at a time.
type Thread struct {
	rt    *Runtime
	Flow  flow.Store
	depth int
}

// Runtime returns the runtime the thread belongs to.
func (t *Thread) Runtime() *Runtime {
	return t.rt
}

// New instantiates c and runs its constructor taking len(args) arguments.
func (t *Thread) New(c *Class, args ...Value) (*Object, error) {
	obj := &Object{Class: c, Fields: c.fieldDefaults()}
	ctor := c.findByName(code.Constructor, len(args))
	if ctor == nil {
		if len(args) > 0 {
			return nil, fmt.Errorf("%s: no constructor taking %d arguments", c.Name(), len(args))
		}
		return obj, nil
	}
	if _, err := t.invoke(ctor, obj, args); err != nil {
		return nil, err
	}
	return obj, nil
}

// Call invokes the instance method name on obj with virtual dispatch.
func (t *Thread) Call(obj *Object, name string, args ...Value) (Value, error) {
	m := obj.Class.findByName(name, len(args))
	if m == nil {
		return nil, fmt.Errorf("%s.%s/%d: method not found", obj.Class.Name(), name, len(args))
	}
	return t.invoke(m, obj, args)
}

// CallStatic invokes the static method name of c.
func (t *Thread) CallStatic(c *Class, name string, args ...Value) (Value, error) {
	m := c.findByName(name, len(args))
	if m == nil || !m.IsStatic() {
		return nil, fmt.Errorf("%s.%s/%d: static method not found", c.Name(), name, len(args))
	}
	return t.invoke(m, nil, args)
}

func (t *Thread) invoke(m *method, self Value, args []Value) (Value, error) {
	if t.depth >= t.rt.MaxDepth {
		return nil, NewThrowable(StackOverflowType, m.owner.Name()+"."+m.Name)
	}
	t.depth++
	defer func() { t.depth-- }()
	if len(m.Code) == 0 {
		return nil, fmt.Errorf("%w: %s.%s has no body", ErrVM, m.owner.Name(), m.Key())
	}
	return t.exec(m, self, args)
}

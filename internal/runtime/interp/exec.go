package interp

import (
	stderrors "errors"
	"fmt"

	"github.com/scottag99/glowroot/internal/weaving/code"
)

// Throwable types raised by the interpreter itself.
const (
	NullPointerType  = "NullPointerException"
	NoSuchMethodType = "NoSuchMethodError"
	NoClassDefType   = "NoClassDefFoundError"
	ClassCastType    = "ClassCastException"
)

// frame is the state of one executing method.
type frame struct {
	m      *method
	locals []Value
	stack  []Value
}

func (f *frame) push(v Value) {
	f.stack = append(f.stack, v)
}

func (f *frame) pop() (Value, error) {
	if len(f.stack) == 0 {
		return nil, fmt.Errorf("%w: stack underflow in %s.%s", ErrVM, f.m.owner.Name(), f.m.Key())
	}
	v := f.stack[len(f.stack)-1]
	f.stack = f.stack[:len(f.stack)-1]
	return v, nil
}

func (f *frame) popN(n int) ([]Value, error) {
	if len(f.stack) < n {
		return nil, fmt.Errorf("%w: stack underflow in %s.%s", ErrVM, f.m.owner.Name(), f.m.Key())
	}
	vals := append([]Value(nil), f.stack[len(f.stack)-n:]...)
	f.stack = f.stack[:len(f.stack)-n]
	return vals, nil
}

func (t *Thread) exec(m *method, self Value, args []Value) (Value, error) {
	size := m.MaxLocals
	if size < m.ArgSlots() {
		size = m.ArgSlots()
	}
	f := &frame{m: m, locals: make([]Value, size)}
	slot := 0
	if !m.IsStatic() {
		f.locals[0] = self
		slot = 1
	}
	copy(f.locals[slot:], args)

	body := m.Code
	pc := 0
	for pc < len(body) {
		at := pc
		in := body[pc]
		pc++

		ret, done, err := t.step(f, in, &pc)
		if err == nil {
			if done {
				return ret, nil
			}
			continue
		}

		var thrown *Throwable
		if !stderrors.As(err, &thrown) {
			return nil, err
		}
		target, ok := t.handlerFor(m, at, thrown)
		if !ok {
			return nil, thrown
		}
		f.stack = append(f.stack[:0], thrown)
		pc = target
	}
	return nil, fmt.Errorf("%w: %s.%s falls off the end", ErrVM, m.owner.Name(), m.Key())
}

// handlerFor returns the position of the first handler covering position
// at whose catch type matches thrown.
func (t *Thread) handlerFor(m *method, at int, thrown *Throwable) (int, bool) {
	for _, h := range m.Handlers {
		start, ok1 := m.labels[h.Start]
		end, ok2 := m.labels[h.End]
		if !ok1 || !ok2 || at < start || at >= end {
			continue
		}
		if !t.catches(m.owner.loader, h.CatchType, thrown) {
			continue
		}
		return m.labels[h.Target], true
	}
	return 0, false
}

func (t *Thread) catches(l *Loader, catchType string, thrown *Throwable) bool {
	switch catchType {
	case "", ThrowableType:
		return true
	case thrown.Type:
		return true
	case code.MarkerType:
		return thrown.IsMarker()
	}
	c, err := l.LoadClass(thrown.Type)
	return err == nil && c.Implements(catchType)
}

// step executes one instruction. done is set when the method returns.
func (t *Thread) step(f *frame, in code.Instruction, pc *int) (ret Value, done bool, err error) {
	switch in.Op {
	case code.OpNop, code.OpLabel:

	case code.OpConst:
		f.push(constValue(in.Const))
	case code.OpNull:
		f.push(nil)
	case code.OpLoad:
		f.push(f.locals[in.Index])
	case code.OpStore:
		v, err := f.pop()
		if err != nil {
			return nil, false, err
		}
		f.locals[in.Index] = v

	case code.OpPop:
		_, err = f.pop()
		return nil, false, err
	case code.OpDup:
		v, err := f.pop()
		if err != nil {
			return nil, false, err
		}
		f.push(v)
		f.push(v)
	case code.OpSwap:
		vals, err := f.popN(2)
		if err != nil {
			return nil, false, err
		}
		f.push(vals[1])
		f.push(vals[0])

	case code.OpAdd, code.OpSub, code.OpMul, code.OpLt, code.OpEq:
		vals, err := f.popN(2)
		if err != nil {
			return nil, false, err
		}
		v, err := binary(in.Op, vals[0], vals[1])
		if err != nil {
			return nil, false, err
		}
		f.push(v)
	case code.OpNot:
		v, err := f.pop()
		if err != nil {
			return nil, false, err
		}
		f.push(!truthy(v))

	case code.OpJump:
		*pc = f.m.labels[in.Label]
	case code.OpJumpIfTrue, code.OpJumpIfFalse:
		v, err := f.pop()
		if err != nil {
			return nil, false, err
		}
		if truthy(v) == (in.Op == code.OpJumpIfTrue) {
			*pc = f.m.labels[in.Label]
		}

	case code.OpNew:
		c, th := t.loadClass(f, in.Owner)
		if th != nil {
			return nil, false, th
		}
		f.push(&Object{Class: c, Fields: c.fieldDefaults()})
	case code.OpGetField:
		v, err := f.pop()
		if err != nil {
			return nil, false, err
		}
		obj, th := asObject(v)
		if th != nil {
			return nil, false, th
		}
		f.push(obj.Fields[in.Name])
	case code.OpPutField:
		vals, err := f.popN(2)
		if err != nil {
			return nil, false, err
		}
		obj, th := asObject(vals[0])
		if th != nil {
			return nil, false, th
		}
		obj.Fields[in.Name] = vals[1]

	case code.OpInvokeVirtual, code.OpInvokeSpecial, code.OpInvokeStatic:
		return nil, false, t.invokeInstruction(f, in)

	case code.OpInvokeHook:
		args, err := f.popN(in.Hook.Argc)
		if err != nil {
			return nil, false, err
		}
		fn, ok := t.rt.hooks.Lookup(in.Hook.Ref)
		if !ok {
			return nil, false, NewThrowable(AdviceErrorType, "hook "+in.Hook.Ref+" is not registered")
		}
		v, err := fn(t, args)
		if err != nil {
			return nil, false, asThrowable(err)
		}
		if in.Hook.Returns {
			f.push(v)
		}

	case code.OpNewArray:
		elems, err := f.popN(in.Index)
		if err != nil {
			return nil, false, err
		}
		f.push(&Array{Elems: elems})
	case code.OpTypeRef:
		f.push(TypeRef{Name: in.Owner})

	case code.OpNewThrowable:
		v, err := f.pop()
		if err != nil {
			return nil, false, err
		}
		msg, _ := v.(string)
		f.push(NewThrowable(in.Owner, msg))
	case code.OpThrow:
		v, err := f.pop()
		if err != nil {
			return nil, false, err
		}
		th, ok := v.(*Throwable)
		if !ok {
			if v == nil {
				return nil, false, NewThrowable(NullPointerType, "throw null")
			}
			return nil, false, NewThrowable(ClassCastType, FormatValue(v)+" is not throwable")
		}
		return nil, false, th
	case code.OpMarkerWrap:
		v, err := f.pop()
		if err != nil {
			return nil, false, err
		}
		th, _ := v.(*Throwable)
		f.push(&Throwable{Type: code.MarkerType, Cause: th})
	case code.OpMarkerUnwrap:
		v, err := f.pop()
		if err != nil {
			return nil, false, err
		}
		th, _ := v.(*Throwable)
		if th == nil || !th.IsMarker() {
			return nil, false, fmt.Errorf("%w: unwrapping a value that is not a marker", ErrVM)
		}
		f.push(th.Cause)

	case code.OpFlowGet:
		f.push(t.Flow.Get(in.Name))
	case code.OpFlowSet:
		v, err := f.pop()
		if err != nil {
			return nil, false, err
		}
		t.Flow.Set(in.Name, truthy(v))

	case code.OpOptionalReturn:
		if in.Index == 0 {
			f.push(Optional{Void: true})
			break
		}
		v, err := f.pop()
		if err != nil {
			return nil, false, err
		}
		f.push(Optional{Value: v})

	case code.OpReturn:
		return nil, true, nil
	case code.OpReturnValue:
		v, err := f.pop()
		if err != nil {
			return nil, false, err
		}
		return v, true, nil

	default:
		return nil, false, fmt.Errorf("%w: unknown opcode %s", ErrVM, in.Op)
	}
	return nil, false, nil
}

func (t *Thread) invokeInstruction(f *frame, in code.Instruction) error {
	args, err := f.popN(len(in.Desc.Params))
	if err != nil {
		return err
	}
	key := code.MethodKey(in.Name, in.Desc.Params, in.Desc.Return)

	var (
		self   Value
		target *method
	)
	switch in.Op {
	case code.OpInvokeStatic:
		c, th := t.loadClass(f, in.Owner)
		if th != nil {
			return th
		}
		target = c.findMethod(key)

	case code.OpInvokeSpecial:
		if self, err = f.pop(); err != nil {
			return err
		}
		if in.Owner == code.RootType || in.Owner == "" {
			// the root constructor does nothing
			if in.Name == code.Constructor {
				return nil
			}
			return NewThrowable(NoSuchMethodType, in.Owner+"."+key)
		}
		c, th := t.loadClass(f, in.Owner)
		if th != nil {
			return th
		}
		target = c.findMethod(key)
		if target == nil && in.Name == code.Constructor && len(in.Desc.Params) == 0 {
			return nil
		}

	default:
		if self, err = f.pop(); err != nil {
			return err
		}
		obj, th := asObject(self)
		if th != nil {
			return th
		}
		target = obj.Class.findMethod(key)
	}

	if target == nil {
		return NewThrowable(NoSuchMethodType, in.Owner+"."+key)
	}
	v, err := t.invoke(target, self, args)
	if err != nil {
		return err
	}
	if in.Desc.Return != code.Void {
		f.push(v)
	}
	return nil
}

func (t *Thread) loadClass(f *frame, name string) (*Class, *Throwable) {
	c, err := f.m.owner.loader.LoadClass(name)
	if err != nil {
		return nil, NewThrowable(NoClassDefType, err.Error())
	}
	return c, nil
}

func asObject(v Value) (*Object, *Throwable) {
	obj, ok := v.(*Object)
	if !ok {
		if v == nil {
			return nil, NewThrowable(NullPointerType, "")
		}
		return nil, NewThrowable(ClassCastType, FormatValue(v)+" is not an object")
	}
	return obj, nil
}

func truthy(v Value) bool {
	switch x := v.(type) {
	case bool:
		return x
	case int64:
		return x != 0
	case nil:
		return false
	default:
		return true
	}
}

func binary(op code.Opcode, a, b Value) (Value, error) {
	if op == code.OpEq {
		return a == b, nil
	}
	switch x := a.(type) {
	case int64:
		y, ok := b.(int64)
		if !ok {
			break
		}
		switch op {
		case code.OpAdd:
			return x + y, nil
		case code.OpSub:
			return x - y, nil
		case code.OpMul:
			return x * y, nil
		case code.OpLt:
			return x < y, nil
		}
	case float64:
		y, ok := b.(float64)
		if !ok {
			break
		}
		switch op {
		case code.OpAdd:
			return x + y, nil
		case code.OpSub:
			return x - y, nil
		case code.OpMul:
			return x * y, nil
		case code.OpLt:
			return x < y, nil
		}
	case string:
		if op == code.OpAdd {
			return x + fmt.Sprint(b), nil
		}
	}
	return nil, fmt.Errorf("%w: %s on %T and %T", ErrVM, op, a, b)
}

// Package interp is a reference runtime for compiled units. It loads units
// through loaders that pass their bytes to a transform hook, and executes
// method bodies, including the exception handler tables and marker
// instructions produced by the weaver.
package interp

import (
	"fmt"
	"strings"

	"github.com/scottag99/glowroot/internal/weaving/code"
)

// Value is any runtime value: nil, int64, float64, bool, string, *Object,
// *Array, *Throwable, TypeRef or Optional.
type Value any

// Object is an instance of a loaded class.
type Object struct {
	Class  *Class
	Fields map[string]Value
}

func (o *Object) String() string {
	return o.Class.Name() + "@" + fmt.Sprintf("%p", o)
}

// Array is a fixed list of values.
type Array struct {
	Elems []Value
}

// TypeRef stands for a type where no instance exists, such as the target
// of a static method.
type TypeRef struct {
	Name string
}

// Optional is the value bound by OPTIONAL_RETURN. Void is set when the
// method returned nothing.
type Optional struct {
	Value Value
	Void  bool
}

// Throwable is a thrown value. It implements error so that Go callers and
// hooks can return it directly.
type Throwable struct {
	Type    string
	Message string
	Cause   *Throwable
}

// AdviceErrorType is the type of throwables made from plain hook errors.
const AdviceErrorType = "glowroot.AdviceError"

// StackOverflowType is thrown when the call depth limit is exceeded.
const StackOverflowType = "StackOverflowError"

// NewThrowable creates a throwable of the given type.
func NewThrowable(typ, msg string) *Throwable {
	return &Throwable{Type: typ, Message: msg}
}

func (t *Throwable) Error() string {
	if t.Message == "" {
		return t.Type
	}
	return t.Type + ": " + t.Message
}

// IsMarker reports whether t wraps an advice failure.
func (t *Throwable) IsMarker() bool {
	return t.Type == code.MarkerType
}

// FormatValue renders a value for logs and test output.
func FormatValue(v Value) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case string:
		return fmt.Sprintf("%q", x)
	case *Array:
		parts := make([]string, len(x.Elems))
		for i, e := range x.Elems {
			parts[i] = FormatValue(e)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case Optional:
		if x.Void {
			return "Optional(void)"
		}
		return "Optional(" + FormatValue(x.Value) + ")"
	case TypeRef:
		return "type " + x.Name
	default:
		return fmt.Sprint(x)
	}
}

// defaultValue returns the zero value of type t.
func defaultValue(t string) Value {
	switch code.Kind(t) {
	case code.KindInt:
		return int64(0)
	case code.KindFloat:
		return float64(0)
	case code.KindBool:
		return false
	default:
		return nil
	}
}

func constValue(c *code.Const) Value {
	switch c.Kind {
	case code.ConstInt:
		return c.Int
	case code.ConstFloat:
		return c.Float
	case code.ConstBool:
		return c.Bool
	default:
		return c.Str
	}
}

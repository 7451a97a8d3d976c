// Package code defines the compiled-unit format the weaver reads and writes:
// a class-like unit holding fields and methods whose bodies are a symbolic
// stack IR with label-based jumps and exception handler ranges.
package code

import (
	"fmt"
	"strings"
)

// FormatVersion is the current unit format version.
// Increment when making incompatible changes to the format.
const FormatVersion uint16 = 1

// RootType is the universal root of every type hierarchy. It is never
// represented by a Unit.
const RootType = "Object"

// Constructor is the name shared by all constructors.
const Constructor = "<init>"

// Void is the return type name of methods that return nothing.
const Void = "void"

// MarkerType is the catch type of handlers that intercept marker
// throwables produced by MARKER_WRAP.
const MarkerType = "glowroot.Marker"

// Access is a set of modifier flags on units, fields and methods.
type Access uint32

const (
	AccPublic       Access = 1 << 0
	AccPrivate      Access = 1 << 1
	AccProtected    Access = 1 << 2
	AccStatic       Access = 1 << 3
	AccFinal        Access = 1 << 4
	AccSynchronized Access = 1 << 5
	AccNative       Access = 1 << 6
	AccAbstract     Access = 1 << 7
	AccSynthetic    Access = 1 << 8
	AccInterface    Access = 1 << 9
)

var accessNames = []struct {
	flag Access
	name string
}{
	{AccPublic, "public"},
	{AccPrivate, "private"},
	{AccProtected, "protected"},
	{AccStatic, "static"},
	{AccFinal, "final"},
	{AccSynchronized, "synchronized"},
	{AccNative, "native"},
	{AccAbstract, "abstract"},
	{AccSynthetic, "synthetic"},
	{AccInterface, "interface"},
}

// Has reports whether all flags in f are set.
func (a Access) Has(f Access) bool {
	return a&f == f
}

func (a Access) String() string {
	parts := make([]string, 0, 4)
	for _, n := range accessNames {
		if a&n.flag != 0 {
			parts = append(parts, n.name)
		}
	}
	return strings.Join(parts, " ")
}

// ParseAccess converts a modifier keyword to its flag.
func ParseAccess(name string) (Access, bool) {
	for _, n := range accessNames {
		if n.name == name {
			return n.flag, true
		}
	}
	return 0, false
}

// Label identifies a position in a method body. Labels are allocated per
// method through Method.NewLabel and placed with an OpLabel instruction.
type Label int

// ConstKind discriminates the value held by a Const.
type ConstKind uint8

const (
	ConstInt ConstKind = iota
	ConstFloat
	ConstBool
	ConstString
)

// Const is an immediate value pushed by OpConst.
type Const struct {
	Kind  ConstKind `cbor:"1,keyasint"`
	Int   int64     `cbor:"2,keyasint,omitempty"`
	Float float64   `cbor:"3,keyasint,omitempty"`
	Bool  bool      `cbor:"4,keyasint,omitempty"`
	Str   string    `cbor:"5,keyasint,omitempty"`
}

func (c Const) String() string {
	switch c.Kind {
	case ConstInt:
		return fmt.Sprintf("%d", c.Int)
	case ConstFloat:
		return fmt.Sprintf("%g", c.Float)
	case ConstBool:
		return fmt.Sprintf("%t", c.Bool)
	default:
		return fmt.Sprintf("%q", c.Str)
	}
}

// Desc is the parameter and return types of a method reference.
type Desc struct {
	Params []string `cbor:"1,keyasint,omitempty"`
	Return string   `cbor:"2,keyasint"`
}

func (d Desc) String() string {
	return "(" + strings.Join(d.Params, ",") + ")" + d.Return
}

// HookRef names an advice hook invoked by OpInvokeHook.
type HookRef struct {
	Ref     string `cbor:"1,keyasint"`
	Argc    int    `cbor:"2,keyasint,omitempty"`
	Returns bool   `cbor:"3,keyasint,omitempty"`
}

// Instruction is one operation of a method body.
type Instruction struct {
	Op    Opcode   `cbor:"1,keyasint"`
	Index int      `cbor:"2,keyasint,omitempty"`
	Label Label    `cbor:"3,keyasint,omitempty"`
	Const *Const   `cbor:"4,keyasint,omitempty"`
	Owner string   `cbor:"5,keyasint,omitempty"`
	Name  string   `cbor:"6,keyasint,omitempty"`
	Desc  *Desc    `cbor:"7,keyasint,omitempty"`
	Hook  *HookRef `cbor:"8,keyasint,omitempty"`
}

// Handler routes throwables raised between Start (inclusive) and End
// (exclusive) to Target when they match CatchType. An empty CatchType
// catches everything.
type Handler struct {
	Start     Label  `cbor:"1,keyasint"`
	End       Label  `cbor:"2,keyasint"`
	Target    Label  `cbor:"3,keyasint"`
	CatchType string `cbor:"4,keyasint,omitempty"`
}

// LocalVar is debug information naming a local slot over a label range.
type LocalVar struct {
	Name  string `cbor:"1,keyasint"`
	Type  string `cbor:"2,keyasint"`
	Index int    `cbor:"3,keyasint"`
	Start Label  `cbor:"4,keyasint"`
	End   Label  `cbor:"5,keyasint"`
}

// Field is a field declared by a unit.
type Field struct {
	Access Access `cbor:"1,keyasint,omitempty"`
	Name   string `cbor:"2,keyasint"`
	Type   string `cbor:"3,keyasint"`
}

// Method is a method declared by a unit.
type Method struct {
	Access     Access        `cbor:"1,keyasint,omitempty"`
	Name       string        `cbor:"2,keyasint"`
	Params     []string      `cbor:"3,keyasint,omitempty"`
	Return     string        `cbor:"4,keyasint"`
	Signature  string        `cbor:"5,keyasint,omitempty"`
	Exceptions []string      `cbor:"6,keyasint,omitempty"`
	MaxLocals  int           `cbor:"7,keyasint,omitempty"`
	Labels     int           `cbor:"8,keyasint,omitempty"`
	Code       []Instruction `cbor:"9,keyasint,omitempty"`
	Handlers   []Handler     `cbor:"10,keyasint,omitempty"`
	Locals     []LocalVar    `cbor:"11,keyasint,omitempty"`
}

// IsStatic reports whether the method has no receiver.
func (m *Method) IsStatic() bool {
	return m.Access&AccStatic != 0
}

// IsConstructor reports whether the method is a constructor.
func (m *Method) IsConstructor() bool {
	return m.Name == Constructor
}

// Desc returns the method's descriptor.
func (m *Method) Desc() Desc {
	return Desc{Params: append([]string(nil), m.Params...), Return: m.Return}
}

// Key identifies a method within its unit by name and descriptor.
func (m *Method) Key() string {
	return MethodKey(m.Name, m.Params, m.Return)
}

// MethodKey builds the identity key used for method lookup and override
// resolution.
func MethodKey(name string, params []string, ret string) string {
	return name + "(" + strings.Join(params, ",") + ")" + ret
}

// ArgSlot returns the local slot holding argument i.
func (m *Method) ArgSlot(i int) int {
	if m.IsStatic() {
		return i
	}
	return i + 1
}

// ArgSlots returns the number of local slots taken by the receiver and
// arguments.
func (m *Method) ArgSlots() int {
	return m.ArgSlot(len(m.Params))
}

// NewLabel allocates a fresh label.
func (m *Method) NewLabel() Label {
	m.Labels++
	return Label(m.Labels)
}

// NewLocal allocates a fresh local slot.
func (m *Method) NewLocal() int {
	if m.MaxLocals < m.ArgSlots() {
		m.MaxLocals = m.ArgSlots()
	}
	slot := m.MaxLocals
	m.MaxLocals++
	return slot
}

// Clone returns a deep copy of the method.
func (m *Method) Clone() *Method {
	c := *m
	c.Params = append([]string(nil), m.Params...)
	c.Exceptions = append([]string(nil), m.Exceptions...)
	c.Code = make([]Instruction, len(m.Code))
	for i, in := range m.Code {
		c.Code[i] = in.clone()
	}
	c.Handlers = append([]Handler(nil), m.Handlers...)
	c.Locals = append([]LocalVar(nil), m.Locals...)
	return &c
}

func (in Instruction) clone() Instruction {
	if in.Const != nil {
		k := *in.Const
		in.Const = &k
	}
	if in.Desc != nil {
		d := Desc{Params: append([]string(nil), in.Desc.Params...), Return: in.Desc.Return}
		in.Desc = &d
	}
	if in.Hook != nil {
		h := *in.Hook
		in.Hook = &h
	}
	return in
}

// Unit is one compiled program unit: the thing a loader defines.
type Unit struct {
	Version    uint16    `cbor:"1,keyasint"`
	Access     Access    `cbor:"2,keyasint,omitempty"`
	Name       string    `cbor:"3,keyasint"`
	Super      string    `cbor:"4,keyasint,omitempty"`
	Interfaces []string  `cbor:"5,keyasint,omitempty"`
	Fields     []Field   `cbor:"6,keyasint,omitempty"`
	Methods    []*Method `cbor:"7,keyasint,omitempty"`
}

// NewUnit creates an empty unit with the current format version.
func NewUnit(name, super string, interfaces ...string) *Unit {
	return &Unit{
		Version:    FormatVersion,
		Name:       name,
		Super:      super,
		Interfaces: interfaces,
	}
}

// IsInterface reports whether the unit declares an interface.
func (u *Unit) IsInterface() bool {
	return u.Access&AccInterface != 0
}

// SuperName returns the supertype name, or "" when the supertype is the
// root type.
func (u *Unit) SuperName() string {
	if u.Super == RootType {
		return ""
	}
	return u.Super
}

// Method returns the method with the given name and descriptor.
func (u *Unit) Method(name string, params []string, ret string) *Method {
	key := MethodKey(name, params, ret)
	for _, m := range u.Methods {
		if m.Key() == key {
			return m
		}
	}
	return nil
}

// Clone returns a deep copy of the unit.
func (u *Unit) Clone() *Unit {
	c := *u
	c.Interfaces = append([]string(nil), u.Interfaces...)
	c.Fields = append([]Field(nil), u.Fields...)
	c.Methods = make([]*Method, len(u.Methods))
	for i, m := range u.Methods {
		c.Methods[i] = m.Clone()
	}
	return &c
}

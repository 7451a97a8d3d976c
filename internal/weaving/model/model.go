// Package model holds the immutable structural descriptors the weaver
// matches against: one TypeDescriptor per analyzed unit, with the
// MethodDescriptors of its weavable members.
package model

import (
	"strings"

	"github.com/scottag99/glowroot/internal/weaving/code"
)

// MethodDescriptor describes one weavable method.
type MethodDescriptor struct {
	Name       string
	Args       []string
	Return     string
	Access     code.Access
	Signature  string
	Exceptions []string
}

// Key is the method identity: name, argument types and return type.
func (m *MethodDescriptor) Key() string {
	return code.MethodKey(m.Name, m.Args, m.Return)
}

// IsFinal reports whether the method cannot be overridden.
func (m *MethodDescriptor) IsFinal() bool {
	return m.Access&code.AccFinal != 0
}

// IsAbstract reports whether the method has no body.
func (m *MethodDescriptor) IsAbstract() bool {
	return m.Access&code.AccAbstract != 0
}

func (m *MethodDescriptor) String() string {
	return m.Name + "(" + strings.Join(m.Args, ", ") + ") " + m.Return
}

// TypeDescriptor describes one analyzed unit. It is never mutated after
// Build returns.
type TypeDescriptor struct {
	name       string
	super      string
	interfaces []string
	methods    []*MethodDescriptor
	iface      bool
	reweavable bool
}

// Name returns the type's name.
func (t *TypeDescriptor) Name() string { return t.name }

// Super returns the supertype name, or "" when the supertype is the root.
func (t *TypeDescriptor) Super() string { return t.super }

// Interfaces returns the directly implemented interfaces in declaration
// order.
func (t *TypeDescriptor) Interfaces() []string { return t.interfaces }

// Methods returns the weavable methods in declaration order.
func (t *TypeDescriptor) Methods() []*MethodDescriptor { return t.methods }

// IsInterface reports whether the type is an interface.
func (t *TypeDescriptor) IsInterface() bool { return t.iface }

// HasReweavableAdvice reports whether advice marked reweavable was woven
// into the type.
func (t *TypeDescriptor) HasReweavableAdvice() bool { return t.reweavable }

// Method returns the method with the given identity.
func (t *TypeDescriptor) Method(name string, args []string, ret string) *MethodDescriptor {
	key := code.MethodKey(name, args, ret)
	for _, m := range t.methods {
		if m.Key() == key {
			return m
		}
	}
	return nil
}

// WithReweavable returns a copy of t carrying the given reweavable flag.
func (t *TypeDescriptor) WithReweavable(v bool) *TypeDescriptor {
	c := *t
	c.reweavable = v
	return &c
}

// Builder accumulates a TypeDescriptor during a single pass over a unit.
type Builder struct {
	td    TypeDescriptor
	built bool
}

// NewBuilder starts a descriptor for the named type.
func NewBuilder(name string) *Builder {
	return &Builder{td: TypeDescriptor{name: name}}
}

// Super records the supertype. The root type is recorded as absent.
func (b *Builder) Super(name string) *Builder {
	if name == code.RootType {
		name = ""
	}
	b.td.super = name
	return b
}

// Interface appends a directly implemented interface.
func (b *Builder) Interface(name string) *Builder {
	b.td.interfaces = append(b.td.interfaces, name)
	return b
}

// IsInterface sets the interface flag.
func (b *Builder) IsInterface(v bool) *Builder {
	b.td.iface = v
	return b
}

// Reweavable sets the has-reweavable-advice flag.
func (b *Builder) Reweavable(v bool) *Builder {
	b.td.reweavable = v
	return b
}

// Method appends a method unless it is native or synthetic.
func (b *Builder) Method(m *MethodDescriptor) *Builder {
	if m.Access&(code.AccNative|code.AccSynthetic) != 0 {
		return b
	}
	b.td.methods = append(b.td.methods, m)
	return b
}

// Build returns the finished descriptor. The builder must not be reused.
func (b *Builder) Build() *TypeDescriptor {
	if b.built {
		panic("model: builder reused after Build")
	}
	b.built = true
	td := b.td
	return &td
}

// Analyze builds the descriptor of a unit in one pass over its header and
// method table. It returns nil for the root type.
func Analyze(u *code.Unit) *TypeDescriptor {
	if u.Name == code.RootType {
		return nil
	}
	b := NewBuilder(u.Name).
		Super(u.Super).
		IsInterface(u.IsInterface())
	for _, iface := range u.Interfaces {
		b.Interface(iface)
	}
	for _, m := range u.Methods {
		b.Method(Describe(m))
	}
	return b.Build()
}

// Describe builds the descriptor of a single method.
func Describe(m *code.Method) *MethodDescriptor {
	return &MethodDescriptor{
		Name:       m.Name,
		Args:       append([]string(nil), m.Params...),
		Return:     m.Return,
		Access:     m.Access,
		Signature:  m.Signature,
		Exceptions: append([]string(nil), m.Exceptions...),
	}
}

package interp

import (
	"sync/atomic"

	"github.com/scottag99/glowroot/internal/weaving/code"
)

// ThrowableType is the catch type matching every throwable.
const ThrowableType = "Throwable"

// Class is a defined unit. Its method bodies can be swapped by
// Retransform while other threads execute it.
type Class struct {
	name     string
	super    *Class
	loader   *Loader
	original []byte

	body atomic.Pointer[classBody]
}

type classBody struct {
	unit    *code.Unit
	methods map[string]*method
}

// method is a method body prepared for execution.
type method struct {
	*code.Method
	owner  *Class
	labels map[code.Label]int
}

func newClass(u *code.Unit, super *Class, l *Loader, original []byte) *Class {
	c := &Class{name: u.Name, super: super, loader: l, original: original}
	c.replace(u)
	return c
}

func (c *Class) replace(u *code.Unit) {
	b := &classBody{unit: u, methods: make(map[string]*method, len(u.Methods))}
	for _, m := range u.Methods {
		pm := &method{Method: m, owner: c, labels: make(map[code.Label]int)}
		for i, in := range m.Code {
			if in.Op == code.OpLabel {
				pm.labels[in.Label] = i
			}
		}
		b.methods[m.Key()] = pm
	}
	c.body.Store(b)
}

// Name returns the class name.
func (c *Class) Name() string { return c.name }

// Super returns the superclass, nil when it is the root type.
func (c *Class) Super() *Class { return c.super }

// Loader returns the defining loader.
func (c *Class) Loader() *Loader { return c.loader }

// Unit returns the unit as currently defined.
func (c *Class) Unit() *code.Unit { return c.body.Load().unit }

// findMethod resolves key on c and then its superclasses.
func (c *Class) findMethod(key string) *method {
	for k := c; k != nil; k = k.super {
		if m, ok := k.body.Load().methods[key]; ok {
			return m
		}
	}
	return nil
}

// findByName resolves the first method named name taking argc arguments.
func (c *Class) findByName(name string, argc int) *method {
	for k := c; k != nil; k = k.super {
		for _, m := range k.Unit().Methods {
			if m.Name == name && len(m.Params) == argc {
				return k.body.Load().methods[m.Key()]
			}
		}
	}
	return nil
}

// Implements reports whether c is name, extends it or implements it.
func (c *Class) Implements(name string) bool {
	for k := c; k != nil; k = k.super {
		if k.name == name {
			return true
		}
		for _, iface := range k.Unit().Interfaces {
			if iface == name {
				return true
			}
			if ic, err := k.loader.LoadClass(iface); err == nil && ic.Implements(name) {
				return true
			}
		}
	}
	return false
}

// fieldDefaults returns every instance field of c and its superclasses set
// to the zero value of its type.
func (c *Class) fieldDefaults() map[string]Value {
	fields := make(map[string]Value)
	for k := c; k != nil; k = k.super {
		for _, f := range k.Unit().Fields {
			if f.Access&code.AccStatic != 0 {
				continue
			}
			if _, ok := fields[f.Name]; !ok {
				fields[f.Name] = defaultValue(f.Type)
			}
		}
	}
	return fields
}

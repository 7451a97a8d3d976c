package weaver

import (
	"fmt"

	"github.com/scottag99/glowroot/internal/weaving/code"
	"github.com/scottag99/glowroot/internal/weaving/errors"
	"github.com/scottag99/glowroot/internal/weaving/mixin"
)

// template returns the member templates of d, decoding the implementation
// unit through the loader when no template is bound. d itself is shared and
// never modified.
func (x *transformation) template(d *mixin.Descriptor) (*code.Unit, error) {
	if d.Template != nil {
		return d.Template, nil
	}
	raw, err := x.loader.FindUnit(d.Implementation)
	if err != nil {
		return nil, fmt.Errorf("loading mixin implementation: %w", err)
	}
	u, err := code.Decode(raw)
	if err != nil {
		return nil, fmt.Errorf("decoding mixin implementation: %w", err)
	}
	return u, nil
}

// bindTemplates resolves the template of every matched mixin. A mixin whose
// implementation cannot be loaded is reported and not applied at all.
func (x *transformation) bindTemplates() {
	x.templates = make(map[string]*code.Unit, len(x.mixins))
	bound := x.mixins[:0:0]
	for _, d := range x.mixins {
		tmpl, err := x.template(d)
		if err != nil {
			x.report(errors.NewMixinImplementation(x.unit.Name, d.Implementation, err).WithSource(d.Source))
			continue
		}
		x.templates[d.Name] = tmpl
		bound = append(bound, d)
	}
	x.mixins = bound
}

// addInterfaces appends the interfaces contributed by the matched mixins,
// keeping declaration order and skipping those already implemented.
func (x *transformation) addInterfaces() {
	have := make(map[string]bool, len(x.unit.Interfaces))
	for _, i := range x.unit.Interfaces {
		have[i] = true
	}
	for _, d := range x.mixins {
		for _, i := range d.Interfaces {
			if have[i] {
				continue
			}
			have[i] = true
			x.unit.Interfaces = append(x.unit.Interfaces, i)
		}
	}
}

// addMembers copies the fields and methods of every mixin template into the
// unit. References to the template type are remapped to the unit.
func (x *transformation) addMembers() {
	for _, d := range x.mixins {
		tmpl := x.templates[d.Name]
		for _, f := range tmpl.Fields {
			if x.hasField(f.Name) {
				x.report(errors.NewMixinMemberConflict(x.unit.Name, f.Name).WithSource(d.Source))
				continue
			}
			f.Type = remapType(f.Type, tmpl.Name, x.unit.Name)
			x.unit.Fields = append(x.unit.Fields, f)
		}
		for _, m := range tmpl.Methods {
			if m.IsConstructor() {
				continue
			}
			if x.unit.Method(m.Name, m.Params, m.Return) != nil {
				x.report(errors.NewMixinMemberConflict(x.unit.Name, m.Key()).WithSource(d.Source))
				continue
			}
			x.unit.Methods = append(x.unit.Methods, remapMethod(m.Clone(), tmpl.Name, x.unit.Name))
		}
	}
}

func (x *transformation) hasField(name string) bool {
	for _, f := range x.unit.Fields {
		if f.Name == name {
			return true
		}
	}
	return false
}

func remapType(t, from, to string) string {
	if t == from {
		return to
	}
	return t
}

// remapMethod rewrites every self-reference of a template method.
func remapMethod(m *code.Method, from, to string) *code.Method {
	for i := range m.Params {
		m.Params[i] = remapType(m.Params[i], from, to)
	}
	m.Return = remapType(m.Return, from, to)
	for i := range m.Code {
		in := &m.Code[i]
		in.Owner = remapType(in.Owner, from, to)
		if in.Desc != nil {
			for j := range in.Desc.Params {
				in.Desc.Params[j] = remapType(in.Desc.Params[j], from, to)
			}
			in.Desc.Return = remapType(in.Desc.Return, from, to)
		}
	}
	for i := range m.Handlers {
		m.Handlers[i].CatchType = remapType(m.Handlers[i].CatchType, from, to)
	}
	for i := range m.Locals {
		m.Locals[i].Type = remapType(m.Locals[i].Type, from, to)
	}
	return m
}

// delegatesToSelf reports whether constructor m calls another constructor
// of the same type. Only constructors that do not are outermost.
func delegatesToSelf(owner string, m *code.Method) bool {
	for _, in := range m.Code {
		if in.Op == code.OpInvokeSpecial && in.Owner == owner && in.Name == code.Constructor {
			return true
		}
	}
	return false
}

// injectInit calls the init method of every matched mixin before each
// return of an outermost constructor, so init runs once per instance no
// matter how constructors chain.
func (x *transformation) injectInit(m *code.Method) bool {
	if delegatesToSelf(x.unit.Name, m) {
		return false
	}
	var inits []string
	for _, d := range x.mixins {
		if d.Init != "" {
			inits = append(inits, d.Init)
		}
	}
	if len(inits) == 0 {
		return false
	}

	out := make([]code.Instruction, 0, len(m.Code)+2*len(inits))
	for _, in := range m.Code {
		if in.Op == code.OpReturn {
			for _, name := range inits {
				out = append(out,
					code.Instruction{Op: code.OpLoad, Index: 0},
					code.Instruction{Op: code.OpInvokeVirtual, Owner: x.unit.Name, Name: name,
						Desc: &code.Desc{Return: code.Void}},
				)
			}
		}
		out = append(out, in)
	}
	m.Code = out
	return true
}

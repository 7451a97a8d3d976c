package advice

import (
	"github.com/scottag99/glowroot/internal/weaving/code"
	"github.com/scottag99/glowroot/internal/weaving/model"
)

// MatchClass returns, in catalog order, the advice whose type pattern
// matches the type or any of its ancestors.
func MatchClass(td *model.TypeDescriptor, ancestors []*model.TypeDescriptor, snap *Snapshot) []*Descriptor {
	if snap == nil {
		return nil
	}
	var out []*Descriptor
	for _, d := range snap.Advice {
		if MatchesType(d.Type, td, ancestors) {
			out = append(out, d)
		}
	}
	return out
}

// MatchesType reports whether p matches td or any ancestor.
func MatchesType(p *TypePattern, td *model.TypeDescriptor, ancestors []*model.TypeDescriptor) bool {
	if p.Match(td.Name()) {
		return true
	}
	for _, a := range ancestors {
		if p.Match(a.Name()) {
			return true
		}
	}
	return false
}

// MatchMethod returns, in catalog order, the class-level matches that also
// match the method by name, arguments, return type and modifiers.
func MatchMethod(m *model.MethodDescriptor, access code.Access, classMatches []*Descriptor) []*Descriptor {
	var out []*Descriptor
	for _, d := range classMatches {
		if matchesMethod(d, m, access) {
			out = append(out, d)
		}
	}
	return out
}

func matchesMethod(d *Descriptor, m *model.MethodDescriptor, access code.Access) bool {
	if !d.Method.Match(m.Name) {
		return false
	}
	if !d.Args.Match(m.Args) {
		return false
	}
	if !d.Return.Match(m.Return) {
		return false
	}
	return d.Modifiers == 0 || access&d.Modifiers == d.Modifiers
}

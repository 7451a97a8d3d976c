package weaver

import (
	"github.com/scottag99/glowroot/internal/weaving/advice"
	"github.com/scottag99/glowroot/internal/weaving/code"
	"github.com/scottag99/glowroot/internal/weaving/errors"
	"github.com/scottag99/glowroot/internal/weaving/model"
)

// inheritedMatch is an interface method fulfilled by an ancestor class.
type inheritedMatch struct {
	method *model.MethodDescriptor
	owner  string
	advice []*advice.Descriptor
}

// inheritedMatches finds the methods of interfaces declared directly on the
// unit (not already implemented by the superclass) that are fulfilled by a
// concrete superclass method and would be woven under advice the superclass
// itself does not match.
func (x *transformation) inheritedMatches() []inheritedMatch {
	inSuper := make(map[string]bool, len(x.superHierarchy))
	for _, td := range x.superHierarchy {
		inSuper[td.Name()] = true
	}

	// advice matching the superclass already wove its own methods
	var candidates []*advice.Descriptor
	for _, a := range x.classMatches {
		if len(x.superHierarchy) > 0 && advice.MatchesType(a.Type, x.superHierarchy[0], x.superHierarchy[1:]) {
			continue
		}
		candidates = append(candidates, a)
	}
	if len(candidates) == 0 {
		return nil
	}

	var out []inheritedMatch
	seen := make(map[string]bool)
	for _, iface := range x.ifaceHierarchy {
		if !iface.IsInterface() || inSuper[iface.Name()] {
			continue
		}
		for _, im := range iface.Methods() {
			key := im.Key()
			if seen[key] || x.td.Method(im.Name, im.Args, im.Return) != nil {
				continue
			}
			seen[key] = true
			sm, owner := x.superImplementation(im)
			if sm == nil {
				continue
			}
			matched := advice.MatchMethod(sm, sm.Access, candidates)
			if len(matched) == 0 {
				continue
			}
			out = append(out, inheritedMatch{method: sm, owner: owner, advice: matched})
		}
	}
	return out
}

// superImplementation returns the first concrete class method in the
// superclass chain matching im.
func (x *transformation) superImplementation(im *model.MethodDescriptor) (*model.MethodDescriptor, string) {
	for _, td := range x.superHierarchy {
		if td.IsInterface() {
			continue
		}
		if m := td.Method(im.Name, im.Args, im.Return); m != nil && !m.IsAbstract() {
			return m, td.Name()
		}
	}
	return nil, ""
}

// fulfillInterfaces synthesizes and weaves a forwarding override for every
// inherited match. Final methods cannot be overridden and are reported.
func (x *transformation) fulfillInterfaces() {
	for _, im := range x.inheritedMatches() {
		if im.method.IsFinal() {
			x.report(errors.NewFinalInheritedMethod(x.unit.Name, im.method.String(), im.owner))
			continue
		}
		override := synthesizeOverride(im.owner, im.method)
		x.unit.Methods = append(x.unit.Methods, override)
		x.weave(override, im.advice)
	}
}

// synthesizeOverride builds a public method forwarding to owner's
// implementation of sm.
func synthesizeOverride(owner string, sm *model.MethodDescriptor) *code.Method {
	m := &code.Method{
		Access:     code.AccPublic,
		Name:       sm.Name,
		Params:     append([]string(nil), sm.Args...),
		Return:     sm.Return,
		Signature:  sm.Signature,
		Exceptions: append([]string(nil), sm.Exceptions...),
	}
	m.MaxLocals = m.ArgSlots()
	g := code.NewGenerator(m)
	g.Load(0)
	g.LoadArgs()
	g.Invoke(code.OpInvokeSpecial, owner, sm.Name, sm.Args, sm.Return)
	g.Return(sm.Return)
	m.Code = g.Code()
	return m
}

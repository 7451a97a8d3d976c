// Package mixin resolves which capability bundles apply to a type.
package mixin

import (
	stderrors "errors"
	"fmt"
	"sync/atomic"

	"github.com/go-playground/validator/v10"

	"github.com/scottag99/glowroot/internal/weaving/advice"
	"github.com/scottag99/glowroot/internal/weaving/code"
	"github.com/scottag99/glowroot/internal/weaving/errors"
	"github.com/scottag99/glowroot/internal/weaving/model"
)

// Declaration is one mixin as written in a plugin descriptor.
type Declaration struct {
	Name           string   `yaml:"name" validate:"required"`
	Targets        []string `yaml:"targets" validate:"required,min=1,dive,required"`
	Interfaces     []string `yaml:"interfaces" validate:"dive,required"`
	Implementation string   `yaml:"implementation" validate:"required"`
	Init           string   `yaml:"init"`

	Source string `yaml:"-"`
}

// Descriptor is a validated mixin. Template holds the field and method
// templates; it is bound lazily from Implementation when nil.
type Descriptor struct {
	Name           string
	Source         string
	Targets        []*advice.TypePattern
	Interfaces     []string
	Implementation string
	Init           string
	Template       *code.Unit
}

// Fields returns the field templates, or nil when no template is bound.
func (d *Descriptor) Fields() []code.Field {
	if d.Template == nil {
		return nil
	}
	return d.Template.Fields
}

// Methods returns the method templates except constructors.
func (d *Descriptor) Methods() []*code.Method {
	if d.Template == nil {
		return nil
	}
	var out []*code.Method
	for _, m := range d.Template.Methods {
		if !m.IsConstructor() {
			out = append(out, m)
		}
	}
	return out
}

// Matches reports whether any target pattern matches td or an ancestor.
func (d *Descriptor) Matches(td *model.TypeDescriptor, ancestors []*model.TypeDescriptor) bool {
	for _, p := range d.Targets {
		if advice.MatchesType(p, td, ancestors) {
			return true
		}
	}
	return false
}

var declValidate = validator.New()

// Parse validates each declaration independently.
func Parse(decls []Declaration) ([]*Descriptor, errors.List) {
	var (
		out   []*Descriptor
		diags errors.List
	)
	for i := range decls {
		d, diag := parseOne(&decls[i])
		if diag != nil {
			diags = append(diags, diag.WithSource(decls[i].Source))
			continue
		}
		out = append(out, d)
	}
	return out, diags
}

func parseOne(decl *Declaration) (*Descriptor, *errors.Diagnostic) {
	subject := decl.Name
	if subject == "" {
		subject = decl.Implementation
	}
	if err := declValidate.Struct(decl); err != nil {
		var verrs validator.ValidationErrors
		if stderrors.As(err, &verrs) && len(verrs) > 0 {
			return nil, errors.NewInvalidMixin(subject,
				fmt.Sprintf("Field %s failed validation rule %q", verrs[0].Namespace(), verrs[0].Tag()))
		}
		return nil, errors.NewInvalidMixin(subject, err.Error())
	}
	d := &Descriptor{
		Name:           decl.Name,
		Source:         decl.Source,
		Interfaces:     append([]string(nil), decl.Interfaces...),
		Implementation: decl.Implementation,
		Init:           decl.Init,
	}
	for _, t := range decl.Targets {
		p, err := advice.CompileTypePattern(t)
		if err != nil {
			return nil, errors.NewInvalidPattern(subject, t, err)
		}
		d.Targets = append(d.Targets, p)
	}
	return d, nil
}

// Resolver holds the active mixins and matches them against types.
type Resolver struct {
	current atomic.Pointer[[]*Descriptor]
}

// NewResolver creates a resolver holding mixins.
func NewResolver(mixins []*Descriptor) *Resolver {
	r := &Resolver{}
	r.Reload(mixins)
	return r
}

// Reload replaces the active mixins atomically.
func (r *Resolver) Reload(mixins []*Descriptor) {
	cp := append([]*Descriptor(nil), mixins...)
	r.current.Store(&cp)
}

// Active returns the active mixins.
func (r *Resolver) Active() []*Descriptor {
	if p := r.current.Load(); p != nil {
		return *p
	}
	return nil
}

// Match returns the mixins whose targets match td or any ancestor, in
// declaration order, each at most once.
func (r *Resolver) Match(td *model.TypeDescriptor, ancestors []*model.TypeDescriptor) []*Descriptor {
	var out []*Descriptor
	seen := make(map[string]bool)
	for _, d := range r.Active() {
		if seen[d.Name] || !d.Matches(td, ancestors) {
			continue
		}
		seen[d.Name] = true
		out = append(out, d)
	}
	return out
}

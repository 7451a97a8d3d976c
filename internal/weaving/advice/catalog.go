// Package advice turns pointcut declarations into advice descriptors and
// matches them against types and methods.
package advice

import (
	stderrors "errors"
	"fmt"
	"sync/atomic"

	"github.com/go-playground/validator/v10"

	"github.com/scottag99/glowroot/internal/weaving/code"
	"github.com/scottag99/glowroot/internal/weaving/errors"
)

// Declaration is one pointcut as written in a plugin descriptor.
type Declaration struct {
	Name            string    `yaml:"name" validate:"required"`
	TypeName        string    `yaml:"typeName" validate:"required"`
	MethodName      string    `yaml:"methodName" validate:"required"`
	MethodArgs      []string  `yaml:"methodArgs" validate:"dive,required"`
	MethodReturn    string    `yaml:"methodReturn"`
	MethodModifiers []string  `yaml:"methodModifiers" validate:"dive,required"`
	MetricName      string    `yaml:"metricName" validate:"omitempty,max=120"`
	CaptureNested   *bool     `yaml:"captureNested"`
	Reweavable      bool      `yaml:"reweavable"`
	IsEnabled       *HookDecl `yaml:"isEnabled"`
	OnBefore        *HookDecl `yaml:"onBefore"`
	OnReturn        *HookDecl `yaml:"onReturn"`
	OnThrow         *HookDecl `yaml:"onThrow"`
	OnAfter         *HookDecl `yaml:"onAfter"`

	// Source is the file the declaration was read from.
	Source string `yaml:"-"`
}

// HookDecl is one hook as written in a plugin descriptor.
type HookDecl struct {
	Ref      string   `yaml:"ref" validate:"required"`
	Params   []string `yaml:"params" validate:"dive,required"`
	Traveler string   `yaml:"traveler"`
}

var declValidate = validator.New()

// Parse validates each declaration independently and returns the accepted
// descriptors in declaration order together with the diagnostics of the
// rejected ones. A rejected declaration never affects the others.
func Parse(decls []Declaration) ([]*Descriptor, errors.List) {
	var (
		out   []*Descriptor
		diags errors.List
		names = make(map[string]bool, len(decls))
	)
	for i := range decls {
		d, diag := parseOne(&decls[i])
		if diag == nil && names[d.Name] {
			diag = errors.NewInvalidDeclaration(d.Name, "name", "unique")
		}
		if diag != nil {
			diags = append(diags, diag.WithSource(decls[i].Source))
			continue
		}
		names[d.Name] = true
		out = append(out, d)
	}
	return out, diags
}

func parseOne(decl *Declaration) (*Descriptor, *errors.Diagnostic) {
	subject := decl.Name
	if subject == "" {
		subject = fmt.Sprintf("%s.%s", decl.TypeName, decl.MethodName)
	}

	if err := declValidate.Struct(decl); err != nil {
		var verrs validator.ValidationErrors
		if stderrors.As(err, &verrs) && len(verrs) > 0 {
			return nil, errors.NewInvalidDeclaration(subject, verrs[0].Namespace(), verrs[0].Tag())
		}
		return nil, errors.NewInvalidDeclaration(subject, "declaration", err.Error())
	}

	d := &Descriptor{
		Name:          decl.Name,
		Source:        decl.Source,
		CaptureNested: decl.CaptureNested == nil || *decl.CaptureNested,
		MetricName:    decl.MetricName,
		Reweavable:    decl.Reweavable,
	}

	var err error
	if d.Type, err = CompileTypePattern(decl.TypeName); err != nil {
		return nil, errors.NewInvalidPattern(subject, decl.TypeName, err)
	}
	if d.Method, err = CompileNamePattern(decl.MethodName); err != nil {
		return nil, errors.NewInvalidPattern(subject, decl.MethodName, err)
	}
	if d.Args, err = CompileArgsPattern(decl.MethodArgs); err != nil {
		return nil, errors.NewInvalidPattern(subject, fmt.Sprint(decl.MethodArgs), err)
	}
	if d.Return, err = CompileReturnPattern(decl.MethodReturn); err != nil {
		return nil, errors.NewInvalidPattern(subject, decl.MethodReturn, err)
	}
	for _, m := range decl.MethodModifiers {
		flag, ok := code.ParseAccess(m)
		if !ok {
			return nil, errors.NewUnknownModifier(subject, m)
		}
		d.Modifiers |= flag
	}

	hooks := []struct {
		kind HookKind
		decl *HookDecl
		dst  **Hook
	}{
		{HookIsEnabled, decl.IsEnabled, &d.IsEnabled},
		{HookOnBefore, decl.OnBefore, &d.OnBefore},
		{HookOnReturn, decl.OnReturn, &d.OnReturn},
		{HookOnThrow, decl.OnThrow, &d.OnThrow},
		{HookOnAfter, decl.OnAfter, &d.OnAfter},
	}
	for _, h := range hooks {
		if h.decl == nil {
			continue
		}
		hook, diag := parseHook(subject, h.kind, h.decl)
		if diag != nil {
			return nil, diag
		}
		*h.dst = hook
	}
	if len(d.Hooks()) == 0 {
		return nil, errors.NewNoHooks(subject)
	}
	return d, nil
}

func parseHook(subject string, kind HookKind, decl *HookDecl) (*Hook, *errors.Diagnostic) {
	h := &Hook{Kind: kind, Ref: decl.Ref}
	if decl.Traveler != "" {
		if kind != HookOnBefore {
			return nil, errors.NewUnsupportedBinding(subject, kind.String(), "traveler type")
		}
		h.Traveler = decl.Traveler
	}

	allowed := allowedBindings[kind]
	for i, text := range decl.Params {
		b, err := ParseBinding(text)
		if err != nil {
			return nil, errors.NewUnknownBinding(subject, kind.String(), text)
		}
		if !allowed[b.Kind] {
			return nil, errors.NewUnsupportedBinding(subject, kind.String(), b.Kind.String())
		}
		switch b.Kind {
		case BindMethodArg:
			if b.Index < 0 {
				return nil, errors.NewNegativeArgIndex(subject, kind.String(), b.Index)
			}
		case BindReturn, BindOptionalReturn, BindThrowable:
			if i != 0 {
				for _, prev := range h.Params {
					if prev.Kind == BindReturn || prev.Kind == BindOptionalReturn || prev.Kind == BindThrowable {
						return nil, errors.NewDuplicateBinding(subject, kind.String(), b.Kind.String())
					}
				}
				return nil, errors.NewBindingPosition(subject, kind.String(), b.Kind.String(), i)
			}
		}
		h.Params = append(h.Params, b)
	}
	return h, nil
}

// Snapshot is an immutable set of active advice.
type Snapshot struct {
	Version int64
	Advice  []*Descriptor
}

// Catalog holds the active advice. Reload swaps the whole set atomically;
// callers capture one snapshot per transformation.
type Catalog struct {
	current atomic.Pointer[Snapshot]
	version atomic.Int64
}

// NewCatalog creates a catalog holding advice.
func NewCatalog(advice []*Descriptor) *Catalog {
	c := &Catalog{}
	c.Reload(advice)
	return c
}

// Snapshot returns the active set.
func (c *Catalog) Snapshot() *Snapshot {
	return c.current.Load()
}

// Reload replaces the active set and returns the new snapshot.
func (c *Catalog) Reload(advice []*Descriptor) *Snapshot {
	s := &Snapshot{
		Version: c.version.Add(1),
		Advice:  append([]*Descriptor(nil), advice...),
	}
	c.current.Store(s)
	return s
}

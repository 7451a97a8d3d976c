package mixin

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scottag99/glowroot/internal/weaving/code"
	"github.com/scottag99/glowroot/internal/weaving/errors"
	"github.com/scottag99/glowroot/internal/weaving/model"
)

func TestParse(t *testing.T) {
	out, diags := Parse([]Declaration{
		{Name: "traced", Targets: []string{"app.Handler"}, Interfaces: []string{"glowroot.Traced"},
			Implementation: "glowroot.TracedImpl", Init: "initTraced"},
		{Name: "no-targets", Implementation: "x"},
		{Name: "bad-target", Targets: []string{"a.**"}, Implementation: "x"},
		{Name: "no-impl", Targets: []string{"a.B"}},
	})

	require.Len(t, out, 1)
	assert.Equal(t, "traced", out[0].Name)
	assert.Equal(t, "initTraced", out[0].Init)

	require.Len(t, diags, 3)
	assert.Equal(t, errors.ErrInvalidMixin, diags[0].Code)
	assert.Equal(t, errors.ErrInvalidPattern, diags[1].Code)
	assert.Equal(t, errors.ErrInvalidMixin, diags[2].Code)
}

func TestMatchDeduplicates(t *testing.T) {
	mixins, diags := Parse([]Declaration{
		{Name: "traced", Targets: []string{"app.Handler", "app.Base"}, Implementation: "impl.A"},
		{Name: "other", Targets: []string{"lib.*"}, Implementation: "impl.B"},
		{Name: "traced", Targets: []string{"app.*"}, Implementation: "impl.A"},
		{Name: "named", Targets: []string{"app.impl.*"}, Implementation: "impl.C"},
	})
	require.Empty(t, diags)
	r := NewResolver(mixins)

	td := model.NewBuilder("app.impl.H").Super("app.Base").Interface("app.Handler").Build()
	ancestors := []*model.TypeDescriptor{
		model.NewBuilder("app.Base").Build(),
		model.NewBuilder("app.Handler").IsInterface(true).Build(),
	}

	got := r.Match(td, ancestors)
	require.Len(t, got, 2, "the same mixin is applied once even when matched through several ancestors")
	assert.Equal(t, "traced", got[0].Name)
	assert.Equal(t, "named", got[1].Name)

	assert.Empty(t, r.Match(model.NewBuilder("zzz.Q").Build(), nil))
}

func TestTemplatesSkipConstructors(t *testing.T) {
	tmpl := code.NewUnit("impl.A", code.RootType)
	tmpl.Fields = []code.Field{{Name: "count", Type: "int"}}
	tmpl.Methods = []*code.Method{
		{Name: code.Constructor, Return: code.Void},
		{Name: "getCount", Return: "int"},
	}
	d := &Descriptor{Name: "m", Template: tmpl}

	assert.Len(t, d.Fields(), 1)
	require.Len(t, d.Methods(), 1)
	assert.Equal(t, "getCount", d.Methods()[0].Name)

	assert.Nil(t, (&Descriptor{}).Methods())
}

func TestReloadIsAtomic(t *testing.T) {
	r := NewResolver(nil)
	assert.Empty(t, r.Active())

	mixins, _ := Parse([]Declaration{{Name: "a", Targets: []string{"x.Y"}, Implementation: "i"}})
	before := r.Active()
	r.Reload(mixins)

	assert.Empty(t, before)
	assert.Len(t, r.Active(), 1)
}

package advice

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scottag99/glowroot/internal/weaving/code"
	"github.com/scottag99/glowroot/internal/weaving/errors"
	"github.com/scottag99/glowroot/internal/weaving/model"
)

func boolPtr(v bool) *bool { return &v }

func validDecl(name string) Declaration {
	return Declaration{
		Name:       name,
		TypeName:   "app.Service",
		MethodName: "run",
		MethodArgs: []string{".."},
		OnBefore:   &HookDecl{Ref: "count.onBefore", Params: []string{"TARGET", "METHOD_NAME"}},
	}
}

func TestParseDefaults(t *testing.T) {
	decl := validDecl("svc")
	decl.MethodModifiers = []string{"public", "static"}
	decl.OnReturn = &HookDecl{Ref: "count.onReturn", Params: []string{"OPTIONAL_RETURN", "TRAVELER"}}
	decl.OnBefore.Traveler = "long"

	out, diags := Parse([]Declaration{decl})
	require.Empty(t, diags)
	require.Len(t, out, 1)

	d := out[0]
	assert.True(t, d.CaptureNested, "captureNested defaults to true")
	assert.Equal(t, code.AccPublic|code.AccStatic, d.Modifiers)
	assert.Equal(t, "long", d.Traveler())
	assert.Equal(t, []Binding{{Kind: BindOptionalReturn}, {Kind: BindTraveler}}, d.OnReturn.Params)
	assert.Equal(t, "glowroot.nested.svc", d.FlowKey())
	assert.False(t, d.NeedsHandler())
}

func TestParseRejectsIndividually(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(d *Declaration)
		code   errors.Code
	}{
		{"missing type name", func(d *Declaration) { d.TypeName = "" }, errors.ErrInvalidDeclaration},
		{"hook without ref", func(d *Declaration) { d.OnAfter = &HookDecl{} }, errors.ErrInvalidDeclaration},
		{"bad type pattern", func(d *Declaration) { d.TypeName = "a.**" }, errors.ErrInvalidPattern},
		{"bad method pattern", func(d *Declaration) { d.MethodName = "a||b" }, errors.ErrInvalidPattern},
		{"unknown modifier", func(d *Declaration) { d.MethodModifiers = []string{"volatile"} }, errors.ErrUnknownModifier},
		{"no hooks", func(d *Declaration) { d.OnBefore = nil }, errors.ErrNoHooks},
		{"unknown binding", func(d *Declaration) { d.OnBefore.Params = []string{"SELF"} }, errors.ErrUnknownBinding},
		{"return on onBefore", func(d *Declaration) { d.OnBefore.Params = []string{"RETURN"} }, errors.ErrUnsupportedBinding},
		{"traveler on isEnabled", func(d *Declaration) {
			d.IsEnabled = &HookDecl{Ref: "x", Params: []string{"TRAVELER"}}
		}, errors.ErrUnsupportedBinding},
		{"throwable on onAfter", func(d *Declaration) {
			d.OnAfter = &HookDecl{Ref: "x", Params: []string{"THROWABLE"}}
		}, errors.ErrUnsupportedBinding},
		{"return not first", func(d *Declaration) {
			d.OnReturn = &HookDecl{Ref: "x", Params: []string{"TARGET", "RETURN"}}
		}, errors.ErrBindingPosition},
		{"two return bindings", func(d *Declaration) {
			d.OnReturn = &HookDecl{Ref: "x", Params: []string{"RETURN", "OPTIONAL_RETURN"}}
		}, errors.ErrDuplicateBinding},
		{"throwable not first", func(d *Declaration) {
			d.OnThrow = &HookDecl{Ref: "x", Params: []string{"TRAVELER", "THROWABLE"}}
		}, errors.ErrBindingPosition},
		{"negative arg index", func(d *Declaration) { d.OnBefore.Params = []string{"METHOD_ARG(-1)"} }, errors.ErrNegativeArgIndex},
		{"traveler type on onReturn", func(d *Declaration) {
			d.OnReturn = &HookDecl{Ref: "x", Traveler: "long"}
		}, errors.ErrUnsupportedBinding},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bad := validDecl("bad")
			bad.Source = "plugin.yaml"
			tt.mutate(&bad)

			out, diags := Parse([]Declaration{validDecl("before"), bad, validDecl("after")})

			require.Len(t, diags, 1)
			assert.Equal(t, tt.code, diags[0].Code)
			assert.Equal(t, "plugin.yaml", diags[0].Source)
			require.Len(t, out, 2, "other declarations are unaffected")
			assert.Equal(t, "before", out[0].Name)
			assert.Equal(t, "after", out[1].Name)
		})
	}
}

func TestParseRejectsDuplicateNames(t *testing.T) {
	out, diags := Parse([]Declaration{validDecl("svc"), validDecl("svc")})

	require.Len(t, out, 1)
	require.Len(t, diags, 1)
	assert.Equal(t, errors.ErrInvalidDeclaration, diags[0].Code)
}

func TestParseBinding(t *testing.T) {
	b, err := ParseBinding("METHOD_ARG(2):int")
	require.NoError(t, err)
	assert.Equal(t, Binding{Kind: BindMethodArg, Index: 2, Type: "int"}, b)

	b, err = ParseBinding("method_arg_array")
	require.NoError(t, err)
	assert.Equal(t, BindMethodArgArray, b.Kind)

	_, err = ParseBinding("TARGET(1)")
	assert.Error(t, err)
	_, err = ParseBinding("METHOD_ARG(x)")
	assert.Error(t, err)
}

func TestCatalogReloadKeepsCapturedSnapshot(t *testing.T) {
	first, _ := Parse([]Declaration{validDecl("one")})
	c := NewCatalog(first)

	captured := c.Snapshot()
	second, _ := Parse([]Declaration{validDecl("two"), validDecl("three")})
	c.Reload(second)

	require.Len(t, captured.Advice, 1)
	assert.Equal(t, "one", captured.Advice[0].Name)
	assert.Len(t, c.Snapshot().Advice, 2)
	assert.Greater(t, c.Snapshot().Version, captured.Version)
}

func TestMatchClassAndMethod(t *testing.T) {
	decls := []Declaration{
		{Name: "by-iface", TypeName: "app.Handler", MethodName: "handle", MethodArgs: []string{".."},
			OnBefore: &HookDecl{Ref: "a"}},
		{Name: "by-wildcard", TypeName: "app.impl.*", MethodName: "handle|close",
			MethodArgs: []string{"int", ".."}, MethodModifiers: []string{"public"},
			OnBefore: &HookDecl{Ref: "b"}},
		{Name: "other", TypeName: "lib.*", MethodName: "*", MethodArgs: []string{".."},
			OnBefore: &HookDecl{Ref: "c"}},
		{Name: "narrow-return", TypeName: "app.impl.Handler*", MethodName: "handle",
			MethodArgs: []string{".."}, MethodReturn: "app.",
			OnBefore: &HookDecl{Ref: "d"}},
	}
	advice, diags := Parse(decls)
	require.Empty(t, diags)
	snap := NewCatalog(advice).Snapshot()

	td := model.NewBuilder("app.impl.HandlerImpl").Super("app.Base").Interface("app.Handler").Build()
	ancestors := []*model.TypeDescriptor{
		model.NewBuilder("app.Base").Build(),
		model.NewBuilder("app.Handler").IsInterface(true).Build(),
	}

	classMatches := MatchClass(td, ancestors, snap)
	require.Len(t, classMatches, 3)
	assert.Equal(t, "by-iface", classMatches[0].Name)
	assert.Equal(t, "by-wildcard", classMatches[1].Name)
	assert.Equal(t, "narrow-return", classMatches[2].Name)

	handle := &model.MethodDescriptor{Name: "handle", Args: []string{"int", "String"}, Return: "app.Result"}
	got := MatchMethod(handle, code.AccPublic, classMatches)
	require.Len(t, got, 3)

	got = MatchMethod(handle, code.AccPrivate, classMatches)
	require.Len(t, got, 2, "modifier mask excludes by-wildcard")

	deep := &model.MethodDescriptor{Name: "handle", Args: []string{"int"}, Return: "app.sub.Result"}
	got = MatchMethod(deep, code.AccPublic, classMatches)
	require.Len(t, got, 2, "return namespace pattern excludes nested namespaces")

	closeM := &model.MethodDescriptor{Name: "close", Return: code.Void}
	assert.Empty(t, MatchMethod(closeM, code.AccPublic, classMatches))
}

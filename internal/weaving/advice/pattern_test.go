package advice

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTypePattern(t *testing.T) {
	tests := []struct {
		pattern string
		name    string
		want    bool
	}{
		{"a.B*", "a.Bar", true},
		{"a.B*", "a.Baz", true},
		{"a.B*", "a.B", true},
		{"a.B*", "a.Car", false},
		{"a.B*", "ab.Bar", false},
		{"a.B*", "a.Bx.Inner", true},
		{"a.*.Service", "a.web.Service", true},
		{"a.*.Service", "a.web.api.Service", false},
		{"a.*Impl", "a.FooImpl", true},
		{"a.*Impl", "a.b.FooImpl", false},
		{"*", "anything.at.All", true},
		{"app.Exact", "app.Exact", true},
		{"app.Exact", "app.Exactly", false},
	}

	for _, tt := range tests {
		t.Run(tt.pattern+" "+tt.name, func(t *testing.T) {
			p, err := CompileTypePattern(tt.pattern)
			require.NoError(t, err)
			assert.Equal(t, tt.want, p.Match(tt.name))
		})
	}
}

func TestTypePatternInvalid(t *testing.T) {
	_, err := CompileTypePattern("")
	assert.Error(t, err)
	_, err = CompileTypePattern("a.**")
	assert.Error(t, err)
}

func TestNamePattern(t *testing.T) {
	p, err := CompileNamePattern("execute|executeQuery|get*")
	require.NoError(t, err)

	assert.True(t, p.Match("execute"))
	assert.True(t, p.Match("executeQuery"))
	assert.True(t, p.Match("getConnection"))
	assert.False(t, p.Match("executeUpdate"))
	assert.False(t, p.Match("forget"))

	_, err = CompileNamePattern("a||b")
	assert.Error(t, err)
}

func TestArgsPattern(t *testing.T) {
	tests := []struct {
		name    string
		pattern []string
		args    []string
		want    bool
	}{
		{"leading exact then any remaining", []string{"int", ".."}, []string{"int", "String", "boolean"}, true},
		{"wrong leading type", []string{"int", ".."}, []string{"String", "int"}, false},
		{"any remaining absorbs nothing", []string{"int", ".."}, []string{"int"}, true},
		{"any remaining in the middle", []string{"String", "..", "int"}, []string{"String", "long", "long", "int"}, true},
		{"middle marker absorbs nothing", []string{"String", "..", "int"}, []string{"String", "int"}, true},
		{"middle marker wrong tail", []string{"String", "..", "int"}, []string{"String", "long"}, false},
		{"single wildcard", []string{"*", "int"}, []string{"app.Thing", "int"}, true},
		{"single wildcard needs one arg", []string{"*"}, nil, false},
		{"empty matches no-arg only", nil, nil, true},
		{"empty rejects args", nil, []string{"int"}, false},
		{"identity not assignability", []string{"Object"}, []string{"String"}, false},
		{"only any remaining", []string{".."}, []string{"a", "b"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := CompileArgsPattern(tt.pattern)
			require.NoError(t, err)
			assert.Equal(t, tt.want, p.Match(tt.args))
		})
	}
}

// A namespace return pattern matches direct members only. This pins the
// narrowing behaviour: nested namespaces never match.
func TestReturnPatternNamespaceConformance(t *testing.T) {
	p, err := CompileReturnPattern("java.sql.")
	require.NoError(t, err)

	assert.True(t, p.Match("java.sql.ResultSet"))
	assert.True(t, p.Match("java.sql.Connection"))
	assert.False(t, p.Match("java.sql.rowset.CachedRowSet"), "nested namespace")
	assert.False(t, p.Match("java.sql."), "namespace itself")
	assert.False(t, p.Match("java.sqlx.Thing"))
	assert.False(t, p.Match("ResultSet"))
}

func TestReturnPattern(t *testing.T) {
	any, err := CompileReturnPattern("")
	require.NoError(t, err)
	assert.True(t, any.Match("void"))
	assert.True(t, any.Match("app.Thing"))

	exact, err := CompileReturnPattern("int")
	require.NoError(t, err)
	assert.True(t, exact.Match("int"))
	assert.False(t, exact.Match("long"))

	_, err = CompileReturnPattern(".")
	assert.Error(t, err)
}

package commands

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scottag99/glowroot/internal/plugin"
	"github.com/scottag99/glowroot/internal/runtime/interp"
	"github.com/scottag99/glowroot/internal/weaving/code"
)

func method(name string, params []string, ret string, access code.Access, emit func(g *code.Generator)) *code.Method {
	m := &code.Method{Access: access, Name: name, Params: params, Return: ret}
	m.MaxLocals = m.ArgSlots()
	g := code.NewGenerator(m)
	emit(g)
	m.Code = g.Code()
	return m
}

func serviceUnit() *code.Unit {
	u := code.NewUnit("app.Service", code.RootType)
	u.Methods = []*code.Method{
		method(code.Constructor, nil, code.Void, code.AccPublic, func(g *code.Generator) {
			g.Load(0)
			g.Invoke(code.OpInvokeSpecial, code.RootType, code.Constructor, nil, code.Void)
			g.Op(code.OpReturn)
		}),
		method("handle", []string{"String"}, "String", code.AccPublic, func(g *code.Generator) {
			g.LoadArg(0)
			g.Op(code.OpReturnValue)
		}),
		method("twice", []string{"long"}, "long", code.AccPublic|code.AccStatic, func(g *code.Generator) {
			g.LoadArg(0)
			g.LoadArg(0)
			g.Op(code.OpAdd)
			g.Op(code.OpReturnValue)
		}),
	}
	return u
}

func helperUnit() *code.Unit {
	u := code.NewUnit("app.Helper", code.RootType)
	u.Methods = []*code.Method{
		method("idle", nil, code.Void, code.AccPublic|code.AccStatic, func(g *code.Generator) {
			g.Op(code.OpReturn)
		}),
	}
	return u
}

const tracingPlugin = `
name: tracing
pointcuts:
  - name: service.handle
    typeName: app.Service
    methodName: handle
    methodArgs: [String]
    metricName: service call
    capture: span
`

type project struct {
	dir    string
	config string
}

func newProject(t *testing.T) *project {
	t.Helper()
	dir := t.TempDir()
	classes := filepath.Join(dir, "classes")
	plugins := filepath.Join(dir, "plugins")
	require.NoError(t, os.MkdirAll(classes, 0o755))
	require.NoError(t, os.MkdirAll(plugins, 0o755))
	for _, u := range []*code.Unit{serviceUnit(), helperUnit()} {
		require.NoError(t, os.WriteFile(filepath.Join(classes, u.Name+interp.UnitExt), code.MustEncode(u), 0o644))
	}
	require.NoError(t, os.WriteFile(filepath.Join(plugins, "tracing.yaml"), []byte(tracingPlugin), 0o644))

	p := &project{dir: dir, config: filepath.Join(dir, "glowroot.yaml")}
	require.NoError(t, os.WriteFile(p.config, []byte(`
plugins: [plugins]
classpath: classes
collector:
  exporters: [none]
logging:
  level: error
`), 0o644))
	return p
}

func (p *project) run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(append([]string{"--config", p.config, "--no-color"}, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func TestWeave(t *testing.T) {
	p := newProject(t)
	out := filepath.Join(p.dir, "woven")

	stdout, _, err := p.run(t, "weave", "--out", out)
	require.NoError(t, err)
	assert.Contains(t, stdout, "app.Service")
	assert.Contains(t, stdout, "1 of 2 unit(s) woven")

	raw, err := os.ReadFile(filepath.Join(out, "app.Service"+interp.UnitExt))
	require.NoError(t, err)
	u, err := code.Decode(raw)
	require.NoError(t, err)
	assert.Greater(t, len(u.Methods), len(serviceUnit().Methods), "metric wrapper added")
	assert.FileExists(t, filepath.Join(out, "app.Helper"+interp.UnitExt))
}

func TestWeaveJSON(t *testing.T) {
	p := newProject(t)

	stdout, _, err := p.run(t, "weave", "--json", "app.Service", "app.Helper")
	require.NoError(t, err)
	var results []weaveResult
	require.NoError(t, json.Unmarshal([]byte(stdout), &results))
	require.Len(t, results, 2)
	assert.Equal(t, "woven", results[0].Result)
	assert.NotEmpty(t, results[0].Methods)
	assert.Equal(t, "unchanged", results[1].Result)
}

func TestWeaveUnknownType(t *testing.T) {
	p := newProject(t)

	_, stderr, err := p.run(t, "weave", "app.Sevice")
	require.Error(t, err)
	assert.ErrorIs(t, err, interp.ErrClassNotFound)
	assert.Contains(t, stderr, "app.Service")
}

func TestInspect(t *testing.T) {
	p := newProject(t)

	stdout, _, err := p.run(t, "inspect", "--list")
	require.NoError(t, err)
	assert.Equal(t, "app.Helper\napp.Service\n", stdout)

	stdout, _, err = p.run(t, "inspect", "app.Service", "--disasm")
	require.NoError(t, err)
	assert.Contains(t, stdout, "METHOD")
	assert.Contains(t, stdout, "handle")
	assert.Contains(t, stdout, "service.handle")
	assert.Contains(t, stdout, "app.Service")

	stdout, _, err = p.run(t, "inspect", "app.Helper")
	require.NoError(t, err)
	assert.Contains(t, stdout, "matches no pointcut")

	_, _, err = p.run(t, "inspect")
	assert.Error(t, err)
}

func TestPluginsCheck(t *testing.T) {
	p := newProject(t)

	stdout, _, err := p.run(t, "plugins", "check")
	require.NoError(t, err)
	assert.Contains(t, stdout, "service.handle")
	assert.Contains(t, stdout, "1 plugin(s), 1 pointcut(s), 0 mixin(s)")

	bad := filepath.Join(p.dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte(`
name: bad
pointcuts:
  - name: broken
    typeName: "app.**Service"
    methodName: handle
    capture: count
`), 0o644))
	_, _, err = p.run(t, "plugins", "check", bad)
	assert.ErrorContains(t, err, "error(s) in plugin descriptors")
}

func TestPluginsInit(t *testing.T) {
	p := newProject(t)
	path := filepath.Join(p.dir, "plugins", "jdbc.yaml")

	_, _, err := p.run(t, "plugins", "init", path, "--type", "java.sql.Statement", "--method", "execute*", "--metric", "jdbc execute")
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	d, err := plugin.Parse(data, path)
	require.NoError(t, err)
	assert.Equal(t, "jdbc", d.Name)
	require.Len(t, d.Pointcuts, 1)
	assert.Equal(t, "jdbc.execute", d.Pointcuts[0].Name)
	assert.Equal(t, plugin.CaptureSpan, d.Pointcuts[0].Capture)
	assert.Equal(t, "jdbc execute", d.Pointcuts[0].MetricName)
	assert.Equal(t, []string{".."}, d.Pointcuts[0].MethodArgs)

	_, _, err = p.run(t, "plugins", "init", path, "--type", "x.Y", "--method", "z")
	assert.ErrorContains(t, err, "already exists")

	_, _, err = p.run(t, "plugins", "init", filepath.Join(p.dir, "other.yaml"))
	assert.ErrorContains(t, err, "--type and --method are required")

	_, _, err = p.run(t, "plugins", "init", filepath.Join(p.dir, "other.yaml"), "--type", "x.Y", "--method", "z", "--capture", "trace")
	assert.ErrorContains(t, err, "unknown capture")
}

func TestRun(t *testing.T) {
	p := newProject(t)

	stdout, _, err := p.run(t, "run", "app.Service", "handle", "hello")
	require.NoError(t, err)
	assert.Contains(t, stdout, `"hello"`)
	assert.Contains(t, stdout, "service call")

	stdout, _, err = p.run(t, "run", "app.Service", "twice", "21")
	require.NoError(t, err)
	assert.Contains(t, stdout, "42")

	_, _, err = p.run(t, "run", "app.Service", "twice", "abc")
	assert.ErrorContains(t, err, "argument 1")

	_, _, err = p.run(t, "run", "app.Service", "missing")
	assert.ErrorContains(t, err, "has no method missing")
}

func TestConvertArg(t *testing.T) {
	tests := []struct {
		raw  string
		typ  string
		want interp.Value
	}{
		{"7", "int", int64(7)},
		{"1.5", "double", 1.5},
		{"true", "boolean", true},
		{"x", "String", "x"},
	}
	for _, tt := range tests {
		t.Run(tt.typ, func(t *testing.T) {
			got, err := convertArg(tt.raw, tt.typ)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestVersion(t *testing.T) {
	p := newProject(t)
	stdout, _, err := p.run(t, "version")
	require.NoError(t, err)
	assert.Contains(t, stdout, Version)
}

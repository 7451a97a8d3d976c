package weaver

import (
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/scottag99/glowroot/internal/runtime/interp"
	"github.com/scottag99/glowroot/internal/weaving/advice"
	"github.com/scottag99/glowroot/internal/weaving/code"
	"github.com/scottag99/glowroot/internal/weaving/hierarchy"
	"github.com/scottag99/glowroot/internal/weaving/mixin"
)

func boolPtr(v bool) *bool { return &v }

// method builds a method whose body is produced by emit.
func method(acc code.Access, name string, params []string, ret string, emit func(g *code.Generator, m *code.Method)) *code.Method {
	m := &code.Method{Access: acc, Name: name, Params: params, Return: ret}
	m.MaxLocals = m.ArgSlots()
	g := code.NewGenerator(m)
	emit(g, m)
	m.Code = g.Code()
	return m
}

func superCtor(super string) *code.Method {
	return method(code.AccPublic, code.Constructor, nil, code.Void, func(g *code.Generator, _ *code.Method) {
		g.Load(0)
		g.Invoke(code.OpInvokeSpecial, super, code.Constructor, nil, code.Void)
		g.Op(code.OpReturn)
	})
}

func constMethod(acc code.Access, name, ret string, v string) *code.Method {
	return method(acc, name, nil, ret, func(g *code.Generator, _ *code.Method) {
		g.PushString(v)
		g.Op(code.OpReturnValue)
	})
}

// weaveHook adapts a Transformer to the interpreter's load hook.
type weaveHook struct {
	tr *Transformer

	mu      sync.Mutex
	results map[string]Result
}

func (h *weaveHook) OnLoad(raw []byte, l *interp.Loader) ([]byte, bool, error) {
	res, err := h.tr.Transform(raw, l)
	if err != nil {
		return nil, false, err
	}
	if res.Type != nil {
		h.mu.Lock()
		h.results[res.Type.Name()] = res
		h.mu.Unlock()
	}
	return res.Raw, !res.Unchanged, nil
}

// fixture runs woven units in the reference interpreter and records every
// hook invocation.
type fixture struct {
	t        *testing.T
	rt       *interp.Runtime
	loader   *interp.Loader
	tr       *Transformer
	hook     *weaveHook
	th       *interp.Thread
	settings Settings

	events []string
}

func newFixture(t *testing.T, decls []advice.Declaration, mixins []mixin.Declaration, units ...*code.Unit) *fixture {
	t.Helper()
	parsed, diags := advice.Parse(decls)
	require.Empty(t, diags)
	mx, mdiags := mixin.Parse(mixins)
	require.Empty(t, mdiags)

	logger := zaptest.NewLogger(t)
	f := &fixture{t: t}
	f.tr = New(Config{
		Catalog:  advice.NewCatalog(parsed),
		Mixins:   mixin.NewResolver(mx),
		Cache:    hierarchy.NewCache(logger),
		Logger:   logger,
		Metrics:  NewMetrics(prometheus.NewRegistry()),
		Settings: func() Settings { return f.settings },
	})
	f.hook = &weaveHook{tr: f.tr, results: make(map[string]Result)}

	src, err := interp.NewMemorySource(units...)
	require.NoError(t, err)
	f.rt = interp.NewRuntime(nil, logger)
	f.rt.SetTransformHook(f.hook)
	f.loader = f.rt.NewLoader("app", nil, src)
	f.th = f.rt.NewThread()
	return f
}

// record registers hooks that log their invocation as "ref(args)".
func (f *fixture) record(refs ...string) {
	for _, ref := range refs {
		ref := ref
		f.rt.Hooks().Register(ref, func(_ *interp.Thread, args []interp.Value) (interp.Value, error) {
			f.events = append(f.events, format(ref, args))
			return nil, nil
		})
	}
}

// on registers fn under ref and logs its invocation.
func (f *fixture) on(ref string, fn interp.HookFunc) {
	f.rt.Hooks().Register(ref, func(th *interp.Thread, args []interp.Value) (interp.Value, error) {
		f.events = append(f.events, format(ref, args))
		return fn(th, args)
	})
}

func format(ref string, args []interp.Value) string {
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = interp.FormatValue(a)
	}
	return ref + "(" + strings.Join(parts, ", ") + ")"
}

func (f *fixture) load(name string) *interp.Class {
	f.t.Helper()
	c, err := f.loader.LoadClass(name)
	require.NoError(f.t, err)
	return c
}

func (f *fixture) result(name string) Result {
	f.hook.mu.Lock()
	defer f.hook.mu.Unlock()
	return f.hook.results[name]
}

// countHandlers returns the size of the handler table of the first method
// named name, or -1.
func countHandlers(u *code.Unit, name string) int {
	for _, m := range u.Methods {
		if m.Name == name {
			return len(m.Handlers)
		}
	}
	return -1
}

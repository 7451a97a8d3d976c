package agent

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/scottag99/glowroot/internal/collector"
	"github.com/scottag99/glowroot/internal/plugin"
	"github.com/scottag99/glowroot/internal/runtime/interp"
	"github.com/scottag99/glowroot/internal/weaving/advice"
	"github.com/scottag99/glowroot/internal/weaving/code"
)

func method(name string, params []string, ret string, emit func(g *code.Generator)) *code.Method {
	m := &code.Method{Access: code.AccPublic, Name: name, Params: params, Return: ret}
	m.MaxLocals = m.ArgSlots()
	g := code.NewGenerator(m)
	emit(g)
	m.Code = g.Code()
	return m
}

func serviceUnit() *code.Unit {
	u := code.NewUnit("app.Service", code.RootType)
	u.Methods = []*code.Method{
		method(code.Constructor, nil, code.Void, func(g *code.Generator) {
			g.Load(0)
			g.Invoke(code.OpInvokeSpecial, code.RootType, code.Constructor, nil, code.Void)
			g.Op(code.OpReturn)
		}),
		method("handle", []string{"String"}, "String", func(g *code.Generator) {
			g.LoadArg(0)
			g.Op(code.OpReturnValue)
		}),
		method("fail", []string{"String"}, code.Void, func(g *code.Generator) {
			g.LoadArg(0)
			g.Emit(code.Instruction{Op: code.OpNewThrowable, Owner: "app.Err"})
			g.Op(code.OpThrow)
		}),
	}
	return u
}

const tracingPlugin = `
name: tracing
pointcuts:
  - name: service.handle
    typeName: app.Service
    methodName: handle|fail
    methodArgs: [String]
    metricName: service call
    capture: span
`

func countingPlugin(name string) string {
	return `
name: counting
pointcuts:
  - name: ` + name + `
    typeName: app.Service
    methodName: handle
    methodArgs: [String]
    reweavable: true
    capture: count
`
}

type recorded struct {
	mu    sync.Mutex
	spans []*collector.Span
}

func (r *recorded) SpanStarted(*collector.Span) {}

func (r *recorded) SpanEnded(_ context.Context, s *collector.Span) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.spans = append(r.spans, s)
	return nil
}

type harness struct {
	t      *testing.T
	agent  *Agent
	cfg    *StaticConfig
	spans  *recorded
	rt     *interp.Runtime
	loader *interp.Loader
	th     *interp.Thread
	reg    *prometheus.Registry
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := zaptest.NewLogger(t)
	h := &harness{t: t, cfg: NewStaticConfig(Settings{}), spans: &recorded{}, reg: prometheus.NewRegistry()}
	hooks := interp.NewHooks()
	h.agent = New(Options{
		Config:     h.cfg,
		Hooks:      hooks,
		Sink:       collector.NewRecorder(logger, h.spans),
		Registerer: h.reg,
		Logger:     logger,
	})
	src, err := interp.NewMemorySource(serviceUnit())
	require.NoError(t, err)
	h.rt = interp.NewRuntime(hooks, logger)
	h.agent.Attach(h.rt)
	h.loader = h.rt.NewLoader("app", nil, src)
	h.th = h.rt.NewThread()
	return h
}

func parseSet(t *testing.T, docs ...string) *plugin.Set {
	t.Helper()
	set := &plugin.Set{}
	for i, doc := range docs {
		d, err := plugin.Parse([]byte(doc), filepath.Join("plugins", string(rune('a'+i))+".yaml"))
		require.NoError(t, err)
		set.Plugins = append(set.Plugins, d)
	}
	return set
}

func (h *harness) service() *interp.Object {
	h.t.Helper()
	c, err := h.loader.LoadClass("app.Service")
	require.NoError(h.t, err)
	obj, err := h.th.New(c)
	require.NoError(h.t, err)
	return obj
}

func TestAgentCapturesSpans(t *testing.T) {
	h := newHarness(t)
	report := h.agent.Load(parseSet(t, tracingPlugin))
	assert.Empty(t, report.Diagnostics)
	assert.Empty(t, report.MissingHooks)
	assert.Equal(t, 1, report.Advice)

	obj := h.service()
	v, err := h.th.Call(obj, "handle", "req")
	require.NoError(t, err)
	assert.Equal(t, "req", v)

	_, err = h.th.Call(obj, "fail", "bad")
	require.Error(t, err)

	require.Len(t, h.spans.spans, 2)
	assert.Equal(t, "handle", h.spans.spans[0].Message)
	assert.Equal(t, "service call", h.spans.spans[0].Metric)
	assert.False(t, h.spans.spans[0].Failed())
	assert.Equal(t, "fail", h.spans.spans[1].Message)
	assert.Equal(t, "app.Err: bad", h.spans.spans[1].Error)

	st := h.agent.Status()
	assert.Equal(t, []string{"tracing"}, st.Plugins)
	assert.Equal(t, []string{"app"}, st.Loaders)
	assert.Equal(t, int64(1), st.Loads)
	assert.Zero(t, st.OpenSpans)
	assert.True(t, st.WeavingEnabled)
	n, err := testutil.GatherAndCount(h.reg, "glowroot_weaving_units_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n, "only the woven outcome was recorded")
}

func TestWeavingDisabled(t *testing.T) {
	h := newHarness(t)
	h.cfg.Set(Settings{Disabled: true})
	h.agent.Load(parseSet(t, tracingPlugin))

	_, err := h.th.Call(h.service(), "handle", "req")
	require.NoError(t, err)
	assert.Empty(t, h.spans.spans)
	assert.Zero(t, h.agent.Status().Loads)
	assert.False(t, h.agent.Status().WeavingEnabled)
}

func TestReloadRetransformsReweavableClasses(t *testing.T) {
	h := newHarness(t)
	h.agent.Load(parseSet(t, countingPlugin("first")))
	obj := h.service()

	_, err := h.th.Call(obj, "handle", "x")
	require.NoError(t, err)
	assert.Equal(t, int64(1), h.agent.Registry().Count("first"))

	report := h.agent.Reload(parseSet(t, countingPlugin("second")))
	assert.Equal(t, []string{"app/app.Service"}, report.Retransformed)
	assert.Empty(t, report.Failed)

	_, err = h.th.Call(obj, "handle", "x")
	require.NoError(t, err)
	assert.Equal(t, int64(1), h.agent.Registry().Count("first"), "old advice is gone")
	assert.Equal(t, int64(1), h.agent.Registry().Count("second"))

	// dropping every plugin restores the loaded code
	report = h.agent.Reload(&plugin.Set{})
	assert.Equal(t, []string{"app/app.Service"}, report.Retransformed)
	_, err = h.th.Call(obj, "handle", "x")
	require.NoError(t, err)
	assert.Equal(t, int64(1), h.agent.Registry().Count("second"))
	assert.Equal(t, int64(2), h.agent.Status().Reloads)
}

func TestLoadReportsProblems(t *testing.T) {
	h := newHarness(t)
	set := &plugin.Set{Plugins: []*plugin.Descriptor{{
		Name: "broken",
		Pointcuts: []plugin.Pointcut{
			{Declaration: advice.Declaration{Name: "no-method", TypeName: "app.*"}},
			{Declaration: advice.Declaration{
				Name: "custom", TypeName: "app.Service", MethodName: "handle",
				OnBefore: &advice.HookDecl{Ref: "custom.before"},
			}},
		},
	}}}
	report := h.agent.Load(set)
	assert.True(t, report.Diagnostics.HasErrors())
	assert.Equal(t, 1, report.Advice)
	assert.Equal(t, []string{"custom.before"}, report.MissingHooks)
}

func TestReloadPaths(t *testing.T) {
	h := newHarness(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tracing.yaml"), []byte(tracingPlugin), 0o644))

	report, err := h.agent.ReloadPaths(dir)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Plugins)

	_, err = h.agent.ReloadPaths(filepath.Join(dir, "missing"))
	assert.Error(t, err)
	assert.Equal(t, []string{"tracing"}, h.agent.Status().Plugins, "a failed read keeps the active plugins")
}

func TestWatchReloadsOnChange(t *testing.T) {
	h := newHarness(t)
	dir := t.TempDir()
	file := filepath.Join(dir, "counting.yaml")
	require.NoError(t, os.WriteFile(file, []byte(countingPlugin("first")), 0o644))
	_, err := h.agent.ReloadPaths(dir)
	require.NoError(t, err)

	pw, err := Watch(h.agent, []string{dir}, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer pw.Stop()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "tracing.yaml"), []byte(tracingPlugin), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))

	assert.Eventually(t, func() bool {
		return len(h.agent.Status().Plugins) == 2
	}, 5*time.Second, 20*time.Millisecond)
	assert.NoError(t, pw.Stop())
}

func TestWatchRejectsMissingPath(t *testing.T) {
	_, err := Watch(New(Options{}), []string{filepath.Join(t.TempDir(), "nope")}, nil)
	assert.ErrorContains(t, err, "plugin path")
}

func TestDebouncer(t *testing.T) {
	d := NewDebouncer(20 * time.Millisecond)
	got := make(chan []string, 2)
	d.SetCallback(func(files []string) { got <- files })

	d.Add("b.yaml")
	d.Add("a.yaml")
	d.Add("b.yaml")

	select {
	case files := <-got:
		assert.Equal(t, []string{"a.yaml", "b.yaml"}, files)
	case <-time.After(2 * time.Second):
		t.Fatal("debouncer never fired")
	}

	d.Stop()
	d.Add("c.yaml")
	select {
	case files := <-got:
		t.Fatalf("stopped debouncer fired with %v", files)
	case <-time.After(60 * time.Millisecond):
	}
}

func TestViperConfig(t *testing.T) {
	v := viper.New()
	cfg := NewViperConfig(v)
	assert.Equal(t, Settings{}, cfg.Weaving())

	v.Set("weaving.disabled", true)
	v.Set("weaving.metric_wrapper_methods_disabled", true)
	assert.Equal(t, Settings{Disabled: true, MetricWrapperMethodsDisabled: true}, cfg.Weaving())
}

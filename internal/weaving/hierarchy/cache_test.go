package hierarchy

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"go.uber.org/zap/zapcore"

	"github.com/scottag99/glowroot/internal/weaving/code"
	"github.com/scottag99/glowroot/internal/weaving/model"
)

type mapLoader struct {
	id         string
	units      map[string][]byte
	restricted map[string]bool
	calls      atomic.Int32
	gate       chan struct{}
}

func newMapLoader(id string, units ...*code.Unit) *mapLoader {
	l := &mapLoader{id: id, units: map[string][]byte{}, restricted: map[string]bool{}}
	for _, u := range units {
		l.units[u.Name] = code.MustEncode(u)
	}
	return l
}

func (l *mapLoader) ID() string { return l.id }

func (l *mapLoader) FindUnit(name string) ([]byte, error) {
	l.calls.Add(1)
	if l.gate != nil {
		<-l.gate
	}
	if l.restricted[name] {
		return nil, ErrRestricted
	}
	raw, ok := l.units[name]
	if !ok {
		return nil, ErrNotFound
	}
	return raw, nil
}

func iface(name string, supers ...string) *code.Unit {
	u := code.NewUnit(name, code.RootType, supers...)
	u.Access = code.AccInterface | code.AccAbstract | code.AccPublic
	return u
}

func names(tds []*model.TypeDescriptor) []string {
	out := make([]string, len(tds))
	for i, td := range tds {
		out[i] = td.Name()
	}
	return out
}

func TestResolveOrder(t *testing.T) {
	loader := newMapLoader("app",
		code.NewUnit("app.C", "app.B", "app.I3"),
		code.NewUnit("app.B", "app.A", "app.I2"),
		code.NewUnit("app.A", code.RootType, "app.I1"),
		iface("app.I1"),
		iface("app.I2", "app.I1"),
		iface("app.I3", "app.I4"),
		iface("app.I4"),
	)
	c := NewCache(nil)

	got := names(c.Resolve("app.C", loader))
	assert.Equal(t, []string{"app.C", "app.B", "app.A", "app.I3", "app.I2", "app.I1", "app.I4"}, got)
}

func TestResolveMemoizes(t *testing.T) {
	loader := newMapLoader("app", code.NewUnit("app.B", "app.A"), code.NewUnit("app.A", code.RootType))
	c := NewCache(nil)

	c.Resolve("app.B", loader)
	c.Resolve("app.B", loader)
	c.Resolve("app.A", loader)

	assert.Equal(t, int32(2), loader.calls.Load())
	assert.Equal(t, 2, c.Size())
}

func TestResolveScopedByLoader(t *testing.T) {
	one := newMapLoader("one", code.NewUnit("app.A", code.RootType, "app.X"))
	two := newMapLoader("two", code.NewUnit("app.A", code.RootType, "app.Y"))
	c := NewCache(nil)

	assert.Equal(t, []string{"app.X"}, c.Lookup("app.A", one).Interfaces())
	assert.Equal(t, []string{"app.Y"}, c.Lookup("app.A", two).Interfaces())
}

func TestResolveGapsWarnOnce(t *testing.T) {
	loader := newMapLoader("app",
		code.NewUnit("app.C", "app.B", "app.Hidden"),
		code.NewUnit("app.B", "app.Missing"),
	)
	loader.restricted["app.Hidden"] = true

	core, logs := observer.New(zapcore.WarnLevel)
	c := NewCache(zap.New(core))

	for i := 0; i < 3; i++ {
		got := names(c.Resolve("app.C", loader))
		assert.Equal(t, []string{"app.C", "app.B"}, got, "chain stops at the last resolvable ancestor")
	}

	require.Equal(t, 2, logs.Len(), "one warning per unresolvable key")
	codes := []any{logs.All()[0].ContextMap()["code"], logs.All()[1].ContextMap()["code"]}
	assert.ElementsMatch(t, []any{"HIE201", "HIE202"}, codes)
}

func TestResolveMalformedUnit(t *testing.T) {
	loader := newMapLoader("app", code.NewUnit("app.B", "app.A"))
	loader.units["app.A"] = []byte("garbage")

	core, logs := observer.New(zapcore.WarnLevel)
	c := NewCache(zap.New(core))

	assert.Equal(t, []string{"app.B"}, names(c.Resolve("app.B", loader)))
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "HIE203", logs.All()[0].ContextMap()["code"])
}

func TestLookupSingleFlight(t *testing.T) {
	loader := newMapLoader("app", code.NewUnit("app.A", code.RootType))
	loader.gate = make(chan struct{})
	c := NewCache(nil)

	var wg sync.WaitGroup
	results := make([]*model.TypeDescriptor, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = c.Lookup("app.A", loader)
		}(i)
	}

	// Let every goroutine reach the in-flight call before releasing it.
	time.Sleep(50 * time.Millisecond)
	close(loader.gate)
	wg.Wait()

	assert.Equal(t, int32(1), loader.calls.Load())
	for _, td := range results {
		require.NotNil(t, td)
		assert.Same(t, results[0], td)
	}
}

func TestAddAndReweavable(t *testing.T) {
	loader := newMapLoader("app")
	c := NewCache(nil)

	td := model.NewBuilder("app.Woven").Reweavable(true).Build()
	c.Add(td, loader)
	c.Add(model.NewBuilder("app.Plain").Build(), loader)

	assert.Same(t, td, c.Lookup("app.Woven", loader))
	assert.Equal(t, []string{"app.Woven"}, c.Reweavable("app"))
	assert.Empty(t, c.Reweavable("other"))
	assert.Equal(t, int32(0), loader.calls.Load())

	c.Invalidate("app.Woven", loader)
	assert.Nil(t, c.Lookup("app.Woven", loader))
}

func TestRootIsNeverLooked(t *testing.T) {
	loader := newMapLoader("app")
	c := NewCache(nil)

	assert.Nil(t, c.Lookup(code.RootType, loader))
	assert.Equal(t, int32(0), loader.calls.Load())
}

// Package agent wires the weaver to a runtime: it owns the advice catalog,
// the mixin resolver, the hierarchy cache and the plugin hooks, answers the
// runtime's load hook, and reloads plugins while classes are live.
package agent

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/scottag99/glowroot/internal/collector"
	"github.com/scottag99/glowroot/internal/plugin"
	"github.com/scottag99/glowroot/internal/runtime/interp"
	"github.com/scottag99/glowroot/internal/weaving/advice"
	"github.com/scottag99/glowroot/internal/weaving/errors"
	"github.com/scottag99/glowroot/internal/weaving/hierarchy"
	"github.com/scottag99/glowroot/internal/weaving/mixin"
	"github.com/scottag99/glowroot/internal/weaving/weaver"
)

// Options configures an Agent. Every field is optional.
type Options struct {
	Config ConfigService
	// Hooks receives the generated plugin hooks. It should be the table
	// of the runtime the agent is attached to.
	Hooks *interp.Hooks
	Sink  collector.Sink
	// Registerer receives the weaving metrics. Nil skips them.
	Registerer prometheus.Registerer
	Logger     *zap.Logger
}

// Agent is the load hook of a runtime.
type Agent struct {
	cfg         ConfigService
	logger      *zap.Logger
	catalog     *advice.Catalog
	mixins      *mixin.Resolver
	cache       *hierarchy.Cache
	transformer *weaver.Transformer
	registry    *plugin.Registry

	loads   atomic.Int64
	reloads atomic.Int64

	mu      sync.Mutex
	plugins *plugin.Set
	loaders map[string]*interp.Loader
}

// New creates an agent with an empty catalog.
func New(opts Options) *Agent {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg := opts.Config
	if cfg == nil {
		cfg = NewStaticConfig(Settings{})
	}
	hooks := opts.Hooks
	if hooks == nil {
		hooks = interp.NewHooks()
	}
	var metrics *weaver.Metrics
	if opts.Registerer != nil {
		metrics = weaver.NewMetrics(opts.Registerer)
	}

	a := &Agent{
		cfg:      cfg,
		logger:   logger,
		catalog:  advice.NewCatalog(nil),
		mixins:   mixin.NewResolver(nil),
		cache:    hierarchy.NewCache(logger),
		registry: plugin.NewRegistry(hooks, opts.Sink, logger),
		plugins:  &plugin.Set{},
		loaders:  make(map[string]*interp.Loader),
	}
	a.transformer = weaver.New(weaver.Config{
		Catalog:  a.catalog,
		Mixins:   a.mixins,
		Cache:    a.cache,
		Logger:   logger,
		Metrics:  metrics,
		Settings: weaverSettings(cfg),
	})
	return a
}

// Attach installs the agent as the load hook of rt.
func (a *Agent) Attach(rt *interp.Runtime) {
	rt.SetTransformHook(a)
}

// OnLoad weaves one unit as it is defined. Weaving failures are returned
// to the loader, which then defines the unit as loaded.
func (a *Agent) OnLoad(raw []byte, loader *interp.Loader) ([]byte, bool, error) {
	a.track(loader)
	if a.cfg.Weaving().Disabled {
		return raw, false, nil
	}
	a.loads.Add(1)
	res, err := a.transformer.Transform(raw, loader)
	if err != nil {
		return raw, false, err
	}
	if !res.Unchanged && res.Type != nil {
		a.logger.Debug("woven",
			zap.String("type", res.Type.Name()),
			zap.String("loader", loader.ID()),
			zap.Strings("methods", res.Woven),
			zap.Strings("mixins", res.Mixins))
	}
	return res.Raw, !res.Unchanged, nil
}

func (a *Agent) track(l *interp.Loader) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.loaders[l.ID()]; !ok {
		a.loaders[l.ID()] = l
	}
}

// ReloadReport describes the outcome of one plugin reload.
type ReloadReport struct {
	Plugins int
	Advice  int
	Mixins  int
	// Diagnostics holds the catalog problems of the new declarations.
	// Declarations with errors are left out of the catalog.
	Diagnostics errors.List
	// MissingHooks lists hook refs no Go function is registered for.
	MissingHooks []string
	// Retransformed lists the reweavable classes woven again, as
	// "loader/type".
	Retransformed []string
	// Failed maps "loader/type" to the retransformation error.
	Failed map[string]error
}

// Load replaces the active plugins with set without touching classes
// that are already defined.
func (a *Agent) Load(set *plugin.Set) ReloadReport {
	if set == nil {
		set = &plugin.Set{}
	}
	parsed, diags := advice.Parse(set.Pointcuts())
	mixins, mdiags := mixin.Parse(set.Mixins())
	diags = append(diags, mdiags...)
	for _, d := range diags {
		d.Log(a.logger)
	}

	// hooks go in before the catalog can weave calls to them
	a.registry.Bind(set)
	a.mixins.Reload(mixins)
	snap := a.catalog.Reload(parsed)

	a.mu.Lock()
	a.plugins = set
	a.mu.Unlock()

	report := ReloadReport{
		Plugins:      len(set.Plugins),
		Advice:       len(parsed),
		Mixins:       len(mixins),
		Diagnostics:  diags,
		MissingHooks: a.registry.Missing(set.Pointcuts()),
		Failed:       make(map[string]error),
	}
	if len(report.MissingHooks) > 0 {
		a.logger.Warn("advice hooks without implementation",
			zap.Strings("refs", report.MissingHooks))
	}
	a.logger.Info("plugins loaded",
		zap.Int("plugins", report.Plugins),
		zap.Int("advice", report.Advice),
		zap.Int("mixins", report.Mixins),
		zap.Int64("catalog_version", snap.Version))
	return report
}

// Reload loads set and then weaves again every defined class whose woven
// form carried reweavable advice. Retransformation is best effort: a class
// whose new form would change more than method bodies keeps its old code
// and is reported in Failed.
func (a *Agent) Reload(set *plugin.Set) ReloadReport {
	report := a.Load(set)
	a.reloads.Add(1)

	for _, l := range a.trackedLoaders() {
		names := a.cache.Reweavable(l.ID())
		sort.Strings(names)
		for _, name := range names {
			if _, ok := l.Loaded(name); !ok {
				continue
			}
			key := l.ID() + "/" + name
			if err := l.Retransform(name); err != nil {
				a.logger.Warn("retransformation failed",
					zap.String("type", name),
					zap.String("loader", l.ID()),
					zap.Error(err))
				report.Failed[key] = err
				continue
			}
			report.Retransformed = append(report.Retransformed, key)
		}
	}
	if n := len(report.Retransformed); n > 0 {
		a.logger.Info("retransformed reweavable classes", zap.Int("count", n))
	}
	return report
}

// ReloadPaths reads the plugin descriptors under paths and reloads them.
func (a *Agent) ReloadPaths(paths ...string) (ReloadReport, error) {
	set, err := plugin.Load(paths...)
	if err != nil {
		return ReloadReport{}, fmt.Errorf("loading plugins: %w", err)
	}
	return a.Reload(set), nil
}

func (a *Agent) trackedLoaders() []*interp.Loader {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]*interp.Loader, 0, len(a.loaders))
	for _, l := range a.loaders {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// Plugins returns the active plugin set.
func (a *Agent) Plugins() *plugin.Set {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.plugins
}

// Registry returns the hook registry of the agent.
func (a *Agent) Registry() *plugin.Registry { return a.registry }

// Transformer returns the weaver the agent loads through.
func (a *Agent) Transformer() *weaver.Transformer { return a.transformer }

// Cache returns the hierarchy cache.
func (a *Agent) Cache() *hierarchy.Cache { return a.cache }

// Status summarizes the agent for the admin endpoint.
type Status struct {
	Plugins        []string `json:"plugins"`
	Advice         int      `json:"advice"`
	Mixins         int      `json:"mixins"`
	CatalogVersion int64    `json:"catalog_version"`
	Loaders        []string `json:"loaders"`
	CachedTypes    int      `json:"cached_types"`
	Loads          int64    `json:"loads"`
	Reloads        int64    `json:"reloads"`
	OpenSpans      int      `json:"open_spans"`
	WeavingEnabled bool     `json:"weaving_enabled"`
}

// Status returns a point-in-time summary.
func (a *Agent) Status() Status {
	snap := a.catalog.Snapshot()
	s := Status{
		Advice:         len(snap.Advice),
		Mixins:         len(a.mixins.Active()),
		CatalogVersion: snap.Version,
		CachedTypes:    a.cache.Size(),
		Loads:          a.loads.Load(),
		Reloads:        a.reloads.Load(),
		OpenSpans:      a.registry.OpenSpans(),
		WeavingEnabled: !a.cfg.Weaving().Disabled,
		Plugins:        []string{},
		Loaders:        []string{},
	}
	for _, p := range a.Plugins().Plugins {
		s.Plugins = append(s.Plugins, p.Name)
	}
	for _, l := range a.trackedLoaders() {
		s.Loaders = append(s.Loaders, l.ID())
	}
	return s
}

// Package weaver rewrites compiled units so that matched advice hooks run
// around their methods and matched mixins contribute their members.
package weaver

import (
	"fmt"
	"runtime/debug"
	"time"

	"go.uber.org/zap"

	"github.com/scottag99/glowroot/internal/weaving/advice"
	"github.com/scottag99/glowroot/internal/weaving/code"
	"github.com/scottag99/glowroot/internal/weaving/errors"
	"github.com/scottag99/glowroot/internal/weaving/hierarchy"
	"github.com/scottag99/glowroot/internal/weaving/mixin"
	"github.com/scottag99/glowroot/internal/weaving/model"
)

// Transformer weaves units loaded through any loader. It holds no state
// between calls besides its collaborators, so one Transformer serves
// concurrent loads.
type Transformer struct {
	cfg    Config
	logger *zap.Logger
}

// New creates a transformer.
func New(cfg Config) *Transformer {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Mixins == nil {
		cfg.Mixins = mixin.NewResolver(nil)
	}
	if cfg.Cache == nil {
		cfg.Cache = hierarchy.NewCache(logger)
	}
	if cfg.Catalog == nil {
		cfg.Catalog = advice.NewCatalog(nil)
	}
	return &Transformer{cfg: cfg, logger: logger}
}

// Cache returns the hierarchy cache the transformer records units in.
func (t *Transformer) Cache() *hierarchy.Cache {
	return t.cfg.Cache
}

// transformation is the per-call state of one unit.
type transformation struct {
	t        *Transformer
	loader   hierarchy.Loader
	settings Settings

	unit *code.Unit
	td   *model.TypeDescriptor

	superHierarchy []*model.TypeDescriptor
	ifaceHierarchy []*model.TypeDescriptor
	ancestors      []*model.TypeDescriptor
	classMatches   []*advice.Descriptor
	mixins         []*mixin.Descriptor
	templates      map[string]*code.Unit

	counter    int
	reweavable bool
	woven      []string
	diags      errors.List
}

func (x *transformation) report(d *errors.Diagnostic) {
	x.diags = append(x.diags, d)
	d.Log(x.t.logger)
}

// Transform weaves the raw unit. It reports Unchanged when nothing applies.
// On error the returned result is unchanged and nothing is recorded in the
// hierarchy cache: a unit is never partially woven.
func (t *Transformer) Transform(raw []byte, loader hierarchy.Loader) (res Result, err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("weaver panic",
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
			err = fmt.Errorf("weaving panicked: %v", r)
		}
		outcome := ResultWoven
		switch {
		case err != nil:
			outcome = ResultFailed
			res = Result{Unchanged: true, Raw: raw, Diagnostics: res.Diagnostics}
		case res.Unchanged:
			outcome = ResultUnchanged
		}
		t.cfg.Metrics.observe(outcome, len(res.Woven), start)
	}()

	x, err := t.prepare(raw, loader)
	if err != nil {
		return Result{Unchanged: true, Raw: raw}, err
	}
	if x.unit == nil || (len(x.classMatches) == 0 && len(x.mixins) == 0) {
		if x.td != nil {
			t.cfg.Cache.Add(x.td, loader)
		}
		return Result{Unchanged: true, Raw: raw, Type: x.td}, nil
	}

	original := x.unit
	x.unit = original.Clone()
	x.bindTemplates()
	x.addInterfaces()

	for _, m := range append([]*code.Method(nil), x.unit.Methods...) {
		if m.Access&(code.AccNative|code.AccSynthetic|code.AccAbstract) != 0 {
			continue
		}
		if m.IsConstructor() && len(x.mixins) > 0 {
			x.injectInit(m)
		}
		matched := advice.MatchMethod(model.Describe(m), m.Access, x.classMatches)
		if len(matched) == 0 {
			continue
		}
		x.weave(m, matched)
	}
	x.addMembers()
	x.fulfillInterfaces()

	if len(x.woven) == 0 && len(x.mixins) == 0 {
		t.cfg.Cache.Add(x.td, loader)
		return Result{Unchanged: true, Raw: raw, Type: x.td, Diagnostics: x.diags}, nil
	}

	if err := code.Verify(x.unit); err != nil {
		return Result{Diagnostics: x.diags}, fmt.Errorf("verifying woven unit %s: %w", x.unit.Name, err)
	}
	out, err := code.Encode(x.unit)
	if err != nil {
		return Result{Diagnostics: x.diags}, fmt.Errorf("encoding woven unit %s: %w", x.unit.Name, err)
	}

	td := model.Analyze(x.unit).WithReweavable(x.reweavable)
	t.cfg.Cache.Add(td, loader)

	names := make([]string, len(x.mixins))
	for i, d := range x.mixins {
		names[i] = d.Name
	}
	t.logger.Debug("woven unit",
		zap.String("type", x.unit.Name),
		zap.Int("methods", len(x.woven)),
		zap.Strings("mixins", names))

	return Result{
		Raw:         out,
		Unit:        x.unit,
		Type:        td,
		Woven:       x.woven,
		Mixins:      names,
		Diagnostics: x.diags,
	}, nil
}

// prepare decodes the unit, resolves its hierarchy and computes class-level
// matches against one catalog snapshot. unit is nil for interfaces and the
// root type, which are recorded but never woven.
func (t *Transformer) prepare(raw []byte, loader hierarchy.Loader) (*transformation, error) {
	u, err := code.Decode(raw)
	if err != nil {
		return nil, fmt.Errorf("decoding unit: %w", err)
	}
	x := &transformation{t: t, loader: loader}
	if t.cfg.Settings != nil {
		x.settings = t.cfg.Settings()
	}

	x.td = model.Analyze(u)
	if x.td == nil || x.td.IsInterface() {
		return x, nil
	}
	x.unit = u

	cache := t.cfg.Cache
	x.superHierarchy = cache.Resolve(x.td.Super(), loader)
	for _, iface := range x.td.Interfaces() {
		x.ifaceHierarchy = append(x.ifaceHierarchy, cache.Resolve(iface, loader)...)
	}
	seen := make(map[string]bool)
	for _, a := range append(append([]*model.TypeDescriptor(nil), x.superHierarchy...), x.ifaceHierarchy...) {
		if seen[a.Name()] {
			continue
		}
		seen[a.Name()] = true
		x.ancestors = append(x.ancestors, a)
	}

	x.classMatches = advice.MatchClass(x.td, x.ancestors, t.cfg.Catalog.Snapshot())
	x.mixins = t.cfg.Mixins.Match(x.td, x.ancestors)
	return x, nil
}

// weave applies matched advice to m, splitting it into metric layers first
// when wrapper methods are enabled.
func (x *transformation) weave(m *code.Method, matched []*advice.Descriptor) {
	for _, a := range matched {
		if a.Reweavable {
			x.reweavable = true
		}
	}
	x.woven = append(x.woven, m.Key())

	target := m
	if metrics := metricNames(matched); len(metrics) > 0 && !x.settings.MetricWrapperMethodsDisabled {
		if m.IsConstructor() {
			x.report(errors.NewConstructorMetricWrapper(x.unit.Name + "." + m.Key()))
		} else {
			layers := splitMetricLayers(x.unit.Name, m, metrics, &x.counter)
			x.unit.Methods = append(x.unit.Methods, layers...)
			target = layers[len(layers)-1]
		}
	}
	weaveMethod(target, x.unit.Name, m.Name, matched, x.report)
}

// Plan reports the method-level matches of the raw unit without weaving it,
// including inherited methods that would be woven through an override.
func (t *Transformer) Plan(raw []byte, loader hierarchy.Loader) ([]MatchResult, error) {
	x, err := t.prepare(raw, loader)
	if err != nil {
		return nil, err
	}
	if x.unit == nil {
		return nil, nil
	}
	var out []MatchResult
	for _, m := range x.unit.Methods {
		if m.Access&(code.AccNative|code.AccSynthetic|code.AccAbstract) != 0 {
			continue
		}
		md := model.Describe(m)
		matched := advice.MatchMethod(md, m.Access, x.classMatches)
		if len(matched) == 0 {
			continue
		}
		out = append(out, MatchResult{Type: x.unit.Name, Method: md, Advice: matched, Mixins: x.mixins})
	}
	for _, im := range x.inheritedMatches() {
		out = append(out, MatchResult{
			Type: x.unit.Name, Method: im.method, Advice: im.advice, Mixins: x.mixins, Inherited: true,
		})
	}
	return out, nil
}

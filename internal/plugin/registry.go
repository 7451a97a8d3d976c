package plugin

import (
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/scottag99/glowroot/internal/collector"
	"github.com/scottag99/glowroot/internal/runtime/interp"
	"github.com/scottag99/glowroot/internal/weaving/advice"
)

// Registry binds the hooks of captured pointcuts to Go functions in the
// runtime's hook table.
type Registry struct {
	hooks  *interp.Hooks
	sink   collector.Sink
	logger *zap.Logger

	mu     sync.Mutex
	counts map[string]int64
	stacks map[*interp.Thread][]*collector.Span
}

// NewRegistry creates a registry installing hooks into hooks and reporting
// spans to sink. A nil sink disables span capture.
func NewRegistry(hooks *interp.Hooks, sink collector.Sink, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		hooks:  hooks,
		sink:   sink,
		logger: logger,
		counts: make(map[string]int64),
		stacks: make(map[*interp.Thread][]*collector.Span),
	}
}

// Register installs a custom hook.
func (r *Registry) Register(ref string, fn interp.HookFunc) {
	r.hooks.Register(ref, fn)
}

// Bind installs the generated hooks of every captured pointcut in set.
// Binding again replaces earlier functions under the same refs.
func (r *Registry) Bind(set *Set) {
	for _, p := range set.Captured() {
		switch p.Capture {
		case CaptureSpan:
			r.bindSpan(p)
		case CaptureCount:
			r.bindCount(p)
		}
		r.logger.Debug("bound captured pointcut",
			zap.String("pointcut", p.Name),
			zap.String("capture", p.Capture),
			zap.String("source", p.Source))
	}
}

func (r *Registry) bindSpan(p Pointcut) {
	metric := p.MetricName
	if metric == "" {
		metric = p.Name
	}
	r.hooks.Register(spanStartRef(p.Name), func(t *interp.Thread, args []interp.Value) (interp.Value, error) {
		if r.sink == nil {
			return nil, nil
		}
		message, _ := args[0].(string)
		return r.push(t, message, metric), nil
	})
	r.hooks.Register(spanEndRef(p.Name), func(t *interp.Thread, args []interp.Value) (interp.Value, error) {
		if s := r.pop(t, args[0]); s != nil {
			r.sink.EndSpan(s)
		}
		return nil, nil
	})
	r.hooks.Register(spanErrorRef(p.Name), func(t *interp.Thread, args []interp.Value) (interp.Value, error) {
		if s := r.pop(t, args[1]); s != nil {
			r.sink.EndWithError(s, interp.FormatValue(args[0]))
		}
		return nil, nil
	})
}

// push starts a span nested under the innermost open span of t.
func (r *Registry) push(t *interp.Thread, message, metric string) *collector.Span {
	r.mu.Lock()
	stack := r.stacks[t]
	r.mu.Unlock()

	var s *collector.Span
	if cs, ok := r.sink.(collector.ChildStarter); ok && len(stack) > 0 {
		s = cs.StartChild(stack[len(stack)-1], message, metric)
	} else {
		s = r.sink.StartSpan(message, metric)
	}

	r.mu.Lock()
	r.stacks[t] = append(r.stacks[t], s)
	r.mu.Unlock()
	return s
}

// pop removes the traveler span from the stack of t.
func (r *Registry) pop(t *interp.Thread, traveler interp.Value) *collector.Span {
	s, ok := traveler.(*collector.Span)
	if !ok || s == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	stack := r.stacks[t]
	for i := len(stack) - 1; i >= 0; i-- {
		if stack[i] == s {
			stack = append(stack[:i], stack[i+1:]...)
			break
		}
	}
	if len(stack) == 0 {
		delete(r.stacks, t)
	} else {
		r.stacks[t] = stack
	}
	return s
}

func (r *Registry) bindCount(p Pointcut) {
	for _, event := range []string{"before", "return", "throw"} {
		key := p.Name
		if event != "before" {
			key += "." + event
		}
		r.hooks.Register(countRef(p.Name, event), func(*interp.Thread, []interp.Value) (interp.Value, error) {
			r.mu.Lock()
			r.counts[key]++
			r.mu.Unlock()
			return nil, nil
		})
	}
}

// Count returns how often a counted pointcut fired. key is the pointcut
// name for entries, or the name suffixed with ".return" or ".throw".
func (r *Registry) Count(key string) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts[key]
}

// OpenSpans returns the number of spans started through the registry and
// not yet ended, over all threads.
func (r *Registry) OpenSpans() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.stacks {
		n += len(s)
	}
	return n
}

// Missing returns the hook refs named by decls that are not registered,
// sorted and without duplicates.
func (r *Registry) Missing(decls []advice.Declaration) []string {
	seen := make(map[string]bool)
	var out []string
	for _, d := range decls {
		for _, h := range []*advice.HookDecl{d.IsEnabled, d.OnBefore, d.OnReturn, d.OnThrow, d.OnAfter} {
			if h == nil || seen[h.Ref] {
				continue
			}
			seen[h.Ref] = true
			if _, ok := r.hooks.Lookup(h.Ref); !ok {
				out = append(out, h.Ref)
			}
		}
	}
	sort.Strings(out)
	return out
}

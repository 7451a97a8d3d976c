// Package hierarchy resolves and memoizes the ancestor chains of types so
// that advice declared against an ancestor can be matched on descendants.
package hierarchy

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/scottag99/glowroot/internal/weaving/code"
	werrors "github.com/scottag99/glowroot/internal/weaving/errors"
	"github.com/scottag99/glowroot/internal/weaving/model"
)

var (
	// ErrNotFound is returned by loaders that cannot locate a unit.
	ErrNotFound = errors.New("hierarchy: unit not found")
	// ErrRestricted is returned by loaders when a unit exists but is not
	// visible from the requesting context.
	ErrRestricted = errors.New("hierarchy: unit not visible")
)

// Loader locates raw units by name. Its ID scopes memoized descriptors.
type Loader interface {
	ID() string
	FindUnit(name string) ([]byte, error)
}

type key struct {
	loader string
	name   string
}

// entry is a memoized lookup. A nil Type marks a gap.
type entry struct {
	Type     *model.TypeDescriptor
	Err      error
	CachedAt time.Time
}

// Cache memoizes type descriptors per (loader, name). Reads of different keys
// never block each other; concurrent misses on the same key are collapsed
// into a single lookup.
type Cache struct {
	entries map[key]*entry
	mu      sync.RWMutex
	group   singleflight.Group
	logger  *zap.Logger
}

// NewCache creates an empty cache.
func NewCache(logger *zap.Logger) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{
		entries: make(map[key]*entry),
		logger:  logger,
	}
}

// Lookup returns the descriptor of name as seen by loader, or nil when the
// type is the root, or cannot be resolved. Unresolvable types are memoized
// as gaps and warned about once.
func (c *Cache) Lookup(name string, loader Loader) *model.TypeDescriptor {
	if name == "" || name == code.RootType {
		return nil
	}
	k := key{loader: loader.ID(), name: name}

	c.mu.RLock()
	e, ok := c.entries[k]
	c.mu.RUnlock()
	if ok {
		return e.Type
	}

	v, _, _ := c.group.Do(k.loader+"\x00"+k.name, func() (any, error) {
		// Double-check inside singleflight
		c.mu.RLock()
		e, ok := c.entries[k]
		c.mu.RUnlock()
		if ok {
			return e, nil
		}

		e = c.load(name, loader)
		c.mu.Lock()
		c.entries[k] = e
		c.mu.Unlock()
		return e, nil
	})
	return v.(*entry).Type
}

func (c *Cache) load(name string, loader Loader) *entry {
	now := time.Now()
	raw, err := loader.FindUnit(name)
	if err != nil {
		gap := werrors.ErrAncestorNotFound
		if errors.Is(err, ErrRestricted) {
			gap = werrors.ErrAncestorRestricted
		}
		werrors.NewAncestorGap(gap, loader.ID(), name, err).Log(c.logger)
		return &entry{Err: err, CachedAt: now}
	}
	u, err := code.Decode(raw)
	if err != nil {
		werrors.NewAncestorGap(werrors.ErrAncestorMalformed, loader.ID(), name, err).Log(c.logger)
		return &entry{Err: err, CachedAt: now}
	}
	return &entry{Type: model.Analyze(u), CachedAt: now}
}

// Resolve returns the descriptor of name followed by its ancestors: the
// class chain first, then every reachable interface. Gaps shorten the result
// but never fail it.
func (c *Cache) Resolve(name string, loader Loader) []*model.TypeDescriptor {
	td := c.Lookup(name, loader)
	if td == nil {
		return nil
	}
	return append([]*model.TypeDescriptor{td}, c.Ancestors(td, loader)...)
}

// Ancestors returns the ancestors of td, excluding td itself: supertypes
// before their own supertypes, then interfaces of the whole chain
// transitively, without duplicates.
func (c *Cache) Ancestors(td *model.TypeDescriptor, loader Loader) []*model.TypeDescriptor {
	var out []*model.TypeDescriptor
	seen := map[string]bool{td.Name(): true}

	chain := []*model.TypeDescriptor{td}
	for name := td.Super(); name != "" && !seen[name]; {
		seen[name] = true
		a := c.Lookup(name, loader)
		if a == nil {
			break
		}
		out = append(out, a)
		chain = append(chain, a)
		name = a.Super()
	}

	var queue []string
	for _, t := range chain {
		queue = append(queue, t.Interfaces()...)
	}
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		if seen[name] {
			continue
		}
		seen[name] = true
		a := c.Lookup(name, loader)
		if a == nil {
			continue
		}
		out = append(out, a)
		queue = append(queue, a.Interfaces()...)
		if s := a.Super(); s != "" {
			queue = append(queue, s)
		}
	}
	return out
}

// Add retains the descriptor of a unit the weaver produced, replacing any
// earlier entry for the same key.
func (c *Cache) Add(td *model.TypeDescriptor, loader Loader) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key{loader: loader.ID(), name: td.Name()}] = &entry{Type: td, CachedAt: time.Now()}
}

// Invalidate removes one entry so the next lookup reloads it.
func (c *Cache) Invalidate(name string, loader Loader) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, key{loader: loader.ID(), name: name})
}

// Size returns the number of memoized entries, gaps included.
func (c *Cache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.entries)
}

// Reweavable returns the names of types known to loaderID whose woven form
// carries reweavable advice.
func (c *Cache) Reweavable(loaderID string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var names []string
	for k, e := range c.entries {
		if k.loader == loaderID && e.Type != nil && e.Type.HasReweavableAdvice() {
			names = append(names, k.name)
		}
	}
	return names
}

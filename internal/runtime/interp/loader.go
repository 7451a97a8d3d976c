package interp

import (
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/scottag99/glowroot/internal/weaving/code"
)

// UnitExt is the file extension of units in a directory classpath.
const UnitExt = ".glwu"

var (
	// ErrClassNotFound is returned when no loader in the chain has a unit.
	ErrClassNotFound = stderrors.New("class not found")
	// ErrIncompatibleRetransform is returned when a retransformation would
	// change anything but method bodies.
	ErrIncompatibleRetransform = stderrors.New("retransformation may only change method bodies")
)

// Source supplies raw units by type name.
type Source interface {
	Find(name string) ([]byte, error)
}

// MemorySource is an in-memory classpath.
type MemorySource struct {
	mu    sync.RWMutex
	units map[string][]byte
}

// NewMemorySource creates a classpath holding units.
func NewMemorySource(units ...*code.Unit) (*MemorySource, error) {
	s := &MemorySource{units: make(map[string][]byte)}
	for _, u := range units {
		if err := s.Add(u); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Add encodes u and stores it under its name.
func (s *MemorySource) Add(u *code.Unit) error {
	raw, err := code.Encode(u)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", u.Name, err)
	}
	s.Put(u.Name, raw)
	return nil
}

// Put stores raw bytes under name.
func (s *MemorySource) Put(name string, raw []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.units[name] = raw
}

func (s *MemorySource) Find(name string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	raw, ok := s.units[name]
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, ErrClassNotFound)
	}
	return raw, nil
}

// DirSource is a classpath directory holding one <name>.glwu file per unit.
type DirSource struct {
	Dir string
}

func (s DirSource) Find(name string) ([]byte, error) {
	raw, err := os.ReadFile(filepath.Join(s.Dir, name+UnitExt))
	if stderrors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", name, ErrClassNotFound)
	}
	return raw, err
}

// Names lists the units in the directory, sorted.
func (s DirSource) Names() ([]string, error) {
	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		return nil, fmt.Errorf("reading classpath: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), UnitExt) {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), UnitExt))
	}
	sort.Strings(names)
	return names, nil
}

// TransformHook intercepts every unit a loader defines.
type TransformHook interface {
	// OnLoad returns the bytes to define. changed is false when the unit
	// is defined as loaded.
	OnLoad(raw []byte, loader *Loader) (out []byte, changed bool, err error)
}

// Loader defines classes from a source, delegating to its parent first.
type Loader struct {
	rt     *Runtime
	id     string
	parent *Loader
	source Source

	mu      sync.Mutex
	classes map[string]*Class
}

// ID identifies the loader in hierarchy caches.
func (l *Loader) ID() string {
	return l.id
}

// Parent returns the parent loader, or nil.
func (l *Loader) Parent() *Loader {
	return l.parent
}

// FindUnit returns the raw bytes of name as the loader would see them,
// parent first.
func (l *Loader) FindUnit(name string) ([]byte, error) {
	if l.parent != nil {
		raw, err := l.parent.FindUnit(name)
		if err == nil || !stderrors.Is(err, ErrClassNotFound) {
			return raw, err
		}
	}
	if l.source == nil {
		return nil, fmt.Errorf("%s: %w", name, ErrClassNotFound)
	}
	return l.source.Find(name)
}

// Loaded returns the class defined by this loader, if any.
func (l *Loader) Loaded(name string) (*Class, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	c, ok := l.classes[name]
	return c, ok
}

// Classes returns the classes defined by this loader, sorted by name.
func (l *Loader) Classes() []*Class {
	l.mu.Lock()
	out := make([]*Class, 0, len(l.classes))
	for _, c := range l.classes {
		out = append(out, c)
	}
	l.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// LoadClass returns the class name, defining it on first use. The parent
// is asked first; the loader defines the class only if no parent can.
func (l *Loader) LoadClass(name string) (*Class, error) {
	if name == code.RootType || name == "" {
		return nil, fmt.Errorf("%s: %w", name, ErrClassNotFound)
	}
	if c, ok := l.Loaded(name); ok {
		return c, nil
	}
	if l.parent != nil {
		c, err := l.parent.LoadClass(name)
		if err == nil || !stderrors.Is(err, ErrClassNotFound) {
			return c, err
		}
	}
	if l.source == nil {
		return nil, fmt.Errorf("%s: %w", name, ErrClassNotFound)
	}
	raw, err := l.source.Find(name)
	if err != nil {
		return nil, err
	}
	return l.define(name, raw)
}

// transform runs the runtime's transform hook. Hook failures never prevent
// definition: the unit is defined as loaded.
func (l *Loader) transform(name string, raw []byte) []byte {
	hook := l.rt.transformHook()
	if hook == nil {
		return raw
	}
	out, changed, err := hook.OnLoad(raw, l)
	if err != nil {
		l.rt.logger.Warn("transform hook failed",
			zap.String("type", name),
			zap.String("loader", l.id),
			zap.Error(err))
		return raw
	}
	if !changed {
		return raw
	}
	return out
}

func (l *Loader) define(name string, raw []byte) (*Class, error) {
	u, err := code.Decode(l.transform(name, raw))
	if err != nil {
		return nil, fmt.Errorf("defining %s: %w", name, err)
	}
	if u.Name != name {
		return nil, fmt.Errorf("defining %s: unit is named %s", name, u.Name)
	}

	var super *Class
	if sn := u.SuperName(); sn != "" {
		if super, err = l.LoadClass(sn); err != nil {
			return nil, fmt.Errorf("defining %s: loading supertype: %w", name, err)
		}
	}
	for _, iface := range u.Interfaces {
		if _, err := l.LoadClass(iface); err != nil && !stderrors.Is(err, ErrClassNotFound) {
			return nil, fmt.Errorf("defining %s: loading interface: %w", name, err)
		}
	}

	c := newClass(u, super, l, raw)
	l.mu.Lock()
	defer l.mu.Unlock()
	if existing, ok := l.classes[name]; ok {
		return existing, nil
	}
	l.classes[name] = c
	l.rt.logger.Debug("defined class", zap.String("type", name), zap.String("loader", l.id))
	return c, nil
}

// Retransform passes the originally loaded bytes of name through the
// transform hook again and swaps in the new method bodies. Only bodies may
// change; anything else fails with ErrIncompatibleRetransform and leaves
// the class as it was.
func (l *Loader) Retransform(name string) error {
	c, ok := l.Loaded(name)
	if !ok {
		return fmt.Errorf("retransforming %s: %w", name, ErrClassNotFound)
	}
	u, err := code.Decode(l.transform(name, c.original))
	if err != nil {
		return fmt.Errorf("retransforming %s: %w", name, err)
	}
	if err := sameShape(c.Unit(), u); err != nil {
		return fmt.Errorf("retransforming %s: %w", name, err)
	}
	c.replace(u)
	return nil
}

func sameShape(old, cur *code.Unit) error {
	if old.Super != cur.Super || strings.Join(old.Interfaces, ",") != strings.Join(cur.Interfaces, ",") {
		return fmt.Errorf("%w: hierarchy changed", ErrIncompatibleRetransform)
	}
	if len(old.Fields) != len(cur.Fields) {
		return fmt.Errorf("%w: fields changed", ErrIncompatibleRetransform)
	}
	for i := range old.Fields {
		if old.Fields[i] != cur.Fields[i] {
			return fmt.Errorf("%w: field %s changed", ErrIncompatibleRetransform, old.Fields[i].Name)
		}
	}
	keys := make(map[string]code.Access, len(old.Methods))
	for _, m := range old.Methods {
		keys[m.Key()] = m.Access
	}
	if len(keys) != len(cur.Methods) {
		return fmt.Errorf("%w: methods added or removed", ErrIncompatibleRetransform)
	}
	for _, m := range cur.Methods {
		acc, ok := keys[m.Key()]
		if !ok || acc != m.Access {
			return fmt.Errorf("%w: method %s changed", ErrIncompatibleRetransform, m.Key())
		}
	}
	return nil
}

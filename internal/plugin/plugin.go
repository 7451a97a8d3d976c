// Package plugin reads plugin descriptors: YAML files declaring pointcuts
// and mixins, and binds the hooks they reference to Go functions.
package plugin

import (
	"bytes"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/scottag99/glowroot/internal/weaving/advice"
	"github.com/scottag99/glowroot/internal/weaving/mixin"
)

// MaxDescriptorSize bounds a descriptor file.
const MaxDescriptorSize = 1 << 20

// Capture kinds generate the hooks of a pointcut.
const (
	CaptureSpan  = "span"
	CaptureCount = "count"
)

// Pointcut is an advice declaration that may delegate its hooks to a
// built-in capture kind instead of naming them.
type Pointcut struct {
	advice.Declaration `yaml:",inline"`
	Capture            string `yaml:"capture"`
}

// Descriptor is one plugin file.
type Descriptor struct {
	Name      string              `yaml:"name"`
	Version   string              `yaml:"version"`
	Pointcuts []Pointcut          `yaml:"pointcuts"`
	Mixins    []mixin.Declaration `yaml:"mixins"`

	Path string `yaml:"-"`
}

// Parse decodes one descriptor. Unknown keys are errors so that misspelled
// hook names do not silently drop advice.
func Parse(data []byte, path string) (*Descriptor, error) {
	if len(data) > MaxDescriptorSize {
		return nil, fmt.Errorf("%s: descriptor exceeds %d bytes", path, MaxDescriptorSize)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var d Descriptor
	if err := dec.Decode(&d); err != nil {
		if stderrors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%s: empty descriptor", path)
		}
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if d.Name == "" {
		return nil, fmt.Errorf("%s: plugin name is required", path)
	}
	d.Path = path

	for i := range d.Pointcuts {
		p := &d.Pointcuts[i]
		p.Source = path
		if err := p.expand(); err != nil {
			return nil, fmt.Errorf("%s: pointcut %q: %w", path, p.Name, err)
		}
	}
	for i := range d.Mixins {
		d.Mixins[i].Source = path
	}
	return &d, nil
}

// Hook refs generated for captured pointcuts.
func spanStartRef(name string) string { return "span.start:" + name }
func spanEndRef(name string) string   { return "span.end:" + name }
func spanErrorRef(name string) string { return "span.error:" + name }
func countRef(name, event string) string {
	return "count." + event + ":" + name
}

// expand fills in the hooks of a captured pointcut.
func (p *Pointcut) expand() error {
	switch p.Capture {
	case "":
		return nil
	case CaptureSpan, CaptureCount:
	default:
		return fmt.Errorf("unknown capture %q", p.Capture)
	}
	if p.OnBefore != nil || p.OnReturn != nil || p.OnThrow != nil {
		return fmt.Errorf("capture %q cannot be combined with onBefore, onReturn or onThrow", p.Capture)
	}

	if p.Capture == CaptureSpan {
		p.OnBefore = &advice.HookDecl{Ref: spanStartRef(p.Name), Params: []string{"METHOD_NAME"}, Traveler: "Object"}
		p.OnReturn = &advice.HookDecl{Ref: spanEndRef(p.Name), Params: []string{"TRAVELER"}}
		p.OnThrow = &advice.HookDecl{Ref: spanErrorRef(p.Name), Params: []string{"THROWABLE", "TRAVELER"}}
		return nil
	}
	p.OnBefore = &advice.HookDecl{Ref: countRef(p.Name, "before")}
	p.OnReturn = &advice.HookDecl{Ref: countRef(p.Name, "return")}
	p.OnThrow = &advice.HookDecl{Ref: countRef(p.Name, "throw")}
	return nil
}

// Set is the collection of loaded plugins.
type Set struct {
	Plugins []*Descriptor
}

// Load reads every descriptor named by paths. A directory contributes its
// *.yaml and *.yml files in name order.
func Load(paths ...string) (*Set, error) {
	files, err := Files(paths...)
	if err != nil {
		return nil, err
	}
	set := &Set{}
	byName := make(map[string]string)
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			return nil, fmt.Errorf("failed to read plugin: %w", err)
		}
		d, err := Parse(data, f)
		if err != nil {
			return nil, err
		}
		if prev, ok := byName[d.Name]; ok {
			return nil, fmt.Errorf("plugin %q declared in both %s and %s", d.Name, prev, f)
		}
		byName[d.Name] = f
		set.Plugins = append(set.Plugins, d)
	}
	return set, nil
}

// Files expands paths into descriptor files.
func Files(paths ...string) ([]string, error) {
	var out []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("plugin path: %w", err)
		}
		if !info.IsDir() {
			out = append(out, p)
			continue
		}
		entries, err := os.ReadDir(p)
		if err != nil {
			return nil, fmt.Errorf("plugin path: %w", err)
		}
		var names []string
		for _, e := range entries {
			if !e.IsDir() && IsDescriptor(e.Name()) {
				names = append(names, filepath.Join(p, e.Name()))
			}
		}
		sort.Strings(names)
		out = append(out, names...)
	}
	return out, nil
}

// IsDescriptor reports whether a file name looks like a plugin descriptor.
func IsDescriptor(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return (ext == ".yaml" || ext == ".yml") && !strings.HasPrefix(filepath.Base(name), ".")
}

// Pointcuts returns the advice declarations of every plugin in load order.
func (s *Set) Pointcuts() []advice.Declaration {
	var out []advice.Declaration
	for _, d := range s.Plugins {
		for _, p := range d.Pointcuts {
			out = append(out, p.Declaration)
		}
	}
	return out
}

// Mixins returns the mixin declarations of every plugin in load order.
func (s *Set) Mixins() []mixin.Declaration {
	var out []mixin.Declaration
	for _, d := range s.Plugins {
		out = append(out, d.Mixins...)
	}
	return out
}

// Captured returns the pointcuts using a capture kind.
func (s *Set) Captured() []Pointcut {
	var out []Pointcut
	for _, d := range s.Plugins {
		for _, p := range d.Pointcuts {
			if p.Capture != "" {
				out = append(out, p)
			}
		}
	}
	return out
}

package advice

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/scottag99/glowroot/internal/weaving/code"
)

// BindingKind identifies what value a hook parameter receives.
type BindingKind uint8

const (
	BindTarget BindingKind = iota + 1
	BindMethodArg
	BindMethodArgArray
	BindMethodName
	BindReturn
	BindOptionalReturn
	BindTraveler
	BindThrowable
)

var bindingNames = map[BindingKind]string{
	BindTarget:         "TARGET",
	BindMethodArg:      "METHOD_ARG",
	BindMethodArgArray: "METHOD_ARG_ARRAY",
	BindMethodName:     "METHOD_NAME",
	BindReturn:         "RETURN",
	BindOptionalReturn: "OPTIONAL_RETURN",
	BindTraveler:       "TRAVELER",
	BindThrowable:      "THROWABLE",
}

func (k BindingKind) String() string {
	if n, ok := bindingNames[k]; ok {
		return n
	}
	return fmt.Sprintf("BindingKind(%d)", uint8(k))
}

// Binding is one hook parameter. Index is meaningful for METHOD_ARG only.
// Type, when declared, selects the default substituted if the binding
// cannot be satisfied for a given method.
type Binding struct {
	Kind  BindingKind
	Index int
	Type  string
}

func (b Binding) String() string {
	s := b.Kind.String()
	if b.Kind == BindMethodArg {
		s += "(" + strconv.Itoa(b.Index) + ")"
	}
	if b.Type != "" {
		s += ":" + b.Type
	}
	return s
}

// ParseBinding parses the textual form KIND, METHOD_ARG(n), optionally
// followed by ":type".
func ParseBinding(text string) (Binding, error) {
	var b Binding
	text = strings.TrimSpace(text)
	if i := strings.LastIndex(text, ":"); i >= 0 {
		b.Type = strings.TrimSpace(text[i+1:])
		text = strings.TrimSpace(text[:i])
	}
	name := strings.ToUpper(text)
	if open := strings.Index(name, "("); open >= 0 {
		if !strings.HasSuffix(name, ")") || name[:open] != "METHOD_ARG" {
			return b, fmt.Errorf("malformed binding %q", text)
		}
		n, err := strconv.Atoi(strings.TrimSpace(name[open+1 : len(name)-1]))
		if err != nil {
			return b, fmt.Errorf("malformed METHOD_ARG index in %q", text)
		}
		b.Kind = BindMethodArg
		b.Index = n
		return b, nil
	}
	for k, n := range bindingNames {
		if n == name {
			b.Kind = k
			return b, nil
		}
	}
	return b, fmt.Errorf("unknown binding %q", text)
}

// HookKind identifies one of the five advice hooks.
type HookKind uint8

const (
	HookIsEnabled HookKind = iota
	HookOnBefore
	HookOnReturn
	HookOnThrow
	HookOnAfter
)

func (k HookKind) String() string {
	switch k {
	case HookIsEnabled:
		return "isEnabled"
	case HookOnBefore:
		return "onBefore"
	case HookOnReturn:
		return "onReturn"
	case HookOnThrow:
		return "onThrow"
	case HookOnAfter:
		return "onAfter"
	default:
		return fmt.Sprintf("HookKind(%d)", uint8(k))
	}
}

// allowedBindings lists the binding kinds each hook may declare.
var allowedBindings = map[HookKind]map[BindingKind]bool{
	HookIsEnabled: {BindTarget: true, BindMethodArg: true, BindMethodArgArray: true, BindMethodName: true},
	HookOnBefore:  {BindTarget: true, BindMethodArg: true, BindMethodArgArray: true, BindMethodName: true},
	HookOnReturn: {BindTarget: true, BindMethodArg: true, BindMethodArgArray: true, BindMethodName: true,
		BindReturn: true, BindOptionalReturn: true, BindTraveler: true},
	HookOnThrow: {BindTarget: true, BindMethodArg: true, BindMethodArgArray: true, BindMethodName: true,
		BindThrowable: true, BindTraveler: true},
	HookOnAfter: {BindTarget: true, BindMethodArg: true, BindMethodArgArray: true, BindMethodName: true,
		BindTraveler: true},
}

// Hook is a resolved hook declaration.
type Hook struct {
	Kind   HookKind
	Ref    string
	Params []Binding
	// Traveler is the type of the value onBefore returns, empty when it
	// returns nothing.
	Traveler string
}

// FirstBinding returns the kind of the first parameter, or zero.
func (h *Hook) FirstBinding() BindingKind {
	if len(h.Params) == 0 {
		return 0
	}
	return h.Params[0].Kind
}

// Descriptor is one validated advice.
type Descriptor struct {
	Name   string
	Source string

	Type      *TypePattern
	Method    *NamePattern
	Args      *ArgsPattern
	Return    *ReturnPattern
	Modifiers code.Access

	CaptureNested bool
	MetricName    string
	Reweavable    bool

	IsEnabled *Hook
	OnBefore  *Hook
	OnReturn  *Hook
	OnThrow   *Hook
	OnAfter   *Hook
}

// FlowKey names the per-thread flag used to suppress nested invocations.
func (d *Descriptor) FlowKey() string {
	return "glowroot.nested." + d.Name
}

// Traveler returns the traveler type, or "" when onBefore produces none.
func (d *Descriptor) Traveler() string {
	if d.OnBefore == nil {
		return ""
	}
	return d.OnBefore.Traveler
}

// NeedsHandler reports whether weaving this advice requires an exception
// region around the method body.
func (d *Descriptor) NeedsHandler() bool {
	return !d.CaptureNested || d.OnThrow != nil || d.OnAfter != nil
}

// Hooks returns the declared hooks in evaluation order.
func (d *Descriptor) Hooks() []*Hook {
	var hooks []*Hook
	for _, h := range []*Hook{d.IsEnabled, d.OnBefore, d.OnReturn, d.OnThrow, d.OnAfter} {
		if h != nil {
			hooks = append(hooks, h)
		}
	}
	return hooks
}

func (d *Descriptor) String() string {
	return fmt.Sprintf("%s{%s.%s%s}", d.Name, d.Type, d.Method, d.Args)
}

package weaver

import (
	"go.uber.org/zap"

	"github.com/scottag99/glowroot/internal/weaving/advice"
	"github.com/scottag99/glowroot/internal/weaving/code"
	"github.com/scottag99/glowroot/internal/weaving/errors"
	"github.com/scottag99/glowroot/internal/weaving/hierarchy"
	"github.com/scottag99/glowroot/internal/weaving/mixin"
	"github.com/scottag99/glowroot/internal/weaving/model"
)

// Settings are the weaving options polled at the start of every
// transformation.
type Settings struct {
	MetricWrapperMethodsDisabled bool
}

// Config wires a Transformer to its collaborators. Catalog and Cache are
// required; everything else is optional.
type Config struct {
	Catalog  *advice.Catalog
	Mixins   *mixin.Resolver
	Cache    *hierarchy.Cache
	Logger   *zap.Logger
	Metrics  *Metrics
	Settings func() Settings
}

// Result is the outcome of transforming one unit. When Unchanged is true,
// Raw is the input and Unit is nil.
type Result struct {
	Unchanged bool
	Raw       []byte
	Unit      *code.Unit
	Type      *model.TypeDescriptor

	// Woven lists the keys of methods that received advice, including
	// synthesized interface-fulfillment overrides.
	Woven []string
	// Mixins lists the names of the mixins applied.
	Mixins      []string
	Diagnostics errors.List
}

// MatchResult binds one method of a type to the advice that apply to it and
// to the mixins of the enclosing type.
type MatchResult struct {
	Type   string
	Method *model.MethodDescriptor
	Advice []*advice.Descriptor
	Mixins []*mixin.Descriptor
	// Inherited is set for methods fulfilled by an ancestor that would be
	// woven through a synthesized override.
	Inherited bool
}

// AdviceNames returns the advice names in application order.
func (r MatchResult) AdviceNames() []string {
	names := make([]string, len(r.Advice))
	for i, a := range r.Advice {
		names[i] = a.Name
	}
	return names
}

package weaver

import (
	"fmt"
	"strings"

	"github.com/scottag99/glowroot/internal/weaving/advice"
	"github.com/scottag99/glowroot/internal/weaving/code"
)

// metricNames returns the distinct metric names of matched in catalog order.
func metricNames(matched []*advice.Descriptor) []string {
	var names []string
	seen := make(map[string]bool)
	for _, a := range matched {
		if a.MetricName == "" || seen[a.MetricName] {
			continue
		}
		seen[a.MetricName] = true
		names = append(names, a.MetricName)
	}
	return names
}

// wrapperName builds the name of one delegate layer. n comes from a counter
// scoped to the enclosing unit, so names never collide.
func wrapperName(method, metric string, n int) string {
	return fmt.Sprintf("%s%s%s$%d", method, MetricMarker, strings.ReplaceAll(metric, " ", "$"), n)
}

// splitMetricLayers turns m into a chain of delegating layers, one per
// metric. m keeps its name, access and signature and forwards to the first
// layer; each layer forwards to the next, and the last layer receives the
// original body. The new layers are returned with the innermost last.
func splitMetricLayers(owner string, m *code.Method, metrics []string, counter *int) []*code.Method {
	if len(metrics) == 0 {
		return nil
	}
	body := m.Clone()

	layers := make([]*code.Method, len(metrics))
	for i, metric := range metrics {
		*counter++
		l := &code.Method{
			Access:     code.AccPrivate | code.AccFinal | m.Access&code.AccStatic,
			Name:       wrapperName(m.Name, metric, *counter),
			Params:     append([]string(nil), m.Params...),
			Return:     m.Return,
			Exceptions: append([]string(nil), m.Exceptions...),
		}
		layers[i] = l
	}

	inner := layers[len(layers)-1]
	inner.MaxLocals = body.MaxLocals
	inner.Labels = body.Labels
	inner.Code = body.Code
	inner.Handlers = body.Handlers
	inner.Locals = body.Locals

	forward(owner, m, layers[0])
	for i := 0; i < len(layers)-1; i++ {
		forward(owner, layers[i], layers[i+1])
	}
	return layers
}

// forward replaces the body of from with a direct call to to.
func forward(owner string, from, to *code.Method) {
	from.Code = nil
	from.Handlers = nil
	from.Locals = nil
	from.Labels = 0
	from.MaxLocals = from.ArgSlots()

	g := code.NewGenerator(from)
	op := code.OpInvokeSpecial
	if from.IsStatic() {
		op = code.OpInvokeStatic
	} else {
		g.Load(0)
	}
	g.LoadArgs()
	g.Invoke(op, owner, to.Name, to.Params, to.Return)
	g.Return(to.Return)
	from.Code = g.Code()
}

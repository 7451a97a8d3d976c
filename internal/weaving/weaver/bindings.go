package weaver

import (
	"strings"

	"github.com/scottag99/glowroot/internal/weaving/advice"
	"github.com/scottag99/glowroot/internal/weaving/code"
	"github.com/scottag99/glowroot/internal/weaving/errors"
)

// exitKind tells the binding loader which exit values are available.
type exitKind uint8

const (
	exitNone exitKind = iota
	exitVoid
	exitValue
	exitThrow
)

// MetricMarker separates the visible method name from the generated suffix
// of metric wrapper layers.
const MetricMarker = "$glowroot$metric$"

// VisibleName strips the metric wrapper suffix from a method name.
func VisibleName(name string) string {
	if i := strings.Index(name, MetricMarker); i >= 0 {
		return name[:i]
	}
	return name
}

// loadBindings pushes the arguments of h in declaration order. A binding
// that cannot be satisfied for this method pushes the default of its
// declared type and is reported once.
func (w *methodWeaver) loadBindings(a *advice.Descriptor, h *advice.Hook, exit exitKind) {
	g := w.g
	hook := a.Name + "." + h.Kind.String()
	for _, b := range h.Params {
		switch b.Kind {
		case advice.BindTarget:
			if w.m.IsStatic() {
				g.Emit(code.Instruction{Op: code.OpTypeRef, Owner: w.owner})
			} else {
				g.Load(0)
			}

		case advice.BindMethodArg:
			if b.Index >= len(w.m.Params) {
				w.warn(string(errors.ErrArgIndexOutOfRange)+"|"+hook,
					errors.NewArgIndexOutOfRange(w.subject(), hook, b.Index, len(w.m.Params)))
				pushDefault(g, b.Type)
				continue
			}
			g.LoadArg(b.Index)

		case advice.BindMethodArgArray:
			g.LoadArgArray()

		case advice.BindMethodName:
			g.PushString(VisibleName(w.name))

		case advice.BindTraveler:
			slot, ok := w.traveler[a]
			if !ok {
				w.warn(string(errors.ErrTravelerWithoutOnBefore)+"|"+hook,
					errors.NewTravelerWithoutOnBefore(w.subject(), hook))
				pushDefault(g, b.Type)
				continue
			}
			g.Load(slot)

		case advice.BindReturn:
			if exit != exitValue {
				w.warn(string(errors.ErrReturnOnVoid)+"|"+hook,
					errors.NewReturnOnVoid(w.subject(), hook))
				pushDefault(g, b.Type)
				continue
			}
			g.Load(w.retLocal)

		case advice.BindOptionalReturn:
			if exit != exitValue {
				g.Emit(code.Instruction{Op: code.OpOptionalReturn, Index: 0})
				continue
			}
			g.Load(w.retLocal)
			g.Emit(code.Instruction{Op: code.OpOptionalReturn, Index: 1})

		case advice.BindThrowable:
			g.Load(w.excLocal)
		}
	}
}

// pushDefault pushes the default of t, or null when no type was declared.
func pushDefault(g *code.Generator, t string) {
	if t == "" || t == code.Void {
		g.Op(code.OpNull)
		return
	}
	g.PushDefault(t)
}

package weaver

import (
	"fmt"
	"strings"

	"github.com/scottag99/glowroot/internal/weaving/advice"
	"github.com/scottag99/glowroot/internal/weaving/code"
	"github.com/scottag99/glowroot/internal/weaving/errors"
)

// site is the replacement code of one original return instruction.
type site struct {
	start, end code.Label
}

// methodWeaver rewrites one method body around its matched advice. It is
// used once and holds no state beyond that method.
type methodWeaver struct {
	m      *code.Method
	owner  string
	name   string // visible method name, used for METHOD_NAME
	advice []*advice.Descriptor
	report func(*errors.Diagnostic)

	g        *code.Generator
	enabled  map[*advice.Descriptor]int
	prev     map[*advice.Descriptor]int
	traveler map[*advice.Descriptor]int

	needsHandler bool
	retLocal     int
	excLocal     int
	adviceExc    int
	inner        []code.Handler
	sites        []site
	warned       map[string]bool
}

// weaveMethod rewrites m in place. name is the method's visible name, which
// differs from m.Name for the innermost layer of a metric wrapper chain.
func weaveMethod(m *code.Method, owner, name string, matched []*advice.Descriptor, report func(*errors.Diagnostic)) {
	w := &methodWeaver{
		m:         m,
		owner:     owner,
		name:      name,
		advice:    matched,
		report:    report,
		enabled:   make(map[*advice.Descriptor]int),
		prev:      make(map[*advice.Descriptor]int),
		traveler:  make(map[*advice.Descriptor]int),
		retLocal:  -1,
		excLocal:  -1,
		adviceExc: -1,
		warned:    make(map[string]bool),
	}
	for _, a := range matched {
		if a.NeedsHandler() {
			w.needsHandler = true
			break
		}
	}
	w.weave()
}

func (w *methodWeaver) weave() {
	normalizeLabels(w.m)
	original := w.m.Code
	originalHandlers := w.m.Handlers

	g := code.NewGenerator(w.m)
	w.g = g
	methodStart := g.NewLabel()
	g.Mark(methodStart)

	// nesting locals start out cleared so that a failure before they are
	// evaluated restores nothing
	for _, a := range w.advice {
		w.initFlow(a)
	}
	beforeStart := g.NewLabel()
	g.Mark(beforeStart)
	// enabled and traveler locals are defined before any region so that
	// every exit path can read them
	for _, a := range w.advice {
		w.defineEnabled(a)
		w.defineTraveler(a)
	}
	// onBefore runs outside the method's region: its failures are the
	// call's own failures, raised after the nesting flags are restored
	for _, a := range w.advice {
		w.invokeOnBefore(a)
	}
	beforeEnd := g.NewLabel()
	g.Mark(beforeEnd)

	var outerStart code.Label
	if w.needsHandler {
		outerStart = g.NewLabel()
		g.Mark(outerStart)
	}

	exits := w.hasExitCode()
	for _, in := range original {
		if exits && in.Op.IsReturn() {
			w.visitReturn(in.Op)
			continue
		}
		g.Emit(in)
	}

	var outer []code.Handler
	if w.needsHandler {
		catchEnd := g.NewLabel()
		throwHandler := g.NewLabel()
		outer = []code.Handler{
			{Start: outerStart, End: catchEnd, Target: catchEnd, CatchType: code.MarkerType},
			{Start: outerStart, End: catchEnd, Target: throwHandler},
		}

		g.Mark(catchEnd)
		g.Op(code.OpMarkerUnwrap)
		g.Op(code.OpThrow)

		g.Mark(throwHandler)
		w.excLocal = g.NewLocal()
		g.Store(w.excLocal)
		w.visitOnThrow()
		afterStart := g.NewLabel()
		g.Mark(afterStart)
		w.visitOnAfter()
		afterEnd := g.NewLabel()
		g.Mark(afterEnd)
		w.resetFlow()
		g.Load(w.excLocal)
		g.Op(code.OpThrow)

		// a failing onAfter replaces the method's exception, but the
		// nesting flags are restored first
		if w.hasFlow() && !isLabelOnly(g.Code(), afterStart, afterEnd) {
			afterFailed := g.NewLabel()
			w.inner = append(w.inner, code.Handler{Start: afterStart, End: afterEnd, Target: afterFailed})
			g.Mark(afterFailed)
			w.resetFlow()
			g.Op(code.OpThrow)
		}
	}

	if w.hasFlow() && !isLabelOnly(g.Code(), beforeStart, beforeEnd) {
		beforeFailed := g.NewLabel()
		w.inner = append(w.inner, code.Handler{Start: beforeStart, End: beforeEnd, Target: beforeFailed})
		g.Mark(beforeFailed)
		w.resetFlow()
		g.Op(code.OpThrow)
	}

	methodEnd := g.NewLabel()
	g.Mark(methodEnd)

	w.m.Code = g.Code()
	handlers := append([]code.Handler(nil), w.inner...)
	handlers = append(handlers, splitHandlers(w.m.Code, originalHandlers, w.sites)...)
	w.m.Handlers = append(handlers, outer...)
	w.describeLocals(methodStart, methodEnd)
}

// hasExitCode reports whether any code must run on normal exit.
func (w *methodWeaver) hasExitCode() bool {
	for _, a := range w.advice {
		if a.OnReturn != nil || a.OnAfter != nil || !a.CaptureNested {
			return true
		}
	}
	return false
}

func (w *methodWeaver) hasAfterCode() bool {
	for _, a := range w.advice {
		if a.OnAfter != nil || !a.CaptureNested {
			return true
		}
	}
	return false
}

// hasFlow reports whether any advice suppresses nested invocations.
func (w *methodWeaver) hasFlow() bool {
	for _, a := range w.advice {
		if !a.CaptureNested {
			return true
		}
	}
	return false
}

// initFlow allocates the enabled and saved-flag locals of an advice that
// suppresses nested invocations and clears both.
func (w *methodWeaver) initFlow(a *advice.Descriptor) {
	if a.CaptureNested {
		return
	}
	g := w.g
	slot, prev := g.NewLocal(), g.NewLocal()
	w.enabled[a] = slot
	w.prev[a] = prev
	g.PushBool(false)
	g.Store(slot)
	g.PushBool(false)
	g.Store(prev)
}

func (w *methodWeaver) defineEnabled(a *advice.Descriptor) {
	g := w.g
	slot, hasSlot := w.enabled[a]
	if a.IsEnabled != nil {
		w.loadBindings(a, a.IsEnabled, exitNone)
		g.InvokeHook(a.IsEnabled.Ref, len(a.IsEnabled.Params), true)
		if !hasSlot {
			slot = g.NewLocal()
			w.enabled[a] = slot
		}
		g.Store(slot)
	}
	if a.CaptureNested {
		return
	}
	prev := w.prev[a]

	end := g.NewLabel()
	if a.IsEnabled != nil {
		g.Load(slot)
		g.Jump(code.OpJumpIfFalse, end)
	}

	top := g.NewLabel()
	g.FlowGet(a.FlowKey())
	g.Op(code.OpDup)
	g.Store(prev)
	g.Jump(code.OpJumpIfFalse, top)

	// nested: an enclosing call of this advice is active on the thread
	g.PushBool(false)
	g.Store(slot)
	g.Jump(code.OpJump, end)

	g.Mark(top)
	g.PushBool(true)
	g.FlowSet(a.FlowKey())
	g.PushBool(true)
	g.Store(slot)
	g.Mark(end)
}

func (w *methodWeaver) defineTraveler(a *advice.Descriptor) {
	t := a.Traveler()
	if t == "" {
		return
	}
	slot := w.g.NewLocal()
	w.g.PushDefault(t)
	w.g.Store(slot)
	w.traveler[a] = slot
}

// guard skips the following hook when the advice is disabled for this
// invocation. The returned function places the skip label.
func (w *methodWeaver) guard(a *advice.Descriptor) func() {
	slot, ok := w.enabled[a]
	if !ok {
		return func() {}
	}
	skip := w.g.NewLabel()
	w.g.Load(slot)
	w.g.Jump(code.OpJumpIfFalse, skip)
	return func() { w.g.Mark(skip) }
}

func (w *methodWeaver) invokeOnBefore(a *advice.Descriptor) {
	h := a.OnBefore
	if h == nil {
		return
	}
	done := w.guard(a)
	w.loadBindings(a, h, exitNone)
	slot, hasTraveler := w.traveler[a]
	w.g.InvokeHook(h.Ref, len(h.Params), hasTraveler)
	if hasTraveler {
		w.g.Store(slot)
	}
	done()
}

func (w *methodWeaver) visitOnReturn(exit exitKind) {
	for i := len(w.advice) - 1; i >= 0; i-- {
		a := w.advice[i]
		if a.OnReturn == nil {
			continue
		}
		done := w.guard(a)
		w.loadBindings(a, a.OnReturn, exit)
		w.g.InvokeHook(a.OnReturn.Ref, len(a.OnReturn.Params), false)
		done()
	}
}

// visitOnThrow runs each onThrow hook in its own region. A failing hook is
// dropped so that the remaining hooks and onAfter still run and the
// method's own exception is the one rethrown.
func (w *methodWeaver) visitOnThrow() {
	g := w.g
	for i := len(w.advice) - 1; i >= 0; i-- {
		a := w.advice[i]
		if a.OnThrow == nil {
			continue
		}
		start, end, failed, next := g.NewLabel(), g.NewLabel(), g.NewLabel(), g.NewLabel()
		g.Mark(start)
		done := w.guard(a)
		w.loadBindings(a, a.OnThrow, exitThrow)
		g.InvokeHook(a.OnThrow.Ref, len(a.OnThrow.Params), false)
		done()
		g.Mark(end)
		g.Jump(code.OpJump, next)

		w.inner = append(w.inner, code.Handler{Start: start, End: end, Target: failed})
		g.Mark(failed)
		g.Op(code.OpPop)
		g.Mark(next)
	}
}

func (w *methodWeaver) visitOnAfter() {
	for i := len(w.advice) - 1; i >= 0; i-- {
		a := w.advice[i]
		if a.OnAfter == nil {
			continue
		}
		done := w.guard(a)
		w.loadBindings(a, a.OnAfter, exitNone)
		w.g.InvokeHook(a.OnAfter.Ref, len(a.OnAfter.Params), false)
		done()
	}
}

// resetFlow restores the nesting flag of every advice this invocation set.
func (w *methodWeaver) resetFlow() {
	for _, a := range w.advice {
		if a.CaptureNested {
			continue
		}
		skip := w.g.NewLabel()
		w.g.Load(w.enabled[a])
		w.g.Jump(code.OpJumpIfFalse, skip)
		w.g.Load(w.prev[a])
		w.g.FlowSet(a.FlowKey())
		w.g.Mark(skip)
	}
}

// visitReturn replaces one return instruction with the normal-exit advice
// followed by the original return.
func (w *methodWeaver) visitReturn(op code.Opcode) {
	g := w.g
	s := site{start: g.NewLabel()}
	g.Mark(s.start)

	exit := exitVoid
	if op == code.OpReturnValue {
		exit = exitValue
		if w.retLocal < 0 {
			w.retLocal = g.NewLocal()
		}
		g.Store(w.retLocal)
	}

	if w.needsHandler {
		w.visitGuardedExit(exit)
	} else {
		w.visitOnReturn(exit)
	}

	if exit == exitValue {
		g.Load(w.retLocal)
	}
	g.Op(op)
	s.end = g.NewLabel()
	g.Mark(s.end)
	w.sites = append(w.sites, s)
}

// visitGuardedExit emits onReturn, onAfter and the flow reset inside inner
// regions. A failure there is wrapped in a marker so the outer region
// rethrows it unchanged instead of treating it as the method's own failure.
// When onReturn fails, onAfter still runs before the failure is rethrown.
// Nesting flags are restored before any failure leaves the exit code.
func (w *methodWeaver) visitGuardedExit(exit exitKind) {
	g := w.g
	cont := g.NewLabel()
	wrap := g.NewLabel()

	returnStart := g.NewLabel()
	g.Mark(returnStart)
	w.visitOnReturn(exit)
	returnEnd := g.NewLabel()
	g.Mark(returnEnd)
	hasOnReturn := g.Len() > 0 && !isLabelOnly(g.Code(), returnStart, returnEnd)

	w.visitOnAfter()
	w.resetFlow()
	g.Jump(code.OpJump, cont)
	afterEnd := g.NewLabel()
	g.Mark(afterEnd)

	if hasOnReturn {
		failed := g.NewLabel()
		w.inner = append(w.inner, code.Handler{Start: returnStart, End: returnEnd, Target: failed})
		g.Mark(failed)
		if w.adviceExc < 0 {
			w.adviceExc = g.NewLocal()
		}
		g.Store(w.adviceExc)
		if w.hasAfterCode() {
			afterStart := g.NewLabel()
			g.Mark(afterStart)
			w.visitOnAfter()
			w.resetFlow()
			afterStop := g.NewLabel()
			g.Mark(afterStop)
			w.inner = append(w.inner, code.Handler{Start: afterStart, End: afterStop, Target: wrap})
		}
		g.Load(w.adviceExc)
		g.Op(code.OpMarkerWrap)
		g.Op(code.OpThrow)
	}

	w.inner = append(w.inner, code.Handler{Start: returnEnd, End: afterEnd, Target: wrap})
	g.Mark(wrap)
	w.resetFlow()
	g.Op(code.OpMarkerWrap)
	g.Op(code.OpThrow)
	g.Mark(cont)
}

func (w *methodWeaver) describeLocals(start, end code.Label) {
	for i, a := range w.advice {
		if slot, ok := w.enabled[a]; ok {
			w.m.Locals = append(w.m.Locals, code.LocalVar{
				Name: fmt.Sprintf("glowroot$enabled$%d", i), Type: "boolean", Index: slot, Start: start, End: end,
			})
		}
		if slot, ok := w.prev[a]; ok {
			w.m.Locals = append(w.m.Locals, code.LocalVar{
				Name: fmt.Sprintf("glowroot$nested$%d", i), Type: "boolean", Index: slot, Start: start, End: end,
			})
		}
		if slot, ok := w.traveler[a]; ok {
			w.m.Locals = append(w.m.Locals, code.LocalVar{
				Name: fmt.Sprintf("glowroot$traveler$%d", i), Type: a.Traveler(), Index: slot, Start: start, End: end,
			})
		}
	}
}

func (w *methodWeaver) subject() string {
	return w.owner + "." + w.name + "(" + strings.Join(w.m.Params, ", ") + ")"
}

func (w *methodWeaver) warn(key string, d *errors.Diagnostic) {
	if w.warned[key] {
		return
	}
	w.warned[key] = true
	if w.report != nil {
		w.report(d)
	}
}

// splitHandlers removes every return site from the ranges of the method's
// own handlers, so advice code that replaced a return is never caught by
// the method's handlers.
func splitHandlers(body []code.Instruction, handlers []code.Handler, sites []site) []code.Handler {
	if len(sites) == 0 || len(handlers) == 0 {
		return handlers
	}
	pos := labelPositions(body)
	var out []code.Handler
	for _, h := range handlers {
		from, to := pos[h.Start], pos[h.End]
		cur := h.Start
		split := false
		for _, s := range sites {
			p := pos[s.start]
			if p < from || p >= to {
				continue
			}
			split = true
			seg := code.Handler{Start: cur, End: s.start, Target: h.Target, CatchType: h.CatchType}
			if !isLabelOnly(body, seg.Start, seg.End) {
				out = append(out, seg)
			}
			cur = s.end
		}
		if !split {
			out = append(out, h)
			continue
		}
		seg := code.Handler{Start: cur, End: h.End, Target: h.Target, CatchType: h.CatchType}
		if !isLabelOnly(body, seg.Start, seg.End) {
			out = append(out, seg)
		}
	}
	return out
}

func labelPositions(body []code.Instruction) map[code.Label]int {
	pos := make(map[code.Label]int)
	for i, in := range body {
		if in.Op == code.OpLabel {
			pos[in.Label] = i
		}
	}
	return pos
}

// isLabelOnly reports whether no real instruction lies between the two
// labels.
func isLabelOnly(body []code.Instruction, from, to code.Label) bool {
	pos := labelPositions(body)
	start, ok1 := pos[from]
	end, ok2 := pos[to]
	if !ok1 || !ok2 {
		return true
	}
	for i := start; i < end; i++ {
		if body[i].Op != code.OpLabel {
			return false
		}
	}
	return true
}

// normalizeLabels makes the label counter cover every label already used
// by the method.
func normalizeLabels(m *code.Method) {
	bump := func(l code.Label) {
		if int(l) > m.Labels {
			m.Labels = int(l)
		}
	}
	for _, in := range m.Code {
		if in.Op == code.OpLabel || in.Op.IsJump() {
			bump(in.Label)
		}
	}
	for _, h := range m.Handlers {
		bump(h.Start)
		bump(h.End)
		bump(h.Target)
	}
	for _, l := range m.Locals {
		bump(l.Start)
		bump(l.End)
	}
	if m.MaxLocals < m.ArgSlots() {
		m.MaxLocals = m.ArgSlots()
	}
}

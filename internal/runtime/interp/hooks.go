package interp

import (
	stderrors "errors"
	"sort"
	"sync"
)

// HookFunc implements one advice hook. args are the bound parameters in
// declaration order. A returned error is thrown at the hook's call site.
type HookFunc func(t *Thread, args []Value) (Value, error)

// Hooks maps hook refs to implementations.
type Hooks struct {
	mu    sync.RWMutex
	funcs map[string]HookFunc
}

// NewHooks creates an empty registry.
func NewHooks() *Hooks {
	return &Hooks{funcs: make(map[string]HookFunc)}
}

// Register binds ref to fn, replacing any previous binding.
func (h *Hooks) Register(ref string, fn HookFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.funcs[ref] = fn
}

// Lookup returns the implementation of ref.
func (h *Hooks) Lookup(ref string) (HookFunc, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	fn, ok := h.funcs[ref]
	return fn, ok
}

// Refs returns the registered refs in sorted order.
func (h *Hooks) Refs() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	refs := make([]string, 0, len(h.funcs))
	for r := range h.funcs {
		refs = append(refs, r)
	}
	sort.Strings(refs)
	return refs
}

// asThrowable converts a hook error to the throwable raised at the call site.
func asThrowable(err error) *Throwable {
	var t *Throwable
	if stderrors.As(err, &t) {
		return t
	}
	return NewThrowable(AdviceErrorType, err.Error())
}

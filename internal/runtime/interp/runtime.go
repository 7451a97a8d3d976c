package interp

import (
	"sync"

	"go.uber.org/zap"

	"github.com/scottag99/glowroot/internal/runtime/flow"
)

// DefaultMaxDepth bounds the call depth of one thread.
const DefaultMaxDepth = 1024

// Runtime owns the hook registry and the transform hook shared by every
// loader it creates.
type Runtime struct {
	hooks    *Hooks
	logger   *zap.Logger
	MaxDepth int

	mu   sync.RWMutex
	hook TransformHook
}

// NewRuntime creates a runtime resolving hook refs through hooks.
func NewRuntime(hooks *Hooks, logger *zap.Logger) *Runtime {
	if hooks == nil {
		hooks = NewHooks()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runtime{hooks: hooks, logger: logger, MaxDepth: DefaultMaxDepth}
}

// Hooks returns the hook registry.
func (rt *Runtime) Hooks() *Hooks {
	return rt.hooks
}

// SetTransformHook installs the hook every later definition passes through.
func (rt *Runtime) SetTransformHook(h TransformHook) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.hook = h
}

func (rt *Runtime) transformHook() TransformHook {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	return rt.hook
}

// NewLoader creates a loader reading from src and delegating to parent.
func (rt *Runtime) NewLoader(id string, parent *Loader, src Source) *Loader {
	return &Loader{
		rt:      rt,
		id:      id,
		parent:  parent,
		source:  src,
		classes: make(map[string]*Class),
	}
}

// NewThread creates a thread with its own flow store.
func (rt *Runtime) NewThread() *Thread {
	return &Thread{rt: rt, Flow: flow.NewStore()}
}

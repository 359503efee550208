package errors

import (
	"sync"
	"sync/atomic"
)

// ErrorHook is called for every error built while at least one hook is
// registered. Hooks must not block.
type ErrorHook func(ee *EnhancedError)

var (
	hooksMu  sync.RWMutex
	hooks    []ErrorHook
	hasHooks atomic.Bool
)

// AddErrorHook registers a hook invoked from Build.
func AddErrorHook(hook ErrorHook) {
	if hook == nil {
		return
	}
	hooksMu.Lock()
	defer hooksMu.Unlock()
	hooks = append(hooks, hook)
	hasHooks.Store(true)
}

// ClearErrorHooks removes all registered hooks.
func ClearErrorHooks() {
	hooksMu.Lock()
	defer hooksMu.Unlock()
	hooks = nil
	hasHooks.Store(false)
}

func runHooks(ee *EnhancedError) {
	hooksMu.RLock()
	snapshot := hooks
	hooksMu.RUnlock()

	for _, hook := range snapshot {
		hook(ee)
	}
}

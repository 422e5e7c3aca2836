package dispatch

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/vk/taskdispatch/internal/ctxlog"
	"github.com/vk/taskdispatch/internal/node"
)

// PreDispatchFunc runs before the job directory is created.
type PreDispatchFunc func(ctx context.Context, d *Dispatcher, nodes []node.TaskNode)

// DispatchFunc runs once the job directory exists, before the batch graph is
// built.
type DispatchFunc func(ctx context.Context, d *Dispatcher, nodes []node.TaskNode)

// PostDispatchFunc runs after the backend returns, whatever the outcome.
type PostDispatchFunc func(ctx context.Context, d *Dispatcher, nodes []node.TaskNode, success bool)

// Hooks holds lifecycle observers. Observers run synchronously in
// registration order. A panicking observer is logged and skipped. The zero
// value is ready to use.
type Hooks struct {
	mu       sync.RWMutex
	pre      []PreDispatchFunc
	dispatch []DispatchFunc
	post     []PostDispatchFunc
}

// OnPreDispatch registers fn.
func (h *Hooks) OnPreDispatch(fn PreDispatchFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pre = append(h.pre, fn)
}

// OnDispatch registers fn.
func (h *Hooks) OnDispatch(fn DispatchFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dispatch = append(h.dispatch, fn)
}

// OnPostDispatch registers fn.
func (h *Hooks) OnPostDispatch(fn PostDispatchFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.post = append(h.post, fn)
}

func (h *Hooks) emitPre(ctx context.Context, d *Dispatcher, nodes []node.TaskNode) {
	if h == nil {
		return
	}
	h.mu.RLock()
	fns := slices.Clone(h.pre)
	h.mu.RUnlock()
	for _, fn := range fns {
		safeCall(ctx, "pre-dispatch", func() { fn(ctx, d, nodes) })
	}
}

func (h *Hooks) emitDispatch(ctx context.Context, d *Dispatcher, nodes []node.TaskNode) {
	if h == nil {
		return
	}
	h.mu.RLock()
	fns := slices.Clone(h.dispatch)
	h.mu.RUnlock()
	for _, fn := range fns {
		safeCall(ctx, "dispatch", func() { fn(ctx, d, nodes) })
	}
}

func (h *Hooks) emitPost(ctx context.Context, d *Dispatcher, nodes []node.TaskNode, success bool) {
	if h == nil {
		return
	}
	h.mu.RLock()
	fns := slices.Clone(h.post)
	h.mu.RUnlock()
	for _, fn := range fns {
		safeCall(ctx, "post-dispatch", func() { fn(ctx, d, nodes, success) })
	}
}

func safeCall(ctx context.Context, hook string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			ctxlog.FromContext(ctx).Error("Dispatch hook panicked.", "hook", hook, "panic", fmt.Sprint(r))
		}
	}()
	fn()
}

package batch

import (
	"context"
	"fmt"
	"slices"

	"github.com/vk/taskdispatch/internal/frames"
	"github.com/vk/taskdispatch/internal/node"
	"github.com/vk/taskdispatch/internal/taskctx"
)

// TaskBatch executes one node across a set of frames under a context that
// carries no frame entry.
type TaskBatch struct {
	node      node.TaskNode
	context   taskctx.Context
	frames    []int
	preTasks  []*TaskBatch
	immediate bool
}

// Node returns the batch's node, nil for the root.
func (b *TaskBatch) Node() node.TaskNode { return b.node }

// Context returns the batch context. It never contains a frame entry.
func (b *TaskBatch) Context() taskctx.Context { return b.context }

// Frames returns the ascending frames to execute. Empty means no-op.
func (b *TaskBatch) Frames() []int { return slices.Clone(b.frames) }

// PreTasks returns the batches that must complete before this one.
func (b *TaskBatch) PreTasks() []*TaskBatch { return slices.Clone(b.preTasks) }

// Immediate reports whether the batch runs at dispatch time.
func (b *TaskBatch) Immediate() bool { return b.immediate }

// NoOp reports whether executing the batch does nothing.
func (b *TaskBatch) NoOp() bool { return b.node == nil || len(b.frames) == 0 }

// IsRoot reports whether b is the synthetic root batch.
func (b *TaskBatch) IsRoot() bool { return b.node == nil }

// String describes the batch as its node name and frame list.
func (b *TaskBatch) String() string {
	if b.node == nil {
		return "root"
	}
	if len(b.frames) == 0 {
		return b.node.Name()
	}
	return fmt.Sprintf("%s %s", b.node.Name(), frames.Format(b.frames))
}

// Execute runs the node once per frame, in order, stopping at the first
// error. Nodes that require sequence execution get all frames in one call.
// No-op batches return immediately.
func (b *TaskBatch) Execute(ctx context.Context) error {
	if b.NoOp() {
		return nil
	}
	if seq, ok := node.AsSequence(b.node); ok {
		if err := seq.ExecuteSequence(ctx, b.context, slices.Clone(b.frames)); err != nil {
			return fmt.Errorf("batch %s failed: %w", b, err)
		}
		return nil
	}
	for _, f := range b.frames {
		if err := b.node.Execute(ctx, b.context.WithFrame(f)); err != nil {
			return fmt.Errorf("batch %s failed on frame %d: %w", b, f, err)
		}
	}
	return nil
}

// addPreTask appends up unless it is already present.
func (b *TaskBatch) addPreTask(up *TaskBatch) {
	if !slices.Contains(b.preTasks, up) {
		b.preTasks = append(b.preTasks, up)
	}
}

// Walk calls fn for every batch reachable from root exactly once, upstream
// batches before their dependents. It stops at the first error.
func Walk(root *TaskBatch, fn func(*TaskBatch) error) error {
	visited := make(map[*TaskBatch]bool)
	var visit func(b *TaskBatch) error
	visit = func(b *TaskBatch) error {
		if visited[b] {
			return nil
		}
		visited[b] = true
		for _, up := range b.preTasks {
			if err := visit(up); err != nil {
				return err
			}
		}
		return fn(b)
	}
	return visit(root)
}

// ExecuteImmediate executes every immediate batch, together with everything
// upstream of it, and prunes the executed batches from the graph so a
// backend never sees them. Batches shared with non-immediate branches are
// executed once.
func ExecuteImmediate(ctx context.Context, root *TaskBatch) error {
	executed := make(map[*TaskBatch]bool)
	visited := make(map[*TaskBatch]bool)
	seen := []*TaskBatch{}

	var visit func(b *TaskBatch, immediate bool) error
	visit = func(b *TaskBatch, immediate bool) error {
		immediate = immediate || b.immediate
		if executed[b] || (visited[b] && !immediate) {
			return nil
		}
		if !visited[b] {
			visited[b] = true
			seen = append(seen, b)
		}

		for _, up := range b.preTasks {
			if err := visit(up, immediate); err != nil {
				return err
			}
		}
		if immediate && !b.IsRoot() {
			if err := b.Execute(ctx); err != nil {
				return err
			}
			executed[b] = true
		}
		return nil
	}

	err := visit(root, false)
	for _, b := range seen {
		b.preTasks = slices.DeleteFunc(b.preTasks, func(up *TaskBatch) bool {
			return executed[up]
		})
	}
	return err
}

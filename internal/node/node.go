package node

import (
	"context"
	"fmt"
	"slices"

	"github.com/vk/taskdispatch/internal/frames"
	"github.com/vk/taskdispatch/internal/taskctx"
)

// TaskNode is a compute unit that produces output across a set of frames.
// Nodes are compared by identity.
type TaskNode interface {
	// Name is unique within the owning graph.
	Name() string
	// Graph returns the graph the node belongs to.
	Graph() *Graph
	// PreTasks lists the upstream work required before this node can run
	// under c, in order.
	PreTasks(c taskctx.Context) []Task
	// Frames returns a frame list that replaces the inherited one, if the
	// node declares its own.
	Frames(c taskctx.Context) ([]int, bool)
	// NoOp reports that the node does no work of its own under c and only
	// exists to group or reshape its preTasks.
	NoOp(c taskctx.Context) bool
	// BatchSize caps the number of frames per batch. Zero means unlimited.
	BatchSize() int
	// Immediate nodes are executed at dispatch time instead of by the backend.
	Immediate() bool
	// RequiresSequenceExecution keeps all of the node's frames in one batch,
	// executed in ascending order. BatchSize is ignored.
	RequiresSequenceExecution() bool
	// Execute performs the work for the single frame carried by c.
	Execute(ctx context.Context, c taskctx.Context) error
}

// SequenceExecutor is implemented by nodes that can handle a whole frame
// sequence in one call. It is only used when RequiresSequenceExecution is
// set; other nodes execute frame by frame.
type SequenceExecutor interface {
	ExecuteSequence(ctx context.Context, c taskctx.Context, frames []int) error
}

// AsSequence returns n as a SequenceExecutor when it requires sequence
// execution and can run one.
func AsSequence(n TaskNode) (SequenceExecutor, bool) {
	if !n.RequiresSequenceExecution() {
		return nil, false
	}
	seq, ok := n.(SequenceExecutor)
	return seq, ok
}

// Task is a node paired with the context it should be evaluated under.
type Task struct {
	Node    TaskNode
	Context taskctx.Context
}

// String implements fmt.Stringer.
func (t Task) String() string {
	if t.Node == nil {
		return "<root>"
	}
	if f, ok := t.Context.Frame(); ok {
		return fmt.Sprintf("%s@%d", t.Node.Name(), f)
	}
	return t.Node.Name()
}

// Base carries the attributes shared by every node kind. Kinds embed it and
// add Execute.
type Base struct {
	name      string
	graph     *Graph
	upstream  []TaskNode
	frames    []int
	hasFrames bool
	batchSize int
	immediate bool
	sequence  bool
}

// Name implements TaskNode.
func (b *Base) Name() string { return b.name }

// Graph implements TaskNode.
func (b *Base) Graph() *Graph { return b.graph }

// BatchSize implements TaskNode.
func (b *Base) BatchSize() int { return b.batchSize }

// Immediate implements TaskNode.
func (b *Base) Immediate() bool { return b.immediate }

// RequiresSequenceExecution implements TaskNode.
func (b *Base) RequiresSequenceExecution() bool { return b.sequence }

// NoOp implements TaskNode. Nodes do work unless a kind says otherwise.
func (b *Base) NoOp(taskctx.Context) bool { return false }

// PreTasks implements TaskNode: every upstream node under the same context.
func (b *Base) PreTasks(c taskctx.Context) []Task {
	out := make([]Task, 0, len(b.upstream))
	for _, n := range b.upstream {
		out = append(out, Task{Node: n, Context: c})
	}
	return out
}

// Frames implements TaskNode.
func (b *Base) Frames(taskctx.Context) ([]int, bool) {
	if !b.hasFrames {
		return nil, false
	}
	return slices.Clone(b.frames), true
}

// Upstream returns the configured upstream nodes.
func (b *Base) Upstream() []TaskNode {
	return slices.Clone(b.upstream)
}

// SetUpstream replaces the upstream nodes.
func (b *Base) SetUpstream(nodes ...TaskNode) {
	b.upstream = slices.Clone(nodes)
}

// SetFrames makes the node run exactly the given frames, whatever it
// inherits. A nil slice removes the override.
func (b *Base) SetFrames(fs []int) {
	if fs == nil {
		b.frames, b.hasFrames = nil, false
		return
	}
	b.frames, b.hasFrames = frames.Normalize(fs), true
}

// SetBatchSize sets the maximum frames per batch. Negative values are
// treated as zero.
func (b *Base) SetBatchSize(n int) {
	b.batchSize = max(n, 0)
}

// SetImmediate marks the node for execution at dispatch time.
func (b *Base) SetImmediate(v bool) {
	b.immediate = v
}

// SetRequiresSequenceExecution makes the node run all its frames as one
// ordered batch.
func (b *Base) SetRequiresSequenceExecution(v bool) {
	b.sequence = v
}

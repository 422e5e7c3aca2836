package node

import (
	"context"
	"fmt"

	"github.com/vk/taskdispatch/internal/taskctx"
)

// ExecuteFunc performs the work of a Func node for one frame.
type ExecuteFunc func(ctx context.Context, c taskctx.Context) error

// SequenceFunc performs the work of a Func node for a whole frame sequence.
type SequenceFunc func(ctx context.Context, c taskctx.Context, frames []int) error

// Func wraps a Go function as a node. It is how programs embed custom work
// in a graph without a script.
type Func struct {
	Base
	fn   ExecuteFunc
	seq  SequenceFunc
	noOp func(taskctx.Context) bool
}

// NewFunc adds a function node to g. A nil fn makes the node a no-op.
func NewFunc(g *Graph, name string, fn ExecuteFunc) (*Func, error) {
	base, err := g.newBase(name)
	if err != nil {
		return nil, err
	}
	n := &Func{Base: base, fn: fn}
	g.add(n)
	return n, nil
}

// SetNoOp overrides when the node reports itself as a no-op.
func (n *Func) SetNoOp(fn func(taskctx.Context) bool) {
	n.noOp = fn
}

// SetSequence installs fn as the handler for whole frame sequences and
// marks the node as requiring sequence execution. A nil fn clears both.
func (n *Func) SetSequence(fn SequenceFunc) {
	n.seq = fn
	n.SetRequiresSequenceExecution(fn != nil)
}

// NoOp implements TaskNode.
func (n *Func) NoOp(c taskctx.Context) bool {
	if n.fn == nil && n.seq == nil {
		return true
	}
	if n.noOp != nil {
		return n.noOp(c)
	}
	return false
}

// Execute implements TaskNode.
func (n *Func) Execute(ctx context.Context, c taskctx.Context) error {
	if n.fn == nil {
		return nil
	}
	return n.fn(ctx, c)
}

// ExecuteSequence implements SequenceExecutor. Without a sequence handler
// it falls back to Execute for each frame.
func (n *Func) ExecuteSequence(ctx context.Context, c taskctx.Context, frames []int) error {
	if n.seq != nil {
		return n.seq(ctx, c, frames)
	}
	for _, f := range frames {
		if err := n.Execute(ctx, c.WithFrame(f)); err != nil {
			return fmt.Errorf("frame %d: %w", f, err)
		}
	}
	return nil
}

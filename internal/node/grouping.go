package node

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"github.com/vk/taskdispatch/internal/taskctx"
	"github.com/zclconf/go-cty/cty"
)

// TaskList does no work itself. It only collects its upstream nodes so they
// can be dispatched together.
type TaskList struct {
	Base
}

// NewTaskList adds a task list node to g.
func NewTaskList(g *Graph, name string) (*TaskList, error) {
	base, err := g.newBase(name)
	if err != nil {
		return nil, err
	}
	n := &TaskList{Base: base}
	g.add(n)
	return n, nil
}

// NoOp implements TaskNode.
func (n *TaskList) NoOp(taskctx.Context) bool { return true }

// Execute implements TaskNode.
func (n *TaskList) Execute(context.Context, taskctx.Context) error { return nil }

// ContextVariables evaluates its upstream nodes under a context with extra
// variables set.
type ContextVariables struct {
	Base
	variables map[string]cty.Value
}

// NewContextVariables adds a context variables node to g.
func NewContextVariables(g *Graph, name string, variables map[string]cty.Value) (*ContextVariables, error) {
	base, err := g.newBase(name)
	if err != nil {
		return nil, err
	}
	n := &ContextVariables{Base: base, variables: maps.Clone(variables)}
	g.add(n)
	return n, nil
}

// NoOp implements TaskNode.
func (n *ContextVariables) NoOp(taskctx.Context) bool { return true }

// PreTasks implements TaskNode.
func (n *ContextVariables) PreTasks(c taskctx.Context) []Task {
	return n.Base.PreTasks(c.Merge(taskctx.New(n.variables)))
}

// Execute implements TaskNode.
func (n *ContextVariables) Execute(context.Context, taskctx.Context) error { return nil }

// Wedge fans its upstream nodes out over every value of one variable.
type Wedge struct {
	Base
	variable string
	values   []cty.Value
}

// NewWedge adds a wedge node to g.
func NewWedge(g *Graph, name, variable string, values []cty.Value) (*Wedge, error) {
	if variable == "" {
		return nil, fmt.Errorf("wedge %q has no variable", name)
	}
	base, err := g.newBase(name)
	if err != nil {
		return nil, err
	}
	n := &Wedge{Base: base, variable: variable, values: slices.Clone(values)}
	g.add(n)
	return n, nil
}

// NoOp implements TaskNode.
func (n *Wedge) NoOp(taskctx.Context) bool { return true }

// PreTasks implements TaskNode. Tasks are ordered by value, then by upstream
// node.
func (n *Wedge) PreTasks(c taskctx.Context) []Task {
	out := make([]Task, 0, len(n.values)*len(n.upstream))
	for _, v := range n.values {
		out = append(out, n.Base.PreTasks(c.With(n.variable, v))...)
	}
	return out
}

// Execute implements TaskNode.
func (n *Wedge) Execute(context.Context, taskctx.Context) error { return nil }

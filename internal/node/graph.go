package node

import (
	"fmt"
	"slices"

	"github.com/vk/taskdispatch/internal/taskctx"
)

// Graph owns a set of uniquely named nodes and the base Context they are
// dispatched under.
type Graph struct {
	fileName string
	source   []byte
	context  taskctx.Context
	nodes    map[string]TaskNode
	order    []string
}

// NewGraph creates an empty graph. fileName identifies the script the graph
// was loaded from and may be empty.
func NewGraph(fileName string, base taskctx.Context) *Graph {
	return &Graph{
		fileName: fileName,
		context:  base,
		nodes:    make(map[string]TaskNode),
	}
}

// FileName returns the script file the graph was loaded from.
func (g *Graph) FileName() string { return g.fileName }

// Context returns the base context.
func (g *Graph) Context() taskctx.Context { return g.context }

// SetContext replaces the base context.
func (g *Graph) SetContext(c taskctx.Context) { g.context = c }

// Source returns the serialized script, or nil when the graph was built in
// code.
func (g *Graph) Source() []byte { return slices.Clone(g.source) }

// SetSource records the serialized script so dispatchers can save it next to
// the job.
func (g *Graph) SetSource(src []byte) { g.source = slices.Clone(src) }

// Node looks up a node by name.
func (g *Graph) Node(name string) (TaskNode, bool) {
	n, ok := g.nodes[name]
	return n, ok
}

// Nodes returns every node in the order they were added.
func (g *Graph) Nodes() []TaskNode {
	out := make([]TaskNode, 0, len(g.order))
	for _, name := range g.order {
		out = append(out, g.nodes[name])
	}
	return out
}

// Lookup resolves names to nodes, failing on the first unknown one.
func (g *Graph) Lookup(names ...string) ([]TaskNode, error) {
	out := make([]TaskNode, 0, len(names))
	for _, name := range names {
		n, ok := g.nodes[name]
		if !ok {
			return nil, fmt.Errorf("node %q not found in graph %q", name, g.fileName)
		}
		out = append(out, n)
	}
	return out, nil
}

func (g *Graph) newBase(name string) (Base, error) {
	if name == "" {
		return Base{}, fmt.Errorf("node name cannot be empty")
	}
	if _, exists := g.nodes[name]; exists {
		return Base{}, fmt.Errorf("duplicate node name %q", name)
	}
	return Base{name: name, graph: g}, nil
}

func (g *Graph) add(n TaskNode) {
	g.nodes[n.Name()] = n
	g.order = append(g.order, n.Name())
}

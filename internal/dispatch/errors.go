package dispatch

import "errors"

var (
	// ErrNoNodes is returned when a dispatch is requested without nodes.
	ErrNoNodes = errors.New("no nodes to dispatch")
	// ErrNilNode is returned when the requested nodes include a nil node.
	ErrNilNode = errors.New("nil node in dispatch")
	// ErrMixedGraphs is returned when the requested nodes belong to more
	// than one graph.
	ErrMixedGraphs = errors.New("nodes must all belong to the same graph")
	// ErrUnknownDispatcher is returned when no backend is registered under
	// the requested name.
	ErrUnknownDispatcher = errors.New("unknown dispatcher")
)

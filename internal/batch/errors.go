package batch

import (
	"errors"
	"fmt"
	"strings"
)

// ErrCycle is wrapped by every CycleError.
var ErrCycle = errors.New("dependency cycle")

// CycleError reports a node that depends on itself, directly or through
// other nodes.
type CycleError struct {
	// Node is the name of the node reached twice.
	Node string
	// Path lists the node names from the outermost visit to the repeat.
	Path []string
}

// Error implements the error interface.
func (e *CycleError) Error() string {
	if len(e.Path) == 0 {
		return fmt.Sprintf("dependency cycle detected involving node '%s'", e.Node)
	}
	return fmt.Sprintf("dependency cycle detected involving node '%s': %s", e.Node, strings.Join(e.Path, " -> "))
}

// Unwrap lets errors.Is match ErrCycle.
func (e *CycleError) Unwrap() error {
	return ErrCycle
}

// Package node defines TaskNode, the unit of work the batch builder and the
// dispatchers operate on, the Graph that owns a set of nodes, and the node
// kinds a script can declare.
//
// A node never executes on its own. It describes, for a given Context, which
// upstream tasks must complete first, which frames it wants to run and
// whether it does any work at all. Execution happens one frame at a time
// through Execute.
package node

// Package dispatch defines the Dispatcher, the public entry point that turns
// a list of task nodes into a batch graph and hands it to a Backend.
//
// A Dispatcher validates the request, prepares a numbered job directory,
// resolves the frames to dispatch, builds the batch graph, runs any
// immediate batches in-process and finally delegates the remaining graph to
// its Backend. Lifecycle hooks observe each dispatch without being able to
// abort it.
//
// Backends are registered by name in a Registry so callers can select one at
// run time. The process-wide registry is returned by DefaultRegistry.
package dispatch

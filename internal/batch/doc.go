// Package batch turns requested task nodes into a deduplicated graph of
// TaskBatches, the units dispatchers execute.
//
// A TaskBatch means "execute node N for frames F under context C". The
// builder guarantees that one (node, context, frames) key maps to exactly one
// batch per build, so diamond dependencies collapse and shared upstream work
// runs once. The synthetic root batch has no node and no frames; its
// preTasks are the top-level batches of the requested nodes.
package batch

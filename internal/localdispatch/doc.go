// Package localdispatch is the dispatch backend that runs jobs on the local
// machine.
//
// Every dispatch becomes a Job that walks the batch graph upstream first. In
// the foreground the walk runs on the caller's goroutine and batches execute
// in-process. In the background one worker goroutine per job performs the
// same walk, launching one `execute` subprocess per batch. Killing a job
// cancels its context: batches not yet visited are skipped and a running
// subprocess has its whole process group terminated.
package localdispatch

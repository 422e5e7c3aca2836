// Package frames resolves frame-mode policies into concrete frame lists and
// implements the compact frame-list string format shared by the dispatcher
// and the execute command, e.g. "1-10", "2-6x2" or "1-3,5-9x2".
//
// Every list produced by this package is sorted ascending and contains no
// duplicates.
package frames

// Package jobfeed publishes job pool activity to a socket.io server so that
// an external monitor can follow dispatched jobs as they run.
package jobfeed

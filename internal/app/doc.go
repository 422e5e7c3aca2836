// Package app contains the core application logic. It wires the script
// loader, the dispatcher registry and the job pool together and runs a
// dispatch or a single background batch, decoupled from any specific
// entrypoint like a CLI.
package app

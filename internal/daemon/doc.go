// Package daemon coordinates the long-running conveyor process.
//
// It wires configuration, queue storage, the workflow manager, and the
// automation engine into a single lifecycle with flock-based locking to
// prevent multiple instances. The daemon exposes queue maintenance helpers
// and health summaries for the CLI.
//
// Keep orchestration logic here: individual pipeline stages should live in
// their respective packages while the daemon focuses on startup, shutdown,
// and high level coordination.
package daemon

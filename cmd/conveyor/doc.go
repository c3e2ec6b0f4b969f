// Command conveyor is the operator CLI for the conveyor pipeline.
//
// It opens the queue database directly (safe alongside a running daemon
// thanks to WAL journaling) and exposes queue inspection, bulk dispatch,
// template and automation job management, and configuration helpers.
package main

// Package queue persists pipeline items in SQLite and exposes helpers for
// driving their lifecycle.
//
// The Store manages database connections, schema initialization, optimistic
// status transitions, per-target publication state, templates, automation
// jobs, and the per-owner quota ledger. All authoritative state lives here;
// workers coordinate exclusively through conditional updates so redelivered
// work is rejected rather than double-executed.
//
// Schema changes bump the version in schema.go; users clear the database to
// adopt the new schema.
//
// Treat this package as the single source of truth for lifecycle semantics;
// when you add new statuses or columns, update schema.sql, transitions.go,
// and bump schemaVersion together.
package queue

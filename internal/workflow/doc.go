// Package workflow advances queue items through the processing stages.
//
// The Manager runs one polling lane per pipeline segment. Each lane claims
// the oldest eligible item for one of its stages with an optimistic status
// transition, resolves the item's effective configuration, and hands the work
// to the registered executor while a heartbeat goroutine keeps the claim
// alive. Failures are recorded with the failing stage so a retry resumes
// exactly there; a reclaimer clears heartbeats on items whose worker went
// silent, making the stage eligible for redelivery.
//
// The publish stage is special: it fans the item's target platforms out over
// a bounded worker pool, each target advancing through its own publication
// row, and the item only completes once every target has uploaded.
package workflow

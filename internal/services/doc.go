// Package services defines the error taxonomy and context annotations shared
// by the orchestration core. Sentinel markers classify failures (invalid
// transition, conflict, quota, stage, schedule validation) so callers branch
// with errors.Is instead of string matching, and Wrap/Details preserve
// component context for structured logging.
package services

// Package notifications delivers pipeline events via pluggable notifiers.
//
// The default implementation publishes to ntfy using the topic configured in
// config.toml and gracefully degrades to a no-op when notifications are
// disabled. Enumerated event types cover the pipeline milestones so workflow
// code can emit consistent messages without duplicating HTTP glue, and the
// per-category toggles in the notifications config section silence whole event
// groups without touching call sites.
//
// Extend this package if you need alternative transports; all workflow code
// depends only on the simple Service interface.
package notifications

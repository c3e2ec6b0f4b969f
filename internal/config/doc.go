// Package config loads, normalizes, and validates conveyor configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), and reads TOML files. The Config type centralizes every knob the
// daemon and CLI need: workflow polling intervals, per-tenant quota ceilings,
// automation spacing rules, and dispatch limits.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config

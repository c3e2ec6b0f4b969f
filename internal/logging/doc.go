// Package logging builds the slog loggers used across conveyor and houses the
// standardized structured field keys. Console output renders compact
// human-oriented lines (colored on a TTY); JSON output feeds machine
// consumers. Context helpers lift item, owner, stage, and correlation
// identifiers into log attributes.
package logging

// Package api translates internal models into transport-friendly DTOs and
// bundles the multi-step workflows the CLI drives: queue views and actions,
// template management, automation job management, and bulk dispatch.
//
// DTOs use camelCase JSON tags so machine consumers can parse CLI --json
// output without coupling to internal types. Timestamps use RFC3339 with
// milliseconds.
package api

// Package internal documents the MakeMeLearn API server internals.
//
// The internal tree is organized by responsibility:
// - api: HTTP handlers, middleware, problem responses, and routing
// - domain: registrations, contact relay, identifiers, and error kinds
// - storage: PostgreSQL access, migrations, and maintenance
// - jobs: River workers for email delivery and retention maintenance
// - audit, config, email, metrics, sanitize, telemetry, validation: shared infrastructure
//
// Code in internal/ is not meant for external import.
package internal

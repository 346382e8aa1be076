// Package api implements the HTTP JSON API of the workspace core.
//
// This package provides:
//   - Login, identity and session endpoints
//   - User administration (list, create, role and status changes)
//   - The authorization gate: requireAuth plus a composable requireRole
//   - Middleware stack (request ID, logging, recovery, metrics, CORS, body limit)
//   - Per-IP login rate limiting and a Prometheus /metrics endpoint
//
// # Routes
//
// Every route is mounted twice: under /api and at the root, so both
// /api/auth/login and /auth/login work. /metrics is served at the root only.
//
// # Security
//
// Access tokens are short-lived HS256 JWTs. The gate re-loads the principal
// on every request, so deactivation takes effect immediately while a role
// change only takes effect for the gate's role check, which reads the
// stored role. Login failures return one body whether the email is unknown
// or the password is wrong.
//
// # Graceful Degradation
//
// MQTT and InfluxDB are optional. Without them auth events are still
// written to the audit log and counted in Prometheus.
package api

// Package auth provides authentication and authorisation for the
// Allokapri workspace core.
//
// It implements a four-tier ordered role model (VIEWER < EDITOR < ADMIN < OWNER) with:
//   - bcrypt password hashing with a configurable cost
//   - short-lived HS256 access tokens validated by signature, then re-checked
//     against the stored principal on every request
//   - opaque session handles whose SHA-256 hash is persisted best-effort
//   - an idempotent owner seed for first boot and recovery
//
// Role checks compare positions in the hierarchy, never labels, and any
// label outside the hierarchy fails closed.
//
// A role change only reaches a caller's token when that token expires; an
// account deactivation takes effect on the next request.
package auth

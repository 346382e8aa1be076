// Package database provides SQLite connectivity for the workspace core.
//
// It owns the connection lifecycle (open, health check, close), a small
// transaction helper, and the embedded schema migrations that create the
// users, sessions and audit_logs tables.
//
// All queries elsewhere in the module use parameterised statements with
// "?" placeholders. Timestamps are stored as RFC3339 text in UTC.
//
// Usage:
//
//	db, err := database.Open(database.Config{Path: cfg.Database.Path, WALMode: true, BusyTimeout: 5})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
//
// The special path ":memory:" opens a private in-memory database, which is
// what most repository tests use.
package database

package auth

import (
	"database/sql"
	"testing"

	"github.com/allokapri/workspace-core/internal/infrastructure/database"
	"github.com/allokapri/workspace-core/migrations"
)

// testPassword is the password given to every seeded test user.
const testPassword = "test-password"

// testSecret is a 32+ byte HS256 secret for tests.
const testSecret = "test-secret-that-is-at-least-32-bytes"

// testDB opens an in-memory SQLite database with the real migrations applied.
func testDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := database.Open(database.Config{Path: database.MemoryPath})
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup

	if _, err := db.Migrate(t.Context(), migrations.FS); err != nil {
		t.Fatalf("applying migrations: %v", err)
	}
	return db.DB
}

// seedTestUser inserts an active test user and returns it.
func seedTestUser(t *testing.T, db *sql.DB, email string, role Role) *User {
	t.Helper()

	hash, err := HashPassword(testPassword, 4) //nolint:mnd // bcrypt.MinCost keeps tests fast
	if err != nil {
		t.Fatalf("hashing password: %v", err)
	}

	user := &User{
		Name:         email,
		Email:        email,
		PasswordHash: hash,
		Role:         role,
		IsActive:     true,
	}
	if err := NewUserRepository(db).Create(t.Context(), user); err != nil {
		t.Fatalf("creating test user %s: %v", email, err)
	}
	return user
}

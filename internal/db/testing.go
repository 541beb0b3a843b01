// Package db test helpers. All database tests should go through NewTestDB:
// in-memory databases are much faster than file-based ones, migrations are
// applied automatically, and cleanup is registered via t.Cleanup.
package db

import (
	"testing"
)

// NewTestDB creates an in-memory database for testing. The database is
// closed automatically when the test completes.
func NewTestDB(t testing.TB) *DB {
	t.Helper()

	d, err := OpenInMemory()
	if err != nil {
		t.Fatalf("create test db: %v", err)
	}

	t.Cleanup(func() {
		_ = d.Close()
	})

	return d
}

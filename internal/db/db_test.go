package db

import (
	"path/filepath"
	"testing"
)

func TestOpen_MigratesSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pixied.sqlite")

	database, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	v, err := database.Version()
	if err != nil {
		t.Fatalf("Version() error = %v", err)
	}
	if v != SchemaVersion {
		t.Errorf("Version() = %d, want %d", v, SchemaVersion)
	}

	for _, table := range []string{"event_ledger", "resource_state"} {
		var name string
		err := database.QueryRow(`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&name)
		if err != nil {
			t.Errorf("table %s missing: %v", table, err)
		}
	}

	if _, err := database.Exec(
		`INSERT INTO resource_state (kind, id, payload, updated_at) VALUES ('k', '1', '{}', 0)`,
	); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := database.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	// Reopening keeps data and does not reapply anything
	database, err = Open(path)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer database.Close()

	var n int
	if err := database.QueryRow(`SELECT COUNT(*) FROM resource_state`).Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("resource_state rows after reopen = %d, want 1", n)
	}
}

func TestOpen_RejectsNewerSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pixied.sqlite")

	database, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if _, err := database.Exec(`PRAGMA user_version = 99`); err != nil {
		t.Fatal(err)
	}
	database.Close()

	if _, err := Open(path); err == nil {
		t.Error("Open() should refuse a schema from a newer release")
	}
}

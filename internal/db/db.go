// Package db provides a centralized database connection and schema for pixied.
package db

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"
)

// DB wraps the SQLite database connection
type DB struct {
	*sql.DB
}

// migration is one schema step. Steps are applied in order and the index+1
// is recorded in PRAGMA user_version once the step commits.
type migration struct {
	name string
	sql  string
}

var migrations = []migration{
	{
		// Command ledger: append-only history of commands and discovery runs
		name: "event_ledger",
		sql: `
			CREATE TABLE IF NOT EXISTS event_ledger (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				event_type TEXT NOT NULL,
				timestamp INTEGER NOT NULL,
				payload TEXT,
				source TEXT,
				device_id INTEGER
			);
			CREATE INDEX IF NOT EXISTS idx_ledger_type_ts ON event_ledger(event_type, timestamp);
			CREATE INDEX IF NOT EXISTS idx_ledger_device ON event_ledger(device_id, timestamp);
		`,
	},
	{
		// Generic JSON state keyed by (kind, id): session credentials,
		// the device snapshot and script key-values
		name: "resource_state",
		sql: `
			CREATE TABLE IF NOT EXISTS resource_state (
				kind TEXT NOT NULL,
				id TEXT NOT NULL,
				payload TEXT NOT NULL,
				version INTEGER DEFAULT 1,
				updated_at INTEGER NOT NULL,
				PRIMARY KEY (kind, id)
			);
			CREATE INDEX IF NOT EXISTS idx_resource_state_kind ON resource_state(kind);
		`,
	},
}

// SchemaVersion is the version a freshly migrated database reports.
var SchemaVersion = len(migrations)

// Open opens the database and brings the schema up to date
func Open(dbPath string) (*DB, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &DB{db}, nil
}

// Version returns the applied schema version.
func (db *DB) Version() (int, error) {
	return userVersion(db.DB)
}

func userVersion(db *sql.DB) (int, error) {
	var v int
	if err := db.QueryRow(`PRAGMA user_version`).Scan(&v); err != nil {
		return 0, err
	}
	return v, nil
}

// migrate applies pending migrations, each in its own transaction.
// A failed step leaves earlier steps committed.
func migrate(db *sql.DB) error {
	current, err := userVersion(db)
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if current > len(migrations) {
		return fmt.Errorf("database schema version %d is newer than supported %d", current, len(migrations))
	}

	for i := current; i < len(migrations); i++ {
		m := migrations[i]
		if err := applyMigration(db, i+1, m); err != nil {
			return fmt.Errorf("migration %d (%s): %w", i+1, m.name, err)
		}
		log.Debug().Int("version", i+1).Str("name", m.name).Msg("Applied schema migration")
	}
	return nil
}

func applyMigration(db *sql.DB, version int, m migration) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if _, err := tx.Exec(m.sql); err != nil {
		return err
	}
	// PRAGMA does not accept bound parameters
	if _, err := tx.Exec(fmt.Sprintf(`PRAGMA user_version = %d`, version)); err != nil {
		return err
	}
	return tx.Commit()
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.DB.Close()
}

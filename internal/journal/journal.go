// Package journal keeps a local SQLite audit trail of migrations and bulk
// loads. It exists for forensics; journaling failures are logged by the
// caller, never allowed to fail data movement.
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Journal records storage-layer outcomes in SQLite.
type Journal struct {
	db *sql.DB
}

// MigrationEntry is one recorded migration outcome.
type MigrationEntry struct {
	Table      string
	Status     string
	Reason     string
	Actions    []string
	RecordedAt time.Time
}

// LoadEntry is one recorded bulk load.
type LoadEntry struct {
	Table        string
	Rows         int64
	ConflictKeys []string
	RecordedAt   time.Time
}

// Open opens (or creates) the journal database at path.
func Open(path string) (*Journal, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating journal dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("opening journal: %w", err)
	}

	j := &Journal{db: db}
	if err := j.ensureSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("preparing journal schema: %w", err)
	}
	return j, nil
}

func (j *Journal) ensureSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS migrations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		table_name TEXT NOT NULL,
		status TEXT NOT NULL,
		reason TEXT,
		actions TEXT,
		recorded_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS loads (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		table_name TEXT NOT NULL,
		row_count INTEGER NOT NULL,
		conflict_keys TEXT,
		recorded_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_migrations_table ON migrations(table_name);
	CREATE INDEX IF NOT EXISTS idx_loads_table ON loads(table_name);
	`
	_, err := j.db.Exec(schema)
	return err
}

// Close closes the journal database.
func (j *Journal) Close() error {
	return j.db.Close()
}

// RecordMigration appends a migration outcome.
func (j *Journal) RecordMigration(ctx context.Context, table, status, reason string, actions []string) error {
	encoded, err := json.Marshal(actions)
	if err != nil {
		return fmt.Errorf("encoding actions: %w", err)
	}
	_, err = j.db.ExecContext(ctx, `
		INSERT INTO migrations (table_name, status, reason, actions, recorded_at)
		VALUES (?, ?, ?, ?, ?)
	`, table, status, reason, string(encoded), time.Now().UTC().Format(time.RFC3339))
	return err
}

// RecordLoad appends a bulk-load outcome.
func (j *Journal) RecordLoad(ctx context.Context, table string, rows int64, conflictKeys []string) error {
	encoded, err := json.Marshal(conflictKeys)
	if err != nil {
		return fmt.Errorf("encoding conflict keys: %w", err)
	}
	_, err = j.db.ExecContext(ctx, `
		INSERT INTO loads (table_name, row_count, conflict_keys, recorded_at)
		VALUES (?, ?, ?, ?)
	`, table, rows, string(encoded), time.Now().UTC().Format(time.RFC3339))
	return err
}

// Migrations returns the most recent migration entries for a table.
func (j *Journal) Migrations(ctx context.Context, table string, limit int) ([]MigrationEntry, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT table_name, status, COALESCE(reason, ''), COALESCE(actions, '[]'), recorded_at
		FROM migrations WHERE table_name = ?
		ORDER BY id DESC LIMIT ?
	`, table, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []MigrationEntry
	for rows.Next() {
		var e MigrationEntry
		var actions, recorded string
		if err := rows.Scan(&e.Table, &e.Status, &e.Reason, &actions, &recorded); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(actions), &e.Actions); err != nil {
			return nil, fmt.Errorf("decoding actions: %w", err)
		}
		e.RecordedAt, _ = time.Parse(time.RFC3339, recorded)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Loads returns the most recent load entries for a table.
func (j *Journal) Loads(ctx context.Context, table string, limit int) ([]LoadEntry, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT table_name, row_count, COALESCE(conflict_keys, '[]'), recorded_at
		FROM loads WHERE table_name = ?
		ORDER BY id DESC LIMIT ?
	`, table, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []LoadEntry
	for rows.Next() {
		var e LoadEntry
		var keys, recorded string
		if err := rows.Scan(&e.Table, &e.Rows, &keys, &recorded); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(keys), &e.ConflictKeys); err != nil {
			return nil, fmt.Errorf("decoding conflict keys: %w", err)
		}
		e.RecordedAt, _ = time.Parse(time.RFC3339, recorded)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

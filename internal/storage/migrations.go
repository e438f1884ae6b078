package storage

import (
	"database/sql"
	"fmt"
)

// Migration is one versioned schema upgrade. Up runs inside a transaction
// together with the version bump, so a failed migration leaves no trace.
type Migration struct {
	Version int
	Name    string
	Up      func(tx *sql.Tx) error
}

// Migrations is the ordered schema history. Append only; never reorder or
// edit an entry that has shipped.
var Migrations = []Migration{
	{
		Version: 1,
		Name:    "create projects",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
			CREATE TABLE projects (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				name TEXT NOT NULL UNIQUE,
				created_at TIMESTAMP NOT NULL,
				updated_at TIMESTAMP NOT NULL
			)`)
			return err
		},
	},
	{
		Version: 2,
		Name:    "create records",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
			CREATE TABLE records (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				project_id INTEGER NOT NULL,
				kind TEXT NOT NULL,
				title TEXT NOT NULL,
				body TEXT NOT NULL DEFAULT '',
				status TEXT NOT NULL DEFAULT 'open',
				created_at TIMESTAMP NOT NULL,
				updated_at TIMESTAMP NOT NULL,
				FOREIGN KEY (project_id) REFERENCES projects(id) ON DELETE CASCADE
			)`)
			return err
		},
	},
	{
		Version: 3,
		Name:    "record indexes",
		Up: func(tx *sql.Tx) error {
			stmts := []string{
				`CREATE INDEX idx_records_project_kind ON records(project_id, kind)`,
				`CREATE INDEX idx_records_updated_at ON records(updated_at)`,
				`CREATE INDEX idx_records_status ON records(status)`,
			}
			for _, s := range stmts {
				if _, err := tx.Exec(s); err != nil {
					return err
				}
			}
			return nil
		},
	},
}

// SchemaVersion reads the stored schema version (PRAGMA user_version).
func SchemaVersion(db *sql.DB) (int, error) {
	var v int
	if err := db.QueryRow(`PRAGMA user_version`).Scan(&v); err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	return v, nil
}

// Migrate applies every pending migration in order, each in its own
// transaction with the version bump. A failure rolls that migration back
// entirely and aborts; already-applied migrations stay applied.
func Migrate(db *sql.DB, migrations []Migration) error {
	current, err := SchemaVersion(db)
	if err != nil {
		return err
	}
	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		if m.Version != current+1 {
			return fmt.Errorf("migration %d (%s) out of order: current version is %d", m.Version, m.Name, current)
		}
		if err := applyMigration(db, m); err != nil {
			return fmt.Errorf("migration %d (%s) failed: %w", m.Version, m.Name, err)
		}
		current = m.Version
	}
	return nil
}

func applyMigration(db *sql.DB, m Migration) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := m.Up(tx); err != nil {
		return err
	}
	// user_version participates in the transaction, so the bump and the
	// schema changes commit or roll back together.
	if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", m.Version)); err != nil {
		return err
	}
	return tx.Commit()
}

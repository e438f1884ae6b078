// Package storage provides the SQLite implementation of the Store interface.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/kioku/internal/models"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens or creates a SQLite database at dbPath, enables WAL
// and foreign keys, and applies pending schema migrations. Parent
// directories are created if they do not exist.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	// foreign_keys is a per-connection pragma, so it goes in the DSN where
	// it applies to every pooled connection.
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := Migrate(db, Migrations); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &SQLiteStore{db: db}, nil
}

// conn returns the database handle, or ErrNotInitialized after Close.
func (s *SQLiteStore) conn() (*sql.DB, error) {
	if s.db == nil {
		return nil, ErrNotInitialized
	}
	return s.db, nil
}

// UpsertProject creates a project by name or, if it already exists, bumps
// its updated_at. The resulting row is returned either way.
func (s *SQLiteStore) UpsertProject(ctx context.Context, name string) (*models.Project, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	now := time.Now()
	_, err = db.ExecContext(ctx,
		`INSERT INTO projects (name, created_at, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET updated_at = excluded.updated_at`,
		name, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert project: %w", err)
	}
	return s.GetProjectByName(ctx, name)
}

// GetProjectByName returns the project with the given name, or ErrNotFound.
func (s *SQLiteStore) GetProjectByName(ctx context.Context, name string) (*models.Project, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	var p models.Project
	err = db.QueryRowContext(ctx,
		`SELECT id, name, created_at, updated_at FROM projects WHERE name = ?`, name,
	).Scan(&p.ID, &p.Name, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ListProjects returns all projects sorted by name ascending.
func (s *SQLiteStore) ListProjects(ctx context.Context) ([]*models.Project, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx,
		`SELECT id, name, created_at, updated_at FROM projects ORDER BY name ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var projects []*models.Project
	for rows.Next() {
		var p models.Project
		if err := rows.Scan(&p.ID, &p.Name, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		projects = append(projects, &p)
	}
	return projects, rows.Err()
}

// DeleteProject removes a project. Its records go with it (ON DELETE CASCADE).
func (s *SQLiteStore) DeleteProject(ctx context.Context, id int64) error {
	db, err := s.conn()
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `DELETE FROM projects WHERE id = ?`, id)
	return err
}

// CreateRecord inserts a record, assigning its id and timestamps.
func (s *SQLiteStore) CreateRecord(ctx context.Context, rec *models.Record) error {
	db, err := s.conn()
	if err != nil {
		return err
	}
	now := time.Now()
	rec.CreatedAt = now
	rec.UpdatedAt = now

	res, err := db.ExecContext(ctx,
		`INSERT INTO records (project_id, kind, title, body, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ProjectID, rec.Kind, rec.Title, rec.Body, rec.Status, rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert record: %w", err)
	}
	rec.ID, err = res.LastInsertId()
	return err
}

// GetRecord returns a record with its project name, or ErrNotFound.
func (s *SQLiteStore) GetRecord(ctx context.Context, id int64) (*models.RecordDetail, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	var d models.RecordDetail
	err = db.QueryRowContext(ctx,
		`SELECT r.id, r.project_id, r.kind, r.title, r.body, r.status, r.created_at, r.updated_at, p.name
		 FROM records r JOIN projects p ON p.id = r.project_id
		 WHERE r.id = ?`, id,
	).Scan(&d.ID, &d.ProjectID, &d.Kind, &d.Title, &d.Body, &d.Status, &d.CreatedAt, &d.UpdatedAt, &d.Project)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// UpdateRecord overwrites kind, title, body and status of an existing record
// and refreshes updated_at. The record's id never changes.
func (s *SQLiteStore) UpdateRecord(ctx context.Context, rec *models.Record) error {
	db, err := s.conn()
	if err != nil {
		return err
	}
	rec.UpdatedAt = time.Now()
	res, err := db.ExecContext(ctx,
		`UPDATE records SET kind = ?, title = ?, body = ?, status = ?, updated_at = ?
		 WHERE id = ?`,
		rec.Kind, rec.Title, rec.Body, rec.Status, rec.UpdatedAt, rec.ID,
	)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteRecord removes a record by id and reports whether it existed.
func (s *SQLiteStore) DeleteRecord(ctx context.Context, id int64) (bool, error) {
	db, err := s.conn()
	if err != nil {
		return false, err
	}
	res, err := db.ExecContext(ctx, `DELETE FROM records WHERE id = ?`, id)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// ListRecords returns records matching f with their project names, ordered
// by updated_at descending.
func (s *SQLiteStore) ListRecords(ctx context.Context, f RecordFilter) ([]*models.RecordDetail, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	query := `SELECT r.id, r.project_id, r.kind, r.title, r.body, r.status, r.created_at, r.updated_at, p.name
		 FROM records r JOIN projects p ON p.id = r.project_id`
	where, args := f.whereClause()
	query += where + ` ORDER BY r.updated_at DESC`

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var details []*models.RecordDetail
	for rows.Next() {
		var d models.RecordDetail
		if err := rows.Scan(&d.ID, &d.ProjectID, &d.Kind, &d.Title, &d.Body, &d.Status, &d.CreatedAt, &d.UpdatedAt, &d.Project); err != nil {
			return nil, err
		}
		details = append(details, &d)
	}
	return details, rows.Err()
}

// RecordIDs returns the ids of records matching f.
func (s *SQLiteStore) RecordIDs(ctx context.Context, f RecordFilter) ([]int64, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	where, args := f.whereClause()
	rows, err := db.QueryContext(ctx, `SELECT r.id FROM records r`+where, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// whereClause builds the WHERE fragment and args for a record filter.
func (f RecordFilter) whereClause() (string, []interface{}) {
	var conds []string
	var args []interface{}
	if f.ProjectID != nil {
		conds = append(conds, "r.project_id = ?")
		args = append(args, *f.ProjectID)
	}
	if f.Kind != "" {
		conds = append(conds, "r.kind = ?")
		args = append(args, f.Kind)
	}
	if f.Status != "" {
		conds = append(conds, "r.status = ?")
		args = append(args, f.Status)
	}
	if len(conds) == 0 {
		return "", nil
	}
	where := " WHERE " + conds[0]
	for _, c := range conds[1:] {
		where += " AND " + c
	}
	return where, args
}

// AllRecords returns every record, without project names.
func (s *SQLiteStore) AllRecords(ctx context.Context) ([]*models.Record, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx,
		`SELECT id, project_id, kind, title, body, status, created_at, updated_at FROM records`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*models.Record
	for rows.Next() {
		var r models.Record
		if err := rows.Scan(&r.ID, &r.ProjectID, &r.Kind, &r.Title, &r.Body, &r.Status, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, err
		}
		records = append(records, &r)
	}
	return records, rows.Err()
}

// CountProjects returns the total number of projects.
func (s *SQLiteStore) CountProjects(ctx context.Context) (int64, error) {
	db, err := s.conn()
	if err != nil {
		return 0, err
	}
	var count int64
	err = db.QueryRowContext(ctx, `SELECT COUNT(*) FROM projects`).Scan(&count)
	return count, err
}

// CountRecords returns the total number of records.
func (s *SQLiteStore) CountRecords(ctx context.Context) (int64, error) {
	db, err := s.conn()
	if err != nil {
		return 0, err
	}
	var count int64
	err = db.QueryRowContext(ctx, `SELECT COUNT(*) FROM records`).Scan(&count)
	return count, err
}

// Close closes the database connection. Further operations return
// ErrNotInitialized.
func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

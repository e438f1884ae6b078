// Package storage defines the persistence interface for projects and records.
package storage

import (
	"context"
	"errors"

	"github.com/hyperjump/kioku/internal/models"
)

// ErrNotFound is returned by lookups that find nothing. Callers treat it as
// absence, not failure.
var ErrNotFound = errors.New("not found")

// ErrNotInitialized is returned when an operation runs against a store that
// has not been opened or was already closed.
var ErrNotInitialized = errors.New("storage not initialized")

// RecordFilter selects records at the storage layer. All fields are already
// resolved: no wildcards, no project names.
type RecordFilter struct {
	// ProjectID restricts to one project when non-nil.
	ProjectID *int64
	// Kind restricts to one kind when non-empty.
	Kind models.Kind
	// Status restricts to one status when non-empty.
	Status models.Status
}

// Store defines project and record persistence operations.
type Store interface {
	// Project operations
	UpsertProject(ctx context.Context, name string) (*models.Project, error)
	GetProjectByName(ctx context.Context, name string) (*models.Project, error)
	ListProjects(ctx context.Context) ([]*models.Project, error)
	DeleteProject(ctx context.Context, id int64) error

	// Record operations
	CreateRecord(ctx context.Context, rec *models.Record) error
	GetRecord(ctx context.Context, id int64) (*models.RecordDetail, error)
	UpdateRecord(ctx context.Context, rec *models.Record) error
	DeleteRecord(ctx context.Context, id int64) (bool, error)
	ListRecords(ctx context.Context, f RecordFilter) ([]*models.RecordDetail, error)

	// RecordIDs returns the ids of records matching f, for restricting
	// vector index queries.
	RecordIDs(ctx context.Context, f RecordFilter) ([]int64, error)

	// AllRecords returns every record, for reindexing the vector index.
	AllRecords(ctx context.Context) ([]*models.Record, error)

	// Stats
	CountProjects(ctx context.Context) (int64, error)
	CountRecords(ctx context.Context) (int64, error)

	Close() error
}

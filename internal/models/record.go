// Package models defines core data structures for projects, records, and search results.
package models

import (
	"fmt"
	"time"
)

// Kind classifies what a record is about.
type Kind string

const (
	KindIssue  Kind = "issue"
	KindSpec   Kind = "spec"
	KindArch   Kind = "arch"
	KindUpdate Kind = "update"
)

// Kinds lists all valid record kinds.
var Kinds = []Kind{KindIssue, KindSpec, KindArch, KindUpdate}

// ParseKind validates a kind string.
func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds {
		if s == string(k) {
			return k, nil
		}
	}
	return "", &ValidationError{Field: "kind", Msg: fmt.Sprintf("unknown kind %q", s)}
}

// Status is the lifecycle state of a record.
type Status string

const (
	StatusOpen     Status = "open"
	StatusResolved Status = "resolved"
	StatusArchived Status = "archived"
)

// Statuses lists all valid record statuses.
var Statuses = []Status{StatusOpen, StatusResolved, StatusArchived}

// ParseStatus validates a status string. The empty string defaults to "open".
func ParseStatus(s string) (Status, error) {
	if s == "" {
		return StatusOpen, nil
	}
	for _, st := range Statuses {
		if s == string(st) {
			return st, nil
		}
	}
	return "", &ValidationError{Field: "status", Msg: fmt.Sprintf("unknown status %q", s)}
}

// ValidationError reports a malformed input field. No write happens when one is returned.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Msg)
}

// Project owns records. Created on first sight of its name; UpdatedAt is
// bumped on every subsequent sighting.
type Project struct {
	ID        int64     `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Record is a stored note belonging to exactly one project. Its ID is stable
// across updates; every mutation refreshes UpdatedAt.
type Record struct {
	ID        int64     `json:"id" db:"id"`
	ProjectID int64     `json:"project_id" db:"project_id"`
	Kind      Kind      `json:"kind" db:"kind"`
	Title     string    `json:"title" db:"title"`
	Body      string    `json:"body" db:"body"`
	Status    Status    `json:"status" db:"status"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// EmbeddingText is the text a record's embedding is computed from.
func (r *Record) EmbeddingText() string {
	if r.Body == "" {
		return r.Title
	}
	return r.Title + " " + r.Body
}

// RecordDetail is a record hydrated with its owning project's name.
type RecordDetail struct {
	Record
	Project string `json:"project"`
}

// RecordInput is the input for creating or updating a record.
// When ID is set the write is an explicit update and no dedup check runs.
type RecordInput struct {
	ID        int64  `json:"id,omitempty"`
	ProjectID int64  `json:"project_id,omitempty"`
	Kind      string `json:"kind"`
	Title     string `json:"title"`
	Body      string `json:"body,omitempty"`
	Status    string `json:"status,omitempty"`
}

// Validate checks enum values and required fields, returning the parsed
// kind and status. Status defaults to open.
func (in *RecordInput) Validate() (Kind, Status, error) {
	kind, err := ParseKind(in.Kind)
	if err != nil {
		return "", "", err
	}
	status, err := ParseStatus(in.Status)
	if err != nil {
		return "", "", err
	}
	if in.Title == "" {
		return "", "", &ValidationError{Field: "title", Msg: "title is required"}
	}
	return kind, status, nil
}

// SearchQuery is a semantic search request over records.
type SearchQuery struct {
	Query string `json:"query"`
	// Kind restricts results to one kind; empty or "all" means no restriction.
	Kind string `json:"kind,omitempty"`
	// Project restricts results to one project: empty or "current" is the
	// caller's current project, "*" means all projects, anything else is a
	// project name.
	Project string `json:"project,omitempty"`
	Limit   int    `json:"limit,omitempty"`
}

// Validate normalizes the query: limit defaults to 5 and is capped at 100.
// The kind filter, when present, must be a valid kind.
func (q *SearchQuery) Validate() error {
	if q.Query == "" {
		return &ValidationError{Field: "query", Msg: "query cannot be empty"}
	}
	if q.Limit <= 0 {
		q.Limit = 5
	}
	if q.Limit > 100 {
		q.Limit = 100
	}
	if q.Kind != "" && q.Kind != "all" {
		if _, err := ParseKind(q.Kind); err != nil {
			return err
		}
	}
	return nil
}

// SearchResult is a single search hit: the record, its project's name, and
// the boosted similarity score in [0,1]. Raw index distance is internal and
// not exposed.
type SearchResult struct {
	Record     *Record `json:"record"`
	Project    string  `json:"project"`
	Similarity float64 `json:"similarity"`
}

// ListFilter selects records for listing. Zero values mean no restriction
// except Project, where the empty string resolves to the current project.
type ListFilter struct {
	// Kind filters by kind; empty or "all" matches every kind.
	Kind string `json:"kind,omitempty"`
	// Status filters by status; empty or "all" matches every status.
	Status string `json:"status,omitempty"`
	// Project is empty or "current" for the current project, "*" for all
	// projects, or a project name. An unknown name yields an empty list.
	Project string `json:"project,omitempty"`
}

// Validate checks the kind and status filters against the enums, treating
// empty and "all" as wildcards.
func (f *ListFilter) Validate() error {
	if f.Kind != "" && f.Kind != "all" {
		if _, err := ParseKind(f.Kind); err != nil {
			return err
		}
	}
	if f.Status != "" && f.Status != "all" {
		if _, err := ParseStatus(f.Status); err != nil {
			return err
		}
	}
	return nil
}

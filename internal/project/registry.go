package project

import (
	"context"
	"fmt"
	"sync"

	"github.com/hyperjump/kioku/internal/models"
	"github.com/hyperjump/kioku/internal/storage"
)

// Registry resolves the current project once and caches it for the process
// lifetime. Resolution is an upsert: first sight of a name creates the
// project, later sightings bump its updated_at.
type Registry struct {
	store   storage.Store
	mu      sync.Mutex
	current *models.Project
}

// NewRegistry creates a registry backed by store.
func NewRegistry(store storage.Store) *Registry {
	return &Registry{store: store}
}

// ResolveCurrent resolves nameHint to a project row (creating or touching
// it) and caches the result. Later calls return the cached project without
// touching storage again.
func (r *Registry) ResolveCurrent(ctx context.Context, nameHint string) (*models.Project, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current != nil {
		return r.current, nil
	}
	if nameHint == "" {
		return nil, fmt.Errorf("project name hint cannot be empty")
	}
	p, err := r.store.UpsertProject(ctx, nameHint)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve project %q: %w", nameHint, err)
	}
	r.current = p
	return p, nil
}

// Current returns the cached current project, or nil before ResolveCurrent.
func (r *Registry) Current() *models.Project {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// List returns all known projects sorted by name ascending.
func (r *Registry) List(ctx context.Context) ([]*models.Project, error) {
	return r.store.ListProjects(ctx)
}

package memory

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/hyperjump/kioku/internal/embedding"
	"github.com/hyperjump/kioku/internal/models"
	"github.com/hyperjump/kioku/internal/project"
	"github.com/hyperjump/kioku/internal/storage"
	"github.com/hyperjump/kioku/internal/vector"
)

// Service is the record store orchestration layer. Each logical operation
// performs two physical writes (record row, then embedding); the row is
// authoritative and Reindex repairs a missing embedding after a crash
// between the two.
type Service struct {
	store    storage.Store
	index    vector.Index
	embedder embedding.Embedder
	registry *project.Registry
	logger   *zap.Logger
}

// NewService creates a record service with the given dependencies.
func NewService(
	store storage.Store,
	index vector.Index,
	embedder embedding.Embedder,
	registry *project.Registry,
	logger *zap.Logger,
) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:    store,
		index:    index,
		embedder: embedder,
		registry: registry,
		logger:   logger,
	}
}

// Upsert creates or updates a record together with its embedding.
//
// With an id it is an explicit update: the row is overwritten and the
// embedding replaced, no dedup check. Without an id the new text is compared
// against its (project, kind) neighbors first; within DedupThreshold the
// nearest existing record is overwritten instead of creating a duplicate,
// and its id is returned with merged=true. Merging is a success path, not an
// error.
func (s *Service) Upsert(ctx context.Context, in *models.RecordInput) (detail *models.RecordDetail, merged bool, err error) {
	kind, status, err := in.Validate()
	if err != nil {
		return nil, false, err
	}
	rec := models.Record{
		Kind:   kind,
		Title:  in.Title,
		Body:   in.Body,
		Status: status,
	}
	vec, err := s.embedder.Embed(ctx, rec.EmbeddingText())
	if err != nil {
		return nil, false, fmt.Errorf("embedding failed: %w", err)
	}

	if in.ID != 0 {
		detail, err = s.updateExisting(ctx, in.ID, rec, vec)
		return detail, false, err
	}

	projectID := in.ProjectID
	if projectID == 0 {
		current := s.registry.Current()
		if current == nil {
			return nil, false, fmt.Errorf("no current project resolved")
		}
		projectID = current.ID
	}

	if dup, err := s.findDuplicate(ctx, projectID, kind, vec); err != nil {
		return nil, false, err
	} else if dup != 0 {
		s.logger.Debug("merging into existing record",
			zap.Int64("record_id", dup),
			zap.String("title", rec.Title),
		)
		detail, err := s.updateExisting(ctx, dup, rec, vec)
		return detail, true, err
	}

	rec.ProjectID = projectID
	if err := s.store.CreateRecord(ctx, &rec); err != nil {
		return nil, false, err
	}
	if err := s.index.Insert(ctx, rec.ID, vec); err != nil {
		return nil, false, fmt.Errorf("failed to index record %d: %w", rec.ID, err)
	}
	s.logger.Debug("created record", zap.Int64("record_id", rec.ID), zap.String("kind", string(kind)))
	detail, err = s.store.GetRecord(ctx, rec.ID)
	return detail, false, err
}

// updateExisting overwrites the row for id with rec's kind, title, body and
// status, then replaces its embedding. The index has no in-place update,
// so the vector is deleted and reinserted under the same key.
func (s *Service) updateExisting(ctx context.Context, id int64, rec models.Record, vec []float32) (*models.RecordDetail, error) {
	existing, err := s.store.GetRecord(ctx, id)
	if err != nil {
		return nil, err
	}
	updated := existing.Record
	updated.Kind = rec.Kind
	updated.Title = rec.Title
	updated.Body = rec.Body
	updated.Status = rec.Status
	if err := s.store.UpdateRecord(ctx, &updated); err != nil {
		return nil, err
	}
	if err := s.index.Delete(ctx, id); err != nil {
		return nil, err
	}
	if err := s.index.Insert(ctx, id, vec); err != nil {
		return nil, fmt.Errorf("failed to reindex record %d: %w", id, err)
	}
	return s.store.GetRecord(ctx, id)
}

// findDuplicate returns the id of the nearest (projectID, kind) record
// within DedupThreshold cosine distance, or 0 when the new text is distinct.
func (s *Service) findDuplicate(ctx context.Context, projectID int64, kind models.Kind, vec []float32) (int64, error) {
	ids, err := s.store.RecordIDs(ctx, storage.RecordFilter{ProjectID: &projectID, Kind: kind})
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}
	allowed := make(map[int64]bool, len(ids))
	for _, id := range ids {
		allowed[id] = true
	}
	hits, err := s.index.Search(ctx, vec, DedupCandidates, func(key int64) bool { return allowed[key] })
	if err != nil {
		return 0, err
	}
	if len(hits) > 0 && isDuplicate(hits[0].Distance) {
		return hits[0].Key, nil
	}
	return 0, nil
}

// Search returns records ranked by boosted similarity to the query text.
// The pipeline: over-fetch candidates from the index, hydrate rows, score
// with the current-project boost, drop weak matches, re-sort, truncate.
func (s *Service) Search(ctx context.Context, q *models.SearchQuery) ([]*models.SearchResult, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	vec, err := s.embedder.Embed(ctx, q.Query)
	if err != nil {
		return nil, fmt.Errorf("embedding failed: %w", err)
	}

	filter := storage.RecordFilter{}
	if q.Kind != "" && q.Kind != "all" {
		filter.Kind = models.Kind(q.Kind)
	}
	targetID, all, err := s.resolveProjectFilter(ctx, q.Project)
	if err != nil {
		return nil, err
	}
	if !all {
		if targetID == 0 {
			// Named project does not exist: nothing can match.
			return []*models.SearchResult{}, nil
		}
		filter.ProjectID = &targetID
	}

	var indexFilter vector.Filter
	if filter.ProjectID != nil || filter.Kind != "" {
		ids, err := s.store.RecordIDs(ctx, filter)
		if err != nil {
			return nil, err
		}
		if len(ids) == 0 {
			return []*models.SearchResult{}, nil
		}
		allowed := make(map[int64]bool, len(ids))
		for _, id := range ids {
			allowed[id] = true
		}
		indexFilter = func(key int64) bool { return allowed[key] }
	}

	hits, err := s.index.Search(ctx, vec, q.Limit*SearchOverfetch, indexFilter)
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}

	cands := make([]scoredRecord, 0, len(hits))
	for _, hit := range hits {
		detail, err := s.store.GetRecord(ctx, hit.Key)
		if errors.Is(err, storage.ErrNotFound) {
			// Index can briefly lead the store; skip, do not fail.
			continue
		}
		if err != nil {
			return nil, err
		}
		cands = append(cands, scoredRecord{detail: detail, distance: hit.Distance})
	}

	var currentID int64
	if current := s.registry.Current(); current != nil {
		currentID = current.ID
	}
	cands = scoreCandidates(cands, currentID)
	cands = filterCandidates(cands)
	cands = sortCandidates(cands)
	cands = truncateCandidates(cands, q.Limit)
	return toResults(cands), nil
}

// resolveProjectFilter maps a project selector to a project id.
// "" and "current" mean the current project, "*" means all projects
// (all=true), anything else is a project name; an unknown name returns
// id 0 with all=false so callers yield an empty result instead of an error.
func (s *Service) resolveProjectFilter(ctx context.Context, selector string) (id int64, all bool, err error) {
	switch selector {
	case "*":
		return 0, true, nil
	case "", "current":
		current := s.registry.Current()
		if current == nil {
			return 0, false, fmt.Errorf("no current project resolved")
		}
		return current.ID, false, nil
	default:
		p, err := s.store.GetProjectByName(ctx, selector)
		if errors.Is(err, storage.ErrNotFound) {
			return 0, false, nil
		}
		if err != nil {
			return 0, false, err
		}
		return p.ID, false, nil
	}
}

// ResolveProject returns the id for a project name, creating the project on
// first sight. An empty name resolves to the current project.
func (s *Service) ResolveProject(ctx context.Context, name string) (int64, error) {
	if name == "" {
		current := s.registry.Current()
		if current == nil {
			return 0, fmt.Errorf("no current project resolved")
		}
		return current.ID, nil
	}
	p, err := s.store.UpsertProject(ctx, name)
	if err != nil {
		return 0, err
	}
	return p.ID, nil
}

// Get returns a record with its project name, or nil when absent.
func (s *Service) Get(ctx context.Context, id int64) (*models.RecordDetail, error) {
	detail, err := s.store.GetRecord(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return detail, nil
}

// List returns records matching f ordered by updated_at descending. An
// unknown project name yields an empty list, not an error.
func (s *Service) List(ctx context.Context, f *models.ListFilter) ([]*models.RecordDetail, error) {
	if f == nil {
		f = &models.ListFilter{}
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	filter := storage.RecordFilter{}
	if f.Kind != "" && f.Kind != "all" {
		filter.Kind = models.Kind(f.Kind)
	}
	if f.Status != "" && f.Status != "all" {
		filter.Status = models.Status(f.Status)
	}
	targetID, all, err := s.resolveProjectFilter(ctx, f.Project)
	if err != nil {
		return nil, err
	}
	if !all {
		if targetID == 0 {
			return []*models.RecordDetail{}, nil
		}
		filter.ProjectID = &targetID
	}
	details, err := s.store.ListRecords(ctx, filter)
	if err != nil {
		return nil, err
	}
	if details == nil {
		details = []*models.RecordDetail{}
	}
	return details, nil
}

// Delete removes a record and its embedding, reporting whether the record
// existed. The embedding goes first: re-deleting it is harmless, while a
// row without an embedding is a recoverable inconsistency.
func (s *Service) Delete(ctx context.Context, id int64) (bool, error) {
	if err := s.index.Delete(ctx, id); err != nil {
		return false, err
	}
	existed, err := s.store.DeleteRecord(ctx, id)
	if err != nil {
		return false, err
	}
	if existed {
		s.logger.Debug("deleted record", zap.Int64("record_id", id))
	}
	return existed, nil
}

// DeleteProject removes a project, its records, and their embeddings. The
// embeddings go first; the relational cascade then takes the rows.
func (s *Service) DeleteProject(ctx context.Context, id int64) error {
	ids, err := s.store.RecordIDs(ctx, storage.RecordFilter{ProjectID: &id})
	if err != nil {
		return err
	}
	for _, recID := range ids {
		if err := s.index.Delete(ctx, recID); err != nil {
			return err
		}
	}
	return s.store.DeleteProject(ctx, id)
}

// IndexSize returns the number of embeddings in the vector index.
func (s *Service) IndexSize() int {
	return s.index.Size()
}

// Reindex inserts an embedding for every record missing from the vector
// index and returns how many were repaired. Run at startup so rows written
// before a crash become searchable again.
func (s *Service) Reindex(ctx context.Context) (int, error) {
	records, err := s.store.AllRecords(ctx)
	if err != nil {
		return 0, err
	}
	repaired := 0
	for _, rec := range records {
		if s.index.Has(rec.ID) {
			continue
		}
		vec, err := s.embedder.Embed(ctx, rec.EmbeddingText())
		if err != nil {
			return repaired, fmt.Errorf("failed to embed record %d: %w", rec.ID, err)
		}
		if err := s.index.Insert(ctx, rec.ID, vec); err != nil {
			return repaired, err
		}
		repaired++
	}
	if repaired > 0 {
		s.logger.Info("reindexed records missing from vector index", zap.Int("count", repaired))
	}
	return repaired, nil
}

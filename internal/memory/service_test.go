package memory

import (
	"context"
	"fmt"
	"math"
	"path/filepath"
	"testing"

	"github.com/hyperjump/kioku/internal/models"
	"github.com/hyperjump/kioku/internal/project"
	"github.com/hyperjump/kioku/internal/storage"
	"github.com/hyperjump/kioku/internal/vector"
)

const testDims = 4

// fixedEmbedder returns preset unit vectors per text so tests control the
// exact cosine distances the service sees.
type fixedEmbedder struct {
	vectors map[string][]float32
}

func (f *fixedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	v, ok := f.vectors[text]
	if !ok {
		return nil, fmt.Errorf("no fixture vector for %q", text)
	}
	return v, nil
}

func (f *fixedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := f.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (f *fixedEmbedder) Dimensions() int { return testDims }
func (f *fixedEmbedder) Close() error    { return nil }

// atDistance builds a unit vector whose cosine distance from (1,0,0,0) is d.
func atDistance(d float64) []float32 {
	dot := 1 - d
	return []float32{float32(dot), float32(math.Sqrt(1 - dot*dot)), 0, 0}
}

type testEnv struct {
	service  *Service
	store    storage.Store
	index    *vector.MemoryIndex
	registry *project.Registry
	embedder *fixedEmbedder
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })
	index, err := vector.NewMemoryIndex(testDims)
	if err != nil {
		t.Fatal(err)
	}
	embedder := &fixedEmbedder{vectors: make(map[string][]float32)}
	registry := project.NewRegistry(store)
	return &testEnv{
		service:  NewService(store, index, embedder, registry, nil),
		store:    store,
		index:    index,
		registry: registry,
		embedder: embedder,
	}
}

func (e *testEnv) resolve(t *testing.T, name string) *models.Project {
	t.Helper()
	p, err := e.registry.ResolveCurrent(context.Background(), name)
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func TestUpsert_CreateAndMerge(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.resolve(t, "demo")
	env.embedder.vectors["login crashes on empty password"] = atDistance(0)
	env.embedder.vectors["login crash with blank password"] = atDistance(0.08)

	first, merged, err := env.service.Upsert(ctx, &models.RecordInput{
		Kind:  "issue",
		Title: "login crashes on empty password",
	})
	if err != nil {
		t.Fatal(err)
	}
	if first.ID == 0 || first.Project != "demo" {
		t.Fatalf("created record wrong: %+v", first)
	}
	if merged {
		t.Error("first write must not report a merge")
	}

	// Near-duplicate text merges into the existing record.
	second, merged, err := env.service.Upsert(ctx, &models.RecordInput{
		Kind:  "issue",
		Title: "login crash with blank password",
	})
	if err != nil {
		t.Fatal(err)
	}
	if !merged {
		t.Error("near-duplicate write should report a merge")
	}
	if second.ID != first.ID {
		t.Errorf("duplicate should merge: got id %d, want %d", second.ID, first.ID)
	}
	if second.Title != "login crash with blank password" {
		t.Errorf("merge should keep the newer text, got %q", second.Title)
	}
	if n, _ := env.store.CountRecords(ctx); n != 1 {
		t.Errorf("expected 1 record after merge, got %d", n)
	}
	if env.index.Size() != 1 {
		t.Errorf("expected 1 index entry after merge, got %d", env.index.Size())
	}
}

func TestUpsert_DedupIdempotence(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.resolve(t, "demo")
	env.embedder.vectors["flaky websocket reconnect"] = atDistance(0)

	in := &models.RecordInput{Kind: "issue", Title: "flaky websocket reconnect"}
	first, _, err := env.service.Upsert(ctx, in)
	if err != nil {
		t.Fatal(err)
	}
	again, _, err := env.service.Upsert(ctx, in)
	if err != nil {
		t.Fatal(err)
	}
	if again.ID != first.ID {
		t.Errorf("identical upsert must return the same id: %d vs %d", again.ID, first.ID)
	}
	if n, _ := env.store.CountRecords(ctx); n != 1 {
		t.Errorf("expected 1 record, got %d", n)
	}
}

func TestUpsert_DistinctAndCrossKind(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.resolve(t, "demo")
	env.embedder.vectors["auth service design"] = atDistance(0)
	env.embedder.vectors["billing export format"] = atDistance(0.5)
	env.embedder.vectors["auth service issue"] = atDistance(0.08)

	a, _, err := env.service.Upsert(ctx, &models.RecordInput{Kind: "arch", Title: "auth service design"})
	if err != nil {
		t.Fatal(err)
	}
	b, _, err := env.service.Upsert(ctx, &models.RecordInput{Kind: "arch", Title: "billing export format"})
	if err != nil {
		t.Fatal(err)
	}
	if b.ID == a.ID {
		t.Error("distant text must create a new record")
	}

	// Dedup only compares within the same kind: close text under a
	// different kind is a new record.
	c, _, err := env.service.Upsert(ctx, &models.RecordInput{Kind: "issue", Title: "auth service issue"})
	if err != nil {
		t.Fatal(err)
	}
	if c.ID == a.ID {
		t.Error("same project but different kind must not merge")
	}
	if n, _ := env.store.CountRecords(ctx); n != 3 {
		t.Errorf("expected 3 records, got %d", n)
	}
}

func TestUpsert_ExplicitUpdate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.resolve(t, "demo")
	env.embedder.vectors["migration plan"] = atDistance(0)
	env.embedder.vectors["migration plan v2"] = atDistance(0.02)

	created, _, err := env.service.Upsert(ctx, &models.RecordInput{Kind: "spec", Title: "migration plan"})
	if err != nil {
		t.Fatal(err)
	}
	updated, _, err := env.service.Upsert(ctx, &models.RecordInput{
		ID:     created.ID,
		Kind:   "spec",
		Title:  "migration plan v2",
		Status: "resolved",
	})
	if err != nil {
		t.Fatal(err)
	}
	if updated.ID != created.ID {
		t.Errorf("explicit update changed id: %d vs %d", updated.ID, created.ID)
	}
	if updated.Status != models.StatusResolved || updated.Title != "migration plan v2" {
		t.Errorf("update not applied: %+v", updated)
	}
	if n, _ := env.store.CountRecords(ctx); n != 1 {
		t.Errorf("explicit update must never duplicate, got %d records", n)
	}

	// Updating a missing id is an error, not a create.
	if _, _, err := env.service.Upsert(ctx, &models.RecordInput{
		ID: 9999, Kind: "spec", Title: "migration plan v2",
	}); err == nil {
		t.Error("update of missing record should fail")
	}
}

func TestUpsert_NoCurrentProject(t *testing.T) {
	env := newTestEnv(t)
	env.embedder.vectors["orphan note"] = atDistance(0)
	_, _, err := env.service.Upsert(context.Background(), &models.RecordInput{
		Kind: "update", Title: "orphan note",
	})
	if err == nil {
		t.Error("upsert without project id or current project must fail")
	}
}

func TestSearch_BoostAndFloor(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.resolve(t, "demo")
	other, err := env.store.UpsertProject(ctx, "other")
	if err != nil {
		t.Fatal(err)
	}

	env.embedder.vectors["demo cache invalidation"] = atDistance(0.30)
	env.embedder.vectors["other cache invalidation"] = atDistance(0.25)
	env.embedder.vectors["other unrelated note"] = atDistance(0.9)
	env.embedder.vectors["cache invalidation"] = atDistance(0) // query

	demoRec, _, err := env.service.Upsert(ctx, &models.RecordInput{
		Kind: "issue", Title: "demo cache invalidation",
	})
	if err != nil {
		t.Fatal(err)
	}
	otherRec, _, err := env.service.Upsert(ctx, &models.RecordInput{
		ProjectID: other.ID, Kind: "issue", Title: "other cache invalidation",
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := env.service.Upsert(ctx, &models.RecordInput{
		ProjectID: other.ID, Kind: "issue", Title: "other unrelated note",
	}); err != nil {
		t.Fatal(err)
	}

	results, err := env.service.Search(ctx, &models.SearchQuery{
		Query: "cache invalidation", Project: "*",
	})
	if err != nil {
		t.Fatal(err)
	}
	// Far record falls below the similarity floor; the current-project
	// boost lifts the demo record over the raw-closer other-project one.
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Record.ID != demoRec.ID {
		t.Errorf("boosted current-project record should rank first, got id %d", results[0].Record.ID)
	}
	if results[1].Record.ID != otherRec.ID {
		t.Errorf("expected other-project record second, got id %d", results[1].Record.ID)
	}
	if math.Abs(results[0].Similarity-0.80) > 1e-3 {
		t.Errorf("boosted similarity = %f, want ~0.80", results[0].Similarity)
	}
	if math.Abs(results[1].Similarity-0.75) > 1e-3 {
		t.Errorf("unboosted similarity = %f, want ~0.75", results[1].Similarity)
	}
}

func TestSearch_ProjectScoping(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.resolve(t, "demo")
	other, err := env.store.UpsertProject(ctx, "other")
	if err != nil {
		t.Fatal(err)
	}
	env.embedder.vectors["demo note"] = atDistance(0.1)
	env.embedder.vectors["other note"] = atDistance(0.2)
	env.embedder.vectors["note"] = atDistance(0)

	if _, _, err := env.service.Upsert(ctx, &models.RecordInput{Kind: "update", Title: "demo note"}); err != nil {
		t.Fatal(err)
	}
	if _, _, err := env.service.Upsert(ctx, &models.RecordInput{
		ProjectID: other.ID, Kind: "update", Title: "other note",
	}); err != nil {
		t.Fatal(err)
	}

	// Default selector scopes to the current project.
	results, err := env.service.Search(ctx, &models.SearchQuery{Query: "note"})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].Record.Title != "demo note" {
		t.Errorf("current-project search wrong: %d results", len(results))
	}

	// A named project scopes to it, even when it is not current.
	results, err = env.service.Search(ctx, &models.SearchQuery{Query: "note", Project: "other"})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].Record.Title != "other note" {
		t.Errorf("named-project search wrong: %d results", len(results))
	}

	// An unknown project name yields an empty result, not an error.
	results, err = env.service.Search(ctx, &models.SearchQuery{Query: "note", Project: "ghost"})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 0 {
		t.Errorf("unknown project should match nothing, got %d results", len(results))
	}
}

func TestSearch_LimitTruncates(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.resolve(t, "demo")
	env.embedder.vectors["q"] = atDistance(0)
	for i := 0; i < 6; i++ {
		title := fmt.Sprintf("note %d", i)
		// 35 degree spacing keeps every pair outside the dedup threshold.
		theta := float64(i) * 35 * math.Pi / 180
		env.embedder.vectors[title] = []float32{
			float32(math.Cos(theta)), float32(math.Sin(theta)), 0, 0,
		}
	}
	for i := 0; i < 6; i++ {
		if _, _, err := env.service.Upsert(ctx, &models.RecordInput{
			Kind: "update", Title: fmt.Sprintf("note %d", i),
		}); err != nil {
			t.Fatal(err)
		}
	}
	results, err := env.service.Search(ctx, &models.SearchQuery{Query: "q", Limit: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("limit 2 should truncate, got %d", len(results))
	}
	if results[0].Similarity < results[1].Similarity {
		t.Error("results must be sorted descending by similarity")
	}
}

func TestDelete_RemovesRowAndEmbedding(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.resolve(t, "demo")
	env.embedder.vectors["to delete"] = atDistance(0)

	rec, _, err := env.service.Upsert(ctx, &models.RecordInput{Kind: "issue", Title: "to delete"})
	if err != nil {
		t.Fatal(err)
	}
	existed, err := env.service.Delete(ctx, rec.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !existed {
		t.Error("delete of existing record should report true")
	}
	if env.index.Has(rec.ID) {
		t.Error("embedding should be gone after delete")
	}
	if got, err := env.service.Get(ctx, rec.ID); err != nil || got != nil {
		t.Errorf("Get after delete = %+v, %v", got, err)
	}
	existed, err = env.service.Delete(ctx, rec.ID)
	if err != nil {
		t.Fatal(err)
	}
	if existed {
		t.Error("second delete should report false")
	}
}

func TestDeleteProject_NoOrphanEmbeddings(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	demo := env.resolve(t, "demo")
	other, err := env.store.UpsertProject(ctx, "other")
	if err != nil {
		t.Fatal(err)
	}
	env.embedder.vectors["demo a"] = atDistance(0.05)
	env.embedder.vectors["demo b"] = atDistance(0.5)
	env.embedder.vectors["other a"] = atDistance(0.9)

	for _, title := range []string{"demo a", "demo b"} {
		if _, _, err := env.service.Upsert(ctx, &models.RecordInput{Kind: "update", Title: title}); err != nil {
			t.Fatal(err)
		}
	}
	kept, _, err := env.service.Upsert(ctx, &models.RecordInput{
		ProjectID: other.ID, Kind: "update", Title: "other a",
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := env.service.DeleteProject(ctx, demo.ID); err != nil {
		t.Fatal(err)
	}
	if n, _ := env.store.CountRecords(ctx); n != 1 {
		t.Errorf("expected only the other project's record, got %d", n)
	}
	if env.index.Size() != 1 || !env.index.Has(kept.ID) {
		t.Errorf("index should hold exactly the surviving record, size %d", env.index.Size())
	}
}

func TestReindex_RepairsMissingEmbedding(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.resolve(t, "demo")
	env.embedder.vectors["persisted row"] = atDistance(0)

	rec, _, err := env.service.Upsert(ctx, &models.RecordInput{Kind: "issue", Title: "persisted row"})
	if err != nil {
		t.Fatal(err)
	}
	// Simulate a crash between the row write and the index write.
	if err := env.index.Delete(ctx, rec.ID); err != nil {
		t.Fatal(err)
	}

	repaired, err := env.service.Reindex(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if repaired != 1 {
		t.Errorf("expected 1 repaired entry, got %d", repaired)
	}
	if !env.index.Has(rec.ID) {
		t.Error("record should be searchable again after reindex")
	}

	// A second pass finds nothing to do.
	repaired, err = env.service.Reindex(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if repaired != 0 {
		t.Errorf("reindex should be idempotent, repaired %d", repaired)
	}
}

package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/hyperjump/kioku/internal/models"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSQLiteStore_ProjectUpsert(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	p1, err := store.UpsertProject(ctx, "demo")
	if err != nil {
		t.Fatal(err)
	}
	if p1.ID == 0 {
		t.Error("project id should be assigned")
	}
	if p1.CreatedAt.IsZero() || p1.UpdatedAt.IsZero() {
		t.Error("timestamps should be set")
	}

	time.Sleep(5 * time.Millisecond)
	p2, err := store.UpsertProject(ctx, "demo")
	if err != nil {
		t.Fatal(err)
	}
	if p2.ID != p1.ID {
		t.Errorf("upsert should keep the id: %d != %d", p2.ID, p1.ID)
	}
	if !p2.UpdatedAt.After(p1.UpdatedAt) {
		t.Error("upsert should bump updated_at")
	}
	if !p2.CreatedAt.Equal(p1.CreatedAt) {
		t.Error("upsert should not change created_at")
	}
}

func TestSQLiteStore_ProjectNameCaseSensitive(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	a, _ := store.UpsertProject(ctx, "Demo")
	b, err := store.UpsertProject(ctx, "demo")
	if err != nil {
		t.Fatal(err)
	}
	if a.ID == b.ID {
		t.Error("project names are case-sensitive; expected two projects")
	}
}

func TestSQLiteStore_ListProjectsSorted(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	for _, name := range []string{"zebra", "alpha", "mango"} {
		if _, err := store.UpsertProject(ctx, name); err != nil {
			t.Fatal(err)
		}
	}
	list, err := store.ListProjects(ctx)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"alpha", "mango", "zebra"}
	if len(list) != len(want) {
		t.Fatalf("expected %d projects, got %d", len(want), len(list))
	}
	for i, p := range list {
		if p.Name != want[i] {
			t.Errorf("position %d: expected %s, got %s", i, want[i], p.Name)
		}
	}
}

func TestSQLiteStore_RecordCRUD(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	proj, _ := store.UpsertProject(ctx, "demo")
	rec := &models.Record{
		ProjectID: proj.ID,
		Kind:      models.KindIssue,
		Title:     "login crashes on empty password",
		Body:      "stack trace attached",
		Status:    models.StatusOpen,
	}
	if err := store.CreateRecord(ctx, rec); err != nil {
		t.Fatal(err)
	}
	if rec.ID == 0 {
		t.Fatal("record id should be assigned")
	}

	got, err := store.GetRecord(ctx, rec.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Title != rec.Title || got.Project != "demo" {
		t.Errorf("got %+v", got)
	}

	before := got.UpdatedAt
	time.Sleep(5 * time.Millisecond)
	rec.Title = "login crash empty password field"
	rec.Status = models.StatusResolved
	if err := store.UpdateRecord(ctx, rec); err != nil {
		t.Fatal(err)
	}
	got, _ = store.GetRecord(ctx, rec.ID)
	if got.Title != "login crash empty password field" || got.Status != models.StatusResolved {
		t.Errorf("update not applied: %+v", got)
	}
	if !got.UpdatedAt.After(before) {
		t.Error("update should refresh updated_at")
	}
	if !got.CreatedAt.Equal(rec.CreatedAt) {
		t.Error("update should not change created_at")
	}

	existed, err := store.DeleteRecord(ctx, rec.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !existed {
		t.Error("delete should report the record existed")
	}
	existed, err = store.DeleteRecord(ctx, rec.ID)
	if err != nil {
		t.Fatal(err)
	}
	if existed {
		t.Error("second delete should report absence")
	}
	if _, err := store.GetRecord(ctx, rec.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSQLiteStore_UpdateMissingRecord(t *testing.T) {
	store := newTestStore(t)
	err := store.UpdateRecord(context.Background(), &models.Record{ID: 999, Kind: models.KindIssue, Title: "x", Status: models.StatusOpen})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSQLiteStore_CascadeDelete(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	proj, _ := store.UpsertProject(ctx, "doomed")
	other, _ := store.UpsertProject(ctx, "kept")
	for i := 0; i < 3; i++ {
		rec := &models.Record{ProjectID: proj.ID, Kind: models.KindIssue, Title: "t", Status: models.StatusOpen}
		if err := store.CreateRecord(ctx, rec); err != nil {
			t.Fatal(err)
		}
	}
	keep := &models.Record{ProjectID: other.ID, Kind: models.KindSpec, Title: "survivor", Status: models.StatusOpen}
	_ = store.CreateRecord(ctx, keep)

	if err := store.DeleteProject(ctx, proj.ID); err != nil {
		t.Fatal(err)
	}
	count, err := store.CountRecords(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("cascade should remove the project's records, %d left", count)
	}
}

func TestSQLiteStore_ListRecordsFilterAndOrder(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	pa, _ := store.UpsertProject(ctx, "a")
	pb, _ := store.UpsertProject(ctx, "b")

	mk := func(pid int64, kind models.Kind, status models.Status, title string) {
		t.Helper()
		rec := &models.Record{ProjectID: pid, Kind: kind, Title: title, Status: status}
		if err := store.CreateRecord(ctx, rec); err != nil {
			t.Fatal(err)
		}
		time.Sleep(2 * time.Millisecond)
	}
	mk(pa.ID, models.KindIssue, models.StatusOpen, "first")
	mk(pa.ID, models.KindSpec, models.StatusResolved, "second")
	mk(pb.ID, models.KindIssue, models.StatusOpen, "third")

	all, err := store.ListRecords(ctx, RecordFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 records, got %d", len(all))
	}
	if all[0].Title != "third" {
		t.Errorf("default order should be updated_at DESC, first was %s", all[0].Title)
	}

	issues, _ := store.ListRecords(ctx, RecordFilter{Kind: models.KindIssue})
	if len(issues) != 2 {
		t.Errorf("expected 2 issues, got %d", len(issues))
	}

	onlyA, _ := store.ListRecords(ctx, RecordFilter{ProjectID: &pa.ID})
	if len(onlyA) != 2 {
		t.Errorf("expected 2 records in project a, got %d", len(onlyA))
	}

	resolved, _ := store.ListRecords(ctx, RecordFilter{Status: models.StatusResolved})
	if len(resolved) != 1 || resolved[0].Title != "second" {
		t.Errorf("status filter wrong: %+v", resolved)
	}

	ids, err := store.RecordIDs(ctx, RecordFilter{ProjectID: &pa.ID, Kind: models.KindIssue})
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 1 {
		t.Errorf("expected 1 id for (a, issue), got %d", len(ids))
	}
}

func TestSQLiteStore_ClosedStore(t *testing.T) {
	store := newTestStore(t)
	if err := store.Close(); err != nil {
		t.Fatal(err)
	}
	_, err := store.ListProjects(context.Background())
	if !errors.Is(err, ErrNotInitialized) {
		t.Errorf("expected ErrNotInitialized, got %v", err)
	}
}

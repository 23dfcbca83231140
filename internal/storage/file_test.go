package storage

import (
	"context"
	"errors"
	"testing"
)

func newTestFileStore(t *testing.T) *FileStore {
	t.Helper()
	s, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	return s
}

func TestFileStoreAddThenReadOne(t *testing.T) {
	s := newTestFileStore(t)
	ctx := context.Background()

	id, err := s.Add(ctx, "mining_tasks", map[string]any{"name": "alpha", "status": "pending"})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if id == "" {
		t.Fatalf("expected generated id")
	}

	doc, err := s.ReadOne(ctx, "mining_tasks", id)
	if err != nil {
		t.Fatalf("ReadOne: %v", err)
	}
	if doc["name"] != "alpha" {
		t.Fatalf("expected name alpha, got %v", doc["name"])
	}
}

func TestFileStoreAddPreservesSuppliedID(t *testing.T) {
	s := newTestFileStore(t)
	ctx := context.Background()

	id, err := s.Add(ctx, "mining_tasks", map[string]any{"id": "fixed-id", "name": "beta"})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if id != "fixed-id" {
		t.Fatalf("expected preserved id, got %s", id)
	}
}

func TestFileStoreReadOneMissingReturnsNotFound(t *testing.T) {
	s := newTestFileStore(t)
	_, err := s.ReadOne(context.Background(), "mining_tasks", "nope")
	if !errors.Is(err, ErrDocumentNotFound) {
		t.Fatalf("expected ErrDocumentNotFound, got %v", err)
	}
}

func TestFileStoreReadFiltersAndSorts(t *testing.T) {
	s := newTestFileStore(t)
	ctx := context.Background()

	for i, status := range []string{"pending", "running", "pending"} {
		if _, err := s.Add(ctx, "mining_tasks", map[string]any{
			"id":     string(rune('a' + i)),
			"status": status,
			"order":  i,
		}); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}

	docs, err := s.Read(ctx, "mining_tasks", Filter{"status": "pending"}, "order", true)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("expected 2 pending docs, got %d", len(docs))
	}
	if docs[0]["id"] != "c" || docs[1]["id"] != "a" {
		t.Fatalf("expected descending order by order field, got %+v", docs)
	}
}

func TestFileStoreUpdateMergesPatch(t *testing.T) {
	s := newTestFileStore(t)
	ctx := context.Background()

	id, _ := s.Add(ctx, "mining_tasks", map[string]any{"name": "gamma", "status": "pending"})
	if err := s.Update(ctx, "mining_tasks", id, map[string]any{"status": "completed"}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	doc, err := s.ReadOne(ctx, "mining_tasks", id)
	if err != nil {
		t.Fatalf("ReadOne: %v", err)
	}
	if doc["status"] != "completed" || doc["name"] != "gamma" {
		t.Fatalf("expected merged patch, got %+v", doc)
	}
}

func TestFileStoreUpdateMissingReturnsNotFound(t *testing.T) {
	s := newTestFileStore(t)
	err := s.Update(context.Background(), "mining_tasks", "nope", map[string]any{"status": "x"})
	if !errors.Is(err, ErrDocumentNotFound) {
		t.Fatalf("expected ErrDocumentNotFound, got %v", err)
	}
}

func TestFileStoreDeleteRemovesDocument(t *testing.T) {
	s := newTestFileStore(t)
	ctx := context.Background()

	id, _ := s.Add(ctx, "mining_tasks", map[string]any{"name": "delta"})
	if err := s.Delete(ctx, "mining_tasks", id); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.ReadOne(ctx, "mining_tasks", id); !errors.Is(err, ErrDocumentNotFound) {
		t.Fatalf("expected document gone after delete, got %v", err)
	}
}

func TestFileStorePersistsAcrossInstances(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s1, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	id, err := s1.Add(ctx, "mining_tasks", map[string]any{"name": "epsilon"})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	s2, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	doc, err := s2.ReadOne(ctx, "mining_tasks", id)
	if err != nil {
		t.Fatalf("ReadOne on reopened store: %v", err)
	}
	if doc["name"] != "epsilon" {
		t.Fatalf("expected persisted document, got %+v", doc)
	}
}

package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// FileStore is a Store backed by one JSON file per collection, written
// atomically (write-tmp-then-rename) on every mutation. It exists for
// tests and local runs that don't need a real database.
type FileStore struct {
	dir string
	mu  sync.Mutex
}

// NewFileStore creates (if needed) dir and returns a FileStore rooted there.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) collectionPath(collection string) string {
	return filepath.Join(s.dir, collection+".json")
}

func (s *FileStore) load(collection string) ([]map[string]any, error) {
	data, err := os.ReadFile(s.collectionPath(collection))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read collection %s: %w", collection, err)
	}
	var docs []map[string]any
	if err := json.Unmarshal(data, &docs); err != nil {
		return nil, fmt.Errorf("decode collection %s: %w", collection, err)
	}
	return docs, nil
}

func (s *FileStore) save(collection string, docs []map[string]any) error {
	tmp := s.collectionPath(collection) + ".tmp"
	final := s.collectionPath(collection)

	data, err := json.MarshalIndent(docs, "", "  ")
	if err != nil {
		return fmt.Errorf("encode collection %s: %w", collection, err)
	}
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write collection %s: %w", collection, err)
	}
	if err := os.Rename(tmp, final); err != nil {
		return fmt.Errorf("rename collection %s: %w", collection, err)
	}
	return nil
}

func (s *FileStore) Add(ctx context.Context, collection string, doc map[string]any) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	docs, err := s.load(collection)
	if err != nil {
		return "", err
	}

	id, _ := doc["id"].(string)
	if id == "" {
		id = uuid.NewString()
	}
	out := cloneDoc(doc)
	out["id"] = id

	docs = append(docs, out)
	if err := s.save(collection, docs); err != nil {
		return "", err
	}
	return id, nil
}

func (s *FileStore) ReadOne(ctx context.Context, collection, id string) (map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	docs, err := s.load(collection)
	if err != nil {
		return nil, err
	}
	for _, d := range docs {
		if d["id"] == id {
			return d, nil
		}
	}
	return nil, ErrDocumentNotFound
}

func (s *FileStore) Read(ctx context.Context, collection string, filter Filter, sortField string, desc bool) ([]map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	docs, err := s.load(collection)
	if err != nil {
		return nil, err
	}

	matched := make([]map[string]any, 0, len(docs))
	for _, d := range docs {
		if matchesFilter(d, filter) {
			matched = append(matched, d)
		}
	}

	if sortField != "" {
		sort.SliceStable(matched, func(i, j int) bool {
			less := fmt.Sprintf("%v", matched[i][sortField]) < fmt.Sprintf("%v", matched[j][sortField])
			if desc {
				return !less
			}
			return less
		})
	}
	return matched, nil
}

func (s *FileStore) Update(ctx context.Context, collection, id string, patch map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	docs, err := s.load(collection)
	if err != nil {
		return err
	}

	for i, d := range docs {
		if d["id"] == id {
			for k, v := range patch {
				d[k] = v
			}
			docs[i] = d
			return s.save(collection, docs)
		}
	}
	return ErrDocumentNotFound
}

func (s *FileStore) Delete(ctx context.Context, collection, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	docs, err := s.load(collection)
	if err != nil {
		return err
	}

	for i, d := range docs {
		if d["id"] == id {
			docs = append(docs[:i], docs[i+1:]...)
			return s.save(collection, docs)
		}
	}
	return ErrDocumentNotFound
}

func (s *FileStore) Close() error { return nil }

func matchesFilter(doc map[string]any, filter Filter) bool {
	for k, v := range filter {
		if fmt.Sprintf("%v", doc[k]) != fmt.Sprintf("%v", v) {
			return false
		}
	}
	return true
}

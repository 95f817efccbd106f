package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FileStore persists each record as one JSON document under
// <root>/<category>/<id>.json.
type FileStore struct {
	root string
}

// NewFileStore creates a file-backed store rooted at dir.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("store directory cannot be empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}
	return &FileStore{root: dir}, nil
}

// Save writes the record as pretty-printed JSON. The write goes through a
// temp file and rename so readers never see a partial document.
func (s *FileStore) Save(ctx context.Context, category, id string, record interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dir := filepath.Join(s.root, category)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create %s directory: %w", category, err)
	}

	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s/%s: %w", category, id, err)
	}

	path := filepath.Join(dir, sanitize(id)+".json")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to finalize %s: %w", path, err)
	}
	return nil
}

// Load reads a document into out.
func (s *FileStore) Load(ctx context.Context, category, id string, out interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path := filepath.Join(s.root, category, sanitize(id)+".json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%s/%s: %w", category, id, ErrNotFound)
		}
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to unmarshal %s: %w", path, err)
	}
	return nil
}

// List returns the ids of every document in a category.
func (s *FileStore) List(ctx context.Context, category string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(filepath.Join(s.root, category))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list %s: %w", category, err)
	}

	var ids []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ".json"))
	}
	return ids, nil
}

// Delete removes a document. Missing documents are ignored.
func (s *FileStore) Delete(ctx context.Context, category, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path := filepath.Join(s.root, category, sanitize(id)+".json")
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete %s: %w", path, err)
	}
	return nil
}

// Close is a no-op for the file store.
func (s *FileStore) Close() error { return nil }

// sanitize strips path separators from ids before they become file names.
func sanitize(id string) string {
	id = strings.ReplaceAll(id, "/", "_")
	return strings.ReplaceAll(id, string(os.PathSeparator), "_")
}

var _ Store = (*FileStore)(nil)

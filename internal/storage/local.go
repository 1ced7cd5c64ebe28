// Package storage writes downloaded media files to the local filesystem,
// mirroring each file's remote relative path under a base directory.
package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// MediaStore is the destination for downloaded media files. Implementations
// can be local filesystem or an object store.
type MediaStore interface {
	// PutStream streams content to the given key, creating parent
	// directories as needed.
	PutStream(ctx context.Context, key string, r io.Reader) (int64, error)

	// Exists checks whether a file already exists at the given key.
	Exists(ctx context.Context, key string) (bool, error)
}

// LocalMediaStore implements MediaStore on the local filesystem.
type LocalMediaStore struct {
	basePath string
}

// NewLocalMediaStore creates a filesystem media store rooted at basePath.
func NewLocalMediaStore(basePath string) (*LocalMediaStore, error) {
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create media directory %s: %w", basePath, err)
	}
	return &LocalMediaStore{basePath: basePath}, nil
}

// PutStream writes the reader's content to the file addressed by key and
// returns the number of bytes written.
func (s *LocalMediaStore) PutStream(ctx context.Context, key string, r io.Reader) (int64, error) {
	fullPath := s.keyToPath(key)

	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return 0, fmt.Errorf("failed to create directory for %s: %w", key, err)
	}

	f, err := os.Create(fullPath)
	if err != nil {
		return 0, fmt.Errorf("failed to create file %s: %w", fullPath, err)
	}
	defer f.Close()

	n, err := io.Copy(f, r)
	if err != nil {
		// Leave no truncated file behind.
		os.Remove(fullPath)
		return n, fmt.Errorf("failed to write file %s: %w", fullPath, err)
	}
	return n, nil
}

// Exists checks whether a file exists at the given key.
func (s *LocalMediaStore) Exists(ctx context.Context, key string) (bool, error) {
	_, err := os.Stat(s.keyToPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat %s: %w", key, err)
	}
	return true, nil
}

// BasePath returns the root directory of this store.
func (s *LocalMediaStore) BasePath() string {
	return s.basePath
}

// keyToPath converts a storage key to a filesystem path, preventing path
// traversal outside the base directory.
func (s *LocalMediaStore) keyToPath(key string) string {
	cleanKey := filepath.Clean(key)
	cleanKey = strings.TrimPrefix(cleanKey, "/")
	for strings.HasPrefix(cleanKey, "../") {
		cleanKey = strings.TrimPrefix(cleanKey, "../")
	}
	return filepath.Join(s.basePath, cleanKey)
}

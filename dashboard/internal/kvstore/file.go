package kvstore

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// FileStore persists keys as individual files under a local directory.
//
// Writes go through a temp file and rename so a crash mid-write never
// leaves a torn value behind.
type FileStore struct {
	baseDir string
	logger  *slog.Logger
	mu      sync.Mutex
}

// NewFileStore creates a file-backed store. If baseDir is empty, it
// defaults to ~/.fleetview/state.
func NewFileStore(baseDir string, logger *slog.Logger) (*FileStore, error) {
	if baseDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("getting home directory: %w", err)
		}
		baseDir = filepath.Join(home, ".fleetview", "state")
	}

	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}

	logger.Info("using file state store", "path", baseDir)

	return &FileStore{baseDir: baseDir, logger: logger}, nil
}

func (fs *FileStore) Get(_ context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(fs.path(key))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading state key %q: %w", key, err)
	}
	return data, nil
}

func (fs *FileStore) Set(_ context.Context, key string, value []byte) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	path := fs.path(key)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, value, 0600); err != nil {
		return fmt.Errorf("writing state key %q: %w", key, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("committing state key %q: %w", key, err)
	}
	return nil
}

func (fs *FileStore) Delete(_ context.Context, key string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	err := os.Remove(fs.path(key))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("deleting state key %q: %w", key, err)
	}
	return nil
}

func (fs *FileStore) Close() error { return nil }

// path maps a key to a file name, replacing separators that would escape
// the state directory.
func (fs *FileStore) path(key string) string {
	safe := strings.NewReplacer(":", "_", "/", "_", "\\", "_").Replace(key)
	return filepath.Join(fs.baseDir, safe+".json")
}

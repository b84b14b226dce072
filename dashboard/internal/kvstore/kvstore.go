// Package kvstore is the persistence port for the small amount of dashboard
// state that must survive restarts: tile usage counters and the last-chosen
// tile provider.
//
// # Backends
//
//   - file: per-key JSON files under a local directory (default)
//   - redis: shared store for kiosk fleets with a local redis
//   - postgres: for deployments that already run the fleet database
//   - memory: tests
//
// All keys live under a fixed namespace so backends can be shared with
// other tools without collisions.
package kvstore

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
)

// Namespace prefixes every key this module persists.
const Namespace = "fleetview"

// Store is a minimal persisted key-value port.
//
// Get returns (nil, nil) for a missing key: absence is a normal state for
// first-run dashboards, not an error.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Config selects and configures a backend.
type Config struct {
	// Backend is "file", "redis", "postgres", or "auto" (default).
	// "auto" picks redis or postgres when their URL is set, else file.
	Backend string `yaml:"backend"`

	// Dir is the file backend's directory (default: ~/.fleetview/state).
	Dir string `yaml:"dir,omitempty"`

	RedisURL    string `yaml:"redis_url,omitempty"`
	PostgresURL string `yaml:"postgres_url,omitempty"`
}

// New creates a Store based on configuration.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (Store, error) {
	backend := cfg.Backend
	if backend == "" {
		backend = "auto"
	}

	switch backend {
	case "file":
		return NewFileStore(cfg.Dir, logger)

	case "redis":
		if cfg.RedisURL == "" {
			return nil, fmt.Errorf("redis backend requested but redis_url not set")
		}
		return NewRedisStore(ctx, cfg.RedisURL, logger)

	case "postgres":
		if cfg.PostgresURL == "" {
			return nil, fmt.Errorf("postgres backend requested but postgres_url not set")
		}
		return NewPostgresStore(ctx, cfg.PostgresURL, logger)

	case "auto":
		if cfg.RedisURL != "" {
			st, err := NewRedisStore(ctx, cfg.RedisURL, logger)
			if err != nil {
				logger.Warn("redis store unavailable, falling back to file storage", "error", err)
				return NewFileStore(cfg.Dir, logger)
			}
			return st, nil
		}
		if cfg.PostgresURL != "" {
			st, err := NewPostgresStore(ctx, cfg.PostgresURL, logger)
			if err != nil {
				logger.Warn("postgres store unavailable, falling back to file storage", "error", err)
				return NewFileStore(cfg.Dir, logger)
			}
			return st, nil
		}
		return NewFileStore(cfg.Dir, logger)

	default:
		return nil, fmt.Errorf("unknown kvstore backend: %s", backend)
	}
}

// ConfigFromEnv builds a Config from FLEETVIEW_* environment variables.
func ConfigFromEnv() Config {
	return Config{
		Backend:     getEnv("FLEETVIEW_STATE_BACKEND", "auto"),
		Dir:         os.Getenv("FLEETVIEW_STATE_DIR"),
		RedisURL:    os.Getenv("FLEETVIEW_STATE_REDIS_URL"),
		PostgresURL: os.Getenv("FLEETVIEW_STATE_POSTGRES_URL"),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

// MemoryStore is an in-memory Store for tests.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]byte)}
}

func (m *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	if !ok {
		return nil, nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (m *MemoryStore) Set(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v := make([]byte, len(value))
	copy(v, value)
	m.data[key] = v
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *MemoryStore) Close() error { return nil }

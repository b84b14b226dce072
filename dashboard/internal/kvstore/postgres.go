package kvstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists keys in the fleet database. Used by headless
// deployments that already run postgres and want dashboard state backed up
// with everything else.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPostgresStore connects and ensures the state table exists.
func NewPostgresStore(ctx context.Context, postgresURL string, logger *slog.Logger) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, postgresURL)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}

	_, err = pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS fleetview_kv (
			key        TEXT PRIMARY KEY,
			value      BYTEA NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensuring state table: %w", err)
	}

	logger.Info("using postgres state store")

	return &PostgresStore{pool: pool, logger: logger}, nil
}

func (ps *PostgresStore) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := ps.pool.QueryRow(ctx,
		`SELECT value FROM fleetview_kv WHERE key = $1`, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading state key %q: %w", key, err)
	}
	return value, nil
}

func (ps *PostgresStore) Set(ctx context.Context, key string, value []byte) error {
	_, err := ps.pool.Exec(ctx, `
		INSERT INTO fleetview_kv (key, value, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (key) DO UPDATE SET value = $2, updated_at = now()`,
		key, value)
	if err != nil {
		return fmt.Errorf("writing state key %q: %w", key, err)
	}
	return nil
}

func (ps *PostgresStore) Delete(ctx context.Context, key string) error {
	_, err := ps.pool.Exec(ctx, `DELETE FROM fleetview_kv WHERE key = $1`, key)
	if err != nil {
		return fmt.Errorf("deleting state key %q: %w", key, err)
	}
	return nil
}

func (ps *PostgresStore) Close() error {
	ps.pool.Close()
	return nil
}

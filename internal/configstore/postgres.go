package configstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const roomConfigSchema = `
CREATE TABLE IF NOT EXISTS room_configs (
    key        TEXT PRIMARY KEY,
    config     JSONB NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// PostgresConfig configures the Postgres-backed Store.
type PostgresConfig struct {
	DSN            string
	MaxConns       int32
	MinConns       int32
	AcquireTimeout time.Duration
}

// PostgresStore persists room configs in a single key-value table.
type PostgresStore struct {
	pool           *pgxpool.Pool
	acquireTimeout time.Duration
}

// NewPostgresStore opens a pool, applies the schema, and returns the store.
func NewPostgresStore(ctx context.Context, cfg PostgresConfig) (*PostgresStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("postgres dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}
	store := &PostgresStore{pool: pool, acquireTimeout: cfg.AcquireTimeout}
	if _, err := pool.Exec(ctx, roomConfigSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("apply room_configs schema: %w", err)
	}
	return store, nil
}

func (s *PostgresStore) Get(ctx context.Context, key Key) (RoomConfig, bool, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	var payload []byte
	err := s.pool.QueryRow(ctx, `SELECT config FROM room_configs WHERE key = $1`, key.String()).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return RoomConfig{}, false, nil
	}
	if err != nil {
		return RoomConfig{}, false, fmt.Errorf("select config: %w", err)
	}
	var config RoomConfig
	if err := json.Unmarshal(payload, &config); err != nil {
		return RoomConfig{}, false, fmt.Errorf("decode config %s: %w", key, err)
	}
	return config, true, nil
}

func (s *PostgresStore) Put(ctx context.Context, key Key, config RoomConfig) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	payload, err := json.Marshal(config.Normalize())
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
INSERT INTO room_configs (key, config, updated_at)
VALUES ($1, $2, now())
ON CONFLICT (key) DO UPDATE SET config = EXCLUDED.config, updated_at = now()`,
		key.String(), payload)
	if err != nil {
		return fmt.Errorf("upsert config: %w", err)
	}
	return nil
}

func (s *PostgresStore) Remove(ctx context.Context, key Key) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	if _, err := s.pool.Exec(ctx, `DELETE FROM room_configs WHERE key = $1`, key.String()); err != nil {
		return fmt.Errorf("delete config: %w", err)
	}
	return nil
}

// Keys lists every stored config key.
func (s *PostgresStore) Keys(ctx context.Context) ([]Key, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	rows, err := s.pool.Query(ctx, `SELECT key FROM room_configs ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("select keys: %w", err)
	}
	defer rows.Close()
	var keys []Key
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan key: %w", err)
		}
		key, err := ParseKey(raw)
		if err != nil {
			continue
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate keys: %w", err)
	}
	return keys, nil
}

// Ping verifies connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return s.pool.Ping(ctx)
}

// Close releases the pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.acquireTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.acquireTimeout)
}

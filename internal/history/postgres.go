package history

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlDetections = `
CREATE TABLE IF NOT EXISTS detections (
    id         UUID         PRIMARY KEY,
    session_id UUID         NOT NULL,
    label      TEXT         NOT NULL,
    confidence DOUBLE PRECISION NOT NULL,
    at         TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_detections_at
    ON detections (at DESC);

CREATE INDEX IF NOT EXISTS idx_detections_session_id
    ON detections (session_id);
`

// Compile-time interface check.
var _ Store = (*PostgresStore)(nil)

// PostgresStore persists detections in a PostgreSQL database. All operations
// are safe for concurrent use.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore establishes a connection pool to the database at dsn and
// ensures the detections table exists.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("history: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("history: ping: %w", err)
	}

	if _, err := pool.Exec(ctx, ddlDetections); err != nil {
		pool.Close()
		return nil, fmt.Errorf("history: migrate: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

// Append implements [Store].
func (s *PostgresStore) Append(ctx context.Context, d Detection) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO detections (id, session_id, label, confidence, at)
		 VALUES ($1, $2, $3, $4, $5)`,
		d.ID, d.SessionID, d.Label, d.Confidence, d.At,
	)
	if err != nil {
		return fmt.Errorf("history: insert detection: %w", err)
	}
	return nil
}

// Recent implements [Store].
func (s *PostgresStore) Recent(ctx context.Context, limit int) ([]Detection, error) {
	if limit <= 0 {
		limit = DefaultMaxEntries
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, session_id, label, confidence, at
		 FROM detections
		 ORDER BY at DESC
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("history: query detections: %w", err)
	}
	defer rows.Close()

	var out []Detection
	for rows.Next() {
		var d Detection
		if err := rows.Scan(&d.ID, &d.SessionID, &d.Label, &d.Confidence, &d.At); err != nil {
			return nil, fmt.Errorf("history: scan detection: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: iterate detections: %w", err)
	}
	return out, nil
}

// Close implements [Store]. It releases all pooled connections.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

package archiver

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// postgresWriter persists archive entries into the archive_entries
// table, keyed by the same string keys used across every durable.Writer
// backend (archive:<date>:<unix>, archive:daily:<date>, archive:index).
type postgresWriter struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewPostgresWriter builds a durable.Writer backed by Postgres.
func NewPostgresWriter(db *sqlx.DB, timeout time.Duration) *postgresWriter {
	return &postgresWriter{db: db, timeout: timeout}
}

func (r *postgresWriter) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var expiresAt *time.Time
	if ttl > 0 {
		t := time.Now().Add(ttl)
		expiresAt = &t
	}

	query := `
		INSERT INTO archive_entries (key, payload, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE SET payload = EXCLUDED.payload, expires_at = EXCLUDED.expires_at`

	_, err := r.db.ExecContext(ctx, query, key, value, expiresAt)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return fmt.Errorf("archive_entries: duplicate key %s: %w", key, err)
		}
		return fmt.Errorf("archive_entries: insert %s: %w", key, err)
	}
	return nil
}

func (r *postgresWriter) Get(ctx context.Context, key string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var payload []byte
	err := r.db.QueryRowxContext(ctx,
		`SELECT payload FROM archive_entries WHERE key = $1 AND (expires_at IS NULL OR expires_at > now())`,
		key,
	).Scan(&payload)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("archive_entries: key %s not found", key)
		}
		return nil, fmt.Errorf("archive_entries: get %s: %w", key, err)
	}
	return payload, nil
}

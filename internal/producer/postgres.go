package producer

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"coursepulse.io/notifier/internal/infrastructure"
	apperrors "coursepulse.io/notifier/internal/pkg/errors"
)

// PostgresCheckpointStore persists scan watermarks in producer_checkpoint.
type PostgresCheckpointStore struct {
	pool *pgxpool.Pool
}

// NewPostgresCheckpointStore wraps a shared connection pool.
func NewPostgresCheckpointStore(pool *pgxpool.Pool) *PostgresCheckpointStore {
	return &PostgresCheckpointStore{pool: pool}
}

// LastScan implements CheckpointStore.
func (s *PostgresCheckpointStore) LastScan(ctx context.Context, resolverKey string) (time.Time, bool, error) {
	q := infrastructure.QuerierFrom(ctx, s.pool)
	var at time.Time
	err := q.QueryRow(ctx,
		`SELECT last_scan_at FROM producer_checkpoint WHERE resolver_key = $1`,
		resolverKey).Scan(&at)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, apperrors.Wrap(err, apperrors.CodeInternalError, "load scan checkpoint", http.StatusInternalServerError)
	}
	return at, true, nil
}

// SetLastScan implements CheckpointStore.
func (s *PostgresCheckpointStore) SetLastScan(ctx context.Context, resolverKey string, at time.Time) error {
	q := infrastructure.QuerierFrom(ctx, s.pool)
	_, err := q.Exec(ctx, `
		INSERT INTO producer_checkpoint (resolver_key, last_scan_at)
		VALUES ($1, $2)
		ON CONFLICT (resolver_key) DO UPDATE SET last_scan_at = EXCLUDED.last_scan_at`,
		resolverKey, at.UTC())
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeInternalError, "store scan checkpoint", http.StatusInternalServerError)
	}
	return nil
}

package audit

import (
	"context"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"

	"coursepulse.io/notifier/internal/infrastructure"
	apperrors "coursepulse.io/notifier/internal/pkg/errors"
)

// PostgresStore persists audit rows. Event log writes join an active
// transaction so they commit atomically with the processing that produced
// them.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore wraps a shared connection pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// InsertEventLog implements Store.
func (s *PostgresStore) InsertEventLog(ctx context.Context, e *EventLogEntry) error {
	q := infrastructure.QuerierFrom(ctx, s.pool)
	err := q.QueryRow(ctx, `
		INSERT INTO notification_event_log (
			resolver_key, preference_id, event_dedupe_key,
			log_line, recipient_count, channel_count, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING id`,
		e.ResolverKey, e.PreferenceID, e.EventDedupeKey,
		e.LogLine, e.RecipientCount, e.ChannelCount, e.CreatedAt).Scan(&e.ID)
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeInternalError, "insert event log", http.StatusInternalServerError)
	}
	return nil
}

// InsertDeliveryLog implements Store.
func (s *PostgresStore) InsertDeliveryLog(ctx context.Context, e *DeliveryLogEntry) error {
	q := infrastructure.QuerierFrom(ctx, s.pool)
	err := q.QueryRow(ctx, `
		INSERT INTO notification_delivery_log (
			message_id, channel, recipient_id, recipient_email,
			success, error, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING id`,
		e.MessageID, e.Channel, e.RecipientID, e.RecipientEmail,
		e.Success, e.Error, e.CreatedAt).Scan(&e.ID)
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeInternalError, "insert delivery log", http.StatusInternalServerError)
	}
	return nil
}

package queue

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"coursepulse.io/notifier/internal/domain"
	"coursepulse.io/notifier/internal/infrastructure"
	apperrors "coursepulse.io/notifier/internal/pkg/errors"
)

// PostgresEventStore persists the event queue in notifiable_event_queue.
// All methods join an active transaction when one is bound to the context.
type PostgresEventStore struct {
	pool *pgxpool.Pool
}

// NewPostgresEventStore wraps a shared connection pool.
func NewPostgresEventStore(pool *pgxpool.Pool) *PostgresEventStore {
	return &PostgresEventStore{pool: pool}
}

// Enqueue implements EventStore.
func (s *PostgresEventStore) Enqueue(ctx context.Context, row *EventRow) (bool, error) {
	payload, err := row.Payload.ToJSON()
	if err != nil {
		return false, err
	}
	row.QueuedAt = time.Now().UTC()
	q := infrastructure.QuerierFrom(ctx, s.pool)
	err = q.QueryRow(ctx, `
		INSERT INTO notifiable_event_queue (resolver_key, payload, dedupe_key, queued_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (resolver_key, dedupe_key) DO NOTHING
		RETURNING id`,
		row.ResolverKey, payload, row.DedupeKey, row.QueuedAt).Scan(&row.ID)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, queueErr("enqueue event", err)
	}
	return true, nil
}

// ClaimDue implements EventStore. FOR UPDATE SKIP LOCKED keeps concurrent
// drain ticks from processing the same rows.
func (s *PostgresEventStore) ClaimDue(ctx context.Context, limit int) ([]EventRow, error) {
	q := infrastructure.QuerierFrom(ctx, s.pool)
	rows, err := q.Query(ctx, `
		SELECT id, resolver_key, payload, dedupe_key, queued_at, attempts, last_error
		FROM notifiable_event_queue
		ORDER BY queued_at, id
		LIMIT $1
		FOR UPDATE SKIP LOCKED`, limit)
	if err != nil {
		return nil, queueErr("claim events", err)
	}
	defer rows.Close()

	var out []EventRow
	for rows.Next() {
		var r EventRow
		var payload []byte
		if err := rows.Scan(&r.ID, &r.ResolverKey, &payload, &r.DedupeKey, &r.QueuedAt, &r.Attempts, &r.LastError); err != nil {
			return nil, queueErr("scan event row", err)
		}
		r.Payload, err = domain.PayloadFromJSON(payload)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Delete implements EventStore.
func (s *PostgresEventStore) Delete(ctx context.Context, id int64) error {
	q := infrastructure.QuerierFrom(ctx, s.pool)
	_, err := q.Exec(ctx, `DELETE FROM notifiable_event_queue WHERE id = $1`, id)
	if err != nil {
		return queueErr("delete event", err)
	}
	return nil
}

// RecordFailure implements EventStore.
func (s *PostgresEventStore) RecordFailure(ctx context.Context, id int64, message string) error {
	q := infrastructure.QuerierFrom(ctx, s.pool)
	_, err := q.Exec(ctx, `
		UPDATE notifiable_event_queue
		SET attempts = attempts + 1, last_error = $2
		WHERE id = $1`, id, message)
	if err != nil {
		return queueErr("record failure", err)
	}
	return nil
}

// PurgeFailed implements EventStore.
func (s *PostgresEventStore) PurgeFailed(ctx context.Context, maxAttempts int, olderThan time.Duration) (int64, error) {
	q := infrastructure.QuerierFrom(ctx, s.pool)
	cutoff := time.Now().UTC().Add(-olderThan)
	tag, err := q.Exec(ctx, `
		DELETE FROM notifiable_event_queue
		WHERE attempts >= $1 AND queued_at < $2`, maxAttempts, cutoff)
	if err != nil {
		return 0, queueErr("purge failed events", err)
	}
	return tag.RowsAffected(), nil
}

// Count implements EventStore.
func (s *PostgresEventStore) Count(ctx context.Context) (int64, error) {
	q := infrastructure.QuerierFrom(ctx, s.pool)
	var n int64
	if err := q.QueryRow(ctx, `SELECT count(*) FROM notifiable_event_queue`).Scan(&n); err != nil {
		return 0, queueErr("count events", err)
	}
	return n, nil
}

// PostgresOutboxStore persists rendered messages in notification_outbox.
type PostgresOutboxStore struct {
	pool *pgxpool.Pool
}

// NewPostgresOutboxStore wraps a shared connection pool.
func NewPostgresOutboxStore(pool *pgxpool.Pool) *PostgresOutboxStore {
	return &PostgresOutboxStore{pool: pool}
}

// Insert implements OutboxStore.
func (s *PostgresOutboxStore) Insert(ctx context.Context, m *Message) (bool, error) {
	channels, err := json.Marshal(m.Channels)
	if err != nil {
		return false, queueErr("encode channels", err)
	}
	var attachments []byte
	if len(m.Attachments) > 0 {
		attachments, err = json.Marshal(m.Attachments)
		if err != nil {
			return false, queueErr("encode attachments", err)
		}
	}
	m.Status = StatusPending
	m.CreatedAt = time.Now().UTC()
	q := infrastructure.QuerierFrom(ctx, s.pool)
	err = q.QueryRow(ctx, `
		INSERT INTO notification_outbox (
			event_dedupe_key, preference_id, resolver_key,
			recipient_id, recipient_email, subject, body, body_format,
			channels, attachments, status, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		ON CONFLICT (event_dedupe_key, preference_id, recipient_id, recipient_email) DO NOTHING
		RETURNING id`,
		m.EventDedupeKey, m.PreferenceID, m.ResolverKey,
		m.RecipientID, m.RecipientEmail, m.Subject, m.Body, m.BodyFormat,
		channels, attachments, m.Status, m.CreatedAt).Scan(&m.ID)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, queueErr("insert outbox row", err)
	}
	return true, nil
}

// ClaimPending implements OutboxStore.
func (s *PostgresOutboxStore) ClaimPending(ctx context.Context, limit int) ([]Message, error) {
	q := infrastructure.QuerierFrom(ctx, s.pool)
	rows, err := q.Query(ctx, `
		SELECT `+outboxColumns+`
		FROM notification_outbox
		WHERE status = $1
		ORDER BY created_at, id
		LIMIT $2
		FOR UPDATE SKIP LOCKED`, StatusPending, limit)
	if err != nil {
		return nil, queueErr("claim pending messages", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

// MarkSent implements OutboxStore.
func (s *PostgresOutboxStore) MarkSent(ctx context.Context, id int64) error {
	q := infrastructure.QuerierFrom(ctx, s.pool)
	_, err := q.Exec(ctx, `
		UPDATE notification_outbox
		SET status = $2, sent_at = $3, error = ''
		WHERE id = $1`, id, StatusSent, time.Now().UTC())
	if err != nil {
		return queueErr("mark sent", err)
	}
	return nil
}

// MarkFailed implements OutboxStore.
func (s *PostgresOutboxStore) MarkFailed(ctx context.Context, id int64, message string) error {
	q := infrastructure.QuerierFrom(ctx, s.pool)
	_, err := q.Exec(ctx, `
		UPDATE notification_outbox
		SET status = $2, error = $3
		WHERE id = $1`, id, StatusFailed, message)
	if err != nil {
		return queueErr("mark failed", err)
	}
	return nil
}

// ByID implements OutboxStore.
func (s *PostgresOutboxStore) ByID(ctx context.Context, id int64) (*Message, error) {
	q := infrastructure.QuerierFrom(ctx, s.pool)
	row := q.QueryRow(ctx, `
		SELECT `+outboxColumns+`
		FROM notification_outbox WHERE id = $1`, id)
	m, err := scanMessage(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return m, err
}

const outboxColumns = `id, event_dedupe_key, preference_id, resolver_key,
	recipient_id, recipient_email, subject, body, body_format,
	channels, attachments, status, error, created_at, sent_at`

func scanMessage(row pgx.Row) (*Message, error) {
	var m Message
	var channels, attachments []byte
	err := row.Scan(
		&m.ID, &m.EventDedupeKey, &m.PreferenceID, &m.ResolverKey,
		&m.RecipientID, &m.RecipientEmail, &m.Subject, &m.Body, &m.BodyFormat,
		&channels, &attachments, &m.Status, &m.Error, &m.CreatedAt, &m.SentAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, queueErr("scan message", err)
	}
	if channels != nil {
		if err := json.Unmarshal(channels, &m.Channels); err != nil {
			return nil, queueErr("decode channels", err)
		}
	}
	if attachments != nil {
		if err := json.Unmarshal(attachments, &m.Attachments); err != nil {
			return nil, queueErr("decode attachments", err)
		}
	}
	return &m, nil
}

func queueErr(op string, err error) error {
	return apperrors.Wrap(err, apperrors.CodeInternalError, op, http.StatusInternalServerError)
}

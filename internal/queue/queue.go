// Package queue holds the two durable stages of the pipeline: the
// notifiable event queue (domain events waiting to be matched against
// preferences) and the notification outbox (fully rendered per-recipient
// messages waiting for delivery).
//
// Exactly-once semantics rest on two keys: events carry a dedupe key unique
// per (resolver, occurrence) so producers and scans can retry enqueueing,
// and outbox rows are unique per (event, preference, recipient) so a crash
// between outbox insert and queue row deletion cannot double-send on the
// next tick.
package queue

import (
	"context"
	"time"

	"coursepulse.io/notifier/internal/domain"
	"coursepulse.io/notifier/internal/resolver"
)

// EventRow is one queued notifiable event.
type EventRow struct {
	ID          int64
	ResolverKey string
	Payload     domain.Payload

	// DedupeKey makes enqueueing idempotent. Triggered events carry a
	// random key; scan-produced events derive theirs from the occurrence so
	// overlapping windows collapse.
	DedupeKey string

	QueuedAt  time.Time
	Attempts  int
	LastError string
}

// Message statuses in the outbox.
const (
	StatusPending = "pending"
	StatusSent    = "sent"
	StatusFailed  = "failed"
)

// Message is one rendered per-recipient notification awaiting delivery.
type Message struct {
	ID int64

	// EventDedupeKey ties the message back to the queue row it came from
	// and anchors the idempotence key.
	EventDedupeKey string

	// PreferenceID is the stored preference that matched; zero when the
	// built-in default applied.
	PreferenceID int64

	ResolverKey string

	// RecipientID is the account id, or the external sentinel for virtual
	// recipients, in which case RecipientEmail identifies them.
	RecipientID    int64
	RecipientEmail string

	Subject    string
	Body       string
	BodyFormat string

	// Channels the delivery dispatcher must fan out to.
	Channels []string

	Attachments []resolver.Attachment

	Status    string
	Error     string
	CreatedAt time.Time
	SentAt    *time.Time
}

// EventStore persists the notifiable event queue.
type EventStore interface {
	// Enqueue appends a row, reporting false when the dedupe key already
	// exists.
	Enqueue(ctx context.Context, row *EventRow) (bool, error)

	// ClaimDue locks and returns up to limit rows, oldest first, skipping
	// rows claimed by concurrent workers. Must run inside a transaction;
	// locks release on commit or rollback.
	ClaimDue(ctx context.Context, limit int) ([]EventRow, error)

	// Delete removes a consumed row.
	Delete(ctx context.Context, id int64) error

	// RecordFailure bumps the attempt counter and stores the error so the
	// row is retried on a later tick.
	RecordFailure(ctx context.Context, id int64, message string) error

	// PurgeFailed deletes rows that exhausted maxAttempts and have sat for
	// olderThan, returning how many went.
	PurgeFailed(ctx context.Context, maxAttempts int, olderThan time.Duration) (int64, error)

	// Count reports the queue depth.
	Count(ctx context.Context) (int64, error)
}

// OutboxStore persists rendered notifications.
type OutboxStore interface {
	// Insert appends a pending message, reporting false when the
	// idempotence key already exists.
	Insert(ctx context.Context, m *Message) (bool, error)

	// ClaimPending locks and returns up to limit pending messages for
	// delivery, skipping rows claimed by concurrent workers.
	ClaimPending(ctx context.Context, limit int) ([]Message, error)

	// MarkSent finalizes a delivered message.
	MarkSent(ctx context.Context, id int64) error

	// MarkFailed records a delivery failure.
	MarkFailed(ctx context.Context, id int64, message string) error

	// ByID returns a message, or nil.
	ByID(ctx context.Context, id int64) (*Message, error)
}

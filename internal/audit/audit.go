// Package audit implements the notification audit trail.
//
// Audit logs are append-only records. Hard-delete is NOT allowed. One event
// log row is written per processed (event, preference) match with a rendered
// human-readable log line; one delivery log row per channel delivery
// attempt.
package audit

import (
	"context"
	"time"

	"go.uber.org/zap"

	"coursepulse.io/notifier/internal/pkg/logger"
)

// EventLogEntry summarizes one preference match during event processing.
type EventLogEntry struct {
	ID             int64
	ResolverKey    string
	PreferenceID   int64
	EventDedupeKey string

	// LogLine is the resolver's log-line template rendered with the event's
	// placeholder values.
	LogLine string

	RecipientCount int
	ChannelCount   int
	CreatedAt      time.Time
}

// DeliveryLogEntry records one delivery attempt of an outbox message on one
// channel.
type DeliveryLogEntry struct {
	ID             int64
	MessageID      int64
	Channel        string
	RecipientID    int64
	RecipientEmail string
	Success        bool
	Error          string
	CreatedAt      time.Time
}

// Store persists audit rows.
type Store interface {
	InsertEventLog(ctx context.Context, e *EventLogEntry) error
	InsertDeliveryLog(ctx context.Context, e *DeliveryLogEntry) error
}

// Logger writes audit records to the store and mirrors them to the
// application log.
type Logger struct {
	store Store
}

// NewLogger creates an audit Logger.
func NewLogger(store Store) *Logger {
	return &Logger{store: store}
}

// LogEventProcessed records one preference match.
func (l *Logger) LogEventProcessed(ctx context.Context, e *EventLogEntry) error {
	e.CreatedAt = time.Now().UTC()
	if err := l.store.InsertEventLog(ctx, e); err != nil {
		logger.Error("Failed to write event audit log",
			zap.String("resolver", e.ResolverKey),
			zap.Int64("preference_id", e.PreferenceID),
			zap.Error(err),
		)
		return err
	}
	logger.Debug("Event processed",
		zap.String("resolver", e.ResolverKey),
		zap.Int64("preference_id", e.PreferenceID),
		zap.Int("recipients", e.RecipientCount),
		zap.Int("channels", e.ChannelCount),
	)
	return nil
}

// LogDelivery records one channel delivery attempt.
func (l *Logger) LogDelivery(ctx context.Context, e *DeliveryLogEntry) error {
	e.CreatedAt = time.Now().UTC()
	if err := l.store.InsertDeliveryLog(ctx, e); err != nil {
		logger.Error("Failed to write delivery audit log",
			zap.Int64("message_id", e.MessageID),
			zap.String("channel", e.Channel),
			zap.Error(err),
		)
		return err
	}
	return nil
}

package delivery

import (
	"context"
	"time"

	"go.uber.org/zap"

	"coursepulse.io/notifier/internal/pkg/logger"
	"coursepulse.io/notifier/internal/queue"
)

// EmailSender hands a message to the mail transport. The engine stays
// transport-agnostic; deployments plug in SMTP or an API-based relay.
type EmailSender interface {
	Send(ctx context.Context, to, subject, body, bodyFormat string, attachments []Attachment) error
}

// Attachment mirrors the outbox attachment shape for senders.
type Attachment struct {
	Name    string
	MIME    string
	Content []byte
}

// EmailChannel delivers via an EmailSender.
type EmailChannel struct {
	sender EmailSender
}

// NewEmailChannel wraps a sender.
func NewEmailChannel(sender EmailSender) *EmailChannel {
	return &EmailChannel{sender: sender}
}

// Key implements Channel.
func (c *EmailChannel) Key() string { return ChannelEmail }

// Deliver implements Channel.
func (c *EmailChannel) Deliver(ctx context.Context, m queue.Message) error {
	attachments := make([]Attachment, 0, len(m.Attachments))
	for _, a := range m.Attachments {
		attachments = append(attachments, Attachment{Name: a.Name, MIME: a.MIME, Content: a.Content})
	}
	return c.sender.Send(ctx, m.RecipientEmail, m.Subject, m.Body, m.BodyFormat, attachments)
}

// LogSender is the default EmailSender: it emits the message to the
// application log instead of sending mail. Useful in development and tests.
type LogSender struct{}

// Send implements EmailSender.
func (LogSender) Send(_ context.Context, to, subject, _, _ string, attachments []Attachment) error {
	logger.Info("Email dispatched",
		zap.String("to", to),
		zap.String("subject", subject),
		zap.Int("attachments", len(attachments)),
	)
	return nil
}

// PopupStore persists in-app popup notifications.
type PopupStore interface {
	InsertPopup(ctx context.Context, userID int64, subject, body, bodyFormat string, createdAt time.Time) error
}

// PopupChannel delivers to the recipient's in-app notification inbox.
type PopupChannel struct {
	store PopupStore
}

// NewPopupChannel wraps a store.
func NewPopupChannel(store PopupStore) *PopupChannel {
	return &PopupChannel{store: store}
}

// Key implements Channel.
func (c *PopupChannel) Key() string { return ChannelPopup }

// Deliver implements Channel.
func (c *PopupChannel) Deliver(ctx context.Context, m queue.Message) error {
	return c.store.InsertPopup(ctx, m.RecipientID, m.Subject, m.Body, m.BodyFormat, time.Now().UTC())
}

// LogChannel writes the message to the application log. Wired as a
// diagnostic channel admins can force on a preference.
type LogChannel struct{}

// Key implements Channel.
func (LogChannel) Key() string { return ChannelLog }

// Deliver implements Channel.
func (LogChannel) Deliver(_ context.Context, m queue.Message) error {
	logger.Info("Notification",
		zap.String("resolver", m.ResolverKey),
		zap.Int64("recipient", m.RecipientID),
		zap.String("subject", m.Subject),
	)
	return nil
}

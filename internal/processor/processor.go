// Package processor drains the notifiable event queue. Each tick claims a
// batch of rows inside one transaction, resolves the effective preference
// for every event, renders and fans messages out to the outbox, and hands
// delivery jobs to River in the same transaction. A crash before commit
// rolls everything back together; the outbox unique key absorbs replays.
package processor

import (
	"context"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"coursepulse.io/notifier/internal/audit"
	"coursepulse.io/notifier/internal/delivery"
	"coursepulse.io/notifier/internal/domain"
	apperrors "coursepulse.io/notifier/internal/pkg/errors"
	"coursepulse.io/notifier/internal/pkg/logger"
	"coursepulse.io/notifier/internal/placeholder"
	"coursepulse.io/notifier/internal/preference"
	"coursepulse.io/notifier/internal/queue"
	"coursepulse.io/notifier/internal/recipient"
	"coursepulse.io/notifier/internal/resolver"
)

// TxRunner runs a function inside one database transaction bound to the
// context. Stores that understand the binding join it automatically.
type TxRunner interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// DeliveryEnqueuer schedules delivery of an outbox message. Implementations
// join the active transaction when one is bound to the context.
type DeliveryEnqueuer interface {
	EnqueueDelivery(ctx context.Context, messageID int64) error
}

// outcome of processing one queue row.
type outcome int

const (
	outcomeProcessed outcome = iota // sent or legitimately produced nothing; delete the row
	outcomeSkipped                  // disabled or criteria mismatch; delete the row
	outcomeDeferred                 // scheduled send time not reached; keep the row
)

// Processor turns queued events into outbox messages.
type Processor struct {
	runner       TxRunner
	events       queue.EventStore
	outbox       queue.OutboxStore
	registry     *resolver.Registry
	loader       *preference.Loader
	recipients   *recipient.Registry
	channels     *delivery.Registry
	userChannels delivery.UserChannelStore
	auditor      *audit.Logger
	enqueuer     DeliveryEnqueuer

	batchSize int
	now       func() time.Time
}

// New wires a processor. batchSize bounds how many queue rows one tick
// drains.
func New(
	runner TxRunner,
	events queue.EventStore,
	outbox queue.OutboxStore,
	registry *resolver.Registry,
	loader *preference.Loader,
	recipients *recipient.Registry,
	channels *delivery.Registry,
	userChannels delivery.UserChannelStore,
	auditor *audit.Logger,
	enqueuer DeliveryEnqueuer,
	batchSize int,
) *Processor {
	return &Processor{
		runner:       runner,
		events:       events,
		outbox:       outbox,
		registry:     registry,
		loader:       loader,
		recipients:   recipients,
		channels:     channels,
		userChannels: userChannels,
		auditor:      auditor,
		enqueuer:     enqueuer,
		batchSize:    batchSize,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// ProcessTick drains one batch. Returns how many rows were consumed. Row
// failures are recorded on the row and never abort the batch.
func (p *Processor) ProcessTick(ctx context.Context) (int, error) {
	processed := 0
	err := p.runner.InTx(ctx, func(txCtx context.Context) error {
		rows, err := p.events.ClaimDue(txCtx, p.batchSize)
		if err != nil {
			return err
		}
		for _, row := range rows {
			result, rowErr := p.processRow(txCtx, row)
			if rowErr != nil {
				logger.Warn("event processing failed",
					zap.Int64("event_id", row.ID),
					zap.String("resolver", row.ResolverKey),
					zap.Error(rowErr),
				)
				if err := p.events.RecordFailure(txCtx, row.ID, rowErr.Error()); err != nil {
					return err
				}
				continue
			}
			if result == outcomeDeferred {
				continue
			}
			if err := p.events.Delete(txCtx, row.ID); err != nil {
				return err
			}
			processed++
		}
		return nil
	})
	return processed, err
}

func (p *Processor) processRow(ctx context.Context, row queue.EventRow) (outcome, error) {
	res, err := p.registry.Get(row.ResolverKey)
	if err != nil {
		return outcomeSkipped, apperrors.Wrap(err, apperrors.CodeQueueRowOrphaned,
			"queue row references unregistered resolver "+row.ResolverKey, http.StatusInternalServerError)
	}

	ec, err := res.ExtendedContext(row.Payload)
	if err != nil {
		return outcomeSkipped, err
	}
	if p.registry.DisabledAt(res.Key(), ec) {
		return outcomeSkipped, nil
	}

	eff, err := p.loader.Effective(ctx, res.Key(), ec)
	if err != nil {
		return outcomeSkipped, err
	}
	if !eff.Enabled {
		return outcomeSkipped, nil
	}

	if crit, ok := res.(resolver.AdditionalCriteriaResolver); ok {
		matched, err := crit.MeetsCriteria(eff.AdditionalCriteria, row.Payload)
		if err != nil {
			return outcomeSkipped, err
		}
		if !matched {
			return outcomeSkipped, nil
		}
	}

	if scheduled, ok := res.(resolver.ScheduledEventResolver); ok {
		ref, err := scheduled.ReferenceTime(row.Payload)
		if err != nil {
			return outcomeSkipped, err
		}
		due := ref.Add(time.Duration(eff.ScheduleOffset) * time.Second)
		if p.now().Before(due) {
			return outcomeDeferred, nil
		}
	}

	recipients, err := p.recipients.Union(ctx, eff.Recipients, row.Payload)
	if err != nil {
		return outcomeSkipped, err
	}

	bindings := res.PlaceholderBindings(row.Payload)
	channelCount, err := p.fanOut(ctx, res, eff, row, bindings, recipients)
	if err != nil {
		return outcomeSkipped, err
	}

	logLine, err := placeholder.RenderFor(ctx, bindings, 0, res.LogLineTemplate())
	if err != nil {
		return outcomeSkipped, err
	}
	entry := &audit.EventLogEntry{
		ResolverKey:    res.Key(),
		PreferenceID:   eff.PreferenceID,
		EventDedupeKey: row.DedupeKey,
		LogLine:        logLine,
		RecipientCount: len(recipients),
		ChannelCount:   channelCount,
	}
	if err := p.auditor.LogEventProcessed(ctx, entry); err != nil {
		return outcomeSkipped, err
	}
	return outcomeProcessed, nil
}

// fanOut renders and inserts one outbox message per recipient, scheduling a
// delivery job for each inserted row. Returns the total channel count.
func (p *Processor) fanOut(ctx context.Context, res resolver.Resolver, eff *preference.Effective, row queue.EventRow, bindings []placeholder.Binding, recipients []domain.User) (int, error) {
	attachable, _ := res.(resolver.AttachmentResolver)
	wantsAttachments := attachable != nil && attachable.WantsAttachments(eff.AdditionalCriteria)

	channelCount := 0
	for _, user := range recipients {
		subject, err := placeholder.RenderFor(ctx, bindings, user.ID, eff.Subject)
		if err != nil {
			return channelCount, err
		}
		body, err := placeholder.RenderFor(ctx, bindings, user.ID, eff.Body)
		if err != nil {
			return channelCount, err
		}

		channels, err := p.channels.ResolveChannels(ctx, p.userChannels, user.ID, user.IsExternal(), eff.ForcedChannels, res.DefaultDeliveryChannels())
		if err != nil {
			return channelCount, err
		}
		if len(channels) == 0 {
			continue
		}

		var attachments []resolver.Attachment
		if wantsAttachments {
			attachments, err = attachable.Attachments(ctx, row.Payload, user)
			if err != nil {
				return channelCount, err
			}
		}

		m := &queue.Message{
			EventDedupeKey: row.DedupeKey,
			PreferenceID:   eff.PreferenceID,
			ResolverKey:    res.Key(),
			RecipientID:    user.ID,
			RecipientEmail: user.Email,
			Subject:        singleLine(subject),
			Body:           body,
			BodyFormat:     eff.BodyFormat,
			Channels:       channels,
			Attachments:    attachments,
		}
		inserted, err := p.outbox.Insert(ctx, m)
		if err != nil {
			return channelCount, err
		}
		if !inserted {
			// An earlier run already produced this message.
			continue
		}
		if err := p.enqueuer.EnqueueDelivery(ctx, m.ID); err != nil {
			return channelCount, err
		}
		channelCount += len(channels)
	}
	return channelCount, nil
}

// Cleanup removes queue rows that exhausted their attempts. Rows in the
// queue are normally deleted on success, so anything old with repeated
// failures is stuck and only pollutes the claim scan.
func (p *Processor) Cleanup(ctx context.Context, maxAttempts int, olderThan time.Duration) (int64, error) {
	purged, err := p.events.PurgeFailed(ctx, maxAttempts, olderThan)
	if err != nil {
		return 0, err
	}
	if purged > 0 {
		logger.Info("purged failed queue rows", zap.Int64("count", purged))
	}
	return purged, nil
}

// singleLine collapses a rendered subject onto one line.
func singleLine(s string) string {
	s = strings.ReplaceAll(s, "\r\n", " ")
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "\r", " ")
	return strings.Join(strings.Fields(s), " ")
}

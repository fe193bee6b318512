package delivery

import (
	"context"
	"strings"
	"sync"

	"go.uber.org/zap"

	"coursepulse.io/notifier/internal/audit"
	apperrors "coursepulse.io/notifier/internal/pkg/errors"
	"coursepulse.io/notifier/internal/pkg/logger"
	"coursepulse.io/notifier/internal/pkg/worker"
	"coursepulse.io/notifier/internal/queue"
)

// Dispatcher drives outbox messages through their channels and finalizes
// their status. A message is sent when every channel accepted it; any
// channel failure marks it failed with the collected errors, and the
// delivery job's retry policy decides what happens next.
type Dispatcher struct {
	outbox   queue.OutboxStore
	channels *Registry
	auditor  *audit.Logger
	pool     *worker.Pool
}

// NewDispatcher wires a dispatcher. A nil pool makes the pending sweep
// dispatch sequentially.
func NewDispatcher(outbox queue.OutboxStore, channels *Registry, auditor *audit.Logger, pool *worker.Pool) *Dispatcher {
	return &Dispatcher{outbox: outbox, channels: channels, auditor: auditor, pool: pool}
}

// DispatchMessage delivers one outbox message by id. Unknown or already
// finalized messages are skipped without error, which makes redelivered
// jobs harmless.
func (d *Dispatcher) DispatchMessage(ctx context.Context, id int64) error {
	m, err := d.outbox.ByID(ctx, id)
	if err != nil {
		return err
	}
	if m == nil || m.Status != queue.StatusPending {
		return nil
	}
	return d.dispatch(ctx, *m)
}

// DispatchPending sweeps pending messages, catching rows whose delivery job
// was lost. Messages fan out on the delivery pool when one is configured,
// since channels may block on slow transports. Returns how many messages
// were attempted.
func (d *Dispatcher) DispatchPending(ctx context.Context, limit int) (int, error) {
	messages, err := d.outbox.ClaimPending(ctx, limit)
	if err != nil {
		return 0, err
	}

	var wg sync.WaitGroup
	for _, m := range messages {
		m := m
		run := func(taskCtx context.Context) {
			defer wg.Done()
			if err := d.dispatch(taskCtx, m); err != nil {
				logger.Warn("message dispatch failed",
					zap.Int64("message_id", m.ID),
					zap.Error(err),
				)
			}
		}
		wg.Add(1)
		if d.pool == nil {
			run(ctx)
			continue
		}
		if err := d.pool.Submit(ctx, run); err != nil {
			wg.Done()
			return len(messages), err
		}
	}
	wg.Wait()
	return len(messages), nil
}

func (d *Dispatcher) dispatch(ctx context.Context, m queue.Message) error {
	var failures []string
	for _, key := range m.Channels {
		channel, err := d.channels.Get(key)
		if err != nil {
			failures = append(failures, err.Error())
			continue
		}
		deliverErr := channel.Deliver(ctx, m)
		if deliverErr != nil {
			failures = append(failures, key+": "+deliverErr.Error())
		}

		entry := &audit.DeliveryLogEntry{
			MessageID:      m.ID,
			Channel:        key,
			RecipientID:    m.RecipientID,
			RecipientEmail: m.RecipientEmail,
			Success:        deliverErr == nil,
		}
		if deliverErr != nil {
			entry.Error = deliverErr.Error()
		}
		if err := d.auditor.LogDelivery(ctx, entry); err != nil {
			logger.Warn("delivery log write failed", zap.Int64("message_id", m.ID), zap.Error(err))
		}
	}

	if len(failures) > 0 {
		message := strings.Join(failures, "; ")
		if err := d.outbox.MarkFailed(ctx, m.ID, message); err != nil {
			return err
		}
		return apperrors.Internal(apperrors.CodeDeliveryFailed, message)
	}
	return d.outbox.MarkSent(ctx, m.ID)
}

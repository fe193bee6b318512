// Package producer feeds the notifiable event queue: Trigger enqueues
// event-driven notifications at the moment something happens, Scan finds
// scheduled notifications whose send time has arrived.
package producer

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"coursepulse.io/notifier/internal/domain"
	apperrors "coursepulse.io/notifier/internal/pkg/errors"
	"coursepulse.io/notifier/internal/pkg/logger"
	"coursepulse.io/notifier/internal/preference"
	"coursepulse.io/notifier/internal/queue"
	"coursepulse.io/notifier/internal/resolver"
)

// CheckpointStore remembers when each scheduled resolver was last scanned,
// so restarts resume the window instead of re-reading history.
type CheckpointStore interface {
	LastScan(ctx context.Context, resolverKey string) (time.Time, bool, error)
	SetLastScan(ctx context.Context, resolverKey string, at time.Time) error
}

// Producer validates and enqueues notifiable events.
type Producer struct {
	events      queue.EventStore
	registry    *resolver.Registry
	loader      *preference.Loader
	seminars    domain.SeminarStore
	checkpoints CheckpointStore

	allowLegacy bool
	lookback    time.Duration

	now func() time.Time
}

// New wires a producer. allowLegacy is the site-wide legacy-notification
// toggle; lookback caps the scan window on first boot or after an outage.
func New(events queue.EventStore, registry *resolver.Registry, loader *preference.Loader, seminars domain.SeminarStore, checkpoints CheckpointStore, allowLegacy bool, lookback time.Duration) *Producer {
	return &Producer{
		events:      events,
		registry:    registry,
		loader:      loader,
		seminars:    seminars,
		checkpoints: checkpoints,
		allowLegacy: allowLegacy,
		lookback:    lookback,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Trigger enqueues one event-driven notification. The payload must carry
// every key the resolver requires. Returns false when the event was a
// duplicate or suppressed by the legacy-notification exclusion.
func (p *Producer) Trigger(ctx context.Context, resolverKey string, payload domain.Payload) (bool, error) {
	res, err := p.registry.Get(resolverKey)
	if err != nil {
		return false, err
	}
	for _, key := range res.RequiredPayloadKeys() {
		if !payload.Has(key) {
			return false, apperrors.New(apperrors.CodePayloadKeyMissing, "Missing "+key, http.StatusBadRequest).
				WithParams(map[string]interface{}{"resolver": resolverKey, "key": key})
		}
	}

	legacy, err := p.legacyOwned(ctx, payload)
	if err != nil {
		return false, err
	}
	if legacy {
		logger.Debug("event suppressed, seminar uses legacy notifications",
			zap.String("resolver", resolverKey),
		)
		return false, nil
	}

	row := &queue.EventRow{
		ResolverKey: resolverKey,
		Payload:     payload,
		DedupeKey:   uuid.NewString(),
	}
	return p.events.Enqueue(ctx, row)
}

// legacyOwned reports whether the payload's seminar is still served by the
// legacy notification system. Only meaningful while the site-wide toggle
// allows legacy seminars at all.
func (p *Producer) legacyOwned(ctx context.Context, payload domain.Payload) (bool, error) {
	if !p.allowLegacy || !payload.Has(domain.KeySeminarID) {
		return false, nil
	}
	seminarID, err := payload.Int64(domain.KeySeminarID)
	if err != nil {
		return false, err
	}
	seminar, err := p.seminars.Seminar(ctx, seminarID)
	if err != nil {
		return false, err
	}
	return seminar != nil && seminar.LegacyNotifications, nil
}

// Scan runs one periodic tick over every scheduled resolver. For each, the
// window covers event reference times that became due since the previous
// tick, widened by the resolver's configured schedule offsets: an offset of
// minus two days must see events starting up to two days from now.
func (p *Producer) Scan(ctx context.Context) (int, error) {
	now := p.now()
	total := 0
	for _, res := range p.registry.Scheduled() {
		n, err := p.scanResolver(ctx, res, now)
		if err != nil {
			logger.Error("scheduled scan failed",
				zap.String("resolver", res.Key()),
				zap.Error(err),
			)
			continue
		}
		total += n
	}
	return total, nil
}

func (p *Producer) scanResolver(ctx context.Context, res resolver.ScheduledEventResolver, now time.Time) (int, error) {
	last, ok, err := p.checkpoints.LastScan(ctx, res.Key())
	if err != nil {
		return 0, err
	}
	if !ok || now.Sub(last) > p.lookback {
		last = now.Add(-p.lookback)
	}

	minOffset, maxOffset, err := p.loader.ScanBounds(ctx, res.Key())
	if err != nil {
		return 0, err
	}

	// A notification with offset o is due once now >= reference + o, so the
	// reference times that became due this tick lie in
	// [last - maxOffset, now - minOffset).
	from := last.Add(-time.Duration(maxOffset) * time.Second)
	to := now.Add(-time.Duration(minOffset) * time.Second)

	enqueued := 0
	if to.After(from) {
		due, err := res.FindDueEvents(ctx, from, to, p.allowLegacy)
		if err != nil {
			return 0, err
		}
		for _, event := range due {
			row := &queue.EventRow{
				ResolverKey: res.Key(),
				Payload:     event.Payload,
				DedupeKey:   event.DedupeKey,
			}
			inserted, err := p.events.Enqueue(ctx, row)
			if err != nil {
				return enqueued, err
			}
			if inserted {
				enqueued++
			}
		}
	}

	if err := p.checkpoints.SetLastScan(ctx, res.Key(), now); err != nil {
		return enqueued, err
	}
	if enqueued > 0 {
		logger.Info("scheduled scan enqueued events",
			zap.String("resolver", res.Key()),
			zap.Int("count", enqueued),
			zap.Time("from", from),
			zap.Time("to", to),
		)
	}
	return enqueued, nil
}

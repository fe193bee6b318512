package testutil

import (
	"context"
	"sort"
	"sync"
	"time"

	"coursepulse.io/notifier/internal/queue"
)

// PassthroughRunner satisfies the processor's transaction contract without
// a database. Fakes are maps; atomicity is not simulated.
type PassthroughRunner struct{}

// InTx runs fn directly.
func (PassthroughRunner) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// EventQueue is an in-memory queue.EventStore.
type EventQueue struct {
	mu     sync.Mutex
	nextID int64
	rows   map[int64]queue.EventRow
	keys   map[string]bool // resolver_key + "\x00" + dedupe_key
}

// NewEventQueue creates an empty queue.
func NewEventQueue() *EventQueue {
	return &EventQueue{nextID: 1, rows: make(map[int64]queue.EventRow), keys: make(map[string]bool)}
}

func eventKey(resolverKey, dedupeKey string) string {
	return resolverKey + "\x00" + dedupeKey
}

// Enqueue implements queue.EventStore.
func (q *EventQueue) Enqueue(_ context.Context, row *queue.EventRow) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	key := eventKey(row.ResolverKey, row.DedupeKey)
	if q.keys[key] {
		return false, nil
	}
	q.keys[key] = true
	row.ID = q.nextID
	q.nextID++
	row.QueuedAt = time.Now().UTC()
	q.rows[row.ID] = *row
	return true, nil
}

// ClaimDue implements queue.EventStore.
func (q *EventQueue) ClaimDue(_ context.Context, limit int) ([]queue.EventRow, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	rows := make([]queue.EventRow, 0, len(q.rows))
	for _, r := range q.rows {
		rows = append(rows, r)
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].QueuedAt.Equal(rows[j].QueuedAt) {
			return rows[i].ID < rows[j].ID
		}
		return rows[i].QueuedAt.Before(rows[j].QueuedAt)
	})
	if len(rows) > limit {
		rows = rows[:limit]
	}
	return rows, nil
}

// Delete implements queue.EventStore. The dedupe key frees with the row,
// matching the unique-index behavior of the real table.
func (q *EventQueue) Delete(_ context.Context, id int64) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if r, ok := q.rows[id]; ok {
		delete(q.keys, eventKey(r.ResolverKey, r.DedupeKey))
		delete(q.rows, id)
	}
	return nil
}

// RecordFailure implements queue.EventStore.
func (q *EventQueue) RecordFailure(_ context.Context, id int64, message string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if r, ok := q.rows[id]; ok {
		r.Attempts++
		r.LastError = message
		q.rows[id] = r
	}
	return nil
}

// PurgeFailed implements queue.EventStore.
func (q *EventQueue) PurgeFailed(_ context.Context, maxAttempts int, olderThan time.Duration) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	cutoff := time.Now().UTC().Add(-olderThan)
	var purged int64
	for id, r := range q.rows {
		if r.Attempts >= maxAttempts && r.QueuedAt.Before(cutoff) {
			delete(q.keys, eventKey(r.ResolverKey, r.DedupeKey))
			delete(q.rows, id)
			purged++
		}
	}
	return purged, nil
}

// Count implements queue.EventStore.
func (q *EventQueue) Count(_ context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.rows)), nil
}

// Outbox is an in-memory queue.OutboxStore.
type Outbox struct {
	mu     sync.Mutex
	nextID int64
	rows   map[int64]queue.Message
	keys   map[string]bool
}

// NewOutbox creates an empty outbox.
func NewOutbox() *Outbox {
	return &Outbox{nextID: 1, rows: make(map[int64]queue.Message), keys: make(map[string]bool)}
}

func outboxKey(m *queue.Message) string {
	return m.EventDedupeKey + "\x00" + itoa(m.PreferenceID) + "\x00" + itoa(m.RecipientID) + "\x00" + m.RecipientEmail
}

// Insert implements queue.OutboxStore.
func (o *Outbox) Insert(_ context.Context, m *queue.Message) (bool, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	key := outboxKey(m)
	if o.keys[key] {
		return false, nil
	}
	o.keys[key] = true
	m.ID = o.nextID
	o.nextID++
	m.Status = queue.StatusPending
	m.CreatedAt = time.Now().UTC()
	o.rows[m.ID] = *m
	return true, nil
}

// ClaimPending implements queue.OutboxStore.
func (o *Outbox) ClaimPending(_ context.Context, limit int) ([]queue.Message, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []queue.Message
	for _, m := range o.rows {
		if m.Status == queue.StatusPending {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// MarkSent implements queue.OutboxStore.
func (o *Outbox) MarkSent(_ context.Context, id int64) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if m, ok := o.rows[id]; ok {
		m.Status = queue.StatusSent
		now := time.Now().UTC()
		m.SentAt = &now
		m.Error = ""
		o.rows[id] = m
	}
	return nil
}

// MarkFailed implements queue.OutboxStore.
func (o *Outbox) MarkFailed(_ context.Context, id int64, message string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if m, ok := o.rows[id]; ok {
		m.Status = queue.StatusFailed
		m.Error = message
		o.rows[id] = m
	}
	return nil
}

// ByID implements queue.OutboxStore.
func (o *Outbox) ByID(_ context.Context, id int64) (*queue.Message, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	m, ok := o.rows[id]
	if !ok {
		return nil, nil
	}
	return &m, nil
}

// All returns every message, ordered by id. Test inspection helper.
func (o *Outbox) All() []queue.Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]queue.Message, 0, len(o.rows))
	for _, m := range o.rows {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

package testutil

import (
	"context"
	"sync"

	"coursepulse.io/notifier/internal/audit"
)

// AuditStore is an in-memory audit.Store.
type AuditStore struct {
	mu           sync.Mutex
	nextID       int64
	EventLogs    []audit.EventLogEntry
	DeliveryLogs []audit.DeliveryLogEntry
}

// NewAuditStore creates an empty store.
func NewAuditStore() *AuditStore {
	return &AuditStore{nextID: 1}
}

// InsertEventLog implements audit.Store.
func (s *AuditStore) InsertEventLog(_ context.Context, e *audit.EventLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e.ID = s.nextID
	s.nextID++
	s.EventLogs = append(s.EventLogs, *e)
	return nil
}

// InsertDeliveryLog implements audit.Store.
func (s *AuditStore) InsertDeliveryLog(_ context.Context, e *audit.DeliveryLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e.ID = s.nextID
	s.nextID++
	s.DeliveryLogs = append(s.DeliveryLogs, *e)
	return nil
}

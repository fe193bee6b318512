package testutil

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"coursepulse.io/notifier/internal/extctx"
	apperrors "coursepulse.io/notifier/internal/pkg/errors"
	"coursepulse.io/notifier/internal/preference"
)

// PreferenceStore is an in-memory preference.Store.
type PreferenceStore struct {
	mu     sync.Mutex
	nextID int64
	rows   map[int64]preference.Preference
}

// NewPreferenceStore creates an empty store.
func NewPreferenceStore() *PreferenceStore {
	return &PreferenceStore{nextID: 1, rows: make(map[int64]preference.Preference)}
}

// Create implements preference.Store.
func (s *PreferenceStore) Create(_ context.Context, p *preference.Preference) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p.ID = s.nextID
	s.nextID++
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now
	s.rows[p.ID] = clonePreference(*p)
	return nil
}

// Update implements preference.Store.
func (s *PreferenceStore) Update(_ context.Context, p *preference.Preference) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[p.ID]; !ok {
		return apperrors.NotFound(apperrors.CodePreferenceNotFound, "preference not found")
	}
	p.UpdatedAt = time.Now().UTC()
	s.rows[p.ID] = clonePreference(*p)
	return nil
}

// Delete implements preference.Store.
func (s *PreferenceStore) Delete(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[id]; !ok {
		return apperrors.NotFound(apperrors.CodePreferenceNotFound, "preference not found")
	}
	delete(s.rows, id)
	return nil
}

// ByID implements preference.Store.
func (s *PreferenceStore) ByID(_ context.Context, id int64) (*preference.Preference, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.rows[id]
	if !ok {
		return nil, nil
	}
	out := clonePreference(p)
	return &out, nil
}

// AtContext implements preference.Store.
func (s *PreferenceStore) AtContext(_ context.Context, resolverKey string, ec extctx.Context) (*preference.Preference, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.rows {
		if p.ResolverKey == resolverKey && p.Context.Equal(ec) {
			out := clonePreference(p)
			return &out, nil
		}
	}
	return nil, nil
}

// AtNaturalContext implements preference.Store.
func (s *PreferenceStore) AtNaturalContext(_ context.Context, resolverKey string, contextID int64) (*preference.Preference, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.rows {
		if p.ResolverKey == resolverKey && p.Context.IsNatural() && p.Context.ContextID == contextID {
			out := clonePreference(p)
			return &out, nil
		}
	}
	return nil, nil
}

// ScheduleOffsets implements preference.Store.
func (s *PreferenceStore) ScheduleOffsets(_ context.Context, resolverKey string) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[int64]bool)
	var out []int64
	for _, p := range s.rows {
		if p.ResolverKey != resolverKey || p.ScheduleOffset == nil {
			continue
		}
		if p.Enabled != nil && !*p.Enabled {
			continue
		}
		if !seen[*p.ScheduleOffset] {
			seen[*p.ScheduleOffset] = true
			out = append(out, *p.ScheduleOffset)
		}
	}
	return out, nil
}

// ListAtContext returns every preference anchored at the given context,
// matching the admin API listing contract.
func (s *PreferenceStore) ListAtContext(_ context.Context, ec extctx.Context) ([]preference.Preference, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []preference.Preference
	for _, p := range s.rows {
		if p.Context.Equal(ec) {
			out = append(out, clonePreference(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Descendants implements preference.Store.
func (s *PreferenceStore) Descendants(_ context.Context, id int64) ([]preference.Preference, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []preference.Preference
	for _, p := range s.rows {
		if p.AncestorID != nil && *p.AncestorID == id {
			out = append(out, clonePreference(p))
		}
	}
	return out, nil
}

func clonePreference(p preference.Preference) preference.Preference {
	out := p
	if p.AncestorID != nil {
		v := *p.AncestorID
		out.AncestorID = &v
	}
	out.Title = cloneString(p.Title)
	out.Subject = cloneString(p.Subject)
	out.SubjectFormat = cloneString(p.SubjectFormat)
	out.Body = cloneString(p.Body)
	out.BodyFormat = cloneString(p.BodyFormat)
	if p.Recipients != nil {
		out.Recipients = append([]string(nil), p.Recipients...)
	}
	if p.ScheduleOffset != nil {
		v := *p.ScheduleOffset
		out.ScheduleOffset = &v
	}
	if p.Enabled != nil {
		v := *p.Enabled
		out.Enabled = &v
	}
	if p.ForcedChannels != nil {
		out.ForcedChannels = append([]string(nil), p.ForcedChannels...)
	}
	if p.AdditionalCriteria != nil {
		out.AdditionalCriteria = append(json.RawMessage(nil), p.AdditionalCriteria...)
	}
	return out
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

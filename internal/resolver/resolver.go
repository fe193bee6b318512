// Package resolver defines the notifiable-event resolver contract and the
// registry mapping stable string keys to implementations. One resolver
// exists per domain event type; it carries the event's typed payload shape
// plus resolver-level metadata: schedule capability, available and default
// recipients, additional-criteria validation, placeholder bindings and a
// log-line template.
//
// Dynamic class dispatch of the legacy system is replaced by this registry,
// populated at startup.
package resolver

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"coursepulse.io/notifier/internal/domain"
	"coursepulse.io/notifier/internal/extctx"
	apperrors "coursepulse.io/notifier/internal/pkg/errors"
	"coursepulse.io/notifier/internal/placeholder"
)

// Schedule expresses when a resolver's notifications may fire relative to
// the event's reference time.
type Schedule int

const (
	// ScheduleOnEvent fires immediately when the event occurs.
	ScheduleOnEvent Schedule = iota

	// ScheduleBeforeEvent fires a configured offset before the reference
	// time (negative schedule offset).
	ScheduleBeforeEvent

	// ScheduleAfterEvent fires a configured offset after the reference
	// time (positive schedule offset).
	ScheduleAfterEvent
)

// SupportsOffset reports whether the given signed offset (seconds relative
// to the reference time) is expressible by the schedule set.
func SupportsOffset(schedules []Schedule, offset int64) bool {
	var want Schedule
	switch {
	case offset == 0:
		want = ScheduleOnEvent
	case offset < 0:
		want = ScheduleBeforeEvent
	default:
		want = ScheduleAfterEvent
	}
	for _, s := range schedules {
		if s == want {
			return true
		}
	}
	return false
}

// BuiltInPreference is the resolver-supplied default that always exists at
// system context, guaranteeing preference resolution terminates.
type BuiltInPreference struct {
	Title          string
	Subject        string
	Body           string
	Recipients     []string
	ScheduleOffset int64
	Enabled        bool
	ForcedChannels []string
}

// Resolver describes one notifiable event type.
type Resolver interface {
	// Key is the stable registry identifier, e.g. "seminar.booking_cancelled".
	Key() string

	// Title is the human-readable event name shown to notification admins.
	Title() string

	// AvailableSchedules lists the schedule directions admins may configure.
	AvailableSchedules() []Schedule

	// AvailableRecipients lists recipient-resolver keys admins may choose.
	AvailableRecipients() []string

	// BuiltIn returns the default preference.
	BuiltIn() BuiltInPreference

	// RequiredPayloadKeys are validated before processing; absence is a
	// producer programming error.
	RequiredPayloadKeys() []string

	// ExtendedContext computes where matching preferences are searched.
	ExtendedContext(payload domain.Payload) (extctx.Context, error)

	// PlaceholderBindings binds template group names to loaders for the
	// payload. Personalized groups receive the recipient id at render time.
	PlaceholderBindings(payload domain.Payload) []placeholder.Binding

	// LogLineTemplate is rendered with the same bindings into the audit
	// event log, e.g. "Booking cancelled for [subject:full_name] in
	// [course:full_name]".
	LogLineTemplate() string

	// DefaultDeliveryChannels returns the developer-default channels used
	// when neither the preference forces channels nor the recipient has
	// personal channel preferences.
	DefaultDeliveryChannels() []string
}

// ScheduledEventResolver is implemented by resolvers whose events are found
// by a periodic window scan instead of being event-triggered.
type ScheduledEventResolver interface {
	Resolver

	// FindDueEvents returns payloads whose reference time falls in
	// [from, to). Entities owned by legacy-notification seminars are
	// excluded when the site allows legacy notifications.
	FindDueEvents(ctx context.Context, from, to time.Time, siteAllowsLegacy bool) ([]DueEvent, error)

	// ReferenceTime extracts the fixed event time from a payload.
	ReferenceTime(payload domain.Payload) (time.Time, error)
}

// AdditionalCriteriaResolver is implemented by resolvers supporting a
// resolver-specific JSON filter on preferences.
type AdditionalCriteriaResolver interface {
	Resolver

	// ValidateCriteria rejects malformed criteria at preference save time.
	ValidateCriteria(raw json.RawMessage) error

	// MeetsCriteria evaluates saved criteria against an event payload.
	// Resolvers whose criteria gate matching treat nil criteria as
	// never matching; resolvers whose criteria only tune output treat
	// nil as matching.
	MeetsCriteria(raw json.RawMessage, payload domain.Payload) (bool, error)
}

// AttachmentResolver is implemented by resolvers that can attach generated
// files (e.g. calendar entries) when the preference asks for them.
type AttachmentResolver interface {
	Resolver

	// WantsAttachments inspects preference criteria.
	WantsAttachments(raw json.RawMessage) bool

	// Attachments generates the files for one recipient.
	Attachments(ctx context.Context, payload domain.Payload, recipient domain.User) ([]Attachment, error)
}

// Attachment is a generated file handed to delivery alongside the message.
type Attachment struct {
	Name    string `json:"name"`
	MIME    string `json:"mime"`
	Content []byte `json:"content"`
}

// DueEvent is one scan hit of a scheduled resolver.
type DueEvent struct {
	Payload       domain.Payload
	Context       extctx.Context
	DedupeKey     string
	ReferenceTime time.Time
}

// Registry maps resolver keys to implementations and tracks per-context
// disable toggles.
type Registry struct {
	mu        sync.RWMutex
	resolvers map[string]Resolver
	disabled  map[string]map[int64]bool // key → context id → disabled
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		resolvers: make(map[string]Resolver),
		disabled:  make(map[string]map[int64]bool),
	}
}

// Register adds a resolver. Duplicate keys overwrite, which only happens in
// tests swapping implementations.
func (r *Registry) Register(res Resolver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resolvers[res.Key()] = res
}

// Get returns the resolver for key.
func (r *Registry) Get(key string) (Resolver, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res, ok := r.resolvers[key]
	if !ok {
		return nil, apperrors.NotFound(apperrors.CodeResolverUnknown, "unknown resolver "+key).
			WithParams(map[string]interface{}{"resolver": key})
	}
	return res, nil
}

// Keys returns all registered resolver keys.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.resolvers))
	for k := range r.resolvers {
		keys = append(keys, k)
	}
	return keys
}

// Scheduled returns all resolvers found by window scans.
func (r *Registry) Scheduled() []ScheduledEventResolver {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []ScheduledEventResolver
	for _, res := range r.resolvers {
		if s, ok := res.(ScheduledEventResolver); ok {
			out = append(out, s)
		}
	}
	return out
}

// SetDisabled toggles a resolver at one context.
func (r *Registry) SetDisabled(key string, contextID int64, disabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.disabled[key]
	if !ok {
		m = make(map[int64]bool)
		r.disabled[key] = m
	}
	if disabled {
		m[contextID] = true
	} else {
		delete(m, contextID)
	}
}

// DisabledAt reports whether the resolver is disabled at the context or any
// of its natural ancestors. Disabled anywhere up the chain silences the
// whole subtree.
func (r *Registry) DisabledAt(key string, ec extctx.Context) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.disabled[key]
	if !ok {
		return false
	}
	if m[ec.ContextID] {
		return true
	}
	for _, id := range ec.AncestorIDs() {
		if m[id] {
			return true
		}
	}
	return false
}

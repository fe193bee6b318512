// Package preference stores and resolves notification preferences: per
// resolver, per extended context, with ancestor override chains through the
// natural context hierarchy. Resolution follows read-time fallback: a field
// left null on an overriding preference is looked up the ancestor chain on
// every read, and past the chain the resolver's built-in default applies,
// so resolution always terminates with a fully populated result.
package preference

import (
	"context"
	"encoding/json"
	"time"

	"coursepulse.io/notifier/internal/extctx"
)

// Body and subject formats.
const (
	FormatPlain = "plain"
	FormatHTML  = "html"
)

// Preference is one stored preference row. Pointer fields are nullable:
// nil means "inherit from the ancestor chain" on overriding preferences and
// is forbidden on required fields of from-scratch custom preferences.
type Preference struct {
	ID          int64
	ResolverKey string
	Context     extctx.Context

	// AncestorID links to a preference at a natural ancestor context.
	AncestorID *int64

	// NotificationClass is set on built-in default rows materialized when an
	// admin edits a resolver default; empty on custom preferences.
	NotificationClass string

	Title          *string
	Subject        *string
	SubjectFormat  *string
	Body           *string
	BodyFormat     *string
	Recipients     []string
	ScheduleOffset *int64
	Enabled        *bool
	ForcedChannels []string

	// AdditionalCriteria is the resolver-specific JSON filter.
	AdditionalCriteria json.RawMessage

	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsCustom reports whether the preference was created from scratch, with no
// ancestor and no built-in default behind it. Custom preferences have no
// fallback; their required fields must always be populated.
func (p *Preference) IsCustom() bool {
	return p.AncestorID == nil && p.NotificationClass == ""
}

// Effective is a fully resolved preference view: every field populated after
// ancestor-chain and built-in fallback. PreferenceID is zero when resolution
// bottomed out at the pure built-in default with no stored row.
type Effective struct {
	PreferenceID       int64
	ResolverKey        string
	Context            extctx.Context
	Title              string
	Subject            string
	SubjectFormat      string
	Body               string
	BodyFormat         string
	Recipients         []string
	ScheduleOffset     int64
	Enabled            bool
	ForcedChannels     []string
	AdditionalCriteria json.RawMessage
}

// Store persists preferences.
type Store interface {
	Create(ctx context.Context, p *Preference) error
	Update(ctx context.Context, p *Preference) error
	Delete(ctx context.Context, id int64) error
	ByID(ctx context.Context, id int64) (*Preference, error)

	// AtContext returns the preference at the exact extended context, or nil.
	AtContext(ctx context.Context, resolverKey string, ec extctx.Context) (*Preference, error)

	// AtNaturalContext returns the preference at a natural context node, or
	// nil. Used while walking the ancestor chain.
	AtNaturalContext(ctx context.Context, resolverKey string, contextID int64) (*Preference, error)

	// ScheduleOffsets returns the schedule offsets of all enabled
	// preferences of the resolver, built-in default included. Bounds of the
	// periodic scan window derive from these.
	ScheduleOffsets(ctx context.Context, resolverKey string) ([]int64, error)

	// Descendants returns preferences naming id as their ancestor.
	Descendants(ctx context.Context, id int64) ([]Preference, error)
}

// Helpers for building nullable fields in literals and tests.

// String returns a pointer to s.
func String(s string) *string { return &s }

// Int64 returns a pointer to n.
func Int64(n int64) *int64 { return &n }

// Bool returns a pointer to b.
func Bool(b bool) *bool { return &b }

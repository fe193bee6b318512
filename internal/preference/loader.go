package preference

import (
	"context"
	"encoding/json"

	"coursepulse.io/notifier/internal/extctx"
	apperrors "coursepulse.io/notifier/internal/pkg/errors"
	"coursepulse.io/notifier/internal/resolver"
)

// Loader resolves the single effective preference for a resolver at an
// extended context.
//
// Row selection: the exact extended context wins; otherwise the natural
// ancestor chain is walked nearest-first and the first row found wins; with
// no row anywhere the resolver's built-in default applies. Field resolution
// then fills null fields of the winning row by walking its declared
// ancestor-id chain until the first non-null value, and falls back to the
// built-in default past the end of the chain.
type Loader struct {
	store     Store
	resolvers *resolver.Registry
}

// NewLoader wires a loader.
func NewLoader(store Store, resolvers *resolver.Registry) *Loader {
	return &Loader{store: store, resolvers: resolvers}
}

// ancestorChainLimit bounds chain walks so a corrupt self-referencing chain
// cannot spin forever.
const ancestorChainLimit = 32

// Effective returns the fully resolved preference for the resolver at the
// extended context.
func (l *Loader) Effective(ctx context.Context, resolverKey string, ec extctx.Context) (*Effective, error) {
	res, err := l.resolvers.Get(resolverKey)
	if err != nil {
		return nil, err
	}

	row, err := l.winningRow(ctx, resolverKey, ec)
	if err != nil {
		return nil, err
	}

	builtIn := res.BuiltIn()
	eff := &Effective{
		ResolverKey:    resolverKey,
		Context:        ec,
		Title:          builtIn.Title,
		Subject:        builtIn.Subject,
		SubjectFormat:  FormatPlain,
		Body:           builtIn.Body,
		BodyFormat:     FormatPlain,
		Recipients:     builtIn.Recipients,
		ScheduleOffset: builtIn.ScheduleOffset,
		Enabled:        builtIn.Enabled,
		ForcedChannels: builtIn.ForcedChannels,
	}
	if row == nil {
		return eff, nil
	}

	eff.PreferenceID = row.ID
	chain, err := l.chain(ctx, row)
	if err != nil {
		return nil, err
	}
	applyChain(eff, chain)
	return eff, nil
}

// winningRow picks the most specific stored row: exact extended context,
// then natural ancestors nearest-first.
func (l *Loader) winningRow(ctx context.Context, resolverKey string, ec extctx.Context) (*Preference, error) {
	row, err := l.store.AtContext(ctx, resolverKey, ec)
	if err != nil {
		return nil, err
	}
	if row != nil {
		return row, nil
	}
	for _, id := range ec.AncestorIDs() {
		row, err = l.store.AtNaturalContext(ctx, resolverKey, id)
		if err != nil {
			return nil, err
		}
		if row != nil {
			return row, nil
		}
	}
	return nil, nil
}

// chain loads the row and its ancestor-id chain, nearest-first.
func (l *Loader) chain(ctx context.Context, row *Preference) ([]*Preference, error) {
	chain := []*Preference{row}
	current := row
	for current.AncestorID != nil {
		if len(chain) >= ancestorChainLimit {
			return nil, apperrors.Internal(apperrors.CodeAncestorInvalid, "ancestor chain too deep").
				WithParams(map[string]interface{}{"preference_id": row.ID})
		}
		next, err := l.store.ByID(ctx, *current.AncestorID)
		if err != nil {
			return nil, err
		}
		if next == nil {
			return nil, apperrors.Internal(apperrors.CodeAncestorInvalid, "ancestor preference missing").
				WithParams(map[string]interface{}{"ancestor_id": *current.AncestorID})
		}
		chain = append(chain, next)
		current = next
	}
	return chain, nil
}

// applyChain overlays the chain onto the built-in defaults: for each field,
// the value of the nearest chain member that has it set wins.
func applyChain(eff *Effective, chain []*Preference) {
	for i := len(chain) - 1; i >= 0; i-- {
		p := chain[i]
		if p.Title != nil {
			eff.Title = *p.Title
		}
		if p.Subject != nil {
			eff.Subject = *p.Subject
		}
		if p.SubjectFormat != nil {
			eff.SubjectFormat = *p.SubjectFormat
		}
		if p.Body != nil {
			eff.Body = *p.Body
		}
		if p.BodyFormat != nil {
			eff.BodyFormat = *p.BodyFormat
		}
		if p.Recipients != nil {
			eff.Recipients = p.Recipients
		}
		if p.ScheduleOffset != nil {
			eff.ScheduleOffset = *p.ScheduleOffset
		}
		if p.Enabled != nil {
			eff.Enabled = *p.Enabled
		}
		if p.ForcedChannels != nil {
			eff.ForcedChannels = p.ForcedChannels
		}
		if p.AdditionalCriteria != nil {
			eff.AdditionalCriteria = append(json.RawMessage(nil), p.AdditionalCriteria...)
		}
	}
}

// ScanBounds returns the smallest and largest schedule offsets among the
// resolver's enabled preferences, built-in default included. The periodic
// scan window for a scheduled resolver derives from these.
func (l *Loader) ScanBounds(ctx context.Context, resolverKey string) (min, max int64, err error) {
	res, err := l.resolvers.Get(resolverKey)
	if err != nil {
		return 0, 0, err
	}
	offsets, err := l.store.ScheduleOffsets(ctx, resolverKey)
	if err != nil {
		return 0, 0, err
	}
	builtIn := res.BuiltIn()
	if builtIn.Enabled {
		offsets = append(offsets, builtIn.ScheduleOffset)
	}
	if len(offsets) == 0 {
		return 0, 0, nil
	}
	min, max = offsets[0], offsets[0]
	for _, o := range offsets[1:] {
		if o < min {
			min = o
		}
		if o > max {
			max = o
		}
	}
	return min, max, nil
}

package preference

import (
	"context"

	"coursepulse.io/notifier/internal/extctx"
	apperrors "coursepulse.io/notifier/internal/pkg/errors"
	"coursepulse.io/notifier/internal/recipient"
	"coursepulse.io/notifier/internal/resolver"
)

// Builder creates and updates preferences, enforcing the write-time rules:
// ancestor links only through the natural hierarchy, no fallback gaps on
// custom preferences, schedule offsets within the resolver's declared
// directions, criteria validated by the resolver. Violations are admin
// configuration errors and fail loud.
type Builder struct {
	store      Store
	resolvers  *resolver.Registry
	recipients *recipient.Registry
}

// NewBuilder wires a builder.
func NewBuilder(store Store, resolvers *resolver.Registry, recipients *recipient.Registry) *Builder {
	return &Builder{store: store, resolvers: resolvers, recipients: recipients}
}

// Create validates and persists a new preference.
func (b *Builder) Create(ctx context.Context, draft *Preference) (*Preference, error) {
	if err := b.validate(ctx, draft); err != nil {
		return nil, err
	}
	existing, err := b.store.AtContext(ctx, draft.ResolverKey, draft.Context)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, apperrors.Conflict(apperrors.CodePreferenceInvalid,
			"a preference already exists at this context for this resolver").
			WithParams(map[string]interface{}{"existing_id": existing.ID})
	}
	if err := b.store.Create(ctx, draft); err != nil {
		return nil, err
	}
	return draft, nil
}

// Update validates and persists changes to an existing preference. Resolver
// and context are immutable. Fields may be nulled to re-enable ancestor
// fallback, except required fields of custom preferences.
func (b *Builder) Update(ctx context.Context, draft *Preference) (*Preference, error) {
	existing, err := b.store.ByID(ctx, draft.ID)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, apperrors.NotFound(apperrors.CodePreferenceNotFound, "preference not found").
			WithParams(map[string]interface{}{"id": draft.ID})
	}
	if draft.ResolverKey != existing.ResolverKey {
		return nil, apperrors.BadRequest(apperrors.CodePreferenceInvalid, "resolver of a preference cannot change")
	}
	if !draft.Context.Equal(existing.Context) {
		return nil, apperrors.BadRequest(apperrors.CodePreferenceInvalid, "context of a preference cannot change")
	}
	draft.NotificationClass = existing.NotificationClass
	draft.CreatedAt = existing.CreatedAt
	if err := b.validate(ctx, draft); err != nil {
		return nil, err
	}
	if err := b.store.Update(ctx, draft); err != nil {
		return nil, err
	}
	return draft, nil
}

// DeleteCustom removes a custom preference so the context reverts to the
// inherited or built-in defaults. Built-in default rows and preferences
// other overrides hang off cannot be deleted.
func (b *Builder) DeleteCustom(ctx context.Context, id int64) error {
	p, err := b.store.ByID(ctx, id)
	if err != nil {
		return err
	}
	if p == nil {
		return apperrors.NotFound(apperrors.CodePreferenceNotFound, "preference not found").
			WithParams(map[string]interface{}{"id": id})
	}
	if p.NotificationClass != "" {
		return apperrors.Conflict(apperrors.CodePreferenceNotDeletable,
			"built-in default preferences cannot be deleted")
	}
	descendants, err := b.store.Descendants(ctx, id)
	if err != nil {
		return err
	}
	if len(descendants) > 0 {
		return apperrors.Conflict(apperrors.CodePreferenceNotDeletable,
			"preference is the ancestor of other overrides").
			WithParams(map[string]interface{}{"descendants": len(descendants)})
	}
	return b.store.Delete(ctx, id)
}

func (b *Builder) validate(ctx context.Context, draft *Preference) error {
	res, err := b.resolvers.Get(draft.ResolverKey)
	if err != nil {
		return err
	}
	if err := draft.Context.Validate(); err != nil {
		return apperrors.BadRequest(apperrors.CodePreferenceInvalid, err.Error())
	}

	if err := b.validateAncestor(ctx, draft); err != nil {
		return err
	}
	if draft.IsCustom() {
		if err := validateRequiredFields(draft); err != nil {
			return err
		}
	}

	if draft.ScheduleOffset != nil {
		if !resolver.SupportsOffset(res.AvailableSchedules(), *draft.ScheduleOffset) {
			return apperrors.BadRequest(apperrors.CodeScheduleUnsupported,
				"schedule offset direction not available for this resolver").
				WithParams(map[string]interface{}{"offset": *draft.ScheduleOffset})
		}
	}

	for _, format := range []*string{draft.SubjectFormat, draft.BodyFormat} {
		if format != nil && *format != FormatPlain && *format != FormatHTML {
			return apperrors.BadRequest(apperrors.CodePreferenceInvalid, "unknown format "+*format)
		}
	}

	if err := b.validateRecipients(res, draft.Recipients); err != nil {
		return err
	}

	if len(draft.AdditionalCriteria) > 0 {
		crit, ok := res.(resolver.AdditionalCriteriaResolver)
		if !ok {
			return apperrors.BadRequest(apperrors.CodeCriteriaInvalid,
				"resolver does not accept additional criteria")
		}
		if err := crit.ValidateCriteria(draft.AdditionalCriteria); err != nil {
			return err
		}
	}
	return nil
}

// validateAncestor enforces the structural rules of override chains:
// ancestors only at natural contexts, same resolver, child inscribed in the
// ancestor's subtree, no ancestors at system level.
func (b *Builder) validateAncestor(ctx context.Context, draft *Preference) error {
	if draft.AncestorID == nil {
		return nil
	}
	if draft.Context.NaturalPart().Equal(extctx.System()) {
		return apperrors.BadRequest(apperrors.CodeAncestorInvalid,
			"system-level preferences cannot have an ancestor")
	}
	ancestor, err := b.store.ByID(ctx, *draft.AncestorID)
	if err != nil {
		return err
	}
	if ancestor == nil {
		return apperrors.BadRequest(apperrors.CodeAncestorInvalid, "ancestor preference not found").
			WithParams(map[string]interface{}{"ancestor_id": *draft.AncestorID})
	}
	if ancestor.ResolverKey != draft.ResolverKey {
		return apperrors.BadRequest(apperrors.CodeAncestorInvalid,
			"ancestor belongs to a different resolver")
	}
	if !ancestor.Context.IsNatural() {
		return apperrors.BadRequest(apperrors.CodeAncestorInvalid,
			"ancestor preferences must live at natural contexts")
	}
	if !draft.Context.InscribedIn(ancestor.Context) {
		return apperrors.BadRequest(apperrors.CodeAncestorInvalid,
			"ancestor context does not enclose the preference context").
			WithParams(map[string]interface{}{
				"context":  draft.Context.Path,
				"ancestor": ancestor.Context.Path,
			})
	}
	return nil
}

func validateRequiredFields(draft *Preference) error {
	missing := ""
	switch {
	case draft.Title == nil:
		missing = "title"
	case draft.Subject == nil:
		missing = "subject"
	case draft.SubjectFormat == nil:
		missing = "subject_format"
	case draft.Body == nil:
		missing = "body"
	case draft.Recipients == nil:
		missing = "recipients"
	case draft.ScheduleOffset == nil:
		missing = "schedule_offset"
	case draft.Enabled == nil:
		missing = "enabled"
	}
	if missing != "" {
		return apperrors.BadRequest(apperrors.CodeRequiredFieldMissing,
			"custom preferences have no fallback for "+missing).
			WithParams(map[string]interface{}{"field": missing})
	}
	return nil
}

func (b *Builder) validateRecipients(res resolver.Resolver, keys []string) error {
	if keys == nil {
		return nil
	}
	available := res.AvailableRecipients()
	for _, key := range keys {
		if _, err := b.recipients.Get(key); err != nil {
			return err
		}
		found := false
		for _, a := range available {
			if a == key {
				found = true
				break
			}
		}
		if !found {
			return apperrors.BadRequest(apperrors.CodePreferenceInvalid,
				"recipient "+key+" not available for this resolver").
				WithParams(map[string]interface{}{"recipient": key})
		}
	}
	return nil
}

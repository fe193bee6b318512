package resolver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"coursepulse.io/notifier/internal/domain"
	"coursepulse.io/notifier/internal/extctx"
	"coursepulse.io/notifier/internal/ical"
	apperrors "coursepulse.io/notifier/internal/pkg/errors"
	"coursepulse.io/notifier/internal/placeholder"
	"coursepulse.io/notifier/internal/recipient"
)

// Extended-context narrowing applied by all seminar resolvers: preferences
// live at the seminar's course-module context, narrowed per event.
const (
	ComponentSeminar = "seminar"
	AreaSeminarEvent = "seminar_event"
)

var defaultChannels = []string{"email", "popup"}

var commonPayloadKeys = []string{
	domain.KeySeminarEventID,
	domain.KeySeminarID,
	domain.KeyModuleID,
	domain.KeyCourseID,
	domain.KeyContextID,
	domain.KeyContextPath,
}

func withKeys(extra ...string) []string {
	keys := make([]string, 0, len(commonPayloadKeys)+len(extra))
	keys = append(keys, commonPayloadKeys...)
	keys = append(keys, extra...)
	return keys
}

// base carries the lookups shared by all seminar resolvers.
type base struct {
	stores domain.Stores
	cache  *placeholder.Cache
}

func (b base) extendedContext(payload domain.Payload) (extctx.Context, error) {
	contextID, err := payload.Int64(domain.KeyContextID)
	if err != nil {
		return extctx.Context{}, err
	}
	path, err := payload.String(domain.KeyContextPath)
	if err != nil {
		return extctx.Context{}, err
	}
	eventID, err := payload.Int64(domain.KeySeminarEventID)
	if err != nil {
		return extctx.Context{}, err
	}
	natural := extctx.Natural(contextID, path, extctx.LevelModule)
	return natural.With(ComponentSeminar, AreaSeminarEvent, eventID), nil
}

// bindings binds the standard seminar template groups. Loaders extract
// their payload keys lazily, so a template not referencing a group never
// pays for (or requires) its keys.
func (b base) bindings(payload domain.Payload) []placeholder.Binding {
	return []placeholder.Binding{
		{Name: "event", Load: func(ctx context.Context, _ int64) (placeholder.Group, error) {
			id, err := payload.Int64(domain.KeySeminarEventID)
			if err != nil {
				return nil, err
			}
			return placeholder.EventFromID(ctx, b.cache, b.stores, id)
		}},
		{Name: "course", Load: func(ctx context.Context, _ int64) (placeholder.Group, error) {
			id, err := payload.Int64(domain.KeyCourseID)
			if err != nil {
				return nil, err
			}
			return placeholder.CourseFromID(ctx, b.cache, b.stores, id)
		}},
		{Name: "activity", Load: func(ctx context.Context, _ int64) (placeholder.Group, error) {
			id, err := payload.Int64(domain.KeySeminarID)
			if err != nil {
				return nil, err
			}
			return placeholder.ActivityFromSeminarID(ctx, b.cache, b.stores, id)
		}},
		{Name: "subject", Load: func(ctx context.Context, _ int64) (placeholder.Group, error) {
			id, err := payload.Int64(domain.KeyUserID)
			if err != nil {
				return nil, err
			}
			return placeholder.UserFromID(ctx, b.cache, b.stores, id)
		}},
		{Name: "recipient", Personalized: true, Load: func(ctx context.Context, recipientID int64) (placeholder.Group, error) {
			return placeholder.UserFromID(ctx, b.cache, b.stores, recipientID)
		}},
		{Name: "signup", Load: func(ctx context.Context, _ int64) (placeholder.Group, error) {
			eventID, err := payload.Int64(domain.KeySeminarEventID)
			if err != nil {
				return nil, err
			}
			userID, err := payload.Int64(domain.KeyUserID)
			if err != nil {
				return nil, err
			}
			return placeholder.SignupFromEventAndUser(ctx, b.cache, b.stores, eventID, userID)
		}},
	}
}

// icalCriteria is the optional criteria shape of booking resolvers. Its only
// recognized option asks for calendar attachments on email deliveries.
type icalCriteria struct {
	ICal []string `json:"ical"`
}

const optionIncludeIcal = "include_ical_attachment"

func validateIcalCriteria(raw json.RawMessage) error {
	if len(raw) == 0 {
		return nil
	}
	var c icalCriteria
	if err := json.Unmarshal(raw, &c); err != nil {
		return apperrors.Wrap(err, apperrors.CodeCriteriaInvalid, "malformed criteria", http.StatusBadRequest)
	}
	for _, opt := range c.ICal {
		if opt != optionIncludeIcal {
			return apperrors.BadRequest(apperrors.CodeCriteriaInvalid, "unknown criteria option "+opt).
				WithParams(map[string]interface{}{"option": opt})
		}
	}
	return nil
}

func wantsIcal(raw json.RawMessage) bool {
	if len(raw) == 0 {
		return false
	}
	var c icalCriteria
	if err := json.Unmarshal(raw, &c); err != nil {
		return false
	}
	for _, opt := range c.ICal {
		if opt == optionIncludeIcal {
			return true
		}
	}
	return false
}

// sessionAttachments builds one calendar file covering the event's sessions.
func (b base) sessionAttachments(ctx context.Context, payload domain.Payload, rcpt domain.User, method string) ([]Attachment, error) {
	eventID, err := payload.Int64(domain.KeySeminarEventID)
	if err != nil {
		return nil, err
	}
	seminarID, err := payload.Int64(domain.KeySeminarID)
	if err != nil {
		return nil, err
	}
	sessions, err := b.stores.Seminars.SessionsOf(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if len(sessions) == 0 {
		return nil, nil
	}
	summary := ""
	if seminar, err := b.stores.Seminars.Seminar(ctx, seminarID); err != nil {
		return nil, err
	} else if seminar != nil {
		summary = seminar.Name
	}
	entries := make([]ical.Entry, 0, len(sessions))
	for _, s := range sessions {
		entries = append(entries, ical.Entry{
			UID:      fmt.Sprintf("seminar-event-%d-session-%d@coursepulse", eventID, s.ID),
			Summary:  summary,
			Location: s.Room,
			Start:    s.Start,
			End:      s.Finish,
			Attendee: rcpt.Email,
			Sequence: 0,
		})
	}
	return []Attachment{{
		Name:    fmt.Sprintf("seminar-event-%d.ics", eventID),
		MIME:    "text/calendar",
		Content: ical.Render(method, entries),
	}}, nil
}

// bookingConfirmed fires when a signup reaches booked state.
type bookingConfirmed struct {
	base
}

func (r *bookingConfirmed) Key() string                   { return "seminar.booking_confirmed" }
func (r *bookingConfirmed) Title() string                 { return "Booking confirmed" }
func (r *bookingConfirmed) AvailableSchedules() []Schedule { return []Schedule{ScheduleOnEvent} }
func (r *bookingConfirmed) AvailableRecipients() []string {
	return []string{recipient.KeySubject, recipient.KeyManager, recipient.KeyThirdParty, recipient.KeyNotifiableRoles}
}
func (r *bookingConfirmed) RequiredPayloadKeys() []string {
	return withKeys(domain.KeyUserID, domain.KeySignupID)
}
func (r *bookingConfirmed) DefaultDeliveryChannels() []string { return defaultChannels }
func (r *bookingConfirmed) LogLineTemplate() string {
	return "Booking confirmed for [subject:full_name] on [event:start_date] in [course:full_name]"
}

func (r *bookingConfirmed) BuiltIn() BuiltInPreference {
	return BuiltInPreference{
		Title:      "Seminar booking confirmation",
		Subject:    "Seminar booking confirmation: [activity:name], [event:start_date]",
		Body:       "This is to confirm that you are now booked on the following course:\n\nCourse: [course:full_name]\nSeminar: [activity:name]\nDate: [event:start_date], [event:start_time] - [event:finish_time]",
		Recipients: []string{recipient.KeySubject},
		Enabled:    true,
	}
}

func (r *bookingConfirmed) ExtendedContext(payload domain.Payload) (extctx.Context, error) {
	return r.extendedContext(payload)
}

func (r *bookingConfirmed) PlaceholderBindings(payload domain.Payload) []placeholder.Binding {
	return r.bindings(payload)
}

func (r *bookingConfirmed) ValidateCriteria(raw json.RawMessage) error { return validateIcalCriteria(raw) }

func (r *bookingConfirmed) MeetsCriteria(raw json.RawMessage, _ domain.Payload) (bool, error) {
	// Criteria only tune attachments; they never exclude the event.
	return true, nil
}

func (r *bookingConfirmed) WantsAttachments(raw json.RawMessage) bool { return wantsIcal(raw) }

func (r *bookingConfirmed) Attachments(ctx context.Context, payload domain.Payload, rcpt domain.User) ([]Attachment, error) {
	return r.sessionAttachments(ctx, payload, rcpt, ical.MethodRequest)
}

// bookingCancelled fires when a booking is cancelled by the user or an
// administrator.
type bookingCancelled struct {
	base
}

func (r *bookingCancelled) Key() string                    { return "seminar.booking_cancelled" }
func (r *bookingCancelled) Title() string                  { return "Booking cancelled" }
func (r *bookingCancelled) AvailableSchedules() []Schedule { return []Schedule{ScheduleOnEvent} }
func (r *bookingCancelled) AvailableRecipients() []string {
	return []string{recipient.KeySubject, recipient.KeyManager, recipient.KeyThirdParty, recipient.KeyNotifiableRoles}
}
func (r *bookingCancelled) RequiredPayloadKeys() []string {
	return withKeys(domain.KeyUserID, domain.KeySignupID)
}
func (r *bookingCancelled) DefaultDeliveryChannels() []string { return defaultChannels }
func (r *bookingCancelled) LogLineTemplate() string {
	return "Booking cancelled for [subject:full_name] on [event:start_date] in [course:full_name]"
}

func (r *bookingCancelled) BuiltIn() BuiltInPreference {
	return BuiltInPreference{
		Title:      "Seminar booking cancellation",
		Subject:    "Seminar booking cancellation: [activity:name], [event:start_date]",
		Body:       "Your booking for the following course has been cancelled:\n\nCourse: [course:full_name]\nSeminar: [activity:name]\nDate: [event:start_date]",
		Recipients: []string{recipient.KeySubject},
		Enabled:    true,
	}
}

func (r *bookingCancelled) ExtendedContext(payload domain.Payload) (extctx.Context, error) {
	return r.extendedContext(payload)
}

func (r *bookingCancelled) PlaceholderBindings(payload domain.Payload) []placeholder.Binding {
	return r.bindings(payload)
}

func (r *bookingCancelled) ValidateCriteria(raw json.RawMessage) error { return validateIcalCriteria(raw) }

func (r *bookingCancelled) MeetsCriteria(raw json.RawMessage, _ domain.Payload) (bool, error) {
	return true, nil
}

func (r *bookingCancelled) WantsAttachments(raw json.RawMessage) bool { return wantsIcal(raw) }

func (r *bookingCancelled) Attachments(ctx context.Context, payload domain.Payload, rcpt domain.User) ([]Attachment, error) {
	return r.sessionAttachments(ctx, payload, rcpt, ical.MethodCancel)
}

// eventDateChanged fires when an event's session dates move, so attendees
// can adjust their calendars.
type eventDateChanged struct {
	base
}

func (r *eventDateChanged) Key() string                    { return "seminar.event_date_changed" }
func (r *eventDateChanged) Title() string                  { return "Event date/time changed" }
func (r *eventDateChanged) AvailableSchedules() []Schedule { return []Schedule{ScheduleOnEvent} }
func (r *eventDateChanged) AvailableRecipients() []string {
	return []string{recipient.KeySubject, recipient.KeyManager, recipient.KeyThirdParty, recipient.KeyNotifiableRoles}
}
func (r *eventDateChanged) RequiredPayloadKeys() []string {
	return withKeys(domain.KeyUserID, domain.KeySignupID)
}
func (r *eventDateChanged) DefaultDeliveryChannels() []string { return defaultChannels }
func (r *eventDateChanged) LogLineTemplate() string {
	return "Event dates changed for [subject:full_name] in [course:full_name]"
}

func (r *eventDateChanged) BuiltIn() BuiltInPreference {
	return BuiltInPreference{
		Title:      "Seminar date/time changed",
		Subject:    "Seminar date/time changed: [activity:name], [event:start_date]",
		Body:       "The date or time of the following event has changed:\n\nCourse: [course:full_name]\nSeminar: [activity:name]\nNew date: [event:start_date], [event:start_time] - [event:finish_time]",
		Recipients: []string{recipient.KeySubject},
		Enabled:    true,
	}
}

func (r *eventDateChanged) ExtendedContext(payload domain.Payload) (extctx.Context, error) {
	return r.extendedContext(payload)
}

func (r *eventDateChanged) PlaceholderBindings(payload domain.Payload) []placeholder.Binding {
	return r.bindings(payload)
}

// virtualMeetingFailed fires when virtual room provisioning for a session
// fails and someone has to intervene.
type virtualMeetingFailed struct {
	base
}

func (r *virtualMeetingFailed) Key() string                    { return "seminar.virtualmeeting_failed" }
func (r *virtualMeetingFailed) Title() string                  { return "Virtual meeting creation failed" }
func (r *virtualMeetingFailed) AvailableSchedules() []Schedule { return []Schedule{ScheduleOnEvent} }
func (r *virtualMeetingFailed) AvailableRecipients() []string {
	return []string{recipient.KeyVirtualMeetingCreator, recipient.KeyFacilitator}
}
func (r *virtualMeetingFailed) RequiredPayloadKeys() []string {
	return withKeys(domain.KeyCreatorID)
}
func (r *virtualMeetingFailed) DefaultDeliveryChannels() []string { return defaultChannels }
func (r *virtualMeetingFailed) LogLineTemplate() string {
	return "Virtual meeting creation failed for an event in [course:full_name]"
}

func (r *virtualMeetingFailed) BuiltIn() BuiltInPreference {
	return BuiltInPreference{
		Title:      "Virtual meeting creation failure",
		Subject:    "Virtual room creation failed: [activity:name]",
		Body:       "A virtual meeting room could not be created for the following event:\n\nCourse: [course:full_name]\nSeminar: [activity:name]\nDate: [event:start_date]\n\nPlease check the virtual room configuration.",
		Recipients: []string{recipient.KeyVirtualMeetingCreator},
		Enabled:    true,
	}
}

func (r *virtualMeetingFailed) ExtendedContext(payload domain.Payload) (extctx.Context, error) {
	return r.extendedContext(payload)
}

func (r *virtualMeetingFailed) PlaceholderBindings(payload domain.Payload) []placeholder.Binding {
	return r.bindings(payload)
}

// reservationDeadlinePassed fires when manager reservations lapse
// unconverted before the booking cutoff.
type reservationDeadlinePassed struct {
	base
}

func (r *reservationDeadlinePassed) Key() string   { return "seminar.reservation_deadline_passed" }
func (r *reservationDeadlinePassed) Title() string { return "Reservation deadline passed" }
func (r *reservationDeadlinePassed) AvailableSchedules() []Schedule {
	return []Schedule{ScheduleOnEvent}
}
func (r *reservationDeadlinePassed) AvailableRecipients() []string {
	return []string{recipient.KeyReservationManagers}
}
func (r *reservationDeadlinePassed) RequiredPayloadKeys() []string { return withKeys() }
func (r *reservationDeadlinePassed) DefaultDeliveryChannels() []string {
	return defaultChannels
}
func (r *reservationDeadlinePassed) LogLineTemplate() string {
	return "Reservation deadline passed for an event in [course:full_name]"
}

func (r *reservationDeadlinePassed) BuiltIn() BuiltInPreference {
	return BuiltInPreference{
		Title:      "Seminar reservation cancellation",
		Subject:    "Unallocated reservations cancelled: [activity:name]",
		Body:       "Your unallocated reservations for the following event have been cancelled because the reservation deadline passed:\n\nCourse: [course:full_name]\nSeminar: [activity:name]\nDate: [event:start_date]",
		Recipients: []string{recipient.KeyReservationManagers},
		Enabled:    true,
	}
}

func (r *reservationDeadlinePassed) ExtendedContext(payload domain.Payload) (extctx.Context, error) {
	return r.extendedContext(payload)
}

func (r *reservationDeadlinePassed) PlaceholderBindings(payload domain.Payload) []placeholder.Binding {
	return r.bindings(payload)
}

// trainerAssigned and trainerUnassigned fire on trainer roster changes.
type trainerAssigned struct {
	base
}

func (r *trainerAssigned) Key() string                    { return "seminar.trainer_assigned" }
func (r *trainerAssigned) Title() string                  { return "Trainer assigned" }
func (r *trainerAssigned) AvailableSchedules() []Schedule { return []Schedule{ScheduleOnEvent} }
func (r *trainerAssigned) AvailableRecipients() []string {
	return []string{recipient.KeyTrainer}
}
func (r *trainerAssigned) RequiredPayloadKeys() []string {
	return withKeys(domain.KeyTrainerID)
}
func (r *trainerAssigned) DefaultDeliveryChannels() []string { return defaultChannels }
func (r *trainerAssigned) LogLineTemplate() string {
	return "Trainer assigned to an event in [course:full_name]"
}

func (r *trainerAssigned) BuiltIn() BuiltInPreference {
	return BuiltInPreference{
		Title:      "Seminar trainer confirmation",
		Subject:    "Seminar trainer confirmation: [activity:name], [event:start_date]",
		Body:       "You have been assigned as a trainer for the following event:\n\nCourse: [course:full_name]\nSeminar: [activity:name]\nDate: [event:start_date], [event:start_time] - [event:finish_time]",
		Recipients: []string{recipient.KeyTrainer},
		Enabled:    true,
	}
}

func (r *trainerAssigned) ExtendedContext(payload domain.Payload) (extctx.Context, error) {
	return r.extendedContext(payload)
}

func (r *trainerAssigned) PlaceholderBindings(payload domain.Payload) []placeholder.Binding {
	return r.bindings(payload)
}

type trainerUnassigned struct {
	base
}

func (r *trainerUnassigned) Key() string                    { return "seminar.trainer_unassigned" }
func (r *trainerUnassigned) Title() string                  { return "Trainer unassigned" }
func (r *trainerUnassigned) AvailableSchedules() []Schedule { return []Schedule{ScheduleOnEvent} }
func (r *trainerUnassigned) AvailableRecipients() []string {
	return []string{recipient.KeyTrainer}
}
func (r *trainerUnassigned) RequiredPayloadKeys() []string {
	return withKeys(domain.KeyTrainerID)
}
func (r *trainerUnassigned) DefaultDeliveryChannels() []string { return defaultChannels }
func (r *trainerUnassigned) LogLineTemplate() string {
	return "Trainer unassigned from an event in [course:full_name]"
}

func (r *trainerUnassigned) BuiltIn() BuiltInPreference {
	return BuiltInPreference{
		Title:      "Seminar trainer cancellation",
		Subject:    "Seminar trainer cancellation: [activity:name], [event:start_date]",
		Body:       "Your trainer assignment for the following event has been removed:\n\nCourse: [course:full_name]\nSeminar: [activity:name]\nDate: [event:start_date]",
		Recipients: []string{recipient.KeyTrainer},
		Enabled:    true,
	}
}

func (r *trainerUnassigned) ExtendedContext(payload domain.Payload) (extctx.Context, error) {
	return r.extendedContext(payload)
}

func (r *trainerUnassigned) PlaceholderBindings(payload domain.Payload) []placeholder.Binding {
	return r.bindings(payload)
}

// RegisterSeminarResolvers installs the built-in seminar event resolvers.
func RegisterSeminarResolvers(reg *Registry, stores domain.Stores, cache *placeholder.Cache) {
	b := base{stores: stores, cache: cache}
	reg.Register(&bookingConfirmed{base: b})
	reg.Register(&bookingCancelled{base: b})
	reg.Register(&eventDateChanged{base: b})
	reg.Register(&virtualMeetingFailed{base: b})
	reg.Register(&reservationDeadlinePassed{base: b})
	reg.Register(&trainerAssigned{base: b})
	reg.Register(&trainerUnassigned{base: b})
	reg.Register(&bookingEventStartDate{base: b})
}

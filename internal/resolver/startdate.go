package resolver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"coursepulse.io/notifier/internal/domain"
	"coursepulse.io/notifier/internal/extctx"
	apperrors "coursepulse.io/notifier/internal/pkg/errors"
	"coursepulse.io/notifier/internal/placeholder"
	"coursepulse.io/notifier/internal/recipient"
)

// startDateCriteria filters scheduled notifications by the subject's
// booking state when the message fires. Without criteria a preference
// never matches; the state filter is the whole point of this resolver.
type startDateCriteria struct {
	Recipients []string `json:"recipients"`
}

// statusCriteriaCodes maps criteria options to the booking state machine
// codes they cover.
var statusCriteriaCodes = map[string][]int{
	"status_booked":           {domain.StatusBooked},
	"status_pending_requests": {domain.StatusRequested, domain.StatusRequestedRole, domain.StatusRequestedAdmin},
	"status_user_cancelled":   {domain.StatusUserCancelled},
	"status_waitlisted":       {domain.StatusWaitlisted},
}

// bookingEventStartDate is the scheduled resolver anchored on an event's
// earliest session start. Offsets before the start drive reminders, offsets
// after drive follow-ups such as feedback requests.
type bookingEventStartDate struct {
	base
}

func (r *bookingEventStartDate) Key() string   { return "seminar.booking_event_start_date" }
func (r *bookingEventStartDate) Title() string { return "Event start date" }

func (r *bookingEventStartDate) AvailableSchedules() []Schedule {
	return []Schedule{ScheduleBeforeEvent, ScheduleAfterEvent}
}

func (r *bookingEventStartDate) AvailableRecipients() []string {
	return []string{recipient.KeySubject, recipient.KeyManager, recipient.KeyThirdParty, recipient.KeyNotifiableRoles}
}

func (r *bookingEventStartDate) RequiredPayloadKeys() []string {
	return withKeys(domain.KeyUserID, domain.KeySignupID, domain.KeyStatusCode, domain.KeyTimeStart)
}

func (r *bookingEventStartDate) DefaultDeliveryChannels() []string { return defaultChannels }

func (r *bookingEventStartDate) LogLineTemplate() string {
	return "Scheduled message for [subject:full_name], event starting [event:start_date] in [course:full_name]"
}

func (r *bookingEventStartDate) BuiltIn() BuiltInPreference {
	return BuiltInPreference{
		Title:          "Seminar event reminder",
		Subject:        "Seminar reminder: [activity:name], [event:start_date]",
		Body:           "This is a reminder that you are booked on the following course:\n\nCourse: [course:full_name]\nSeminar: [activity:name]\nDate: [event:start_date], [event:start_time] - [event:finish_time]",
		Recipients:     []string{recipient.KeySubject},
		ScheduleOffset: -2 * 24 * 60 * 60,
		Enabled:        false,
	}
}

func (r *bookingEventStartDate) ExtendedContext(payload domain.Payload) (extctx.Context, error) {
	return r.extendedContext(payload)
}

func (r *bookingEventStartDate) PlaceholderBindings(payload domain.Payload) []placeholder.Binding {
	return r.bindings(payload)
}

func (r *bookingEventStartDate) ValidateCriteria(raw json.RawMessage) error {
	if len(raw) == 0 {
		return apperrors.BadRequest(apperrors.CodeCriteriaInvalid, "booking state criteria are required")
	}
	var c startDateCriteria
	if err := json.Unmarshal(raw, &c); err != nil {
		return apperrors.Wrap(err, apperrors.CodeCriteriaInvalid, "malformed criteria", http.StatusBadRequest)
	}
	if len(c.Recipients) == 0 {
		return apperrors.BadRequest(apperrors.CodeCriteriaInvalid, "at least one booking state is required")
	}
	for _, opt := range c.Recipients {
		if _, ok := statusCriteriaCodes[opt]; !ok {
			return apperrors.BadRequest(apperrors.CodeCriteriaInvalid, "unknown booking state "+opt).
				WithParams(map[string]interface{}{"option": opt})
		}
	}
	return nil
}

func (r *bookingEventStartDate) MeetsCriteria(raw json.RawMessage, payload domain.Payload) (bool, error) {
	if len(raw) == 0 {
		return false, nil
	}
	var c startDateCriteria
	if err := json.Unmarshal(raw, &c); err != nil {
		return false, apperrors.Wrap(err, apperrors.CodeCriteriaInvalid, "malformed criteria", http.StatusBadRequest)
	}
	status, err := payload.Int(domain.KeyStatusCode)
	if err != nil {
		return false, err
	}
	for _, opt := range c.Recipients {
		for _, code := range statusCriteriaCodes[opt] {
			if status == code {
				return true, nil
			}
		}
	}
	return false, nil
}

func (r *bookingEventStartDate) ReferenceTime(payload domain.Payload) (time.Time, error) {
	return payload.Time(domain.KeyTimeStart)
}

func (r *bookingEventStartDate) FindDueEvents(ctx context.Context, from, to time.Time, siteAllowsLegacy bool) ([]DueEvent, error) {
	signups, err := r.stores.Signups.SignupsStartingBetween(ctx, from, to, siteAllowsLegacy)
	if err != nil {
		return nil, err
	}
	events := make([]DueEvent, 0, len(signups))
	for _, s := range signups {
		payload := domain.Payload{
			domain.KeySeminarEventID: s.EventID,
			domain.KeySeminarID:      s.SeminarID,
			domain.KeyModuleID:       s.ModuleID,
			domain.KeyCourseID:       s.CourseID,
			domain.KeyUserID:         s.UserID,
			domain.KeySignupID:       s.ID,
			domain.KeyStatusCode:     s.StatusCode,
			domain.KeyTimeStart:      s.EventStart.Unix(),
			domain.KeyContextID:      s.ContextID,
			domain.KeyContextPath:    s.Path,
		}
		natural := extctx.Natural(s.ContextID, s.Path, extctx.LevelModule)
		events = append(events, DueEvent{
			Payload:       payload,
			Context:       natural.With(ComponentSeminar, AreaSeminarEvent, s.EventID),
			DedupeKey:     fmt.Sprintf("%s:%d:%d:%d", r.Key(), s.EventID, s.UserID, s.EventStart.Unix()),
			ReferenceTime: s.EventStart,
		})
	}
	return events, nil
}

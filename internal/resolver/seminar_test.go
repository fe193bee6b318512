package resolver_test

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"coursepulse.io/notifier/internal/domain"
	"coursepulse.io/notifier/internal/placeholder"
	"coursepulse.io/notifier/internal/resolver"
	"coursepulse.io/notifier/internal/testutil"
)

func bookingPayload() domain.Payload {
	return domain.Payload{
		domain.KeySeminarEventID: int64(9),
		domain.KeySeminarID:      int64(4),
		domain.KeyModuleID:       int64(201),
		domain.KeyCourseID:       int64(53),
		domain.KeyUserID:         int64(7),
		domain.KeySignupID:       int64(31),
		domain.KeyContextID:      int64(201),
		domain.KeyContextPath:    "/1/40/53/201",
	}
}

func TestExtendedContext(t *testing.T) {
	reg := newTestRegistry(t)
	res, err := reg.Get("seminar.booking_confirmed")
	require.NoError(t, err)

	ec, err := res.ExtendedContext(bookingPayload())
	require.NoError(t, err)

	require.Equal(t, int64(201), ec.ContextID)
	require.Equal(t, "/1/40/53/201", ec.Path)
	require.Equal(t, resolver.ComponentSeminar, ec.Component)
	require.Equal(t, resolver.AreaSeminarEvent, ec.Area)
	require.Equal(t, int64(9), ec.ItemID)
	require.False(t, ec.IsNatural())
}

func TestExtendedContextMissingKey(t *testing.T) {
	reg := newTestRegistry(t)
	res, err := reg.Get("seminar.booking_confirmed")
	require.NoError(t, err)

	payload := bookingPayload()
	delete(payload, domain.KeyContextPath)

	_, err = res.ExtendedContext(payload)
	require.Error(t, err)
	require.Contains(t, err.Error(), "context_path")
}

func TestIcalCriteria(t *testing.T) {
	reg := newTestRegistry(t)
	res, err := reg.Get("seminar.booking_confirmed")
	require.NoError(t, err)

	crit, ok := res.(resolver.AdditionalCriteriaResolver)
	require.True(t, ok)

	// Empty criteria are allowed and never exclude the event.
	require.NoError(t, crit.ValidateCriteria(nil))
	matched, err := crit.MeetsCriteria(nil, bookingPayload())
	require.NoError(t, err)
	require.True(t, matched)

	valid := json.RawMessage(`{"ical":["include_ical_attachment"]}`)
	require.NoError(t, crit.ValidateCriteria(valid))

	invalid := json.RawMessage(`{"ical":["include_everything"]}`)
	require.Error(t, crit.ValidateCriteria(invalid))

	att, ok := res.(resolver.AttachmentResolver)
	require.True(t, ok)
	require.True(t, att.WantsAttachments(valid))
	require.False(t, att.WantsAttachments(nil))
	require.False(t, att.WantsAttachments(json.RawMessage(`{"ical":[]}`)))
}

func TestSessionAttachments(t *testing.T) {
	fixture := testutil.NewDomainFixture()
	fixture.Seminars[4] = domain.Seminar{ID: 4, CourseID: 53, ModuleID: 201, Name: "Forklift safety"}
	start := time.Date(2026, 10, 5, 9, 0, 0, 0, time.UTC)
	fixture.Sessions[9] = []domain.Session{
		{ID: 1, EventID: 9, Start: start, Finish: start.Add(2 * time.Hour), Room: "Warehouse B"},
	}

	reg := resolver.NewRegistry()
	resolver.RegisterSeminarResolvers(reg, fixture.Stores(), placeholder.NewCache(0))
	res, err := reg.Get("seminar.booking_confirmed")
	require.NoError(t, err)
	att := res.(resolver.AttachmentResolver)

	files, err := att.Attachments(context.Background(), bookingPayload(), domain.User{ID: 7, Email: "learner@acme.test"})
	require.NoError(t, err)
	require.Len(t, files, 1)
	require.Equal(t, "seminar-event-9.ics", files[0].Name)
	require.Equal(t, "text/calendar", files[0].MIME)

	body := string(files[0].Content)
	require.Contains(t, body, "METHOD:REQUEST")
	require.Contains(t, body, "SUMMARY:Forklift safety")
	require.Contains(t, body, "DTSTART:20261005T090000Z")
	require.Contains(t, body, "mailto:learner@acme.test")
	if !strings.HasSuffix(body, "END:VCALENDAR\r\n") {
		t.Fatalf("calendar not terminated: %q", body[len(body)-30:])
	}
}

func TestSessionAttachmentsNoSessions(t *testing.T) {
	reg := newTestRegistry(t)
	res, err := reg.Get("seminar.booking_cancelled")
	require.NoError(t, err)
	att := res.(resolver.AttachmentResolver)

	files, err := att.Attachments(context.Background(), bookingPayload(), domain.User{ID: 7})
	require.NoError(t, err)
	require.Empty(t, files)
}

func TestStartDateCriteria(t *testing.T) {
	reg := newTestRegistry(t)
	res, err := reg.Get("seminar.booking_event_start_date")
	require.NoError(t, err)
	crit := res.(resolver.AdditionalCriteriaResolver)

	// Criteria are mandatory for the scheduled resolver.
	require.Error(t, crit.ValidateCriteria(nil))
	require.Error(t, crit.ValidateCriteria(json.RawMessage(`{"recipients":[]}`)))
	require.Error(t, crit.ValidateCriteria(json.RawMessage(`{"recipients":["status_enrolled"]}`)))
	require.NoError(t, crit.ValidateCriteria(json.RawMessage(`{"recipients":["status_booked","status_waitlisted"]}`)))

	payload := bookingPayload()
	payload[domain.KeyStatusCode] = domain.StatusBooked

	matched, err := crit.MeetsCriteria(json.RawMessage(`{"recipients":["status_booked"]}`), payload)
	require.NoError(t, err)
	require.True(t, matched)

	matched, err = crit.MeetsCriteria(json.RawMessage(`{"recipients":["status_waitlisted"]}`), payload)
	require.NoError(t, err)
	require.False(t, matched)

	// Pending requests cover all three request states.
	for _, code := range []int{domain.StatusRequested, domain.StatusRequestedRole, domain.StatusRequestedAdmin} {
		payload[domain.KeyStatusCode] = code
		matched, err = crit.MeetsCriteria(json.RawMessage(`{"recipients":["status_pending_requests"]}`), payload)
		require.NoError(t, err)
		require.True(t, matched, "status code %d", code)
	}

	// Missing criteria never match.
	matched, err = crit.MeetsCriteria(nil, payload)
	require.NoError(t, err)
	require.False(t, matched)
}

func TestFindDueEvents(t *testing.T) {
	fixture := testutil.NewDomainFixture()
	fixture.Seminars[4] = domain.Seminar{ID: 4, CourseID: 53, ModuleID: 201}
	fixture.Seminars[5] = domain.Seminar{ID: 5, CourseID: 53, ModuleID: 202, LegacyNotifications: true}
	fixture.Events[9] = domain.SeminarEvent{ID: 9, SeminarID: 4}
	fixture.Events[10] = domain.SeminarEvent{ID: 10, SeminarID: 5}

	inWindow := time.Date(2026, 10, 5, 9, 0, 0, 0, time.UTC)
	fixture.Sessions[9] = []domain.Session{{ID: 1, EventID: 9, Start: inWindow, Finish: inWindow.Add(time.Hour)}}
	fixture.Sessions[10] = []domain.Session{{ID: 2, EventID: 10, Start: inWindow, Finish: inWindow.Add(time.Hour)}}

	fixture.Signups[31] = domain.Signup{ID: 31, EventID: 9, UserID: 7, StatusCode: domain.StatusBooked}
	fixture.Signups[32] = domain.Signup{ID: 32, EventID: 10, UserID: 8, StatusCode: domain.StatusBooked}

	reg := resolver.NewRegistry()
	resolver.RegisterSeminarResolvers(reg, fixture.Stores(), placeholder.NewCache(0))
	scheduled := reg.Scheduled()
	require.Len(t, scheduled, 1)

	from := inWindow.Add(-time.Hour)
	to := inWindow.Add(time.Hour)

	// Legacy seminars are excluded while the site still allows legacy
	// notifications.
	due, err := scheduled[0].FindDueEvents(context.Background(), from, to, true)
	require.NoError(t, err)
	require.Len(t, due, 1)

	d := due[0]
	require.Equal(t, inWindow, d.ReferenceTime)
	require.Equal(t, "seminar.booking_event_start_date:9:7:"+strconv.FormatInt(inWindow.Unix(), 10), d.DedupeKey)
	require.Equal(t, resolver.ComponentSeminar, d.Context.Component)
	require.Equal(t, int64(9), d.Context.ItemID)

	gotStatus, err := d.Payload.Int(domain.KeyStatusCode)
	require.NoError(t, err)
	require.Equal(t, domain.StatusBooked, gotStatus)

	ref, err := scheduled[0].ReferenceTime(d.Payload)
	require.NoError(t, err)
	require.Equal(t, inWindow, ref)

	// Once the site disallows legacy, those seminars flow through here too.
	due, err = scheduled[0].FindDueEvents(context.Background(), from, to, false)
	require.NoError(t, err)
	require.Len(t, due, 2)
}

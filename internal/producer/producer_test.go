package producer_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"coursepulse.io/notifier/internal/domain"
	"coursepulse.io/notifier/internal/extctx"
	apperrors "coursepulse.io/notifier/internal/pkg/errors"
	"coursepulse.io/notifier/internal/placeholder"
	"coursepulse.io/notifier/internal/preference"
	"coursepulse.io/notifier/internal/producer"
	"coursepulse.io/notifier/internal/resolver"
	"coursepulse.io/notifier/internal/testutil"
)

type producerEnv struct {
	producer *producer.Producer
	events   *testutil.EventQueue
	prefs    *testutil.PreferenceStore
	fixture  *testutil.DomainFixture
}

func newEnv(t *testing.T, allowLegacy bool) *producerEnv {
	t.Helper()
	fixture := testutil.NewDomainFixture()
	fixture.Seminars[4] = domain.Seminar{ID: 4, CourseID: 53, ModuleID: 201, Name: "Forklift safety"}
	fixture.Seminars[5] = domain.Seminar{ID: 5, CourseID: 53, ModuleID: 202, LegacyNotifications: true}
	fixture.Events[9] = domain.SeminarEvent{ID: 9, SeminarID: 4}

	reg := resolver.NewRegistry()
	resolver.RegisterSeminarResolvers(reg, fixture.Stores(), placeholder.NewCache(0))

	prefs := testutil.NewPreferenceStore()
	loader := preference.NewLoader(prefs, reg)
	events := testutil.NewEventQueue()

	p := producer.New(events, reg, loader, fixture, testutil.NewCheckpoints(), allowLegacy, 24*time.Hour)
	return &producerEnv{producer: p, events: events, prefs: prefs, fixture: fixture}
}

func triggerPayload(seminarID int64) domain.Payload {
	return domain.Payload{
		domain.KeySeminarEventID: int64(9),
		domain.KeySeminarID:      seminarID,
		domain.KeyModuleID:       int64(201),
		domain.KeyCourseID:       int64(53),
		domain.KeyUserID:         int64(7),
		domain.KeySignupID:       int64(31),
		domain.KeyContextID:      int64(201),
		domain.KeyContextPath:    "/1/40/53/201",
	}
}

func TestTriggerEnqueues(t *testing.T) {
	env := newEnv(t, false)
	bg := context.Background()

	inserted, err := env.producer.Trigger(bg, "seminar.booking_confirmed", triggerPayload(4))
	require.NoError(t, err)
	require.True(t, inserted)

	n, err := env.events.Count(bg)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
}

func TestTriggerUnknownResolver(t *testing.T) {
	env := newEnv(t, false)

	_, err := env.producer.Trigger(context.Background(), "seminar.room_on_fire", triggerPayload(4))
	require.Error(t, err)
	appErr, ok := apperrors.IsAppError(err)
	require.True(t, ok)
	require.Equal(t, apperrors.CodeResolverUnknown, appErr.Code)
}

func TestTriggerMissingPayloadKey(t *testing.T) {
	env := newEnv(t, false)

	payload := triggerPayload(4)
	delete(payload, domain.KeyUserID)

	_, err := env.producer.Trigger(context.Background(), "seminar.booking_confirmed", payload)
	require.Error(t, err)
	appErr, ok := apperrors.IsAppError(err)
	require.True(t, ok)
	require.Equal(t, apperrors.CodePayloadKeyMissing, appErr.Code)

	n, err := env.events.Count(context.Background())
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestTriggerLegacySeminarSuppressed(t *testing.T) {
	env := newEnv(t, true)
	bg := context.Background()

	inserted, err := env.producer.Trigger(bg, "seminar.booking_confirmed", triggerPayload(5))
	require.NoError(t, err)
	require.False(t, inserted)

	n, err := env.events.Count(bg)
	require.NoError(t, err)
	require.Zero(t, n)

	// Non-legacy seminars on the same site still notify.
	inserted, err = env.producer.Trigger(bg, "seminar.booking_confirmed", triggerPayload(4))
	require.NoError(t, err)
	require.True(t, inserted)
}

func TestTriggerLegacyFlagIgnoredWhenSiteDisallows(t *testing.T) {
	env := newEnv(t, false)

	// The seminar-level flag alone never suppresses: the engine owns all
	// notifications once the site-wide legacy toggle is off.
	inserted, err := env.producer.Trigger(context.Background(), "seminar.booking_confirmed", triggerPayload(5))
	require.NoError(t, err)
	require.True(t, inserted)
}

func enableStartDate(t *testing.T, env *producerEnv, offsetSeconds int64) {
	t.Helper()
	offset := offsetSeconds
	enabled := true
	err := env.prefs.Create(context.Background(), &preference.Preference{
		ResolverKey:    "seminar.booking_event_start_date",
		Context:        extctx.System(),
		ScheduleOffset: &offset,
		Enabled:        &enabled,
	})
	require.NoError(t, err)
}

func TestScanEnqueuesUpcomingSignups(t *testing.T) {
	env := newEnv(t, false)
	bg := context.Background()

	start := time.Now().UTC().Add(36 * time.Hour)
	env.fixture.Sessions[9] = []domain.Session{{ID: 1, EventID: 9, Start: start, Finish: start.Add(time.Hour)}}
	env.fixture.Signups[31] = domain.Signup{ID: 31, EventID: 9, UserID: 7, StatusCode: domain.StatusBooked}

	// Two days before the event start.
	enableStartDate(t, env, -2*24*60*60)

	enqueued, err := env.producer.Scan(bg)
	require.NoError(t, err)
	require.Equal(t, 1, enqueued)

	rows, err := env.events.ClaimDue(bg, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "seminar.booking_event_start_date", rows[0].ResolverKey)

	userID, err := rows[0].Payload.Int64(domain.KeyUserID)
	require.NoError(t, err)
	require.Equal(t, int64(7), userID)
}

func TestScanIsIdempotentAcrossTicks(t *testing.T) {
	env := newEnv(t, false)
	bg := context.Background()

	start := time.Now().UTC().Add(36 * time.Hour)
	env.fixture.Sessions[9] = []domain.Session{{ID: 1, EventID: 9, Start: start, Finish: start.Add(time.Hour)}}
	env.fixture.Signups[31] = domain.Signup{ID: 31, EventID: 9, UserID: 7, StatusCode: domain.StatusBooked}
	enableStartDate(t, env, -2*24*60*60)

	enqueued, err := env.producer.Scan(bg)
	require.NoError(t, err)
	require.Equal(t, 1, enqueued)

	// The dedupe key pins the event even when windows overlap.
	enqueued, err = env.producer.Scan(bg)
	require.NoError(t, err)
	require.Zero(t, enqueued)

	n, err := env.events.Count(bg)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
}

func TestScanSkipsEventsOutsideWindow(t *testing.T) {
	env := newEnv(t, false)
	bg := context.Background()

	// Starting in ten days, the event stays out of a two-day-offset window.
	start := time.Now().UTC().Add(10 * 24 * time.Hour)
	env.fixture.Sessions[9] = []domain.Session{{ID: 1, EventID: 9, Start: start, Finish: start.Add(time.Hour)}}
	env.fixture.Signups[31] = domain.Signup{ID: 31, EventID: 9, UserID: 7, StatusCode: domain.StatusBooked}
	enableStartDate(t, env, -2*24*60*60)

	enqueued, err := env.producer.Scan(bg)
	require.NoError(t, err)
	require.Zero(t, enqueued)
}

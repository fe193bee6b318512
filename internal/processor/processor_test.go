package processor_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"coursepulse.io/notifier/internal/audit"
	"coursepulse.io/notifier/internal/delivery"
	"coursepulse.io/notifier/internal/domain"
	"coursepulse.io/notifier/internal/extctx"
	"coursepulse.io/notifier/internal/placeholder"
	"coursepulse.io/notifier/internal/preference"
	"coursepulse.io/notifier/internal/processor"
	"coursepulse.io/notifier/internal/queue"
	"coursepulse.io/notifier/internal/recipient"
	"coursepulse.io/notifier/internal/resolver"
	"coursepulse.io/notifier/internal/testutil"
)

type recordedEnqueuer struct {
	mu  sync.Mutex
	ids []int64
}

func (e *recordedEnqueuer) EnqueueDelivery(_ context.Context, messageID int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ids = append(e.ids, messageID)
	return nil
}

type popupStub struct{}

func (popupStub) InsertPopup(context.Context, int64, string, string, string, time.Time) error {
	return nil
}

type channelPrefs map[int64][]string

func (c channelPrefs) ChannelsFor(_ context.Context, userID int64) ([]string, error) {
	return c[userID], nil
}

type procEnv struct {
	processor *processor.Processor
	events    *testutil.EventQueue
	outbox    *testutil.Outbox
	audits    *testutil.AuditStore
	enqueuer  *recordedEnqueuer
	prefs     *testutil.PreferenceStore
	registry  *resolver.Registry
	fixture   *testutil.DomainFixture
	userChans channelPrefs
}

func newProcEnv(t *testing.T) *procEnv {
	t.Helper()
	fixture := testutil.NewDomainFixture()
	fixture.Users[7] = domain.User{ID: 7, FirstName: "Ann", LastName: "Priori", Email: "ann@acme.test"}
	fixture.Courses[53] = domain.Course{ID: 53, FullName: "Warehouse operations", ShortName: "WH101"}
	fixture.Seminars[4] = domain.Seminar{ID: 4, CourseID: 53, ModuleID: 201, Name: "Forklift safety"}
	fixture.Events[9] = domain.SeminarEvent{ID: 9, SeminarID: 4}
	start := time.Date(2026, 9, 14, 9, 0, 0, 0, time.UTC)
	fixture.Sessions[9] = []domain.Session{{ID: 1, EventID: 9, Start: start, Finish: start.Add(2 * time.Hour)}}
	fixture.Signups[31] = domain.Signup{ID: 31, EventID: 9, UserID: 7, StatusCode: domain.StatusBooked}

	reg := resolver.NewRegistry()
	resolver.RegisterSeminarResolvers(reg, fixture.Stores(), placeholder.NewCache(0))

	recipients := recipient.NewRegistry()
	recipient.RegisterBuiltIns(recipients, fixture.Stores(), nil)

	channels := delivery.NewRegistry()
	channels.Register(delivery.NewEmailChannel(delivery.LogSender{}))
	channels.Register(delivery.NewPopupChannel(popupStub{}))

	prefs := testutil.NewPreferenceStore()
	events := testutil.NewEventQueue()
	outbox := testutil.NewOutbox()
	audits := testutil.NewAuditStore()
	enqueuer := &recordedEnqueuer{}
	userChans := channelPrefs{}

	p := processor.New(
		testutil.PassthroughRunner{},
		events,
		outbox,
		reg,
		preference.NewLoader(prefs, reg),
		recipients,
		channels,
		userChans,
		audit.NewLogger(audits),
		enqueuer,
		50,
	)
	return &procEnv{
		processor: p,
		events:    events,
		outbox:    outbox,
		audits:    audits,
		enqueuer:  enqueuer,
		prefs:     prefs,
		registry:  reg,
		fixture:   fixture,
		userChans: userChans,
	}
}

func bookedPayload() domain.Payload {
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

func enqueueBooked(t *testing.T, env *procEnv, dedupeKey string) {
	t.Helper()
	inserted, err := env.events.Enqueue(context.Background(), &queue.EventRow{
		ResolverKey: "seminar.booking_confirmed",
		Payload:     bookedPayload(),
		DedupeKey:   dedupeKey,
	})
	require.NoError(t, err)
	require.True(t, inserted)
}

func moduleContext() extctx.Context {
	return extctx.Natural(201, "/1/40/53/201", extctx.LevelModule)
}

func TestProcessBookingConfirmed(t *testing.T) {
	env := newProcEnv(t)
	bg := context.Background()
	enqueueBooked(t, env, "evt-1")

	processed, err := env.processor.ProcessTick(bg)
	require.NoError(t, err)
	require.Equal(t, 1, processed)

	n, err := env.events.Count(bg)
	require.NoError(t, err)
	require.Zero(t, n)

	messages := env.outbox.All()
	require.Len(t, messages, 1)
	m := messages[0]
	require.Equal(t, int64(7), m.RecipientID)
	require.Equal(t, "ann@acme.test", m.RecipientEmail)
	require.Equal(t, "Seminar booking confirmation: Forklift safety, 14 September 2026", m.Subject)
	require.Contains(t, m.Body, "Course: Warehouse operations")
	require.Equal(t, []string{delivery.ChannelEmail, delivery.ChannelPopup}, m.Channels)
	require.Equal(t, []int64{m.ID}, env.enqueuer.ids)

	require.Len(t, env.audits.EventLogs, 1)
	entry := env.audits.EventLogs[0]
	require.Equal(t, "Booking confirmed for Ann Priori on 14 September 2026 in Warehouse operations", entry.LogLine)
	require.Equal(t, 1, entry.RecipientCount)
	require.Equal(t, 2, entry.ChannelCount)
	require.Zero(t, entry.PreferenceID)
}

func TestProcessSkipsDisabledPreference(t *testing.T) {
	env := newProcEnv(t)
	bg := context.Background()

	enabled := false
	require.NoError(t, env.prefs.Create(bg, &preference.Preference{
		ResolverKey: "seminar.booking_confirmed",
		Context:     moduleContext(),
		Enabled:     &enabled,
	}))

	enqueueBooked(t, env, "evt-1")
	processed, err := env.processor.ProcessTick(bg)
	require.NoError(t, err)
	require.Equal(t, 1, processed)

	require.Empty(t, env.outbox.All())
	require.Empty(t, env.audits.EventLogs)

	n, err := env.events.Count(bg)
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestProcessUsesOverrideFromAncestorContext(t *testing.T) {
	env := newProcEnv(t)
	bg := context.Background()

	// An override at the course context reaches events in its subtree.
	subject := "Your seat on [activity:name] is locked in"
	require.NoError(t, env.prefs.Create(bg, &preference.Preference{
		ResolverKey: "seminar.booking_confirmed",
		Context:     extctx.Natural(53, "/1/40/53", extctx.LevelCourse),
		Subject:     &subject,
	}))

	enqueueBooked(t, env, "evt-1")
	_, err := env.processor.ProcessTick(bg)
	require.NoError(t, err)

	messages := env.outbox.All()
	require.Len(t, messages, 1)
	require.Equal(t, "Your seat on Forklift safety is locked in", messages[0].Subject)

	// Body was not overridden, so the built-in text still applies.
	require.Contains(t, messages[0].Body, "This is to confirm")
}

func TestProcessSkipsSilencedResolver(t *testing.T) {
	env := newProcEnv(t)
	bg := context.Background()

	// Silenced at the course context, two levels above the event.
	env.registry.SetDisabled("seminar.booking_confirmed", 53, true)

	enqueueBooked(t, env, "evt-1")
	processed, err := env.processor.ProcessTick(bg)
	require.NoError(t, err)
	require.Equal(t, 1, processed)
	require.Empty(t, env.outbox.All())
}

func TestProcessRecordsFailureForOrphanedRow(t *testing.T) {
	env := newProcEnv(t)
	bg := context.Background()

	inserted, err := env.events.Enqueue(bg, &queue.EventRow{
		ResolverKey: "seminar.retired_event_kind",
		Payload:     bookedPayload(),
		DedupeKey:   "evt-1",
	})
	require.NoError(t, err)
	require.True(t, inserted)

	processed, err := env.processor.ProcessTick(bg)
	require.NoError(t, err)
	require.Zero(t, processed)

	rows, err := env.events.ClaimDue(bg, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, 1, rows[0].Attempts)
	require.Contains(t, rows[0].LastError, "retired_event_kind")
}

func TestProcessIdempotentAfterReplay(t *testing.T) {
	env := newProcEnv(t)
	bg := context.Background()

	enqueueBooked(t, env, "evt-1")
	_, err := env.processor.ProcessTick(bg)
	require.NoError(t, err)

	// The same event re-enqueued after a crash replays against the outbox
	// unique key and produces nothing new.
	enqueueBooked(t, env, "evt-1")
	_, err = env.processor.ProcessTick(bg)
	require.NoError(t, err)

	require.Len(t, env.outbox.All(), 1)
	require.Len(t, env.enqueuer.ids, 1)
}

func TestProcessHonorsPersonalChannelSelection(t *testing.T) {
	env := newProcEnv(t)
	env.userChans[7] = []string{delivery.ChannelPopup}
	bg := context.Background()

	enqueueBooked(t, env, "evt-1")
	_, err := env.processor.ProcessTick(bg)
	require.NoError(t, err)

	messages := env.outbox.All()
	require.Len(t, messages, 1)
	require.Equal(t, []string{delivery.ChannelPopup}, messages[0].Channels)
}

func TestProcessExternalRecipientGetsEmailOnly(t *testing.T) {
	env := newProcEnv(t)
	bg := context.Background()

	seminar := env.fixture.Seminars[4]
	seminar.ThirdPartyEmails = "booker@partner.test"
	env.fixture.Seminars[4] = seminar

	recipients := []string{recipient.KeySubject, recipient.KeyThirdParty}
	require.NoError(t, env.prefs.Create(bg, &preference.Preference{
		ResolverKey: "seminar.booking_confirmed",
		Context:     moduleContext(),
		Recipients:  recipients,
	}))

	enqueueBooked(t, env, "evt-1")
	_, err := env.processor.ProcessTick(bg)
	require.NoError(t, err)

	messages := env.outbox.All()
	require.Len(t, messages, 2)

	byEmail := make(map[string][]string)
	for _, m := range messages {
		byEmail[m.RecipientEmail] = m.Channels
	}
	require.Equal(t, []string{delivery.ChannelEmail, delivery.ChannelPopup}, byEmail["ann@acme.test"])
	require.Equal(t, []string{delivery.ChannelEmail}, byEmail["booker@partner.test"])
}

func startDatePayload(start time.Time) domain.Payload {
	p := bookedPayload()
	p[domain.KeyStatusCode] = int64(domain.StatusBooked)
	p[domain.KeyTimeStart] = start.Unix()
	return p
}

func enableStartDate(t *testing.T, env *procEnv, criteria string) {
	t.Helper()
	offset := int64(-2 * 24 * 60 * 60)
	enabled := true
	require.NoError(t, env.prefs.Create(context.Background(), &preference.Preference{
		ResolverKey:        "seminar.booking_event_start_date",
		Context:            extctx.System(),
		ScheduleOffset:     &offset,
		Enabled:            &enabled,
		AdditionalCriteria: json.RawMessage(criteria),
	}))
}

func TestProcessDefersScheduledEventUntilDue(t *testing.T) {
	env := newProcEnv(t)
	bg := context.Background()

	// Ten days out: well before the two-day reminder offset.
	start := time.Now().UTC().Add(10 * 24 * time.Hour)
	enableStartDate(t, env, `{"recipients":["status_booked"]}`)

	inserted, err := env.events.Enqueue(bg, &queue.EventRow{
		ResolverKey: "seminar.booking_event_start_date",
		Payload:     startDatePayload(start),
		DedupeKey:   "evt-1",
	})
	require.NoError(t, err)
	require.True(t, inserted)

	processed, err := env.processor.ProcessTick(bg)
	require.NoError(t, err)
	require.Zero(t, processed)
	require.Empty(t, env.outbox.All())

	// The row stays queued for a later tick.
	n, err := env.events.Count(bg)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
}

func TestProcessCriteriaFilterBlocksMismatchedState(t *testing.T) {
	env := newProcEnv(t)
	bg := context.Background()

	start := time.Now().UTC().Add(time.Hour)
	enableStartDate(t, env, `{"recipients":["status_waitlisted"]}`)

	inserted, err := env.events.Enqueue(bg, &queue.EventRow{
		ResolverKey: "seminar.booking_event_start_date",
		Payload:     startDatePayload(start),
		DedupeKey:   "evt-1",
	})
	require.NoError(t, err)
	require.True(t, inserted)

	processed, err := env.processor.ProcessTick(bg)
	require.NoError(t, err)
	require.Equal(t, 1, processed)
	require.Empty(t, env.outbox.All())

	n, err := env.events.Count(bg)
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestCleanupPurgesExhaustedRows(t *testing.T) {
	env := newProcEnv(t)
	bg := context.Background()

	inserted, err := env.events.Enqueue(bg, &queue.EventRow{
		ResolverKey: "seminar.retired_event_kind",
		Payload:     bookedPayload(),
		DedupeKey:   "evt-1",
	})
	require.NoError(t, err)
	require.True(t, inserted)

	for i := 0; i < 5; i++ {
		_, err := env.processor.ProcessTick(bg)
		require.NoError(t, err)
	}

	purged, err := env.processor.Cleanup(bg, 5, 0)
	require.NoError(t, err)
	require.Equal(t, int64(1), purged)

	n, err := env.events.Count(bg)
	require.NoError(t, err)
	require.Zero(t, n)
}

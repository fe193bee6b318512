package delivery

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"coursepulse.io/notifier/internal/audit"
	"coursepulse.io/notifier/internal/domain"
	"coursepulse.io/notifier/internal/queue"
	"coursepulse.io/notifier/internal/testutil"
)

type recordingSender struct {
	mu   sync.Mutex
	sent []string
	fail error
}

func (s *recordingSender) Send(_ context.Context, to, _, _, _ string, _ []Attachment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	s.sent = append(s.sent, to)
	return nil
}

type memoryPopups struct {
	mu     sync.Mutex
	byUser map[int64]int
}

func (p *memoryPopups) InsertPopup(_ context.Context, userID int64, _, _, _ string, _ time.Time) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.byUser == nil {
		p.byUser = make(map[int64]int)
	}
	p.byUser[userID]++
	return nil
}

type staticChannelPrefs map[int64][]string

func (s staticChannelPrefs) ChannelsFor(_ context.Context, userID int64) ([]string, error) {
	return s[userID], nil
}

func newTestRegistry(sender EmailSender, popups PopupStore) *Registry {
	reg := NewRegistry()
	reg.Register(NewEmailChannel(sender))
	reg.Register(NewPopupChannel(popups))
	reg.Register(LogChannel{})
	return reg
}

func pendingMessage(outbox *testutil.Outbox, t *testing.T, channels ...string) queue.Message {
	t.Helper()
	m := &queue.Message{
		EventDedupeKey: "evt-1",
		PreferenceID:   3,
		ResolverKey:    "seminar.booking_confirmed",
		RecipientID:    7,
		RecipientEmail: "ann@acme.test",
		Subject:        "You are booked",
		Body:           "See you there.",
		BodyFormat:     "plain",
		Channels:       channels,
	}
	inserted, err := outbox.Insert(context.Background(), m)
	require.NoError(t, err)
	require.True(t, inserted)
	return *m
}

func TestResolveChannels(t *testing.T) {
	reg := newTestRegistry(&recordingSender{}, &memoryPopups{})
	prefs := staticChannelPrefs{7: {ChannelPopup}}
	bg := context.Background()

	// Forced channels beat personal selection.
	channels, err := reg.ResolveChannels(bg, prefs, 7, false, []string{ChannelEmail}, []string{ChannelEmail, ChannelPopup})
	require.NoError(t, err)
	require.Equal(t, []string{ChannelEmail}, channels)

	// Personal selection beats resolver defaults.
	channels, err = reg.ResolveChannels(bg, prefs, 7, false, nil, []string{ChannelEmail})
	require.NoError(t, err)
	require.Equal(t, []string{ChannelPopup}, channels)

	// No personal selection falls back to defaults.
	channels, err = reg.ResolveChannels(bg, prefs, 8, false, nil, []string{ChannelEmail, ChannelPopup})
	require.NoError(t, err)
	require.Equal(t, []string{ChannelEmail, ChannelPopup}, channels)

	// External recipients only get email, whatever was configured.
	channels, err = reg.ResolveChannels(bg, prefs, domain.ExternalUserID, true, []string{ChannelPopup}, []string{ChannelPopup})
	require.NoError(t, err)
	require.Equal(t, []string{ChannelEmail}, channels)

	// Unregistered channels are dropped.
	channels, err = reg.ResolveChannels(bg, prefs, 8, false, []string{"telegraph", ChannelEmail}, nil)
	require.NoError(t, err)
	require.Equal(t, []string{ChannelEmail}, channels)
}

func TestDispatchMessageSendsAllChannels(t *testing.T) {
	sender := &recordingSender{}
	popups := &memoryPopups{}
	outbox := testutil.NewOutbox()
	auditStore := testutil.NewAuditStore()
	d := NewDispatcher(outbox, newTestRegistry(sender, popups), audit.NewLogger(auditStore), nil)

	m := pendingMessage(outbox, t, ChannelEmail, ChannelPopup)
	require.NoError(t, d.DispatchMessage(context.Background(), m.ID))

	require.Equal(t, []string{"ann@acme.test"}, sender.sent)
	require.Equal(t, 1, popups.byUser[7])

	final, err := outbox.ByID(context.Background(), m.ID)
	require.NoError(t, err)
	require.Equal(t, queue.StatusSent, final.Status)
	require.NotNil(t, final.SentAt)

	require.Len(t, auditStore.DeliveryLogs, 2)
	for _, entry := range auditStore.DeliveryLogs {
		require.True(t, entry.Success)
		require.Equal(t, m.ID, entry.MessageID)
	}
}

func TestDispatchMessageChannelFailure(t *testing.T) {
	sender := &recordingSender{fail: errors.New("relay down")}
	popups := &memoryPopups{}
	outbox := testutil.NewOutbox()
	auditStore := testutil.NewAuditStore()
	d := NewDispatcher(outbox, newTestRegistry(sender, popups), audit.NewLogger(auditStore), nil)

	m := pendingMessage(outbox, t, ChannelEmail, ChannelPopup)
	err := d.DispatchMessage(context.Background(), m.ID)
	require.Error(t, err)

	// The popup channel still delivered despite the email failure.
	require.Equal(t, 1, popups.byUser[7])

	final, lookupErr := outbox.ByID(context.Background(), m.ID)
	require.NoError(t, lookupErr)
	require.Equal(t, queue.StatusFailed, final.Status)
	require.Contains(t, final.Error, "relay down")

	require.Len(t, auditStore.DeliveryLogs, 2)
	require.False(t, auditStore.DeliveryLogs[0].Success)
	require.True(t, auditStore.DeliveryLogs[1].Success)
}

func TestDispatchMessageIdempotentOnFinalized(t *testing.T) {
	sender := &recordingSender{}
	popups := &memoryPopups{}
	outbox := testutil.NewOutbox()
	d := NewDispatcher(outbox, newTestRegistry(sender, popups), audit.NewLogger(testutil.NewAuditStore()), nil)

	m := pendingMessage(outbox, t, ChannelEmail)
	require.NoError(t, d.DispatchMessage(context.Background(), m.ID))
	require.Len(t, sender.sent, 1)

	// A redelivered job is a no-op.
	require.NoError(t, d.DispatchMessage(context.Background(), m.ID))
	require.Len(t, sender.sent, 1)

	// An unknown id is a no-op too.
	require.NoError(t, d.DispatchMessage(context.Background(), 9999))
}

func TestDispatchPending(t *testing.T) {
	sender := &recordingSender{}
	popups := &memoryPopups{}
	outbox := testutil.NewOutbox()
	d := NewDispatcher(outbox, newTestRegistry(sender, popups), audit.NewLogger(testutil.NewAuditStore()), nil)

	pendingMessage(outbox, t, ChannelEmail)
	second := &queue.Message{
		EventDedupeKey: "evt-2",
		RecipientID:    8,
		RecipientEmail: "bob@acme.test",
		Channels:       []string{ChannelEmail},
	}
	_, err := outbox.Insert(context.Background(), second)
	require.NoError(t, err)

	attempted, err := d.DispatchPending(context.Background(), 10)
	require.NoError(t, err)
	require.Equal(t, 2, attempted)
	require.Len(t, sender.sent, 2)
}

package resolver_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"coursepulse.io/notifier/internal/extctx"
	apperrors "coursepulse.io/notifier/internal/pkg/errors"
	"coursepulse.io/notifier/internal/placeholder"
	"coursepulse.io/notifier/internal/resolver"
	"coursepulse.io/notifier/internal/testutil"
)

func newTestRegistry(t *testing.T) *resolver.Registry {
	t.Helper()
	fixture := testutil.NewDomainFixture()
	reg := resolver.NewRegistry()
	resolver.RegisterSeminarResolvers(reg, fixture.Stores(), placeholder.NewCache(0))
	return reg
}

func TestRegistryGet(t *testing.T) {
	reg := newTestRegistry(t)

	res, err := reg.Get("seminar.booking_confirmed")
	require.NoError(t, err)
	require.Equal(t, "seminar.booking_confirmed", res.Key())

	_, err = reg.Get("seminar.no_such_thing")
	require.Error(t, err)
	appErr, ok := apperrors.IsAppError(err)
	require.True(t, ok)
	require.Equal(t, apperrors.CodeResolverUnknown, appErr.Code)
}

func TestRegistryScheduled(t *testing.T) {
	reg := newTestRegistry(t)

	scheduled := reg.Scheduled()
	require.Len(t, scheduled, 1)
	require.Equal(t, "seminar.booking_event_start_date", scheduled[0].Key())
}

func TestSupportsOffset(t *testing.T) {
	onEvent := []resolver.Schedule{resolver.ScheduleOnEvent}
	require.True(t, resolver.SupportsOffset(onEvent, 0))
	require.False(t, resolver.SupportsOffset(onEvent, -3600))
	require.False(t, resolver.SupportsOffset(onEvent, 3600))

	window := []resolver.Schedule{resolver.ScheduleBeforeEvent, resolver.ScheduleAfterEvent}
	require.False(t, resolver.SupportsOffset(window, 0))
	require.True(t, resolver.SupportsOffset(window, -3600))
	require.True(t, resolver.SupportsOffset(window, 86400))
}

func TestRegistryDisabledAt(t *testing.T) {
	reg := newTestRegistry(t)

	course := extctx.Natural(53, "/1/40/53", extctx.LevelCourse)
	module := extctx.Natural(201, "/1/40/53/201", extctx.LevelModule)
	extended := module.With(resolver.ComponentSeminar, resolver.AreaSeminarEvent, 9)

	const key = "seminar.booking_cancelled"
	require.False(t, reg.DisabledAt(key, extended))

	// Disabling at an ancestor silences the whole subtree.
	reg.SetDisabled(key, course.ContextID, true)
	require.True(t, reg.DisabledAt(key, extended))
	require.True(t, reg.DisabledAt(key, module))
	require.False(t, reg.DisabledAt(key, extctx.System()))

	reg.SetDisabled(key, course.ContextID, false)
	require.False(t, reg.DisabledAt(key, extended))

	// Disabling the extended context itself.
	reg.SetDisabled(key, extended.ContextID, true)
	require.True(t, reg.DisabledAt(key, extended))
}

func TestRegistryKeysComplete(t *testing.T) {
	reg := newTestRegistry(t)

	keys := reg.Keys()
	want := []string{
		"seminar.booking_confirmed",
		"seminar.booking_cancelled",
		"seminar.event_date_changed",
		"seminar.virtualmeeting_failed",
		"seminar.reservation_deadline_passed",
		"seminar.trainer_assigned",
		"seminar.trainer_unassigned",
		"seminar.booking_event_start_date",
	}
	require.ElementsMatch(t, want, keys)
}

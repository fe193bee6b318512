package extctx

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNaturalAndExtended(t *testing.T) {
	sys := System()
	require.True(t, sys.IsNatural())
	require.True(t, sys.IsSystem())

	course := Natural(53, "/1/40/53", LevelCourse)
	require.True(t, course.IsNatural())
	require.False(t, course.IsSystem())

	event := course.With("seminar", "seminar_event", 7)
	require.False(t, event.IsNatural())
	require.True(t, event.NaturalPart().IsNatural())
	require.Equal(t, course.ContextID, event.NaturalPart().ContextID)
}

func TestInscribedIn(t *testing.T) {
	sys := System()
	category := Natural(40, "/1/40", LevelCategory)
	course := Natural(53, "/1/40/53", LevelCourse)
	module := Natural(201, "/1/40/53/201", LevelModule)
	sibling := Natural(54, "/1/40/54", LevelCourse)

	require.True(t, module.InscribedIn(course))
	require.True(t, module.InscribedIn(category))
	require.True(t, module.InscribedIn(sys))
	require.True(t, course.InscribedIn(course), "a context is inscribed in itself")
	require.False(t, course.InscribedIn(sibling))
	require.False(t, course.InscribedIn(module))

	// Prefix matching is on path segments, not raw strings: /1/4 is not an
	// ancestor of /1/40.
	four := Natural(4, "/1/4", LevelCategory)
	forty := Natural(40, "/1/40", LevelCategory)
	require.False(t, forty.InscribedIn(four))

	// Extended contexts are never ancestors.
	extended := course.With("seminar", "seminar_event", 7)
	require.False(t, module.InscribedIn(extended))
	require.True(t, extended.InscribedIn(course))
}

func TestAncestorIDs(t *testing.T) {
	module := Natural(201, "/1/40/53/201", LevelModule)
	require.Equal(t, []int64{53, 40, 1}, module.AncestorIDs())

	// An extended context's nearest ancestor is its own natural part.
	extended := module.With("seminar", "seminar_event", 7)
	require.Equal(t, []int64{201, 53, 40, 1}, extended.AncestorIDs())

	require.Empty(t, System().AncestorIDs())
}

func TestValidate(t *testing.T) {
	testCases := []struct {
		name    string
		ctx     Context
		wantErr bool
	}{
		{name: "system ok", ctx: System()},
		{name: "course ok", ctx: Natural(53, "/1/40/53", LevelCourse)},
		{name: "extended ok", ctx: Natural(53, "/1/40/53", LevelCourse).With("seminar", "seminar_event", 7)},
		{name: "zero id", ctx: Context{Path: "/1"}, wantErr: true},
		{name: "path id mismatch", ctx: Natural(53, "/1/40/54", LevelCourse), wantErr: true},
		{name: "missing root", ctx: Natural(53, "/40/53", LevelCourse), wantErr: true},
		{name: "area without component", ctx: Context{ContextID: 1, Path: "/1", Area: "seminar_event"}, wantErr: true},
		{name: "item without component", ctx: Context{ContextID: 1, Path: "/1", ItemID: 3}, wantErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.ctx.Validate()
			if tc.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

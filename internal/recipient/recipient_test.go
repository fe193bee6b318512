package recipient_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"coursepulse.io/notifier/internal/domain"
	apperrors "coursepulse.io/notifier/internal/pkg/errors"
	"coursepulse.io/notifier/internal/recipient"
	"coursepulse.io/notifier/internal/testutil"
)

func seedFixture() *testutil.DomainFixture {
	f := testutil.NewDomainFixture()
	f.Users[7] = domain.User{ID: 7, FirstName: "Ann", LastName: "Able", Email: "ann@acme.test"}
	f.Users[11] = domain.User{ID: 11, FirstName: "Bob", LastName: "Boss", Email: "bob@acme.test"}
	f.Users[12] = domain.User{ID: 12, FirstName: "Cat", LastName: "Chief", Email: "cat@acme.test"}
	f.Users[20] = domain.User{ID: 20, FirstName: "Dee", LastName: "Deleted", Deleted: true}
	f.Managers[7] = []int64{11, 12}
	f.Seminars[4] = domain.Seminar{
		ID:               4,
		CourseID:         53,
		ModuleID:         201,
		ApprovalType:     domain.ApprovalManager,
		ThirdPartyEmails: "hr@acme.test, ops@acme.test,,hr@acme.test",
	}
	f.Events[9] = domain.SeminarEvent{ID: 9, SeminarID: 4, FacilitatorID: 12, ReservationManagerIDs: []int64{11, 20}}
	return f
}

func payload() domain.Payload {
	return domain.Payload{
		domain.KeySeminarEventID: int64(9),
		domain.KeySeminarID:      int64(4),
		domain.KeyCourseID:       int64(53),
		domain.KeyUserID:         int64(7),
	}
}

func newRegistry(f *testutil.DomainFixture, roleIDs ...int64) *recipient.Registry {
	reg := recipient.NewRegistry()
	recipient.RegisterBuiltIns(reg, f.Stores(), roleIDs)
	return reg
}

func TestSubjectResolver(t *testing.T) {
	reg := newRegistry(seedFixture())

	res, err := reg.Get(recipient.KeySubject)
	require.NoError(t, err)

	users, err := res.Resolve(context.Background(), payload())
	require.NoError(t, err)
	require.Len(t, users, 1)
	require.Equal(t, int64(7), users[0].ID)
}

func TestSubjectResolverMissingKey(t *testing.T) {
	reg := newRegistry(seedFixture())
	res, err := reg.Get(recipient.KeySubject)
	require.NoError(t, err)

	_, err = res.Resolve(context.Background(), domain.Payload{})
	require.Error(t, err)
	appErr, ok := apperrors.IsAppError(err)
	require.True(t, ok)
	require.Equal(t, apperrors.CodePayloadKeyMissing, appErr.Code)
}

func TestManagerResolver(t *testing.T) {
	reg := newRegistry(seedFixture())
	res, err := reg.Get(recipient.KeyManager)
	require.NoError(t, err)

	users, err := res.Resolve(context.Background(), payload())
	require.NoError(t, err)
	require.Len(t, users, 2)
}

func TestThirdPartyResolver(t *testing.T) {
	reg := newRegistry(seedFixture())
	res, err := reg.Get(recipient.KeyThirdParty)
	require.NoError(t, err)

	users, err := res.Resolve(context.Background(), payload())
	require.NoError(t, err)
	// Blank entries drop out; duplicates survive here and are collapsed by
	// Union.
	require.Len(t, users, 3)
	for _, u := range users {
		require.True(t, u.IsExternal())
		require.Equal(t, domain.ExternalUserID, u.ID)
	}
	require.Equal(t, "hr@acme.test", users[0].Email)
	require.Equal(t, "ops@acme.test", users[1].Email)
}

func TestNotifiableRolesResolver(t *testing.T) {
	f := seedFixture()
	f.RoleUsers[53] = map[int64][]int64{3: {11}, 4: {12, 20}}

	reg := newRegistry(f, 3, 4)
	res, err := reg.Get(recipient.KeyNotifiableRoles)
	require.NoError(t, err)

	users, err := res.Resolve(context.Background(), payload())
	require.NoError(t, err)
	// Deleted account 20 drops out.
	require.Len(t, users, 2)

	// No configured roles means nobody, not an error.
	empty := newRegistry(f)
	res, err = empty.Get(recipient.KeyNotifiableRoles)
	require.NoError(t, err)
	users, err = res.Resolve(context.Background(), payload())
	require.NoError(t, err)
	require.Empty(t, users)
}

func TestApproversResolver(t *testing.T) {
	f := seedFixture()
	f.RoleUsers[53] = map[int64][]int64{9: {12}}
	f.Admins = []int64{11}
	reg := newRegistry(f)
	res, err := reg.Get(recipient.KeyApprovers)
	require.NoError(t, err)

	cases := []struct {
		name         string
		approval     int
		approvalRole int64
		wantIDs      []int64
	}{
		{name: "none", approval: domain.ApprovalNone, wantIDs: nil},
		{name: "self", approval: domain.ApprovalSelf, wantIDs: nil},
		{name: "manager", approval: domain.ApprovalManager, wantIDs: []int64{11, 12}},
		{name: "role", approval: domain.ApprovalRole, approvalRole: 9, wantIDs: []int64{12}},
		{name: "admin", approval: domain.ApprovalAdmin, wantIDs: []int64{11, 12}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := f.Seminars[4]
			s.ApprovalType = tc.approval
			s.ApprovalRoleID = tc.approvalRole
			f.Seminars[4] = s

			users, err := res.Resolve(context.Background(), payload())
			require.NoError(t, err)
			var ids []int64
			for _, u := range users {
				ids = append(ids, u.ID)
			}
			require.ElementsMatch(t, tc.wantIDs, ids)
		})
	}
}

func TestReservationManagersResolver(t *testing.T) {
	reg := newRegistry(seedFixture())
	res, err := reg.Get(recipient.KeyReservationManagers)
	require.NoError(t, err)

	users, err := res.Resolve(context.Background(), payload())
	require.NoError(t, err)
	require.Len(t, users, 1)
	require.Equal(t, int64(11), users[0].ID)
}

func TestFacilitatorResolver(t *testing.T) {
	reg := newRegistry(seedFixture())
	res, err := reg.Get(recipient.KeyFacilitator)
	require.NoError(t, err)

	users, err := res.Resolve(context.Background(), payload())
	require.NoError(t, err)
	require.Len(t, users, 1)
	require.Equal(t, int64(12), users[0].ID)
}

func TestVirtualMeetingCreatorResolver(t *testing.T) {
	f := seedFixture()
	reg := newRegistry(f)
	res, err := reg.Get(recipient.KeyVirtualMeetingCreator)
	require.NoError(t, err)

	// Payload id wins over the event record.
	p := payload()
	p[domain.KeyCreatorID] = int64(11)
	users, err := res.Resolve(context.Background(), p)
	require.NoError(t, err)
	require.Len(t, users, 1)
	require.Equal(t, int64(11), users[0].ID)

	// Without a payload id the event record decides; this event has none.
	users, err = res.Resolve(context.Background(), payload())
	require.NoError(t, err)
	require.Empty(t, users)
}

func TestTrainerResolver(t *testing.T) {
	f := seedFixture()
	f.Trainers[9] = []int64{11, 12}
	reg := newRegistry(f)
	res, err := reg.Get(recipient.KeyTrainer)
	require.NoError(t, err)

	// Named trainer from the payload.
	p := payload()
	p[domain.KeyTrainerID] = int64(12)
	users, err := res.Resolve(context.Background(), p)
	require.NoError(t, err)
	require.Len(t, users, 1)
	require.Equal(t, int64(12), users[0].ID)

	// Fallback to the full roster.
	users, err = res.Resolve(context.Background(), payload())
	require.NoError(t, err)
	require.Len(t, users, 2)
}

func TestUnionDedupes(t *testing.T) {
	f := seedFixture()
	// Subject's manager 11 also holds a reservation; third-party repeats an
	// address.
	reg := newRegistry(f)

	users, err := reg.Union(context.Background(),
		[]string{recipient.KeySubject, recipient.KeyManager, recipient.KeyReservationManagers, recipient.KeyThirdParty},
		payload())
	require.NoError(t, err)

	var ids []int64
	var emails []string
	for _, u := range users {
		if u.IsExternal() {
			emails = append(emails, u.Email)
		} else {
			ids = append(ids, u.ID)
		}
	}
	require.Equal(t, []int64{7, 11, 12}, ids)
	require.Equal(t, []string{"hr@acme.test", "ops@acme.test"}, emails)
}

func TestUnionUnknownKey(t *testing.T) {
	reg := newRegistry(seedFixture())

	_, err := reg.Union(context.Background(), []string{"everyone_ever"}, payload())
	require.Error(t, err)
	appErr, ok := apperrors.IsAppError(err)
	require.True(t, ok)
	require.Equal(t, apperrors.CodeRecipientUnknown, appErr.Code)
}

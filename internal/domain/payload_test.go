package domain

import (
	"testing"

	"github.com/stretchr/testify/require"

	apperrors "coursepulse.io/notifier/internal/pkg/errors"
)

func TestPayloadJSONRoundTrip(t *testing.T) {
	p := Payload{
		KeySeminarEventID: int64(42),
		KeyUserID:         int64(7),
		KeyStatusCode:     StatusBooked,
		KeyManagerIDs:     []int64{3, 4},
	}

	raw, err := p.ToJSON()
	require.NoError(t, err)

	decoded, err := PayloadFromJSON(raw)
	require.NoError(t, err)

	eventID, err := decoded.Int64(KeySeminarEventID)
	require.NoError(t, err)
	require.Equal(t, int64(42), eventID)

	status, err := decoded.Int(KeyStatusCode)
	require.NoError(t, err)
	require.Equal(t, StatusBooked, status)

	managers, err := decoded.Int64Slice(KeyManagerIDs)
	require.NoError(t, err)
	require.Equal(t, []int64{3, 4}, managers)
}

func TestPayloadMissingKeyFailsLoud(t *testing.T) {
	p := Payload{KeyUserID: int64(7)}

	_, err := p.Int64(KeySeminarEventID)
	require.Error(t, err)

	appErr, ok := apperrors.IsAppError(err)
	require.True(t, ok)
	require.Equal(t, apperrors.CodePayloadKeyMissing, appErr.Code)
	require.Contains(t, appErr.Message, "seminar_event_id")
}

func TestPayloadTime(t *testing.T) {
	p := Payload{KeyTimeStart: int64(1700000000)}
	ts, err := p.Time(KeyTimeStart)
	require.NoError(t, err)
	require.Equal(t, int64(1700000000), ts.Unix())
}

func TestUserFullName(t *testing.T) {
	require.Equal(t, "Ada Lovelace", User{FirstName: "Ada", LastName: "Lovelace"}.FullName())
	require.Equal(t, "Ada", User{FirstName: "Ada"}.FullName())
	require.Equal(t, "Lovelace", User{LastName: "Lovelace"}.FullName())
}

func TestVirtualUser(t *testing.T) {
	u := VirtualUser("external@example.com")
	require.True(t, u.IsExternal())
	require.Equal(t, ExternalUserID, u.ID)
	require.Equal(t, "external@example.com", u.Email)
}

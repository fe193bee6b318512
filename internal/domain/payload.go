package domain

import (
	"encoding/json"
	"net/http"
	"time"

	apperrors "coursepulse.io/notifier/internal/pkg/errors"
)

// Well-known payload keys shared by the seminar resolvers.
const (
	KeySeminarEventID = "seminar_event_id"
	KeySeminarID      = "seminar_id"
	KeyModuleID       = "module_id"
	KeyCourseID       = "course_id"
	KeyUserID         = "user_id"
	KeySignupID       = "signup_id"
	KeyStatusCode     = "status_code"
	KeyTimeStart      = "time_start"
	KeyTrainerID      = "trainer_id"
	KeyManagerIDs     = "manager_ids"
	KeyCreatorID      = "creator_id"
	KeyContextID      = "context_id"
	KeyContextPath    = "context_path"
)

// Payload is the JSON event payload carried by a notifiable event queue row.
// Values survive a JSON round trip, so numbers come back as float64; typed
// getters normalize that and fail loud on missing keys, which is always a
// producer programming error, never a runtime transient.
type Payload map[string]interface{}

// ToJSON converts the payload to JSON bytes.
func (p Payload) ToJSON() ([]byte, error) {
	return json.Marshal(p)
}

// PayloadFromJSON decodes queue row bytes back into a payload.
func PayloadFromJSON(raw []byte) (Payload, error) {
	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInternalError, "decode event payload", http.StatusInternalServerError)
	}
	return p, nil
}

// Int64 returns the named key as an integer id.
func (p Payload) Int64(key string) (int64, error) {
	v, ok := p[key]
	if !ok {
		return 0, missingKey(key)
	}
	switch n := v.(type) {
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case float64:
		return int64(n), nil
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, missingKey(key)
		}
		return i, nil
	default:
		return 0, missingKey(key)
	}
}

// Int returns the named key as an int.
func (p Payload) Int(key string) (int, error) {
	n, err := p.Int64(key)
	return int(n), err
}

// String returns the named key as a string.
func (p Payload) String(key string) (string, error) {
	v, ok := p[key]
	if !ok {
		return "", missingKey(key)
	}
	s, ok := v.(string)
	if !ok {
		return "", missingKey(key)
	}
	return s, nil
}

// Time returns the named key as a unix-seconds timestamp.
func (p Payload) Time(key string) (time.Time, error) {
	n, err := p.Int64(key)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(n, 0).UTC(), nil
}

// Int64Slice returns the named key as a list of ids.
func (p Payload) Int64Slice(key string) ([]int64, error) {
	v, ok := p[key]
	if !ok {
		return nil, missingKey(key)
	}
	switch vs := v.(type) {
	case []int64:
		return vs, nil
	case []interface{}:
		out := make([]int64, 0, len(vs))
		for _, item := range vs {
			switch n := item.(type) {
			case int64:
				out = append(out, n)
			case float64:
				out = append(out, int64(n))
			default:
				return nil, missingKey(key)
			}
		}
		return out, nil
	default:
		return nil, missingKey(key)
	}
}

// Has reports key presence without type checks.
func (p Payload) Has(key string) bool {
	_, ok := p[key]
	return ok
}

func missingKey(key string) error {
	return apperrors.BadRequest(apperrors.CodePayloadKeyMissing, "Missing "+key).
		WithParams(map[string]interface{}{"key": key})
}

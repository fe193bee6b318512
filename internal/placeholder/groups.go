package placeholder

import (
	"context"
	"fmt"
	"time"

	"coursepulse.io/notifier/internal/domain"
)

const (
	dateLayout = "2 January 2006"
	timeLayout = "15:04"
)

// valueGroup is the shared hydrated form of the built-in groups.
type valueGroup struct {
	order  []string
	values map[string]string
}

func (g *valueGroup) Options() []string { return g.order }

func (g *valueGroup) Get(option string) (string, bool) {
	v, ok := g.values[option]
	return v, ok
}

func newValueGroup(pairs ...[2]string) *valueGroup {
	g := &valueGroup{values: make(map[string]string, len(pairs))}
	for _, p := range pairs {
		g.order = append(g.order, p[0])
		g.values[p[0]] = p[1]
	}
	return g
}

// EventFromID hydrates the "event" group for a seminar event. A deleted
// event degrades: date/time options render the unknown sentinels and text
// options render empty.
func EventFromID(ctx context.Context, cache *Cache, stores domain.Stores, eventID int64) (Group, error) {
	return cache.GetOrLoad(Key("event", eventID), func() (Group, error) {
		event, err := stores.Seminars.EventByID(ctx, eventID)
		if err != nil {
			return nil, err
		}
		if event == nil {
			return newValueGroup(
				[2]string{"name", ""},
				[2]string{"start_date", UnknownDate},
				[2]string{"start_time", UnknownTime},
				[2]string{"finish_date", UnknownDate},
				[2]string{"finish_time", UnknownTime},
				[2]string{"duration", ""},
				[2]string{"room", ""},
				[2]string{"session_count", "0"},
			), nil
		}

		seminar, err := stores.Seminars.Seminar(ctx, event.SeminarID)
		if err != nil {
			return nil, err
		}
		sessions, err := stores.Seminars.SessionsOf(ctx, eventID)
		if err != nil {
			return nil, err
		}

		name := ""
		if seminar != nil {
			name = seminar.Name
		}

		startDate, startTime := UnknownDate, UnknownTime
		finishDate, finishTime := UnknownDate, UnknownTime
		duration, room := "", ""
		if len(sessions) > 0 {
			first := sessions[0]
			last := sessions[len(sessions)-1]
			startDate = first.Start.Format(dateLayout)
			startTime = first.Start.Format(timeLayout)
			finishDate = last.Finish.Format(dateLayout)
			finishTime = last.Finish.Format(timeLayout)
			duration = formatDuration(last.Finish.Sub(first.Start))
			room = first.Room
		}

		return newValueGroup(
			[2]string{"name", name},
			[2]string{"start_date", startDate},
			[2]string{"start_time", startTime},
			[2]string{"finish_date", finishDate},
			[2]string{"finish_time", finishTime},
			[2]string{"duration", duration},
			[2]string{"room", room},
			[2]string{"session_count", fmt.Sprintf("%d", len(sessions))},
		), nil
	})
}

// CourseFromID hydrates the "course" group.
func CourseFromID(ctx context.Context, cache *Cache, stores domain.Stores, courseID int64) (Group, error) {
	return cache.GetOrLoad(Key("course", courseID), func() (Group, error) {
		course, err := stores.Seminars.Course(ctx, courseID)
		if err != nil {
			return nil, err
		}
		if course == nil {
			return newValueGroup(
				[2]string{"full_name", ""},
				[2]string{"short_name", ""},
			), nil
		}
		return newValueGroup(
			[2]string{"full_name", course.FullName},
			[2]string{"short_name", course.ShortName},
		), nil
	})
}

// ActivityFromSeminarID hydrates the "activity" group for the seminar
// course-module.
func ActivityFromSeminarID(ctx context.Context, cache *Cache, stores domain.Stores, seminarID int64) (Group, error) {
	return cache.GetOrLoad(Key("activity", seminarID), func() (Group, error) {
		seminar, err := stores.Seminars.Seminar(ctx, seminarID)
		if err != nil {
			return nil, err
		}
		if seminar == nil {
			return newValueGroup(
				[2]string{"name", ""},
				[2]string{"intro", ""},
			), nil
		}
		return newValueGroup(
			[2]string{"name", seminar.Name},
			[2]string{"intro", seminar.Intro},
		), nil
	})
}

// UserFromID hydrates a user group ("subject", "recipient", ...). External
// virtual users hydrate from their synthesized record without a store read.
func UserFromID(ctx context.Context, cache *Cache, stores domain.Stores, userID int64) (Group, error) {
	return cache.GetOrLoad(Key("user", userID), func() (Group, error) {
		user, err := stores.Users.User(ctx, userID)
		if err != nil {
			return nil, err
		}
		if user == nil {
			return newValueGroup(
				[2]string{"first_name", ""},
				[2]string{"last_name", ""},
				[2]string{"full_name", ""},
				[2]string{"email", ""},
			), nil
		}
		return userGroup(*user), nil
	})
}

// UserFromRecord hydrates a user group from an in-memory record, used for
// virtual external recipients that have no account row.
func UserFromRecord(user domain.User) Group {
	return userGroup(user)
}

func userGroup(user domain.User) Group {
	return newValueGroup(
		[2]string{"first_name", user.FirstName},
		[2]string{"last_name", user.LastName},
		[2]string{"full_name", user.FullName()},
		[2]string{"email", user.Email},
	)
}

// SignupFromEventAndUser hydrates the personalized "signup" group keyed by
// (event id, viewing user id).
func SignupFromEventAndUser(ctx context.Context, cache *Cache, stores domain.Stores, eventID, userID int64) (Group, error) {
	return cache.GetOrLoad(Key("signup", eventID, userID), func() (Group, error) {
		signup, err := stores.Signups.SignupOf(ctx, eventID, userID)
		if err != nil {
			return nil, err
		}
		if signup == nil {
			return newValueGroup(
				[2]string{"cost", ""},
				[2]string{"status", ""},
				[2]string{"booked_date", UnknownDate},
			), nil
		}
		bookedDate := UnknownDate
		if !signup.BookedAt.IsZero() {
			bookedDate = signup.BookedAt.Format(dateLayout)
		}
		return newValueGroup(
			[2]string{"cost", signup.Cost},
			[2]string{"status", statusLabel(signup.StatusCode)},
			[2]string{"booked_date", bookedDate},
		), nil
	})
}

func statusLabel(code int) string {
	switch code {
	case domain.StatusBooked:
		return "Booked"
	case domain.StatusWaitlisted:
		return "Wait-listed"
	case domain.StatusUserCancelled:
		return "Cancelled"
	case domain.StatusRequested, domain.StatusRequestedRole, domain.StatusRequestedAdmin:
		return "Pending approval"
	default:
		return fmt.Sprintf("Status %d", code)
	}
}

func formatDuration(d time.Duration) string {
	if d <= 0 {
		return ""
	}
	d = d.Round(time.Minute)
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	switch {
	case h == 0:
		return fmt.Sprintf("%d minutes", m)
	case m == 0:
		return fmt.Sprintf("%d hours", h)
	default:
		return fmt.Sprintf("%d hours %d minutes", h, m)
	}
}

// Package domain holds the read models of the seminar booking domain that
// the notification engine consumes, plus the typed event payloads flowing
// through the notifiable event queue. The engine never writes these
// entities; stores expose read-only lookups.
package domain

import (
	"context"
	"time"
)

// ExternalUserID is the sentinel id carried by virtual recipients that have
// no account (e.g. third-party email addresses configured on a seminar).
const ExternalUserID int64 = -1

// Signup status codes, mirroring the booking subsystem's state machine.
const (
	StatusUserCancelled  = 10
	StatusWaitlisted     = 60
	StatusRequested      = 40
	StatusRequestedRole  = 44
	StatusRequestedAdmin = 45
	StatusBooked         = 70
)

// Seminar approval types.
const (
	ApprovalNone    = 0
	ApprovalSelf    = 1
	ApprovalManager = 4
	ApprovalRole    = 2
	ApprovalAdmin   = 8
)

// User is a booking-system account.
type User struct {
	ID        int64
	FirstName string
	LastName  string
	Email     string
	Deleted   bool
}

// FullName joins first and last name.
func (u User) FullName() string {
	switch {
	case u.FirstName == "":
		return u.LastName
	case u.LastName == "":
		return u.FirstName
	default:
		return u.FirstName + " " + u.LastName
	}
}

// VirtualUser synthesizes a pseudo-user for non-account recipients. ID is
// always ExternalUserID.
func VirtualUser(email string) User {
	return User{ID: ExternalUserID, Email: email}
}

// IsExternal reports whether the user is a virtual external recipient.
func (u User) IsExternal() bool {
	return u.ID == ExternalUserID
}

// Seminar is a booking activity inside a course.
type Seminar struct {
	ID       int64
	CourseID int64
	ModuleID int64 // course-module instance id; the natural context node
	Name     string
	Intro    string

	// LegacyNotifications marks the seminar as served by the legacy
	// notification system. Mutually exclusive with this engine.
	LegacyNotifications bool

	ApprovalType     int
	ApprovalRoleID   int64
	ThirdPartyEmails string // comma-separated, may be empty
}

// SeminarEvent is one scheduled occurrence of a seminar with sessions.
type SeminarEvent struct {
	ID        int64
	SeminarID int64
	Cancelled bool

	// FacilitatorID and VirtualMeetingCreatorID are optional single
	// assignees; zero means unset.
	FacilitatorID           int64
	VirtualMeetingCreatorID int64

	// ReservationManagerIDs hold manager reservations against the event.
	ReservationManagerIDs []int64

	// ReservationDeadline is when unconfirmed reservations lapse.
	ReservationDeadline time.Time
}

// Session is a single dated block of a seminar event.
type Session struct {
	ID       int64
	EventID  int64
	Start    time.Time
	Finish   time.Time
	Timezone string
	Room     string
}

// Signup is one user's booking against a seminar event.
type Signup struct {
	ID         int64
	EventID    int64
	UserID     int64
	StatusCode int
	Archived   bool
	Cost       string
	Discount   string
	BookedAt   time.Time
}

// Course is the owning course of a seminar.
type Course struct {
	ID        int64
	FullName  string
	ShortName string
}

// UserStore looks up accounts.
type UserStore interface {
	// User returns the account, or nil when it does not exist or is deleted.
	User(ctx context.Context, id int64) (*User, error)
	UsersByIDs(ctx context.Context, ids []int64) ([]User, error)
}

// SeminarStore looks up seminars, events and sessions.
type SeminarStore interface {
	Seminar(ctx context.Context, id int64) (*Seminar, error)
	Course(ctx context.Context, id int64) (*Course, error)

	// EventByID returns the seminar event, or nil when deleted.
	EventByID(ctx context.Context, id int64) (*SeminarEvent, error)

	// SessionsOf returns the event's sessions ordered by start time.
	SessionsOf(ctx context.Context, eventID int64) ([]Session, error)

	// EarliestSessionStart returns the reference time of the event, or the
	// zero time when the event has no sessions.
	EarliestSessionStart(ctx context.Context, eventID int64) (time.Time, error)
}

// SignupStore looks up bookings.
type SignupStore interface {
	SignupByID(ctx context.Context, id int64) (*Signup, error)
	SignupOf(ctx context.Context, eventID, userID int64) (*Signup, error)
	SignupsByEvent(ctx context.Context, eventID int64) ([]Signup, error)

	// SignupsStartingBetween returns non-archived signups whose event's
	// earliest session start falls in [from, to). Seminars using legacy
	// notifications are excluded when siteAllowsLegacy is true.
	SignupsStartingBetween(ctx context.Context, from, to time.Time, siteAllowsLegacy bool) ([]ScheduledSignup, error)
}

// ScheduledSignup is the scan projection for before/after-event resolvers.
type ScheduledSignup struct {
	Signup
	SeminarID  int64
	CourseID   int64
	ModuleID   int64
	ContextID  int64
	Path       string
	EventStart time.Time
}

// RoleStore looks up role holders.
type RoleStore interface {
	// UsersWithRoleInCourse intersects the given role ids with anyone
	// holding one of them in the course, regardless of enrolment status.
	UsersWithRoleInCourse(ctx context.Context, roleIDs []int64, courseID int64) ([]int64, error)

	// TrainersOf returns user ids assigned as trainers on the event.
	TrainersOf(ctx context.Context, eventID int64) ([]int64, error)
}

// JobStore looks up job assignments for approval chains.
type JobStore interface {
	// ManagersOf returns all manager user ids of the given user.
	ManagersOf(ctx context.Context, userID int64) ([]int64, error)

	// SiteAdmins returns the site administrator user ids.
	SiteAdmins(ctx context.Context) ([]int64, error)
}

// Stores bundles the read-only domain lookups the engine consumes.
type Stores struct {
	Users    UserStore
	Seminars SeminarStore
	Signups  SignupStore
	Roles    RoleStore
	Jobs     JobStore
}

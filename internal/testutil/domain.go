// Package testutil provides in-memory fakes of the engine's store
// interfaces for unit tests. The fakes are deliberately dependency-free and
// keep data in plain maps guarded by a mutex.
package testutil

import (
	"context"
	"sort"
	"sync"
	"time"

	"coursepulse.io/notifier/internal/domain"
)

// DomainFixture is an in-memory seminar domain backing all read stores.
type DomainFixture struct {
	mu sync.Mutex

	Users     map[int64]domain.User
	Seminars  map[int64]domain.Seminar
	Courses   map[int64]domain.Course
	Events    map[int64]domain.SeminarEvent
	Sessions  map[int64][]domain.Session // by event id
	Signups   map[int64]domain.Signup
	Trainers  map[int64][]int64          // event id → trainer user ids
	RoleUsers map[int64]map[int64][]int64 // course id → role id → user ids
	Managers  map[int64][]int64          // user id → manager ids
	Admins    []int64
}

// NewDomainFixture creates an empty fixture.
func NewDomainFixture() *DomainFixture {
	return &DomainFixture{
		Users:     make(map[int64]domain.User),
		Seminars:  make(map[int64]domain.Seminar),
		Courses:   make(map[int64]domain.Course),
		Events:    make(map[int64]domain.SeminarEvent),
		Sessions:  make(map[int64][]domain.Session),
		Signups:   make(map[int64]domain.Signup),
		Trainers:  make(map[int64][]int64),
		RoleUsers: make(map[int64]map[int64][]int64),
		Managers:  make(map[int64][]int64),
	}
}

// Stores bundles the fixture behind the domain store interfaces.
func (f *DomainFixture) Stores() domain.Stores {
	return domain.Stores{
		Users:    f,
		Seminars: f,
		Signups:  f,
		Roles:    f,
		Jobs:     f,
	}
}

// User implements domain.UserStore.
func (f *DomainFixture) User(_ context.Context, id int64) (*domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.Users[id]
	if !ok || u.Deleted {
		return nil, nil
	}
	return &u, nil
}

// UsersByIDs implements domain.UserStore.
func (f *DomainFixture) UsersByIDs(_ context.Context, ids []int64) ([]domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.User, 0, len(ids))
	for _, id := range ids {
		if u, ok := f.Users[id]; ok && !u.Deleted {
			out = append(out, u)
		}
	}
	return out, nil
}

// Seminar implements domain.SeminarStore.
func (f *DomainFixture) Seminar(_ context.Context, id int64) (*domain.Seminar, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.Seminars[id]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

// Course implements domain.SeminarStore.
func (f *DomainFixture) Course(_ context.Context, id int64) (*domain.Course, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.Courses[id]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

// EventByID implements domain.SeminarStore.
func (f *DomainFixture) EventByID(_ context.Context, id int64) (*domain.SeminarEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.Events[id]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

// SessionsOf implements domain.SeminarStore.
func (f *DomainFixture) SessionsOf(_ context.Context, eventID int64) ([]domain.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sessions := append([]domain.Session(nil), f.Sessions[eventID]...)
	sort.Slice(sessions, func(i, j int) bool { return sessions[i].Start.Before(sessions[j].Start) })
	return sessions, nil
}

// EarliestSessionStart implements domain.SeminarStore.
func (f *DomainFixture) EarliestSessionStart(ctx context.Context, eventID int64) (time.Time, error) {
	sessions, err := f.SessionsOf(ctx, eventID)
	if err != nil || len(sessions) == 0 {
		return time.Time{}, err
	}
	return sessions[0].Start, nil
}

// SignupByID implements domain.SignupStore.
func (f *DomainFixture) SignupByID(_ context.Context, id int64) (*domain.Signup, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.Signups[id]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

// SignupOf implements domain.SignupStore.
func (f *DomainFixture) SignupOf(_ context.Context, eventID, userID int64) (*domain.Signup, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.Signups {
		if s.EventID == eventID && s.UserID == userID {
			out := s
			return &out, nil
		}
	}
	return nil, nil
}

// SignupsByEvent implements domain.SignupStore.
func (f *DomainFixture) SignupsByEvent(_ context.Context, eventID int64) ([]domain.Signup, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Signup
	for _, s := range f.Signups {
		if s.EventID == eventID {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// SignupsStartingBetween implements domain.SignupStore.
func (f *DomainFixture) SignupsStartingBetween(ctx context.Context, from, to time.Time, siteAllowsLegacy bool) ([]domain.ScheduledSignup, error) {
	f.mu.Lock()
	signups := make([]domain.Signup, 0, len(f.Signups))
	for _, s := range f.Signups {
		signups = append(signups, s)
	}
	f.mu.Unlock()

	sort.Slice(signups, func(i, j int) bool { return signups[i].ID < signups[j].ID })

	var out []domain.ScheduledSignup
	for _, s := range signups {
		if s.Archived {
			continue
		}
		start, err := f.EarliestSessionStart(ctx, s.EventID)
		if err != nil || start.IsZero() {
			continue
		}
		if start.Before(from) || !start.Before(to) {
			continue
		}

		f.mu.Lock()
		event, okEvent := f.Events[s.EventID]
		var seminar domain.Seminar
		okSeminar := false
		if okEvent {
			seminar, okSeminar = f.Seminars[event.SeminarID]
		}
		f.mu.Unlock()
		if !okEvent || !okSeminar {
			continue
		}
		if siteAllowsLegacy && seminar.LegacyNotifications {
			continue
		}

		out = append(out, domain.ScheduledSignup{
			Signup:     s,
			SeminarID:  seminar.ID,
			CourseID:   seminar.CourseID,
			ModuleID:   seminar.ModuleID,
			ContextID:  seminar.ModuleID,
			Path:       modulePath(seminar),
			EventStart: start,
		})
	}
	return out, nil
}

// modulePath fabricates a believable context path for fixture seminars:
// system → category 40 → course → module.
func modulePath(s domain.Seminar) string {
	return contextPath(s.CourseID, s.ModuleID)
}

func contextPath(courseID, moduleID int64) string {
	return "/1/40/" + itoa(courseID+1000) + "/" + itoa(moduleID)
}

func itoa(n int64) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}

// UsersWithRoleInCourse implements domain.RoleStore.
func (f *DomainFixture) UsersWithRoleInCourse(_ context.Context, roleIDs []int64, courseID int64) ([]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	byRole := f.RoleUsers[courseID]
	seen := make(map[int64]struct{})
	var out []int64
	for _, roleID := range roleIDs {
		for _, uid := range byRole[roleID] {
			if _, ok := seen[uid]; ok {
				continue
			}
			seen[uid] = struct{}{}
			out = append(out, uid)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// TrainersOf implements domain.RoleStore.
func (f *DomainFixture) TrainersOf(_ context.Context, eventID int64) ([]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int64(nil), f.Trainers[eventID]...), nil
}

// ManagersOf implements domain.JobStore.
func (f *DomainFixture) ManagersOf(_ context.Context, userID int64) ([]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int64(nil), f.Managers[userID]...), nil
}

// SiteAdmins implements domain.JobStore.
func (f *DomainFixture) SiteAdmins(_ context.Context) ([]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int64(nil), f.Admins...), nil
}

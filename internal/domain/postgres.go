package domain

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"coursepulse.io/notifier/internal/infrastructure"
	apperrors "coursepulse.io/notifier/internal/pkg/errors"
)

// PostgresStores reads the LMS tables the engine consumes. All lookups are
// read-only; the engine never mutates booking data.
type PostgresStores struct {
	pool *pgxpool.Pool
}

// NewPostgresStores wraps a shared connection pool.
func NewPostgresStores(pool *pgxpool.Pool) *PostgresStores {
	return &PostgresStores{pool: pool}
}

// Bundle returns the store as a Stores bundle.
func (s *PostgresStores) Bundle() Stores {
	return Stores{
		Users:    s,
		Seminars: s,
		Signups:  s,
		Roles:    s,
		Jobs:     s,
	}
}

// User implements UserStore.
func (s *PostgresStores) User(ctx context.Context, id int64) (*User, error) {
	q := infrastructure.QuerierFrom(ctx, s.pool)
	var u User
	err := q.QueryRow(ctx, `
		SELECT id, first_name, last_name, email, deleted
		FROM lms_user WHERE id = $1 AND NOT deleted`, id).
		Scan(&u.ID, &u.FirstName, &u.LastName, &u.Email, &u.Deleted)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, lmsErr("load user", err)
	}
	return &u, nil
}

// UsersByIDs implements UserStore. Deleted accounts are dropped silently;
// their order follows the database, not the input.
func (s *PostgresStores) UsersByIDs(ctx context.Context, ids []int64) ([]User, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	q := infrastructure.QuerierFrom(ctx, s.pool)
	rows, err := q.Query(ctx, `
		SELECT id, first_name, last_name, email, deleted
		FROM lms_user WHERE id = ANY($1) AND NOT deleted
		ORDER BY id`, ids)
	if err != nil {
		return nil, lmsErr("load users", err)
	}
	defer rows.Close()
	var out []User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.FirstName, &u.LastName, &u.Email, &u.Deleted); err != nil {
			return nil, lmsErr("scan user", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// Seminar implements SeminarStore.
func (s *PostgresStores) Seminar(ctx context.Context, id int64) (*Seminar, error) {
	q := infrastructure.QuerierFrom(ctx, s.pool)
	var sem Seminar
	err := q.QueryRow(ctx, `
		SELECT id, course_id, module_id, name, intro, legacy_notifications,
		       approval_type, approval_role_id, third_party_emails
		FROM seminar WHERE id = $1`, id).
		Scan(&sem.ID, &sem.CourseID, &sem.ModuleID, &sem.Name, &sem.Intro, &sem.LegacyNotifications,
			&sem.ApprovalType, &sem.ApprovalRoleID, &sem.ThirdPartyEmails)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, lmsErr("load seminar", err)
	}
	return &sem, nil
}

// Course implements SeminarStore.
func (s *PostgresStores) Course(ctx context.Context, id int64) (*Course, error) {
	q := infrastructure.QuerierFrom(ctx, s.pool)
	var c Course
	err := q.QueryRow(ctx, `
		SELECT id, full_name, short_name FROM course WHERE id = $1`, id).
		Scan(&c.ID, &c.FullName, &c.ShortName)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, lmsErr("load course", err)
	}
	return &c, nil
}

// EventByID implements SeminarStore.
func (s *PostgresStores) EventByID(ctx context.Context, id int64) (*SeminarEvent, error) {
	q := infrastructure.QuerierFrom(ctx, s.pool)
	var e SeminarEvent
	var deadline *time.Time
	err := q.QueryRow(ctx, `
		SELECT id, seminar_id, cancelled, facilitator_id,
		       virtual_meeting_creator_id, reservation_deadline
		FROM seminar_event WHERE id = $1`, id).
		Scan(&e.ID, &e.SeminarID, &e.Cancelled, &e.FacilitatorID,
			&e.VirtualMeetingCreatorID, &deadline)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, lmsErr("load seminar event", err)
	}
	if deadline != nil {
		e.ReservationDeadline = *deadline
	}

	rows, err := q.Query(ctx, `
		SELECT manager_id FROM seminar_event_reservation WHERE event_id = $1
		ORDER BY manager_id`, id)
	if err != nil {
		return nil, lmsErr("load reservations", err)
	}
	defer rows.Close()
	for rows.Next() {
		var managerID int64
		if err := rows.Scan(&managerID); err != nil {
			return nil, lmsErr("scan reservation", err)
		}
		e.ReservationManagerIDs = append(e.ReservationManagerIDs, managerID)
	}
	return &e, rows.Err()
}

// SessionsOf implements SeminarStore.
func (s *PostgresStores) SessionsOf(ctx context.Context, eventID int64) ([]Session, error) {
	q := infrastructure.QuerierFrom(ctx, s.pool)
	rows, err := q.Query(ctx, `
		SELECT id, event_id, start_at, finish_at, timezone, room
		FROM seminar_session WHERE event_id = $1
		ORDER BY start_at`, eventID)
	if err != nil {
		return nil, lmsErr("load sessions", err)
	}
	defer rows.Close()
	var out []Session
	for rows.Next() {
		var sess Session
		if err := rows.Scan(&sess.ID, &sess.EventID, &sess.Start, &sess.Finish, &sess.Timezone, &sess.Room); err != nil {
			return nil, lmsErr("scan session", err)
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// EarliestSessionStart implements SeminarStore.
func (s *PostgresStores) EarliestSessionStart(ctx context.Context, eventID int64) (time.Time, error) {
	q := infrastructure.QuerierFrom(ctx, s.pool)
	var start *time.Time
	err := q.QueryRow(ctx, `
		SELECT min(start_at) FROM seminar_session WHERE event_id = $1`, eventID).
		Scan(&start)
	if err != nil {
		return time.Time{}, lmsErr("load earliest session", err)
	}
	if start == nil {
		return time.Time{}, nil
	}
	return *start, nil
}

// SignupByID implements SignupStore.
func (s *PostgresStores) SignupByID(ctx context.Context, id int64) (*Signup, error) {
	q := infrastructure.QuerierFrom(ctx, s.pool)
	row := q.QueryRow(ctx, signupSelect+` WHERE id = $1`, id)
	return scanSignup(row)
}

// SignupOf implements SignupStore.
func (s *PostgresStores) SignupOf(ctx context.Context, eventID, userID int64) (*Signup, error) {
	q := infrastructure.QuerierFrom(ctx, s.pool)
	row := q.QueryRow(ctx, signupSelect+` WHERE event_id = $1 AND user_id = $2
		ORDER BY id DESC LIMIT 1`, eventID, userID)
	return scanSignup(row)
}

// SignupsByEvent implements SignupStore.
func (s *PostgresStores) SignupsByEvent(ctx context.Context, eventID int64) ([]Signup, error) {
	q := infrastructure.QuerierFrom(ctx, s.pool)
	rows, err := q.Query(ctx, signupSelect+` WHERE event_id = $1 ORDER BY id`, eventID)
	if err != nil {
		return nil, lmsErr("load signups", err)
	}
	defer rows.Close()
	var out []Signup
	for rows.Next() {
		sg, err := scanSignup(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *sg)
	}
	return out, rows.Err()
}

// SignupsStartingBetween implements SignupStore. The module context row is
// joined in so the scan payload carries the context without extra lookups.
func (s *PostgresStores) SignupsStartingBetween(ctx context.Context, from, to time.Time, siteAllowsLegacy bool) ([]ScheduledSignup, error) {
	q := infrastructure.QuerierFrom(ctx, s.pool)
	rows, err := q.Query(ctx, `
		SELECT sg.id, sg.event_id, sg.user_id, sg.status_code, sg.archived,
		       sg.cost, sg.discount, sg.booked_at,
		       sem.id, sem.course_id, sem.module_id,
		       ctx.id, ctx.path, starts.first_start
		FROM seminar_signup sg
		JOIN seminar_event ev ON ev.id = sg.event_id AND NOT ev.cancelled
		JOIN seminar sem ON sem.id = ev.seminar_id
		JOIN lms_context ctx ON ctx.context_level = 70 AND ctx.instance_id = sem.module_id
		JOIN (
			SELECT event_id, min(start_at) AS first_start
			FROM seminar_session GROUP BY event_id
		) starts ON starts.event_id = ev.id
		WHERE NOT sg.archived
		  AND starts.first_start >= $1 AND starts.first_start < $2
		  AND NOT ($3 AND sem.legacy_notifications)
		ORDER BY sg.id`, from, to, siteAllowsLegacy)
	if err != nil {
		return nil, lmsErr("scan upcoming signups", err)
	}
	defer rows.Close()
	var out []ScheduledSignup
	for rows.Next() {
		var sg ScheduledSignup
		if err := rows.Scan(
			&sg.ID, &sg.EventID, &sg.UserID, &sg.StatusCode, &sg.Archived,
			&sg.Cost, &sg.Discount, &sg.BookedAt,
			&sg.SeminarID, &sg.CourseID, &sg.ModuleID,
			&sg.ContextID, &sg.Path, &sg.EventStart); err != nil {
			return nil, lmsErr("scan upcoming signup", err)
		}
		out = append(out, sg)
	}
	return out, rows.Err()
}

// UsersWithRoleInCourse implements RoleStore.
func (s *PostgresStores) UsersWithRoleInCourse(ctx context.Context, roleIDs []int64, courseID int64) ([]int64, error) {
	if len(roleIDs) == 0 {
		return nil, nil
	}
	q := infrastructure.QuerierFrom(ctx, s.pool)
	rows, err := q.Query(ctx, `
		SELECT DISTINCT user_id FROM course_role_assignment
		WHERE course_id = $1 AND role_id = ANY($2)
		ORDER BY user_id`, courseID, roleIDs)
	if err != nil {
		return nil, lmsErr("load role holders", err)
	}
	defer rows.Close()
	return scanIDs(rows)
}

// TrainersOf implements RoleStore.
func (s *PostgresStores) TrainersOf(ctx context.Context, eventID int64) ([]int64, error) {
	q := infrastructure.QuerierFrom(ctx, s.pool)
	rows, err := q.Query(ctx, `
		SELECT user_id FROM seminar_event_role
		WHERE event_id = $1 AND role = 'trainer'
		ORDER BY user_id`, eventID)
	if err != nil {
		return nil, lmsErr("load trainers", err)
	}
	defer rows.Close()
	return scanIDs(rows)
}

// ManagersOf implements JobStore.
func (s *PostgresStores) ManagersOf(ctx context.Context, userID int64) ([]int64, error) {
	q := infrastructure.QuerierFrom(ctx, s.pool)
	rows, err := q.Query(ctx, `
		SELECT DISTINCT manager_id FROM job_assignment
		WHERE user_id = $1 AND manager_id IS NOT NULL
		ORDER BY manager_id`, userID)
	if err != nil {
		return nil, lmsErr("load managers", err)
	}
	defer rows.Close()
	return scanIDs(rows)
}

// SiteAdmins implements JobStore.
func (s *PostgresStores) SiteAdmins(ctx context.Context) ([]int64, error) {
	q := infrastructure.QuerierFrom(ctx, s.pool)
	rows, err := q.Query(ctx, `SELECT user_id FROM site_admin ORDER BY user_id`)
	if err != nil {
		return nil, lmsErr("load site admins", err)
	}
	defer rows.Close()
	return scanIDs(rows)
}

const signupSelect = `
	SELECT id, event_id, user_id, status_code, archived, cost, discount, booked_at
	FROM seminar_signup`

func scanSignup(row pgx.Row) (*Signup, error) {
	var sg Signup
	err := row.Scan(&sg.ID, &sg.EventID, &sg.UserID, &sg.StatusCode, &sg.Archived,
		&sg.Cost, &sg.Discount, &sg.BookedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, lmsErr("scan signup", err)
	}
	return &sg, nil
}

func scanIDs(rows pgx.Rows) ([]int64, error) {
	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, lmsErr("scan id", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func lmsErr(op string, err error) error {
	return apperrors.Wrap(err, apperrors.CodeInternalError, op, http.StatusInternalServerError)
}

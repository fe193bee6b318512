package recipient

import (
	"context"
	"strings"

	"coursepulse.io/notifier/internal/domain"
)

// usersByIDs hydrates accounts, silently dropping deleted or missing ids.
// Audience computation tolerates accounts vanishing between event and
// processing time.
func usersByIDs(ctx context.Context, stores domain.Stores, ids []int64) ([]domain.User, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	users, err := stores.Users.UsersByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := users[:0]
	for _, u := range users {
		if !u.Deleted {
			out = append(out, u)
		}
	}
	return out, nil
}

// subjectResolver targets the user the event is about.
type subjectResolver struct {
	stores domain.Stores
}

func (r *subjectResolver) Key() string   { return KeySubject }
func (r *subjectResolver) Title() string { return "Subject user" }

func (r *subjectResolver) Resolve(ctx context.Context, payload domain.Payload) ([]domain.User, error) {
	userID, err := payload.Int64(domain.KeyUserID)
	if err != nil {
		return nil, err
	}
	user, err := r.stores.Users.User(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, nil
	}
	return []domain.User{*user}, nil
}

// managerResolver targets every manager in the subject user's job
// assignments.
type managerResolver struct {
	stores domain.Stores
}

func (r *managerResolver) Key() string   { return KeyManager }
func (r *managerResolver) Title() string { return "Manager(s)" }

func (r *managerResolver) Resolve(ctx context.Context, payload domain.Payload) ([]domain.User, error) {
	userID, err := payload.Int64(domain.KeyUserID)
	if err != nil {
		return nil, err
	}
	ids, err := r.stores.Jobs.ManagersOf(ctx, userID)
	if err != nil {
		return nil, err
	}
	return usersByIDs(ctx, r.stores, ids)
}

// thirdPartyResolver targets the external email addresses configured on the
// seminar, as virtual recipients without accounts.
type thirdPartyResolver struct {
	stores domain.Stores
}

func (r *thirdPartyResolver) Key() string   { return KeyThirdParty }
func (r *thirdPartyResolver) Title() string { return "Third-party email(s)" }

func (r *thirdPartyResolver) Resolve(ctx context.Context, payload domain.Payload) ([]domain.User, error) {
	seminarID, err := payload.Int64(domain.KeySeminarID)
	if err != nil {
		return nil, err
	}
	seminar, err := r.stores.Seminars.Seminar(ctx, seminarID)
	if err != nil {
		return nil, err
	}
	if seminar == nil || seminar.ThirdPartyEmails == "" {
		return nil, nil
	}
	var out []domain.User
	for _, addr := range strings.Split(seminar.ThirdPartyEmails, ",") {
		addr = strings.TrimSpace(addr)
		if addr == "" {
			continue
		}
		out = append(out, domain.VirtualUser(addr))
	}
	return out, nil
}

// notifiableRolesResolver targets holders of the site-configured notifiable
// roles within the event's course, enrolled or not.
type notifiableRolesResolver struct {
	stores  domain.Stores
	roleIDs []int64
}

func (r *notifiableRolesResolver) Key() string   { return KeyNotifiableRoles }
func (r *notifiableRolesResolver) Title() string { return "Course role holders" }

func (r *notifiableRolesResolver) Resolve(ctx context.Context, payload domain.Payload) ([]domain.User, error) {
	if len(r.roleIDs) == 0 {
		return nil, nil
	}
	courseID, err := payload.Int64(domain.KeyCourseID)
	if err != nil {
		return nil, err
	}
	ids, err := r.stores.Roles.UsersWithRoleInCourse(ctx, r.roleIDs, courseID)
	if err != nil {
		return nil, err
	}
	return usersByIDs(ctx, r.stores, ids)
}

// approversResolver targets whoever can approve the subject's signup,
// derived from the seminar's approval type.
type approversResolver struct {
	stores domain.Stores
}

func (r *approversResolver) Key() string   { return KeyApprovers }
func (r *approversResolver) Title() string { return "Approver(s)" }

func (r *approversResolver) Resolve(ctx context.Context, payload domain.Payload) ([]domain.User, error) {
	seminarID, err := payload.Int64(domain.KeySeminarID)
	if err != nil {
		return nil, err
	}
	seminar, err := r.stores.Seminars.Seminar(ctx, seminarID)
	if err != nil {
		return nil, err
	}
	if seminar == nil {
		return nil, nil
	}

	var ids []int64
	switch seminar.ApprovalType {
	case domain.ApprovalManager:
		userID, err := payload.Int64(domain.KeyUserID)
		if err != nil {
			return nil, err
		}
		ids, err = r.stores.Jobs.ManagersOf(ctx, userID)
		if err != nil {
			return nil, err
		}
	case domain.ApprovalRole:
		courseID, err := payload.Int64(domain.KeyCourseID)
		if err != nil {
			return nil, err
		}
		ids, err = r.stores.Roles.UsersWithRoleInCourse(ctx, []int64{seminar.ApprovalRoleID}, courseID)
		if err != nil {
			return nil, err
		}
	case domain.ApprovalAdmin:
		userID, err := payload.Int64(domain.KeyUserID)
		if err != nil {
			return nil, err
		}
		managers, err := r.stores.Jobs.ManagersOf(ctx, userID)
		if err != nil {
			return nil, err
		}
		admins, err := r.stores.Jobs.SiteAdmins(ctx)
		if err != nil {
			return nil, err
		}
		seen := make(map[int64]bool, len(managers))
		for _, id := range append(managers, admins...) {
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	default:
		// No approval step, nobody to notify.
		return nil, nil
	}
	return usersByIDs(ctx, r.stores, ids)
}

// reservationManagersResolver targets managers holding reservations against
// the event.
type reservationManagersResolver struct {
	stores domain.Stores
}

func (r *reservationManagersResolver) Key() string   { return KeyReservationManagers }
func (r *reservationManagersResolver) Title() string { return "Reserving manager(s)" }

func (r *reservationManagersResolver) Resolve(ctx context.Context, payload domain.Payload) ([]domain.User, error) {
	eventID, err := payload.Int64(domain.KeySeminarEventID)
	if err != nil {
		return nil, err
	}
	event, err := r.stores.Seminars.EventByID(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if event == nil {
		return nil, nil
	}
	return usersByIDs(ctx, r.stores, event.ReservationManagerIDs)
}

// facilitatorResolver targets the event's assigned facilitator, if any.
type facilitatorResolver struct {
	stores domain.Stores
}

func (r *facilitatorResolver) Key() string   { return KeyFacilitator }
func (r *facilitatorResolver) Title() string { return "Facilitator" }

func (r *facilitatorResolver) Resolve(ctx context.Context, payload domain.Payload) ([]domain.User, error) {
	eventID, err := payload.Int64(domain.KeySeminarEventID)
	if err != nil {
		return nil, err
	}
	event, err := r.stores.Seminars.EventByID(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if event == nil || event.FacilitatorID == 0 {
		return nil, nil
	}
	return usersByIDs(ctx, r.stores, []int64{event.FacilitatorID})
}

// virtualMeetingCreatorResolver targets whoever created the event's virtual
// meeting room. The payload id wins over the event record so the creator is
// still reachable after being unassigned.
type virtualMeetingCreatorResolver struct {
	stores domain.Stores
}

func (r *virtualMeetingCreatorResolver) Key() string   { return KeyVirtualMeetingCreator }
func (r *virtualMeetingCreatorResolver) Title() string { return "Virtual meeting creator" }

func (r *virtualMeetingCreatorResolver) Resolve(ctx context.Context, payload domain.Payload) ([]domain.User, error) {
	var creatorID int64
	if payload.Has(domain.KeyCreatorID) {
		id, err := payload.Int64(domain.KeyCreatorID)
		if err != nil {
			return nil, err
		}
		creatorID = id
	} else {
		eventID, err := payload.Int64(domain.KeySeminarEventID)
		if err != nil {
			return nil, err
		}
		event, err := r.stores.Seminars.EventByID(ctx, eventID)
		if err != nil {
			return nil, err
		}
		if event == nil {
			return nil, nil
		}
		creatorID = event.VirtualMeetingCreatorID
	}
	if creatorID == 0 {
		return nil, nil
	}
	return usersByIDs(ctx, r.stores, []int64{creatorID})
}

// trainerResolver targets the trainer named in the payload, falling back to
// all trainers assigned to the event when the payload carries none.
type trainerResolver struct {
	stores domain.Stores
}

func (r *trainerResolver) Key() string   { return KeyTrainer }
func (r *trainerResolver) Title() string { return "Trainer(s)" }

func (r *trainerResolver) Resolve(ctx context.Context, payload domain.Payload) ([]domain.User, error) {
	if payload.Has(domain.KeyTrainerID) {
		id, err := payload.Int64(domain.KeyTrainerID)
		if err != nil {
			return nil, err
		}
		return usersByIDs(ctx, r.stores, []int64{id})
	}
	eventID, err := payload.Int64(domain.KeySeminarEventID)
	if err != nil {
		return nil, err
	}
	ids, err := r.stores.Roles.TrainersOf(ctx, eventID)
	if err != nil {
		return nil, err
	}
	return usersByIDs(ctx, r.stores, ids)
}

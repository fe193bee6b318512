// Package recipient turns an event payload into the set of accounts a
// notification goes to. Each named resolver computes one audience slice;
// a preference selects several and the engine takes the deduplicated union.
//
// Recipient resolvers never fail soft on missing payload keys: a missing
// key is a producer bug and aborts processing of the queue row.
package recipient

import (
	"context"
	"strings"
	"sync"

	"coursepulse.io/notifier/internal/domain"
	apperrors "coursepulse.io/notifier/internal/pkg/errors"
)

// Built-in recipient resolver keys.
const (
	KeySubject               = "subject"
	KeyManager               = "manager"
	KeyThirdParty            = "third_party"
	KeyNotifiableRoles       = "notifiable_roles"
	KeyApprovers             = "approvers"
	KeyReservationManagers   = "reservation_managers"
	KeyFacilitator           = "facilitator"
	KeyVirtualMeetingCreator = "virtualmeeting_creator"
	KeyTrainer               = "trainer"
)

// Resolver computes one audience slice for an event payload. Resolvers
// returning nobody (e.g. no third-party addresses configured) return an
// empty slice, not an error.
type Resolver interface {
	Key() string
	Title() string
	Resolve(ctx context.Context, payload domain.Payload) ([]domain.User, error)
}

// Registry maps recipient resolver keys to implementations.
type Registry struct {
	mu        sync.RWMutex
	resolvers map[string]Resolver
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{resolvers: make(map[string]Resolver)}
}

// Register adds a resolver.
func (r *Registry) Register(res Resolver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resolvers[res.Key()] = res
}

// Get returns the resolver for key.
func (r *Registry) Get(key string) (Resolver, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res, ok := r.resolvers[key]
	if !ok {
		return nil, apperrors.NotFound(apperrors.CodeRecipientUnknown, "unknown recipient resolver "+key).
			WithParams(map[string]interface{}{"recipient": key})
	}
	return res, nil
}

// Keys lists all registered resolver keys.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.resolvers))
	for k := range r.resolvers {
		keys = append(keys, k)
	}
	return keys
}

// Union resolves all named slices and merges them. Accounts dedupe by id;
// virtual external recipients dedupe by email address. Order follows first
// appearance across the slices.
func (r *Registry) Union(ctx context.Context, keys []string, payload domain.Payload) ([]domain.User, error) {
	seenIDs := make(map[int64]bool)
	seenEmails := make(map[string]bool)
	var out []domain.User

	for _, key := range keys {
		res, err := r.Get(key)
		if err != nil {
			return nil, err
		}
		users, err := res.Resolve(ctx, payload)
		if err != nil {
			return nil, err
		}
		for _, u := range users {
			if u.IsExternal() {
				addr := strings.ToLower(u.Email)
				if addr == "" || seenEmails[addr] {
					continue
				}
				seenEmails[addr] = true
			} else {
				if seenIDs[u.ID] {
					continue
				}
				seenIDs[u.ID] = true
			}
			out = append(out, u)
		}
	}
	return out, nil
}

// RegisterBuiltIns installs the standard seminar audience resolvers.
// notifiableRoleIDs is the site-configured role filter for the
// notifiable_roles resolver.
func RegisterBuiltIns(reg *Registry, stores domain.Stores, notifiableRoleIDs []int64) {
	reg.Register(&subjectResolver{stores: stores})
	reg.Register(&managerResolver{stores: stores})
	reg.Register(&thirdPartyResolver{stores: stores})
	reg.Register(&notifiableRolesResolver{stores: stores, roleIDs: notifiableRoleIDs})
	reg.Register(&approversResolver{stores: stores})
	reg.Register(&reservationManagersResolver{stores: stores})
	reg.Register(&facilitatorResolver{stores: stores})
	reg.Register(&virtualMeetingCreatorResolver{stores: stores})
	reg.Register(&trainerResolver{stores: stores})
}

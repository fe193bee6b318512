// Package delivery fans rendered outbox messages out to channels. The
// channel contract is the boundary of the engine: everything up to the
// outbox is exactly-once; channels are at-least-once and expected to
// tolerate redelivery after a crash mid-dispatch.
package delivery

import (
	"context"
	"sync"

	"coursepulse.io/notifier/internal/queue"
	apperrors "coursepulse.io/notifier/internal/pkg/errors"
)

// Built-in channel keys.
const (
	ChannelEmail = "email"
	ChannelPopup = "popup"
	ChannelLog   = "log"
)

// Channel delivers one message on one transport.
type Channel interface {
	Key() string

	// Deliver sends the message to its recipient. Errors mark the message
	// failed; they never abort sibling channels.
	Deliver(ctx context.Context, m queue.Message) error
}

// Registry maps channel keys to implementations.
type Registry struct {
	mu       sync.RWMutex
	channels map[string]Channel
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{channels: make(map[string]Channel)}
}

// Register adds a channel.
func (r *Registry) Register(c Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.channels[c.Key()] = c
}

// Get returns the channel for key.
func (r *Registry) Get(key string) (Channel, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.channels[key]
	if !ok {
		return nil, apperrors.NotFound(apperrors.CodeChannelUnknown, "unknown delivery channel "+key).
			WithParams(map[string]interface{}{"channel": key})
	}
	return c, nil
}

// Known reports whether key is registered.
func (r *Registry) Known(key string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.channels[key]
	return ok
}

// UserChannelStore looks up a user's personal channel selection. An empty
// result means the user never chose, and resolver defaults apply.
type UserChannelStore interface {
	ChannelsFor(ctx context.Context, userID int64) ([]string, error)
}

// ResolveChannels picks the channels for one recipient: forced channels
// from the preference always win; otherwise the recipient's personal
// selection; otherwise the resolver defaults. External recipients have no
// account and can only be reached by email. Unregistered channels are
// dropped.
func (r *Registry) ResolveChannels(ctx context.Context, store UserChannelStore, recipientID int64, external bool, forced, defaults []string) ([]string, error) {
	if external {
		if r.Known(ChannelEmail) {
			return []string{ChannelEmail}, nil
		}
		return nil, nil
	}

	picked := forced
	if len(picked) == 0 && store != nil {
		personal, err := store.ChannelsFor(ctx, recipientID)
		if err != nil {
			return nil, err
		}
		picked = personal
	}
	if len(picked) == 0 {
		picked = defaults
	}

	out := make([]string, 0, len(picked))
	for _, key := range picked {
		if r.Known(key) {
			out = append(out, key)
		}
	}
	return out, nil
}

// Package presence tracks who is typing on a shared surface.
//
// Every participant broadcasts its own state on each local transition and
// rebuilds the typing state of the others from the full membership snapshot
// it receives. A participant that leaves is simply absent from the next
// snapshot, so there is no leave event to miss.
package presence

import (
	"campus-sync/contract"
	"campus-sync/domain"
	typing "campus-sync/domain/presence"
	"campus-sync/errors"
	"campus-sync/observability"
	"campus-sync/timer"
	"context"
	"fmt"
	"iter"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

type Option func(*Registry)

// WithTTL expires a typing entry whose last broadcast is older than ttl.
// Zero disables expiry.
func WithTTL(ttl time.Duration) Option {
	return func(r *Registry) { r.ttl = ttl }
}

// WithClock replaces the clock used to expire entries.
func WithClock(clock timer.Clock) Option {
	return func(r *Registry) { r.clock = clock }
}

// Registry joins participants to presence channels.
type Registry struct {
	log        *slog.Logger
	channel    contract.PresenceChannel
	monitoring *observability.MonitoringManager
	ttl        time.Duration
	clock      timer.Clock
}

func NewRegistry(
	log *slog.Logger,
	channel contract.PresenceChannel,
	monitoring *observability.MonitoringManager,
	opts ...Option,
) *Registry {
	r := &Registry{
		log:        log,
		channel:    channel,
		monitoring: monitoring,
		clock:      timer.SystemClock{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Join enters channelKey as self. An anonymous or invalid identity is
// rejected before the channel is contacted.
func (r *Registry) Join(ctx context.Context, channelKey string, self domain.Identity) (*Handle, error) {
	if err := self.Validate(); err != nil {
		return nil, err
	}
	member, err := r.channel.Join(ctx, channelKey, self.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: joining %s: %v", errors.ErrUnavailable, channelKey, err)
	}
	r.log.Debug("Joined presence channel", "channel", channelKey, "identity", self.ID)
	return &Handle{
		registry:   r,
		channelKey: channelKey,
		self:       self,
		member:     member,
		left:       make(chan struct{}),
	}, nil
}

// State is what a participant broadcasts about itself.
type State struct {
	IsTyping    bool
	DisplayName string
}

// Handle is one participant's membership in a channel.
type Handle struct {
	mu         sync.Mutex
	registry   *Registry
	channelKey string
	self       domain.Identity
	member     contract.PresenceMember
	closed     bool
	left       chan struct{}
}

// Publish broadcasts state to the channel without waiting for any
// acknowledgement. An empty display name falls back to the identity's one.
// Publishing after Leave is a no-op.
func (h *Handle) Publish(state State) {
	if !h.active() {
		return
	}
	name := state.DisplayName
	if name == "" {
		name = h.self.DisplayName
	}
	h.member.Broadcast(typing.Broadcast{
		Identity:    h.self.ID,
		DisplayName: name,
		IsTyping:    state.IsTyping,
	})
	h.registry.monitoring.IncrBroadcasts()
}

// Observe returns the sequence of typing states of the other participants,
// starting from the current snapshot. A state is produced whenever what it
// renders changes, either because a snapshot arrived or because an entry
// expired. The sequence ends when ctx is done or the handle left.
//
// The sequence can be iterated once; call Observe again for a fresh one.
func (h *Handle) Observe(ctx context.Context) iter.Seq[typing.TypingState] {
	var started atomic.Bool
	return func(yield func(typing.TypingState) bool) {
		if !started.CompareAndSwap(false, true) {
			h.registry.log.Debug("Typing sequence already consumed", "channel", h.channelKey)
			return
		}
		if !h.active() {
			return
		}
		snapshots, stop := h.member.Watch()
		defer stop()

		r := h.registry
		var expire <-chan time.Time
		if r.ttl > 0 {
			ticker := r.clock.NewTicker(r.ttl / 2)
			defer ticker.Stop()
			expire = ticker.C()
		}

		var (
			latest    typing.Snapshot
			last      typing.TypingState
			delivered bool
		)
		for {
			select {
			case <-ctx.Done():
				return
			case <-h.left:
				return
			case snapshot, ok := <-snapshots:
				if !ok {
					return
				}
				latest = snapshot
			case <-expire:
				if latest == nil {
					continue
				}
			}

			state := typing.BuildTypingState(h.self.ID, latest, r.clock.Now(), r.ttl)
			if delivered && state.Equal(last) {
				continue
			}
			if !h.active() {
				return
			}
			r.monitoring.IncrTypingSnapshots()
			if !yield(state) {
				return
			}
			last, delivered = state, true
		}
	}
}

// Leave stops publishing and observing, and removes the participant from
// the others' next snapshot. It never waits, so it may be called from inside
// an Observe loop. Calling it more than once is a no-op.
func (h *Handle) Leave() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	close(h.left)
	h.mu.Unlock()

	h.member.Leave()
	h.registry.log.Debug("Left presence channel", "channel", h.channelKey, "identity", h.self.ID)
}

// Left is closed once Leave was called.
func (h *Handle) Left() <-chan struct{} {
	return h.left
}

func (h *Handle) active() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return !h.closed
}

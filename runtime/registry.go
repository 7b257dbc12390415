package runtime

import (
	"campus-sync/contract"
	"campus-sync/domain/presence"
	"campus-sync/errors"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

type Set map[string]struct{}

// Registry is an in-process presence channel. Each channel keeps the latest
// broadcast of every member and pushes the merged membership map to all
// watchers whenever it changes.
type Registry struct {
	mu       sync.RWMutex
	log      *slog.Logger
	now      func() time.Time
	members  map[string]*member // map member key -> member
	channels map[string]Set     // map channel to member keys
}

func NewRegistry(log *slog.Logger) *Registry {
	return &Registry{
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
		members:  make(map[string]*member),
		channels: make(map[string]Set),
	}
}

// Join registers identity in channel with an empty, non typing entry.
// The same identity may join several times; each join is its own member.
func (r *Registry) Join(ctx context.Context, channel, identity string) (contract.PresenceMember, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrUnavailable, err)
	}
	m := &member{
		key:      uuid.NewString(),
		channel:  channel,
		identity: identity,
		registry: r,
		watches:  make(map[int]chan presence.Snapshot),
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	m.last = presence.Broadcast{Identity: identity, Timestamp: r.now()}
	r.members[m.key] = m
	if _, ok := r.channels[channel]; !ok {
		r.channels[channel] = make(Set)
	}
	r.channels[channel][m.key] = struct{}{}
	r.notifyLocked(channel)
	r.log.Debug("Presence member joined", "channel", channel, "identity", identity)
	return m, nil
}

// Members returns the number of members currently in channel.
func (r *Registry) Members(channel string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.channels[channel])
}

// snapshotLocked merges the members of channel. An identity present more than
// once is represented by its most recent broadcast.
func (r *Registry) snapshotLocked(channel string) presence.Snapshot {
	snapshot := make(presence.Snapshot, len(r.channels[channel]))
	for key := range r.channels[channel] {
		m := r.members[key]
		if current, ok := snapshot[m.identity]; ok && current.Timestamp.After(m.last.Timestamp) {
			continue
		}
		snapshot[m.identity] = m.last
	}
	return snapshot
}

func (r *Registry) notifyLocked(channel string) {
	snapshot := r.snapshotLocked(channel)
	for key := range r.channels[channel] {
		for _, ch := range r.members[key].watches {
			push(ch, snapshot)
		}
	}
}

func (r *Registry) leave(m *member) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m.left {
		return
	}
	m.left = true
	for id, ch := range m.watches {
		close(ch)
		delete(m.watches, id)
	}
	delete(r.members, m.key)
	if keys, ok := r.channels[m.channel]; ok {
		delete(keys, m.key)

		// If no one is left in the channel, remove the entry entirely
		if len(keys) == 0 {
			delete(r.channels, m.channel)
			return
		}
	}
	r.notifyLocked(m.channel)
	r.log.Debug("Presence member left", "channel", m.channel, "identity", m.identity)
}

// push keeps only the latest snapshot in a watch channel.
func push(ch chan presence.Snapshot, snapshot presence.Snapshot) {
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- snapshot:
	default:
	}
}

// member fields are guarded by the registry lock.
type member struct {
	key       string
	channel   string
	identity  string
	registry  *Registry
	last      presence.Broadcast
	left      bool
	nextWatch int
	watches   map[int]chan presence.Snapshot
}

// Broadcast replaces the member's entry. The identity is always the joined
// one and the timestamp is set by the channel.
func (m *member) Broadcast(b presence.Broadcast) {
	r := m.registry
	r.mu.Lock()
	defer r.mu.Unlock()
	if m.left {
		return
	}
	b.Identity = m.identity
	b.Timestamp = r.now()
	m.last = b
	r.notifyLocked(m.channel)
}

func (m *member) Watch() (<-chan presence.Snapshot, func()) {
	r := m.registry
	r.mu.Lock()
	defer r.mu.Unlock()
	ch := make(chan presence.Snapshot, 1)
	if m.left {
		close(ch)
		return ch, func() {}
	}
	id := m.nextWatch
	m.nextWatch++
	m.watches[id] = ch
	ch <- r.snapshotLocked(m.channel)

	stop := func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if watch, ok := m.watches[id]; ok {
			close(watch)
			delete(m.watches, id)
		}
	}
	return ch, stop
}

func (m *member) Leave() {
	m.registry.leave(m)
}

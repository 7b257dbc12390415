// Package projection keeps local views of server owned state: a baseline from
// one bulk read, then every change of a feed merged in arrival order.
// Views are immutable; each merge produces a new one, handed to observers.
// Does not write to the backend.
package projection

import (
	"campus-sync/contract"
	"campus-sync/domain/event"
	"campus-sync/errors"
	"campus-sync/observability"
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// merger folds one change into view. changed is false for a change absorbed
// as a no-op (duplicate, foreign id); err reports a change it cannot decode.
type merger[V any] func(view V, change event.Change, seq uint64) (next V, changed bool, err error)

// store is the engine shared by the concrete stores: one feed per store, any
// number of observers, a stale flag once the feed dropped.
//
// The feed opens before the bulk read and stays open until the store is
// closed or moves to another key. Changes arriving before the baseline is
// established are held back and merged on top of it, so nothing committed
// between the read and the first observer is lost.
type store[V any] struct {
	mu         sync.Mutex
	log        *slog.Logger
	feed       contract.ChangeFeed
	monitoring *observability.MonitoringManager
	merge      merger[V]
	topicOf    func(key string) string
	clock      ArrivalClock

	key       string
	view      V
	ready     bool
	stale     bool
	staleErr  error
	sub       contract.FeedSubscription
	stopFeed  context.CancelFunc
	feedGen   uint64
	held      []event.Change
	nextID    uint64
	observers map[uint64]*Handle[V]
}

func newStore[V any](
	log *slog.Logger,
	feed contract.ChangeFeed,
	monitoring *observability.MonitoringManager,
	topicOf func(key string) string,
	merge merger[V],
) *store[V] {
	return &store[V]{
		log:        log,
		feed:       feed,
		monitoring: monitoring,
		topicOf:    topicOf,
		merge:      merge,
		observers:  make(map[uint64]*Handle[V]),
	}
}

// prepare opens the feed of key ahead of its bulk read. Every observer and
// the previous feed are torn down first. The view is not ready until
// establish.
func (s *store[V]) prepare(key string) error {
	s.mu.Lock()
	cleanup := s.resetLocked()
	var zero V
	s.key = key
	s.view = zero
	s.ready = false
	err := s.openFeedLocked()
	s.mu.Unlock()

	cleanup()
	return err
}

// establish installs the baseline read after prepare, then merges every
// change held back while the read was in flight.
func (s *store[V]) establish(view V) {
	s.mu.Lock()
	defer s.mu.Unlock()
	held := s.held
	s.held = nil
	s.view = view
	s.ready = true
	for _, change := range held {
		s.mergeLocked(change)
	}
	s.notifyLocked(s.view)
}

// fail leaves the store without any view.
func (s *store[V]) fail() {
	s.mu.Lock()
	cleanup := s.resetLocked()
	var zero V
	s.key = ""
	s.view = zero
	s.ready = false
	s.mu.Unlock()
	cleanup()
}

// resetLocked closes every observer and the feed. The returned cleanup must
// be called without the store lock held.
func (s *store[V]) resetLocked() func() {
	for id, h := range s.observers {
		if h.close() {
			s.monitoring.AddObservers(-1)
		}
		delete(s.observers, id)
	}
	s.stale = false
	s.staleErr = nil
	s.held = nil
	return s.detachFeedLocked()
}

func (s *store[V]) detachFeedLocked() func() {
	sub, stop := s.sub, s.stopFeed
	s.sub, s.stopFeed = nil, nil
	s.feedGen++
	return func() {
		if stop != nil {
			stop()
		}
		if sub != nil {
			_ = sub.Close()
		}
	}
}

func (s *store[V]) subscribe(onChange func(V)) (*Handle[V], error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ready {
		return nil, errors.ErrNotInitialized
	}
	if s.stale {
		return nil, fmt.Errorf("%w: %w", errors.ErrStale, s.staleErr)
	}
	s.nextID++
	h := newHandle(s.nextID, onChange, s.detach)
	s.observers[h.id] = h
	s.monitoring.AddObservers(1)
	return h, nil
}

func (s *store[V]) openFeedLocked() error {
	topic := s.topicOf(s.key)
	ctx, cancel := context.WithCancel(context.Background())
	sub, err := s.feed.Subscribe(ctx, topic)
	if err != nil {
		cancel()
		return fmt.Errorf("%w: subscribing %s: %v", errors.ErrUnavailable, topic, err)
	}
	s.sub, s.stopFeed = sub, cancel
	s.feedGen++
	go s.pump(sub, s.feedGen)
	s.log.Debug("Change feed opened", "topic", topic)
	return nil
}

// detach forgets h. The feed stays open for the next observer.
func (s *store[V]) detach(h *Handle[V]) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.observers[h.id]; !ok {
		return
	}
	delete(s.observers, h.id)
	s.monitoring.AddObservers(-1)
}

func (s *store[V]) pump(sub contract.FeedSubscription, gen uint64) {
	for change := range sub.Changes() {
		s.apply(gen, change)
	}
	s.feedEnded(sub, gen)
}

func (s *store[V]) apply(gen uint64, change event.Change) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.feedGen {
		return
	}
	if !s.ready {
		s.held = append(s.held, change)
		return
	}
	if s.mergeLocked(change) {
		s.notifyLocked(s.view)
	}
}

// mergeLocked folds change into the view and reports whether it moved.
func (s *store[V]) mergeLocked(change event.Change) bool {
	next, changed, err := s.merge(s.view, change, s.clock.Next())
	if err != nil {
		s.log.Debug("Change not merged", "change", change.String(), "error", err)
		s.monitoring.IncrUnknownChanges()
		return false
	}
	if !changed {
		s.log.Debug("Change absorbed", "change", change.String())
		s.monitoring.IncrDuplicatesAbsorbed()
		return false
	}
	s.view = next
	s.monitoring.IncrEventsApplied()
	return true
}

// feedEnded flags the store stale when its feed dropped. The view freezes
// at its last merge.
func (s *store[V]) feedEnded(sub contract.FeedSubscription, gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.feedGen {
		return
	}
	err := sub.Err()
	if err == nil {
		err = errors.ErrFeedClosed
	}
	s.stale = true
	s.staleErr = err
	if s.stopFeed != nil {
		s.stopFeed()
	}
	s.sub, s.stopFeed = nil, nil
	s.monitoring.IncrStaleFeeds()
	s.log.Warn("Change feed dropped, view is stale", "topic", s.topicOf(s.key), "error", err)
}

func (s *store[V]) notifyLocked(view V) {
	for _, h := range s.observers {
		h.enqueue(view)
	}
}

func (s *store[V]) current() (V, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view, s.ready
}

// live reports a view of key followed by an open feed.
func (s *store[V]) live(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready && !s.stale && s.key == key
}

func (s *store[V]) isStale() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stale
}

// serving reports an established view followed by a live feed.
func (s *store[V]) serving() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready && !s.stale
}

func (s *store[V]) observerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.observers)
}

// close tears down every observer and the feed.
func (s *store[V]) close() {
	s.mu.Lock()
	cleanup := s.resetLocked()
	s.mu.Unlock()
	cleanup()
}

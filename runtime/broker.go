package runtime

import (
	"campus-sync/contract"
	"campus-sync/domain/event"
	"campus-sync/errors"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Broker is an in-process change feed: it fans out published changes to
// every subscription of a topic.
//
// Delivery is ordered per subscription. A subscriber that does not drain its
// buffer within the delivery timeout is dropped with ErrStale, the way a
// real transport drops a slow consumer.
//
// Broker is safe for concurrent use by multiple goroutines.
type Broker struct {
	mu              sync.RWMutex
	log             *slog.Logger
	bufferSize      int
	deliveryTimeout time.Duration
	topics          map[string]map[string]*feedSubscription
}

func NewBroker(log *slog.Logger, bufferSize int, deliveryTimeout time.Duration) *Broker {
	return &Broker{
		log:             log,
		bufferSize:      bufferSize,
		deliveryTimeout: deliveryTimeout,
		topics:          make(map[string]map[string]*feedSubscription),
	}
}

// Subscribe opens a subscription on topic. It is closed when ctx is done.
func (b *Broker) Subscribe(ctx context.Context, topic string) (contract.FeedSubscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrUnavailable, err)
	}
	sub := &feedSubscription{
		id:      uuid.NewString(),
		topic:   topic,
		broker:  b,
		changes: make(chan event.Change, b.bufferSize),
	}

	b.mu.Lock()
	if _, ok := b.topics[topic]; !ok {
		b.topics[topic] = make(map[string]*feedSubscription)
	}
	b.topics[topic][sub.id] = sub
	b.mu.Unlock()

	stop := context.AfterFunc(ctx, func() { _ = sub.Close() })
	sub.mu.Lock()
	sub.stopAfter = stop
	sub.mu.Unlock()
	b.log.Debug("Feed subscription opened", "topic", topic, "subscription", sub.id)
	return sub, nil
}

// Publish delivers change to every current subscriber of topic.
func (b *Broker) Publish(ctx context.Context, topic string, change event.Change) error {
	if change.ReceivedAt.IsZero() {
		change.ReceivedAt = time.Now().UTC()
	}
	for _, sub := range b.subscribers(topic) {
		if err := sub.deliver(ctx, change, b.deliveryTimeout); err != nil {
			b.log.Warn("Dropping slow feed subscriber", "topic", topic, "subscription", sub.id, "error", err)
			sub.fail(err)
		}
	}
	return ctx.Err()
}

// Fail terminates every subscription of topic with err, as a dropped
// transport connection would.
func (b *Broker) Fail(topic string, err error) {
	for _, sub := range b.subscribers(topic) {
		sub.fail(err)
	}
}

// FailAll terminates every open subscription with err.
func (b *Broker) FailAll(err error) {
	b.mu.RLock()
	topics := make([]string, 0, len(b.topics))
	for topic := range b.topics {
		topics = append(topics, topic)
	}
	b.mu.RUnlock()
	for _, topic := range topics {
		b.Fail(topic, err)
	}
}

// Subscribers returns the number of open subscriptions on topic.
func (b *Broker) Subscribers(topic string) int {
	return len(b.subscribers(topic))
}

func (b *Broker) subscribers(topic string) []*feedSubscription {
	b.mu.RLock()
	defer b.mu.RUnlock()
	subs := make([]*feedSubscription, 0, len(b.topics[topic]))
	for _, sub := range b.topics[topic] {
		subs = append(subs, sub)
	}
	return subs
}

func (b *Broker) remove(sub *feedSubscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if subs, ok := b.topics[sub.topic]; ok {
		delete(subs, sub.id)
		// No empty topic left behind
		if len(subs) == 0 {
			delete(b.topics, sub.topic)
		}
	}
}

type feedSubscription struct {
	mu        sync.Mutex
	id        string
	topic     string
	broker    *Broker
	changes   chan event.Change
	closed    bool
	err       error
	stopAfter func() bool
}

func (s *feedSubscription) Changes() <-chan event.Change { return s.changes }

func (s *feedSubscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *feedSubscription) Close() error {
	s.terminate(nil)
	return nil
}

func (s *feedSubscription) fail(err error) {
	s.terminate(err)
}

func (s *feedSubscription) terminate(err error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.err = err
	close(s.changes)
	stop := s.stopAfter
	s.mu.Unlock()

	if stop != nil {
		stop()
	}
	s.broker.remove(s)
}

// deliver holds the subscription lock so Close never races a send.
func (s *feedSubscription) deliver(ctx context.Context, change event.Change, timeout time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	select {
	case s.changes <- change:
		return nil
	default:
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case s.changes <- change:
		return nil
	case <-ctx.Done():
		return nil
	case <-timer.C:
		return fmt.Errorf("%w: delivery timeout on %s", errors.ErrStale, s.topic)
	}
}

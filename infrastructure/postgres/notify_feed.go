package postgres

import (
	"campus-sync/contract"
	"campus-sync/domain/event"
	"campus-sync/errors"
	"campus-sync/runtime"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lib/pq"
)

// listener is the part of *pq.Listener the feed relies on.
type listener interface {
	Listen(channel string) error
	NotificationChannel() <-chan *pq.Notification
	Close() error
}

// NotifyFeed is a ChangeFeed over LISTEN/NOTIFY. Each topic is a channel
// whose notifications carry one JSON encoded change, as sent by a row
// trigger calling pg_notify('ledger:' || account_id, json).
//
// Postgres does not replay notifications missed while the connection was
// down, so a reconnection terminates every open subscription with
// ErrUnavailable instead of silently resuming.
type NotifyFeed struct {
	mu        sync.Mutex
	log       *slog.Logger
	listener  listener
	broker    *runtime.Broker
	listening map[string]bool
	closed    bool
}

// NewNotifyFeed opens a pq listener on dsn. Run must be supervised for
// notifications to flow.
func NewNotifyFeed(log *slog.Logger, dsn string, bufferSize int, deliveryTimeout time.Duration) *NotifyFeed {
	feed := &NotifyFeed{
		log:       log,
		broker:    runtime.NewBroker(log, bufferSize, deliveryTimeout),
		listening: make(map[string]bool),
	}
	feed.listener = pq.NewListener(dsn, time.Second, time.Minute, feed.onEvent)
	return feed
}

func newNotifyFeed(log *slog.Logger, l listener, broker *runtime.Broker) *NotifyFeed {
	return &NotifyFeed{log: log, listener: l, broker: broker, listening: make(map[string]bool)}
}

// Subscribe listens on topic the first time it is asked for.
func (f *NotifyFeed) Subscribe(ctx context.Context, topic string) (contract.FeedSubscription, error) {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil, errors.ErrFeedClosed
	}
	if !f.listening[topic] {
		if err := f.listener.Listen(topic); err != nil && err != pq.ErrChannelAlreadyOpen {
			f.mu.Unlock()
			return nil, fmt.Errorf("%w: listen %s: %v", errors.ErrUnavailable, topic, err)
		}
		f.listening[topic] = true
	}
	f.mu.Unlock()
	return f.broker.Subscribe(ctx, topic)
}

// Run dispatches notifications until ctx is done or the listener is
// closed. A closed listener never delivers again, so Run returns without
// error rather than have the supervisor restart it.
func (f *NotifyFeed) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			f.shutdown()
			return f.listener.Close()
		case n, ok := <-f.listener.NotificationChannel():
			if !ok {
				f.log.Warn("Postgres listener closed, feed stopped")
				f.shutdown()
				return nil
			}
			f.dispatch(ctx, n)
		}
	}
}

func (f *NotifyFeed) shutdown() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	f.broker.FailAll(errors.ErrFeedClosed)
}

// dispatch publishes one notification. A nil notification is how pq signals
// the connection was re-established.
func (f *NotifyFeed) dispatch(ctx context.Context, n *pq.Notification) {
	if n == nil {
		f.log.Warn("Postgres listener reconnected, notifications may be lost")
		f.broker.FailAll(fmt.Errorf("%w: listener reconnected", errors.ErrUnavailable))
		return
	}
	change, err := event.ParseChange([]byte(n.Extra))
	if err != nil {
		f.log.Debug("Notification ignored", "channel", n.Channel, "error", err)
		return
	}
	if err = f.broker.Publish(ctx, n.Channel, change); err != nil {
		f.log.Debug("Notification not published", "channel", n.Channel, "error", err)
	}
}

func (f *NotifyFeed) onEvent(ev pq.ListenerEventType, err error) {
	switch ev {
	case pq.ListenerEventConnectionAttemptFailed, pq.ListenerEventDisconnected:
		f.log.Warn("Postgres listener connection lost", "error", err)
		f.broker.FailAll(fmt.Errorf("%w: %v", errors.ErrUnavailable, err))
	case pq.ListenerEventConnected:
		f.log.Info("Postgres listener connected")
	}
}

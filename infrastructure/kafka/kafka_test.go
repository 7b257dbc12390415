package kafka

import (
	"campus-sync/domain/event"
	"campus-sync/errors"
	"campus-sync/runtime"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/mama165/sdk-go/logs"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
)

// loopback hands written messages back to the reader side.
type loopback struct {
	mu        sync.Mutex
	messages  chan kafka.Message
	committed []int64
	fetchErr  error
}

func (l *loopback) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	for i, msg := range msgs {
		msg.Offset = int64(len(l.messages) + i)
		l.messages <- msg
	}
	return nil
}

func (l *loopback) FetchMessage(ctx context.Context) (kafka.Message, error) {
	l.mu.Lock()
	err := l.fetchErr
	l.mu.Unlock()
	if err != nil {
		return kafka.Message{}, err
	}
	select {
	case msg := <-l.messages:
		return msg, nil
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	}
}

func (l *loopback) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, msg := range msgs {
		l.committed = append(l.committed, msg.Offset)
	}
	return nil
}

func (l *loopback) Close() error { return nil }

func TestFeed_PublisherRoundTrip(t *testing.T) {
	req := require.New(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	bus := &loopback{messages: make(chan kafka.Message, 8)}
	feed := newFeed(log, bus, runtime.NewBroker(log, 8, time.Second))
	publisher := &Publisher{writer: bus}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	sub, err := feed.Subscribe(ctx, "ledger:acc-1")
	req.NoError(err)
	go func() { done <- feed.Run(ctx) }()

	// When a change of another account, then one of acc-1, are published
	req.NoError(publisher.Publish(ctx, "ledger:acc-2", event.Change{Type: event.Update, Table: "accounts", Payload: map[string]any{"id": "acc-2"}}))
	req.NoError(publisher.Publish(ctx, "ledger:acc-1", event.Change{Type: event.Insert, Table: "transactions", Payload: map[string]any{"id": "t1"}}))

	// Then only acc-1's change reaches the subscription
	change := <-sub.Changes()
	req.Equal(event.Insert, change.Type)
	req.Equal("t1", change.Text("id"))
	req.Eventually(func() bool {
		bus.mu.Lock()
		defer bus.mu.Unlock()
		return len(bus.committed) == 2
	}, time.Second, 5*time.Millisecond)

	cancel()
	req.NoError(<-done)
}

func TestFeed_FetchErrorFailsSubscriptions(t *testing.T) {
	req := require.New(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	bus := &loopback{messages: make(chan kafka.Message, 1), fetchErr: fmt.Errorf("broker not available")}
	feed := newFeed(log, bus, runtime.NewBroker(log, 8, time.Second))

	sub, err := feed.Subscribe(context.Background(), "post:p1")
	req.NoError(err)

	req.ErrorIs(feed.Run(context.Background()), errors.ErrUnavailable)
	_, open := <-sub.Changes()
	req.False(open)
	req.ErrorIs(sub.Err(), errors.ErrUnavailable)
}

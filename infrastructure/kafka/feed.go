// Package kafka carries changes over one Kafka topic. The message key is the
// feed topic ("ledger:{id}", "post:{id}"), the value one JSON encoded change.
package kafka

import (
	"campus-sync/contract"
	"campus-sync/domain/event"
	"campus-sync/errors"
	"campus-sync/runtime"
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

const DefaultTopic = "campus-sync.changes"

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Feed is a ChangeFeed fed by a Kafka consumer group. A fetch error ends
// every open subscription with ErrUnavailable, then Run returns so the
// supervisor restarts the consumer.
type Feed struct {
	log    *slog.Logger
	reader messageReader
	broker *runtime.Broker
}

func NewFeed(log *slog.Logger, brokers []string, groupID string, bufferSize int, deliveryTimeout time.Duration) *Feed {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers: brokers,
		GroupID: groupID,
		Topic:   DefaultTopic,
	})
	return newFeed(log, reader, runtime.NewBroker(log, bufferSize, deliveryTimeout))
}

func newFeed(log *slog.Logger, reader messageReader, broker *runtime.Broker) *Feed {
	return &Feed{log: log, reader: reader, broker: broker}
}

func (f *Feed) Subscribe(ctx context.Context, topic string) (contract.FeedSubscription, error) {
	return f.broker.Subscribe(ctx, topic)
}

func (f *Feed) Run(ctx context.Context) error {
	for {
		msg, err := f.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				f.broker.FailAll(errors.ErrFeedClosed)
				return nil
			}
			f.broker.FailAll(fmt.Errorf("%w: %v", errors.ErrUnavailable, err))
			return fmt.Errorf("%w: fetching changes: %v", errors.ErrUnavailable, err)
		}
		f.dispatch(ctx, msg)
		if err = f.reader.CommitMessages(ctx, msg); err != nil {
			f.log.Warn("Commit failed", "offset", msg.Offset, "error", err)
		}
	}
}

// Close releases the consumer.
func (f *Feed) Close() error {
	return f.reader.Close()
}

func (f *Feed) dispatch(ctx context.Context, msg kafka.Message) {
	topic := string(msg.Key)
	if topic == "" {
		f.log.Debug("Message without key ignored", "offset", msg.Offset)
		return
	}
	change, err := event.ParseChange(msg.Value)
	if err != nil {
		f.log.Debug("Message ignored", "topic", topic, "offset", msg.Offset, "error", err)
		return
	}
	if err = f.broker.Publish(ctx, topic, change); err != nil {
		f.log.Debug("Change not published", "topic", topic, "error", err)
	}
}

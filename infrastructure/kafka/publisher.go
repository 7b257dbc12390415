package kafka

import (
	"campus-sync/domain/event"
	"campus-sync/errors"
	"context"
	"fmt"

	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher writes changes to the changes topic. Keying by feed topic keeps
// the changes of one resource on one partition, hence in order.
type Publisher struct {
	writer messageWriter
}

func NewPublisher(brokers []string) *Publisher {
	return &Publisher{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(brokers...),
			Topic:    DefaultTopic,
			Balancer: &kafka.Hash{},
		},
	}
}

func (p *Publisher) Publish(ctx context.Context, topic string, change event.Change) error {
	data, err := event.MarshalChange(change)
	if err != nil {
		return fmt.Errorf("%w: %v", errors.ErrInvalidPayload, err)
	}
	if err = p.writer.WriteMessages(ctx, kafka.Message{Key: []byte(topic), Value: data}); err != nil {
		return fmt.Errorf("%w: %v", errors.ErrUnavailable, err)
	}
	return nil
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}

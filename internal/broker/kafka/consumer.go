package kafka

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
)

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Consumer struct {
	r messageReader
}

// NewConsumer reads topic as part of groupID. A new group starts from the oldest
// retained message so events published before the first deploy are not lost.
func NewConsumer(brokers []string, topic, groupID string) *Consumer {
	cfg := kafka.ReaderConfig{
		Brokers:           brokers,
		GroupID:           groupID,
		StartOffset:       kafka.FirstOffset,
		MinBytes:          1,
		MaxBytes:          10e6,
		MaxWait:           500 * time.Millisecond,
		HeartbeatInterval: 3 * time.Second,
		SessionTimeout:    30 * time.Second,
	}
	if groupID != "" {
		cfg.GroupTopics = []string{topic}
	} else {
		cfg.Topic = topic
	}
	return newConsumerWithReader(kafka.NewReader(cfg))
}

func newConsumerWithReader(r messageReader) *Consumer {
	return &Consumer{r: r}
}

func (c *Consumer) Close() error {
	return c.r.Close()
}

// Consume runs until ctx is done or handler fails. A message is committed only after
// its handler returned nil, so a failed message is redelivered after restart.
func (c *Consumer) Consume(ctx context.Context, handler func(ctx context.Context, key, value []byte) error) error {
	for {
		msg, err := c.r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return errors.Wrap(err, "fetch message")
		}
		if err := handler(ctx, msg.Key, msg.Value); err != nil {
			return errors.Wrapf(err, "handle %s/%d@%d", msg.Topic, msg.Partition, msg.Offset)
		}
		if err := c.r.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return errors.Wrap(err, "commit message")
		}
	}
}

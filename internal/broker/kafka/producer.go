package kafka

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
)

const contentTypeJSON = "application/json"

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Producer writes keyed messages. The hash balancer sends one key to one partition,
// so the events of a single shipment keep their order.
type Producer struct {
	w   messageWriter
	now func() time.Time
}

func NewProducer(brokers []string) *Producer {
	return newProducerWithWriter(&kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		BatchTimeout:           10 * time.Millisecond,
		WriteTimeout:           10 * time.Second,
		AllowAutoTopicCreation: true,
	})
}

func newProducerWithWriter(w messageWriter) *Producer {
	return &Producer{w: w, now: func() time.Time { return time.Now().UTC() }}
}

func (p *Producer) Publish(ctx context.Context, topic string, key, value []byte) error {
	if topic == "" {
		return errors.New("kafka publish: empty topic")
	}
	err := p.w.WriteMessages(ctx, kafka.Message{
		Topic:   topic,
		Key:     key,
		Value:   value,
		Time:    p.now(),
		Headers: []kafka.Header{{Key: "content-type", Value: []byte(contentTypeJSON)}},
	})
	return errors.Wrapf(err, "kafka publish to %s", topic)
}

func (p *Producer) Close() error {
	if c, ok := p.w.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}

package bus

import (
	"context"
	"encoding/json"

	"github.com/BearBump/trackengine/internal/logger"
	"github.com/BearBump/trackengine/internal/realtime"
	"github.com/pkg/errors"
	goredis "github.com/redis/go-redis/v9"
)

const defaultChannel = "trackengine:realtime"

type redisBus struct {
	log     *logger.Logger
	rdb     *goredis.Client
	channel string
}

// NewRedisBus uses rdb for PUBLISH and SUBSCRIBE on channel. The caller owns rdb.
func NewRedisBus(rdb *goredis.Client, channel string, log *logger.Logger) Bus {
	if channel == "" {
		channel = defaultChannel
	}
	return &redisBus{
		log:     logger.OrNop(log).With("component", "redis-bus"),
		rdb:     rdb,
		channel: channel,
	}
}

func (b *redisBus) Publish(ctx context.Context, msg realtime.Message) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return errors.Wrap(err, "marshal message")
	}
	if err := b.rdb.Publish(ctx, b.channel, raw).Err(); err != nil {
		return errors.Wrap(err, "redis publish")
	}
	return nil
}

// StartForwarder subscribes and passes every message to onMsg until ctx is done.
// It returns once the subscription is confirmed.
func (b *redisBus) StartForwarder(ctx context.Context, onMsg func(m realtime.Message)) error {
	if onMsg == nil {
		return errors.New("onMsg callback required")
	}

	sub := b.rdb.Subscribe(ctx, b.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return errors.Wrap(err, "redis subscribe")
	}

	go func() {
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-ch:
				if !ok || m == nil {
					return
				}
				var msg realtime.Message
				if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
					b.log.Warn("bad realtime payload on bus", "error", err)
					continue
				}
				onMsg(msg)
			}
		}
	}()
	return nil
}

// Close is a no-op: the client is shared and closed by its owner.
func (b *redisBus) Close() error {
	return nil
}

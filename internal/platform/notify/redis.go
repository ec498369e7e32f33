package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

type redisMessage struct {
	Topic  string `json:"topic"`
	Origin string `json:"origin"`
}

// RedisBus fans notifications out to every instance sharing a Redis channel.
// Local subscribers are notified immediately on Publish; messages that come
// back from Redis with this instance's origin are ignored.
type RedisBus struct {
	local   *LocalBus
	rdb     *goredis.Client
	channel string
	origin  string
	logger  zerolog.Logger
}

// NewRedisBus connects to Redis at url (redis://...) and pings it.
func NewRedisBus(ctx context.Context, url, channel string, logger zerolog.Logger) (*RedisBus, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	opts.DialTimeout = 5 * time.Second
	rdb := goredis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return newRedisBus(rdb, channel, logger), nil
}

func newRedisBus(rdb *goredis.Client, channel string, logger zerolog.Logger) *RedisBus {
	if channel == "" {
		channel = "vaidyasetu.changes"
	}
	return &RedisBus{
		local:   NewLocalBus(),
		rdb:     rdb,
		channel: channel,
		origin:  uuid.NewString(),
		logger:  logger.With().Str("component", "redis-bus").Logger(),
	}
}

func (b *RedisBus) Publish(ctx context.Context, topic string) error {
	b.local.dispatch(topic)

	raw, err := json.Marshal(redisMessage{Topic: topic, Origin: b.origin})
	if err != nil {
		return err
	}
	if err := b.rdb.Publish(ctx, b.channel, raw).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

func (b *RedisBus) Subscribe(topic string, fn func()) func() {
	return b.local.Subscribe(topic, fn)
}

// Start subscribes to the Redis channel and forwards remote notifications to
// local subscribers until ctx is cancelled.
func (b *RedisBus) Start(ctx context.Context) error {
	sub := b.rdb.Subscribe(ctx, b.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("redis subscribe: %w", err)
	}

	go func() {
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				_ = sub.Close()
				return
			case m, ok := <-ch:
				if !ok || m == nil {
					_ = sub.Close()
					return
				}
				var msg redisMessage
				if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
					b.logger.Warn().Err(err).Msg("bad change notification payload")
					continue
				}
				if msg.Origin == b.origin {
					continue
				}
				b.local.dispatch(msg.Topic)
			}
		}
	}()
	return nil
}

func (b *RedisBus) Close() error {
	return b.rdb.Close()
}

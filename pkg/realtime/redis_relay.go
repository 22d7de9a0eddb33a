package realtime

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type redisPublisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// RedisRelay publishes frames on Redis channels so that every API instance can deliver them to
// its own local subscribers.
type RedisRelay struct {
	client redisPublisher
	prefix string
	hub    *Hub
	logger *zap.Logger
}

// NewRedisRelay builds a relay that forwards channel prefix+room into hub.
func NewRedisRelay(client redisPublisher, prefix string, hub *Hub, logger *zap.Logger) *RedisRelay {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisRelay{client: client, prefix: prefix, hub: hub, logger: logger}
}

// Publish encodes the event and publishes it to the room channel. ErrNoSubscribers is returned when
// no instance is listening.
func (r *RedisRelay) Publish(ctx context.Context, room, event string, data []byte) error {
	frame, err := EncodeFrame(event, data)
	if err != nil {
		return err
	}
	receivers, err := r.client.Publish(ctx, r.prefix+room, frame).Result()
	if err != nil {
		return fmt.Errorf("publish %s: %w", room, err)
	}
	if receivers == 0 {
		return ErrNoSubscribers
	}
	return nil
}

// Run pattern-subscribes to every room channel and forwards frames to the local hub until ctx is
// cancelled.
func (r *RedisRelay) Run(ctx context.Context, client *redis.Client) error {
	pubsub := client.PSubscribe(ctx, r.prefix+"*")
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s*: %w", r.prefix, err)
	}
	r.logger.Sugar().Infow("realtime relay subscribed", "pattern", r.prefix+"*")

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			r.forward(msg.Channel, msg.Payload)
		}
	}
}

func (r *RedisRelay) forward(channel, payload string) {
	room := strings.TrimPrefix(channel, r.prefix)
	if room == channel || room == "" {
		return
	}
	if err := r.hub.deliver(room, []byte(payload)); err != nil && err != ErrNoSubscribers {
		r.logger.Sugar().Warnw("relay delivery failed", "room", room, "error", err)
	}
}

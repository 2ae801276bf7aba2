package notifier

import (
	"context"
	"encoding/json"
	"fmt"

	"acgo/internal/settings"

	"github.com/redis/go-redis/v9"
)

// Publisher is the subset of *redis.Client the redis channel uses.
type Publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
	Close() error
}

type RedisDialer func(cfg settings.Redis) Publisher

func dialRedis(cfg settings.Redis) Publisher {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
	})
}

func (d *Dispatcher) sendRedis(ctx context.Context, n settings.Notification, ev Event) error {
	r := n.Redis
	if r.Addr == "" {
		return fmt.Errorf("%w: redis_addr is empty", ErrNotConfigured)
	}
	msg, err := json.Marshal(d.payload(ev, true))
	if err != nil {
		return err
	}
	ch := r.Channel
	if ch == "" {
		ch = settings.DefaultRedisChannel
	}
	pub := d.redis(r)
	defer pub.Close()
	if err := pub.Publish(ctx, ch, msg).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

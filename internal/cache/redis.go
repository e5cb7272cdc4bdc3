package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache stores JSON values under a key prefix and announces every change
// on a pub/sub channel so subscribers in other processes hear about it too.
type RedisCache struct {
	client  *redis.Client
	prefix  string
	channel string
	ttl     time.Duration
	subs    *subscribers
}

func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{
		client:  client,
		prefix:  "cache:",
		channel: "cache:events",
		ttl:     ttl,
		subs:    newSubscribers(),
	}
}

func (c *RedisCache) key(key string) string {
	return c.prefix + key
}

func (c *RedisCache) versionKey(key string) string {
	return c.prefix + "version:" + key
}

// setIfVersion writes KEYS[1] only while KEYS[2] still holds ARGV[1]. A
// missing version key counts as 0.
var setIfVersion = redis.NewScript(`
local current = tonumber(redis.call("GET", KEYS[2]) or "0")
if current ~= tonumber(ARGV[1]) then
	return 0
end
if tonumber(ARGV[3]) > 0 then
	redis.call("SET", KEYS[1], ARGV[2], "PX", ARGV[3])
else
	redis.call("SET", KEYS[1], ARGV[2])
end
return 1
`)

func (c *RedisCache) Get(ctx context.Context, key string, dst any) error {
	data, err := c.client.Get(ctx, c.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrMiss
	}
	if err != nil {
		return fmt.Errorf("get cached %s: %w", key, err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("decode cached %s: %w", key, err)
	}
	return nil
}

func (c *RedisCache) Set(ctx context.Context, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode cached %s: %w", key, err)
	}
	if err := c.client.Set(ctx, c.key(key), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("set cached %s: %w", key, err)
	}
	return c.publish(ctx, key)
}

func (c *RedisCache) Version(ctx context.Context, key string) (int64, error) {
	version, err := c.client.Get(ctx, c.versionKey(key)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("cache version %s: %w", key, err)
	}
	return version, nil
}

func (c *RedisCache) SetIfVersion(ctx context.Context, key string, value any, version int64) (bool, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return false, fmt.Errorf("encode cached %s: %w", key, err)
	}
	stored, err := setIfVersion.Run(ctx, c.client,
		[]string{c.key(key), c.versionKey(key)},
		version, data, c.ttl.Milliseconds(),
	).Int()
	if err != nil {
		return false, fmt.Errorf("set cached %s: %w", key, err)
	}
	if stored == 0 {
		return false, nil
	}
	return true, c.publish(ctx, key)
}

// Invalidate deletes the keys and bumps their versions in one transaction.
func (c *RedisCache) Invalidate(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, key := range keys {
			pipe.Del(ctx, c.key(key))
			pipe.Incr(ctx, c.versionKey(key))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("invalidate cache: %w", err)
	}
	for _, key := range keys {
		if err := c.publish(ctx, key); err != nil {
			return err
		}
	}
	return nil
}

func (c *RedisCache) publish(ctx context.Context, key string) error {
	if err := c.client.Publish(ctx, c.channel, key).Err(); err != nil {
		return fmt.Errorf("publish cache event %s: %w", key, err)
	}
	return nil
}

// Subscribe registers fn locally. Notifications arrive through Listen, so
// they cover changes made by every process sharing the Redis instance.
func (c *RedisCache) Subscribe(key string, fn func(string)) func() {
	return c.subs.add(key, fn)
}

// Listen subscribes to the event channel and dispatches events until ctx is
// done or the returned stop function is called. It returns once the
// subscription is confirmed.
func (c *RedisCache) Listen(ctx context.Context) (stop func() error, err error) {
	pubsub := c.client.Subscribe(ctx, c.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", c.channel, err)
	}
	messages := pubsub.Channel()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				c.subs.notify(msg.Payload)
			}
		}
	}()
	return pubsub.Close, nil
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

package kvstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/realleaders/portal/pkg/observability"
)

// RedisOptions configures the Redis connection
type RedisOptions struct {
	URL      string
	Password string
	DB       int
	PoolSize int
}

// NewRedisClient parses opts and verifies the connection
func NewRedisClient(ctx context.Context, opts RedisOptions) (*redis.Client, error) {
	parsed, err := redis.ParseURL(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	if opts.Password != "" {
		parsed.Password = opts.Password
	}
	if opts.DB > 0 {
		parsed.DB = opts.DB
	}
	if opts.PoolSize > 0 {
		parsed.PoolSize = opts.PoolSize
	}

	parsed.DialTimeout = 5 * time.Second
	parsed.ReadTimeout = 3 * time.Second
	parsed.WriteTimeout = 3 * time.Second
	parsed.PoolTimeout = 4 * time.Second

	client := redis.NewClient(parsed)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return client, nil
}

// RedisBackend stores entries in Redis and publishes every change on a
// pub/sub channel so views in other processes observe it.
type RedisBackend struct {
	client  *redis.Client
	prefix  string
	channel string
	pubsub  *redis.PubSub
	hub     hub
	logger  *observability.Logger
	done    chan struct{}
}

// NewRedisBackend subscribes to channel and returns a backend that keeps its
// keys under prefix.
func NewRedisBackend(ctx context.Context, client *redis.Client, prefix, channel string, logger *observability.Logger) (*RedisBackend, error) {
	pubsub := client.Subscribe(ctx, channel)
	// Wait for the subscription so no change published after return is missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", channel, err)
	}

	b := &RedisBackend{
		client:  client,
		prefix:  prefix,
		channel: channel,
		pubsub:  pubsub,
		logger:  logger,
		done:    make(chan struct{}),
	}
	go b.listen()

	return b, nil
}

func (b *RedisBackend) listen() {
	defer close(b.done)

	for msg := range b.pubsub.Channel() {
		var change Change
		if err := json.Unmarshal([]byte(msg.Payload), &change); err != nil {
			b.logger.WithError(err).Warn("Dropping malformed change event")
			continue
		}
		b.hub.publish(change)
	}
}

func (b *RedisBackend) Get(ctx context.Context, key string) (string, error) {
	value, err := b.client.Get(ctx, b.prefix+key).Result()
	if err == redis.Nil {
		return "", ErrNotFound
	} else if err != nil {
		return "", fmt.Errorf("redis get failed: %w", err)
	}
	return value, nil
}

func (b *RedisBackend) Set(ctx context.Context, origin, key, value string) error {
	payload, err := json.Marshal(Change{Key: key, Value: value, Origin: origin})
	if err != nil {
		return fmt.Errorf("failed to marshal change: %w", err)
	}

	_, err = b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, b.prefix+key, value, 0)
		pipe.Publish(ctx, b.channel, payload)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

func (b *RedisBackend) Delete(ctx context.Context, origin string, keys ...string) error {
	cmds := make([]*redis.IntCmd, len(keys))
	_, err := b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, key := range keys {
			cmds[i] = pipe.Del(ctx, b.prefix+key)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}

	pipe := b.client.Pipeline()
	published := 0
	for i, key := range keys {
		if cmds[i].Val() == 0 {
			continue
		}
		payload, err := json.Marshal(Change{Key: key, Deleted: true, Origin: origin})
		if err != nil {
			return fmt.Errorf("failed to marshal change: %w", err)
		}
		pipe.Publish(ctx, b.channel, payload)
		published++
	}
	if published == 0 {
		return nil
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis publish failed: %w", err)
	}
	return nil
}

func (b *RedisBackend) Watch(fn func(Change)) func() {
	return b.hub.watch(fn)
}

// Close stops the subscription. The client is owned by the caller.
func (b *RedisBackend) Close() error {
	err := b.pubsub.Close()
	select {
	case <-b.done:
	case <-time.After(5 * time.Second):
		b.logger.Warn("Timed out waiting for change listener to stop")
	}
	b.hub.reset()
	return err
}

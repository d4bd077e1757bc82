package pubsub

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisBridge implements Bridge over go-redis's Subscribe/Publish, one
// channel per user id (the channel name is the decimal user id, so any
// gateway instance can address a user without coordination).
type RedisBridge struct {
	client *redis.Client

	mu   sync.Mutex
	subs map[int32]*redis.PubSub
}

// Options configures the underlying redis.Client.
type Options struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
}

// NewRedisBridge dials addr and pings it before returning, so a
// misconfigured bridge fails fast at startup rather than on the first
// Subscribe/Publish call.
func NewRedisBridge(opts Options) (*RedisBridge, error) {
	poolSize := opts.PoolSize
	if poolSize <= 0 {
		poolSize = 10
	}
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
		PoolSize: poolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("pubsub: redis ping: %w", err)
	}

	return &RedisBridge{client: client, subs: make(map[int32]*redis.PubSub)}, nil
}

func channelName(userID int32) string {
	return strconv.Itoa(int(userID))
}

// Subscribe opens a redis subscription for userID and drains it on a
// dedicated goroutine into onMessage, until Unsubscribe closes the
// subscription. ctx bounds the subscribe and its confirmation only; the
// drain goroutine does not watch it.
func (b *RedisBridge) Subscribe(ctx context.Context, userID int32, onMessage func(body string)) error {
	b.mu.Lock()
	if _, ok := b.subs[userID]; ok {
		b.mu.Unlock()
		return fmt.Errorf("pubsub: user %d already subscribed", userID)
	}
	sub := b.client.Subscribe(ctx, channelName(userID))
	b.subs[userID] = sub
	b.mu.Unlock()

	if _, err := sub.Receive(ctx); err != nil {
		b.mu.Lock()
		delete(b.subs, userID)
		b.mu.Unlock()
		sub.Close()
		return fmt.Errorf("pubsub: subscribe user %d: %w", userID, err)
	}

	ch := sub.Channel()
	go func() {
		for msg := range ch {
			onMessage(msg.Payload)
		}
	}()
	return nil
}

// Unsubscribe closes userID's subscription, if any.
func (b *RedisBridge) Unsubscribe(userID int32) error {
	b.mu.Lock()
	sub, ok := b.subs[userID]
	if ok {
		delete(b.subs, userID)
	}
	b.mu.Unlock()
	if !ok {
		return nil
	}
	return sub.Close()
}

// Publish sends body to userID's channel.
func (b *RedisBridge) Publish(ctx context.Context, userID int32, body string) error {
	return b.client.Publish(ctx, channelName(userID), body).Err()
}

// Close releases the underlying redis client.
func (b *RedisBridge) Close() error {
	return b.client.Close()
}

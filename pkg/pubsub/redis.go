package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	pkglog "github.com/weiawesome/wes-io-live/danmu-relay/pkg/log"
)

// RedisPubSub implements PubSub interface using Redis.
type RedisPubSub struct {
	client        *redis.Client
	subscriptions map[string]*redis.PubSub
	bufferSize    int
	mu            sync.Mutex
}

// NewRedisPubSub creates a new Redis-based PubSub instance.
func NewRedisPubSub(cfg RedisConfig, bufferSize int) (*RedisPubSub, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return newRedisPubSub(client, bufferSize), nil
}

func newRedisPubSub(client *redis.Client, bufferSize int) *RedisPubSub {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	return &RedisPubSub{
		client:        client,
		subscriptions: make(map[string]*redis.PubSub),
		bufferSize:    bufferSize,
	}
}

// Publish publishes an event to the specified channel.
func (r *RedisPubSub) Publish(ctx context.Context, channel string, event *Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	return r.client.Publish(ctx, channel, data).Err()
}

// Subscribe subscribes to a specific channel. An existing subscription on the
// same channel is replaced.
func (r *RedisPubSub) Subscribe(ctx context.Context, channel string) (<-chan *Event, error) {
	ps := r.client.Subscribe(ctx, channel)

	// Wait for the subscription to be confirmed so no early publish is lost.
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", channel, err)
	}

	r.mu.Lock()
	if old, ok := r.subscriptions[channel]; ok {
		old.Close()
	}
	r.subscriptions[channel] = ps
	r.mu.Unlock()

	eventCh := make(chan *Event, r.bufferSize)
	go r.processMessages(ctx, channel, ps, eventCh)

	return eventCh, nil
}

// Unsubscribe unsubscribes from a channel.
func (r *RedisPubSub) Unsubscribe(ctx context.Context, channel string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if ps, ok := r.subscriptions[channel]; ok {
		delete(r.subscriptions, channel)
		if err := ps.Close(); err != nil {
			return err
		}
	}

	return nil
}

// Close closes all subscriptions and the Redis client.
func (r *RedisPubSub) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, ps := range r.subscriptions {
		ps.Close()
	}
	r.subscriptions = make(map[string]*redis.PubSub)

	return r.client.Close()
}

// processMessages forwards decoded events in arrival order. It blocks rather
// than drops when the consumer is slow.
func (r *RedisPubSub) processMessages(ctx context.Context, channel string, ps *redis.PubSub, eventCh chan<- *Event) {
	defer close(eventCh)
	l := pkglog.L()

	ch := ps.Channel()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}

			event, err := DecodeEvent([]byte(msg.Payload))
			if err != nil {
				l.Warn().Err(err).Str("channel", channel).Msg("redis pubsub: invalid event payload")
				continue
			}

			select {
			case eventCh <- event:
			case <-ctx.Done():
				return
			}
		}
	}
}

package registry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/weiawesome/wes-io-live/danmu-relay/internal/config"
	"github.com/weiawesome/wes-io-live/danmu-relay/internal/hub"
	"github.com/weiawesome/wes-io-live/danmu-relay/pkg/log"
)

const opTimeout = 3 * time.Second

// RedisRegistry records which relay instance holds the upstream session of
// each room. It is a hub.SessionObserver.
type RedisRegistry struct {
	client            redis.Cmdable
	closer            func() error
	advertiseAddress  string
	prefix            string
	keyTTL            time.Duration
	heartbeatInterval time.Duration
	owned             map[string]uint64 // roomID -> session generation
	mu                sync.RWMutex
	cancel            context.CancelFunc
	done              chan struct{}
}

var _ hub.SessionObserver = (*RedisRegistry)(nil)

func NewRedisRegistry(cfg config.RedisConfig, advertiseAddress string) (*RedisRegistry, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	r := newRegistry(client, cfg, advertiseAddress)
	r.closer = client.Close
	return r, nil
}

func newRegistry(client redis.Cmdable, cfg config.RedisConfig, advertiseAddress string) *RedisRegistry {
	return &RedisRegistry{
		client:            client,
		advertiseAddress:  advertiseAddress,
		prefix:            cfg.RegistryPrefix,
		keyTTL:            cfg.KeyTTL,
		heartbeatInterval: cfg.HeartbeatInterval,
		owned:             make(map[string]uint64),
	}
}

func (r *RedisRegistry) keyFor(roomID string) string {
	return fmt.Sprintf("%s:room:%s", r.prefix, roomID)
}

// SessionStarted claims roomID for this instance.
func (r *RedisRegistry) SessionStarted(ctx context.Context, roomID string, generation uint64) {
	r.mu.Lock()
	r.owned[roomID] = generation
	r.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), opTimeout)
	defer cancel()

	l := log.Ctx(ctx)
	key := r.keyFor(roomID)
	if err := r.client.Set(ctx, key, r.advertiseAddress, r.keyTTL).Err(); err != nil {
		l.Error().Err(err).Str(log.FieldKey, key).Msg("failed to register room")
		return
	}
	l.Info().Str("address", r.advertiseAddress).Msg("registered room")
}

// SessionEnded releases roomID unless a newer session already owns it.
func (r *RedisRegistry) SessionEnded(ctx context.Context, roomID string, generation uint64, outcome hub.Outcome) {
	r.mu.Lock()
	if r.owned[roomID] != generation {
		r.mu.Unlock()
		return
	}
	delete(r.owned, roomID)
	r.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), opTimeout)
	defer cancel()

	l := log.Ctx(ctx)
	key := r.keyFor(roomID)
	if err := r.client.Del(ctx, key).Err(); err != nil {
		l.Error().Err(err).Str(log.FieldKey, key).Msg("failed to deregister room")
		return
	}
	l.Info().Str(log.FieldOutcome, outcome.Kind.String()).Msg("deregistered room")
}

// Lookup returns the address of the instance holding roomID.
func (r *RedisRegistry) Lookup(ctx context.Context, roomID string) (string, error) {
	addr, err := r.client.Get(ctx, r.keyFor(roomID)).Result()
	if err == redis.Nil {
		return "", fmt.Errorf("room %s not registered", roomID)
	}
	if err != nil {
		return "", fmt.Errorf("failed to lookup room: %w", err)
	}
	return addr, nil
}

func (r *RedisRegistry) StartHeartbeat(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})

	go r.heartbeatLoop(ctx)
	l := log.L()
	l.Info().Dur("interval", r.heartbeatInterval).Dur("ttl", r.keyTTL).Msg("registry heartbeat started")
}

func (r *RedisRegistry) heartbeatLoop(ctx context.Context) {
	defer close(r.done)
	ticker := time.NewTicker(r.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.refreshKeys(ctx)
		}
	}
}

func (r *RedisRegistry) ownedRooms() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rooms := make([]string, 0, len(r.owned))
	for roomID := range r.owned {
		rooms = append(rooms, roomID)
	}
	return rooms
}

func (r *RedisRegistry) refreshKeys(ctx context.Context) {
	for _, roomID := range r.ownedRooms() {
		key := r.keyFor(roomID)
		if err := r.client.Set(ctx, key, r.advertiseAddress, r.keyTTL).Err(); err != nil {
			l := log.L()
			l.Error().Str(log.FieldKey, key).Err(err).Msg("failed to refresh key")
		}
	}
}

// StopHeartbeat stops the refresh loop and waits for it to exit.
func (r *RedisRegistry) StopHeartbeat() {
	if r.cancel != nil {
		r.cancel()
		<-r.done
	}
}

// Close stops the heartbeat and removes every key this instance still owns.
func (r *RedisRegistry) Close() error {
	r.StopHeartbeat()

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	for _, roomID := range r.ownedRooms() {
		r.client.Del(ctx, r.keyFor(roomID))
	}

	if r.closer != nil {
		return r.closer()
	}
	return nil
}

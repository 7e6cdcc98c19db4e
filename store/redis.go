package store

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig contains configuration options for Redis.
type RedisConfig struct {
	// Addr is the Redis server address (e.g., "localhost:6379")
	Addr string

	// Password is the Redis password (empty for no auth)
	Password string

	// DB is the Redis database number (0-15)
	DB int

	// KeyPrefix is prepended to all keys (default: "geotrack:")
	// typically ends with a colon.
	KeyPrefix string
}

const defaultRedisPrefix = "geotrack:"

// NewRedisClient connects to Redis and verifies the connection.
func NewRedisClient(cfg RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis: failed to connect: %w", err)
	}
	return client, nil
}

// RedisStateStore implements StateStore as a single Redis hash.
type RedisStateStore struct {
	client *redis.Client
	key    string
}

// NewRedisStateStore creates a state store from a Redis client and a key prefix.
// prefix typically ends with a colon.
func NewRedisStateStore(client *redis.Client, keyPrefix string) *RedisStateStore {
	if keyPrefix == "" {
		keyPrefix = defaultRedisPrefix
	}
	return &RedisStateStore{
		client: client,
		key:    keyPrefix + "state",
	}
}

// LoadState reads the state hash. A missing key yields the zero State.
func (s *RedisStateStore) LoadState(ctx context.Context) (State, error) {
	fields, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		return State{}, fmt.Errorf("redis: failed to load state: %w", err)
	}
	if len(fields) == 0 {
		return State{}, nil
	}

	var state State
	state.Active = fields["active"] == "1"
	state.Owner = fields["owner"]
	if state.SessionID, err = strconv.ParseInt(fields["session_id"], 10, 64); err != nil {
		return State{}, fmt.Errorf("redis: invalid session_id in state: %w", err)
	}
	if ms, err := strconv.ParseInt(fields["updated_at"], 10, 64); err == nil {
		state.UpdatedAt = fromMillis(ms)
	}
	return state, nil
}

// SaveState writes all state fields in one HSET so readers never see a mix.
func (s *RedisStateStore) SaveState(ctx context.Context, state State) error {
	if state.UpdatedAt.IsZero() {
		state.UpdatedAt = time.Now()
	}
	active := "0"
	if state.Active {
		active = "1"
	}

	err := s.client.HSet(ctx, s.key,
		"active", active,
		"session_id", strconv.FormatInt(state.SessionID, 10),
		"owner", state.Owner,
		"updated_at", strconv.FormatInt(toMillis(state.UpdatedAt), 10),
	).Err()
	if err != nil {
		return fmt.Errorf("redis: failed to save state: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func (s *RedisStateStore) Close() error {
	return s.client.Close()
}

// RedisRelay publishes live-update payloads to per-session Redis channels,
// so subscribers in other processes can follow a session.
type RedisRelay struct {
	client *redis.Client
	prefix string
}

// NewRedisRelay creates a relay from a Redis client and a key prefix.
func NewRedisRelay(client *redis.Client, keyPrefix string) *RedisRelay {
	if keyPrefix == "" {
		keyPrefix = defaultRedisPrefix
	}
	return &RedisRelay{client: client, prefix: keyPrefix}
}

// Channel returns the pub/sub channel carrying updates for a session.
func (r *RedisRelay) Channel(sessionID int64) string {
	return r.prefix + "session:" + strconv.FormatInt(sessionID, 10) + ":updates"
}

// Publish sends a payload on the session's channel.
func (r *RedisRelay) Publish(ctx context.Context, sessionID int64, payload []byte) error {
	if err := r.client.Publish(ctx, r.Channel(sessionID), payload).Err(); err != nil {
		return fmt.Errorf("redis: failed to publish update: %w", err)
	}
	return nil
}

// Subscribe returns a pub/sub subscription to every session's updates.
// The caller must close it.
func (r *RedisRelay) Subscribe(ctx context.Context) *redis.PubSub {
	return r.client.PSubscribe(ctx, r.prefix+"session:*:updates")
}

// SessionIDFromChannel extracts the session ID from a relay channel name.
func (r *RedisRelay) SessionIDFromChannel(channel string) (int64, error) {
	const suffix = ":updates"
	head := r.prefix + "session:"
	if !strings.HasPrefix(channel, head) || !strings.HasSuffix(channel, suffix) ||
		len(channel) <= len(head)+len(suffix) {
		return 0, fmt.Errorf("redis: %q is not a relay channel", channel)
	}
	id, err := strconv.ParseInt(channel[len(head):len(channel)-len(suffix)], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("redis: bad session id in channel %q: %w", channel, err)
	}
	return id, nil
}

// Close closes the Redis connection.
func (r *RedisRelay) Close() error {
	return r.client.Close()
}

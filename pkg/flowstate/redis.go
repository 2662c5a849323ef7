package flowstate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Default timeouts for Redis operations.
const (
	DefaultDialTimeout  = 5 * time.Second
	DefaultReadTimeout  = 3 * time.Second
	DefaultWriteTimeout = 3 * time.Second
)

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	Addr     string
	Username string
	Password string
	DB       int

	// KeyPrefix namespaces flow-state keys, e.g. "provisioner:flow:".
	KeyPrefix string

	// Timeouts (defaults: Dial=5s, Read=3s, Write=3s).
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// RedisStore implements Store on Redis. TTL expiry is enforced by Redis
// itself and single-use consumption relies on the atomicity of GETDEL, so
// two concurrent callback deliveries for the same nonce cannot both succeed.
type RedisStore struct {
	client    redis.UniversalClient
	keyPrefix string
}

// storedContext is the serialized form of a flow context plus its creation
// time, so expiry can be double-checked independently of the key TTL.
type storedContext struct {
	Context   Context `json:"context"`
	CreatedAt int64   `json:"createdAt"`
	ExpiresAt int64   `json:"expiresAt"`
}

// NewRedisStore creates a Redis-backed flow state store and verifies the
// connection.
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address is required")
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = DefaultDialTimeout
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisStore{client: client, keyPrefix: cfg.KeyPrefix}, nil
}

// NewRedisStoreWithClient creates a RedisStore with a pre-configured client.
// This is useful for testing with miniredis.
func NewRedisStoreWithClient(client redis.UniversalClient, keyPrefix string) *RedisStore {
	return &RedisStore{client: client, keyPrefix: keyPrefix}
}

// Put stores the context under nonce with the given TTL.
func (s *RedisStore) Put(ctx context.Context, nonce string, flowCtx Context, ttl time.Duration) error {
	if nonce == "" {
		return errors.New("nonce cannot be empty")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	now := time.Now()
	data, err := json.Marshal(storedContext{
		Context:   flowCtx,
		CreatedAt: now.Unix(),
		ExpiresAt: now.Add(ttl).Unix(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal flow state: %w", err)
	}

	return s.client.Set(ctx, s.key(nonce), data, ttl).Err()
}

// GetAndDelete atomically retrieves and removes the context bound to nonce.
func (s *RedisStore) GetAndDelete(ctx context.Context, nonce string) (Context, error) {
	data, err := s.client.GetDel(ctx, s.key(nonce)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Context{}, ErrNotFound
		}
		return Context{}, fmt.Errorf("failed to consume flow state: %w", err)
	}

	var stored storedContext
	if err := json.Unmarshal(data, &stored); err != nil {
		return Context{}, fmt.Errorf("failed to unmarshal flow state: %w", err)
	}

	// Redis TTL should have expired the key already, but double-check so a
	// lagging clock can never stretch the validity window.
	if time.Now().Unix() >= stored.ExpiresAt {
		return Context{}, ErrNotFound
	}

	return stored.Context, nil
}

// Close releases the underlying Redis client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) key(nonce string) string {
	return s.keyPrefix + nonce
}

var _ Store = (*RedisStore)(nil)

// Package session provides the persisted client state: the bearer
// credential and the widget order, both kept in Redis per device.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps per-device state under a common key prefix.
type RedisStore struct {
	client *redis.Client
	prefix string
	device string
}

// NewRedisStore creates a new Redis-backed store for one device.
func NewRedisStore(redisURL, deviceID string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisStoreWithClient(client, deviceID), nil
}

// NewRedisStoreWithClient creates a store from an existing Redis client
func NewRedisStoreWithClient(client *redis.Client, deviceID string) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: "homeboard:",
		device: deviceID,
	}
}

func (s *RedisStore) key(kind string) string {
	return s.prefix + kind + ":" + s.device
}

// LoadToken returns the stored credential, or "" when none is stored.
func (s *RedisStore) LoadToken(ctx context.Context) (string, error) {
	token, err := s.client.Get(ctx, s.key("token")).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("load token: %w", err)
	}
	return token, nil
}

// SaveToken stores the credential without expiry; the backend decides
// when it is no longer valid.
func (s *RedisStore) SaveToken(ctx context.Context, token string) error {
	if err := s.client.Set(ctx, s.key("token"), token, 0).Err(); err != nil {
		return fmt.Errorf("save token: %w", err)
	}
	return nil
}

// DeleteToken removes the credential. Deleting a missing token is not an error.
func (s *RedisStore) DeleteToken(ctx context.Context) error {
	if err := s.client.Del(ctx, s.key("token")).Err(); err != nil {
		return fmt.Errorf("delete token: %w", err)
	}
	return nil
}

// LoadOrder returns the persisted widget order. ok is false when nothing
// has been persisted yet.
func (s *RedisStore) LoadOrder(ctx context.Context) (order []string, ok bool, err error) {
	raw, err := s.client.Get(ctx, s.key("layout")).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load layout: %w", err)
	}
	if err := json.Unmarshal([]byte(raw), &order); err != nil {
		return nil, false, fmt.Errorf("decode layout: %w", err)
	}
	return order, true, nil
}

// SaveOrder persists the widget order.
func (s *RedisStore) SaveOrder(ctx context.Context, order []string) error {
	payload, err := json.Marshal(order)
	if err != nil {
		return fmt.Errorf("encode layout: %w", err)
	}
	if err := s.client.Set(ctx, s.key("layout"), payload, 0).Err(); err != nil {
		return fmt.Errorf("save layout: %w", err)
	}
	return nil
}

// GetJSON decodes the cached value for name into target. It reports
// false on a cache miss.
func (s *RedisStore) GetJSON(ctx context.Context, name string, target any) (bool, error) {
	raw, err := s.client.Get(ctx, s.key("cache:"+name)).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("cache get %s: %w", name, err)
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return false, fmt.Errorf("cache decode %s: %w", name, err)
	}
	return true, nil
}

// SetJSON caches value under name for ttl.
func (s *RedisStore) SetJSON(ctx context.Context, name string, value any, ttl time.Duration) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache encode %s: %w", name, err)
	}
	if err := s.client.Set(ctx, s.key("cache:"+name), payload, ttl).Err(); err != nil {
		return fmt.Errorf("cache set %s: %w", name, err)
	}
	return nil
}

// Invalidate drops a cached value.
func (s *RedisStore) Invalidate(ctx context.Context, name string) error {
	if err := s.client.Del(ctx, s.key("cache:"+name)).Err(); err != nil {
		return fmt.Errorf("cache invalidate %s: %w", name, err)
	}
	return nil
}

// Close closes the Redis connection
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks if Redis is reachable
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

package app

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// IdempotencyKeys hands out ledger idempotency keys that are shared by every
// concurrent attempt of the same (scope, subject) operation until released or
// expired.
type IdempotencyKeys interface {
	Reserve(ctx context.Context, scope, subject string) (string, error)
	Release(ctx context.Context, scope, subject string) error
}

// RedisIdempotencyKeys stores reserved keys in Redis so that every replica
// sees the same key for a user's in-flight createAccount.
type RedisIdempotencyKeys struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisIdempotencyKeys creates a Redis-backed key store.
func NewRedisIdempotencyKeys(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisIdempotencyKeys {
	trimmedPrefix := strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if trimmedPrefix == "" {
		trimmedPrefix = "onboarding"
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &RedisIdempotencyKeys{client: client, prefix: trimmedPrefix, ttl: ttl}
}

func (r *RedisIdempotencyKeys) key(scope, subject string) string {
	return fmt.Sprintf("%s:idempotency:%s:%s", r.prefix, scope, subject)
}

// Reserve sets a fresh key with SETNX, or returns the one already held.
func (r *RedisIdempotencyKeys) Reserve(ctx context.Context, scope, subject string) (string, error) {
	redisKey := r.key(scope, subject)
	candidate := uuid.NewString()

	ok, err := r.client.SetNX(ctx, redisKey, candidate, r.ttl).Result()
	if err != nil {
		return "", fmt.Errorf("failed to reserve idempotency key: %w", err)
	}
	if ok {
		return candidate, nil
	}

	existing, err := r.client.Get(ctx, redisKey).Result()
	if err == redis.Nil {
		// Expired between SETNX and GET; take it again.
		if err := r.client.Set(ctx, redisKey, candidate, r.ttl).Err(); err != nil {
			return "", fmt.Errorf("failed to reserve idempotency key: %w", err)
		}
		return candidate, nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read idempotency key: %w", err)
	}
	return existing, nil
}

// Release drops the reservation so that the next attempt uses a new key.
func (r *RedisIdempotencyKeys) Release(ctx context.Context, scope, subject string) error {
	if err := r.client.Del(ctx, r.key(scope, subject)).Err(); err != nil {
		return fmt.Errorf("failed to release idempotency key: %w", err)
	}
	return nil
}

// MemoryIdempotencyKeys is the single-process fallback used when Redis is not
// configured, and by tests.
type MemoryIdempotencyKeys struct {
	mu   sync.Mutex
	ttl  time.Duration
	now  func() time.Time
	keys map[string]memoryKey
}

type memoryKey struct {
	value     string
	expiresAt time.Time
}

// NewMemoryIdempotencyKeys creates an in-process key store.
func NewMemoryIdempotencyKeys(ttl time.Duration) *MemoryIdempotencyKeys {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &MemoryIdempotencyKeys{ttl: ttl, now: time.Now, keys: make(map[string]memoryKey)}
}

func (m *MemoryIdempotencyKeys) Reserve(ctx context.Context, scope, subject string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := scope + ":" + subject
	now := m.now()
	if held, ok := m.keys[k]; ok && now.Before(held.expiresAt) {
		return held.value, nil
	}
	value := uuid.NewString()
	m.keys[k] = memoryKey{value: value, expiresAt: now.Add(m.ttl)}
	return value, nil
}

func (m *MemoryIdempotencyKeys) Release(ctx context.Context, scope, subject string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.keys, scope+":"+subject)
	return nil
}

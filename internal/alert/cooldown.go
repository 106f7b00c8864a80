package alert

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// CooldownStore tracks which (source, level) pairs alerted recently.
// Acquire reports whether the caller won the window; a second Acquire
// for the same key inside the window loses.
type CooldownStore interface {
	Acquire(ctx context.Context, key string, window time.Duration) (bool, error)
}

// MemoryCooldown is the default in-process cooldown store.
type MemoryCooldown struct {
	mu    sync.Mutex
	seen  map[string]time.Time
	clock func() time.Time
}

// NewMemoryCooldown creates an in-process cooldown store.
func NewMemoryCooldown() *MemoryCooldown {
	return &MemoryCooldown{
		seen:  make(map[string]time.Time),
		clock: time.Now,
	}
}

// Acquire wins the window if the key is unseen or its window expired.
func (m *MemoryCooldown) Acquire(_ context.Context, key string, window time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock()
	if until, ok := m.seen[key]; ok && now.Before(until) {
		return false, nil
	}
	m.seen[key] = now.Add(window)

	// Opportunistic cleanup of expired entries.
	if len(m.seen) > 4096 {
		for k, until := range m.seen {
			if now.After(until) {
				delete(m.seen, k)
			}
		}
	}
	return true, nil
}

// RedisCooldownConfig holds Redis connection settings for the shared
// cooldown store.
type RedisCooldownConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// DefaultRedisCooldownConfig returns the default Redis configuration.
func DefaultRedisCooldownConfig() RedisCooldownConfig {
	return RedisCooldownConfig{
		Enabled: false,
		Addr:    "localhost:6379",
		Prefix:  "lurecage:cooldown:",
	}
}

// RedisCooldown shares the cooldown window across instances via Redis.
type RedisCooldown struct {
	client *redis.Client
	prefix string
}

// NewRedisCooldown connects to Redis and verifies the connection.
func NewRedisCooldown(ctx context.Context, cfg RedisCooldownConfig) (*RedisCooldown, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("cooldown: redis ping: %w", err)
	}

	return &RedisCooldown{client: client, prefix: cfg.Prefix}, nil
}

// Acquire uses SET NX with the window as TTL, so expiry is handled by
// Redis and the winner is decided atomically across instances.
func (r *RedisCooldown) Acquire(ctx context.Context, key string, window time.Duration) (bool, error) {
	ok, err := r.client.SetNX(ctx, r.prefix+key, 1, window).Result()
	if err != nil {
		return false, fmt.Errorf("cooldown: redis setnx: %w", err)
	}
	return ok, nil
}

// Close releases the Redis connection.
func (r *RedisCooldown) Close() error {
	return r.client.Close()
}

package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Deduplicator remembers which events were already handled.
type Deduplicator interface {
	// Claim reports whether eventID is seen for the first time and marks it as seen.
	Claim(ctx context.Context, eventID string) (bool, error)
	// Forget drops a claim so a failed event can be redelivered.
	Forget(ctx context.Context, eventID string) error
}

// RedisDeduplicator stores claims as expiring Redis keys.
type RedisDeduplicator struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// NewRedisDeduplicator creates a RedisDeduplicator keeping claims for ttl.
func NewRedisDeduplicator(client *redis.Client, ttl time.Duration) *RedisDeduplicator {
	return &RedisDeduplicator{client: client, ttl: ttl, prefix: "ferry:payment-event:"}
}

// Claim implements Deduplicator.
func (d *RedisDeduplicator) Claim(ctx context.Context, eventID string) (bool, error) {
	ok, err := d.client.SetNX(ctx, d.prefix+eventID, time.Now().UTC().Format(time.RFC3339), d.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx: %w", err)
	}
	return ok, nil
}

// Forget implements Deduplicator.
func (d *RedisDeduplicator) Forget(ctx context.Context, eventID string) error {
	return d.client.Del(ctx, d.prefix+eventID).Err()
}

// MemoryDeduplicator keeps claims in process memory. Claims never expire.
type MemoryDeduplicator struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

// NewMemoryDeduplicator creates an empty MemoryDeduplicator.
func NewMemoryDeduplicator() *MemoryDeduplicator {
	return &MemoryDeduplicator{seen: make(map[string]struct{})}
}

// Claim implements Deduplicator.
func (d *MemoryDeduplicator) Claim(_ context.Context, eventID string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.seen[eventID]; ok {
		return false, nil
	}
	d.seen[eventID] = struct{}{}
	return true, nil
}

// Forget implements Deduplicator.
func (d *MemoryDeduplicator) Forget(_ context.Context, eventID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.seen, eventID)
	return nil
}

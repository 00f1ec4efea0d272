package billing

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultDedupTTL covers the gateway's redelivery window.
const DefaultDedupTTL = 72 * time.Hour

// Deduplicator claims gateway event ids so redeliveries are skipped.
// Claim returns false when the id was already claimed. Release forgets a
// claim so a failed event can be retried on redelivery.
type Deduplicator interface {
	Claim(ctx context.Context, eventID string) (bool, error)
	Release(ctx context.Context, eventID string) error
}

// RedisDeduplicator stores claims as keys with a TTL (SET NX).
type RedisDeduplicator struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisDeduplicator creates a Redis-backed deduplicator.
// An empty prefix defaults to "billing:event"; a non-positive ttl to DefaultDedupTTL.
func NewRedisDeduplicator(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisDeduplicator {
	if prefix == "" {
		prefix = "billing:event"
	}
	if ttl <= 0 {
		ttl = DefaultDedupTTL
	}
	return &RedisDeduplicator{client: client, prefix: prefix, ttl: ttl}
}

func (d *RedisDeduplicator) key(id string) string { return d.prefix + ":" + id }

func (d *RedisDeduplicator) Claim(ctx context.Context, eventID string) (bool, error) {
	return d.client.SetNX(ctx, d.key(eventID), time.Now().UTC().Format(time.RFC3339), d.ttl).Result()
}

func (d *RedisDeduplicator) Release(ctx context.Context, eventID string) error {
	return d.client.Del(ctx, d.key(eventID)).Err()
}

// MemoryDeduplicator keeps claims in process memory.
type MemoryDeduplicator struct {
	mu     sync.Mutex
	claims map[string]time.Time
	ttl    time.Duration
	now    func() time.Time
}

func NewMemoryDeduplicator(ttl time.Duration) *MemoryDeduplicator {
	if ttl <= 0 {
		ttl = DefaultDedupTTL
	}
	return &MemoryDeduplicator{claims: make(map[string]time.Time), ttl: ttl, now: time.Now}
}

func (d *MemoryDeduplicator) Claim(_ context.Context, eventID string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := d.now()
	if exp, ok := d.claims[eventID]; ok && now.Before(exp) {
		return false, nil
	}
	d.claims[eventID] = now.Add(d.ttl)
	return true, nil
}

func (d *MemoryDeduplicator) Release(_ context.Context, eventID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.claims, eventID)
	return nil
}

// Package idempotency records recently processed inbound message ids so that
// channel redeliveries are acknowledged without repeating side effects.
package idempotency

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bilLkarkariy/bbta-saas-sub000/internal/store"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/redis/go-redis/v9"
)

const (
	// DefaultTTL is how long a message id is remembered.
	DefaultTTL = 24 * time.Hour
	// DefaultMaxEntries bounds the in-memory set.
	DefaultMaxEntries = 100_000
	// DefaultKeyPrefix namespaces dedup keys in Redis.
	DefaultKeyPrefix = "bbta:inbound:"
)

// Deduper claims message ids. Claim returns true exactly once per id within
// the retention window; later claims of the same id return false.
type Deduper interface {
	Claim(ctx context.Context, messageID, sender string) (bool, error)
	// Release forgets a claim so that a redelivery is processed again.
	Release(ctx context.Context, messageID string) error
}

// MemoryDeduper is a bounded, time-evicted set held in process memory.
type MemoryDeduper struct {
	mu   sync.Mutex
	seen *expirable.LRU[string, string]
}

var _ Deduper = (*MemoryDeduper)(nil)

// NewMemoryDeduper creates a set holding at most maxEntries ids for ttl each.
// When full, the least recently claimed id is evicted first.
func NewMemoryDeduper(maxEntries int, ttl time.Duration) *MemoryDeduper {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryDeduper{seen: expirable.NewLRU[string, string](maxEntries, nil, ttl)}
}

func (d *MemoryDeduper) Claim(ctx context.Context, messageID, sender string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.seen.Get(messageID); ok {
		return false, nil
	}
	d.seen.Add(messageID, sender)
	return true, nil
}

func (d *MemoryDeduper) Release(ctx context.Context, messageID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seen.Remove(messageID)
	return nil
}

// Len returns the number of remembered ids.
func (d *MemoryDeduper) Len() int {
	return d.seen.Len()
}

// Reset forgets every id.
func (d *MemoryDeduper) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seen.Purge()
}

// RedisDeduper shares claims between replicas through Redis SET NX.
type RedisDeduper struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

var _ Deduper = (*RedisDeduper)(nil)

// NewRedisDeduper creates a deduper on an existing Redis client.
func NewRedisDeduper(client *redis.Client, ttl time.Duration) *RedisDeduper {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisDeduper{client: client, ttl: ttl, prefix: DefaultKeyPrefix}
}

func (d *RedisDeduper) Claim(ctx context.Context, messageID, sender string) (bool, error) {
	ok, err := d.client.SetNX(ctx, d.prefix+messageID, sender, d.ttl).Result()
	if err != nil {
		slog.Error("RedisDeduper.Claim: redis error", "messageID", messageID, "error", err)
		return false, fmt.Errorf("claim %s: %w", messageID, err)
	}
	return ok, nil
}

func (d *RedisDeduper) Release(ctx context.Context, messageID string) error {
	if err := d.client.Del(ctx, d.prefix+messageID).Err(); err != nil {
		return fmt.Errorf("release %s: %w", messageID, err)
	}
	return nil
}

// StoreDeduper persists claims in the conversation store so they survive restarts.
type StoreDeduper struct {
	repo store.DedupRepo
	ttl  time.Duration
}

var _ Deduper = (*StoreDeduper)(nil)

// NewStoreDeduper wraps a DedupRepo. Records older than ttl are removed by Purge.
func NewStoreDeduper(repo store.DedupRepo, ttl time.Duration) *StoreDeduper {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &StoreDeduper{repo: repo, ttl: ttl}
}

func (d *StoreDeduper) Claim(ctx context.Context, messageID, sender string) (bool, error) {
	return d.repo.RecordInbound(messageID, sender)
}

func (d *StoreDeduper) Release(ctx context.Context, messageID string) error {
	return d.repo.ForgetInbound(messageID)
}

// Purge deletes records older than the retention window.
func (d *StoreDeduper) Purge(now time.Time) (int64, error) {
	n, err := d.repo.PurgeInbound(now.Add(-d.ttl))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		slog.Info("StoreDeduper.Purge: removed expired inbound records", "count", n)
	}
	return n, nil
}

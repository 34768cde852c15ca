// Package ratelimit enforces a per-sender message budget.
//
// Counting uses fixed windows: the first message of a sender opens a window
// of one period and every message inside it increments the same counter.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	sredis "github.com/ulule/limiter/v3/drivers/store/redis"
)

const (
	// DefaultRate is the default per-sender budget: 20 messages per minute.
	DefaultRate = "20-M"
	// DefaultPrefix namespaces counters in the backing store.
	DefaultPrefix = "bbta:ratelimit"
)

// Limiter decides whether a sender is still within its budget.
type Limiter struct {
	mu       sync.RWMutex
	rate     limiter.Rate
	newStore func() (limiter.Store, error)
	lim      *limiter.Limiter
}

// NewMemory creates a process-local limiter for the formatted rate (e.g. "20-M").
func NewMemory(formatted string) (*Limiter, error) {
	return newLimiter(formatted, func() (limiter.Store, error) {
		return memory.NewStoreWithOptions(limiter.StoreOptions{Prefix: DefaultPrefix, CleanUpInterval: time.Minute}), nil
	})
}

// NewRedis creates a limiter whose counters are shared through Redis.
func NewRedis(formatted string, client *redis.Client) (*Limiter, error) {
	return newLimiter(formatted, func() (limiter.Store, error) {
		return sredis.NewStoreWithOptions(client, limiter.StoreOptions{Prefix: DefaultPrefix, MaxRetry: 3})
	})
}

func newLimiter(formatted string, newStore func() (limiter.Store, error)) (*Limiter, error) {
	if formatted == "" {
		formatted = DefaultRate
	}
	rate, err := limiter.NewRateFromFormatted(formatted)
	if err != nil {
		return nil, fmt.Errorf("invalid rate %q: %w", formatted, err)
	}
	l := &Limiter{rate: rate, newStore: newStore}
	if err := l.Reset(); err != nil {
		return nil, err
	}
	return l, nil
}

// Allow counts one message for sender and reports whether it is within budget.
func (l *Limiter) Allow(ctx context.Context, sender string) (bool, error) {
	l.mu.RLock()
	lim := l.lim
	l.mu.RUnlock()

	lctx, err := lim.Get(ctx, sender)
	if err != nil {
		return false, fmt.Errorf("rate limit lookup for %s: %w", sender, err)
	}
	if lctx.Reached {
		slog.Debug("Limiter.Allow: budget exhausted", "sender", sender, "limit", lctx.Limit, "reset", lctx.Reset)
		return false, nil
	}
	return true, nil
}

// Rate returns the configured budget.
func (l *Limiter) Rate() limiter.Rate {
	return l.rate
}

// Reset drops every counter by rebuilding the backing store.
func (l *Limiter) Reset() error {
	store, err := l.newStore()
	if err != nil {
		return fmt.Errorf("rate limit store: %w", err)
	}
	l.mu.Lock()
	l.lim = limiter.New(store, l.rate)
	l.mu.Unlock()
	return nil
}

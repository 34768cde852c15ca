// Package tenant resolves channel addresses to tenant profiles.
package tenant

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"github.com/bilLkarkariy/bbta-saas-sub000/internal/models"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"
)

const (
	// DefaultTTL is how long a resolved profile is cached.
	DefaultTTL = 5 * time.Minute
	// DefaultNegativeTTL is how long an unknown address is remembered.
	DefaultNegativeTTL = time.Minute
	// DefaultMaxEntries bounds the number of cached addresses.
	DefaultMaxEntries = 10000
)

// Lookup is the underlying directory queried on cache misses.
type Lookup interface {
	GetTenantByAddress(ctx context.Context, address string) (*models.TenantProfile, error)
}

type entry struct {
	profile *models.TenantProfile // nil for a negative entry
	expires time.Time
}

// Directory caches tenant profiles keyed by normalized channel address.
// Misses are cached too. Concurrent misses for the same address share a
// single lookup. Returned profiles are shared and must not be modified.
//
// Resolved profiles only carry their active FAQs.
type Directory struct {
	lookup      Lookup
	ttl         time.Duration
	negativeTTL time.Duration
	maxEntries  int
	now         func() time.Time

	entries *expirable.LRU[string, entry]
	group   singleflight.Group
}

// Option configures a Directory.
type Option func(*Directory)

// WithTTL sets the positive entry lifetime.
func WithTTL(ttl time.Duration) Option {
	return func(d *Directory) { d.ttl = ttl }
}

// WithNegativeTTL sets the lifetime of cached misses.
func WithNegativeTTL(ttl time.Duration) Option {
	return func(d *Directory) { d.negativeTTL = ttl }
}

// WithMaxEntries bounds the cache; the least recently used address is
// evicted first.
func WithMaxEntries(n int) Option {
	return func(d *Directory) { d.maxEntries = n }
}

// WithClock overrides the time source used for entry expiry.
func WithClock(now func() time.Time) Option {
	return func(d *Directory) { d.now = now }
}

// NewDirectory creates a cache in front of lookup.
func NewDirectory(lookup Lookup, opts ...Option) *Directory {
	d := &Directory{
		lookup:      lookup,
		ttl:         DefaultTTL,
		negativeTTL: DefaultNegativeTTL,
		maxEntries:  DefaultMaxEntries,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.maxEntries <= 0 {
		d.maxEntries = DefaultMaxEntries
	}
	// Each entry carries its own expiry; the LRU lifetime is the longest of
	// the two and only sweeps entries nobody asks for anymore.
	d.entries = expirable.NewLRU[string, entry](d.maxEntries, nil, max(d.ttl, d.negativeTTL))
	return d
}

// Resolve returns the profile owning address, or nil when no tenant uses it.
// Lookup errors are returned and never cached.
func (d *Directory) Resolve(ctx context.Context, address string) (*models.TenantProfile, error) {
	key := NormalizeAddress(address)
	if key == "" {
		return nil, nil
	}
	if e, ok := d.get(key); ok {
		return e.profile, nil
	}

	v, err, shared := d.group.Do(key, func() (any, error) {
		if e, ok := d.get(key); ok {
			return e.profile, nil
		}
		p, err := d.lookup.GetTenantByAddress(ctx, key)
		if err != nil {
			return nil, err
		}
		ttl := d.ttl
		if p == nil {
			ttl = d.negativeTTL
		} else {
			p = activeOnly(p)
		}
		d.entries.Add(key, entry{profile: p, expires: d.now().Add(ttl)})
		return p, nil
	})
	if err != nil {
		slog.Error("Directory.Resolve: lookup failed", "address", key, "error", err)
		return nil, fmt.Errorf("resolve tenant for %s: %w", key, err)
	}
	slog.Debug("Directory.Resolve: cache miss resolved", "address", key, "found", v.(*models.TenantProfile) != nil, "shared", shared)
	return v.(*models.TenantProfile), nil
}

// activeOnly returns a copy of p without its inactive FAQs.
func activeOnly(p *models.TenantProfile) *models.TenantProfile {
	cp := *p
	cp.FAQs = p.ActiveFAQs()
	return &cp
}

func (d *Directory) get(key string) (entry, bool) {
	e, ok := d.entries.Get(key)
	if !ok {
		return entry{}, false
	}
	if !d.now().Before(e.expires) {
		d.entries.Remove(key)
		return entry{}, false
	}
	return e, true
}

// Invalidate removes every cached entry of tenantID. Negative entries are
// dropped as well since the tenant may have moved to one of those addresses.
func (d *Directory) Invalidate(tenantID string) int {
	removed := 0
	for _, key := range d.entries.Keys() {
		e, ok := d.entries.Peek(key)
		if !ok {
			continue
		}
		if e.profile == nil || e.profile.ID == tenantID {
			if d.entries.Remove(key) {
				removed++
			}
		}
	}
	slog.Info("Directory.Invalidate: entries removed", "tenantID", tenantID, "count", removed)
	return removed
}

// Clear empties the cache.
func (d *Directory) Clear() {
	d.entries.Purge()
	slog.Info("Directory.Clear: cache emptied")
}

// Len returns the number of cached entries.
func (d *Directory) Len() int {
	return d.entries.Len()
}

// NormalizeAddress canonicalizes a channel address to "+<digits>".
// It strips a channel prefix ("whatsapp:"), a JID server suffix
// ("@s.whatsapp.net"), whitespace and separators, and adds the leading "+"
// when missing. Addresses without digits normalize to "".
func NormalizeAddress(raw string) string {
	s := strings.TrimSpace(raw)
	if i := strings.Index(s, "@"); i >= 0 {
		s = s[:i]
	}
	if i := strings.Index(s, ":"); i >= 0 && strings.IndexFunc(s[:i], unicode.IsLetter) >= 0 {
		s = s[i+1:]
	}
	// JID device suffix, "33612345678:12".
	if i := strings.Index(s, ":"); i >= 0 {
		s = s[:i]
	}
	var b strings.Builder
	b.Grow(len(s) + 1)
	b.WriteByte('+')
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	if b.Len() == 1 {
		return ""
	}
	return b.String()
}

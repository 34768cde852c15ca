package tenant

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bilLkarkariy/bbta-saas-sub000/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingLookup struct {
	calls    atomic.Int32
	profiles map[string]*models.TenantProfile
	delay    time.Duration
	err      error
}

func (c *countingLookup) GetTenantByAddress(ctx context.Context, address string) (*models.TenantProfile, error) {
	c.calls.Add(1)
	if c.delay > 0 {
		time.Sleep(c.delay)
	}
	if c.err != nil {
		return nil, c.err
	}
	return c.profiles[address], nil
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func newLookup() *countingLookup {
	return &countingLookup{profiles: map[string]*models.TenantProfile{
		"+33100000000": {ID: "t1", Name: "Salon Bella", Address: "+33100000000"},
	}}
}

func TestResolveCachesWithinTTL(t *testing.T) {
	ctx := context.Background()
	lookup := newLookup()
	clock := &fakeClock{now: time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)}
	d := NewDirectory(lookup, WithTTL(time.Minute), WithClock(clock.Now))

	p1, err := d.Resolve(ctx, "whatsapp:+33100000000")
	require.NoError(t, err)
	require.NotNil(t, p1)
	p2, err := d.Resolve(ctx, "+33 1 00 00 00 00")
	require.NoError(t, err)
	assert.Same(t, p1, p2)
	assert.Equal(t, int32(1), lookup.calls.Load())

	clock.Advance(2 * time.Minute)
	_, err = d.Resolve(ctx, "+33100000000")
	require.NoError(t, err)
	assert.Equal(t, int32(2), lookup.calls.Load(), "expired entry triggers a fresh lookup")
}

func TestResolveCachesMisses(t *testing.T) {
	ctx := context.Background()
	lookup := newLookup()
	clock := &fakeClock{now: time.Now()}
	d := NewDirectory(lookup, WithNegativeTTL(30*time.Second), WithClock(clock.Now))

	for i := 0; i < 3; i++ {
		p, err := d.Resolve(ctx, "+44999")
		require.NoError(t, err)
		assert.Nil(t, p)
	}
	assert.Equal(t, int32(1), lookup.calls.Load())

	clock.Advance(31 * time.Second)
	_, _ = d.Resolve(ctx, "+44999")
	assert.Equal(t, int32(2), lookup.calls.Load())
}

func TestInvalidateAndClearForceLookup(t *testing.T) {
	ctx := context.Background()
	lookup := newLookup()
	d := NewDirectory(lookup)

	_, _ = d.Resolve(ctx, "+33100000000")
	assert.Equal(t, 1, d.Invalidate("t1"))
	_, _ = d.Resolve(ctx, "+33100000000")
	assert.Equal(t, int32(2), lookup.calls.Load())

	assert.Equal(t, 0, d.Invalidate("other"))
	d.Clear()
	assert.Zero(t, d.Len())
	_, _ = d.Resolve(ctx, "+33100000000")
	assert.Equal(t, int32(3), lookup.calls.Load())
}

func TestConcurrentMissesShareOneLookup(t *testing.T) {
	ctx := context.Background()
	lookup := newLookup()
	lookup.delay = 50 * time.Millisecond
	d := NewDirectory(lookup)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, err := d.Resolve(ctx, "+33100000000")
			assert.NoError(t, err)
			assert.NotNil(t, p)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), lookup.calls.Load())
}

func TestLookupErrorsAreNotCached(t *testing.T) {
	ctx := context.Background()
	lookup := newLookup()
	lookup.err = errors.New("db down")
	d := NewDirectory(lookup)

	_, err := d.Resolve(ctx, "+33100000000")
	require.Error(t, err)
	lookup.err = nil
	p, err := d.Resolve(ctx, "+33100000000")
	require.NoError(t, err)
	assert.NotNil(t, p)
	assert.Equal(t, int32(2), lookup.calls.Load())
}

func TestCacheIsBounded(t *testing.T) {
	ctx := context.Background()
	lookup := newLookup()
	d := NewDirectory(lookup, WithMaxEntries(3))

	for i := 0; i < 10; i++ {
		p, err := d.Resolve(ctx, fmt.Sprintf("+4400000%d", i))
		require.NoError(t, err)
		assert.Nil(t, p)
	}
	assert.Equal(t, 3, d.Len(), "unknown addresses must not grow the cache past its bound")

	_, err := d.Resolve(ctx, "+33100000000")
	require.NoError(t, err)
	assert.Equal(t, 3, d.Len())
	assert.Equal(t, 3, d.Invalidate("t1"), "the profile and the remaining misses are dropped")
	assert.Zero(t, d.Len())
}

func TestResolveKeepsOnlyActiveFAQs(t *testing.T) {
	ctx := context.Background()
	stored := &models.TenantProfile{ID: "t1", Address: "+33100000000", FAQs: []models.FAQ{
		{ID: "f1", Question: "Horaires ?", Answer: "9h-19h", Active: true},
		{ID: "f2", Question: "Mariages ?", Answer: "Plus pour le moment.", Active: false},
	}}
	lookup := &countingLookup{profiles: map[string]*models.TenantProfile{"+33100000000": stored}}
	d := NewDirectory(lookup)

	p, err := d.Resolve(ctx, "+33100000000")
	require.NoError(t, err)
	require.NotNil(t, p)
	require.Len(t, p.FAQs, 1)
	assert.Equal(t, "f1", p.FAQs[0].ID)
	assert.Len(t, stored.FAQs, 2, "the looked up profile is not modified")
}

func TestNormalizeAddress(t *testing.T) {
	tests := map[string]string{
		"whatsapp:+33612345678":                "+33612345678",
		"  +33 6 12 34 56 78 ":                 "+33612345678",
		"33612345678":                          "+33612345678",
		"33612345678@s.whatsapp.net":           "+33612345678",
		"33612345678:12@s.whatsapp.net":        "+33612345678",
		"+1 (415) 555-0100":                    "+14155550100",
		"whatsapp:":                            "",
		"":                                     "",
	}
	for in, want := range tests {
		assert.Equal(t, want, NormalizeAddress(in), "NormalizeAddress(%q)", in)
	}
}

package pricer

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"mandi-monitor/monitor/paapi"
	"mandi-monitor/monitor/types"
)

type memCache struct {
	mtx     sync.Mutex
	entries map[string]cachedEntry
	reads   int
	writes  int
}

type cachedEntry struct {
	price types.Paise
	at    time.Time
}

func newMemCache() *memCache {
	return &memCache{entries: make(map[string]cachedEntry)}
}

func (c *memCache) GetCachedPrice(_ context.Context, asin string) (types.Paise, time.Time, bool, error) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	c.reads++
	e, ok := c.entries[asin]
	return e.price, e.at, ok, nil
}

func (c *memCache) UpsertCachedPrice(_ context.Context, asin string, price types.Paise, at time.Time) error {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	c.writes++
	c.entries[asin] = cachedEntry{price: price, at: at}
	return nil
}

type stubAPI struct {
	calls   atomic.Int64
	delay   time.Duration
	err     error
	product types.Product
}

func (a *stubAPI) GetItem(ctx context.Context, asin string, _ paapi.ResourceSet) (types.Product, error) {
	a.calls.Add(1)
	if a.delay > 0 {
		select {
		case <-time.After(a.delay):
		case <-ctx.Done():
			return types.Product{}, ctx.Err()
		}
	}
	if a.err != nil {
		return types.Product{}, a.err
	}
	p := a.product
	p.ASIN = asin
	return p, nil
}

type stubScrape struct {
	calls atomic.Int64
	price types.Paise
	err   error
}

func (s *stubScrape) Price(context.Context, string) (types.Paise, error) {
	s.calls.Add(1)
	return s.price, s.err
}

func TestPriceCacheHit(t *testing.T) {
	cache := newMemCache()
	cache.entries["B000000001"] = cachedEntry{price: 2_500_000, at: time.Now().Add(-time.Hour)}
	api := &stubAPI{}
	scrape := &stubScrape{}
	o := New(zerolog.Nop(), cache, api, scrape)

	quote, err := o.Price(context.Background(), "B000000001", false)
	require.NoError(t, err)
	require.Equal(t, types.Paise(2_500_000), quote.Price)
	require.Equal(t, types.SourceCache, quote.Source)
	require.False(t, quote.Stale)
	require.Zero(t, api.calls.Load())
	require.Zero(t, scrape.calls.Load())
}

func TestPriceCacheMissAPISuccess(t *testing.T) {
	cache := newMemCache()
	api := &stubAPI{product: types.Product{Price: 3_100_000, Title: "X"}}
	scrape := &stubScrape{}
	o := New(zerolog.Nop(), cache, api, scrape)

	quote, err := o.Price(context.Background(), "B000000002", false)
	require.NoError(t, err)
	require.Equal(t, types.Paise(3_100_000), quote.Price)
	require.Equal(t, types.SourceAPI, quote.Source)
	require.EqualValues(t, 1, api.calls.Load())
	require.Zero(t, scrape.calls.Load())

	// The fetch wrote back to the cache.
	cached, _, found, err := cache.GetCachedPrice(context.Background(), "B000000002")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, types.Paise(3_100_000), cached)
}

func TestPriceScrapeFallback(t *testing.T) {
	cache := newMemCache()
	api := &stubAPI{err: paapi.ErrQuotaExhausted}
	scrape := &stubScrape{price: 1_999_900}
	o := New(zerolog.Nop(), cache, api, scrape)

	quote, err := o.Price(context.Background(), "B000000003", false)
	require.NoError(t, err)
	require.Equal(t, types.Paise(1_999_900), quote.Price)
	require.Equal(t, types.SourceScrape, quote.Source)
}

func TestPriceStaleRejectedUnlessAllowed(t *testing.T) {
	cache := newMemCache()
	cache.entries["B000000004"] = cachedEntry{price: 900_000, at: time.Now().Add(-25 * time.Hour)}
	api := &stubAPI{err: paapi.ErrQuotaExhausted}
	scrape := &stubScrape{err: errors.New("blocked")}
	o := New(zerolog.Nop(), cache, api, scrape)

	_, err := o.Price(context.Background(), "B000000004", false)
	require.ErrorIs(t, err, ErrUnavailable)

	quote, err := o.Price(context.Background(), "B000000004", true)
	require.NoError(t, err)
	require.True(t, quote.Stale)
	require.Equal(t, types.Paise(900_000), quote.Price)
}

func TestPriceUnavailable(t *testing.T) {
	cache := newMemCache()
	api := &stubAPI{err: errors.New("timeout")}
	scrape := &stubScrape{err: errors.New("blocked")}
	o := New(zerolog.Nop(), cache, api, scrape)

	_, err := o.Price(context.Background(), "B000000005", false)
	require.ErrorIs(t, err, ErrUnavailable)
}

func TestPriceRejectsInvalidASIN(t *testing.T) {
	o := New(zerolog.Nop(), newMemCache(), &stubAPI{}, &stubScrape{})
	_, err := o.Price(context.Background(), "not-an-asin", false)
	require.Error(t, err)
}

func TestPriceCoalescesConcurrentFetches(t *testing.T) {
	cache := newMemCache()
	api := &stubAPI{product: types.Product{Price: 2_000_000}, delay: 100 * time.Millisecond}
	o := New(zerolog.Nop(), cache, api, &stubScrape{})

	const callers = 8
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			quote, err := o.Price(context.Background(), "B000000006", false)
			require.NoError(t, err)
			require.Equal(t, types.Paise(2_000_000), quote.Price)
		}()
	}
	wg.Wait()

	// Exactly one underlying fetch despite eight concurrent callers.
	require.EqualValues(t, 1, api.calls.Load())
}

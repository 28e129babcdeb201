// Package pricer resolves a single ASIN to a price through the two-tier
// oracle: fingerprinted cache first, then the remote API, then the headless
// scrape fallback, with stale cache entries as a last resort for callers
// that opt in.
package pricer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"mandi-monitor/monitor/paapi"
	"mandi-monitor/monitor/types"
	metrics "mandi-monitor/pkg/telemetry"
)

// cacheTTL is the freshness window for cached prices. Entries older than
// this are treated as misses but retained for the stale-fallback path.
const cacheTTL = 24 * time.Hour

// ErrUnavailable is returned when every source failed and no stale entry
// exists (or the caller refused stale data).
var ErrUnavailable = errors.New("pricer: price unavailable")

// CacheStore is the persistent price cache. Upserts are idempotent.
type CacheStore interface {
	GetCachedPrice(ctx context.Context, asin string) (types.Paise, time.Time, bool, error)
	UpsertCachedPrice(ctx context.Context, asin string, price types.Paise, fetchedAt time.Time) error
}

// ItemGetter is the remote API surface the oracle needs.
type ItemGetter interface {
	GetItem(ctx context.Context, asin string, res paapi.ResourceSet) (types.Product, error)
}

// Fallback is the scrape path.
type Fallback interface {
	Price(ctx context.Context, asin string) (types.Paise, error)
}

type Oracle struct {
	logger zerolog.Logger
	cache  CacheStore
	api    ItemGetter
	scrape Fallback
	group  singleflight.Group
}

func New(logger zerolog.Logger, cache CacheStore, api ItemGetter, scrape Fallback) *Oracle {
	return &Oracle{
		logger: logger.With().Str("module", "pricer").Logger(),
		cache:  cache,
		api:    api,
		scrape: scrape,
	}
}

// Price resolves asin to a quote. Concurrent callers for the same ASIN share
// a single underlying fetch. When allowStale is false, a quote that could
// only be served from an expired cache entry is rejected with ErrUnavailable.
func (o *Oracle) Price(ctx context.Context, asin string, allowStale bool) (types.Quote, error) {
	if !types.ValidASIN(asin) {
		return types.Quote{}, fmt.Errorf("pricer: invalid ASIN %q", asin)
	}

	v, err, shared := o.group.Do(asin, func() (interface{}, error) {
		return o.fetch(ctx, asin)
	})
	if shared {
		metrics.IncrCounter(1, "pricer", "coalesced")
	}
	if err != nil {
		return types.Quote{}, err
	}

	quote := v.(types.Quote)
	if quote.Stale && !allowStale {
		return types.Quote{}, fmt.Errorf("%w: only stale data for %s", ErrUnavailable, asin)
	}
	return quote, nil
}

func (o *Oracle) fetch(ctx context.Context, asin string) (types.Quote, error) {
	cached, fetchedAt, found, err := o.cache.GetCachedPrice(ctx, asin)
	if err != nil {
		return types.Quote{}, fmt.Errorf("pricer: cache read failed: %w", err)
	}
	if found && time.Since(fetchedAt) < cacheTTL {
		metrics.IncrCounter(1, "pricer", "hit", "cache")
		return types.Quote{ASIN: asin, Price: cached, Source: types.SourceCache, FetchedAt: fetchedAt}, nil
	}

	product, apiErr := o.api.GetItem(ctx, asin, paapi.ResourcesMinimal)
	if apiErr == nil && product.HasPrice() {
		o.writeBack(ctx, asin, product.Price)
		metrics.IncrCounter(1, "pricer", "hit", "api")
		return types.Quote{ASIN: asin, Price: product.Price, Source: types.SourceAPI, FetchedAt: time.Now()}, nil
	}
	if apiErr != nil {
		o.logger.Debug().Err(apiErr).Str("asin", asin).Msg("remote api lookup failed, trying scrape")
	}

	price, scrapeErr := o.scrape.Price(ctx, asin)
	if scrapeErr == nil && price.Valid() {
		o.writeBack(ctx, asin, price)
		metrics.IncrCounter(1, "pricer", "hit", "scrape")
		return types.Quote{ASIN: asin, Price: price, Source: types.SourceScrape, FetchedAt: time.Now()}, nil
	}

	if found {
		metrics.IncrCounter(1, "pricer", "hit", "stale")
		o.logger.Warn().Str("asin", asin).Time("fetched_at", fetchedAt).Msg("serving stale cached price")
		return types.Quote{ASIN: asin, Price: cached, Source: types.SourceCache, Stale: true, FetchedAt: fetchedAt}, nil
	}

	metrics.IncrCounter(1, "pricer", "miss")
	return types.Quote{}, fmt.Errorf("%w: %s (api: %v, scrape: %v)", ErrUnavailable, asin, apiErr, scrapeErr)
}

// writeBack upserts the cache. A non-positive price is never written; a
// partial extraction must not poison later lookups.
func (o *Oracle) writeBack(ctx context.Context, asin string, price types.Paise) {
	if !price.Valid() {
		return
	}
	if err := o.cache.UpsertCachedPrice(ctx, asin, price, time.Now()); err != nil {
		o.logger.Error().Err(err).Str("asin", asin).Msg("failed to upsert price cache")
	}
}

// Package search implements the paginated candidate search: up to three
// vendor pages of ten items each, deduplicated in vendor-relevance order,
// with a short session cache so identical concurrent queries share one fetch.
package search

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"mandi-monitor/monitor/governor"
	"mandi-monitor/monitor/paapi"
	"mandi-monitor/monitor/types"
	metrics "mandi-monitor/pkg/telemetry"
)

const (
	maxPages   = 3
	defaultCap = 30
	sessionTTL = 5 * time.Minute

	// pageDelay is wall-clock and cooperative with the governor's own 1s
	// steady rate; the extra 100ms absorbs clock skew between the two.
	pageDelay = 1100 * time.Millisecond
)

// Searcher is the remote search surface.
type Searcher interface {
	SearchItems(ctx context.Context, req paapi.SearchRequest) (paapi.SearchPage, error)
}

// Query identifies a candidate search. Cap defaults to 30.
type Query struct {
	Keywords    string
	SearchIndex string
	MinPrice    types.Paise
	Cap         int
}

func (q Query) key() string {
	limit := q.Cap
	if limit <= 0 {
		limit = defaultCap
	}
	return fmt.Sprintf("%s|%s|%d", q.Keywords, q.SearchIndex, limit)
}

// ResultSet is the deduplicated candidate pool. Partial is set when a
// throttle or quota failure cut pagination short; whatever was collected is
// still returned.
type ResultSet struct {
	Items   []types.Product
	Partial bool
}

type cacheEntry struct {
	at  time.Time
	res ResultSet
}

type Pipeline struct {
	logger zerolog.Logger
	api    Searcher

	mtx   sync.Mutex
	cache map[string]cacheEntry
	group singleflight.Group
}

func NewPipeline(logger zerolog.Logger, api Searcher) *Pipeline {
	return &Pipeline{
		logger: logger.With().Str("module", "search").Logger(),
		api:    api,
		cache:  make(map[string]cacheEntry),
	}
}

// Search returns up to Cap candidates for the query. Two concurrent
// identical calls share one underlying fetch; a hit within the session TTL
// costs no vendor requests at all.
func (p *Pipeline) Search(ctx context.Context, q Query) (ResultSet, error) {
	if q.Keywords == "" {
		return ResultSet{}, errors.New("search: empty keywords")
	}
	key := q.key()

	p.mtx.Lock()
	entry, ok := p.cache[key]
	p.mtx.Unlock()
	if ok && time.Since(entry.at) < sessionTTL {
		metrics.IncrCounter(1, "search", "hit", "session")
		return entry.res, nil
	}

	v, err, _ := p.group.Do(key, func() (interface{}, error) {
		res, err := p.paginate(ctx, q)
		if err != nil {
			return nil, err
		}
		// A partial set would pin the degraded result for the whole TTL;
		// only complete sets enter the session cache.
		if !res.Partial {
			p.mtx.Lock()
			p.cache[key] = cacheEntry{at: time.Now(), res: res}
			p.mtx.Unlock()
		}
		return res, nil
	})
	if err != nil {
		return ResultSet{}, err
	}
	return v.(ResultSet), nil
}

// paginate walks up to three pages, sleeping pageDelay between them without
// holding any lock. A page returning fewer than ten items signals vendor
// exhaustion and ends the walk early.
func (p *Pipeline) paginate(ctx context.Context, q Query) (ResultSet, error) {
	limit := q.Cap
	if limit <= 0 {
		limit = defaultCap
	}

	seen := make(map[string]struct{}, limit)
	out := ResultSet{}

	for page := 1; page <= maxPages && len(out.Items) < limit; page++ {
		if page > 1 {
			timer := time.NewTimer(pageDelay)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return ResultSet{}, ctx.Err()
			}
		}

		resp, err := p.api.SearchItems(ctx, paapi.SearchRequest{
			Keywords:    q.Keywords,
			SearchIndex: q.SearchIndex,
			Page:        page,
			ItemCount:   paapi.MaxItemsPerPage,
			MinPrice:    q.MinPrice,
			Resources:   paapi.ResourcesDetailed,
		})
		if err != nil {
			// The governor's post-throttle lockout is a budget failure like
			// the vendor's own throttle; whatever was collected still counts.
			var be *governor.BackoffError
			if errors.Is(err, paapi.ErrThrottled) || errors.Is(err, paapi.ErrQuotaExhausted) || errors.As(err, &be) {
				metrics.IncrCounter(1, "search", "partial")
				p.logger.Warn().
					Err(err).
					Int("page", page).
					Int("collected", len(out.Items)).
					Msg("pagination cut short")
				out.Partial = true
				return out, nil
			}
			return ResultSet{}, fmt.Errorf("search page %d failed: %w", page, err)
		}

		for _, item := range resp.Items {
			if _, dup := seen[item.ASIN]; dup || item.ASIN == "" {
				continue
			}
			seen[item.ASIN] = struct{}{}
			out.Items = append(out.Items, item)
			if len(out.Items) >= limit {
				break
			}
		}

		if len(resp.Items) < paapi.MaxItemsPerPage {
			break
		}
	}

	metrics.IncrCounter(1, "search", "complete")
	return out, nil
}

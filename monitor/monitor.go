// Package monitor wires the evaluation pipeline: search, enrichment,
// selection, the price oracle refresh on the chosen candidate, and outbound
// delivery. The Engine is what the scheduler fires; the chat inbound path
// calls the same entry point for a fresh watch's first evaluation.
package monitor

import (
	"context"
	"errors"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/rs/zerolog"

	"mandi-monitor/chat"
	"mandi-monitor/monitor/pricer"
	"mandi-monitor/monitor/search"
	"mandi-monitor/monitor/selector"
	"mandi-monitor/monitor/types"
	metrics "mandi-monitor/pkg/telemetry"
)

type SearchClient interface {
	Search(ctx context.Context, q search.Query) (search.ResultSet, error)
}

type Enricher interface {
	Enrich(ctx context.Context, candidates []types.Product) []types.Product
}

type Picker interface {
	Select(w types.Watch, candidates []types.Product) (selector.Pick, error)
}

type PriceOracle interface {
	Price(ctx context.Context, asin string, allowStale bool) (types.Quote, error)
}

type ObservationWriter interface {
	AddPriceObservation(ctx context.Context, watchID int64, asin string, price types.Paise, source types.PriceSource, at time.Time) error
}

// Publisher receives every delivered card; the live feed hub implements it.
// Optional.
type Publisher interface {
	Publish(card types.Card)
}

// Config carries the engine's per-marketplace settings.
type Config struct {
	SearchIndex string
}

type Engine struct {
	logger    zerolog.Logger
	cfg       Config
	search    SearchClient
	enrich    Enricher
	selector  Picker
	pricer    PriceOracle
	store     ObservationWriter
	builder   *chat.Builder
	transport chat.Transport
	digests   *chat.DigestBuffer
	feed      Publisher // may be nil
}

func NewEngine(
	logger zerolog.Logger,
	cfg Config,
	searchClient SearchClient,
	enricher Enricher,
	picker Picker,
	oracle PriceOracle,
	store ObservationWriter,
	builder *chat.Builder,
	transport chat.Transport,
	digests *chat.DigestBuffer,
	feed Publisher,
) *Engine {
	return &Engine{
		logger:    logger.With().Str("module", "engine").Logger(),
		cfg:       cfg,
		search:    searchClient,
		enrich:    enricher,
		selector:  picker,
		pricer:    oracle,
		store:     store,
		builder:   builder,
		transport: transport,
		digests:   digests,
		feed:      feed,
	}
}

// EvaluateWatch runs one full evaluation for the watch: gather candidates,
// enrich, select, refresh the winner's price, persist the observation and
// deliver. A no-match outcome is a normal completion surfaced to the user,
// not a job failure. Stale cache prices are never accepted for delivery.
func (e *Engine) EvaluateWatch(ctx context.Context, w types.Watch) error {
	candidates, err := e.gather(ctx, w)
	if err != nil {
		e.reportInfra(err)
		return err
	}
	candidates = e.enrich.Enrich(ctx, candidates)

	pick, err := e.selector.Select(w, candidates)
	if err != nil {
		var nm *selector.NoMatchError
		if errors.As(err, &nm) {
			return e.notice(ctx, w, chat.NoMatchMessage(w, nm))
		}
		return err
	}

	quote, err := e.pricer.Price(ctx, pick.Product.ASIN, false)
	if err != nil {
		if errors.Is(err, pricer.ErrUnavailable) {
			metrics.IncrCounter(1, "engine", "price_unavailable")
			e.logger.Warn().Str("asin", pick.Product.ASIN).Int64("watch", w.ID).
				Msg("selected candidate's price unavailable, skipping delivery")
			return nil
		}
		e.reportInfra(err)
		return err
	}

	// The refresh may move the price past the watch's thresholds; the card
	// must still honour them.
	if w.MaxPrice > 0 && quote.Price > w.MaxPrice {
		nm := &selector.NoMatchError{Stage: selector.StageBudget}
		return e.notice(ctx, w, chat.NoMatchMessage(w, nm))
	}
	if w.MinDiscount > 0 {
		p := pick.Product
		p.Price = quote.Price
		if p.DiscountPercent() < w.MinDiscount {
			nm := &selector.NoMatchError{Stage: selector.StageDiscount}
			return e.notice(ctx, w, chat.NoMatchMessage(w, nm))
		}
	}

	// A cache-sourced quote repeats an observation already on record.
	if quote.Source != types.SourceCache {
		if err := e.store.AddPriceObservation(ctx, w.ID, quote.ASIN, quote.Price, quote.Source, quote.FetchedAt); err != nil {
			e.reportInfra(err)
			return err
		}
	}

	card := e.builder.Card(w.ID, pick.Product, quote.Price)
	return e.deliver(ctx, w, card)
}

// FlushDigests drains the digest buffer and sends each user their top cards
// by discount. A failed send for one user does not block the others.
func (e *Engine) FlushDigests(ctx context.Context) error {
	var firstErr error
	for userID, cards := range e.digests.Flush() {
		if len(cards) == 0 {
			continue
		}
		if err := e.transport.SendCarousel(ctx, userID, cards); err != nil {
			e.logger.Error().Err(err).Int64("user", userID).Msg("digest send failed")
			e.reportInfra(err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		metrics.IncrCounter(1, "engine", "digest_sent")
	}
	return firstErr
}

// gather produces the candidate pool. A pinned ASIN short-circuits search:
// the watch is about that one item, and enrichment fills in its detail.
func (e *Engine) gather(ctx context.Context, w types.Watch) ([]types.Product, error) {
	if w.ASIN != "" {
		return []types.Product{{ASIN: w.ASIN}}, nil
	}

	res, err := e.search.Search(ctx, search.Query{
		Keywords:    w.Keywords,
		SearchIndex: e.cfg.SearchIndex,
	})
	if err != nil {
		return nil, err
	}
	if res.Partial {
		metrics.IncrCounter(1, "engine", "degraded")
		e.logger.Warn().Int64("watch", w.ID).Int("items", len(res.Items)).
			Msg("search returned partial results, run degraded")
	}
	return res.Items, nil
}

func (e *Engine) notice(ctx context.Context, w types.Watch, text string) error {
	metrics.IncrCounter(1, "engine", "no_match")
	if err := e.transport.SendNotice(ctx, w.UserID, text); err != nil {
		e.reportInfra(err)
		return err
	}
	return nil
}

func (e *Engine) deliver(ctx context.Context, w types.Watch, card types.Card) error {
	if e.feed != nil {
		e.feed.Publish(card)
	}
	if w.Mode == types.ModeDaily {
		e.digests.Add(w.UserID, card)
		metrics.IncrCounter(1, "engine", "digest_buffered")
		return nil
	}
	if err := e.transport.SendCarousel(ctx, w.UserID, []types.Card{card}); err != nil {
		e.reportInfra(err)
		return err
	}
	metrics.IncrCounter(1, "engine", "delivered")
	return nil
}

// reportInfra forwards infrastructure errors to the error reporter when one
// is configured. Sentry initialisation is owned by cmd; an unconfigured hub
// makes this a no-op.
func (e *Engine) reportInfra(err error) {
	if err == nil || errors.Is(err, context.Canceled) {
		return
	}
	sentry.CaptureException(err)
}

// Package scrape extracts a single item's price from the marketplace's
// product detail page with a headless browser. It is strictly a fallback:
// the oracle only reaches for it after the remote API has failed, and never
// from a path serving an interactive chat callback.
package scrape

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/rs/zerolog"

	"mandi-monitor/monitor/types"
	metrics "mandi-monitor/pkg/telemetry"
)

const scrapeTimeout = 20 * time.Second

// selectorRules are tried in order; the first selector yielding a parseable
// positive price wins. The detail page has shipped several price markups
// over the years and old ones linger on some categories.
var selectorRules = []string{
	"span.a-price span.a-offscreen",
	"#priceblock_dealprice",
	"#priceblock_ourprice",
	"#corePrice_feature_div span.a-offscreen",
}

var priceDigits = regexp.MustCompile(`[\d,]+(?:\.\d+)?`)

type Scraper struct {
	logger  zerolog.Logger
	baseURL string
}

func New(logger zerolog.Logger, baseURL string) *Scraper {
	return &Scraper{
		logger:  logger.With().Str("module", "scrape").Logger(),
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

// Price loads the detail page for asin and returns the first price any
// selector rule extracts. The whole navigation is bounded by a 20s deadline
// composed with the caller's remaining budget.
func (s *Scraper) Price(ctx context.Context, asin string) (types.Paise, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, scrapeTimeout)
	defer cancel()

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, append(
		chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Headless,
		chromedp.DisableGPU,
	)...)
	defer cancelAlloc()

	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	defer cancelBrowser()

	url := fmt.Sprintf("%s/dp/%s", s.baseURL, asin)
	if err := chromedp.Run(browserCtx, chromedp.Navigate(url)); err != nil {
		metrics.IncrCounter(1, "scrape", "failure", "navigate")
		return 0, fmt.Errorf("failed to load detail page for %s: %w", asin, err)
	}

	for _, selector := range selectorRules {
		var text string
		err := chromedp.Run(browserCtx,
			chromedp.Text(selector, &text, chromedp.ByQuery, chromedp.AtLeast(0)),
		)
		if err != nil {
			continue
		}
		price, ok := parsePriceText(text)
		if !ok {
			continue
		}
		metrics.MeasureSince([]string{"scrape", "price"}, start)
		s.logger.Debug().
			Str("asin", asin).
			Str("selector", selector).
			Int64("paise", int64(price)).
			Msg("scraped price")
		return price, nil
	}

	metrics.IncrCounter(1, "scrape", "failure", "no_selector")
	return 0, fmt.Errorf("no selector matched a price for %s", asin)
}

// parsePriceText turns a rendered price like "₹24,999.00" into paise.
// Zero or negative extractions are rejected rather than propagated; a bad
// partial extraction must never poison the cache.
func parsePriceText(text string) (types.Paise, bool) {
	m := priceDigits.FindString(text)
	if m == "" {
		return 0, false
	}
	m = strings.ReplaceAll(m, ",", "")
	rupees := m
	paiseFrac := "00"
	if i := strings.IndexByte(m, '.'); i >= 0 {
		rupees = m[:i]
		frac := m[i+1:]
		if len(frac) >= 2 {
			paiseFrac = frac[:2]
		} else if len(frac) == 1 {
			paiseFrac = frac + "0"
		}
	}
	var total int64
	for _, r := range rupees + paiseFrac {
		if r < '0' || r > '9' {
			return 0, false
		}
		total = total*10 + int64(r-'0')
	}
	p := types.Paise(total)
	if !p.Valid() {
		return 0, false
	}
	return p, true
}

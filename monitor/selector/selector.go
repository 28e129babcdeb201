// Package selector applies the strict filter cascade — budget, brand,
// discount, feature fit — and picks the single best candidate. Filters never
// relax: an empty survivor set at any stage is a first-class no-match
// outcome naming that stage, never a silent fallback to an unfiltered pick.
package selector

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"mandi-monitor/monitor/feature"
	"mandi-monitor/monitor/types"
	metrics "mandi-monitor/pkg/telemetry"
)

// Stage names the cascade step that emptied the candidate set.
type Stage string

const (
	StageSearch   Stage = "search"
	StageBudget   Stage = "budget"
	StageBrand    Stage = "brand"
	StageDiscount Stage = "discount"
)

// NoMatchError is the typed no-match outcome. Callers pattern-match on it
// and surface the stage and suggestion to the user.
type NoMatchError struct {
	Stage      Stage
	Suggestion string
}

func (e *NoMatchError) Error() string {
	return fmt.Sprintf("no match at %s stage: %s", e.Stage, e.Suggestion)
}

// Matcher is the feature-scoring seam; category-specific scorers plug in
// here.
type Matcher interface {
	Extract(text string) feature.Set
	ExtractProduct(p types.Product) feature.Set
	Technical(query feature.Set, keywords string) bool
	Score(query, candidate feature.Set) (float64, []feature.Explanation)
}

// Pick is the selected candidate with its scoring context.
type Pick struct {
	Product      types.Product
	Score        float64
	Technical    bool
	Explanations []feature.Explanation
}

type Selector struct {
	logger  zerolog.Logger
	matcher Matcher
}

func New(logger zerolog.Logger, matcher Matcher) *Selector {
	return &Selector{
		logger:  logger.With().Str("module", "selector").Logger(),
		matcher: matcher,
	}
}

// Select runs the cascade over candidates for the given watch. All price
// comparisons are in paise; the vendor never saw the watch's budget ceiling
// (it drops MaxPrice when MinPrice is present), so the budget filter here is
// the only budget enforcement.
func (s *Selector) Select(w types.Watch, candidates []types.Product) (Pick, error) {
	if len(candidates) == 0 {
		return Pick{}, &NoMatchError{
			Stage:      StageSearch,
			Suggestion: "try broader keywords",
		}
	}

	survivors := candidates

	if w.MaxPrice > 0 {
		survivors = filterBudget(survivors, w.MaxPrice)
		if len(survivors) == 0 {
			metrics.IncrCounter(1, "selector", "no_match", "budget")
			return Pick{}, &NoMatchError{
				Stage:      StageBudget,
				Suggestion: fmt.Sprintf("no products under %s; consider raising the budget", w.MaxPrice),
			}
		}
	}

	if w.Brand != "" {
		survivors = filterBrand(survivors, w.Brand)
		if len(survivors) == 0 {
			metrics.IncrCounter(1, "selector", "no_match", "brand")
			return Pick{}, &NoMatchError{
				Stage:      StageBrand,
				Suggestion: fmt.Sprintf("no %s products matched; consider dropping the brand filter", w.Brand),
			}
		}
	}

	if w.MinDiscount > 0 {
		survivors = filterDiscount(survivors, w.MinDiscount)
		if len(survivors) == 0 {
			metrics.IncrCounter(1, "selector", "no_match", "discount")
			return Pick{}, &NoMatchError{
				Stage:      StageDiscount,
				Suggestion: fmt.Sprintf("no deals at ≥%d%% off right now; consider a lower discount threshold", w.MinDiscount),
			}
		}
	}

	pick := s.rank(w, survivors)
	metrics.IncrCounter(1, "selector", "match")
	s.logger.Debug().
		Str("asin", pick.Product.ASIN).
		Float64("score", pick.Score).
		Bool("technical", pick.Technical).
		Int("survivors", len(survivors)).
		Msg("candidate selected")
	return pick, nil
}

// filterBudget retains candidates with a known price at or under the
// ceiling. Unknown price is a drop, never an assumed pass.
func filterBudget(candidates []types.Product, max types.Paise) []types.Product {
	out := candidates[:0:0]
	for _, c := range candidates {
		if c.HasPrice() && c.Price <= max {
			out = append(out, c)
		}
	}
	return out
}

// filterBrand does a case-insensitive substring match against the brand
// field, falling back to the title when the vendor omitted the brand.
func filterBrand(candidates []types.Product, brand string) []types.Product {
	needle := strings.ToLower(brand)
	out := candidates[:0:0]
	for _, c := range candidates {
		if strings.Contains(strings.ToLower(c.Brand), needle) {
			out = append(out, c)
			continue
		}
		if c.Brand == "" && strings.Contains(strings.ToLower(c.Title), needle) {
			out = append(out, c)
		}
	}
	return out
}

// filterDiscount retains candidates whose discount off list price meets the
// threshold. Candidates without a list price are dropped.
func filterDiscount(candidates []types.Product, minPercent int) []types.Product {
	threshold := decimal.NewFromInt(int64(minPercent))
	hundred := decimal.NewFromInt(100)
	out := candidates[:0:0]
	for _, c := range candidates {
		if c.ListPrice <= 0 || !c.HasPrice() || c.Price >= c.ListPrice {
			continue
		}
		discount := decimal.NewFromInt(int64(c.ListPrice - c.Price)).
			Mul(hundred).
			Div(decimal.NewFromInt(int64(c.ListPrice)))
		if discount.GreaterThanOrEqual(threshold) {
			out = append(out, c)
		}
	}
	return out
}

// rank re-orders survivors by feature fit when the query is technical,
// otherwise preserves vendor-relevance order and picks the first survivor.
func (s *Selector) rank(w types.Watch, survivors []types.Product) Pick {
	query := s.matcher.Extract(w.Keywords)
	if !s.matcher.Technical(query, w.Keywords) {
		return Pick{Product: survivors[0]}
	}

	type scored struct {
		product types.Product
		vector  feature.Set
		score   float64
		expl    []feature.Explanation
	}
	ranked := make([]scored, len(survivors))
	for i, c := range survivors {
		vector := s.matcher.ExtractProduct(c)
		score, expl := s.matcher.Score(query, vector)
		ranked[i] = scored{product: c, vector: vector, score: score, expl: expl}
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return feature.Less(ranked[i].product, ranked[j].product, ranked[i].vector, ranked[j].vector)
	})

	best := ranked[0]
	return Pick{
		Product:      best.product,
		Score:        best.score,
		Technical:    true,
		Explanations: best.expl,
	}
}

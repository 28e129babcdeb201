// Package feature extracts typed feature vectors from free text and scores
// candidates by weighted feature fit. The bundled vocabulary covers gaming
// monitors; the Matcher sits behind a small interface so other category
// scorers can be added without touching the selector.
package feature

import (
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"mandi-monitor/monitor/types"
)

// Per-feature weights. Refresh rate dominates for the bundled category.
const (
	weightRefresh    = 3.0
	weightResolution = 2.5
	weightSize       = 2.0
	weightPanel      = 1.5
	weightCurvature  = 1.0
	weightBrand      = 1.0

	// Numeric band: within fullBand of the query is a full-weight match;
	// beyond that the contribution decays linearly, reaching zero at zeroBand.
	fullBand = 0.15
	zeroBand = 0.50

	// upgradeBonus applies to a candidate strictly better on a monotone
	// feature (higher Hz, larger size, better resolution).
	upgradeBonus = 1.10

	memoSize = 100
)

// Flag classifies how one feature of a candidate relates to the query.
type Flag string

const (
	FlagMatch   Flag = "match"
	FlagNear    Flag = "near-match"
	FlagUpgrade Flag = "upgrade"
	FlagMiss    Flag = "miss"
)

// Explanation records the per-feature outcome for downstream presentation.
type Explanation struct {
	Feature string `json:"feature"`
	Flag    Flag   `json:"flag"`
}

// Matcher extracts and scores feature vectors, memoising extraction since
// the same product text is scored against many watches.
type Matcher struct {
	memo *lru.Cache[string, Set]
}

func NewMatcher() *Matcher {
	memo, _ := lru.New[string, Set](memoSize)
	return &Matcher{memo: memo}
}

// Extract returns the feature vector for the given text.
func (m *Matcher) Extract(text string) Set {
	if s, ok := m.memo.Get(text); ok {
		return s
	}
	s := extract(text)
	m.memo.Add(text, s)
	return s
}

// ExtractProduct builds the candidate's vector from its title, feature
// bullets and technical info map.
func (m *Matcher) ExtractProduct(p types.Product) Set {
	parts := make([]string, 0, 2+len(p.TechInfo))
	parts = append(parts, p.Title)
	parts = append(parts, p.Features...)
	for _, v := range p.TechInfo {
		parts = append(parts, v)
	}
	return m.Extract(strings.Join(parts, " "))
}

// Technical reports whether the query should trigger feature re-ranking:
// two or more stated features, or at least one feature together with an
// explicit category word. Zero-feature queries always preserve vendor order.
func (m *Matcher) Technical(query Set, keywords string) bool {
	n := query.Count()
	if n >= 2 {
		return true
	}
	return n >= 1 && hasCategoryWord(keywords)
}

// Score sums the per-feature contributions of candidate against query and
// returns the per-feature explanation record. Same inputs always produce
// the same score.
func (m *Matcher) Score(query, candidate Set) (float64, []Explanation) {
	var total float64
	var expl []Explanation

	add := func(name string, contribution float64, flag Flag) {
		total += contribution
		expl = append(expl, Explanation{Feature: name, Flag: flag})
	}

	if query.RefreshHz > 0 {
		c, f := scoreNumeric(query.RefreshHz, candidate.RefreshHz, weightRefresh)
		add("refresh_rate", c, f)
	}
	if query.Resolution != ResUnknown {
		c, f := scoreMonotoneEnum(int(query.Resolution), int(candidate.Resolution), weightResolution)
		add("resolution", c, f)
	}
	if query.SizeInch > 0 {
		c, f := scoreNumeric(query.SizeInch, candidate.SizeInch, weightSize)
		add("size", c, f)
	}
	if query.Panel != PanelUnknown {
		c, f := scoreCompatEnum(int(query.Panel), int(candidate.Panel), weightPanel)
		add("panel_type", c, f)
	}
	if query.Curvature != CurveUnknown {
		if candidate.Curvature == query.Curvature {
			add("curvature", weightCurvature, FlagMatch)
		} else {
			add("curvature", 0, FlagMiss)
		}
	}
	if query.Brand != "" {
		if strings.EqualFold(query.Brand, candidate.Brand) {
			add("brand", weightBrand, FlagMatch)
		} else {
			add("brand", 0, FlagMiss)
		}
	}

	return total, expl
}

// scoreNumeric applies the deviation bands to a monotone numeric feature.
func scoreNumeric(query, cand, weight float64) (float64, Flag) {
	if cand <= 0 {
		return 0, FlagMiss
	}
	dev := (cand - query) / query
	abs := dev
	if abs < 0 {
		abs = -abs
	}

	var base float64
	switch {
	case abs <= fullBand:
		base = weight
	case abs <= zeroBand:
		base = weight * (zeroBand - abs) / (zeroBand - fullBand)
	default:
		return 0, FlagMiss
	}

	if dev > 0 {
		return base * upgradeBonus, FlagUpgrade
	}
	if abs <= fullBand {
		return base, FlagMatch
	}
	return base, FlagNear
}

// scoreMonotoneEnum scores an ordered class feature (resolution): equal is
// a full match, strictly better earns the upgrade bonus, worse is a miss.
func scoreMonotoneEnum(query, cand int, weight float64) (float64, Flag) {
	switch {
	case cand == 0:
		return 0, FlagMiss
	case cand == query:
		return weight, FlagMatch
	case cand > query:
		return weight * upgradeBonus, FlagUpgrade
	default:
		return 0, FlagMiss
	}
}

// scoreCompatEnum scores a categorical feature with a compatibility order
// (panel type): exact or compatible-upgrade both earn full weight, no bonus.
func scoreCompatEnum(query, cand int, weight float64) (float64, Flag) {
	switch {
	case cand == 0:
		return 0, FlagMiss
	case cand == query:
		return weight, FlagMatch
	case cand > query:
		return weight, FlagUpgrade
	default:
		return 0, FlagMiss
	}
}

// Less is the deterministic tie-break between candidates with equal scores:
// higher refresh rate, then higher resolution class, then lower price, then
// larger review count, then lexicographic ASIN.
func Less(a, b types.Product, av, bv Set) bool {
	if av.RefreshHz != bv.RefreshHz {
		return av.RefreshHz > bv.RefreshHz
	}
	if av.Resolution != bv.Resolution {
		return av.Resolution > bv.Resolution
	}
	if a.Price != b.Price {
		if a.Price == 0 {
			return false
		}
		if b.Price == 0 {
			return true
		}
		return a.Price < b.Price
	}
	if a.ReviewCount != b.ReviewCount {
		return a.ReviewCount > b.ReviewCount
	}
	return a.ASIN < b.ASIN
}

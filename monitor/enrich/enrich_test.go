package enrich

import (
	"context"
	"fmt"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"mandi-monitor/monitor/paapi"
	"mandi-monitor/monitor/types"
)

type stubGetter struct {
	calls    int
	detail   map[string]types.Product
	failASIN string
}

func (g *stubGetter) GetItem(_ context.Context, asin string, _ paapi.ResourceSet) (types.Product, error) {
	g.calls++
	if asin == g.failASIN {
		return types.Product{}, fmt.Errorf("%w: %s", paapi.ErrItemNotAccessible, asin)
	}
	p, ok := g.detail[asin]
	if !ok {
		return types.Product{}, paapi.ErrItemNotAccessible
	}
	return p, nil
}

func TestEnrichPassesThroughPricedCandidates(t *testing.T) {
	g := &stubGetter{}
	s := NewService(zerolog.Nop(), g)

	in := []types.Product{
		{ASIN: "B000000001", Price: 1_000_000},
		{ASIN: "B000000002", Price: 2_000_000},
	}
	out := s.Enrich(context.Background(), in)
	require.Equal(t, in, out)
	require.Zero(t, g.calls)
}

func TestEnrichFillsMissingPrices(t *testing.T) {
	g := &stubGetter{detail: map[string]types.Product{
		"B000000003": {ASIN: "B000000003", Price: 1_500_000, ListPrice: 2_000_000, Brand: "LG", ImageURL: "https://img/3"},
	}}
	s := NewService(zerolog.Nop(), g)

	out := s.Enrich(context.Background(), []types.Product{
		{ASIN: "B000000003", Title: "LG UltraGear"},
	})
	require.Len(t, out, 1)
	require.Equal(t, types.Paise(1_500_000), out[0].Price)
	require.Equal(t, types.Paise(2_000_000), out[0].ListPrice)
	require.Equal(t, "LG", out[0].Brand)
	require.Equal(t, "https://img/3", out[0].ImageURL)
	// Original fields survive enrichment.
	require.Equal(t, "LG UltraGear", out[0].Title)
}

func TestEnrichDropsFailedCandidates(t *testing.T) {
	g := &stubGetter{
		failASIN: "B000000004",
		detail: map[string]types.Product{
			"B000000005": {ASIN: "B000000005", Price: 900_000},
		},
	}
	s := NewService(zerolog.Nop(), g)

	out := s.Enrich(context.Background(), []types.Product{
		{ASIN: "B000000004"},
		{ASIN: "B000000005"},
	})
	require.Len(t, out, 1)
	require.Equal(t, "B000000005", out[0].ASIN)
}

func TestEnrichBudgetCap(t *testing.T) {
	detail := make(map[string]types.Product)
	var in []types.Product
	for i := 0; i < 8; i++ {
		asin := fmt.Sprintf("B00000000%d", i)
		detail[asin] = types.Product{ASIN: asin, Price: 1_000_000}
		in = append(in, types.Product{ASIN: asin})
	}
	g := &stubGetter{detail: detail}
	s := NewService(zerolog.Nop(), g)

	out := s.Enrich(context.Background(), in)
	// Five enrichments per invocation; the rest are dropped unpriced.
	require.Equal(t, 5, g.calls)
	require.Len(t, out, 5)
}

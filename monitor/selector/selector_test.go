package selector

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"mandi-monitor/monitor/feature"
	"mandi-monitor/monitor/types"
)

func newTestSelector() *Selector {
	return New(zerolog.Nop(), feature.NewMatcher())
}

func product(asin string, price, list types.Paise, brand, title string) types.Product {
	return types.Product{ASIN: asin, Price: price, ListPrice: list, Brand: brand, Title: title}
}

func TestSelectEmptyInputIsSearchStage(t *testing.T) {
	s := newTestSelector()
	_, err := s.Select(types.Watch{Keywords: "gaming monitor"}, nil)

	var nm *NoMatchError
	require.ErrorAs(t, err, &nm)
	require.Equal(t, StageSearch, nm.Stage)
}

func TestSelectBudgetFilterEmpties(t *testing.T) {
	s := newTestSelector()
	w := types.Watch{Keywords: "samsung gaming monitor", MaxPrice: 2_500_000}

	candidates := []types.Product{
		product("B000000001", 3_100_000, 0, "Samsung", "Samsung Odyssey"),
		product("B000000002", 3_400_000, 0, "Samsung", "Samsung Smart"),
	}
	_, err := s.Select(w, candidates)

	var nm *NoMatchError
	require.ErrorAs(t, err, &nm)
	require.Equal(t, StageBudget, nm.Stage)
	require.Contains(t, nm.Suggestion, "₹25,000")
}

func TestSelectBudgetDropsUnknownPrice(t *testing.T) {
	s := newTestSelector()
	w := types.Watch{Keywords: "monitor", MaxPrice: 2_500_000}

	candidates := []types.Product{
		product("B000000001", 0, 0, "", "Unpriced Monitor"),
		product("B000000002", 2_000_000, 0, "", "Priced Monitor"),
	}
	pick, err := s.Select(w, candidates)
	require.NoError(t, err)
	require.Equal(t, "B000000002", pick.Product.ASIN)
}

func TestSelectBrandFilter(t *testing.T) {
	s := newTestSelector()
	w := types.Watch{Keywords: "gaming monitor", Brand: "lg"}

	candidates := []types.Product{
		product("B000000001", 2_000_000, 0, "Samsung", "Samsung Odyssey"),
		product("B000000002", 2_100_000, 0, "LG", "LG UltraGear"),
		// Empty brand field falls back to title matching.
		product("B000000003", 2_200_000, 0, "", "LG 24 inch office monitor"),
	}
	pick, err := s.Select(w, candidates)
	require.NoError(t, err)
	require.Equal(t, "B000000002", pick.Product.ASIN)

	w.Brand = "benq"
	_, err = s.Select(w, candidates)
	var nm *NoMatchError
	require.ErrorAs(t, err, &nm)
	require.Equal(t, StageBrand, nm.Stage)
}

func TestSelectDiscountFilter(t *testing.T) {
	s := newTestSelector()
	w := types.Watch{Keywords: "gaming monitor", MinDiscount: 30}

	candidates := []types.Product{
		// 20% off: dropped.
		product("B000000001", 8_000_000, 10_000_000, "", "Monitor A"),
		// No list price: dropped, never assumed.
		product("B000000002", 5_000_000, 0, "", "Monitor B"),
		// 40% off: survives.
		product("B000000003", 6_000_000, 10_000_000, "", "Monitor C"),
	}
	pick, err := s.Select(w, candidates)
	require.NoError(t, err)
	require.Equal(t, "B000000003", pick.Product.ASIN)

	w.MinDiscount = 50
	_, err = s.Select(w, candidates)
	var nm *NoMatchError
	require.ErrorAs(t, err, &nm)
	require.Equal(t, StageDiscount, nm.Stage)
}

func TestSelectZeroFeatureQueryPreservesVendorOrder(t *testing.T) {
	s := newTestSelector()
	w := types.Watch{Keywords: "birthday gift"}

	candidates := []types.Product{
		product("B000000009", 2_000_000, 0, "", "First vendor result"),
		product("B000000001", 1_000_000, 0, "", "Cheaper later result"),
	}
	pick, err := s.Select(w, candidates)
	require.NoError(t, err)
	require.Equal(t, "B000000009", pick.Product.ASIN)
	require.False(t, pick.Technical)
	require.Empty(t, pick.Explanations)
}

func TestSelectTechnicalQueryReRanks(t *testing.T) {
	s := newTestSelector()
	w := types.Watch{Keywords: "gaming monitor 144Hz 27 inch QHD"}

	candidates := []types.Product{
		product("B000000001", 2_500_000, 0, "", "27 inch QHD 144Hz gaming monitor"),
		product("B000000002", 2_600_000, 0, "", "27 inch QHD 165Hz gaming monitor"),
	}
	pick, err := s.Select(w, candidates)
	require.NoError(t, err)
	// The 165Hz candidate wins on the refresh-rate upgrade bonus.
	require.Equal(t, "B000000002", pick.Product.ASIN)
	require.True(t, pick.Technical)
	require.NotEmpty(t, pick.Explanations)
}

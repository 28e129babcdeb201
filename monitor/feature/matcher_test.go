package feature

import (
	"testing"

	"github.com/stretchr/testify/require"

	"mandi-monitor/monitor/types"
)

func TestExtract(t *testing.T) {
	testCases := []struct {
		name string
		text string
		want Set
	}{
		{
			name: "full technical query",
			text: "LG UltraGear 27 inch QHD IPS 144Hz gaming monitor",
			want: Set{RefreshHz: 144, SizeInch: 27, Resolution: ResQHD, Panel: PanelIPS, Brand: "lg"},
		},
		{
			name: "fps treated as hz",
			text: "165 fps curved display",
			want: Set{RefreshHz: 165, Curvature: CurveCurved},
		},
		{
			name: "resolution synonyms",
			text: "samsung 4k 32\"",
			want: Set{SizeInch: 32, Resolution: ResUHD, Brand: "samsung"},
		},
		{
			name: "marketing words stripped",
			text: "stunning immersive eye-care monitor",
			want: Set{},
		},
		{
			name: "size out of range rejected",
			text: "75 inch panel 900hz",
			want: Set{},
		},
	}
	m := NewMatcher()
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, m.Extract(tc.text))
		})
	}
}

func TestTechnical(t *testing.T) {
	m := NewMatcher()

	// Two extractable features is technical regardless of category words.
	require.True(t, m.Technical(m.Extract("144hz qhd"), "144hz qhd"))
	// One feature needs an explicit category word.
	require.True(t, m.Technical(m.Extract("144hz monitor"), "144hz monitor"))
	require.False(t, m.Technical(m.Extract("144hz"), "144hz"))
	// Zero features is never technical.
	require.False(t, m.Technical(m.Extract("good monitor"), "good monitor"))
}

func TestScoreUpgradeBeatsExactMatch(t *testing.T) {
	m := NewMatcher()
	query := m.Extract("gaming monitor 144Hz 27 inch QHD")
	exact := m.Extract("27 inch QHD 144Hz monitor")
	upgrade := m.Extract("27 inch QHD 165Hz monitor")

	exactScore, exactExpl := m.Score(query, exact)
	upgradeScore, upgradeExpl := m.Score(query, upgrade)

	require.Greater(t, upgradeScore, exactScore)
	require.Equal(t, FlagMatch, flagFor(t, exactExpl, "refresh_rate"))
	require.Equal(t, FlagUpgrade, flagFor(t, upgradeExpl, "refresh_rate"))
}

func TestScoreDeterministic(t *testing.T) {
	m := NewMatcher()
	query := m.Extract("144hz 27 inch qhd ips monitor")
	cand := m.Extract("acer 27\" wqhd ips 144 hz")

	first, _ := m.Score(query, cand)
	for i := 0; i < 10; i++ {
		again, _ := m.Score(query, cand)
		require.Equal(t, first, again)
	}
}

func TestScoreNumericBands(t *testing.T) {
	// Within 15% deviation: full weight. Between 15% and 50%: linear decay.
	// Beyond 50%: zero.
	full, flag := scoreNumeric(100, 110, 1.0)
	require.Equal(t, FlagUpgrade, flag)
	require.InDelta(t, 1.10, full, 1e-9)

	near, flag := scoreNumeric(100, 70, 1.0)
	require.Equal(t, FlagNear, flag)
	require.Greater(t, near, 0.0)
	require.Less(t, near, 1.0)

	miss, flag := scoreNumeric(100, 40, 1.0)
	require.Equal(t, FlagMiss, flag)
	require.Zero(t, miss)
}

func TestPanelCompatUpgradeNoBonus(t *testing.T) {
	// A compatible upgrade (IPS when TN requested) earns full weight but no
	// bonus.
	score, flag := scoreCompatEnum(int(PanelTN), int(PanelIPS), weightPanel)
	require.Equal(t, FlagUpgrade, flag)
	require.Equal(t, weightPanel, score)

	score, flag = scoreCompatEnum(int(PanelIPS), int(PanelTN), weightPanel)
	require.Equal(t, FlagMiss, flag)
	require.Zero(t, score)
}

func TestLessTieBreak(t *testing.T) {
	a := types.Product{ASIN: "B000000001", Price: 2_000_000, ReviewCount: 10}
	b := types.Product{ASIN: "B000000002", Price: 2_000_000, ReviewCount: 10}

	// Higher refresh wins first.
	require.True(t, Less(a, b, Set{RefreshHz: 165}, Set{RefreshHz: 144}))
	// Then higher resolution class.
	require.True(t, Less(a, b, Set{Resolution: ResUHD}, Set{Resolution: ResQHD}))
	// Then lower price; unknown price sorts last.
	cheap := a
	cheap.Price = 1_500_000
	require.True(t, Less(cheap, b, Set{}, Set{}))
	unpriced := a
	unpriced.Price = 0
	require.False(t, Less(unpriced, b, Set{}, Set{}))
	// Finally lexicographic ASIN keeps the order total.
	require.True(t, Less(a, b, Set{}, Set{}))
}

func flagFor(t *testing.T, expl []Explanation, feature string) Flag {
	t.Helper()
	for _, e := range expl {
		if e.Feature == feature {
			return e.Flag
		}
	}
	t.Fatalf("no explanation for %s", feature)
	return ""
}

package scrape

import (
	"testing"

	"github.com/stretchr/testify/require"

	"mandi-monitor/monitor/types"
)

func TestParsePriceText(t *testing.T) {
	testCases := []struct {
		name string
		text string
		want types.Paise
		ok   bool
	}{
		{name: "rupee symbol with grouping", text: "₹24,999.00", want: 2_499_900, ok: true},
		{name: "plain integer", text: "1299", want: 129_900, ok: true},
		{name: "single fraction digit", text: "₹99.5", want: 9_950, ok: true},
		{name: "long fraction truncated", text: "450.999", want: 45_099, ok: true},
		{name: "no digits", text: "Currently unavailable", ok: false},
		{name: "empty", text: "", ok: false},
		{name: "zero rejected", text: "₹0.00", ok: false},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := parsePriceText(tc.text)
			require.Equal(t, tc.ok, ok)
			if tc.ok {
				require.Equal(t, tc.want, got)
			}
		})
	}
}

package types

import (
	"fmt"
	"strconv"
	"strings"
)

// Paise is an integer amount in the store's minor currency unit. All internal
// price comparisons happen in Paise; rupee values exist only at the chat and
// display boundaries.
type Paise int64

// maxReasonablePrice bounds any price we are willing to persist. Anything at
// or above this is a parsing or extraction artefact, not a real offer.
const maxReasonablePrice Paise = 10_000_000_000

// RupeesToPaise converts a whole-rupee amount to Paise.
func RupeesToPaise(rupees int64) Paise {
	return Paise(rupees * 100)
}

// Rupees returns the whole-rupee part of the amount.
func (p Paise) Rupees() int64 {
	return int64(p) / 100
}

// Valid reports whether the amount is storable: strictly positive and below
// the sanity bound. Zero and negative prices are never written to the cache
// or the observations table.
func (p Paise) Valid() bool {
	return p > 0 && p < maxReasonablePrice
}

// String renders the amount as rupees for user-facing messages, e.g. "₹25,000".
func (p Paise) String() string {
	return "₹" + groupIndian(p.Rupees())
}

// groupIndian formats an integer with Indian digit grouping (1,23,45,678).
func groupIndian(n int64) string {
	neg := n < 0
	if neg {
		n = -n
	}
	s := strconv.FormatInt(n, 10)
	if len(s) > 3 {
		head, tail := s[:len(s)-3], s[len(s)-3:]
		var parts []string
		for len(head) > 2 {
			parts = append([]string{head[len(head)-2:]}, parts...)
			head = head[:len(head)-2]
		}
		if head != "" {
			parts = append([]string{head}, parts...)
		}
		s = strings.Join(append(parts, tail), ",")
	}
	if neg {
		return "-" + s
	}
	return s
}

// ParseRupees parses a user-supplied rupee amount and returns it in Paise.
// Accepted forms: "50000", "50,000", "₹50,000", "rs. 50000", "INR 50000",
// "50k". The "k" suffix multiplies by 1000.
func ParseRupees(s string) (Paise, error) {
	orig := s
	s = strings.TrimSpace(s)
	lower := strings.ToLower(s)
	for _, prefix := range []string{"₹", "rs.", "rs", "inr"} {
		if strings.HasPrefix(lower, prefix) {
			s = strings.TrimSpace(s[len(prefix):])
			lower = strings.ToLower(s)
			break
		}
	}
	mult := int64(1)
	if strings.HasSuffix(lower, "k") {
		mult = 1000
		s = strings.TrimSpace(s[:len(s)-1])
	}
	s = strings.ReplaceAll(s, ",", "")
	if s == "" {
		return 0, fmt.Errorf("empty rupee amount in %q", orig)
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid rupee amount %q: %w", orig, err)
	}
	if n < 0 {
		return 0, fmt.Errorf("negative rupee amount %q", orig)
	}
	return RupeesToPaise(n * mult), nil
}

package types

import (
	"fmt"
	"time"
)

// Mode determines which scheduler family owns a watch.
type Mode string

const (
	ModeDaily    Mode = "daily"
	ModeRealtime Mode = "realtime"
)

// Watch is a user's standing query against the marketplace.
type Watch struct {
	ID          int64
	UserID      int64 // chat user id
	Keywords    string
	Brand       string
	MaxPrice    Paise // 0 = unset
	MinDiscount int   // percent, 0 = unset
	ASIN        string
	Mode        Mode
	CreatedAt   time.Time
}

// Validate enforces the watch invariants: at least one of keywords/ASIN set,
// a well-formed ASIN when present, and non-zero thresholds when set.
func (w Watch) Validate() error {
	if w.Keywords == "" && w.ASIN == "" {
		return fmt.Errorf("watch requires keywords or an ASIN")
	}
	if w.ASIN != "" && !ValidASIN(w.ASIN) {
		return fmt.Errorf("invalid ASIN %q", w.ASIN)
	}
	if w.MaxPrice < 0 {
		return fmt.Errorf("max price must be positive")
	}
	if w.MinDiscount < 0 || w.MinDiscount > 99 {
		return fmt.Errorf("min discount must be between 1 and 99")
	}
	switch w.Mode {
	case ModeDaily, ModeRealtime:
	default:
		return fmt.Errorf("unknown watch mode %q", w.Mode)
	}
	return nil
}

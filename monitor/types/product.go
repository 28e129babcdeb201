package types

import (
	"regexp"
	"time"
)

var asinRe = regexp.MustCompile(`^[A-Z0-9]{10}$`)

// ValidASIN reports whether s is a well-formed marketplace item identifier:
// exactly ten uppercase alphanumeric characters.
func ValidASIN(s string) bool {
	return asinRe.MatchString(s)
}

// PriceSource identifies where a price observation came from.
type PriceSource string

const (
	SourceCache  PriceSource = "cache"
	SourceAPI    PriceSource = "api"
	SourceScrape PriceSource = "scrape"
)

// Product is a single marketplace item as seen by the pipeline. Search
// responses frequently omit offer data, in which case Price is zero until the
// enrichment pass fills it in from a get-item call.
type Product struct {
	ASIN        string
	Title       string
	Brand       string
	ImageURL    string
	Price       Paise // current offer price; 0 = unknown
	ListPrice   Paise // MRP; 0 = unknown
	Features    []string
	TechInfo    map[string]string
	ReviewCount int
}

// HasPrice reports whether the current offer price is known.
func (p Product) HasPrice() bool {
	return p.Price > 0
}

// DiscountPercent returns the integer discount off list price, or 0 when the
// list price is unknown.
func (p Product) DiscountPercent() int {
	if p.ListPrice <= 0 || p.Price <= 0 || p.Price >= p.ListPrice {
		return 0
	}
	return int((p.ListPrice - p.Price) * 100 / p.ListPrice)
}

// Quote is a resolved price for a single ASIN.
type Quote struct {
	ASIN      string
	Price     Paise
	Source    PriceSource
	Stale     bool
	FetchedAt time.Time
}

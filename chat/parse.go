// Package chat adapts the core pipeline to the chat transport: parsing
// free-text watch requests on the way in, and building cards, digests and
// no-match notices on the way out. The transport's wire format is out of
// scope; this package produces and consumes the typed records only.
package chat

import (
	"errors"
	"regexp"
	"strconv"
	"strings"

	"mandi-monitor/monitor/types"
)

// ErrUnparseable marks watch text that yields neither keywords nor an ASIN.
// The boundary surfaces it as a "please clarify" message; no watch is created.
var ErrUnparseable = errors.New("watch text yields no usable fields")

var (
	// An ASIN token must carry at least one digit, otherwise ten-letter
	// all-caps words ("ULTRAWIDES") would be swallowed as identifiers.
	asinTokenRe = regexp.MustCompile(`\b[A-Z0-9]{10}\b`)

	discountRe = regexp.MustCompile(`(?i)\b(\d{1,2})\s*(?:%|percent|per\s+cent)\b`)

	// Money tokens: ₹/rs./INR prefixed amounts, bare k-suffixed amounts, or
	// bare integers of 3+ digits (shorter bare numbers are feature values
	// like "27 inch", never prices). An optional qualifier word is consumed
	// with the token so it doesn't pollute the keywords.
	priceRe = regexp.MustCompile(`(?i)(?:\b(?:under|below|upto|up\s+to|max(?:imum)?|budget)\s+)?((?:₹|rs\.?\s*|inr\s+)\s*\d[\d,]*(?:\.\d+)?\s*k?|\b\d[\d,]*k\b|\b\d{3,}\b)`)

	allCapsRe = regexp.MustCompile(`\b[A-Z]{2,9}\b`)

	spaceRe = regexp.MustCompile(`\s+`)
)

// parseBrands is the curated vocabulary the parser recognises; any other
// all-caps token is accepted as a brand guess.
var parseBrands = []string{
	"samsung", "lg", "dell", "acer", "asus", "msi", "benq",
	"aoc", "viewsonic", "hp", "lenovo", "gigabyte", "zebronics",
	"boat", "sony", "mi", "oneplus", "noise",
}

// ParseWatch extracts a Watch from free text. Prices are read in rupees and
// stored in paise; the watch mode defaults to daily and is not part of the
// text grammar.
func ParseWatch(userID int64, text string) (types.Watch, error) {
	w := types.Watch{UserID: userID, Mode: types.ModeDaily}
	remainder := text

	if tok := findASIN(remainder); tok != "" {
		w.ASIN = tok
		remainder = strings.Replace(remainder, tok, " ", 1)
	}

	if m := discountRe.FindStringSubmatch(remainder); m != nil {
		if v, err := strconv.Atoi(m[1]); err == nil && v >= 1 && v <= 99 {
			w.MinDiscount = v
			remainder = strings.Replace(remainder, m[0], " ", 1)
		}
	}

	if m := priceRe.FindStringSubmatch(remainder); m != nil {
		if p, err := types.ParseRupees(m[1]); err == nil {
			w.MaxPrice = p
			remainder = strings.Replace(remainder, m[0], " ", 1)
		}
	}

	w.Brand = findBrand(remainder)
	w.Keywords = spaceRe.ReplaceAllString(strings.TrimSpace(remainder), " ")

	if w.Keywords == "" && w.ASIN == "" {
		return types.Watch{}, ErrUnparseable
	}
	if err := w.Validate(); err != nil {
		return types.Watch{}, err
	}
	return w, nil
}

func findASIN(text string) string {
	for _, tok := range asinTokenRe.FindAllString(text, -1) {
		if strings.ContainsAny(tok, "0123456789") {
			return tok
		}
	}
	return ""
}

// capsStopWords are all-caps tokens that are spec sheet vocabulary, not
// brands.
var capsStopWords = map[string]struct{}{
	"HD": {}, "FHD": {}, "QHD": {}, "UHD": {}, "WQHD": {},
	"IPS": {}, "TN": {}, "VA": {}, "OLED": {}, "LED": {}, "LCD": {},
	"HZ": {}, "FPS": {}, "INR": {}, "RS": {}, "USB": {}, "HDMI": {},
	"TV": {}, "RGB": {}, "MRP": {},
}

// findBrand checks the curated list first, then falls back to the first
// all-caps token. The brand stays in the keywords; search relevance is
// better with it, and the brand filter applies independently downstream.
func findBrand(text string) string {
	lower := strings.ToLower(text)
	for _, b := range parseBrands {
		if containsWord(lower, b) {
			return b
		}
	}
	for _, m := range allCapsRe.FindAllString(text, -1) {
		if _, stop := capsStopWords[m]; !stop {
			return strings.ToLower(m)
		}
	}
	return ""
}

func containsWord(haystack, word string) bool {
	idx := 0
	for {
		i := strings.Index(haystack[idx:], word)
		if i < 0 {
			return false
		}
		start := idx + i
		end := start + len(word)
		beforeOK := start == 0 || !isAlnum(haystack[start-1])
		afterOK := end == len(haystack) || !isAlnum(haystack[end])
		if beforeOK && afterOK {
			return true
		}
		idx = start + 1
	}
}

func isAlnum(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= '0' && c <= '9'
}

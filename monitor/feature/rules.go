package feature

import (
	"regexp"
	"strconv"
	"strings"
)

// Resolution classes ordered by quality.
type Resolution int

const (
	ResUnknown Resolution = iota
	ResFHD
	ResQHD
	ResUHD
)

func (r Resolution) String() string {
	switch r {
	case ResFHD:
		return "FHD"
	case ResQHD:
		return "QHD"
	case ResUHD:
		return "UHD"
	default:
		return "unknown"
	}
}

// Panel technologies ordered by compatibility: a later panel is accepted as
// a compatible upgrade of an earlier one.
type Panel int

const (
	PanelUnknown Panel = iota
	PanelTN
	PanelVA
	PanelIPS
	PanelOLED
)

func (p Panel) String() string {
	switch p {
	case PanelTN:
		return "TN"
	case PanelVA:
		return "VA"
	case PanelIPS:
		return "IPS"
	case PanelOLED:
		return "OLED"
	default:
		return "unknown"
	}
}

type Curvature int

const (
	CurveUnknown Curvature = iota
	CurveFlat
	CurveCurved
)

// Set is the typed feature vector extracted from a query or a product's
// text. Zero values mean "not stated".
type Set struct {
	RefreshHz  float64
	SizeInch   float64
	Resolution Resolution
	Panel      Panel
	Curvature  Curvature
	Brand      string
}

// Count returns the number of stated features.
func (s Set) Count() int {
	n := 0
	if s.RefreshHz > 0 {
		n++
	}
	if s.SizeInch > 0 {
		n++
	}
	if s.Resolution != ResUnknown {
		n++
	}
	if s.Panel != PanelUnknown {
		n++
	}
	if s.Curvature != CurveUnknown {
		n++
	}
	if s.Brand != "" {
		n++
	}
	return n
}

// marketingWords are stripped before extraction; they carry no feature
// signal and "eye-care" in particular shadows real panel tokens.
var marketingWords = []string{"stunning", "immersive", "cinematic", "eye-care", "eye care"}

// categoryWords mark a query as belonging to the bundled category even when
// few features are extractable.
var categoryWords = []string{"monitor", "display"}

// knownBrands is the curated brand vocabulary for the bundled category.
var knownBrands = []string{
	"samsung", "lg", "dell", "acer", "asus", "msi", "benq",
	"aoc", "viewsonic", "hp", "lenovo", "gigabyte", "zebronics",
}

// Extraction is table-driven: one rule per feature keeps the vocabulary
// auditable. Each rule owns its regex and writes exactly one field.
type rule struct {
	name  string
	re    *regexp.Regexp
	apply func(m []string, s *Set)
}

var rules = []rule{
	{
		// 144 Hz, 144hz, 144 fps: FPS is treated as Hz in monitor context.
		name: "refresh_rate",
		re:   regexp.MustCompile(`(?i)\b(\d{2,3})\s*(?:hz|fps)\b`),
		apply: func(m []string, s *Set) {
			if v, err := strconv.ParseFloat(m[1], 64); err == nil && v >= 30 && v <= 600 {
				s.RefreshHz = v
			}
		},
	},
	{
		// 27", 27-inch, 27 inch, 27in. Values outside [15, 65] are rejected.
		name: "size",
		re:   regexp.MustCompile(`(?i)\b(\d{2}(?:\.\d)?)\s*(?:"|”|-?\s?inch(?:es)?\b|in\b)`),
		apply: func(m []string, s *Set) {
			if v, err := strconv.ParseFloat(m[1], 64); err == nil && v >= 15 && v <= 65 {
				s.SizeInch = v
			}
		},
	},
	{
		name: "resolution",
		re:   regexp.MustCompile(`(?i)\b(4k|uhd|2160p|qhd|wqhd|1440p|2k|fhd|full hd|1080p)\b`),
		apply: func(m []string, s *Set) {
			switch strings.ToLower(m[1]) {
			case "4k", "uhd", "2160p":
				s.Resolution = ResUHD
			case "qhd", "wqhd", "1440p", "2k":
				s.Resolution = ResQHD
			case "fhd", "full hd", "1080p":
				s.Resolution = ResFHD
			}
		},
	},
	{
		name: "panel_type",
		re:   regexp.MustCompile(`(?i)\b(tn|va|ips|oled)\b`),
		apply: func(m []string, s *Set) {
			switch strings.ToLower(m[1]) {
			case "tn":
				s.Panel = PanelTN
			case "va":
				s.Panel = PanelVA
			case "ips":
				s.Panel = PanelIPS
			case "oled":
				s.Panel = PanelOLED
			}
		},
	},
	{
		name: "curvature",
		re:   regexp.MustCompile(`(?i)\b(curved|flat)\b`),
		apply: func(m []string, s *Set) {
			if strings.EqualFold(m[1], "curved") {
				s.Curvature = CurveCurved
			} else {
				s.Curvature = CurveFlat
			}
		},
	},
}

var brandRe = regexp.MustCompile(`(?i)\b(` + strings.Join(knownBrands, "|") + `)\b`)

// extract runs every rule over the normalised text.
func extract(text string) Set {
	normalised := strings.ToLower(text)
	for _, w := range marketingWords {
		normalised = strings.ReplaceAll(normalised, w, " ")
	}

	var s Set
	for _, r := range rules {
		if m := r.re.FindStringSubmatch(normalised); m != nil {
			r.apply(m, &s)
		}
	}
	if m := brandRe.FindStringSubmatch(normalised); m != nil {
		s.Brand = strings.ToLower(m[1])
	}
	return s
}

func hasCategoryWord(text string) bool {
	lower := strings.ToLower(text)
	for _, w := range categoryWords {
		if strings.Contains(lower, w) {
			return true
		}
	}
	return false
}

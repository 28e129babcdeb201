package chat

import (
	"context"
	"encoding/base64"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"mandi-monitor/monitor/selector"
	"mandi-monitor/monitor/types"
)

// digestSize is the card cap per user in a daily digest.
const digestSize = 5

// Transport delivers outbound messages. The chat front-end implements it;
// tests use a recording stub.
type Transport interface {
	SendCarousel(ctx context.Context, userID int64, cards []types.Card) error
	SendNotice(ctx context.Context, userID int64, text string) error
}

// Builder turns selected products into outbound cards with affiliate URLs
// and click-callback tokens.
type Builder struct {
	marketplace string // host, e.g. "www.amazon.in"
	tag         string // affiliate tag
}

func NewBuilder(marketplace, tag string) *Builder {
	return &Builder{marketplace: marketplace, tag: tag}
}

// Card builds the outbound record for a selected product at the given
// current price. ImageURL passes through as-is; it is either empty or a
// vendor URL, never a placeholder.
func (b *Builder) Card(watchID int64, p types.Product, price types.Paise) types.Card {
	return types.Card{
		Title:      p.Title,
		ImageURL:   p.ImageURL,
		Price:      price,
		ListPrice:  p.ListPrice,
		URL:        b.AffiliateURL(p.ASIN),
		ClickToken: EncodeClickToken(watchID, p.ASIN),
		ASIN:       p.ASIN,
	}
}

// AffiliateURL is the outbound link shape; the tag is process-wide config.
func (b *Builder) AffiliateURL(asin string) string {
	return fmt.Sprintf("https://%s/dp/%s?tag=%s&linkCode=ogi&th=1&psc=1", b.marketplace, asin, b.tag)
}

// EncodeClickToken packs (watch id, ASIN) into an opaque URL-safe token the
// click endpoint can reverse.
func EncodeClickToken(watchID int64, asin string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(fmt.Sprintf("%d:%s", watchID, asin)))
}

// DecodeClickToken reverses EncodeClickToken.
func DecodeClickToken(token string) (int64, string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return 0, "", fmt.Errorf("malformed click token: %w", err)
	}
	id, asin, ok := strings.Cut(string(raw), ":")
	if !ok {
		return 0, "", fmt.Errorf("malformed click token payload")
	}
	watchID, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return 0, "", fmt.Errorf("malformed click token watch id: %w", err)
	}
	if !types.ValidASIN(asin) {
		return 0, "", fmt.Errorf("malformed click token asin %q", asin)
	}
	return watchID, asin, nil
}

// NoMatchMessage templates the user-facing text for a no-match outcome,
// naming what was tried and what to adjust.
func NoMatchMessage(w types.Watch, nm *selector.NoMatchError) string {
	switch nm.Stage {
	case selector.StageSearch:
		return fmt.Sprintf("No products found for %q. Try broader keywords.", w.Keywords)
	case selector.StageBudget:
		return fmt.Sprintf("No products under %s for %q. Consider raising your budget.", w.MaxPrice, w.Keywords)
	case selector.StageBrand:
		return fmt.Sprintf("No %s products matched %q. Consider dropping the brand filter.", w.Brand, w.Keywords)
	case selector.StageDiscount:
		return fmt.Sprintf("No deals at ≥%d%% off for %q right now. Consider a lower discount threshold.", w.MinDiscount, w.Keywords)
	default:
		return fmt.Sprintf("No match for %q. Try adjusting your filters.", w.Keywords)
	}
}

// ClarifyMessage is the reply for unparseable watch text.
func ClarifyMessage() string {
	return "I couldn't find a product or keywords in that. Try something like \"samsung gaming monitor under ₹30,000\" or paste a product link's ASIN."
}

// DigestBuffer accumulates daily-mode cards per user between the daily
// evaluations and the digest flush. Flush drains the buffer, keeping the
// top cards by discount for each user.
type DigestBuffer struct {
	mtx     sync.Mutex
	pending map[int64][]types.Card
}

func NewDigestBuffer() *DigestBuffer {
	return &DigestBuffer{pending: make(map[int64][]types.Card)}
}

func (d *DigestBuffer) Add(userID int64, card types.Card) {
	d.mtx.Lock()
	defer d.mtx.Unlock()
	d.pending[userID] = append(d.pending[userID], card)
}

// Flush returns each user's cards ranked by discount, capped at the digest
// size, and resets the buffer. Ranking is stable, so equal-discount cards
// keep their evaluation order.
func (d *DigestBuffer) Flush() map[int64][]types.Card {
	d.mtx.Lock()
	pending := d.pending
	d.pending = make(map[int64][]types.Card)
	d.mtx.Unlock()

	for userID, cards := range pending {
		sort.SliceStable(cards, func(i, j int) bool {
			return cards[i].DiscountPercent() > cards[j].DiscountPercent()
		})
		if len(cards) > digestSize {
			cards = cards[:digestSize]
		}
		pending[userID] = cards
	}
	return pending
}

package types

// Card is one entry in an outbound result carousel. The chat transport owns
// the wire rendering; the core guarantees ImageURL is either empty or a valid
// URL, never an empty-but-present placeholder.
type Card struct {
	Title      string `json:"title"`
	ImageURL   string `json:"image_url,omitempty"`
	Price      Paise  `json:"price"`
	ListPrice  Paise  `json:"list_price,omitempty"`
	URL        string `json:"url"`
	ClickToken string `json:"click_token"`
	ASIN       string `json:"asin"`
}

// DiscountPercent mirrors Product.DiscountPercent for ranking digests.
func (c Card) DiscountPercent() int {
	if c.ListPrice <= 0 || c.Price <= 0 || c.Price >= c.ListPrice {
		return 0
	}
	return int((c.ListPrice - c.Price) * 100 / c.ListPrice)
}

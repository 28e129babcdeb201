package chat

import (
	"context"

	"github.com/rs/zerolog"

	"mandi-monitor/monitor/types"
)

// LogTransport is the Transport used when no chat front-end is attached: it
// logs every outbound message. The real transport wraps the bot API and is
// wired in its place.
type LogTransport struct {
	logger zerolog.Logger
}

func NewLogTransport(logger zerolog.Logger) *LogTransport {
	return &LogTransport{logger: logger.With().Str("module", "transport").Logger()}
}

func (t *LogTransport) SendCarousel(_ context.Context, userID int64, cards []types.Card) error {
	for _, c := range cards {
		t.logger.Info().
			Int64("user", userID).
			Str("asin", c.ASIN).
			Str("price", c.Price.String()).
			Int("discount", c.DiscountPercent()).
			Msg("carousel card")
	}
	return nil
}

func (t *LogTransport) SendNotice(_ context.Context, userID int64, text string) error {
	t.logger.Info().Int64("user", userID).Str("text", text).Msg("notice")
	return nil
}

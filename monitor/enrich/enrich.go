// Package enrich fills in offer data the vendor's search operation omits.
// Search responses frequently carry no pricing; a get-item call is the
// authoritative source, so candidates missing a price get one here before
// the selector runs.
package enrich

import (
	"context"

	"github.com/rs/zerolog"

	"mandi-monitor/monitor/paapi"
	"mandi-monitor/monitor/types"
	metrics "mandi-monitor/pkg/telemetry"
)

// maxPerBatch bounds tail latency: at most this many serial get-item calls
// per selector invocation, each paying the governor's token price.
const maxPerBatch = 5

type ItemGetter interface {
	GetItem(ctx context.Context, asin string, res paapi.ResourceSet) (types.Product, error)
}

type Service struct {
	logger zerolog.Logger
	api    ItemGetter
}

func NewService(logger zerolog.Logger, api ItemGetter) *Service {
	return &Service{
		logger: logger.With().Str("module", "enrich").Logger(),
		api:    api,
	}
}

// Enrich returns the candidate pool with missing prices filled in. Candidates
// that already carry a price pass through untouched. A candidate whose
// get-item call fails is excluded from the pool; the batch continues.
func (s *Service) Enrich(ctx context.Context, candidates []types.Product) []types.Product {
	out := make([]types.Product, 0, len(candidates))
	budget := maxPerBatch

	for _, c := range candidates {
		if c.HasPrice() {
			out = append(out, c)
			continue
		}
		if budget == 0 {
			// Out of enrichment budget; an unpriced candidate cannot pass
			// the budget filter anyway, so it is dropped rather than guessed.
			continue
		}
		budget--

		detail, err := s.api.GetItem(ctx, c.ASIN, paapi.ResourcesDetailed)
		if err != nil {
			metrics.IncrCounter(1, "enrich", "dropped")
			s.logger.Debug().Err(err).Str("asin", c.ASIN).Msg("enrichment failed, dropping candidate")
			continue
		}
		c.Price = detail.Price
		if detail.ListPrice > 0 {
			c.ListPrice = detail.ListPrice
		}
		if c.Brand == "" {
			c.Brand = detail.Brand
		}
		if c.ImageURL == "" {
			c.ImageURL = detail.ImageURL
		}
		if !c.HasPrice() {
			continue
		}
		metrics.IncrCounter(1, "enrich", "filled")
		out = append(out, c)
	}

	return out
}

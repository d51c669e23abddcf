// Package index composes the market-cap-weighted target allocation from
// ranked coin listings.
package index

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/floats"

	"github.com/vkozlov/cryptofolio/internal/domain"
)

// fetchMargin is added to the base size when fetching listings so that the
// base window is still full after stablecoins are dropped.
const fetchMargin = 30

// Params control one composition pass.
type Params struct {
	BaseSize      int             // size of the base index window, e.g. top 20
	SelectedCount int             // number of constituents actually held
	Stablecoins   map[string]bool // excluded from ranking entirely
}

// Service turns ranked market-cap data into a target weight vector.
type Service struct {
	marketData domain.MarketDataClient
	log        zerolog.Logger
}

// NewService creates a new index composition service
func NewService(marketData domain.MarketDataClient, log zerolog.Logger) *Service {
	return &Service{
		marketData: marketData,
		log:        log.With().Str("service", "index").Logger(),
	}
}

// Compose builds the target allocation: the first SelectedCount coins of
// the base window keep their market-cap weight plus an equal split of the
// remainder's weight, so the final weights sum to 100%.
//
// Returns domain.ErrDataUnavailable when the upstream fetch fails or fewer
// than SelectedCount non-stablecoin coins fill the base window. The caller
// treats this as retryable on the next cycle.
func (s *Service) Compose(ctx context.Context, p Params) ([]domain.TargetAllocation, error) {
	if p.BaseSize < p.SelectedCount || p.SelectedCount < 1 {
		return nil, fmt.Errorf("invalid index params: base=%d selected=%d", p.BaseSize, p.SelectedCount)
	}

	ranked, err := s.marketData.ListRanked(ctx, p.BaseSize+fetchMargin)
	if err != nil {
		return nil, err
	}

	base := make([]domain.RankedCoin, 0, p.BaseSize)
	for _, coin := range ranked {
		if p.Stablecoins[coin.Symbol] {
			continue
		}
		base = append(base, coin)
		if len(base) == p.BaseSize {
			break
		}
	}
	if len(base) < p.SelectedCount {
		return nil, fmt.Errorf("%w: only %d non-stablecoin coins in base window, need %d",
			domain.ErrDataUnavailable, len(base), p.SelectedCount)
	}

	caps := make([]float64, len(base))
	for i, coin := range base {
		caps[i] = coin.MarketCap
	}
	totalCap := floats.Sum(caps)
	if totalCap <= 0 {
		return nil, fmt.Errorf("%w: base window has zero total market cap", domain.ErrDataUnavailable)
	}

	selected := base[:p.SelectedCount]
	remainderShare := floats.Sum(caps[p.SelectedCount:]) / totalCap * 100
	// Equal split, not proportional: every selected coin gets the same bonus.
	bonusPerCoin := remainderShare / float64(p.SelectedCount)

	allocations := make([]domain.TargetAllocation, 0, len(selected))
	for _, coin := range selected {
		originalWeight := coin.MarketCap / totalCap * 100
		allocations = append(allocations, domain.TargetAllocation{
			Symbol:              coin.Symbol,
			Name:                coin.Name,
			Rank:                coin.Rank,
			MarketCap:           coin.MarketCap,
			Price:               coin.Price,
			Change24h:           coin.Change24h,
			OriginalWeight:      originalWeight,
			RedistributionBonus: bonusPerCoin,
			FinalWeight:         originalWeight + bonusPerCoin,
		})
	}

	sort.Slice(allocations, func(i, j int) bool {
		return allocations[i].Rank < allocations[j].Rank
	})

	s.log.Debug().
		Int("base", len(base)).
		Int("selected", len(allocations)).
		Float64("remainder_share", remainderShare).
		Float64("bonus_per_coin", bonusPerCoin).
		Msg("Composed target allocation")

	return allocations, nil
}

// ApplyPortfolioValue fills TargetValue on each allocation once the total
// portfolio value is known.
func ApplyPortfolioValue(allocations []domain.TargetAllocation, totalValue float64) {
	for i := range allocations {
		allocations[i].TargetValue = totalValue * allocations[i].FinalWeight / 100
	}
}

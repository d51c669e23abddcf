// Package planner diffs target allocations against live holdings and
// builds the ordered operation plan for one rebalance cycle.
package planner

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"github.com/vkozlov/cryptofolio/internal/domain"
	"github.com/vkozlov/cryptofolio/internal/modules/portfolio"
	"github.com/vkozlov/cryptofolio/pkg/formulas"
)

// quotePreference is the order in which held stablecoins are considered as
// the funding currency for the cycle.
var quotePreference = []string{"USDC", "USDT", "BUSD", "FDUSD"}

// RulesProvider supplies exchange trading constraints, normally the
// rules cache.
type RulesProvider interface {
	Get(ctx context.Context, pair string) (*domain.SymbolRules, error)
}

// PriceProvider supplies live pair prices for sizing quantities.
type PriceProvider interface {
	GetPrice(ctx context.Context, pair string) (float64, error)
}

// Config holds the planning thresholds.
type Config struct {
	QuoteAsset        string
	MinTradeThreshold float64 // below this value operations route to convert
	DiffEpsilon       float64 // |target-current| below this is ignored
	DustFloor         float64 // residues below this are ignored entirely
	FeeReserve        float64 // fraction of sell proceeds reserved for fees
	MinQuoteReserve   float64 // absolute quote buffer never spent on buys
	MinBuyAllocation  float64 // buys allocated less than this are skipped
	Stablecoins       map[string]bool
}

// Service builds rebalance plans.
type Service struct {
	rules  RulesProvider
	prices PriceProvider
	cfg    Config
	log    zerolog.Logger
}

// NewService creates a new rebalance planner
func NewService(rules RulesProvider, prices PriceProvider, cfg Config, log zerolog.Logger) *Service {
	if cfg.MinBuyAllocation <= 0 {
		cfg.MinBuyAllocation = 1.0
	}
	return &Service{
		rules:  rules,
		prices: prices,
		cfg:    cfg,
		log:    log.With().Str("service", "planner").Logger(),
	}
}

// Plan classifies every difference between current holdings and the target
// allocation into ordered sell and buy phases. All sells (including
// removals) are decided before any buy is sized, because buy sizing uses
// the projected post-sell liquidity.
func (s *Service) Plan(ctx context.Context, snap *portfolio.Snapshot, targets []domain.TargetAllocation) (*domain.RebalancePlan, error) {
	sortByRank(targets)
	quoteAsset, quoteBalance := s.pickQuote(snap)

	plan := &domain.RebalancePlan{
		QuoteAsset:   quoteAsset,
		QuoteBalance: quoteBalance,
	}

	targetSet := make(map[string]bool, len(targets))
	for _, t := range targets {
		targetSet[t.Symbol] = true
	}

	// Phase 1a: full removals. Anything held but absent from the target is
	// sold entirely, regardless of size, down to the dust floor.
	for _, symbol := range snap.Symbols {
		if targetSet[symbol] || symbol == quoteAsset || s.cfg.Stablecoins[symbol] {
			continue
		}
		bal := snap.Get(symbol)
		if bal.QuoteValue < s.cfg.DustFloor {
			continue
		}
		price := bal.QuoteValue / bal.Total
		op := s.route(ctx, domain.RebalanceOperation{
			Symbol:    symbol,
			Pair:      symbol + quoteAsset,
			Direction: domain.DirectionRemove,
			Quantity:  bal.Total,
			Value:     bal.QuoteValue,
			Price:     price,
		})
		plan.Removals = append(plan.Removals, op)
		s.collectDust(ctx, plan, op)
	}

	// Phase 1b/2: classify target diffs. Targets were sorted by rank above,
	// so buy candidates inherit the rank priority for free.
	var buyCandidates []domain.RebalanceOperation
	for _, target := range targets {
		current := snap.Get(target.Symbol).QuoteValue
		diff := target.TargetValue - current
		if diff > -s.cfg.DiffEpsilon && diff < s.cfg.DiffEpsilon {
			continue
		}

		price, err := s.price(ctx, target, quoteAsset)
		if err != nil {
			s.log.Warn().Err(err).Str("symbol", target.Symbol).Msg("No price, skipping leg")
			continue
		}

		if diff < 0 {
			op := s.route(ctx, domain.RebalanceOperation{
				Symbol:    target.Symbol,
				Pair:      target.Symbol + quoteAsset,
				Direction: domain.DirectionSell,
				Quantity:  -diff / price,
				Value:     -diff,
				Price:     price,
			})
			plan.Sells = append(plan.Sells, op)
			s.collectDust(ctx, plan, op)
		} else {
			buyCandidates = append(buyCandidates, domain.RebalanceOperation{
				Symbol:    target.Symbol,
				Pair:      target.Symbol + quoteAsset,
				Direction: domain.DirectionBuy,
				Value:     diff,
				Price:     price,
			})
		}
	}

	// Phase 3: size buys against projected post-sell liquidity.
	plan.Buys = s.sizeBuys(ctx, buyCandidates, quoteBalance, sellProceeds(plan))

	s.log.Info().
		Int("removals", len(plan.Removals)).
		Int("sells", len(plan.Sells)).
		Int("buys", len(plan.Buys)).
		Int("dust", len(plan.Dust)).
		Str("quote", quoteAsset).
		Msg("Rebalance plan built")

	return plan, nil
}

// pickQuote chooses the funding stablecoin: the first preferred stable with
// a balance above 0.1, falling back to the configured quote asset.
func (s *Service) pickQuote(snap *portfolio.Snapshot) (string, float64) {
	for _, stable := range quotePreference {
		if bal := snap.Get(stable); bal.Total > 0.1 {
			return stable, bal.Total
		}
	}
	return s.cfg.QuoteAsset, 0
}

func (s *Service) price(ctx context.Context, target domain.TargetAllocation, quoteAsset string) (float64, error) {
	if price, err := s.prices.GetPrice(ctx, target.Symbol+quoteAsset); err == nil && price > 0 {
		return price, nil
	}
	// The market-data price is a serviceable fallback when the exchange
	// ticker is briefly unavailable.
	if target.Price > 0 {
		return target.Price, nil
	}
	return 0, fmt.Errorf("no price for %s", target.Symbol)
}

// sizeBuys allocates the available balance greedily by rank. A buy whose
// funding need exceeds what remains is scaled down to exactly consume the
// remainder; a buy that would get less than MinBuyAllocation is skipped
// entirely, never split further.
func (s *Service) sizeBuys(ctx context.Context, candidates []domain.RebalanceOperation, quoteBalance, proceeds float64) []domain.RebalanceOperation {
	remaining := quoteBalance + proceeds*(1-s.cfg.FeeReserve) - s.cfg.MinQuoteReserve

	buys := make([]domain.RebalanceOperation, 0, len(candidates))
	for _, candidate := range candidates {
		allocation := candidate.Value
		if allocation > remaining {
			allocation = remaining
		}
		if allocation < s.cfg.MinBuyAllocation {
			s.log.Debug().
				Str("symbol", candidate.Symbol).
				Float64("needed", candidate.Value).
				Float64("remaining", remaining).
				Msg("Buy skipped, allocation below minimum")
			continue
		}

		candidate.Value = allocation
		candidate.Quantity = allocation / candidate.Price
		buys = append(buys, s.route(ctx, candidate))
		remaining -= allocation
	}
	return buys
}

// route decides MARKET vs CONVERT for one operation. The operation goes to
// MARKET only when its value clears the trade threshold AND every exchange
// rule passes; everything else converts. The deciding rule is recorded as
// the reason.
func (s *Service) route(ctx context.Context, op domain.RebalanceOperation) domain.RebalanceOperation {
	if op.Value < s.cfg.MinTradeThreshold {
		op.Method = domain.MethodConvert
		op.Reason = fmt.Sprintf("below_threshold($%.2f<$%.2f)", op.Value, s.cfg.MinTradeThreshold)
		return op
	}

	rules, err := s.rules.Get(ctx, op.Pair)
	if err != nil {
		op.Method = domain.MethodConvert
		op.Reason = "symbol_info_error:" + err.Error()
		return op
	}

	if ok, reason := canPlaceMarket(rules, op.Quantity, op.Value); !ok {
		op.Method = domain.MethodConvert
		op.Reason = reason
		return op
	}

	op.Method = domain.MethodMarket
	op.Reason = "ok"
	return op
}

// canPlaceMarket checks, in order: trading status, LOT_SIZE bounds on the
// step-floored quantity, the minimum notional, and MARKET_LOT_SIZE bounds.
func canPlaceMarket(rules *domain.SymbolRules, quantity, value float64) (bool, string) {
	if !rules.Trading() {
		return false, "status:" + rules.Status
	}

	floored := formulas.FloorToStep(quantity, rules.StepSize)
	if rules.MinQty > 0 && floored < rules.MinQty {
		return false, fmt.Sprintf("below_lot_size(%.8f<%.8f)", floored, rules.MinQty)
	}
	if rules.MaxQty > 0 && floored > rules.MaxQty {
		return false, fmt.Sprintf("above_lot_size(%.8f>%.8f)", floored, rules.MaxQty)
	}
	if rules.MinNotional > 0 && value < rules.MinNotional {
		return false, fmt.Sprintf("below_min_notional($%.2f<%.2f)", value, rules.MinNotional)
	}
	if rules.MarketMinQty > 0 && floored < rules.MarketMinQty {
		return false, fmt.Sprintf("below_market_lot_size(%.8f<%.8f)", floored, rules.MarketMinQty)
	}
	if rules.MarketMaxQty > 0 && floored > rules.MarketMaxQty {
		return false, fmt.Sprintf("above_market_lot_size(%.8f>%.8f)", floored, rules.MarketMaxQty)
	}
	return true, "ok"
}

// collectDust records the step residue a MARKET sell will leave behind, so
// the sweep after execution knows what to expect.
func (s *Service) collectDust(ctx context.Context, plan *domain.RebalancePlan, op domain.RebalanceOperation) {
	if op.Method != domain.MethodMarket {
		return
	}
	rules, err := s.rules.Get(ctx, op.Pair)
	if err != nil || rules.StepSize <= 0 {
		return
	}
	residue := formulas.StepResidue(op.Quantity, rules.StepSize)
	residueValue := residue * op.Price
	if residueValue < s.cfg.DustFloor {
		return
	}
	plan.Dust = append(plan.Dust, domain.RebalanceOperation{
		Symbol:    op.Symbol,
		Pair:      op.Pair,
		Direction: domain.DirectionSell,
		Method:    domain.MethodConvert,
		Quantity:  residue,
		Value:     residueValue,
		Price:     op.Price,
		Reason:    "step_residue",
	})
}

func sellProceeds(plan *domain.RebalancePlan) float64 {
	total := 0.0
	for _, op := range plan.Removals {
		total += op.Value
	}
	for _, op := range plan.Sells {
		total += op.Value
	}
	return total
}

// sortByRank orders targets ascending by index rank; buy funding is
// allocated greedily in this order.
func sortByRank(targets []domain.TargetAllocation) {
	sort.Slice(targets, func(i, j int) bool {
		return targets[i].Rank < targets[j].Rank
	})
}

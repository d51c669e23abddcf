// Package executor submits planned rebalance operations to the exchange:
// market orders with a convert fallback, and the two-phase sell-then-buy
// sequencing of a plan.
package executor

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/vkozlov/cryptofolio/internal/domain"
	"github.com/vkozlov/cryptofolio/pkg/formulas"
)

// fillStatuses are the exchange order statuses recognized as success.
var fillStatuses = map[string]bool{
	"FILLED":           true,
	"PARTIALLY_FILLED": true,
	"NEW":              true,
}

// convertStatuses are the convert statuses recognized as success.
var convertStatuses = map[string]bool{
	"SUCCESS":        true,
	"PROCESS":        true,
	"ACCEPT_SUCCESS": true,
}

// RulesProvider supplies trading rules for quantity rounding.
type RulesProvider interface {
	Get(ctx context.Context, pair string) (*domain.SymbolRules, error)
}

// Config holds execution pacing. The fixed post-order delays are the only
// rate-limit handling; there is no adaptive backoff.
type Config struct {
	OrderDelay   time.Duration // pause after a successful market order
	ConvertDelay time.Duration // pause after a successful convert
}

// DefaultConfig returns the standard execution pacing.
func DefaultConfig() Config {
	return Config{
		OrderDelay:   1 * time.Second,
		ConvertDelay: 2 * time.Second,
	}
}

// Report summarizes the execution of one plan.
type Report struct {
	Results  []domain.OperationResult
	Executed int
	Failed   int
}

// Service executes rebalance operations against the exchange.
type Service struct {
	exchange domain.ExchangeClient
	rules    RulesProvider
	cfg      Config
	log      zerolog.Logger
	sleep    func(ctx context.Context, d time.Duration)
}

// NewService creates a new order executor
func NewService(exchange domain.ExchangeClient, rules RulesProvider, cfg Config, log zerolog.Logger) *Service {
	return &Service{
		exchange: exchange,
		rules:    rules,
		cfg:      cfg,
		log:      log.With().Str("service", "executor").Logger(),
		sleep:    sleepCtx,
	}
}

// ExecutePlan runs the plan phases strictly in order: removals and sells
// first, then the quote balance is re-read, then buys. Buys never start
// before every sell of the cycle has been submitted. A failed operation is
// recorded and the rest of the plan still executes; an abandoned leg is not
// re-queued for the next cycle.
func (s *Service) ExecutePlan(ctx context.Context, plan *domain.RebalancePlan) *Report {
	report := &Report{}

	s.log.Info().
		Int("operations", plan.TotalOperations()).
		Msg("Executing rebalance plan")

	for _, op := range plan.Removals {
		s.record(report, s.executeOperation(ctx, op, plan.QuoteAsset))
	}
	for _, op := range plan.Sells {
		s.record(report, s.executeOperation(ctx, op, plan.QuoteAsset))
	}

	// Buys are funded by sell proceeds; re-read the actual quote balance
	// before spending it rather than trusting projections.
	available := s.quoteBalance(ctx, plan.QuoteAsset, plan.QuoteBalance)

	for _, op := range plan.Buys {
		if op.Value > available {
			scaled := scaleBuy(op, available)
			if scaled == nil {
				s.record(report, domain.OperationResult{
					Operation: op,
					Executed:  false,
					Error:     domain.ErrInsufficientFunds.Error(),
				})
				continue
			}
			op = *scaled
		}
		result := s.executeOperation(ctx, op, plan.QuoteAsset)
		if result.Executed {
			available -= op.Value
		}
		s.record(report, result)
	}

	s.log.Info().
		Int("executed", report.Executed).
		Int("failed", report.Failed).
		Msg("Plan execution finished")

	return report
}

// executeOperation runs one operation. A MARKET operation that fails at
// submission time is retried exactly once via CONVERT on the same leg
// before being recorded as failed.
func (s *Service) executeOperation(ctx context.Context, op domain.RebalanceOperation, quoteAsset string) domain.OperationResult {
	result := domain.OperationResult{Operation: op}

	if op.Method == domain.MethodMarket {
		if s.ExecuteMarket(ctx, op.Pair, side(op), op.Quantity) {
			result.Executed = true
			s.sleep(ctx, s.cfg.OrderDelay)
			return result
		}
		s.log.Warn().
			Str("symbol", op.Symbol).
			Str("direction", string(op.Direction)).
			Msg("Market order failed, falling back to convert")
		result.FellBack = true
	}

	from, to, amount := convertLeg(op, quoteAsset)
	if s.ExecuteConvert(ctx, from, to, amount) {
		result.Executed = true
		s.sleep(ctx, s.cfg.ConvertDelay)
		return result
	}

	result.Error = domain.ErrOrderRejected.Error()
	s.log.Error().
		Str("symbol", op.Symbol).
		Str("direction", string(op.Direction)).
		Str("method", string(op.Method)).
		Msg("Operation failed")
	return result
}

// ExecuteMarket submits a market order with the quantity floored to the
// instrument's LOT_SIZE step. Success means a recognized fill status; any
// error yields false and is never propagated.
func (s *Service) ExecuteMarket(ctx context.Context, pair, orderSide string, quantity float64) bool {
	if rules, err := s.rules.Get(ctx, pair); err == nil {
		quantity = formulas.FloorToStep(quantity, rules.StepSize)
	}
	if quantity <= 0 {
		return false
	}

	order, err := s.exchange.PlaceMarketOrder(ctx, pair, orderSide, quantity)
	if err != nil {
		s.log.Warn().Err(err).Str("pair", pair).Str("side", orderSide).Msg("Market order error")
		return false
	}
	if !fillStatuses[order.Status] {
		s.log.Warn().Str("pair", pair).Str("status", order.Status).Msg("Market order not filled")
		return false
	}

	s.log.Info().
		Str("pair", pair).
		Str("side", orderSide).
		Str("order_id", order.OrderID).
		Float64("executed_qty", order.ExecutedQty).
		Float64("quote_qty", order.QuoteQty).
		Msg("Market order filled")
	return true
}

// ExecuteConvert swaps assets via the quote-request/confirm two-call flow,
// falling back to the single-call convert when that call shape is
// unsupported. Both are tried before declaring failure.
func (s *Service) ExecuteConvert(ctx context.Context, fromAsset, toAsset string, amount float64) bool {
	if amount <= 0 {
		return false
	}

	quoteID, err := s.exchange.RequestConvertQuote(ctx, fromAsset, toAsset, amount)
	if err == nil {
		accepted, err := s.exchange.AcceptConvertQuote(ctx, quoteID)
		if err == nil && convertStatuses[accepted.Status] {
			s.log.Info().
				Str("from", fromAsset).
				Str("to", toAsset).
				Float64("amount", amount).
				Str("order_id", accepted.OrderID).
				Msg("Convert executed via quote flow")
			return true
		}
		if err != nil {
			s.log.Warn().Err(err).Str("from", fromAsset).Str("to", toAsset).Msg("Convert quote accept failed")
		}
	} else {
		s.log.Debug().Err(err).Str("from", fromAsset).Str("to", toAsset).Msg("Quote flow unavailable, trying single-call convert")
	}

	converted, err := s.exchange.Convert(ctx, fromAsset, toAsset, amount)
	if err != nil {
		s.log.Warn().Err(err).Str("from", fromAsset).Str("to", toAsset).Msg("Convert failed")
		return false
	}
	if converted.Status != "" && !convertStatuses[converted.Status] {
		s.log.Warn().Str("from", fromAsset).Str("to", toAsset).Str("status", converted.Status).Msg("Convert not accepted")
		return false
	}

	s.log.Info().
		Str("from", fromAsset).
		Str("to", toAsset).
		Float64("amount", amount).
		Msg("Convert executed")
	return true
}

func (s *Service) quoteBalance(ctx context.Context, quoteAsset string, projected float64) float64 {
	balances, err := s.exchange.GetBalances(ctx)
	if err != nil {
		s.log.Warn().Err(err).Msg("Balance re-read failed, using projected quote balance")
		return projected
	}
	for _, b := range balances {
		if b.Symbol == quoteAsset {
			return b.Free
		}
	}
	return 0
}

func (s *Service) record(report *Report, result domain.OperationResult) {
	report.Results = append(report.Results, result)
	if result.Executed {
		report.Executed++
	} else {
		report.Failed++
	}
}

// side maps an operation direction to an exchange order side. Removals
// are sells of the full position.
func side(op domain.RebalanceOperation) string {
	if op.Direction == domain.DirectionBuy {
		return "BUY"
	}
	return "SELL"
}

// convertLeg maps an operation to convert parameters. Sell legs convert
// asset quantity into quote; buy legs convert quote value into the asset.
func convertLeg(op domain.RebalanceOperation, quoteAsset string) (from, to string, amount float64) {
	if op.Direction == domain.DirectionBuy {
		return quoteAsset, op.Symbol, op.Value
	}
	return op.Symbol, quoteAsset, op.Quantity
}

// scaleBuy shrinks a buy to the available funding, keeping price constant.
// Returns nil when the scaled allocation would be under a dollar; such a
// buy is skipped entirely, never split further.
func scaleBuy(op domain.RebalanceOperation, available float64) *domain.RebalanceOperation {
	if available < 1.0 {
		return nil
	}
	op.Quantity = op.Quantity * available / op.Value
	op.Value = available
	return &op
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

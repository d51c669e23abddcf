// Package domain contains the core data model shared by all modules.
// It is kept free of infrastructure dependencies so that modules,
// clients and repositories can all import it.
package domain

import "time"

// AssetBalance is a single exchange balance valued in the quote currency.
// Recreated on every snapshot; never persisted beyond the session record.
type AssetBalance struct {
	Symbol     string  `json:"symbol" msgpack:"symbol"`
	Free       float64 `json:"free" msgpack:"free"`
	Locked     float64 `json:"locked" msgpack:"locked"`
	Total      float64 `json:"total" msgpack:"total"`
	QuoteValue float64 `json:"quote_value" msgpack:"quote_value"`
}

// RankedCoin is one row of ranked market-cap data from the market-data provider.
type RankedCoin struct {
	Symbol    string
	Name      string
	Rank      int
	MarketCap float64
	Price     float64
	Change24h float64
}

// TargetAllocation is the target weight for one selected index constituent.
// Created fresh each cycle by the index composer.
type TargetAllocation struct {
	Symbol              string  `json:"symbol" msgpack:"symbol"`
	Name                string  `json:"name" msgpack:"name"`
	Rank                int     `json:"rank" msgpack:"rank"`
	MarketCap           float64 `json:"market_cap" msgpack:"market_cap"`
	Price               float64 `json:"price" msgpack:"price"`
	Change24h           float64 `json:"change_24h" msgpack:"change_24h"`
	OriginalWeight      float64 `json:"original_weight" msgpack:"original_weight"`
	RedistributionBonus float64 `json:"redistribution_bonus" msgpack:"redistribution_bonus"`
	FinalWeight         float64 `json:"final_weight" msgpack:"final_weight"`
	TargetValue         float64 `json:"target_value" msgpack:"target_value"`
}

// OperationDirection classifies what a rebalance operation does to a position.
type OperationDirection string

const (
	DirectionBuy    OperationDirection = "BUY"
	DirectionSell   OperationDirection = "SELL"
	DirectionRemove OperationDirection = "REMOVE"
)

// OperationMethod is how an operation is executed on the exchange.
type OperationMethod string

const (
	MethodMarket  OperationMethod = "MARKET"
	MethodConvert OperationMethod = "CONVERT"
)

// RebalanceOperation is one planned trade. Immutable once created and
// consumed exactly once by the executor.
type RebalanceOperation struct {
	Symbol    string             `json:"symbol" msgpack:"symbol"`
	Pair      string             `json:"pair" msgpack:"pair"`
	Direction OperationDirection `json:"direction" msgpack:"direction"`
	Method    OperationMethod    `json:"method" msgpack:"method"`
	Quantity  float64            `json:"quantity" msgpack:"quantity"`
	Value     float64            `json:"value" msgpack:"value"`
	Price     float64            `json:"price" msgpack:"price"`
	Reason    string             `json:"reason" msgpack:"reason"`
}

// RebalancePlan is the ordered output of one planning pass. All sells
// (including removals) are decided before any buy is sized, because buy
// sizing depends on projected post-sell liquidity.
type RebalancePlan struct {
	QuoteAsset   string               `json:"quote_asset" msgpack:"quote_asset"`
	QuoteBalance float64              `json:"quote_balance" msgpack:"quote_balance"`
	Removals     []RebalanceOperation `json:"removals" msgpack:"removals"`
	Sells        []RebalanceOperation `json:"sells" msgpack:"sells"`
	Buys         []RebalanceOperation `json:"buys" msgpack:"buys"`
	Dust         []RebalanceOperation `json:"dust" msgpack:"dust"`
}

// IsEmpty reports whether the plan contains no operations at all.
func (p *RebalancePlan) IsEmpty() bool {
	return len(p.Removals) == 0 && len(p.Sells) == 0 && len(p.Buys) == 0 && len(p.Dust) == 0
}

// TotalOperations returns the number of planned sell/buy operations.
// Dust is excluded, it is swept separately after the buy phase settles.
func (p *RebalancePlan) TotalOperations() int {
	return len(p.Removals) + len(p.Sells) + len(p.Buys)
}

// OperationResult records the outcome of executing one operation.
type OperationResult struct {
	Operation RebalanceOperation `json:"operation" msgpack:"operation"`
	Executed  bool               `json:"executed" msgpack:"executed"`
	FellBack  bool               `json:"fell_back" msgpack:"fell_back"`
	Error     string             `json:"error,omitempty" msgpack:"error"`
}

// SweepResult is the outcome of one dust sweep.
type SweepResult struct {
	SinkAsset  string   `json:"sink_asset" msgpack:"sink_asset"`
	Converted  []string `json:"converted" msgpack:"converted"`
	Failed     []string `json:"failed" msgpack:"failed"`
	TotalValue float64  `json:"total_value" msgpack:"total_value"`
}

// RunResult is the structured record of one rebalance cycle.
type RunResult struct {
	ID         string             `json:"id" msgpack:"id"`
	SessionID  string             `json:"session_id" msgpack:"session_id"`
	StartedAt  time.Time          `json:"started_at" msgpack:"started_at"`
	FinishedAt time.Time          `json:"finished_at" msgpack:"finished_at"`
	DryRun     bool               `json:"dry_run" msgpack:"dry_run"`
	TotalValue float64            `json:"total_value" msgpack:"total_value"`
	Portfolio  []AssetBalance     `json:"portfolio,omitempty" msgpack:"portfolio"`
	Targets    []TargetAllocation `json:"targets,omitempty" msgpack:"targets"`
	Plan       *RebalancePlan     `json:"plan,omitempty" msgpack:"plan"`
	Operations []OperationResult  `json:"operations,omitempty" msgpack:"operations"`
	Sweep      *SweepResult       `json:"sweep,omitempty" msgpack:"sweep"`
	Planned    int                `json:"planned" msgpack:"planned"`
	Executed   int                `json:"executed" msgpack:"executed"`
	Failed     int                `json:"failed" msgpack:"failed"`
	Error      string             `json:"error,omitempty" msgpack:"error"`
}

// Succeeded reports whether the cycle completed without a cycle-level error.
// Individual failed operations do not fail the cycle.
func (r *RunResult) Succeeded() bool {
	return r.Error == ""
}

// SessionState is the persisted state of one trading session. Mutated only
// by the scheduler; the session row in the database is the source of truth
// for IsRunning and DryRun across process restarts.
type SessionState struct {
	ID              string         `json:"id"`
	IsRunning       bool           `json:"is_running"`
	DryRun          bool           `json:"dry_run"`
	IntervalSeconds int            `json:"interval_seconds"`
	NextRunAt       *time.Time     `json:"next_run_at,omitempty"`
	LastRunAt       *time.Time     `json:"last_run_at,omitempty"`
	LastPortfolio   []AssetBalance `json:"last_portfolio,omitempty"`
	LastResult      *RunResult     `json:"last_result,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// Interval returns the cycle interval as a duration.
func (s *SessionState) Interval() time.Duration {
	return time.Duration(s.IntervalSeconds) * time.Second
}

// Credentials are the per-session API credentials supplied by the
// credential collaborator at construction time.
type Credentials struct {
	ExchangeKey    string
	ExchangeSecret string
	MarketDataKey  string
}

// Complete reports whether all credentials needed to trade are present.
func (c Credentials) Complete() bool {
	return c.ExchangeKey != "" && c.ExchangeSecret != "" && c.MarketDataKey != ""
}

// SymbolRules are the exchange trading constraints for one pair.
type SymbolRules struct {
	Pair         string
	Status       string
	MinQty       float64
	MaxQty       float64
	StepSize     float64
	MinNotional  float64
	MarketMinQty float64
	MarketMaxQty float64
}

// Trading reports whether the pair is currently open for trading.
func (r *SymbolRules) Trading() bool {
	return r.Status == "TRADING"
}

// OrderResult is the exchange response to a market order.
type OrderResult struct {
	OrderID     string
	Status      string
	ExecutedQty float64
	QuoteQty    float64
}

// ConvertResult is the exchange response to a convert execution.
type ConvertResult struct {
	QuoteID    string
	OrderID    string
	Status     string
	FromAmount float64
	ToAmount   float64
}

// DefaultStablecoins is the fixed set of symbols excluded from index
// ranking and valued 1:1 against the quote currency.
var DefaultStablecoins = []string{
	"USDT", "USDC", "BUSD", "FDUSD", "USDe", "DAI", "TUSD", "USDP", "USDD", "GUSD", "PYUSD",
}

// StablecoinSet builds a lookup set from a list of stablecoin symbols.
func StablecoinSet(symbols []string) map[string]bool {
	set := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		set[s] = true
	}
	return set
}

package executor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vkozlov/cryptofolio/internal/domain"
)

type orderCall struct {
	Pair     string
	Side     string
	Quantity float64
}

type convertCall struct {
	From   string
	To     string
	Amount float64
}

type mockExchange struct {
	balances []domain.AssetBalance

	orderStatus string
	orderErr    error
	orders      []orderCall

	quoteErr   error
	acceptErr  error
	convertErr error
	converts   []convertCall
}

func (m *mockExchange) GetBalances(ctx context.Context) ([]domain.AssetBalance, error) {
	return m.balances, nil
}

func (m *mockExchange) GetPrice(ctx context.Context, pair string) (float64, error) {
	return 0, errors.New("not implemented")
}

func (m *mockExchange) GetSymbolRules(ctx context.Context, pair string) (*domain.SymbolRules, error) {
	return nil, errors.New("not implemented")
}

func (m *mockExchange) PlaceMarketOrder(ctx context.Context, pair, side string, quantity float64) (*domain.OrderResult, error) {
	m.orders = append(m.orders, orderCall{Pair: pair, Side: side, Quantity: quantity})
	if m.orderErr != nil {
		return nil, m.orderErr
	}
	status := m.orderStatus
	if status == "" {
		status = "FILLED"
	}
	return &domain.OrderResult{OrderID: "1001", Status: status, ExecutedQty: quantity}, nil
}

func (m *mockExchange) RequestConvertQuote(ctx context.Context, fromAsset, toAsset string, amount float64) (string, error) {
	if m.quoteErr != nil {
		return "", m.quoteErr
	}
	return "quote-1", nil
}

func (m *mockExchange) AcceptConvertQuote(ctx context.Context, quoteID string) (*domain.ConvertResult, error) {
	if m.acceptErr != nil {
		return nil, m.acceptErr
	}
	m.converts = append(m.converts, convertCall{})
	return &domain.ConvertResult{QuoteID: quoteID, OrderID: "c-1", Status: "SUCCESS"}, nil
}

func (m *mockExchange) Convert(ctx context.Context, fromAsset, toAsset string, amount float64) (*domain.ConvertResult, error) {
	if m.convertErr != nil {
		return nil, m.convertErr
	}
	m.converts = append(m.converts, convertCall{From: fromAsset, To: toAsset, Amount: amount})
	return &domain.ConvertResult{OrderID: "c-2", Status: "SUCCESS"}, nil
}

type mockRules struct {
	rules map[string]*domain.SymbolRules
}

func (m *mockRules) Get(ctx context.Context, pair string) (*domain.SymbolRules, error) {
	if r, ok := m.rules[pair]; ok {
		return r, nil
	}
	return nil, domain.ErrDataUnavailable
}

func newTestService(ex *mockExchange, rules *mockRules) *Service {
	svc := NewService(ex, rules, Config{}, zerolog.Nop())
	svc.sleep = func(ctx context.Context, d time.Duration) {}
	return svc
}

func buyOp(symbol string, qty, value float64) domain.RebalanceOperation {
	return domain.RebalanceOperation{
		Symbol:    symbol,
		Pair:      symbol + "USDC",
		Direction: domain.DirectionBuy,
		Method:    domain.MethodMarket,
		Quantity:  qty,
		Value:     value,
	}
}

func sellOp(symbol string, qty, value float64) domain.RebalanceOperation {
	return domain.RebalanceOperation{
		Symbol:    symbol,
		Pair:      symbol + "USDC",
		Direction: domain.DirectionSell,
		Method:    domain.MethodMarket,
		Quantity:  qty,
		Value:     value,
	}
}

func TestExecuteMarketFloorsQuantityToStep(t *testing.T) {
	ex := &mockExchange{}
	rules := &mockRules{rules: map[string]*domain.SymbolRules{
		"BTCUSDC": {Pair: "BTCUSDC", Status: "TRADING", StepSize: 0.0001},
	}}
	svc := newTestService(ex, rules)

	ok := svc.ExecuteMarket(context.Background(), "BTCUSDC", "BUY", 0.00123456)

	assert.True(t, ok)
	require.Len(t, ex.orders, 1)
	assert.InDelta(t, 0.0012, ex.orders[0].Quantity, 1e-12)
}

func TestExecuteMarketRecognizedStatuses(t *testing.T) {
	for _, status := range []string{"FILLED", "PARTIALLY_FILLED", "NEW"} {
		ex := &mockExchange{orderStatus: status}
		svc := newTestService(ex, &mockRules{})
		assert.True(t, svc.ExecuteMarket(context.Background(), "BTCUSDC", "BUY", 0.5), status)
	}

	ex := &mockExchange{orderStatus: "EXPIRED"}
	svc := newTestService(ex, &mockRules{})
	assert.False(t, svc.ExecuteMarket(context.Background(), "BTCUSDC", "BUY", 0.5))
}

func TestExecuteMarketErrorNeverPropagates(t *testing.T) {
	ex := &mockExchange{orderErr: domain.ErrOrderRejected}
	svc := newTestService(ex, &mockRules{})

	assert.False(t, svc.ExecuteMarket(context.Background(), "BTCUSDC", "SELL", 1))
}

func TestExecuteMarketZeroAfterFlooringSkipsSubmission(t *testing.T) {
	ex := &mockExchange{}
	rules := &mockRules{rules: map[string]*domain.SymbolRules{
		"BTCUSDC": {Pair: "BTCUSDC", StepSize: 0.001},
	}}
	svc := newTestService(ex, rules)

	ok := svc.ExecuteMarket(context.Background(), "BTCUSDC", "SELL", 0.0004)

	assert.False(t, ok)
	assert.Empty(t, ex.orders)
}

func TestExecuteConvertPrefersQuoteFlow(t *testing.T) {
	ex := &mockExchange{}
	svc := newTestService(ex, &mockRules{})

	ok := svc.ExecuteConvert(context.Background(), "XRP", "USDC", 3.5)

	assert.True(t, ok)
	require.Len(t, ex.converts, 1)
	// The single-call path records from/to; the quote flow does not.
	assert.Empty(t, ex.converts[0].From)
}

func TestExecuteConvertFallsBackToSingleCall(t *testing.T) {
	ex := &mockExchange{quoteErr: errors.New("quote flow unsupported")}
	svc := newTestService(ex, &mockRules{})

	ok := svc.ExecuteConvert(context.Background(), "XRP", "USDC", 3.5)

	assert.True(t, ok)
	require.Len(t, ex.converts, 1)
	assert.Equal(t, "XRP", ex.converts[0].From)
	assert.Equal(t, "USDC", ex.converts[0].To)
	assert.InDelta(t, 3.5, ex.converts[0].Amount, 1e-9)
}

func TestExecuteConvertBothPathsFailing(t *testing.T) {
	ex := &mockExchange{
		quoteErr:   errors.New("unsupported"),
		convertErr: errors.New("convert rejected"),
	}
	svc := newTestService(ex, &mockRules{})

	assert.False(t, svc.ExecuteConvert(context.Background(), "XRP", "USDC", 3.5))
}

func TestMarketFailureRetriesOnceViaConvert(t *testing.T) {
	ex := &mockExchange{
		orderErr: domain.ErrOrderRejected,
		balances: []domain.AssetBalance{{Symbol: "USDC", Free: 100}},
	}
	svc := newTestService(ex, &mockRules{})

	plan := &domain.RebalancePlan{
		QuoteAsset: "USDC",
		Sells:      []domain.RebalanceOperation{sellOp("SOL", 2, 300)},
	}
	report := svc.ExecutePlan(context.Background(), plan)

	require.Len(t, report.Results, 1)
	assert.True(t, report.Results[0].Executed)
	assert.True(t, report.Results[0].FellBack)
	assert.Len(t, ex.orders, 1)
	assert.Len(t, ex.converts, 1)
	assert.Equal(t, 1, report.Executed)
}

func TestConvertLegAmountSemantics(t *testing.T) {
	// Both paths fail for market, quote flow unsupported: the single-call
	// convert exposes the amounts passed.
	ex := &mockExchange{
		orderErr: errors.New("down"),
		quoteErr: errors.New("unsupported"),
		balances: []domain.AssetBalance{{Symbol: "USDC", Free: 500}},
	}
	svc := newTestService(ex, &mockRules{})

	plan := &domain.RebalancePlan{
		QuoteAsset: "USDC",
		Sells:      []domain.RebalanceOperation{sellOp("SOL", 2, 300)},
		Buys:       []domain.RebalanceOperation{buyOp("BTC", 0.001, 50)},
	}
	svc.ExecutePlan(context.Background(), plan)

	require.Len(t, ex.converts, 2)
	// Sell leg converts asset quantity into quote.
	assert.Equal(t, "SOL", ex.converts[0].From)
	assert.Equal(t, "USDC", ex.converts[0].To)
	assert.InDelta(t, 2.0, ex.converts[0].Amount, 1e-9)
	// Buy leg converts quote value into the asset.
	assert.Equal(t, "USDC", ex.converts[1].From)
	assert.Equal(t, "BTC", ex.converts[1].To)
	assert.InDelta(t, 50.0, ex.converts[1].Amount, 1e-9)
}

func TestExecutePlanSellsBeforeBuys(t *testing.T) {
	ex := &mockExchange{
		balances: []domain.AssetBalance{{Symbol: "USDC", Free: 1000}},
	}
	svc := newTestService(ex, &mockRules{})

	plan := &domain.RebalancePlan{
		QuoteAsset: "USDC",
		Removals:   []domain.RebalanceOperation{sellOp("XRP", 4, 12)},
		Sells:      []domain.RebalanceOperation{sellOp("ETH", 0.05, 150)},
		Buys:       []domain.RebalanceOperation{buyOp("BTC", 0.002, 100)},
	}
	report := svc.ExecutePlan(context.Background(), plan)

	require.Len(t, ex.orders, 3)
	assert.Equal(t, "SELL", ex.orders[0].Side)
	assert.Equal(t, "XRPUSDC", ex.orders[0].Pair)
	assert.Equal(t, "SELL", ex.orders[1].Side)
	assert.Equal(t, "BUY", ex.orders[2].Side)
	assert.Equal(t, 3, report.Executed)
	assert.Equal(t, 0, report.Failed)
}

func TestExecutePlanScalesBuysToActualBalance(t *testing.T) {
	// The re-read balance is lower than planned: the buy shrinks to fit.
	ex := &mockExchange{
		balances: []domain.AssetBalance{{Symbol: "USDC", Free: 40}},
	}
	svc := newTestService(ex, &mockRules{})

	plan := &domain.RebalancePlan{
		QuoteAsset:   "USDC",
		QuoteBalance: 100,
		Buys:         []domain.RebalanceOperation{buyOp("BTC", 0.002, 100)},
	}
	report := svc.ExecutePlan(context.Background(), plan)

	require.Len(t, ex.orders, 1)
	assert.InDelta(t, 0.0008, ex.orders[0].Quantity, 1e-9)
	assert.Equal(t, 1, report.Executed)
}

func TestExecutePlanSkipsBuyWhenFundsExhausted(t *testing.T) {
	ex := &mockExchange{
		balances: []domain.AssetBalance{{Symbol: "USDC", Free: 50.4}},
	}
	svc := newTestService(ex, &mockRules{})

	plan := &domain.RebalancePlan{
		QuoteAsset: "USDC",
		Buys: []domain.RebalanceOperation{
			buyOp("BTC", 0.001, 50),
			buyOp("ETH", 0.01, 30),
		},
	}
	report := svc.ExecutePlan(context.Background(), plan)

	// BTC consumes 50, leaving 0.40: under the minimum allocation, so the
	// ETH buy is dropped rather than split.
	require.Len(t, report.Results, 2)
	assert.True(t, report.Results[0].Executed)
	assert.False(t, report.Results[1].Executed)
	assert.Equal(t, domain.ErrInsufficientFunds.Error(), report.Results[1].Error)
	assert.Len(t, ex.orders, 1)
}

func TestExecutePlanFailedOperationDoesNotHaltPlan(t *testing.T) {
	ex := &mockExchange{
		orderErr:   errors.New("down"),
		quoteErr:   errors.New("unsupported"),
		convertErr: errors.New("rejected"),
		balances:   []domain.AssetBalance{{Symbol: "USDC", Free: 100}},
	}
	svc := newTestService(ex, &mockRules{})

	plan := &domain.RebalancePlan{
		QuoteAsset: "USDC",
		Sells: []domain.RebalanceOperation{
			sellOp("SOL", 2, 300),
			sellOp("ETH", 0.05, 150),
		},
	}
	report := svc.ExecutePlan(context.Background(), plan)

	require.Len(t, report.Results, 2)
	assert.Equal(t, 2, report.Failed)
	assert.Equal(t, domain.ErrOrderRejected.Error(), report.Results[0].Error)
	// Both sells were attempted despite the first failing.
	assert.Len(t, ex.orders, 2)
}

func TestExecutePlanConvertMethodSkipsMarket(t *testing.T) {
	ex := &mockExchange{
		balances: []domain.AssetBalance{{Symbol: "USDC", Free: 100}},
	}
	svc := newTestService(ex, &mockRules{})

	op := sellOp("XRP", 3, 9)
	op.Method = domain.MethodConvert
	plan := &domain.RebalancePlan{
		QuoteAsset: "USDC",
		Removals:   []domain.RebalanceOperation{op},
	}
	report := svc.ExecutePlan(context.Background(), plan)

	assert.Empty(t, ex.orders)
	assert.Len(t, ex.converts, 1)
	require.Len(t, report.Results, 1)
	assert.True(t, report.Results[0].Executed)
	assert.False(t, report.Results[0].FellBack)
}

package binance

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vkozlov/cryptofolio/internal/domain"
)

func newStubClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Label stub payloads as JSON like the real API does; without it the
		// sniffed text/plain content type stops resty from decoding SetResult.
		w.Header().Set("Content-Type", "application/json")
		handler(w, r)
	}))
	t.Cleanup(srv.Close)
	return NewClient("test-key", "test-secret", zerolog.Nop(),
		WithBaseURL(srv.URL),
		WithClock(func() time.Time { return time.Unix(1700000000, 0) }),
	)
}

func TestGetBalancesSkipsZeroTotals(t *testing.T) {
	var gotKey, gotSig string
	client := newStubClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v3/account", r.URL.Path)
		gotKey = r.Header.Get("X-MBX-APIKEY")
		gotSig = r.URL.Query().Get("signature")
		w.Write([]byte(`{"balances":[
			{"asset":"BTC","free":"0.5","locked":"0.1"},
			{"asset":"ETH","free":"0","locked":"0"},
			{"asset":"USDC","free":"123.45","locked":"0"}
		]}`))
	})

	balances, err := client.GetBalances(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "test-key", gotKey)
	assert.NotEmpty(t, gotSig)
	require.Len(t, balances, 2)
	assert.Equal(t, "BTC", balances[0].Symbol)
	assert.InDelta(t, 0.5, balances[0].Free, 1e-9)
	assert.InDelta(t, 0.6, balances[0].Total, 1e-9)
	assert.Equal(t, "USDC", balances[1].Symbol)
}

func TestGetBalancesWithoutCredentials(t *testing.T) {
	client := NewClient("", "", zerolog.Nop())

	_, err := client.GetBalances(context.Background())
	assert.ErrorIs(t, err, domain.ErrCredentialsMissing)
}

func TestGetPrice(t *testing.T) {
	client := newStubClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v3/ticker/price", r.URL.Path)
		require.Equal(t, "BTCUSDC", r.URL.Query().Get("symbol"))
		w.Write([]byte(`{"symbol":"BTCUSDC","price":"65000.12"}`))
	})

	price, err := client.GetPrice(context.Background(), "BTCUSDC")
	require.NoError(t, err)
	assert.InDelta(t, 65000.12, price, 1e-9)
}

func TestGetPriceAPIError(t *testing.T) {
	client := newStubClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"code":-1121,"msg":"Invalid symbol."}`))
	})

	_, err := client.GetPrice(context.Background(), "NOPEUSDC")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid symbol")
}

func TestGetSymbolRulesParsesFilters(t *testing.T) {
	client := newStubClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v3/exchangeInfo", r.URL.Path)
		w.Write([]byte(`{"symbols":[{"symbol":"BTCUSDC","status":"TRADING","filters":[
			{"filterType":"LOT_SIZE","minQty":"0.00001","maxQty":"9000","stepSize":"0.00001"},
			{"filterType":"NOTIONAL","minNotional":"5"},
			{"filterType":"MARKET_LOT_SIZE","minQty":"0.0001","maxQty":"100"}
		]}]}`))
	})

	rules, err := client.GetSymbolRules(context.Background(), "BTCUSDC")
	require.NoError(t, err)

	assert.True(t, rules.Trading())
	assert.InDelta(t, 0.00001, rules.MinQty, 1e-12)
	assert.InDelta(t, 0.00001, rules.StepSize, 1e-12)
	assert.InDelta(t, 5.0, rules.MinNotional, 1e-9)
	assert.InDelta(t, 0.0001, rules.MarketMinQty, 1e-12)
	assert.InDelta(t, 100.0, rules.MarketMaxQty, 1e-9)
}

func TestGetSymbolRulesLegacyMinNotionalFilter(t *testing.T) {
	client := newStubClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"symbols":[{"symbol":"ETHUSDT","status":"TRADING","filters":[
			{"filterType":"MIN_NOTIONAL","minNotional":"10"}
		]}]}`))
	})

	rules, err := client.GetSymbolRules(context.Background(), "ETHUSDT")
	require.NoError(t, err)
	assert.InDelta(t, 10.0, rules.MinNotional, 1e-9)
}

func TestPlaceMarketOrder(t *testing.T) {
	client := newStubClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v3/order", r.URL.Path)
		require.Equal(t, http.MethodPost, r.Method)
		q := r.URL.Query()
		require.Equal(t, "BTCUSDC", q.Get("symbol"))
		require.Equal(t, "BUY", q.Get("side"))
		require.Equal(t, "MARKET", q.Get("type"))
		require.Equal(t, "0.0012", q.Get("quantity"))
		w.Write([]byte(`{"orderId":12345,"status":"FILLED","executedQty":"0.0012","cummulativeQuoteQty":"78.0"}`))
	})

	order, err := client.PlaceMarketOrder(context.Background(), "BTCUSDC", "BUY", 0.0012)
	require.NoError(t, err)

	assert.Equal(t, "12345", order.OrderID)
	assert.Equal(t, "FILLED", order.Status)
	assert.InDelta(t, 0.0012, order.ExecutedQty, 1e-9)
	assert.InDelta(t, 78.0, order.QuoteQty, 1e-9)
}

func TestPlaceMarketOrderRejectionWrapsSentinel(t *testing.T) {
	client := newStubClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"code":-2010,"msg":"Account has insufficient balance for requested action."}`))
	})

	_, err := client.PlaceMarketOrder(context.Background(), "BTCUSDC", "SELL", 1)
	assert.ErrorIs(t, err, domain.ErrOrderRejected)
}

func TestPlaceMarketOrderInvalidSide(t *testing.T) {
	client := NewClient("k", "s", zerolog.Nop())

	_, err := client.PlaceMarketOrder(context.Background(), "BTCUSDC", "HOLD", 1)
	assert.Error(t, err)
}

func TestConvertQuoteFlow(t *testing.T) {
	client := newStubClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/sapi/v1/convert/getQuote":
			q := r.URL.Query()
			require.Equal(t, "XRP", q.Get("fromAsset"))
			require.Equal(t, "USDC", q.Get("toAsset"))
			require.Equal(t, "3.5", q.Get("fromAmount"))
			w.Write([]byte(`{"quoteId":"q-777","ratio":"3.1","inverseRatio":"0.32"}`))
		case "/sapi/v1/convert/acceptQuote":
			require.Equal(t, "q-777", r.URL.Query().Get("quoteId"))
			w.Write([]byte(`{"orderId":"c-888","createTime":1700000000,"orderStatus":"PROCESS"}`))
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	})

	quoteID, err := client.RequestConvertQuote(context.Background(), "XRP", "USDC", 3.5)
	require.NoError(t, err)
	assert.Equal(t, "q-777", quoteID)

	result, err := client.AcceptConvertQuote(context.Background(), quoteID)
	require.NoError(t, err)
	assert.Equal(t, "c-888", result.OrderID)
	assert.Equal(t, "PROCESS", result.Status)
	assert.Equal(t, "q-777", result.QuoteID)
}

func TestConvertSingleCall(t *testing.T) {
	client := newStubClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/sapi/v1/convert/trade", r.URL.Path)
		w.Write([]byte(`{"orderId":"c-999","orderStatus":"SUCCESS","fromAmount":"3.5","toAmount":"10.85"}`))
	})

	result, err := client.Convert(context.Background(), "XRP", "USDC", 3.5)
	require.NoError(t, err)

	assert.Equal(t, "c-999", result.OrderID)
	assert.Equal(t, "SUCCESS", result.Status)
	assert.InDelta(t, 3.5, result.FromAmount, 1e-9)
	assert.InDelta(t, 10.85, result.ToAmount, 1e-9)
}

// Package binance provides client functionality for interacting with the
// Binance spot REST API: account balances, ticker prices, symbol trading
// rules, market orders and the Convert API.
package binance

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"github.com/vkozlov/cryptofolio/internal/domain"
)

const defaultBaseURL = "https://api.binance.com"

// Client for the Binance REST API. Implements domain.ExchangeClient.
type Client struct {
	http      *resty.Client
	log       zerolog.Logger
	apiKey    string
	apiSecret string
	now       func() time.Time
}

// Compile-time check that Client implements domain.ExchangeClient
var _ domain.ExchangeClient = (*Client)(nil)

// Option customizes the client, used by tests to point at a stub server.
type Option func(*Client)

// WithBaseURL overrides the API base URL
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.http.SetBaseURL(baseURL)
	}
}

// WithClock overrides the timestamp source used for request signing
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		c.now = now
	}
}

// NewClient creates a new Binance client. Credentials are validated lazily:
// public endpoints work without them, signed endpoints return errors.
func NewClient(apiKey, apiSecret string, log zerolog.Logger, opts ...Option) *Client {
	http := resty.New().
		SetBaseURL(defaultBaseURL).
		SetTimeout(30 * time.Second).
		SetHeader("Accept", "application/json")

	c := &Client{
		http:      http,
		log:       log.With().Str("client", "binance").Logger(),
		apiKey:    apiKey,
		apiSecret: apiSecret,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetCredentials replaces the API credentials for the client
func (c *Client) SetCredentials(apiKey, apiSecret string) {
	c.apiKey = apiKey
	c.apiSecret = apiSecret
}

// sign appends timestamp and HMAC-SHA256 signature parameters
func (c *Client) sign(params url.Values) url.Values {
	params.Set("timestamp", strconv.FormatInt(c.now().UnixMilli(), 10))
	mac := hmac.New(sha256.New, []byte(c.apiSecret))
	mac.Write([]byte(params.Encode()))
	params.Set("signature", hex.EncodeToString(mac.Sum(nil)))
	return params
}

func (c *Client) checkResponse(resp *resty.Response, endpoint string) error {
	if resp.IsSuccess() {
		return nil
	}
	var apiErr apiError
	if err := json.Unmarshal(resp.Body(), &apiErr); err == nil && apiErr.Message != "" {
		return fmt.Errorf("%s failed: code=%d %s", endpoint, apiErr.Code, apiErr.Message)
	}
	return fmt.Errorf("%s failed: http %d", endpoint, resp.StatusCode())
}

// GetBalances returns all non-zero account balances. Valuation is left to
// the portfolio module; Free/Locked/Total are filled here.
func (c *Client) GetBalances(ctx context.Context) ([]domain.AssetBalance, error) {
	if c.apiKey == "" || c.apiSecret == "" {
		return nil, fmt.Errorf("get balances: %w", domain.ErrCredentialsMissing)
	}

	var account accountResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("X-MBX-APIKEY", c.apiKey).
		SetQueryParamsFromValues(c.sign(url.Values{})).
		SetResult(&account).
		Get("/api/v3/account")
	if err != nil {
		return nil, fmt.Errorf("failed to fetch account: %w", err)
	}
	if err := c.checkResponse(resp, "account"); err != nil {
		return nil, err
	}

	balances := make([]domain.AssetBalance, 0, len(account.Balances))
	for _, b := range account.Balances {
		free := parseFloat(b.Free)
		locked := parseFloat(b.Locked)
		total := free + locked
		if total <= 0 {
			continue
		}
		balances = append(balances, domain.AssetBalance{
			Symbol: b.Asset,
			Free:   free,
			Locked: locked,
			Total:  total,
		})
	}
	return balances, nil
}

// GetPrice returns the last ticker price for a pair, e.g. "BTCUSDC"
func (c *Client) GetPrice(ctx context.Context, pair string) (float64, error) {
	var ticker tickerPriceResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("symbol", pair).
		SetResult(&ticker).
		Get("/api/v3/ticker/price")
	if err != nil {
		return 0, fmt.Errorf("failed to fetch price for %s: %w", pair, err)
	}
	if err := c.checkResponse(resp, "ticker/price"); err != nil {
		return 0, err
	}

	price := parseFloat(ticker.Price)
	if price <= 0 {
		return 0, fmt.Errorf("invalid price %q for %s", ticker.Price, pair)
	}
	return price, nil
}

// GetSymbolRules returns the trading constraints for a pair from exchangeInfo
func (c *Client) GetSymbolRules(ctx context.Context, pair string) (*domain.SymbolRules, error) {
	var info exchangeInfoResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("symbol", pair).
		SetResult(&info).
		Get("/api/v3/exchangeInfo")
	if err != nil {
		return nil, fmt.Errorf("failed to fetch exchange info for %s: %w", pair, err)
	}
	if err := c.checkResponse(resp, "exchangeInfo"); err != nil {
		return nil, err
	}
	if len(info.Symbols) == 0 {
		return nil, fmt.Errorf("no symbol info for %s", pair)
	}

	sym := info.Symbols[0]
	rules := &domain.SymbolRules{
		Pair:   pair,
		Status: sym.Status,
	}
	for _, f := range sym.Filters {
		switch f.FilterType {
		case "LOT_SIZE":
			rules.MinQty = parseFloat(f.MinQty)
			rules.MaxQty = parseFloat(f.MaxQty)
			rules.StepSize = parseFloat(f.StepSize)
		case "MIN_NOTIONAL", "NOTIONAL":
			// first match wins; the API reports one or the other
			if rules.MinNotional == 0 {
				rules.MinNotional = parseFloat(f.MinNotional)
			}
		case "MARKET_LOT_SIZE":
			rules.MarketMinQty = parseFloat(f.MinQty)
			rules.MarketMaxQty = parseFloat(f.MaxQty)
		}
	}
	return rules, nil
}

// PlaceMarketOrder submits an immediate-execution order
func (c *Client) PlaceMarketOrder(ctx context.Context, pair, side string, quantity float64) (*domain.OrderResult, error) {
	if side != "BUY" && side != "SELL" {
		return nil, fmt.Errorf("invalid side: %s (must be BUY or SELL)", side)
	}
	if c.apiKey == "" || c.apiSecret == "" {
		return nil, fmt.Errorf("place order: %w", domain.ErrCredentialsMissing)
	}

	params := url.Values{}
	params.Set("symbol", pair)
	params.Set("side", side)
	params.Set("type", "MARKET")
	params.Set("quantity", strconv.FormatFloat(quantity, 'f', -1, 64))

	c.log.Debug().
		Str("pair", pair).
		Str("side", side).
		Float64("quantity", quantity).
		Msg("PlaceMarketOrder: submitting")

	var order orderResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("X-MBX-APIKEY", c.apiKey).
		SetQueryParamsFromValues(c.sign(params)).
		SetResult(&order).
		Post("/api/v3/order")
	if err != nil {
		return nil, fmt.Errorf("failed to place order: %w", err)
	}
	if err := c.checkResponse(resp, "order"); err != nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrOrderRejected, err.Error())
	}

	return &domain.OrderResult{
		OrderID:     strconv.FormatInt(order.OrderID, 10),
		Status:      order.Status,
		ExecutedQty: parseFloat(order.ExecutedQty),
		QuoteQty:    parseFloat(order.CummulativeQuoteQty),
	}, nil
}

// RequestConvertQuote starts the two-call convert flow and returns a quote ID
func (c *Client) RequestConvertQuote(ctx context.Context, fromAsset, toAsset string, amount float64) (string, error) {
	if c.apiKey == "" || c.apiSecret == "" {
		return "", fmt.Errorf("convert quote: %w", domain.ErrCredentialsMissing)
	}

	params := url.Values{}
	params.Set("fromAsset", fromAsset)
	params.Set("toAsset", toAsset)
	params.Set("fromAmount", strconv.FormatFloat(amount, 'f', -1, 64))

	var quote convertQuoteResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("X-MBX-APIKEY", c.apiKey).
		SetQueryParamsFromValues(c.sign(params)).
		SetResult(&quote).
		Post("/sapi/v1/convert/getQuote")
	if err != nil {
		return "", fmt.Errorf("failed to request convert quote: %w", err)
	}
	if err := c.checkResponse(resp, "convert/getQuote"); err != nil {
		return "", err
	}
	if quote.QuoteID == "" {
		return "", fmt.Errorf("convert quote returned empty quoteId")
	}
	return quote.QuoteID, nil
}

// AcceptConvertQuote confirms a previously requested convert quote
func (c *Client) AcceptConvertQuote(ctx context.Context, quoteID string) (*domain.ConvertResult, error) {
	params := url.Values{}
	params.Set("quoteId", quoteID)

	var accept convertAcceptResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("X-MBX-APIKEY", c.apiKey).
		SetQueryParamsFromValues(c.sign(params)).
		SetResult(&accept).
		Post("/sapi/v1/convert/acceptQuote")
	if err != nil {
		return nil, fmt.Errorf("failed to accept convert quote: %w", err)
	}
	if err := c.checkResponse(resp, "convert/acceptQuote"); err != nil {
		return nil, err
	}

	return &domain.ConvertResult{
		QuoteID: quoteID,
		OrderID: accept.OrderID,
		Status:  accept.OrderStatus,
	}, nil
}

// Convert performs a single-call convert, the fallback for accounts where
// the quote/accept call shape is unsupported.
func (c *Client) Convert(ctx context.Context, fromAsset, toAsset string, amount float64) (*domain.ConvertResult, error) {
	if c.apiKey == "" || c.apiSecret == "" {
		return nil, fmt.Errorf("convert: %w", domain.ErrCredentialsMissing)
	}

	params := url.Values{}
	params.Set("fromAsset", fromAsset)
	params.Set("toAsset", toAsset)
	params.Set("fromAmount", strconv.FormatFloat(amount, 'f', -1, 64))

	var trade convertTradeResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("X-MBX-APIKEY", c.apiKey).
		SetQueryParamsFromValues(c.sign(params)).
		SetResult(&trade).
		Post("/sapi/v1/convert/trade")
	if err != nil {
		return nil, fmt.Errorf("failed to convert %s->%s: %w", fromAsset, toAsset, err)
	}
	if err := c.checkResponse(resp, "convert/trade"); err != nil {
		return nil, err
	}

	return &domain.ConvertResult{
		OrderID:    trade.OrderID,
		Status:     trade.Status,
		FromAmount: parseFloat(trade.FromAmount),
		ToAmount:   parseFloat(trade.ToAmount),
	}, nil
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

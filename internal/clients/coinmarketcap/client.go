// Package coinmarketcap provides client functionality for the CoinMarketCap
// listings API, the ranked market-cap source for index composition.
package coinmarketcap

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"github.com/vkozlov/cryptofolio/internal/domain"
)

const defaultBaseURL = "https://pro-api.coinmarketcap.com"

// Client for the CoinMarketCap API. Implements domain.MarketDataClient.
type Client struct {
	http   *resty.Client
	log    zerolog.Logger
	apiKey string
}

// Compile-time check that Client implements domain.MarketDataClient
var _ domain.MarketDataClient = (*Client)(nil)

// Option customizes the client, used by tests to point at a stub server.
type Option func(*Client)

// WithBaseURL overrides the API base URL
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.http.SetBaseURL(baseURL)
	}
}

// NewClient creates a new CoinMarketCap client
func NewClient(apiKey string, log zerolog.Logger, opts ...Option) *Client {
	http := resty.New().
		SetBaseURL(defaultBaseURL).
		SetTimeout(30 * time.Second).
		SetHeader("Accept", "application/json")

	c := &Client{
		http:   http,
		log:    log.With().Str("client", "coinmarketcap").Logger(),
		apiKey: apiKey,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type listingsResponse struct {
	Status struct {
		ErrorCode    int    `json:"error_code"`
		ErrorMessage string `json:"error_message"`
	} `json:"status"`
	Data []listing `json:"data"`
}

type listing struct {
	Symbol  string `json:"symbol"`
	Name    string `json:"name"`
	CMCRank int    `json:"cmc_rank"`
	Quote   struct {
		USD struct {
			MarketCap        float64 `json:"market_cap"`
			Price            float64 `json:"price"`
			PercentChange24h float64 `json:"percent_change_24h"`
		} `json:"USD"`
	} `json:"quote"`
}

// ListRanked returns up to limit coins ordered by market-cap rank.
// Stablecoins are NOT filtered here; the caller owns the exclusion set.
func (c *Client) ListRanked(ctx context.Context, limit int) ([]domain.RankedCoin, error) {
	var result listingsResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("X-CMC_PRO_API_KEY", c.apiKey).
		SetQueryParams(map[string]string{
			"start":   "1",
			"limit":   strconv.Itoa(limit),
			"convert": "USD",
		}).
		SetResult(&result).
		Get("/v1/cryptocurrency/listings/latest")
	if err != nil {
		return nil, fmt.Errorf("%w: listings request failed: %s", domain.ErrDataUnavailable, err.Error())
	}
	if !resp.IsSuccess() {
		// Error bodies are not decoded into the result target.
		var failure listingsResponse
		msg := fmt.Sprintf("http %d", resp.StatusCode())
		if err := json.Unmarshal(resp.Body(), &failure); err == nil && failure.Status.ErrorMessage != "" {
			msg = failure.Status.ErrorMessage
		}
		return nil, fmt.Errorf("%w: listings API error: %s", domain.ErrDataUnavailable, msg)
	}

	coins := make([]domain.RankedCoin, 0, len(result.Data))
	for _, l := range result.Data {
		coins = append(coins, domain.RankedCoin{
			Symbol:    l.Symbol,
			Name:      l.Name,
			Rank:      l.CMCRank,
			MarketCap: l.Quote.USD.MarketCap,
			Price:     l.Quote.USD.Price,
			Change24h: l.Quote.USD.PercentChange24h,
		})
	}

	c.log.Debug().Int("count", len(coins)).Msg("Fetched ranked listings")
	return coins, nil
}

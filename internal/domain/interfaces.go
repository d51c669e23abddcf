package domain

import "context"

// MarketDataClient provides ranked market-cap data. The caller supplies the
// stablecoin exclusion set; the provider does not filter it.
type MarketDataClient interface {
	// ListRanked returns up to limit coins ordered by market-cap rank.
	ListRanked(ctx context.Context, limit int) ([]RankedCoin, error)
}

// ExchangeClient is the exchange collaborator used for balances, prices,
// trading rules and order execution.
type ExchangeClient interface {
	// GetBalances returns all non-zero account balances.
	GetBalances(ctx context.Context) ([]AssetBalance, error)

	// GetPrice returns the last price for a trading pair, e.g. "BTCUSDC".
	GetPrice(ctx context.Context, pair string) (float64, error)

	// GetSymbolRules returns the trading constraints for a pair.
	GetSymbolRules(ctx context.Context, pair string) (*SymbolRules, error)

	// PlaceMarketOrder submits an immediate-execution order.
	// side is "BUY" or "SELL"; quantity is in base-asset units.
	PlaceMarketOrder(ctx context.Context, pair, side string, quantity float64) (*OrderResult, error)

	// RequestConvertQuote starts the two-call convert flow and returns a quote ID.
	RequestConvertQuote(ctx context.Context, fromAsset, toAsset string, amount float64) (string, error)

	// AcceptConvertQuote confirms a previously requested convert quote.
	AcceptConvertQuote(ctx context.Context, quoteID string) (*ConvertResult, error)

	// Convert performs a single-call convert for exchanges that do not
	// support the quote/accept call shape.
	Convert(ctx context.Context, fromAsset, toAsset string, amount float64) (*ConvertResult, error)
}

// CredentialsProvider supplies per-session API credentials. The engine
// never reads ambient or global credentials.
type CredentialsProvider interface {
	Credentials(sessionID string) (Credentials, error)
}

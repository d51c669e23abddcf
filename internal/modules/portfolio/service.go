// Package portfolio turns exchange balances into valued holdings.
package portfolio

import (
	"context"
	"sort"

	"github.com/rs/zerolog"

	"github.com/vkozlov/cryptofolio/internal/domain"
)

// Snapshot is the valued state of the account at one point in time.
// Symbols preserves a deterministic iteration order (descending value,
// then symbol) alongside the lookup map.
type Snapshot struct {
	Balances   map[string]domain.AssetBalance
	Symbols    []string
	TotalValue float64
}

// Get returns the balance for a symbol, zero-valued if absent.
func (s *Snapshot) Get(symbol string) domain.AssetBalance {
	return s.Balances[symbol]
}

// List returns balances in deterministic order.
func (s *Snapshot) List() []domain.AssetBalance {
	out := make([]domain.AssetBalance, 0, len(s.Symbols))
	for _, sym := range s.Symbols {
		out = append(out, s.Balances[sym])
	}
	return out
}

// Service values exchange balances in the quote currency.
type Service struct {
	exchange    domain.ExchangeClient
	quoteAsset  string
	stablecoins map[string]bool
	log         zerolog.Logger
}

// NewService creates a new portfolio snapshot service
func NewService(exchange domain.ExchangeClient, quoteAsset string, stablecoins map[string]bool, log zerolog.Logger) *Service {
	return &Service{
		exchange:    exchange,
		quoteAsset:  quoteAsset,
		stablecoins: stablecoins,
		log:         log.With().Str("service", "portfolio").Logger(),
	}
}

// Snapshot fetches all balances and values each asset in the quote
// currency. Assets with no resolvable price path are valued at zero and
// logged; they never abort the snapshot.
func (s *Service) Snapshot(ctx context.Context) (*Snapshot, error) {
	raw, err := s.exchange.GetBalances(ctx)
	if err != nil {
		return nil, err
	}

	snap := &Snapshot{
		Balances: make(map[string]domain.AssetBalance, len(raw)),
	}

	for _, b := range raw {
		b.QuoteValue = s.value(ctx, b.Symbol, b.Total)
		snap.Balances[b.Symbol] = b
		snap.Symbols = append(snap.Symbols, b.Symbol)
		snap.TotalValue += b.QuoteValue
	}

	sort.Slice(snap.Symbols, func(i, j int) bool {
		vi := snap.Balances[snap.Symbols[i]].QuoteValue
		vj := snap.Balances[snap.Symbols[j]].QuoteValue
		if vi != vj {
			return vi > vj
		}
		return snap.Symbols[i] < snap.Symbols[j]
	})

	s.log.Debug().
		Int("assets", len(snap.Symbols)).
		Float64("total_value", snap.TotalValue).
		Msg("Portfolio snapshot complete")

	return snap, nil
}

// value resolves the quote-currency value of an asset amount. Path:
// stablecoins 1:1, then the direct pair, then via USDT, then a bridge
// through BTC. An unresolvable path values the asset at zero.
func (s *Service) value(ctx context.Context, symbol string, amount float64) float64 {
	if amount <= 0 {
		return 0
	}
	if symbol == s.quoteAsset || s.stablecoins[symbol] {
		return amount
	}

	if price, err := s.exchange.GetPrice(ctx, symbol+s.quoteAsset); err == nil {
		return amount * price
	}

	if price, err := s.exchange.GetPrice(ctx, symbol+"USDT"); err == nil {
		return amount * price
	}

	// Bridge through BTC to the quote currency
	if symbol != "BTC" {
		btcPrice, err := s.exchange.GetPrice(ctx, symbol+"BTC")
		if err == nil {
			btcQuote, err := s.exchange.GetPrice(ctx, "BTC"+s.quoteAsset)
			if err == nil {
				return amount * btcPrice * btcQuote
			}
		}
	}

	s.log.Warn().
		Str("symbol", symbol).
		Float64("amount", amount).
		Msg("No price path to quote currency, valuing at zero")
	return 0
}

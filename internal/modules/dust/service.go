// Package dust consolidates residual balances left behind by lot-size
// rounding into a single sink asset.
package dust

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/vkozlov/cryptofolio/internal/domain"
)

// Converter executes asset swaps. Satisfied by the order executor.
type Converter interface {
	ExecuteConvert(ctx context.Context, fromAsset, toAsset string, amount float64) bool
}

// Config controls sweep behavior.
type Config struct {
	Enabled    bool    // master switch, sweeps are skipped entirely when off
	DustFloor  float64 // residues below this USD value are left alone
	QuoteAsset string  // intermediate hop for assets with no direct route
}

// Service sweeps dust balances into a sink asset.
type Service struct {
	exchange  domain.ExchangeClient
	converter Converter
	cfg       Config
	log       zerolog.Logger
}

// NewService creates a new dust sweeper
func NewService(exchange domain.ExchangeClient, converter Converter, cfg Config, log zerolog.Logger) *Service {
	return &Service{
		exchange:  exchange,
		converter: converter,
		cfg:       cfg,
		log:       log.With().Str("service", "dust").Logger(),
	}
}

// Sweep converts each dust balance into sinkAsset. A direct convert is
// tried first; when the exchange has no direct route the asset hops
// through the quote currency, with the quote balance re-read between the
// two legs so only the actual proceeds are forwarded. Failures are
// recorded per asset and never abort the sweep.
func (s *Service) Sweep(ctx context.Context, dust []domain.AssetBalance, sinkAsset string) *domain.SweepResult {
	result := &domain.SweepResult{SinkAsset: sinkAsset}

	if !s.cfg.Enabled {
		s.log.Debug().Msg("Dust sweeping disabled")
		return result
	}
	if sinkAsset == "" {
		s.log.Debug().Msg("No sink asset, skipping sweep")
		return result
	}

	for _, bal := range dust {
		if bal.Symbol == sinkAsset {
			continue
		}
		if bal.QuoteValue < s.cfg.DustFloor {
			continue
		}

		if s.sweepOne(ctx, bal, sinkAsset) {
			result.Converted = append(result.Converted, bal.Symbol)
			result.TotalValue += bal.QuoteValue
		} else {
			result.Failed = append(result.Failed, bal.Symbol)
		}
	}

	if len(result.Converted) > 0 || len(result.Failed) > 0 {
		s.log.Info().
			Str("sink", sinkAsset).
			Strs("converted", result.Converted).
			Strs("failed", result.Failed).
			Float64("total_value", result.TotalValue).
			Msg("Dust sweep finished")
	}
	return result
}

func (s *Service) sweepOne(ctx context.Context, bal domain.AssetBalance, sinkAsset string) bool {
	if s.converter.ExecuteConvert(ctx, bal.Symbol, sinkAsset, bal.Free) {
		return true
	}
	if bal.Symbol == s.cfg.QuoteAsset || sinkAsset == s.cfg.QuoteAsset {
		return false
	}

	s.log.Debug().
		Str("symbol", bal.Symbol).
		Str("sink", sinkAsset).
		Msg("Direct convert unavailable, hopping through quote")

	before := s.quoteFree(ctx)
	if !s.converter.ExecuteConvert(ctx, bal.Symbol, s.cfg.QuoteAsset, bal.Free) {
		return false
	}
	proceeds := s.quoteFree(ctx) - before
	if proceeds <= 0 {
		s.log.Warn().Str("symbol", bal.Symbol).Msg("No measurable proceeds after first hop")
		return false
	}
	return s.converter.ExecuteConvert(ctx, s.cfg.QuoteAsset, sinkAsset, proceeds)
}

func (s *Service) quoteFree(ctx context.Context) float64 {
	balances, err := s.exchange.GetBalances(ctx)
	if err != nil {
		return 0
	}
	for _, b := range balances {
		if b.Symbol == s.cfg.QuoteAsset {
			return b.Free
		}
	}
	return 0
}

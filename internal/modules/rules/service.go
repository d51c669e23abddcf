// Package rules caches exchange trading constraints per pair so the
// planner does not refetch them for every operation.
package rules

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/vkozlov/cryptofolio/internal/domain"
)

type cachedRules struct {
	rules     *domain.SymbolRules
	fetchedAt time.Time
}

// Service is a TTL cache over ExchangeClient.GetSymbolRules.
type Service struct {
	exchange domain.ExchangeClient
	ttl      time.Duration
	log      zerolog.Logger

	mu    sync.RWMutex
	cache map[string]cachedRules
}

// NewService creates a new symbol-rules cache
func NewService(exchange domain.ExchangeClient, ttl time.Duration, log zerolog.Logger) *Service {
	return &Service{
		exchange: exchange,
		ttl:      ttl,
		log:      log.With().Str("service", "rules").Logger(),
		cache:    make(map[string]cachedRules),
	}
}

// Get returns the trading rules for a pair, fetching on miss or expiry.
func (s *Service) Get(ctx context.Context, pair string) (*domain.SymbolRules, error) {
	s.mu.RLock()
	entry, ok := s.cache[pair]
	s.mu.RUnlock()

	if ok && time.Since(entry.fetchedAt) < s.ttl {
		return entry.rules, nil
	}

	rules, err := s.exchange.GetSymbolRules(ctx, pair)
	if err != nil {
		// Serve a stale entry over failing the caller
		if ok {
			s.log.Warn().Err(err).Str("pair", pair).Msg("Rules refresh failed, serving stale entry")
			return entry.rules, nil
		}
		return nil, err
	}

	s.mu.Lock()
	s.cache[pair] = cachedRules{rules: rules, fetchedAt: time.Now()}
	s.mu.Unlock()

	return rules, nil
}

// RefreshAll re-fetches every cached pair. Called by the maintenance job;
// individual failures keep the previous entry.
func (s *Service) RefreshAll(ctx context.Context) {
	s.mu.RLock()
	pairs := make([]string, 0, len(s.cache))
	for pair := range s.cache {
		pairs = append(pairs, pair)
	}
	s.mu.RUnlock()

	for _, pair := range pairs {
		rules, err := s.exchange.GetSymbolRules(ctx, pair)
		if err != nil {
			s.log.Warn().Err(err).Str("pair", pair).Msg("Rules refresh failed")
			continue
		}
		s.mu.Lock()
		s.cache[pair] = cachedRules{rules: rules, fetchedAt: time.Now()}
		s.mu.Unlock()
	}

	s.log.Debug().Int("pairs", len(pairs)).Msg("Rules cache refreshed")
}

// Size returns the number of cached pairs.
func (s *Service) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.cache)
}

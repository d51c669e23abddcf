package jobs

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/vkozlov/cryptofolio/internal/modules/rules"
)

// RulesRefreshJob re-fetches cached trading rules in the background so
// planning never blocks on a cold exchangeInfo call mid-cycle.
type RulesRefreshJob struct {
	rules *rules.Service
	log   zerolog.Logger
}

// NewRulesRefreshJob creates a new rules refresh job
func NewRulesRefreshJob(rules *rules.Service, log zerolog.Logger) *RulesRefreshJob {
	return &RulesRefreshJob{
		rules: rules,
		log:   log.With().Str("job", "rules_refresh").Logger(),
	}
}

// Name returns the job name
func (j *RulesRefreshJob) Name() string {
	return "rules_refresh"
}

// Run refreshes every cached symbol's trading rules
func (j *RulesRefreshJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	j.rules.RefreshAll(ctx)
	j.log.Debug().Int("cached_symbols", j.rules.Size()).Msg("Trading rules refreshed")
	return nil
}

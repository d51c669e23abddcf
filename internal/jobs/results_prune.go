package jobs

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/vkozlov/cryptofolio/internal/modules/scheduler"
)

// ResultsPruneJob trims old rebalance results so the history table stays
// bounded on long-running deployments.
type ResultsPruneJob struct {
	results   *scheduler.ResultRepository
	retention time.Duration
	log       zerolog.Logger
}

// NewResultsPruneJob creates a new results prune job
func NewResultsPruneJob(results *scheduler.ResultRepository, retention time.Duration, log zerolog.Logger) *ResultsPruneJob {
	if retention <= 0 {
		retention = 90 * 24 * time.Hour
	}
	return &ResultsPruneJob{
		results:   results,
		retention: retention,
		log:       log.With().Str("job", "results_prune").Logger(),
	}
}

// Name returns the job name
func (j *ResultsPruneJob) Name() string {
	return "results_prune"
}

// Run deletes results older than the retention window
func (j *ResultsPruneJob) Run() error {
	cutoff := time.Now().Add(-j.retention).Unix()
	pruned, err := j.results.PruneOlderThan(cutoff)
	if err != nil {
		return err
	}
	if pruned > 0 {
		j.log.Info().Int64("pruned", pruned).Msg("Old rebalance results pruned")
	}
	return nil
}

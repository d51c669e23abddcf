package jobs

import (
	"github.com/rs/zerolog"

	"github.com/vkozlov/cryptofolio/internal/modules/scheduler"
)

// AutoResumeJob restarts loops for sessions persisted as running. Session
// starts are compare-and-set, so a sweep that finds every loop already
// live is a no-op; the job only matters after a loop dies unexpectedly.
type AutoResumeJob struct {
	trader *scheduler.Service
	log    zerolog.Logger
}

// NewAutoResumeJob creates a new auto-resume job
func NewAutoResumeJob(trader *scheduler.Service, log zerolog.Logger) *AutoResumeJob {
	return &AutoResumeJob{
		trader: trader,
		log:    log.With().Str("job", "auto_resume").Logger(),
	}
}

// Name returns the job name
func (j *AutoResumeJob) Name() string {
	return "auto_resume"
}

// Run resumes any persisted-running session without a live loop
func (j *AutoResumeJob) Run() error {
	return j.trader.ResumeRunning()
}

// Package scheduler runs per-session rebalance loops: start/stop control,
// runtime-mutable intervals and dry-run mode, and persistence so running
// sessions resume after a restart.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/vkozlov/cryptofolio/internal/domain"
)

// minIntervalSeconds is the floor for cycle intervals; anything tighter
// hammers the exchange rate limits for no benefit.
const minIntervalSeconds = 60

// CycleRunner executes one rebalance cycle. Satisfied by the rebalance
// service.
type CycleRunner interface {
	RunCycle(ctx context.Context, sessionID string, dryRun bool) *domain.RunResult
}

// Config holds defaults for newly created sessions.
type Config struct {
	DefaultDryRun          bool
	DefaultIntervalSeconds int
	StopWait               time.Duration // bound on waiting for a loop to exit
}

// Service manages trader session lifecycles.
type Service struct {
	cycles   CycleRunner
	sessions *SessionRepository
	results  *ResultRepository
	creds    domain.CredentialsProvider // optional, checked on live starts
	registry *registry
	cfg      Config
	log      zerolog.Logger
}

// NewService creates a new trader scheduler service
func NewService(cycles CycleRunner, sessions *SessionRepository, results *ResultRepository, cfg Config, log zerolog.Logger) *Service {
	if cfg.DefaultIntervalSeconds < minIntervalSeconds {
		cfg.DefaultIntervalSeconds = minIntervalSeconds
	}
	if cfg.StopWait <= 0 {
		cfg.StopWait = 5 * time.Second
	}
	return &Service{
		cycles:   cycles,
		sessions: sessions,
		results:  results,
		registry: newRegistry(),
		cfg:      cfg,
		log:      log.With().Str("service", "scheduler").Logger(),
	}
}

// SetCredentialsProvider installs the credentials check applied before
// non-dry-run session starts.
func (s *Service) SetCredentialsProvider(creds domain.CredentialsProvider) {
	s.creds = creds
}

// ActiveSessions returns the number of live session loops.
func (s *Service) ActiveSessions() int {
	return s.registry.size()
}

// StartSession spawns the session's rebalance loop. The first cycle runs
// immediately. Returns started=false without error when the loop is
// already live; a second start never spawns a second loop.
func (s *Service) StartSession(sessionID string) (*domain.SessionState, bool, error) {
	rn, ok := s.registry.tryAdd(sessionID)
	if !ok {
		state, err := s.sessions.Get(sessionID)
		if err != nil {
			return nil, false, err
		}
		return state, false, nil
	}

	state, err := s.sessions.GetOrCreate(sessionID, s.cfg.DefaultDryRun, s.cfg.DefaultIntervalSeconds)
	if err != nil {
		s.registry.remove(sessionID)
		close(rn.done)
		return nil, false, err
	}

	// Live trading needs credentials up front; failing here aborts this
	// start only, it does not mark the session broken.
	if !state.DryRun && s.creds != nil {
		if _, err := s.creds.Credentials(sessionID); err != nil {
			s.registry.remove(sessionID)
			close(rn.done)
			return nil, false, err
		}
	}

	now := time.Now().UTC()
	state.IsRunning = true
	state.NextRunAt = &now
	if err := s.sessions.Save(state); err != nil {
		s.registry.remove(sessionID)
		close(rn.done)
		return nil, false, err
	}

	go s.loop(rn, sessionID)
	s.log.Info().Str("session_id", sessionID).Msg("Session started")
	return state, true, nil
}

// StopSession signals the session loop and waits, bounded, for it to
// exit. The persisted state is marked stopped either way so a wedged loop
// does not auto-resume on the next restart.
func (s *Service) StopSession(sessionID string) (*domain.SessionState, error) {
	if rn, ok := s.registry.get(sessionID); ok {
		rn.signalStop()
		select {
		case <-rn.done:
		case <-time.After(s.cfg.StopWait):
			s.log.Warn().Str("session_id", sessionID).Msg("Session loop did not exit in time")
		}
	}

	state, err := s.sessions.Get(sessionID)
	if err != nil {
		return nil, err
	}
	state.IsRunning = false
	state.NextRunAt = nil
	if err := s.sessions.Save(state); err != nil {
		return nil, err
	}
	s.log.Info().Str("session_id", sessionID).Msg("Session stopped")
	return state, nil
}

// Status returns the persisted session state with liveness reconciled
// against the in-memory registry.
func (s *Service) Status(sessionID string) (*domain.SessionState, error) {
	state, err := s.sessions.Get(sessionID)
	if err != nil {
		return nil, err
	}
	_, live := s.registry.get(sessionID)
	state.IsRunning = live
	return state, nil
}

// ToggleDryRun flips the session's dry-run flag; the running loop picks
// the change up on its next cycle.
func (s *Service) ToggleDryRun(sessionID string) (*domain.SessionState, error) {
	state, err := s.sessions.Get(sessionID)
	if err != nil {
		return nil, err
	}
	return s.setDryRun(state, !state.DryRun)
}

// SetDryRun sets the session's dry-run flag explicitly.
func (s *Service) SetDryRun(sessionID string, dryRun bool) (*domain.SessionState, error) {
	state, err := s.sessions.Get(sessionID)
	if err != nil {
		return nil, err
	}
	return s.setDryRun(state, dryRun)
}

func (s *Service) setDryRun(state *domain.SessionState, dryRun bool) (*domain.SessionState, error) {
	state.DryRun = dryRun
	if err := s.sessions.Save(state); err != nil {
		return nil, err
	}
	s.log.Info().Str("session_id", state.ID).Bool("dry_run", state.DryRun).Msg("Dry-run updated")
	return state, nil
}

// SetInterval updates the session's cycle interval. Takes effect on the
// next sleep, not the current one.
func (s *Service) SetInterval(sessionID string, seconds int) (*domain.SessionState, error) {
	if seconds < minIntervalSeconds {
		return nil, fmt.Errorf("interval must be at least %d seconds, got %d", minIntervalSeconds, seconds)
	}
	state, err := s.sessions.Get(sessionID)
	if err != nil {
		return nil, err
	}
	state.IntervalSeconds = seconds
	if err := s.sessions.Save(state); err != nil {
		return nil, err
	}
	s.log.Info().Str("session_id", sessionID).Int("interval_seconds", seconds).Msg("Interval updated")
	return state, nil
}

// RunOnce executes a single cycle synchronously, outside any loop. The
// session is created on first use.
func (s *Service) RunOnce(ctx context.Context, sessionID string) (*domain.RunResult, error) {
	state, err := s.sessions.GetOrCreate(sessionID, s.cfg.DefaultDryRun, s.cfg.DefaultIntervalSeconds)
	if err != nil {
		return nil, err
	}
	result := s.cycles.RunCycle(ctx, sessionID, state.DryRun)
	_, live := s.registry.get(sessionID)
	s.persistCycle(state, result, live)
	return result, nil
}

// History returns recent cycle results for a session, newest first.
func (s *Service) History(sessionID string, limit int) ([]domain.RunResult, error) {
	return s.results.ListBySession(sessionID, limit)
}

// ResumeRunning restarts loops for every session persisted as running.
// Called once on startup.
func (s *Service) ResumeRunning() error {
	ids, err := s.sessions.ListRunning()
	if err != nil {
		return err
	}
	for _, id := range ids {
		if _, started, err := s.StartSession(id); err != nil {
			s.log.Error().Err(err).Str("session_id", id).Msg("Failed to resume session")
		} else if started {
			s.log.Info().Str("session_id", id).Msg("Session resumed")
		}
	}
	return nil
}

// Shutdown stops all live session loops.
func (s *Service) Shutdown() {
	for s.registry.size() > 0 {
		ids := s.liveSessions()
		if len(ids) == 0 {
			return
		}
		for _, id := range ids {
			if _, err := s.StopSession(id); err != nil {
				s.log.Error().Err(err).Str("session_id", id).Msg("Failed to stop session on shutdown")
				s.registry.remove(id)
			}
		}
	}
}

func (s *Service) liveSessions() []string {
	s.registry.mu.Lock()
	defer s.registry.mu.Unlock()
	ids := make([]string, 0, len(s.registry.runners))
	for id := range s.registry.runners {
		ids = append(ids, id)
	}
	return ids
}

// loop is the per-session cycle driver. State is re-read each iteration
// so interval and dry-run changes apply without a restart. Cycle errors
// are recorded in results, never fatal to the loop.
func (s *Service) loop(rn *runner, sessionID string) {
	defer close(rn.done)
	defer s.registry.remove(sessionID)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-rn.stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	log := s.log.With().Str("session_id", sessionID).Logger()

	for {
		state, err := s.sessions.Get(sessionID)
		if err != nil {
			log.Error().Err(err).Msg("Failed to load session state, stopping loop")
			return
		}

		result := s.cycles.RunCycle(ctx, sessionID, state.DryRun)

		// A stop may have landed while the cycle was draining. StopSession
		// only waits a bounded time and then persists the session as
		// stopped; writing is_running back here would hand the session to
		// the auto-resume job after an explicit stop.
		if rn.stopping() {
			s.persistCycle(state, result, false)
			return
		}
		s.persistCycle(state, result, true)

		select {
		case <-rn.stop:
			// The bookkeeping write above raced the stop; rewrite the
			// flags so the row never outlives the loop as running.
			state.IsRunning = false
			state.NextRunAt = nil
			if err := s.sessions.Save(state); err != nil {
				log.Error().Err(err).Msg("Failed to mark session stopped")
			}
			return
		case <-time.After(state.Interval()):
		}
	}
}

// persistCycle stores the result and rolls the session bookkeeping
// forward. Persistence failures are logged, not propagated; losing one
// history row must not kill a trading loop.
func (s *Service) persistCycle(state *domain.SessionState, result *domain.RunResult, running bool) {
	if err := s.results.Save(result); err != nil {
		s.log.Error().Err(err).Str("session_id", state.ID).Msg("Failed to save cycle result")
	}

	now := time.Now().UTC()
	state.IsRunning = running
	state.LastRunAt = &now
	state.LastResult = result
	if len(result.Portfolio) > 0 {
		state.LastPortfolio = result.Portfolio
	}
	if running {
		next := now.Add(state.Interval())
		state.NextRunAt = &next
	} else {
		state.NextRunAt = nil
	}
	if err := s.sessions.Save(state); err != nil {
		s.log.Error().Err(err).Str("session_id", state.ID).Msg("Failed to save session state")
	}
}

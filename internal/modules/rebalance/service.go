// Package rebalance orchestrates one full cycle: snapshot the portfolio,
// compose the target index, plan, execute, and sweep the leftovers.
package rebalance

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vkozlov/cryptofolio/internal/domain"
	"github.com/vkozlov/cryptofolio/internal/modules/executor"
	"github.com/vkozlov/cryptofolio/internal/modules/index"
	"github.com/vkozlov/cryptofolio/internal/modules/portfolio"
)

// Composer builds the target index allocations.
type Composer interface {
	Compose(ctx context.Context, p index.Params) ([]domain.TargetAllocation, error)
}

// Snapshotter values the current account holdings.
type Snapshotter interface {
	Snapshot(ctx context.Context) (*portfolio.Snapshot, error)
}

// Planner turns holdings plus targets into an executable plan.
type Planner interface {
	Plan(ctx context.Context, snap *portfolio.Snapshot, targets []domain.TargetAllocation) (*domain.RebalancePlan, error)
}

// PlanExecutor runs a plan against the exchange.
type PlanExecutor interface {
	ExecutePlan(ctx context.Context, plan *domain.RebalancePlan) *executor.Report
}

// Sweeper consolidates residual dust balances.
type Sweeper interface {
	Sweep(ctx context.Context, dust []domain.AssetBalance, sinkAsset string) *domain.SweepResult
}

// Config holds the per-cycle index and dust parameters.
type Config struct {
	IndexBaseSize     int
	IndexSelected     int
	Stablecoins       map[string]bool
	QuoteAsset        string
	MinTradeThreshold float64
	DustFloor         float64
}

// Service runs rebalance cycles.
type Service struct {
	composer  Composer
	snapshots Snapshotter
	planner   Planner
	executor  PlanExecutor
	sweeper   Sweeper
	cfg       Config
	log       zerolog.Logger
}

// NewService creates a new rebalance cycle service
func NewService(composer Composer, snapshots Snapshotter, planner Planner, exec PlanExecutor, sweeper Sweeper, cfg Config, log zerolog.Logger) *Service {
	return &Service{
		composer:  composer,
		snapshots: snapshots,
		planner:   planner,
		executor:  exec,
		sweeper:   sweeper,
		cfg:       cfg,
		log:       log.With().Str("service", "rebalance").Logger(),
	}
}

// RunCycle executes one rebalance cycle and always returns a RunResult;
// stage failures are recorded in the result's Error field, never returned.
// In dry-run mode the plan is computed and recorded but nothing is
// submitted to the exchange.
func (s *Service) RunCycle(ctx context.Context, sessionID string, dryRun bool) *domain.RunResult {
	result := &domain.RunResult{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		StartedAt: time.Now().UTC(),
		DryRun:    dryRun,
	}
	defer func() {
		result.FinishedAt = time.Now().UTC()
	}()

	log := s.log.With().Str("session_id", sessionID).Bool("dry_run", dryRun).Logger()
	log.Info().Msg("Starting rebalance cycle")

	snap, err := s.snapshots.Snapshot(ctx)
	if err != nil {
		result.Error = "portfolio snapshot failed: " + err.Error()
		log.Error().Err(err).Msg("Portfolio snapshot failed")
		return result
	}
	result.TotalValue = snap.TotalValue
	result.Portfolio = snap.List()

	targets, err := s.composer.Compose(ctx, index.Params{
		BaseSize:      s.cfg.IndexBaseSize,
		SelectedCount: s.cfg.IndexSelected,
		Stablecoins:   s.cfg.Stablecoins,
	})
	if err != nil {
		result.Error = "index composition failed: " + err.Error()
		log.Error().Err(err).Msg("Index composition failed")
		return result
	}
	index.ApplyPortfolioValue(targets, snap.TotalValue)
	result.Targets = targets

	plan, err := s.planner.Plan(ctx, snap, targets)
	if err != nil {
		result.Error = "planning failed: " + err.Error()
		log.Error().Err(err).Msg("Planning failed")
		return result
	}
	result.Plan = plan
	result.Planned = plan.TotalOperations()

	if plan.IsEmpty() {
		log.Info().Float64("total_value", snap.TotalValue).Msg("Portfolio already balanced")
		return result
	}
	if dryRun {
		log.Info().
			Int("planned", result.Planned).
			Msg("Dry run, plan recorded without execution")
		return result
	}

	report := s.executor.ExecutePlan(ctx, plan)
	result.Operations = report.Results
	result.Executed = report.Executed
	result.Failed = report.Failed

	result.Sweep = s.sweepResidue(ctx, targets)

	log.Info().
		Int("executed", result.Executed).
		Int("failed", result.Failed).
		Msg("Rebalance cycle finished")
	return result
}

// sweepResidue re-reads the post-execution portfolio, collects residual
// balances below the trade threshold, and sweeps them into the targeted
// asset with the largest remaining shortfall. Rounding during execution
// makes the planner's dust predictions approximate, so the sweep input is
// derived from actual balances instead.
func (s *Service) sweepResidue(ctx context.Context, targets []domain.TargetAllocation) *domain.SweepResult {
	snap, err := s.snapshots.Snapshot(ctx)
	if err != nil {
		s.log.Warn().Err(err).Msg("Post-execution snapshot failed, skipping dust sweep")
		return nil
	}

	sink := s.sinkAsset(snap, targets)

	targeted := make(map[string]bool, len(targets))
	for _, t := range targets {
		targeted[t.Symbol] = true
	}

	var dust []domain.AssetBalance
	for _, bal := range snap.List() {
		if bal.Symbol == s.cfg.QuoteAsset || s.cfg.Stablecoins[bal.Symbol] {
			continue
		}
		if targeted[bal.Symbol] || bal.Symbol == sink {
			continue
		}
		if bal.QuoteValue >= s.cfg.MinTradeThreshold || bal.QuoteValue < s.cfg.DustFloor {
			continue
		}
		dust = append(dust, bal)
	}
	if len(dust) == 0 {
		return nil
	}
	return s.sweeper.Sweep(ctx, dust, sink)
}

// sinkAsset picks the targeted symbol furthest below its target value.
func (s *Service) sinkAsset(snap *portfolio.Snapshot, targets []domain.TargetAllocation) string {
	sink := ""
	worst := 0.0
	for _, t := range targets {
		shortfall := t.TargetValue - snap.Get(t.Symbol).QuoteValue
		if shortfall > worst {
			worst = shortfall
			sink = t.Symbol
		}
	}
	if sink == "" && len(targets) > 0 {
		sink = targets[0].Symbol
	}
	return sink
}

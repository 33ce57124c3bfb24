package batch

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// DefaultSchedulerConcurrency bounds owners processed in parallel.
const DefaultSchedulerConcurrency = 4

// Scheduler periodically sweeps owners with pending bookmarks and runs the
// pipeline for each. Per-owner exclusion lives in the orchestrator, so an
// owner picked up by the sweep while already running is skipped.
type Scheduler struct {
	orch        *Orchestrator
	interval    time.Duration
	concurrency int
	log         zerolog.Logger
}

// NewScheduler creates a Scheduler. A non-positive concurrency selects the
// default.
func NewScheduler(orch *Orchestrator, interval time.Duration, concurrency int, log zerolog.Logger) *Scheduler {
	if concurrency <= 0 {
		concurrency = DefaultSchedulerConcurrency
	}
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Scheduler{
		orch:        orch,
		interval:    interval,
		concurrency: concurrency,
		log:         log.With().Str("component", "scheduler").Logger(),
	}
}

// RunAll executes one sweep: a run per owner with pending bookmarks, at most
// concurrency owners in flight. Individual run failures are logged and do
// not stop the sweep; only a context error aborts it.
func (s *Scheduler) RunAll(ctx context.Context) error {
	owners, err := s.orch.stores.Bookmarks.OwnersWithPending(ctx)
	if err != nil {
		return err
	}
	if len(owners) == 0 {
		return nil
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, owner := range owners {
		owner := owner
		g.Go(func() error {
			_, err := s.orch.Run(ctx, owner)
			switch {
			case err == nil, errors.Is(err, ErrRunInProgress):
				return nil
			case ctx.Err() != nil:
				return ctx.Err()
			default:
				s.log.Error().Err(err).Stringer("owner", owner).Msg("batch run failed")
				return nil
			}
		})
	}
	return g.Wait()
}

// Start sweeps on the configured interval until the context is canceled.
func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	s.log.Info().Dur("interval", s.interval).Msg("scheduler started")
	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("scheduler stopped")
			return
		case <-ticker.C:
			if err := s.RunAll(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.log.Error().Err(err).Msg("sweep failed")
			}
		}
	}
}

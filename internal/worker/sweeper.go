package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/support-orchestrator/internal/checkpoint"
	"github.com/spec-kit/support-orchestrator/internal/events"
	"github.com/spec-kit/support-orchestrator/internal/lease"
)

// Sweeper periodically re-admits tickets whose checkpoint survived a
// worker crash. A checkpoint without a live lease means no worker is
// driving the ticket; re-enqueueing it lets any worker resume from the
// last committed stage. Double admission is harmless: the engine's
// lease and compare-and-set checkpoint writes reject the loser.
type Sweeper struct {
	checkpoints checkpoint.Store
	leases      lease.Leaser
	submitter   events.Submitter
	interval    time.Duration
	logger      *zap.Logger
}

// NewSweeper constructs a sweeper.
func NewSweeper(checkpoints checkpoint.Store, leases lease.Leaser, submitter events.Submitter, interval time.Duration, logger *zap.Logger) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{
		checkpoints: checkpoints,
		leases:      leases,
		submitter:   submitter,
		interval:    interval,
		logger:      logger,
	}
}

// Run sweeps until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Sweep(ctx); err != nil {
				s.logger.Error("recovery sweep failed", zap.Error(err))
			}
		}
	}
}

// Sweep performs one pass and returns the first infrastructure error.
func (s *Sweeper) Sweep(ctx context.Context) error {
	ids, err := s.checkpoints.PendingIDs(ctx)
	if err != nil {
		return err
	}
	for _, id := range ids {
		held, err := s.leases.Held(ctx, id)
		if err != nil {
			return err
		}
		if held {
			continue
		}
		s.logger.Info("re-admitting orphaned ticket", zap.String("ticket_id", id))
		if err := s.submitter.Submit(ctx, events.Submission{TicketID: id}); err != nil {
			return err
		}
	}
	return nil
}

// Package worker runs the consumption loop and the recovery sweep
// around the workflow engine.
package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/support-orchestrator/internal/events"
	"github.com/spec-kit/support-orchestrator/internal/workflow"
)

// infraBackoff is the pause after an infrastructure failure before the
// worker polls again; checkpoint durability makes the retry safe.
const infraBackoff = 5 * time.Second

// Pool runs a fixed number of workers, each pulling submissions from
// the event source and driving them through the engine. Correctness
// does not depend on how deliveries are partitioned across workers: the
// engine's lease provides the per-ticket exclusivity.
type Pool struct {
	engine *workflow.Engine
	source events.Source
	size   int
	logger *zap.Logger

	wg sync.WaitGroup
}

// NewPool constructs a pool of size workers.
func NewPool(engine *workflow.Engine, source events.Source, size int, logger *zap.Logger) *Pool {
	if size <= 0 {
		size = 1
	}
	return &Pool{engine: engine, source: source, size: size, logger: logger}
}

// Start launches the workers. They stop when ctx is cancelled.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.size; i++ {
		p.wg.Add(1)
		go func(n int) {
			defer p.wg.Done()
			p.loop(ctx, n)
		}(i)
	}
}

// Wait blocks until all workers have exited.
func (p *Pool) Wait() {
	p.wg.Wait()
}

func (p *Pool) loop(ctx context.Context, n int) {
	logger := p.logger.With(zap.Int("worker", n))
	for {
		delivery, err := p.source.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error("receive failed, backing off", zap.Error(err))
			if !sleep(ctx, infraBackoff) {
				return
			}
			continue
		}

		err = p.engine.Execute(ctx, delivery.Submission)
		switch {
		case err == nil:
			p.ack(ctx, delivery, logger)
		case workflow.IsInfrastructure(err):
			// Leave unacked: the delivery is redelivered once the
			// backing store recovers.
			logger.Error("execution hit infrastructure failure",
				zap.String("ticket_id", delivery.Submission.TicketID), zap.Error(err))
			if !sleep(ctx, infraBackoff) {
				return
			}
		case errors.Is(err, context.Canceled):
			return
		default:
			// Malformed submission: acking prevents a poison message
			// from wedging the stream.
			logger.Error("rejecting malformed submission",
				zap.String("ticket_id", delivery.Submission.TicketID), zap.Error(err))
			p.ack(ctx, delivery, logger)
		}
	}
}

func (p *Pool) ack(ctx context.Context, delivery *events.Delivery, logger *zap.Logger) {
	if err := delivery.Ack(context.WithoutCancel(ctx)); err != nil {
		logger.Warn("ack failed", zap.String("id", delivery.ID), zap.Error(err))
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}

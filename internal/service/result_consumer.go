package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/support-orchestrator/internal/events"
	"github.com/spec-kit/support-orchestrator/internal/repository"
)

// ResultConsumerService moves terminal outcomes from the results stream
// into long-term storage. Deduplication relies on the repository's
// version-guarded upsert, so replays under at-least-once delivery are
// harmless.
type ResultConsumerService struct {
	source  events.OutcomeSource
	results repository.ResultRepository
	logger  *zap.Logger
}

// NewResultConsumerService constructs the service.
func NewResultConsumerService(source events.OutcomeSource, results repository.ResultRepository, logger *zap.Logger) *ResultConsumerService {
	return &ResultConsumerService{source: source, results: results, logger: logger}
}

// Run consumes outcomes until ctx is cancelled.
func (s *ResultConsumerService) Run(ctx context.Context) {
	for {
		delivery, err := s.source.ReceiveOutcome(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.Error("outcome receive failed, backing off", zap.Error(err))
			select {
			case <-time.After(5 * time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}

		if err := s.store(ctx, delivery.Outcome); err != nil {
			// Leave unacked for redelivery once the database recovers.
			s.logger.Error("result persist failed",
				zap.String("ticket_id", delivery.Outcome.TicketID), zap.Error(err))
			continue
		}
		if err := delivery.Ack(context.WithoutCancel(ctx)); err != nil {
			s.logger.Warn("outcome ack failed", zap.String("id", delivery.ID), zap.Error(err))
		}
	}
}

func (s *ResultConsumerService) store(ctx context.Context, out events.Outcome) error {
	return s.results.Upsert(ctx, &repository.TicketResult{
		TicketID:      out.TicketID,
		CustomerID:    out.CustomerID,
		Status:        out.Status,
		Category:      out.Category,
		Priority:      out.Priority,
		FinalResponse: out.FinalResponse,
		QualityScore:  out.QualityScore,
		ErrorMessage:  out.ErrorMessage,
		Version:       out.Version,
		ResolvedAt:    out.ResolvedAt,
	})
}

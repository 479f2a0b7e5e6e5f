package workflow

import (
	"context"
	"time"

	"github.com/spec-kit/support-orchestrator/internal/domain"
	"github.com/spec-kit/support-orchestrator/internal/status"
)

// progressByStage is the fixed projection from pipeline stage to the
// percentage shown to polling clients. Terminal stages always read 100
// so a poller sees a final record instead of a silent hang.
var progressByStage = map[domain.Stage]int{
	domain.StageReceived:    0,
	domain.StageClassifying: 25,
	domain.StageGenerating:  50,
	domain.StageValidating:  75,
	domain.StageCompleted:   100,
	domain.StageEscalated:   100,
	domain.StageFailed:      100,
}

// ProgressFor returns the progress percentage for a stage.
func ProgressFor(stage domain.Stage) int {
	return progressByStage[stage]
}

// StageForStatus maps a terminal status back to its stage, used when a
// poll is answered from the long-term result store after the live
// projection expired.
func StageForStatus(st domain.TicketStatus) domain.Stage {
	switch st {
	case domain.TicketStatusCompleted:
		return domain.StageCompleted
	case domain.TicketStatusEscalated:
		return domain.StageEscalated
	case domain.TicketStatusFailed:
		return domain.StageFailed
	default:
		return domain.StageReceived
	}
}

// Projector derives the externally visible status record from committed
// stages. It writes strictly after the corresponding checkpoint commit,
// so pollers never observe progress for work that has not durably
// happened.
type Projector struct {
	store status.Store
	now   func() time.Time
}

// NewProjector constructs a projector over the given store.
func NewProjector(store status.Store) *Projector {
	return &Projector{store: store, now: time.Now}
}

// Project records the stage and its derived progress for the ticket.
func (p *Projector) Project(ctx context.Context, ticketID string, stage domain.Stage) error {
	return p.store.Set(ctx, status.Record{
		TicketID:  ticketID,
		Stage:     stage,
		Progress:  ProgressFor(stage),
		UpdatedAt: p.now().UTC(),
	})
}

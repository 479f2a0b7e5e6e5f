package checkpoint

import (
	"context"
	"errors"

	"github.com/spec-kit/support-orchestrator/internal/domain"
)

// Store errors.
var (
	// ErrNotFound is returned by Get when no checkpoint exists.
	ErrNotFound = errors.New("checkpoint not found")
	// ErrVersionConflict is returned by Put when the stored checkpoint is
	// not exactly one version behind the write. It means another worker
	// committed first; the caller must abandon its stale execution.
	ErrVersionConflict = errors.New("checkpoint version conflict")
)

// Snapshot is the durable record of a ticket's last committed stage.
// Version starts at 1 and increases by one per committed transition.
type Snapshot struct {
	TicketID string             `json:"ticket_id"`
	Stage    domain.Stage       `json:"stage"`
	State    domain.TicketState `json:"state"`
	Version  int64              `json:"version"`
}

// Store persists per-ticket snapshots. Put is compare-and-set on the
// version so two stale workers racing after a lease timeout cannot both
// commit. PendingIDs feeds the recovery sweep.
type Store interface {
	Put(ctx context.Context, snap Snapshot) error
	Get(ctx context.Context, ticketID string) (*Snapshot, error)
	Delete(ctx context.Context, ticketID string) error
	PendingIDs(ctx context.Context) ([]string, error)
}

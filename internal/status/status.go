package status

import (
	"context"
	"errors"
	"time"

	"github.com/spec-kit/support-orchestrator/internal/domain"
)

// ErrNotFound is returned by Get when no status record exists.
var ErrNotFound = errors.New("status not found")

// Record is the externally queryable progress projection for a ticket.
// It is derived from committed checkpoints only and is never the source
// of truth.
type Record struct {
	TicketID  string       `json:"ticket_id"`
	Stage     domain.Stage `json:"stage"`
	Progress  int          `json:"progress_percent"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// Store keeps the latest status record per ticket for polling clients.
type Store interface {
	Set(ctx context.Context, rec Record) error
	Get(ctx context.Context, ticketID string) (*Record, error)
}

// CancelRegistry tracks externally requested cancellations. The engine
// observes a pending request before each stage commit and marks the
// ticket failed with reason cancelled; committed checkpoints are never
// rolled back.
type CancelRegistry interface {
	RequestCancel(ctx context.Context, ticketID string) error
	Cancelled(ctx context.Context, ticketID string) (bool, error)
}

package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/support-orchestrator/internal/domain"
)

// TicketResult is the long-term record of a finished ticket.
type TicketResult struct {
	TicketID      string
	CustomerID    string
	Status        domain.TicketStatus
	Category      domain.TicketCategory
	Priority      domain.TicketPriority
	FinalResponse string
	QualityScore  float64
	ErrorMessage  string
	Version       int64
	ResolvedAt    time.Time
}

// ResultRepository persists terminal outcomes.
type ResultRepository interface {
	Upsert(ctx context.Context, result *TicketResult) error
	GetByTicketID(ctx context.Context, ticketID string) (*TicketResult, error)
}

type resultRepository struct {
	pool *pgxpool.Pool
}

// NewResultRepository instantiates the repository.
func NewResultRepository(pool *pgxpool.Pool) ResultRepository {
	return &resultRepository{pool: pool}
}

// Upsert writes the result idempotently: replays of the same or an
// older (ticket_id, version) leave the row untouched, which makes the
// consumer safe under at-least-once delivery.
func (r *resultRepository) Upsert(ctx context.Context, result *TicketResult) error {
	const query = `
        INSERT INTO ticket_results (ticket_id, customer_id, status, category, priority, final_response, quality_score, error_message, version, resolved_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
        ON CONFLICT (ticket_id) DO UPDATE SET
            status = EXCLUDED.status,
            category = EXCLUDED.category,
            priority = EXCLUDED.priority,
            final_response = EXCLUDED.final_response,
            quality_score = EXCLUDED.quality_score,
            error_message = EXCLUDED.error_message,
            version = EXCLUDED.version,
            resolved_at = EXCLUDED.resolved_at,
            updated_at = NOW()
        WHERE ticket_results.version < EXCLUDED.version`
	_, err := r.pool.Exec(ctx, query,
		result.TicketID,
		result.CustomerID,
		result.Status,
		result.Category,
		result.Priority,
		result.FinalResponse,
		result.QualityScore,
		result.ErrorMessage,
		result.Version,
		result.ResolvedAt,
	)
	return err
}

// GetByTicketID fetches the stored result.
func (r *resultRepository) GetByTicketID(ctx context.Context, ticketID string) (*TicketResult, error) {
	const query = `
        SELECT ticket_id, customer_id, status, category, priority, final_response, quality_score, error_message, version, resolved_at
        FROM ticket_results WHERE ticket_id=$1`
	var result TicketResult
	err := r.pool.QueryRow(ctx, query, ticketID).Scan(
		&result.TicketID,
		&result.CustomerID,
		&result.Status,
		&result.Category,
		&result.Priority,
		&result.FinalResponse,
		&result.QualityScore,
		&result.ErrorMessage,
		&result.Version,
		&result.ResolvedAt,
	)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// ErrNoResult aliases pgx.ErrNoRows for callers that do not import pgx.
var ErrNoResult = pgx.ErrNoRows

package events

import (
	"time"

	"github.com/spec-kit/support-orchestrator/internal/domain"
)

// Stream names mirror the queue topics of the surrounding system.
const (
	StreamTicketEvents = "ticket-events"
	StreamAgentResults = "agent-results"
	StreamDeadLetter   = "dead-letter"
)

// Submission is the ticket-submitted event consumed by the engine. A
// submission carrying only a ticket id re-admits an existing checkpoint
// (recovery sweep path).
type Submission struct {
	TicketID    string            `json:"ticket_id"`
	CustomerID  string            `json:"customer_id,omitempty"`
	Content     string            `json:"content,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	SubmittedAt time.Time         `json:"submitted_at"`
}

// Resume reports whether the submission carries no payload and exists
// only to re-admit a checkpointed ticket.
func (s Submission) Resume() bool {
	return s.Content == "" && s.CustomerID == ""
}

// Outcome is the terminal result event published once per finished
// ticket. Version is the monotonic checkpoint version of the terminal
// stage so downstream consumers can deduplicate under at-least-once
// delivery by matching (ticket_id, version).
type Outcome struct {
	TicketID      string                `json:"ticket_id"`
	CustomerID    string                `json:"customer_id,omitempty"`
	Status        domain.TicketStatus   `json:"status"`
	Category      domain.TicketCategory `json:"category,omitempty"`
	Priority      domain.TicketPriority `json:"priority,omitempty"`
	FinalResponse string                `json:"final_response,omitempty"`
	QualityScore  float64               `json:"quality_score"`
	ErrorMessage  string                `json:"error_message,omitempty"`
	Version       int64                 `json:"version"`
	ResolvedAt    time.Time             `json:"resolved_at"`
}


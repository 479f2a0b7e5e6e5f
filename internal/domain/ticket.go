package domain

import "time"

// Stage enumerates pipeline stages a ticket moves through.
type Stage string

const (
	StageReceived    Stage = "received"
	StageClassifying Stage = "classifying"
	StageGenerating  Stage = "generating"
	StageValidating  Stage = "validating"
	StageCompleted   Stage = "completed"
	StageEscalated   Stage = "escalated"
	StageFailed      Stage = "failed"
)

// Terminal reports whether the stage ends the pipeline.
func (s Stage) Terminal() bool {
	return s == StageCompleted || s == StageEscalated || s == StageFailed
}

// TicketStatus is the coarse externally visible processing status.
type TicketStatus string

const (
	TicketStatusPending    TicketStatus = "pending"
	TicketStatusProcessing TicketStatus = "processing"
	TicketStatusCompleted  TicketStatus = "completed"
	TicketStatusEscalated  TicketStatus = "escalated"
	TicketStatusFailed     TicketStatus = "failed"
)

// TicketCategory enumerates classification categories.
type TicketCategory string

const (
	TicketCategoryBilling   TicketCategory = "billing"
	TicketCategoryTechnical TicketCategory = "technical"
	TicketCategoryGeneral   TicketCategory = "general"
	TicketCategoryComplaint TicketCategory = "complaint"
	TicketCategoryOther     TicketCategory = "other"
)

// TicketPriority enumerates SLA urgency.
type TicketPriority string

const (
	TicketPriorityLow    TicketPriority = "low"
	TicketPriorityMedium TicketPriority = "medium"
	TicketPriorityHigh   TicketPriority = "high"
	TicketPriorityUrgent TicketPriority = "urgent"
)

// Sentiment is the detected customer sentiment.
type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNeutral  Sentiment = "neutral"
	SentimentNegative Sentiment = "negative"
)

// TicketState is the unit of work carried through the pipeline. The engine
// replaces it wholesale on each committed transition; stage executors return
// a modified copy and never touch engine bookkeeping fields.
type TicketState struct {
	TicketID    string            `json:"ticket_id"`
	CustomerID  string            `json:"customer_id"`
	Content     string            `json:"content"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	SubmittedAt time.Time         `json:"submitted_at"`

	// Set once by Classify, read-only afterwards.
	Category  TicketCategory `json:"category,omitempty"`
	Priority  TicketPriority `json:"priority,omitempty"`
	Tags      []string       `json:"tags,omitempty"`
	Sentiment Sentiment      `json:"sentiment,omitempty"`

	// Replaced by each Generate attempt.
	ContextDocs   []string `json:"context_docs,omitempty"`
	DraftResponse string   `json:"draft_response,omitempty"`

	// Set by each Validate attempt.
	QualityScore    float64 `json:"quality_score"`
	QualityFeedback string  `json:"quality_feedback,omitempty"`
	PolicyCompliant bool    `json:"policy_compliant"`
	ToneAppropriate bool    `json:"tone_appropriate"`

	// RetryCount increments only on a validation failure routed back to
	// Generate.
	RetryCount int `json:"retry_count"`

	FinalResponse string       `json:"final_response,omitempty"`
	Stage         Stage        `json:"stage"`
	Status        TicketStatus `json:"status"`
	ErrorMessage  string       `json:"error_message,omitempty"`
}

// Clone returns a deep copy so executors can modify state without aliasing
// the committed snapshot.
func (s TicketState) Clone() TicketState {
	out := s
	if s.Metadata != nil {
		out.Metadata = make(map[string]string, len(s.Metadata))
		for k, v := range s.Metadata {
			out.Metadata[k] = v
		}
	}
	out.Tags = append([]string(nil), s.Tags...)
	out.ContextDocs = append([]string(nil), s.ContextDocs...)
	return out
}

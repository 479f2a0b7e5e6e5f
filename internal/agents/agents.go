// Package agents implements the pipeline stage executors and the narrow
// interfaces they consume. Classification, retrieval, generation and
// validation backends are injected; the executors own only control
// logic and are safe to repeat.
package agents

import (
	"context"

	"github.com/spec-kit/support-orchestrator/internal/domain"
)

// Document is one retrieval hit, ranked by relevance.
type Document struct {
	ID        string
	Text      string
	Relevance float64
}

// DocumentRetriever searches the knowledge base for documents relevant
// to a customer inquiry.
type DocumentRetriever interface {
	Search(ctx context.Context, query string) ([]Document, error)
}

// ResponseGenerator produces a support response from a prompt and
// retrieved context documents.
type ResponseGenerator interface {
	Generate(ctx context.Context, prompt string, contextDocs []string) (string, error)
}

// Classification is the result of analyzing a customer inquiry.
type Classification struct {
	Category  domain.TicketCategory
	Priority  domain.TicketPriority
	Tags      []string
	Sentiment domain.Sentiment
}

// TicketClassifier analyzes inquiry content.
type TicketClassifier interface {
	Classify(ctx context.Context, content string, metadata map[string]string) (Classification, error)
}

// Validation is the quality assessment of a draft response.
type Validation struct {
	Score           float64
	Feedback        string
	PolicyCompliant bool
	ToneAppropriate bool
}

// ResponseValidator scores a draft response against the inquiry.
type ResponseValidator interface {
	Validate(ctx context.Context, content, draft string) (Validation, error)
}

package agents

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/spec-kit/support-orchestrator/internal/domain"
	"github.com/spec-kit/support-orchestrator/internal/workflow"
)

// ClassifyExecutor runs the classification stage. The classification is
// written once; later stages treat category, priority, tags and
// sentiment as read-only.
type ClassifyExecutor struct {
	classifier TicketClassifier
}

// NewClassifyExecutor constructs the executor.
func NewClassifyExecutor(classifier TicketClassifier) *ClassifyExecutor {
	return &ClassifyExecutor{classifier: classifier}
}

// Execute implements workflow.StageExecutor.
func (e *ClassifyExecutor) Execute(ctx context.Context, state domain.TicketState) (domain.TicketState, error) {
	if strings.TrimSpace(state.Content) == "" {
		return state, workflow.Fatalf(state.Stage, "ticket %s has no content to classify", state.TicketID)
	}
	result, err := e.classifier.Classify(ctx, state.Content, state.Metadata)
	if err != nil {
		if workflow.IsFatal(err) {
			return state, err
		}
		return state, workflow.Transient(state.Stage, err)
	}
	state.Category = result.Category
	state.Priority = result.Priority
	state.Tags = result.Tags
	state.Sentiment = result.Sentiment
	if state.Category == "" {
		state.Category = domain.TicketCategoryOther
	}
	if state.Priority == "" {
		state.Priority = domain.TicketPriorityMedium
	}
	if state.Sentiment == "" {
		state.Sentiment = domain.SentimentNeutral
	}
	return state, nil
}

// GenerateExecutor runs the response drafting stage: retrieve context
// documents, then generate a draft. Retrieval failure degrades to an
// empty context rather than failing the stage; the generation call
// itself may fail transiently. Both external calls are safe to repeat,
// which the engine relies on when replaying an uncommitted stage.
type GenerateExecutor struct {
	retriever DocumentRetriever
	generator ResponseGenerator
	logger    *zap.Logger
}

// NewGenerateExecutor constructs the executor.
func NewGenerateExecutor(retriever DocumentRetriever, generator ResponseGenerator, logger *zap.Logger) *GenerateExecutor {
	return &GenerateExecutor{retriever: retriever, generator: generator, logger: logger}
}

// Execute implements workflow.StageExecutor.
func (e *GenerateExecutor) Execute(ctx context.Context, state domain.TicketState) (domain.TicketState, error) {
	docs, err := e.retriever.Search(ctx, state.Content)
	if err != nil {
		e.logger.Warn("context retrieval failed, generating without context",
			zap.String("ticket_id", state.TicketID), zap.Error(err))
		docs = nil
	}
	contextDocs := make([]string, 0, len(docs))
	for _, doc := range docs {
		contextDocs = append(contextDocs, doc.Text)
	}

	prompt := buildPrompt(state)
	draft, err := e.generator.Generate(ctx, prompt, contextDocs)
	if err != nil {
		if workflow.IsFatal(err) {
			return state, err
		}
		return state, workflow.Transient(state.Stage, err)
	}
	if strings.TrimSpace(draft) == "" {
		return state, workflow.Fatalf(state.Stage, "generator returned empty draft for ticket %s", state.TicketID)
	}
	state.ContextDocs = contextDocs
	state.DraftResponse = draft
	return state, nil
}

func buildPrompt(state domain.TicketState) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Category: %s\nPriority: %s\nSentiment: %s\n", state.Category, state.Priority, state.Sentiment)
	if state.QualityFeedback != "" && state.RetryCount > 0 {
		fmt.Fprintf(&b, "Previous attempt feedback: %s\n", state.QualityFeedback)
	}
	fmt.Fprintf(&b, "Customer message:\n%s", state.Content)
	return b.String()
}

// ValidateExecutor runs the quality assessment stage. It records the
// score and feedback; the routing decision belongs to the engine's
// router, not to this executor.
type ValidateExecutor struct {
	validator ResponseValidator
}

// NewValidateExecutor constructs the executor.
func NewValidateExecutor(validator ResponseValidator) *ValidateExecutor {
	return &ValidateExecutor{validator: validator}
}

// Execute implements workflow.StageExecutor.
func (e *ValidateExecutor) Execute(ctx context.Context, state domain.TicketState) (domain.TicketState, error) {
	if state.DraftResponse == "" {
		return state, workflow.Fatalf(state.Stage, "ticket %s reached validation without a draft", state.TicketID)
	}
	result, err := e.validator.Validate(ctx, state.Content, state.DraftResponse)
	if err != nil {
		if workflow.IsFatal(err) {
			return state, err
		}
		return state, workflow.Transient(state.Stage, err)
	}
	state.QualityScore = result.Score
	state.QualityFeedback = result.Feedback
	state.PolicyCompliant = result.PolicyCompliant
	state.ToneAppropriate = result.ToneAppropriate
	return state, nil
}

// EscalateExecutor stamps the handoff note for human review. Escalation
// is a first-class terminal outcome, not an error.
type EscalateExecutor struct{}

// NewEscalateExecutor constructs the executor.
func NewEscalateExecutor() *EscalateExecutor {
	return &EscalateExecutor{}
}

// Execute implements workflow.StageExecutor.
func (e *EscalateExecutor) Execute(_ context.Context, state domain.TicketState) (domain.TicketState, error) {
	note := fmt.Sprintf("automated processing exhausted after %d retries (last score %.2f); handing off to a human reviewer",
		state.RetryCount, state.QualityScore)
	if state.QualityFeedback != "" {
		note += ": " + state.QualityFeedback
	}
	state.QualityFeedback = note
	return state, nil
}

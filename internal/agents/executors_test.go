package agents

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/support-orchestrator/internal/domain"
	"github.com/spec-kit/support-orchestrator/internal/workflow"
)

type stubClassifier struct {
	result Classification
	err    error
}

func (s stubClassifier) Classify(context.Context, string, map[string]string) (Classification, error) {
	return s.result, s.err
}

type stubRetriever struct {
	docs []Document
	err  error
}

func (s stubRetriever) Search(context.Context, string) ([]Document, error) {
	return s.docs, s.err
}

type stubGenerator struct {
	draft   string
	err     error
	prompts []string
}

func (s *stubGenerator) Generate(_ context.Context, prompt string, _ []string) (string, error) {
	s.prompts = append(s.prompts, prompt)
	return s.draft, s.err
}

type stubValidator struct {
	result Validation
	err    error
}

func (s stubValidator) Validate(context.Context, string, string) (Validation, error) {
	return s.result, s.err
}

func ticketState() domain.TicketState {
	return domain.TicketState{
		TicketID: "t-1",
		Content:  "my payment failed",
		Stage:    domain.StageClassifying,
	}
}

func TestClassifyExecutorAppliesResult(t *testing.T) {
	t.Parallel()

	exec := NewClassifyExecutor(stubClassifier{result: Classification{
		Category:  domain.TicketCategoryBilling,
		Priority:  domain.TicketPriorityHigh,
		Tags:      []string{"payment"},
		Sentiment: domain.SentimentNegative,
	}})

	got, err := exec.Execute(context.Background(), ticketState())
	require.NoError(t, err)
	assert.Equal(t, domain.TicketCategoryBilling, got.Category)
	assert.Equal(t, domain.TicketPriorityHigh, got.Priority)
	assert.Equal(t, []string{"payment"}, got.Tags)
	assert.Equal(t, domain.SentimentNegative, got.Sentiment)
}

func TestClassifyExecutorDefaultsEmptyFields(t *testing.T) {
	t.Parallel()

	exec := NewClassifyExecutor(stubClassifier{})
	got, err := exec.Execute(context.Background(), ticketState())
	require.NoError(t, err)
	assert.Equal(t, domain.TicketCategoryOther, got.Category)
	assert.Equal(t, domain.TicketPriorityMedium, got.Priority)
	assert.Equal(t, domain.SentimentNeutral, got.Sentiment)
}

func TestClassifyExecutorEmptyContentIsFatal(t *testing.T) {
	t.Parallel()

	exec := NewClassifyExecutor(stubClassifier{})
	state := ticketState()
	state.Content = "   "

	_, err := exec.Execute(context.Background(), state)
	assert.True(t, workflow.IsFatal(err))
}

func TestClassifyExecutorWrapsBackendError(t *testing.T) {
	t.Parallel()

	exec := NewClassifyExecutor(stubClassifier{err: errors.New("model unavailable")})
	_, err := exec.Execute(context.Background(), ticketState())
	assert.True(t, workflow.IsTransient(err))
}

func TestGenerateExecutorDegradesOnRetrievalFailure(t *testing.T) {
	t.Parallel()

	gen := &stubGenerator{draft: "Hello, here is help. Regards"}
	exec := NewGenerateExecutor(
		stubRetriever{err: errors.New("search backend down")},
		gen,
		zap.NewNop(),
	)

	got, err := exec.Execute(context.Background(), ticketState())
	require.NoError(t, err)
	assert.Equal(t, "Hello, here is help. Regards", got.DraftResponse)
	assert.Empty(t, got.ContextDocs)
}

func TestGenerateExecutorEmptyDraftIsFatal(t *testing.T) {
	t.Parallel()

	exec := NewGenerateExecutor(stubRetriever{}, &stubGenerator{draft: "  "}, zap.NewNop())
	_, err := exec.Execute(context.Background(), ticketState())
	assert.True(t, workflow.IsFatal(err))
}

func TestGenerateExecutorIncludesFeedbackOnRetry(t *testing.T) {
	t.Parallel()

	gen := &stubGenerator{draft: "Hello again. Regards"}
	exec := NewGenerateExecutor(stubRetriever{}, gen, zap.NewNop())

	state := ticketState()
	state.RetryCount = 1
	state.QualityFeedback = "missing greeting"

	_, err := exec.Execute(context.Background(), state)
	require.NoError(t, err)
	require.Len(t, gen.prompts, 1)
	assert.Contains(t, gen.prompts[0], "missing greeting")
}

func TestGenerateExecutorOmitsFeedbackOnFirstAttempt(t *testing.T) {
	t.Parallel()

	gen := &stubGenerator{draft: "Hello. Regards"}
	exec := NewGenerateExecutor(stubRetriever{}, gen, zap.NewNop())

	state := ticketState()
	state.QualityFeedback = "stale feedback from elsewhere"

	_, err := exec.Execute(context.Background(), state)
	require.NoError(t, err)
	require.Len(t, gen.prompts, 1)
	assert.NotContains(t, gen.prompts[0], "stale feedback")
}

func TestValidateExecutorRecordsAssessment(t *testing.T) {
	t.Parallel()

	exec := NewValidateExecutor(stubValidator{result: Validation{
		Score:           0.85,
		Feedback:        "looks good",
		PolicyCompliant: true,
		ToneAppropriate: true,
	}})

	state := ticketState()
	state.DraftResponse = "Hello, fix applied. Regards"

	got, err := exec.Execute(context.Background(), state)
	require.NoError(t, err)
	assert.InDelta(t, 0.85, got.QualityScore, 1e-9)
	assert.Equal(t, "looks good", got.QualityFeedback)
	assert.True(t, got.PolicyCompliant)
	assert.True(t, got.ToneAppropriate)
}

func TestValidateExecutorMissingDraftIsFatal(t *testing.T) {
	t.Parallel()

	exec := NewValidateExecutor(stubValidator{})
	_, err := exec.Execute(context.Background(), ticketState())
	assert.True(t, workflow.IsFatal(err))
}

func TestEscalateExecutorStampsHandoffNote(t *testing.T) {
	t.Parallel()

	exec := NewEscalateExecutor()
	state := ticketState()
	state.RetryCount = 3
	state.QualityScore = 0.4
	state.QualityFeedback = "missing closing"

	got, err := exec.Execute(context.Background(), state)
	require.NoError(t, err)
	assert.Contains(t, got.QualityFeedback, "3 retries")
	assert.Contains(t, got.QualityFeedback, "0.40")
	assert.Contains(t, got.QualityFeedback, "missing closing")
}

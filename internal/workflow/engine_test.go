package workflow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/support-orchestrator/internal/checkpoint"
	"github.com/spec-kit/support-orchestrator/internal/domain"
	"github.com/spec-kit/support-orchestrator/internal/events"
	"github.com/spec-kit/support-orchestrator/internal/lease"
	"github.com/spec-kit/support-orchestrator/internal/status"
)

type testEnv struct {
	engine      *Engine
	checkpoints checkpoint.Store
	leases      *lease.MemoryLeaser
	statuses    *status.MemoryStore
	cancels     *status.MemoryCancelRegistry
	publisher   *events.MemoryPublisher
}

func newTestEnv(execs Executors) *testEnv {
	env := &testEnv{
		checkpoints: checkpoint.NewMemoryStore(),
		leases:      lease.NewMemoryLeaser(),
		statuses:    status.NewMemoryStore(),
		cancels:     status.NewMemoryCancelRegistry(),
		publisher:   events.NewMemoryPublisher(),
	}
	env.engine = New(Dependencies{
		Executors:   execs,
		Router:      DefaultRouter(),
		Checkpoints: env.checkpoints,
		Leases:      env.leases,
		Projector:   NewProjector(env.statuses),
		Publisher:   env.publisher,
		Cancels:     env.cancels,
	}, Config{
		StageTimeout:  time.Second,
		StageAttempts: 3,
		RetryBackoff:  0,
		LeaseTTL:      time.Minute,
	}, zap.NewNop())
	return env
}

func submission(id string) events.Submission {
	return events.Submission{
		TicketID:    id,
		CustomerID:  "cust-1",
		Content:     "I was charged twice for my subscription, please refund the duplicate payment",
		Metadata:    map[string]string{"channel": "email"},
		SubmittedAt: time.Now().UTC(),
	}
}

func classifyBilling(called *int) ExecutorFunc {
	return func(_ context.Context, s domain.TicketState) (domain.TicketState, error) {
		if called != nil {
			*called++
		}
		s.Category = domain.TicketCategoryBilling
		s.Priority = domain.TicketPriorityHigh
		s.Tags = []string{"payment", "refund"}
		s.Sentiment = domain.SentimentNegative
		return s, nil
	}
}

func generateDraft(called *int) ExecutorFunc {
	return func(_ context.Context, s domain.TicketState) (domain.TicketState, error) {
		if called != nil {
			*called++
		}
		s.ContextDocs = []string{"refund policy"}
		s.DraftResponse = "Hello, we have refunded the duplicate charge."
		return s, nil
	}
}

// validateScores returns successive scores on successive calls, sticking
// with the last one when exhausted.
func validateScores(scores ...float64) ExecutorFunc {
	i := 0
	return func(_ context.Context, s domain.TicketState) (domain.TicketState, error) {
		score := scores[len(scores)-1]
		if i < len(scores) {
			score = scores[i]
			i++
		}
		s.QualityScore = score
		s.QualityFeedback = "checked"
		s.PolicyCompliant = true
		s.ToneAppropriate = true
		return s, nil
	}
}

func noopEscalate() ExecutorFunc {
	return func(_ context.Context, s domain.TicketState) (domain.TicketState, error) {
		return s, nil
	}
}

func happyExecutors() Executors {
	return Executors{
		Classify: classifyBilling(nil),
		Generate: generateDraft(nil),
		Validate: validateScores(0.9),
		Escalate: noopEscalate(),
	}
}

func TestEngineCompletesHappyPath(t *testing.T) {
	t.Parallel()

	env := newTestEnv(happyExecutors())
	ctx := context.Background()

	require.NoError(t, env.engine.Execute(ctx, submission("t-1")))

	outcomes := env.publisher.Outcomes()
	require.Len(t, outcomes, 1)
	out := outcomes[0]
	assert.Equal(t, domain.TicketStatusCompleted, out.Status)
	assert.Equal(t, domain.TicketCategoryBilling, out.Category)
	assert.Equal(t, domain.TicketPriorityHigh, out.Priority)
	assert.Equal(t, "Hello, we have refunded the duplicate charge.", out.FinalResponse)
	assert.InDelta(t, 0.9, out.QualityScore, 1e-9)
	// received→classifying→generating→validating→completed: four commits.
	assert.Equal(t, int64(4), out.Version)

	_, err := env.checkpoints.Get(ctx, "t-1")
	assert.ErrorIs(t, err, checkpoint.ErrNotFound)

	rec, err := env.statuses.Get(ctx, "t-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StageCompleted, rec.Stage)
	assert.Equal(t, 100, rec.Progress)
}

func TestEngineEscalatesAfterRetryCap(t *testing.T) {
	t.Parallel()

	var generates int
	env := newTestEnv(Executors{
		Classify: classifyBilling(nil),
		Generate: generateDraft(&generates),
		Validate: validateScores(0.5, 0.5, 0.4),
		Escalate: noopEscalate(),
	})
	ctx := context.Background()

	require.NoError(t, env.engine.Execute(ctx, submission("t-2")))

	outcomes := env.publisher.Outcomes()
	require.Len(t, outcomes, 1)
	assert.Equal(t, domain.TicketStatusEscalated, outcomes[0].Status)
	assert.Empty(t, outcomes[0].FinalResponse)

	// The third failed validation exhausts the cap: three Generate runs,
	// never a fourth.
	assert.Equal(t, 3, generates)

	_, err := env.checkpoints.Get(ctx, "t-2")
	assert.ErrorIs(t, err, checkpoint.ErrNotFound)

	rec, err := env.statuses.Get(ctx, "t-2")
	require.NoError(t, err)
	assert.Equal(t, domain.StageEscalated, rec.Stage)
	assert.Equal(t, 100, rec.Progress)
}

func TestEngineRetryCountNeverExceedsCap(t *testing.T) {
	t.Parallel()

	var maxSeen int
	env := newTestEnv(Executors{
		Classify: classifyBilling(nil),
		Generate: generateDraft(nil),
		Validate: ExecutorFunc(func(_ context.Context, s domain.TicketState) (domain.TicketState, error) {
			if s.RetryCount > maxSeen {
				maxSeen = s.RetryCount
			}
			s.QualityScore = 0.1
			return s, nil
		}),
		Escalate: noopEscalate(),
	})

	require.NoError(t, env.engine.Execute(context.Background(), submission("t-3")))
	assert.LessOrEqual(t, maxSeen, 3)
	require.Len(t, env.publisher.Outcomes(), 1)
	assert.Equal(t, domain.TicketStatusEscalated, env.publisher.Outcomes()[0].Status)
}

func TestEngineTransientGenerateRecovers(t *testing.T) {
	t.Parallel()

	attempts := 0
	env := newTestEnv(Executors{
		Classify: classifyBilling(nil),
		Generate: ExecutorFunc(func(_ context.Context, s domain.TicketState) (domain.TicketState, error) {
			attempts++
			if attempts <= 2 {
				return s, Transientf(s.Stage, "generation backend timed out")
			}
			s.DraftResponse = "Hello, here is your answer. Best regards."
			return s, nil
		}),
		Validate: validateScores(0.9),
		Escalate: noopEscalate(),
	})

	require.NoError(t, env.engine.Execute(context.Background(), submission("t-4")))

	assert.Equal(t, 3, attempts)
	outcomes := env.publisher.Outcomes()
	require.Len(t, outcomes, 1)
	assert.Equal(t, domain.TicketStatusCompleted, outcomes[0].Status)
}

func TestEngineTransientExhaustionFails(t *testing.T) {
	t.Parallel()

	env := newTestEnv(Executors{
		Classify: classifyBilling(nil),
		Generate: ExecutorFunc(func(_ context.Context, s domain.TicketState) (domain.TicketState, error) {
			return s, Transientf(s.Stage, "generation backend unavailable")
		}),
		Validate: validateScores(0.9),
		Escalate: noopEscalate(),
	})
	ctx := context.Background()

	require.NoError(t, env.engine.Execute(ctx, submission("t-5")))

	outcomes := env.publisher.Outcomes()
	require.Len(t, outcomes, 1)
	assert.Equal(t, domain.TicketStatusFailed, outcomes[0].Status)
	assert.Contains(t, outcomes[0].ErrorMessage, "attempt cap reached")

	rec, err := env.statuses.Get(ctx, "t-5")
	require.NoError(t, err)
	assert.Equal(t, domain.StageFailed, rec.Stage)
	assert.Equal(t, 100, rec.Progress)
}

func TestEngineFatalErrorFailsImmediately(t *testing.T) {
	t.Parallel()

	calls := 0
	env := newTestEnv(Executors{
		Classify: ExecutorFunc(func(_ context.Context, s domain.TicketState) (domain.TicketState, error) {
			calls++
			return s, Fatalf(s.Stage, "content field missing")
		}),
		Generate: generateDraft(nil),
		Validate: validateScores(0.9),
		Escalate: noopEscalate(),
	})

	require.NoError(t, env.engine.Execute(context.Background(), submission("t-6")))

	assert.Equal(t, 1, calls, "fatal errors must not be retried")
	outcomes := env.publisher.Outcomes()
	require.Len(t, outcomes, 1)
	assert.Equal(t, domain.TicketStatusFailed, outcomes[0].Status)
}

func TestEngineResumeSkipsCommittedStages(t *testing.T) {
	t.Parallel()

	var classified int
	env := newTestEnv(Executors{
		Classify: classifyBilling(&classified),
		Generate: generateDraft(nil),
		Validate: validateScores(0.9),
		Escalate: noopEscalate(),
	})
	ctx := context.Background()

	// Checkpoint left behind by a worker that crashed after committing
	// the generating transition.
	state := domain.TicketState{
		TicketID:   "t-7",
		CustomerID: "cust-1",
		Content:    "billing question",
		Category:   domain.TicketCategoryBilling,
		Priority:   domain.TicketPriorityUrgent,
		Tags:       []string{"payment"},
		Stage:      domain.StageGenerating,
		Status:     domain.TicketStatusProcessing,
	}
	for v := int64(1); v <= 2; v++ {
		snapStage := domain.StageClassifying
		if v == 2 {
			snapStage = domain.StageGenerating
		}
		st := state.Clone()
		st.Stage = snapStage
		require.NoError(t, env.checkpoints.Put(ctx, checkpoint.Snapshot{
			TicketID: "t-7", Stage: snapStage, State: st, Version: v,
		}))
	}

	require.NoError(t, env.engine.Execute(ctx, events.Submission{TicketID: "t-7"}))

	assert.Zero(t, classified, "classify must not re-run on resume")
	outcomes := env.publisher.Outcomes()
	require.Len(t, outcomes, 1)
	assert.Equal(t, domain.TicketStatusCompleted, outcomes[0].Status)
	assert.Equal(t, domain.TicketCategoryBilling, outcomes[0].Category)
	assert.Equal(t, domain.TicketPriorityUrgent, outcomes[0].Priority, "classification must survive resume")
	// Two commits were already durable; generating→validating and
	// validating→completed add two more.
	assert.Equal(t, int64(4), outcomes[0].Version)
}

func TestEngineDuplicateDeliveryIsNoOp(t *testing.T) {
	t.Parallel()

	env := newTestEnv(happyExecutors())
	ctx := context.Background()

	_, ok, err := env.leases.Acquire(ctx, "t-8", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, env.engine.Execute(ctx, submission("t-8")))
	assert.Empty(t, env.publisher.Outcomes())
}

func TestEngineConcurrentExecutionsSingleOutcome(t *testing.T) {
	t.Parallel()

	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	env := newTestEnv(Executors{
		Classify: ExecutorFunc(func(_ context.Context, s domain.TicketState) (domain.TicketState, error) {
			once.Do(func() {
				close(started)
				<-release
			})
			s.Category = domain.TicketCategoryGeneral
			s.Priority = domain.TicketPriorityLow
			return s, nil
		}),
		Generate: generateDraft(nil),
		Validate: validateScores(0.9),
		Escalate: noopEscalate(),
	})
	ctx := context.Background()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		assert.NoError(t, env.engine.Execute(ctx, submission("t-9")))
	}()

	<-started
	// Second delivery arrives while the first execution holds the lease.
	require.NoError(t, env.engine.Execute(ctx, submission("t-9")))
	close(release)
	wg.Wait()

	assert.Len(t, env.publisher.Outcomes(), 1)
}

func TestEngineCancellationBeforeCommit(t *testing.T) {
	t.Parallel()

	var classified int
	env := newTestEnv(Executors{
		Classify: classifyBilling(&classified),
		Generate: generateDraft(nil),
		Validate: validateScores(0.9),
		Escalate: noopEscalate(),
	})
	ctx := context.Background()

	require.NoError(t, env.cancels.RequestCancel(ctx, "t-10"))
	require.NoError(t, env.engine.Execute(ctx, submission("t-10")))

	assert.Zero(t, classified)
	outcomes := env.publisher.Outcomes()
	require.Len(t, outcomes, 1)
	assert.Equal(t, domain.TicketStatusFailed, outcomes[0].Status)
	assert.Equal(t, "cancelled", outcomes[0].ErrorMessage)

	_, err := env.checkpoints.Get(ctx, "t-10")
	assert.ErrorIs(t, err, checkpoint.ErrNotFound)
}

func TestEngineProgressMonotonicWithoutRetry(t *testing.T) {
	t.Parallel()

	env := newTestEnv(happyExecutors())
	require.NoError(t, env.engine.Execute(context.Background(), submission("t-11")))

	history := env.statuses.History("t-11")
	require.NotEmpty(t, history)
	prev := -1
	for _, rec := range history {
		assert.GreaterOrEqual(t, rec.Progress, prev,
			"progress went backwards without a retry: %v", history)
		prev = rec.Progress
	}
}

func TestEngineProgressDropsToGeneratingOnRetry(t *testing.T) {
	t.Parallel()

	env := newTestEnv(Executors{
		Classify: classifyBilling(nil),
		Generate: generateDraft(nil),
		Validate: validateScores(0.5, 0.9),
		Escalate: noopEscalate(),
	})
	require.NoError(t, env.engine.Execute(context.Background(), submission("t-12")))

	var progress []int
	for _, rec := range env.statuses.History("t-12") {
		progress = append(progress, rec.Progress)
	}
	want := []int{0, 25, 50, 75, 50, 75, 100}
	if diff := cmp.Diff(want, progress); diff != "" {
		t.Fatalf("progress history mismatch (-want +got):\n%s", diff)
	}
}

// racingStore simulates another worker committing a newer checkpoint
// between our load and our write.
type racingStore struct {
	checkpoint.Store
	raced bool
}

func (r *racingStore) Put(ctx context.Context, snap checkpoint.Snapshot) error {
	if !r.raced {
		r.raced = true
		return checkpoint.ErrVersionConflict
	}
	return r.Store.Put(ctx, snap)
}

func TestEngineAbandonsStaleExecution(t *testing.T) {
	t.Parallel()

	env := newTestEnv(happyExecutors())
	env.engine.deps.Checkpoints = &racingStore{Store: env.checkpoints}

	require.NoError(t, env.engine.Execute(context.Background(), submission("t-13")))
	assert.Empty(t, env.publisher.Outcomes(), "stale execution must not publish")
}

func TestEngineRepublishesTerminalCheckpoint(t *testing.T) {
	t.Parallel()

	env := newTestEnv(happyExecutors())
	ctx := context.Background()

	// Crash happened after the terminal commit but before cleanup: the
	// sweep re-admits the ticket and the outcome is published again with
	// the same version for downstream dedup.
	final := domain.TicketState{
		TicketID:      "t-14",
		Content:       "question",
		FinalResponse: "answer",
		Stage:         domain.StageCompleted,
		Status:        domain.TicketStatusCompleted,
	}
	require.NoError(t, env.checkpoints.Put(ctx, checkpoint.Snapshot{
		TicketID: "t-14", Stage: domain.StageCompleted, State: final, Version: 1,
	}))

	require.NoError(t, env.engine.Execute(ctx, events.Submission{TicketID: "t-14"}))

	outcomes := env.publisher.Outcomes()
	require.Len(t, outcomes, 1)
	assert.Equal(t, int64(1), outcomes[0].Version)
	_, err := env.checkpoints.Get(ctx, "t-14")
	assert.ErrorIs(t, err, checkpoint.ErrNotFound)
}

func TestEngineResumeWithoutCheckpointIsNoOp(t *testing.T) {
	t.Parallel()

	env := newTestEnv(happyExecutors())
	require.NoError(t, env.engine.Execute(context.Background(), events.Submission{TicketID: "t-15"}))
	assert.Empty(t, env.publisher.Outcomes())
}

type failingPublisher struct{}

func (failingPublisher) Publish(context.Context, events.Outcome) error {
	return errors.New("stream unreachable")
}

func TestEngineInfrastructureErrorPropagates(t *testing.T) {
	t.Parallel()

	env := newTestEnv(happyExecutors())
	env.engine.deps.Publisher = failingPublisher{}
	ctx := context.Background()

	err := env.engine.Execute(ctx, submission("t-16"))
	require.Error(t, err)
	assert.True(t, IsInfrastructure(err))

	// The terminal checkpoint survives so a later attempt republishes.
	snap, getErr := env.checkpoints.Get(ctx, "t-16")
	require.NoError(t, getErr)
	assert.Equal(t, domain.StageCompleted, snap.Stage)
}

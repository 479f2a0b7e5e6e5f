package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/support-orchestrator/internal/checkpoint"
	"github.com/spec-kit/support-orchestrator/internal/domain"
	"github.com/spec-kit/support-orchestrator/internal/events"
	"github.com/spec-kit/support-orchestrator/internal/lease"
	"github.com/spec-kit/support-orchestrator/internal/observability"
	"github.com/spec-kit/support-orchestrator/internal/status"
)

// Config holds the engine tunables. LeaseTTL must exceed the worst-case
// stage work within one execution or the recovery sweep will reclaim a
// healthy run; config.Load enforces the minimum.
type Config struct {
	StageTimeout  time.Duration
	StageAttempts int
	RetryBackoff  time.Duration
	LeaseTTL      time.Duration
}

// Dependencies bundles the engine's collaborators. Cancels and Metrics
// are optional.
type Dependencies struct {
	Executors   Executors
	Router      Router
	Checkpoints checkpoint.Store
	Leases      lease.Leaser
	Projector   *Projector
	Publisher   events.Publisher
	Cancels     status.CancelRegistry
	Metrics     *observability.Metrics
}

// Engine drives one ticket at a time through the pipeline with
// exactly-once-effective semantics: an exclusive lease per ticket id,
// a compare-and-set checkpoint after every committed stage, and a
// bounded retry loop decided by the Router.
type Engine struct {
	deps   Dependencies
	cfg    Config
	logger *zap.Logger
}

// errStaleExecution signals that another worker committed a newer
// checkpoint; the local execution must stop without publishing.
var errStaleExecution = errors.New("stale execution superseded by newer checkpoint")

// New constructs an engine.
func New(deps Dependencies, cfg Config, logger *zap.Logger) *Engine {
	if cfg.StageAttempts <= 0 {
		cfg.StageAttempts = 3
	}
	if cfg.StageTimeout <= 0 {
		cfg.StageTimeout = 30 * time.Second
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = 5 * time.Minute
	}
	return &Engine{deps: deps, cfg: cfg, logger: logger}
}

// Execute runs the ticket referenced by the submission to a terminal
// stage. Duplicate deliveries for a ticket already executing elsewhere
// return nil immediately. Stage failures become state transitions;
// only infrastructure failures propagate as errors.
func (e *Engine) Execute(ctx context.Context, sub events.Submission) error {
	id := sub.TicketID
	if id == "" {
		return Fatalf(domain.StageReceived, "submission missing ticket_id")
	}

	token, ok, err := e.deps.Leases.Acquire(ctx, id, e.cfg.LeaseTTL)
	if err != nil {
		return Infra("lease acquire", err)
	}
	if !ok {
		e.logger.Debug("ticket already leased, skipping duplicate delivery",
			zap.String("ticket_id", id))
		return nil
	}
	defer func() {
		if err := e.deps.Leases.Release(context.WithoutCancel(ctx), id, token); err != nil {
			e.logger.Warn("lease release failed", zap.String("ticket_id", id), zap.Error(err))
		}
	}()

	state, version, err := e.loadOrCreate(ctx, sub)
	if err != nil {
		if errors.Is(err, errNothingToDo) {
			return nil
		}
		return err
	}

	err = e.run(ctx, &state, &version, token)
	if errors.Is(err, errStaleExecution) {
		e.logger.Warn("abandoning stale execution", zap.String("ticket_id", id))
		return nil
	}
	if err != nil {
		return err
	}

	return e.finish(ctx, state, version)
}

// errNothingToDo: a resume submission raced checkpoint deletion.
var errNothingToDo = errors.New("no checkpoint and no payload")

func (e *Engine) loadOrCreate(ctx context.Context, sub events.Submission) (domain.TicketState, int64, error) {
	snap, err := e.deps.Checkpoints.Get(ctx, sub.TicketID)
	switch {
	case err == nil:
		e.logger.Info("resuming from checkpoint",
			zap.String("ticket_id", sub.TicketID),
			zap.String("stage", string(snap.Stage)),
			zap.Int64("version", snap.Version))
		return snap.State, snap.Version, nil
	case errors.Is(err, checkpoint.ErrNotFound):
		if sub.Resume() {
			e.logger.Debug("resume submission without checkpoint, nothing to do",
				zap.String("ticket_id", sub.TicketID))
			return domain.TicketState{}, 0, errNothingToDo
		}
		state := domain.TicketState{
			TicketID:    sub.TicketID,
			CustomerID:  sub.CustomerID,
			Content:     sub.Content,
			Metadata:    sub.Metadata,
			SubmittedAt: sub.SubmittedAt,
			Stage:       domain.StageReceived,
			Status:      domain.TicketStatusPending,
		}
		e.project(ctx, sub.TicketID, domain.StageReceived)
		return state, 0, nil
	default:
		return domain.TicketState{}, 0, Infra("checkpoint load", err)
	}
}

// run advances state until a terminal stage is committed.
func (e *Engine) run(ctx context.Context, state *domain.TicketState, version *int64, token string) error {
	for !state.Stage.Terminal() {
		cancelled, err := e.cancelRequested(ctx, state.TicketID)
		if err != nil {
			return err
		}
		if cancelled {
			e.logger.Info("cancellation observed", zap.String("ticket_id", state.TicketID))
			next := failState(*state, "cancelled")
			if err := e.commit(ctx, state, version, next); err != nil {
				return err
			}
			continue
		}

		next, stageErr := e.step(ctx, *state)
		if stageErr != nil {
			if IsInfrastructure(stageErr) {
				return stageErr
			}
			e.logger.Error("stage failed terminally",
				zap.String("ticket_id", state.TicketID),
				zap.String("stage", string(state.Stage)),
				zap.Error(stageErr))
			next = failState(*state, stageErr.Error())
		}

		if err := e.commit(ctx, state, version, next); err != nil {
			return err
		}

		if !state.Stage.Terminal() {
			if _, err := e.deps.Leases.Extend(ctx, state.TicketID, token, e.cfg.LeaseTTL); err != nil {
				return Infra("lease extend", err)
			}
		}
	}
	return nil
}

// step computes the successor state for one transition of the table.
func (e *Engine) step(ctx context.Context, state domain.TicketState) (domain.TicketState, error) {
	switch state.Stage {
	case domain.StageReceived:
		next := state.Clone()
		next.Stage = domain.StageClassifying
		next.Status = domain.TicketStatusProcessing
		return next, nil

	case domain.StageClassifying:
		next, err := e.runStage(ctx, e.deps.Executors.Classify, state)
		if err != nil {
			return state, err
		}
		next.Stage = domain.StageGenerating
		return next, nil

	case domain.StageGenerating:
		next, err := e.runStage(ctx, e.deps.Executors.Generate, state)
		if err != nil {
			return state, err
		}
		next.Stage = domain.StageValidating
		return next, nil

	case domain.StageValidating:
		next, err := e.runStage(ctx, e.deps.Executors.Validate, state)
		if err != nil {
			return state, err
		}
		if e.deps.Router.Route(next.QualityScore, next.RetryCount) == DecisionPass {
			next.FinalResponse = next.DraftResponse
			next.Stage = domain.StageCompleted
			next.Status = domain.TicketStatusCompleted
			return next, nil
		}
		// Failed validation counts against the cap immediately, so the
		// final allowed attempt escalates without another Generate run.
		next.RetryCount++
		if e.deps.Router.Route(next.QualityScore, next.RetryCount) == DecisionEscalate {
			escalated, err := e.runStage(ctx, e.deps.Executors.Escalate, next)
			if err != nil {
				return state, err
			}
			escalated.Stage = domain.StageEscalated
			escalated.Status = domain.TicketStatusEscalated
			return escalated, nil
		}
		next.Stage = domain.StageGenerating
		e.deps.Metrics.RecordQualityRetry()
		e.logger.Info("validation below threshold, retrying generate",
			zap.String("ticket_id", next.TicketID),
			zap.Float64("score", next.QualityScore),
			zap.Int("retry_count", next.RetryCount))
		return next, nil

	default:
		return state, Fatalf(state.Stage, "checkpoint carries unknown stage %q", state.Stage)
	}
}

// runStage executes one stage under the per-attempt timeout, retrying
// transient failures up to the attempt cap. A fatal error or an
// exhausted cap is returned to the caller, which converts it into the
// failed transition; context loss propagates as infrastructure.
func (e *Engine) runStage(ctx context.Context, exec StageExecutor, state domain.TicketState) (domain.TicketState, error) {
	if exec == nil {
		return state, Fatalf(state.Stage, "no executor configured for stage %q", state.Stage)
	}
	var lastErr error
	for attempt := 1; attempt <= e.cfg.StageAttempts; attempt++ {
		stageCtx, cancel := context.WithTimeout(ctx, e.cfg.StageTimeout)
		next, err := exec.Execute(stageCtx, state.Clone())
		cancel()
		if err == nil {
			return next, nil
		}
		if ctx.Err() != nil {
			return state, Infra("stage execution", ctx.Err())
		}
		if IsFatal(err) {
			return state, err
		}
		// Timeouts and unclassified dependency errors count as transient.
		lastErr = err
		e.deps.Metrics.RecordStageRetry(string(state.Stage))
		e.logger.Warn("transient stage failure",
			zap.String("ticket_id", state.TicketID),
			zap.String("stage", string(state.Stage)),
			zap.Int("attempt", attempt),
			zap.Error(err))
		if attempt < e.cfg.StageAttempts && e.cfg.RetryBackoff > 0 {
			select {
			case <-time.After(e.cfg.RetryBackoff * time.Duration(attempt)):
			case <-ctx.Done():
				return state, Infra("stage execution", ctx.Err())
			}
		}
	}
	return state, Transient(state.Stage, fmt.Errorf("attempt cap reached: %w", lastErr))
}

// commit persists the successor state as a new checkpoint version and
// only then projects the status update.
func (e *Engine) commit(ctx context.Context, state *domain.TicketState, version *int64, next domain.TicketState) error {
	newVersion := *version + 1
	err := e.deps.Checkpoints.Put(ctx, checkpoint.Snapshot{
		TicketID: next.TicketID,
		Stage:    next.Stage,
		State:    next,
		Version:  newVersion,
	})
	if errors.Is(err, checkpoint.ErrVersionConflict) {
		return errStaleExecution
	}
	if err != nil {
		return Infra("checkpoint put", err)
	}
	*state = next
	*version = newVersion
	e.deps.Metrics.RecordStageCommit(string(next.Stage))
	e.project(ctx, next.TicketID, next.Stage)
	return nil
}

// finish publishes the terminal outcome and removes the checkpoint. The
// publish-then-delete order means a crash in between re-publishes the
// same (ticket_id, version) on resume, which downstream consumers
// deduplicate.
func (e *Engine) finish(ctx context.Context, state domain.TicketState, version int64) error {
	out := events.Outcome{
		TicketID:      state.TicketID,
		CustomerID:    state.CustomerID,
		Status:        state.Status,
		Category:      state.Category,
		Priority:      state.Priority,
		FinalResponse: state.FinalResponse,
		QualityScore:  state.QualityScore,
		ErrorMessage:  state.ErrorMessage,
		Version:       version,
		ResolvedAt:    time.Now().UTC(),
	}
	if err := e.deps.Publisher.Publish(ctx, out); err != nil {
		return Infra("publish outcome", err)
	}
	if err := e.deps.Checkpoints.Delete(ctx, state.TicketID); err != nil {
		return Infra("checkpoint delete", err)
	}
	e.deps.Metrics.RecordTerminal(string(state.Status))
	e.logger.Info("ticket finished",
		zap.String("ticket_id", state.TicketID),
		zap.String("status", string(state.Status)),
		zap.Int64("version", version))
	return nil
}

func (e *Engine) cancelRequested(ctx context.Context, ticketID string) (bool, error) {
	if e.deps.Cancels == nil {
		return false, nil
	}
	cancelled, err := e.deps.Cancels.Cancelled(ctx, ticketID)
	if err != nil {
		return false, Infra("cancel check", err)
	}
	return cancelled, nil
}

// project is best-effort: the status record is a derived projection, so
// a write failure is logged rather than failing the execution.
func (e *Engine) project(ctx context.Context, ticketID string, stage domain.Stage) {
	if e.deps.Projector == nil {
		return
	}
	if err := e.deps.Projector.Project(ctx, ticketID, stage); err != nil {
		e.logger.Warn("status projection failed",
			zap.String("ticket_id", ticketID), zap.Error(err))
	}
}

func failState(state domain.TicketState, reason string) domain.TicketState {
	next := state.Clone()
	next.Stage = domain.StageFailed
	next.Status = domain.TicketStatusFailed
	next.ErrorMessage = reason
	return next
}

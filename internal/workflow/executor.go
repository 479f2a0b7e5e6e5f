package workflow

import (
	"context"

	"github.com/spec-kit/support-orchestrator/internal/domain"
)

// StageExecutor runs one pipeline stage. Implementations receive a copy
// of the committed state and return the modified copy; a nil error means
// the stage succeeded, otherwise the error is a TransientStageError or a
// FatalStageError. Executors must be safe to repeat: a crash between
// executor completion and checkpoint commit is treated as if the stage
// never ran.
type StageExecutor interface {
	Execute(ctx context.Context, state domain.TicketState) (domain.TicketState, error)
}

// ExecutorFunc adapts a function to the StageExecutor interface.
type ExecutorFunc func(ctx context.Context, state domain.TicketState) (domain.TicketState, error)

// Execute implements StageExecutor.
func (f ExecutorFunc) Execute(ctx context.Context, state domain.TicketState) (domain.TicketState, error) {
	return f(ctx, state)
}

// Executors bundles one executor per pipeline stage. Selection happens by
// the current stage value; there is no dynamic registry.
type Executors struct {
	Classify StageExecutor
	Generate StageExecutor
	Validate StageExecutor
	Escalate StageExecutor
}

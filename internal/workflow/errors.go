package workflow

import (
	"errors"
	"fmt"

	"github.com/spec-kit/support-orchestrator/internal/domain"
)

// TransientStageError marks a stage failure worth retrying in place:
// a timeout or a recoverable dependency failure.
type TransientStageError struct {
	Stage domain.Stage
	Err   error
}

func (e *TransientStageError) Error() string {
	return fmt.Sprintf("transient failure in stage %s: %v", e.Stage, e.Err)
}

func (e *TransientStageError) Unwrap() error { return e.Err }

// FatalStageError marks contractually invalid state detected by an
// executor. It routes the ticket straight to failed, no retry.
type FatalStageError struct {
	Stage domain.Stage
	Err   error
}

func (e *FatalStageError) Error() string {
	return fmt.Sprintf("fatal failure in stage %s: %v", e.Stage, e.Err)
}

func (e *FatalStageError) Unwrap() error { return e.Err }

// InfrastructureError marks an unreachable checkpoint store, lease
// backend or event source. It propagates out of Execute untouched and is
// resolved by restart plus the recovery sweep, never by a state
// transition.
type InfrastructureError struct {
	Op  string
	Err error
}

func (e *InfrastructureError) Error() string {
	return fmt.Sprintf("infrastructure failure during %s: %v", e.Op, e.Err)
}

func (e *InfrastructureError) Unwrap() error { return e.Err }

// Transient wraps err as a retryable failure of the given stage.
func Transient(stage domain.Stage, err error) error {
	return &TransientStageError{Stage: stage, Err: err}
}

// Transientf is Transient with formatting.
func Transientf(stage domain.Stage, format string, args ...any) error {
	return &TransientStageError{Stage: stage, Err: fmt.Errorf(format, args...)}
}

// Fatal wraps err as an unrecoverable failure of the given stage.
func Fatal(stage domain.Stage, err error) error {
	return &FatalStageError{Stage: stage, Err: err}
}

// Fatalf is Fatal with formatting.
func Fatalf(stage domain.Stage, format string, args ...any) error {
	return &FatalStageError{Stage: stage, Err: fmt.Errorf(format, args...)}
}

// Infra wraps err as an infrastructure failure of the named operation.
func Infra(op string, err error) error {
	return &InfrastructureError{Op: op, Err: err}
}

// IsTransient reports whether err is a retryable stage failure.
func IsTransient(err error) bool {
	var te *TransientStageError
	return errors.As(err, &te)
}

// IsFatal reports whether err is an unrecoverable stage failure.
func IsFatal(err error) bool {
	var fe *FatalStageError
	return errors.As(err, &fe)
}

// IsInfrastructure reports whether err came from a backing store rather
// than a stage executor.
func IsInfrastructure(err error) bool {
	var ie *InfrastructureError
	return errors.As(err, &ie)
}

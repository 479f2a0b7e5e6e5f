package events

import "context"

// Delivery wraps a received submission with its acknowledgement. Ack is
// called only after the engine finishes cleanly; unacked deliveries are
// redelivered (at-least-once).
type Delivery struct {
	ID         string
	Submission Submission
	Ack        func(ctx context.Context) error
}

// Source is the narrow interface the engine workers pull ticket
// submissions from. Receive blocks until a delivery arrives or ctx is
// done.
type Source interface {
	Receive(ctx context.Context) (*Delivery, error)
}

// Submitter enqueues submissions. Used by the recovery sweeper to
// re-admit checkpointed tickets and by tools feeding the pipeline.
type Submitter interface {
	Submit(ctx context.Context, sub Submission) error
}

// Publisher emits one terminal outcome event per finished ticket.
type Publisher interface {
	Publish(ctx context.Context, out Outcome) error
}

// OutcomeDelivery wraps a received outcome with its acknowledgement.
type OutcomeDelivery struct {
	ID      string
	Outcome Outcome
	Ack     func(ctx context.Context) error
}

// OutcomeSource is consumed by the downstream result writer that moves
// final outcomes into long-term storage.
type OutcomeSource interface {
	ReceiveOutcome(ctx context.Context) (*OutcomeDelivery, error)
}

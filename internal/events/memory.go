package events

import (
	"context"
	"sync"
)

// MemorySource is a channel-backed Source/Submitter for tests and
// single-process runs.
type MemorySource struct {
	ch chan Submission
}

// NewMemorySource creates a source with the given buffer.
func NewMemorySource(buffer int) *MemorySource {
	return &MemorySource{ch: make(chan Submission, buffer)}
}

// Submit enqueues a submission.
func (s *MemorySource) Submit(ctx context.Context, sub Submission) error {
	select {
	case s.ch <- sub:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Receive blocks until a submission is available.
func (s *MemorySource) Receive(ctx context.Context) (*Delivery, error) {
	select {
	case sub := <-s.ch:
		return &Delivery{
			ID:         sub.TicketID,
			Submission: sub,
			Ack:        func(context.Context) error { return nil },
		}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// MemoryPublisher records published outcomes.
type MemoryPublisher struct {
	mu       sync.Mutex
	outcomes []Outcome
}

// NewMemoryPublisher creates an empty publisher.
func NewMemoryPublisher() *MemoryPublisher {
	return &MemoryPublisher{}
}

// Publish records the outcome.
func (p *MemoryPublisher) Publish(_ context.Context, out Outcome) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.outcomes = append(p.outcomes, out)
	return nil
}

// Outcomes returns all published outcomes in publication order.
func (p *MemoryPublisher) Outcomes() []Outcome {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Outcome(nil), p.outcomes...)
}

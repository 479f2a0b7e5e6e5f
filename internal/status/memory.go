package status

import (
	"context"
	"sync"
)

// MemoryStore is an in-process Store for tests and development runs. It
// additionally records the full history of writes so tests can assert
// progress monotonicity.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]Record
	history map[string][]Record
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]Record),
		history: make(map[string][]Record),
	}
}

// Set writes the record.
func (s *MemoryStore) Set(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.TicketID] = rec
	s.history[rec.TicketID] = append(s.history[rec.TicketID], rec)
	return nil
}

// Get reads the record for a ticket.
func (s *MemoryStore) Get(_ context.Context, ticketID string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[ticketID]
	if !ok {
		return nil, ErrNotFound
	}
	return &rec, nil
}

// History returns every record written for the ticket, oldest first.
func (s *MemoryStore) History(ticketID string) []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Record(nil), s.history[ticketID]...)
}

// MemoryCancelRegistry is an in-process CancelRegistry.
type MemoryCancelRegistry struct {
	mu        sync.Mutex
	cancelled map[string]bool
}

// NewMemoryCancelRegistry creates an empty registry.
func NewMemoryCancelRegistry() *MemoryCancelRegistry {
	return &MemoryCancelRegistry{cancelled: make(map[string]bool)}
}

// RequestCancel flags the ticket for cancellation.
func (r *MemoryCancelRegistry) RequestCancel(_ context.Context, ticketID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancelled[ticketID] = true
	return nil
}

// Cancelled reports whether cancellation was requested for the ticket.
func (r *MemoryCancelRegistry) Cancelled(_ context.Context, ticketID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cancelled[ticketID], nil
}

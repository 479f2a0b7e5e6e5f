package checkpoint

import (
	"context"
	"sync"
)

// MemoryStore is an in-process Store with the same compare-and-set
// semantics as the Redis implementation. It backs tests and single-node
// development runs.
type MemoryStore struct {
	mu    sync.Mutex
	snaps map[string]Snapshot
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{snaps: make(map[string]Snapshot)}
}

// Put commits the snapshot with optimistic concurrency on the version.
func (s *MemoryStore) Put(_ context.Context, snap Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, exists := s.snaps[snap.TicketID]
	if exists && cur.Version != snap.Version-1 {
		return ErrVersionConflict
	}
	if !exists && snap.Version != 1 {
		return ErrVersionConflict
	}
	s.snaps[snap.TicketID] = snap
	return nil
}

// Get loads the latest snapshot for the ticket.
func (s *MemoryStore) Get(_ context.Context, ticketID string) (*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.snaps[ticketID]
	if !ok {
		return nil, ErrNotFound
	}
	return &snap, nil
}

// Delete removes the snapshot.
func (s *MemoryStore) Delete(_ context.Context, ticketID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.snaps, ticketID)
	return nil
}

// PendingIDs lists tickets with an unfinished execution.
func (s *MemoryStore) PendingIDs(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.snaps))
	for id := range s.snaps {
		ids = append(ids, id)
	}
	return ids, nil
}

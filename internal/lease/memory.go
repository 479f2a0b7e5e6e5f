package lease

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memoryLease struct {
	token   string
	expires time.Time
}

// MemoryLeaser is an in-process Leaser with the same token-fenced
// semantics as the Redis implementation. Expired leases are treated as
// absent, so tests can exercise lease-timeout recovery by advancing the
// injected clock.
type MemoryLeaser struct {
	mu     sync.Mutex
	leases map[string]memoryLease
	now    func() time.Time
}

// NewMemoryLeaser creates an empty leaser using the wall clock.
func NewMemoryLeaser() *MemoryLeaser {
	return &MemoryLeaser{leases: make(map[string]memoryLease), now: time.Now}
}

// SetClock replaces the time source. Test hook.
func (l *MemoryLeaser) SetClock(now func() time.Time) { l.now = now }

// Acquire claims the ticket id for ttl.
func (l *MemoryLeaser) Acquire(_ context.Context, ticketID string, ttl time.Duration) (string, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if cur, ok := l.leases[ticketID]; ok && cur.expires.After(l.now()) {
		return "", false, nil
	}
	token := uuid.NewString()
	l.leases[ticketID] = memoryLease{token: token, expires: l.now().Add(ttl)}
	return token, true, nil
}

// Release drops the lease if token still owns it.
func (l *MemoryLeaser) Release(_ context.Context, ticketID, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if cur, ok := l.leases[ticketID]; ok && cur.token == token {
		delete(l.leases, ticketID)
	}
	return nil
}

// Extend pushes the expiry out if token still owns the lease.
func (l *MemoryLeaser) Extend(_ context.Context, ticketID, token string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	cur, ok := l.leases[ticketID]
	if !ok || cur.token != token || !cur.expires.After(l.now()) {
		return false, nil
	}
	cur.expires = l.now().Add(ttl)
	l.leases[ticketID] = cur
	return true, nil
}

// Held reports whether an unexpired lease exists for the ticket id.
func (l *MemoryLeaser) Held(_ context.Context, ticketID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	cur, ok := l.leases[ticketID]
	return ok && cur.expires.After(l.now()), nil
}

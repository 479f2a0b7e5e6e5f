package lease

import (
	"context"
	"time"
)

// Leaser grants time-bounded exclusivity claims on ticket ids. Acquire
// is first-writer-wins: a second acquire for a held id reports ok=false
// without error, which the engine treats as a duplicate-delivery no-op.
// Tokens fence release and extend so an expired holder cannot clobber a
// successor's lease.
type Leaser interface {
	Acquire(ctx context.Context, ticketID string, ttl time.Duration) (token string, ok bool, err error)
	Release(ctx context.Context, ticketID, token string) error
	Extend(ctx context.Context, ticketID, token string, ttl time.Duration) (bool, error)
	Held(ctx context.Context, ticketID string) (bool, error)
}

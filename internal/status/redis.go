package status

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/spec-kit/support-orchestrator/internal/domain"
)

const (
	statusPrefix = "status:"
	cancelPrefix = "wf:cancel:"
)

// RedisStore keeps status records as hashes under status:{ticket_id}
// with fields stage, progress and updated_at, expiring after ttl so
// stale tickets age out of the poll surface.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore constructs a store.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &RedisStore{client: client, ttl: ttl}
}

// Set writes the record and refreshes its TTL.
func (s *RedisStore) Set(ctx context.Context, rec Record) error {
	key := statusPrefix + rec.TicketID
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, map[string]interface{}{
		"stage":      string(rec.Stage),
		"progress":   strconv.Itoa(rec.Progress),
		"updated_at": strconv.FormatInt(rec.UpdatedAt.Unix(), 10),
	})
	pipe.Expire(ctx, key, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("set status %s: %w", rec.TicketID, err)
	}
	return nil
}

// Get reads the record for a ticket.
func (s *RedisStore) Get(ctx context.Context, ticketID string) (*Record, error) {
	fields, err := s.client.HGetAll(ctx, statusPrefix+ticketID).Result()
	if err != nil {
		return nil, fmt.Errorf("get status %s: %w", ticketID, err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}
	progress, _ := strconv.Atoi(fields["progress"])
	updated, _ := strconv.ParseInt(fields["updated_at"], 10, 64)
	return &Record{
		TicketID:  ticketID,
		Stage:     domain.Stage(fields["stage"]),
		Progress:  progress,
		UpdatedAt: time.Unix(updated, 0).UTC(),
	}, nil
}

// RedisCancelRegistry stores cancellation requests as flag keys with a
// TTL; a request for an already finished ticket simply expires unused.
type RedisCancelRegistry struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCancelRegistry constructs a registry.
func NewRedisCancelRegistry(client *redis.Client, ttl time.Duration) *RedisCancelRegistry {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &RedisCancelRegistry{client: client, ttl: ttl}
}

// RequestCancel flags the ticket for cancellation.
func (r *RedisCancelRegistry) RequestCancel(ctx context.Context, ticketID string) error {
	if err := r.client.Set(ctx, cancelPrefix+ticketID, "1", r.ttl).Err(); err != nil {
		return fmt.Errorf("request cancel %s: %w", ticketID, err)
	}
	return nil
}

// Cancelled reports whether cancellation was requested for the ticket.
func (r *RedisCancelRegistry) Cancelled(ctx context.Context, ticketID string) (bool, error) {
	n, err := r.client.Exists(ctx, cancelPrefix+ticketID).Result()
	if err != nil {
		return false, fmt.Errorf("check cancel %s: %w", ticketID, err)
	}
	return n > 0, nil
}

package lease

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "wf:lease:"

var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

var extendScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0
`)

// RedisLeaser implements Leaser with SET NX PX plus token-guarded
// release and extend. Expiry is enforced by Redis itself, so a crashed
// worker's lease disappears without cleanup.
type RedisLeaser struct {
	client *redis.Client
}

// NewRedisLeaser constructs a leaser.
func NewRedisLeaser(client *redis.Client) *RedisLeaser {
	return &RedisLeaser{client: client}
}

// Acquire claims the ticket id for ttl. ok=false means another worker
// holds it.
func (l *RedisLeaser) Acquire(ctx context.Context, ticketID string, ttl time.Duration) (string, bool, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, keyPrefix+ticketID, token, ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("acquire lease %s: %w", ticketID, err)
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

// Release drops the lease if token still owns it.
func (l *RedisLeaser) Release(ctx context.Context, ticketID, token string) error {
	if err := releaseScript.Run(ctx, l.client, []string{keyPrefix + ticketID}, token).Err(); err != nil {
		return fmt.Errorf("release lease %s: %w", ticketID, err)
	}
	return nil
}

// Extend pushes the expiry out if token still owns the lease.
func (l *RedisLeaser) Extend(ctx context.Context, ticketID, token string, ttl time.Duration) (bool, error) {
	res, err := extendScript.Run(ctx, l.client, []string{keyPrefix + ticketID}, token, ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("extend lease %s: %w", ticketID, err)
	}
	return res == 1, nil
}

// Held reports whether any worker currently holds the ticket id.
func (l *RedisLeaser) Held(ctx context.Context, ticketID string) (bool, error) {
	n, err := l.client.Exists(ctx, keyPrefix+ticketID).Result()
	if err != nil {
		return false, fmt.Errorf("check lease %s: %w", ticketID, err)
	}
	return n > 0, nil
}

package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "wf:state:"

// putScript commits a snapshot only when the stored version is exactly
// one behind the incoming one (or the key is absent and the incoming
// version is 1). Returns 1 on commit, 0 on conflict.
var putScript = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
local ver = tonumber(ARGV[2])
if cur then
  local stored = cjson.decode(cur)
  if tonumber(stored['version']) ~= ver - 1 then
    return 0
  end
elseif ver ~= 1 then
  return 0
end
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[3])
return 1
`)

// RedisStore keeps snapshots as JSON values under wf:state:{ticket_id}
// with a TTL, mirroring the status records.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore constructs a store. ttl bounds how long an abandoned
// checkpoint lingers; it must comfortably exceed the recovery sweep
// interval.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &RedisStore{client: client, ttl: ttl}
}

// Put commits the snapshot with optimistic concurrency on the version.
func (s *RedisStore) Put(ctx context.Context, snap Snapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal checkpoint %s: %w", snap.TicketID, err)
	}
	res, err := putScript.Run(ctx, s.client,
		[]string{keyPrefix + snap.TicketID},
		payload, snap.Version, s.ttl.Milliseconds(),
	).Int()
	if err != nil {
		return fmt.Errorf("put checkpoint %s: %w", snap.TicketID, err)
	}
	if res == 0 {
		return ErrVersionConflict
	}
	return nil
}

// Get loads the latest snapshot for the ticket.
func (s *RedisStore) Get(ctx context.Context, ticketID string) (*Snapshot, error) {
	raw, err := s.client.Get(ctx, keyPrefix+ticketID).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get checkpoint %s: %w", ticketID, err)
	}
	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("decode checkpoint %s: %w", ticketID, err)
	}
	return &snap, nil
}

// Delete removes the snapshot. Deleting an absent key is not an error.
func (s *RedisStore) Delete(ctx context.Context, ticketID string) error {
	if err := s.client.Del(ctx, keyPrefix+ticketID).Err(); err != nil {
		return fmt.Errorf("delete checkpoint %s: %w", ticketID, err)
	}
	return nil
}

// PendingIDs scans for tickets with an unfinished execution.
func (s *RedisStore) PendingIDs(ctx context.Context) ([]string, error) {
	var (
		ids    []string
		cursor uint64
	)
	for {
		keys, next, err := s.client.Scan(ctx, cursor, keyPrefix+"*", 100).Result()
		if err != nil {
			return nil, fmt.Errorf("scan checkpoints: %w", err)
		}
		for _, key := range keys {
			ids = append(ids, strings.TrimPrefix(key, keyPrefix))
		}
		cursor = next
		if cursor == 0 {
			return ids, nil
		}
	}
}

package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const payloadField = "payload"

// blockInterval bounds how long a single XREADGROUP call blocks so the
// reader notices context cancellation promptly.
const blockInterval = 5 * time.Second

// claimMinIdle is how long a pending entry must sit unacked before
// another consumer may claim it.
const claimMinIdle = time.Minute

// StreamConfig names the Redis streams and the consumer group identity.
type StreamConfig struct {
	Submissions string
	Results     string
	DeadLetter  string
	Group       string
	Consumer    string
}

// StreamSource reads submissions from a Redis stream through a consumer
// group. Undecodable entries are forwarded to the dead-letter stream and
// acked so they cannot wedge the group.
type StreamSource struct {
	client *redis.Client
	cfg    StreamConfig
	logger *zap.Logger
}

// NewStreamSource creates the consumer group if needed and returns a
// source bound to it.
func NewStreamSource(ctx context.Context, client *redis.Client, cfg StreamConfig, logger *zap.Logger) (*StreamSource, error) {
	err := client.XGroupCreateMkStream(ctx, cfg.Submissions, cfg.Group, "0").Err()
	if err != nil && !isBusyGroup(err) {
		return nil, fmt.Errorf("create consumer group %s: %w", cfg.Group, err)
	}
	return &StreamSource{client: client, cfg: cfg, logger: logger}, nil
}

func isBusyGroup(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), "BUSYGROUP")
}

// Receive blocks until a submission is available. Entries left pending
// by a crashed consumer are claimed before new entries are read.
func (s *StreamSource) Receive(ctx context.Context) (*Delivery, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		msg, ok, err := s.claimStale(ctx)
		if err != nil {
			return nil, err
		}
		if !ok {
			msg, ok, err = s.readNew(ctx)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
		}

		sub, decodeErr := decodeSubmission(msg)
		if decodeErr != nil {
			s.deadLetter(ctx, msg, decodeErr)
			_ = s.ack(ctx, msg.ID)
			continue
		}
		id := msg.ID
		return &Delivery{
			ID:         id,
			Submission: sub,
			Ack:        func(ctx context.Context) error { return s.ack(ctx, id) },
		}, nil
	}
}

func (s *StreamSource) claimStale(ctx context.Context) (redis.XMessage, bool, error) {
	msgs, _, err := s.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   s.cfg.Submissions,
		Group:    s.cfg.Group,
		Consumer: s.cfg.Consumer,
		MinIdle:  claimMinIdle,
		Start:    "0-0",
		Count:    1,
	}).Result()
	if err != nil {
		return redis.XMessage{}, false, fmt.Errorf("autoclaim %s: %w", s.cfg.Submissions, err)
	}
	if len(msgs) == 0 {
		return redis.XMessage{}, false, nil
	}
	return msgs[0], true, nil
}

func (s *StreamSource) readNew(ctx context.Context) (redis.XMessage, bool, error) {
	streams, err := s.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    s.cfg.Group,
		Consumer: s.cfg.Consumer,
		Streams:  []string{s.cfg.Submissions, ">"},
		Count:    1,
		Block:    blockInterval,
	}).Result()
	if err == redis.Nil {
		return redis.XMessage{}, false, nil
	}
	if err != nil {
		if ctx.Err() != nil {
			return redis.XMessage{}, false, ctx.Err()
		}
		return redis.XMessage{}, false, fmt.Errorf("read %s: %w", s.cfg.Submissions, err)
	}
	for _, stream := range streams {
		if len(stream.Messages) > 0 {
			return stream.Messages[0], true, nil
		}
	}
	return redis.XMessage{}, false, nil
}

func (s *StreamSource) ack(ctx context.Context, id string) error {
	if err := s.client.XAck(ctx, s.cfg.Submissions, s.cfg.Group, id).Err(); err != nil {
		return fmt.Errorf("ack %s: %w", id, err)
	}
	return nil
}

func (s *StreamSource) deadLetter(ctx context.Context, msg redis.XMessage, cause error) {
	s.logger.Warn("dead-lettering undecodable submission",
		zap.String("id", msg.ID), zap.Error(cause))
	err := s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.cfg.DeadLetter,
		Values: map[string]interface{}{
			"origin": s.cfg.Submissions,
			"id":     msg.ID,
			"error":  cause.Error(),
		},
	}).Err()
	if err != nil {
		s.logger.Error("dead-letter write failed", zap.String("id", msg.ID), zap.Error(err))
	}
}

func decodeSubmission(msg redis.XMessage) (Submission, error) {
	raw, ok := msg.Values[payloadField].(string)
	if !ok {
		return Submission{}, fmt.Errorf("entry %s has no %s field", msg.ID, payloadField)
	}
	var sub Submission
	if err := json.Unmarshal([]byte(raw), &sub); err != nil {
		return Submission{}, fmt.Errorf("decode submission %s: %w", msg.ID, err)
	}
	if sub.TicketID == "" {
		return Submission{}, fmt.Errorf("entry %s missing ticket_id", msg.ID)
	}
	return sub, nil
}

// StreamSubmitter enqueues submissions onto the ticket stream.
type StreamSubmitter struct {
	client *redis.Client
	stream string
}

// NewStreamSubmitter constructs a submitter for the given stream.
func NewStreamSubmitter(client *redis.Client, stream string) *StreamSubmitter {
	return &StreamSubmitter{client: client, stream: stream}
}

// Submit appends the submission to the stream.
func (s *StreamSubmitter) Submit(ctx context.Context, sub Submission) error {
	payload, err := json.Marshal(sub)
	if err != nil {
		return fmt.Errorf("marshal submission %s: %w", sub.TicketID, err)
	}
	err = s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		Values: map[string]interface{}{payloadField: payload},
	}).Err()
	if err != nil {
		return fmt.Errorf("submit %s: %w", sub.TicketID, err)
	}
	return nil
}

// StreamPublisher appends terminal outcomes to the results stream.
type StreamPublisher struct {
	client *redis.Client
	stream string
}

// NewStreamPublisher constructs a publisher for the given stream.
func NewStreamPublisher(client *redis.Client, stream string) *StreamPublisher {
	return &StreamPublisher{client: client, stream: stream}
}

// Publish appends the outcome. Downstream consumers deduplicate on
// (ticket_id, version).
func (p *StreamPublisher) Publish(ctx context.Context, out Outcome) error {
	payload, err := json.Marshal(out)
	if err != nil {
		return fmt.Errorf("marshal outcome %s: %w", out.TicketID, err)
	}
	err = p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		Values: map[string]interface{}{payloadField: payload},
	}).Err()
	if err != nil {
		return fmt.Errorf("publish outcome %s: %w", out.TicketID, err)
	}
	return nil
}

// StreamOutcomeSource reads outcomes from the results stream through its
// own consumer group, feeding the long-term result writer.
type StreamOutcomeSource struct {
	client *redis.Client
	cfg    StreamConfig
}

// NewStreamOutcomeSource creates the consumer group if needed.
func NewStreamOutcomeSource(ctx context.Context, client *redis.Client, cfg StreamConfig) (*StreamOutcomeSource, error) {
	err := client.XGroupCreateMkStream(ctx, cfg.Results, cfg.Group, "0").Err()
	if err != nil && !isBusyGroup(err) {
		return nil, fmt.Errorf("create consumer group %s: %w", cfg.Group, err)
	}
	return &StreamOutcomeSource{client: client, cfg: cfg}, nil
}

// ReceiveOutcome blocks until an outcome is available.
func (s *StreamOutcomeSource) ReceiveOutcome(ctx context.Context) (*OutcomeDelivery, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		streams, err := s.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    s.cfg.Group,
			Consumer: s.cfg.Consumer,
			Streams:  []string{s.cfg.Results, ">"},
			Count:    1,
			Block:    blockInterval,
		}).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("read %s: %w", s.cfg.Results, err)
		}
		for _, stream := range streams {
			for _, msg := range stream.Messages {
				raw, _ := msg.Values[payloadField].(string)
				var out Outcome
				if err := json.Unmarshal([]byte(raw), &out); err != nil {
					_ = s.client.XAck(ctx, s.cfg.Results, s.cfg.Group, msg.ID).Err()
					continue
				}
				id := msg.ID
				return &OutcomeDelivery{
					ID:      id,
					Outcome: out,
					Ack: func(ctx context.Context) error {
						return s.client.XAck(ctx, s.cfg.Results, s.cfg.Group, id).Err()
					},
				}, nil
			}
		}
	}
}

package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	trainingmodel "github.com/myriadstar/trainer/internal/model/training"
)

const (
	minPollInterval         = time.Millisecond
	defaultDeliveryDeadline = 5 * time.Minute
	busyGroupErrCode        = "BUSYGROUP"
)

// StreamConfig is the configuration for a job stream.
type StreamConfig struct {
	// Key is the Redis key of the stream.
	Key string

	// DeliveryDeadline is how long an entry may stay unacknowledged before it is handed to another consumer.
	DeliveryDeadline time.Duration

	// PollInterval bounds how long Read blocks waiting for new entries.
	PollInterval time.Duration
}

// Stream is an append-only job log backed by a Redis stream and its consumer groups.
type Stream struct {
	client redis.Cmdable
	cfg    *StreamConfig
}

// NewStream creates a job stream on top of client.
// A non-positive delivery deadline falls back to five minutes.
func NewStream(client redis.Cmdable, cfg *StreamConfig) *Stream {
	if cfg.PollInterval < minPollInterval {
		cfg.PollInterval = minPollInterval
	}
	// Without a positive idle time every pending entry would be reclaimed, including ones in flight.
	if cfg.DeliveryDeadline <= 0 {
		cfg.DeliveryDeadline = defaultDeliveryDeadline
	}

	return &Stream{
		client: client,
		cfg:    cfg,
	}
}

// Stream returns a job stream backed by the store's client.
func (s *Store) Stream(cfg *StreamConfig) *Stream {
	return NewStream(s.client, cfg)
}

// Key returns the stream key.
func (s *Stream) Key() string {
	return s.cfg.Key
}

// EnsureGroup creates the consumer group, and the stream if needed.
// An already existing group is not an error.
func (s *Stream) EnsureGroup(ctx context.Context, group string) error {
	err := s.client.XGroupCreateMkStream(ctx, s.cfg.Key, group, "0").Err()
	if err == nil || strings.HasPrefix(err.Error(), busyGroupErrCode) {
		return nil
	}

	return unavailable("xgroup create", err)
}

// Append durably adds payload to the stream and returns its position.
func (s *Stream) Append(ctx context.Context, payload []byte) (string, error) {
	position, err := s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.cfg.Key,
		Values: []string{trainingmodel.PayloadField, string(payload)},
	}).Result()
	if err != nil {
		return "", unavailable("xadd", err)
	}

	return position, nil
}

// Read returns up to count entries for the consumer.
// Entries left unacknowledged by any consumer of the group for longer than the
// delivery deadline are reclaimed first; otherwise new entries are awaited for at
// most one poll interval. An empty batch is not an error.
func (s *Stream) Read(ctx context.Context, group, consumer string, count int64) ([]*trainingmodel.JobRecord, error) {
	records, err := s.reclaim(ctx, group, consumer, count)
	if err != nil {
		return nil, err
	}

	if len(records) > 0 {
		return records, nil
	}

	streams, err := s.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{s.cfg.Key, ">"},
		Count:    count,
		Block:    s.cfg.PollInterval,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, unavailable("xreadgroup", err)
	}

	for _, stream := range streams {
		for _, message := range stream.Messages {
			records = append(records, toRecord(message, 1))
		}
	}

	return records, nil
}

// reclaim claims entries whose delivery deadline has elapsed.
func (s *Stream) reclaim(ctx context.Context, group, consumer string, count int64) ([]*trainingmodel.JobRecord, error) {
	pending, err := s.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: s.cfg.Key,
		Group:  group,
		Idle:   s.cfg.DeliveryDeadline,
		Start:  "-",
		End:    "+",
		Count:  count,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, unavailable("xpending", err)
	}

	if len(pending) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(pending))
	deliveries := make(map[string]int64, len(pending))
	for _, p := range pending {
		ids = append(ids, p.ID)
		deliveries[p.ID] = p.RetryCount
	}

	// XCLAIM re-checks the idle time, so an entry acknowledged or claimed meanwhile is skipped.
	messages, err := s.client.XClaim(ctx, &redis.XClaimArgs{
		Stream:   s.cfg.Key,
		Group:    group,
		Consumer: consumer,
		MinIdle:  s.cfg.DeliveryDeadline,
		Messages: ids,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, unavailable("xclaim", err)
	}

	records := make([]*trainingmodel.JobRecord, 0, len(messages))
	for _, message := range messages {
		records = append(records, toRecord(message, deliveries[message.ID]+1))
	}

	return records, nil
}

// Ack marks the entry at position as processed for the group. Acking twice is a no-op.
func (s *Stream) Ack(ctx context.Context, group, position string) error {
	if err := s.client.XAck(ctx, s.cfg.Key, group, position).Err(); err != nil {
		return unavailable("xack", err)
	}

	return nil
}

func toRecord(message redis.XMessage, deliveries int64) *trainingmodel.JobRecord {
	record := &trainingmodel.JobRecord{
		Position:   message.ID,
		Deliveries: deliveries,
	}

	if value, ok := message.Values[trainingmodel.PayloadField].(string); ok {
		record.Payload = []byte(value)
	}

	return record
}

// unavailable wraps backend failures, leaving context cancellation untouched.
func unavailable(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	return fmt.Errorf("%w: %s: %v", trainingmodel.ErrStreamUnavailable, op, err)
}

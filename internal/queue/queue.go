// Package queue implements the durable settlement queue on Redis: a ready
// list, a delayed sorted set keyed by ready-at time, and a processing list
// so entries survive a crashed consumer. Delivery is at-least-once.
package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Queue is a named Redis-backed work queue.
type Queue struct {
	client redis.Cmdable
	name   string
}

func New(client redis.Cmdable, name string) *Queue {
	return &Queue{client: client, name: name}
}

func (q *Queue) readyKey() string      { return q.name + ":ready" }
func (q *Queue) delayedKey() string    { return q.name + ":delayed" }
func (q *Queue) processingKey() string { return q.name + ":processing" }

// Enqueue makes the job immediately available to consumers.
func (q *Queue) Enqueue(ctx context.Context, job Job) error {
	raw, err := job.encode()
	if err != nil {
		return err
	}
	if err := q.client.LPush(ctx, q.readyKey(), raw).Err(); err != nil {
		return fmt.Errorf("enqueue job %s: %w", job.ID, err)
	}
	return nil
}

// EnqueueIn schedules the job to become available after delay.
func (q *Queue) EnqueueIn(ctx context.Context, job Job, delay time.Duration) error {
	raw, err := job.encode()
	if err != nil {
		return err
	}
	readyAt := float64(time.Now().Add(delay).UnixMilli())
	if err := q.client.ZAdd(ctx, q.delayedKey(), redis.Z{Score: readyAt, Member: raw}).Err(); err != nil {
		return fmt.Errorf("schedule job %s: %w", job.ID, err)
	}
	return nil
}

// Dequeue blocks up to timeout for the next ready job, moving it onto the
// processing list. Returns nil when the timeout elapses with no work.
func (q *Queue) Dequeue(ctx context.Context, timeout time.Duration) (*Job, string, error) {
	raw, err := q.client.BLMove(ctx, q.readyKey(), q.processingKey(), "RIGHT", "LEFT", timeout).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, "", nil
		}
		return nil, "", fmt.Errorf("dequeue: %w", err)
	}
	job, err := decodeJob(raw)
	if err != nil {
		// Malformed payloads are dropped rather than poisoning the consumer.
		_ = q.client.LRem(ctx, q.processingKey(), 1, raw).Err()
		return nil, "", err
	}
	return &job, raw, nil
}

// Ack removes a delivered payload from the processing list.
func (q *Queue) Ack(ctx context.Context, raw string) error {
	if err := q.client.LRem(ctx, q.processingKey(), 1, raw).Err(); err != nil {
		return fmt.Errorf("ack: %w", err)
	}
	return nil
}

// PromoteDue moves delayed jobs whose ready-at time has passed onto the
// ready list. Returns the number of promoted jobs.
func (q *Queue) PromoteDue(ctx context.Context) (int, error) {
	now := strconv.FormatInt(time.Now().UnixMilli(), 10)
	due, err := q.client.ZRangeByScore(ctx, q.delayedKey(), &redis.ZRangeBy{Min: "-inf", Max: now}).Result()
	if err != nil {
		return 0, fmt.Errorf("promote due: %w", err)
	}
	promoted := 0
	for _, raw := range due {
		removed, err := q.client.ZRem(ctx, q.delayedKey(), raw).Result()
		if err != nil {
			return promoted, fmt.Errorf("promote due: zrem: %w", err)
		}
		if removed == 0 {
			// Another promoter claimed it first.
			continue
		}
		if err := q.client.LPush(ctx, q.readyKey(), raw).Err(); err != nil {
			return promoted, fmt.Errorf("promote due: lpush: %w", err)
		}
		promoted++
	}
	return promoted, nil
}

// RecoverProcessing returns entries stranded on the processing list by a
// crashed consumer to the ready list. Call once at startup, before
// consumers run.
func (q *Queue) RecoverProcessing(ctx context.Context) (int, error) {
	recovered := 0
	for {
		raw, err := q.client.LMove(ctx, q.processingKey(), q.readyKey(), "RIGHT", "LEFT").Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return recovered, nil
			}
			return recovered, fmt.Errorf("recover processing: %w", err)
		}
		_ = raw
		recovered++
	}
}

// Depth reports ready + delayed entry counts for observability.
func (q *Queue) Depth(ctx context.Context) (int64, error) {
	ready, err := q.client.LLen(ctx, q.readyKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("queue depth: %w", err)
	}
	delayed, err := q.client.ZCard(ctx, q.delayedKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("queue depth: %w", err)
	}
	return ready + delayed, nil
}

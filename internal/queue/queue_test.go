package queue

import (
	"context"
	"errors"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func setupTestQueue(t *testing.T) *Queue {
	t.Helper()

	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("Skipping integration test: REDIS_URL not set")
	}
	opt, err := redis.ParseURL(url)
	require.NoError(t, err)
	client := redis.NewClient(opt)
	t.Cleanup(func() { client.Close() })

	name := "settlement-test-" + uuid.NewString()[:8]
	q := New(client, name)
	t.Cleanup(func() {
		client.Del(context.Background(), q.readyKey(), q.delayedKey(), q.processingKey())
	})
	return q
}

func TestQueueEnqueueDequeueAck(t *testing.T) {
	q := setupTestQueue(t)
	ctx := context.Background()

	job := NewJob(uuid.New(), "deposit")
	require.NoError(t, q.Enqueue(ctx, job))

	got, raw, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, job.TransactionID, got.TransactionID)

	require.NoError(t, q.Ack(ctx, raw))

	depth, err := q.Depth(ctx)
	require.NoError(t, err)
	require.Zero(t, depth)
}

func TestQueueDequeueTimesOutEmpty(t *testing.T) {
	q := setupTestQueue(t)

	got, _, err := q.Dequeue(context.Background(), 100*time.Millisecond)
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestQueueDelayedPromotion(t *testing.T) {
	q := setupTestQueue(t)
	ctx := context.Background()

	job := NewJob(uuid.New(), "payout")
	require.NoError(t, q.EnqueueIn(ctx, job, 100*time.Millisecond))

	promoted, err := q.PromoteDue(ctx)
	require.NoError(t, err)
	require.Zero(t, promoted, "job must not be promoted before its ready-at time")

	time.Sleep(150 * time.Millisecond)
	promoted, err = q.PromoteDue(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, promoted)

	got, raw, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.NoError(t, q.Ack(ctx, raw))
}

func TestQueueRecoverProcessing(t *testing.T) {
	q := setupTestQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, NewJob(uuid.New(), "deposit")))
	// Simulate a consumer that dequeued and crashed before acking.
	_, _, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)

	recovered, err := q.RecoverProcessing(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, recovered)

	got, raw, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.NoError(t, q.Ack(ctx, raw))
}

func TestConsumerRetriesThenDeadLetters(t *testing.T) {
	q := setupTestQueue(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var attempts int32
	var deadCause error
	deadCh := make(chan Job, 1)

	handler := func(ctx context.Context, job Job) error {
		atomic.AddInt32(&attempts, 1)
		return errors.New("handler always fails")
	}
	dead := func(ctx context.Context, job Job, cause error) {
		deadCause = cause
		deadCh <- job
	}

	consumer := NewConsumer(q, handler, dead).
		WithConcurrency(2).
		WithMaxAttempts(3).
		WithRetryBackoff(50 * time.Millisecond)
	stop := consumer.Run(ctx)
	defer stop()

	job := NewJob(uuid.New(), "payout")
	require.NoError(t, q.Enqueue(ctx, job))

	select {
	case deadJob := <-deadCh:
		require.Equal(t, job.TransactionID, deadJob.TransactionID)
		require.Equal(t, int32(3), atomic.LoadInt32(&attempts))
		require.Error(t, deadCause)
	case <-time.After(10 * time.Second):
		t.Fatal("dead handler was not invoked")
	}
}

func TestConsumerSuccessfulJobAckedOnce(t *testing.T) {
	q := setupTestQueue(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	handled := make(chan Job, 1)
	consumer := NewConsumer(q, func(ctx context.Context, job Job) error {
		handled <- job
		return nil
	}, func(ctx context.Context, job Job, cause error) {
		t.Errorf("dead handler must not run for successful jobs")
	}).WithConcurrency(1)
	stop := consumer.Run(ctx)
	defer stop()

	require.NoError(t, q.Enqueue(ctx, NewJob(uuid.New(), "deposit")))

	select {
	case <-handled:
	case <-time.After(5 * time.Second):
		t.Fatal("job was not handled")
	}

	require.Eventually(t, func() bool {
		depth, err := q.Depth(context.Background())
		return err == nil && depth == 0
	}, 5*time.Second, 100*time.Millisecond)
}

package queue

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// HandlerFunc processes one delivered job. A nil return acknowledges the
// job; an error triggers a delayed retry until attempts are exhausted.
type HandlerFunc func(ctx context.Context, job Job) error

// DeadFunc is invoked once per job after its final failed attempt.
type DeadFunc func(ctx context.Context, job Job, cause error)

// Consumer drains a Queue with a bounded pool of workers and per-job
// retry/backoff semantics.
type Consumer struct {
	queue        *Queue
	handler      HandlerFunc
	dead         DeadFunc
	concurrency  int
	maxAttempts  int
	retryInitial time.Duration
	pollTimeout  time.Duration
	stopCh       chan struct{}
	stopOnce     sync.Once
	wg           sync.WaitGroup
}

// NewConsumer builds a consumer. maxAttempts counts deliveries, so 3 means
// one initial attempt plus two retries.
func NewConsumer(q *Queue, handler HandlerFunc, dead DeadFunc) *Consumer {
	return &Consumer{
		queue:        q,
		handler:      handler,
		dead:         dead,
		concurrency:  5,
		maxAttempts:  3,
		retryInitial: time.Second,
		pollTimeout:  2 * time.Second,
		stopCh:       make(chan struct{}),
	}
}

// WithConcurrency sets the worker pool size.
func (c *Consumer) WithConcurrency(n int) *Consumer {
	if n > 0 {
		c.concurrency = n
	}
	return c
}

// WithMaxAttempts sets the delivery attempt budget per job.
func (c *Consumer) WithMaxAttempts(n int) *Consumer {
	if n > 0 {
		c.maxAttempts = n
	}
	return c
}

// WithRetryBackoff sets the initial retry delay; subsequent retries back off
// exponentially from it.
func (c *Consumer) WithRetryBackoff(initial time.Duration) *Consumer {
	if initial > 0 {
		c.retryInitial = initial
	}
	return c
}

// Start launches the promoter and worker goroutines. It does not block.
func (c *Consumer) Start(ctx context.Context) {
	zap.L().Info("settlement consumer starting",
		zap.Int("concurrency", c.concurrency),
		zap.Int("max_attempts", c.maxAttempts),
		zap.Duration("retry_initial", c.retryInitial),
	)

	if n, err := c.queue.RecoverProcessing(ctx); err != nil {
		zap.L().Error("failed to recover processing entries", zap.Error(err))
	} else if n > 0 {
		zap.L().Warn("recovered stranded queue entries", zap.Int("count", n))
	}

	c.wg.Add(1)
	go c.promoteLoop(ctx)

	for i := 0; i < c.concurrency; i++ {
		c.wg.Add(1)
		go c.workLoop(ctx)
	}
}

// Stop signals all goroutines and waits for in-flight jobs to finish.
func (c *Consumer) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
	})
	c.wg.Wait()
}

// Run starts the consumer and returns a stop function.
func (c *Consumer) Run(ctx context.Context) func() {
	c.Start(ctx)
	return c.Stop
}

func (c *Consumer) promoteLoop(ctx context.Context) {
	defer c.wg.Done()
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case <-ticker.C:
			if _, err := c.queue.PromoteDue(ctx); err != nil && ctx.Err() == nil {
				zap.L().Error("promote due jobs failed", zap.Error(err))
			}
		}
	}
}

func (c *Consumer) workLoop(ctx context.Context) {
	defer c.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		default:
		}

		job, raw, err := c.queue.Dequeue(ctx, c.pollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			zap.L().Error("dequeue failed", zap.Error(err))
			continue
		}
		if job == nil {
			continue
		}
		c.dispatch(ctx, *job, raw)
	}
}

func (c *Consumer) dispatch(ctx context.Context, job Job, raw string) {
	err := c.handler(ctx, job)
	if err == nil {
		if ackErr := c.queue.Ack(ctx, raw); ackErr != nil {
			zap.L().Error("ack failed", zap.Error(ackErr), zap.String("job_id", job.ID))
		}
		return
	}
	if ctx.Err() != nil {
		// Shutdown mid-job: leave the entry on the processing list so
		// RecoverProcessing redelivers it on the next start.
		return
	}

	attempt := job.Attempt + 1
	if attempt >= c.maxAttempts {
		zap.L().Warn("job attempts exhausted",
			zap.String("job_id", job.ID),
			zap.String("transaction_id", job.TransactionID.String()),
			zap.Int("attempts", attempt),
			zap.Error(err),
		)
		c.dead(ctx, job, err)
		if ackErr := c.queue.Ack(ctx, raw); ackErr != nil {
			zap.L().Error("ack failed after dead handler", zap.Error(ackErr), zap.String("job_id", job.ID))
		}
		return
	}

	retry := job
	retry.Attempt = attempt
	delay := c.retryDelay(attempt)
	zap.L().Warn("job failed, scheduling retry",
		zap.String("job_id", job.ID),
		zap.Int("attempt", attempt),
		zap.Duration("delay", delay),
		zap.Error(err),
	)
	if enqErr := c.queue.EnqueueIn(ctx, retry, delay); enqErr != nil {
		zap.L().Error("retry enqueue failed", zap.Error(enqErr), zap.String("job_id", job.ID))
		return
	}
	if ackErr := c.queue.Ack(ctx, raw); ackErr != nil {
		zap.L().Error("ack failed after retry enqueue", zap.Error(ackErr), zap.String("job_id", job.ID))
	}
}

// retryDelay derives the delay before the given attempt from an exponential
// backoff schedule seeded with the configured initial interval.
func (c *Consumer) retryDelay(attempt int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.retryInitial
	b.RandomizationFactor = 0
	b.Multiplier = 2
	b.MaxInterval = 5 * time.Minute
	b.MaxElapsedTime = 0

	delay := b.NextBackOff()
	for i := 1; i < attempt; i++ {
		delay = b.NextBackOff()
	}
	return delay
}

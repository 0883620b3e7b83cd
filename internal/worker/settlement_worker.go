package worker

import (
	"context"
	"time"

	"github.com/ayo6706/wallet-settlement/internal/observability"
	"github.com/ayo6706/wallet-settlement/internal/queue"
	"github.com/ayo6706/wallet-settlement/internal/service"
	"go.uber.org/zap"
)

// SettlementWorker wires the settlement service onto the queue consumer and
// periodically samples queue depth for observability.
type SettlementWorker struct {
	consumer      *queue.Consumer
	queue         *queue.Queue
	depthInterval time.Duration
	depthStop     func()
}

// NewSettlementWorker builds a worker draining q with the settlement
// service's handler and dead-letter compensation.
func NewSettlementWorker(q *queue.Queue, settlement *service.SettlementService, concurrency, maxAttempts int, retryInitial time.Duration) *SettlementWorker {
	consumer := queue.NewConsumer(q, wrapHandler(settlement), settlement.HandleDead).
		WithConcurrency(concurrency).
		WithMaxAttempts(maxAttempts).
		WithRetryBackoff(retryInitial)
	return &SettlementWorker{
		consumer:      consumer,
		queue:         q,
		depthInterval: 15 * time.Second,
	}
}

func wrapHandler(settlement *service.SettlementService) queue.HandlerFunc {
	return func(ctx context.Context, job queue.Job) error {
		err := settlement.Handle(ctx, job)
		if err != nil {
			observability.IncrementWorkerRun("settlement", "failed")
			return err
		}
		observability.IncrementWorkerRun("settlement", "success")
		return nil
	}
}

// Run starts the consumer and the depth sampler, returning a stop function.
func (w *SettlementWorker) Run(ctx context.Context) func() {
	stopConsumer := w.consumer.Run(ctx)

	depthCtx, cancel := context.WithCancel(ctx)
	w.depthStop = cancel
	go w.sampleDepth(depthCtx)

	return func() {
		cancel()
		stopConsumer()
	}
}

func (w *SettlementWorker) sampleDepth(ctx context.Context) {
	ticker := time.NewTicker(w.depthInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			depth, err := w.queue.Depth(ctx)
			if err != nil {
				if ctx.Err() == nil {
					zap.L().Warn("queue depth sample failed", zap.Error(err))
				}
				continue
			}
			observability.SetQueueDepth(depth)
		}
	}
}

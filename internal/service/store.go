package service

import (
	"context"
	"time"

	"github.com/ayo6706/wallet-settlement/internal/queue"
	"github.com/ayo6706/wallet-settlement/internal/repository"
)

// QueryStore defines the minimal data access contract required by services.
type QueryStore interface {
	Queries() *repository.Queries
	RunInTx(ctx context.Context, fn func(q *repository.Queries) error) error
}

// Enqueuer is the settlement queue surface the services depend on.
type Enqueuer interface {
	Enqueue(ctx context.Context, job queue.Job) error
	EnqueueIn(ctx context.Context, job queue.Job, delay time.Duration) error
}

package service

import (
	"context"
	"fmt"
	"time"

	"github.com/ayo6706/wallet-settlement/internal/observability"
	"github.com/ayo6706/wallet-settlement/internal/queue"
	"github.com/ayo6706/wallet-settlement/internal/repository"
	"github.com/jackc/pgx/v5/pgtype"
	"go.uber.org/zap"
)

// ReconciliationService verifies balance invariants and recovers
// transactions the queue lost track of.
type ReconciliationService struct {
	store QueryStore
	queue Enqueuer

	// stalePendingAge is how long a transaction may sit PENDING before the
	// sweep assumes its queue entry was lost and re-enqueues it.
	stalePendingAge time.Duration
	batchSize       int32
}

// NewReconciliationService creates a reconciliation service.
func NewReconciliationService(store QueryStore, q Enqueuer, stalePendingAge time.Duration) *ReconciliationService {
	if stalePendingAge <= 0 {
		stalePendingAge = time.Hour
	}
	return &ReconciliationService{
		store:           store,
		queue:           q,
		stalePendingAge: stalePendingAge,
		batchSize:       200,
	}
}

// Run executes one reconciliation sweep: flag conservation violations, then
// re-enqueue stale pending transactions.
func (s *ReconciliationService) Run(ctx context.Context) error {
	if err := s.checkBalances(ctx); err != nil {
		return err
	}
	return s.requeueStalePending(ctx)
}

// checkBalances looks for accounts whose available or held balance went
// negative. Conditional updates and check constraints should make this
// impossible; any hit is flagged loudly, never auto-corrected.
func (s *ReconciliationService) checkBalances(ctx context.Context) error {
	accounts, err := s.store.Queries().ListNegativeBalanceAccounts(ctx)
	if err != nil {
		return fmt.Errorf("list negative balance accounts: %w", err)
	}
	if len(accounts) == 0 {
		zap.L().Info("balances reconciled")
		return nil
	}

	for _, account := range accounts {
		observability.IncrementReconciliationAnomaly("negative_balance")
		zap.L().Error("CRITICAL: negative balance detected",
			zap.String("account_id", account.ID.String()),
			zap.Int64("available_micros", account.AvailableMicros),
			zap.Int64("held_micros", account.HeldMicros),
		)
	}
	return nil
}

// requeueStalePending re-enqueues transactions stuck PENDING past the stale
// cutoff. Re-enqueueing an already queued transaction is harmless: the
// settlement handler re-validates state before acting.
func (s *ReconciliationService) requeueStalePending(ctx context.Context) error {
	cutoff := time.Now().Add(-s.stalePendingAge)
	stale, err := s.store.Queries().ListStalePendingTransactions(ctx, repository.ListStalePendingParams{
		CreatedBefore: pgtype.Timestamptz{Time: cutoff, Valid: true},
		Limit:         s.batchSize,
	})
	if err != nil {
		return fmt.Errorf("list stale pending transactions: %w", err)
	}

	for _, tx := range stale {
		if err := s.queue.Enqueue(ctx, queue.NewJob(tx.ID, tx.Kind)); err != nil {
			return fmt.Errorf("re-enqueue stale transaction %s: %w", tx.ID, err)
		}
		observability.IncrementReconciliationAnomaly("stale_pending")
		zap.L().Warn("re-enqueued stale pending transaction",
			zap.String("transaction_id", tx.ID.String()),
			zap.String("kind", tx.Kind),
			zap.Time("created_at", tx.CreatedAt),
		)
	}
	return nil
}

package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/ayo6706/wallet-settlement/internal/domain"
	"github.com/ayo6706/wallet-settlement/internal/gateway"
	"github.com/ayo6706/wallet-settlement/internal/lock"
	"github.com/ayo6706/wallet-settlement/internal/models"
	"github.com/ayo6706/wallet-settlement/internal/observability"
	"github.com/ayo6706/wallet-settlement/internal/queue"
	"github.com/ayo6706/wallet-settlement/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// SettlementService moves pending transactions to their terminal state.
// Every mutation re-validates the transaction under a row lock first, so
// redelivered jobs, the admin surface, and the rail webhook can all drive
// the same transaction without double-applying balance effects.
type SettlementService struct {
	store         QueryStore
	locks         *lock.Registry
	queue         Enqueuer
	gateway       gateway.Gateway
	audit         *AuditService
	payoutTimeout time.Duration
}

func NewSettlementService(store QueryStore, locks *lock.Registry, q Enqueuer, gw gateway.Gateway, payoutTimeout time.Duration) *SettlementService {
	if payoutTimeout <= 0 {
		payoutTimeout = domain.DefaultPayoutTimeout
	}
	return &SettlementService{
		store:         store,
		locks:         locks,
		queue:         q,
		gateway:       gw,
		audit:         NewAuditService(store),
		payoutTimeout: payoutTimeout,
	}
}

// Handle processes one settlement job. A nil return acknowledges the job;
// an error sends it back through the retry schedule.
func (s *SettlementService) Handle(ctx context.Context, job queue.Job) error {
	tx, err := s.store.Queries().GetTransaction(ctx, job.TransactionID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			zap.L().Warn("settlement job references unknown transaction; dropping",
				zap.String("job_id", job.ID),
				zap.String("transaction_id", job.TransactionID.String()),
			)
			return nil
		}
		return fmt.Errorf("load transaction for settlement: %w", err)
	}

	if tx.Kind != job.Kind {
		zap.L().Warn("settlement job kind does not match transaction; dropping",
			zap.String("transaction_id", tx.ID.String()),
			zap.String("job_kind", job.Kind),
			zap.String("transaction_kind", tx.Kind),
		)
		return nil
	}
	if tx.Status != domain.TxStatusPending {
		// Already decided through another path. Redelivery is a no-op.
		return nil
	}

	switch tx.Kind {
	case domain.TxKindDeposit:
		return s.settleDeposit(ctx, tx)
	case domain.TxKindPayout:
		return s.checkPayoutTimeout(ctx, tx, job)
	default:
		zap.L().Warn("settlement job with unknown kind; dropping",
			zap.String("transaction_id", tx.ID.String()),
			zap.String("kind", tx.Kind),
		)
		return nil
	}
}

// HandleDead compensates a job whose delivery attempts are exhausted. A dead
// payout releases its hold so the funds come back; a dead deposit simply
// fails, since no balance was touched at intake.
func (s *SettlementService) HandleDead(ctx context.Context, job queue.Job, cause error) {
	metadata := reasonMetadata(fmt.Sprintf("settlement attempts exhausted: %v", cause))

	var err error
	switch job.Kind {
	case domain.TxKindPayout:
		err = s.failPayout(ctx, job.TransactionID, nil, "settlement_exhausted", metadata)
	case domain.TxKindDeposit:
		err = s.failDeposit(ctx, job.TransactionID, "settlement_exhausted", metadata)
	default:
		zap.L().Warn("dead job with unknown kind", zap.String("job_id", job.ID), zap.String("kind", job.Kind))
		return
	}
	if err != nil {
		zap.L().Error("failed to compensate exhausted settlement job",
			zap.Error(err),
			zap.String("transaction_id", job.TransactionID.String()),
			zap.String("kind", job.Kind),
		)
		return
	}
	observability.IncrementSettlement(job.Kind, "exhausted")
}

// settleDeposit confirms the funds with the external rail, then credits the
// account and settles the transaction in one commit. A rail failure returns
// an error so the job retries; the credit itself only happens once because
// the transaction must still be PENDING under the row lock.
func (s *SettlementService) settleDeposit(ctx context.Context, tx models.Transaction) error {
	ref, err := s.gateway.ConfirmDeposit(ctx, tx.AccountID, tx.AmountMicros)
	if err != nil {
		return fmt.Errorf("confirm deposit with rail: %w", err)
	}

	if err := s.ApplyDepositSettlement(ctx, tx.ID, nil, "deposit_settled", railRefMetadata(ref)); err != nil {
		return err
	}
	observability.IncrementSettlement(domain.TxKindDeposit, "settled")
	return nil
}

// ApplyDepositSettlement credits the deposit amount and marks the
// transaction SETTLED. It is idempotent: a transaction already out of
// PENDING is left untouched. The rail webhook drives this directly.
func (s *SettlementService) ApplyDepositSettlement(ctx context.Context, transactionID uuid.UUID, actorID *uuid.UUID, action string, metadata []byte) error {
	tx, err := s.loadTransaction(ctx, transactionID, domain.TxKindDeposit)
	if err != nil {
		return err
	}

	return s.locks.WithLock(ctx, tx.AccountID.String(), func() error {
		return s.store.RunInTx(ctx, func(qtx *repository.Queries) error {
			current, err := qtx.GetTransactionForUpdate(ctx, transactionID)
			if err != nil {
				return fmt.Errorf("lock transaction: %w", err)
			}
			if current.Status != domain.TxStatusPending {
				return nil
			}

			rows, err := qtx.CreditAvailable(ctx, repository.BalanceMutationParams{
				AmountMicros: current.AmountMicros,
				ID:           current.AccountID,
			})
			if err != nil {
				return fmt.Errorf("credit deposit: %w", err)
			}
			if err := requireExactlyOne(rows, "credit deposit"); err != nil {
				return err
			}

			return transitionTransactionState(ctx, qtx, s.audit, transactionID, domain.TxStatusSettled, actorID, action, metadata)
		})
	})
}

// checkPayoutTimeout is the lazy timeout evaluation: payouts awaiting an
// admin decision cycle through the delayed queue until either the decision
// lands or the pending window runs out, at which point the hold is released
// and the payout fails.
func (s *SettlementService) checkPayoutTimeout(ctx context.Context, tx models.Transaction, job queue.Job) error {
	remaining := s.payoutTimeout - time.Since(tx.CreatedAt)
	if remaining > 0 {
		// Reset the attempt counter: waiting for a decision is not a failure.
		next := queue.NewJob(tx.ID, domain.TxKindPayout)
		if err := s.queue.EnqueueIn(ctx, next, remaining); err != nil {
			return fmt.Errorf("reschedule payout timeout check: %w", err)
		}
		return nil
	}

	if err := s.failPayout(ctx, tx.ID, nil, "payout_timeout", reasonMetadata("no decision within the pending window")); err != nil {
		return err
	}
	observability.IncrementSettlement(domain.TxKindPayout, "timeout")
	zap.L().Warn("payout timed out; hold released",
		zap.String("transaction_id", tx.ID.String()),
		zap.String("account_id", tx.AccountID.String()),
		zap.Int64("amount_micros", tx.AmountMicros),
	)
	return nil
}

// ApprovePayout commits the hold and, when the payout names a counterparty
// account, credits it in the same transaction. Approving a payout that has
// already reached a terminal state returns ErrAlreadyDecided.
func (s *SettlementService) ApprovePayout(ctx context.Context, transactionID uuid.UUID, actorID *uuid.UUID) error {
	tx, err := s.loadTransaction(ctx, transactionID, domain.TxKindPayout)
	if err != nil {
		return err
	}
	if tx.Status != domain.TxStatusPending {
		return models.ErrAlreadyDecided
	}

	err = s.withLocks(ctx, orderedLockKeys(tx.AccountID, tx.CounterpartyID), func() error {
		return s.store.RunInTx(ctx, func(qtx *repository.Queries) error {
			current, err := qtx.GetTransactionForUpdate(ctx, transactionID)
			if err != nil {
				return fmt.Errorf("lock transaction: %w", err)
			}
			if current.Status != domain.TxStatusPending {
				return models.ErrAlreadyDecided
			}

			rows, err := qtx.CommitHeldFunds(ctx, repository.BalanceMutationParams{
				AmountMicros: current.AmountMicros,
				ID:           current.AccountID,
			})
			if err != nil {
				return fmt.Errorf("commit payout hold: %w", err)
			}
			if err := requireExactlyOne(rows, "commit payout hold"); err != nil {
				return err
			}

			if current.CounterpartyID != nil {
				rows, err = qtx.CreditAvailable(ctx, repository.BalanceMutationParams{
					AmountMicros: current.AmountMicros,
					ID:           *current.CounterpartyID,
				})
				if err != nil {
					return fmt.Errorf("credit counterparty: %w", err)
				}
				if err := requireExactlyOne(rows, "credit counterparty"); err != nil {
					return err
				}
			}

			return transitionTransactionState(ctx, qtx, s.audit, transactionID, domain.TxStatusSettled, actorID, "payout_approved", nil)
		})
	})
	if err != nil {
		return err
	}
	observability.IncrementSettlement(domain.TxKindPayout, "settled")
	return nil
}

// RejectPayout releases the hold and fails the payout. Rejecting a payout
// that has already reached a terminal state returns ErrAlreadyDecided.
func (s *SettlementService) RejectPayout(ctx context.Context, transactionID uuid.UUID, actorID *uuid.UUID, reason string) error {
	tx, err := s.loadTransaction(ctx, transactionID, domain.TxKindPayout)
	if err != nil {
		return err
	}
	if tx.Status != domain.TxStatusPending {
		return models.ErrAlreadyDecided
	}

	if err := s.failPayoutStrict(ctx, transactionID, actorID, "payout_rejected", reasonMetadata(reason)); err != nil {
		return err
	}
	observability.IncrementSettlement(domain.TxKindPayout, "rejected")
	return nil
}

// failPayout releases the hold and fails the payout, treating an already
// terminal transaction as a no-op.
func (s *SettlementService) failPayout(ctx context.Context, transactionID uuid.UUID, actorID *uuid.UUID, action string, metadata []byte) error {
	return s.applyPayoutFailure(ctx, transactionID, actorID, action, metadata, false)
}

// failPayoutStrict is the admin-facing variant: losing the race to another
// decision surfaces as ErrAlreadyDecided instead of a silent no-op.
func (s *SettlementService) failPayoutStrict(ctx context.Context, transactionID uuid.UUID, actorID *uuid.UUID, action string, metadata []byte) error {
	return s.applyPayoutFailure(ctx, transactionID, actorID, action, metadata, true)
}

func (s *SettlementService) applyPayoutFailure(ctx context.Context, transactionID uuid.UUID, actorID *uuid.UUID, action string, metadata []byte, strict bool) error {
	tx, err := s.loadTransaction(ctx, transactionID, domain.TxKindPayout)
	if err != nil {
		return err
	}

	return s.locks.WithLock(ctx, tx.AccountID.String(), func() error {
		return s.store.RunInTx(ctx, func(qtx *repository.Queries) error {
			current, err := qtx.GetTransactionForUpdate(ctx, transactionID)
			if err != nil {
				return fmt.Errorf("lock transaction: %w", err)
			}
			if current.Status != domain.TxStatusPending {
				if strict {
					return models.ErrAlreadyDecided
				}
				return nil
			}

			rows, err := qtx.ReleaseHeldFunds(ctx, repository.BalanceMutationParams{
				AmountMicros: current.AmountMicros,
				ID:           current.AccountID,
			})
			if err != nil {
				return fmt.Errorf("release payout hold: %w", err)
			}
			if err := requireExactlyOne(rows, "release payout hold"); err != nil {
				return err
			}

			return transitionTransactionState(ctx, qtx, s.audit, transactionID, domain.TxStatusFailed, actorID, action, metadata)
		})
	})
}

// failDeposit marks a pending deposit FAILED. No balance compensation is
// needed because deposits credit nothing until they settle.
func (s *SettlementService) failDeposit(ctx context.Context, transactionID uuid.UUID, action string, metadata []byte) error {
	tx, err := s.loadTransaction(ctx, transactionID, domain.TxKindDeposit)
	if err != nil {
		return err
	}

	return s.locks.WithLock(ctx, tx.AccountID.String(), func() error {
		return s.store.RunInTx(ctx, func(qtx *repository.Queries) error {
			current, err := qtx.GetTransactionForUpdate(ctx, transactionID)
			if err != nil {
				return fmt.Errorf("lock transaction: %w", err)
			}
			if current.Status != domain.TxStatusPending {
				return nil
			}
			return transitionTransactionState(ctx, qtx, s.audit, transactionID, domain.TxStatusFailed, nil, action, metadata)
		})
	})
}

func (s *SettlementService) loadTransaction(ctx context.Context, transactionID uuid.UUID, wantKind string) (models.Transaction, error) {
	tx, err := s.store.Queries().GetTransaction(ctx, transactionID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Transaction{}, models.ErrTransactionNotFound
		}
		return models.Transaction{}, fmt.Errorf("load transaction: %w", err)
	}
	if tx.Kind != wantKind {
		return models.Transaction{}, fmt.Errorf("%w: transaction %s is a %s", models.ErrInvalidTransactionState, transactionID, tx.Kind)
	}
	return tx, nil
}

// withLocks acquires the given keys in order, then runs fn. Callers pass
// sorted keys so two settlements touching the same pair of accounts never
// deadlock against each other.
func (s *SettlementService) withLocks(ctx context.Context, keys []string, fn func() error) error {
	if len(keys) == 0 {
		return fn()
	}
	return s.locks.WithLock(ctx, keys[0], func() error {
		return s.withLocks(ctx, keys[1:], fn)
	})
}

func orderedLockKeys(accountID uuid.UUID, counterpartyID *uuid.UUID) []string {
	keys := []string{accountID.String()}
	if counterpartyID != nil && *counterpartyID != accountID {
		keys = append(keys, counterpartyID.String())
	}
	sort.Strings(keys)
	return keys
}

func reasonMetadata(reason string) []byte {
	raw, err := json.Marshal(map[string]string{"reason": reason})
	if err != nil {
		return nil
	}
	return raw
}

func railRefMetadata(ref string) []byte {
	raw, err := json.Marshal(map[string]string{"rail_ref": ref})
	if err != nil {
		return nil
	}
	return raw
}

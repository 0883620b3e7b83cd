package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ayo6706/wallet-settlement/internal/domain"
	"github.com/ayo6706/wallet-settlement/internal/lock"
	"github.com/ayo6706/wallet-settlement/internal/models"
	"github.com/ayo6706/wallet-settlement/internal/queue"
	"github.com/ayo6706/wallet-settlement/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// WalletService handles transaction intake: validation, admission, and the
// pending record that hands the work to the settlement queue. Deposits touch
// no balance at intake; payouts reserve their amount as a hold so the funds
// cannot be spent twice while settlement is in flight.
type WalletService struct {
	store  QueryStore
	locks  *lock.Registry
	queue  Enqueuer
	limits *LimitChecker
	audit  *AuditService
}

func NewWalletService(store QueryStore, locks *lock.Registry, q Enqueuer, limits *LimitChecker) *WalletService {
	return &WalletService{
		store:  store,
		locks:  locks,
		queue:  q,
		limits: limits,
		audit:  NewAuditService(store),
	}
}

// CreateDepositRequest holds the parameters for a deposit intake.
type CreateDepositRequest struct {
	AccountID    uuid.UUID
	AmountMicros int64
}

// CreatePayoutRequest holds the parameters for a payout intake.
type CreatePayoutRequest struct {
	AccountID      uuid.UUID
	CounterpartyID *uuid.UUID
	AmountMicros   int64
}

// TransactionResponse is returned from intake endpoints.
type TransactionResponse struct {
	TransactionID uuid.UUID `json:"transaction_id"`
	Status        string    `json:"status"`
	Message       string    `json:"message"`
}

// CreateDeposit records a pending deposit and queues it for settlement.
// The credit happens later, when the settlement worker confirms the funds.
func (s *WalletService) CreateDeposit(ctx context.Context, req CreateDepositRequest) (*TransactionResponse, error) {
	if req.AmountMicros <= 0 {
		return nil, models.ErrInvalidAmount
	}

	transactionID := uuid.New()
	err := s.locks.WithLock(ctx, req.AccountID.String(), func() error {
		return s.store.RunInTx(ctx, func(qtx *repository.Queries) error {
			if _, err := qtx.GetAccountForUpdate(ctx, req.AccountID); err != nil {
				if errors.Is(err, pgx.ErrNoRows) {
					return models.ErrAccountNotFound
				}
				return fmt.Errorf("lock account: %w", err)
			}

			if err := s.limits.Check(ctx, qtx, req.AccountID, req.AmountMicros); err != nil {
				return err
			}

			if _, err := qtx.CreateTransaction(ctx, repository.CreateTransactionParams{
				ID:           transactionID,
				AccountID:    req.AccountID,
				AmountMicros: req.AmountMicros,
				Kind:         domain.TxKindDeposit,
				Status:       domain.TxStatusPending,
			}); err != nil {
				return fmt.Errorf("create deposit transaction: %w", err)
			}

			return s.audit.Write(ctx, qtx, "transaction", transactionID, nil, "deposit_created", "", domain.TxStatusPending, intakeMetadata(req.AmountMicros))
		})
	})
	if err != nil {
		return nil, err
	}

	s.enqueueSettlement(ctx, transactionID, domain.TxKindDeposit)

	return &TransactionResponse{
		TransactionID: transactionID,
		Status:        domain.TxStatusPending,
		Message:       "Deposit queued for settlement",
	}, nil
}

// CreatePayout reserves the payout amount as a hold and queues the payout.
// The hold is the no-double-spend guarantee: once taken, the amount is
// unavailable to any other transaction until this one reaches a terminal
// state.
func (s *WalletService) CreatePayout(ctx context.Context, req CreatePayoutRequest) (*TransactionResponse, error) {
	if req.AmountMicros <= 0 {
		return nil, models.ErrInvalidAmount
	}
	if req.CounterpartyID != nil && *req.CounterpartyID == req.AccountID {
		return nil, models.ErrSelfTransferNotAllowed
	}

	transactionID := uuid.New()
	err := s.locks.WithLock(ctx, req.AccountID.String(), func() error {
		return s.store.RunInTx(ctx, func(qtx *repository.Queries) error {
			if _, err := qtx.GetAccountForUpdate(ctx, req.AccountID); err != nil {
				if errors.Is(err, pgx.ErrNoRows) {
					return models.ErrAccountNotFound
				}
				return fmt.Errorf("lock account: %w", err)
			}

			if req.CounterpartyID != nil {
				if _, err := qtx.GetAccount(ctx, *req.CounterpartyID); err != nil {
					if errors.Is(err, pgx.ErrNoRows) {
						return models.ErrAccountNotFound
					}
					return fmt.Errorf("load counterparty account: %w", err)
				}
			}

			if err := s.limits.Check(ctx, qtx, req.AccountID, req.AmountMicros); err != nil {
				return err
			}

			rows, err := qtx.HoldFunds(ctx, repository.BalanceMutationParams{
				AmountMicros: req.AmountMicros,
				ID:           req.AccountID,
			})
			if err != nil {
				return fmt.Errorf("hold payout funds: %w", err)
			}
			if rows == 0 {
				return models.ErrInsufficientBalance
			}

			if _, err := qtx.CreateTransaction(ctx, repository.CreateTransactionParams{
				ID:             transactionID,
				AccountID:      req.AccountID,
				CounterpartyID: repository.ToPgUUIDPtr(req.CounterpartyID),
				AmountMicros:   req.AmountMicros,
				Kind:           domain.TxKindPayout,
				Status:         domain.TxStatusPending,
			}); err != nil {
				return fmt.Errorf("create payout transaction: %w", err)
			}

			return s.audit.Write(ctx, qtx, "transaction", transactionID, nil, "payout_created", "", domain.TxStatusPending, intakeMetadata(req.AmountMicros))
		})
	})
	if err != nil {
		return nil, err
	}

	s.enqueueSettlement(ctx, transactionID, domain.TxKindPayout)

	return &TransactionResponse{
		TransactionID: transactionID,
		Status:        domain.TxStatusPending,
		Message:       "Payout queued for settlement",
	}, nil
}

// GetTransaction retrieves a transaction by ID.
func (s *WalletService) GetTransaction(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	tx, err := s.store.Queries().GetTransaction(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrTransactionNotFound
		}
		return nil, fmt.Errorf("get transaction: %w", err)
	}
	return &tx, nil
}

// GetAccountSnapshot returns the account with its recent transactions. The
// read is not serialized against intake, so a snapshot may trail writes that
// are mid-commit.
func (s *WalletService) GetAccountSnapshot(ctx context.Context, accountID uuid.UUID, limit, offset int32) (*models.AccountSnapshot, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}
	if offset < 0 {
		offset = 0
	}

	queries := s.store.Queries()
	account, err := queries.GetAccount(ctx, accountID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrAccountNotFound
		}
		return nil, fmt.Errorf("get account: %w", err)
	}

	txs, err := queries.ListTransactionsByAccount(ctx, repository.ListTransactionsByAccountParams{
		AccountID: accountID,
		Limit:     limit,
		Offset:    offset,
	})
	if err != nil {
		return nil, fmt.Errorf("list account transactions: %w", err)
	}

	return &models.AccountSnapshot{
		Account:      account,
		Transactions: txs,
	}, nil
}

// enqueueSettlement runs after the intake transaction committed, outside the
// account lock. A failed enqueue is not rolled back: the reconciliation sweep
// re-enqueues any transaction left PENDING with no queue entry.
func (s *WalletService) enqueueSettlement(ctx context.Context, transactionID uuid.UUID, kind string) {
	if err := s.queue.Enqueue(ctx, queue.NewJob(transactionID, kind)); err != nil {
		zap.L().Error("failed to enqueue settlement job",
			zap.Error(err),
			zap.String("transaction_id", transactionID.String()),
			zap.String("kind", kind),
		)
	}
}

func intakeMetadata(amountMicros int64) []byte {
	raw, err := json.Marshal(map[string]any{
		"amount_micros": amountMicros,
		"amount":        domain.NewMoney(amountMicros).String(),
	})
	if err != nil {
		return nil
	}
	return raw
}

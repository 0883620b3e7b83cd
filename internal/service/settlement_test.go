package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ayo6706/wallet-settlement/internal/domain"
	"github.com/ayo6706/wallet-settlement/internal/lock"
	"github.com/ayo6706/wallet-settlement/internal/models"
	"github.com/ayo6706/wallet-settlement/internal/queue"
	"github.com/ayo6706/wallet-settlement/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type settlementStack struct {
	wallet     *WalletService
	settlement *SettlementService
	queue      *recordingQueue
	gateway    *stubGateway
}

func newSettlementStack(db *pgxpool.Pool, payoutTimeout time.Duration) *settlementStack {
	store := repository.NewStore(db)
	locks := lock.NewRegistry()
	q := &recordingQueue{}
	gw := &stubGateway{ref: "RAIL-REF-1"}
	return &settlementStack{
		wallet:     NewWalletService(store, locks, q, NewLimitChecker(0)),
		settlement: NewSettlementService(store, locks, q, gw, payoutTimeout),
		queue:      q,
		gateway:    gw,
	}
}

func getTransaction(t *testing.T, db *pgxpool.Pool, id uuid.UUID) models.Transaction {
	t.Helper()
	tx, err := repository.New(db).GetTransaction(context.Background(), id)
	require.NoError(t, err)
	return tx
}

func getAccount(t *testing.T, db *pgxpool.Pool, id uuid.UUID) models.Account {
	t.Helper()
	account, err := repository.New(db).GetAccount(context.Background(), id)
	require.NoError(t, err)
	return account
}

func TestSettleDepositCreditsOnce(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	stack := newSettlementStack(db, domain.DefaultPayoutTimeout)
	ctx := context.Background()

	accountID := createTestAccount(t, db, 0)
	resp, err := stack.wallet.CreateDeposit(ctx, CreateDepositRequest{AccountID: accountID, AmountMicros: 3_000_000})
	require.NoError(t, err)

	job := queue.NewJob(resp.TransactionID, domain.TxKindDeposit)
	require.NoError(t, stack.settlement.Handle(ctx, job))

	assert.Equal(t, domain.TxStatusSettled, getTransaction(t, db, resp.TransactionID).Status)
	assert.Equal(t, int64(3_000_000), getAccount(t, db, accountID).AvailableMicros)
	assert.Equal(t, 1, stack.gateway.callCount())

	// Redelivery of the same job is a no-op: no second credit.
	require.NoError(t, stack.settlement.Handle(ctx, job))
	assert.Equal(t, int64(3_000_000), getAccount(t, db, accountID).AvailableMicros)
	assert.Equal(t, 1, stack.gateway.callCount())
}

func TestSettleDepositRetriesOnRailFailure(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	stack := newSettlementStack(db, domain.DefaultPayoutTimeout)
	stack.gateway.err = errors.New("rail unavailable")
	ctx := context.Background()

	accountID := createTestAccount(t, db, 0)
	resp, err := stack.wallet.CreateDeposit(ctx, CreateDepositRequest{AccountID: accountID, AmountMicros: 1_000})
	require.NoError(t, err)

	err = stack.settlement.Handle(ctx, queue.NewJob(resp.TransactionID, domain.TxKindDeposit))
	require.Error(t, err)

	// Still pending, nothing credited; the consumer will retry.
	assert.Equal(t, domain.TxStatusPending, getTransaction(t, db, resp.TransactionID).Status)
	assert.Equal(t, int64(0), getAccount(t, db, accountID).AvailableMicros)
}

func TestHandleDropsMismatchedJobs(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	stack := newSettlementStack(db, domain.DefaultPayoutTimeout)
	ctx := context.Background()

	accountID := createTestAccount(t, db, 0)
	resp, err := stack.wallet.CreateDeposit(ctx, CreateDepositRequest{AccountID: accountID, AmountMicros: 1_000})
	require.NoError(t, err)

	// Unknown transaction: dropped without error so it is not retried.
	require.NoError(t, stack.settlement.Handle(ctx, queue.NewJob(uuid.New(), domain.TxKindDeposit)))

	// Kind mismatch: dropped, transaction untouched.
	require.NoError(t, stack.settlement.Handle(ctx, queue.NewJob(resp.TransactionID, domain.TxKindPayout)))
	assert.Equal(t, domain.TxStatusPending, getTransaction(t, db, resp.TransactionID).Status)
}

func TestPayoutWaitsForDecisionWithinWindow(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	stack := newSettlementStack(db, 30*time.Minute)
	ctx := context.Background()

	accountID := createTestAccount(t, db, 5_000_000)
	resp, err := stack.wallet.CreatePayout(ctx, CreatePayoutRequest{AccountID: accountID, AmountMicros: 2_000_000})
	require.NoError(t, err)

	job := queue.NewJob(resp.TransactionID, domain.TxKindPayout)
	job.Attempt = 2 // Waiting must not inherit the delivery attempt count.
	require.NoError(t, stack.settlement.Handle(ctx, job))

	// Still pending with the hold intact, rescheduled near the window's end.
	assert.Equal(t, domain.TxStatusPending, getTransaction(t, db, resp.TransactionID).Status)
	assert.Equal(t, int64(2_000_000), getAccount(t, db, accountID).HeldMicros)

	delayed := stack.queue.delayedJobs()
	require.Len(t, delayed, 1)
	assert.Equal(t, resp.TransactionID, delayed[0].job.TransactionID)
	assert.Equal(t, 0, delayed[0].job.Attempt)
	assert.Greater(t, delayed[0].delay, 25*time.Minute)
}

func TestPayoutTimesOutAndReleasesHold(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	stack := newSettlementStack(db, 30*time.Minute)
	ctx := context.Background()

	accountID := createTestAccount(t, db, 5_000_000)
	resp, err := stack.wallet.CreatePayout(ctx, CreatePayoutRequest{AccountID: accountID, AmountMicros: 2_000_000})
	require.NoError(t, err)

	backdateTransaction(t, db, resp.TransactionID, time.Hour)
	require.NoError(t, stack.settlement.Handle(ctx, queue.NewJob(resp.TransactionID, domain.TxKindPayout)))

	assert.Equal(t, domain.TxStatusFailed, getTransaction(t, db, resp.TransactionID).Status)
	account := getAccount(t, db, accountID)
	assert.Equal(t, int64(5_000_000), account.AvailableMicros)
	assert.Equal(t, int64(0), account.HeldMicros)
}

func TestApprovePayoutCommitsHoldAndCreditsCounterparty(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	stack := newSettlementStack(db, domain.DefaultPayoutTimeout)
	ctx := context.Background()

	sourceID := createTestAccount(t, db, 10_000_000)
	counterpartyID := createTestAccount(t, db, 0)

	resp, err := stack.wallet.CreatePayout(ctx, CreatePayoutRequest{
		AccountID:      sourceID,
		CounterpartyID: &counterpartyID,
		AmountMicros:   4_000_000,
	})
	require.NoError(t, err)

	actorID := uuid.New()
	require.NoError(t, stack.settlement.ApprovePayout(ctx, resp.TransactionID, &actorID))

	assert.Equal(t, domain.TxStatusSettled, getTransaction(t, db, resp.TransactionID).Status)

	source := getAccount(t, db, sourceID)
	assert.Equal(t, int64(6_000_000), source.AvailableMicros)
	assert.Equal(t, int64(0), source.HeldMicros)
	assert.Equal(t, int64(4_000_000), getAccount(t, db, counterpartyID).AvailableMicros)

	// A second decision on the same payout loses.
	assert.ErrorIs(t, stack.settlement.ApprovePayout(ctx, resp.TransactionID, &actorID), models.ErrAlreadyDecided)
	assert.ErrorIs(t, stack.settlement.RejectPayout(ctx, resp.TransactionID, &actorID, "late"), models.ErrAlreadyDecided)
}

func TestApprovePayoutWithoutCounterparty(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	stack := newSettlementStack(db, domain.DefaultPayoutTimeout)
	ctx := context.Background()

	accountID := createTestAccount(t, db, 3_000_000)
	resp, err := stack.wallet.CreatePayout(ctx, CreatePayoutRequest{AccountID: accountID, AmountMicros: 3_000_000})
	require.NoError(t, err)

	require.NoError(t, stack.settlement.ApprovePayout(ctx, resp.TransactionID, nil))

	// The hold is burned: funds leave the system entirely.
	account := getAccount(t, db, accountID)
	assert.Equal(t, int64(0), account.AvailableMicros)
	assert.Equal(t, int64(0), account.HeldMicros)
}

func TestRejectPayoutReleasesHold(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	stack := newSettlementStack(db, domain.DefaultPayoutTimeout)
	ctx := context.Background()

	accountID := createTestAccount(t, db, 3_000_000)
	resp, err := stack.wallet.CreatePayout(ctx, CreatePayoutRequest{AccountID: accountID, AmountMicros: 1_000_000})
	require.NoError(t, err)

	actorID := uuid.New()
	require.NoError(t, stack.settlement.RejectPayout(ctx, resp.TransactionID, &actorID, "suspicious"))

	assert.Equal(t, domain.TxStatusFailed, getTransaction(t, db, resp.TransactionID).Status)
	account := getAccount(t, db, accountID)
	assert.Equal(t, int64(3_000_000), account.AvailableMicros)
	assert.Equal(t, int64(0), account.HeldMicros)
}

func TestDecideOnDepositRejected(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	stack := newSettlementStack(db, domain.DefaultPayoutTimeout)
	ctx := context.Background()

	accountID := createTestAccount(t, db, 0)
	resp, err := stack.wallet.CreateDeposit(ctx, CreateDepositRequest{AccountID: accountID, AmountMicros: 1_000})
	require.NoError(t, err)

	err = stack.settlement.ApprovePayout(ctx, resp.TransactionID, nil)
	assert.ErrorIs(t, err, models.ErrInvalidTransactionState)
}

func TestHandleDeadCompensatesPayout(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	stack := newSettlementStack(db, domain.DefaultPayoutTimeout)
	ctx := context.Background()

	accountID := createTestAccount(t, db, 2_000_000)
	resp, err := stack.wallet.CreatePayout(ctx, CreatePayoutRequest{AccountID: accountID, AmountMicros: 1_500_000})
	require.NoError(t, err)

	stack.settlement.HandleDead(ctx, queue.NewJob(resp.TransactionID, domain.TxKindPayout), errors.New("redis gone"))

	assert.Equal(t, domain.TxStatusFailed, getTransaction(t, db, resp.TransactionID).Status)
	account := getAccount(t, db, accountID)
	assert.Equal(t, int64(2_000_000), account.AvailableMicros)
	assert.Equal(t, int64(0), account.HeldMicros)
}

func TestHandleDeadFailsDeposit(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	stack := newSettlementStack(db, domain.DefaultPayoutTimeout)
	ctx := context.Background()

	accountID := createTestAccount(t, db, 0)
	resp, err := stack.wallet.CreateDeposit(ctx, CreateDepositRequest{AccountID: accountID, AmountMicros: 1_000})
	require.NoError(t, err)

	stack.settlement.HandleDead(ctx, queue.NewJob(resp.TransactionID, domain.TxKindDeposit), errors.New("rail down"))

	assert.Equal(t, domain.TxStatusFailed, getTransaction(t, db, resp.TransactionID).Status)
	assert.Equal(t, int64(0), getAccount(t, db, accountID).AvailableMicros)

	// A dead job for an already-decided transaction changes nothing.
	stack.settlement.HandleDead(ctx, queue.NewJob(resp.TransactionID, domain.TxKindDeposit), errors.New("rail down"))
	assert.Equal(t, domain.TxStatusFailed, getTransaction(t, db, resp.TransactionID).Status)
}

func TestWorkerRedeliveryAfterAdminDecision(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	stack := newSettlementStack(db, 30*time.Minute)
	ctx := context.Background()

	accountID := createTestAccount(t, db, 2_000_000)
	resp, err := stack.wallet.CreatePayout(ctx, CreatePayoutRequest{AccountID: accountID, AmountMicros: 1_000_000})
	require.NoError(t, err)

	require.NoError(t, stack.settlement.ApprovePayout(ctx, resp.TransactionID, nil))

	// The worker's delayed redelivery arrives after the decision: no-op.
	backdateTransaction(t, db, resp.TransactionID, time.Hour)
	require.NoError(t, stack.settlement.Handle(ctx, queue.NewJob(resp.TransactionID, domain.TxKindPayout)))

	assert.Equal(t, domain.TxStatusSettled, getTransaction(t, db, resp.TransactionID).Status)
	account := getAccount(t, db, accountID)
	assert.Equal(t, int64(1_000_000), account.AvailableMicros)
	assert.Equal(t, int64(0), account.HeldMicros)
}

package service

import (
	"context"
	"testing"
	"time"

	"github.com/ayo6706/wallet-settlement/internal/domain"
	"github.com/ayo6706/wallet-settlement/internal/models"
	"github.com/ayo6706/wallet-settlement/internal/repository"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListPendingPayouts(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	stack := newSettlementStack(db, domain.DefaultPayoutTimeout)
	admin := NewAdminService(repository.NewStore(db), stack.settlement)
	ctx := context.Background()

	firstAccount := createTestAccount(t, db, 10_000_000)
	secondAccount := createTestAccount(t, db, 10_000_000)

	first, err := stack.wallet.CreatePayout(ctx, CreatePayoutRequest{AccountID: firstAccount, AmountMicros: 1_000})
	require.NoError(t, err)
	time.Sleep(10 * time.Millisecond) // distinct created_at for deterministic ordering
	second, err := stack.wallet.CreatePayout(ctx, CreatePayoutRequest{AccountID: secondAccount, AmountMicros: 2_000})
	require.NoError(t, err)

	// Deposits never show up in the approval queue.
	_, err = stack.wallet.CreateDeposit(ctx, CreateDepositRequest{AccountID: firstAccount, AmountMicros: 500})
	require.NoError(t, err)

	payouts, err := admin.ListPendingPayouts(ctx, nil, 50, 0)
	require.NoError(t, err)
	require.Len(t, payouts, 2)
	assert.Equal(t, first.TransactionID, payouts[0].ID, "oldest first")
	assert.Equal(t, second.TransactionID, payouts[1].ID)

	filtered, err := admin.ListPendingPayouts(ctx, &secondAccount, 50, 0)
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	assert.Equal(t, second.TransactionID, filtered[0].ID)

	// Decided payouts drop out of the listing.
	require.NoError(t, stack.settlement.ApprovePayout(ctx, first.TransactionID, nil))
	payouts, err = admin.ListPendingPayouts(ctx, nil, 50, 0)
	require.NoError(t, err)
	require.Len(t, payouts, 1)
	assert.Equal(t, second.TransactionID, payouts[0].ID)
}

func TestDecidePayout(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	stack := newSettlementStack(db, domain.DefaultPayoutTimeout)
	admin := NewAdminService(repository.NewStore(db), stack.settlement)
	ctx := context.Background()

	accountID := createTestAccount(t, db, 10_000_000)
	actorID := uuid.New()

	approve, err := stack.wallet.CreatePayout(ctx, CreatePayoutRequest{AccountID: accountID, AmountMicros: 1_000})
	require.NoError(t, err)
	reject, err := stack.wallet.CreatePayout(ctx, CreatePayoutRequest{AccountID: accountID, AmountMicros: 2_000})
	require.NoError(t, err)

	resp, err := admin.DecidePayout(ctx, DecidePayoutRequest{
		TransactionID: approve.TransactionID,
		Decision:      "Approve", // decisions are case-insensitive
		ActorID:       &actorID,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.TxStatusSettled, resp.Status)
	assert.Equal(t, "approve", resp.Decision)

	resp, err = admin.DecidePayout(ctx, DecidePayoutRequest{
		TransactionID: reject.TransactionID,
		Decision:      "reject",
		Reason:        "failed review",
		ActorID:       &actorID,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.TxStatusFailed, resp.Status)

	_, err = admin.DecidePayout(ctx, DecidePayoutRequest{
		TransactionID: approve.TransactionID,
		Decision:      "reject",
		ActorID:       &actorID,
	})
	assert.ErrorIs(t, err, models.ErrAlreadyDecided)

	_, err = admin.DecidePayout(ctx, DecidePayoutRequest{
		TransactionID: reject.TransactionID,
		Decision:      "escalate",
		ActorID:       &actorID,
	})
	assert.ErrorIs(t, err, ErrUnknownDecision)

	_, err = admin.DecidePayout(ctx, DecidePayoutRequest{
		TransactionID: uuid.New(),
		Decision:      "approve",
		ActorID:       &actorID,
	})
	assert.ErrorIs(t, err, models.ErrTransactionNotFound)
}

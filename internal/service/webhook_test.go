package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/ayo6706/wallet-settlement/internal/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testHMACKey = "webhook-test-key"

func signPayload(payload []byte) string {
	h := hmac.New(sha256.New, []byte(testHMACKey))
	h.Write(payload)
	return "sha256=" + hex.EncodeToString(h.Sum(nil))
}

func railPayload(t *testing.T, transactionID uuid.UUID, event string) []byte {
	t.Helper()
	raw, err := json.Marshal(RailEventPayload{
		TransactionID: transactionID.String(),
		Event:         event,
		RailRef:       "RAIL-XYZ",
		Reason:        "compliance hold",
	})
	require.NoError(t, err)
	return raw
}

func TestRailEventSettlesDeposit(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	stack := newSettlementStack(db, domain.DefaultPayoutTimeout)
	webhook := NewWebhookService(stack.settlement, testHMACKey, false)
	ctx := context.Background()

	accountID := createTestAccount(t, db, 0)
	resp, err := stack.wallet.CreateDeposit(ctx, CreateDepositRequest{AccountID: accountID, AmountMicros: 7_000_000})
	require.NoError(t, err)

	payload := railPayload(t, resp.TransactionID, "settled")
	result, err := webhook.HandleRailEvent(ctx, payload, signPayload(payload))
	require.NoError(t, err)
	assert.Equal(t, domain.TxStatusSettled, result.Status)
	assert.Equal(t, int64(7_000_000), getAccount(t, db, accountID).AvailableMicros)

	// The rail confirms directly; the gateway is never consulted.
	assert.Equal(t, 0, stack.gateway.callCount())

	// A duplicate delivery of the same event does not credit twice.
	result, err = webhook.HandleRailEvent(ctx, payload, signPayload(payload))
	require.NoError(t, err)
	assert.Equal(t, domain.TxStatusSettled, result.Status)
	assert.Equal(t, int64(7_000_000), getAccount(t, db, accountID).AvailableMicros)
}

func TestRailEventFailsDeposit(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	stack := newSettlementStack(db, domain.DefaultPayoutTimeout)
	webhook := NewWebhookService(stack.settlement, testHMACKey, false)
	ctx := context.Background()

	accountID := createTestAccount(t, db, 0)
	resp, err := stack.wallet.CreateDeposit(ctx, CreateDepositRequest{AccountID: accountID, AmountMicros: 1_000})
	require.NoError(t, err)

	payload := railPayload(t, resp.TransactionID, "failed")
	result, err := webhook.HandleRailEvent(ctx, payload, signPayload(payload))
	require.NoError(t, err)
	assert.Equal(t, domain.TxStatusFailed, result.Status)
	assert.Equal(t, int64(0), getAccount(t, db, accountID).AvailableMicros)
}

func TestRailEventSignatureValidation(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	stack := newSettlementStack(db, domain.DefaultPayoutTimeout)
	webhook := NewWebhookService(stack.settlement, testHMACKey, false)
	ctx := context.Background()

	payload := railPayload(t, uuid.New(), "settled")

	cases := []struct {
		name      string
		signature string
	}{
		{name: "missing", signature: ""},
		{name: "wrong_key", signature: func() string {
			h := hmac.New(sha256.New, []byte("other-key"))
			h.Write(payload)
			return "sha256=" + hex.EncodeToString(h.Sum(nil))
		}()},
		{name: "malformed", signature: "sha256=nothex"},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			_, err := webhook.HandleRailEvent(ctx, payload, tc.signature)
			assert.ErrorIs(t, err, ErrInvalidSignature)
		})
	}
}

func TestRailEventSkipSignatureMode(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	stack := newSettlementStack(db, domain.DefaultPayoutTimeout)
	webhook := NewWebhookService(stack.settlement, "", true)
	ctx := context.Background()

	accountID := createTestAccount(t, db, 0)
	resp, err := stack.wallet.CreateDeposit(ctx, CreateDepositRequest{AccountID: accountID, AmountMicros: 500})
	require.NoError(t, err)

	_, err = webhook.HandleRailEvent(ctx, railPayload(t, resp.TransactionID, "settled"), "")
	require.NoError(t, err)
	assert.Equal(t, int64(500), getAccount(t, db, accountID).AvailableMicros)
}

func TestRailEventRejectsGarbage(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	stack := newSettlementStack(db, domain.DefaultPayoutTimeout)
	webhook := NewWebhookService(stack.settlement, "", true)
	ctx := context.Background()

	_, err := webhook.HandleRailEvent(ctx, []byte("not json"), "")
	assert.Error(t, err)

	payload := []byte(`{"transaction_id":"", "event":"settled"}`)
	_, err = webhook.HandleRailEvent(ctx, payload, "")
	assert.Error(t, err)

	payload = []byte(fmt.Sprintf(`{"transaction_id":%q, "event":"vanished"}`, uuid.New()))
	_, err = webhook.HandleRailEvent(ctx, payload, "")
	assert.Error(t, err)
}

package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

var ErrInvalidSignature = errors.New("invalid signature")

// WebhookService handles settlement notifications pushed by the external
// rail. A rail event is an alternate driver for the same state machine the
// worker runs, so a deposit confirmed both ways settles exactly once.
type WebhookService struct {
	settlement *SettlementService
	hmacKey    []byte
	skipSig    bool
}

func NewWebhookService(settlement *SettlementService, hmacKey string, skipSignature bool) *WebhookService {
	return &WebhookService{
		settlement: settlement,
		hmacKey:    []byte(hmacKey),
		skipSig:    skipSignature,
	}
}

// RailEventPayload is the rail's settlement notification body.
type RailEventPayload struct {
	TransactionID string `json:"transaction_id"`
	Event         string `json:"event"` // "settled" or "failed"
	RailRef       string `json:"rail_ref"`
	Reason        string `json:"reason"`
}

// RailEventResponse acknowledges a processed rail event.
type RailEventResponse struct {
	TransactionID uuid.UUID `json:"transaction_id"`
	Status        string    `json:"status"`
	Message       string    `json:"message"`
}

// HandleRailEvent verifies the HMAC signature and applies the rail's verdict
// to the referenced deposit. Events for transactions already in a terminal
// state acknowledge without re-applying anything.
func (s *WebhookService) HandleRailEvent(ctx context.Context, payload []byte, signature string) (*RailEventResponse, error) {
	if !s.verifyHMAC(payload, signature) {
		return nil, ErrInvalidSignature
	}

	var event RailEventPayload
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, fmt.Errorf("invalid payload: %w", err)
	}
	event.TransactionID = strings.TrimSpace(event.TransactionID)
	event.Event = strings.ToLower(strings.TrimSpace(event.Event))

	if event.TransactionID == "" {
		return nil, errors.New("transaction_id is required")
	}
	transactionID, err := uuid.Parse(event.TransactionID)
	if err != nil {
		return nil, fmt.Errorf("invalid transaction_id: %w", err)
	}

	switch event.Event {
	case "settled":
		err = s.settlement.ApplyDepositSettlement(ctx, transactionID, nil, "deposit_settled_by_rail", railRefMetadata(event.RailRef))
	case "failed":
		reason := event.Reason
		if reason == "" {
			reason = "rail reported failure"
		}
		err = s.settlement.failDeposit(ctx, transactionID, "deposit_failed_by_rail", reasonMetadata(reason))
	default:
		return nil, fmt.Errorf("unknown event: %q", event.Event)
	}
	if err != nil {
		return nil, err
	}

	tx, err := s.settlement.store.Queries().GetTransaction(ctx, transactionID)
	if err != nil {
		return nil, fmt.Errorf("load transaction after rail event: %w", err)
	}
	return &RailEventResponse{
		TransactionID: transactionID,
		Status:        tx.Status,
		Message:       "Rail event processed",
	}, nil
}

// verifyHMAC verifies the HMAC signature of the payload.
func (s *WebhookService) verifyHMAC(payload []byte, signature string) bool {
	if s.skipSig {
		return true
	}
	if len(s.hmacKey) == 0 {
		return false
	}

	h := hmac.New(sha256.New, s.hmacKey)
	h.Write(payload)
	expectedSig := "sha256=" + hex.EncodeToString(h.Sum(nil))

	return hmac.Equal([]byte(signature), []byte(expectedSig))
}

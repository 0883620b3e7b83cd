package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ayo6706/wallet-settlement/internal/domain"
	"github.com/ayo6706/wallet-settlement/internal/models"
	"github.com/ayo6706/wallet-settlement/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

// ErrUnknownDecision is returned when a decision is neither approve nor reject.
var ErrUnknownDecision = errors.New("unknown payout decision")

// AdminService is the operator surface for payout decisions. Decisions are
// applied through the settlement service so they share the same locks and
// idempotency rules as the worker.
type AdminService struct {
	store      QueryStore
	settlement *SettlementService
}

func NewAdminService(store QueryStore, settlement *SettlementService) *AdminService {
	return &AdminService{store: store, settlement: settlement}
}

// DecidePayoutRequest holds an operator's decision on a pending payout.
type DecidePayoutRequest struct {
	TransactionID uuid.UUID
	Decision      string
	Reason        string
	ActorID       *uuid.UUID
}

// DecidePayoutResponse reports the payout's state after the decision.
type DecidePayoutResponse struct {
	TransactionID uuid.UUID `json:"transaction_id"`
	Status        string    `json:"status"`
	Decision      string    `json:"decision"`
}

// ListPendingPayouts returns payouts awaiting a decision, oldest first.
// accountID optionally narrows the listing to one account.
func (s *AdminService) ListPendingPayouts(ctx context.Context, accountID *uuid.UUID, limit, offset int32) ([]models.Transaction, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}
	if offset < 0 {
		offset = 0
	}

	var filter pgtype.UUID
	if accountID != nil {
		filter = repository.ToPgUUID(*accountID)
	}
	payouts, err := s.store.Queries().ListPendingPayouts(ctx, repository.ListPendingPayoutsParams{
		AccountID: filter,
		Limit:     limit,
		Offset:    offset,
	})
	if err != nil {
		return nil, fmt.Errorf("list pending payouts: %w", err)
	}
	return payouts, nil
}

// DecidePayout applies an approve or reject decision. A payout that has
// already reached a terminal state, through an earlier decision or a
// timeout, returns ErrAlreadyDecided.
func (s *AdminService) DecidePayout(ctx context.Context, req DecidePayoutRequest) (*DecidePayoutResponse, error) {
	decision := strings.ToLower(strings.TrimSpace(req.Decision))

	var err error
	switch decision {
	case domain.PayoutDecisionApprove:
		err = s.settlement.ApprovePayout(ctx, req.TransactionID, req.ActorID)
	case domain.PayoutDecisionReject:
		err = s.settlement.RejectPayout(ctx, req.TransactionID, req.ActorID, req.Reason)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDecision, req.Decision)
	}
	if err != nil {
		return nil, err
	}

	tx, err := s.store.Queries().GetTransaction(ctx, req.TransactionID)
	if err != nil {
		return nil, fmt.Errorf("load decided payout: %w", err)
	}
	return &DecidePayoutResponse{
		TransactionID: tx.ID,
		Status:        tx.Status,
		Decision:      decision,
	}, nil
}

package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/ayo6706/wallet-settlement/internal/models"
	"github.com/ayo6706/wallet-settlement/internal/repository"
	"github.com/google/uuid"
)

// PENDING is the only live state. SETTLED and FAILED are terminal and admit
// no further transitions.
var transactionTransitions = map[string]map[string]struct{}{
	"PENDING": {
		"SETTLED": {},
		"FAILED":  {},
	},
	"SETTLED": {},
	"FAILED":  {},
}

func normalizeState(state string) string {
	return strings.ToUpper(strings.TrimSpace(state))
}

func canTransition(current, next string) bool {
	current = normalizeState(current)
	next = normalizeState(next)
	nextStates, ok := transactionTransitions[current]
	if !ok {
		return false
	}
	_, ok = nextStates[next]
	return ok
}

// transitionTransactionState moves the transaction to nextState under the row
// lock, writing an audit record for the transition. A transition to the state
// the row is already in is a no-op, which is what makes redelivered jobs safe.
func transitionTransactionState(ctx context.Context, qtx *repository.Queries, audit *AuditService, transactionID uuid.UUID, nextState string, actorID *uuid.UUID, action string, metadata []byte) error {
	currentState, err := qtx.GetTransactionStatusForUpdate(ctx, transactionID)
	if err != nil {
		return fmt.Errorf("get current transaction state: %w", err)
	}

	if normalizeState(currentState) == normalizeState(nextState) {
		return nil
	}
	if !canTransition(currentState, nextState) {
		return fmt.Errorf("%w: %s -> %s", models.ErrInvalidTransactionState, currentState, nextState)
	}

	rows, err := qtx.UpdateTransactionStatus(ctx, repository.UpdateTransactionStatusParams{
		Status: nextState,
		ID:     transactionID,
	})
	if err != nil {
		return fmt.Errorf("update transaction state: %w", err)
	}
	if err := requireExactlyOne(rows, "update transaction state"); err != nil {
		return err
	}

	if err := audit.Write(ctx, qtx, "transaction", transactionID, actorID, action, currentState, nextState, metadata); err != nil {
		return err
	}

	return nil
}

package service

import (
	"context"
	"fmt"

	"github.com/ayo6706/wallet-settlement/internal/domain"
	"github.com/ayo6706/wallet-settlement/internal/models"
	"github.com/ayo6706/wallet-settlement/internal/repository"
	"github.com/google/uuid"
)

// LimitChecker enforces the per-account daily ceiling on transacted volume.
// The day boundary is the calendar day in database time, and FAILED
// transactions do not count against the ceiling.
type LimitChecker struct {
	ceilingMicros int64
}

func NewLimitChecker(ceilingMicros int64) *LimitChecker {
	if ceilingMicros <= 0 {
		ceilingMicros = domain.DefaultDailyLimitMicros
	}
	return &LimitChecker{ceilingMicros: ceilingMicros}
}

func (l *LimitChecker) CeilingMicros() int64 {
	return l.ceilingMicros
}

// Check admits or rejects a prospective transaction amount. Must run inside
// the intake transaction, after the account row lock is held, so the daily
// sum cannot be raced by a concurrent intake on the same account.
func (l *LimitChecker) Check(ctx context.Context, qtx *repository.Queries, accountID uuid.UUID, amountMicros int64) error {
	total, err := qtx.SumDailyActiveAmount(ctx, accountID)
	if err != nil {
		return fmt.Errorf("sum daily transacted amount: %w", err)
	}
	if total+amountMicros > l.ceilingMicros {
		return models.ErrDailyLimitExceeded
	}
	return nil
}

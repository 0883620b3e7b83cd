package domain

import "time"

const (
	TxKindDeposit = "deposit"
	TxKindPayout  = "payout"

	TxStatusPending = "PENDING"
	TxStatusSettled = "SETTLED"
	TxStatusFailed  = "FAILED"

	PayoutDecisionApprove = "approve"
	PayoutDecisionReject  = "reject"
)

const (
	// DefaultDailyLimitMicros caps the sum of non-failed transaction amounts
	// per account per calendar day (10,000 units).
	DefaultDailyLimitMicros int64 = 10_000 * 1_000_000

	// DefaultPayoutTimeout is how long a payout may stay pending before the
	// settlement worker compensates it.
	DefaultPayoutTimeout = 30 * time.Minute

	// DefaultMaxSettlementAttempts is how many deliveries a settlement job
	// gets before it is dead-lettered.
	DefaultMaxSettlementAttempts = 3
)

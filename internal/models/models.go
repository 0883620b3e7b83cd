package models

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrAccountNotFound         = errors.New("account not found")
	ErrTransactionNotFound     = errors.New("transaction not found")
	ErrInvalidAmount           = errors.New("amount must be greater than zero")
	ErrSelfTransferNotAllowed  = errors.New("payouts to the originating account are not allowed")
	ErrInsufficientBalance     = errors.New("insufficient available balance")
	ErrDailyLimitExceeded      = errors.New("daily transfer limit exceeded")
	ErrInvalidTransactionState = errors.New("transaction is not in a processable state")
	ErrAlreadyDecided          = errors.New("payout has already been decided")
)

type User struct {
	ID        uuid.UUID `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

// Account holds the authoritative balance state for one user.
// AvailableMicros is spendable; HeldMicros is reserved against pending payouts.
// Both are kept non-negative by check constraints and conditional updates.
type Account struct {
	ID              uuid.UUID `json:"id"`
	UserID          uuid.UUID `json:"user_id"`
	AvailableMicros int64     `json:"available_micros"`
	HeldMicros      int64     `json:"held_micros"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Transaction records one deposit or payout attempt. Once Status leaves
// PENDING it is terminal and is never mutated again.
type Transaction struct {
	ID             uuid.UUID  `json:"id"`
	AccountID      uuid.UUID  `json:"account_id"`
	CounterpartyID *uuid.UUID `json:"counterparty_id,omitempty"`
	AmountMicros   int64      `json:"amount_micros"`
	Kind           string     `json:"kind"`   // "deposit" or "payout"
	Status         string     `json:"status"` // "PENDING", "SETTLED", "FAILED"
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// AccountSnapshot is the lock-free read model returned to clients. It may
// trail in-flight writes; admission answers come from the write path.
type AccountSnapshot struct {
	Account      Account       `json:"account"`
	Transactions []Transaction `json:"transactions"`
}

package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Money represents a monetary value. Amount is stored as BIGINT micros
// (10^-6 units) to avoid floating point errors.
type Money struct {
	Amount int64 // micros
}

// NewMoney creates a Money instance from micros.
func NewMoney(amount int64) Money {
	return Money{Amount: amount}
}

// ToDecimal converts the int64 micros to a shopspring/decimal.Decimal in units.
func (m Money) ToDecimal() decimal.Decimal {
	return decimal.NewFromInt(m.Amount).Div(decimal.NewFromInt(1_000_000))
}

// FromDecimal converts a decimal amount in units to int64 micros, rounding down.
func FromDecimal(d decimal.Decimal) int64 {
	return d.Mul(decimal.NewFromInt(1_000_000)).IntPart()
}

// String renders the amount in units with two decimal places.
func (m Money) String() string {
	return fmt.Sprintf("%s units", m.ToDecimal().StringFixed(2))
}

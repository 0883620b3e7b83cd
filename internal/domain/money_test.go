package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestMoneyToDecimal(t *testing.T) {
	m := NewMoney(2_500_000)
	require.Equal(t, "2.50 units", m.String())
	require.True(t, m.ToDecimal().Equal(decimal.RequireFromString("2.5")))
}

func TestFromDecimalRoundsDown(t *testing.T) {
	d := decimal.RequireFromString("10.1234567")
	require.Equal(t, int64(10_123_456), FromDecimal(d))
}

func TestMoneyRoundTrip(t *testing.T) {
	for _, micros := range []int64{0, 1, 999_999, 1_000_000, 10_000_000_000} {
		m := NewMoney(micros)
		require.Equal(t, micros, FromDecimal(m.ToDecimal()))
	}
}

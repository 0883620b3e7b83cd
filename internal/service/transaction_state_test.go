package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		name    string
		current string
		next    string
		want    bool
	}{
		{name: "pending_to_settled", current: "PENDING", next: "SETTLED", want: true},
		{name: "pending_to_failed", current: "PENDING", next: "FAILED", want: true},
		{name: "settled_is_terminal", current: "SETTLED", next: "FAILED", want: false},
		{name: "failed_is_terminal", current: "FAILED", next: "SETTLED", want: false},
		{name: "no_reopening", current: "SETTLED", next: "PENDING", want: false},
		{name: "unknown_state", current: "LIMBO", next: "SETTLED", want: false},
		{name: "case_insensitive", current: "pending", next: "settled", want: true},
		{name: "whitespace_tolerant", current: " PENDING ", next: "FAILED", want: true},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, canTransition(tc.current, tc.next))
		})
	}
}

func TestNormalizeState(t *testing.T) {
	assert.Equal(t, "PENDING", normalizeState("  pending "))
	assert.Equal(t, "SETTLED", normalizeState("Settled"))
}

package gateway

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
)

// Gateway represents the external funding rail that money arrives from.
type Gateway interface {
	// ConfirmDeposit asks the rail whether the deposited funds have cleared.
	// Returns a rail reference ID on success.
	ConfirmDeposit(ctx context.Context, accountID uuid.UUID, amountMicros int64) (string, error)
}

// MockGateway simulates the external rail for local runs and tests.
// It introduces a short random delay and fails a configurable fraction
// of calls so retry paths get exercised.
type MockGateway struct {
	// FailureRate is the probability of failure (0.0 to 1.0).
	FailureRate float64
	// MaxDelay bounds the simulated network latency. Zero disables the delay.
	MaxDelay time.Duration
}

// NewMockGateway creates a MockGateway with a 10% failure rate and up to
// 500ms of simulated latency.
func NewMockGateway() *MockGateway {
	return &MockGateway{
		FailureRate: 0.1,
		MaxDelay:    500 * time.Millisecond,
	}
}

// ConfirmDeposit simulates a rail confirmation call.
func (g *MockGateway) ConfirmDeposit(ctx context.Context, accountID uuid.UUID, amountMicros int64) (string, error) {
	if g.MaxDelay > 0 {
		delay := time.Duration(rand.Int63n(int64(g.MaxDelay)))
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return "", fmt.Errorf("rail call canceled: %w", ctx.Err())
		}
	}

	if rand.Float64() < g.FailureRate {
		return "", fmt.Errorf("rail temporarily unavailable")
	}

	ref := fmt.Sprintf("MOCK-%s-%05d", time.Now().Format("20060102-150405"), rand.Intn(100000))
	return ref, nil
}

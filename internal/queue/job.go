package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Job is one settlement work item. The queue carries references, never
// balance state: workers re-validate the transaction before acting, which is
// what makes at-least-once delivery safe.
type Job struct {
	ID            string    `json:"id"`
	TransactionID uuid.UUID `json:"transaction_id"`
	Kind          string    `json:"kind"`
	Attempt       int       `json:"attempt"`
	EnqueuedAt    time.Time `json:"enqueued_at"`
}

// NewJob creates a first-attempt job for a transaction.
func NewJob(transactionID uuid.UUID, kind string) Job {
	return Job{
		ID:            uuid.NewString(),
		TransactionID: transactionID,
		Kind:          kind,
		Attempt:       0,
		EnqueuedAt:    time.Now().UTC(),
	}
}

func (j Job) encode() (string, error) {
	raw, err := json.Marshal(j)
	if err != nil {
		return "", fmt.Errorf("encode job: %w", err)
	}
	return string(raw), nil
}

func decodeJob(raw string) (Job, error) {
	var j Job
	if err := json.Unmarshal([]byte(raw), &j); err != nil {
		return Job{}, fmt.Errorf("decode job: %w", err)
	}
	return j, nil
}

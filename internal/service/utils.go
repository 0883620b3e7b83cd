package service

import "fmt"

// requireExactlyOne guards conditional balance updates: a row count other
// than one means the WHERE clause guard rejected the mutation (insufficient
// funds, concurrent decision) and the surrounding transaction must roll back.
func requireExactlyOne(rows int64, operation string) error {
	if rows != 1 {
		return fmt.Errorf("%s affected %d rows, want 1", operation, rows)
	}
	return nil
}

// Package ledger maintains per (user, assistant) token totals.
// Add is the only multi-writer hot spot in the system: the final total
// must equal the sum of all increments under arbitrary concurrency.
package ledger

import (
	"context"
	"errors"
)

// ErrNegativeTokens indicates an attempt to decrement the ledger
var ErrNegativeTokens = errors.New("token increment must be non-negative")

// Ledger accumulates tokens consumed per (user, assistant) pair.
// Records are created lazily on first Add and are monotonically
// non-decreasing; the core never deletes them.
type Ledger interface {
	Add(ctx context.Context, userID, assistantID string, tokens int64) error
	Get(ctx context.Context, userID, assistantID string) (int64, error)
	GetAll(ctx context.Context, userID string) (map[string]int64, error)
	Close() error
}

package ledger

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
)

// MemoryLedger keeps totals in process memory. Each (user, assistant)
// key maps to its own atomic counter, so concurrent Adds on the same
// key never lose increments and Adds on different keys never contend.
type MemoryLedger struct {
	totals sync.Map // key -> *atomic.Int64
}

// NewMemoryLedger creates an empty in-memory ledger
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{}
}

var _ Ledger = (*MemoryLedger)(nil)

func (l *MemoryLedger) Add(ctx context.Context, userID, assistantID string, tokens int64) error {
	if tokens < 0 {
		return fmt.Errorf("%w: %d", ErrNegativeTokens, tokens)
	}
	counter, _ := l.totals.LoadOrStore(key(userID, assistantID), &atomic.Int64{})
	counter.(*atomic.Int64).Add(tokens)
	return nil
}

// Get returns the total for the pair, zero if no record exists yet
func (l *MemoryLedger) Get(ctx context.Context, userID, assistantID string) (int64, error) {
	counter, ok := l.totals.Load(key(userID, assistantID))
	if !ok {
		return 0, nil
	}
	return counter.(*atomic.Int64).Load(), nil
}

// GetAll returns every assistant total recorded for the user
func (l *MemoryLedger) GetAll(ctx context.Context, userID string) (map[string]int64, error) {
	prefix := userID + keySep
	out := make(map[string]int64)
	l.totals.Range(func(k, v any) bool {
		ks := k.(string)
		if strings.HasPrefix(ks, prefix) {
			out[strings.TrimPrefix(ks, prefix)] = v.(*atomic.Int64).Load()
		}
		return true
	})
	return out, nil
}

func (l *MemoryLedger) Close() error {
	return nil
}

// keySep cannot appear in user ids supplied through the transport layer;
// it keeps the composite key unambiguous
const keySep = "\x00"

func key(userID, assistantID string) string {
	return userID + keySep + assistantID
}

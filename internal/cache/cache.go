// Package cache holds the provider response cache behind a small port so
// the engine does not care whether responses live in process memory or
// in Redis.
package cache

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"time"
)

// ErrMiss indicates the key is not cached
var ErrMiss = errors.New("cache miss")

// Cache stores provider replies keyed by prompt hash
type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Close() error
}

// Key derives a stable cache key from the model and the assembled
// prompt. Identical prompts to the same model hit the same entry.
func Key(modelID string, roleContents []string) string {
	h := sha256.New()
	h.Write([]byte(modelID))
	for _, rc := range roleContents {
		h.Write([]byte{0})
		h.Write([]byte(rc))
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}

// Package provider holds the clients for the upstream model APIs. The
// upstream is opaque, rate limited and fallible; errors are typed so the
// transport layer can decide whether a retry makes sense. The core never
// retries on its own.
package provider

import (
	"context"
	"fmt"
)

// Message is one chat message in provider wire order
type Message struct {
	Role    string
	Content string
}

// Completion is a successful upstream reply
type Completion struct {
	ReplyText string
	// Usage carries whatever token accounting the upstream reported,
	// when it reported any. Informational only; the ledger is fed from
	// our own counter so totals stay deterministic.
	Usage map[string]interface{}
}

// Client completes an assembled prompt against a given model
type Client interface {
	Complete(ctx context.Context, modelID string, messages []Message) (*Completion, error)
}

// Error wraps an upstream failure with enough context for the caller's
// retry policy
type Error struct {
	Backend   string
	Retryable bool
	Err       error
}

func (e *Error) Error() string {
	return fmt.Sprintf("provider %s: %v", e.Backend, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(backend string, retryable bool, err error) *Error {
	return &Error{Backend: backend, Retryable: retryable, Err: err}
}

package conversation

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound indicates an unknown or ended session
var ErrNotFound = errors.New("session not found")

// Message roles
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message represents a single chat message.
// Immutable once appended; TokenCount is computed exactly once, at append time.
type Message struct {
	Role       string    `json:"role"`
	Content    string    `json:"content"`
	TokenCount int       `json:"token_count"`
	Timestamp  time.Time `json:"timestamp"`
}

// Conversation represents one session between a user and one assistant.
// The assistant never changes after creation; switching assistants
// starts a new session.
type Conversation struct {
	SessionID       string    `json:"session_id"`
	UserID          string    `json:"user_id"`
	AssistantID     string    `json:"assistant_id"`
	StartTime       time.Time `json:"start_time"`
	Messages        []Message `json:"messages"`
	AttachedExcerpt string    `json:"attached_excerpt,omitempty"`
}

// Store owns conversation state. Mutations on the same session are
// serialized relative to each other; different sessions proceed
// independently. Get returns a snapshot that callers may read freely.
type Store interface {
	Create(ctx context.Context, userID, assistantID string) (string, error)
	Get(ctx context.Context, sessionID string) (*Conversation, error)
	Append(ctx context.Context, sessionID string, msgs ...Message) error
	SetExcerpt(ctx context.Context, sessionID, excerpt string) error
	End(ctx context.Context, sessionID string) error
	Close() error
}

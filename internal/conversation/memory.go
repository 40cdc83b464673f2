package conversation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// entry pairs a conversation with its own lock so that appends on one
// session never block unrelated sessions
type entry struct {
	mu   sync.Mutex
	conv Conversation
}

// MemoryStore keeps conversations in process memory
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*entry
}

// NewMemoryStore creates an empty in-memory conversation store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*entry)}
}

var _ Store = (*MemoryStore)(nil)

func (s *MemoryStore) Create(ctx context.Context, userID, assistantID string) (string, error) {
	sessionID := uuid.NewString()
	e := &entry{
		conv: Conversation{
			SessionID:   sessionID,
			UserID:      userID,
			AssistantID: assistantID,
			StartTime:   time.Now(),
		},
	}
	s.mu.Lock()
	s.sessions[sessionID] = e
	s.mu.Unlock()
	return sessionID, nil
}

// Get returns a snapshot of the conversation. The returned messages
// slice is a copy; later appends do not alias into it.
func (s *MemoryStore) Get(ctx context.Context, sessionID string) (*Conversation, error) {
	e, err := s.lookup(sessionID)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	snap := e.conv
	snap.Messages = make([]Message, len(e.conv.Messages))
	copy(snap.Messages, e.conv.Messages)
	return &snap, nil
}

// Append atomically appends the given messages. A concurrent Append on
// the same session observes either all of them or none mid-flight.
func (s *MemoryStore) Append(ctx context.Context, sessionID string, msgs ...Message) error {
	e, err := s.lookup(sessionID)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.conv.Messages = append(e.conv.Messages, msgs...)
	e.mu.Unlock()
	return nil
}

func (s *MemoryStore) SetExcerpt(ctx context.Context, sessionID, excerpt string) error {
	e, err := s.lookup(sessionID)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.conv.AttachedExcerpt = excerpt
	e.mu.Unlock()
	return nil
}

// End destroys the session. Subsequent operations on it return ErrNotFound.
func (s *MemoryStore) End(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sessionID]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, sessionID)
	}
	delete(s.sessions, sessionID)
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}

func (s *MemoryStore) lookup(sessionID string) (*entry, error) {
	s.mu.RLock()
	e, ok := s.sessions[sessionID]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, sessionID)
	}
	return e, nil
}

package conversation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestCreateAndGet(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	id, err := s.Create(ctx, "u1", "vet-general")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if id == "" {
		t.Fatal("Expected non-empty session id")
	}

	conv, err := s.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if conv.UserID != "u1" || conv.AssistantID != "vet-general" {
		t.Errorf("Unexpected conversation identity: %+v", conv)
	}
	if len(conv.Messages) != 0 {
		t.Errorf("Expected empty history, got %d messages", len(conv.Messages))
	}
}

func TestGetUnknownSession(t *testing.T) {
	s := NewMemoryStore()
	if _, err := s.Get(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
	if err := s.Append(context.Background(), "nope", Message{}); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound on append, got %v", err)
	}
	if err := s.SetExcerpt(context.Background(), "nope", "x"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound on set excerpt, got %v", err)
	}
}

func TestAppendPreservesOrder(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	id, _ := s.Create(ctx, "u1", "vet-general")

	for i := 0; i < 5; i++ {
		err := s.Append(ctx, id,
			Message{Role: RoleUser, Content: "q", TokenCount: 1, Timestamp: time.Now()},
			Message{Role: RoleAssistant, Content: "a", TokenCount: 1, Timestamp: time.Now()},
		)
		if err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	conv, err := s.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if len(conv.Messages) != 10 {
		t.Fatalf("Expected 10 messages, got %d", len(conv.Messages))
	}
	for i, msg := range conv.Messages {
		want := RoleUser
		if i%2 == 1 {
			want = RoleAssistant
		}
		if msg.Role != want {
			t.Errorf("Message %d: expected role %s, got %s", i, want, msg.Role)
		}
	}
}

func TestConcurrentAppendsSameSession(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	id, _ := s.Create(ctx, "u1", "vet-general")

	const turns = 50
	var wg sync.WaitGroup
	for i := 0; i < turns; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			// One turn appends user+assistant as a unit
			_ = s.Append(ctx, id,
				Message{Role: RoleUser, Content: "q", TokenCount: 1},
				Message{Role: RoleAssistant, Content: "a", TokenCount: 1},
			)
		}()
	}
	wg.Wait()

	conv, err := s.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if len(conv.Messages) != 2*turns {
		t.Fatalf("Expected %d messages, got %d", 2*turns, len(conv.Messages))
	}
	// Pairs must never interleave mid-turn
	for i := 0; i < len(conv.Messages); i += 2 {
		if conv.Messages[i].Role != RoleUser || conv.Messages[i+1].Role != RoleAssistant {
			t.Fatalf("Interleaved append at index %d: %s/%s", i, conv.Messages[i].Role, conv.Messages[i+1].Role)
		}
	}
}

func TestGetReturnsSnapshot(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	id, _ := s.Create(ctx, "u1", "vet-general")
	_ = s.Append(ctx, id, Message{Role: RoleUser, Content: "q"})

	snap, _ := s.Get(ctx, id)
	_ = s.Append(ctx, id, Message{Role: RoleAssistant, Content: "a"})

	if len(snap.Messages) != 1 {
		t.Errorf("Snapshot grew after later append: %d messages", len(snap.Messages))
	}
}

func TestSetExcerpt(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	id, _ := s.Create(ctx, "u1", "vet-exotics")

	if err := s.SetExcerpt(ctx, id, "lab results: all normal"); err != nil {
		t.Fatalf("SetExcerpt failed: %v", err)
	}
	conv, _ := s.Get(ctx, id)
	if conv.AttachedExcerpt != "lab results: all normal" {
		t.Errorf("Unexpected excerpt: %q", conv.AttachedExcerpt)
	}
}

func TestEndSession(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	id, _ := s.Create(ctx, "u1", "vet-general")

	if err := s.End(ctx, id); err != nil {
		t.Fatalf("End failed: %v", err)
	}
	if _, err := s.Get(ctx, id); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound after End, got %v", err)
	}
	if err := s.End(ctx, id); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound on double End, got %v", err)
	}
}

func TestSessionsIndependent(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	a, _ := s.Create(ctx, "u1", "vet-general")
	b, _ := s.Create(ctx, "u2", "vet-exotics")

	_ = s.Append(ctx, a, Message{Role: RoleUser, Content: "q"})

	conv, _ := s.Get(ctx, b)
	if len(conv.Messages) != 0 {
		t.Errorf("Append leaked across sessions: %d messages", len(conv.Messages))
	}
}

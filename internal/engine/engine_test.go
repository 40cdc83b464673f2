package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/GermanQuintana/vetassist/internal/assistant"
	"github.com/GermanQuintana/vetassist/internal/cache"
	"github.com/GermanQuintana/vetassist/internal/conversation"
	"github.com/GermanQuintana/vetassist/internal/ledger"
	"github.com/GermanQuintana/vetassist/internal/provider"
	"github.com/GermanQuintana/vetassist/internal/tokencount"
)

// fakeClient is a scripted upstream provider
type fakeClient struct {
	reply string
	err   error
	calls int
	last  []provider.Message
}

func (f *fakeClient) Complete(ctx context.Context, modelID string, messages []provider.Message) (*provider.Completion, error) {
	f.calls++
	f.last = messages
	if err := ctx.Err(); err != nil {
		return nil, &provider.Error{Backend: "fake", Retryable: true, Err: err}
	}
	if f.err != nil {
		return nil, f.err
	}
	return &provider.Completion{ReplyText: f.reply}, nil
}

func testAssistants() []assistant.Config {
	return []assistant.Config{
		{ID: "vet-general", DisplayName: "General", ModelID: "gpt-3.5-turbo", SystemPrompt: "You are a vet."},
		{ID: "vet-exotics", DisplayName: "Exotics", ModelID: "gpt-4", SystemPrompt: "You are an exotic animal vet.", AcceptsFiles: true},
	}
}

func newTestEngine(t *testing.T, client provider.Client) (*Engine, conversation.Store, ledger.Ledger) {
	t.Helper()
	registry, err := assistant.NewRegistry(testAssistants())
	if err != nil {
		t.Fatalf("Failed to build registry: %v", err)
	}
	store := conversation.NewMemoryStore()
	led := ledger.NewMemoryLedger()
	e, err := New(Deps{
		Registry:        registry,
		Store:           store,
		Ledger:          led,
		Counter:         tokencount.NewCounter(),
		Client:          client,
		Cache:           cache.NewMemoryCache(),
		MaxExcerptChars: 200,
		ProviderTimeout: time.Second,
	})
	if err != nil {
		t.Fatalf("Failed to build engine: %v", err)
	}
	return e, store, led
}

func TestTurnEndToEnd(t *testing.T) {
	client := &fakeClient{reply: "Check the paw pads."}
	e, store, _ := newTestEngine(t, client)
	ctx := context.Background()

	res, err := e.Turn(ctx, TurnRequest{
		UserID:      "u1",
		AssistantID: "vet-general",
		Message:     "My dog is limping",
	})
	if err != nil {
		t.Fatalf("Turn failed: %v", err)
	}
	if res.Reply != "Check the paw pads." {
		t.Errorf("Unexpected reply: %q", res.Reply)
	}
	if !res.Approximate {
		t.Error("Expected token counts to be flagged approximate")
	}

	conv, err := store.Get(ctx, res.SessionID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if len(conv.Messages) != 2 {
		t.Fatalf("Expected 2 messages, got %d", len(conv.Messages))
	}
	if conv.Messages[0].Role != conversation.RoleUser || conv.Messages[1].Role != conversation.RoleAssistant {
		t.Errorf("Unexpected roles: %s, %s", conv.Messages[0].Role, conv.Messages[1].Role)
	}

	// The ledger total must equal count(system+user prompt) + count(reply)
	counter := tokencount.NewCounter()
	promptTokens, _ := counter.CountMessages("gpt-3.5-turbo", []tokencount.Message{
		{Role: "system", Content: "You are a vet."},
		{Role: "user", Content: "My dog is limping"},
	})
	replyTokens, _ := counter.Count("gpt-3.5-turbo", "Check the paw pads.")
	want := int64(promptTokens + replyTokens)

	usage, err := e.Usage(ctx, "u1")
	if err != nil {
		t.Fatalf("Usage failed: %v", err)
	}
	if usage["vet-general"] != want {
		t.Errorf("Expected total %d, got %d", want, usage["vet-general"])
	}
	if res.TotalTokens != want || res.TurnTokens != want {
		t.Errorf("Result totals %d/%d do not match %d", res.TurnTokens, res.TotalTokens, want)
	}
}

func TestSecondTurnGrowsHistoryAndUsage(t *testing.T) {
	client := &fakeClient{reply: "Check the paw pads."}
	e, store, _ := newTestEngine(t, client)
	ctx := context.Background()

	first, err := e.Turn(ctx, TurnRequest{UserID: "u1", AssistantID: "vet-general", Message: "My dog is limping"})
	if err != nil {
		t.Fatalf("First turn failed: %v", err)
	}

	client.reply = "Rest and a vet visit."
	second, err := e.Turn(ctx, TurnRequest{
		UserID:      "u1",
		AssistantID: "vet-general",
		SessionID:   first.SessionID,
		Message:     "It got worse",
	})
	if err != nil {
		t.Fatalf("Second turn failed: %v", err)
	}
	if second.SessionID != first.SessionID {
		t.Errorf("Second turn changed session: %s vs %s", second.SessionID, first.SessionID)
	}
	if second.TotalTokens <= first.TotalTokens {
		t.Errorf("Expected usage to strictly increase: %d then %d", first.TotalTokens, second.TotalTokens)
	}

	conv, _ := store.Get(ctx, first.SessionID)
	if len(conv.Messages) != 4 {
		t.Errorf("Expected 4 messages after 2 turns, got %d", len(conv.Messages))
	}

	// Second prompt must include the first exchange:
	// system, user1, assistant1, user2
	if len(client.last) != 4 {
		t.Errorf("Expected 4 wire messages, got %d", len(client.last))
	}
}

func TestProviderFailureLeavesNoResidue(t *testing.T) {
	client := &fakeClient{reply: "hi"}
	e, store, led := newTestEngine(t, client)
	ctx := context.Background()

	ok, err := e.Turn(ctx, TurnRequest{UserID: "u1", AssistantID: "vet-general", Message: "hello"})
	if err != nil {
		t.Fatalf("Setup turn failed: %v", err)
	}

	client.err = &provider.Error{Backend: "fake", Retryable: true, Err: errors.New("upstream quota exceeded")}
	_, err = e.Turn(ctx, TurnRequest{
		UserID:      "u1",
		AssistantID: "vet-general",
		SessionID:   ok.SessionID,
		Message:     "are you there",
	})
	var pErr *provider.Error
	if !errors.As(err, &pErr) {
		t.Fatalf("Expected provider.Error, got %v", err)
	}

	conv, _ := store.Get(ctx, ok.SessionID)
	if len(conv.Messages) != 2 {
		t.Errorf("Failed turn mutated history: %d messages", len(conv.Messages))
	}
	total, _ := led.Get(ctx, "u1", "vet-general")
	if total != ok.TotalTokens {
		t.Errorf("Failed turn mutated ledger: %d vs %d", total, ok.TotalTokens)
	}
}

func TestCanceledTurnLeavesNoResidue(t *testing.T) {
	client := &fakeClient{reply: "hi"}
	e, store, led := newTestEngine(t, client)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.Turn(ctx, TurnRequest{UserID: "u1", AssistantID: "vet-general", Message: "hello"})
	if err == nil {
		t.Fatal("Expected canceled turn to fail")
	}

	total, _ := led.Get(context.Background(), "u1", "vet-general")
	if total != 0 {
		t.Errorf("Canceled turn billed %d tokens", total)
	}
	_ = store
}

func TestUnknownAssistant(t *testing.T) {
	e, _, _ := newTestEngine(t, &fakeClient{reply: "hi"})
	_, err := e.Turn(context.Background(), TurnRequest{UserID: "u1", AssistantID: "vet-dragons", Message: "hi"})
	if !errors.Is(err, assistant.ErrNotFound) {
		t.Errorf("Expected assistant.ErrNotFound, got %v", err)
	}
}

func TestUnknownSession(t *testing.T) {
	e, _, _ := newTestEngine(t, &fakeClient{reply: "hi"})
	_, err := e.Turn(context.Background(), TurnRequest{
		UserID: "u1", AssistantID: "vet-general", SessionID: "missing", Message: "hi",
	})
	if !errors.Is(err, conversation.ErrNotFound) {
		t.Errorf("Expected conversation.ErrNotFound, got %v", err)
	}
}

func TestForeignSessionLooksAbsent(t *testing.T) {
	client := &fakeClient{reply: "hi"}
	e, _, _ := newTestEngine(t, client)
	ctx := context.Background()

	res, err := e.Turn(ctx, TurnRequest{UserID: "u1", AssistantID: "vet-general", Message: "hi"})
	if err != nil {
		t.Fatalf("Turn failed: %v", err)
	}

	_, err = e.Turn(ctx, TurnRequest{
		UserID: "u2", AssistantID: "vet-general", SessionID: res.SessionID, Message: "hi",
	})
	if !errors.Is(err, conversation.ErrNotFound) {
		t.Errorf("Expected conversation.ErrNotFound for foreign session, got %v", err)
	}
}

func TestFileAttachment(t *testing.T) {
	client := &fakeClient{reply: "Interesting lab results."}
	e, store, _ := newTestEngine(t, client)
	ctx := context.Background()

	res, err := e.Turn(ctx, TurnRequest{
		UserID:      "u1",
		AssistantID: "vet-exotics",
		Message:     "What do you make of this?",
		File:        &FileUpload{Data: []byte("ALT: 52 U/L\nAST: 40 U/L"), MimeType: "text/plain"},
	})
	if err != nil {
		t.Fatalf("Turn failed: %v", err)
	}

	conv, _ := store.Get(ctx, res.SessionID)
	if conv.AttachedExcerpt == "" {
		t.Error("Expected excerpt to be stored")
	}

	// The excerpt must have reached the provider as context
	found := false
	for _, m := range client.last {
		if m.Role == "system" && len(m.Content) > 0 && m.Content != "You are an exotic animal vet." {
			found = true
		}
	}
	if !found {
		t.Error("Excerpt missing from assembled prompt")
	}
}

func TestFileRejectedByAssistant(t *testing.T) {
	e, _, _ := newTestEngine(t, &fakeClient{reply: "hi"})
	_, err := e.Turn(context.Background(), TurnRequest{
		UserID:      "u1",
		AssistantID: "vet-general", // does not accept files
		Message:     "look at this",
		File:        &FileUpload{Data: []byte("data"), MimeType: "text/plain"},
	})
	if !errors.Is(err, ErrFileNotAccepted) {
		t.Errorf("Expected ErrFileNotAccepted, got %v", err)
	}
}

func TestCacheHitStillBills(t *testing.T) {
	client := &fakeClient{reply: "Check the paw pads."}
	e, _, led := newTestEngine(t, client)
	ctx := context.Background()

	first, err := e.Turn(ctx, TurnRequest{UserID: "u1", AssistantID: "vet-general", Message: "My dog is limping"})
	if err != nil {
		t.Fatalf("Turn failed: %v", err)
	}
	// New session, identical prompt: served from cache
	_, err = e.Turn(ctx, TurnRequest{UserID: "u1", AssistantID: "vet-general", Message: "My dog is limping"})
	if err != nil {
		t.Fatalf("Turn failed: %v", err)
	}

	if client.calls != 1 {
		t.Errorf("Expected 1 upstream call, got %d", client.calls)
	}
	total, _ := led.Get(ctx, "u1", "vet-general")
	if total != 2*first.TotalTokens {
		t.Errorf("Cache hit not billed: total %d, expected %d", total, 2*first.TotalTokens)
	}
}

func TestEndSession(t *testing.T) {
	client := &fakeClient{reply: "hi"}
	e, store, _ := newTestEngine(t, client)
	ctx := context.Background()

	res, _ := e.Turn(ctx, TurnRequest{UserID: "u1", AssistantID: "vet-general", Message: "hi"})

	if err := e.EndSession(ctx, "u2", res.SessionID); !errors.Is(err, conversation.ErrNotFound) {
		t.Errorf("Expected foreign end to fail with ErrNotFound, got %v", err)
	}
	if err := e.EndSession(ctx, "u1", res.SessionID); err != nil {
		t.Fatalf("EndSession failed: %v", err)
	}
	if _, err := store.Get(ctx, res.SessionID); !errors.Is(err, conversation.ErrNotFound) {
		t.Errorf("Session survived EndSession: %v", err)
	}
}

func TestNewRejectsUnknownModelFamily(t *testing.T) {
	registry, _ := assistant.NewRegistry([]assistant.Config{
		{ID: "vet-general", ModelID: "palm-2", SystemPrompt: "You are a vet."},
	})
	_, err := New(Deps{
		Registry: registry,
		Store:    conversation.NewMemoryStore(),
		Ledger:   ledger.NewMemoryLedger(),
		Counter:  tokencount.NewCounter(),
		Client:   &fakeClient{},
		Cache:    cache.NewMemoryCache(),
	})
	if !errors.Is(err, tokencount.ErrUnsupportedModel) {
		t.Errorf("Expected ErrUnsupportedModel at startup, got %v", err)
	}
}

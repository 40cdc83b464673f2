// Package engine orchestrates one conversation turn: assemble the
// prompt, call the upstream provider, record the exchange and bill the
// tokens. A turn moves PREPARING -> PROMPTING -> COMPLETED or FAILED;
// any failure before COMPLETED leaves history and ledger exactly as
// they were.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/GermanQuintana/vetassist/internal/assistant"
	"github.com/GermanQuintana/vetassist/internal/cache"
	"github.com/GermanQuintana/vetassist/internal/conversation"
	"github.com/GermanQuintana/vetassist/internal/ingest"
	"github.com/GermanQuintana/vetassist/internal/ledger"
	"github.com/GermanQuintana/vetassist/internal/provider"
	"github.com/GermanQuintana/vetassist/internal/tokencount"
)

// ErrFileNotAccepted indicates an upload for an assistant whose
// configuration does not allow attachments
var ErrFileNotAccepted = errors.New("assistant does not accept file attachments")

// cacheTTL bounds how long an upstream reply is reused for an
// identical prompt
const cacheTTL = time.Hour

// FileUpload is a file supplied with a turn
type FileUpload struct {
	Data     []byte
	MimeType string
}

// TurnRequest is one user-message-in request. An empty SessionID
// starts a new session with the given assistant.
type TurnRequest struct {
	UserID      string
	AssistantID string
	SessionID   string
	Message     string
	File        *FileUpload
}

// TurnResult reports a completed turn
type TurnResult struct {
	SessionID   string `json:"session_id"`
	Reply       string `json:"reply"`
	TurnTokens  int64  `json:"turn_tokens"`
	TotalTokens int64  `json:"total_tokens"`
	// Approximate flags that token counts come from a heuristic
	// rather than the provider's billed tokenizer
	Approximate bool `json:"approximate"`
}

// Deps carries the collaborators the engine orchestrates
type Deps struct {
	Registry *assistant.Registry
	Store    conversation.Store
	Ledger   ledger.Ledger
	Counter  *tokencount.Counter
	Client   provider.Client
	Cache    cache.Cache
	Logger   *slog.Logger

	MaxExcerptChars int
	ProviderTimeout time.Duration

	Tracer trace.Tracer
	Meter  metric.Meter
}

// Engine runs conversation turns
type Engine struct {
	deps   Deps
	tokens metric.Int64Counter
	turns  metric.Float64Histogram
}

// New wires an engine and validates that every configured assistant's
// model resolves to a known token-counting family. A model outside the
// known families is a configuration defect and fails here, at startup,
// rather than on a user's request.
func New(deps Deps) (*Engine, error) {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Tracer == nil {
		deps.Tracer = otel.Tracer("vetassist")
	}
	if deps.Meter == nil {
		deps.Meter = otel.Meter("vetassist")
	}
	if deps.MaxExcerptChars <= 0 {
		deps.MaxExcerptChars = 4000
	}
	if deps.ProviderTimeout <= 0 {
		deps.ProviderTimeout = 60 * time.Second
	}

	for _, a := range deps.Registry.List() {
		if !deps.Counter.Supported(a.ModelID) {
			return nil, fmt.Errorf("assistant %s: %w: %s", a.ID, tokencount.ErrUnsupportedModel, a.ModelID)
		}
	}

	e := &Engine{deps: deps}
	e.tokens, _ = deps.Meter.Int64Counter("llm.usage.total_tokens",
		metric.WithDescription("Tokens billed to the usage ledger"))
	e.turns, _ = deps.Meter.Float64Histogram("chat.turn.duration",
		metric.WithDescription("Turn duration in milliseconds"))
	return e, nil
}

// Turn runs one full turn and returns the reply plus updated usage.
// On any error the conversation history and the ledger are unchanged.
func (e *Engine) Turn(ctx context.Context, req TurnRequest) (*TurnResult, error) {
	ctx, span := e.deps.Tracer.Start(ctx, "chat_turn")
	defer span.End()

	start := time.Now()

	// PREPARING: resolve assistant and session, ingest any upload,
	// assemble the prompt
	asst, err := e.deps.Registry.Get(req.AssistantID)
	if err != nil {
		return nil, err
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID, err = e.deps.Store.Create(ctx, req.UserID, asst.ID)
		if err != nil {
			return nil, err
		}
		e.deps.Logger.Info("created session",
			"session_id", sessionID, "user_id", req.UserID, "assistant_id", asst.ID)
	}

	if req.File != nil {
		if !asst.AcceptsFiles {
			return nil, fmt.Errorf("%w: %s", ErrFileNotAccepted, asst.ID)
		}
		excerpt, err := ingest.Ingest(req.File.Data, req.File.MimeType, e.deps.MaxExcerptChars)
		if err != nil {
			return nil, err
		}
		if err := e.deps.Store.SetExcerpt(ctx, sessionID, excerpt); err != nil {
			return nil, err
		}
	}

	conv, err := e.deps.Store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	// A session belongs to one (user, assistant) pairing; a foreign
	// session id is indistinguishable from an unknown one
	if conv.UserID != req.UserID || conv.AssistantID != req.AssistantID {
		return nil, fmt.Errorf("%w: %s", conversation.ErrNotFound, sessionID)
	}

	prompt := buildPrompt(asst, conv, req.Message)

	// PROMPTING: bounded upstream call, via the response cache
	reply, err := e.complete(ctx, asst.ModelID, prompt)
	if err != nil {
		e.deps.Logger.Error("turn failed",
			"session_id", sessionID, "assistant_id", asst.ID, "error", err)
		return nil, err
	}

	// COMPLETED: count once, append user then assistant, then bill.
	// The user message carries the full prompt count (what the
	// upstream bills for input), the assistant message its reply
	// count. A crash between append and Add undercounts usage but
	// never corrupts it; no partial increment exists.
	promptTokens, err := e.deps.Counter.CountMessages(asst.ModelID, prompt)
	if err != nil {
		return nil, err
	}
	replyTokens, err := e.deps.Counter.Count(asst.ModelID, reply)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	err = e.deps.Store.Append(ctx, sessionID,
		conversation.Message{Role: conversation.RoleUser, Content: req.Message, TokenCount: promptTokens, Timestamp: now},
		conversation.Message{Role: conversation.RoleAssistant, Content: reply, TokenCount: replyTokens, Timestamp: now},
	)
	if err != nil {
		return nil, err
	}

	turnTokens := int64(promptTokens + replyTokens)
	if err := e.deps.Ledger.Add(ctx, req.UserID, asst.ID, turnTokens); err != nil {
		return nil, err
	}
	total, err := e.deps.Ledger.Get(ctx, req.UserID, asst.ID)
	if err != nil {
		return nil, err
	}

	if e.tokens != nil {
		e.tokens.Add(ctx, turnTokens)
	}
	if e.turns != nil {
		e.turns.Record(ctx, float64(time.Since(start).Milliseconds()))
	}
	e.deps.Logger.Info("turn completed",
		"session_id", sessionID, "assistant_id", asst.ID,
		"turn_tokens", turnTokens, "total_tokens", total)

	return &TurnResult{
		SessionID:   sessionID,
		Reply:       reply,
		TurnTokens:  turnTokens,
		TotalTokens: total,
		Approximate: e.deps.Counter.Approximate(),
	}, nil
}

// EndSession destroys a session after verifying it belongs to the user
func (e *Engine) EndSession(ctx context.Context, userID, sessionID string) error {
	conv, err := e.deps.Store.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if conv.UserID != userID {
		return fmt.Errorf("%w: %s", conversation.ErrNotFound, sessionID)
	}
	return e.deps.Store.End(ctx, sessionID)
}

// Usage returns all assistant totals for a user
func (e *Engine) Usage(ctx context.Context, userID string) (map[string]int64, error) {
	return e.deps.Ledger.GetAll(ctx, userID)
}

// complete resolves the reply from cache or the upstream provider.
// Cache hits do not reach the upstream but are still billed: the
// ledger accounts messages attributed, not network calls made.
func (e *Engine) complete(ctx context.Context, modelID string, prompt []tokencount.Message) (string, error) {
	contents := make([]string, len(prompt))
	for i, m := range prompt {
		contents[i] = m.Role + ":" + m.Content
	}
	key := cache.Key(modelID, contents)

	if cached, err := e.deps.Cache.Get(ctx, key); err == nil {
		e.deps.Logger.Debug("cache hit", "key", key[:16])
		return cached, nil
	}

	wire := make([]provider.Message, len(prompt))
	for i, m := range prompt {
		wire[i] = provider.Message{Role: m.Role, Content: m.Content}
	}

	callCtx, cancel := context.WithTimeout(ctx, e.deps.ProviderTimeout)
	defer cancel()

	completion, err := e.deps.Client.Complete(callCtx, modelID, wire)
	if err != nil {
		return "", err
	}

	if err := e.deps.Cache.Set(ctx, key, completion.ReplyText, cacheTTL); err != nil {
		e.deps.Logger.Warn("failed to cache reply", "error", err)
	}
	return completion.ReplyText, nil
}

// buildPrompt assembles system prompt, attached excerpt, history and
// the new user message, in that order
func buildPrompt(asst assistant.Config, conv *conversation.Conversation, userMessage string) []tokencount.Message {
	prompt := make([]tokencount.Message, 0, len(conv.Messages)+3)
	if asst.SystemPrompt != "" {
		prompt = append(prompt, tokencount.Message{Role: conversation.RoleSystem, Content: asst.SystemPrompt})
	}
	if conv.AttachedExcerpt != "" {
		prompt = append(prompt, tokencount.Message{
			Role:    conversation.RoleSystem,
			Content: "The user attached a document. Its contents:\n" + conv.AttachedExcerpt,
		})
	}
	for _, m := range conv.Messages {
		prompt = append(prompt, tokencount.Message{Role: m.Role, Content: m.Content})
	}
	prompt = append(prompt, tokencount.Message{Role: conversation.RoleUser, Content: userMessage})
	return prompt
}

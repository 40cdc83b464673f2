// Package tokencount estimates token consumption for the model families the
// configured assistants can use. Counts are deterministic heuristics, not the
// provider's exact tokenizer; callers that report them must label them as
// approximate.
package tokencount

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// ErrUnsupportedModel indicates a model id outside the known families.
// This is a configuration defect: assistants are validated at startup,
// so it should not surface at request time.
var ErrUnsupportedModel = errors.New("unsupported model family")

// Message is a chat message for token counting
type Message struct {
	Role    string
	Content string
}

// family holds the counting rules for one model family
type family struct {
	name          string
	charsPerToken int
	perMessage    int // fixed framing overhead per message
	perRequest    int // fixed priming overhead per request
}

// Family prefixes are matched against the model id in order.
// Ratios follow the common ~4 chars/token rule for English text;
// per-message overhead covers role and separator tokens.
var families = []family{
	{name: "gpt-4", charsPerToken: 4, perMessage: 3, perRequest: 3},
	{name: "gpt-3.5", charsPerToken: 4, perMessage: 3, perRequest: 3},
	{name: "grok", charsPerToken: 4, perMessage: 3, perRequest: 3},
	{name: "claude", charsPerToken: 4, perMessage: 4, perRequest: 3},
	{name: "llama", charsPerToken: 4, perMessage: 4, perRequest: 2},
	{name: "mistral", charsPerToken: 4, perMessage: 4, perRequest: 2},
}

// Counter maps text to estimated token counts per model family
type Counter struct{}

// NewCounter creates a token counter
func NewCounter() *Counter {
	return &Counter{}
}

// Supported reports whether the model id resolves to a known family.
// Used at startup to reject misconfigured assistants before they can
// fail a request.
func (c *Counter) Supported(modelID string) bool {
	_, err := familyFor(modelID)
	return err == nil
}

// Approximate reports that counts are heuristic rather than billed-exact
func (c *Counter) Approximate() bool {
	return true
}

// Count estimates tokens in a single text string.
// Deterministic for a given (modelID, text) pair.
func (c *Counter) Count(modelID, text string) (int, error) {
	f, err := familyFor(modelID)
	if err != nil {
		return 0, err
	}
	return estimate(text, f.charsPerToken), nil
}

// CountMessages estimates tokens for a full conversation, including the
// family's per-message framing overhead. Never less than the sum of the
// individual content counts.
func (c *Counter) CountMessages(modelID string, msgs []Message) (int, error) {
	f, err := familyFor(modelID)
	if err != nil {
		return 0, err
	}
	total := f.perRequest
	for _, m := range msgs {
		total += f.perMessage
		total += estimate(m.Content, f.charsPerToken)
		total += estimate(m.Role, f.charsPerToken)
	}
	return total, nil
}

func familyFor(modelID string) (family, error) {
	id := strings.ToLower(modelID)
	for _, f := range families {
		if strings.HasPrefix(id, f.name) {
			return f, nil
		}
	}
	return family{}, fmt.Errorf("%w: %s", ErrUnsupportedModel, modelID)
}

// estimate rounds runes/charsPerToken up so short non-empty
// strings never count as zero
func estimate(text string, charsPerToken int) int {
	n := utf8.RuneCountInString(text)
	if n == 0 {
		return 0
	}
	return (n + charsPerToken - 1) / charsPerToken
}

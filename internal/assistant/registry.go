package assistant

import (
	"errors"
	"fmt"
)

// ErrNotFound indicates an unknown assistant id
var ErrNotFound = errors.New("assistant not found")

// Config describes one preconfigured assistant persona.
// Immutable after registry construction.
type Config struct {
	ID           string `json:"id"`
	DisplayName  string `json:"display_name"`
	ModelID      string `json:"model_id"`
	SystemPrompt string `json:"system_prompt"`
	AcceptsFiles bool   `json:"accepts_files"`
}

// Registry is a read-only lookup of assistant configurations,
// populated once at process start.
type Registry struct {
	byID  map[string]Config
	order []string
}

// NewRegistry builds a registry from the configured assistants,
// preserving their configured order for List.
func NewRegistry(configs []Config) (*Registry, error) {
	r := &Registry{
		byID:  make(map[string]Config, len(configs)),
		order: make([]string, 0, len(configs)),
	}
	for _, c := range configs {
		if c.ID == "" {
			return nil, fmt.Errorf("assistant with empty id")
		}
		if _, dup := r.byID[c.ID]; dup {
			return nil, fmt.Errorf("duplicate assistant id: %s", c.ID)
		}
		r.byID[c.ID] = c
		r.order = append(r.order, c.ID)
	}
	return r, nil
}

// Get returns the configuration for the given assistant id.
func (r *Registry) Get(id string) (Config, error) {
	c, ok := r.byID[id]
	if !ok {
		return Config{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return c, nil
}

// List returns all assistants in configured order.
func (r *Registry) List() []Config {
	out := make([]Config, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.byID[id])
	}
	return out
}

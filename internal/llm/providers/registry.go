// Package providers resolves provider ids to lazily constructed adapters.
package providers

import (
	"sync"

	"contract-backend/internal/llm"
	"contract-backend/internal/llm/claude"
	"contract-backend/internal/llm/gemini"
	"contract-backend/internal/shared/config"
)

// Constructor builds one provider adapter.
type Constructor func() (llm.Provider, error)

type entry struct {
	build    Constructor
	once     sync.Once
	provider llm.Provider
	err      error
}

func (e *entry) get() (llm.Provider, error) {
	e.once.Do(func() {
		e.provider, e.err = e.build()
	})
	return e.provider, e.err
}

// Registry maps the closed set of provider ids to adapters built on first use.
type Registry struct {
	entries map[llm.ProviderID]*entry
}

// NewRegistry registers constructors. Ids outside llm.ProviderIDs are ignored.
func NewRegistry(constructors map[llm.ProviderID]Constructor) *Registry {
	r := &Registry{entries: make(map[llm.ProviderID]*entry, len(constructors))}
	for _, id := range llm.ProviderIDs() {
		if build, ok := constructors[id]; ok && build != nil {
			r.entries[id] = &entry{build: build}
		}
	}
	return r
}

// FromConfig registers the Claude and Gemini adapters with cfg's credentials.
func FromConfig(cfg config.Config) *Registry {
	policy := cfg.RetryPolicy()
	return NewRegistry(map[llm.ProviderID]Constructor{
		llm.ProviderClaude: func() (llm.Provider, error) {
			return claude.NewClient(claude.Config{
				APIKey:    cfg.AnthropicAPIKey,
				Model:     cfg.AnthropicModel,
				BaseURL:   cfg.AnthropicBaseURL,
				MaxTokens: cfg.AnthropicMaxTokens,
				Policy:    policy,
			})
		},
		llm.ProviderGemini: func() (llm.Provider, error) {
			return gemini.NewClient(gemini.Config{
				APIKey:    cfg.GeminiAPIKey,
				Model:     cfg.GeminiModel,
				MaxTokens: cfg.GeminiMaxTokens,
				Policy:    policy,
			})
		},
	})
}

// Resolve returns the adapter for id. Unknown ids fail with
// *llm.UnsupportedProviderError before anything is constructed.
func (r *Registry) Resolve(id string) (llm.Provider, error) {
	pid, ok := llm.ParseProviderID(id)
	if !ok {
		return nil, &llm.UnsupportedProviderError{ID: id}
	}
	e, ok := r.entries[pid]
	if !ok {
		return nil, &llm.UnsupportedProviderError{ID: id}
	}
	return e.get()
}

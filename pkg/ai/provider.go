// Package ai defines the prompt provider contract consumed by agent nodes
// and ships clients for Azure OpenAI and OpenAI-compatible endpoints.
// Providers are registered by name; a node's provider config selects one.
package ai

import (
	"context"
	"sort"
	"sync"

	"github.com/flowstack/flowstack/pkg/apperrors"
)

// Usage reports token consumption for one prompt execution.
type Usage struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
	TotalTokens      int `json:"totalTokens"`
}

// Result is the uniform outcome of a prompt execution.
type Result struct {
	Success bool   `json:"success"`
	Output  string `json:"output"`
	Error   string `json:"error,omitempty"`
	Usage   *Usage `json:"usage,omitempty"`
}

// PromptProvider executes a text prompt against some model. Failures are
// assumed idempotent and therefore retryable by the engine.
type PromptProvider interface {
	ExecutePrompt(ctx context.Context, prompt, systemPrompt string) (*Result, error)
}

// Registry holds named providers. The zero name resolves to the default
// provider, which is the first one registered unless overridden.
type Registry struct {
	mu          sync.RWMutex
	providers   map[string]PromptProvider
	defaultName string
}

// NewRegistry creates an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]PromptProvider)}
}

// Register makes a provider selectable by name.
func (r *Registry) Register(name string, provider PromptProvider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[name] = provider
	if r.defaultName == "" {
		r.defaultName = name
	}
}

// SetDefault overrides which provider unnamed agent nodes use.
func (r *Registry) SetDefault(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defaultName = name
}

// Get returns the provider for the given name, or the default when name
// is empty.
func (r *Registry) Get(name string) (PromptProvider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if name == "" {
		name = r.defaultName
	}
	provider, ok := r.providers[name]
	if !ok {
		return nil, apperrors.Newf(apperrors.CodeProvider, "ai", "prompt provider %q not registered", name)
	}
	return provider, nil
}

// Names returns the registered provider names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.providers))
	for name := range r.providers {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

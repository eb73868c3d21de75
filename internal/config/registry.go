package config

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/echoverse/pkg/provider/llm"
	"github.com/MrWong99/echoverse/pkg/provider/tts"
)

var (
	// ErrProviderNotRegistered is returned by Create* methods when no factory has
	// been registered under the requested provider name.
	ErrProviderNotRegistered = errors.New("config: provider not registered")

	// ErrMissingCredentials is returned by factories when the entry lacks the
	// credentials its backend needs. Callers treat the provider as absent and
	// let the dependent stage degrade.
	ErrMissingCredentials = errors.New("config: missing credentials")
)

// LLMFactory builds an LLM provider from its config entry.
type LLMFactory func(ProviderEntry) (llm.Provider, error)

// TTSFactory builds a TTS provider from its config entry.
type TTSFactory func(ProviderEntry) (tts.Provider, error)

// Registry maps provider names to their constructor functions for each
// provider type. It is safe for concurrent use.
type Registry struct {
	mu  sync.RWMutex
	llm map[string]LLMFactory
	tts map[string]TTSFactory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		llm: make(map[string]LLMFactory),
		tts: make(map[string]TTSFactory),
	}
}

// RegisterLLM registers an LLM provider factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterLLM(name string, factory LLMFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.llm[name] = factory
}

// RegisterTTS registers a TTS provider factory under name.
func (r *Registry) RegisterTTS(name string, factory TTSFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tts[name] = factory
}

// CreateLLM instantiates an LLM provider using the factory registered under entry.Name.
// Returns [ErrProviderNotRegistered] if no factory has been registered for that name.
func (r *Registry) CreateLLM(entry ProviderEntry) (llm.Provider, error) {
	r.mu.RLock()
	factory, ok := r.llm[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: llm/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateTTS instantiates a TTS provider using the factory registered under entry.Name.
func (r *Registry) CreateTTS(entry ProviderEntry) (tts.Provider, error) {
	r.mu.RLock()
	factory, ok := r.tts[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: tts/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// LLMNames returns the registered LLM provider names, sorted.
func (r *Registry) LLMNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.llm))
	for n := range r.llm {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// TTSNames returns the registered TTS provider names, sorted.
func (r *Registry) TTSNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tts))
	for n := range r.tts {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

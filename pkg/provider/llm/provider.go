// Package llm defines the Provider interface for text-generation backends.
//
// An LLM provider wraps a hosted model API (IBM watsonx.ai, OpenAI, or any
// backend reachable through any-llm-go) and exposes a single blocking
// completion call. EchoVerse uses it twice per run at most: once to rewrite
// the input in the requested tone and once to translate the rewritten text.
//
// Implementors must be safe for concurrent use.
package llm

import (
	"context"
	"errors"
)

// ErrMalformedResponse is wrapped by providers when the backend answered but
// the response could not be interpreted (unexpected shape, no choices, no
// results). Any other error returned by Complete is treated as a transport
// or service failure by callers.
var ErrMalformedResponse = errors.New("llm: malformed response")

// Usage holds token accounting information returned by the LLM backend.
type Usage struct {
	// PromptTokens is the number of tokens consumed by the input.
	PromptTokens int

	// CompletionTokens is the number of tokens generated in the response.
	CompletionTokens int

	// TotalTokens is PromptTokens + CompletionTokens.
	TotalTokens int
}

// CompletionRequest carries everything the LLM needs to produce a response.
// Callers should treat a zero-value request as invalid; at minimum Messages must
// be non-empty.
type CompletionRequest struct {
	// SystemPrompt is an optional high-priority instruction. Chat backends send
	// it as a "system" message; prompt-only backends such as watsonx prepend it
	// to the flattened input.
	SystemPrompt string

	// Messages is the ordered conversation. EchoVerse always sends a single
	// "user" message holding the delimited text to transform.
	Messages []Message

	// Temperature controls output randomness. Nil means provider default;
	// an explicit zero is forwarded.
	Temperature *float64

	// MaxTokens caps the number of generated tokens. Zero means provider default.
	MaxTokens int
}

// CompletionResponse is returned by Complete.
type CompletionResponse struct {
	// Content is the full generated text, untrimmed.
	Content string

	// Usage contains token accounting for this request/response pair.
	Usage Usage
}

// Provider is the abstraction over any LLM backend.
type Provider interface {
	// Complete sends req to the model and waits for the full response.
	//
	// Returns an error if the request fails, the response is malformed (wrapping
	// ErrMalformedResponse), or ctx is cancelled before the completion arrives.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// Capabilities returns static metadata describing the underlying model.
	Capabilities() ModelCapabilities
}

// Package textgen runs a single LLM completion as a degradable pipeline stage.
//
// The rewriter and the translator share the same policy: exactly one call,
// the trimmed completion on success, and the caller's input unchanged (with a
// typed reason) on any failure or when no provider is configured.
package textgen

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/MrWong99/echoverse/internal/outcome"
	"github.com/MrWong99/echoverse/pkg/provider/llm"
)

// Params are the generation parameters sent with every completion.
type Params struct {
	// MaxNewTokens caps the generated length. Zero means provider default.
	MaxNewTokens int

	// Temperature controls sampling randomness. Nil means provider default.
	Temperature *float64
}

// DefaultParams mirrors the tuned defaults for the granite instruct model.
var DefaultParams = Params{MaxNewTokens: 300, Temperature: new(0.7)}

// Generator executes one completion per call. A nil provider means the
// backing service is not configured.
type Generator struct {
	stage    string
	provider llm.Provider
	params   Params
}

// New creates a Generator for the named stage. provider may be nil.
func New(stage string, provider llm.Provider, params Params) *Generator {
	return &Generator{stage: stage, provider: provider, params: params}
}

// Configured reports whether a provider is attached.
func (g *Generator) Configured() bool {
	return g.provider != nil
}

// Generate sends systemPrompt and userMessage to the provider and returns the
// trimmed completion. On any failure it returns fallback.
func (g *Generator) Generate(ctx context.Context, systemPrompt, userMessage, fallback string) outcome.Outcome[string] {
	if g.provider == nil {
		slog.DebugContext(ctx, "text generation not configured, passing input through", "stage", g.stage)
		return outcome.Fallback(fallback, outcome.ReasonNotConfigured, nil)
	}

	maxTokens := g.budget(ctx, systemPrompt, userMessage)
	resp, err := g.provider.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: systemPrompt,
		Messages:     []llm.Message{llm.UserMessage(userMessage)},
		MaxTokens:    maxTokens,
		Temperature:  g.params.Temperature,
	})
	if err != nil {
		reason := outcome.ReasonTransport
		if errors.Is(err, llm.ErrMalformedResponse) {
			reason = outcome.ReasonMalformed
		}
		slog.WarnContext(ctx, "text generation failed, passing input through", "stage", g.stage, "reason", reason, "err", err)
		return outcome.Fallback(fallback, reason, err)
	}
	if resp == nil {
		slog.WarnContext(ctx, "text generation returned no response", "stage", g.stage)
		return outcome.Fallback(fallback, outcome.ReasonMalformed, llm.ErrMalformedResponse)
	}

	out := strings.TrimSpace(resp.Content)
	if out == "" {
		slog.WarnContext(ctx, "text generation returned empty text, passing input through", "stage", g.stage)
		return outcome.Fallback(fallback, outcome.ReasonEmptyResult, nil)
	}
	return outcome.OK(out)
}

// budget returns the output token cap for one call, clamped to the model's
// output limit. Input likely to overflow the context window is only logged;
// the call still goes out and the backend decides.
func (g *Generator) budget(ctx context.Context, systemPrompt, userMessage string) int {
	caps := g.provider.Capabilities()
	maxTokens := g.params.MaxNewTokens
	if caps.MaxOutputTokens > 0 && maxTokens > caps.MaxOutputTokens {
		maxTokens = caps.MaxOutputTokens
	}
	if caps.ContextWindow > 0 {
		need := estimateTokens(systemPrompt) + estimateTokens(userMessage) + maxTokens
		if need > caps.ContextWindow {
			slog.WarnContext(ctx, "input likely exceeds model context window",
				"stage", g.stage, "estimated_tokens", need, "context_window", caps.ContextWindow)
		}
	}
	return maxTokens
}

// estimateTokens approximates the token count at four characters per token.
func estimateTokens(s string) int {
	return (utf8.RuneCountInString(s) + 3) / 4
}

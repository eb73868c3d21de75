// Package rewrite restyles text in a chosen narration tone using a hosted
// language model. When the model is unavailable or misbehaves the input is
// returned unchanged.
package rewrite

import (
	"context"
	"fmt"

	"github.com/MrWong99/echoverse/internal/outcome"
	"github.com/MrWong99/echoverse/internal/textgen"
	"github.com/MrWong99/echoverse/pkg/provider/llm"
)

const systemPrompt = "You rewrite user text in a specified tone while keeping the original meaning. " +
	"Keep the output concise and suitable for narration. Do not add new facts."

const userTemplate = "Rewrite the following text faithfully to the meaning while adapting the tone:\n\n<<<TEXT>>>\n%s\n<<<END>>>"

// Rewriter adapts text to a Tone. It is safe for concurrent use.
type Rewriter struct {
	gen *textgen.Generator
}

// New returns a Rewriter. provider may be nil when credentials are absent.
func New(provider llm.Provider, params textgen.Params) *Rewriter {
	return &Rewriter{gen: textgen.New("rewrite", provider, params)}
}

// Configured reports whether a model is attached.
func (r *Rewriter) Configured() bool {
	return r.gen.Configured()
}

// Rewrite returns text restyled in tone, or text unchanged with the reason
// when no rewrite could be obtained. Exactly one model call is made when a
// provider is configured. Unknown tones are treated as Neutral; callers
// validate selections with ParseTone.
func (r *Rewriter) Rewrite(ctx context.Context, text string, tone Tone) outcome.Outcome[string] {
	if !tone.Valid() {
		tone = Neutral
	}
	return r.gen.Generate(ctx, BuildSystemPrompt(tone), BuildUserMessage(text), text)
}

// BuildSystemPrompt combines the fixed rewrite instruction with the tone notes.
func BuildSystemPrompt(tone Tone) string {
	return fmt.Sprintf("%s\n\nTONE: %s\nTONE NOTES: %s", systemPrompt, tone, tone.Instruction())
}

// BuildUserMessage wraps text in the delimiters the prompt refers to.
func BuildUserMessage(text string) string {
	return fmt.Sprintf(userTemplate, text)
}

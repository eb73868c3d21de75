// Package translate renders narration text in a target language with a hosted
// language model, returning the input unchanged when that is not possible.
package translate

import (
	"context"
	"fmt"

	"github.com/MrWong99/echoverse/internal/outcome"
	"github.com/MrWong99/echoverse/internal/textgen"
	"github.com/MrWong99/echoverse/pkg/provider/llm"
)

const systemTemplate = "You are a professional translator. Translate the user's text into %s faithfully, " +
	"preserving meaning, tone and paragraph breaks. Return only the translated text, with no commentary."

const userTemplate = "<<<TEXT>>>\n%s\n<<<END>>>"

// Translator translates text. It is safe for concurrent use.
type Translator struct {
	gen *textgen.Generator
}

// New returns a Translator. provider may be nil when credentials are absent.
func New(provider llm.Provider, params textgen.Params) *Translator {
	return &Translator{gen: textgen.New("translate", provider, params)}
}

// Configured reports whether a model is attached.
func (t *Translator) Configured() bool {
	return t.gen.Configured()
}

// Translate returns text rendered in language, or text unchanged with the
// reason when no translation could be obtained. It does not decide whether
// translation is needed; the pipeline only calls it for non-English targets.
func (t *Translator) Translate(ctx context.Context, text, language string) outcome.Outcome[string] {
	return t.gen.Generate(ctx, fmt.Sprintf(systemTemplate, language), fmt.Sprintf(userTemplate, text), text)
}

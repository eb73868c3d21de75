package rewrite

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownTone is returned by ParseTone for names outside the tone set.
var ErrUnknownTone = errors.New("rewrite: unknown tone")

// Tone is one of the supported narration tones.
type Tone string

const (
	Neutral     Tone = "Neutral"
	Suspenseful Tone = "Suspenseful"
	Inspiring   Tone = "Inspiring"
)

var toneNotes = map[Tone]string{
	Neutral:     "Use a neutral, clear, informative tone with smooth flow.",
	Suspenseful: "Increase tension and anticipation; vary sentence length; end some lines with subtle hooks.",
	Inspiring:   "Make it uplifting and motivational; use positive, energetic language and forward momentum.",
}

// Tones returns the supported tones in display order.
func Tones() []Tone {
	return []Tone{Neutral, Suspenseful, Inspiring}
}

// ParseTone resolves a tone name case-insensitively.
func ParseTone(s string) (Tone, error) {
	for _, t := range Tones() {
		if strings.EqualFold(string(t), strings.TrimSpace(s)) {
			return t, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownTone, s)
}

// Instruction returns the style notes sent to the model for t.
func (t Tone) Instruction() string {
	return toneNotes[t]
}

// Valid reports whether t is one of the supported tones.
func (t Tone) Valid() bool {
	_, ok := toneNotes[t]
	return ok
}

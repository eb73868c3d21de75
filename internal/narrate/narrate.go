// Package narrate converts final narration text into MP3 audio through a
// hosted speech-synthesis service. It never returns an error: absent
// credentials, empty text and service failures all yield empty audio.
package narrate

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/MrWong99/echoverse/internal/outcome"
	"github.com/MrWong99/echoverse/pkg/provider/tts"
)

// Narrator synthesises speech. It is safe for concurrent use.
type Narrator struct {
	provider tts.Provider
}

// New returns a Narrator. provider may be nil when credentials are absent.
func New(provider tts.Provider) *Narrator {
	return &Narrator{provider: provider}
}

// Configured reports whether a speech service is attached.
func (n *Narrator) Configured() bool {
	return n.provider != nil
}

// Synthesize returns MP3 bytes for text spoken by voiceID. Empty or
// whitespace-only text yields empty audio without contacting the service.
// The text is sent as a single request; there is no retry or chunking.
func (n *Narrator) Synthesize(ctx context.Context, text, voiceID string) outcome.Outcome[[]byte] {
	text = strings.TrimSpace(text)
	if text == "" {
		return outcome.Fallback([]byte{}, outcome.ReasonEmptyInput, nil)
	}
	if n.provider == nil {
		slog.DebugContext(ctx, "speech synthesis not configured")
		return outcome.Fallback([]byte{}, outcome.ReasonNotConfigured, nil)
	}

	audio, err := n.provider.Synthesize(ctx, tts.Request{Text: text, VoiceID: voiceID, Format: tts.FormatMP3})
	if err != nil {
		reason := outcome.ReasonTransport
		if errors.Is(err, tts.ErrMalformedResponse) {
			reason = outcome.ReasonMalformed
		}
		slog.WarnContext(ctx, "speech synthesis failed", "voice", voiceID, "reason", reason, "err", err)
		return outcome.Fallback([]byte{}, reason, err)
	}
	if len(audio) == 0 {
		slog.WarnContext(ctx, "speech synthesis returned no audio", "voice", voiceID)
		return outcome.Fallback([]byte{}, outcome.ReasonEmptyResult, nil)
	}
	return outcome.OK(audio)
}

// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A TTS provider wraps a hosted speech synthesis service (IBM Watson Text to
// Speech, OpenAI speech, ElevenLabs) and turns one block of text into one
// encoded audio payload. EchoVerse always requests MP3 so the result can be
// offered for download unchanged.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"
	"errors"
)

// ErrMalformedResponse is wrapped by providers when the service answered but
// the payload is not usable audio (wrong content type, undecodable frames).
// Any other error returned by Synthesize is a transport or service failure.
var ErrMalformedResponse = errors.New("tts: malformed response")

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// Synthesize converts req.Text to audio in a single request and returns the
	// encoded bytes. Implementations must not retry or chunk the text.
	//
	// Returns an error if the service cannot be reached, rejects the request,
	// or ctx is cancelled.
	Synthesize(ctx context.Context, req Request) ([]byte, error)

	// ListVoices returns the voices the backend currently offers.
	ListVoices(ctx context.Context) ([]VoiceProfile, error)
}

package tts

// Format is the MIME type of the requested audio encoding.
type Format string

// FormatMP3 is the only format EchoVerse requests.
const FormatMP3 Format = "audio/mp3"

// Request is a single synthesis request.
type Request struct {
	// Text is the narration text. Callers trim it before sending.
	Text string

	// VoiceID is the provider-specific voice identifier.
	VoiceID string

	// Format is the desired audio encoding. Zero value means FormatMP3.
	Format Format
}

// OutputFormat returns r.Format, defaulting to FormatMP3.
func (r Request) OutputFormat() Format {
	if r.Format == "" {
		return FormatMP3
	}
	return r.Format
}

// VoiceProfile describes a voice offered by a TTS provider.
type VoiceProfile struct {
	// ID is the provider-specific voice identifier.
	ID string

	// Name is the human-readable voice name.
	Name string

	// Provider identifies which TTS provider this voice belongs to.
	Provider string

	// Language is the BCP-47 tag the voice speaks, when known (e.g. "en-US").
	Language string

	// Metadata holds provider-specific voice attributes (gender, accent, ...).
	Metadata map[string]string
}

package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrWong99/echoverse/internal/voice"
	"github.com/MrWong99/echoverse/pkg/provider/tts"
)

// voiceCheckTimeout bounds the startup voice listing.
const voiceCheckTimeout = 10 * time.Second

// missingVoices returns the catalog voice IDs that p does not list, in
// catalog order. A backend that lists no voices at all is not checked.
func missingVoices(ctx context.Context, catalog *voice.Catalog, p tts.Provider) ([]string, error) {
	offered, err := p.ListVoices(ctx)
	if err != nil {
		return nil, fmt.Errorf("app: list voices: %w", err)
	}
	if len(offered) == 0 {
		return nil, nil
	}
	known := make(map[string]struct{}, len(offered))
	for _, v := range offered {
		known[v.ID] = struct{}{}
	}
	var missing []string
	for _, lang := range catalog.Languages() {
		for _, id := range lang.Voices {
			if _, ok := known[id]; !ok {
				missing = append(missing, id)
			}
		}
	}
	return missing, nil
}

// verifyVoices warns about catalog voices the TTS backend does not offer.
// Narration with such a voice fails at synthesis time, so the warning is
// the earliest hint of a catalog/backend mismatch.
func (a *App) verifyVoices(ctx context.Context) {
	if a.providers.TTS == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, voiceCheckTimeout)
	defer cancel()

	missing, err := missingVoices(ctx, a.orch.Catalog(), a.providers.TTS)
	switch {
	case err != nil:
		slog.WarnContext(ctx, "could not verify catalog voices", "err", err)
	case len(missing) > 0:
		slog.WarnContext(ctx, "catalog voices not offered by tts backend", "voices", missing)
	default:
		slog.DebugContext(ctx, "catalog voices verified")
	}
}

package app

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/MrWong99/echoverse/internal/voice"
	"github.com/MrWong99/echoverse/pkg/provider/tts"
	ttsmock "github.com/MrWong99/echoverse/pkg/provider/tts/mock"
)

func TestMissingVoices(t *testing.T) {
	t.Parallel()

	catalog, err := voice.NewCatalog([]voice.Language{
		{Name: "English (US)", Code: "en-US", Voices: []string{"en-US_AllisonV3Voice", "en-US_MichaelV3Voice"}},
		{Name: "German", Code: "de-DE", Voices: []string{"de-DE_BirgitV3Voice"}},
	})
	if err != nil {
		t.Fatalf("NewCatalog: %v", err)
	}

	tests := []struct {
		name    string
		offered []tts.VoiceProfile
		want    []string
	}{
		{
			name: "all offered",
			offered: []tts.VoiceProfile{
				{ID: "de-DE_BirgitV3Voice"}, {ID: "en-US_MichaelV3Voice"}, {ID: "en-US_AllisonV3Voice"},
			},
		},
		{
			name:    "some missing in catalog order",
			offered: []tts.VoiceProfile{{ID: "en-US_MichaelV3Voice"}, {ID: "fr-FR_ReneeV3Voice"}},
			want:    []string{"en-US_AllisonV3Voice", "de-DE_BirgitV3Voice"},
		},
		{
			name: "empty listing is not checked",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p := &ttsmock.Provider{ListVoicesResult: tt.offered}
			got, err := missingVoices(context.Background(), catalog, p)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !slices.Equal(got, tt.want) {
				t.Errorf("missing = %v, want %v", got, tt.want)
			}
			if len(p.ListVoicesCalls) != 1 {
				t.Errorf("ListVoices calls = %d, want 1", len(p.ListVoicesCalls))
			}
		})
	}
}

func TestMissingVoices_ListError(t *testing.T) {
	t.Parallel()

	p := &ttsmock.Provider{ListVoicesErr: errors.New("unauthorized")}
	if _, err := missingVoices(context.Background(), voice.Default(), p); err == nil {
		t.Fatal("expected error")
	}
}

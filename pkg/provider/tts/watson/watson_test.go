package watson

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MrWong99/echoverse/pkg/provider/tts"
)

func newTestProvider(t *testing.T, h http.HandlerFunc) *Provider {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	p, err := New("key", WithBaseURL(srv.URL+"/"), WithHTTPClient(srv.Client()))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return p
}

func TestSynthesize(t *testing.T) {
	t.Parallel()

	var gotVoice, gotAccept string
	var gotBody synthesizeRequest
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != synthesizePath {
			t.Errorf("path = %q", r.URL.Path)
		}
		gotVoice = r.URL.Query().Get("voice")
		gotAccept = r.Header.Get("Accept")
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &gotBody)
		w.Header().Set("Content-Type", "audio/mp3")
		_, _ = w.Write([]byte("ID3fake"))
	})

	audio, err := p.Synthesize(context.Background(), tts.Request{Text: "Hello world.", VoiceID: "en-GB_KateV3Voice"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(audio) != "ID3fake" {
		t.Errorf("audio = %q", audio)
	}
	if gotVoice != "en-GB_KateV3Voice" {
		t.Errorf("voice = %q", gotVoice)
	}
	if gotAccept != "audio/mp3" {
		t.Errorf("Accept = %q", gotAccept)
	}
	if gotBody.Text != "Hello world." {
		t.Errorf("text = %q", gotBody.Text)
	}
}

func TestSynthesize_DefaultVoice(t *testing.T) {
	t.Parallel()

	var gotVoice string
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		gotVoice = r.URL.Query().Get("voice")
		w.Header().Set("Content-Type", "audio/mp3")
		_, _ = w.Write([]byte("x"))
	})
	if _, err := p.Synthesize(context.Background(), tts.Request{Text: "hi"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotVoice != DefaultVoice {
		t.Errorf("voice = %q, want %q", gotVoice, DefaultVoice)
	}
}

func TestSynthesize_ServiceError(t *testing.T) {
	t.Parallel()

	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"code":404,"error":"Model en-XX_NopeVoice not found","code_description":"Not Found"}`))
	})
	_, err := p.Synthesize(context.Background(), tts.Request{Text: "hi", VoiceID: "en-XX_NopeVoice"})
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "not found") {
		t.Errorf("error should carry the service message, got %v", err)
	}
	if errors.Is(err, tts.ErrMalformedResponse) {
		t.Error("service errors are not malformed responses")
	}
}

func TestSynthesize_NonAudioBody(t *testing.T) {
	t.Parallel()

	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html>proxy login</html>"))
	})
	_, err := p.Synthesize(context.Background(), tts.Request{Text: "hi"})
	if !errors.Is(err, tts.ErrMalformedResponse) {
		t.Fatalf("expected ErrMalformedResponse, got %v", err)
	}
}

func TestListVoices(t *testing.T) {
	t.Parallel()

	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != voicesPath {
			t.Errorf("path = %q", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"voices":[{"name":"en-US_LisaV3Voice","language":"en-US","gender":"female","description":"Lisa"}]}`))
	})
	voices, err := p.ListVoices(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(voices) != 1 {
		t.Fatalf("expected 1 voice, got %d", len(voices))
	}
	v := voices[0]
	if v.ID != "en-US_LisaV3Voice" || v.Language != "en-US" || v.Metadata["gender"] != "female" {
		t.Errorf("unexpected voice %+v", v)
	}
}

func TestNew_EmptyAPIKey(t *testing.T) {
	t.Parallel()
	if _, err := New(""); err == nil {
		t.Fatal("expected error for empty api key")
	}
}

package watsonx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MrWong99/echoverse/pkg/provider/llm"
)

func newTestProvider(t *testing.T, h http.HandlerFunc) *Provider {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	p, err := New("key", "proj-1", WithBaseURL(srv.URL), WithHTTPClient(srv.Client()))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return p
}

func TestComplete_RequestShape(t *testing.T) {
	t.Parallel()

	var got generationRequest
	var gotVersion string
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != generationPath {
			t.Errorf("path = %q", r.URL.Path)
		}
		gotVersion = r.URL.Query().Get("version")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		_, _ = w.Write([]byte(`{"model_id":"ibm/granite-13b-instruct-v2","results":[{"generated_text":" Rise and shine! ","generated_token_count":5,"input_token_count":40,"stop_reason":"eos_token"}]}`))
	})

	resp, err := p.Complete(context.Background(), llm.CompletionRequest{
		SystemPrompt: "SYSTEM",
		Messages:     []llm.Message{llm.UserMessage("USER")},
		MaxTokens:    300,
		Temperature:  new(0.7),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if resp.Content != " Rise and shine! " {
		t.Errorf("Content = %q", resp.Content)
	}
	if resp.Usage.TotalTokens != 45 {
		t.Errorf("TotalTokens = %d, want 45", resp.Usage.TotalTokens)
	}
	if gotVersion != DefaultAPIVersion {
		t.Errorf("version = %q", gotVersion)
	}
	if got.ModelID != DefaultModel {
		t.Errorf("model_id = %q", got.ModelID)
	}
	if got.ProjectID != "proj-1" {
		t.Errorf("project_id = %q", got.ProjectID)
	}
	if got.Input != "SYSTEM\n\nUSER" {
		t.Errorf("input = %q", got.Input)
	}
	if got.Parameters.DecodingMethod != "sample" || got.Parameters.MaxNewTokens != 300 {
		t.Errorf("parameters = %+v", got.Parameters)
	}
	if got.Parameters.Temperature == nil || *got.Parameters.Temperature != 0.7 {
		t.Errorf("temperature = %v", got.Parameters.Temperature)
	}
}

func TestComplete_Temperature(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		temp *float64
		want string
	}{
		{name: "unset is omitted", temp: nil, want: ""},
		{name: "explicit zero is sent", temp: new(0.0), want: "0"},
		{name: "value is sent", temp: new(1.2), want: "1.2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			params := make(chan map[string]json.RawMessage, 1)
			p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
				var body struct {
					Parameters map[string]json.RawMessage `json:"parameters"`
				}
				if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
					t.Errorf("decode: %v", err)
				}
				params <- body.Parameters
				_, _ = w.Write([]byte(`{"results":[{"generated_text":"ok"}]}`))
			})
			if _, err := p.Complete(context.Background(), llm.CompletionRequest{
				Messages:    []llm.Message{llm.UserMessage("x")},
				Temperature: tt.temp,
			}); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got := string((<-params)["temperature"]); got != tt.want {
				t.Errorf("temperature = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestComplete_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		status        int
		body          string
		wantMalformed bool
		wantSubstr    string
	}{
		{name: "api error", status: http.StatusUnauthorized, body: `{"errors":[{"code":"authentication_token_expired","message":"expired"}],"status_code":401}`, wantSubstr: "authentication_token_expired"},
		{name: "bare status", status: http.StatusBadGateway, body: `oops`, wantSubstr: "502"},
		{name: "not json", status: http.StatusOK, body: `<html>`, wantMalformed: true},
		{name: "no results", status: http.StatusOK, body: `{"results":[]}`, wantMalformed: true},
		{name: "missing text", status: http.StatusOK, body: `{"results":[{"stop_reason":"max_tokens"}]}`, wantMalformed: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			})
			_, err := p.Complete(context.Background(), llm.CompletionRequest{Messages: []llm.Message{llm.UserMessage("x")}})
			if err == nil {
				t.Fatal("expected error")
			}
			if got := errors.Is(err, llm.ErrMalformedResponse); got != tc.wantMalformed {
				t.Errorf("errors.Is(ErrMalformedResponse) = %v, want %v (err: %v)", got, tc.wantMalformed, err)
			}
			if tc.wantSubstr != "" && !strings.Contains(err.Error(), tc.wantSubstr) {
				t.Errorf("error %q should contain %q", err, tc.wantSubstr)
			}
		})
	}
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()
	if _, err := New("", "proj"); err == nil {
		t.Error("expected error for empty api key")
	}
	if _, err := New("key", ""); err == nil {
		t.Error("expected error for empty project id")
	}
}

func TestFlattenPrompt(t *testing.T) {
	t.Parallel()
	got := flattenPrompt(llm.CompletionRequest{Messages: []llm.Message{llm.UserMessage("a"), {Role: "user"}, llm.UserMessage("b")}})
	if got != "a\n\nb" {
		t.Errorf("flattenPrompt = %q", got)
	}
}

package rewrite

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/MrWong99/echoverse/internal/outcome"
	"github.com/MrWong99/echoverse/internal/textgen"
	"github.com/MrWong99/echoverse/pkg/provider/llm"
	"github.com/MrWong99/echoverse/pkg/provider/llm/mock"
)

func TestRewrite_NotConfiguredIsIdentity(t *testing.T) {
	t.Parallel()

	inputs := []string{"Hello world.", "", "  spaced  \n", "Ünïcödé ✓"}
	r := New(nil, textgen.DefaultParams)
	for _, tone := range Tones() {
		for _, in := range inputs {
			got := r.Rewrite(context.Background(), in, tone)
			if got.Value != in {
				t.Errorf("tone %s: Rewrite(%q) = %q, want identity", tone, in, got.Value)
			}
			if got.Reason != outcome.ReasonNotConfigured {
				t.Errorf("tone %s: reason = %v", tone, got.Reason)
			}
		}
	}
}

func TestRewrite_PromptShape(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{CompleteResponse: &llm.CompletionResponse{Content: " The night held its breath. "}}
	r := New(p, textgen.DefaultParams)

	got := r.Rewrite(context.Background(), "It was dark.", Suspenseful)
	if got.Value != "The night held its breath." || got.Degraded() {
		t.Fatalf("got %+v", got)
	}

	calls := p.Calls()
	if len(calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(calls))
	}
	req := calls[0].Req
	if !strings.Contains(req.SystemPrompt, "TONE: Suspenseful") {
		t.Errorf("system prompt missing tone: %q", req.SystemPrompt)
	}
	if !strings.Contains(req.SystemPrompt, Suspenseful.Instruction()) {
		t.Errorf("system prompt missing tone notes: %q", req.SystemPrompt)
	}
	if !strings.Contains(req.Messages[0].Content, "<<<TEXT>>>\nIt was dark.\n<<<END>>>") {
		t.Errorf("user message missing delimited text: %q", req.Messages[0].Content)
	}
}

func TestRewrite_FailureReturnsInput(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{CompleteErr: errors.New("503 service unavailable")}
	got := New(p, textgen.DefaultParams).Rewrite(context.Background(), "Keep me.", Inspiring)
	if got.Value != "Keep me." {
		t.Errorf("Value = %q", got.Value)
	}
	if got.Reason != outcome.ReasonTransport || got.Err == nil {
		t.Errorf("Reason = %v, Err = %v", got.Reason, got.Err)
	}
}

func TestParseTone(t *testing.T) {
	t.Parallel()

	for in, want := range map[string]Tone{"neutral": Neutral, " SUSPENSEFUL ": Suspenseful, "Inspiring": Inspiring} {
		got, err := ParseTone(in)
		if err != nil || got != want {
			t.Errorf("ParseTone(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseTone("Sarcastic"); !errors.Is(err, ErrUnknownTone) {
		t.Errorf("expected ErrUnknownTone, got %v", err)
	}
}

func TestInstructions(t *testing.T) {
	t.Parallel()

	for _, tone := range Tones() {
		if tone.Instruction() == "" {
			t.Errorf("tone %s has no instruction", tone)
		}
	}
	if Tone("Other").Valid() {
		t.Error("unexpected valid tone")
	}
}

func TestRewrite_UnknownToneFallsBackToNeutral(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "ok"}}
	New(p, textgen.DefaultParams).Rewrite(context.Background(), "x", Tone("Sarcastic"))
	if got := p.Calls()[0].Req.SystemPrompt; !strings.Contains(got, "TONE: Neutral") {
		t.Errorf("system prompt = %q", got)
	}
}

package pipeline

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/echoverse/internal/acquire"
	"github.com/MrWong99/echoverse/internal/history"
	"github.com/MrWong99/echoverse/internal/narrate"
	"github.com/MrWong99/echoverse/internal/observe"
	"github.com/MrWong99/echoverse/internal/outcome"
	"github.com/MrWong99/echoverse/internal/rewrite"
	"github.com/MrWong99/echoverse/internal/textgen"
	"github.com/MrWong99/echoverse/internal/translate"
	"github.com/MrWong99/echoverse/internal/voice"
	"github.com/MrWong99/echoverse/pkg/provider/llm"
	llmmock "github.com/MrWong99/echoverse/pkg/provider/llm/mock"
	"github.com/MrWong99/echoverse/pkg/provider/tts"
	ttsmock "github.com/MrWong99/echoverse/pkg/provider/tts/mock"
)

var fakeMP3 = []byte("ID3\x04\x00fake-mp3-frames")

// progressLog collects progress callbacks.
type progressLog struct {
	mu     sync.Mutex
	states []State
	steps  []int
	totals []int
}

func (p *progressLog) record(s State, step, total int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.states = append(p.states, s)
	p.steps = append(p.steps, step)
	p.totals = append(p.totals, total)
}

// fakeLLM answers rewrite and translation prompts differently so tests can
// tell the stages apart.
func fakeLLM(rewritten, translated string) *llmmock.Provider {
	return &llmmock.Provider{
		CompleteFunc: func(req llm.CompletionRequest) (*llm.CompletionResponse, error) {
			if strings.HasPrefix(req.SystemPrompt, "You are a professional translator.") {
				return &llm.CompletionResponse{Content: "  " + translated + "\n"}, nil
			}
			return &llm.CompletionResponse{Content: rewritten}, nil
		},
	}
}

func countTranslations(p *llmmock.Provider) int {
	n := 0
	for _, c := range p.Calls() {
		if strings.HasPrefix(c.Req.SystemPrompt, "You are a professional translator.") {
			n++
		}
	}
	return n
}

type fixture struct {
	llm     llm.Provider
	tts     tts.Provider
	catalog *voice.Catalog
	opts    []Option
}

func (f fixture) build(t *testing.T) *Orchestrator {
	t.Helper()
	catalog := f.catalog
	if catalog == nil {
		catalog = voice.Default()
	}
	o, err := New(
		catalog,
		acquire.New(),
		rewrite.New(f.llm, textgen.DefaultParams),
		translate.New(f.llm, textgen.DefaultParams),
		narrate.New(f.tts),
		append([]Option{WithMetrics(testMetrics(t))}, f.opts...)...,
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return o
}

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	m, _ := testMetricsWithReader(t)
	return m
}

func testMetricsWithReader(t *testing.T) (*observe.Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

func typed(s string) acquire.Source { return acquire.Source{Text: s} }

func TestRun_NoCredentials(t *testing.T) {
	t.Parallel()
	o := fixture{}.build(t)
	hist := history.New()
	var pl progressLog

	rep, err := o.Run(context.Background(), hist, Request{
		Source:   typed("Hello world."),
		Tone:     "Inspiring",
		Language: "English (US)",
		Voice:    "en-US_AllisonV3Voice",
	}, pl.record)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if rep.State != StateFailed {
		t.Errorf("State = %v, want failed", rep.State)
	}
	if rep.Rewrite.Value != "Hello world." || rep.Rewrite.Reason != outcome.ReasonNotConfigured {
		t.Errorf("Rewrite = %+v, want input with not_configured", rep.Rewrite)
	}
	if rep.Translate.Value != "Hello world." || rep.Translate.Reason != outcome.ReasonSkipped {
		t.Errorf("Translate = %+v, want skipped pass-through", rep.Translate)
	}
	if len(rep.Narrate.Value) != 0 || rep.Narrate.Reason != outcome.ReasonNotConfigured {
		t.Errorf("Narrate = %+v, want empty not_configured", rep.Narrate)
	}
	if rep.Document.Text != "Hello world." || rep.Document.Stage != StageFinal {
		t.Errorf("Document = %+v", rep.Document)
	}
	if rep.Result != nil {
		t.Error("failed run must not carry a result")
	}
	if hist.Len() != 0 {
		t.Errorf("history length = %d, want 0", hist.Len())
	}
	if len(rep.Warnings) < 2 {
		t.Errorf("warnings = %v, want rewrite and narration notices", rep.Warnings)
	}

	wantStates := []State{StateAcquiring, StateRewriting, StateNarrating, StateFailed}
	if !slices.Equal(pl.states, wantStates) {
		t.Errorf("progress states = %v, want %v", pl.states, wantStates)
	}
	if !slices.Equal(pl.steps, []int{1, 2, 3, 4}) {
		t.Errorf("progress steps = %v", pl.steps)
	}
	for _, total := range pl.totals {
		if total != 4 {
			t.Fatalf("progress totals = %v, want all 4", pl.totals)
		}
	}
}

func TestRun_EnglishCodeSkipsTranslation(t *testing.T) {
	t.Parallel()
	catalog, err := voice.NewCatalog([]voice.Language{
		{Name: "Canadian", Code: "en-CA", Voices: []string{"en-US_AllisonV3Voice"}},
		{Name: "Québécois", Code: "fr-CA", Voices: []string{"fr-CA_LouiseV3Voice"}},
	})
	if err != nil {
		t.Fatalf("NewCatalog: %v", err)
	}

	tests := []struct {
		language  string
		wantCalls int
	}{
		{language: "Canadian", wantCalls: 1},
		{language: "Québécois", wantCalls: 2},
	}
	for _, tt := range tests {
		t.Run(tt.language, func(t *testing.T) {
			t.Parallel()
			model := fakeLLM("Rewritten.", "Traduit.")
			speech := &ttsmock.Provider{SynthesizeResult: fakeMP3}
			o := fixture{llm: model, tts: speech, catalog: catalog, opts: []Option{WithDefaults(rewrite.Neutral, "Canadian")}}.build(t)

			rep, err := o.Run(context.Background(), history.New(), Request{Source: typed("Hello."), Language: tt.language}, nil)
			if err != nil {
				t.Fatalf("Run: %v", err)
			}
			if got := len(model.Calls()); got != tt.wantCalls {
				t.Errorf("model calls = %d, want %d", got, tt.wantCalls)
			}
			if rep.State != StateCompleted {
				t.Errorf("State = %v", rep.State)
			}
		})
	}
}

func TestRun_EnglishSkipsTranslation(t *testing.T) {
	t.Parallel()
	englishLanguages := []string{"English (US)", "English (UK)", "English (Australia)"}

	for _, lang := range englishLanguages {
		t.Run(lang, func(t *testing.T) {
			t.Parallel()
			model := fakeLLM("A bright, rewritten hello.", "should never be used")
			speech := &ttsmock.Provider{SynthesizeResult: fakeMP3}
			o := fixture{llm: model, tts: speech}.build(t)
			hist := history.New()

			rep, err := o.Run(context.Background(), hist, Request{
				Source: typed("Hello world."), Tone: "Inspiring", Language: lang,
			}, nil)
			if err != nil {
				t.Fatalf("Run: %v", err)
			}

			if got := countTranslations(model); got != 0 {
				t.Fatalf("translator invoked %d times for %s", got, lang)
			}
			if len(model.Calls()) != 1 {
				t.Fatalf("model calls = %d, want 1 (rewrite only)", len(model.Calls()))
			}
			if rep.Translate.Value != rep.Rewrite.Value {
				t.Errorf("final text %q != rewritten %q", rep.Translate.Value, rep.Rewrite.Value)
			}
			calls := speech.Calls()
			if len(calls) != 1 || calls[0].Req.Text != "A bright, rewritten hello." {
				t.Fatalf("narrator calls = %+v", calls)
			}
			if rep.State != StateCompleted {
				t.Errorf("State = %v, want completed", rep.State)
			}
		})
	}
}

func TestRun_NonEnglishTranslatesOnce(t *testing.T) {
	t.Parallel()
	model := fakeLLM("Un saludo reescrito.", "Hola mundo, con energía.")
	speech := &ttsmock.Provider{SynthesizeResult: fakeMP3}
	o := fixture{llm: model, tts: speech}.build(t)
	hist := history.New()
	var pl progressLog

	rep, err := o.Run(context.Background(), hist, Request{
		Source: typed("Hello world."), Tone: "suspenseful", Language: "Spanish", Voice: "es-ES_EnriqueV3Voice",
	}, pl.record)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got := countTranslations(model); got != 1 {
		t.Fatalf("translator invoked %d times, want 1", got)
	}
	calls := speech.Calls()
	if len(calls) != 1 {
		t.Fatalf("narrator calls = %d, want 1", len(calls))
	}
	if calls[0].Req.Text != "Hola mundo, con energía." {
		t.Errorf("narrator input = %q, want translated text", calls[0].Req.Text)
	}
	if calls[0].Req.VoiceID != "es-ES_EnriqueV3Voice" {
		t.Errorf("voice = %q", calls[0].Req.VoiceID)
	}
	if calls[0].Req.OutputFormat() != tts.FormatMP3 {
		t.Errorf("format = %q, want mp3", calls[0].Req.OutputFormat())
	}

	wantStates := []State{StateAcquiring, StateRewriting, StateTranslating, StateNarrating, StateCompleted}
	if !slices.Equal(pl.states, wantStates) {
		t.Errorf("progress states = %v, want %v", pl.states, wantStates)
	}
	if pl.totals[0] != 5 {
		t.Errorf("total = %d, want 5", pl.totals[0])
	}

	if rep.Tone != rewrite.Suspenseful {
		t.Errorf("Tone = %q, want Suspenseful", rep.Tone)
	}
	res, ok := hist.Latest()
	if !ok {
		t.Fatal("history is empty")
	}
	if res.Original != "Hello world." || res.Rewritten != "Un saludo reescrito." || res.Translated != "Hola mundo, con energía." {
		t.Errorf("result texts = %q / %q / %q", res.Original, res.Rewritten, res.Translated)
	}
	if res.Language != "Spanish" || res.Voice != "es-ES_EnriqueV3Voice" || res.Tone != "Suspenseful" {
		t.Errorf("result selection = %s / %s / %s", res.Language, res.Voice, res.Tone)
	}
}

func TestRun_CompletedAppendsExactlyOnce(t *testing.T) {
	t.Parallel()
	speech := &ttsmock.Provider{SynthesizeResult: fakeMP3}
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ids := []string{"run-1", "run-2", "run-3"}
	var next int
	o := fixture{tts: speech, opts: []Option{
		WithClock(func() time.Time { return fixed }),
		WithIDGenerator(func() string { id := ids[next]; next++; return id }),
	}}.build(t)
	hist := history.New()

	for i, text := range []string{"first", "second", "third"} {
		rep, err := o.Run(context.Background(), hist, Request{Source: typed(text)}, nil)
		if err != nil {
			t.Fatalf("Run %d: %v", i, err)
		}
		if rep.State != StateCompleted {
			t.Fatalf("Run %d state = %v", i, rep.State)
		}
		if hist.Len() != i+1 {
			t.Fatalf("after run %d history length = %d", i, hist.Len())
		}
		if rep.Result == nil || rep.Result.ID != ids[i] {
			t.Fatalf("Run %d result = %+v", i, rep.Result)
		}
	}

	list := hist.List()
	for i, want := range []string{"third", "second", "first"} {
		if list[i].Original != want {
			t.Errorf("List()[%d].Original = %q, want %q", i, list[i].Original, want)
		}
		if !list[i].CreatedAt.Equal(fixed) {
			t.Errorf("CreatedAt = %v", list[i].CreatedAt)
		}
		if string(list[i].Audio()) != string(fakeMP3) {
			t.Errorf("audio mismatch at %d", i)
		}
	}
}

func TestRun_FailedNarrationDoesNotAppend(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		speech *ttsmock.Provider
		want   outcome.Reason
	}{
		{"transport error", &ttsmock.Provider{SynthesizeErr: errors.New("503")}, outcome.ReasonTransport},
		{"malformed", &ttsmock.Provider{SynthesizeErr: tts.ErrMalformedResponse}, outcome.ReasonMalformed},
		{"empty audio", &ttsmock.Provider{SynthesizeResult: []byte{}}, outcome.ReasonEmptyResult},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			o := fixture{llm: fakeLLM("rewritten", "x"), tts: tc.speech}.build(t)
			hist := history.New()

			rep, err := o.Run(context.Background(), hist, Request{Source: typed("Hello.")}, nil)
			if err != nil {
				t.Fatalf("Run: %v", err)
			}
			if rep.State != StateFailed {
				t.Errorf("State = %v, want failed", rep.State)
			}
			if rep.Narrate.Reason != tc.want {
				t.Errorf("Narrate.Reason = %v, want %v", rep.Narrate.Reason, tc.want)
			}
			if hist.Len() != 0 {
				t.Errorf("history length = %d, want 0", hist.Len())
			}
		})
	}
}

func TestRun_DegradedRewriteCarriesForward(t *testing.T) {
	t.Parallel()
	model := &llmmock.Provider{CompleteErr: errors.New("connection refused")}
	speech := &ttsmock.Provider{SynthesizeResult: fakeMP3}
	o := fixture{llm: model, tts: speech}.build(t)
	hist := history.New()

	rep, err := o.Run(context.Background(), hist, Request{Source: typed("Keep me.")}, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.State != StateCompleted {
		t.Fatalf("State = %v, want completed", rep.State)
	}
	if rep.Rewrite.Reason != outcome.ReasonTransport {
		t.Errorf("Rewrite.Reason = %v, want transport", rep.Rewrite.Reason)
	}
	if speech.Calls()[0].Req.Text != "Keep me." {
		t.Errorf("narrator input = %q, want original", speech.Calls()[0].Req.Text)
	}
	if len(rep.Warnings) != 1 || !strings.Contains(rep.Warnings[0], "original text was kept") {
		t.Errorf("warnings = %v", rep.Warnings)
	}
	res, _ := hist.Latest()
	if res.Rewritten != "Keep me." {
		t.Errorf("Rewritten = %q", res.Rewritten)
	}
}

func TestRun_RejectsInvalidSelection(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		req  Request
		want error
	}{
		{"unknown tone", Request{Source: typed("hi"), Tone: "Sarcastic"}, rewrite.ErrUnknownTone},
		{"unknown language", Request{Source: typed("hi"), Language: "Klingon"}, voice.ErrUnknownLanguage},
		{"voice of another language", Request{Source: typed("hi"), Language: "German", Voice: "en-US_AllisonV3Voice"}, voice.ErrVoiceNotAllowed},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			model := fakeLLM("r", "t")
			speech := &ttsmock.Provider{SynthesizeResult: fakeMP3}
			o := fixture{llm: model, tts: speech}.build(t)
			var pl progressLog

			rep, err := o.Run(context.Background(), history.New(), tc.req, pl.record)
			if !errors.Is(err, tc.want) {
				t.Fatalf("err = %v, want %v", err, tc.want)
			}
			if rep != nil {
				t.Error("rejected run must not return a report")
			}
			if len(pl.states) != 0 {
				t.Errorf("progress = %v, want no transitions", pl.states)
			}
			if len(model.Calls()) != 0 || len(speech.Calls()) != 0 {
				t.Error("providers must not be called")
			}
		})
	}
}

func TestRun_NoText(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		src   acquire.Source
		cause error
	}{
		{"nothing", acquire.Source{}, acquire.ErrNoSource},
		{"whitespace", typed("  \n\t "), nil},
		{"unsupported file", acquire.Source{File: &acquire.File{Name: "story.odt", Data: []byte("x")}}, acquire.ErrUnsupportedFormat},
		{"empty txt file", acquire.Source{File: &acquire.File{Name: "empty.txt", Data: []byte{}}}, nil},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			model := fakeLLM("r", "t")
			o := fixture{llm: model, tts: &ttsmock.Provider{SynthesizeResult: fakeMP3}}.build(t)
			hist := history.New()
			var pl progressLog

			_, err := o.Run(context.Background(), hist, Request{Source: tc.src}, pl.record)
			if !errors.Is(err, ErrNoText) {
				t.Fatalf("err = %v, want ErrNoText", err)
			}
			if tc.cause != nil && !errors.Is(err, tc.cause) {
				t.Errorf("err = %v, want wrapped %v", err, tc.cause)
			}
			if slices.Contains(pl.states, StateRewriting) {
				t.Error("run must not enter rewriting")
			}
			if len(model.Calls()) != 0 {
				t.Error("model must not be called")
			}
			if hist.Len() != 0 {
				t.Error("history must stay empty")
			}
		})
	}
}

func TestRun_Defaults(t *testing.T) {
	t.Parallel()
	speech := &ttsmock.Provider{SynthesizeResult: fakeMP3}
	o := fixture{tts: speech, opts: []Option{WithDefaults(rewrite.Suspenseful, "German")}}.build(t)

	rep, err := o.Run(context.Background(), history.New(), Request{Source: typed("Guten Tag.")}, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.Tone != rewrite.Suspenseful {
		t.Errorf("Tone = %q", rep.Tone)
	}
	if rep.Selection != (voice.Selection{Language: "German", Code: "de-DE", Voice: "de-DE_BirgitV3Voice"}) {
		t.Errorf("Selection = %+v", rep.Selection)
	}
	// Translation runs for German but degrades without a model.
	if rep.Translate.Reason != outcome.ReasonNotConfigured {
		t.Errorf("Translate.Reason = %v, want not_configured", rep.Translate.Reason)
	}
}

func TestRun_RecordsMetrics(t *testing.T) {
	t.Parallel()
	m, reader := testMetricsWithReader(t)
	o := fixture{opts: []Option{WithMetrics(m)}}.build(t)

	if _, err := o.Run(context.Background(), history.New(), Request{Source: typed("Hi.")}, nil); err != nil {
		t.Fatalf("Run: %v", err)
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	found := map[string]bool{}
	for _, sm := range rm.ScopeMetrics {
		for _, met := range sm.Metrics {
			found[met.Name] = true
		}
	}
	for _, name := range []string{
		"echoverse.stage.duration",
		"echoverse.stage.degradations",
		"echoverse.runs",
		"echoverse.run.duration",
	} {
		if !found[name] {
			t.Errorf("metric %q not recorded", name)
		}
	}
}

func TestRun_NilHistory(t *testing.T) {
	t.Parallel()
	o := fixture{}.build(t)
	if _, err := o.Run(context.Background(), nil, Request{Source: typed("x")}, nil); err == nil {
		t.Fatal("expected error for nil history")
	}
}

func TestNew_RequiresComponents(t *testing.T) {
	t.Parallel()
	if _, err := New(nil, acquire.New(), rewrite.New(nil, textgen.DefaultParams),
		translate.New(nil, textgen.DefaultParams), narrate.New(nil)); err == nil {
		t.Fatal("expected error for nil catalog")
	}
}

func TestState_String(t *testing.T) {
	t.Parallel()
	tests := []struct {
		s    State
		want string
	}{
		{StateIdle, "idle"},
		{StateAcquiring, "acquiring"},
		{StateRewriting, "rewriting"},
		{StateTranslating, "translating"},
		{StateNarrating, "narrating"},
		{StateCompleted, "completed"},
		{StateFailed, "failed"},
		{State(42), "unknown"},
	}
	for _, tc := range tests {
		if got := tc.s.String(); got != tc.want {
			t.Errorf("State(%d).String() = %q, want %q", tc.s, got, tc.want)
		}
	}
	if !StateCompleted.Terminal() || !StateFailed.Terminal() || StateNarrating.Terminal() {
		t.Error("Terminal() misclassifies states")
	}
}

package app_test

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/MrWong99/echoverse/internal/app"
	"github.com/MrWong99/echoverse/internal/config"
	"github.com/MrWong99/echoverse/internal/resilience"
	"github.com/MrWong99/echoverse/pkg/provider/llm"
	llmmock "github.com/MrWong99/echoverse/pkg/provider/llm/mock"
	"github.com/MrWong99/echoverse/pkg/provider/tts"
	ttsmock "github.com/MrWong99/echoverse/pkg/provider/tts/mock"
)

func TestRegisterBuiltinProviders_Names(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	app.RegisterBuiltinProviders(reg)

	for _, name := range config.ValidProviderNames["llm"] {
		if !slices.Contains(reg.LLMNames(), name) {
			t.Errorf("llm provider %q is listed as valid but not registered", name)
		}
	}
	for _, name := range config.ValidProviderNames["tts"] {
		if !slices.Contains(reg.TTSNames(), name) {
			t.Errorf("tts provider %q is listed as valid but not registered", name)
		}
	}
}

func TestRegisterBuiltinProviders_MissingCredentials(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	app.RegisterBuiltinProviders(reg)

	llmEntries := []config.ProviderEntry{
		{Name: "watsonx"},
		{Name: "watsonx", APIKey: "k"}, // project_id missing
		{Name: "openai"},
	}
	for _, e := range llmEntries {
		if _, err := reg.CreateLLM(e); !errors.Is(err, config.ErrMissingCredentials) {
			t.Errorf("CreateLLM(%+v): got %v, want ErrMissingCredentials", e, err)
		}
	}
	for _, name := range []string{"watson", "openai", "elevenlabs"} {
		if _, err := reg.CreateTTS(config.ProviderEntry{Name: name}); !errors.Is(err, config.ErrMissingCredentials) {
			t.Errorf("CreateTTS(%q): got %v, want ErrMissingCredentials", name, err)
		}
	}
}

func TestRegisterBuiltinProviders_Constructs(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	app.RegisterBuiltinProviders(reg)

	p, err := reg.CreateLLM(config.ProviderEntry{
		Name:    "watsonx",
		APIKey:  "key",
		Model:   "ibm/granite-13b-instruct-v2",
		Options: map[string]any{"project_id": "proj", "timeout": "30s"},
	})
	if err != nil || p == nil {
		t.Fatalf("CreateLLM(watsonx): got (%v, %v)", p, err)
	}
	tp, err := reg.CreateTTS(config.ProviderEntry{Name: "watson", APIKey: "key", Options: map[string]any{"timeout": 20}})
	if err != nil || tp == nil {
		t.Fatalf("CreateTTS(watson): got (%v, %v)", tp, err)
	}
}

// fakeRegistry returns a registry whose factories hand out the given mocks
// by name and report missing credentials for entries without an API key.
func fakeRegistry(llms map[string]llm.Provider, ttss map[string]tts.Provider) *config.Registry {
	reg := config.NewRegistry()
	for name, p := range llms {
		reg.RegisterLLM(name, func(e config.ProviderEntry) (llm.Provider, error) {
			if e.APIKey == "" {
				return nil, config.ErrMissingCredentials
			}
			return p, nil
		})
	}
	for name, p := range ttss {
		reg.RegisterTTS(name, func(e config.ProviderEntry) (tts.Provider, error) {
			if e.APIKey == "" {
				return nil, config.ErrMissingCredentials
			}
			return p, nil
		})
	}
	return reg
}

func TestBuildProviders_NothingConfigured(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	reg := fakeRegistry(
		map[string]llm.Provider{"watsonx": &llmmock.Provider{}},
		map[string]tts.Provider{"watson": &ttsmock.Provider{}},
	)

	ps, err := app.BuildProviders(cfg, reg, testMetrics(t))
	if err != nil {
		t.Fatalf("BuildProviders: %v", err)
	}
	// Both slots must be true nil interfaces so the stages see "not configured".
	if ps.LLM != nil {
		t.Errorf("LLM: got %T, want nil", ps.LLM)
	}
	if ps.TTS != nil {
		t.Errorf("TTS: got %T, want nil", ps.TTS)
	}
}

func TestBuildProviders_SingleBackend(t *testing.T) {
	t.Parallel()
	lp := &llmmock.Provider{}
	cfg := &config.Config{Providers: config.ProvidersConfig{
		LLM: config.ProviderEntry{Name: "watsonx", APIKey: "k"},
		TTS: config.ProviderEntry{Name: "nope", APIKey: "k"},
	}}
	reg := fakeRegistry(map[string]llm.Provider{"watsonx": lp}, nil)

	ps, err := app.BuildProviders(cfg, reg, testMetrics(t))
	if err != nil {
		t.Fatalf("BuildProviders: %v", err)
	}
	if ps.LLM != lp {
		t.Errorf("LLM: got %T, want the mock itself", ps.LLM)
	}
	if ps.TTS != nil {
		t.Errorf("unregistered TTS must be skipped, got %T", ps.TTS)
	}
	if !slices.Equal(ps.LLMNames, []string{"watsonx"}) {
		t.Errorf("LLMNames: got %v", ps.LLMNames)
	}
}

func TestBuildProviders_FallbackChain(t *testing.T) {
	t.Parallel()
	primary := &ttsmock.Provider{SynthesizeErr: errors.New("watson down")}
	backup := &ttsmock.Provider{SynthesizeResult: []byte("ID3audio")}
	cfg := &config.Config{Providers: config.ProvidersConfig{
		TTS: config.ProviderEntry{Name: "watson", APIKey: "k"},
		TTSFallbacks: []config.ProviderEntry{
			{Name: "elevenlabs"}, // no key: skipped
			{Name: "openai", APIKey: "k"},
		},
	}}
	reg := fakeRegistry(nil, map[string]tts.Provider{
		"watson":     primary,
		"elevenlabs": &ttsmock.Provider{},
		"openai":     backup,
	})

	ps, err := app.BuildProviders(cfg, reg, testMetrics(t))
	if err != nil {
		t.Fatalf("BuildProviders: %v", err)
	}
	if !slices.Equal(ps.TTSNames, []string{"watson", "openai"}) {
		t.Errorf("TTSNames: got %v, want [watson openai]", ps.TTSNames)
	}
	if _, ok := ps.TTS.(*resilience.TTSFallback); !ok {
		t.Fatalf("TTS: got %T, want *resilience.TTSFallback", ps.TTS)
	}

	audio, err := ps.TTS.Synthesize(context.Background(), tts.Request{Text: "hi", VoiceID: "v"})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if string(audio) != "ID3audio" {
		t.Errorf("audio: got %q, want backup output", audio)
	}
	if len(primary.Calls()) != 1 || len(backup.Calls()) != 1 {
		t.Errorf("calls: primary=%d backup=%d, want 1 each", len(primary.Calls()), len(backup.Calls()))
	}
}

func TestBuildProviders_OneAttemptPerBackend(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		fallbacks []config.ProviderEntry
		wantCalls map[string]int
	}{
		{
			name:      "no fallbacks makes a single attempt",
			wantCalls: map[string]int{"watsonx": 1, "openai": 0},
		},
		{
			name:      "chain calls each backend once",
			fallbacks: []config.ProviderEntry{{Name: "openai", APIKey: "k"}},
			wantCalls: map[string]int{"watsonx": 1, "openai": 1},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			mocks := map[string]*llmmock.Provider{
				"watsonx": {CompleteErr: errors.New("watsonx down")},
				"openai":  {CompleteErr: errors.New("openai down")},
			}
			cfg := &config.Config{Providers: config.ProvidersConfig{
				LLM:          config.ProviderEntry{Name: "watsonx", APIKey: "k"},
				LLMFallbacks: tt.fallbacks,
			}}
			reg := fakeRegistry(map[string]llm.Provider{"watsonx": mocks["watsonx"], "openai": mocks["openai"]}, nil)

			ps, err := app.BuildProviders(cfg, reg, testMetrics(t))
			if err != nil {
				t.Fatalf("BuildProviders: %v", err)
			}
			if _, err := ps.LLM.Complete(context.Background(), llm.CompletionRequest{}); err == nil {
				t.Fatal("expected error when every backend fails")
			}
			for name, want := range tt.wantCalls {
				if got := len(mocks[name].Calls()); got != want {
					t.Errorf("%s calls = %d, want %d", name, got, want)
				}
			}
		})
	}
}

func TestBuildProviders_FallbackPromotedWhenPrimaryMissing(t *testing.T) {
	t.Parallel()
	backup := &llmmock.Provider{}
	cfg := &config.Config{Providers: config.ProvidersConfig{
		LLM:          config.ProviderEntry{Name: "watsonx"},
		LLMFallbacks: []config.ProviderEntry{{Name: "openai", APIKey: "k"}},
	}}
	reg := fakeRegistry(map[string]llm.Provider{"watsonx": &llmmock.Provider{}, "openai": backup}, nil)

	ps, err := app.BuildProviders(cfg, reg, testMetrics(t))
	if err != nil {
		t.Fatalf("BuildProviders: %v", err)
	}
	if ps.LLM != backup {
		t.Errorf("LLM: got %T, want the openai mock", ps.LLM)
	}
}

func TestBuildProviders_ConstructionError(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	reg.RegisterLLM("broken", func(config.ProviderEntry) (llm.Provider, error) {
		return nil, errors.New("bad base url")
	})
	cfg := &config.Config{Providers: config.ProvidersConfig{LLM: config.ProviderEntry{Name: "broken"}}}

	if _, err := app.BuildProviders(cfg, reg, testMetrics(t)); err == nil {
		t.Fatal("expected construction error")
	}
}

package app

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/echoverse/internal/config"
	"github.com/MrWong99/echoverse/internal/observe"
	"github.com/MrWong99/echoverse/internal/resilience"
	"github.com/MrWong99/echoverse/pkg/provider/llm"
	"github.com/MrWong99/echoverse/pkg/provider/llm/anyllm"
	llmopenai "github.com/MrWong99/echoverse/pkg/provider/llm/openai"
	"github.com/MrWong99/echoverse/pkg/provider/llm/watsonx"
	"github.com/MrWong99/echoverse/pkg/provider/tts"
	"github.com/MrWong99/echoverse/pkg/provider/tts/elevenlabs"
	ttsopenai "github.com/MrWong99/echoverse/pkg/provider/tts/openai"
	"github.com/MrWong99/echoverse/pkg/provider/tts/watson"
)

// Providers holds one interface value per provider slot. Nil means the
// provider is not configured; the stages that need it pass text through
// (LLM) or produce no audio (TTS).
type Providers struct {
	LLM llm.Provider
	TTS tts.Provider

	// LLMNames and TTSNames list the backends behind each slot in failover
	// order. Empty when the slot is nil.
	LLMNames []string
	TTSNames []string
}

// RegisterBuiltinProviders registers every provider implementation shipped
// with EchoVerse.
func RegisterBuiltinProviders(reg *config.Registry) {
	// ── LLM ───────────────────────────────────────────────────────────────────

	reg.RegisterLLM("watsonx", func(entry config.ProviderEntry) (llm.Provider, error) {
		projectID := optString(entry.Options, "project_id")
		if entry.APIKey == "" || projectID == "" {
			return nil, fmt.Errorf("%w: watsonx needs api_key and options.project_id (%s, %s)",
				config.ErrMissingCredentials, config.EnvWatsonxAPIKey, config.EnvWatsonxProjectID)
		}
		var opts []watsonx.Option
		if entry.BaseURL != "" {
			opts = append(opts, watsonx.WithBaseURL(entry.BaseURL))
		}
		if entry.Model != "" {
			opts = append(opts, watsonx.WithModel(entry.Model))
		}
		if m := optString(entry.Options, "decoding_method"); m != "" {
			opts = append(opts, watsonx.WithDecodingMethod(m))
		}
		if v := optString(entry.Options, "api_version"); v != "" {
			opts = append(opts, watsonx.WithAPIVersion(v))
		}
		if u := optString(entry.Options, "iam_url"); u != "" {
			opts = append(opts, watsonx.WithIAMURL(u))
		}
		if d := optDuration(entry.Options, "timeout"); d > 0 {
			opts = append(opts, watsonx.WithTimeout(d))
		}
		return watsonx.New(entry.APIKey, projectID, opts...)
	})

	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		if entry.APIKey == "" {
			return nil, fmt.Errorf("%w: openai needs api_key", config.ErrMissingCredentials)
		}
		var opts []llmopenai.Option
		if entry.BaseURL != "" {
			opts = append(opts, llmopenai.WithBaseURL(entry.BaseURL))
		}
		if org := optString(entry.Options, "organization"); org != "" {
			opts = append(opts, llmopenai.WithOrganization(org))
		}
		if d := optDuration(entry.Options, "timeout"); d > 0 {
			opts = append(opts, llmopenai.WithTimeout(d))
		}
		return llmopenai.New(entry.APIKey, entry.Model, opts...)
	})

	// Hosted any-llm backends share the same pattern: optional APIKey (the
	// backend falls back to its conventional env variable) + optional BaseURL.
	for _, backend := range []string{"anthropic", "gemini", "deepseek", "mistral", "groq"} {
		reg.RegisterLLM(backend, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(backend, entry.Model, opts...)
		})
	}

	// Local servers use BaseURL for the address, not an API key.
	for _, backend := range []string{"ollama", "llamacpp", "llamafile"} {
		reg.RegisterLLM(backend, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(backend, entry.Model, opts...)
		})
	}

	// ── TTS ───────────────────────────────────────────────────────────────────

	reg.RegisterTTS("watson", func(entry config.ProviderEntry) (tts.Provider, error) {
		if entry.APIKey == "" {
			return nil, fmt.Errorf("%w: watson needs api_key (%s)", config.ErrMissingCredentials, config.EnvTTSAPIKey)
		}
		var opts []watson.Option
		if entry.BaseURL != "" {
			opts = append(opts, watson.WithBaseURL(entry.BaseURL))
		}
		if u := optString(entry.Options, "iam_url"); u != "" {
			opts = append(opts, watson.WithIAMURL(u))
		}
		if d := optDuration(entry.Options, "timeout"); d > 0 {
			opts = append(opts, watson.WithTimeout(d))
		}
		return watson.New(entry.APIKey, opts...)
	})

	reg.RegisterTTS("openai", func(entry config.ProviderEntry) (tts.Provider, error) {
		if entry.APIKey == "" {
			return nil, fmt.Errorf("%w: openai needs api_key", config.ErrMissingCredentials)
		}
		var opts []ttsopenai.Option
		if entry.BaseURL != "" {
			opts = append(opts, ttsopenai.WithBaseURL(entry.BaseURL))
		}
		if entry.Model != "" {
			opts = append(opts, ttsopenai.WithModel(entry.Model))
		}
		if d := optDuration(entry.Options, "timeout"); d > 0 {
			opts = append(opts, ttsopenai.WithTimeout(d))
		}
		return ttsopenai.New(entry.APIKey, opts...)
	})

	reg.RegisterTTS("elevenlabs", func(entry config.ProviderEntry) (tts.Provider, error) {
		if entry.APIKey == "" {
			return nil, fmt.Errorf("%w: elevenlabs needs api_key", config.ErrMissingCredentials)
		}
		var opts []elevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		if outputFmt := optString(entry.Options, "output_format"); outputFmt != "" {
			opts = append(opts, elevenlabs.WithOutputFormat(outputFmt))
		}
		return elevenlabs.New(entry.APIKey, opts...)
	})
}

// BuildProviders instantiates the configured providers. Entries whose
// credentials are missing or whose name is not registered are skipped with
// a log line; any other construction error is returned. When a slot has
// more than one usable backend they are combined into a failover group
// with a circuit breaker per backend.
func BuildProviders(cfg *config.Config, reg *config.Registry, metrics *observe.Metrics) (*Providers, error) {
	ps := &Providers{}
	fbCfg := func(kind string) resilience.FallbackConfig {
		return resilience.FallbackConfig{
			Kind: kind,
			CircuitBreaker: resilience.CircuitBreakerConfig{
				MaxFailures:  cfg.Providers.CircuitBreaker.MaxFailures,
				ResetTimeout: cfg.Providers.CircuitBreaker.ResetTimeout,
				OnStateChange: func(name string, from, to resilience.State) {
					slog.Warn("circuit breaker state changed", "kind", kind, "provider", name, "from", from.String(), "to", to.String())
				},
			},
			Metrics: metrics,
		}
	}

	// ── LLM ───────────────────────────────────────────────────────────────────
	llms, llmNames, err := buildChain("llm",
		append([]config.ProviderEntry{cfg.Providers.LLM}, cfg.Providers.LLMFallbacks...),
		reg.CreateLLM)
	if err != nil {
		return nil, err
	}
	switch len(llms) {
	case 0:
	case 1:
		ps.LLM = llms[0]
	default:
		group := resilience.NewLLMFallback(llms[0], llmNames[0], fbCfg("llm"))
		for i := 1; i < len(llms); i++ {
			group.AddFallback(llmNames[i], llms[i])
		}
		ps.LLM = group
	}
	ps.LLMNames = llmNames

	// ── TTS ───────────────────────────────────────────────────────────────────
	ttss, ttsNames, err := buildChain("tts",
		append([]config.ProviderEntry{cfg.Providers.TTS}, cfg.Providers.TTSFallbacks...),
		reg.CreateTTS)
	if err != nil {
		return nil, err
	}
	switch len(ttss) {
	case 0:
	case 1:
		ps.TTS = ttss[0]
	default:
		group := resilience.NewTTSFallback(ttss[0], ttsNames[0], fbCfg("tts"))
		for i := 1; i < len(ttss); i++ {
			group.AddFallback(ttsNames[i], ttss[i])
		}
		ps.TTS = group
	}
	ps.TTSNames = ttsNames

	return ps, nil
}

// buildChain creates every entry in order and returns the usable ones.
// Names are suffixed with their position when a backend appears twice.
func buildChain[T any](kind string, entries []config.ProviderEntry, create func(config.ProviderEntry) (T, error)) ([]T, []string, error) {
	var (
		out   []T
		names []string
		seen  = make(map[string]int)
	)
	for i, entry := range entries {
		if entry.Name == "" {
			continue
		}
		p, err := create(entry)
		switch {
		case errors.Is(err, config.ErrProviderNotRegistered):
			slog.Warn("provider not registered; skipping", "kind", kind, "name", entry.Name)
			continue
		case errors.Is(err, config.ErrMissingCredentials):
			slog.Info("provider not configured; skipping", "kind", kind, "name", entry.Name, "reason", err)
			continue
		case err != nil:
			return nil, nil, fmt.Errorf("app: create %s provider %q: %w", kind, entry.Name, err)
		}

		name := entry.Name
		if n := seen[entry.Name]; n > 0 {
			name = fmt.Sprintf("%s#%d", entry.Name, i)
		}
		seen[entry.Name]++
		out = append(out, p)
		names = append(names, name)
		slog.Info("provider created", "kind", kind, "name", name)
	}
	return out, names, nil
}

// optString returns opts[key] when it is a string.
func optString(opts map[string]any, key string) string {
	if opts == nil {
		return ""
	}
	s, _ := opts[key].(string)
	return s
}

// optDuration reads a duration option written either as a Go duration
// string ("30s") or as a number of seconds.
func optDuration(opts map[string]any, key string) time.Duration {
	switch v := opts[key].(type) {
	case string:
		d, err := time.ParseDuration(v)
		if err != nil {
			slog.Warn("invalid duration option; ignoring", "key", key, "value", v, "err", err)
			return 0
		}
		return d
	case int:
		return time.Duration(v) * time.Second
	case float64:
		return time.Duration(v * float64(time.Second))
	default:
		return 0
	}
}

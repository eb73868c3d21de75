package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/MrWong99/echoverse/internal/rewrite"
	"github.com/MrWong99/echoverse/internal/voice"
)

// Environment variables that override the YAML credentials of the IBM
// backends.
const (
	EnvWatsonxAPIKey    = "WATSONX_API_KEY"
	EnvWatsonxURL       = "WATSONX_URL"
	EnvWatsonxProjectID = "WATSONX_PROJECT_ID"
	EnvTTSAPIKey        = "TTS_API_KEY"
	EnvTTSURL           = "TTS_URL"
)

// Defaults applied by [ApplyDefaults].
const (
	DefaultListenAddr     = ":8080"
	DefaultSessionTTL     = time.Hour
	DefaultMaxUploadBytes = 20 << 20
	DefaultLLMProvider    = "watsonx"
	DefaultTTSProvider    = "watson"
	DefaultMaxNewTokens   = 300
	DefaultTemperature    = 0.7
	DefaultTone           = "Neutral"
	DefaultLanguage       = "English (US)"
	DefaultServiceName    = "echoverse"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm": {"watsonx", "openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"tts": {"watson", "openai", "elevenlabs"},
}

// Load reads the YAML configuration file at path, overlays the environment
// and returns a validated [Config]. A missing file is not an error: the
// defaults plus environment are used. Variables from a .env file in the
// working directory are loaded first; they never override variables that
// are already set.
func Load(path string) (*Config, error) {
	if err := LoadDotEnv(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		slog.Info("config file not found, using defaults and environment", "path", path)
		data = nil
	case err != nil:
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}

	cfg, err := parse(data, os.Getenv)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadDotEnv loads the given .env files (default ".env") into the process
// environment. Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("config: load %q: %w", p, err)
		}
	}
	return nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and
// validates the result. The environment is not consulted, which keeps
// tests hermetic.
func LoadFromReader(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	return parse(data, func(string) string { return "" })
}

// parse decodes data (which may be empty), overlays getenv, applies
// defaults and validates.
func parse(data []byte, getenv func(string) string) (*Config, error) {
	cfg := &Config{}
	if len(bytes.TrimSpace(data)) > 0 {
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil {
			return nil, fmt.Errorf("config: decode yaml: %w", err)
		}
	}
	ApplyEnv(cfg, getenv)
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overlays the IBM credential variables onto cfg. The watsonx
// variables apply to every LLM entry named "watsonx" and the TTS variables
// to every TTS entry named "watson". An entry with an empty name is
// treated as the default backend of its kind.
func ApplyEnv(cfg *Config, getenv func(string) string) {
	overlayLLM := func(e *ProviderEntry) {
		if e.Name != "" && e.Name != DefaultLLMProvider {
			return
		}
		if v := getenv(EnvWatsonxAPIKey); v != "" {
			e.APIKey = v
		}
		if v := getenv(EnvWatsonxURL); v != "" {
			e.BaseURL = v
		}
		if v := getenv(EnvWatsonxProjectID); v != "" {
			if e.Options == nil {
				e.Options = make(map[string]any)
			}
			e.Options["project_id"] = v
		}
	}
	overlayTTS := func(e *ProviderEntry) {
		if e.Name != "" && e.Name != DefaultTTSProvider {
			return
		}
		if v := getenv(EnvTTSAPIKey); v != "" {
			e.APIKey = v
		}
		if v := getenv(EnvTTSURL); v != "" {
			e.BaseURL = v
		}
	}

	overlayLLM(&cfg.Providers.LLM)
	for i := range cfg.Providers.LLMFallbacks {
		overlayLLM(&cfg.Providers.LLMFallbacks[i])
	}
	overlayTTS(&cfg.Providers.TTS)
	for i := range cfg.Providers.TTSFallbacks {
		overlayTTS(&cfg.Providers.TTSFallbacks[i])
	}
}

// ApplyDefaults fills zero-valued fields with their defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Server.SessionTTL == 0 {
		cfg.Server.SessionTTL = DefaultSessionTTL
	}
	if cfg.Server.MaxUploadBytes == 0 {
		cfg.Server.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if cfg.Providers.LLM.Name == "" {
		cfg.Providers.LLM.Name = DefaultLLMProvider
	}
	if cfg.Providers.TTS.Name == "" {
		cfg.Providers.TTS.Name = DefaultTTSProvider
	}
	if cfg.Generation.MaxNewTokens == 0 {
		cfg.Generation.MaxNewTokens = DefaultMaxNewTokens
	}
	if cfg.Generation.Temperature == nil {
		cfg.Generation.Temperature = new(DefaultTemperature)
	}
	if cfg.Pipeline.DefaultTone == "" {
		cfg.Pipeline.DefaultTone = DefaultTone
	}
	if cfg.Pipeline.DefaultLanguage == "" {
		cfg.Pipeline.DefaultLanguage = DefaultLanguage
	}
	if cfg.Observe.ServiceName == "" {
		cfg.Observe.ServiceName = DefaultServiceName
	}
}

// Catalog returns the voice catalog described by cfg: the configured
// languages when present, the built-in catalog otherwise.
func (c *Config) Catalog() (*voice.Catalog, error) {
	if len(c.Languages) == 0 {
		return voice.Default(), nil
	}
	return voice.NewCatalog(c.Languages)
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.SessionTTL < 0 {
		errs = append(errs, fmt.Errorf("server.session_ttl %v must not be negative", cfg.Server.SessionTTL))
	}
	if cfg.Server.MaxUploadBytes < 0 {
		errs = append(errs, fmt.Errorf("server.max_upload_bytes %d must not be negative", cfg.Server.MaxUploadBytes))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Providers
	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)
	for i, e := range cfg.Providers.LLMFallbacks {
		if e.Name == "" {
			errs = append(errs, fmt.Errorf("providers.llm_fallbacks[%d].name is required", i))
		}
		validateProviderName("llm", e.Name)
	}
	for i, e := range cfg.Providers.TTSFallbacks {
		if e.Name == "" {
			errs = append(errs, fmt.Errorf("providers.tts_fallbacks[%d].name is required", i))
		}
		validateProviderName("tts", e.Name)
	}
	if cfg.Providers.CircuitBreaker.MaxFailures < 0 {
		errs = append(errs, fmt.Errorf("providers.circuit_breaker.max_failures %d must not be negative", cfg.Providers.CircuitBreaker.MaxFailures))
	}
	if cfg.Providers.CircuitBreaker.ResetTimeout < 0 {
		errs = append(errs, fmt.Errorf("providers.circuit_breaker.reset_timeout %v must not be negative", cfg.Providers.CircuitBreaker.ResetTimeout))
	}

	// Generation
	if cfg.Generation.MaxNewTokens < 0 {
		errs = append(errs, fmt.Errorf("generation.max_new_tokens %d must not be negative", cfg.Generation.MaxNewTokens))
	}
	if t := cfg.Generation.Temperature; t != nil && (*t < 0 || *t > 2) {
		errs = append(errs, fmt.Errorf("generation.temperature %.2f is out of range [0, 2]", *t))
	}

	// Catalog and pipeline defaults
	catalog, err := cfg.Catalog()
	if err != nil {
		errs = append(errs, fmt.Errorf("languages: %w", err))
	}
	if cfg.Pipeline.DefaultTone != "" {
		if _, err := rewrite.ParseTone(cfg.Pipeline.DefaultTone); err != nil {
			errs = append(errs, fmt.Errorf("pipeline.default_tone: %w", err))
		}
	}
	if catalog != nil && cfg.Pipeline.DefaultLanguage != "" {
		if _, ok := catalog.Lookup(cfg.Pipeline.DefaultLanguage); !ok {
			errs = append(errs, fmt.Errorf("pipeline.default_language %q is not in the voice catalog", cfg.Pipeline.DefaultLanguage))
		}
	}

	// Credentials are optional: stages degrade without them.
	if cfg.Providers.LLM.Name == DefaultLLMProvider && cfg.Providers.LLM.APIKey == "" {
		slog.Warn("no watsonx API key configured; tone rewriting and translation will pass text through unchanged",
			"env", EnvWatsonxAPIKey)
	}
	if cfg.Providers.TTS.Name == DefaultTTSProvider && cfg.Providers.TTS.APIKey == "" {
		slog.Warn("no Text to Speech API key configured; narration will produce no audio",
			"env", EnvTTSAPIKey)
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name; may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", strings.Join(known, ","),
	)
}

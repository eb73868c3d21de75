// Package watson provides a TTS provider backed by IBM Watson Text to Speech.
//
// Synthesis is a single POST /v1/synthesize call carrying the whole text; the
// service answers with the encoded audio in the response body. Authentication
// uses IBM Cloud IAM bearer tokens derived from the service API key.
//
// Typical usage:
//
//	p, err := watson.New(apiKey, watson.WithBaseURL(os.Getenv("TTS_URL")))
//	mp3, err := p.Synthesize(ctx, tts.Request{Text: "Hello", VoiceID: "en-US_AllisonV3Voice"})
package watson

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/MrWong99/echoverse/pkg/ibmcloud/iam"
	"github.com/MrWong99/echoverse/pkg/provider/tts"
)

// Compile-time interface assertion.
var _ tts.Provider = (*Provider)(nil)

const (
	// DefaultBaseURL is the us-south Text to Speech endpoint.
	DefaultBaseURL = "https://api.us-south.text-to-speech.watson.cloud.ibm.com"

	// DefaultVoice is used when a request carries no voice.
	DefaultVoice = "en-US_AllisonV3Voice"

	synthesizePath = "/v1/synthesize"
	voicesPath     = "/v1/voices"
)

// Option is a functional option for configuring a Watson Provider.
type Option func(*Provider)

// WithBaseURL sets the service instance URL.
func WithBaseURL(u string) Option {
	return func(p *Provider) {
		p.baseURL = strings.TrimRight(u, "/")
	}
}

// WithTimeout sets the per-request HTTP timeout. Zero means no timeout.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		p.timeout = d
	}
}

// WithIAMURL overrides the IAM token endpoint.
func WithIAMURL(u string) Option {
	return func(p *Provider) {
		p.iamURL = u
	}
}

// WithHTTPClient replaces the authenticated HTTP client; intended for tests.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = c
	}
}

// Provider implements tts.Provider against IBM Watson Text to Speech.
type Provider struct {
	baseURL    string
	iamURL     string
	timeout    time.Duration
	httpClient *http.Client
}

// New creates a Watson Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("watson: apiKey must not be empty")
	}
	p := &Provider{
		baseURL: DefaultBaseURL,
		iamURL:  iam.DefaultTokenURL,
	}
	for _, o := range opts {
		o(p)
	}
	if p.httpClient == nil {
		ts, err := iam.NewTokenSource(apiKey, iam.WithTokenURL(p.iamURL))
		if err != nil {
			return nil, fmt.Errorf("watson: %w", err)
		}
		p.httpClient = iam.NewClient(ts, p.timeout)
	}
	return p, nil
}

// ---- wire types ----

type synthesizeRequest struct {
	Text string `json:"text"`
}

type serviceError struct {
	Code            int    `json:"code"`
	Error           string `json:"error"`
	CodeDescription string `json:"code_description"`
}

type voicesResponse struct {
	Voices []watsonVoice `json:"voices"`
}

type watsonVoice struct {
	Name        string `json:"name"`
	Language    string `json:"language"`
	Gender      string `json:"gender"`
	Description string `json:"description"`
}

// ---- tts.Provider ----

// Synthesize implements tts.Provider.
func (p *Provider) Synthesize(ctx context.Context, req tts.Request) ([]byte, error) {
	voice := req.VoiceID
	if voice == "" {
		voice = DefaultVoice
	}

	body, err := json.Marshal(synthesizeRequest{Text: req.Text})
	if err != nil {
		return nil, fmt.Errorf("watson: encode request: %w", err)
	}

	endpoint := p.baseURL + synthesizePath + "?" + url.Values{"voice": {voice}}.Encode()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("watson: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", string(req.OutputFormat()))

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("watson: synthesize: %w", err)
	}
	defer resp.Body.Close()

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("watson: read audio: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var se serviceError
		if json.Unmarshal(audio, &se) == nil && se.Error != "" {
			return nil, fmt.Errorf("watson: synthesize: status %d: %s", resp.StatusCode, se.Error)
		}
		return nil, fmt.Errorf("watson: synthesize: unexpected status %d", resp.StatusCode)
	}

	if mt, _, err := mime.ParseMediaType(resp.Header.Get("Content-Type")); err == nil && !strings.HasPrefix(mt, "audio/") {
		return nil, fmt.Errorf("watson: synthesize: content type %q: %w", mt, tts.ErrMalformedResponse)
	}
	return audio, nil
}

// ListVoices implements tts.Provider.
func (p *Provider) ListVoices(ctx context.Context) ([]tts.VoiceProfile, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+voicesPath, nil)
	if err != nil {
		return nil, fmt.Errorf("watson: list voices: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("watson: list voices HTTP: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("watson: list voices: unexpected status %d", resp.StatusCode)
	}

	var vr voicesResponse
	if err := json.NewDecoder(resp.Body).Decode(&vr); err != nil {
		return nil, fmt.Errorf("watson: list voices decode: %w", err)
	}

	profiles := make([]tts.VoiceProfile, 0, len(vr.Voices))
	for _, v := range vr.Voices {
		meta := map[string]string{}
		if v.Gender != "" {
			meta["gender"] = v.Gender
		}
		if v.Description != "" {
			meta["description"] = v.Description
		}
		profiles = append(profiles, tts.VoiceProfile{
			ID:       v.Name,
			Name:     v.Name,
			Provider: "watson",
			Language: v.Language,
			Metadata: meta,
		})
	}
	return profiles, nil
}

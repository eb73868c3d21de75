// Package watsonx provides an LLM provider backed by the IBM watsonx.ai text
// generation REST API.
//
// watsonx.ai exposes prompt-in/text-out generation rather than a chat
// endpoint, so the request's system prompt and messages are flattened into a
// single input string separated by blank lines. Authentication uses IBM Cloud
// IAM bearer tokens obtained from the API key (see package iam).
//
// Typical usage:
//
//	p, err := watsonx.New(apiKey, projectID,
//	    watsonx.WithBaseURL("https://eu-de.ml.cloud.ibm.com"),
//	    watsonx.WithDecodingMethod("sample"),
//	)
package watsonx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/MrWong99/echoverse/pkg/ibmcloud/iam"
	"github.com/MrWong99/echoverse/pkg/provider/llm"
)

// Compile-time interface assertion.
var _ llm.Provider = (*Provider)(nil)

const (
	// DefaultBaseURL is the us-south watsonx.ai endpoint.
	DefaultBaseURL = "https://us-south.ml.cloud.ibm.com"

	// DefaultModel is the granite instruct model the service is tuned for.
	DefaultModel = "ibm/granite-13b-instruct-v2"

	// DefaultAPIVersion is the generation API version date.
	DefaultAPIVersion = "2023-05-29"

	// DefaultDecodingMethod samples instead of greedy decoding.
	DefaultDecodingMethod = "sample"

	generationPath = "/ml/v1/text/generation"
)

// Option is a functional option for configuring a watsonx Provider.
type Option func(*Provider)

// WithBaseURL overrides the regional watsonx.ai endpoint.
func WithBaseURL(u string) Option {
	return func(p *Provider) {
		p.baseURL = strings.TrimRight(u, "/")
	}
}

// WithModel sets the foundation model id (default ibm/granite-13b-instruct-v2).
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithDecodingMethod sets "sample" or "greedy".
func WithDecodingMethod(m string) Option {
	return func(p *Provider) {
		p.decodingMethod = m
	}
}

// WithAPIVersion overrides the version query parameter.
func WithAPIVersion(v string) Option {
	return func(p *Provider) {
		p.apiVersion = v
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

// WithHTTPClient replaces the authenticated HTTP client entirely. The caller is
// responsible for attaching credentials; intended for tests.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = c
	}
}

// Provider implements llm.Provider against watsonx.ai.
// It is safe for concurrent use.
type Provider struct {
	baseURL        string
	model          string
	projectID      string
	decodingMethod string
	apiVersion     string
	iamURL         string
	timeout        time.Duration
	httpClient     *http.Client
}

// New creates a watsonx Provider. apiKey and projectID are required.
func New(apiKey, projectID string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("watsonx: apiKey must not be empty")
	}
	if projectID == "" {
		return nil, errors.New("watsonx: projectID must not be empty")
	}
	p := &Provider{
		baseURL:        DefaultBaseURL,
		model:          DefaultModel,
		projectID:      projectID,
		decodingMethod: DefaultDecodingMethod,
		apiVersion:     DefaultAPIVersion,
		iamURL:         iam.DefaultTokenURL,
	}
	for _, o := range opts {
		o(p)
	}
	if p.httpClient == nil {
		ts, err := iam.NewTokenSource(apiKey, iam.WithTokenURL(p.iamURL))
		if err != nil {
			return nil, fmt.Errorf("watsonx: %w", err)
		}
		p.httpClient = iam.NewClient(ts, p.timeout)
	}
	return p, nil
}

// ---- wire types ----

type generationParameters struct {
	DecodingMethod string   `json:"decoding_method,omitempty"`
	MaxNewTokens   int      `json:"max_new_tokens,omitempty"`
	Temperature    *float64 `json:"temperature,omitempty"`
}

type generationRequest struct {
	ModelID    string               `json:"model_id"`
	Input      string               `json:"input"`
	Parameters generationParameters `json:"parameters"`
	ProjectID  string               `json:"project_id"`
}

type generationResult struct {
	GeneratedText       *string `json:"generated_text"`
	GeneratedTokenCount int     `json:"generated_token_count"`
	InputTokenCount     int     `json:"input_token_count"`
	StopReason          string  `json:"stop_reason"`
}

type generationResponse struct {
	ModelID string             `json:"model_id"`
	Results []generationResult `json:"results"`
}

type apiError struct {
	Errors []struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"errors"`
	StatusCode int `json:"status_code"`
}

// ---- llm.Provider ----

// Complete implements llm.Provider. It performs exactly one HTTP call.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	body := generationRequest{
		ModelID: p.model,
		Input:   flattenPrompt(req),
		Parameters: generationParameters{
			DecodingMethod: p.decodingMethod,
			MaxNewTokens:   req.MaxTokens,
		},
		ProjectID: p.projectID,
	}
	if req.Temperature != nil {
		t := *req.Temperature
		body.Parameters.Temperature = &t
	}

	buf, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("watsonx: encode request: %w", err)
	}

	endpoint := p.baseURL + generationPath + "?" + url.Values{"version": {p.apiVersion}}.Encode()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(buf))
	if err != nil {
		return nil, fmt.Errorf("watsonx: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("watsonx: generate: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("watsonx: read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr apiError
		if json.Unmarshal(raw, &apiErr) == nil && len(apiErr.Errors) > 0 {
			return nil, fmt.Errorf("watsonx: generate: status %d: %s: %s",
				resp.StatusCode, apiErr.Errors[0].Code, apiErr.Errors[0].Message)
		}
		return nil, fmt.Errorf("watsonx: generate: unexpected status %d", resp.StatusCode)
	}

	var gr generationResponse
	if err := json.Unmarshal(raw, &gr); err != nil {
		return nil, fmt.Errorf("watsonx: decode response: %v: %w", err, llm.ErrMalformedResponse)
	}
	if len(gr.Results) == 0 || gr.Results[0].GeneratedText == nil {
		return nil, fmt.Errorf("watsonx: response has no generated_text: %w", llm.ErrMalformedResponse)
	}

	res := gr.Results[0]
	return &llm.CompletionResponse{
		Content: *res.GeneratedText,
		Usage: llm.Usage{
			PromptTokens:     res.InputTokenCount,
			CompletionTokens: res.GeneratedTokenCount,
			TotalTokens:      res.InputTokenCount + res.GeneratedTokenCount,
		},
	}, nil
}

// Capabilities implements llm.Provider.
func (p *Provider) Capabilities() llm.ModelCapabilities {
	caps := llm.ModelCapabilities{ContextWindow: 8_192, MaxOutputTokens: 4_096}
	lower := strings.ToLower(p.model)
	switch {
	case strings.Contains(lower, "granite-3"), strings.Contains(lower, "llama-3"):
		caps.ContextWindow = 128_000
	case strings.Contains(lower, "granite-13b"):
		caps.ContextWindow = 8_192
	}
	return caps
}

// flattenPrompt joins the system prompt and message contents with blank lines.
func flattenPrompt(req llm.CompletionRequest) string {
	parts := make([]string, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		parts = append(parts, req.SystemPrompt)
	}
	for _, m := range req.Messages {
		if m.Content != "" {
			parts = append(parts, m.Content)
		}
	}
	return strings.Join(parts, "\n\n")
}

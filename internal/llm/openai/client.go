// Package openai adapts any OpenAI-compatible chat completions endpoint
// (OpenAI, OpenRouter, the HuggingFace router, Gemini, Grok, DeepSeek) to
// analysis.Adapter.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	oai "github.com/sashabaranov/go-openai"

	"github.com/linnemanlabs/ticketflow/internal/analysis"
)

// Config describes one OpenAI-compatible provider.
type Config struct {
	// Name identifies the provider in logs and metrics.
	Name    string
	APIKey  string
	BaseURL string // empty means api.openai.com
	Model   string
	// Temperature is sent only when non-zero.
	Temperature float32
	// Headers are added to every request, e.g. OpenRouter attribution.
	Headers map[string]string
}

// Client implements analysis.Adapter over go-openai.
type Client struct {
	name        string
	model       string
	temperature float32
	api         *oai.Client
}

// New creates an adapter. httpClient may be nil.
func New(cfg Config, httpClient *http.Client) *Client {
	occ := oai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		occ.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if len(cfg.Headers) > 0 {
		base := httpClient.Transport
		if base == nil {
			base = http.DefaultTransport
		}
		hc := *httpClient
		hc.Transport = headerTransport{base: base, headers: cfg.Headers}
		httpClient = &hc
	}
	occ.HTTPClient = httpClient

	return &Client{
		name:        cfg.Name,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		api:         oai.NewClientWithConfig(occ),
	}
}

// Name implements analysis.Adapter.
func (c *Client) Name() string { return c.name }

// Invoke sends a system and a user message and returns the first choice.
func (c *Client) Invoke(ctx context.Context, prompt, system string) (string, error) {
	req := oai.ChatCompletionRequest{
		Model:       c.model,
		Temperature: c.temperature,
	}
	if system != "" {
		req.Messages = append(req.Messages, oai.ChatCompletionMessage{Role: oai.ChatMessageRoleSystem, Content: system})
	}
	req.Messages = append(req.Messages, oai.ChatCompletionMessage{Role: oai.ChatMessageRoleUser, Content: prompt})

	resp, err := c.api.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", c.classify(err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%s: no choices in response", c.name)
	}
	out := resp.Choices[0].Message.Content
	if strings.TrimSpace(out) == "" {
		return "", fmt.Errorf("%s: empty completion (finish_reason=%s)", c.name, resp.Choices[0].FinishReason)
	}
	return out, nil
}

func (c *Client) classify(err error) error {
	if statusCode(err) == http.StatusTooManyRequests {
		return analysis.Transient(c.name, err)
	}
	return fmt.Errorf("%s: %w", c.name, err)
}

func statusCode(err error) int {
	var apiErr *oai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *oai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	return 0
}

// headerTransport sets fixed headers on every outgoing request.
type headerTransport struct {
	base    http.RoundTripper
	headers map[string]string
}

func (t headerTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	r = r.Clone(r.Context())
	for k, v := range t.headers {
		r.Header.Set(k, v)
	}
	return t.base.RoundTrip(r)
}

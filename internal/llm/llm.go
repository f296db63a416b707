// Package llm builds the ordered provider catalog the analysis cascade walks.
package llm

import (
	"net/http"

	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/linnemanlabs/ticketflow/internal/analysis"
	"github.com/linnemanlabs/ticketflow/internal/llm/claude"
	"github.com/linnemanlabs/ticketflow/internal/llm/openai"
)

// Provider names, in cascade order.
const (
	OpenRouter  = "openrouter"
	HuggingFace = "huggingface"
	Gemini      = "gemini"
	Grok        = "grok"
	DeepSeek    = "deepseek"
	OpenAI      = "openai"
	Claude      = claude.Name
)

// Provider is the API key and model for one backend. A provider without a
// key is not built.
type Provider struct {
	APIKey string
	Model  string
}

// Settings configures every known provider.
type Settings struct {
	OpenRouter  Provider
	HuggingFace Provider
	Gemini      Provider
	Grok        Provider
	DeepSeek    Provider
	OpenAI      Provider
	Claude      Provider

	// HTTPClient is shared by the OpenAI-compatible adapters. Nil means a
	// default client.
	HTTPClient *http.Client
}

type compatible struct {
	name         string
	baseURL      string
	defaultModel string
	temperature  float32
	headers      map[string]string
	pick         func(Settings) Provider
}

var catalog = []compatible{
	{
		name:         OpenRouter,
		baseURL:      "https://openrouter.ai/api/v1",
		defaultModel: "openai/gpt-4o-mini",
		temperature:  0.5,
		headers: map[string]string{
			"HTTP-Referer": "ticketflow",
			"X-Title":      "ticketflow",
		},
		pick: func(s Settings) Provider { return s.OpenRouter },
	},
	{
		name:         HuggingFace,
		baseURL:      "https://router.huggingface.co/v1",
		defaultModel: "openai/gpt-oss-20b:groq",
		temperature:  0.5,
		pick:         func(s Settings) Provider { return s.HuggingFace },
	},
	{
		name:         Gemini,
		baseURL:      "https://generativelanguage.googleapis.com/v1beta/openai",
		defaultModel: "gemini-2.0-flash",
		pick:         func(s Settings) Provider { return s.Gemini },
	},
	{
		name:         Grok,
		baseURL:      "https://api.x.ai/v1",
		defaultModel: "grok-2-latest",
		pick:         func(s Settings) Provider { return s.Grok },
	},
	{
		name:         DeepSeek,
		baseURL:      "https://api.deepseek.com/v1",
		defaultModel: "deepseek-chat",
		pick:         func(s Settings) Provider { return s.DeepSeek },
	},
	{
		name:         OpenAI,
		defaultModel: "gpt-4o",
		pick:         func(s Settings) Provider { return s.OpenAI },
	},
}

// DefaultClaudeModel is used when Settings.Claude.Model is empty.
const DefaultClaudeModel = "claude-sonnet-4-20250514"

// Build returns adapters for every provider with an API key, in cascade
// order: OpenRouter, HuggingFace, Gemini, Grok, DeepSeek, OpenAI, Claude.
func Build(s Settings) []analysis.Adapter {
	var out []analysis.Adapter
	for _, c := range catalog {
		p := c.pick(s)
		if p.APIKey == "" {
			continue
		}
		model := p.Model
		if model == "" {
			model = c.defaultModel
		}
		out = append(out, openai.New(openai.Config{
			Name:        c.name,
			APIKey:      p.APIKey,
			BaseURL:     c.baseURL,
			Model:       model,
			Temperature: c.temperature,
			Headers:     c.headers,
		}, s.HTTPClient))
	}

	if s.Claude.APIKey != "" {
		model := s.Claude.Model
		if model == "" {
			model = DefaultClaudeModel
		}
		var opts []option.RequestOption
		if s.HTTPClient != nil {
			opts = append(opts, option.WithHTTPClient(s.HTTPClient))
		}
		out = append(out, claude.New(s.Claude.APIKey, model, opts...))
	}
	return out
}

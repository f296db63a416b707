// Package claude adapts the Anthropic Messages API to analysis.Adapter.
package claude

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/linnemanlabs/ticketflow/internal/analysis"
)

// Name is the provider name reported to the cascade.
const Name = "claude"

// DefaultMaxTokens bounds the analysis response.
const DefaultMaxTokens = 1024

// Client implements analysis.Adapter for Claude.
type Client struct {
	sdk       anthropic.Client
	model     string
	maxTokens int64
}

// New creates a Claude adapter. SDK retries are disabled; the cascade owns
// the retry policy.
func New(apiKey, model string, opts ...option.RequestOption) *Client {
	reqOpts := append([]option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}, opts...)
	return &Client{
		sdk:       anthropic.NewClient(reqOpts...),
		model:     model,
		maxTokens: DefaultMaxTokens,
	}
}

// Name implements analysis.Adapter.
func (c *Client) Name() string { return Name }

// Invoke sends one single-turn message and returns the concatenated text.
func (c *Client) Invoke(ctx context.Context, prompt, system string) (string, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: c.maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	msg, err := c.sdk.Messages.New(ctx, params)
	if err != nil {
		return "", classify(err)
	}

	text := textFromMessage(msg)
	if text == "" {
		return "", fmt.Errorf("claude: empty response (stop_reason=%s)", msg.StopReason)
	}
	return text, nil
}

func textFromMessage(msg *anthropic.Message) string {
	var b strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	return b.String()
}

// classify marks rate limiting and overload as transient.
func classify(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case http.StatusTooManyRequests, 529:
			return analysis.Transient(Name, err)
		}
	}
	return fmt.Errorf("claude: %w", err)
}

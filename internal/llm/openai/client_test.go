package openai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linnemanlabs/ticketflow/internal/analysis"
)

type capturedRequest struct {
	Path    string
	Auth    string
	Referer string
	Body    struct {
		Model       string  `json:"model"`
		Temperature float32 `json:"temperature"`
		Messages    []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
}

func completionServer(t *testing.T, status int, body string, got *capturedRequest) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got != nil {
			got.Path = r.URL.Path
			got.Auth = r.Header.Get("Authorization")
			got.Referer = r.Header.Get("HTTP-Referer")
			raw, _ := io.ReadAll(r.Body)
			_ = json.Unmarshal(raw, &got.Body)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestInvoke_Success(t *testing.T) {
	t.Parallel()

	var got capturedRequest
	srv := completionServer(t, http.StatusOK, `{
		"id": "c-1", "object": "chat.completion", "model": "openai/gpt-4o-mini",
		"choices": [{"index": 0, "message": {"role": "assistant", "content": "{\"summary\":\"ok\"}"}, "finish_reason": "stop"}]
	}`, &got)

	c := New(Config{
		Name:        "openrouter",
		APIKey:      "sk-test",
		BaseURL:     srv.URL + "/api/v1/",
		Model:       "openai/gpt-4o-mini",
		Temperature: 0.5,
		Headers:     map[string]string{"HTTP-Referer": "ticketflow"},
	}, nil)

	out, err := c.Invoke(context.Background(), "user prompt", "system prompt")
	require.NoError(t, err)
	assert.Equal(t, `{"summary":"ok"}`, out)
	assert.Equal(t, "openrouter", c.Name())

	assert.Equal(t, "/api/v1/chat/completions", got.Path)
	assert.Equal(t, "Bearer sk-test", got.Auth)
	assert.Equal(t, "ticketflow", got.Referer)
	assert.Equal(t, "openai/gpt-4o-mini", got.Body.Model)
	assert.InDelta(t, 0.5, got.Body.Temperature, 0.001)
	require.Len(t, got.Body.Messages, 2)
	assert.Equal(t, "system", got.Body.Messages[0].Role)
	assert.Equal(t, "system prompt", got.Body.Messages[0].Content)
	assert.Equal(t, "user", got.Body.Messages[1].Role)
}

func TestInvoke_RateLimitedIsTransient(t *testing.T) {
	t.Parallel()

	srv := completionServer(t, http.StatusTooManyRequests,
		`{"error":{"message":"Too many requests","type":"requests","code":"rate_limit_exceeded"}}`, nil)
	c := New(Config{Name: "deepseek", APIKey: "k", BaseURL: srv.URL + "/v1", Model: "deepseek-chat"}, nil)

	_, err := c.Invoke(context.Background(), "p", "s")
	require.Error(t, err)

	var tpe *analysis.TransientProviderError
	assert.True(t, errors.As(err, &tpe), "want TransientProviderError, got %v", err)
}

func TestInvoke_ServerErrorNotMarked(t *testing.T) {
	t.Parallel()

	srv := completionServer(t, http.StatusBadRequest,
		`{"error":{"message":"model not found","type":"invalid_request_error"}}`, nil)
	c := New(Config{Name: "openai", APIKey: "k", BaseURL: srv.URL + "/v1", Model: "nope"}, nil)

	_, err := c.Invoke(context.Background(), "p", "s")
	require.Error(t, err)

	var tpe *analysis.TransientProviderError
	assert.False(t, errors.As(err, &tpe))
	assert.Contains(t, err.Error(), "openai")
}

func TestInvoke_EmptyChoices(t *testing.T) {
	t.Parallel()

	srv := completionServer(t, http.StatusOK, `{"id":"c-2","choices":[]}`, nil)
	c := New(Config{Name: "grok", APIKey: "k", BaseURL: srv.URL + "/v1", Model: "grok-2"}, nil)

	_, err := c.Invoke(context.Background(), "p", "s")
	assert.ErrorContains(t, err, "no choices")
}

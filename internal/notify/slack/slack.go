// Package slack posts ticket assignments to Slack via incoming webhooks.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/linnemanlabs/ticketflow/internal/notify"
	"github.com/linnemanlabs/ticketflow/internal/ticket"
)

const (
	maxTextLen  = 2000
	httpTimeout = 10 * time.Second
)

// Notifier implements notify.Channel for a Slack webhook.
type Notifier struct {
	webhookURL string
	client     *http.Client
}

// New creates a Slack notifier. If webhookURL is empty, Post is a no-op.
func New(webhookURL string) *Notifier {
	return &Notifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: httpTimeout},
	}
}

// Post sends the assignment to the configured webhook.
func (n *Notifier) Post(ctx context.Context, a notify.Assignment) error {
	if n.webhookURL == "" {
		return nil
	}

	body, err := json.Marshal(buildMessage(a))
	if err != nil {
		return fmt.Errorf("slack: marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("slack: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req) //nolint:gosec // G704: webhookURL is from trusted config, not user input
	if err != nil {
		return fmt.Errorf("slack: post webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("slack: webhook returned %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

func buildMessage(a notify.Assignment) map[string]any {
	return map[string]any{
		"blocks": []map[string]any{
			headerBlock(a),
			fieldsBlock(a),
			{"type": "divider"},
			textSection("Summary", a.Analysis.Summary),
			textSection("Helpful notes", a.Analysis.HelpfulNotes),
			contextBlock(a),
		},
	}
}

func headerBlock(a notify.Assignment) map[string]any {
	title := ""
	if a.Ticket != nil {
		title = a.Ticket.Title
	}
	return map[string]any{
		"type": "header",
		"text": map[string]any{
			"type": "plain_text",
			"text": truncate(fmt.Sprintf("%s Ticket assigned: %s", priorityEmoji(a.Analysis.Priority), title), 150),
		},
	}
}

func fieldsBlock(a notify.Assignment) map[string]any {
	assignee := "unassigned"
	if a.Assignee != nil {
		assignee = a.Assignee.Email
	}
	deadline := "none"
	if a.Analysis.Deadline != nil {
		deadline = *a.Analysis.Deadline
	}
	return map[string]any{
		"type": "section",
		"fields": []map[string]any{
			{"type": "mrkdwn", "text": fmt.Sprintf("*Priority:* %s", a.Analysis.Priority)},
			{"type": "mrkdwn", "text": fmt.Sprintf("*Assignee:* %s", assignee)},
			{"type": "mrkdwn", "text": fmt.Sprintf("*Deadline:* %s", deadline)},
			{"type": "mrkdwn", "text": fmt.Sprintf("*Skills:* %s", strings.Join(a.Analysis.RelatedSkills, ", "))},
		},
	}
}

func textSection(label, text string) map[string]any {
	text = truncate(text, maxTextLen)
	if text == "" {
		text = "_none_"
	}
	return map[string]any{
		"type": "section",
		"text": map[string]any{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*%s*\n%s", label, text),
		},
	}
}

func contextBlock(a notify.Assignment) map[string]any {
	id := ""
	if a.Ticket != nil {
		id = a.Ticket.ID
	}
	provider := a.Analysis.Provider
	if provider == "" {
		provider = "unknown"
	}
	return map[string]any{
		"type": "context",
		"elements": []map[string]any{
			{"type": "mrkdwn", "text": fmt.Sprintf("ticketflow • ticket %s • analysis by %s", id, provider)},
		},
	}
}

func priorityEmoji(p ticket.Priority) string {
	switch p {
	case ticket.PriorityHigh:
		return "\U0001f534" // red circle
	case ticket.PriorityMedium:
		return "\U0001f7e1" // yellow circle
	default:
		return "\U0001f7e2" // green circle
	}
}

// truncate caps s at limit bytes without splitting a rune.
func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit - 3
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

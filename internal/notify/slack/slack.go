// Package slack delivers incident analysis results to Slack via incoming
// webhooks.
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

	"github.com/linnemanlabs/beacon/internal/incident"
)

const (
	maxSummaryLen = 3000
	httpTimeout   = 10 * time.Second
)

// Notifier posts completed incidents to a Slack webhook. It implements
// incident.Sink.
type Notifier struct {
	webhookURL string
	client     *http.Client
}

// New creates a new Slack notifier. If webhookURL is empty, Deliver is a
// no-op.
func New(webhookURL string) *Notifier {
	return &Notifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: httpTimeout},
	}
}

// Name identifies the sink in delivery logs.
func (n *Notifier) Name() string { return "slack" }

// Deliver posts the incident to the configured Slack webhook.
// If no webhook URL is configured, it returns nil immediately.
func (n *Notifier) Deliver(ctx context.Context, inc *incident.Incident) error {
	if n.webhookURL == "" {
		return nil
	}

	msg := buildMessage(inc)

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("slack: marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("slack: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
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

func buildMessage(inc *incident.Incident) map[string]any {
	return map[string]any{
		"blocks": []map[string]any{
			headerBlock(inc),
			{"type": "divider"},
			fieldsBlock(inc),
			{"type": "divider"},
			summaryBlock(inc),
			{"type": "divider"},
			contextBlock(inc),
		},
	}
}

func headerBlock(inc *incident.Incident) map[string]any {
	emoji := severityEmoji(inc.Status, inc.SeverityLabel)
	title := "Incident Analyzed"
	if inc.Status == incident.StatusFailed {
		title = "Analysis Failed"
	}
	category := "incident"
	if inc.Fields != nil && inc.Fields.Category != "" {
		category = inc.Fields.Category
	}
	text := fmt.Sprintf("%s %s: %s", emoji, title, category)

	return map[string]any{
		"type": "header",
		"text": map[string]any{
			"type": "plain_text",
			"text": text,
		},
	}
}

func fieldsBlock(inc *incident.Incident) map[string]any {
	fields := []map[string]any{
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Status:* %s", inc.Status),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Severity:* %s (%d)", inc.SeverityLabel, inc.SeverityScore),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Route:* %s", inc.Route),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Urgency:* %s", inc.Urgency),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Submitter:* %s", inc.Submitter),
		},
	}

	return map[string]any{
		"type":   "section",
		"fields": fields,
	}
}

func summaryBlock(inc *incident.Incident) map[string]any {
	text := truncate(inc.Summary, maxSummaryLen)
	if text == "" {
		text = "_No summary available._"
	}
	if len(inc.Actions) > 0 {
		text += "\n\n*Recommended actions*\n• " + strings.Join(inc.Actions, "\n• ")
	}

	return map[string]any{
		"type": "section",
		"text": map[string]any{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Summary*\n\n%s", text),
		},
	}
}

func contextBlock(inc *incident.Incident) map[string]any {
	ts := inc.UpdatedAt
	if ts.IsZero() {
		ts = inc.CreatedAt
	}

	elements := []map[string]any{
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("beacon • incident %s • %s", inc.ID, ts.UTC().Format("2006-01-02 15:04 UTC")),
		},
	}

	return map[string]any{
		"type":     "context",
		"elements": elements,
	}
}

func severityEmoji(status incident.Status, severity incident.SeverityLabel) string {
	if status == incident.StatusFailed {
		return "\U0001f534" // red circle
	}
	switch severity {
	case incident.SeverityCritical:
		return "\U0001f534" // red circle
	case incident.SeverityHigh:
		return "\U0001f7e0" // orange circle
	case incident.SeverityMedium:
		return "\U0001f7e1" // yellow circle
	default:
		return "\U0001f7e2" // green circle
	}
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit-3] + "..."
}

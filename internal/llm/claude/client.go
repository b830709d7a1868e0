// Package claude implements incident.Classifier on the Anthropic API.
package claude

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"math"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/beacon/internal/incident"
)

const (
	maxTokens = 2048

	// EmbedDim is the dimensionality of locally computed embeddings. The
	// Anthropic API has no embeddings endpoint, so Embed hashes token
	// features into a fixed-size vector instead of calling out.
	EmbedDim = 256
)

// Client calls the Anthropic Messages API for classification, summarization,
// routing validation and policy review. Malformed model output degrades to
// neutral defaults rather than failing the run; transport errors propagate.
type Client struct {
	client anthropic.Client
	model  string
	logger log.Logger
}

// New returns a Client for the given API key and model.
func New(apiKey, model string, logger log.Logger) *Client {
	if logger == nil {
		logger = log.Nop()
	}
	return &Client{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
		logger: logger.With("component", "claude"),
	}
}

const classifySystem = `You are an incident report classifier. Respond only with a JSON object:
{"category": string, "severity_score": int 0-100,
 "entities": {"location": string, "time": string, "parties": [string]},
 "emotion": string, "risk_indicators": [string]}
Categories: harassment, theft, assault, vandalism, fraud, medical, fire, other.
Risk indicators include: weapon, injury, repeat_occurrence, minor_involved.`

// Classify extracts structured fields from a raw report.
func (c *Client) Classify(ctx context.Context, text string, mediaRefs []string) (incident.ExtractedFields, error) {
	prompt := "Report:\n" + text
	if len(mediaRefs) > 0 {
		prompt += "\n\nAttached media references:\n" + strings.Join(mediaRefs, "\n")
	}

	out, err := c.complete(ctx, classifySystem, prompt)
	if err != nil {
		return incident.ExtractedFields{}, err
	}

	var fields incident.ExtractedFields
	if err := json.Unmarshal(extractJSON(out), &fields); err != nil {
		c.logger.Warn(ctx, "unparseable classification, using neutral defaults", "error", err)
		return neutralFields(), nil
	}
	if fields.Category == "" {
		fields.Category = "other"
	}
	fields.SeverityScore = clampScore(fields.SeverityScore)
	if fields.Emotion == "" {
		fields.Emotion = "neutral"
	}
	fields.RiskIndicators = normalizeIndicators(fields.RiskIndicators)
	return fields, nil
}

// Models drift toward verbose indicator names; the routing rules match the
// canonical short forms exactly.
var indicatorAliases = map[string]string{
	"weapon_mentioned": "weapon",
	"injury_reported":  "injury",
}

func normalizeIndicators(in []string) []string {
	if len(in) == 0 {
		return in
	}
	out := make([]string, len(in))
	for i, ind := range in {
		ind = strings.ToLower(strings.TrimSpace(ind))
		if canonical, ok := indicatorAliases[ind]; ok {
			ind = canonical
		}
		out[i] = ind
	}
	return out
}

const summarizeSystem = `You summarize classified incident reports for response teams. Respond only with a JSON object:
{"summary": string, "recommended_actions": [string], "urgency": "low"|"medium"|"high"|"critical"}`

// Summarize produces the human-facing digest for a classified report.
func (c *Client) Summarize(ctx context.Context, fields incident.ExtractedFields, text string) (incident.Summary, error) {
	fieldsJSON, _ := json.Marshal(fields)
	prompt := fmt.Sprintf("Report:\n%s\n\nClassification:\n%s", text, fieldsJSON)

	out, err := c.complete(ctx, summarizeSystem, prompt)
	if err != nil {
		return incident.Summary{}, err
	}

	var sum incident.Summary
	if err := json.Unmarshal(extractJSON(out), &sum); err != nil {
		c.logger.Warn(ctx, "unparseable summary, using template", "error", err)
		return templateSummary(fields), nil
	}
	if sum.Summary == "" {
		sum = templateSummary(fields)
	}
	return sum, nil
}

const validateSystem = `You sanity-check routing decisions for incident reports. Respond only with a JSON object:
{"agrees_with_routing": bool, "override_suggested": bool, "reasoning": string, "additional_factors": [string]}`

// ValidateRouting asks the model whether a rule-engine decision is sensible.
// The answer is advisory: it is recorded in the audit trail but never changes
// the route.
func (c *Client) ValidateRouting(ctx context.Context, summary string, route incident.Route, rules []string) (incident.Validation, error) {
	prompt := fmt.Sprintf("Incident summary:\n%s\n\nRoute: %s\nTriggered rules: %s",
		summary, route, strings.Join(rules, ", "))

	out, err := c.complete(ctx, validateSystem, prompt)
	if err != nil {
		return incident.Validation{}, err
	}

	var v incident.Validation
	if err := json.Unmarshal(extractJSON(out), &v); err != nil {
		c.logger.Warn(ctx, "unparseable validation, recording agreement", "error", err)
		return incident.Validation{Agrees: true, Reasoning: "validation unavailable"}, nil
	}
	return v, nil
}

const reviewSystem = `You review incident analyses for policy compliance and bias. Respond only with a JSON object:
{"policy_passed": bool, "policy_notes": string, "bias_passed": bool, "bias_concerns": [string],
 "missing_information": [string], "legal_considerations": [string], "overall_passed": bool}`

// Review runs the policy and bias check over the full analysis.
func (c *Client) Review(ctx context.Context, summary string, route incident.Route, fields incident.ExtractedFields) (incident.Review, error) {
	fieldsJSON, _ := json.Marshal(fields)
	prompt := fmt.Sprintf("Incident summary:\n%s\n\nRoute: %s\n\nClassification:\n%s",
		summary, route, fieldsJSON)

	out, err := c.complete(ctx, reviewSystem, prompt)
	if err != nil {
		return incident.Review{}, err
	}

	var r incident.Review
	if err := json.Unmarshal(extractJSON(out), &r); err != nil {
		c.logger.Warn(ctx, "unparseable review, recording pass", "error", err)
		return incident.Review{PolicyPassed: true, BiasPassed: true, OverallPassed: true}, nil
	}
	return r, nil
}

// Embed computes a deterministic feature-hash embedding of the text. The same
// text always yields the same vector, which keeps similarity search and
// reprocessing reproducible without an external embeddings service.
func (c *Client) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, EmbedDim)
	for _, tok := range strings.Fields(strings.ToLower(text)) {
		tok = strings.Trim(tok, ".,;:!?'\"()[]")
		if tok == "" {
			continue
		}
		h := fnv.New32a()
		h.Write([]byte(tok))
		sum := h.Sum32()
		sign := float32(1)
		if sum&(1<<31) != 0 {
			sign = -1
		}
		vec[sum%EmbedDim] += sign
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		inv := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= inv
		}
	}
	return vec, nil
}

func (c *Client) complete(ctx context.Context, system, prompt string) (string, error) {
	message, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: maxTokens,
		System: []anthropic.TextBlockParam{
			{Text: system},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic: %w", err)
	}

	for _, block := range message.Content {
		if block.Type == "text" {
			return block.Text, nil
		}
	}
	return "", fmt.Errorf("anthropic: no text content in response")
}

// extractJSON strips markdown code fences and surrounding prose so the body
// can be fed to json.Unmarshal.
func extractJSON(s string) []byte {
	s = strings.TrimSpace(s)
	if i := strings.Index(s, "```"); i >= 0 {
		s = s[i+3:]
		s = strings.TrimPrefix(s, "json")
		if j := strings.Index(s, "```"); j >= 0 {
			s = s[:j]
		}
	}
	if i := strings.IndexAny(s, "{["); i > 0 {
		s = s[i:]
	}
	return []byte(strings.TrimSpace(s))
}

func neutralFields() incident.ExtractedFields {
	return incident.ExtractedFields{
		Category:      "other",
		SeverityScore: 50,
		Emotion:       "neutral",
	}
}

func templateSummary(fields incident.ExtractedFields) incident.Summary {
	return incident.Summary{
		Summary:            fmt.Sprintf("%s incident, severity %d", fields.Category, fields.SeverityScore),
		RecommendedActions: []string{"review incident details"},
		Urgency:            "medium",
	}
}

func clampScore(n int) int {
	if n < 0 {
		return 0
	}
	if n > 100 {
		return 100
	}
	return n
}

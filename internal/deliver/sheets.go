// Package deliver contains the delivery sinks completed incidents fan out
// to: a spreadsheet bridge and email.
package deliver

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

const sheetsTimeout = 15 * time.Second

// SheetsSink appends one row per completed incident to a spreadsheet bridge
// endpoint. It implements incident.Sink. An empty endpoint makes Deliver a
// no-op.
type SheetsSink struct {
	endpoint string
	sheet    string
	client   *http.Client
}

// NewSheetsSink creates a sink for the given bridge endpoint and sheet name.
func NewSheetsSink(endpoint, sheet string) *SheetsSink {
	return &SheetsSink{
		endpoint: endpoint,
		sheet:    sheet,
		client:   &http.Client{Timeout: sheetsTimeout},
	}
}

// Name identifies the sink in delivery logs.
func (s *SheetsSink) Name() string { return "sheets" }

type sheetsAppend struct {
	Sheet string   `json:"sheet"`
	Row   []string `json:"row"`
}

// Deliver appends the incident's result row.
func (s *SheetsSink) Deliver(ctx context.Context, inc *incident.Incident) error {
	if s.endpoint == "" {
		return nil
	}

	category := ""
	if inc.Fields != nil {
		category = inc.Fields.Category
	}
	row := []string{
		inc.ID,
		inc.CreatedAt.UTC().Format(time.RFC3339),
		inc.Submitter,
		category,
		string(inc.SeverityLabel),
		fmt.Sprintf("%d", inc.SeverityScore),
		string(inc.Route),
		inc.Urgency,
		inc.Summary,
		strings.Join(inc.Actions, "; "),
	}

	body, err := json.Marshal(sheetsAppend{Sheet: s.sheet, Row: row})
	if err != nil {
		return fmt.Errorf("sheets: marshal row: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("sheets: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("sheets: append row: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("sheets: endpoint returned %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

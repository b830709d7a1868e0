// Package qdrant implements incident.Index against the Qdrant REST API.
package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"io"
	"net/http"
	"time"

	"github.com/linnemanlabs/beacon/internal/incident"
)

// minScore is the cosine similarity floor below which hits are discarded.
const minScore = 0.3

// Client talks to a Qdrant instance over its REST API. One collection holds
// all incident embeddings; points carry the incident payload so search hits
// can be rendered without a store round-trip.
type Client struct {
	endpoint   string
	collection string
	apiKey     string
	vectorDim  int
	httpClient *http.Client
}

// New creates a client for the given Qdrant endpoint and collection.
func New(endpoint, collection, apiKey string, vectorDim int) *Client {
	return &Client{
		endpoint:   endpoint,
		collection: collection,
		apiKey:     apiKey,
		vectorDim:  vectorDim,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// EnsureCollection creates the collection if it does not exist. Cosine
// distance matches the normalized embeddings the classifier produces.
func (c *Client) EnsureCollection(ctx context.Context) error {
	body := map[string]any{
		"vectors": map[string]any{
			"size":     c.vectorDim,
			"distance": "Cosine",
		},
	}

	status, respBody, err := c.do(ctx, http.MethodPut, "/collections/"+c.collection, body)
	if err != nil {
		return err
	}
	// 409 means the collection already exists.
	if status != http.StatusOK && status != http.StatusConflict {
		return fmt.Errorf("create collection: status %d: %s", status, respBody)
	}
	return nil
}

// Upsert writes or replaces the point for an incident. Re-upserting the same
// ID overwrites the previous vector and payload, so reprocessed incidents
// keep a single index entry.
func (c *Client) Upsert(ctx context.Context, id string, vector []float32, entry incident.IndexEntry) error {
	payload := map[string]any{
		"incident_id":    id,
		"text":           entry.Text,
		"summary":        entry.Summary,
		"severity_score": entry.SeverityScore,
		"severity_label": string(entry.SeverityLabel),
		"category":       entry.Category,
		"route":          string(entry.Route),
		"timestamp":      entry.Timestamp,
		"tags":           entry.Tags,
	}
	body := map[string]any{
		"points": []map[string]any{{
			"id":      pointID(id),
			"vector":  vector,
			"payload": payload,
		}},
	}

	status, respBody, err := c.do(ctx, http.MethodPut, "/collections/"+c.collection+"/points?wait=true", body)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("upsert point: status %d: %s", status, respBody)
	}
	return nil
}

type searchHit struct {
	Score   float64 `json:"score"`
	Payload struct {
		IncidentID    string `json:"incident_id"`
		Summary       string `json:"summary"`
		SeverityLabel string `json:"severity_label"`
		Timestamp     string `json:"timestamp"`
	} `json:"payload"`
}

type searchResponse struct {
	Result []searchHit `json:"result"`
	Status any         `json:"status"`
}

// Search returns up to k incidents similar to the vector, optionally
// restricted to a category. Hits below the similarity floor are dropped.
func (c *Client) Search(ctx context.Context, vector []float32, k int, category string) ([]incident.SimilarIncident, error) {
	body := map[string]any{
		"vector":          vector,
		"limit":           k,
		"with_payload":    true,
		"score_threshold": minScore,
	}
	if category != "" {
		body["filter"] = map[string]any{
			"must": []map[string]any{{
				"key":   "category",
				"match": map[string]any{"value": category},
			}},
		}
	}

	status, respBody, err := c.do(ctx, http.MethodPost, "/collections/"+c.collection+"/points/search", body)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("search: status %d: %s", status, respBody)
	}

	var resp searchResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("unmarshal search response: %w", err)
	}

	hits := make([]incident.SimilarIncident, 0, len(resp.Result))
	for _, h := range resp.Result {
		ts, _ := time.Parse(time.RFC3339, h.Payload.Timestamp)
		hits = append(hits, incident.SimilarIncident{
			IncidentID:    h.Payload.IncidentID,
			Score:         h.Score,
			Summary:       h.Payload.Summary,
			SeverityLabel: incident.SeverityLabel(h.Payload.SeverityLabel),
			Timestamp:     ts,
		})
	}
	return hits, nil
}

func (c *Client) do(ctx context.Context, method, path string, body any) (int, []byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return 0, nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint+path, bytes.NewReader(payload))
	if err != nil {
		return 0, nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("api-key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("qdrant request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, respBody, nil
}

// pointID maps an incident ID onto the numeric point IDs Qdrant accepts.
// The incident ID itself travels in the payload.
func pointID(id string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(id))
	return h.Sum64()
}

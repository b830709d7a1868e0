// Package workflow runs the analysis pipeline on an external workflow
// engine instead of in process. The Proxy implements incident.Runner by
// starting a remote run and blocking until the engine posts its result back
// to the callback webhook.
package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/beacon/internal/incident"
)

// defaultTimeout bounds how long a run may stay in flight before the proxy
// gives up on the callback.
const defaultTimeout = 5 * time.Minute

// Client starts runs on the workflow engine's REST API.
type Client struct {
	endpoint   string
	workflow   string
	callback   string
	httpClient *http.Client
}

// NewClient creates a client for the given engine endpoint and workflow name.
// callbackURL is where the engine posts results when a run finishes.
func NewClient(endpoint, workflow, callbackURL string) *Client {
	return &Client{
		endpoint:   endpoint,
		workflow:   workflow,
		callback:   callbackURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

type startRequest struct {
	Workflow    string             `json:"workflow"`
	CallbackURL string             `json:"callback_url"`
	Input       *incident.Incident `json:"input"`
}

type startResponse struct {
	JobID string `json:"job_id"`
}

// Start submits one incident to the engine and returns the job ID.
func (c *Client) Start(ctx context.Context, inc *incident.Incident) (string, error) {
	body, err := json.Marshal(startRequest{
		Workflow:    c.workflow,
		CallbackURL: c.callback,
		Input:       inc,
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.endpoint+"/v1/workflows/"+c.workflow+"/runs", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("start workflow: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return "", fmt.Errorf("start workflow: status %d: %s", resp.StatusCode, respBody)
	}

	var out startResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return "", fmt.Errorf("unmarshal response: %w", err)
	}
	if out.JobID == "" {
		return "", fmt.Errorf("start workflow: empty job_id")
	}
	return out.JobID, nil
}

// CallbackResult is the payload the engine posts to the callback webhook
// when a run finishes.
type CallbackResult struct {
	JobID  string                `json:"job_id"`
	Status string                `json:"status"` // "completed" or "failed"
	Error  string                `json:"error,omitempty"`
	Record *incident.AuditRecord `json:"audit_record,omitempty"`
}

// starter is the slice of Client the proxy needs; tests substitute a stub.
type starter interface {
	Start(ctx context.Context, inc *incident.Incident) (string, error)
}

// Proxy is the incident.Runner that delegates runs to the workflow engine.
// It parks each started run until Complete is called with the matching job
// ID, then finishes the incident through the same completion path the
// in-process executor uses.
type Proxy struct {
	client  starter
	store   incident.Store
	logger  log.Logger
	timeout time.Duration

	mu      sync.Mutex
	pending map[string]chan CallbackResult
}

// NewProxy creates a workflow-backed Runner.
func NewProxy(client *Client, store incident.Store, logger log.Logger) *Proxy {
	if logger == nil {
		logger = log.Nop()
	}
	return &Proxy{
		client:  client,
		store:   store,
		logger:  logger.With("component", "workflow"),
		timeout: defaultTimeout,
		pending: make(map[string]chan CallbackResult),
	}
}

// Process starts a remote run for the incident and blocks until the engine
// calls back or the timeout elapses. On success the audit record is persisted
// and the incident completed; on failure the incident is marked failed.
func (p *Proxy) Process(ctx context.Context, inc *incident.Incident) (*incident.AuditRecord, error) {
	rec, err := p.run(ctx, inc)
	if err != nil {
		p.logger.Error(ctx, err, "workflow run failed", "incident_id", inc.ID)
		if perr := incident.PersistFailure(ctx, p.store, inc, err.Error()); perr != nil {
			p.logger.Error(ctx, perr, "failed to persist failed incident", "incident_id", inc.ID)
		}
		return nil, err
	}
	return rec, nil
}

func (p *Proxy) run(ctx context.Context, inc *incident.Incident) (*incident.AuditRecord, error) {
	jobID, err := p.client.Start(ctx, inc)
	if err != nil {
		return nil, err
	}

	ch := p.register(jobID)
	defer p.unregister(jobID)

	p.logger.Info(ctx, "workflow run started", "incident_id", inc.ID, "job_id", jobID)

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(p.timeout):
		return nil, fmt.Errorf("workflow job %s: no callback within %s", jobID, p.timeout)
	case result := <-ch:
		return p.finish(ctx, inc, result)
	}
}

func (p *Proxy) finish(ctx context.Context, inc *incident.Incident, result CallbackResult) (*incident.AuditRecord, error) {
	if result.Status != "completed" {
		reason := result.Error
		if reason == "" {
			reason = "workflow run failed"
		}
		return nil, fmt.Errorf("workflow job %s: %s", result.JobID, reason)
	}
	if result.Record == nil {
		return nil, fmt.Errorf("workflow job %s: completed without audit record", result.JobID)
	}

	rec := result.Record
	if err := p.store.AppendAudit(ctx, rec); err != nil {
		return nil, fmt.Errorf("append audit: %w", err)
	}

	if err := incident.CompleteRun(ctx, p.store, inc, rec); err != nil {
		return nil, fmt.Errorf("finalize incident: %w", err)
	}
	return rec, nil
}

// Complete hands a callback result to the waiting run. Returns false when no
// run is waiting on the job ID, which the webhook reports as not found.
func (p *Proxy) Complete(result CallbackResult) bool {
	p.mu.Lock()
	ch, ok := p.pending[result.JobID]
	p.mu.Unlock()
	if !ok {
		return false
	}

	select {
	case ch <- result:
		return true
	default:
		// A second callback for the same job; the first one won.
		return false
	}
}

func (p *Proxy) register(jobID string) chan CallbackResult {
	ch := make(chan CallbackResult, 1)
	p.mu.Lock()
	p.pending[jobID] = ch
	p.mu.Unlock()
	return ch
}

func (p *Proxy) unregister(jobID string) {
	p.mu.Lock()
	delete(p.pending, jobID)
	p.mu.Unlock()
}

package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/beacon/internal/incident"
	"github.com/linnemanlabs/beacon/internal/incident/memstore"
)

type stubStarter struct {
	jobID string
	err   error
}

func (s *stubStarter) Start(_ context.Context, _ *incident.Incident) (string, error) {
	return s.jobID, s.err
}

func newTestProxy(store incident.Store, client starter, timeout time.Duration) *Proxy {
	return &Proxy{
		client:  client,
		store:   store,
		logger:  log.Nop(),
		timeout: timeout,
		pending: make(map[string]chan CallbackResult),
	}
}

func testRecord(incidentID string) *incident.AuditRecord {
	return &incident.AuditRecord{
		ID:         "audit-1",
		IncidentID: incidentID,
		Understand: incident.UnderstandStage{
			Fields: incident.ExtractedFields{
				Category:      "theft",
				SeverityScore: 40,
				SeverityLabel: incident.SeverityMedium,
			},
			Summary: incident.Summary{Summary: "remote summary", Urgency: "medium"},
		},
		Final: incident.FinalDecision{
			Route:              incident.RouteLogOnly,
			Severity:           incident.SeverityMedium,
			RecommendedActions: []string{"document the incident"},
		},
	}
}

func TestClient_Start(t *testing.T) {
	t.Parallel()

	var gotReq startRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if r.URL.Path != "/v1/workflows/incident-analysis/runs" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(startResponse{JobID: "job-42"})
	}))
	t.Cleanup(srv.Close)

	c := NewClient(srv.URL, "incident-analysis", "https://beacon.example/api/v1/webhooks/workflow-callback")
	inc := &incident.Incident{ID: "inc-1", Text: "report"}

	jobID, err := c.Start(context.Background(), inc)
	if err != nil {
		t.Fatalf("Start() = %v", err)
	}
	if jobID != "job-42" {
		t.Errorf("job ID = %q, want job-42", jobID)
	}
	if gotReq.Workflow != "incident-analysis" {
		t.Errorf("workflow = %q", gotReq.Workflow)
	}
	if gotReq.CallbackURL != "https://beacon.example/api/v1/webhooks/workflow-callback" {
		t.Errorf("callback = %q", gotReq.CallbackURL)
	}
	if gotReq.Input == nil || gotReq.Input.ID != "inc-1" {
		t.Errorf("input = %+v, want incident inc-1", gotReq.Input)
	}
}

func TestClient_Start_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		handler http.HandlerFunc
		want    string
	}{
		{
			"engine error",
			func(w http.ResponseWriter, _ *http.Request) {
				http.Error(w, "overloaded", http.StatusServiceUnavailable)
			},
			"status 503",
		},
		{
			"missing job_id",
			func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte(`{}`)) },
			"empty job_id",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			srv := httptest.NewServer(tt.handler)
			t.Cleanup(srv.Close)

			c := NewClient(srv.URL, "incident-analysis", "https://beacon.example/cb")
			_, err := c.Start(context.Background(), &incident.Incident{ID: "inc-1"})
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %v, want substring %q", err, tt.want)
			}
		})
	}
}

func TestProxy_Process_Completes(t *testing.T) {
	t.Parallel()

	store := memstore.New()
	p := newTestProxy(store, &stubStarter{jobID: "job-1"}, time.Minute)

	inc := &incident.Incident{ID: "inc-1", Submitter: "alice", Text: "report", Status: incident.StatusProcessing}
	if err := store.PutIncident(context.Background(), inc); err != nil {
		t.Fatalf("seed: %v", err)
	}

	go func() {
		// Wait for the run to park, then deliver the engine callback.
		for !p.Complete(CallbackResult{JobID: "job-1", Status: "completed", Record: testRecord("inc-1")}) {
			time.Sleep(time.Millisecond)
		}
	}()

	rec, err := p.Process(context.Background(), inc)
	if err != nil {
		t.Fatalf("Process() = %v", err)
	}
	if rec.ID != "audit-1" {
		t.Errorf("record ID = %q, want audit-1", rec.ID)
	}

	if inc.Status != incident.StatusCompleted {
		t.Errorf("status = %q, want completed", inc.Status)
	}
	if inc.Summary != "remote summary" {
		t.Errorf("summary = %q, want remote summary", inc.Summary)
	}
	if inc.Route != incident.RouteLogOnly {
		t.Errorf("route = %q, want LogOnly", inc.Route)
	}

	audits, _ := store.ListAudits(context.Background(), "inc-1")
	if len(audits) != 1 {
		t.Errorf("audit count = %d, want 1", len(audits))
	}
	got, _, _ := store.GetIncident(context.Background(), "inc-1")
	if got.Status != incident.StatusCompleted {
		t.Errorf("persisted status = %q, want completed", got.Status)
	}
}

func TestProxy_Process_FailedRun(t *testing.T) {
	t.Parallel()

	store := memstore.New()
	p := newTestProxy(store, &stubStarter{jobID: "job-1"}, time.Minute)

	inc := &incident.Incident{ID: "inc-1", Text: "report", Status: incident.StatusProcessing}
	if err := store.PutIncident(context.Background(), inc); err != nil {
		t.Fatalf("seed: %v", err)
	}

	go func() {
		for !p.Complete(CallbackResult{JobID: "job-1", Status: "failed", Error: "stage understand blew up"}) {
			time.Sleep(time.Millisecond)
		}
	}()

	_, err := p.Process(context.Background(), inc)
	if err == nil || !strings.Contains(err.Error(), "stage understand blew up") {
		t.Fatalf("error = %v, want engine failure reason", err)
	}

	got, _, _ := store.GetIncident(context.Background(), "inc-1")
	if got.Status != incident.StatusFailed {
		t.Errorf("status = %q, want failed", got.Status)
	}
	if got.FailureReason == "" {
		t.Error("expected failure reason")
	}
}

func TestProxy_Process_CompletedWithoutRecord(t *testing.T) {
	t.Parallel()

	store := memstore.New()
	p := newTestProxy(store, &stubStarter{jobID: "job-1"}, time.Minute)

	inc := &incident.Incident{ID: "inc-1", Text: "report", Status: incident.StatusProcessing}
	if err := store.PutIncident(context.Background(), inc); err != nil {
		t.Fatalf("seed: %v", err)
	}

	go func() {
		for !p.Complete(CallbackResult{JobID: "job-1", Status: "completed"}) {
			time.Sleep(time.Millisecond)
		}
	}()

	_, err := p.Process(context.Background(), inc)
	if err == nil || !strings.Contains(err.Error(), "without audit record") {
		t.Fatalf("error = %v, want missing record error", err)
	}
}

func TestProxy_Process_StartFailure(t *testing.T) {
	t.Parallel()

	store := memstore.New()
	p := newTestProxy(store, &stubStarter{err: errors.New("engine unreachable")}, time.Minute)

	inc := &incident.Incident{ID: "inc-1", Text: "report", Status: incident.StatusProcessing}
	if err := store.PutIncident(context.Background(), inc); err != nil {
		t.Fatalf("seed: %v", err)
	}

	_, err := p.Process(context.Background(), inc)
	if err == nil || !strings.Contains(err.Error(), "engine unreachable") {
		t.Fatalf("error = %v, want start failure", err)
	}
	got, _, _ := store.GetIncident(context.Background(), "inc-1")
	if got.Status != incident.StatusFailed {
		t.Errorf("status = %q, want failed", got.Status)
	}
}

func TestProxy_Process_Timeout(t *testing.T) {
	t.Parallel()

	store := memstore.New()
	p := newTestProxy(store, &stubStarter{jobID: "job-1"}, 20*time.Millisecond)

	inc := &incident.Incident{ID: "inc-1", Text: "report", Status: incident.StatusProcessing}
	if err := store.PutIncident(context.Background(), inc); err != nil {
		t.Fatalf("seed: %v", err)
	}

	_, err := p.Process(context.Background(), inc)
	if err == nil || !strings.Contains(err.Error(), "no callback") {
		t.Fatalf("error = %v, want timeout", err)
	}

	// The job is no longer waiting; a late callback is turned away.
	if p.Complete(CallbackResult{JobID: "job-1", Status: "completed", Record: testRecord("inc-1")}) {
		t.Error("late callback must not find a waiter")
	}
}

func TestProxy_Process_ContextCanceled(t *testing.T) {
	t.Parallel()

	store := memstore.New()
	p := newTestProxy(store, &stubStarter{jobID: "job-1"}, time.Minute)

	inc := &incident.Incident{ID: "inc-1", Text: "report", Status: incident.StatusProcessing}
	if err := store.PutIncident(context.Background(), inc); err != nil {
		t.Fatalf("seed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Process(ctx, inc)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
}

func TestComplete_UnknownJob(t *testing.T) {
	t.Parallel()

	p := newTestProxy(memstore.New(), &stubStarter{jobID: "job-1"}, time.Minute)
	if p.Complete(CallbackResult{JobID: "never-started"}) {
		t.Error("unknown job must report false")
	}
}

func TestComplete_DuplicateCallback(t *testing.T) {
	t.Parallel()

	p := newTestProxy(memstore.New(), &stubStarter{jobID: "job-1"}, time.Minute)
	p.register("job-1")

	if !p.Complete(CallbackResult{JobID: "job-1", Status: "completed"}) {
		t.Fatal("first callback must be accepted")
	}
	if p.Complete(CallbackResult{JobID: "job-1", Status: "completed"}) {
		t.Error("second callback must be turned away")
	}
}

func TestProxy_Process_MidRunRejectionWins(t *testing.T) {
	t.Parallel()

	store := memstore.New()
	p := newTestProxy(store, &stubStarter{jobID: "job-1"}, time.Minute)

	stale := &incident.Incident{ID: "inc-1", Submitter: "alice", Text: "report", Status: incident.StatusProcessing}
	rejected := *stale
	rejected.Status = incident.StatusFailed
	rejected.RejectionReason = "duplicate submission"
	if err := store.PutIncident(context.Background(), &rejected); err != nil {
		t.Fatalf("seed: %v", err)
	}

	go func() {
		for !p.Complete(CallbackResult{JobID: "job-1", Status: "completed", Record: testRecord("inc-1")}) {
			time.Sleep(time.Millisecond)
		}
	}()

	_, err := p.Process(context.Background(), stale)
	if !errors.Is(err, incident.ErrInvalidState) {
		t.Fatalf("error = %v, want ErrInvalidState", err)
	}

	got, _, _ := store.GetIncident(context.Background(), "inc-1")
	if !got.Rejected() {
		t.Fatalf("status = %q, rejection was overwritten by the engine result", got.Status)
	}
	if got.RejectionReason != "duplicate submission" {
		t.Errorf("rejection reason = %q, want duplicate submission", got.RejectionReason)
	}
	if got.Summary != "" {
		t.Errorf("summary = %q, want empty", got.Summary)
	}
}

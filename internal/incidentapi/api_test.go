package incidentapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/linnemanlabs/beacon/internal/credits"
	"github.com/linnemanlabs/beacon/internal/incident"
	"github.com/linnemanlabs/beacon/internal/workflow"
)

// stubService returns canned values and records the arguments it was called
// with.
type stubService struct {
	incident *incident.Incident
	record   *incident.AuditRecord
	batch    *incident.Batch
	result   *incident.BatchResult
	err      error

	gotFilter    incident.ListFilter
	gotSubmitter string
	gotSubs      []incident.Submission
	gotOpts      incident.BatchOptions
	gotReason    string
	gotActor     string
}

func (s *stubService) Submit(_ context.Context, _ incident.Submission) (*incident.Incident, error) {
	return s.incident, s.err
}

func (s *stubService) Get(_ context.Context, _ string) (*incident.Incident, bool, error) {
	return s.incident, s.incident != nil, s.err
}

func (s *stubService) List(_ context.Context, f incident.ListFilter) ([]*incident.Incident, error) {
	s.gotFilter = f
	if s.incident == nil {
		return nil, s.err
	}
	return []*incident.Incident{s.incident}, s.err
}

func (s *stubService) Audits(_ context.Context, _ string) ([]*incident.AuditRecord, error) {
	if s.record == nil {
		return nil, s.err
	}
	return []*incident.AuditRecord{s.record}, s.err
}

func (s *stubService) Rejections(_ context.Context, _ string) ([]*incident.RejectionRecord, error) {
	return nil, s.err
}

func (s *stubService) Corrections(_ context.Context, _ string) ([]*incident.CorrectionRecord, error) {
	return nil, s.err
}

func (s *stubService) Reject(_ context.Context, _, reason, actor string, _ map[string]string) (*incident.Incident, error) {
	s.gotReason = reason
	s.gotActor = actor
	return s.incident, s.err
}

func (s *stubService) SubmitCorrections(_ context.Context, _ string, _ incident.Correction, actor string) (*incident.Incident, error) {
	s.gotActor = actor
	return s.incident, s.err
}

func (s *stubService) Reprocess(_ context.Context, _ string) (*incident.AuditRecord, error) {
	return s.record, s.err
}

func (s *stubService) ReprocessPending(_ context.Context) (*incident.BatchResult, error) {
	return s.result, s.err
}

func (s *stubService) ProcessBatch(_ context.Context, submitter string, subs []incident.Submission, opts incident.BatchOptions) (*incident.BatchResult, error) {
	s.gotSubmitter = submitter
	s.gotSubs = subs
	s.gotOpts = opts
	return s.result, s.err
}

func (s *stubService) RetryFailed(_ context.Context, _ string) (*incident.BatchResult, error) {
	return s.result, s.err
}

func (s *stubService) GetBatch(_ context.Context, _ string) (*incident.Batch, bool, error) {
	return s.batch, s.batch != nil, s.err
}

func (s *stubService) ListBatches(_ context.Context, _ string, _ int) ([]*incident.Batch, error) {
	if s.batch == nil {
		return nil, s.err
	}
	return []*incident.Batch{s.batch}, s.err
}

// stubCompleter accepts or turns away callbacks.
type stubCompleter struct {
	accept bool
	got    workflow.CallbackResult
}

func (c *stubCompleter) Complete(result workflow.CallbackResult) bool {
	c.got = result
	return c.accept
}

func newTestRouter(svc IncidentService, completer Completer) chi.Router {
	r := chi.NewRouter()
	api := New(nil, svc, credits.New(nil), completer, nil, 4)
	api.RegisterRoutes(r)
	return r
}

func doRequest(t *testing.T, router chi.Router, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func TestNew_PanicsOnNilDeps(t *testing.T) {
	t.Parallel()

	defer func() {
		if recover() == nil {
			t.Error("expected panic on nil service")
		}
	}()
	New(nil, nil, credits.New(nil), nil, nil, 0)
}

func TestHandleSubmit(t *testing.T) {
	t.Parallel()

	svc := &stubService{incident: &incident.Incident{ID: "inc-1", Status: incident.StatusProcessing}}
	router := newTestRouter(svc, nil)

	rr := doRequest(t, router, http.MethodPost, "/api/v1/incidents",
		`{"text":"something happened","submitter":"alice"}`)

	if rr.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rr.Code)
	}
	var got incident.Incident
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.ID != "inc-1" || got.Status != incident.StatusProcessing {
		t.Errorf("incident = %+v", got)
	}
}

func TestHandleSubmit_InvalidPayload(t *testing.T) {
	t.Parallel()

	router := newTestRouter(&stubService{}, nil)
	rr := doRequest(t, router, http.MethodPost, "/api/v1/incidents", `{not json`)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rr.Code)
	}
}

func TestWriteError_StatusMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"validation", fmt.Errorf("bad: %w", incident.ErrValidation), http.StatusBadRequest},
		{"credits", fmt.Errorf("broke: %w", incident.ErrInsufficientCredits), http.StatusPaymentRequired},
		{"state", fmt.Errorf("nope: %w", incident.ErrInvalidState), http.StatusConflict},
		{"missing", fmt.Errorf("gone: %w", incident.ErrNotFound), http.StatusNotFound},
		{"internal", fmt.Errorf("db exploded"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			svc := &stubService{err: tt.err}
			router := newTestRouter(svc, nil)

			rr := doRequest(t, router, http.MethodPost, "/api/v1/incidents",
				`{"text":"x","submitter":"alice"}`)
			if rr.Code != tt.want {
				t.Errorf("status = %d, want %d", rr.Code, tt.want)
			}

			// Internal failures never leak details.
			if tt.want == http.StatusInternalServerError &&
				strings.Contains(rr.Body.String(), "db exploded") {
				t.Error("internal error detail leaked to the client")
			}
		})
	}
}

func TestHandleGet(t *testing.T) {
	t.Parallel()

	svc := &stubService{incident: &incident.Incident{ID: "inc-1"}}
	router := newTestRouter(svc, nil)

	rr := doRequest(t, router, http.MethodGet, "/api/v1/incidents/inc-1", "")
	if rr.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rr.Code)
	}

	missing := newTestRouter(&stubService{}, nil)
	rr = doRequest(t, missing, http.MethodGet, "/api/v1/incidents/nope", "")
	if rr.Code != http.StatusNotFound {
		t.Errorf("missing status = %d, want 404", rr.Code)
	}
}

func TestHandleList_ParsesFilter(t *testing.T) {
	t.Parallel()

	svc := &stubService{incident: &incident.Incident{ID: "inc-1"}}
	router := newTestRouter(svc, nil)

	rr := doRequest(t, router, http.MethodGet,
		"/api/v1/incidents?status=failed&severity=High&category=theft&rejected=true&limit=5&offset=10", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}

	f := svc.gotFilter
	if f.Status != incident.StatusFailed {
		t.Errorf("status filter = %q", f.Status)
	}
	if f.Severity != incident.SeverityHigh {
		t.Errorf("severity filter = %q", f.Severity)
	}
	if f.Category != "theft" || !f.RejectedOnly {
		t.Errorf("filter = %+v", f)
	}
	if f.Limit != 5 || f.Offset != 10 {
		t.Errorf("limit/offset = %d/%d, want 5/10", f.Limit, f.Offset)
	}
}

func TestHandleList_EmptyIsArrayNotNull(t *testing.T) {
	t.Parallel()

	router := newTestRouter(&stubService{}, nil)
	rr := doRequest(t, router, http.MethodGet, "/api/v1/incidents", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `"incidents":[]`) {
		t.Errorf("body = %s, want empty array", rr.Body.String())
	}
}

func TestHandleAudits(t *testing.T) {
	t.Parallel()

	svc := &stubService{
		incident: &incident.Incident{ID: "inc-1"},
		record:   &incident.AuditRecord{ID: "audit-1", IncidentID: "inc-1"},
	}
	router := newTestRouter(svc, nil)

	rr := doRequest(t, router, http.MethodGet, "/api/v1/incidents/inc-1/audits", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	var body struct {
		Records []incident.AuditRecord `json:"audit_records"`
		Count   int                    `json:"count"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.Count != 1 || len(body.Records) != 1 {
		t.Errorf("count = %d, records = %d, want 1 each", body.Count, len(body.Records))
	}

	// Audits of an unknown incident are a 404, not an empty list.
	missing := newTestRouter(&stubService{}, nil)
	rr = doRequest(t, missing, http.MethodGet, "/api/v1/incidents/nope/audits", "")
	if rr.Code != http.StatusNotFound {
		t.Errorf("missing status = %d, want 404", rr.Code)
	}
}

func TestHandleReject(t *testing.T) {
	t.Parallel()

	svc := &stubService{incident: &incident.Incident{ID: "inc-1", Status: incident.StatusFailed, RejectionReason: "bad"}}
	router := newTestRouter(svc, nil)

	rr := doRequest(t, router, http.MethodPost, "/api/v1/incidents/inc-1/reject",
		`{"reason":"severity implausible","actor":"reviewer-1"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	if svc.gotReason != "severity implausible" || svc.gotActor != "reviewer-1" {
		t.Errorf("reject args = (%q, %q)", svc.gotReason, svc.gotActor)
	}
}

func TestHandleCorrections(t *testing.T) {
	t.Parallel()

	svc := &stubService{incident: &incident.Incident{ID: "inc-1", Status: incident.StatusPendingReprocess}}
	router := newTestRouter(svc, nil)

	rr := doRequest(t, router, http.MethodPost, "/api/v1/incidents/inc-1/corrections",
		`{"text":"corrected","actor":"reviewer-1"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	if svc.gotActor != "reviewer-1" {
		t.Errorf("actor = %q, want reviewer-1", svc.gotActor)
	}
}

func TestHandleReprocess(t *testing.T) {
	t.Parallel()

	svc := &stubService{record: &incident.AuditRecord{ID: "audit-2", IncidentID: "inc-1"}}
	router := newTestRouter(svc, nil)

	rr := doRequest(t, router, http.MethodPost, "/api/v1/incidents/inc-1/reprocess", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	var rec incident.AuditRecord
	if err := json.Unmarshal(rr.Body.Bytes(), &rec); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if rec.ID != "audit-2" {
		t.Errorf("record ID = %q, want audit-2", rec.ID)
	}
}

func TestHandleSubmitBatch(t *testing.T) {
	t.Parallel()

	svc := &stubService{result: &incident.BatchResult{BatchID: "b-1", Total: 2, Processed: 2}}
	router := newTestRouter(svc, nil)

	rr := doRequest(t, router, http.MethodPost, "/api/v1/batches",
		`{"submitter":"alice","items":[{"text":"one"},{"text":"two"}],"sequential":true}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	if svc.gotSubmitter != "alice" {
		t.Errorf("submitter = %q, want alice", svc.gotSubmitter)
	}
	if !svc.gotOpts.Sequential {
		t.Error("expected sequential option")
	}
	// The server's configured concurrency bound rides along.
	if svc.gotOpts.MaxConcurrency != 4 {
		t.Errorf("max concurrency = %d, want 4", svc.gotOpts.MaxConcurrency)
	}
}

func TestHandleGetBatch(t *testing.T) {
	t.Parallel()

	svc := &stubService{batch: &incident.Batch{ID: "b-1", Total: 3}}
	router := newTestRouter(svc, nil)

	rr := doRequest(t, router, http.MethodGet, "/api/v1/batches/b-1", "")
	if rr.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rr.Code)
	}

	missing := newTestRouter(&stubService{}, nil)
	rr = doRequest(t, missing, http.MethodGet, "/api/v1/batches/nope", "")
	if rr.Code != http.StatusNotFound {
		t.Errorf("missing status = %d, want 404", rr.Code)
	}
}

func TestHandleCredits(t *testing.T) {
	t.Parallel()

	router := newTestRouter(&stubService{}, nil)

	rr := doRequest(t, router, http.MethodGet, "/api/v1/credits/alice", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	var body struct {
		Account      string                `json:"account"`
		Balance      int                   `json:"balance"`
		Tier         string                `json:"tier"`
		Transactions []credits.Transaction `json:"transactions"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.Account != "alice" || body.Balance != credits.StarterCredits {
		t.Errorf("body = %+v", body)
	}
	if body.Tier != string(credits.TierStandard) {
		t.Errorf("tier = %q, want standard", body.Tier)
	}
	if body.Transactions == nil {
		t.Error("transactions must be an array, not null")
	}
}

func TestHandleGrant(t *testing.T) {
	t.Parallel()

	router := newTestRouter(&stubService{}, nil)

	rr := doRequest(t, router, http.MethodPost, "/api/v1/credits/alice/grant",
		`{"amount":95,"ref":"promo"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	var body struct {
		Balance int    `json:"balance"`
		Tier    string `json:"tier"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.Balance != credits.StarterCredits+95 {
		t.Errorf("balance = %d, want %d", body.Balance, credits.StarterCredits+95)
	}
	if body.Tier != string(credits.TierPremium) {
		t.Errorf("tier = %q, want premium", body.Tier)
	}
}

func TestHandleGrant_RejectsNonPositiveAmount(t *testing.T) {
	t.Parallel()

	router := newTestRouter(&stubService{}, nil)
	for _, body := range []string{`{"amount":0}`, `{"amount":-5}`, `{}`} {
		rr := doRequest(t, router, http.MethodPost, "/api/v1/credits/alice/grant", body)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("body %s: status = %d, want 400", body, rr.Code)
		}
	}
}

func TestHandleWorkflowCallback(t *testing.T) {
	t.Parallel()

	completer := &stubCompleter{accept: true}
	router := newTestRouter(&stubService{}, completer)

	rr := doRequest(t, router, http.MethodPost, "/api/v1/webhooks/workflow-callback",
		`{"job_id":"job-1","status":"completed"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	if completer.got.JobID != "job-1" || completer.got.Status != "completed" {
		t.Errorf("delivered = %+v", completer.got)
	}
}

func TestHandleWorkflowCallback_Rejections(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		completer Completer
		body      string
		want      int
	}{
		{"not configured", nil, `{"job_id":"job-1"}`, http.StatusNotFound},
		{"missing job id", &stubCompleter{accept: true}, `{"status":"completed"}`, http.StatusBadRequest},
		{"invalid payload", &stubCompleter{accept: true}, `{broken`, http.StatusBadRequest},
		{"no waiter", &stubCompleter{accept: false}, `{"job_id":"stale"}`, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			router := newTestRouter(&stubService{}, tt.completer)
			rr := doRequest(t, router, http.MethodPost, "/api/v1/webhooks/workflow-callback", tt.body)
			if rr.Code != tt.want {
				t.Errorf("status = %d, want %d", rr.Code, tt.want)
			}
		})
	}
}

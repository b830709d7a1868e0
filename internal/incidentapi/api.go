// Package incidentapi exposes the incident pipeline over HTTP.
package incidentapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/beacon/internal/credits"
	"github.com/linnemanlabs/beacon/internal/incident"
	"github.com/linnemanlabs/beacon/internal/ingest"
	"github.com/linnemanlabs/beacon/internal/workflow"
)

// IncidentService defines the business operations incidentapi needs.
type IncidentService interface {
	Submit(ctx context.Context, sub incident.Submission) (*incident.Incident, error)
	Get(ctx context.Context, id string) (*incident.Incident, bool, error)
	List(ctx context.Context, f incident.ListFilter) ([]*incident.Incident, error)
	Audits(ctx context.Context, incidentID string) ([]*incident.AuditRecord, error)
	Rejections(ctx context.Context, incidentID string) ([]*incident.RejectionRecord, error)
	Corrections(ctx context.Context, incidentID string) ([]*incident.CorrectionRecord, error)
	Reject(ctx context.Context, id, reason, actor string, suggested map[string]string) (*incident.Incident, error)
	SubmitCorrections(ctx context.Context, id string, c incident.Correction, actor string) (*incident.Incident, error)
	Reprocess(ctx context.Context, id string) (*incident.AuditRecord, error)
	ReprocessPending(ctx context.Context) (*incident.BatchResult, error)

	ProcessBatch(ctx context.Context, submitter string, subs []incident.Submission, opts incident.BatchOptions) (*incident.BatchResult, error)
	RetryFailed(ctx context.Context, batchID string) (*incident.BatchResult, error)
	GetBatch(ctx context.Context, id string) (*incident.Batch, bool, error)
	ListBatches(ctx context.Context, submitter string, limit int) ([]*incident.Batch, error)
}

// CreditService defines the ledger operations incidentapi needs.
type CreditService interface {
	Balance(ctx context.Context, account string) (int, error)
	Grant(ctx context.Context, account string, amount int, ref string) (int, error)
	History(ctx context.Context, account string) ([]credits.Transaction, error)
}

// Completer receives workflow engine callbacks. Nil when the in-process
// executor is configured.
type Completer interface {
	Complete(result workflow.CallbackResult) bool
}

// Importer fetches and normalizes submissions from external sources.
type Importer interface {
	MultiSource(ctx context.Context, req ingest.MultiSourceRequest) (*ingest.Result, error)
}

// API holds dependencies for HTTP handlers.
type API struct {
	logger         log.Logger
	svc            IncidentService
	ledger         CreditService
	completer      Completer
	importer       Importer
	maxConcurrency int
}

// New creates a new API handler. completer may be nil. maxConcurrency bounds
// concurrent items per batch chunk; <= 0 uses the pipeline default.
func New(logger log.Logger, svc IncidentService, ledger CreditService, completer Completer, importer Importer, maxConcurrency int) *API {
	if logger == nil {
		logger = log.Nop()
	}
	if svc == nil {
		panic(xerrors.New("incident service is required"))
	}
	if ledger == nil {
		panic(xerrors.New("credit service is required"))
	}
	return &API{
		logger:         logger,
		svc:            svc,
		ledger:         ledger,
		completer:      completer,
		importer:       importer,
		maxConcurrency: maxConcurrency,
	}
}

// RegisterRoutes attaches API endpoints to the router.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/incidents", a.handleSubmit)
		r.Get("/incidents", a.handleList)
		r.Get("/incidents/{id}", a.handleGet)
		r.Get("/incidents/{id}/audits", a.handleAudits)
		r.Get("/incidents/{id}/rejections", a.handleRejections)
		r.Get("/incidents/{id}/corrections", a.handleListCorrections)
		r.Post("/incidents/{id}/reject", a.handleReject)
		r.Post("/incidents/{id}/corrections", a.handleCorrections)
		r.Post("/incidents/{id}/reprocess", a.handleReprocess)
		r.Post("/reprocess-pending", a.handleReprocessPending)

		r.Post("/imports/multi-source", a.handleMultiSourceImport)

		r.Post("/batches", a.handleSubmitBatch)
		r.Get("/batches", a.handleListBatches)
		r.Get("/batches/{id}", a.handleGetBatch)
		r.Post("/batches/{id}/retry", a.handleRetryBatch)

		r.Get("/credits/{account}", a.handleCredits)
		r.Post("/credits/{account}/grant", a.handleGrant)

		r.Post("/webhooks/workflow-callback", a.handleWorkflowCallback)
	})
}

// writeError maps domain failure classes onto HTTP statuses.
func (a *API) writeError(w http.ResponseWriter, r *http.Request, err error, msg string) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, incident.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, incident.ErrInsufficientCredits):
		status = http.StatusPaymentRequired
	case errors.Is(err, incident.ErrInvalidState):
		status = http.StatusConflict
	case errors.Is(err, incident.ErrNotFound):
		status = http.StatusNotFound
	}

	if status == http.StatusInternalServerError {
		a.logger.Error(r.Context(), err, msg)
		writeJSON(w, status, map[string]string{"error": "internal error"})
		return
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

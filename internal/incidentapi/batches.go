package incidentapi

import (
	"encoding/json"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/go-chi/chi/v5"

	"github.com/linnemanlabs/beacon/internal/incident"
)

type batchRequest struct {
	Submitter  string                `json:"submitter"`
	Items      []incident.Submission `json:"items"`
	Sequential bool                  `json:"sequential,omitempty"`
}

func (a *API) handleSubmitBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
		return
	}

	opts := incident.BatchOptions{Sequential: req.Sequential, MaxConcurrency: a.maxConcurrency}
	result, err := a.svc.ProcessBatch(r.Context(), req.Submitter, req.Items, opts)
	if err != nil {
		a.writeError(w, r, err, "failed to process batch")
		return
	}

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(
		attribute.String("beacon.batch.id", result.BatchID),
		attribute.Int("beacon.batch.total", result.Total),
		attribute.Int("beacon.batch.failed", result.Failed),
	)

	a.logger.Info(r.Context(), "batch processed",
		"batch_id", result.BatchID,
		"total", result.Total,
		"processed", result.Processed,
		"failed", result.Failed,
	)
	writeJSON(w, http.StatusOK, result)
}

func (a *API) handleGetBatch(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	b, ok, err := a.svc.GetBatch(r.Context(), id)
	if err != nil {
		a.writeError(w, r, err, "failed to get batch")
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (a *API) handleListBatches(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	batches, err := a.svc.ListBatches(r.Context(), q.Get("submitter"), intParam(q.Get("limit")))
	if err != nil {
		a.writeError(w, r, err, "failed to list batches")
		return
	}
	if batches == nil {
		batches = []*incident.Batch{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"batches": batches, "count": len(batches)})
}

func (a *API) handleRetryBatch(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("beacon.batch.id", id))

	result, err := a.svc.RetryFailed(r.Context(), id)
	if err != nil {
		a.writeError(w, r, err, "failed to retry batch")
		return
	}

	a.logger.Info(r.Context(), "batch retried",
		"batch_id", id,
		"retry_batch_id", result.BatchID,
		"total", result.Total,
		"failed", result.Failed,
	)
	writeJSON(w, http.StatusOK, result)
}

package incidentapi

import (
	"encoding/json"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/beacon/internal/incident"
	"github.com/linnemanlabs/beacon/internal/ingest"
)

type importRequest struct {
	ingest.MultiSourceRequest
	AutoProcess bool `json:"auto_process,omitempty"`
	Sequential  bool `json:"sequential,omitempty"`
}

type importResponse struct {
	Import *ingest.Result        `json:"import"`
	Batch  *incident.BatchResult `json:"batch,omitempty"`
}

// handleMultiSourceImport fetches submissions from the named sources and,
// with auto_process set, feeds them straight into a batch.
func (a *API) handleMultiSourceImport(w http.ResponseWriter, r *http.Request) {
	if a.importer == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "imports not enabled"})
		return
	}

	var req importRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
		return
	}

	result, err := a.importer.MultiSource(r.Context(), req.MultiSourceRequest)
	if err != nil {
		a.writeError(w, r, err, "failed to import sources")
		return
	}

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(
		attribute.String("beacon.import.id", result.ImportID),
		attribute.Int("beacon.import.records", result.TotalRecords),
		attribute.Int("beacon.import.sources_failed", len(result.Failures)),
	)

	resp := importResponse{Import: result}
	if req.AutoProcess && len(result.Submissions) > 0 {
		opts := incident.BatchOptions{Sequential: req.Sequential, MaxConcurrency: a.maxConcurrency}
		batch, err := a.svc.ProcessBatch(r.Context(), req.Submitter, result.Submissions, opts)
		if err != nil {
			a.writeError(w, r, err, "failed to process imported batch")
			return
		}
		resp.Batch = batch
	}

	a.logger.Info(r.Context(), "multi-source import handled",
		"import_id", result.ImportID,
		"records", result.TotalRecords,
		"auto_process", req.AutoProcess,
	)
	writeJSON(w, http.StatusOK, resp)
}

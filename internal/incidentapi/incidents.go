package incidentapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/go-chi/chi/v5"

	"github.com/linnemanlabs/beacon/internal/incident"
)

func (a *API) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var sub incident.Submission
	if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
		return
	}

	inc, err := a.svc.Submit(r.Context(), sub)
	if err != nil {
		a.writeError(w, r, err, "failed to submit incident")
		return
	}

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(
		attribute.String("beacon.incident.id", inc.ID),
		attribute.String("beacon.incident.submitter", inc.Submitter),
	)

	a.logger.Info(r.Context(), "incident accepted", "incident_id", inc.ID, "submitter", inc.Submitter)
	writeJSON(w, http.StatusAccepted, inc)
}

func (a *API) handleGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("beacon.incident.id", id))

	inc, ok, err := a.svc.Get(r.Context(), id)
	if err != nil {
		a.writeError(w, r, err, "failed to get incident")
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}

	span.SetAttributes(attribute.String("beacon.incident.status", string(inc.Status)))
	writeJSON(w, http.StatusOK, inc)
}

func (a *API) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := incident.ListFilter{
		Status:       incident.Status(q.Get("status")),
		Severity:     incident.SeverityLabel(q.Get("severity")),
		Category:     q.Get("category"),
		RejectedOnly: q.Get("rejected") == "true",
		Limit:        intParam(q.Get("limit")),
		Offset:       intParam(q.Get("offset")),
	}

	incidents, err := a.svc.List(r.Context(), f)
	if err != nil {
		a.writeError(w, r, err, "failed to list incidents")
		return
	}
	if incidents == nil {
		incidents = []*incident.Incident{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"incidents": incidents, "count": len(incidents)})
}

func (a *API) handleAudits(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := a.requireIncident(w, r, id); err != nil {
		return
	}

	recs, err := a.svc.Audits(r.Context(), id)
	if err != nil {
		a.writeError(w, r, err, "failed to list audit records")
		return
	}
	if recs == nil {
		recs = []*incident.AuditRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"audit_records": recs, "count": len(recs)})
}

func (a *API) handleRejections(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := a.requireIncident(w, r, id); err != nil {
		return
	}

	recs, err := a.svc.Rejections(r.Context(), id)
	if err != nil {
		a.writeError(w, r, err, "failed to list rejections")
		return
	}
	if recs == nil {
		recs = []*incident.RejectionRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"rejections": recs, "count": len(recs)})
}

func (a *API) handleListCorrections(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := a.requireIncident(w, r, id); err != nil {
		return
	}

	recs, err := a.svc.Corrections(r.Context(), id)
	if err != nil {
		a.writeError(w, r, err, "failed to list corrections")
		return
	}
	if recs == nil {
		recs = []*incident.CorrectionRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"corrections": recs, "count": len(recs)})
}

type rejectRequest struct {
	Reason               string            `json:"reason"`
	Actor                string            `json:"actor"`
	SuggestedCorrections map[string]string `json:"suggested_corrections,omitempty"`
}

func (a *API) handleReject(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req rejectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
		return
	}

	inc, err := a.svc.Reject(r.Context(), id, req.Reason, req.Actor, req.SuggestedCorrections)
	if err != nil {
		a.writeError(w, r, err, "failed to reject incident")
		return
	}

	a.logger.Info(r.Context(), "incident rejected", "incident_id", id, "actor", req.Actor)
	writeJSON(w, http.StatusOK, inc)
}

type correctionsRequest struct {
	incident.Correction
	Actor string `json:"actor"`
}

func (a *API) handleCorrections(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req correctionsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
		return
	}

	inc, err := a.svc.SubmitCorrections(r.Context(), id, req.Correction, req.Actor)
	if err != nil {
		a.writeError(w, r, err, "failed to apply corrections")
		return
	}

	a.logger.Info(r.Context(), "corrections accepted", "incident_id", id, "actor", req.Actor)
	writeJSON(w, http.StatusOK, inc)
}

func (a *API) handleReprocess(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("beacon.incident.id", id))

	rec, err := a.svc.Reprocess(r.Context(), id)
	if err != nil {
		a.writeError(w, r, err, "failed to reprocess incident")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (a *API) handleReprocessPending(w http.ResponseWriter, r *http.Request) {
	result, err := a.svc.ReprocessPending(r.Context())
	if err != nil {
		a.writeError(w, r, err, "failed to reprocess pending incidents")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// requireIncident writes a 404 and returns an error when the incident does
// not exist.
func (a *API) requireIncident(w http.ResponseWriter, r *http.Request, id string) error {
	_, ok, err := a.svc.Get(r.Context(), id)
	if err != nil {
		a.writeError(w, r, err, "failed to get incident")
		return err
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return incident.ErrNotFound
	}
	return nil
}

func intParam(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

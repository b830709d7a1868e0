package incidentapi

import (
	"encoding/json"
	"net/http"

	"github.com/linnemanlabs/beacon/internal/workflow"
)

// handleWorkflowCallback receives run results from the workflow engine and
// hands them to the waiting proxy. Returns 404 for unknown job IDs so the
// engine can tell a stale callback from a delivered one.
func (a *API) handleWorkflowCallback(w http.ResponseWriter, r *http.Request) {
	if a.completer == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "workflow runner not configured"})
		return
	}

	var result workflow.CallbackResult
	if err := json.NewDecoder(r.Body).Decode(&result); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
		return
	}
	if result.JobID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "job_id is required"})
		return
	}

	if !a.completer.Complete(result) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no run waiting on job"})
		return
	}

	a.logger.Info(r.Context(), "workflow callback delivered", "job_id", result.JobID, "status", result.Status)
	writeJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
}

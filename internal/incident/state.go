package incident

import (
	"fmt"
	"time"
)

// The incident state machine:
//
//	processing -> completed
//	processing -> failed
//	failed(+rejection reason) -> pending_reprocess   (corrections accepted)
//	pending_reprocess -> processing                  (reprocess trigger)
//
// These helpers are the only code paths that may change Incident.Status.
// Each transition appends an immutable history entry.

func (inc *Incident) transition(to Status, note string) {
	now := time.Now().UTC()
	inc.History = append(inc.History, Transition{
		From: inc.Status,
		To:   to,
		Note: note,
		At:   now,
	})
	inc.Status = to
	inc.UpdatedAt = now
}

// markCompleted finalizes a successful run.
func (inc *Incident) markCompleted() {
	inc.RejectionReason = ""
	inc.FailureReason = ""
	inc.transition(StatusCompleted, "run completed")
}

// markFailed records an organic pipeline failure.
func (inc *Incident) markFailed(reason string) {
	inc.FailureReason = reason
	inc.transition(StatusFailed, "run failed: "+reason)
}

// markRejected records a reviewer rejection. Represented as failed with a
// rejection reason set, which is what distinguishes it from an organic
// failure.
func (inc *Incident) markRejected(reason, actor string) error {
	if inc.Rejected() {
		return fmt.Errorf("%w: incident %s already rejected", ErrInvalidState, inc.ID)
	}
	inc.RejectionReason = reason
	inc.transition(StatusFailed, "rejected by "+actor)
	return nil
}

// applyCorrection snapshots the current mutable fields, applies the
// submitted corrections and moves the incident to pending_reprocess.
// Valid only from failed-with-rejection-reason.
func (inc *Incident) applyCorrection(c Correction, actor string) (*CorrectionRecord, error) {
	if !inc.Rejected() {
		return nil, fmt.Errorf("%w: incident %s is %s, corrections require a rejected incident",
			ErrInvalidState, inc.ID, inc.Status)
	}

	rec := &CorrectionRecord{
		IncidentID: inc.ID,
		Prior: FieldSnapshot{
			Text:          inc.Text,
			DeclaredType:  inc.DeclaredType,
			SeverityLabel: inc.SeverityLabel,
			Route:         inc.Route,
		},
		Correction: c,
		Actor:      actor,
		At:         time.Now().UTC(),
	}

	if c.Text != "" {
		inc.Text = c.Text
	}
	if c.DeclaredType != "" {
		inc.DeclaredType = c.DeclaredType
	}
	inc.transition(StatusPendingReprocess, "corrections accepted from "+actor)
	return rec, nil
}

// beginReprocess moves a corrected incident back into processing.
// Valid only from pending_reprocess.
func (inc *Incident) beginReprocess() error {
	if inc.Status != StatusPendingReprocess {
		return fmt.Errorf("%w: incident %s is %s, reprocess requires pending_reprocess",
			ErrInvalidState, inc.ID, inc.Status)
	}
	inc.RejectionReason = ""
	inc.FailureReason = ""
	inc.transition(StatusProcessing, "reprocess started")
	return nil
}

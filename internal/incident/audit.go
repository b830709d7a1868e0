package incident

import (
	"context"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
)

// auditVersion identifies the audit record schema.
const auditVersion = "1.0"

// externalSources lists the collaborators a run consults, recorded on every
// audit record for provenance.
var externalSources = []string{"classifier", "vector-index"}

// AuditBuilder assembles the provenance record for one pipeline run. Each
// stage hands its output to the builder as it finishes; Build seals the
// record. A builder is used for exactly one run.
type AuditBuilder struct {
	rec AuditRecord
}

// NewAuditBuilder starts a record for one run of the given incident.
func NewAuditBuilder(incidentID string, input InputSnapshot) *AuditBuilder {
	return &AuditBuilder{rec: AuditRecord{
		ID:         ulid.Make().String(),
		Version:    auditVersion,
		IncidentID: incidentID,
		CreatedAt:  time.Now().UTC(),
		Input:      input,
	}}
}

func (b *AuditBuilder) Intake(ts time.Time, normalized InputSnapshot) {
	b.rec.Intake = IntakeStage{Timestamp: ts, Normalized: normalized}
}

func (b *AuditBuilder) Understand(ts time.Time, fields ExtractedFields, sum Summary) {
	b.rec.Understand = UnderstandStage{Timestamp: ts, Fields: fields, Summary: sum}
}

func (b *AuditBuilder) Decide(ts time.Time, routing RoutingDecision, val Validation) {
	b.rec.Decide = DecideStage{Timestamp: ts, Routing: routing, Validation: val}
}

func (b *AuditBuilder) Review(ts time.Time, review Review, humanRequired bool) {
	b.rec.Review = ReviewStage{Timestamp: ts, Review: review, HumanReviewRequired: humanRequired}
}

func (b *AuditBuilder) Similar(hits []SimilarIncident) {
	b.rec.SimilarIncidents = hits
}

// Build computes the final decision from the accumulated stage outputs and
// seals the record.
func (b *AuditBuilder) Build(creditsUsed int, duration time.Duration) *AuditRecord {
	u := b.rec.Understand
	b.rec.Final = FinalDecision{
		Route:              b.rec.Decide.Routing.Route,
		Severity:           u.Fields.SeverityLabel,
		Priority:           u.Summary.Urgency,
		AssignedTo:         AssignedTeamFor(u.Fields.Category, u.Fields.SeverityLabel),
		RecommendedActions: u.Summary.RecommendedActions,
	}
	b.rec.ExternalSources = externalSources
	b.rec.CreditsUsed = creditsUsed
	b.rec.Duration = duration.Seconds()
	return &b.rec
}

// ApplyAudit copies a sealed record's outcome onto the incident and moves it
// to completed. This is the single completion path for every Runner: the
// in-process executor and the workflow proxy both finish runs through it.
func ApplyAudit(inc *Incident, rec *AuditRecord) {
	fields := rec.Understand.Fields
	inc.SeverityScore = fields.SeverityScore
	inc.SeverityLabel = fields.SeverityLabel
	inc.Summary = rec.Understand.Summary.Summary
	inc.Actions = rec.Final.RecommendedActions
	inc.Urgency = rec.Understand.Summary.Urgency
	inc.Route = rec.Final.Route
	inc.Fields = &fields
	inc.markCompleted()
}

// FailRun records an aborted run on the incident. Exported for the same
// reason as ApplyAudit: the workflow proxy fails runs through the same
// transition the executor uses.
func FailRun(inc *Incident, reason string) {
	inc.markFailed(reason)
}

// CompleteRun persists the sealed record's outcome unless the incident was
// rejected while the run was in flight: a reviewer's verdict outlives a
// stale run result, and the already-appended audit record still documents
// the run. A short window remains between the recheck and the write.
func CompleteRun(ctx context.Context, store Store, inc *Incident, rec *AuditRecord) error {
	if rejectedMidRun(ctx, store, inc.ID) {
		return fmt.Errorf("%w: incident %s was rejected mid-run, run result discarded", ErrInvalidState, inc.ID)
	}
	ApplyAudit(inc, rec)
	return store.PutIncident(ctx, inc)
}

// PersistFailure records an aborted run unless a mid-run rejection already
// holds the failed state; overwriting that would erase the rejection reason.
func PersistFailure(ctx context.Context, store Store, inc *Incident, reason string) error {
	if rejectedMidRun(ctx, store, inc.ID) {
		return nil
	}
	FailRun(inc, reason)
	return store.PutIncident(ctx, inc)
}

func rejectedMidRun(ctx context.Context, store Store, id string) bool {
	current, ok, err := store.GetIncident(ctx, id)
	return err == nil && ok && current.Rejected()
}

package incident

import "time"

// Status tracks where an incident is in its lifecycle.
type Status string

const (
	// StatusProcessing means a pipeline run is in flight.
	StatusProcessing Status = "processing"

	// StatusCompleted means the last run finished successfully.
	StatusCompleted Status = "completed"

	// StatusFailed means the last run aborted, or the incident was rejected.
	// A rejection is a failure with a non-empty RejectionReason.
	StatusFailed Status = "failed"

	// StatusPendingReprocess means corrections were accepted and the incident
	// is waiting to re-enter the pipeline.
	StatusPendingReprocess Status = "pending_reprocess"
)

// Route is the triage decision produced by the rule engine.
type Route string

const (
	RouteLogOnly   Route = "LogOnly"
	RouteReview    Route = "Review"
	RouteEscalate  Route = "Escalate"
	RouteImmediate Route = "Immediate"
)

// SeverityLabel is the bucket a severity score falls into.
type SeverityLabel string

const (
	SeverityLow      SeverityLabel = "Low"
	SeverityMedium   SeverityLabel = "Medium"
	SeverityHigh     SeverityLabel = "High"
	SeverityCritical SeverityLabel = "Critical"
)

// Submission is one raw incident report as received from a caller.
type Submission struct {
	Text         string   `json:"text"`
	DeclaredType string   `json:"incident_type,omitempty"` // empty or "auto" = classify
	MediaRefs    []string `json:"media_refs,omitempty"`
	Submitter    string   `json:"submitter"`
}

// Entities are the structured references pulled out of the report text.
type Entities struct {
	Location string   `json:"location,omitempty"`
	Time     string   `json:"time,omitempty"`
	Parties  []string `json:"parties,omitempty"`
}

// ExtractedFields is the structured classification output for one run.
// Written once per run and never mutated; a correction cycle produces a
// fresh set on the next run.
type ExtractedFields struct {
	Category       string        `json:"category"`
	SeverityScore  int           `json:"severity_score"`
	SeverityLabel  SeverityLabel `json:"severity_label"`
	Entities       Entities      `json:"entities"`
	Emotion        string        `json:"emotion"`
	RiskIndicators []string      `json:"risk_indicators"`
}

// Summary is the human-facing digest generated from ExtractedFields.
type Summary struct {
	Summary            string   `json:"summary"`
	RecommendedActions []string `json:"recommended_actions"`
	Urgency            string   `json:"urgency"`
}

// RoutingDecision is the rule engine output. TriggeredRules lists every rule
// that matched, including ones whose route was later overridden.
type RoutingDecision struct {
	Route          Route    `json:"route"`
	TriggeredRules []string `json:"triggered_rules"`
}

// Validation is the collaborator's sanity check of a routing decision.
type Validation struct {
	Agrees            bool     `json:"agrees_with_routing"`
	OverrideSuggested bool     `json:"override_suggested"`
	Reasoning         string   `json:"reasoning"`
	AdditionalFactors []string `json:"additional_factors,omitempty"`
}

// Review is the policy/bias review output.
type Review struct {
	PolicyPassed        bool     `json:"policy_passed"`
	PolicyNotes         string   `json:"policy_notes,omitempty"`
	BiasPassed          bool     `json:"bias_passed"`
	BiasConcerns        []string `json:"bias_concerns,omitempty"`
	MissingInformation  []string `json:"missing_information,omitempty"`
	LegalConsiderations []string `json:"legal_considerations,omitempty"`
	OverallPassed       bool     `json:"overall_passed"`
}

// SimilarIncident is one similarity-search hit.
type SimilarIncident struct {
	IncidentID    string        `json:"incident_id"`
	Score         float64       `json:"similarity_score"`
	Summary       string        `json:"summary,omitempty"`
	SeverityLabel SeverityLabel `json:"severity_label,omitempty"`
	Timestamp     time.Time     `json:"timestamp,omitempty"`
}

// Transition is one immutable state-machine history entry.
type Transition struct {
	From Status    `json:"from"`
	To   Status    `json:"to"`
	Note string    `json:"note,omitempty"`
	At   time.Time `json:"at"`
}

// Incident is the unit of work: one submitted report and its evolving
// analysis state. Mutable fields are only written by the state-machine
// transitions in state.go and by the Audit stage of a run.
type Incident struct {
	ID              string           `json:"id"`
	Submitter       string           `json:"submitter"`
	Text            string           `json:"text"`
	DeclaredType    string           `json:"incident_type,omitempty"`
	MediaRefs       []string         `json:"media_refs,omitempty"`
	Status          Status           `json:"status"`
	SeverityScore   int              `json:"severity_score,omitempty"`
	SeverityLabel   SeverityLabel    `json:"severity_label,omitempty"`
	Summary         string           `json:"summary,omitempty"`
	Actions         []string         `json:"recommended_actions,omitempty"`
	Urgency         string           `json:"urgency,omitempty"`
	Route           Route            `json:"route,omitempty"`
	Fields          *ExtractedFields `json:"extracted_fields,omitempty"`
	RejectionReason string           `json:"rejection_reason,omitempty"`
	FailureReason   string           `json:"failure_reason,omitempty"`
	BatchID         string           `json:"batch_id,omitempty"`
	History         []Transition     `json:"history,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

// Rejected reports whether the incident is a rejected failure, as opposed to
// an organic pipeline failure.
func (inc *Incident) Rejected() bool {
	return inc.Status == StatusFailed && inc.RejectionReason != ""
}

// RejectionRecord captures one rejection. Immutable once written.
type RejectionRecord struct {
	IncidentID           string            `json:"incident_id"`
	Reason               string            `json:"reason"`
	Actor                string            `json:"actor"`
	SuggestedCorrections map[string]string `json:"suggested_corrections,omitempty"`
	At                   time.Time         `json:"at"`
}

// Correction is the payload a caller submits to fix a rejected incident.
// Empty fields leave the current value untouched.
type Correction struct {
	Text         string `json:"text,omitempty"`
	DeclaredType string `json:"incident_type,omitempty"`
	Notes        string `json:"notes,omitempty"`
}

// FieldSnapshot is the pre-correction value set preserved for audit.
type FieldSnapshot struct {
	Text          string        `json:"text"`
	DeclaredType  string        `json:"incident_type,omitempty"`
	SeverityLabel SeverityLabel `json:"severity_label,omitempty"`
	Route         Route         `json:"route,omitempty"`
}

// CorrectionRecord captures one accepted correction. Immutable once written,
// chained chronologically per incident.
type CorrectionRecord struct {
	IncidentID string        `json:"incident_id"`
	Prior      FieldSnapshot `json:"prior"`
	Correction Correction    `json:"correction"`
	Actor      string        `json:"actor"`
	At         time.Time     `json:"at"`
}

// InputSnapshot is the normalized submission captured at Intake.
type InputSnapshot struct {
	Text        string    `json:"text"`
	MediaRefs   []string  `json:"media_refs,omitempty"`
	Submitter   string    `json:"submitter"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// Per-stage audit sections. Each carries the timestamp the stage started.

type IntakeStage struct {
	Timestamp  time.Time     `json:"timestamp"`
	Normalized InputSnapshot `json:"normalized"`
}

type UnderstandStage struct {
	Timestamp time.Time       `json:"timestamp"`
	Fields    ExtractedFields `json:"extraction"`
	Summary   Summary         `json:"summary"`
}

type DecideStage struct {
	Timestamp  time.Time       `json:"timestamp"`
	Routing    RoutingDecision `json:"routing"`
	Validation Validation      `json:"validation"`
}

type ReviewStage struct {
	Timestamp           time.Time `json:"timestamp"`
	Review              Review    `json:"review"`
	HumanReviewRequired bool      `json:"human_review_required"`
}

// FinalDecision is the terminal outcome recorded per run.
type FinalDecision struct {
	Route              Route         `json:"route"`
	Severity           SeverityLabel `json:"severity"`
	Priority           string        `json:"priority"`
	AssignedTo         string        `json:"assigned_to"`
	RecommendedActions []string      `json:"recommended_actions"`
}

// AuditRecord is the immutable provenance object for one pipeline run.
// One record per completed run; prior records are never overwritten, so an
// incident that has been corrected and reprocessed carries the full chain.
type AuditRecord struct {
	ID               string            `json:"id"`
	Version          string            `json:"version"`
	IncidentID       string            `json:"incident_id"`
	CreatedAt        time.Time         `json:"created_at"`
	Input            InputSnapshot     `json:"input"`
	Intake           IntakeStage       `json:"intake"`
	Understand       UnderstandStage   `json:"understand"`
	Decide           DecideStage       `json:"decide"`
	Review           ReviewStage       `json:"review"`
	Final            FinalDecision     `json:"final_decision"`
	SimilarIncidents []SimilarIncident `json:"similar_incidents"`
	ExternalSources  []string          `json:"external_data_sources"`
	CreditsUsed      int               `json:"credits_used"`
	Duration         float64           `json:"duration_seconds"`
}

// BatchStatus tracks a batch's lifecycle.
type BatchStatus string

const (
	BatchProcessing BatchStatus = "processing"
	BatchCompleted  BatchStatus = "completed"
)

// Batch is a named collection of incidents submitted together. Immutable
// once completed; a retry creates a new Batch referencing the original.
type Batch struct {
	ID          string      `json:"id"`
	Submitter   string      `json:"submitter"`
	Total       int         `json:"total"`
	Processed   int         `json:"processed"`
	Failed      int         `json:"failed"`
	Status      BatchStatus `json:"status"`
	Duration    float64     `json:"duration_seconds,omitempty"`
	RetryOf     string      `json:"retry_of,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
	CompletedAt time.Time   `json:"completed_at,omitempty"`
}

// ItemResult is the per-item outcome of a batch run, keyed by the item's
// original input index, never by completion order.
type ItemResult struct {
	Index         int    `json:"index"`
	IncidentID    string `json:"incident_id"`
	Route         Route  `json:"route,omitempty"`
	SeverityScore int    `json:"severity_score,omitempty"`
	Error         string `json:"error,omitempty"`
}

// BatchResult is the aggregate outcome of one batch run.
type BatchResult struct {
	BatchID            string       `json:"batch_id"`
	Total              int          `json:"total"`
	Processed          int          `json:"processed"`
	Failed             int          `json:"failed"`
	Duration           float64      `json:"duration_seconds"`
	SequentialEstimate float64      `json:"sequential_estimate_seconds"`
	SpeedupPercent     float64      `json:"speedup_percent"`
	Items              []ItemResult `json:"items"`
}

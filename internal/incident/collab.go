package incident

import "context"

// Classifier is the generative-AI collaborator. Implementations degrade
// gracefully: each method returns a documented neutral fallback instead of
// an error wherever a fallback would not mask a fatal condition for the run.
type Classifier interface {
	// Classify extracts structured fields from the raw report.
	Classify(ctx context.Context, text string, mediaRefs []string) (ExtractedFields, error)

	// Summarize produces the human-facing digest. Depends on Classify output.
	Summarize(ctx context.Context, fields ExtractedFields, text string) (Summary, error)

	// Embed produces the similarity-search vector for text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// ValidateRouting sanity-checks a rule-engine decision.
	ValidateRouting(ctx context.Context, summary string, route Route, rules []string) (Validation, error)

	// Review runs the policy/bias review.
	Review(ctx context.Context, summary string, route Route, fields ExtractedFields) (Review, error)
}

// IndexEntry is the payload stored alongside a vector in the similarity
// index.
type IndexEntry struct {
	Text          string        `json:"text"`
	Summary       string        `json:"summary"`
	SeverityScore int           `json:"severity_score"`
	SeverityLabel SeverityLabel `json:"severity_label"`
	Category      string        `json:"category"`
	Route         Route         `json:"route"`
	Timestamp     string        `json:"timestamp"`
	Tags          []string      `json:"tags,omitempty"`
}

// Index is the vector similarity search collaborator. Upserts are keyed by
// incident ID and safe under concurrent writers.
type Index interface {
	Upsert(ctx context.Context, id string, vector []float32, entry IndexEntry) error
	Search(ctx context.Context, vector []float32, k int, category string) ([]SimilarIncident, error)
}

// Ledger is the credit ledger collaborator. Debit appends a transaction
// entry keyed by the incident or batch reference.
type Ledger interface {
	Balance(ctx context.Context, account string) (int, error)
	Debit(ctx context.Context, account string, amount int, ref string) (bool, error)
}

// Runner executes the analysis pipeline for one incident that is already in
// processing state. The direct implementation is *Executor; the workflow
// package provides a proxy that delegates to an external workflow runner.
// Both paths converge on the same Audit-stage completion logic.
type Runner interface {
	Process(ctx context.Context, inc *Incident) (*AuditRecord, error)
}

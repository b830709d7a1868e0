package incident

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/linnemanlabs/go-core/log"
)

// similarK is how many similarity-search hits a run records.
const similarK = 3

// Stage names used in audit timestamps, logs and metrics.
const (
	stageIntake     = "intake"
	stageUnderstand = "understand"
	stageDecide     = "decide"
	stageReview     = "review"
	stageAudit      = "audit"
)

// Executor runs the five-stage analysis pipeline for one incident. It is the
// direct Runner implementation; the workflow package provides the proxy
// alternative.
//
// Stages: Intake (normalize, no I/O), Understand (classify + embed
// concurrently, then summarize), Decide (local rules, then validation and
// similarity search concurrently), Review (policy/bias review + human-review
// predicate), Audit (persist record, finalize incident, debit credit, upsert
// embedding).
type Executor struct {
	classifier Classifier
	index      Index
	ledger     Ledger
	store      Store
	logger     log.Logger
	hooks      RunHooks
}

// NewExecutor creates a pipeline executor with the given collaborators.
func NewExecutor(classifier Classifier, index Index, ledger Ledger, store Store, logger log.Logger, hooks RunHooks) *Executor {
	if logger == nil {
		logger = log.Nop()
	}
	return &Executor{
		classifier: classifier,
		index:      index,
		ledger:     ledger,
		store:      store,
		logger:     logger,
		hooks:      hooks,
	}
}

// Process executes one run for an incident already in processing state.
// On success the incident is completed and a new AuditRecord is appended.
// On failure the incident is marked failed with the error recorded; partial
// stage output is discarded, never persisted. Retry is the caller's
// responsibility.
func (e *Executor) Process(ctx context.Context, inc *Incident) (*AuditRecord, error) {
	start := time.Now()

	L := e.logger.With("incident_id", inc.ID, "submitter", inc.Submitter)

	rec, err := e.run(ctx, inc, start)
	if err != nil {
		L.Error(ctx, err, "pipeline run failed")
		if perr := PersistFailure(ctx, e.store, inc, err.Error()); perr != nil {
			L.Error(ctx, perr, "failed to persist failed incident")
		}
		e.hooks.run(StatusFailed, "", time.Since(start).Seconds())
		return nil, err
	}

	e.hooks.run(StatusCompleted, rec.Final.Route, time.Since(start).Seconds())
	L.Info(ctx, "pipeline run complete",
		"route", rec.Final.Route,
		"severity", rec.Final.Severity,
		"human_review", rec.Review.HumanReviewRequired,
		"duration", rec.Duration,
	)
	return rec, nil
}

func (e *Executor) run(ctx context.Context, inc *Incident, start time.Time) (*AuditRecord, error) {
	// Stage 1: Intake. Normalize the submission into a canonical snapshot.
	// No external calls.
	intakeAt := time.Now().UTC()
	snapshot := InputSnapshot{
		Text:        inc.Text,
		MediaRefs:   inc.MediaRefs,
		Submitter:   inc.Submitter,
		SubmittedAt: inc.CreatedAt,
	}
	b := NewAuditBuilder(inc.ID, snapshot)
	b.Intake(intakeAt, snapshot)
	e.hooks.stage(stageIntake, time.Since(intakeAt).Seconds(), false)

	// Stage 2: Understand. Classification and embedding both depend only on
	// the raw text, so they run concurrently; summarization depends on the
	// classification output and follows it.
	understandAt := time.Now().UTC()
	var (
		fields ExtractedFields
		vector []float32
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		f, err := e.classifier.Classify(gctx, inc.Text, inc.MediaRefs)
		if err != nil {
			return fmt.Errorf("classify: %w", err)
		}
		fields = f
		return nil
	})
	g.Go(func() error {
		v, err := e.classifier.Embed(gctx, inc.Text)
		if err != nil {
			return fmt.Errorf("embed: %w", err)
		}
		vector = v
		return nil
	})
	if err := g.Wait(); err != nil {
		e.hooks.stage(stageUnderstand, time.Since(understandAt).Seconds(), true)
		return nil, err
	}

	// Severity label must be the bucket containing the score regardless of
	// what the classifier claimed.
	fields.SeverityLabel = SeverityLabelFor(fields.SeverityScore)

	sum, err := e.classifier.Summarize(ctx, fields, inc.Text)
	if err != nil {
		e.hooks.stage(stageUnderstand, time.Since(understandAt).Seconds(), true)
		return nil, fmt.Errorf("summarize: %w", err)
	}
	b.Understand(understandAt, fields, sum)
	e.hooks.stage(stageUnderstand, time.Since(understandAt).Seconds(), false)

	// Stage 3: Decide. Rule evaluation is local; the validation call and the
	// similarity search are independent of each other and run concurrently.
	decideAt := time.Now().UTC()
	routing := Decide(fields)

	var (
		val     Validation
		similar []SimilarIncident
	)
	g, gctx = errgroup.WithContext(ctx)
	g.Go(func() error {
		v, err := e.classifier.ValidateRouting(gctx, sum.Summary, routing.Route, routing.TriggeredRules)
		if err != nil {
			return fmt.Errorf("validate routing: %w", err)
		}
		val = v
		return nil
	})
	g.Go(func() error {
		hits, err := e.index.Search(gctx, vector, similarK, fields.Category)
		if err != nil {
			return fmt.Errorf("similarity search: %w", err)
		}
		similar = hits
		return nil
	})
	if err := g.Wait(); err != nil {
		e.hooks.stage(stageDecide, time.Since(decideAt).Seconds(), true)
		return nil, err
	}
	b.Decide(decideAt, routing, val)
	b.Similar(similar)
	e.hooks.stage(stageDecide, time.Since(decideAt).Seconds(), false)

	// Stage 4: Review.
	reviewAt := time.Now().UTC()
	review, err := e.classifier.Review(ctx, sum.Summary, routing.Route, fields)
	if err != nil {
		e.hooks.stage(stageReview, time.Since(reviewAt).Seconds(), true)
		return nil, fmt.Errorf("review: %w", err)
	}
	b.Review(reviewAt, review, NeedsHumanReview(fields, review))
	e.hooks.stage(stageReview, time.Since(reviewAt).Seconds(), false)

	// Stage 5: Audit. Seal the record, persist it, finalize the incident,
	// deduct one credit and index the run for future similarity searches.
	auditAt := time.Now().UTC()
	rec := b.Build(1, time.Since(start))

	if err := e.store.AppendAudit(ctx, rec); err != nil {
		e.hooks.stage(stageAudit, time.Since(auditAt).Seconds(), true)
		return nil, fmt.Errorf("append audit: %w", err)
	}

	if err := CompleteRun(ctx, e.store, inc, rec); err != nil {
		e.hooks.stage(stageAudit, time.Since(auditAt).Seconds(), true)
		return nil, fmt.Errorf("finalize incident: %w", err)
	}

	// Debit and index upsert happen after the incident is terminal; their
	// failures are logged, not propagated, so a completed run stays
	// completed.
	ok, err := e.ledger.Debit(ctx, inc.Submitter, 1, inc.ID)
	if err != nil {
		e.logger.Error(ctx, err, "credit debit failed", "incident_id", inc.ID)
	}
	e.hooks.debit(err == nil && ok)

	if err := e.index.Upsert(ctx, inc.ID, vector, IndexEntry{
		Text:          inc.Text,
		Summary:       sum.Summary,
		SeverityScore: fields.SeverityScore,
		SeverityLabel: fields.SeverityLabel,
		Category:      fields.Category,
		Route:         routing.Route,
		Timestamp:     auditAt.Format(time.RFC3339),
		Tags:          []string{fields.Category, string(fields.SeverityLabel)},
	}); err != nil {
		e.logger.Error(ctx, err, "index upsert failed", "incident_id", inc.ID)
	}

	e.hooks.stage(stageAudit, time.Since(auditAt).Seconds(), false)
	return rec, nil
}

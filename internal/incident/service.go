package incident

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/linnemanlabs/go-core/log"
)

// reprocessPageSize bounds one sweep over pending_reprocess incidents.
const reprocessPageSize = 100

// Sink receives completed incidents. Delivery is best-effort: failures are
// logged and never alter incident state.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, inc *Incident) error
}

// Service is the business boundary for incident operations: submission,
// lifecycle guards, the rejection/correction/reprocess flow and batch
// orchestration.
type Service struct {
	store  Store
	runner Runner
	ledger Ledger
	logger log.Logger
	hooks  RunHooks
	sinks  []Sink
}

// NewService creates an incident service.
func NewService(store Store, runner Runner, ledger Ledger, logger log.Logger, hooks RunHooks, sinks ...Sink) *Service {
	if logger == nil {
		logger = log.Nop()
	}
	return &Service{
		store:  store,
		runner: runner,
		ledger: ledger,
		logger: logger,
		hooks:  hooks,
		sinks:  sinks,
	}
}

// Submit validates a submission, checks the submitter's balance, creates the
// incident in processing state and dispatches the pipeline run
// asynchronously. The returned incident reflects the pre-run state.
func (s *Service) Submit(ctx context.Context, sub Submission) (*Incident, error) {
	if err := validateSubmission(sub); err != nil {
		s.hooks.submit("invalid")
		return nil, err
	}

	balance, err := s.ledger.Balance(ctx, sub.Submitter)
	if err != nil {
		s.hooks.submit("error")
		return nil, fmt.Errorf("check balance: %w", err)
	}
	if balance < 1 {
		s.hooks.submit("no_credits")
		return nil, fmt.Errorf("%w: account %s has %d", ErrInsufficientCredits, sub.Submitter, balance)
	}

	inc := newIncident(sub)
	if err := s.store.PutIncident(ctx, inc); err != nil {
		s.hooks.submit("error")
		return nil, fmt.Errorf("create incident: %w", err)
	}
	s.hooks.submit("accepted")

	// Run detached from the request context so a closed connection does not
	// cancel the pipeline mid-flight.
	go s.runDetached(context.WithoutCancel(ctx), inc.ID)

	return inc, nil
}

// Get retrieves an incident by ID.
func (s *Service) Get(ctx context.Context, id string) (*Incident, bool, error) {
	return s.store.GetIncident(ctx, id)
}

// List returns incidents matching the filter.
func (s *Service) List(ctx context.Context, f ListFilter) ([]*Incident, error) {
	return s.store.ListIncidents(ctx, f)
}

// Audits returns the full audit chain for an incident, oldest first.
func (s *Service) Audits(ctx context.Context, incidentID string) ([]*AuditRecord, error) {
	return s.store.ListAudits(ctx, incidentID)
}

// Rejections returns an incident's rejection history, oldest first.
func (s *Service) Rejections(ctx context.Context, incidentID string) ([]*RejectionRecord, error) {
	return s.store.ListRejections(ctx, incidentID)
}

// Corrections returns an incident's correction history, oldest first.
func (s *Service) Corrections(ctx context.Context, incidentID string) ([]*CorrectionRecord, error) {
	return s.store.ListCorrections(ctx, incidentID)
}

// Reject marks an incident as rejected with the given reason. Valid only
// while the incident is not already failed with a reason set.
func (s *Service) Reject(ctx context.Context, id, reason, actor string, suggested map[string]string) (*Incident, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, fmt.Errorf("%w: rejection reason is required", ErrValidation)
	}

	inc, ok, err := s.store.GetIncident(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: incident %s", ErrNotFound, id)
	}

	if err := inc.markRejected(reason, actor); err != nil {
		return nil, err
	}

	if err := s.store.AppendRejection(ctx, &RejectionRecord{
		IncidentID:           id,
		Reason:               reason,
		Actor:                actor,
		SuggestedCorrections: suggested,
		At:                   time.Now().UTC(),
	}); err != nil {
		return nil, fmt.Errorf("append rejection: %w", err)
	}
	if err := s.store.PutIncident(ctx, inc); err != nil {
		return nil, fmt.Errorf("persist rejection: %w", err)
	}

	s.logger.Info(ctx, "incident rejected", "incident_id", id, "actor", actor, "reason", reason)
	return inc, nil
}

// SubmitCorrections applies a correction to a rejected incident, preserving
// the pre-correction field values, and moves it to pending_reprocess.
func (s *Service) SubmitCorrections(ctx context.Context, id string, c Correction, actor string) (*Incident, error) {
	inc, ok, err := s.store.GetIncident(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: incident %s", ErrNotFound, id)
	}

	rec, err := inc.applyCorrection(c, actor)
	if err != nil {
		return nil, err
	}

	if err := s.store.AppendCorrection(ctx, rec); err != nil {
		return nil, fmt.Errorf("append correction: %w", err)
	}
	if err := s.store.PutIncident(ctx, inc); err != nil {
		return nil, fmt.Errorf("persist correction: %w", err)
	}

	s.logger.Info(ctx, "corrections accepted", "incident_id", id, "actor", actor)
	return inc, nil
}

// Reprocess re-runs the pipeline for a corrected incident, from Intake, with
// the corrected fields. Valid only from pending_reprocess. The run produces
// a new AuditRecord chained after the originals.
func (s *Service) Reprocess(ctx context.Context, id string) (*AuditRecord, error) {
	inc, ok, err := s.store.GetIncident(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: incident %s", ErrNotFound, id)
	}

	if err := inc.beginReprocess(); err != nil {
		return nil, err
	}
	if err := s.store.PutIncident(ctx, inc); err != nil {
		return nil, fmt.Errorf("persist reprocess start: %w", err)
	}

	rec, err := s.runner.Process(ctx, inc)
	if err != nil {
		return nil, err
	}
	s.deliver(ctx, inc)
	return rec, nil
}

// ReprocessPending sweeps one bounded page of pending_reprocess incidents
// and reprocesses them concurrently. Outcomes are per-item; one incident's
// failure never aborts the sweep.
func (s *Service) ReprocessPending(ctx context.Context) (*BatchResult, error) {
	pending, err := s.store.ListIncidents(ctx, ListFilter{
		Status: StatusPendingReprocess,
		Limit:  reprocessPageSize,
	})
	if err != nil {
		return nil, err
	}

	s.hooks.sweep(len(pending))

	res := &BatchResult{Total: len(pending), Items: make([]ItemResult, len(pending))}
	if len(pending) == 0 {
		return res, nil
	}

	s.logger.Info(ctx, "reprocess sweep started", "count", len(pending))
	start := time.Now()

	settleAll(len(pending), defaultChunkSize, func(i int) {
		item := &res.Items[i]
		item.Index = i
		item.IncidentID = pending[i].ID

		rec, err := s.Reprocess(ctx, pending[i].ID)
		if err != nil {
			item.Error = err.Error()
			return
		}
		item.Route = rec.Final.Route
		item.SeverityScore = rec.Understand.Fields.SeverityScore
	})

	for i := range res.Items {
		if res.Items[i].Error != "" {
			res.Failed++
		} else {
			res.Processed++
		}
	}
	res.Duration = time.Since(start).Seconds()

	s.logger.Info(ctx, "reprocess sweep complete",
		"total", res.Total, "processed", res.Processed, "failed", res.Failed)
	return res, nil
}

// runDetached drives one async pipeline run for a freshly submitted
// incident.
func (s *Service) runDetached(ctx context.Context, id string) {
	inc, ok, err := s.store.GetIncident(ctx, id)
	if err != nil || !ok {
		s.logger.Error(ctx, err, "failed to fetch incident for run", "incident_id", id)
		return
	}

	if _, err := s.runner.Process(ctx, inc); err != nil {
		// Process already recorded the failure on the incident.
		return
	}
	s.deliver(ctx, inc)
}

// deliver fans a completed incident out to the configured sinks.
// Best-effort: sink failures are logged and swallowed.
func (s *Service) deliver(ctx context.Context, inc *Incident) {
	for _, sink := range s.sinks {
		if err := sink.Deliver(ctx, inc); err != nil {
			s.logger.Warn(ctx, "delivery sink failed", "sink", sink.Name(), "incident_id", inc.ID, "error", err)
		}
	}
}

func newIncident(sub Submission) *Incident {
	now := time.Now().UTC()
	declared := sub.DeclaredType
	if declared == "auto" {
		declared = ""
	}
	return &Incident{
		ID:           ulid.Make().String(),
		Submitter:    sub.Submitter,
		Text:         sub.Text,
		DeclaredType: declared,
		MediaRefs:    sub.MediaRefs,
		Status:       StatusProcessing,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func validateSubmission(sub Submission) error {
	if strings.TrimSpace(sub.Text) == "" {
		return fmt.Errorf("%w: text is required", ErrValidation)
	}
	if strings.TrimSpace(sub.Submitter) == "" {
		return fmt.Errorf("%w: submitter is required", ErrValidation)
	}
	return nil
}

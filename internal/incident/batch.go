package incident

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

const (
	// defaultChunkSize bounds concurrent items per chunk in batch mode.
	defaultChunkSize = 10

	// perItemBaseline is the fixed sequential-equivalent duration assumed
	// per item when estimating speedup.
	perItemBaseline = 15 * time.Second
)

// BatchOptions control batch execution. The zero value runs items in
// concurrent chunks of defaultChunkSize.
type BatchOptions struct {
	// Sequential processes items one at a time. Retained as an explicit
	// opt-out to produce a comparative throughput baseline.
	Sequential bool

	// MaxConcurrency bounds concurrent items per chunk. Defaults to 10.
	MaxConcurrency int
}

// ProcessBatch fans a set of submissions from one submitter out across a
// bounded worker pool. Each item's outcome is captured independently, keyed
// by input index; one item's failure never aborts its siblings.
//
// The submitter's balance is checked once, up front, not per item. This is
// a known race: concurrent batches from the same submitter can pass the
// check and overdraw, with the shortfall surfacing as declined per-item
// debits. Kept deliberately; fixing it needs an atomic reserve-then-commit
// ledger operation.
func (s *Service) ProcessBatch(ctx context.Context, submitter string, subs []Submission, opts BatchOptions) (*BatchResult, error) {
	return s.processBatch(ctx, submitter, subs, opts, "")
}

func (s *Service) processBatch(ctx context.Context, submitter string, subs []Submission, opts BatchOptions, retryOf string) (*BatchResult, error) {
	if len(subs) == 0 {
		return nil, fmt.Errorf("%w: batch is empty", ErrValidation)
	}
	for i := range subs {
		subs[i].Submitter = submitter
		if err := validateSubmission(subs[i]); err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
	}

	balance, err := s.ledger.Balance(ctx, submitter)
	if err != nil {
		return nil, fmt.Errorf("check balance: %w", err)
	}
	if balance < len(subs) {
		return nil, fmt.Errorf("%w: required %d, available %d", ErrInsufficientCredits, len(subs), balance)
	}

	chunk := opts.MaxConcurrency
	if chunk <= 0 {
		chunk = defaultChunkSize
	}
	if opts.Sequential {
		chunk = 1
	}

	batch := &Batch{
		ID:        ulid.Make().String(),
		Submitter: submitter,
		Total:     len(subs),
		Status:    BatchProcessing,
		RetryOf:   retryOf,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.PutBatch(ctx, batch); err != nil {
		return nil, fmt.Errorf("create batch: %w", err)
	}

	s.logger.Info(ctx, "batch started",
		"batch_id", batch.ID,
		"total", batch.Total,
		"sequential", opts.Sequential,
		"chunk_size", chunk,
	)

	start := time.Now()
	items := make([]ItemResult, len(subs))

	// Counters are persisted as members finish so a reader polling the batch
	// sees progress, not just the final tally.
	var mu sync.Mutex
	settled := func(ctx context.Context, failed bool) {
		mu.Lock()
		defer mu.Unlock()
		if failed {
			batch.Failed++
		} else {
			batch.Processed++
		}
		if err := s.store.PutBatch(ctx, batch); err != nil {
			s.logger.Warn(ctx, "batch progress write failed", "batch_id", batch.ID, "error", err)
		}
	}

	settleAll(len(subs), chunk, func(i int) {
		item := &items[i]
		item.Index = i

		inc := newIncident(subs[i])
		inc.BatchID = batch.ID
		item.IncidentID = inc.ID

		if err := s.store.PutIncident(ctx, inc); err != nil {
			item.Error = fmt.Sprintf("create incident: %v", err)
			settled(ctx, true)
			return
		}
		rec, err := s.runner.Process(ctx, inc)
		if err != nil {
			item.Error = err.Error()
			settled(ctx, true)
			return
		}
		item.Route = rec.Final.Route
		item.SeverityScore = rec.Understand.Fields.SeverityScore
		settled(ctx, false)
		s.deliver(ctx, inc)
	})

	dur := time.Since(start)
	batch.Status = BatchCompleted
	batch.Duration = dur.Seconds()
	batch.CompletedAt = time.Now().UTC()
	if err := s.store.PutBatch(ctx, batch); err != nil {
		return nil, fmt.Errorf("finalize batch: %w", err)
	}

	estimate := perItemBaseline * time.Duration(len(subs))
	res := &BatchResult{
		BatchID:            batch.ID,
		Total:              batch.Total,
		Processed:          batch.Processed,
		Failed:             batch.Failed,
		Duration:           dur.Seconds(),
		SequentialEstimate: estimate.Seconds(),
		SpeedupPercent:     speedupPercent(estimate, dur),
		Items:              items,
	}

	s.hooks.batch(res.Total, res.Processed, res.Failed, res.Duration)
	s.logger.Info(ctx, "batch complete",
		"batch_id", batch.ID,
		"processed", res.Processed,
		"failed", res.Failed,
		"duration", res.Duration,
	)
	return res, nil
}

// RetryFailed resubmits exactly the failed subset of a completed batch as a
// new batch that back-references the original.
func (s *Service) RetryFailed(ctx context.Context, batchID string) (*BatchResult, error) {
	batch, ok, err := s.store.GetBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: batch %s", ErrNotFound, batchID)
	}

	members, err := s.store.BatchIncidents(ctx, batchID)
	if err != nil {
		return nil, err
	}

	var subs []Submission
	for _, inc := range members {
		if inc.Status != StatusFailed {
			continue
		}
		subs = append(subs, Submission{
			Text:         inc.Text,
			DeclaredType: inc.DeclaredType,
			MediaRefs:    inc.MediaRefs,
			Submitter:    inc.Submitter,
		})
	}
	if len(subs) == 0 {
		return nil, fmt.Errorf("%w: batch %s has no failed incidents", ErrValidation, batchID)
	}

	s.logger.Info(ctx, "retrying failed batch items", "batch_id", batchID, "count", len(subs))
	return s.processBatch(ctx, batch.Submitter, subs, BatchOptions{}, batchID)
}

// GetBatch retrieves a batch by ID.
func (s *Service) GetBatch(ctx context.Context, id string) (*Batch, bool, error) {
	return s.store.GetBatch(ctx, id)
}

// ListBatches returns recent batches for a submitter.
func (s *Service) ListBatches(ctx context.Context, submitter string, limit int) ([]*Batch, error) {
	return s.store.ListBatches(ctx, submitter, limit)
}

// settleAll runs fn(i) for i in [0,n) in chunks of at most chunk concurrent
// goroutines, waiting for each chunk to settle before dispatching the next.
// fn records its own outcome; panics are not recovered, errors never cross
// item boundaries.
func settleAll(n, chunk int, fn func(i int)) {
	for lo := 0; lo < n; lo += chunk {
		hi := lo + chunk
		if hi > n {
			hi = n
		}

		var wg sync.WaitGroup
		for i := lo; i < hi; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				fn(i)
			}(i)
		}
		wg.Wait()
	}
}

func speedupPercent(estimate, actual time.Duration) float64 {
	if estimate <= 0 {
		return 0
	}
	return (estimate - actual).Seconds() / estimate.Seconds() * 100
}

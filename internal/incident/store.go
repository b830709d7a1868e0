package incident

import "context"

// ListFilter narrows incident listings. Zero values match everything.
type ListFilter struct {
	Status       Status
	Severity     SeverityLabel
	Category     string
	RejectedOnly bool
	Limit        int
	Offset       int
}

// Store is the persistence interface for incidents, batches and the
// append-only audit/rejection/correction history. Audit records, rejection
// records and correction records are append-only: there is deliberately no
// way to update or delete them.
type Store interface {
	GetIncident(ctx context.Context, id string) (*Incident, bool, error)
	PutIncident(ctx context.Context, inc *Incident) error
	ListIncidents(ctx context.Context, f ListFilter) ([]*Incident, error)

	AppendAudit(ctx context.Context, rec *AuditRecord) error
	ListAudits(ctx context.Context, incidentID string) ([]*AuditRecord, error)

	AppendRejection(ctx context.Context, rec *RejectionRecord) error
	AppendCorrection(ctx context.Context, rec *CorrectionRecord) error
	ListRejections(ctx context.Context, incidentID string) ([]*RejectionRecord, error)
	ListCorrections(ctx context.Context, incidentID string) ([]*CorrectionRecord, error)

	GetBatch(ctx context.Context, id string) (*Batch, bool, error)
	PutBatch(ctx context.Context, b *Batch) error
	ListBatches(ctx context.Context, submitter string, limit int) ([]*Batch, error)
	BatchIncidents(ctx context.Context, batchID string) ([]*Incident, error)
}

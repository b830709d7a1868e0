// Package pgstore provides a PostgreSQL implementation of incident.Store.
package pgstore

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/linnemanlabs/beacon/internal/incident"
)

var tracer = otel.Tracer("github.com/linnemanlabs/beacon/internal/incident/pgstore")

//go:embed schema.sql
var schema string

// Store persists incidents, batches and their append-only history in
// PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// New applies the schema and returns a ready Store backed by the given pool.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping: %w", err)
	}

	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{pool: pool}, nil
}

// Close shuts down the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

const incidentColumns = `id, submitter, body, declared_type, media_refs, status, severity_score,
	severity_label, summary, actions, urgency, route, fields, rejection_reason,
	failure_reason, batch_id, history, created_at, updated_at`

// GetIncident retrieves an incident by ID.
func (s *Store) GetIncident(ctx context.Context, id string) (*incident.Incident, bool, error) {
	ctx, span := tracer.Start(ctx, "pgstore.GetIncident", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	query := `SELECT ` + incidentColumns + ` FROM incidents WHERE id = $1`
	inc, err := s.scanIncidentRow(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, false, err
	}
	if inc == nil {
		return nil, false, nil
	}
	return inc, true, nil
}

// PutIncident inserts or updates an incident.
func (s *Store) PutIncident(ctx context.Context, inc *incident.Incident) error {
	ctx, span := tracer.Start(ctx, "pgstore.PutIncident", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "UPSERT"),
	))
	defer span.End()

	mediaJSON, err := json.Marshal(refsOrEmpty(inc.MediaRefs))
	if err != nil {
		return fmt.Errorf("marshal media_refs: %w", err)
	}
	actionsJSON, err := json.Marshal(refsOrEmpty(inc.Actions))
	if err != nil {
		return fmt.Errorf("marshal actions: %w", err)
	}
	historyJSON, err := json.Marshal(inc.History)
	if err != nil {
		return fmt.Errorf("marshal history: %w", err)
	}

	var fieldsJSON []byte
	if inc.Fields != nil {
		fieldsJSON, err = json.Marshal(inc.Fields)
		if err != nil {
			return fmt.Errorf("marshal fields: %w", err)
		}
	}

	query := `INSERT INTO incidents (
		id, submitter, body, declared_type, media_refs, status, severity_score,
		severity_label, summary, actions, urgency, route, fields, rejection_reason,
		failure_reason, batch_id, history, created_at, updated_at
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)
	ON CONFLICT (id) DO UPDATE SET
		status           = EXCLUDED.status,
		body             = EXCLUDED.body,
		declared_type    = EXCLUDED.declared_type,
		media_refs       = EXCLUDED.media_refs,
		severity_score   = EXCLUDED.severity_score,
		severity_label   = EXCLUDED.severity_label,
		summary          = EXCLUDED.summary,
		actions          = EXCLUDED.actions,
		urgency          = EXCLUDED.urgency,
		route            = EXCLUDED.route,
		fields           = EXCLUDED.fields,
		rejection_reason = EXCLUDED.rejection_reason,
		failure_reason   = EXCLUDED.failure_reason,
		batch_id         = EXCLUDED.batch_id,
		history          = EXCLUDED.history,
		updated_at       = EXCLUDED.updated_at`

	_, err = s.pool.Exec(ctx, query,
		inc.ID, inc.Submitter, inc.Text, inc.DeclaredType, mediaJSON, string(inc.Status),
		inc.SeverityScore, string(inc.SeverityLabel), inc.Summary, actionsJSON,
		inc.Urgency, string(inc.Route), fieldsJSON, inc.RejectionReason,
		inc.FailureReason, inc.BatchID, historyJSON, inc.CreatedAt, inc.UpdatedAt,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("upsert incident: %w", err)
	}
	return nil
}

// ListIncidents returns incidents matching the filter, newest first.
func (s *Store) ListIncidents(ctx context.Context, f incident.ListFilter) ([]*incident.Incident, error) {
	ctx, span := tracer.Start(ctx, "pgstore.ListIncidents", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	query := `SELECT ` + incidentColumns + ` FROM incidents WHERE 1=1`
	var args []any

	if f.Status != "" {
		args = append(args, string(f.Status))
		query += ` AND status = $` + strconv.Itoa(len(args))
	}
	if f.Severity != "" {
		args = append(args, string(f.Severity))
		query += ` AND severity_label = $` + strconv.Itoa(len(args))
	}
	if f.Category != "" {
		args = append(args, f.Category)
		query += ` AND fields->>'category' = $` + strconv.Itoa(len(args))
	}
	if f.RejectedOnly {
		query += ` AND status = 'failed' AND rejection_reason <> ''`
	}

	query += ` ORDER BY created_at DESC`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += ` LIMIT $` + strconv.Itoa(len(args))
	}
	if f.Offset > 0 {
		args = append(args, f.Offset)
		query += ` OFFSET $` + strconv.Itoa(len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("query incidents: %w", err)
	}
	defer rows.Close()

	return s.collectIncidents(rows)
}

// AppendAudit inserts one audit record. Records are never updated or deleted.
func (s *Store) AppendAudit(ctx context.Context, rec *incident.AuditRecord) error {
	ctx, span := tracer.Start(ctx, "pgstore.AppendAudit", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "INSERT"),
	))
	defer span.End()

	recJSON, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal audit record: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO audit_records (id, incident_id, record, created_at) VALUES ($1, $2, $3, $4)`,
		rec.ID, rec.IncidentID, recJSON, rec.CreatedAt,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("insert audit record: %w", err)
	}
	return nil
}

// ListAudits returns all audit records for an incident, oldest first.
func (s *Store) ListAudits(ctx context.Context, incidentID string) ([]*incident.AuditRecord, error) {
	ctx, span := tracer.Start(ctx, "pgstore.ListAudits", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	rows, err := s.pool.Query(ctx,
		`SELECT record FROM audit_records WHERE incident_id = $1 ORDER BY created_at`,
		incidentID,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("query audit records: %w", err)
	}
	defer rows.Close()

	var recs []*incident.AuditRecord
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan audit record: %w", err)
		}
		var rec incident.AuditRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, fmt.Errorf("unmarshal audit record: %w", err)
		}
		recs = append(recs, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit records: %w", err)
	}
	return recs, nil
}

// AppendRejection inserts one rejection record.
func (s *Store) AppendRejection(ctx context.Context, rec *incident.RejectionRecord) error {
	return s.appendHistory(ctx, "pgstore.AppendRejection", "rejections", rec.IncidentID, rec, rec.At)
}

// AppendCorrection inserts one correction record.
func (s *Store) AppendCorrection(ctx context.Context, rec *incident.CorrectionRecord) error {
	return s.appendHistory(ctx, "pgstore.AppendCorrection", "corrections", rec.IncidentID, rec, rec.At)
}

// ListRejections returns all rejection records for an incident, oldest first.
func (s *Store) ListRejections(ctx context.Context, incidentID string) ([]*incident.RejectionRecord, error) {
	raws, err := s.listHistory(ctx, "pgstore.ListRejections", "rejections", incidentID)
	if err != nil {
		return nil, err
	}
	var recs []*incident.RejectionRecord
	for _, raw := range raws {
		var rec incident.RejectionRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, fmt.Errorf("unmarshal rejection record: %w", err)
		}
		recs = append(recs, &rec)
	}
	return recs, nil
}

// ListCorrections returns all correction records for an incident, oldest first.
func (s *Store) ListCorrections(ctx context.Context, incidentID string) ([]*incident.CorrectionRecord, error) {
	raws, err := s.listHistory(ctx, "pgstore.ListCorrections", "corrections", incidentID)
	if err != nil {
		return nil, err
	}
	var recs []*incident.CorrectionRecord
	for _, raw := range raws {
		var rec incident.CorrectionRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, fmt.Errorf("unmarshal correction record: %w", err)
		}
		recs = append(recs, &rec)
	}
	return recs, nil
}

// GetBatch retrieves a batch by ID.
func (s *Store) GetBatch(ctx context.Context, id string) (*incident.Batch, bool, error) {
	ctx, span := tracer.Start(ctx, "pgstore.GetBatch", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	row := s.pool.QueryRow(ctx,
		`SELECT id, submitter, total, processed, failed, status, duration_s, retry_of, created_at, completed_at
		 FROM batches WHERE id = $1`, id)

	b, err := scanBatchRow(row)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, false, err
	}
	if b == nil {
		return nil, false, nil
	}
	return b, true, nil
}

// PutBatch inserts or updates a batch.
func (s *Store) PutBatch(ctx context.Context, b *incident.Batch) error {
	ctx, span := tracer.Start(ctx, "pgstore.PutBatch", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "UPSERT"),
	))
	defer span.End()

	var completedAt *time.Time
	if !b.CompletedAt.IsZero() {
		completedAt = &b.CompletedAt
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO batches (id, submitter, total, processed, failed, status, duration_s, retry_of, created_at, completed_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		 ON CONFLICT (id) DO UPDATE SET
			processed    = EXCLUDED.processed,
			failed       = EXCLUDED.failed,
			status       = EXCLUDED.status,
			duration_s   = EXCLUDED.duration_s,
			completed_at = EXCLUDED.completed_at`,
		b.ID, b.Submitter, b.Total, b.Processed, b.Failed, string(b.Status),
		b.Duration, b.RetryOf, b.CreatedAt, completedAt,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("upsert batch: %w", err)
	}
	return nil
}

// ListBatches returns a submitter's batches, newest first.
func (s *Store) ListBatches(ctx context.Context, submitter string, limit int) ([]*incident.Batch, error) {
	ctx, span := tracer.Start(ctx, "pgstore.ListBatches", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	query := `SELECT id, submitter, total, processed, failed, status, duration_s, retry_of, created_at, completed_at
		FROM batches WHERE submitter = $1 ORDER BY created_at DESC`
	args := []any{submitter}
	if limit > 0 {
		args = append(args, limit)
		query += ` LIMIT $2`
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("query batches: %w", err)
	}
	defer rows.Close()

	var batches []*incident.Batch
	for rows.Next() {
		b, err := scanBatchRow(rows)
		if err != nil {
			return nil, err
		}
		batches = append(batches, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate batches: %w", err)
	}
	return batches, nil
}

// BatchIncidents returns a batch's member incidents in submission order.
func (s *Store) BatchIncidents(ctx context.Context, batchID string) ([]*incident.Incident, error) {
	ctx, span := tracer.Start(ctx, "pgstore.BatchIncidents", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	rows, err := s.pool.Query(ctx,
		`SELECT `+incidentColumns+` FROM incidents WHERE batch_id = $1 ORDER BY created_at`,
		batchID,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("query batch incidents: %w", err)
	}
	defer rows.Close()

	return s.collectIncidents(rows)
}

func (s *Store) appendHistory(ctx context.Context, spanName, table, incidentID string, rec any, at time.Time) error {
	ctx, span := tracer.Start(ctx, spanName, trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "INSERT"),
	))
	defer span.End()

	recJSON, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal %s record: %w", table, err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO `+table+` (incident_id, record, created_at) VALUES ($1, $2, $3)`,
		incidentID, recJSON, at,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("insert %s record: %w", table, err)
	}
	return nil
}

func (s *Store) listHistory(ctx context.Context, spanName, table, incidentID string) ([][]byte, error) {
	ctx, span := tracer.Start(ctx, spanName, trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	rows, err := s.pool.Query(ctx,
		`SELECT record FROM `+table+` WHERE incident_id = $1 ORDER BY created_at, id`,
		incidentID,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("query %s: %w", table, err)
	}
	defer rows.Close()

	var raws [][]byte
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan %s record: %w", table, err)
		}
		raws = append(raws, raw)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", table, err)
	}
	return raws, nil
}

func (s *Store) collectIncidents(rows pgx.Rows) ([]*incident.Incident, error) {
	var incidents []*incident.Incident
	for rows.Next() {
		inc, err := s.scanIncidentRow(rows)
		if err != nil {
			return nil, err
		}
		incidents = append(incidents, inc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate incidents: %w", err)
	}
	return incidents, nil
}

// scanIncidentRow scans a single row into an Incident. Returns (nil, nil)
// when no row is found.
func (s *Store) scanIncidentRow(row pgx.Row) (*incident.Incident, error) {
	var (
		inc         incident.Incident
		status      string
		sevLabel    string
		route       string
		mediaJSON   []byte
		actionsJSON []byte
		fieldsJSON  []byte
		historyJSON []byte
	)

	err := row.Scan(
		&inc.ID, &inc.Submitter, &inc.Text, &inc.DeclaredType, &mediaJSON, &status,
		&inc.SeverityScore, &sevLabel, &inc.Summary, &actionsJSON, &inc.Urgency,
		&route, &fieldsJSON, &inc.RejectionReason, &inc.FailureReason, &inc.BatchID,
		&historyJSON, &inc.CreatedAt, &inc.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan incident: %w", err)
	}

	inc.Status = incident.Status(status)
	inc.SeverityLabel = incident.SeverityLabel(sevLabel)
	inc.Route = incident.Route(route)

	if err := json.Unmarshal(mediaJSON, &inc.MediaRefs); err != nil {
		return nil, fmt.Errorf("unmarshal media_refs: %w", err)
	}
	if err := json.Unmarshal(actionsJSON, &inc.Actions); err != nil {
		return nil, fmt.Errorf("unmarshal actions: %w", err)
	}
	if err := json.Unmarshal(historyJSON, &inc.History); err != nil {
		return nil, fmt.Errorf("unmarshal history: %w", err)
	}
	if len(fieldsJSON) > 0 {
		inc.Fields = &incident.ExtractedFields{}
		if err := json.Unmarshal(fieldsJSON, inc.Fields); err != nil {
			return nil, fmt.Errorf("unmarshal fields: %w", err)
		}
	}

	return &inc, nil
}

func scanBatchRow(row pgx.Row) (*incident.Batch, error) {
	var (
		b           incident.Batch
		status      string
		completedAt *time.Time
	)

	err := row.Scan(&b.ID, &b.Submitter, &b.Total, &b.Processed, &b.Failed,
		&status, &b.Duration, &b.RetryOf, &b.CreatedAt, &completedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan batch: %w", err)
	}

	b.Status = incident.BatchStatus(status)
	if completedAt != nil {
		b.CompletedAt = *completedAt
	}
	return &b, nil
}

// refsOrEmpty keeps JSONB columns as [] instead of null for nil slices.
func refsOrEmpty(ss []string) []string {
	if ss == nil {
		return []string{}
	}
	return ss
}

// Package memstore provides an in-memory implementation of incident.Store.
package memstore

import (
	"context"
	"sort"
	"sync"

	"github.com/linnemanlabs/beacon/internal/incident"
)

// Store holds incidents, batches and history in memory. Suitable for
// dev/testing. Reads return copies so callers never share mutable state
// with the store.
type Store struct {
	mu          sync.RWMutex
	incidents   map[string]*incident.Incident
	order       []string // incident IDs in insertion order
	audits      map[string][]*incident.AuditRecord
	rejections  map[string][]*incident.RejectionRecord
	corrections map[string][]*incident.CorrectionRecord
	batches     map[string]*incident.Batch
	batchOrder  []string
}

// New initializes an empty in-memory Store.
func New() *Store {
	return &Store{
		incidents:   make(map[string]*incident.Incident),
		audits:      make(map[string][]*incident.AuditRecord),
		rejections:  make(map[string][]*incident.RejectionRecord),
		corrections: make(map[string][]*incident.CorrectionRecord),
		batches:     make(map[string]*incident.Batch),
	}
}

// GetIncident retrieves an incident by ID. Returns a copy.
func (s *Store) GetIncident(_ context.Context, id string) (*incident.Incident, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inc, ok := s.incidents[id]
	if !ok {
		return nil, false, nil
	}
	return copyIncident(inc), true, nil
}

// PutIncident stores a copy of the incident.
func (s *Store) PutIncident(_ context.Context, inc *incident.Incident) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.incidents[inc.ID]; !exists {
		s.order = append(s.order, inc.ID)
	}
	s.incidents[inc.ID] = copyIncident(inc)
	return nil
}

// ListIncidents returns incidents matching the filter, newest first.
func (s *Store) ListIncidents(_ context.Context, f incident.ListFilter) ([]*incident.Incident, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*incident.Incident
	// iterate newest first
	for i := len(s.order) - 1; i >= 0; i-- {
		inc := s.incidents[s.order[i]]
		if !matches(inc, f) {
			continue
		}
		out = append(out, copyIncident(inc))
	}

	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return nil, nil
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// AppendAudit appends an audit record. Records are never updated or removed.
func (s *Store) AppendAudit(_ context.Context, rec *incident.AuditRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *rec
	s.audits[rec.IncidentID] = append(s.audits[rec.IncidentID], &cp)
	return nil
}

// ListAudits returns the audit chain for an incident, oldest first.
func (s *Store) ListAudits(_ context.Context, incidentID string) ([]*incident.AuditRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	recs := s.audits[incidentID]
	out := make([]*incident.AuditRecord, len(recs))
	for i, r := range recs {
		cp := *r
		out[i] = &cp
	}
	return out, nil
}

// AppendRejection appends a rejection record.
func (s *Store) AppendRejection(_ context.Context, rec *incident.RejectionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *rec
	s.rejections[rec.IncidentID] = append(s.rejections[rec.IncidentID], &cp)
	return nil
}

// AppendCorrection appends a correction record.
func (s *Store) AppendCorrection(_ context.Context, rec *incident.CorrectionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *rec
	s.corrections[rec.IncidentID] = append(s.corrections[rec.IncidentID], &cp)
	return nil
}

// ListRejections returns an incident's rejection history, oldest first.
func (s *Store) ListRejections(_ context.Context, incidentID string) ([]*incident.RejectionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	recs := s.rejections[incidentID]
	out := make([]*incident.RejectionRecord, len(recs))
	for i, r := range recs {
		cp := *r
		out[i] = &cp
	}
	return out, nil
}

// ListCorrections returns an incident's correction history, oldest first.
func (s *Store) ListCorrections(_ context.Context, incidentID string) ([]*incident.CorrectionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	recs := s.corrections[incidentID]
	out := make([]*incident.CorrectionRecord, len(recs))
	for i, r := range recs {
		cp := *r
		out[i] = &cp
	}
	return out, nil
}

// GetBatch retrieves a batch by ID. Returns a copy.
func (s *Store) GetBatch(_ context.Context, id string) (*incident.Batch, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.batches[id]
	if !ok {
		return nil, false, nil
	}
	cp := *b
	return &cp, true, nil
}

// PutBatch stores a copy of the batch.
func (s *Store) PutBatch(_ context.Context, b *incident.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.batches[b.ID]; !exists {
		s.batchOrder = append(s.batchOrder, b.ID)
	}
	cp := *b
	s.batches[b.ID] = &cp
	return nil
}

// ListBatches returns recent batches for a submitter, newest first.
func (s *Store) ListBatches(_ context.Context, submitter string, limit int) ([]*incident.Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*incident.Batch
	for i := len(s.batchOrder) - 1; i >= 0; i-- {
		b := s.batches[s.batchOrder[i]]
		if submitter != "" && b.Submitter != submitter {
			continue
		}
		cp := *b
		out = append(out, &cp)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// BatchIncidents returns the member incidents of a batch in creation order.
func (s *Store) BatchIncidents(_ context.Context, batchID string) ([]*incident.Incident, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*incident.Incident
	for _, id := range s.order {
		inc := s.incidents[id]
		if inc.BatchID == batchID {
			out = append(out, copyIncident(inc))
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func matches(inc *incident.Incident, f incident.ListFilter) bool {
	if f.Status != "" && inc.Status != f.Status {
		return false
	}
	if f.Severity != "" && inc.SeverityLabel != f.Severity {
		return false
	}
	if f.Category != "" {
		cat := inc.DeclaredType
		if inc.Fields != nil {
			cat = inc.Fields.Category
		}
		if cat != f.Category {
			return false
		}
	}
	if f.RejectedOnly && !inc.Rejected() {
		return false
	}
	return true
}

func copyIncident(inc *incident.Incident) *incident.Incident {
	cp := *inc
	cp.MediaRefs = append([]string(nil), inc.MediaRefs...)
	cp.Actions = append([]string(nil), inc.Actions...)
	cp.History = append([]incident.Transition(nil), inc.History...)
	if inc.Fields != nil {
		f := *inc.Fields
		cp.Fields = &f
	}
	return &cp
}

package donation

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Store persists donation records.
//
// Transition applies t only while the record's status is one of from and
// returns ErrInvalidState otherwise; this is the only way a status changes.
// AdvanceRecurring moves next_payment_date from expected to next and
// reports false when another writer advanced it first.
type Store interface {
	Create(ctx context.Context, rec Record) error
	Get(ctx context.Context, txnID string) (Record, error)
	Transition(ctx context.Context, txnID string, from []Status, t Transition) (Record, error)
	ListByRecipient(ctx context.Context, recipientID string, f ListFilter) ([]Record, error)
	Totals(ctx context.Context, recipientID string) (Totals, error)
	DueRecurring(ctx context.Context, now time.Time, limit int) ([]Record, error)
	AdvanceRecurring(ctx context.Context, txnID string, expected, next time.Time) (bool, error)
}

// InMemory implements Store with in-process concurrency safety.
type InMemory struct {
	mu   sync.RWMutex
	recs map[string]*Record
}

// NewInMemory creates an empty store.
func NewInMemory() *InMemory {
	return &InMemory{recs: make(map[string]*Record)}
}

func (s *InMemory) Create(ctx context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.recs[rec.TransactionID]; ok {
		return ErrDuplicateTransaction
	}
	cp := cloneRecord(&rec)
	s.recs[rec.TransactionID] = &cp
	return nil
}

func (s *InMemory) Get(ctx context.Context, txnID string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.recs[txnID]
	if !ok {
		return Record{}, ErrNotFound
	}
	return cloneRecord(rec), nil
}

func (s *InMemory) Transition(ctx context.Context, txnID string, from []Status, t Transition) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.recs[txnID]
	if !ok {
		return Record{}, ErrNotFound
	}
	allowed := false
	for _, st := range from {
		if rec.Status == st {
			allowed = true
			break
		}
	}
	if !allowed {
		return Record{}, ErrInvalidState
	}
	applyTransition(rec, t)
	return cloneRecord(rec), nil
}

// applyTransition mutates rec the way the SQL store's UPDATE does.
func applyTransition(rec *Record, t Transition) {
	at := t.At
	rec.Status = t.To
	rec.UpdatedAt = at
	switch t.To {
	case StatusCompleted:
		if rec.CompletedAt == nil {
			rec.CompletedAt = &at
		}
		rec.Proof = t.Proof
		rec.VerifiedAmount = t.VerifiedAmount
		rec.VerifiedBy = t.VerifiedBy
	case StatusFailed:
		rec.FailureReason = t.FailureReason
	case StatusRefunded:
		rec.RefundReason = t.RefundReason
		rec.RefundAmount = t.RefundAmount
		rec.RefundedAt = &at
	}
	if (t.To == StatusFailed || t.To == StatusRefunded) && rec.Recurring != nil {
		rec.Recurring.Active = false
	}
}

func (s *InMemory) ListByRecipient(ctx context.Context, recipientID string, f ListFilter) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Record
	for _, rec := range s.recs {
		if rec.RecipientID != recipientID {
			continue
		}
		if f.Status != "" && rec.Status != f.Status {
			continue
		}
		out = append(out, cloneRecord(rec))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].TransactionID > out[j].TransactionID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *InMemory) Totals(ctx context.Context, recipientID string) (Totals, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t := Totals{Counts: map[Status]int{}, TotalRaised: decimal.Zero}
	donors := map[string]struct{}{}
	for _, rec := range s.recs {
		if rec.RecipientID != recipientID {
			continue
		}
		t.Counts[rec.Status]++
		if rec.Status == StatusCompleted {
			t.TotalRaised = t.TotalRaised.Add(rec.Amount)
			donors[strings.ToLower(rec.Donor.Email)] = struct{}{}
		}
	}
	t.UniqueDonors = len(donors)
	return t, nil
}

func (s *InMemory) DueRecurring(ctx context.Context, now time.Time, limit int) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Record
	for _, rec := range s.recs {
		if rec.Status != StatusCompleted || rec.Recurring == nil || !rec.Recurring.Active {
			continue
		}
		if rec.Recurring.NextPaymentDate.After(now) {
			continue
		}
		out = append(out, cloneRecord(rec))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Recurring.NextPaymentDate.Before(out[j].Recurring.NextPaymentDate)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *InMemory) AdvanceRecurring(ctx context.Context, txnID string, expected, next time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.recs[txnID]
	if !ok {
		return false, ErrNotFound
	}
	if rec.Recurring == nil || !rec.Recurring.NextPaymentDate.Equal(expected) {
		return false, nil
	}
	rec.Recurring.NextPaymentDate = next
	return true, nil
}

// Len reports the number of stored records.
func (s *InMemory) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.recs)
}

func cloneRecord(r *Record) Record {
	out := *r
	if r.Recurring != nil {
		rc := *r.Recurring
		out.Recurring = &rc
	}
	out.CompletedAt = cloneTime(r.CompletedAt)
	out.RefundedAt = cloneTime(r.RefundedAt)
	out.VerifiedAmount = cloneDecimal(r.VerifiedAmount)
	out.RefundAmount = cloneDecimal(r.RefundAmount)
	return out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneDecimal(d *decimal.Decimal) *decimal.Decimal {
	if d == nil {
		return nil
	}
	v := *d
	return &v
}

package kyc

import (
	"context"
	"sync"
	"time"

	"karuna.org/internal/auth"
)

// Store persists applications. Create returns ErrDuplicate when an
// application of the same kind with the same phone or email exists in any
// status other than rejected. Review applies upd only when the current status
// is one of from, otherwise ErrInvalidState.
type Store interface {
	Create(ctx context.Context, app Application) error
	Get(ctx context.Context, kind Kind, id string) (Application, error)
	FindForLogin(ctx context.Context, kind Kind, identifier string) (Application, error)
	Review(ctx context.Context, kind Kind, id string, from []Status, upd ReviewUpdate) (Application, error)
	RecordLogin(ctx context.Context, kind Kind, id string, state auth.AttemptState, lastLogin *time.Time) error
}

// InMemory implements Store with in-process concurrency safety.
type InMemory struct {
	mu   sync.RWMutex
	apps map[Kind]map[string]*Application
}

// NewInMemory creates an empty store.
func NewInMemory() *InMemory {
	return &InMemory{apps: map[Kind]map[string]*Application{
		KindFarmer: {},
		KindNGO:    {},
	}}
}

func (s *InMemory) Create(ctx context.Context, app Application) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	bucket, ok := s.apps[app.Kind]
	if !ok {
		return ErrInvalidKind
	}
	phone, email := app.Phone(), app.Email()
	for _, cur := range bucket {
		if cur.Status == StatusRejected {
			continue
		}
		if cur.Phone() == phone || (email != "" && cur.Email() == email) {
			return ErrDuplicate
		}
	}
	cp := cloneApp(&app)
	bucket[app.ID] = &cp
	return nil
}

func (s *InMemory) Get(ctx context.Context, kind Kind, id string) (Application, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	app, ok := s.apps[kind][id]
	if !ok {
		return Application{}, ErrNotFound
	}
	return cloneApp(app), nil
}

func (s *InMemory) FindForLogin(ctx context.Context, kind Kind, identifier string) (Application, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, cur := range s.apps[kind] {
		if cur.Status == StatusRejected {
			continue
		}
		if cur.Phone() == identifier || (cur.Email() != "" && cur.Email() == identifier) {
			return cloneApp(cur), nil
		}
	}
	return Application{}, ErrNotFound
}

func (s *InMemory) Review(ctx context.Context, kind Kind, id string, from []Status, upd ReviewUpdate) (Application, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.apps[kind][id]
	if !ok {
		return Application{}, ErrNotFound
	}
	if !statusIn(cur.Status, from) {
		return Application{}, ErrInvalidState
	}
	cur.Status = upd.Status
	at := upd.ReviewedAt
	cur.Verification.ReviewedAt = &at
	cur.Verification.ReviewedBy = upd.ReviewedBy
	cur.Verification.RejectionReason = upd.RejectionReason
	if upd.ActivateCredential {
		cur.Credentials.Active = true
	}
	cur.UpdatedAt = upd.ReviewedAt
	return cloneApp(cur), nil
}

func (s *InMemory) RecordLogin(ctx context.Context, kind Kind, id string, state auth.AttemptState, lastLogin *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.apps[kind][id]
	if !ok {
		return ErrNotFound
	}
	cur.Credentials.Login = state
	if lastLogin != nil {
		t := *lastLogin
		cur.Credentials.LastLogin = &t
	}
	return nil
}

// Count reports stored applications of kind.
func (s *InMemory) Count(kind Kind) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.apps[kind])
}

func statusIn(st Status, set []Status) bool {
	for _, s := range set {
		if s == st {
			return true
		}
	}
	return false
}

func cloneApp(a *Application) Application {
	out := *a
	if a.Personal != nil {
		p := *a.Personal
		out.Personal = &p
	}
	if a.Farm != nil {
		f := *a.Farm
		f.Crops = append([]string(nil), a.Farm.Crops...)
		out.Farm = &f
	}
	if a.Bank != nil {
		b := *a.Bank
		out.Bank = &b
	}
	if a.Organization != nil {
		o := *a.Organization
		o.FocusAreas = append([]string(nil), a.Organization.FocusAreas...)
		out.Organization = &o
	}
	if a.Legal != nil {
		l := *a.Legal
		out.Legal = &l
	}
	if a.Contact != nil {
		c := *a.Contact
		out.Contact = &c
	}
	out.Documents = make(map[string]Document, len(a.Documents))
	for k, v := range a.Documents {
		out.Documents[k] = v
	}
	if a.Verification.ReviewedAt != nil {
		t := *a.Verification.ReviewedAt
		out.Verification.ReviewedAt = &t
	}
	if a.Credentials.LastLogin != nil {
		t := *a.Credentials.LastLogin
		out.Credentials.LastLogin = &t
	}
	return out
}

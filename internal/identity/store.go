package identity

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"karuna.org/internal/auth"
)

// Store persists accounts. Create and UpdateProfile return ErrDuplicate on a
// unique email, phone or registration id collision.
type Store interface {
	Create(ctx context.Context, acct Account) error
	Get(ctx context.Context, id string) (Account, error)
	GetByEmail(ctx context.Context, email string) (Account, error)
	UpdateProfile(ctx context.Context, acct Account) error
	SetPasswordHash(ctx context.Context, id, hash string, at time.Time) error
	SetVerified(ctx context.Context, id string, verified bool, at time.Time) error
	RecordLogin(ctx context.Context, id string, state auth.AttemptState, lastLogin *time.Time) error
	ListNGOs(ctx context.Context, f NGOFilter) ([]Account, int, error)
}

// InMemory implements Store with in-process concurrency safety.
type InMemory struct {
	mu      sync.RWMutex
	byID    map[string]*Account
	byEmail map[string]string
	byPhone map[string]string
	byRegID map[string]string
}

// NewInMemory creates an empty store.
func NewInMemory() *InMemory {
	return &InMemory{
		byID:    make(map[string]*Account),
		byEmail: make(map[string]string),
		byPhone: make(map[string]string),
		byRegID: make(map[string]string),
	}
}

func (s *InMemory) taken(idx map[string]string, key, self string) bool {
	if key == "" {
		return false
	}
	owner, ok := idx[key]
	return ok && owner != self
}

func (s *InMemory) Create(ctx context.Context, acct Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[acct.ID]; ok ||
		s.taken(s.byEmail, acct.Email, "") ||
		s.taken(s.byPhone, acct.Phone, "") ||
		s.taken(s.byRegID, acct.RegistrationID, "") {
		return ErrDuplicate
	}
	cp := acct
	s.byID[acct.ID] = &cp
	s.byEmail[acct.Email] = acct.ID
	if acct.Phone != "" {
		s.byPhone[acct.Phone] = acct.ID
	}
	if acct.RegistrationID != "" {
		s.byRegID[acct.RegistrationID] = acct.ID
	}
	return nil
}

func (s *InMemory) Get(ctx context.Context, id string) (Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	acct, ok := s.byID[id]
	if !ok {
		return Account{}, ErrNotFound
	}
	return copyAccount(acct), nil
}

func (s *InMemory) GetByEmail(ctx context.Context, email string) (Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byEmail[email]
	if !ok {
		return Account{}, ErrNotFound
	}
	return copyAccount(s.byID[id]), nil
}

func (s *InMemory) UpdateProfile(ctx context.Context, acct Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.byID[acct.ID]
	if !ok {
		return ErrNotFound
	}
	if s.taken(s.byPhone, acct.Phone, acct.ID) {
		return ErrDuplicate
	}
	if cur.Phone != acct.Phone {
		delete(s.byPhone, cur.Phone)
		if acct.Phone != "" {
			s.byPhone[acct.Phone] = acct.ID
		}
	}
	cur.Name = acct.Name
	cur.Phone = acct.Phone
	cur.District = acct.District
	cur.Description = acct.Description
	cur.FocusAreas = append([]string(nil), acct.FocusAreas...)
	cur.Farm = acct.Farm.clone()
	cur.PhotoURL = acct.PhotoURL
	cur.UpdatedAt = acct.UpdatedAt
	return nil
}

func (s *InMemory) SetPasswordHash(ctx context.Context, id, hash string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}
	cur.PasswordHash = hash
	cur.UpdatedAt = at
	return nil
}

func (s *InMemory) SetVerified(ctx context.Context, id string, verified bool, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}
	cur.Verified = verified
	cur.UpdatedAt = at
	return nil
}

func (s *InMemory) RecordLogin(ctx context.Context, id string, state auth.AttemptState, lastLogin *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}
	cur.Login = state
	if lastLogin != nil {
		t := *lastLogin
		cur.LastLogin = &t
	}
	return nil
}

func (s *InMemory) ListNGOs(ctx context.Context, f NGOFilter) ([]Account, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var matched []Account
	for _, acct := range s.byID {
		if acct.Kind != KindNGO || !acct.Active {
			continue
		}
		if f.District != "" && !strings.EqualFold(acct.District, f.District) {
			continue
		}
		if f.FocusArea != "" && !containsFold(acct.FocusAreas, f.FocusArea) {
			continue
		}
		matched = append(matched, copyAccount(acct))
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	total := len(matched)
	if f.Offset >= total {
		return []Account{}, total, nil
	}
	end := f.Offset + f.Limit
	if end > total {
		end = total
	}
	return matched[f.Offset:end], total, nil
}

func containsFold(list []string, v string) bool {
	for _, item := range list {
		if strings.EqualFold(item, v) {
			return true
		}
	}
	return false
}

func copyAccount(a *Account) Account {
	out := *a
	out.FocusAreas = append([]string(nil), a.FocusAreas...)
	out.Farm = a.Farm.clone()
	if a.LastLogin != nil {
		t := *a.LastLogin
		out.LastLogin = &t
	}
	return out
}

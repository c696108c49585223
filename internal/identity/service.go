package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"karuna.org/internal/audit"
	"karuna.org/internal/auth"
	"karuna.org/internal/ids"
	"karuna.org/internal/objstore"
	"karuna.org/internal/obs"
	"karuna.org/internal/validate"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// Service implements account registration, login and profile management.
type Service struct {
	store   Store
	tokens  *auth.Tokens
	lockout auth.LockoutPolicy
	photos  objstore.Store
	now     func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithLockout overrides the default lockout policy.
func WithLockout(p auth.LockoutPolicy) Option {
	return func(s *Service) { s.lockout = p }
}

// WithPhotoStore enables profile photo uploads.
func WithPhotoStore(store objstore.Store) Option {
	return func(s *Service) { s.photos = store }
}

// WithClock overrides time.Now.
func WithClock(fn func() time.Time) Option {
	return func(s *Service) { s.now = fn }
}

// NewService wires a Service.
func NewService(store Store, tokens *auth.Tokens, opts ...Option) *Service {
	s := &Service{
		store:   store,
		tokens:  tokens,
		lockout: auth.DefaultLockoutPolicy(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Register creates an NGO or farmer account. A failed photo upload is logged
// and the account is created without a photo.
func (s *Service) Register(ctx context.Context, in RegisterInput) (Profile, error) {
	in.Email = normalizeEmail(in.Email)
	in.Name = strings.TrimSpace(in.Name)
	in.RegistrationID = strings.TrimSpace(in.RegistrationID)
	if err := validate.Struct(in); err != nil {
		return Profile{}, err
	}
	phone, err := validate.NormalizePhone(in.Phone)
	if err != nil {
		return Profile{}, err
	}
	if in.Kind != KindNGO {
		in.RegistrationID = ""
	}
	if in.Kind != KindFarmer {
		in.Farm = nil
	}
	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return Profile{}, fmt.Errorf("identity: hash password: %w", err)
	}
	now := s.now().UTC()
	acct := Account{
		ID:             ids.New(),
		Kind:           in.Kind,
		Name:           in.Name,
		Email:          in.Email,
		Phone:          phone,
		RegistrationID: in.RegistrationID,
		PasswordHash:   hash,
		Active:         true,
		District:       strings.TrimSpace(in.District),
		FocusAreas:     in.FocusAreas,
		Farm:           in.Farm,
		Description:    in.Description,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if in.Photo != "" {
		acct.PhotoURL = s.uploadPhoto(ctx, acct.ID, in.Photo)
	}
	if err := s.store.Create(ctx, acct); err != nil {
		return Profile{}, err
	}
	_ = audit.LogEvent(ctx, "account.registered", map[string]any{"account_id": acct.ID, "type": acct.Kind})
	return acct.Profile(), nil
}

// CreateAdmin provisions an operator account. It is reachable only from the
// admin CLI.
func (s *Service) CreateAdmin(ctx context.Context, name, email, password string) (Profile, error) {
	email = normalizeEmail(email)
	in := struct {
		Name     string `json:"name" validate:"required,min=2,max=120"`
		Email    string `json:"email" validate:"required,email"`
		Password string `json:"password" validate:"required,min=8,max=72"`
	}{name, email, password}
	if err := validate.Struct(in); err != nil {
		return Profile{}, err
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return Profile{}, fmt.Errorf("identity: hash password: %w", err)
	}
	now := s.now().UTC()
	acct := Account{
		ID:           ids.New(),
		Kind:         KindAdmin,
		Name:         in.Name,
		Email:        email,
		PasswordHash: hash,
		Verified:     true,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.Create(ctx, acct); err != nil {
		return Profile{}, err
	}
	_ = audit.LogEvent(ctx, "account.admin_created", map[string]any{"account_id": acct.ID})
	return acct.Profile(), nil
}

func (s *Service) uploadPhoto(ctx context.Context, accountID, payload string) string {
	if s.photos == nil {
		obs.Logger().WithField("account_id", accountID).Warn("photo upload skipped: no object store configured")
		return ""
	}
	stored, err := objstore.PutPhoto(ctx, s.photos, "accounts/"+accountID, payload)
	if err != nil {
		obs.LogError("identity", "upload_photo", err, logrus.Fields{"account_id": accountID})
		return ""
	}
	return stored.URL
}

// Login checks credentials and issues an account token. Unknown emails, wrong
// passwords and locked accounts produce the same ErrInvalidCredentials.
func (s *Service) Login(ctx context.Context, email, password string) (Session, error) {
	email = normalizeEmail(email)
	acct, err := s.store.GetByEmail(ctx, email)
	if errors.Is(err, ErrNotFound) {
		auth.BurnPasswordCheck(password)
		obs.LoginFailures.WithLabelValues("account", "unknown").Inc()
		return Session{}, ErrInvalidCredentials
	}
	if err != nil {
		return Session{}, err
	}

	now := s.now().UTC()
	state, err := s.lockout.Admit(acct.Login, now)
	if err != nil {
		// A locked account answers exactly like an unknown one.
		auth.BurnPasswordCheck(password)
		obs.LoginFailures.WithLabelValues("account", "locked").Inc()
		return Session{}, ErrInvalidCredentials
	}
	if err := auth.VerifyPassword(acct.PasswordHash, password); err != nil {
		state = s.lockout.Fail(state, now)
		if err := s.store.RecordLogin(ctx, acct.ID, state, nil); err != nil {
			return Session{}, err
		}
		obs.LoginFailures.WithLabelValues("account", "password").Inc()
		if !state.LockedUntil.IsZero() {
			_ = audit.LogEvent(ctx, "account.locked", map[string]any{"account_id": acct.ID, "until": state.LockedUntil})
		}
		return Session{}, ErrInvalidCredentials
	}
	if !acct.Active {
		obs.LoginFailures.WithLabelValues("account", "inactive").Inc()
		return Session{}, ErrAccountInactive
	}

	token, exp, err := s.tokens.Issue(acct.ID, auth.AudienceAccount)
	if err != nil {
		return Session{}, err
	}
	if err := s.store.RecordLogin(ctx, acct.ID, s.lockout.Succeed(), &now); err != nil {
		return Session{}, err
	}
	acct.LastLogin = &now
	return Session{Token: token, ExpiresAt: exp, Account: acct.Profile()}, nil
}

// Get returns the stored account.
func (s *Service) Get(ctx context.Context, id string) (Account, error) {
	if !ids.Valid(id) {
		return Account{}, ErrNotFound
	}
	return s.store.Get(ctx, id)
}

// Profile returns the public view of an account.
func (s *Service) Profile(ctx context.Context, id string) (Profile, error) {
	acct, err := s.Get(ctx, id)
	if err != nil {
		return Profile{}, err
	}
	return acct.Profile(), nil
}

// NGO returns an active NGO profile.
func (s *Service) NGO(ctx context.Context, id string) (Profile, error) {
	acct, err := s.Get(ctx, id)
	if err != nil {
		return Profile{}, err
	}
	if acct.Kind != KindNGO || !acct.Active {
		return Profile{}, ErrNotFound
	}
	return acct.Profile(), nil
}

// UpdateProfile applies the non-nil fields of upd. The password hash is never
// touched here.
func (s *Service) UpdateProfile(ctx context.Context, id string, upd ProfileUpdate) (Profile, error) {
	if err := validate.Struct(upd); err != nil {
		return Profile{}, err
	}
	acct, err := s.Get(ctx, id)
	if err != nil {
		return Profile{}, err
	}
	if upd.Name != nil {
		acct.Name = strings.TrimSpace(*upd.Name)
	}
	if upd.Phone != nil {
		phone, err := validate.NormalizePhone(*upd.Phone)
		if err != nil {
			return Profile{}, err
		}
		acct.Phone = phone
	}
	if upd.District != nil {
		acct.District = strings.TrimSpace(*upd.District)
	}
	if upd.Description != nil {
		acct.Description = *upd.Description
	}
	if upd.FocusAreas != nil {
		acct.FocusAreas = upd.FocusAreas
	}
	if upd.Farm != nil {
		if acct.Kind != KindFarmer {
			return Profile{}, validate.Field("farm", "only farmer accounts have farm details")
		}
		acct.Farm = upd.Farm
	}
	if upd.Photo != nil && *upd.Photo != "" {
		if url := s.uploadPhoto(ctx, acct.ID, *upd.Photo); url != "" {
			acct.PhotoURL = url
		}
	}
	acct.UpdatedAt = s.now().UTC()
	if err := s.store.UpdateProfile(ctx, acct); err != nil {
		return Profile{}, err
	}
	return acct.Profile(), nil
}

// ChangePassword replaces the hash after checking the current password.
func (s *Service) ChangePassword(ctx context.Context, id, current, next string) error {
	if len(next) < auth.MinPasswordLength || len(next) > 72 {
		return validate.Field("new_password", fmt.Sprintf("must have between %d and 72 characters", auth.MinPasswordLength))
	}
	acct, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := auth.VerifyPassword(acct.PasswordHash, current); err != nil {
		return ErrInvalidCredentials
	}
	hash, err := auth.HashPassword(next)
	if err != nil {
		return fmt.Errorf("identity: hash password: %w", err)
	}
	if err := s.store.SetPasswordHash(ctx, id, hash, s.now().UTC()); err != nil {
		return err
	}
	_ = audit.LogEvent(ctx, "account.password_changed", map[string]any{"account_id": id})
	return nil
}

// SetVerified marks an account as verified by an operator.
func (s *Service) SetVerified(ctx context.Context, id string, verified bool) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	if err := s.store.SetVerified(ctx, id, verified, s.now().UTC()); err != nil {
		return err
	}
	_ = audit.LogEvent(ctx, "account.verified", map[string]any{"account_id": id, "verified": verified})
	return nil
}

// ListNGOs pages through active NGOs.
func (s *Service) ListNGOs(ctx context.Context, f NGOFilter) ([]Profile, int, error) {
	if f.Limit <= 0 {
		f.Limit = defaultPageSize
	}
	if f.Limit > maxPageSize {
		f.Limit = maxPageSize
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	accts, total, err := s.store.ListNGOs(ctx, f)
	if err != nil {
		return nil, 0, err
	}
	out := make([]Profile, 0, len(accts))
	for _, a := range accts {
		out = append(out, a.Profile())
	}
	return out, total, nil
}

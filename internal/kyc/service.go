package kyc

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sort"
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

// Service implements KYC intake, review and login.
type Service struct {
	store   Store
	tokens  *auth.Tokens
	lockout auth.LockoutPolicy
	docs    objstore.Store
	now     func() time.Time
}

type Option func(*Service)

func WithLockout(p auth.LockoutPolicy) Option {
	return func(s *Service) { s.lockout = p }
}

// WithDocumentStore enables uploads of inline documents.
func WithDocumentStore(store objstore.Store) Option {
	return func(s *Service) { s.docs = store }
}

func WithClock(fn func() time.Time) Option {
	return func(s *Service) { s.now = fn }
}

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

// SubmitFarmer records a farmer application in status pending.
func (s *Service) SubmitFarmer(ctx context.Context, in FarmerSubmission) (Application, error) {
	in.PersonalInfo.Email = strings.ToLower(strings.TrimSpace(in.PersonalInfo.Email))
	if err := validate.Struct(in); err != nil {
		return Application{}, err
	}
	app := Application{
		ID:       ids.New(),
		Kind:     KindFarmer,
		Personal: &in.PersonalInfo,
		Farm:     &in.FarmInfo,
		Bank:     in.BankDetails,
	}
	return s.submit(ctx, app, in.Password, in.Documents)
}

// SubmitNGO records an NGO application in status pending.
func (s *Service) SubmitNGO(ctx context.Context, in NGOSubmission) (Application, error) {
	in.OrganizationInfo.Email = strings.ToLower(strings.TrimSpace(in.OrganizationInfo.Email))
	in.LegalInfo.PAN = strings.ToUpper(strings.TrimSpace(in.LegalInfo.PAN))
	if err := validate.Struct(in); err != nil {
		return Application{}, err
	}
	app := Application{
		ID:           ids.New(),
		Kind:         KindNGO,
		Organization: &in.OrganizationInfo,
		Legal:        &in.LegalInfo,
		Contact:      &in.ContactPerson,
	}
	return s.submit(ctx, app, in.Password, in.Documents)
}

func (s *Service) submit(ctx context.Context, app Application, password string, docs map[string]DocumentUpload) (Application, error) {
	hash, err := auth.HashPassword(password)
	if err != nil {
		return Application{}, fmt.Errorf("kyc: hash password: %w", err)
	}
	now := s.now().UTC()
	app.Status = StatusPending
	app.Verification = Verification{SubmittedAt: now}
	app.Credentials = Credentials{PasswordHash: hash}
	app.CreatedAt = now
	app.UpdatedAt = now
	if err := s.checkDuplicate(ctx, app); err != nil {
		return Application{}, err
	}
	var keys []string
	app.Documents, keys, err = s.uploadDocuments(ctx, app, docs)
	if err != nil {
		s.discard(ctx, app.ID, keys)
		return Application{}, err
	}
	if err := s.store.Create(ctx, app); err != nil {
		s.discard(ctx, app.ID, keys)
		return Application{}, err
	}
	obs.KYCSubmissions.WithLabelValues(string(app.Kind)).Inc()
	_ = audit.LogEvent(ctx, "kyc.submitted", map[string]any{"kyc_id": app.ID, "type": app.Kind})
	return app, nil
}

// checkDuplicate applies the store's uniqueness rule before anything is
// uploaded; Create still enforces it.
func (s *Service) checkDuplicate(ctx context.Context, app Application) error {
	for _, identifier := range []string{app.Phone(), app.Email()} {
		if identifier == "" {
			continue
		}
		_, err := s.store.FindForLogin(ctx, app.Kind, identifier)
		switch {
		case err == nil:
			return ErrDuplicate
		case !errors.Is(err, ErrNotFound):
			return err
		}
	}
	return nil
}

// discard removes objects uploaded for a submission that was not stored.
func (s *Service) discard(ctx context.Context, kycID string, keys []string) {
	for _, key := range keys {
		if err := s.docs.Delete(ctx, key); err != nil {
			obs.LogError("kyc", "discard_document", err, logrus.Fields{"kyc_id": kycID, "key": key})
		}
	}
}

// uploadDocuments stores each inline document and returns the keys written.
// Malformed payloads are validation errors; storage failures leave the
// document marked not uploaded.
func (s *Service) uploadDocuments(ctx context.Context, app Application, docs map[string]DocumentUpload) (map[string]Document, []string, error) {
	out := make(map[string]Document, len(docs))
	var written []string
	keys := make([]string, 0, len(docs))
	for k := range docs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, docType := range keys {
		up := docs[docType]
		doc := Document{Filename: path.Base(up.Filename)}
		if _, _, err := objstore.DecodeInline(up.Data); err != nil {
			return nil, written, validate.Field("documents["+docType+"].data", "must be a base64 JPEG, PNG or PDF up to 5MB")
		}
		if s.docs == nil {
			out[docType] = doc
			continue
		}
		stored, err := objstore.PutDocument(ctx, s.docs, path.Join("kyc", string(app.Kind), app.ID, docType), up.Data)
		switch {
		case errors.Is(err, objstore.ErrInvalidData), errors.Is(err, objstore.ErrTooLarge):
			return nil, written, validate.Field("documents["+docType+"].data", "must be a base64 JPEG, PNG or PDF up to 5MB")
		case err != nil:
			obs.LogError("kyc", "upload_document", err, logrus.Fields{"kyc_id": app.ID, "document": docType})
		default:
			written = append(written, stored.Key)
			doc.Path = stored.URL
			doc.ContentType = stored.ContentType
			doc.Uploaded = true
		}
		out[docType] = doc
	}
	return out, written, nil
}

// Login authenticates an approved applicant by phone or email, checking
// farmer applications before NGO applications.
func (s *Service) Login(ctx context.Context, identifier, password string) (Session, error) {
	identifier = strings.TrimSpace(identifier)
	if strings.Contains(identifier, "@") {
		identifier = strings.ToLower(identifier)
	}
	app, ok, err := s.eligible(ctx, identifier)
	if err != nil {
		return Session{}, err
	}
	if !ok {
		auth.BurnPasswordCheck(password)
		obs.LoginFailures.WithLabelValues("kyc", "unknown").Inc()
		return Session{}, ErrInvalidCredentials
	}

	now := s.now().UTC()
	state, err := s.lockout.Admit(app.Credentials.Login, now)
	if err != nil {
		auth.BurnPasswordCheck(password)
		obs.LoginFailures.WithLabelValues("kyc", "locked").Inc()
		return Session{}, ErrInvalidCredentials
	}
	if err := auth.VerifyPassword(app.Credentials.PasswordHash, password); err != nil {
		state = s.lockout.Fail(state, now)
		if err := s.store.RecordLogin(ctx, app.Kind, app.ID, state, nil); err != nil {
			return Session{}, err
		}
		obs.LoginFailures.WithLabelValues("kyc", "password").Inc()
		return Session{}, ErrInvalidCredentials
	}

	token, exp, err := s.tokens.Issue(app.ID, auth.AudienceKYC)
	if err != nil {
		return Session{}, err
	}
	if err := s.store.RecordLogin(ctx, app.Kind, app.ID, s.lockout.Succeed(), &now); err != nil {
		return Session{}, err
	}
	return Session{Token: token, ExpiresAt: exp, ID: app.ID, Kind: app.Kind, Name: app.DisplayName()}, nil
}

func (s *Service) eligible(ctx context.Context, identifier string) (Application, bool, error) {
	if identifier == "" {
		return Application{}, false, nil
	}
	for _, kind := range []Kind{KindFarmer, KindNGO} {
		app, err := s.store.FindForLogin(ctx, kind, identifier)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return Application{}, false, err
		}
		if app.Status == StatusApproved && app.Credentials.Active {
			return app, true, nil
		}
	}
	return Application{}, false, nil
}

// Status is a public read. Callers are not checked against the application
// owner.
func (s *Service) Status(ctx context.Context, kind Kind, id string) (StatusView, error) {
	app, err := s.Get(ctx, kind, id)
	if err != nil {
		return StatusView{}, err
	}
	return StatusView{
		ID:              app.ID,
		Kind:            app.Kind,
		Status:          app.Status,
		SubmittedAt:     app.Verification.SubmittedAt,
		ReviewedAt:      app.Verification.ReviewedAt,
		RejectionReason: app.Verification.RejectionReason,
	}, nil
}

func (s *Service) Get(ctx context.Context, kind Kind, id string) (Application, error) {
	if !ids.Valid(id) {
		return Application{}, ErrNotFound
	}
	return s.store.Get(ctx, kind, id)
}

// Me resolves the application behind a KYC token subject.
func (s *Service) Me(ctx context.Context, id string) (Application, error) {
	for _, kind := range []Kind{KindFarmer, KindNGO} {
		app, err := s.Get(ctx, kind, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		return app, err
	}
	return Application{}, ErrNotFound
}

var reviewFrom = map[Status][]Status{
	StatusUnderReview: {StatusPending},
	StatusApproved:    {StatusPending, StatusUnderReview},
	StatusRejected:    {StatusPending, StatusUnderReview},
}

// Review moves an application along pending -> under_review ->
// approved|rejected. Approval activates the applicant's login.
func (s *Service) Review(ctx context.Context, kind Kind, id, reviewer string, in ReviewInput) (Application, error) {
	in.Reason = strings.TrimSpace(in.Reason)
	if err := validate.Struct(in); err != nil {
		return Application{}, err
	}
	if !ids.Valid(id) {
		return Application{}, ErrNotFound
	}
	upd := ReviewUpdate{
		Status:             in.Status,
		ReviewedAt:         s.now().UTC(),
		ReviewedBy:         reviewer,
		ActivateCredential: in.Status == StatusApproved,
	}
	if in.Status == StatusRejected {
		upd.RejectionReason = in.Reason
	}
	app, err := s.store.Review(ctx, kind, id, reviewFrom[in.Status], upd)
	if err != nil {
		return Application{}, err
	}
	_ = audit.LogEvent(ctx, "kyc.reviewed", map[string]any{"kyc_id": id, "type": kind, "status": in.Status})
	return app, nil
}

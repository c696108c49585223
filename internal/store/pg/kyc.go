package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"karuna.org/internal/auth"
	"karuna.org/internal/kyc"
)

// KYC implements kyc.Store. The kind-specific blocks live in one jsonb column.
type KYC struct {
	db *sql.DB
}

var _ kyc.Store = (*KYC)(nil)

func (s *Store) KYC() *KYC { return &KYC{db: s.db} }

type kycDetails struct {
	Personal     *kyc.PersonalInfo     `json:"personal_info,omitempty"`
	Farm         *kyc.FarmInfo         `json:"farm_info,omitempty"`
	Bank         *kyc.BankDetails      `json:"bank_details,omitempty"`
	Organization *kyc.OrganizationInfo `json:"organization_info,omitempty"`
	Legal        *kyc.LegalInfo        `json:"legal_info,omitempty"`
	Contact      *kyc.ContactPerson    `json:"contact_person,omitempty"`
}

const kycColumns = `id, kind, status, details, documents, submitted_at, reviewed_at, reviewed_by,
	rejection_reason, password_hash, login_active, login_attempts, last_failure, locked_until, last_login,
	created_at, updated_at`

func scanApplication(row rowScanner) (kyc.Application, error) {
	var (
		app                   kyc.Application
		kind, status          string
		details, docs         []byte
		reviewedAt, lastLogin sql.NullTime
		lastFail, lockedUntil sql.NullTime
	)
	err := row.Scan(&app.ID, &kind, &status, &details, &docs, &app.Verification.SubmittedAt, &reviewedAt,
		&app.Verification.ReviewedBy, &app.Verification.RejectionReason, &app.Credentials.PasswordHash,
		&app.Credentials.Active, &app.Credentials.Login.Attempts, &lastFail, &lockedUntil, &lastLogin,
		&app.CreatedAt, &app.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return kyc.Application{}, kyc.ErrNotFound
	}
	if err != nil {
		return kyc.Application{}, err
	}
	app.Kind = kyc.Kind(kind)
	app.Status = kyc.Status(status)
	app.Verification.ReviewedAt = timePtr(reviewedAt)
	app.Credentials.Login.LastFailure = lastFail.Time
	app.Credentials.Login.LockedUntil = lockedUntil.Time
	app.Credentials.LastLogin = timePtr(lastLogin)

	var d kycDetails
	if err := json.Unmarshal(details, &d); err != nil {
		return kyc.Application{}, fmt.Errorf("decode kyc details: %w", err)
	}
	app.Personal, app.Farm, app.Bank = d.Personal, d.Farm, d.Bank
	app.Organization, app.Legal, app.Contact = d.Organization, d.Legal, d.Contact
	app.Documents = map[string]kyc.Document{}
	if len(docs) > 0 {
		if err := json.Unmarshal(docs, &app.Documents); err != nil {
			return kyc.Application{}, fmt.Errorf("decode kyc documents: %w", err)
		}
	}
	return app, nil
}

func (s *KYC) Create(ctx context.Context, app kyc.Application) error {
	if _, err := kyc.ParseKind(string(app.Kind)); err != nil {
		return err
	}
	details, err := json.Marshal(kycDetails{
		Personal:     app.Personal,
		Farm:         app.Farm,
		Bank:         app.Bank,
		Organization: app.Organization,
		Legal:        app.Legal,
		Contact:      app.Contact,
	})
	if err != nil {
		return err
	}
	docs := app.Documents
	if docs == nil {
		docs = map[string]kyc.Document{}
	}
	rawDocs, err := json.Marshal(docs)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		insert into kyc_applications (id, kind, status, phone, email, details, documents, submitted_at,
			password_hash, login_active, created_at, updated_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`, app.ID, string(app.Kind), string(app.Status), app.Phone(), app.Email(), details, rawDocs,
		app.Verification.SubmittedAt, app.Credentials.PasswordHash, app.Credentials.Active, app.CreatedAt, app.UpdatedAt)
	if isUniqueViolation(err) {
		return kyc.ErrDuplicate
	}
	return err
}

func (s *KYC) Get(ctx context.Context, kind kyc.Kind, id string) (kyc.Application, error) {
	return scanApplication(s.db.QueryRowContext(ctx,
		`select `+kycColumns+` from kyc_applications where kind = $1 and id = $2`, string(kind), id))
}

func (s *KYC) FindForLogin(ctx context.Context, kind kyc.Kind, identifier string) (kyc.Application, error) {
	return scanApplication(s.db.QueryRowContext(ctx, `
		select `+kycColumns+` from kyc_applications
		where kind = $1 and status <> 'rejected' and (phone = $2 or (email <> '' and email = $2))
		order by submitted_at desc
		limit 1`, string(kind), identifier))
}

func (s *KYC) Review(ctx context.Context, kind kyc.Kind, id string, from []kyc.Status, upd kyc.ReviewUpdate) (kyc.Application, error) {
	if len(from) == 0 {
		return kyc.Application{}, kyc.ErrInvalidState
	}
	args := []any{string(kind), id, string(upd.Status), upd.ReviewedAt, upd.ReviewedBy, upd.RejectionReason, upd.ActivateCredential}
	for _, st := range from {
		args = append(args, string(st))
	}
	app, err := scanApplication(s.db.QueryRowContext(ctx, `
		update kyc_applications
		set status = $3, reviewed_at = $4, reviewed_by = $5, rejection_reason = $6,
			login_active = login_active or $7, updated_at = $4
		where kind = $1 and id = $2 and status in (`+placeholders(8, len(from))+`)
		returning `+kycColumns, args...))
	if errors.Is(err, kyc.ErrNotFound) {
		return kyc.Application{}, s.missOrState(ctx, kind, id)
	}
	return app, err
}

func (s *KYC) RecordLogin(ctx context.Context, kind kyc.Kind, id string, state auth.AttemptState, lastLogin *time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		update kyc_applications
		set login_attempts = $3, last_failure = $4, locked_until = $5, last_login = coalesce($6, last_login)
		where kind = $1 and id = $2
	`, string(kind), id, state.Attempts, nullTime(state.LastFailure), nullTime(state.LockedUntil), nullTimePtr(lastLogin))
	if err != nil {
		return err
	}
	ok, err := affected(res)
	if err != nil {
		return err
	}
	if !ok {
		return kyc.ErrNotFound
	}
	return nil
}

// missOrState tells a missing row from one whose status did not match.
func (s *KYC) missOrState(ctx context.Context, kind kyc.Kind, id string) error {
	var one int
	err := s.db.QueryRowContext(ctx, `select 1 from kyc_applications where kind = $1 and id = $2`, string(kind), id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return kyc.ErrNotFound
	}
	if err != nil {
		return err
	}
	return kyc.ErrInvalidState
}

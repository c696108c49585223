package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"karuna.org/internal/auth"
	"karuna.org/internal/identity"
)

// Accounts implements identity.Store.
type Accounts struct {
	db *sql.DB
}

var _ identity.Store = (*Accounts)(nil)

func (s *Store) Accounts() *Accounts { return &Accounts{db: s.db} }

const accountColumns = `id, kind, name, email, coalesce(phone, ''), coalesce(registration_id, ''),
	password_hash, verified, active, district, focus_areas, farm, description, photo_url,
	login_attempts, last_failure, locked_until, last_login, created_at, updated_at`

func scanAccount(row rowScanner) (identity.Account, error) {
	var (
		acct                               identity.Account
		kind                               string
		focus, farm                        []byte
		lastFailure, lockedUntil, lastSeen sql.NullTime
	)
	err := row.Scan(&acct.ID, &kind, &acct.Name, &acct.Email, &acct.Phone, &acct.RegistrationID,
		&acct.PasswordHash, &acct.Verified, &acct.Active, &acct.District, &focus, &farm, &acct.Description, &acct.PhotoURL,
		&acct.Login.Attempts, &lastFailure, &lockedUntil, &lastSeen, &acct.CreatedAt, &acct.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return identity.Account{}, identity.ErrNotFound
	}
	if err != nil {
		return identity.Account{}, err
	}
	acct.Kind = identity.Kind(kind)
	acct.Login.LastFailure = lastFailure.Time
	acct.Login.LockedUntil = lockedUntil.Time
	acct.LastLogin = timePtr(lastSeen)
	if len(focus) > 0 {
		if err := json.Unmarshal(focus, &acct.FocusAreas); err != nil {
			return identity.Account{}, fmt.Errorf("decode focus_areas: %w", err)
		}
	}
	if len(farm) > 0 && string(farm) != "null" {
		acct.Farm = &identity.Farm{}
		if err := json.Unmarshal(farm, acct.Farm); err != nil {
			return identity.Account{}, fmt.Errorf("decode farm: %w", err)
		}
	}
	return acct, nil
}

func encodeProfileJSON(acct identity.Account) (focus []byte, farm any, err error) {
	areas := acct.FocusAreas
	if areas == nil {
		areas = []string{}
	}
	if focus, err = json.Marshal(areas); err != nil {
		return nil, nil, err
	}
	if acct.Farm != nil {
		raw, err := json.Marshal(acct.Farm)
		if err != nil {
			return nil, nil, err
		}
		farm = raw
	}
	return focus, farm, nil
}

func (s *Accounts) Create(ctx context.Context, acct identity.Account) error {
	focus, farm, err := encodeProfileJSON(acct)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		insert into accounts (id, kind, name, email, phone, registration_id, password_hash, verified, active,
			district, focus_areas, farm, description, photo_url, created_at, updated_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
	`, acct.ID, string(acct.Kind), acct.Name, acct.Email, nullIfEmpty(acct.Phone), nullIfEmpty(acct.RegistrationID),
		acct.PasswordHash, acct.Verified, acct.Active, acct.District, focus, farm, acct.Description, acct.PhotoURL,
		acct.CreatedAt, acct.UpdatedAt)
	if isUniqueViolation(err) {
		return identity.ErrDuplicate
	}
	return err
}

func (s *Accounts) Get(ctx context.Context, id string) (identity.Account, error) {
	return scanAccount(s.db.QueryRowContext(ctx, `select `+accountColumns+` from accounts where id = $1`, id))
}

func (s *Accounts) GetByEmail(ctx context.Context, email string) (identity.Account, error) {
	return scanAccount(s.db.QueryRowContext(ctx, `select `+accountColumns+` from accounts where email = $1`, email))
}

func (s *Accounts) UpdateProfile(ctx context.Context, acct identity.Account) error {
	focus, farm, err := encodeProfileJSON(acct)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		update accounts
		set name = $2, phone = $3, district = $4, description = $5, focus_areas = $6, farm = $7,
			photo_url = $8, updated_at = $9
		where id = $1
	`, acct.ID, acct.Name, nullIfEmpty(acct.Phone), acct.District, acct.Description, focus, farm,
		acct.PhotoURL, acct.UpdatedAt)
	if isUniqueViolation(err) {
		return identity.ErrDuplicate
	}
	return s.mustTouch(res, err)
}

func (s *Accounts) SetPasswordHash(ctx context.Context, id, hash string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `update accounts set password_hash = $2, updated_at = $3 where id = $1`, id, hash, at)
	return s.mustTouch(res, err)
}

func (s *Accounts) SetVerified(ctx context.Context, id string, verified bool, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `update accounts set verified = $2, updated_at = $3 where id = $1`, id, verified, at)
	return s.mustTouch(res, err)
}

func (s *Accounts) RecordLogin(ctx context.Context, id string, state auth.AttemptState, lastLogin *time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		update accounts
		set login_attempts = $2, last_failure = $3, locked_until = $4, last_login = coalesce($5, last_login)
		where id = $1
	`, id, state.Attempts, nullTime(state.LastFailure), nullTime(state.LockedUntil), nullTimePtr(lastLogin))
	return s.mustTouch(res, err)
}

func (s *Accounts) ListNGOs(ctx context.Context, f identity.NGOFilter) ([]identity.Account, int, error) {
	const filter = `
		from accounts
		where kind = 'ngo' and active
			and ($1 = '' or lower(district) = lower($1))
			and ($2 = '' or exists (
				select 1 from jsonb_array_elements_text(focus_areas) area where lower(area) = lower($2)))`
	var total int
	if err := s.db.QueryRowContext(ctx, `select count(*) `+filter, f.District, f.FocusArea).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := s.db.QueryContext(ctx, `select `+accountColumns+filter+`
		order by created_at desc, id desc
		limit $3 offset $4`, f.District, f.FocusArea, f.Limit, f.Offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []identity.Account
	for rows.Next() {
		acct, err := scanAccount(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, acct)
	}
	return out, total, rows.Err()
}

func (s *Accounts) mustTouch(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	ok, err := affected(res)
	if err != nil {
		return err
	}
	if !ok {
		return identity.ErrNotFound
	}
	return nil
}

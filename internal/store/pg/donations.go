package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"karuna.org/internal/donation"
	"karuna.org/internal/payment"
	"karuna.org/internal/pii"
)

// Donations implements donation.Store. Donor name, email and phone are sealed
// with the PII key; donor_fingerprint lets unique donors be counted without
// opening them.
type Donations struct {
	db     *sql.DB
	sealer *pii.Sealer
}

var _ donation.Store = (*Donations)(nil)

func (s *Store) Donations(sealer *pii.Sealer) *Donations {
	return &Donations{db: s.db, sealer: sealer}
}

const (
	fieldDonorName  = "donations.donor_name"
	fieldDonorEmail = "donations.donor_email"
	fieldDonorPhone = "donations.donor_phone"
)

const donationColumns = `transaction_id, amount, currency, donor_name, donor_email, donor_phone,
	donor_anonymous, donor_message, recipient_id, recipient_kind, method, status, instructions,
	proof, verified_amount, verified_by, completed_at, failure_reason, refund_reason, refund_amount,
	refunded_at, recurring_frequency, next_payment_date, recurring_active, parent_transaction_id,
	donor_notified, recipient_notified, receipt_url, created_at, updated_at`

func (s *Donations) scan(row rowScanner) (donation.Record, error) {
	var (
		rec                     donation.Record
		name, email, phone      string
		method, status          string
		instructions            []byte
		verified, refunded      decimal.NullDecimal
		completedAt, refundedAt sql.NullTime
		frequency, parent       sql.NullString
		nextDue                 sql.NullTime
		recurringActive         bool
	)
	err := row.Scan(&rec.TransactionID, &rec.Amount, &rec.Currency, &name, &email, &phone,
		&rec.Donor.Anonymous, &rec.Donor.Message, &rec.RecipientID, &rec.RecipientKind, &method, &status, &instructions,
		&rec.Proof, &verified, &rec.VerifiedBy, &completedAt, &rec.FailureReason, &rec.RefundReason, &refunded,
		&refundedAt, &frequency, &nextDue, &recurringActive, &parent,
		&rec.DonorNotified, &rec.RecipientNotified, &rec.ReceiptURL, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return donation.Record{}, donation.ErrNotFound
	}
	if err != nil {
		return donation.Record{}, err
	}
	if rec.Donor.Name, err = s.sealer.Open(fieldDonorName, name); err != nil {
		return donation.Record{}, fmt.Errorf("open donor name: %w", err)
	}
	if rec.Donor.Email, err = s.sealer.Open(fieldDonorEmail, email); err != nil {
		return donation.Record{}, fmt.Errorf("open donor email: %w", err)
	}
	if rec.Donor.Phone, err = s.sealer.Open(fieldDonorPhone, phone); err != nil {
		return donation.Record{}, fmt.Errorf("open donor phone: %w", err)
	}
	rec.Method = payment.Method(method)
	rec.Status = donation.Status(status)
	if err := json.Unmarshal(instructions, &rec.Instructions); err != nil {
		return donation.Record{}, fmt.Errorf("decode instructions: %w", err)
	}
	rec.VerifiedAmount = decimalPtr(verified)
	rec.RefundAmount = decimalPtr(refunded)
	rec.CompletedAt = timePtr(completedAt)
	rec.RefundedAt = timePtr(refundedAt)
	if frequency.Valid {
		rec.Recurring = &donation.Recurring{
			Frequency:       donation.Frequency(frequency.String),
			NextPaymentDate: nextDue.Time,
			Active:          recurringActive,
		}
	}
	rec.ParentTransactionID = parent.String
	return rec, nil
}

func (s *Donations) Create(ctx context.Context, rec donation.Record) error {
	name, err := s.sealer.Seal(fieldDonorName, rec.Donor.Name)
	if err != nil {
		return err
	}
	email, err := s.sealer.Seal(fieldDonorEmail, rec.Donor.Email)
	if err != nil {
		return err
	}
	phone, err := s.sealer.Seal(fieldDonorPhone, rec.Donor.Phone)
	if err != nil {
		return err
	}
	instructions, err := json.Marshal(rec.Instructions)
	if err != nil {
		return err
	}
	var (
		frequency sql.NullString
		nextDue   sql.NullTime
		active    bool
	)
	if rec.Recurring != nil {
		frequency = nullIfEmpty(string(rec.Recurring.Frequency))
		nextDue = nullTime(rec.Recurring.NextPaymentDate)
		active = rec.Recurring.Active
	}
	_, err = s.db.ExecContext(ctx, `
		insert into donations (transaction_id, amount, currency, donor_name, donor_email, donor_phone,
			donor_fingerprint, donor_anonymous, donor_message, recipient_id, recipient_kind, method, status,
			instructions, recurring_frequency, next_payment_date, recurring_active, parent_transaction_id,
			created_at, updated_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)
	`, rec.TransactionID, rec.Amount, rec.Currency, name, email, phone,
		s.sealer.Fingerprint(rec.Donor.Email), rec.Donor.Anonymous, rec.Donor.Message, rec.RecipientID, rec.RecipientKind,
		string(rec.Method), string(rec.Status), instructions, frequency, nextDue, active, nullIfEmpty(rec.ParentTransactionID),
		rec.CreatedAt, rec.UpdatedAt)
	switch {
	case isUniqueViolation(err):
		return donation.ErrDuplicateTransaction
	case isForeignKeyViolation(err):
		return donation.ErrRecipientNotFound
	}
	return err
}

func (s *Donations) Get(ctx context.Context, txnID string) (donation.Record, error) {
	return s.scan(s.db.QueryRowContext(ctx, `select `+donationColumns+` from donations where transaction_id = $1`, txnID))
}

// Transition is a single conditional update; the status guard in the where
// clause is what serialises concurrent verify, fail and refund calls.
func (s *Donations) Transition(ctx context.Context, txnID string, from []donation.Status, t donation.Transition) (donation.Record, error) {
	if len(from) == 0 {
		return donation.Record{}, donation.ErrInvalidState
	}
	args := []any{txnID, string(t.To), t.At}
	var set string
	switch t.To {
	case donation.StatusCompleted:
		set = `completed_at = coalesce(completed_at, $3), proof = $4, verified_amount = $5, verified_by = $6`
		args = append(args, t.Proof, nullDecimal(t.VerifiedAmount), t.VerifiedBy)
	case donation.StatusFailed:
		set = `failure_reason = $4, recurring_active = false`
		args = append(args, t.FailureReason)
	case donation.StatusRefunded:
		set = `refund_reason = $4, refund_amount = $5, refunded_at = $3, recurring_active = false`
		args = append(args, t.RefundReason, nullDecimal(t.RefundAmount))
	default:
		return donation.Record{}, donation.ErrInvalidState
	}
	start := len(args) + 1
	for _, st := range from {
		args = append(args, string(st))
	}
	rec, err := s.scan(s.db.QueryRowContext(ctx, `
		update donations
		set status = $2, updated_at = $3, `+set+`
		where transaction_id = $1 and status in (`+placeholders(start, len(from))+`)
		returning `+donationColumns, args...))
	if errors.Is(err, donation.ErrNotFound) {
		return donation.Record{}, s.missOrState(ctx, txnID)
	}
	return rec, err
}

func (s *Donations) ListByRecipient(ctx context.Context, recipientID string, f donation.ListFilter) ([]donation.Record, error) {
	var limit sql.NullInt64
	if f.Limit > 0 {
		limit = sql.NullInt64{Int64: int64(f.Limit), Valid: true}
	}
	return s.query(ctx, `
		select `+donationColumns+` from donations
		where recipient_id = $1 and ($2 = '' or status = $2)
		order by created_at desc, transaction_id desc
		limit $3`, recipientID, string(f.Status), limit)
}

func (s *Donations) Totals(ctx context.Context, recipientID string) (donation.Totals, error) {
	t := donation.Totals{Counts: map[donation.Status]int{}, TotalRaised: decimal.Zero}
	rows, err := s.db.QueryContext(ctx, `
		select status, count(*), coalesce(sum(amount), 0)
		from donations
		where recipient_id = $1
		group by status`, recipientID)
	if err != nil {
		return donation.Totals{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			status string
			count  int
			sum    decimal.Decimal
		)
		if err := rows.Scan(&status, &count, &sum); err != nil {
			return donation.Totals{}, err
		}
		t.Counts[donation.Status(status)] = count
		if donation.Status(status) == donation.StatusCompleted {
			t.TotalRaised = sum
		}
	}
	if err := rows.Err(); err != nil {
		return donation.Totals{}, err
	}
	err = s.db.QueryRowContext(ctx, `
		select count(distinct donor_fingerprint)
		from donations
		where recipient_id = $1 and status = 'completed'`, recipientID).Scan(&t.UniqueDonors)
	if err != nil {
		return donation.Totals{}, err
	}
	return t, nil
}

func (s *Donations) DueRecurring(ctx context.Context, now time.Time, limit int) ([]donation.Record, error) {
	var lim sql.NullInt64
	if limit > 0 {
		lim = sql.NullInt64{Int64: int64(limit), Valid: true}
	}
	return s.query(ctx, `
		select `+donationColumns+` from donations
		where status = 'completed' and recurring_active and next_payment_date <= $1
		order by next_payment_date asc
		limit $2`, now, lim)
}

func (s *Donations) AdvanceRecurring(ctx context.Context, txnID string, expected, next time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		update donations
		set next_payment_date = $3
		where transaction_id = $1 and next_payment_date = $2`, txnID, expected, next)
	if err != nil {
		return false, err
	}
	ok, err := affected(res)
	if err != nil || ok {
		return ok, err
	}
	if _, err := s.Get(ctx, txnID); err != nil {
		return false, err
	}
	return false, nil
}

func (s *Donations) query(ctx context.Context, query string, args ...any) ([]donation.Record, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []donation.Record
	for rows.Next() {
		rec, err := s.scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Donations) missOrState(ctx context.Context, txnID string) error {
	var one int
	err := s.db.QueryRowContext(ctx, `select 1 from donations where transaction_id = $1`, txnID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return donation.ErrNotFound
	}
	if err != nil {
		return err
	}
	return donation.ErrInvalidState
}

func nullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}

func decimalPtr(d decimal.NullDecimal) *decimal.Decimal {
	if !d.Valid {
		return nil
	}
	v := d.Decimal
	return &v
}

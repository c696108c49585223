package donation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"karuna.org/internal/audit"
	"karuna.org/internal/identity"
	"karuna.org/internal/ids"
	"karuna.org/internal/obs"
	"karuna.org/internal/payment"
	"karuna.org/internal/stream"
	"karuna.org/internal/validate"
)

const (
	txnAttempts  = 3
	recentLimit  = 5
	defaultLimit = 50
	maxLimit     = 200
)

// Recipients resolves donation recipients.
type Recipients interface {
	Get(ctx context.Context, id string) (identity.Account, error)
}

// Publisher receives anonymised lifecycle events.
type Publisher interface {
	Publish(evt stream.Event)
}

// Service implements the direct-payment lifecycle.
type Service struct {
	store      Store
	recipients Recipients
	builder    *payment.Builder
	events     Publisher
	now        func() time.Time
	digits     func(n int) (string, error)
}

type Option func(*Service)

// WithPublisher streams lifecycle events to live subscribers.
func WithPublisher(p Publisher) Option {
	return func(s *Service) { s.events = p }
}

func WithClock(fn func() time.Time) Option {
	return func(s *Service) { s.now = fn }
}

func NewService(store Store, recipients Recipients, builder *payment.Builder, opts ...Option) *Service {
	s := &Service{
		store:      store,
		recipients: recipients,
		builder:    builder,
		now:        time.Now,
		digits:     ids.Digits,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewTransactionID formats TXN-<PREFIX>-<unix millis>-<6 random digits>.
func (s *Service) NewTransactionID(m payment.Method, at time.Time) (string, error) {
	suffix, err := s.digits(6)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("TXN-%s-%d-%s", m.Prefix(), at.UnixMilli(), suffix), nil
}

func validateAmount(field string, amount decimal.Decimal) error {
	switch {
	case amount.LessThan(MinAmount):
		return validate.Field(field, "must be at least 1")
	case amount.GreaterThan(MaxAmount):
		return validate.Field(field, "must be at most "+MaxAmount.String())
	case !amount.Equal(amount.Round(2)):
		return validate.Field(field, "must have at most 2 decimal places")
	}
	return nil
}

// CreateDirectPayment validates the request, builds payment instructions and
// persists a record in pending (UPI) or pending_verification (bank, crypto).
// The returned record carries the QR image; the stored copy does not.
func (s *Service) CreateDirectPayment(ctx context.Context, in CreateInput) (Record, error) {
	in.Donor.Email = strings.ToLower(strings.TrimSpace(in.Donor.Email))
	in.Donor.Name = strings.TrimSpace(in.Donor.Name)
	in.CryptoCurrency = strings.ToUpper(strings.TrimSpace(in.CryptoCurrency))
	if !in.Method.Valid() {
		return Record{}, validate.Field("method", "must be one of UPI_DIRECT, BANK_TRANSFER, CRYPTO")
	}
	if err := validate.Struct(in); err != nil {
		return Record{}, err
	}
	if err := validateAmount("amount", in.Amount); err != nil {
		return Record{}, err
	}
	if in.Method == payment.MethodCrypto && in.CryptoCurrency == "" {
		return Record{}, validate.Field("crypto_currency", "is required")
	}

	recipient, err := s.recipients.Get(ctx, in.RecipientID)
	if errors.Is(err, identity.ErrNotFound) || (err == nil && !recipient.Recipient()) {
		return Record{}, ErrRecipientNotFound
	}
	if err != nil {
		return Record{}, err
	}

	now := s.now().UTC()
	status := StatusPending
	if in.Method.NeedsVerification() {
		status = StatusPendingVerification
	}
	rec := Record{
		Amount:        in.Amount,
		Currency:      s.builder.Currency(),
		Donor:         in.Donor,
		RecipientID:   recipient.ID,
		RecipientKind: string(recipient.Kind),
		Method:        in.Method,
		Status:        status,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if in.Recurring != "" {
		rec.Recurring = &Recurring{Frequency: in.Recurring, NextPaymentDate: in.Recurring.Next(now), Active: true}
	}

	full, err := s.insert(ctx, rec, "Donation to "+recipient.Name, in.CryptoCurrency)
	if err != nil {
		return Record{}, err
	}
	obs.DonationsCreated.WithLabelValues(string(full.Method)).Inc()
	_ = audit.LogEvent(ctx, "donation.created", map[string]any{
		"transaction_id": full.TransactionID,
		"method":         full.Method,
		"amount":         full.Amount.String(),
		"recipient_id":   full.RecipientID,
	})
	s.publish(stream.EventCreated, full, recipient)
	return full, nil
}

// insert assigns a transaction id, builds instructions and stores rec,
// regenerating the id on collision.
func (s *Service) insert(ctx context.Context, rec Record, note, cryptoCurrency string) (Record, error) {
	for attempt := 1; ; attempt++ {
		txnID, err := s.NewTransactionID(rec.Method, s.now())
		if err != nil {
			return Record{}, fmt.Errorf("donation: transaction id: %w", err)
		}
		instr, err := s.builder.Build(payment.Request{
			Method:         rec.Method,
			Amount:         rec.Amount,
			TransactionID:  txnID,
			Note:           note,
			CryptoCurrency: cryptoCurrency,
		})
		switch {
		case errors.Is(err, payment.ErrUnsupportedCurrency):
			return Record{}, validate.Field("crypto_currency", "is not accepted")
		case errors.Is(err, payment.ErrNotConfigured):
			return Record{}, validate.Field("method", "is not available")
		case err != nil:
			return Record{}, err
		}
		rec.TransactionID = txnID
		rec.Instructions = instr.WithoutImages()
		err = s.store.Create(ctx, rec)
		if errors.Is(err, ErrDuplicateTransaction) && attempt < txnAttempts {
			continue
		}
		if err != nil {
			return Record{}, err
		}
		rec.Instructions = instr
		return rec, nil
	}
}

// Get returns a record by transaction id.
func (s *Service) Get(ctx context.Context, txnID string) (Record, error) {
	txnID = strings.TrimSpace(txnID)
	if txnID == "" {
		return Record{}, ErrNotFound
	}
	return s.store.Get(ctx, txnID)
}

// Verify records a manual attestation that the donor paid. Verifying an
// already completed record returns it unchanged.
func (s *Service) Verify(ctx context.Context, txnID string, in VerifyInput) (Record, error) {
	rec, err := s.Get(ctx, txnID)
	if err != nil {
		return Record{}, err
	}
	in.Proof = strings.TrimSpace(in.Proof)
	if err := validate.Struct(in); err != nil {
		return Record{}, err
	}
	switch rec.Status {
	case StatusCompleted:
		return rec, nil
	case StatusFailed, StatusRefunded:
		return Record{}, ErrInvalidState
	}
	if in.VerifiedAmount != nil && !in.VerifiedAmount.Equal(rec.Amount) {
		return Record{}, validate.Field("verified_amount", "must equal the donation amount "+rec.Amount.StringFixed(2))
	}

	updated, err := s.store.Transition(ctx, rec.TransactionID, sources(StatusCompleted), Transition{
		To:             StatusCompleted,
		At:             s.now().UTC(),
		Proof:          in.Proof,
		VerifiedAmount: in.VerifiedAmount,
		VerifiedBy:     in.VerifiedBy,
	})
	if errors.Is(err, ErrInvalidState) {
		// lost a race; a concurrent verify is still a success
		cur, getErr := s.store.Get(ctx, rec.TransactionID)
		if getErr == nil && cur.Status == StatusCompleted {
			return cur, nil
		}
		return Record{}, err
	}
	if err != nil {
		return Record{}, err
	}
	s.transitioned(ctx, rec.Status, updated, "donation.verified", map[string]any{
		"verified_by":        in.VerifiedBy,
		"manual_attestation": true,
	})
	return updated, nil
}

// Fail marks a pending donation as failed.
func (s *Service) Fail(ctx context.Context, txnID, reason string) (Record, error) {
	rec, err := s.Get(ctx, txnID)
	if err != nil {
		return Record{}, err
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return Record{}, validate.Field("reason", "is required")
	}
	updated, err := s.store.Transition(ctx, rec.TransactionID, sources(StatusFailed), Transition{
		To:            StatusFailed,
		At:            s.now().UTC(),
		FailureReason: reason,
	})
	if err != nil {
		return Record{}, err
	}
	s.transitioned(ctx, rec.Status, updated, "donation.failed", map[string]any{"reason": reason})
	return updated, nil
}

// Refund marks a completed donation refunded. No money moves; settlement is
// handled outside the platform.
func (s *Service) Refund(ctx context.Context, txnID string, in RefundInput) (Record, error) {
	rec, err := s.Get(ctx, txnID)
	if err != nil {
		return Record{}, err
	}
	in.Reason = strings.TrimSpace(in.Reason)
	if err := validate.Struct(in); err != nil {
		return Record{}, err
	}
	if rec.Status != StatusCompleted {
		return Record{}, ErrInvalidState
	}
	amount := rec.Amount
	if in.Amount != nil {
		if !in.Amount.IsPositive() || in.Amount.GreaterThan(rec.Amount) || !in.Amount.Equal(in.Amount.Round(2)) {
			return Record{}, validate.Field("amount", "must be positive and at most "+rec.Amount.StringFixed(2))
		}
		amount = *in.Amount
	}
	updated, err := s.store.Transition(ctx, rec.TransactionID, sources(StatusRefunded), Transition{
		To:           StatusRefunded,
		At:           s.now().UTC(),
		RefundReason: in.Reason,
		RefundAmount: &amount,
	})
	if err != nil {
		return Record{}, err
	}
	s.transitioned(ctx, rec.Status, updated, "donation.refunded", map[string]any{
		"reason":        in.Reason,
		"refund_amount": amount.String(),
		"settlement":    "manual",
	})
	return updated, nil
}

func (s *Service) transitioned(ctx context.Context, from Status, rec Record, event string, fields map[string]any) {
	obs.DonationTransitions.WithLabelValues(string(from), string(rec.Status)).Inc()
	fields["transaction_id"] = rec.TransactionID
	fields["from"] = from
	fields["to"] = rec.Status
	_ = audit.LogEvent(ctx, event, fields)

	var evt string
	switch rec.Status {
	case StatusCompleted:
		evt = stream.EventCompleted
	case StatusFailed:
		evt = stream.EventFailed
	case StatusRefunded:
		evt = stream.EventRefunded
	}
	if s.events == nil || evt == "" {
		return
	}
	recipient, err := s.recipients.Get(ctx, rec.RecipientID)
	if err != nil {
		recipient = identity.Account{ID: rec.RecipientID}
	}
	s.publish(evt, rec, recipient)
}

func (s *Service) publish(evt string, rec Record, recipient identity.Account) {
	if s.events == nil {
		return
	}
	district := recipient.District
	s.events.Publish(stream.Event{
		Type:          evt,
		Method:        string(rec.Method),
		Amount:        rec.Amount,
		Currency:      rec.Currency,
		RecipientID:   rec.RecipientID,
		RecipientName: recipient.Name,
		Donor:         rec.Donor.DisplayName(),
		To:            stream.LocationFor(district, rec.RecipientID),
		Timestamp:     s.now().UTC(),
	})
}

// ListForRecipient returns the newest donations addressed to recipientID.
func (s *Service) ListForRecipient(ctx context.Context, recipientID string, f ListFilter) ([]Record, error) {
	if f.Limit <= 0 {
		f.Limit = defaultLimit
	}
	if f.Limit > maxLimit {
		f.Limit = maxLimit
	}
	return s.store.ListByRecipient(ctx, recipientID, f)
}

// Stats summarises donations for a recipient dashboard. Anonymous donors are
// redacted in the recent list.
func (s *Service) Stats(ctx context.Context, recipientID string) (Stats, error) {
	totals, err := s.store.Totals(ctx, recipientID)
	if err != nil {
		return Stats{}, err
	}
	recent, err := s.store.ListByRecipient(ctx, recipientID, ListFilter{Status: StatusCompleted, Limit: recentLimit})
	if err != nil {
		return Stats{}, err
	}
	out := Stats{Totals: totals, RecipientID: recipientID, Recent: make([]RecentDonation, 0, len(recent))}
	for _, rec := range recent {
		out.Recent = append(out.Recent, RecentDonation{
			TransactionID: rec.TransactionID,
			Amount:        rec.Amount,
			Currency:      rec.Currency,
			Method:        rec.Method,
			Donor:         rec.Donor.DisplayName(),
			Message:       rec.Donor.Message,
			CompletedAt:   rec.CompletedAt,
		})
	}
	return out, nil
}

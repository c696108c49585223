// Package donation owns the DonationRecord lifecycle: direct-payment
// creation, manual verification, failure, refund and recurring follow-ups.
package donation

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"karuna.org/internal/payment"
)

// Status is the lifecycle state of a donation.
type Status string

const (
	StatusPending             Status = "pending"
	StatusPendingVerification Status = "pending_verification"
	StatusCompleted           Status = "completed"
	StatusFailed              Status = "failed"
	StatusRefunded            Status = "refunded"
)

// Valid reports whether s is a known lifecycle state.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusPendingVerification, StatusCompleted, StatusFailed, StatusRefunded:
		return true
	}
	return false
}

var transitions = map[Status][]Status{
	StatusPending:             {StatusCompleted, StatusFailed},
	StatusPendingVerification: {StatusCompleted, StatusFailed},
	StatusCompleted:           {StatusRefunded},
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// sources lists the states that may move to to.
func sources(to Status) []Status {
	var out []Status
	for _, from := range []Status{StatusPending, StatusPendingVerification, StatusCompleted} {
		if CanTransition(from, to) {
			out = append(out, from)
		}
	}
	return out
}

// Frequency of a recurring donation.
type Frequency string

const (
	FrequencyMonthly   Frequency = "monthly"
	FrequencyQuarterly Frequency = "quarterly"
	FrequencyYearly    Frequency = "yearly"
)

// Next returns the due date one period after t.
func (f Frequency) Next(t time.Time) time.Time {
	switch f {
	case FrequencyQuarterly:
		return t.AddDate(0, 3, 0)
	case FrequencyYearly:
		return t.AddDate(1, 0, 0)
	}
	return t.AddDate(0, 1, 0)
}

var (
	ErrNotFound             = errors.New("donation not found")
	ErrRecipientNotFound    = errors.New("recipient not found")
	ErrInvalidState         = errors.New("donation status does not allow this operation")
	ErrDuplicateTransaction = errors.New("transaction id already exists")
)

var (
	MinAmount = decimal.NewFromInt(1)
	MaxAmount = decimal.NewFromInt(10_000_000)
)

// Donor is the payer. Name, email and phone are sealed at rest.
type Donor struct {
	Name      string `json:"name" validate:"required,min=2,max=120"`
	Email     string `json:"email" validate:"required,email,max=254"`
	Phone     string `json:"phone,omitempty" validate:"omitempty,phone10"`
	Anonymous bool   `json:"anonymous"`
	Message   string `json:"message,omitempty" validate:"max=500"`
}

// DisplayName is what public surfaces may show.
func (d Donor) DisplayName() string {
	if d.Anonymous || d.Name == "" {
		return "Anonymous"
	}
	return d.Name
}

// Recurring schedules follow-up donations.
type Recurring struct {
	Frequency       Frequency `json:"frequency"`
	NextPaymentDate time.Time `json:"next_payment_date"`
	Active          bool      `json:"active"`
}

// Record is a donation. CompletedAt is set once, on the first transition to
// completed.
type Record struct {
	TransactionID       string               `json:"transaction_id"`
	Amount              decimal.Decimal      `json:"amount"`
	Currency            string               `json:"currency"`
	Donor               Donor                `json:"donor"`
	RecipientID         string               `json:"recipient_id"`
	RecipientKind       string               `json:"recipient_type"`
	Method              payment.Method       `json:"method"`
	Status              Status               `json:"status"`
	Instructions        payment.Instructions `json:"instructions"`
	Proof               string               `json:"proof,omitempty"`
	VerifiedAmount      *decimal.Decimal     `json:"verified_amount,omitempty"`
	VerifiedBy          string               `json:"verified_by,omitempty"`
	CompletedAt         *time.Time           `json:"completed_at,omitempty"`
	FailureReason       string               `json:"failure_reason,omitempty"`
	RefundReason        string               `json:"refund_reason,omitempty"`
	RefundAmount        *decimal.Decimal     `json:"refund_amount,omitempty"`
	RefundedAt          *time.Time           `json:"refunded_at,omitempty"`
	Recurring           *Recurring           `json:"recurring,omitempty"`
	ParentTransactionID string               `json:"parent_transaction_id,omitempty"`
	DonorNotified       bool                 `json:"donor_notified"`
	RecipientNotified   bool                 `json:"recipient_notified"`
	ReceiptURL          string               `json:"receipt_url,omitempty"`
	CreatedAt           time.Time            `json:"created_at"`
	UpdatedAt           time.Time            `json:"updated_at"`
}

// Transition is applied by Store.Transition.
type Transition struct {
	To             Status
	At             time.Time
	Proof          string
	VerifiedAmount *decimal.Decimal
	VerifiedBy     string
	FailureReason  string
	RefundReason   string
	RefundAmount   *decimal.Decimal
}

// CreateInput is a direct-payment request. Method comes from the route.
type CreateInput struct {
	Method         payment.Method  `json:"-"`
	Amount         decimal.Decimal `json:"amount"`
	RecipientID    string          `json:"recipient_id" validate:"required,max=64"`
	Donor          Donor           `json:"donor" validate:"required"`
	CryptoCurrency string          `json:"crypto_currency,omitempty" validate:"max=10"`
	Recurring      Frequency       `json:"recurring_frequency,omitempty" validate:"omitempty,oneof=monthly quarterly yearly"`
}

// VerifyInput is a manual attestation that money arrived.
type VerifyInput struct {
	Proof          string           `json:"proof" validate:"required,max=2000"`
	VerifiedAmount *decimal.Decimal `json:"verified_amount,omitempty"`
	VerifiedBy     string           `json:"-"`
}

// RefundInput defaults Amount to the full donation.
type RefundInput struct {
	Reason string           `json:"reason" validate:"required,max=500"`
	Amount *decimal.Decimal `json:"amount,omitempty"`
}

// ListFilter narrows ListForRecipient.
type ListFilter struct {
	Status Status
	Limit  int
}

// Totals are the aggregate part of Stats computed by the store.
type Totals struct {
	Counts       map[Status]int  `json:"counts"`
	TotalRaised  decimal.Decimal `json:"total_raised"`
	UniqueDonors int             `json:"unique_donors"`
}

// RecentDonation is a redacted completed donation.
type RecentDonation struct {
	TransactionID string          `json:"transaction_id"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	Method        payment.Method  `json:"method"`
	Donor         string          `json:"donor"`
	Message       string          `json:"message,omitempty"`
	CompletedAt   *time.Time      `json:"completed_at,omitempty"`
}

// Stats is the recipient dashboard summary.
type Stats struct {
	Totals
	RecipientID string           `json:"recipient_id"`
	Recent      []RecentDonation `json:"recent"`
}

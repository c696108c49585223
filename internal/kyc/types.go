// Package kyc handles farmer and NGO verification applications, their review
// workflow and the login that approval unlocks.
package kyc

import (
	"errors"
	"strings"
	"time"

	"karuna.org/internal/auth"
)

// Kind is the applicant type.
type Kind string

const (
	KindFarmer Kind = "farmer"
	KindNGO    Kind = "ngo"
)

// ParseKind accepts the path segment used by the status and review routes.
func ParseKind(s string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(s))) {
	case KindFarmer:
		return KindFarmer, nil
	case KindNGO:
		return KindNGO, nil
	}
	return "", ErrInvalidKind
}

// Status is the review state of an application.
type Status string

const (
	StatusPending     Status = "pending"
	StatusUnderReview Status = "under_review"
	StatusApproved    Status = "approved"
	StatusRejected    Status = "rejected"
)

var (
	ErrNotFound           = errors.New("kyc application not found")
	ErrDuplicate          = errors.New("kyc application already exists for this phone or email")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidState       = errors.New("kyc application cannot move to the requested status")
	ErrInvalidKind        = errors.New("kyc type must be farmer or ngo")
)

type Address struct {
	Line1    string `json:"line1" validate:"required,max=200"`
	Line2    string `json:"line2,omitempty" validate:"max=200"`
	Village  string `json:"village,omitempty" validate:"max=120"`
	District string `json:"district" validate:"required,max=60"`
	State    string `json:"state" validate:"required,max=60"`
	Pincode  string `json:"pincode" validate:"required,pincode"`
}

type PersonalInfo struct {
	FullName    string  `json:"full_name" validate:"required,min=2,max=120"`
	DateOfBirth string  `json:"date_of_birth" validate:"required,datetime=2006-01-02"`
	Gender      string  `json:"gender" validate:"required,oneof=male female other"`
	Phone       string  `json:"phone" validate:"required,phone10"`
	Email       string  `json:"email,omitempty" validate:"omitempty,email,max=254"`
	Address     Address `json:"address" validate:"required"`
}

type FarmInfo struct {
	SizeAcres       float64  `json:"size_acres" validate:"gt=0,lte=100000"`
	LandOwnership   string   `json:"land_ownership" validate:"required,oneof=owned leased shared"`
	Crops           []string `json:"crops" validate:"required,min=1,max=30,dive,min=2,max=60"`
	Irrigation      string   `json:"irrigation,omitempty" validate:"max=60"`
	ExperienceYears int      `json:"experience_years" validate:"gte=0,lte=80"`
}

type BankDetails struct {
	AccountHolder string `json:"account_holder" validate:"required,max=120"`
	AccountNumber string `json:"account_number" validate:"required,numeric,min=9,max=18"`
	IFSC          string `json:"ifsc" validate:"required,ifsc"`
	BankName      string `json:"bank_name,omitempty" validate:"max=120"`
}

type OrganizationInfo struct {
	Name            string   `json:"name" validate:"required,min=2,max=200"`
	Email           string   `json:"email" validate:"required,email,max=254"`
	Phone           string   `json:"phone" validate:"required,phone10"`
	Website         string   `json:"website,omitempty" validate:"omitempty,url"`
	Address         Address  `json:"address" validate:"required"`
	YearEstablished int      `json:"year_established" validate:"required,gte=1800,lte=2100"`
	Description     string   `json:"description" validate:"required,min=20,max=4000"`
	FocusAreas      []string `json:"focus_areas" validate:"required,min=1,max=20,dive,min=2,max=40"`
}

type LegalInfo struct {
	RegistrationType   string `json:"registration_type" validate:"required,oneof=trust society section8_company other"`
	RegistrationNumber string `json:"registration_number" validate:"required,max=64"`
	PAN                string `json:"pan" validate:"required,pan"`
	TAN                string `json:"tan,omitempty" validate:"max=10"`
	GSTIN              string `json:"gstin,omitempty" validate:"omitempty,len=15,alphanum"`
	FCRANumber         string `json:"fcra_number,omitempty" validate:"max=32"`
	Has12A             bool   `json:"has_12a"`
	Has80G             bool   `json:"has_80g"`
}

type ContactPerson struct {
	Name        string `json:"name" validate:"required,min=2,max=120"`
	Designation string `json:"designation" validate:"required,max=80"`
	Phone       string `json:"phone" validate:"required,phone10"`
	Email       string `json:"email" validate:"required,email,max=254"`
}

// Document is upload metadata; content is not inspected beyond its type.
type Document struct {
	Filename    string `json:"filename"`
	Path        string `json:"path,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	Uploaded    bool   `json:"uploaded"`
}

type Verification struct {
	SubmittedAt     time.Time  `json:"submitted_at"`
	ReviewedAt      *time.Time `json:"reviewed_at,omitempty"`
	ReviewedBy      string     `json:"reviewed_by,omitempty"`
	RejectionReason string     `json:"rejection_reason,omitempty"`
}

// Credentials become usable only after approval.
type Credentials struct {
	PasswordHash string
	Active       bool
	Login        auth.AttemptState
	LastLogin    *time.Time
}

// Application is one KYC submission. Exactly one of the farmer or NGO block
// sets is populated, according to Kind.
type Application struct {
	ID           string              `json:"id"`
	Kind         Kind                `json:"type"`
	Status       Status              `json:"status"`
	Personal     *PersonalInfo       `json:"personal_info,omitempty"`
	Farm         *FarmInfo           `json:"farm_info,omitempty"`
	Bank         *BankDetails        `json:"bank_details,omitempty"`
	Organization *OrganizationInfo   `json:"organization_info,omitempty"`
	Legal        *LegalInfo          `json:"legal_info,omitempty"`
	Contact      *ContactPerson      `json:"contact_person,omitempty"`
	Documents    map[string]Document `json:"documents"`
	Verification Verification        `json:"verification_details"`
	Credentials  Credentials         `json:"-"`
	CreatedAt    time.Time           `json:"created_at"`
	UpdatedAt    time.Time           `json:"updated_at"`
}

// Phone is the login and duplicate-check phone of the applicant.
func (a Application) Phone() string {
	switch {
	case a.Personal != nil:
		return a.Personal.Phone
	case a.Organization != nil:
		return a.Organization.Phone
	}
	return ""
}

// Email is the login and duplicate-check email of the applicant.
func (a Application) Email() string {
	switch {
	case a.Personal != nil:
		return a.Personal.Email
	case a.Organization != nil:
		return a.Organization.Email
	}
	return ""
}

// DisplayName is the applicant's or organisation's name.
func (a Application) DisplayName() string {
	switch {
	case a.Personal != nil:
		return a.Personal.FullName
	case a.Organization != nil:
		return a.Organization.Name
	}
	return ""
}

// DocumentUpload is an inline base64 document in a submission.
type DocumentUpload struct {
	Filename string `json:"filename" validate:"required,max=200"`
	Data     string `json:"data" validate:"required"`
}

type FarmerSubmission struct {
	PersonalInfo PersonalInfo              `json:"personal_info" validate:"required"`
	FarmInfo     FarmInfo                  `json:"farm_info" validate:"required"`
	BankDetails  *BankDetails              `json:"bank_details"`
	Documents    map[string]DocumentUpload `json:"documents" validate:"max=6,dive,keys,oneof=aadhaar pan land_record bank_passbook photo,endkeys"`
	Password     string                    `json:"password" validate:"required,min=8,max=72"`
}

type NGOSubmission struct {
	OrganizationInfo OrganizationInfo          `json:"organization_info" validate:"required"`
	LegalInfo        LegalInfo                 `json:"legal_info" validate:"required"`
	ContactPerson    ContactPerson             `json:"contact_person" validate:"required"`
	Documents        map[string]DocumentUpload `json:"documents" validate:"max=8,dive,keys,oneof=registration_certificate pan_card 12a_certificate 80g_certificate fcra_certificate annual_report,endkeys"`
	Password         string                    `json:"password" validate:"required,min=8,max=72"`
}

// StatusView is the public status read.
type StatusView struct {
	ID              string     `json:"id"`
	Kind            Kind       `json:"type"`
	Status          Status     `json:"status"`
	SubmittedAt     time.Time  `json:"submitted_at"`
	ReviewedAt      *time.Time `json:"reviewed_at,omitempty"`
	RejectionReason string     `json:"rejection_reason,omitempty"`
}

// ReviewInput is an admin decision.
type ReviewInput struct {
	Status Status `json:"status" validate:"required,oneof=under_review approved rejected"`
	Reason string `json:"reason" validate:"required_if=Status rejected,max=500"`
}

// ReviewUpdate is applied by Store.Review when the current status is allowed.
type ReviewUpdate struct {
	Status             Status
	ReviewedAt         time.Time
	ReviewedBy         string
	RejectionReason    string
	ActivateCredential bool
}

// Session is a successful KYC login.
type Session struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	ID        string    `json:"id"`
	Kind      Kind      `json:"type"`
	Name      string    `json:"name"`
}

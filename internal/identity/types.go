// Package identity manages NGO, farmer and admin accounts.
package identity

import (
	"errors"
	"time"

	"karuna.org/internal/auth"
)

// Kind distinguishes account types.
type Kind string

const (
	KindNGO    Kind = "ngo"
	KindFarmer Kind = "farmer"
	KindAdmin  Kind = "admin"
)

var (
	ErrNotFound           = errors.New("account not found")
	ErrDuplicate          = errors.New("account already exists")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrAccountInactive    = errors.New("account is deactivated")
)

// Farm holds farmer attributes.
type Farm struct {
	Village   string   `json:"village,omitempty" validate:"max=120"`
	SizeAcres float64  `json:"size_acres" validate:"gte=0,lte=100000"`
	Crops     []string `json:"crops,omitempty" validate:"max=30,dive,min=2,max=60"`
}

// Account is the stored record. It is never serialised directly; use Profile.
type Account struct {
	ID             string
	Kind           Kind
	Name           string
	Email          string
	Phone          string
	RegistrationID string
	PasswordHash   string
	Verified       bool
	Active         bool
	District       string
	FocusAreas     []string
	Farm           *Farm
	Description    string
	PhotoURL       string
	Login          auth.AttemptState
	LastLogin      *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Profile is the public view of an account.
type Profile struct {
	ID             string     `json:"id"`
	Kind           Kind       `json:"type"`
	Name           string     `json:"name"`
	Email          string     `json:"email"`
	Phone          string     `json:"phone"`
	RegistrationID string     `json:"registration_id,omitempty"`
	Verified       bool       `json:"verified"`
	Active         bool       `json:"active"`
	District       string     `json:"district,omitempty"`
	FocusAreas     []string   `json:"focus_areas,omitempty"`
	Farm           *Farm      `json:"farm,omitempty"`
	Description    string     `json:"description,omitempty"`
	PhotoURL       string     `json:"photo_url,omitempty"`
	LastLogin      *time.Time `json:"last_login,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// Profile strips credentials and login bookkeeping.
func (a Account) Profile() Profile {
	return Profile{
		ID:             a.ID,
		Kind:           a.Kind,
		Name:           a.Name,
		Email:          a.Email,
		Phone:          a.Phone,
		RegistrationID: a.RegistrationID,
		Verified:       a.Verified,
		Active:         a.Active,
		District:       a.District,
		FocusAreas:     append([]string(nil), a.FocusAreas...),
		Farm:           a.Farm.clone(),
		Description:    a.Description,
		PhotoURL:       a.PhotoURL,
		LastLogin:      a.LastLogin,
		CreatedAt:      a.CreatedAt,
	}
}

func (f *Farm) clone() *Farm {
	if f == nil {
		return nil
	}
	out := *f
	out.Crops = append([]string(nil), f.Crops...)
	return &out
}

// Recipient reports whether donations may be addressed to the account.
func (a Account) Recipient() bool {
	return a.Active && (a.Kind == KindNGO || a.Kind == KindFarmer)
}

// RegisterInput is the public sign-up payload.
type RegisterInput struct {
	Kind           Kind     `json:"type" validate:"required,oneof=ngo farmer"`
	Name           string   `json:"name" validate:"required,min=2,max=120"`
	Email          string   `json:"email" validate:"required,email,max=254"`
	Phone          string   `json:"phone" validate:"required"`
	Password       string   `json:"password" validate:"required,min=8,max=72"`
	RegistrationID string   `json:"registration_id" validate:"required_if=Kind ngo,max=64"`
	District       string   `json:"district" validate:"max=60"`
	FocusAreas     []string `json:"focus_areas" validate:"max=20,dive,min=2,max=40"`
	Farm           *Farm    `json:"farm" validate:"required_if=Kind farmer"`
	Description    string   `json:"description" validate:"max=2000"`
	Photo          string   `json:"photo"`
}

// ProfileUpdate names the editable fields; nil means unchanged.
type ProfileUpdate struct {
	Name        *string  `json:"name" validate:"omitempty,min=2,max=120"`
	Phone       *string  `json:"phone"`
	District    *string  `json:"district" validate:"omitempty,max=60"`
	Description *string  `json:"description" validate:"omitempty,max=2000"`
	FocusAreas  []string `json:"focus_areas" validate:"omitempty,max=20,dive,min=2,max=40"`
	Farm        *Farm    `json:"farm"`
	Photo       *string  `json:"photo"`
}

// NGOFilter narrows ListNGOs.
type NGOFilter struct {
	FocusArea string
	District  string
	Limit     int
	Offset    int
}

// Session is a successful login.
type Session struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	Account   Profile   `json:"user"`
}

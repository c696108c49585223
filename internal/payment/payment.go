// Package payment builds direct-payment instructions: UPI deep links and QR
// codes, bank transfer details and crypto wallet placeholders. Nothing here
// talks to a bank; a URL only says where a donor could pay.
package payment

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

// Method enumerates the payment rails a donation can use.
type Method string

const (
	MethodUPI     Method = "UPI_DIRECT"
	MethodBank    Method = "BANK_TRANSFER"
	MethodCrypto  Method = "CRYPTO"
	MethodGateway Method = "GATEWAY"
)

// Valid reports whether m is a rail that can create donations.
func (m Method) Valid() bool {
	switch m {
	case MethodUPI, MethodBank, MethodCrypto:
		return true
	}
	return false
}

// Prefix is the transaction id segment for the rail.
func (m Method) Prefix() string {
	switch m {
	case MethodUPI:
		return "UPI"
	case MethodBank:
		return "BANK"
	case MethodCrypto:
		return "CRYPTO"
	}
	return "GEN"
}

// NeedsVerification reports whether donations on this rail start in
// pending_verification rather than pending.
func (m Method) NeedsVerification() bool {
	return m == MethodBank || m == MethodCrypto
}

const DefaultCurrency = "INR"

var (
	ErrEncoding            = errors.New("payment: content cannot be encoded as a QR code")
	ErrUnsupportedCurrency = errors.New("payment: unsupported crypto currency")
	ErrNotConfigured       = errors.New("payment: rail is not configured")
)

// BankAccount holds the static transfer destination shown to donors.
type BankAccount struct {
	AccountName   string
	AccountNumber string
	IFSC          string
	BankName      string
	Branch        string
}

// Wallet is a receiving crypto address.
type Wallet struct {
	Address string
	Network string
}

// Config is injected once at start-up.
type Config struct {
	UPIID        string
	PayeeName    string
	MerchantCode string
	Currency     string
	Bank         BankAccount
	Wallets      map[string]Wallet
}

// Builder produces payment instructions for a fixed merchant configuration.
type Builder struct {
	cfg    Config
	qrSize int
}

// NewBuilder validates cfg and returns a Builder.
func NewBuilder(cfg Config) (*Builder, error) {
	cfg.UPIID = strings.TrimSpace(cfg.UPIID)
	if cfg.UPIID == "" {
		return nil, errors.New("payment: merchant UPI id is required")
	}
	if strings.TrimSpace(cfg.PayeeName) == "" {
		return nil, errors.New("payment: payee name is required")
	}
	if cfg.Currency == "" {
		cfg.Currency = DefaultCurrency
	}
	wallets := make(map[string]Wallet, len(cfg.Wallets))
	for c, w := range cfg.Wallets {
		if strings.TrimSpace(w.Address) == "" {
			continue
		}
		wallets[strings.ToUpper(c)] = w
	}
	cfg.Wallets = wallets
	return &Builder{cfg: cfg, qrSize: 256}, nil
}

// Currency is the fiat currency every rail settles in.
func (b *Builder) Currency() string { return b.cfg.Currency }

// Instructions is the method payload returned to the donor and persisted
// with the donation.
type Instructions struct {
	Method Method              `json:"method"`
	UPI    *UPIInstructions    `json:"upi,omitempty"`
	Bank   *BankInstructions   `json:"bank,omitempty"`
	Crypto *CryptoInstructions `json:"crypto,omitempty"`
}

// WithoutImages drops generated images so only the reproducible parts are stored.
func (in Instructions) WithoutImages() Instructions {
	if in.UPI != nil {
		upi := *in.UPI
		upi.QRCode = ""
		in.UPI = &upi
	}
	return in
}

// Request describes what a donor is paying.
type Request struct {
	Method         Method
	Amount         decimal.Decimal
	TransactionID  string
	Note           string
	CryptoCurrency string
}

// Build dispatches to the rail specific builder.
func (b *Builder) Build(req Request) (Instructions, error) {
	switch req.Method {
	case MethodUPI:
		upi, err := b.UPI(req.Amount, req.TransactionID, req.Note)
		if err != nil {
			return Instructions{}, err
		}
		return Instructions{Method: req.Method, UPI: &upi}, nil
	case MethodBank:
		bank, err := b.BankInstructions(req.Amount, req.TransactionID)
		if err != nil {
			return Instructions{}, err
		}
		return Instructions{Method: req.Method, Bank: &bank}, nil
	case MethodCrypto:
		c, err := b.CryptoInstructions(req.Amount, req.CryptoCurrency, req.TransactionID)
		if err != nil {
			return Instructions{}, err
		}
		return Instructions{Method: req.Method, Crypto: &c}, nil
	}
	return Instructions{}, ErrNotConfigured
}

// MethodInfo describes a rail for GET /methods.
type MethodInfo struct {
	Method      Method   `json:"method"`
	Name        string   `json:"name"`
	Enabled     bool     `json:"enabled"`
	Description string   `json:"description"`
	Apps        []string `json:"apps,omitempty"`
	Currencies  []string `json:"currencies,omitempty"`
}

// Methods lists every rail with its availability.
func (b *Builder) Methods() []MethodInfo {
	currencies := b.CryptoCurrencies()
	return []MethodInfo{
		{
			Method:      MethodUPI,
			Name:        "UPI",
			Enabled:     true,
			Description: "Pay from any UPI app using the link or QR code.",
			Apps:        AppNames(),
		},
		{
			Method:      MethodBank,
			Name:        "Bank transfer",
			Enabled:     b.bankConfigured(),
			Description: "NEFT/RTGS/IMPS to the relief account; quote the transaction id as reference.",
		},
		{
			Method:      MethodCrypto,
			Name:        "Cryptocurrency",
			Enabled:     len(currencies) > 0,
			Description: "Send the INR equivalent to the listed wallet; confirmed manually.",
			Currencies:  currencies,
		},
		{
			Method:      MethodGateway,
			Name:        "Card / netbanking gateway",
			Enabled:     false,
			Description: "Gateway payments are currently disabled.",
		},
	}
}

func (b *Builder) bankConfigured() bool {
	return b.cfg.Bank.AccountNumber != "" && b.cfg.Bank.IFSC != ""
}

package payment

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// BankInstructions tells a donor where to wire money.
type BankInstructions struct {
	AccountName   string          `json:"account_name"`
	AccountNumber string          `json:"account_number"`
	IFSC          string          `json:"ifsc"`
	BankName      string          `json:"bank_name"`
	Branch        string          `json:"branch,omitempty"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	Reference     string          `json:"reference"`
	Steps         []string        `json:"steps"`
}

// BankInstructions fills the static account template.
func (b *Builder) BankInstructions(amount decimal.Decimal, txnID string) (BankInstructions, error) {
	if !b.bankConfigured() {
		return BankInstructions{}, ErrNotConfigured
	}
	acct := b.cfg.Bank
	return BankInstructions{
		AccountName:   acct.AccountName,
		AccountNumber: acct.AccountNumber,
		IFSC:          acct.IFSC,
		BankName:      acct.BankName,
		Branch:        acct.Branch,
		Amount:        amount,
		Currency:      b.cfg.Currency,
		Reference:     txnID,
		Steps: []string{
			fmt.Sprintf("Transfer %s %s via NEFT, RTGS or IMPS to the account above.", b.cfg.Currency, amount.StringFixed(2)),
			fmt.Sprintf("Enter %s as the payment remark or reference.", txnID),
			"Share the bank reference number with us so the donation can be confirmed.",
		},
	}, nil
}

// CryptoInstructions points at a receiving wallet. No rate lookup or address
// validation happens.
type CryptoInstructions struct {
	Currency  string          `json:"currency"`
	Network   string          `json:"network,omitempty"`
	Address   string          `json:"address"`
	AmountINR decimal.Decimal `json:"amount_inr"`
	Memo      string          `json:"memo"`
	Note      string          `json:"note"`
}

// CryptoInstructions fills the wallet template for currency.
func (b *Builder) CryptoInstructions(amount decimal.Decimal, currency, txnID string) (CryptoInstructions, error) {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	w, ok := b.cfg.Wallets[currency]
	if !ok {
		return CryptoInstructions{}, ErrUnsupportedCurrency
	}
	return CryptoInstructions{
		Currency:  currency,
		Network:   w.Network,
		Address:   w.Address,
		AmountINR: amount,
		Memo:      txnID,
		Note:      fmt.Sprintf("Send the %s equivalent of %s %s at your exchange rate and include %s as memo where supported.", currency, b.cfg.Currency, amount.StringFixed(2), txnID),
	}, nil
}

// CryptoCurrencies lists the configured wallets in stable order.
func (b *Builder) CryptoCurrencies() []string {
	out := make([]string, 0, len(b.cfg.Wallets))
	for c := range b.cfg.Wallets {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

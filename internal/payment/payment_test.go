package payment

import (
	"errors"
	"net/url"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
)

func newTestBuilder(t *testing.T) *Builder {
	t.Helper()
	b, err := NewBuilder(Config{
		UPIID:     "karuna.relief@sbi",
		PayeeName: "Karuna Relief Fund",
		Bank: BankAccount{
			AccountName:   "Karuna Relief Fund",
			AccountNumber: "00112233445566",
			IFSC:          "SBIN0070123",
			BankName:      "State Bank of India",
		},
		Wallets: map[string]Wallet{
			"btc": {Address: "bc1qkarunaexample", Network: "bitcoin"},
			"eth": {Address: ""},
		},
	})
	if err != nil {
		t.Fatalf("NewBuilder: %v", err)
	}
	return b
}

func TestBuildUPIURLRoundTrip(t *testing.T) {
	b := newTestBuilder(t)
	amount := decimal.RequireFromString("500")
	link := b.BuildUPIURL(amount, "TXN-UPI-1700000000000-123456", "Flood relief & seeds")

	if !strings.HasPrefix(link, "upi://pay?") {
		t.Fatalf("unexpected scheme: %s", link)
	}
	if strings.Contains(link, " ") || strings.Contains(link, "+") {
		t.Fatalf("expected spaces to be percent-encoded: %s", link)
	}

	q, err := url.ParseQuery(strings.TrimPrefix(link, "upi://pay?"))
	if err != nil {
		t.Fatalf("parse query: %v", err)
	}
	got, err := decimal.NewFromString(q.Get("am"))
	if err != nil || !got.Equal(amount) {
		t.Fatalf("amount did not round-trip: %q", q.Get("am"))
	}
	if q.Get("am") != "500.00" {
		t.Fatalf("expected two decimals, got %q", q.Get("am"))
	}
	if q.Get("tr") != "TXN-UPI-1700000000000-123456" {
		t.Fatalf("transaction id did not round-trip: %q", q.Get("tr"))
	}
	if q.Get("tn") != "Flood relief & seeds" {
		t.Fatalf("note did not round-trip: %q", q.Get("tn"))
	}
	if q.Get("pa") != "karuna.relief@sbi" || q.Get("cu") != "INR" {
		t.Fatalf("unexpected merchant fields: %v", q)
	}
	if q.Has("mc") {
		t.Fatal("merchant code must be omitted when not configured")
	}
}

func TestAppIntents(t *testing.T) {
	link := "upi://pay?pa=a%40b&am=1.00"
	intents := AppIntents(link)
	if intents["gpay"] != "tez://upi/pay?pa=a%40b&am=1.00" {
		t.Fatalf("unexpected gpay intent: %s", intents["gpay"])
	}
	if intents["phonepe"] != "phonepe://pay?pa=a%40b&am=1.00" {
		t.Fatalf("unexpected phonepe intent: %s", intents["phonepe"])
	}
	if len(intents) != len(AppNames()) {
		t.Fatalf("expected one intent per app, got %v", intents)
	}
	if len(AppIntents("https://example.org")) != 0 {
		t.Fatal("expected no intents for non-upi url")
	}
}

func TestGenerateQRCode(t *testing.T) {
	b := newTestBuilder(t)
	qr, err := b.GenerateQRCode("upi://pay?pa=x%40y&am=10.00")
	if err != nil {
		t.Fatalf("GenerateQRCode: %v", err)
	}
	if !strings.HasPrefix(qr.DataURI, "data:image/png;base64,") {
		t.Fatalf("unexpected data uri prefix: %.40s", qr.DataURI)
	}
	if qr.URL != "upi://pay?pa=x%40y&am=10.00" {
		t.Fatalf("raw url not returned: %s", qr.URL)
	}

	if _, err := b.GenerateQRCode(strings.Repeat("x", maxQRContent+1)); !errors.Is(err, ErrEncoding) {
		t.Fatalf("expected ErrEncoding, got %v", err)
	}
}

func TestBuildDispatchesPerMethod(t *testing.T) {
	b := newTestBuilder(t)
	amount := decimal.NewFromInt(1500)

	upi, err := b.Build(Request{Method: MethodUPI, Amount: amount, TransactionID: "TXN-UPI-1-000001"})
	if err != nil || upi.UPI == nil || upi.UPI.QRCode == "" {
		t.Fatalf("unexpected upi instructions: %+v %v", upi, err)
	}
	if stored := upi.WithoutImages(); stored.UPI.QRCode != "" || upi.UPI.QRCode == "" {
		t.Fatal("WithoutImages must drop the QR code from the copy only")
	}

	bank, err := b.Build(Request{Method: MethodBank, Amount: amount, TransactionID: "TXN-BANK-1-000001"})
	if err != nil || bank.Bank == nil {
		t.Fatalf("unexpected bank instructions: %+v %v", bank, err)
	}
	if bank.Bank.Reference != "TXN-BANK-1-000001" || !strings.Contains(bank.Bank.Steps[0], "1500.00") {
		t.Fatalf("bank template not filled: %+v", bank.Bank)
	}

	crypto, err := b.Build(Request{Method: MethodCrypto, Amount: amount, TransactionID: "TXN-CRYPTO-1-000001", CryptoCurrency: "btc"})
	if err != nil || crypto.Crypto == nil || crypto.Crypto.Address != "bc1qkarunaexample" {
		t.Fatalf("unexpected crypto instructions: %+v %v", crypto, err)
	}

	if _, err := b.Build(Request{Method: MethodCrypto, Amount: amount, CryptoCurrency: "ETH"}); !errors.Is(err, ErrUnsupportedCurrency) {
		t.Fatalf("expected ErrUnsupportedCurrency for unconfigured wallet, got %v", err)
	}
	if _, err := b.Build(Request{Method: MethodGateway, Amount: amount}); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected gateway to be unavailable, got %v", err)
	}
}

func TestMethods(t *testing.T) {
	b := newTestBuilder(t)
	methods := b.Methods()
	byMethod := make(map[Method]MethodInfo, len(methods))
	for _, m := range methods {
		byMethod[m.Method] = m
	}
	if !byMethod[MethodUPI].Enabled || !byMethod[MethodBank].Enabled || !byMethod[MethodCrypto].Enabled {
		t.Fatalf("expected configured rails enabled: %+v", methods)
	}
	if byMethod[MethodGateway].Enabled {
		t.Fatal("gateway must be disabled")
	}
	if got := byMethod[MethodCrypto].Currencies; len(got) != 1 || got[0] != "BTC" {
		t.Fatalf("unexpected crypto currencies: %v", got)
	}
}

func TestNewBuilderRequiresMerchant(t *testing.T) {
	if _, err := NewBuilder(Config{PayeeName: "x"}); err == nil {
		t.Fatal("expected error without UPI id")
	}
}

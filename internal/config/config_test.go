package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Chdir(t.TempDir())
	t.Setenv("KARUNA_AUTH_TOKEN_SECRET", "test-secret")
	t.Setenv("KARUNA_PAYMENT_UPI_ID", "karuna@sbi")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Fatalf("unexpected addr: %s", cfg.HTTPAddr)
	}
	if cfg.Auth.TokenTTL != 7*24*time.Hour {
		t.Fatalf("unexpected token ttl: %s", cfg.Auth.TokenTTL)
	}
	if cfg.Auth.LockoutAttempts != 5 || cfg.Auth.LockoutCooldown != 15*time.Minute {
		t.Fatalf("unexpected lockout defaults: %+v", cfg.Auth)
	}
	if cfg.Storage.Provider != "memory" {
		t.Fatalf("unexpected storage provider: %s", cfg.Storage.Provider)
	}
	if len(cfg.Payment.Wallets) != 0 {
		t.Fatalf("expected no wallets, got %v", cfg.Payment.Wallets)
	}
	if cfg.Production() {
		t.Fatal("default environment must not be production")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	setRequired(t)
	t.Setenv("KARUNA_AUTH_TOKEN_TTL", "2h")
	t.Setenv("KARUNA_PAYMENT_CRYPTO_BTC_ADDRESS", "bc1qexample")
	t.Setenv("KARUNA_PAYMENT_CRYPTO_BTC_NETWORK", "bitcoin")
	t.Setenv("KARUNA_ENVIRONMENT", "production")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Auth.TokenTTL != 2*time.Hour {
		t.Fatalf("unexpected token ttl: %s", cfg.Auth.TokenTTL)
	}
	w, ok := cfg.Payment.Wallets["BTC"]
	if !ok || w.Address != "bc1qexample" || w.Network != "bitcoin" {
		t.Fatalf("unexpected BTC wallet: %+v", cfg.Payment.Wallets)
	}
	if !cfg.Production() {
		t.Fatal("expected production environment")
	}
}

func TestLoadYAMLFile(t *testing.T) {
	setRequired(t)
	path := filepath.Join(t.TempDir(), "karuna.yaml")
	body := "payment:\n  payee_name: Wayanad Relief\nscheduler:\n  hour: 5\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("KARUNA_CONFIG_FILE", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Payment.PayeeName != "Wayanad Relief" {
		t.Fatalf("unexpected payee name: %s", cfg.Payment.PayeeName)
	}
	if cfg.Scheduler.Hour != 5 {
		t.Fatalf("unexpected scheduler hour: %d", cfg.Scheduler.Hour)
	}
}

func TestLoadRequiresSecret(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("KARUNA_AUTH_TOKEN_SECRET", "")
	t.Setenv("KARUNA_PAYMENT_UPI_ID", "karuna@sbi")
	if _, err := Load(); err == nil {
		t.Fatal("expected error without token secret")
	}
}

func TestPaymentConfigMerchant(t *testing.T) {
	p := PaymentConfig{
		UPIID:           "karuna@sbi",
		PayeeName:       "Karuna Foundation",
		BankIFSC:        "SBIN0070123",
		BankAccountName: "Karuna Foundation",
		Wallets:         map[string]WalletConfig{"USDT": {Address: "TXabc", Network: "TRC20"}},
	}
	m := p.Merchant()
	if m.UPIID != p.UPIID || m.PayeeName != p.PayeeName {
		t.Fatalf("unexpected merchant: %+v", m)
	}
	if m.Bank.IFSC != "SBIN0070123" || m.Bank.AccountName != "Karuna Foundation" {
		t.Fatalf("unexpected bank account: %+v", m.Bank)
	}
	if w := m.Wallets["USDT"]; w.Address != "TXabc" || w.Network != "TRC20" {
		t.Fatalf("unexpected wallet: %+v", w)
	}
}

// Package config loads process configuration once at start-up from the
// environment, an optional .env file and an optional YAML file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"karuna.org/internal/payment"
)

const envPrefix = "KARUNA"

// Config is the fully resolved service configuration.
type Config struct {
	Environment    string
	HTTPAddr       string
	LogLevel       string
	DatabaseURL    string
	RedisURL       string
	FrontendOrigin string
	MaxBodyBytes   int64

	Auth      AuthConfig
	PIIKey    string
	RateLimit RateLimitConfig
	Payment   PaymentConfig
	Storage   StorageConfig
	Scheduler SchedulerConfig
}

type AuthConfig struct {
	TokenSecret     string
	Issuer          string
	TokenTTL        time.Duration
	LockoutAttempts int
	LockoutCooldown time.Duration
}

type RateLimitConfig struct {
	Burst     int
	PerSecond int
}

type PaymentConfig struct {
	UPIID        string
	PayeeName    string
	MerchantCode string

	BankAccountName   string
	BankAccountNumber string
	BankIFSC          string
	BankName          string
	BankBranch        string

	Wallets map[string]WalletConfig
}

type WalletConfig struct {
	Address string
	Network string
}

// Merchant converts the payment settings into builder configuration.
func (p PaymentConfig) Merchant() payment.Config {
	wallets := make(map[string]payment.Wallet, len(p.Wallets))
	for currency, w := range p.Wallets {
		wallets[currency] = payment.Wallet{Address: w.Address, Network: w.Network}
	}
	return payment.Config{
		UPIID:        p.UPIID,
		PayeeName:    p.PayeeName,
		MerchantCode: p.MerchantCode,
		Bank: payment.BankAccount{
			AccountName:   p.BankAccountName,
			AccountNumber: p.BankAccountNumber,
			IFSC:          p.BankIFSC,
			BankName:      p.BankName,
			Branch:        p.BankBranch,
		},
		Wallets: wallets,
	}
}

type StorageConfig struct {
	Provider           string
	Bucket             string
	PublicBaseURL      string
	GCSCredentialsJSON string
	S3Region           string
}

type SchedulerConfig struct {
	Enabled  bool
	Interval time.Duration
	Hour     int
	LeaseTTL time.Duration
}

// Production reports whether error details must be withheld from clients.
func (c Config) Production() bool {
	return strings.EqualFold(c.Environment, "production")
}

var cryptoCurrencies = []string{"BTC", "ETH", "USDT"}

// Load reads .env (if present), the optional YAML file named by
// KARUNA_CONFIG_FILE and KARUNA_* environment variables, in increasing
// order of precedence.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if path := strings.TrimSpace(os.Getenv(envPrefix + "_CONFIG_FILE")); path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	cfg := fromViper(v)
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("log.level", "info")
	v.SetDefault("database.url", "")
	v.SetDefault("redis.url", "")
	v.SetDefault("frontend.origin", "http://localhost:3000")
	v.SetDefault("http.max_body_bytes", 8<<20)

	v.SetDefault("auth.token_secret", "")
	v.SetDefault("auth.issuer", "karuna")
	v.SetDefault("auth.token_ttl", "168h")
	v.SetDefault("auth.lockout_attempts", 5)
	v.SetDefault("auth.lockout_cooldown", "15m")
	v.SetDefault("pii.key", "")

	v.SetDefault("ratelimit.burst", 100)
	v.SetDefault("ratelimit.per_second", 10)

	v.SetDefault("payment.upi_id", "")
	v.SetDefault("payment.payee_name", "Karuna Relief Fund")
	v.SetDefault("payment.merchant_code", "")
	v.SetDefault("payment.bank.account_name", "")
	v.SetDefault("payment.bank.account_number", "")
	v.SetDefault("payment.bank.ifsc", "")
	v.SetDefault("payment.bank.name", "")
	v.SetDefault("payment.bank.branch", "")
	for _, c := range cryptoCurrencies {
		key := "payment.crypto." + strings.ToLower(c)
		v.SetDefault(key+".address", "")
		v.SetDefault(key+".network", "")
	}

	v.SetDefault("storage.provider", "memory")
	v.SetDefault("storage.bucket", "")
	v.SetDefault("storage.public_base_url", "")
	v.SetDefault("storage.gcs_credentials_json", "")
	v.SetDefault("storage.s3_region", "ap-south-1")

	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.interval", "1m")
	v.SetDefault("scheduler.hour", 2)
	v.SetDefault("scheduler.lease_ttl", "10m")
}

func fromViper(v *viper.Viper) Config {
	wallets := make(map[string]WalletConfig)
	for _, c := range cryptoCurrencies {
		key := "payment.crypto." + strings.ToLower(c)
		addr := strings.TrimSpace(v.GetString(key + ".address"))
		if addr == "" {
			continue
		}
		wallets[c] = WalletConfig{Address: addr, Network: v.GetString(key + ".network")}
	}
	return Config{
		Environment:    v.GetString("environment"),
		HTTPAddr:       v.GetString("http.addr"),
		LogLevel:       v.GetString("log.level"),
		DatabaseURL:    v.GetString("database.url"),
		RedisURL:       v.GetString("redis.url"),
		FrontendOrigin: v.GetString("frontend.origin"),
		MaxBodyBytes:   v.GetInt64("http.max_body_bytes"),
		Auth: AuthConfig{
			TokenSecret:     v.GetString("auth.token_secret"),
			Issuer:          v.GetString("auth.issuer"),
			TokenTTL:        v.GetDuration("auth.token_ttl"),
			LockoutAttempts: v.GetInt("auth.lockout_attempts"),
			LockoutCooldown: v.GetDuration("auth.lockout_cooldown"),
		},
		PIIKey: v.GetString("pii.key"),
		RateLimit: RateLimitConfig{
			Burst:     v.GetInt("ratelimit.burst"),
			PerSecond: v.GetInt("ratelimit.per_second"),
		},
		Payment: PaymentConfig{
			UPIID:             v.GetString("payment.upi_id"),
			PayeeName:         v.GetString("payment.payee_name"),
			MerchantCode:      v.GetString("payment.merchant_code"),
			BankAccountName:   v.GetString("payment.bank.account_name"),
			BankAccountNumber: v.GetString("payment.bank.account_number"),
			BankIFSC:          v.GetString("payment.bank.ifsc"),
			BankName:          v.GetString("payment.bank.name"),
			BankBranch:        v.GetString("payment.bank.branch"),
			Wallets:           wallets,
		},
		Storage: StorageConfig{
			Provider:           strings.ToLower(v.GetString("storage.provider")),
			Bucket:             v.GetString("storage.bucket"),
			PublicBaseURL:      v.GetString("storage.public_base_url"),
			GCSCredentialsJSON: v.GetString("storage.gcs_credentials_json"),
			S3Region:           v.GetString("storage.s3_region"),
		},
		Scheduler: SchedulerConfig{
			Enabled:  v.GetBool("scheduler.enabled"),
			Interval: v.GetDuration("scheduler.interval"),
			Hour:     v.GetInt("scheduler.hour"),
			LeaseTTL: v.GetDuration("scheduler.lease_ttl"),
		},
	}
}

func (c Config) validate() error {
	if strings.TrimSpace(c.Auth.TokenSecret) == "" {
		return errors.New("config: KARUNA_AUTH_TOKEN_SECRET is required")
	}
	if c.Auth.TokenTTL <= 0 {
		return errors.New("config: auth token ttl must be positive")
	}
	if strings.TrimSpace(c.Payment.UPIID) == "" {
		return errors.New("config: KARUNA_PAYMENT_UPI_ID is required")
	}
	switch c.Storage.Provider {
	case "memory":
	case "gcs", "s3":
		if c.Storage.Bucket == "" {
			return fmt.Errorf("config: storage bucket is required for provider %q", c.Storage.Provider)
		}
	default:
		return fmt.Errorf("config: unknown storage provider %q", c.Storage.Provider)
	}
	if c.Scheduler.Hour < 0 || c.Scheduler.Hour > 23 {
		return errors.New("config: scheduler hour must be between 0 and 23")
	}
	return nil
}

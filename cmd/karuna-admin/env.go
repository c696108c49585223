package main

import (
	"errors"

	"karuna.org/internal/auth"
	"karuna.org/internal/config"
	"karuna.org/internal/donation"
	"karuna.org/internal/identity"
	"karuna.org/internal/kyc"
	"karuna.org/internal/obs"
	"karuna.org/internal/payment"
	"karuna.org/internal/pii"
	"karuna.org/internal/store/pg"
)

// env is the service graph the commands operate on.
type env struct {
	cfg       config.Config
	db        *pg.Store
	identity  *identity.Service
	kyc       *kyc.Service
	donations *donation.Service
}

func openEnv() (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	obs.SetLevel(cfg.LogLevel)
	if cfg.DatabaseURL == "" {
		return nil, errors.New("KARUNA_DATABASE_URL is required")
	}
	tokens, err := auth.NewTokens(cfg.Auth.TokenSecret, auth.WithIssuer(cfg.Auth.Issuer))
	if err != nil {
		return nil, err
	}
	sealer, err := pii.NewSealer(cfg.PIIKey)
	if err != nil {
		return nil, err
	}
	builder, err := payment.NewBuilder(cfg.Payment.Merchant())
	if err != nil {
		return nil, err
	}
	db, err := pg.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	accounts := db.Accounts()
	return &env{
		cfg:       cfg,
		db:        db,
		identity:  identity.NewService(accounts, tokens),
		kyc:       kyc.NewService(db.KYC(), tokens),
		donations: donation.NewService(db.Donations(sealer), accounts, builder),
	}, nil
}

func (e *env) Close() error { return e.db.Close() }

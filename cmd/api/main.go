package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"karuna.org/internal/auth"
	"karuna.org/internal/config"
	"karuna.org/internal/donation"
	"karuna.org/internal/httpapi"
	"karuna.org/internal/identity"
	"karuna.org/internal/kyc"
	"karuna.org/internal/lease"
	"karuna.org/internal/objstore"
	"karuna.org/internal/obs"
	"karuna.org/internal/payment"
	"karuna.org/internal/pii"
	"karuna.org/internal/store/pg"
	"karuna.org/internal/stream"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	if err := run(); err != nil {
		obs.Logger().WithError(err).Fatal("karuna-api stopped")
	}
}

// stores groups the persistence backends chosen at start-up.
type stores struct {
	accounts  identity.Store
	kyc       kyc.Store
	donations donation.Store
	locker    lease.Locker
	probe     httpapi.ReadyProbe
	closers   []io.Closer
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	obs.Init()
	obs.SetLevel(cfg.LogLevel)
	obs.InitBuildInfo(version, commit)
	log := obs.Logger().WithField("module", "main")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		for _, c := range st.closers {
			_ = c.Close()
		}
	}()

	files, err := objstore.Open(ctx, objstore.Config{
		Provider:           cfg.Storage.Provider,
		Bucket:             cfg.Storage.Bucket,
		PublicBaseURL:      cfg.Storage.PublicBaseURL,
		GCSCredentialsJSON: cfg.Storage.GCSCredentialsJSON,
		S3Region:           cfg.Storage.S3Region,
	})
	if err != nil {
		return err
	}
	if c, ok := files.(io.Closer); ok {
		st.closers = append(st.closers, c)
	}

	tokens, err := auth.NewTokens(cfg.Auth.TokenSecret,
		auth.WithIssuer(cfg.Auth.Issuer),
		auth.WithTTL(cfg.Auth.TokenTTL),
	)
	if err != nil {
		return err
	}
	builder, err := payment.NewBuilder(cfg.Payment.Merchant())
	if err != nil {
		return err
	}
	lockout := auth.DefaultLockoutPolicy()
	if cfg.Auth.LockoutAttempts > 0 {
		lockout.MaxAttempts = cfg.Auth.LockoutAttempts
	}
	if cfg.Auth.LockoutCooldown > 0 {
		lockout.Cooldown = cfg.Auth.LockoutCooldown
	}

	events := stream.New()
	accounts := identity.NewService(st.accounts, tokens,
		identity.WithLockout(lockout),
		identity.WithPhotoStore(files),
	)
	applications := kyc.NewService(st.kyc, tokens,
		kyc.WithLockout(lockout),
		kyc.WithDocumentStore(files),
	)
	donations := donation.NewService(st.donations, st.accounts, builder, donation.WithPublisher(events))

	api := httpapi.New(st.probe, httpapi.Services{
		Identity:  accounts,
		KYC:       applications,
		Donations: donations,
		Payments:  builder,
		Tokens:    tokens,
		Stream:    events,
	}, httpapi.Options{
		Version:        version,
		Environment:    cfg.Environment,
		FrontendOrigin: cfg.FrontendOrigin,
		MaxBodyBytes:   cfg.MaxBodyBytes,
		RateBurst:      cfg.RateLimit.Burst,
		RatePerSec:     cfg.RateLimit.PerSecond,
	})

	if cfg.Scheduler.Enabled {
		sched := donation.NewScheduler(donations, st.locker, donation.SchedulerConfig{
			Interval: cfg.Scheduler.Interval,
			Hour:     cfg.Scheduler.Hour,
			LeaseTTL: cfg.Scheduler.LeaseTTL,
		})
		go sched.Run(ctx)
	}

	// No WriteTimeout: the donation feed is a long-lived SSE response.
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithFields(logrus.Fields{
			"version":     version,
			"addr":        srv.Addr,
			"environment": cfg.Environment,
		}).Info("starting karuna-api")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	log.Info("stopped")
	return nil
}

// openStores uses PostgreSQL when a database URL is configured and falls back
// to in-memory stores otherwise. The scheduler lease prefers Redis.
func openStores(ctx context.Context, cfg config.Config) (stores, error) {
	var st stores
	log := obs.Logger().WithField("module", "main")

	if cfg.DatabaseURL == "" {
		if cfg.Production() {
			return st, errors.New("KARUNA_DATABASE_URL is required in production")
		}
		log.Warn("no database configured, using in-memory stores")
		st.accounts = identity.NewInMemory()
		st.kyc = kyc.NewInMemory()
		st.donations = donation.NewInMemory()
		st.locker = lease.NewLocal()
	} else {
		sealer, err := pii.NewSealer(cfg.PIIKey)
		if err != nil {
			return st, err
		}
		db, err := pg.Open(cfg.DatabaseURL)
		if err != nil {
			return st, err
		}
		st.closers = append(st.closers, db)
		st.accounts = db.Accounts()
		st.kyc = db.KYC()
		st.donations = db.Donations(sealer)
		st.locker = lease.NewSQL(db.DB())
		st.probe.DB = db.DB()
	}

	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return st, err
		}
		client := redis.NewClient(opts)
		st.closers = append(st.closers, client)
		st.locker = lease.NewRedis(client)
		st.probe.Checks = append(st.probe.Checks, func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		})
	}
	return st, nil
}

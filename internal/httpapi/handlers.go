package httpapi

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"karuna.org/internal/auth"
	"karuna.org/internal/donation"
	"karuna.org/internal/identity"
	"karuna.org/internal/kyc"
	"karuna.org/internal/obs"
	"karuna.org/internal/payment"
	"karuna.org/internal/stream"
)

const serviceName = "karuna-api"

// ReadyProbe checks the database and any extra dependencies.
type ReadyProbe struct {
	DB     *sql.DB
	Checks []func(context.Context) error
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB != nil {
		if err := rp.DB.PingContext(ctx); err != nil {
			return err
		}
	}
	for _, check := range rp.Checks {
		if err := check(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Services are the domain components the API fronts.
type Services struct {
	Identity  *identity.Service
	KYC       *kyc.Service
	Donations *donation.Service
	Payments  *payment.Builder
	Tokens    *auth.Tokens
	Stream    *stream.Stream
}

// Options tune the transport.
type Options struct {
	Version        string
	Environment    string
	FrontendOrigin string
	MaxBodyBytes   int64
	RateBurst      int
	RatePerSec     int
}

// API is the HTTP layer.
type API struct {
	mux        *http.ServeMux
	readyProbe ReadyProbe
	version    string
	env        string
	production bool
	origin     string
	maxBody    int64
	rateBurst  int
	ratePerSec int

	identity  *identity.Service
	kyc       *kyc.Service
	donations *donation.Service
	payments  *payment.Builder
	tokens    *auth.Tokens
	stream    *stream.Stream
}

func New(rp ReadyProbe, svc Services, opts Options) *API {
	a := &API{
		mux:        http.NewServeMux(),
		readyProbe: rp,
		version:    opts.Version,
		env:        opts.Environment,
		production: opts.Environment == "production",
		origin:     opts.FrontendOrigin,
		maxBody:    opts.MaxBodyBytes,
		rateBurst:  opts.RateBurst,
		ratePerSec: opts.RatePerSec,
		identity:   svc.Identity,
		kyc:        svc.KYC,
		donations:  svc.Donations,
		payments:   svc.Payments,
		tokens:     svc.Tokens,
		stream:     svc.Stream,
	}
	if a.maxBody <= 0 {
		a.maxBody = 8 << 20
	}
	if a.rateBurst <= 0 {
		a.rateBurst = 100
	}
	if a.ratePerSec <= 0 {
		a.ratePerSec = 10
	}

	// health/ready/info
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/api/info", a.Info)
	a.mux.Handle("/metrics", obs.Handler())

	// accounts
	a.mux.HandleFunc("/api/auth/register", a.handleRegister)
	a.mux.HandleFunc("/api/auth/login", a.handleLogin)
	a.mux.Handle("/api/auth/logout", RequireRole()(http.HandlerFunc(a.handleLogout)))
	a.mux.Handle("/api/auth/profile", RequireRole(auth.RoleAdmin, auth.RoleNGO, auth.RoleFarmer)(http.HandlerFunc(a.handleProfile)))
	a.mux.Handle("/api/auth/password", RequireRole(auth.RoleAdmin, auth.RoleNGO, auth.RoleFarmer)(http.HandlerFunc(a.handlePassword)))

	// kyc
	a.mux.HandleFunc("/api/kyc/farmer/register", a.handleKYCFarmer)
	a.mux.HandleFunc("/api/kyc/ngo/register", a.handleKYCNGO)
	a.mux.HandleFunc("/api/kyc/login", a.handleKYCLogin)
	a.mux.HandleFunc("/api/kyc/status/", a.handleKYCStatus)
	a.mux.Handle("/api/kyc/me", RequireRole(auth.RoleKYC)(http.HandlerFunc(a.handleKYCMe)))
	a.mux.Handle("/api/kyc/review/", RequireRole(auth.RoleAdmin)(http.HandlerFunc(a.handleKYCReview)))

	// direct payments
	a.mux.HandleFunc("/api/direct-payment/methods", a.handlePaymentMethods)
	a.mux.HandleFunc("/api/direct-payment/upi/create", a.createPayment(payment.MethodUPI))
	a.mux.HandleFunc("/api/direct-payment/bank/create", a.createPayment(payment.MethodBank))
	a.mux.HandleFunc("/api/direct-payment/crypto/create", a.createPayment(payment.MethodCrypto))
	a.mux.HandleFunc("/api/direct-payment/status/", a.handlePaymentStatus)
	a.mux.Handle("/api/direct-payment/verify/", RequireRole(auth.RoleAdmin)(http.HandlerFunc(a.handleVerify)))
	a.mux.Handle("/api/direct-payment/refund/", RequireRole(auth.RoleAdmin)(http.HandlerFunc(a.handleRefund)))
	a.mux.Handle("/api/direct-payment/fail/", RequireRole(auth.RoleAdmin)(http.HandlerFunc(a.handleFail)))

	// recipients
	a.mux.HandleFunc("/api/ngo/all", a.handleNGOList)
	a.mux.Handle("/api/ngo/dashboard/stats", RequireRole(auth.RoleNGO, auth.RoleFarmer)(http.HandlerFunc(a.handleDashboardStats)))
	a.mux.Handle("/api/ngo/dashboard/donations", RequireRole(auth.RoleNGO, auth.RoleFarmer)(http.HandlerFunc(a.handleDashboardDonations)))
	a.mux.HandleFunc("/api/ngo/", a.handleNGO)

	a.mux.HandleFunc("/api/donations/stream", a.Stream)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "resource not found", nil)
	})

	return a
}

// Handler returns the mux wrapped in the middleware chain, outermost first.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.withAuth(a.mux)
	h = obs.Instrument(h)
	h = MaxBodyBytes(h, a.maxBody)
	h = RateLimit(h, a.rateBurst, a.ratePerSec)
	h = CORS(a.origin, a.production)(h)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	h = Recover(a.production)(h)
	return RequestID(h)
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := a.readyProbe.Check(ctx); err != nil {
		obs.SetReady(false)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeOK(w, http.StatusOK, "", map[string]any{
		"name":        serviceName,
		"time":        time.Now().UTC().Format(time.RFC3339),
		"version":     a.version,
		"environment": a.env,
	})
}

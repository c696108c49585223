package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"karuna.org/internal/auth"
	"karuna.org/internal/identity"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

type authErrKey struct{}

// withAuth resolves a bearer token, when one is sent, into a principal.
// Account tokens take their role from the account kind; KYC tokens carry
// the applicant role. Rejection is left to RequireRole so public routes
// still work with a stale token.
func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions || r.Header.Get(authHeader) == "" || a.tokens == nil {
			next.ServeHTTP(w, r)
			return
		}
		ctx := r.Context()
		principal, err := a.authenticate(ctx, r.Header.Get(authHeader))
		if err != nil {
			ctx = context.WithValue(ctx, authErrKey{}, err)
		} else {
			ctx = auth.ContextWithPrincipal(ctx, principal)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *API) authenticate(ctx context.Context, header string) (auth.Principal, error) {
	token, err := extractBearerToken(header)
	if err != nil {
		return auth.Principal{}, err
	}
	if claims, err := a.tokens.Verify(token, auth.AudienceAccount); err == nil {
		acct, err := a.identity.Get(ctx, claims.Subject)
		if errors.Is(err, identity.ErrNotFound) {
			return auth.Principal{}, auth.ErrInvalidToken
		}
		if err != nil {
			return auth.Principal{}, err
		}
		if !acct.Active {
			return auth.Principal{}, auth.ErrUnauthorized
		}
		return auth.Principal{Subject: acct.ID, Audience: auth.AudienceAccount, Role: string(acct.Kind)}, nil
	}
	claims, err := a.tokens.Verify(token, auth.AudienceKYC)
	if err != nil {
		return auth.Principal{}, auth.ErrInvalidToken
	}
	return auth.Principal{Subject: claims.Subject, Audience: auth.AudienceKYC, Role: auth.RoleKYC}, nil
}

// RequireRole admits authenticated principals holding one of roles; with no
// roles any authenticated principal is admitted.
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := auth.PrincipalFromContext(r.Context())
			if !ok {
				msg := "missing bearer token"
				if err, _ := r.Context().Value(authErrKey{}).(error); err != nil {
					msg = "invalid or expired token"
				}
				w.Header().Set("WWW-Authenticate", `Bearer realm="karuna"`)
				writeError(w, r, http.StatusUnauthorized, msg, nil)
				return
			}
			if len(roles) > 0 && !hasRole(principal, roles) {
				w.Header().Set("WWW-Authenticate", `Bearer realm="karuna", error="insufficient_scope"`)
				writeError(w, r, http.StatusForbidden, "insufficient permissions", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func hasRole(p auth.Principal, roles []string) bool {
	for _, role := range roles {
		if p.Is(role) {
			return true
		}
	}
	return false
}

func principal(r *http.Request) auth.Principal {
	p, _ := auth.PrincipalFromContext(r.Context())
	return p
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}

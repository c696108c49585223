package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"karuna.org/internal/auth"
)

func serveWithPrincipal(roles []string, p *auth.Principal) *httptest.ResponseRecorder {
	handler := RequireRole(roles...)(okHandler())
	req := httptest.NewRequest(http.MethodGet, "/internal", nil)
	if p != nil {
		req = req.WithContext(auth.ContextWithPrincipal(req.Context(), *p))
	}
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

func TestRequireRoleAllowsMatchingRole(t *testing.T) {
	rr := serveWithPrincipal([]string{auth.RoleNGO, auth.RoleFarmer}, &auth.Principal{Subject: "acct-1", Role: auth.RoleFarmer})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}

func TestRequireRoleWithoutRolesAdmitsAnyPrincipal(t *testing.T) {
	rr := serveWithPrincipal(nil, &auth.Principal{Subject: "app-1", Role: auth.RoleKYC})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}

func TestRequireRoleRejectsMissingRole(t *testing.T) {
	rr := serveWithPrincipal([]string{auth.RoleAdmin}, &auth.Principal{Subject: "acct-1", Role: auth.RoleNGO})
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
	if got := rr.Header().Get("WWW-Authenticate"); got == "" {
		t.Fatalf("expected WWW-Authenticate header set")
	}
}

func TestRequireRoleRejectsMissingPrincipal(t *testing.T) {
	rr := serveWithPrincipal([]string{auth.RoleAdmin}, nil)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
	if got := rr.Header().Get("WWW-Authenticate"); got == "" {
		t.Fatalf("expected WWW-Authenticate header set")
	}
}

func TestExtractBearerToken(t *testing.T) {
	cases := map[string]bool{
		"Bearer abc.def.ghi": true,
		"bearer abc":         true,
		"Basic dXNlcg==":     false,
		"Bearer ":            false,
		"":                   false,
	}
	for header, ok := range cases {
		token, err := extractBearerToken(header)
		if (err == nil) != ok {
			t.Fatalf("%q: err=%v", header, err)
		}
		if ok && token == "" {
			t.Fatalf("%q: empty token", header)
		}
	}
}

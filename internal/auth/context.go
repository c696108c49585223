package auth

import "context"

// Roles carried by principals.
const (
	RoleAdmin  = "admin"
	RoleNGO    = "ngo"
	RoleFarmer = "farmer"
	RoleKYC    = "kyc_applicant"
)

// Principal is the authenticated caller resolved from a bearer token.
type Principal struct {
	Subject  string
	Audience string
	Role     string
}

// Is reports whether the principal carries role.
func (p Principal) Is(role string) bool { return p.Role == role }

type principalContextKey struct{}

// ContextWithPrincipal attaches the authenticated principal to the context.
func ContextWithPrincipal(ctx context.Context, principal Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, &principal)
}

// PrincipalFromContext extracts the authenticated principal from the context.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	if ctx == nil {
		return Principal{}, false
	}
	v, ok := ctx.Value(principalContextKey{}).(*Principal)
	if !ok || v == nil {
		return Principal{}, false
	}
	return *v, true
}

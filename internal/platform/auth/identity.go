package auth

import (
	"context"
	"strconv"
	"strings"
)

// Roles carried in the token's role claim. Anything that is not the configured admin role is
// treated as a customer.
const (
	RoleCustomer = "customer"
	RoleAdmin    = "admin"
)

// Identity is the verified caller of a request.
type Identity struct {
	UserID int64
	Role   string
}

// IsAdmin reports whether the caller may use the back-office endpoints.
func (i *Identity) IsAdmin() bool {
	return i != nil && i.Role == RoleAdmin
}

// ActorID is the caller as recorded in status history rows and rate-limit buckets.
func (i *Identity) ActorID() string {
	if i == nil {
		return ""
	}
	return "user:" + strconv.FormatInt(i.UserID, 10)
}

type identityKey struct{}

// WithIdentity attaches the verified caller to ctx.
func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, identity)
}

// IdentityFromContext returns the caller attached by RequireAuth.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	identity, _ := ctx.Value(identityKey{}).(*Identity)
	return identity, identity != nil
}

func normaliseRole(role string) string {
	return strings.ToLower(strings.TrimSpace(role))
}

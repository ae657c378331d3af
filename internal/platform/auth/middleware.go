package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v4"
	"go.uber.org/zap"

	"github.com/acai-shop/api/internal/platform/httpx"
	"github.com/acai-shop/api/internal/platform/requestctx"
)

var (
	// ErrTokenExpired signals that the provided bearer token has expired.
	ErrTokenExpired = errors.New("auth: token expired")
	// ErrTokenInvalid signals that the bearer token failed signature or claim validation.
	ErrTokenInvalid = errors.New("auth: token invalid")
)

// Claims is the token payload issued at login: the numeric user id and the role.
type Claims struct {
	ID   int64  `json:"id"`
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Authenticator verifies HS256 bearer tokens and gates routes by role.
type Authenticator struct {
	secret    []byte
	issuer    string
	adminRole string
	now       func() time.Time
}

// Option customises Authenticator behaviour.
type Option func(*Authenticator)

// WithIssuer requires the iss claim to match when non-empty.
func WithIssuer(issuer string) Option {
	return func(a *Authenticator) {
		a.issuer = strings.TrimSpace(issuer)
	}
}

// WithAdminRole names the role claim value that grants admin access. Tokens minted by the shop's
// login service may use a different label than "admin".
func WithAdminRole(role string) Option {
	return func(a *Authenticator) {
		if role = normaliseRole(role); role != "" {
			a.adminRole = role
		}
	}
}

// WithClock injects the time source used for expiry checks and issuance.
func WithClock(now func() time.Time) Option {
	return func(a *Authenticator) {
		if now != nil {
			a.now = now
		}
	}
}

// NewAuthenticator constructs an Authenticator for the shared signing secret.
func NewAuthenticator(secret string, opts ...Option) *Authenticator {
	a := &Authenticator{
		secret:    []byte(secret),
		adminRole: RoleAdmin,
		now:       time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

// Issue signs a token for the user. It backs the dev token command and tests.
func (a *Authenticator) Issue(userID int64, role string, ttl time.Duration) (string, error) {
	if a == nil || len(a.secret) == 0 {
		return "", errors.New("auth: signing secret not configured")
	}
	now := a.now()
	claims := Claims{
		ID:   userID,
		Role: normaliseRole(role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  fmt.Sprintf("%d", userID),
			Issuer:   a.issuer,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// Verify parses and validates the token, returning the identity it encodes.
func (a *Authenticator) Verify(tokenStr string) (*Identity, error) {
	if a == nil || len(a.secret) == 0 {
		return nil, fmt.Errorf("%w: signing secret not configured", ErrTokenInvalid)
	}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithoutClaimsValidation())
	claims := &Claims{}
	_, err := parser.ParseWithClaims(tokenStr, claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}

	now := a.now()
	if claims.ExpiresAt != nil && !now.Before(claims.ExpiresAt.Time) {
		return nil, ErrTokenExpired
	}
	if a.issuer != "" && claims.Issuer != a.issuer {
		return nil, fmt.Errorf("%w: issuer mismatch", ErrTokenInvalid)
	}
	if claims.ID <= 0 {
		return nil, fmt.Errorf("%w: missing user id", ErrTokenInvalid)
	}
	role := RoleCustomer
	if normaliseRole(claims.Role) == a.adminRole {
		role = RoleAdmin
	}
	return &Identity{UserID: claims.ID, Role: role}, nil
}

// RequireAuth verifies the Authorization bearer token and, when roles are given, ensures the
// identity carries one of them.
func (a *Authenticator) RequireAuth(allowedRoles ...string) func(http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(allowedRoles))
	for _, role := range allowedRoles {
		if role = normaliseRole(role); role != "" {
			allowed[role] = struct{}{}
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenStr, ok := extractBearerToken(r.Header.Get("Authorization"))
			if !ok {
				respondAuthError(w, r, http.StatusUnauthorized, "unauthenticated", "authorization header missing or invalid")
				return
			}

			identity, err := a.Verify(tokenStr)
			if err != nil {
				if errors.Is(err, ErrTokenExpired) {
					respondAuthError(w, r, http.StatusUnauthorized, "token_expired", "token expired")
					return
				}
				respondAuthError(w, r, http.StatusUnauthorized, "invalid_token", "token verification failed")
				return
			}

			if len(allowed) > 0 {
				if _, ok := allowed[identity.Role]; !ok {
					respondAuthError(w, r, http.StatusForbidden, "insufficient_role", "identity does not have required role")
					return
				}
			}

			requestctx.Annotate(r.Context(), zap.Int64("userId", identity.UserID), zap.String("role", identity.Role))
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
		})
	}
}

// RequireAdmin is RequireAuth restricted to the admin role.
func (a *Authenticator) RequireAdmin() func(http.Handler) http.Handler {
	return a.RequireAuth(RoleAdmin)
}

func extractBearerToken(header string) (string, bool) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", false
	}

	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}

	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", false
	}
	return token, true
}

func respondAuthError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	httpx.WriteError(r.Context(), w, httpx.NewError(code, message, status))
}

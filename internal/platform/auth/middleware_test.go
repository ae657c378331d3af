package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v4"
)

const testSecret = "test-secret"

func TestRequireAuth_AllowsValidToken(t *testing.T) {
	authn := NewAuthenticator(testSecret)
	token, err := authn.Issue(42, "Admin", time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	handlerCalled := false
	handler := authn.RequireAdmin()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handlerCalled = true
		identity, ok := IdentityFromContext(r.Context())
		if !ok {
			t.Fatalf("expected identity in context")
		}
		if identity.UserID != 42 {
			t.Fatalf("unexpected user id: %d", identity.UserID)
		}
		if !identity.IsAdmin() {
			t.Fatalf("expected admin role, got %s", identity.Role)
		}
		if identity.ActorID() != "user:42" {
			t.Fatalf("unexpected actor id %q", identity.ActorID())
		}
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/admin/orders", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if !handlerCalled {
		t.Fatalf("expected handler to be called")
	}
	if rec.Code != http.StatusNoContent {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
}

func TestRequireAuth_MissingHeader(t *testing.T) {
	authn := NewAuthenticator(testSecret)
	handler := authn.RequireAuth()(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatalf("handler should not be called")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/orders/history", nil))

	assertAuthError(t, rec, http.StatusUnauthorized, "unauthenticated")
}

func TestRequireAuth_RejectsCustomerOnAdminRoute(t *testing.T) {
	authn := NewAuthenticator(testSecret)
	token, err := authn.Issue(7, RoleCustomer, time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	handler := authn.RequireAdmin()(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatalf("handler should not be called")
	}))

	req := httptest.NewRequest(http.MethodGet, "/admin/orders", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assertAuthError(t, rec, http.StatusForbidden, "insufficient_role")
}

func TestRequireAuth_ExpiredToken(t *testing.T) {
	issuedAt := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	issuer := NewAuthenticator(testSecret, WithClock(func() time.Time { return issuedAt }))
	token, err := issuer.Issue(7, RoleCustomer, time.Minute)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	verifier := NewAuthenticator(testSecret, WithClock(func() time.Time { return issuedAt.Add(2 * time.Minute) }))
	handler := verifier.RequireAuth()(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatalf("handler should not be called")
	}))

	req := httptest.NewRequest(http.MethodGet, "/orders/history", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assertAuthError(t, rec, http.StatusUnauthorized, "token_expired")
}

func TestVerify_RejectsWrongSecretAndAlgorithm(t *testing.T) {
	other := NewAuthenticator("another-secret")
	token, err := other.Issue(7, RoleCustomer, time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	if _, err := NewAuthenticator(testSecret).Verify(token); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid for wrong secret, got %v", err)
	}

	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{ID: 7, Role: RoleAdmin}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none token: %v", err)
	}
	if _, err := NewAuthenticator(testSecret).Verify(unsigned); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid for alg none, got %v", err)
	}
}

func TestVerify_DefaultsRoleAndChecksIssuer(t *testing.T) {
	authn := NewAuthenticator(testSecret, WithIssuer("acai-shop"))
	token, err := authn.Issue(9, "", time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	identity, err := authn.Verify(token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if identity.Role != RoleCustomer {
		t.Fatalf("expected customer role fallback, got %q", identity.Role)
	}

	if _, err := NewAuthenticator(testSecret, WithIssuer("someone-else")).Verify(token); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected issuer mismatch, got %v", err)
	}
}

func TestVerify_MapsConfiguredAdminRole(t *testing.T) {
	authn := NewAuthenticator(testSecret, WithAdminRole(" Gerente "))
	token, err := authn.Issue(3, "gerente", time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	identity, err := authn.Verify(token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !identity.IsAdmin() {
		t.Fatalf("expected configured role to grant admin, got %q", identity.Role)
	}

	token, err = authn.Issue(3, RoleAdmin, time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	identity, err = authn.Verify(token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if identity.IsAdmin() {
		t.Fatalf("expected plain admin label to be a customer when another admin role is configured")
	}
}

func TestIdentityFromContext(t *testing.T) {
	if _, ok := IdentityFromContext(context.Background()); ok {
		t.Fatalf("expected no identity on empty context")
	}
	if _, ok := IdentityFromContext(WithIdentity(context.Background(), nil)); ok {
		t.Fatalf("expected nil identity to be absent")
	}
	var missing *Identity
	if missing.IsAdmin() || missing.ActorID() != "" {
		t.Fatalf("nil identity must not be admin")
	}
}

func assertAuthError(t *testing.T, rec *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	if rec.Code != status {
		t.Fatalf("expected status %d, got %d", status, rec.Code)
	}
	var payload map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if payload["error"] != code {
		t.Fatalf("expected error %q, got %v", code, payload["error"])
	}
}

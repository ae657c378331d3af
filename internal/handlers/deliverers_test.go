package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/acai-shop/api/internal/platform/auth"
	"github.com/acai-shop/api/internal/services"
)

type stubDelivererService struct {
	listFn   func(context.Context) ([]services.Deliverer, error)
	getFn    func(context.Context, int64) (services.Deliverer, error)
	createFn func(context.Context, services.UpsertDelivererCommand) (services.Deliverer, error)
	updateFn func(context.Context, services.UpsertDelivererCommand) (services.Deliverer, error)
	toggleFn func(context.Context, int64) (services.Deliverer, error)
	deleteFn func(context.Context, int64) error
}

var _ services.DelivererService = (*stubDelivererService)(nil)

func (s *stubDelivererService) List(ctx context.Context) ([]services.Deliverer, error) {
	if s.listFn != nil {
		return s.listFn(ctx)
	}
	return nil, nil
}

func (s *stubDelivererService) Get(ctx context.Context, id int64) (services.Deliverer, error) {
	if s.getFn != nil {
		return s.getFn(ctx, id)
	}
	return services.Deliverer{}, errStubNotImplemented
}

func (s *stubDelivererService) Create(ctx context.Context, cmd services.UpsertDelivererCommand) (services.Deliverer, error) {
	if s.createFn != nil {
		return s.createFn(ctx, cmd)
	}
	return services.Deliverer{}, errStubNotImplemented
}

func (s *stubDelivererService) Update(ctx context.Context, cmd services.UpsertDelivererCommand) (services.Deliverer, error) {
	if s.updateFn != nil {
		return s.updateFn(ctx, cmd)
	}
	return services.Deliverer{}, errStubNotImplemented
}

func (s *stubDelivererService) ToggleActive(ctx context.Context, id int64) (services.Deliverer, error) {
	if s.toggleFn != nil {
		return s.toggleFn(ctx, id)
	}
	return services.Deliverer{}, errStubNotImplemented
}

func (s *stubDelivererService) Delete(ctx context.Context, id int64) error {
	if s.deleteFn != nil {
		return s.deleteFn(ctx, id)
	}
	return errStubNotImplemented
}

func newDelivererRouter(authn *auth.Authenticator, svc services.DelivererService) chi.Router {
	router := chi.NewRouter()
	router.Route("/admin", NewDelivererHandlers(authn, svc).Routes)
	return router
}

func sampleDeliverer() services.Deliverer {
	return services.Deliverer{
		ID:              5,
		Name:            "Carlos",
		Phone:           "11999990000",
		IsActive:        true,
		TotalDeliveries: 12,
		CreatedAt:       orderTime,
	}
}

func TestDelivererHandlersCreate(t *testing.T) {
	var captured services.UpsertDelivererCommand
	svc := &stubDelivererService{
		createFn: func(_ context.Context, cmd services.UpsertDelivererCommand) (services.Deliverer, error) {
			captured = cmd
			return sampleDeliverer(), nil
		},
	}
	rr := httptest.NewRecorder()
	newDelivererRouter(nil, svc).ServeHTTP(rr, asAdmin(jsonRequest(http.MethodPost, "/admin/deliverers", `{"name":"Carlos","phone":"11999990000","isActive":false}`)))

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.Name != "Carlos" || captured.IsActive == nil || *captured.IsActive {
		t.Fatalf("unexpected command %+v", captured)
	}
	var payload delivererPayload
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload.ID != 5 || payload.TotalDeliveries != 12 || payload.CreatedAt != "2026-03-14T19:00:00Z" {
		t.Fatalf("unexpected payload %+v", payload)
	}
}

func TestDelivererHandlersErrors(t *testing.T) {
	svc := &stubDelivererService{
		createFn: func(context.Context, services.UpsertDelivererCommand) (services.Deliverer, error) {
			return services.Deliverer{}, &services.ServiceError{Kind: services.ErrDelivererConflict, Field: "phone", Reason: services.ReasonPhoneTaken, Message: "phone already registered"}
		},
		updateFn: func(context.Context, services.UpsertDelivererCommand) (services.Deliverer, error) {
			return services.Deliverer{}, &services.ServiceError{Kind: services.ErrDelivererInvalidInput, Field: "name", Message: "name is required"}
		},
		getFn: func(_ context.Context, id int64) (services.Deliverer, error) {
			return services.Deliverer{}, &services.ServiceError{Kind: services.ErrDelivererNotFound, Field: "delivererId", Message: "deliverer not found"}
		},
	}
	router := newDelivererRouter(nil, svc)

	cases := []struct {
		name   string
		req    *http.Request
		status int
		code   string
	}{
		{"phone taken", jsonRequest(http.MethodPost, "/admin/deliverers", `{"name":"Ana","phone":"11999990000"}`), http.StatusConflict, "deliverer_phone_taken"},
		{"validation", jsonRequest(http.MethodPut, "/admin/deliverers/5", `{"name":" "}`), http.StatusBadRequest, "invalid_request"},
		{"not found", httptest.NewRequest(http.MethodGet, "/admin/deliverers/77", nil), http.StatusNotFound, "deliverer_not_found"},
		{"bad id", httptest.NewRequest(http.MethodGet, "/admin/deliverers/abc", nil), http.StatusBadRequest, "invalid_request"},
		{"unknown field", jsonRequest(http.MethodPost, "/admin/deliverers", `{"cpf":"1"}`), http.StatusBadRequest, "invalid_request"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, asAdmin(tc.req))
			if rr.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, rr.Code)
			}
			if got := decodeErrorBody(t, rr).Error; got != tc.code {
				t.Fatalf("expected %s, got %s", tc.code, got)
			}
		})
	}
}

func TestDelivererHandlersListToggleDelete(t *testing.T) {
	var deleted, toggled int64
	svc := &stubDelivererService{
		listFn: func(context.Context) ([]services.Deliverer, error) {
			return []services.Deliverer{sampleDeliverer()}, nil
		},
		toggleFn: func(_ context.Context, id int64) (services.Deliverer, error) {
			toggled = id
			d := sampleDeliverer()
			d.IsActive = false
			return d, nil
		},
		deleteFn: func(_ context.Context, id int64) error {
			deleted = id
			return nil
		},
	}
	router := newDelivererRouter(nil, svc)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, asAdmin(httptest.NewRequest(http.MethodGet, "/admin/deliverers", nil)))
	var list struct {
		Items []delivererPayload `json:"items"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(list.Items) != 1 || list.Items[0].Name != "Carlos" {
		t.Fatalf("unexpected list %+v", list.Items)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, asAdmin(httptest.NewRequest(http.MethodPatch, "/admin/deliverers/5/toggle", nil)))
	if rr.Code != http.StatusOK || toggled != 5 {
		t.Fatalf("expected toggle of 5, got %d (status %d)", toggled, rr.Code)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, asAdmin(httptest.NewRequest(http.MethodDelete, "/admin/deliverers/5", nil)))
	if rr.Code != http.StatusNoContent || deleted != 5 {
		t.Fatalf("expected 204 deleting 5, got %d (deleted %d)", rr.Code, deleted)
	}
}

func TestDelivererHandlersRequireAdminToken(t *testing.T) {
	authn := auth.NewAuthenticator("test-secret", auth.WithClock(func() time.Time { return orderTime }))
	customer, err := authn.Issue(7, auth.RoleCustomer, time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	admin, err := authn.Issue(1, auth.RoleAdmin, time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	router := newDelivererRouter(authn, &stubDelivererService{})

	for token, want := range map[string]int{customer: http.StatusForbidden, admin: http.StatusOK} {
		req := httptest.NewRequest(http.MethodGet, "/admin/deliverers", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		if rr.Code != want {
			t.Fatalf("expected %d, got %d", want, rr.Code)
		}
	}
}

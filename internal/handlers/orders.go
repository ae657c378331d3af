package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	domain "github.com/acai-shop/api/internal/domain"
	"github.com/acai-shop/api/internal/platform/auth"
	"github.com/acai-shop/api/internal/platform/httpx"
	"github.com/acai-shop/api/internal/platform/pagination"
	"github.com/acai-shop/api/internal/platform/requestctx"
	"github.com/acai-shop/api/internal/services"
)

const (
	defaultOrderPageSize = 20
	maxOrderPageSize     = 100
	maxOrderBodySize     = 32 * 1024
)

// OrderHandlers exposes checkout and order tracking for authenticated customers.
type OrderHandlers struct {
	authn    *auth.Authenticator
	orders   services.OrderService
	checkout []func(http.Handler) http.Handler
}

// OrderHandlersOption customises OrderHandlers.
type OrderHandlersOption func(*OrderHandlers)

// WithCheckoutMiddlewares wraps POST /orders, typically with rate limiting and idempotency.
func WithCheckoutMiddlewares(mw ...func(http.Handler) http.Handler) OrderHandlersOption {
	return func(h *OrderHandlers) {
		for _, m := range mw {
			if m != nil {
				h.checkout = append(h.checkout, m)
			}
		}
	}
}

// NewOrderHandlers constructs a new OrderHandlers instance.
func NewOrderHandlers(authn *auth.Authenticator, orders services.OrderService, opts ...OrderHandlersOption) *OrderHandlers {
	h := &OrderHandlers{authn: authn, orders: orders}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Group(func(g chi.Router) {
		if h.authn != nil {
			g.Use(h.authn.RequireAuth())
		}
		g.With(h.checkout...).Post("/", h.createOrder)
		g.Get("/history", h.listHistory)
		g.Get("/{orderID}", h.getOrder)
		g.Put("/cancel/{orderID}", h.cancelOrder)
	})
}

func (h *OrderHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.requireCustomer(w, r)
	if !ok {
		return
	}

	var req createOrderRequest
	if err := httpx.DecodeJSON(r, &req, maxOrderBodySize); err != nil {
		writeDecodeError(ctx, w, err)
		return
	}
	if req.UserID != 0 && req.UserID != identity.UserID {
		writeInvalidField(ctx, w, "userId", "customers can only place orders for themselves")
		return
	}
	req.UserID = identity.UserID

	cmd, field, err := req.toCommand(false)
	if err != nil {
		writeInvalidField(ctx, w, field, err.Error())
		return
	}
	cmd.ActorID = identity.ActorID()

	order, err := h.orders.CreateOrder(ctx, cmd)
	if err != nil {
		writeServiceError(ctx, w, "order", err)
		return
	}
	w.Header().Set("Location", "/api/v1/orders/"+strconv.FormatInt(order.ID, 10))
	writeJSONResponse(w, http.StatusCreated, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) listHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.requireCustomer(w, r)
	if !ok {
		return
	}

	page, err := pagination.Parse(r.URL.Query(), defaultOrderPageSize, maxOrderPageSize)
	if err != nil {
		writePaginationError(w, r, err)
		return
	}
	statuses, err := parseStatusFilter(r.URL.Query()["status"])
	if err != nil {
		writeInvalidField(ctx, w, "status", err.Error())
		return
	}

	userID := identity.UserID
	result, err := h.orders.ListOrders(ctx, services.OrderListFilter{
		UserID:     &userID,
		Statuses:   statuses,
		Pagination: page,
	})
	if err != nil {
		writeServiceError(ctx, w, "order", err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildOrderList(result))
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.requireCustomer(w, r)
	if !ok {
		return
	}
	orderID, ok := parseIDParam(w, r, "orderID")
	if !ok {
		return
	}

	owner := identity.UserID
	order, err := h.orders.GetOrder(ctx, orderID, services.OrderReadOptions{OwnerID: &owner})
	if err != nil {
		writeServiceError(ctx, w, "order", err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.requireCustomer(w, r)
	if !ok {
		return
	}
	orderID, ok := parseIDParam(w, r, "orderID")
	if !ok {
		return
	}

	var req cancelOrderRequest
	if err := httpx.DecodeJSON(r, &req, maxOrderBodySize); err != nil {
		writeDecodeError(ctx, w, err)
		return
	}
	expected, err := parseOptionalStatus(req.ExpectedStatus)
	if err != nil {
		writeInvalidField(ctx, w, "expectedStatus", err.Error())
		return
	}

	owner := identity.UserID
	order, err := h.orders.Cancel(ctx, services.CancelOrderCommand{
		OrderID:        orderID,
		OwnerID:        &owner,
		ExpectedStatus: expected,
		ActorID:        identity.ActorID(),
		Reason:         strings.TrimSpace(req.Reason),
	})
	if err != nil {
		writeServiceError(ctx, w, "order", err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) requireCustomer(w http.ResponseWriter, r *http.Request) (*auth.Identity, bool) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return nil, false
	}
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity.UserID <= 0 {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return nil, false
	}
	return identity, true
}

func parseIDParam(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	raw := strings.TrimSpace(chi.URLParam(r, name))
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		field := strings.TrimSuffix(name, "ID") + "Id"
		writeInvalidField(r.Context(), w, field, field+" must be a positive integer")
		return 0, false
	}
	requestctx.Annotate(r.Context(), zap.Int64(strings.TrimSuffix(name, "ID")+"Id", id))
	return id, true
}

func parseStatusFilter(values []string) ([]domain.OrderStatus, error) {
	var statuses []domain.OrderStatus
	seen := make(map[domain.OrderStatus]struct{})
	for _, raw := range values {
		for _, part := range strings.Split(raw, ",") {
			if strings.TrimSpace(part) == "" {
				continue
			}
			status, err := domain.ParseOrderStatus(part)
			if err != nil {
				return nil, err
			}
			if _, dup := seen[status]; dup {
				continue
			}
			seen[status] = struct{}{}
			statuses = append(statuses, status)
		}
	}
	return statuses, nil
}

func writePaginationError(w http.ResponseWriter, r *http.Request, err error) {
	field := "pageSize"
	if errors.Is(err, pagination.ErrInvalidPageToken) {
		field = "pageToken"
	}
	writeInvalidField(r.Context(), w, field, err.Error())
}

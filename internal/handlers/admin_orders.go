package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	domain "github.com/acai-shop/api/internal/domain"
	"github.com/acai-shop/api/internal/platform/auth"
	"github.com/acai-shop/api/internal/platform/httpx"
	"github.com/acai-shop/api/internal/platform/pagination"
	"github.com/acai-shop/api/internal/platform/requestctx"
	"github.com/acai-shop/api/internal/services"
)

// OrderPricer labels order lines for display. *services.PricingEngine satisfies it.
type OrderPricer interface {
	Breakdown(ctx context.Context, order services.Order) (services.PricingBreakdown, error)
}

// ReceiptRenderer renders a printable receipt. *receipt.Renderer satisfies it.
type ReceiptRenderer interface {
	Render(order domain.Order, breakdown domain.PricingBreakdown) ([]byte, error)
}

// AdminOrderHandlers exposes the back-office order endpoints.
type AdminOrderHandlers struct {
	authn    *auth.Authenticator
	orders   services.OrderService
	pricer   OrderPricer
	receipts ReceiptRenderer
}

// NewAdminOrderHandlers constructs the admin order handlers. pricer and receipts may be nil, in
// which case order details omit the pricing block and receipts answer 503.
func NewAdminOrderHandlers(authn *auth.Authenticator, orders services.OrderService, pricer OrderPricer, receipts ReceiptRenderer) *AdminOrderHandlers {
	return &AdminOrderHandlers{authn: authn, orders: orders, pricer: pricer, receipts: receipts}
}

// Routes registers the /admin/orders endpoints.
func (h *AdminOrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Group(func(g chi.Router) {
		if h.authn != nil {
			g.Use(h.authn.RequireAdmin())
		}
		g.Route("/orders", func(or chi.Router) {
			or.Post("/", h.createOrder)
			or.Get("/", h.listOrders)
			or.Get("/pending-count", h.pendingCount)
			or.Route("/{orderID}", func(o chi.Router) {
				o.Get("/", h.getOrder)
				o.Get("/history", h.statusHistory)
				o.Get("/next", h.proposeTransition)
				o.Put("/status", h.advanceStatus)
				o.Put("/cancel", h.cancelOrder)
				o.Put("/total", h.overrideTotal)
				o.Post("/items", h.addItem)
				o.Delete("/items/{itemID}", h.removeItem)
				o.Get("/receipt", h.receipt)
			})
		})
	})
}

func (h *AdminOrderHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.requireAdmin(w, r)
	if !ok {
		return
	}
	var req createOrderRequest
	if err := httpx.DecodeJSON(r, &req, maxOrderBodySize); err != nil {
		writeDecodeError(ctx, w, err)
		return
	}
	cmd, field, err := req.toCommand(true)
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
	w.Header().Set("Location", "/api/v1/admin/orders/"+strconv.FormatInt(order.ID, 10))
	writeJSONResponse(w, http.StatusCreated, orderResponse{Order: buildOrderPayload(order)})
}

func (h *AdminOrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := h.requireAdmin(w, r); !ok {
		return
	}
	query := r.URL.Query()

	page, err := pagination.Parse(query, defaultOrderPageSize, maxOrderPageSize)
	if err != nil {
		writePaginationError(w, r, err)
		return
	}
	filter := services.OrderListFilter{Pagination: page}
	if filter.Statuses, err = parseStatusFilter(query["status"]); err != nil {
		writeInvalidField(ctx, w, "status", err.Error())
		return
	}
	if raw := strings.TrimSpace(query.Get("deliveryType")); raw != "" {
		deliveryType, err := domain.ParseDeliveryType(raw)
		if err != nil {
			writeInvalidField(ctx, w, "deliveryType", err.Error())
			return
		}
		filter.DeliveryType = deliveryType
	}
	if raw := strings.TrimSpace(query.Get("userId")); raw != "" {
		userID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || userID <= 0 {
			writeInvalidField(ctx, w, "userId", "userId must be a positive integer")
			return
		}
		filter.UserID = &userID
	}
	for _, bound := range []struct {
		name  string
		dst   **time.Time
		isEnd bool
	}{{"from", &filter.DateRange.From, false}, {"to", &filter.DateRange.To, true}} {
		raw := strings.TrimSpace(query.Get(bound.name))
		if raw == "" {
			continue
		}
		ts, err := parseDateParam(raw, bound.isEnd)
		if err != nil {
			writeInvalidField(ctx, w, bound.name, fmt.Sprintf("%s %v", bound.name, err))
			return
		}
		*bound.dst = &ts
	}

	result, err := h.orders.ListOrders(ctx, filter)
	if err != nil {
		writeServiceError(ctx, w, "order", err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildOrderList(result))
}

func (h *AdminOrderHandlers) pendingCount(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := h.requireAdmin(w, r); !ok {
		return
	}
	count, err := h.orders.PendingCount(ctx)
	if err != nil {
		writeServiceError(ctx, w, "order", err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]int{"count": count})
}

func (h *AdminOrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := h.requireAdmin(w, r); !ok {
		return
	}
	orderID, ok := parseIDParam(w, r, "orderID")
	if !ok {
		return
	}
	order, err := h.orders.GetOrder(ctx, orderID, services.OrderReadOptions{})
	if err != nil {
		writeServiceError(ctx, w, "order", err)
		return
	}
	payload := buildOrderPayload(order)
	if h.pricer != nil {
		breakdown, err := h.pricer.Breakdown(ctx, order)
		if err != nil {
			writeServiceError(ctx, w, "order", err)
			return
		}
		payload.Pricing = buildPricingPayload(breakdown)
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: payload})
}

func (h *AdminOrderHandlers) statusHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := h.requireAdmin(w, r); !ok {
		return
	}
	orderID, ok := parseIDParam(w, r, "orderID")
	if !ok {
		return
	}
	changes, err := h.orders.StatusHistory(ctx, orderID)
	if err != nil {
		writeServiceError(ctx, w, "order", err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"items": buildStatusChanges(changes)})
}

func (h *AdminOrderHandlers) proposeTransition(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := h.requireAdmin(w, r); !ok {
		return
	}
	orderID, ok := parseIDParam(w, r, "orderID")
	if !ok {
		return
	}
	proposal, err := h.orders.ProposeTransition(ctx, orderID)
	if err != nil {
		writeServiceError(ctx, w, "order", err)
		return
	}
	writeJSONResponse(w, http.StatusOK, transitionProposalPayload{
		OrderID:              proposal.OrderID,
		DeliveryType:         string(proposal.DeliveryType),
		Current:              string(proposal.Current),
		Next:                 string(proposal.Next),
		Terminal:             proposal.Terminal,
		RequiresDeliverer:    proposal.RequiresDeliverer,
		RequiresConfirmation: proposal.RequiresConfirmation,
		Path:                 statusNames(proposal.Path),
	})
}

func statusNames(path []services.OrderStatus) []string {
	names := make([]string, 0, len(path))
	for _, status := range path {
		names = append(names, string(status))
	}
	return names
}

func (h *AdminOrderHandlers) advanceStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.requireAdmin(w, r)
	if !ok {
		return
	}
	orderID, ok := parseIDParam(w, r, "orderID")
	if !ok {
		return
	}
	var req advanceStatusRequest
	if err := httpx.DecodeJSON(r, &req, maxOrderBodySize); err != nil {
		writeDecodeError(ctx, w, err)
		return
	}
	target, err := parseOptionalStatus(req.Status)
	if err != nil {
		writeInvalidField(ctx, w, "status", err.Error())
		return
	}
	expected, err := parseOptionalStatus(req.ExpectedStatus)
	if err != nil {
		writeInvalidField(ctx, w, "expectedStatus", err.Error())
		return
	}

	order, err := h.orders.AdvanceStatus(ctx, services.AdvanceStatusCommand{
		OrderID:        orderID,
		TargetStatus:   target,
		DelivererID:    req.DelivererID,
		ExpectedStatus: expected,
		Confirm:        req.Confirm,
		ActorID:        identity.ActorID(),
	})
	if err != nil {
		writeServiceError(ctx, w, "order", err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *AdminOrderHandlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.requireAdmin(w, r)
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
	order, err := h.orders.Cancel(ctx, services.CancelOrderCommand{
		OrderID:        orderID,
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

func (h *AdminOrderHandlers) overrideTotal(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.requireAdmin(w, r)
	if !ok {
		return
	}
	orderID, ok := parseIDParam(w, r, "orderID")
	if !ok {
		return
	}
	var req overrideTotalRequest
	if err := httpx.DecodeJSON(r, &req, maxOrderBodySize); err != nil {
		writeDecodeError(ctx, w, err)
		return
	}
	if req.TotalPrice == nil {
		writeInvalidField(ctx, w, "totalPrice", "totalPrice is required")
		return
	}
	expected, err := parseOptionalStatus(req.ExpectedStatus)
	if err != nil {
		writeInvalidField(ctx, w, "expectedStatus", err.Error())
		return
	}
	order, err := h.orders.OverrideTotal(ctx, services.OverrideTotalCommand{
		OrderID:        orderID,
		Total:          *req.TotalPrice,
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

func (h *AdminOrderHandlers) addItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.requireAdmin(w, r)
	if !ok {
		return
	}
	orderID, ok := parseIDParam(w, r, "orderID")
	if !ok {
		return
	}
	var req addItemRequest
	if err := httpx.DecodeJSON(r, &req, maxOrderBodySize); err != nil {
		writeDecodeError(ctx, w, err)
		return
	}
	line, err := req.toInput(true)
	if err != nil {
		writeInvalidField(ctx, w, "selectedOptions", err.Error())
		return
	}
	expected, err := parseOptionalStatus(req.ExpectedStatus)
	if err != nil {
		writeInvalidField(ctx, w, "expectedStatus", err.Error())
		return
	}
	order, err := h.orders.AddItem(ctx, services.AddItemCommand{
		OrderID:        orderID,
		Line:           line,
		ExpectedStatus: expected,
		ActorID:        identity.ActorID(),
	})
	if err != nil {
		writeServiceError(ctx, w, "order", err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, orderResponse{Order: buildOrderPayload(order)})
}

func (h *AdminOrderHandlers) removeItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.requireAdmin(w, r)
	if !ok {
		return
	}
	orderID, ok := parseIDParam(w, r, "orderID")
	if !ok {
		return
	}
	itemID, ok := parseIDParam(w, r, "itemID")
	if !ok {
		return
	}
	expected, err := parseOptionalStatus(r.URL.Query().Get("expectedStatus"))
	if err != nil {
		writeInvalidField(ctx, w, "expectedStatus", err.Error())
		return
	}
	order, err := h.orders.RemoveItem(ctx, services.RemoveItemCommand{
		OrderID:        orderID,
		ItemID:         itemID,
		ExpectedStatus: expected,
		ActorID:        identity.ActorID(),
	})
	if err != nil {
		writeServiceError(ctx, w, "order", err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *AdminOrderHandlers) receipt(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := h.requireAdmin(w, r); !ok {
		return
	}
	if h.pricer == nil || h.receipts == nil {
		httpx.WriteError(ctx, w, httpx.NewError("receipt_unavailable", "receipt rendering is not configured", http.StatusServiceUnavailable))
		return
	}
	orderID, ok := parseIDParam(w, r, "orderID")
	if !ok {
		return
	}
	order, err := h.orders.GetOrder(ctx, orderID, services.OrderReadOptions{})
	if err != nil {
		writeServiceError(ctx, w, "order", err)
		return
	}
	breakdown, err := h.pricer.Breakdown(ctx, order)
	if err != nil {
		writeServiceError(ctx, w, "order", err)
		return
	}
	pdf, err := h.receipts.Render(order, breakdown)
	if err != nil {
		requestctx.Logger(ctx).Error("receipt rendering failed", zap.Int64("orderId", order.ID), zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError("receipt_error", "failed to render receipt", http.StatusInternalServerError))
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=pedido-%d.pdf", order.ID))
	w.Header().Set("Content-Length", strconv.Itoa(len(pdf)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(pdf)
}

func (h *AdminOrderHandlers) requireAdmin(w http.ResponseWriter, r *http.Request) (*auth.Identity, bool) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return nil, false
	}
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return nil, false
	}
	if !identity.IsAdmin() {
		httpx.WriteError(ctx, w, httpx.NewError("insufficient_role", "admin role required", http.StatusForbidden))
		return nil, false
	}
	return identity, true
}

// parseDateParam accepts RFC3339 timestamps or plain dates. A plain date used as an upper bound
// covers the whole day.
func parseDateParam(raw string, endOfDay bool) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return ts.UTC(), nil
	}
	day, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("must be an RFC3339 timestamp or a YYYY-MM-DD date")
	}
	if endOfDay {
		return day.Add(24*time.Hour - time.Nanosecond), nil
	}
	return day, nil
}

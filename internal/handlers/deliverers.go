package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/acai-shop/api/internal/platform/auth"
	"github.com/acai-shop/api/internal/platform/httpx"
	"github.com/acai-shop/api/internal/services"
)

const maxDelivererBodySize = 8 * 1024

// DelivererHandlers manages delivery staff from the back office.
type DelivererHandlers struct {
	authn      *auth.Authenticator
	deliverers services.DelivererService
}

// NewDelivererHandlers constructs the deliverer handlers.
func NewDelivererHandlers(authn *auth.Authenticator, deliverers services.DelivererService) *DelivererHandlers {
	return &DelivererHandlers{authn: authn, deliverers: deliverers}
}

// Routes registers the /admin/deliverers endpoints.
func (h *DelivererHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Group(func(g chi.Router) {
		if h.authn != nil {
			g.Use(h.authn.RequireAdmin())
		}
		g.Route("/deliverers", func(dr chi.Router) {
			dr.Get("/", h.list)
			dr.Post("/", h.create)
			dr.Get("/{delivererID}", h.get)
			dr.Put("/{delivererID}", h.update)
			dr.Delete("/{delivererID}", h.delete)
			dr.Patch("/{delivererID}/toggle", h.toggle)
		})
	})
}

type delivererRequest struct {
	Name     string `json:"name"`
	Phone    string `json:"phone"`
	Email    string `json:"email"`
	IsActive *bool  `json:"isActive"`
}

type delivererPayload struct {
	ID              int64  `json:"id"`
	Name            string `json:"name"`
	Phone           string `json:"phone"`
	Email           string `json:"email,omitempty"`
	IsActive        bool   `json:"isActive"`
	TotalDeliveries int    `json:"totalDeliveries"`
	CreatedAt       string `json:"createdAt,omitempty"`
}

func buildDelivererPayload(d services.Deliverer) delivererPayload {
	return delivererPayload{
		ID:              d.ID,
		Name:            d.Name,
		Phone:           d.Phone,
		Email:           d.Email,
		IsActive:        d.IsActive,
		TotalDeliveries: d.TotalDeliveries,
		CreatedAt:       formatTime(d.CreatedAt),
	}
}

func (h *DelivererHandlers) list(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.ready(w, r) {
		return
	}
	deliverers, err := h.deliverers.List(ctx)
	if err != nil {
		writeServiceError(ctx, w, "deliverer", err)
		return
	}
	items := make([]delivererPayload, 0, len(deliverers))
	for _, d := range deliverers {
		items = append(items, buildDelivererPayload(d))
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"items": items})
}

func (h *DelivererHandlers) get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.ready(w, r) {
		return
	}
	id, ok := parseIDParam(w, r, "delivererID")
	if !ok {
		return
	}
	deliverer, err := h.deliverers.Get(ctx, id)
	if err != nil {
		writeServiceError(ctx, w, "deliverer", err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildDelivererPayload(deliverer))
}

func (h *DelivererHandlers) create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.ready(w, r) {
		return
	}
	var req delivererRequest
	if err := httpx.DecodeJSON(r, &req, maxDelivererBodySize); err != nil {
		writeDecodeError(ctx, w, err)
		return
	}
	deliverer, err := h.deliverers.Create(ctx, services.UpsertDelivererCommand{
		Name:     req.Name,
		Phone:    req.Phone,
		Email:    req.Email,
		IsActive: req.IsActive,
	})
	if err != nil {
		writeServiceError(ctx, w, "deliverer", err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, buildDelivererPayload(deliverer))
}

func (h *DelivererHandlers) update(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.ready(w, r) {
		return
	}
	id, ok := parseIDParam(w, r, "delivererID")
	if !ok {
		return
	}
	var req delivererRequest
	if err := httpx.DecodeJSON(r, &req, maxDelivererBodySize); err != nil {
		writeDecodeError(ctx, w, err)
		return
	}
	deliverer, err := h.deliverers.Update(ctx, services.UpsertDelivererCommand{
		ID:       id,
		Name:     req.Name,
		Phone:    req.Phone,
		Email:    req.Email,
		IsActive: req.IsActive,
	})
	if err != nil {
		writeServiceError(ctx, w, "deliverer", err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildDelivererPayload(deliverer))
}

func (h *DelivererHandlers) toggle(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.ready(w, r) {
		return
	}
	id, ok := parseIDParam(w, r, "delivererID")
	if !ok {
		return
	}
	deliverer, err := h.deliverers.ToggleActive(ctx, id)
	if err != nil {
		writeServiceError(ctx, w, "deliverer", err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildDelivererPayload(deliverer))
}

func (h *DelivererHandlers) delete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.ready(w, r) {
		return
	}
	id, ok := parseIDParam(w, r, "delivererID")
	if !ok {
		return
	}
	if err := h.deliverers.Delete(ctx, id); err != nil {
		writeServiceError(ctx, w, "deliverer", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *DelivererHandlers) ready(w http.ResponseWriter, r *http.Request) bool {
	if h.deliverers == nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("deliverer_service_unavailable", "deliverer service unavailable", http.StatusServiceUnavailable))
		return false
	}
	return true
}

package handlers

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/acai-shop/api/internal/platform/httpx"
	"github.com/acai-shop/api/internal/platform/requestctx"
	"github.com/acai-shop/api/internal/services"
)

// writeServiceError maps the service error taxonomy onto the JSON error envelope. resource
// prefixes the machine code, e.g. order_not_found or deliverer_conflict.
func writeServiceError(ctx context.Context, w http.ResponseWriter, resource string, err error) {
	if err == nil {
		return
	}

	details := map[string]any{}
	message := err.Error()
	var svcErr *services.ServiceError
	if errors.As(err, &svcErr) {
		if svcErr.Field != "" {
			details["field"] = svcErr.Field
		}
		if svcErr.Reason != "" {
			details["reason"] = svcErr.Reason
		}
		if svcErr.Message != "" {
			message = svcErr.Message
		}
	}

	var apiErr httpx.Error
	switch {
	case errors.Is(err, services.ErrOrderInvalidInput), errors.Is(err, services.ErrDelivererInvalidInput):
		apiErr = httpx.NewError("invalid_request", message, http.StatusBadRequest)
	case errors.Is(err, services.ErrDelivererNotFound):
		apiErr = httpx.NewError("deliverer_not_found", message, http.StatusNotFound)
	case errors.Is(err, services.ErrOrderNotFound):
		apiErr = httpx.NewError(resource+"_not_found", message, http.StatusNotFound)
	case errors.Is(err, services.ErrOrderInvalidState):
		apiErr = httpx.NewError(resource+"_invalid_state", message, http.StatusConflict)
	case errors.Is(err, services.ErrDelivererConflict) && svcErr != nil && svcErr.Reason == services.ReasonPhoneTaken:
		apiErr = httpx.NewError("deliverer_phone_taken", message, http.StatusConflict)
	case errors.Is(err, services.ErrOrderConflict), errors.Is(err, services.ErrDelivererConflict):
		apiErr = httpx.NewError(resource+"_conflict", message, http.StatusConflict)
	case errors.Is(err, services.ErrUnavailable):
		requestctx.Logger(ctx).Warn("backend unavailable", zap.String("resource", resource), zap.Error(err))
		apiErr = httpx.NewError(resource+"_service_unavailable", "service temporarily unavailable", http.StatusServiceUnavailable)
	default:
		requestctx.Logger(ctx).Error("unhandled service error", zap.String("resource", resource), zap.Error(err))
		apiErr = httpx.NewError(resource+"_error", "failed to process "+resource+" request", http.StatusInternalServerError)
		details = nil
	}
	httpx.WriteError(ctx, w, apiErr.WithDetails(details))
}

// writeDecodeError reports malformed request bodies.
func writeDecodeError(ctx context.Context, w http.ResponseWriter, err error) {
	if errors.Is(err, httpx.ErrBodyTooLarge) {
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
		return
	}
	httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
}

func writeInvalidField(ctx context.Context, w http.ResponseWriter, field, message string) {
	httpx.WriteError(ctx, w, httpx.NewError("invalid_request", message, http.StatusBadRequest).WithField(field))
}

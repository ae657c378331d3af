package httpx

import (
	"context"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/acai-shop/api/internal/platform/requestctx"
)

const (
	maxCodeLength    = 80
	maxMessageLength = 512
)

// Error is the JSON error envelope every endpoint answers with. Code is machine readable
// (order_not_found, invalid_request); Details carries field and reason when the failure has them.
type Error struct {
	Code    string
	Message string
	Status  int
	Details map[string]any
}

type errorEnvelope struct {
	Error     string         `json:"error"`
	Message   string         `json:"message"`
	Status    int            `json:"status"`
	Details   map[string]any `json:"details,omitempty"`
	RequestID string         `json:"requestId,omitempty"`
	TraceID   string         `json:"traceId,omitempty"`
}

// NewError builds an envelope; a zero status means 500.
func NewError(code, message string, status int) Error {
	if status == 0 {
		status = http.StatusInternalServerError
	}
	return Error{
		Code:    clip(code, maxCodeLength),
		Message: clip(message, maxMessageLength),
		Status:  status,
	}
}

// WithDetails merges details into the envelope. Empty values are skipped.
func (e Error) WithDetails(details map[string]any) Error {
	if len(details) == 0 {
		return e
	}
	merged := make(map[string]any, len(e.Details)+len(details))
	for k, v := range e.Details {
		merged[k] = v
	}
	for k, v := range details {
		if s, ok := v.(string); ok && s == "" {
			continue
		}
		merged[k] = v
	}
	if len(merged) == 0 {
		return e
	}
	e.Details = merged
	return e
}

// WithField names the offending request field.
func (e Error) WithField(field string) Error {
	return e.WithDetails(map[string]any{"field": field})
}

// WriteError writes err with the request and trace ids found on ctx.
func WriteError(ctx context.Context, w http.ResponseWriter, err Error) {
	status := err.Status
	if status == 0 {
		status = http.StatusInternalServerError
	}
	WriteJSON(w, status, errorEnvelope{
		Error:     err.Code,
		Message:   err.Message,
		Status:    status,
		Details:   err.Details,
		RequestID: clip(middleware.GetReqID(ctx), maxCodeLength),
		TraceID:   clip(requestctx.TraceID(ctx), 64),
	})
}

// clip flattens value onto one line and cuts it at limit bytes without splitting a rune.
func clip(value string, limit int) string {
	value = strings.TrimSpace(strings.NewReplacer("\r", " ", "\n", " ").Replace(value))
	if len(value) <= limit {
		return value
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(value[cut]) {
		cut--
	}
	return value[:cut]
}

package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/acai-shop/api/internal/platform/requestctx"
)

func TestWriteErrorEnvelope(t *testing.T) {
	ctx := requestctx.WithTrace(context.Background(), requestctx.TraceInfo{TraceID: "abc123"})
	rr := httptest.NewRecorder()

	apiErr := NewError("order_invalid_state", "order is\nalready delivered", http.StatusConflict).
		WithDetails(map[string]any{"reason": "order_terminal", "field": ""}).
		WithField("status")
	WriteError(ctx, rr, apiErr)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		t.Fatalf("expected json content type, got %q", ct)
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["error"] != "order_invalid_state" || body["message"] != "order is already delivered" {
		t.Fatalf("unexpected envelope %v", body)
	}
	if body["traceId"] != "abc123" {
		t.Fatalf("expected trace id, got %v", body["traceId"])
	}
	if _, ok := body["requestId"]; ok {
		t.Fatalf("did not expect request id without middleware")
	}
	details, _ := body["details"].(map[string]any)
	if details["reason"] != "order_terminal" || details["field"] != "status" {
		t.Fatalf("unexpected details %v", details)
	}
}

func TestNewErrorDefaultsAndClipping(t *testing.T) {
	apiErr := NewError("x", strings.Repeat("ç", 400), 0)
	if apiErr.Status != http.StatusInternalServerError {
		t.Fatalf("expected 500 default, got %d", apiErr.Status)
	}
	if len(apiErr.Message) > maxMessageLength {
		t.Fatalf("expected message clipped to %d bytes, got %d", maxMessageLength, len(apiErr.Message))
	}
	if !utf8.ValidString(apiErr.Message) {
		t.Fatalf("expected clipping on a rune boundary")
	}
	if got := NewError("x", "m", 400).WithDetails(nil); got.Details != nil {
		t.Fatalf("expected nil details, got %v", got.Details)
	}
}

func TestDecodeJSON(t *testing.T) {
	var dst struct {
		Name string `json:"name"`
	}
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"Carlos"}`))
	if err := DecodeJSON(req, &dst, 0); err != nil || dst.Name != "Carlos" {
		t.Fatalf("expected decode, got %+v (err=%v)", dst, err)
	}

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"nome":"Carlos"}`))
	if err := DecodeJSON(req, &dst, 0); err == nil {
		t.Fatalf("expected unknown field error")
	}

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"`+strings.Repeat("a", 64)+`"}`))
	if err := DecodeJSON(req, &dst, 16); err != ErrBodyTooLarge {
		t.Fatalf("expected ErrBodyTooLarge, got %v", err)
	}

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader("  "))
	if err := DecodeJSON(req, &dst, 0); err != nil {
		t.Fatalf("expected empty body to decode, got %v", err)
	}
}

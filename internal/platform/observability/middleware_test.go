package observability

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/acai-shop/api/internal/platform/requestctx"
)

func chain(h http.Handler, mw ...func(http.Handler) http.Handler) http.Handler {
	for i := len(mw) - 1; i >= 0; i-- {
		h = mw[i](h)
	}
	return h
}

func TestRequestLoggerIncludesAnnotations(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	handler := chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestctx.Annotate(r.Context(), zap.Int64("orderId", 42))
		w.WriteHeader(http.StatusConflict)
	}), InjectLoggerMiddleware(zap.New(core)), TraceMiddleware("acai-orders-api"), RequestLoggerMiddleware())

	req := httptest.NewRequest(http.MethodPut, "/api/v1/admin/orders/42", nil)
	req.Header.Set("traceparent", "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	entries := logs.FilterMessage("request completed").All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 access log entry, got %d", len(entries))
	}
	entry := entries[0]
	if entry.Level != zapcore.WarnLevel {
		t.Fatalf("expected warn level for 409, got %s", entry.Level)
	}
	fields := entry.ContextMap()
	if fields["status"] != int64(http.StatusConflict) {
		t.Fatalf("expected status 409, got %v", fields["status"])
	}
	if fields["orderId"] != int64(42) {
		t.Fatalf("expected orderId annotation, got %v", fields)
	}
	if fields["traceId"] != "4bf92f3577b34da6a3ce929d0e0e4736" {
		t.Fatalf("expected continued trace id, got %v", fields["traceId"])
	}
	if fields["route"] != "/api/v1/admin/orders/42" || fields["method"] != http.MethodPut {
		t.Fatalf("unexpected route fields %v", fields)
	}
}

func TestRecoveryMiddlewareWritesEnvelope(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	handler := chain(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic(errors.New("nil deliverer"))
	}), InjectLoggerMiddleware(zap.New(core)), RecoveryMiddleware(nil), RequestLoggerMiddleware())

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/orders", nil))

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["error"] != "internal_server_error" {
		t.Fatalf("unexpected body %v", body)
	}
	if logs.FilterMessage("panic recovered").Len() != 1 {
		t.Fatalf("expected panic to be logged")
	}
	completed := logs.FilterMessage("request completed").All()
	if len(completed) != 1 || completed[0].Level != zapcore.ErrorLevel {
		t.Fatalf("expected one error-level access entry, got %+v", completed)
	}
}

func TestEventLoggerPrefersRequestLogger(t *testing.T) {
	baseCore, baseLogs := observer.New(zap.DebugLevel)
	scopedCore, scopedLogs := observer.New(zap.DebugLevel)
	logEvent := EventLogger(zap.New(baseCore))

	logEvent(context.Background(), "order.created", map[string]any{"orderId": int64(1)})
	ctx := requestctx.WithLogger(context.Background(), zap.New(scopedCore))
	logEvent(ctx, "order.notify_failed", map[string]any{"error": "telegram down"})

	if baseLogs.Len() != 1 || baseLogs.All()[0].Level != zapcore.InfoLevel {
		t.Fatalf("expected info entry on base logger, got %+v", baseLogs.All())
	}
	entries := scopedLogs.All()
	if len(entries) != 1 || entries[0].Level != zapcore.WarnLevel {
		t.Fatalf("expected warn entry on request logger, got %+v", entries)
	}
	if entries[0].ContextMap()["event"] != "order.notify_failed" {
		t.Fatalf("expected event field, got %v", entries[0].ContextMap())
	}
}

func TestPrintfAdapterLogsAtDebug(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	adapter := NewPrintfAdapter(zap.New(core))
	adapter.Printf("Endpoint: %s", "sendMessage")
	adapter.Println("response", 200)

	entries := logs.All()
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Message != "Endpoint: sendMessage" || entries[0].Level != zapcore.DebugLevel {
		t.Fatalf("unexpected entry %+v", entries[0])
	}
}

func TestNewLoggerFallsBackToInfo(t *testing.T) {
	logger, err := NewLogger("verbose", "acai-orders-api")
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	if logger.Core().Enabled(zapcore.DebugLevel) {
		t.Fatalf("expected unknown level to fall back to info")
	}
	if !logger.Core().Enabled(zapcore.InfoLevel) {
		t.Fatalf("expected info to be enabled")
	}
}

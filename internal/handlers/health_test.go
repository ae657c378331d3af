package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	domain "github.com/acai-shop/api/internal/domain"
	"github.com/acai-shop/api/internal/services"
)

type stubSystemService struct {
	healthFn func(context.Context) (services.SystemHealthReport, error)
}

func (s *stubSystemService) HealthReport(ctx context.Context) (services.SystemHealthReport, error) {
	return s.healthFn(ctx)
}

var _ services.SystemService = (*stubSystemService)(nil)

func staticReport(report services.SystemHealthReport) *stubSystemService {
	return &stubSystemService{healthFn: func(context.Context) (services.SystemHealthReport, error) { return report, nil }}
}

func TestHealthzReportsBuild(t *testing.T) {
	opened := time.Date(2026, 3, 14, 17, 0, 0, 0, time.UTC)
	h := NewHealthHandlers(
		WithHealthBuildInfo(services.BuildInfo{Version: "2.0.1", CommitSHA: "f00d", Environment: "staging", StartedAt: opened}),
		WithHealthClock(func() time.Time { return opened.Add(45 * time.Second) }),
	)

	rr := httptest.NewRecorder()
	h.Healthz(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if rr.Header().Get("Cache-Control") != "no-store" {
		t.Fatalf("expected no-store, got %q", rr.Header().Get("Cache-Control"))
	}
	var body healthzResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != domain.HealthStatusOK || body.Version != "2.0.1" || body.CommitSHA != "f00d" || body.Environment != "staging" {
		t.Fatalf("unexpected body %+v", body)
	}
	if body.Uptime != "45s" {
		t.Fatalf("expected uptime 45s, got %s", body.Uptime)
	}
}

func TestReadyzDegradedStaysInRotation(t *testing.T) {
	now := time.Date(2026, 3, 14, 19, 0, 0, 0, time.UTC)
	pending := 3
	h := NewHealthHandlers(WithHealthSystemService(staticReport(services.SystemHealthReport{
		Status:        domain.HealthStatusDegraded,
		PendingOrders: &pending,
		GeneratedAt:   now,
		Checks: map[string]domain.SystemHealthCheck{
			"postgres": {Status: domain.HealthStatusOK, Latency: 4 * time.Millisecond, CheckedAt: now},
			"telegram": {Status: domain.HealthStatusDegraded, Error: "bot token revoked", CheckedAt: now},
		},
	})))

	rr := httptest.NewRecorder()
	h.Readyz(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 for degraded report, got %d", rr.Code)
	}
	var body readyzResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.PendingOrders == nil || *body.PendingOrders != 3 {
		t.Fatalf("expected 3 pending orders, got %v", body.PendingOrders)
	}
	if body.Checks["postgres"].LatencyMS != 4 {
		t.Fatalf("expected postgres latency 4ms, got %d", body.Checks["postgres"].LatencyMS)
	}
	if len(body.Details) != 1 || body.Details[0] != "telegram: bot token revoked" {
		t.Fatalf("unexpected details %v", body.Details)
	}
	if body.GeneratedAt != "2026-03-14T19:00:00Z" {
		t.Fatalf("unexpected generatedAt %s", body.GeneratedAt)
	}
}

func TestReadyzErrorAnswers503(t *testing.T) {
	h := NewHealthHandlers(WithHealthSystemService(staticReport(services.SystemHealthReport{
		Status: domain.HealthStatusError,
		Checks: map[string]domain.SystemHealthCheck{
			"postgres": {Status: domain.HealthStatusError, Detail: "timeout", Error: "context deadline exceeded"},
		},
	})))

	rr := httptest.NewRecorder()
	h.Readyz(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
	var body readyzResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.PendingOrders != nil {
		t.Fatalf("did not expect pendingOrders, got %v", *body.PendingOrders)
	}
	if body.Checks["postgres"].Detail != "timeout" {
		t.Fatalf("unexpected postgres check %+v", body.Checks["postgres"])
	}
}

func TestReadyzServiceFailure(t *testing.T) {
	h := NewHealthHandlers(WithHealthSystemService(&stubSystemService{
		healthFn: func(ctx context.Context) (services.SystemHealthReport, error) {
			if _, ok := ctx.Deadline(); !ok {
				t.Errorf("expected readiness deadline on context")
			}
			return services.SystemHealthReport{}, errors.New("collector closed")
		},
	}))

	rr := httptest.NewRecorder()
	h.Readyz(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["error"] != "health_check_failed" {
		t.Fatalf("expected health_check_failed, got %v", body["error"])
	}
}

func TestReadyzWithoutSystemService(t *testing.T) {
	rr := httptest.NewRecorder()
	NewHealthHandlers().Readyz(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}

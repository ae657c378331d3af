package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/acai-shop/api/internal/domain"
)

type stubHealthRepository struct {
	report domain.SystemHealthReport
	err    error
}

func (s *stubHealthRepository) Collect(context.Context) (domain.SystemHealthReport, error) {
	return s.report, s.err
}

type stubBacklog struct {
	count int
	err   error
	calls int
}

func (s *stubBacklog) PendingCount(context.Context) (int, error) {
	s.calls++
	return s.count, s.err
}

func TestSystemServiceStampsBuildAndBacklog(t *testing.T) {
	start := time.Date(2026, 3, 14, 18, 0, 0, 0, time.UTC)
	now := start.Add(90 * time.Minute)
	backlog := &stubBacklog{count: 4}
	svc, err := NewSystemService(SystemServiceDeps{
		HealthRepository: &stubHealthRepository{report: domain.SystemHealthReport{
			Checks: map[string]domain.SystemHealthCheck{"postgres": {Status: domain.HealthStatusOK}},
		}},
		Backlog: backlog,
		Clock:   func() time.Time { return now },
		Build:   BuildInfo{Version: "2.0.1", CommitSHA: "f00d", Environment: "staging", StartedAt: start},
	})
	if err != nil {
		t.Fatalf("NewSystemService: %v", err)
	}

	report, err := svc.HealthReport(context.Background())
	if err != nil {
		t.Fatalf("HealthReport: %v", err)
	}
	if report.Status != domain.HealthStatusOK {
		t.Fatalf("expected ok, got %s", report.Status)
	}
	if report.Version != "2.0.1" || report.CommitSHA != "f00d" || report.Environment != "staging" {
		t.Fatalf("expected build metadata, got %+v", report)
	}
	if report.Uptime != 90*time.Minute || !report.GeneratedAt.Equal(now) {
		t.Fatalf("unexpected uptime %s or generatedAt %s", report.Uptime, report.GeneratedAt)
	}
	if report.PendingOrders == nil || *report.PendingOrders != 4 {
		t.Fatalf("expected 4 pending orders, got %v", report.PendingOrders)
	}
}

func TestSystemServiceSkipsBacklogWhenStorageIsDown(t *testing.T) {
	backlog := &stubBacklog{count: 1}
	svc, err := NewSystemService(SystemServiceDeps{
		HealthRepository: &stubHealthRepository{report: domain.SystemHealthReport{
			Checks: map[string]domain.SystemHealthCheck{
				"postgres": {Status: domain.HealthStatusError},
				"telegram": {Status: domain.HealthStatusDegraded},
			},
		}},
		Backlog: backlog,
	})
	if err != nil {
		t.Fatalf("NewSystemService: %v", err)
	}
	report, err := svc.HealthReport(context.Background())
	if err != nil {
		t.Fatalf("HealthReport: %v", err)
	}
	if report.Status != domain.HealthStatusError {
		t.Fatalf("expected error status, got %s", report.Status)
	}
	if backlog.calls != 0 || report.PendingOrders != nil {
		t.Fatalf("expected backlog to be skipped, calls=%d pending=%v", backlog.calls, report.PendingOrders)
	}
}

func TestSystemServiceBacklogFailureIsLogged(t *testing.T) {
	var events []string
	svc, err := NewSystemService(SystemServiceDeps{
		HealthRepository: &stubHealthRepository{report: domain.SystemHealthReport{Status: domain.HealthStatusDegraded}},
		Backlog:          &stubBacklog{err: errors.New("pool closed")},
		Logger: func(_ context.Context, event string, _ map[string]any) {
			events = append(events, event)
		},
	})
	if err != nil {
		t.Fatalf("NewSystemService: %v", err)
	}
	report, err := svc.HealthReport(context.Background())
	if err != nil {
		t.Fatalf("HealthReport: %v", err)
	}
	if report.Status != domain.HealthStatusDegraded || report.PendingOrders != nil {
		t.Fatalf("unexpected report %+v", report)
	}
	if len(events) != 1 || events[0] != "health.backlog_failed" {
		t.Fatalf("expected backlog failure event, got %v", events)
	}
}

func TestSystemServiceCollectError(t *testing.T) {
	expected := errors.New("collect failed")
	svc, err := NewSystemService(SystemServiceDeps{HealthRepository: &stubHealthRepository{err: expected}})
	if err != nil {
		t.Fatalf("NewSystemService: %v", err)
	}
	if _, err := svc.HealthReport(context.Background()); !errors.Is(err, expected) {
		t.Fatalf("expected %v, got %v", expected, err)
	}
	if _, err := NewSystemService(SystemServiceDeps{}); err == nil {
		t.Fatalf("expected error without health repository")
	}
}

package repositories

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/acai-shop/api/internal/domain"
)

func okProbe(context.Context) error { return nil }

func TestDependencyHealthAllHealthy(t *testing.T) {
	now := time.Date(2026, 3, 14, 19, 0, 0, 0, time.UTC)
	repo, err := NewDependencyHealthRepository([]DependencyCheck{
		{Name: "postgres", Critical: true, Check: okProbe},
		{Name: "pubsub", Check: okProbe},
	}, WithDependencyClock(func() time.Time { return now }))
	if err != nil {
		t.Fatalf("NewDependencyHealthRepository: %v", err)
	}

	report, err := repo.Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if report.Status != domain.HealthStatusOK || len(report.Checks) != 2 {
		t.Fatalf("expected two ok checks, got %+v", report)
	}
	if got := report.Checks["postgres"]; got.CheckedAt != now || got.Detail != "ok" {
		t.Fatalf("unexpected postgres check %+v", got)
	}
	if !report.GeneratedAt.Equal(now) {
		t.Fatalf("expected generatedAt %s, got %s", now, report.GeneratedAt)
	}
}

func TestDependencyHealthOptionalFailureDegrades(t *testing.T) {
	repo, err := NewDependencyHealthRepository([]DependencyCheck{
		{Name: "postgres", Critical: true, Check: okProbe},
		{Name: "telegram", Check: func(context.Context) error { return errors.New("bot token revoked") }},
	})
	if err != nil {
		t.Fatalf("NewDependencyHealthRepository: %v", err)
	}

	report, err := repo.Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if report.Status != domain.HealthStatusDegraded {
		t.Fatalf("expected degraded, got %s", report.Status)
	}
	check := report.Checks["telegram"]
	if check.Status != domain.HealthStatusDegraded || check.Error != "bot token revoked" || check.Detail != "unavailable" {
		t.Fatalf("unexpected telegram check %+v", check)
	}
}

func TestDependencyHealthCriticalFailureWins(t *testing.T) {
	repo, err := NewDependencyHealthRepository([]DependencyCheck{
		{Name: "pubsub", Check: func(context.Context) error { return errors.New("topic missing") }},
		{
			Name:     "postgres",
			Critical: true,
			Timeout:  5 * time.Millisecond,
			Check: func(ctx context.Context) error {
				<-ctx.Done()
				return ctx.Err()
			},
		},
	})
	if err != nil {
		t.Fatalf("NewDependencyHealthRepository: %v", err)
	}

	report, err := repo.Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if report.Status != domain.HealthStatusError {
		t.Fatalf("expected error, got %s", report.Status)
	}
	if check := report.Checks["postgres"]; check.Status != domain.HealthStatusError || check.Detail != "timeout" {
		t.Fatalf("unexpected postgres check %+v", check)
	}
	if check := report.Checks["pubsub"]; check.Status != domain.HealthStatusDegraded {
		t.Fatalf("expected pubsub degraded, got %+v", check)
	}
}

func TestNewDependencyHealthRepositoryValidatesChecks(t *testing.T) {
	cases := map[string][]DependencyCheck{
		"empty":     nil,
		"no probe":  {{Name: "postgres"}},
		"no name":   {{Name: "  ", Check: okProbe}},
		"duplicate": {{Name: "redis", Check: okProbe}, {Name: "redis", Check: okProbe}},
	}
	for name, checks := range cases {
		if _, err := NewDependencyHealthRepository(checks); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

package services

import (
	"context"
	"errors"
	"time"

	domain "github.com/acai-shop/api/internal/domain"
	"github.com/acai-shop/api/internal/repositories"
)

// BuildInfo is the release metadata reported by the probes.
type BuildInfo struct {
	Version     string
	CommitSHA   string
	Environment string
	StartedAt   time.Time
}

// PendingOrderCounter reports how many orders wait for payment confirmation.
type PendingOrderCounter interface {
	PendingCount(ctx context.Context) (int, error)
}

// SystemServiceDeps bundles the collaborators of the system service. Backlog is optional.
type SystemServiceDeps struct {
	HealthRepository repositories.HealthRepository
	Backlog          PendingOrderCounter
	Clock            func() time.Time
	Build            BuildInfo
	Logger           func(ctx context.Context, event string, fields map[string]any)
}

type systemService struct {
	probes  repositories.HealthRepository
	backlog PendingOrderCounter
	now     func() time.Time
	build   BuildInfo
	logger  func(ctx context.Context, event string, fields map[string]any)
}

var _ SystemService = (*systemService)(nil)

// NewSystemService assembles the service behind /readyz.
func NewSystemService(deps SystemServiceDeps) (SystemService, error) {
	if deps.HealthRepository == nil {
		return nil, errors.New("system service: health repository is required")
	}
	now := deps.Clock
	if now == nil {
		now = time.Now
	}
	svc := &systemService{
		probes:  deps.HealthRepository,
		backlog: deps.Backlog,
		now:     func() time.Time { return now().UTC() },
		build:   deps.Build,
		logger:  deps.Logger,
	}
	if svc.build.StartedAt.IsZero() {
		svc.build.StartedAt = svc.now()
	}
	if svc.logger == nil {
		svc.logger = func(context.Context, string, map[string]any) {}
	}
	return svc, nil
}

// HealthReport runs the dependency probes and stamps the report with build metadata and the
// pending-payment backlog. A failing backlog count leaves PendingOrders nil and does not change
// the status; the storage probe already covers that failure.
func (s *systemService) HealthReport(ctx context.Context) (SystemHealthReport, error) {
	report, err := s.probes.Collect(ctx)
	if err != nil {
		return SystemHealthReport{}, err
	}

	now := s.now()
	if report.GeneratedAt.IsZero() {
		report.GeneratedAt = now
	}
	if report.Checks == nil {
		report.Checks = map[string]domain.SystemHealthCheck{}
	}
	if report.Status == "" {
		report.Status = domain.HealthStatusOK
		for _, check := range report.Checks {
			if check.Status == domain.HealthStatusError {
				report.Status = domain.HealthStatusError
				break
			}
			if check.Status == domain.HealthStatusDegraded {
				report.Status = domain.HealthStatusDegraded
			}
		}
	}

	report.Version = s.build.Version
	report.CommitSHA = s.build.CommitSHA
	report.Environment = s.build.Environment
	report.Uptime = now.Sub(s.build.StartedAt)

	if s.backlog != nil && report.Status != domain.HealthStatusError {
		pending, err := s.backlog.PendingCount(ctx)
		if err != nil {
			s.logger(ctx, "health.backlog_failed", map[string]any{"error": err.Error()})
		} else {
			report.PendingOrders = &pending
		}
	}
	return report, nil
}

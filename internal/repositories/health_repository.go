package repositories

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	domain "github.com/acai-shop/api/internal/domain"
)

const defaultProbeTimeout = 1500 * time.Millisecond

// DependencyCheck is one readiness probe. A failing Critical probe marks the whole report as
// error; any other failure only degrades it.
type DependencyCheck struct {
	Name     string
	Critical bool
	Timeout  time.Duration
	Check    func(context.Context) error
}

// DependencyHealthOption customises the probe runner.
type DependencyHealthOption func(*probeRunner)

// WithDependencyTimeout sets the timeout for checks that do not carry their own.
func WithDependencyTimeout(timeout time.Duration) DependencyHealthOption {
	return func(r *probeRunner) {
		if timeout > 0 {
			r.timeout = timeout
		}
	}
}

// WithDependencyClock injects a custom clock.
func WithDependencyClock(clock func() time.Time) DependencyHealthOption {
	return func(r *probeRunner) {
		if clock != nil {
			r.now = clock
		}
	}
}

type probeRunner struct {
	checks  []DependencyCheck
	timeout time.Duration
	now     func() time.Time
}

// NewDependencyHealthRepository returns a HealthRepository that runs every check concurrently on
// each Collect.
func NewDependencyHealthRepository(checks []DependencyCheck, opts ...DependencyHealthOption) (HealthRepository, error) {
	if len(checks) == 0 {
		return nil, errors.New("health repository: no dependency checks")
	}
	seen := make(map[string]struct{}, len(checks))
	for i, check := range checks {
		name := strings.TrimSpace(check.Name)
		switch {
		case name == "":
			return nil, fmt.Errorf("health repository: check %d has no name", i)
		case check.Check == nil:
			return nil, fmt.Errorf("health repository: check %s has no probe", name)
		}
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("health repository: duplicate check %s", name)
		}
		seen[name] = struct{}{}
	}

	r := &probeRunner{
		checks:  append([]DependencyCheck(nil), checks...),
		timeout: defaultProbeTimeout,
		now:     time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r, nil
}

func (r *probeRunner) Collect(ctx context.Context) (domain.SystemHealthReport, error) {
	outcomes := make([]domain.SystemHealthCheck, len(r.checks))

	var g errgroup.Group
	for i := range r.checks {
		i := i
		g.Go(func() error {
			outcomes[i] = r.run(ctx, r.checks[i])
			return nil
		})
	}
	_ = g.Wait()

	report := domain.SystemHealthReport{
		Status:      domain.HealthStatusOK,
		Checks:      make(map[string]domain.SystemHealthCheck, len(outcomes)),
		GeneratedAt: r.now(),
	}
	for i, outcome := range outcomes {
		report.Checks[r.checks[i].Name] = outcome
		report.Status = worse(report.Status, outcome.Status)
	}
	return report, nil
}

func (r *probeRunner) run(ctx context.Context, check DependencyCheck) domain.SystemHealthCheck {
	timeout := check.Timeout
	if timeout <= 0 {
		timeout = r.timeout
	}
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	started := r.now()
	err := check.Check(probeCtx)
	if err == nil {
		err = probeCtx.Err()
	}
	finished := r.now()

	outcome := domain.SystemHealthCheck{
		Status:    domain.HealthStatusOK,
		Detail:    "ok",
		Latency:   finished.Sub(started),
		CheckedAt: finished,
	}
	if err == nil {
		return outcome
	}

	outcome.Error = err.Error()
	outcome.Detail = "unavailable"
	if errors.Is(err, context.DeadlineExceeded) {
		outcome.Detail = "timeout"
	}
	outcome.Status = domain.HealthStatusDegraded
	if check.Critical {
		outcome.Status = domain.HealthStatusError
	}
	return outcome
}

func worse(a, b string) string {
	rank := func(status string) int {
		switch status {
		case domain.HealthStatusError:
			return 2
		case domain.HealthStatusDegraded:
			return 1
		}
		return 0
	}
	if rank(b) > rank(a) {
		return b
	}
	return a
}

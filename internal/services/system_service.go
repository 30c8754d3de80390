package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/sweet-shop/api/internal/repositories"
)

// BuildInfo captures runtime metadata exposed via health endpoints.
type BuildInfo struct {
	Version     string
	CommitSHA   string
	Environment string
	StartedAt   time.Time
}

// SystemHealthReport is the readiness report enriched with build metadata.
type SystemHealthReport struct {
	Status      repositories.HealthStatus                 `json:"status"`
	Checks      map[string]repositories.HealthCheckResult `json:"checks"`
	Version     string                                    `json:"version,omitempty"`
	CommitSHA   string                                    `json:"commitSha,omitempty"`
	Environment string                                    `json:"environment,omitempty"`
	Uptime      time.Duration                             `json:"uptime"`
	GeneratedAt time.Time                                 `json:"generatedAt"`
}

// SystemServiceDeps bundles collaborators required to construct a system service.
type SystemServiceDeps struct {
	HealthRepository repositories.HealthRepository
	Clock            func() time.Time
	Build            BuildInfo
}

type systemService struct {
	healthRepo repositories.HealthRepository
	clock      func() time.Time
	build      BuildInfo
}

var _ SystemService = (*systemService)(nil)

// NewSystemService assembles the system utility service providing health reports and metadata.
func NewSystemService(deps SystemServiceDeps) (SystemService, error) {
	if deps.HealthRepository == nil {
		return nil, errors.New("system service: health repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	build := deps.Build
	if build.StartedAt.IsZero() {
		build.StartedAt = clock()
	}

	return &systemService{
		healthRepo: deps.HealthRepository,
		clock: func() time.Time {
			return clock().UTC()
		},
		build: build,
	}, nil
}

func (s *systemService) HealthReport(ctx context.Context) (SystemHealthReport, error) {
	if ctx == nil {
		return SystemHealthReport{}, errors.New("system service: context is required")
	}

	collected, err := s.healthRepo.Collect(ctx)
	if err != nil {
		return SystemHealthReport{}, err
	}

	now := s.clock()
	report := SystemHealthReport{
		Status:      collected.Status,
		Checks:      collected.Checks,
		Version:     strings.TrimSpace(s.build.Version),
		CommitSHA:   strings.TrimSpace(s.build.CommitSHA),
		Environment: strings.TrimSpace(s.build.Environment),
		GeneratedAt: ensureTimestamp(collected.GeneratedAt, now),
	}
	if !s.build.StartedAt.IsZero() {
		report.Uptime = now.Sub(s.build.StartedAt)
	}
	if report.Checks == nil {
		report.Checks = map[string]repositories.HealthCheckResult{}
	}
	if report.Status == "" {
		report.Status = deriveStatus(report.Checks)
	}
	return report, nil
}

func ensureTimestamp(ts time.Time, fallback time.Time) time.Time {
	if ts.IsZero() {
		return fallback
	}
	return ts.UTC()
}

func deriveStatus(checks map[string]repositories.HealthCheckResult) repositories.HealthStatus {
	status := repositories.HealthStatusOK
	for _, check := range checks {
		switch check.Status {
		case repositories.HealthStatusOK, "":
			continue
		case repositories.HealthStatusError:
			return repositories.HealthStatusError
		default:
			status = repositories.HealthStatusDegraded
		}
	}
	return status
}

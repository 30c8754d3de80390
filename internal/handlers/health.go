package handlers

import (
	"net/http"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sweet-shop/api/internal/platform/requestctx"
	"github.com/sweet-shop/api/internal/repositories"
	"github.com/sweet-shop/api/internal/services"
)

// HealthHandlers serves liveness and readiness probes.
type HealthHandlers struct {
	build  services.BuildInfo
	clock  func() time.Time
	system services.SystemService
}

// HealthOption customises HealthHandlers.
type HealthOption func(*HealthHandlers)

// WithHealthBuildInfo sets the build metadata reported by /healthz.
func WithHealthBuildInfo(info services.BuildInfo) HealthOption {
	return func(h *HealthHandlers) {
		h.build = info
	}
}

// WithHealthClock overrides the clock used for uptime and timestamps.
func WithHealthClock(clock func() time.Time) HealthOption {
	return func(h *HealthHandlers) {
		if clock != nil {
			h.clock = clock
		}
	}
}

// WithHealthSystemService sets the service that probes dependencies for /readyz.
func WithHealthSystemService(system services.SystemService) HealthOption {
	return func(h *HealthHandlers) {
		h.system = system
	}
}

// NewHealthHandlers constructs probe handlers. Without a system service /readyz reports ok.
func NewHealthHandlers(opts ...HealthOption) *HealthHandlers {
	h := &HealthHandlers{clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	if h.build.StartedAt.IsZero() {
		h.build.StartedAt = h.clock()
	}
	return h
}

type healthResponse struct {
	Status      repositories.HealthStatus                 `json:"status"`
	Version     string                                    `json:"version,omitempty"`
	CommitSHA   string                                    `json:"commitSha,omitempty"`
	Environment string                                    `json:"environment,omitempty"`
	Uptime      string                                    `json:"uptime"`
	Timestamp   string                                    `json:"timestamp"`
	Checks      map[string]repositories.HealthCheckResult `json:"checks,omitempty"`
	Details     []string                                  `json:"details,omitempty"`
}

// Healthz reports process liveness without touching dependencies.
func (h *HealthHandlers) Healthz(w http.ResponseWriter, r *http.Request) {
	now := h.clock().UTC()
	writeJSONResponse(w, http.StatusOK, healthResponse{
		Status:      repositories.HealthStatusOK,
		Version:     strings.TrimSpace(h.build.Version),
		CommitSHA:   strings.TrimSpace(h.build.CommitSHA),
		Environment: strings.TrimSpace(h.build.Environment),
		Uptime:      now.Sub(h.build.StartedAt).Round(time.Second).String(),
		Timestamp:   now.Format(time.RFC3339),
	})
}

// Readyz probes dependencies and answers 503 unless every check is ok.
func (h *HealthHandlers) Readyz(w http.ResponseWriter, r *http.Request) {
	if h.system == nil {
		h.Healthz(w, r)
		return
	}

	ctx := r.Context()
	report, err := h.system.HealthReport(ctx)
	if err != nil {
		requestctx.Logger(ctx).Error("readiness probe failed", zap.Error(err))
		writeJSONResponse(w, http.StatusServiceUnavailable, healthResponse{
			Status:    repositories.HealthStatusError,
			Uptime:    h.clock().UTC().Sub(h.build.StartedAt).Round(time.Second).String(),
			Timestamp: h.clock().UTC().Format(time.RFC3339),
			Details:   []string{err.Error()},
		})
		return
	}

	var details []string
	for name, check := range report.Checks {
		if check.Status == repositories.HealthStatusOK || check.Status == "" {
			continue
		}
		detail := string(check.Status)
		if strings.TrimSpace(check.Detail) != "" {
			detail = check.Detail
		}
		details = append(details, name+": "+detail)
	}
	sort.Strings(details)

	generated := report.GeneratedAt
	if generated.IsZero() {
		generated = h.clock()
	}
	status := http.StatusOK
	if report.Status != repositories.HealthStatusOK {
		status = http.StatusServiceUnavailable
	}
	writeJSONResponse(w, status, healthResponse{
		Status:      report.Status,
		Version:     report.Version,
		CommitSHA:   report.CommitSHA,
		Environment: report.Environment,
		Uptime:      report.Uptime.Round(time.Second).String(),
		Timestamp:   generated.UTC().Format(time.RFC3339),
		Checks:      report.Checks,
		Details:     details,
	})
}

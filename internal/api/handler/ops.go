package handler

import (
	"context"
	"net/http"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/3T-LVTN/model/internal/api/models"
	"github.com/3T-LVTN/model/internal/api/response"
	"github.com/3T-LVTN/model/internal/provider/resilience"
)

// pingTimeout bounds each dependency check.
const pingTimeout = 2 * time.Second

// Pinger is a dependency that can be health checked.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

// Ping calls f.
func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// OpsHandler handles operational endpoints.
type OpsHandler struct {
	version    string
	buildTime  string
	subsystems map[string]Pinger
	providers  *resilience.Registry
}

// NewOpsHandler creates a new OpsHandler. subsystems are checked by the
// readiness and status endpoints; providers may be nil.
func NewOpsHandler(version, buildTime string, subsystems map[string]Pinger, providers *resilience.Registry) *OpsHandler {
	return &OpsHandler{
		version:    version,
		buildTime:  buildTime,
		subsystems: subsystems,
		providers:  providers,
	}
}

// HealthCheck handles GET /v1/ops/health - liveness check.
func (h *OpsHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	health := models.Health{
		Status: models.HealthStatusOK,
		Time:   models.Timestamp(time.Now()),
		Details: map[string]any{
			"version":   h.version,
			"buildTime": h.buildTime,
		},
	}
	response.JSON(w, r, http.StatusOK, health)
}

// ReadinessCheck handles GET /v1/ops/ready - 503 until every subsystem
// answers.
func (h *OpsHandler) ReadinessCheck(w http.ResponseWriter, r *http.Request) {
	subsystems := h.checkSubsystems(r.Context())
	health := models.Health{
		Status: overall(subsystems, nil),
		Time:   models.Timestamp(time.Now()),
	}
	status := http.StatusOK
	if health.Status == models.HealthStatusFail {
		status = http.StatusServiceUnavailable
		details := make(map[string]any)
		for _, s := range subsystems {
			if s.Detail != nil {
				details[s.Name] = *s.Detail
			}
		}
		health.Details = details
	}
	response.JSON(w, r, status, health)
}

// SystemStatus handles GET /v1/ops/status - subsystem and provider status.
func (h *OpsHandler) SystemStatus(w http.ResponseWriter, r *http.Request) {
	subsystems := h.checkSubsystems(r.Context())
	providers := h.providerStatus()
	response.JSON(w, r, http.StatusOK, models.SystemStatus{
		Status:     overall(subsystems, providers),
		Time:       models.Timestamp(time.Now()),
		Subsystems: subsystems,
		Providers:  providers,
	})
}

func (h *OpsHandler) checkSubsystems(ctx context.Context) []models.SubsystemStatus {
	names := make([]string, 0, len(h.subsystems))
	for name := range h.subsystems {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]models.SubsystemStatus, len(names))
	var g errgroup.Group
	for i, name := range names {
		g.Go(func() error {
			pctx, cancel := context.WithTimeout(ctx, pingTimeout)
			defer cancel()
			out[i] = models.SubsystemStatus{Name: name, Status: models.HealthStatusOK}
			if err := h.subsystems[name].Ping(pctx); err != nil {
				detail := err.Error()
				out[i].Status = models.HealthStatusFail
				out[i].Detail = &detail
			}
			return nil
		})
	}
	_ = g.Wait() //nolint:errcheck // checks never return errors
	return out
}

func (h *OpsHandler) providerStatus() []models.ProviderStatus {
	if h.providers == nil {
		return []models.ProviderStatus{}
	}
	all := h.providers.All()
	out := make([]models.ProviderStatus, len(all))
	for i, p := range all {
		s := models.ProviderStatus{
			Provider:            p.Name,
			Status:              providerHealth(p.Status()),
			CircuitState:        p.CircuitState.String(),
			ConsecutiveFailures: p.Counts.ConsecutiveFailures,
			LastSuccessAt:       timestampPtr(p.LastSuccessAt),
			LastFailureAt:       timestampPtr(p.LastFailureAt),
		}
		if p.LastError != "" {
			msg := p.LastError
			s.Message = &msg
		}
		out[i] = s
	}
	return out
}

func providerHealth(status string) models.HealthStatus {
	switch status {
	case "ok":
		return models.HealthStatusOK
	case "degraded":
		return models.HealthStatusDegraded
	default:
		return models.HealthStatusFail
	}
}

// overall fails when a subsystem fails and degrades when a provider is
// not healthy.
func overall(subsystems []models.SubsystemStatus, providers []models.ProviderStatus) models.HealthStatus {
	for _, s := range subsystems {
		if s.Status != models.HealthStatusOK {
			return models.HealthStatusFail
		}
	}
	for _, p := range providers {
		if p.Status != models.HealthStatusOK {
			return models.HealthStatusDegraded
		}
	}
	return models.HealthStatusOK
}

func timestampPtr(t *time.Time) *models.Timestamp {
	if t == nil {
		return nil
	}
	ts := models.Timestamp(*t)
	return &ts
}

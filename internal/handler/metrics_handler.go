package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/qbank-api/internal/service"
	"github.com/noah-isme/qbank-api/pkg/database"
	appErrors "github.com/noah-isme/qbank-api/pkg/errors"
	"github.com/noah-isme/qbank-api/pkg/response"
)

type sweepRunner interface {
	RunOnce(ctx context.Context) *service.SweepResult
}

// MetricsHandler exposes observability endpoints.
type MetricsHandler struct {
	metrics *service.MetricsService
	checks  map[string]database.Pinger
	sweeper sweepRunner
}

// NewMetricsHandler constructs a metrics handler. checks are pinged by Ready; sweeper may be nil.
func NewMetricsHandler(metrics *service.MetricsService, checks map[string]database.Pinger, sweeper sweepRunner) *MetricsHandler {
	return &MetricsHandler{metrics: metrics, checks: checks, sweeper: sweeper}
}

// Prometheus serves the Prometheus metrics endpoint.
func (h *MetricsHandler) Prometheus(c *gin.Context) {
	if h.metrics == nil {
		c.Status(http.StatusServiceUnavailable)
		return
	}
	h.metrics.Handler().ServeHTTP(c.Writer, c.Request)
}

// Health responds with a generic OK payload for liveness probes.
func (h *MetricsHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Ready pings every dependency and reports 503 when one is down.
func (h *MetricsHandler) Ready(c *gin.Context) {
	status := http.StatusOK
	results := make(map[string]string, len(h.checks))
	for name, check := range h.checks {
		if err := database.Ready(c.Request.Context(), check); err != nil {
			results[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		results[name] = "ok"
	}
	state := "ready"
	if status != http.StatusOK {
		state = "degraded"
	}
	c.JSON(status, gin.H{"status": state, "checks": results})
}

// Snapshot godoc
// @Summary Summarise request, cache and file metrics
// @Tags Ops
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /admin/metrics [get]
func (h *MetricsHandler) Snapshot(c *gin.Context) {
	response.JSON(c, http.StatusOK, h.metrics.Snapshot())
}

// Sweep godoc
// @Summary Run the orphan blob sweep now
// @Tags Ops
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /admin/blobs/sweep [post]
func (h *MetricsHandler) Sweep(c *gin.Context) {
	if h.sweeper == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrNotFound, "orphan sweep disabled"))
		return
	}
	result := h.sweeper.RunOnce(c.Request.Context())
	response.JSON(c, http.StatusOK, gin.H{
		"scanned":    result.Scanned,
		"deleted":    result.Deleted,
		"errors":     result.Errors,
		"durationMs": result.Duration.Milliseconds(),
	})
}

package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/qbank-api/internal/service"
	"github.com/noah-isme/qbank-api/pkg/database"
)

type pingStub struct{ err error }

func (p pingStub) PingContext(context.Context) error { return p.err }

type sweepStub struct{ runs int }

func (s *sweepStub) RunOnce(context.Context) *service.SweepResult {
	s.runs++
	return &service.SweepResult{Scanned: 4, Deleted: 1, Duration: 20 * time.Millisecond}
}

func TestMetricsHandlerReady(t *testing.T) {
	h := NewMetricsHandler(nil, map[string]database.Pinger{"postgres": pingStub{}, "redis": pingStub{}}, nil)
	c, w := newTestContext(httptest.NewRequest(http.MethodGet, "/ready", nil), nil)
	h.Ready(c)
	assert.Equal(t, http.StatusOK, w.Code)

	h = NewMetricsHandler(nil, map[string]database.Pinger{"postgres": pingStub{err: errors.New("connection refused")}}, nil)
	c, w = newTestContext(httptest.NewRequest(http.MethodGet, "/ready", nil), nil)
	h.Ready(c)
	require.Equal(t, http.StatusServiceUnavailable, w.Code)

	var body struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "degraded", body.Status)
	assert.Equal(t, "connection refused", body.Checks["postgres"])
}

func TestMetricsHandlerPrometheusAndSnapshot(t *testing.T) {
	metrics := service.NewMetricsService()
	metrics.RecordFileOperation("upload", nil)
	h := NewMetricsHandler(metrics, nil, nil)

	c, w := newTestContext(httptest.NewRequest(http.MethodGet, "/metrics", nil), nil)
	h.Prometheus(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `file_operations_total{operation="upload",outcome="success"} 1`)

	c, w = newTestContext(httptest.NewRequest(http.MethodGet, "/admin/metrics", nil), nil)
	h.Snapshot(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"data"`)
}

func TestMetricsHandlerSweep(t *testing.T) {
	c, w := newTestContext(httptest.NewRequest(http.MethodPost, "/admin/blobs/sweep", nil), nil)
	NewMetricsHandler(nil, nil, nil).Sweep(c)
	assert.Equal(t, http.StatusNotFound, w.Code)

	sweeper := &sweepStub{}
	c, w = newTestContext(httptest.NewRequest(http.MethodPost, "/admin/blobs/sweep", nil), nil)
	NewMetricsHandler(nil, nil, sweeper).Sweep(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, sweeper.runs)
	assert.Contains(t, w.Body.String(), `"deleted":1`)
}

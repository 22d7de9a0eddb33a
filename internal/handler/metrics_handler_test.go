package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/exam-window-api/internal/service"
)

func TestMetricsHandlerHealth(t *testing.T) {
	handler := NewMetricsHandler(nil, nil)
	c, w := newGinContext(http.MethodGet, "/health", nil)

	handler.Health(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decodeEnvelope(t, w)["status"])
}

func TestMetricsHandlerReady(t *testing.T) {
	handler := NewMetricsHandler(nil, map[string]ReadinessCheck{
		"postgres": func(ctx context.Context) error { return nil },
	})
	c, w := newGinContext(http.MethodGet, "/ready", nil)

	handler.Ready(c)
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeEnvelope(t, w)
	assert.Equal(t, "ready", body["status"])
	assert.Equal(t, "ok", body["checks"].(map[string]interface{})["postgres"])
}

func TestMetricsHandlerReadyReportsFailingDependency(t *testing.T) {
	handler := NewMetricsHandler(nil, map[string]ReadinessCheck{
		"postgres": func(ctx context.Context) error { return nil },
		"redis":    func(ctx context.Context) error { return errors.New("connection refused") },
	})
	c, w := newGinContext(http.MethodGet, "/ready", nil)

	handler.Ready(c)
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	body := decodeEnvelope(t, w)
	assert.Equal(t, "NOT_READY", body["error"].(map[string]interface{})["code"])
	checks := body["meta"].(map[string]interface{})["checks"].(map[string]interface{})
	assert.Equal(t, "connection refused", checks["redis"])
	assert.Equal(t, "ok", checks["postgres"])
}

func TestMetricsHandlerPrometheus(t *testing.T) {
	metrics := service.NewMetricsService()
	metrics.SetPendingTimers(3)
	handler := NewMetricsHandler(metrics, nil)
	c, w := newGinContext(http.MethodGet, "/metrics", nil)

	handler.Prometheus(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), "window_scheduler_pending_timers 3"))
}

func TestMetricsHandlerPrometheusDisabled(t *testing.T) {
	handler := NewMetricsHandler(nil, nil)
	c, w := newGinContext(http.MethodGet, "/metrics", nil)

	handler.Prometheus(c)
	c.Writer.WriteHeaderNow()
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
}

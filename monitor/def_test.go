package monitor

import (
	"EdgeScan/pipeline"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestMonitor_PipelineMetrics(t *testing.T) {
	stats := pipeline.Stats{Frames: 12, Gaps: 3, ClassificationErrors: 1, Windows: 70, FPS: 4, SmoothedFPS: 3.5}
	m := New(func() pipeline.Stats { return stats }, zap.NewNop())
	m.RPCTotal.Inc()
	m.HTTPTotal.WithLabelValues("/api/ping", "200").Inc()
	m.CheckProcessInfo()

	w := httptest.NewRecorder()
	req, err := http.NewRequest(http.MethodGet, "/metrics", nil)
	require.NoError(t, err)
	m.Handler().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	body := w.Body.String()
	assert.Contains(t, body, "edgescan_frames_total 12")
	assert.Contains(t, body, "edgescan_frame_gaps_total 3")
	assert.Contains(t, body, "edgescan_classification_errors_total 1")
	assert.Contains(t, body, "edgescan_windows 70")
	assert.Contains(t, body, "edgescan_fps 4")
	assert.Contains(t, body, "edgescan_fps_smoothed 3.5")
	assert.Contains(t, body, "grpc_requests_total 1")
	assert.Contains(t, body, `http_requests_total{code="200",route="/api/ping"} 1`)
	assert.Contains(t, body, "memory_usage_Megabytes")

	stats.Frames = 13
	w = httptest.NewRecorder()
	m.Handler().ServeHTTP(w, req)
	assert.Contains(t, w.Body.String(), "edgescan_frames_total 13")
}

func TestMonitor_WithoutPipeline(t *testing.T) {
	m := New(nil, zap.NewNop())
	w := httptest.NewRecorder()
	req, err := http.NewRequest(http.MethodGet, "/metrics", nil)
	require.NoError(t, err)
	m.Handler().ServeHTTP(w, req)
	assert.NotContains(t, w.Body.String(), "edgescan_frames_total")
}

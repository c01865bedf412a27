// Package monitor exports process and pipeline metrics for Prometheus.
package monitor

import (
	"EdgeScan/pipeline"
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/v4/process"
	"go.uber.org/zap"
)

// StatsFunc reports the current pipeline counters, usually Driver.Stats.
type StatsFunc func() pipeline.Stats

type Monitor struct {
	Registry *prometheus.Registry
	// RPCTotal counts requests served by the gRPC surface.
	RPCTotal prometheus.Counter
	// HTTPTotal counts requests served by the web surface.
	HTTPTotal *prometheus.CounterVec

	pid      *process.Process
	memUsage prometheus.Gauge
	cpuUsage prometheus.Gauge
	log      *zap.Logger
}

func New(stats StatsFunc, log *zap.Logger) *Monitor {
	m := &Monitor{
		Registry: prometheus.NewRegistry(),
		log:      log.Named("monitor"),
		memUsage: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "memory_usage_Megabytes",
			Help: "Memory usage in Megabytes",
		}),
		cpuUsage: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cpu_usage_percent",
			Help: "CPU usage in percent",
		}),
		RPCTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "grpc_requests_total",
			Help: "Total number of gRPC requests processed",
		}),
		HTTPTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests processed",
		}, []string{"route", "code"}),
	}
	m.Registry.MustRegister(m.memUsage, m.cpuUsage, m.RPCTotal, m.HTTPTotal)
	if stats != nil {
		m.registerPipeline(stats)
	}
	if p, err := process.NewProcess(int32(os.Getpid())); err == nil {
		m.pid = p
	} else {
		m.log.Warn("Process metrics unavailable", zap.Error(err))
	}
	return m
}

func (m *Monitor) registerPipeline(stats StatsFunc) {
	m.Registry.MustRegister(
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "edgescan_frames_total",
			Help: "Frames that completed a full cycle",
		}, func() float64 { return float64(stats().Frames) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "edgescan_frame_gaps_total",
			Help: "Cycles that produced no usable frame",
		}, func() float64 { return float64(stats().Gaps) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "edgescan_classification_errors_total",
			Help: "Windows whose classification failed",
		}, func() float64 { return float64(stats().ClassificationErrors) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "edgescan_windows",
			Help: "Windows classified per frame",
		}, func() float64 { return float64(stats().Windows) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "edgescan_fps",
			Help: "Instantaneous cycle rate",
		}, func() float64 { return stats().FPS }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "edgescan_fps_smoothed",
			Help: "Exponentially smoothed cycle rate",
		}, func() float64 { return stats().SmoothedFPS }),
	)
}

func (m *Monitor) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}

// CheckProcessInfo samples RSS and CPU usage of this process.
func (m *Monitor) CheckProcessInfo() {
	if m.pid == nil {
		return
	}
	if memInfo, err := m.pid.MemoryInfo(); err == nil {
		m.memUsage.Set(float64(memInfo.RSS / 1024 / 1024))
	}
	if cpuPercent, err := m.pid.CPUPercent(); err == nil {
		m.cpuUsage.Set(math.Round(cpuPercent*100) / 100)
	}
}

// Start serves /metrics on port and samples the process every 500ms until
// ctx is done.
func (m *Monitor) Start(ctx context.Context, port int) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.log.Error("Prometheus server ListenAndServe error", zap.Error(err))
		}
	}()
	m.log.Info("Metrics listening", zap.Int("port", port))

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
checkPcs:
	for {
		select {
		case <-ctx.Done():
			break checkPcs
		case <-ticker.C:
			m.CheckProcessInfo()
		}
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		m.log.Error("Prometheus server Shutdown error", zap.Error(err))
	}
}

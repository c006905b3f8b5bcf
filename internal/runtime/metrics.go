package runtime

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	errspkg "github.com/drblury/sensornode/internal/runtime/errors"
	loggingpkg "github.com/drblury/sensornode/internal/runtime/logging"
)

// RunMetrics exposes the run lifecycle to Prometheus.
type RunMetrics struct {
	running  *prometheus.GaugeVec
	runs     *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewRunMetrics registers the runtime collectors on registerer.
func NewRunMetrics(registerer prometheus.Registerer) (*RunMetrics, error) {
	m := &RunMetrics{
		running: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "sensornode",
			Subsystem: "runtime",
			Name:      "loop_running",
			Help:      "1 while the device loop is running.",
		}, []string{"sensor_name"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sensornode",
			Subsystem: "runtime",
			Name:      "loop_exits_total",
			Help:      "Device loop exits by outcome.",
		}, []string{"sensor_name", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "sensornode",
			Subsystem: "runtime",
			Name:      "loop_duration_seconds",
			Help:      "How long the device loop ran.",
			Buckets:   []float64{1, 10, 60, 600, 3600, 6 * 3600, 24 * 3600},
		}, []string{"sensor_name"}),
	}
	for _, c := range []prometheus.Collector{m.running, m.runs, m.duration} {
		if err := registerer.Register(c); err != nil {
			return nil, fmt.Errorf("register runtime metrics: %w", err)
		}
	}
	return m, nil
}

// Hooks returns lifecycle hooks feeding the collectors.
func (m *RunMetrics) Hooks() Hooks {
	return Hooks{
		OnStarted: func(run RunContext) {
			m.running.WithLabelValues(run.SensorName).Set(1)
		},
		OnFinished: func(run RunContext) {
			m.observe(run, "finished")
		},
		OnFailed: func(run RunContext, err error) {
			outcome := "aborted"
			if _, ok := errspkg.AsDeviceError(err); ok {
				outcome = "device_error"
			}
			m.observe(run, outcome)
		},
	}
}

func (m *RunMetrics) observe(run RunContext, outcome string) {
	m.running.WithLabelValues(run.SensorName).Set(0)
	m.runs.WithLabelValues(run.SensorName, outcome).Inc()
	m.duration.WithLabelValues(run.SensorName).Observe(run.Duration.Seconds())
}

// NewRegistry returns a registry with the Go and process collectors
// already registered.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// MetricsServer serves /metrics for a registry. It runs beside the device
// loop and never touches the Link or the Device.
type MetricsServer struct {
	server *http.Server
	addr   string
}

// StartMetricsServer listens on port and serves gatherer in the background.
// Port 0 picks a free port.
func StartMetricsServer(port int, gatherer prometheus.Gatherer, logger loggingpkg.ServiceLogger) (*MetricsServer, error) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("metrics listen: %w", err)
	}

	s := &MetricsServer{
		server: &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second},
		addr:   listener.Addr().String(),
	}
	logger.Info("Starting metrics server", loggingpkg.LogFields{"address": listener.Addr().String()})
	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server stopped", err, loggingpkg.LogFields{"address": listener.Addr().String()})
		}
	}()
	return s, nil
}

// Addr is the address the server listens on.
func (s *MetricsServer) Addr() string {
	return s.addr
}

// Shutdown stops the server.
func (s *MetricsServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

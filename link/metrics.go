package link

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts what a Link publishes.
type Metrics struct {
	events        *prometheus.CounterVec
	publishErrors *prometheus.CounterVec
	payloadBytes  *prometheus.HistogramVec
}

// NewMetrics registers the link collectors on registerer. Registering twice
// on the same registerer reuses the existing collectors.
func NewMetrics(registerer prometheus.Registerer) (*Metrics, error) {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	events, err := registerCounterVec(registerer, prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sensornode",
			Subsystem: "link",
			Name:      "events_total",
			Help:      "Events published, by channel and event type.",
		},
		[]string{"channel", "event_type"},
	))
	if err != nil {
		return nil, err
	}

	publishErrors, err := registerCounterVec(registerer, prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sensornode",
			Subsystem: "link",
			Name:      "publish_errors_total",
			Help:      "Events that could not be published, by channel and reason.",
		},
		[]string{"channel", "reason"},
	))
	if err != nil {
		return nil, err
	}

	payloadBytes := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "sensornode",
			Subsystem: "link",
			Name:      "payload_bytes",
			Help:      "Encoded event size.",
			Buckets:   prometheus.ExponentialBuckets(64, 4, 8),
		},
		[]string{"channel"},
	)
	if err := registerer.Register(payloadBytes); err != nil {
		var are prometheus.AlreadyRegisteredError
		if !errors.As(err, &are) {
			return nil, err
		}
		payloadBytes = are.ExistingCollector.(*prometheus.HistogramVec)
	}

	return &Metrics{events: events, publishErrors: publishErrors, payloadBytes: payloadBytes}, nil
}

func registerCounterVec(registerer prometheus.Registerer, c *prometheus.CounterVec) (*prometheus.CounterVec, error) {
	if err := registerer.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if !errors.As(err, &are) {
			return nil, err
		}
		return are.ExistingCollector.(*prometheus.CounterVec), nil
	}
	return c, nil
}

func (m *Metrics) published(channel, eventType string, size int) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(channel, eventType).Inc()
	m.payloadBytes.WithLabelValues(channel).Observe(float64(size))
}

func (m *Metrics) failed(channel, reason string) {
	if m == nil {
		return
	}
	m.publishErrors.WithLabelValues(channel, reason).Inc()
}

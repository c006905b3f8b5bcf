// Package kinect drives a Kinect depth camera exposed as a V4L2 device and
// publishes presence and depth-summary events to a Link.
package kinect

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/drblury/sensornode/device"
	errspkg "github.com/drblury/sensornode/internal/runtime/errors"
	loggingpkg "github.com/drblury/sensornode/internal/runtime/logging"
	"github.com/drblury/sensornode/link"
)

// Event types published by the driver.
const (
	EventPresence = "kinect.presence"
	EventDepth    = "kinect.depth"
)

// Frame sources understood by Open.
const (
	SourceV4L2      = "v4l2"
	SourceSynthetic = "synthetic"
)

// Config tunes the driver.
type Config struct {
	Source     string
	Path       string
	FFmpegPath string
	Width      int
	Height     int
	FPS        int

	// MaxFrames stops Loop normally after that many frames. Zero is unbounded.
	MaxFrames int64
	// NearThresholdMM is the distance under which a pixel counts as near.
	NearThresholdMM int
	// PresenceRatio is the share of near pixels that means someone is there.
	PresenceRatio float64
	// SummaryInterval throttles depth summaries. Zero sends one per frame.
	SummaryInterval time.Duration
	// MaxPublishFailures is how many consecutive publish errors are
	// tolerated before Loop fails.
	MaxPublishFailures int
}

type options struct {
	source  FrameSource
	logger  loggingpkg.ServiceLogger
	metrics *Metrics
}

// Option customises New.
type Option func(*options)

// WithSource uses src instead of opening cfg.Source. The Device takes
// ownership and closes it.
func WithSource(src FrameSource) Option {
	return func(o *options) { o.source = src }
}

// WithLogger sets the driver logger.
func WithLogger(l loggingpkg.ServiceLogger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetrics counts frames and events on m.
func WithMetrics(m *Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// Device is a Kinect bound to a Link.
type Device struct {
	link     device.Link
	source   FrameSource
	cfg      Config
	analyzer Analyzer
	limiter  *rate.Limiter
	logger   loggingpkg.ServiceLogger
	metrics  *Metrics

	seq      uint64
	frames   int64
	failures int

	closeOnce sync.Once
	closeErr  error
}

// Open starts the frame source named by cfg.Source.
func Open(ctx context.Context, cfg Config) (FrameSource, error) {
	switch cfg.Source {
	case SourceV4L2, "":
		return OpenV4L2(ctx, V4L2Config{
			Path:       cfg.Path,
			FFmpegPath: cfg.FFmpegPath,
			Width:      cfg.Width,
			Height:     cfg.Height,
			FPS:        cfg.FPS,
		})
	case SourceSynthetic:
		return NewSyntheticSource(SyntheticConfig{
			Width:  cfg.Width,
			Height: cfg.Height,
			FPS:    cfg.FPS,
			Period: cfg.FPS * 5,
		}), nil
	default:
		return nil, fmt.Errorf("%w: %q", errspkg.ErrUnknownSource, cfg.Source)
	}
}

// New opens the camera and binds it to l.
func New(ctx context.Context, l device.Link, cfg Config, opts ...Option) (*Device, error) {
	if l == nil {
		return nil, errspkg.ErrLinkRequired
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = loggingpkg.Nop()
	}

	src := o.source
	if src == nil {
		opened, err := Open(ctx, cfg)
		if err != nil {
			return nil, err
		}
		src = opened
	}

	limit := rate.Inf
	if cfg.SummaryInterval > 0 {
		limit = rate.Every(cfg.SummaryInterval)
	}

	d := &Device{
		link:   l,
		source: src,
		cfg:    cfg,
		analyzer: Analyzer{
			NearThresholdMM: uint16(cfg.NearThresholdMM),
			PresenceRatio:   cfg.PresenceRatio,
		},
		limiter: rate.NewLimiter(limit, 1),
		logger:  o.logger.With(loggingpkg.LogFields{"device": "kinect", "channel": l.Name()}),
		metrics: o.metrics,
	}
	d.logger.Info("Kinect opened", loggingpkg.LogFields{
		"source": cfg.Source,
		"path":   cfg.Path,
		"mode":   fmt.Sprintf("%dx%d@%d", cfg.Width, cfg.Height, cfg.FPS),
	})
	return d, nil
}

// Loop captures until ctx is cancelled, MaxFrames is reached, or the camera
// fails. Failures are returned as *device.Error.
func (d *Device) Loop(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			d.logger.Info("Capture stopped", loggingpkg.LogFields{"frames": d.frames})
			return nil
		}
		if d.cfg.MaxFrames > 0 && d.frames >= d.cfg.MaxFrames {
			d.logger.Info("Frame budget reached", loggingpkg.LogFields{"frames": d.frames})
			return nil
		}

		frame, err := d.source.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				d.logger.Info("Capture stopped", loggingpkg.LogFields{"frames": d.frames})
				return nil
			}
			return device.NewError(frameErrorMessage(err), err)
		}
		d.frames++
		d.metrics.frame(d.link.Name())

		if err := d.process(ctx, frame); err != nil {
			return err
		}
	}
}

func frameErrorMessage(err error) string {
	switch {
	case errors.Is(err, ErrDisconnected):
		return ErrDisconnected.Error()
	case errors.Is(err, io.EOF):
		return "frame stream ended"
	case errors.Is(err, io.ErrUnexpectedEOF):
		return "frame stream truncated"
	default:
		return "frame read failed: " + err.Error()
	}
}

func (d *Device) process(ctx context.Context, frame DepthFrame) error {
	stats, changed := d.analyzer.Analyze(frame)

	if changed {
		if err := d.publish(ctx, EventPresence, frame, map[string]any{
			"present":    d.analyzer.Present(),
			"near_ratio": stats.NearRatio,
			"frame":      frame.Seq,
		}); err != nil {
			return err
		}
	}

	if d.limiter.AllowN(frame.Captured, 1) {
		return d.publish(ctx, EventDepth, frame, map[string]any{
			"frame":       frame.Seq,
			"width":       frame.Width,
			"height":      frame.Height,
			"min_mm":      int(stats.MinMM),
			"max_mm":      int(stats.MaxMM),
			"mean_mm":     stats.MeanMM,
			"valid_ratio": stats.ValidRatio,
			"near_ratio":  stats.NearRatio,
			"present":     d.analyzer.Present(),
		})
	}
	return nil
}

func (d *Device) publish(ctx context.Context, eventType string, frame DepthFrame, fields map[string]any) error {
	ev := link.Event{
		Type:      eventType,
		Sequence:  d.seq,
		Timestamp: frame.Captured,
		Fields:    fields,
	}
	d.seq++

	if err := d.link.Publish(ctx, ev); err != nil {
		d.failures++
		d.metrics.event(d.link.Name(), eventType, false)
		d.logger.Error("Publish failed", err, loggingpkg.LogFields{
			"event_type": eventType,
			"failures":   d.failures,
		})
		if d.failures > d.cfg.MaxPublishFailures {
			return device.NewError(fmt.Sprintf("link %s unavailable after %d failed publishes", d.link.Name(), d.failures), err)
		}
		return nil
	}

	d.failures = 0
	d.metrics.event(d.link.Name(), eventType, true)
	return nil
}

// Close stops the frame source. Only the first call does any work.
func (d *Device) Close() error {
	d.closeOnce.Do(func() {
		d.closeErr = d.source.Close()
		d.logger.Debug("Kinect closed", loggingpkg.LogFields{"frames": d.frames})
	})
	return d.closeErr
}

// Factory returns a device.Factory opening a Kinect with cfg.
func Factory(cfg Config, opts ...Option) device.Factory {
	return func(ctx context.Context, l device.Link) (device.Device, error) {
		d, err := New(ctx, l, cfg, opts...)
		if err != nil {
			return nil, err
		}
		return d, nil
	}
}

// Metrics counts what the driver does.
type Metrics struct {
	frames *prometheus.CounterVec
	events *prometheus.CounterVec
}

// NewMetrics registers the driver collectors on registerer. Registering
// twice reuses the existing collectors.
func NewMetrics(registerer prometheus.Registerer) (*Metrics, error) {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	frames, err := registerCounterVec(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sensornode",
		Subsystem: "device",
		Name:      "frames_total",
		Help:      "Depth frames read from the camera.",
	}, []string{"channel"}))
	if err != nil {
		return nil, err
	}
	events, err := registerCounterVec(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sensornode",
		Subsystem: "device",
		Name:      "events_total",
		Help:      "Events handed to the link, by type and outcome.",
	}, []string{"channel", "event_type", "outcome"}))
	if err != nil {
		return nil, err
	}
	return &Metrics{frames: frames, events: events}, nil
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

func (m *Metrics) frame(channel string) {
	if m == nil {
		return
	}
	m.frames.WithLabelValues(channel).Inc()
}

func (m *Metrics) event(channel, eventType string, ok bool) {
	if m == nil {
		return
	}
	outcome := "published"
	if !ok {
		outcome = "failed"
	}
	m.events.WithLabelValues(channel, eventType, outcome).Inc()
}

// Package link provides the named publish endpoint a sensor device writes
// to. A Link owns one Watermill publisher obtained from the transport
// registry and publishes every event on the channel named after the sensor.
package link

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/components/metrics"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	errspkg "github.com/drblury/sensornode/internal/runtime/errors"
	idspkg "github.com/drblury/sensornode/internal/runtime/ids"
	loggingpkg "github.com/drblury/sensornode/internal/runtime/logging"
	metadatapkg "github.com/drblury/sensornode/internal/runtime/metadata"
	"github.com/drblury/sensornode/transport"
)

const tracerName = "github.com/drblury/sensornode/link"

type options struct {
	registry   *transport.Registry
	publisher  message.Publisher
	caps       *transport.Capabilities
	registerer prometheus.Registerer
	tracer     trace.Tracer
	now        func() time.Time
}

// Option customises New.
type Option func(*options)

// WithRegistry builds the publisher from r instead of transport.DefaultRegistry.
func WithRegistry(r *transport.Registry) Option {
	return func(o *options) { o.registry = r }
}

// WithPublisher skips the registry and uses pub directly. The Link takes
// ownership and closes pub on Close.
func WithPublisher(pub message.Publisher, caps transport.Capabilities) Option {
	return func(o *options) {
		o.publisher = pub
		o.caps = &caps
	}
}

// WithMetrics records link and publisher metrics on registerer.
func WithMetrics(registerer prometheus.Registerer) Option {
	return func(o *options) { o.registerer = registerer }
}

// WithTracer overrides the global OpenTelemetry tracer.
func WithTracer(t trace.Tracer) Option {
	return func(o *options) { o.tracer = t }
}

// WithClock overrides time.Now for event timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// Link is a named publish endpoint. It is safe for concurrent use.
type Link struct {
	name      string
	session   string
	publisher message.Publisher
	caps      transport.Capabilities
	logger    loggingpkg.ServiceLogger
	metrics   *Metrics
	tracer    trace.Tracer
	now       func() time.Time

	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once
	closeErr  error
}

// New establishes the channel for name. cfg selects the transport; it may be
// nil when WithPublisher is given.
func New(ctx context.Context, name string, cfg transport.Config, logger loggingpkg.ServiceLogger, opts ...Option) (*Link, error) {
	if name == "" {
		return nil, errspkg.ErrSensorNameRequired
	}
	if logger == nil {
		logger = loggingpkg.Nop()
	}

	o := options{registry: transport.DefaultRegistry, now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	if o.tracer == nil {
		o.tracer = otel.Tracer(tracerName)
	}

	publisher, caps := o.publisher, transport.Capabilities{}
	if publisher != nil {
		caps = *o.caps
	} else {
		if cfg == nil {
			return nil, errspkg.ErrConfigRequired
		}
		built, err := o.registry.Build(ctx, cfg, loggingpkg.NewWatermillAdapter(logger))
		if err != nil {
			return nil, err
		}
		publisher = built.Publisher
		caps = o.registry.GetCapabilities(cfg.GetPubSubSystem())
	}
	if provider, ok := publisher.(transport.CapabilitiesProvider); ok {
		caps = provider.Capabilities()
	}

	l := &Link{
		name:      name,
		session:   idspkg.CreateULID(),
		publisher: publisher,
		caps:      caps,
		logger:    logger.With(loggingpkg.LogFields{"channel": name, "transport": caps.Name}),
		tracer:    o.tracer,
		now:       o.now,
	}

	if o.registerer != nil {
		m, err := NewMetrics(o.registerer)
		if err != nil {
			_ = publisher.Close()
			return nil, fmt.Errorf("register link metrics: %w", err)
		}
		l.metrics = m

		decorated, err := metrics.NewPrometheusMetricsBuilder(o.registerer, "sensornode", "transport").DecoratePublisher(publisher)
		if err != nil {
			_ = publisher.Close()
			return nil, fmt.Errorf("decorate publisher: %w", err)
		}
		l.publisher = decorated
	}

	l.logger.Info("Link established", loggingpkg.LogFields{
		"session":          l.session,
		"max_message_size": caps.MaxMessageSize,
	})
	return l, nil
}

// Name returns the channel identifier the Link publishes on.
func (l *Link) Name() string {
	return l.name
}

// Session is the correlation id stamped on events that carry none.
func (l *Link) Session() string {
	return l.session
}

// Capabilities describes the underlying transport.
func (l *Link) Capabilities() transport.Capabilities {
	return l.caps
}

// Publish sends ev on the Link's channel.
func (l *Link) Publish(ctx context.Context, ev Event) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if ev.Type == "" {
		return errspkg.ErrEventTypeRequired
	}

	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return errspkg.ErrLinkClosed
	}

	ctx, span := l.tracer.Start(ctx, "link.publish",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("messaging.destination.name", l.name),
			attribute.String("messaging.system", l.caps.Name),
			attribute.String("sensor.event_type", ev.Type),
			attribute.Int64("sensor.event_sequence", int64(ev.Sequence)),
		),
	)
	defer span.End()

	msg, err := l.newMessage(ctx, ev)
	if err != nil {
		l.metrics.failed(l.name, "encode")
		span.RecordError(err)
		span.SetStatus(codes.Error, "encode")
		return err
	}
	span.SetAttributes(attribute.String("messaging.message.id", msg.UUID))

	if !l.caps.Fits(len(msg.Payload)) {
		err := fmt.Errorf("%w: %d bytes, %s allows %d", errspkg.ErrMessageTooLarge, len(msg.Payload), l.caps.Name, l.caps.MaxMessageSize)
		l.metrics.failed(l.name, "too_large")
		span.RecordError(err)
		span.SetStatus(codes.Error, "too large")
		return err
	}

	if err := l.publisher.Publish(l.name, msg); err != nil {
		l.metrics.failed(l.name, "transport")
		span.RecordError(err)
		span.SetStatus(codes.Error, "publish")
		l.logger.Debug("Publish failed", loggingpkg.LogFields{"event_type": ev.Type, "error": err.Error()})
		return fmt.Errorf("publish %s on %s: %w", ev.Type, l.name, err)
	}

	l.metrics.published(l.name, ev.Type, len(msg.Payload))
	l.logger.Trace("Event published", loggingpkg.LogFields{
		"event_type": ev.Type,
		"sequence":   ev.Sequence,
		"uuid":       msg.UUID,
	})
	return nil
}

func (l *Link) newMessage(ctx context.Context, ev Event) (*message.Message, error) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = l.now()
	}

	payload, err := EncodePayload(l.name, ev)
	if err != nil {
		return nil, err
	}

	id := idspkg.CreateULID()
	md := metadatapkg.ForEvent(l.name, ev.Type).WithAll(metadatapkg.New(
		metadatapkg.KeyCEID, id,
		metadatapkg.KeyCETime, ev.Timestamp.UTC().Format(time.RFC3339Nano),
		metadatapkg.KeySequence, strconv.FormatUint(ev.Sequence, 10),
		metadatapkg.KeySchema, PayloadSchema,
		metadatapkg.KeyCorrelationID, l.correlationID(ctx),
	))
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		md[metadatapkg.KeyTraceID] = sc.TraceID().String()
		md[metadatapkg.KeySpanID] = sc.SpanID().String()
	}

	msg := message.NewMessage(id, payload)
	msg.Metadata = metadatapkg.ToWatermill(md)
	msg.SetContext(ctx)
	return msg, nil
}

func (l *Link) correlationID(ctx context.Context) string {
	if id := CorrelationID(ctx); id != "" {
		return id
	}
	return l.session
}

// Close releases the publisher. Only the first call does any work; later
// calls return the same result. Close waits for in-flight publishes.
func (l *Link) Close() error {
	l.closeOnce.Do(func() {
		l.mu.Lock()
		l.closed = true
		l.mu.Unlock()

		l.closeErr = l.publisher.Close()
		if l.closeErr != nil {
			l.logger.Error("Link close failed", l.closeErr, nil)
			return
		}
		l.logger.Debug("Link closed", nil)
	})
	return l.closeErr
}

type correlationKey struct{}

// WithCorrelationID attaches a correlation id that Publish stamps on events.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey{}, id)
}

// CorrelationID returns the id set by WithCorrelationID, if any.
func CorrelationID(ctx context.Context) string {
	id, _ := ctx.Value(correlationKey{}).(string)
	return id
}

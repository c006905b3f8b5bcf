// Package jetstream provides a NATS JetStream transport. Events are stored
// in a stream so consumers that join late can replay them.
package jetstream

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/nats-io/nats.go"

	"github.com/drblury/sensornode/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "nats-jetstream"

const (
	// DefaultStreamName is used when no stream is configured.
	DefaultStreamName = "SENSORS"

	// DefaultMaxAge bounds how long events stay in the stream.
	DefaultMaxAge = 7 * 24 * time.Hour
)

// JetStream is the subset of nats.JetStreamContext the publisher needs.
type JetStream interface {
	AddStream(cfg *nats.StreamConfig, opts ...nats.JSOpt) (*nats.StreamInfo, error)
	UpdateStream(cfg *nats.StreamConfig, opts ...nats.JSOpt) (*nats.StreamInfo, error)
	PublishMsg(m *nats.Msg, opts ...nats.PubOpt) (*nats.PubAck, error)
}

// Connector opens the JetStream context. The returned close func releases
// the underlying connection.
type Connector func(cfg Config) (JetStream, func(), error)

// Connect allows overriding the NATS connection for testing.
var Connect Connector = func(cfg Config) (JetStream, func(), error) {
	nc, err := nats.Connect(cfg.URL, nats.Name(cfg.ClientName))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}
	return js, nc.Close, nil
}

func init() {
	Register()
}

// Register registers the JetStream transport with the default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.NATSJetStreamCapabilities)
}

// Build creates a new JetStream publisher.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	clientName := "sensor"
	if name := cfg.GetSensorName(); name != "" {
		clientName += "-" + name
	}

	p, err := New(Config{
		URL:        cfg.GetNATSURL(),
		StreamName: cfg.GetJetStreamStream(),
		ClientName: clientName,
	}, logger)
	if err != nil {
		return transport.Transport{}, err
	}

	return transport.Transport{Publisher: p}, nil
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.NATSJetStreamCapabilities
}

// Config holds JetStream-specific configuration.
type Config struct {
	URL        string
	StreamName string
	ClientName string

	// MaxAge is the stream retention. Zero means DefaultMaxAge.
	MaxAge time.Duration

	// Replicas is the number of stream replicas (for clustering).
	Replicas int
}

func (c Config) withDefaults() Config {
	if c.StreamName == "" {
		c.StreamName = DefaultStreamName
	}
	if c.MaxAge <= 0 {
		c.MaxAge = DefaultMaxAge
	}
	if c.Replicas <= 0 {
		c.Replicas = 1
	}
	return c
}

// Publisher publishes events into a JetStream stream.
type Publisher struct {
	js      JetStream
	release func()
	config  Config
	logger  watermill.LoggerAdapter

	mu     sync.RWMutex
	closed bool
}

// New connects and makes sure the stream exists.
func New(cfg Config, logger watermill.LoggerAdapter) (*Publisher, error) {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = watermill.NopLogger{}
	}

	js, release, err := Connect(cfg)
	if err != nil {
		return nil, err
	}
	if release == nil {
		release = func() {}
	}

	p := &Publisher{js: js, release: release, config: cfg, logger: logger}
	if err := p.ensureStream(); err != nil {
		release()
		return nil, fmt.Errorf("failed to ensure stream: %w", err)
	}
	return p, nil
}

func (p *Publisher) streamConfig() *nats.StreamConfig {
	return &nats.StreamConfig{
		Name:      p.config.StreamName,
		Subjects:  []string{p.config.StreamName + ".>"},
		MaxAge:    p.config.MaxAge,
		Replicas:  p.config.Replicas,
		Retention: nats.LimitsPolicy,
	}
}

func (p *Publisher) ensureStream() error {
	streamCfg := p.streamConfig()
	if _, err := p.js.AddStream(streamCfg); err == nil {
		return nil
	}
	if _, err := p.js.UpdateStream(streamCfg); err != nil {
		return err
	}
	p.logger.Info("JetStream stream updated", watermill.LogFields{"stream": streamCfg.Name})
	return nil
}

// Subject maps a topic onto the stream's subject space.
func (p *Publisher) Subject(topic string) string {
	return p.config.StreamName + "." + subjectToken(topic)
}

// subjectToken keeps a topic to a single subject token.
func subjectToken(topic string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\n', '\r':
			return '_'
		}
		return r
	}, topic)
}

// Publish stores each message in the stream. The message UUID doubles as
// the JetStream dedup ID.
func (p *Publisher) Publish(topic string, messages ...*message.Message) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return fmt.Errorf("transport is closed")
	}

	subject := p.Subject(topic)
	for _, msg := range messages {
		headers := nats.Header{}
		for k, v := range msg.Metadata {
			headers.Set(k, v)
		}

		_, err := p.js.PublishMsg(&nats.Msg{
			Subject: subject,
			Data:    msg.Payload,
			Header:  headers,
		}, nats.MsgId(msg.UUID))
		if err != nil {
			return fmt.Errorf("failed to publish to JetStream: %w", err)
		}
	}
	return nil
}

// Close releases the NATS connection. It is safe to call more than once.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	p.release()
	return nil
}

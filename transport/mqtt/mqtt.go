// Package mqtt provides an MQTT transport. MQTT 3.1.1 has no message
// headers, so each event travels as a JSON envelope carrying its metadata.
package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/drblury/sensornode/internal/runtime/jsoncodec"
	"github.com/drblury/sensornode/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "mqtt"

const (
	// TopicPrefix namespaces every sensor topic.
	TopicPrefix = "sensors/"

	// StatusOnline and StatusOffline are retained on the status topic.
	StatusOnline  = "online"
	StatusOffline = "offline"

	// DefaultTimeout bounds connect and every publish.
	DefaultTimeout = 5 * time.Second
)

// ErrClosed is returned by Publish after Close.
var ErrClosed = errors.New("mqtt: publisher closed")

// Client is the subset of the paho client the publisher uses.
type Client interface {
	Connect() pahomqtt.Token
	Publish(topic string, qos byte, retained bool, payload interface{}) pahomqtt.Token
	Disconnect(quiesce uint)
}

// ClientFactory allows overriding the client creation for testing.
var ClientFactory = func(opts *pahomqtt.ClientOptions) Client {
	return pahomqtt.NewClient(opts)
}

func init() {
	Register()
}

// Register registers the MQTT transport with the default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.MQTTCapabilities)
}

// Build connects to the broker.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	p, err := New(Config{
		Broker:     cfg.GetMQTTBroker(),
		ClientID:   cfg.GetMQTTClientID(),
		Username:   cfg.GetMQTTUsername(),
		Password:   cfg.GetMQTTPassword(),
		QoS:        cfg.GetMQTTQoS(),
		SensorName: cfg.GetSensorName(),
	}, logger)
	if err != nil {
		return transport.Transport{}, err
	}
	return transport.Transport{Publisher: p}, nil
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.MQTTCapabilities
}

// Config holds MQTT-specific configuration.
type Config struct {
	Broker     string
	ClientID   string
	Username   string
	Password   string
	QoS        byte
	SensorName string
	Timeout    time.Duration
}

func (c Config) withDefaults() Config {
	if c.ClientID == "" {
		c.ClientID = "sensor"
		if c.SensorName != "" {
			c.ClientID += "-" + c.SensorName
		}
	}
	if c.QoS > 2 {
		c.QoS = 1
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	return c
}

// EventTopic is where events for a topic are published.
func EventTopic(topic string) string {
	return TopicPrefix + topic + "/events"
}

// StatusTopic carries the retained online/offline state of a sensor.
func StatusTopic(sensor string) string {
	return TopicPrefix + sensor + "/status"
}

func (c Config) clientOptions() *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions().
		AddBroker(c.Broker).
		SetClientID(c.ClientID).
		SetConnectTimeout(c.Timeout).
		SetAutoReconnect(true).
		SetOrderMatters(true)
	if c.Username != "" {
		opts.SetUsername(c.Username)
		opts.SetPassword(c.Password)
	}
	if c.SensorName != "" {
		opts.SetWill(StatusTopic(c.SensorName), StatusOffline, c.QoS, true)
	}
	return opts
}

// Envelope is the wire form of one event.
type Envelope struct {
	UUID     string            `json:"uuid"`
	Metadata map[string]string `json:"metadata,omitempty"`
	Payload  json.RawMessage   `json:"payload,omitempty"`
	Raw      []byte            `json:"raw,omitempty"`
}

// NewEnvelope wraps msg. JSON payloads are embedded, others go to Raw.
func NewEnvelope(msg *message.Message) Envelope {
	env := Envelope{UUID: msg.UUID, Metadata: msg.Metadata}
	switch {
	case len(msg.Payload) == 0:
	case jsoncodec.Valid(msg.Payload):
		env.Payload = json.RawMessage(msg.Payload)
	default:
		env.Raw = msg.Payload
	}
	return env
}

// Publisher publishes events to an MQTT broker.
type Publisher struct {
	client Client
	config Config
	logger watermill.LoggerAdapter

	mu     sync.Mutex
	closed bool
}

// New connects to the broker and announces the sensor as online.
func New(cfg Config, logger watermill.LoggerAdapter) (*Publisher, error) {
	if cfg.Broker == "" {
		return nil, fmt.Errorf("mqtt: broker is required")
	}
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = watermill.NopLogger{}
	}

	client := ClientFactory(cfg.clientOptions())
	if err := wait(client.Connect(), cfg.Timeout); err != nil {
		return nil, fmt.Errorf("mqtt: connect %s: %w", cfg.Broker, err)
	}

	p := &Publisher{client: client, config: cfg, logger: logger}
	if cfg.SensorName != "" {
		if err := p.status(StatusOnline); err != nil {
			client.Disconnect(250)
			return nil, err
		}
	}

	logger.Info("MQTT client connected", watermill.LogFields{
		"broker":    cfg.Broker,
		"client_id": cfg.ClientID,
	})
	return p, nil
}

func (p *Publisher) status(state string) error {
	if err := wait(p.client.Publish(StatusTopic(p.config.SensorName), p.config.QoS, true, state), p.config.Timeout); err != nil {
		return fmt.Errorf("mqtt: publish status %s: %w", state, err)
	}
	return nil
}

// Publish sends each message as a JSON envelope on the event topic.
func (p *Publisher) Publish(topic string, messages ...*message.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}

	target := EventTopic(topic)
	for _, msg := range messages {
		body, err := jsoncodec.Marshal(NewEnvelope(msg))
		if err != nil {
			return fmt.Errorf("mqtt: encode event %s: %w", msg.UUID, err)
		}
		if err := wait(p.client.Publish(target, p.config.QoS, false, body), p.config.Timeout); err != nil {
			return fmt.Errorf("mqtt: publish event %s: %w", msg.UUID, err)
		}
	}
	return nil
}

// Close marks the sensor offline and disconnects. It is safe to call twice.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true

	var err error
	if p.config.SensorName != "" {
		err = p.status(StatusOffline)
	}
	p.client.Disconnect(250)
	return err
}

func wait(token pahomqtt.Token, timeout time.Duration) error {
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("timed out after %s", timeout)
	}
	return token.Error()
}

// Package nats provides a NATS Core transport. Events are fire-and-forget
// subjects named after the sensor.
package nats

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	natsgo "github.com/nats-io/nats.go"

	"github.com/drblury/sensornode/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "nats"

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(cfg nats.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return nats.NewPublisher(cfg, logger)
}

func init() {
	Register()
}

// Register registers the NATS transport with the default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.NATSCapabilities)
}

// Build creates a new NATS publisher.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	publisher, err := PublisherFactory(publisherConfig(cfg), logger)
	if err != nil {
		return transport.Transport{}, err
	}
	return transport.Transport{Publisher: publisher}, nil
}

func publisherConfig(cfg transport.Config) nats.PublisherConfig {
	return nats.PublisherConfig{
		URL:       cfg.GetNATSURL(),
		Marshaler: &nats.NATSMarshaler{},
		NatsOptions: []natsgo.Option{
			natsgo.Name(clientName(cfg.GetSensorName())),
		},
		JetStream: nats.JetStreamConfig{Disabled: true},
	}
}

func clientName(sensor string) string {
	if sensor == "" {
		return "sensor"
	}
	return "sensor-" + sensor
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.NATSCapabilities
}

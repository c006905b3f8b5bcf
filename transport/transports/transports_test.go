package transports

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/drblury/sensornode/transport"
)

func TestBuiltinsRegistered(t *testing.T) {
	for _, name := range []string{
		"aws", "aws-sqs", "channel", "http", "io", "kafka", "mqtt",
		"nats", "nats-jetstream", "postgres", "postgresql", "rabbitmq", "sqlite",
	} {
		assert.True(t, transport.DefaultRegistry.Has(name), "transport %q not registered", name)
	}
}

func TestBuiltinCapabilitiesNamed(t *testing.T) {
	for _, name := range transport.DefaultRegistry.Names() {
		if name == "postgresql" {
			continue
		}
		assert.Equal(t, name, transport.GetCapabilities(name).Name)
	}
}

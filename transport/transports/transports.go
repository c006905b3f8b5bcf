// Package transports imports all built-in transports for auto-registration.
// Import this package to have all transports registered with the default registry.
package transports

import (
	_ "github.com/drblury/sensornode/transport/aws"
	_ "github.com/drblury/sensornode/transport/channel"
	_ "github.com/drblury/sensornode/transport/http"
	_ "github.com/drblury/sensornode/transport/io"
	_ "github.com/drblury/sensornode/transport/jetstream"
	_ "github.com/drblury/sensornode/transport/kafka"
	_ "github.com/drblury/sensornode/transport/mqtt"
	_ "github.com/drblury/sensornode/transport/nats"
	_ "github.com/drblury/sensornode/transport/postgres"
	_ "github.com/drblury/sensornode/transport/rabbitmq"
	_ "github.com/drblury/sensornode/transport/sqlite"
)

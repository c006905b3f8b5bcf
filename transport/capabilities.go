package transport

// Capabilities describes what a publishing backend guarantees for outgoing
// sensor events.
type Capabilities struct {
	// Name is the human-readable name of the transport.
	Name string

	// SupportsOrdering indicates events from one sensor arrive in publish order.
	SupportsOrdering bool

	// SupportsTracing indicates the transport carries headers end to end, so
	// trace and correlation ids reach consumers.
	SupportsTracing bool

	// SupportsBatching indicates several events can go out in one call.
	SupportsBatching bool

	// SupportsPartitioning indicates events are spread over partitions by key.
	SupportsPartitioning bool

	// Durable indicates published events survive a restart of the receiving side.
	Durable bool

	// MaxMessageSize is the maximum encoded event size in bytes (0 = unlimited/unknown).
	MaxMessageSize int64
}

// Fits reports whether a payload of size bytes can be published.
func (c Capabilities) Fits(size int) bool {
	return c.MaxMessageSize <= 0 || int64(size) <= c.MaxMessageSize
}

// PreservesHeaders reports whether event metadata reaches consumers.
func (c Capabilities) PreservesHeaders() bool {
	return c.SupportsTracing
}

// Predefined capability sets for the built-in transports.
var (
	ChannelCapabilities = Capabilities{
		Name:             "channel",
		SupportsOrdering: true,
		SupportsTracing:  true,
	}

	KafkaCapabilities = Capabilities{
		Name:                 "kafka",
		SupportsOrdering:     true,
		SupportsTracing:      true,
		SupportsBatching:     true,
		SupportsPartitioning: true,
		Durable:              true,
		MaxMessageSize:       1048576, // Default 1MB
	}

	RabbitMQCapabilities = Capabilities{
		Name:             "rabbitmq",
		SupportsOrdering: true,
		SupportsTracing:  true,
		Durable:          true,
		MaxMessageSize:   134217728, // 128MB broker default
	}

	NATSCapabilities = Capabilities{
		Name:            "nats",
		SupportsTracing: true,
		MaxMessageSize:  1048576, // Default 1MB
	}

	NATSJetStreamCapabilities = Capabilities{
		Name:             "nats-jetstream",
		SupportsOrdering: true,
		SupportsTracing:  true,
		Durable:          true,
		MaxMessageSize:   1048576, // Default 1MB
	}

	AWSCapabilities = Capabilities{
		Name:             "aws",
		SupportsTracing:  true,
		SupportsBatching: true,
		Durable:          true,
		MaxMessageSize:   262144, // 256KB
	}

	AWSSQSCapabilities = Capabilities{
		Name:             "aws-sqs",
		SupportsTracing:  true,
		SupportsBatching: true,
		Durable:          true,
		MaxMessageSize:   262144, // 256KB
	}

	SQLiteCapabilities = Capabilities{
		Name:             "sqlite",
		SupportsOrdering: true,
		SupportsTracing:  true,
		SupportsBatching: true,
		Durable:          true,
	}

	PostgresCapabilities = Capabilities{
		Name:             "postgres",
		SupportsOrdering: true,
		SupportsTracing:  true,
		SupportsBatching: true,
		Durable:          true,
	}

	HTTPCapabilities = Capabilities{
		Name:            "http",
		SupportsTracing: true,
	}

	IOCapabilities = Capabilities{
		Name:             "io",
		SupportsOrdering: true,
		SupportsTracing:  true,
		Durable:          true,
	}

	MQTTCapabilities = Capabilities{
		Name:             "mqtt",
		SupportsOrdering: true,
		SupportsTracing:  true,
		MaxMessageSize:   268435455, // MQTT 3.1.1 remaining-length limit
	}
)

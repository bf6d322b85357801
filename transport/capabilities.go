package transport

// Capabilities describes what a transport backend offers. Clients and
// servers consult it to decide whether they must emulate a feature.
type Capabilities struct {
	// SupportsRequestReply indicates requests fail fast when nobody answers.
	// Otherwise a request to an unserved type ends in a timeout.
	SupportsRequestReply bool

	// SupportsOrdering indicates events from one sender arrive in order.
	SupportsOrdering bool

	// SupportsTracing indicates trace ids survive the hop.
	SupportsTracing bool

	// DetectsConnectionLoss indicates the adapter notices a dropped
	// connection without a heartbeat.
	DetectsConnectionLoss bool

	// SupportsTargeting indicates messages for one peer are routed only to
	// that peer instead of being filtered on receipt.
	SupportsTargeting bool

	// Durable indicates messages survive a broker restart.
	Durable bool

	// CompetingConsumers indicates a request is handled by one of several
	// serving peers rather than all of them.
	CompetingConsumers bool

	// MaxMessageSize is the maximum envelope size in bytes (0 = unlimited/unknown).
	MaxMessageSize int64

	// Name is the human-readable name of the transport.
	Name string
}

// RequiresHeartbeat reports whether liveness has to come from heartbeats.
func (c Capabilities) RequiresHeartbeat() bool {
	return !c.DetectsConnectionLoss
}

// RequiresTargetFiltering reports whether receivers must drop messages
// addressed to other peers.
func (c Capabilities) RequiresTargetFiltering() bool {
	return !c.SupportsTargeting
}

// Fits reports whether an envelope of size bytes can be sent.
func (c Capabilities) Fits(size int) bool {
	return c.MaxMessageSize <= 0 || int64(size) <= c.MaxMessageSize
}

// Predefined capability sets for the bundled transports.
var (
	// MemoryCapabilities for the in-process reference transport.
	MemoryCapabilities = Capabilities{
		Name:                  "memory",
		SupportsRequestReply:  true,
		SupportsOrdering:      true,
		SupportsTracing:       true,
		DetectsConnectionLoss: true,
		SupportsTargeting:     true,
		CompetingConsumers:    true,
	}

	// ChannelCapabilities for the watermill Go channel transport.
	ChannelCapabilities = Capabilities{
		Name:             "channel",
		SupportsOrdering: true,
		SupportsTracing:  true,
	}

	// KafkaCapabilities for Apache Kafka transport.
	KafkaCapabilities = Capabilities{
		Name:               "kafka",
		SupportsOrdering:   true,
		SupportsTracing:    true,
		Durable:            true,
		CompetingConsumers: true,
		MaxMessageSize:     1048576, // Default 1MB
	}

	// RabbitMQCapabilities for RabbitMQ/AMQP transport.
	RabbitMQCapabilities = Capabilities{
		Name:               "rabbitmq",
		SupportsOrdering:   true,
		SupportsTracing:    true,
		Durable:            true,
		CompetingConsumers: true,
	}

	// NATSCapabilities for NATS Core transport.
	NATSCapabilities = Capabilities{
		Name:               "nats",
		SupportsTracing:    true,
		CompetingConsumers: true,
		MaxMessageSize:     1048576, // Default 1MB
	}

	// AWSCapabilities for AWS SNS/SQS transport.
	AWSCapabilities = Capabilities{
		Name:               "aws",
		SupportsTracing:    true,
		Durable:            true,
		CompetingConsumers: true,
		MaxMessageSize:     262144, // 256KB
	}

	// HTTPCapabilities for the watermill HTTP transport.
	HTTPCapabilities = Capabilities{
		Name:            "http",
		SupportsTracing: true,
	}

	// WebSocketCapabilities for the websocket transport.
	WebSocketCapabilities = Capabilities{
		Name:                  "websocket",
		SupportsOrdering:      true,
		SupportsTracing:       true,
		DetectsConnectionLoss: true,
		SupportsTargeting:     true,
	}
)

// GetCapabilities returns the capabilities registered for scheme.
// Returns a zero Capabilities struct if the scheme is unknown.
func GetCapabilities(scheme string) Capabilities {
	return DefaultRegistry.GetCapabilities(scheme)
}

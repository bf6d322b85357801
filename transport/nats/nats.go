// Package nats provides a NATS Core transport for "nats://" connection
// strings.
package nats

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	nc "github.com/nats-io/nats.go"

	"github.com/drblury/contractflow/transport"
	"github.com/drblury/contractflow/transport/pubsub"
)

// Scheme is the connection string scheme served by this package.
const Scheme = "nats"

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(cfg nats.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return nats.NewPublisher(cfg, logger)
}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(cfg nats.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return nats.NewSubscriber(cfg, logger)
}

func init() {
	Register()
}

// Register adds the NATS transport to the default registry.
func Register() {
	transport.RegisterWithCapabilities(Scheme, pubsub.Factory(Scheme, Dial, transport.NATSCapabilities), transport.NATSCapabilities)
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.NATSCapabilities
}

// ServerURL strips the query parameters the transport consumes itself.
func ServerURL(ep transport.Endpoint) string {
	u := *ep.URL
	u.RawQuery = ""
	return u.String()
}

// Dial prepares publisher and subscriber configs for core NATS.
func Dial(_ context.Context, ep transport.Endpoint) (pubsub.Dialer, error) {
	return &dialer{
		url:    ServerURL(ep),
		logger: ep.Logger,
		options: []nc.Option{
			nc.Name(pubsub.TopicPrefix + "-" + ep.PeerID),
			nc.MaxReconnects(-1),
		},
	}, nil
}

type dialer struct {
	url     string
	logger  watermill.LoggerAdapter
	options []nc.Option
}

func (d *dialer) Publisher(context.Context) (message.Publisher, error) {
	return PublisherFactory(
		nats.PublisherConfig{
			URL:         d.url,
			NatsOptions: d.options,
			Marshaler:   &nats.NATSMarshaler{},
			JetStream:   nats.JetStreamConfig{Disabled: true},
		},
		d.logger,
	)
}

// Subscriber uses queue as the NATS queue group; an empty queue subscribes
// every peer.
func (d *dialer) Subscriber(_ context.Context, queue string) (message.Subscriber, error) {
	return SubscriberFactory(
		nats.SubscriberConfig{
			URL:              d.url,
			NatsOptions:      d.options,
			QueueGroupPrefix: queue,
			Unmarshaler:      &nats.NATSMarshaler{},
			JetStream:        nats.JetStreamConfig{Disabled: true},
		},
		d.logger,
	)
}

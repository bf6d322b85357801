// Package rabbitmq provides a RabbitMQ/AMQP transport for "amqp://" and
// "amqps://" connection strings.
package rabbitmq

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-amqp/v3/pkg/amqp"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/contractflow/transport"
	"github.com/drblury/contractflow/transport/pubsub"
)

// Schemes served by this package.
var Schemes = []string{"amqp", "amqps"}

// ConnectionFactory allows overriding the connection creation for testing.
var ConnectionFactory = func(cfg amqp.ConnectionConfig, logger watermill.LoggerAdapter) (*amqp.ConnectionWrapper, error) {
	return amqp.NewConnection(cfg, logger)
}

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(cfg amqp.Config, logger watermill.LoggerAdapter, conn *amqp.ConnectionWrapper) (message.Publisher, error) {
	return amqp.NewPublisherWithConnection(cfg, logger, conn)
}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(cfg amqp.Config, logger watermill.LoggerAdapter, conn *amqp.ConnectionWrapper) (message.Subscriber, error) {
	return amqp.NewSubscriberWithConnection(cfg, logger, conn)
}

func init() {
	Register()
}

// Register adds the RabbitMQ transport to the default registry.
func Register() {
	for _, scheme := range Schemes {
		transport.RegisterWithCapabilities(scheme, pubsub.Factory(scheme, Dial, transport.RabbitMQCapabilities), transport.RabbitMQCapabilities)
	}
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.RabbitMQCapabilities
}

// AMQPURI strips the query parameters the transport consumes itself.
func AMQPURI(ep transport.Endpoint) string {
	u := *ep.URL
	q := u.Query()
	q.Del("queue")
	u.RawQuery = q.Encode()
	return u.String()
}

// Dial opens one AMQP connection shared by the peer's publisher and
// subscribers.
func Dial(_ context.Context, ep transport.Endpoint) (pubsub.Dialer, error) {
	uri := AMQPURI(ep)
	conn, err := ConnectionFactory(amqp.ConnectionConfig{
		AmqpURI:   uri,
		TLSConfig: nil,
		Reconnect: amqp.DefaultReconnectConfig(),
	}, ep.Logger)
	if err != nil {
		return nil, err
	}
	return &dialer{uri: uri, peerID: ep.PeerID, logger: ep.Logger, conn: conn}, nil
}

type dialer struct {
	uri    string
	peerID string
	logger watermill.LoggerAdapter
	conn   *amqp.ConnectionWrapper
}

func (d *dialer) Publisher(context.Context) (message.Publisher, error) {
	return PublisherFactory(amqp.NewDurablePubSubConfig(d.uri, nil), d.logger, d.conn)
}

// Subscriber binds a queue to each topic's fanout exchange. Fan-out peers
// get a private auto-deleted queue; a shared queue name makes peers compete.
func (d *dialer) Subscriber(_ context.Context, queue string) (message.Subscriber, error) {
	return SubscriberFactory(SubscriberConfig(d.uri, queue, d.peerID), d.logger, d.conn)
}

// SubscriberConfig builds the AMQP config for queue.
func SubscriberConfig(uri, queue, peerID string) amqp.Config {
	if queue != "" {
		return amqp.NewDurablePubSubConfig(uri, amqp.GenerateQueueNameTopicNameWithSuffix(queue))
	}
	cfg := amqp.NewDurablePubSubConfig(uri, amqp.GenerateQueueNameTopicNameWithSuffix(pubsub.Sanitize(peerID)))
	cfg.Queue.Durable = false
	cfg.Queue.AutoDelete = true
	return cfg
}

// Close closes the shared connection.
func (d *dialer) Close() error {
	return d.conn.Close()
}

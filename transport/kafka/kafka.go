// Package kafka provides a Kafka transport. Connection strings look like
// "kafka://broker1:9092,broker2:9092?queue=my-servers".
package kafka

import (
	"context"
	"fmt"
	"strings"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v3/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/contractflow/transport"
	"github.com/drblury/contractflow/transport/pubsub"
)

// Scheme is the connection string scheme served by this package.
const Scheme = "kafka"

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(cfg kafka.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return kafka.NewPublisher(cfg, logger)
}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(cfg kafka.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return kafka.NewSubscriber(cfg, logger)
}

func init() {
	Register()
}

// Register adds the Kafka transport to the default registry.
func Register() {
	transport.RegisterWithCapabilities(Scheme, pubsub.Factory(Scheme, Dial, transport.KafkaCapabilities), transport.KafkaCapabilities)
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.KafkaCapabilities
}

// Brokers extracts the broker list from a parsed connection string. The
// "brokers" query parameter is appended to the host list.
func Brokers(ep transport.Endpoint) []string {
	var brokers []string
	for _, part := range strings.Split(ep.URL.Host, ",") {
		if part = strings.TrimSpace(part); part != "" {
			brokers = append(brokers, part)
		}
	}
	for _, extra := range ep.URL.Query()["brokers"] {
		for _, part := range strings.Split(extra, ",") {
			if part = strings.TrimSpace(part); part != "" {
				brokers = append(brokers, part)
			}
		}
	}
	return brokers
}

// Dial validates the broker list.
func Dial(_ context.Context, ep transport.Endpoint) (pubsub.Dialer, error) {
	brokers := Brokers(ep)
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka: no brokers in %q", ep.ConnectionString)
	}
	return &dialer{brokers: brokers, peerID: ep.PeerID, logger: ep.Logger}, nil
}

type dialer struct {
	brokers []string
	peerID  string
	logger  watermill.LoggerAdapter
}

func (d *dialer) Publisher(context.Context) (message.Publisher, error) {
	return PublisherFactory(
		kafka.PublisherConfig{
			Brokers:   d.brokers,
			Marshaler: kafka.DefaultMarshaler{},
		},
		d.logger,
	)
}

// Subscriber maps queue onto a consumer group. Fan-out subscribers get a
// group of their own so every peer sees every message.
func (d *dialer) Subscriber(_ context.Context, queue string) (message.Subscriber, error) {
	return SubscriberFactory(
		kafka.SubscriberConfig{
			Brokers:       d.brokers,
			Unmarshaler:   kafka.DefaultMarshaler{},
			ConsumerGroup: ConsumerGroup(queue, d.peerID),
		},
		d.logger,
	)
}

// ConsumerGroup returns the group for queue, or a per-peer group when
// queue is empty.
func ConsumerGroup(queue, peerID string) string {
	if queue != "" {
		return queue
	}
	return pubsub.TopicPrefix + "_peer_" + pubsub.Sanitize(peerID)
}

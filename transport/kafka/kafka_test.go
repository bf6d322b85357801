package kafka

import (
	"context"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v3/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/contractflow/transport"
)

type mockPublisher struct{}

func (m *mockPublisher) Publish(string, ...*message.Message) error { return nil }
func (m *mockPublisher) Close() error                              { return nil }

type mockSubscriber struct{}

func (m *mockSubscriber) Subscribe(context.Context, string) (<-chan *message.Message, error) {
	ch := make(chan *message.Message)
	close(ch)
	return ch, nil
}
func (m *mockSubscriber) Close() error { return nil }

func endpoint(t *testing.T, raw string) transport.Endpoint {
	t.Helper()
	u, err := transport.ParseConnectionString(raw)
	require.NoError(t, err)
	return transport.Endpoint{ConnectionString: raw, URL: u, PeerID: "peer-1", Logger: watermill.NopLogger{}}
}

func TestRegister(t *testing.T) {
	caps := transport.GetCapabilities(Scheme)
	assert.Equal(t, "kafka", caps.Name)
	assert.True(t, caps.Durable)
	assert.True(t, caps.SupportsTracing)
}

func TestCapabilities(t *testing.T) {
	assert.Equal(t, transport.KafkaCapabilities, Capabilities())
}

func TestBrokers(t *testing.T) {
	assert.Equal(t, []string{"a:9092", "b:9092"}, Brokers(endpoint(t, "kafka://a:9092,b:9092")))
	assert.Equal(t, []string{"a:9092", "c:9092"}, Brokers(endpoint(t, "kafka://a:9092?brokers=c:9092")))
}

func TestConsumerGroup(t *testing.T) {
	assert.Equal(t, "servers", ConsumerGroup("servers", "peer-1"))
	assert.Equal(t, "contractflow_peer_peer-1", ConsumerGroup("", "peer-1"))
}

func TestDial(t *testing.T) {
	t.Run("uses factories with per-queue groups", func(t *testing.T) {
		originalPubFactory := PublisherFactory
		originalSubFactory := SubscriberFactory
		defer func() {
			PublisherFactory = originalPubFactory
			SubscriberFactory = originalSubFactory
		}()

		var groups []string
		PublisherFactory = func(cfg kafka.PublisherConfig, _ watermill.LoggerAdapter) (message.Publisher, error) {
			assert.Equal(t, []string{"localhost:9092"}, cfg.Brokers)
			return &mockPublisher{}, nil
		}
		SubscriberFactory = func(cfg kafka.SubscriberConfig, _ watermill.LoggerAdapter) (message.Subscriber, error) {
			assert.Equal(t, []string{"localhost:9092"}, cfg.Brokers)
			groups = append(groups, cfg.ConsumerGroup)
			return &mockSubscriber{}, nil
		}

		d, err := Dial(context.Background(), endpoint(t, "kafka://localhost:9092"))
		require.NoError(t, err)
		_, err = d.Publisher(context.Background())
		require.NoError(t, err)
		_, err = d.Subscriber(context.Background(), "")
		require.NoError(t, err)
		_, err = d.Subscriber(context.Background(), "servers")
		require.NoError(t, err)

		assert.Equal(t, []string{"contractflow_peer_peer-1", "servers"}, groups)
	})

	t.Run("requires brokers", func(t *testing.T) {
		_, err := Dial(context.Background(), endpoint(t, "kafka:///"))
		assert.Error(t, err)
	})
}

func TestConnectPropagatesFactoryError(t *testing.T) {
	originalPubFactory := PublisherFactory
	defer func() { PublisherFactory = originalPubFactory }()
	PublisherFactory = func(kafka.PublisherConfig, watermill.LoggerAdapter) (message.Publisher, error) {
		return nil, assert.AnError
	}

	adapter, err := transport.Open("kafka://localhost:9092", transport.Options{})
	require.NoError(t, err)
	err = adapter.Connect(context.Background(), "kafka://localhost:9092")
	assert.ErrorIs(t, err, assert.AnError)
	assert.False(t, adapter.IsConnected())
}

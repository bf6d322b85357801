package http

import (
	"context"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	watermillhttp "github.com/ThreeDotsLabs/watermill-http/v2/pkg/http"
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
	for _, scheme := range Schemes {
		assert.Equal(t, "http", transport.GetCapabilities(scheme).Name)
	}
}

func TestCapabilities(t *testing.T) {
	assert.Equal(t, transport.HTTPCapabilities, Capabilities())
}

func TestPublisherURL(t *testing.T) {
	assert.Equal(t, "http://other:8081/", PublisherURL(endpoint(t, "http://other:8081?listen=:8080")))
	assert.Equal(t, "http://other:8081/base/", PublisherURL(endpoint(t, "http://other:8081/base?listen=:8080")))
}

func TestDial(t *testing.T) {
	t.Run("requires listen address", func(t *testing.T) {
		_, err := Dial(context.Background(), endpoint(t, "http://other:8081/"))
		assert.Error(t, err)
	})

	t.Run("shares one subscriber", func(t *testing.T) {
		originalPubFactory := PublisherFactory
		originalSubFactory := SubscriberFactory
		defer func() {
			PublisherFactory = originalPubFactory
			SubscriberFactory = originalSubFactory
		}()

		var marshal func(topic string, msg *message.Message) error
		PublisherFactory = func(config watermillhttp.PublisherConfig, _ watermill.LoggerAdapter) (message.Publisher, error) {
			marshal = func(topic string, msg *message.Message) error {
				req, err := config.MarshalMessageFunc(topic, msg)
				if err == nil {
					assert.Equal(t, "http://other:8081/contractflow_events", req.URL.String())
				}
				return err
			}
			return &mockPublisher{}, nil
		}
		created := 0
		SubscriberFactory = func(addr string, _ watermillhttp.SubscriberConfig, _ watermill.LoggerAdapter) (message.Subscriber, error) {
			assert.Equal(t, ":8080", addr)
			created++
			return &mockSubscriber{}, nil
		}

		d, err := Dial(context.Background(), endpoint(t, "http://other:8081?listen=:8080"))
		require.NoError(t, err)
		_, err = d.Publisher(context.Background())
		require.NoError(t, err)
		require.NoError(t, marshal("contractflow_events", message.NewMessage("1", []byte("{}"))))

		first, err := d.Subscriber(context.Background(), "")
		require.NoError(t, err)
		second, err := d.Subscriber(context.Background(), "servers")
		require.NoError(t, err)
		assert.Same(t, first, second)
		assert.Equal(t, 1, created)
	})
}

// Package http provides a point-to-point HTTP transport between two peers.
// Each side posts envelopes to the other's base URL and receives on its own
// listen address:
//
//	http://other-host:8081/?listen=:8080
package http

import (
	"context"
	"fmt"
	nethttp "net/http"
	"strings"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-http/v2/pkg/http"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/contractflow/transport"
	"github.com/drblury/contractflow/transport/pubsub"
)

// Schemes served by this package.
var Schemes = []string{"http", "https"}

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(config http.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return http.NewPublisher(config, logger)
}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(addr string, config http.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return http.NewSubscriber(addr, config, logger)
}

func init() {
	Register()
}

// Register adds the HTTP transport to the default registry.
func Register() {
	for _, scheme := range Schemes {
		transport.RegisterWithCapabilities(scheme, pubsub.Factory(scheme, Dial, transport.HTTPCapabilities), transport.HTTPCapabilities)
	}
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.HTTPCapabilities
}

// PublisherURL returns the base URL envelopes are posted to, always
// ending in "/".
func PublisherURL(ep transport.Endpoint) string {
	u := *ep.URL
	u.RawQuery = ""
	base := u.String()
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	return base
}

// Dial requires the "listen" query parameter.
func Dial(_ context.Context, ep transport.Endpoint) (pubsub.Dialer, error) {
	listen := ep.URL.Query().Get("listen")
	if listen == "" {
		return nil, fmt.Errorf("http: %q needs a listen address, e.g. ?listen=:8080", ep.ConnectionString)
	}
	logger := ep.Logger
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	return &dialer{publisherURL: PublisherURL(ep), listen: listen, logger: logger}, nil
}

type dialer struct {
	publisherURL string
	listen       string
	logger       watermill.LoggerAdapter

	mu  sync.Mutex
	sub message.Subscriber
}

func (d *dialer) Publisher(context.Context) (message.Publisher, error) {
	publisherURL := d.publisherURL
	return PublisherFactory(
		http.PublisherConfig{
			MarshalMessageFunc: func(topic string, msg *message.Message) (*nethttp.Request, error) {
				return http.DefaultMarshalMessageFunc(publisherURL+topic, msg)
			},
		},
		d.logger,
	)
}

// Subscriber returns the single HTTP server for this peer; queue has no
// meaning on a point-to-point link.
func (d *dialer) Subscriber(context.Context, string) (message.Subscriber, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.sub != nil {
		return d.sub, nil
	}

	subscriber, err := SubscriberFactory(
		d.listen,
		http.SubscriberConfig{
			UnmarshalMessageFunc: http.DefaultUnmarshalMessageFunc,
		},
		d.logger,
	)
	if err != nil {
		return nil, err
	}
	d.sub = subscriber

	go func() {
		if s, ok := subscriber.(*http.Subscriber); ok {
			if err := s.StartHTTPServer(); err != nil && err != nethttp.ErrServerClosed {
				d.logger.Error("Failed to start HTTP subscriber server", err, nil)
			}
		}
	}()
	return subscriber, nil
}

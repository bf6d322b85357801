// Package channel provides a watermill Go channel transport. Peers in one
// process that connect to the same "channel://<name>" share a bus. Useful
// for exercising the broker code path without a broker.
package channel

import (
	"context"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/drblury/contractflow/transport"
	"github.com/drblury/contractflow/transport/pubsub"
)

// Scheme is the connection string scheme served by this package.
const Scheme = "channel"

// Factory allows overriding the bus creation for testing.
var Factory = func(cfg gochannel.Config, logger watermill.LoggerAdapter) *gochannel.GoChannel {
	return gochannel.NewGoChannel(cfg, logger)
}

var (
	busesMu sync.Mutex
	buses   = make(map[string]*gochannel.GoChannel)
)

func init() {
	Register()
}

// Register adds the channel transport to the default registry.
func Register() {
	transport.RegisterWithCapabilities(Scheme, pubsub.Factory(Scheme, Dial, transport.ChannelCapabilities), transport.ChannelCapabilities)
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.ChannelCapabilities
}

// Dial attaches to the named bus, creating it on first use.
func Dial(_ context.Context, ep transport.Endpoint) (pubsub.Dialer, error) {
	name := ep.URL.Host + ep.URL.Path
	if name == "" {
		name = "default"
	}

	busesMu.Lock()
	defer busesMu.Unlock()
	bus, ok := buses[name]
	if !ok {
		bus = Factory(gochannel.Config{OutputChannelBuffer: 64, BlockPublishUntilSubscriberAck: true}, ep.Logger)
		buses[name] = bus
	}
	return &dialer{bus: bus}, nil
}

// Shutdown closes the named bus. Peers still attached stop receiving.
func Shutdown(name string) error {
	busesMu.Lock()
	bus, ok := buses[name]
	delete(buses, name)
	busesMu.Unlock()
	if !ok {
		return nil
	}
	return bus.Close()
}

type dialer struct {
	bus *gochannel.GoChannel
}

func (d *dialer) Publisher(context.Context) (message.Publisher, error) {
	return &sharedBus{GoChannel: d.bus}, nil
}

// Subscriber ignores queue: a Go channel bus always fans out.
func (d *dialer) Subscriber(context.Context, string) (message.Subscriber, error) {
	return &sharedBus{GoChannel: d.bus}, nil
}

// sharedBus keeps one peer's Close from shutting the bus for everyone.
// Subscriptions end when the peer cancels their context.
type sharedBus struct {
	*gochannel.GoChannel
}

func (*sharedBus) Close() error { return nil }

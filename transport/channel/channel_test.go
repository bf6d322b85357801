package channel

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/contractflow/internal/runtime/msgctx"
	"github.com/drblury/contractflow/transport"
)

func TestRegister(t *testing.T) {
	caps := transport.GetCapabilities(Scheme)
	assert.Equal(t, "channel", caps.Name)
	assert.True(t, caps.SupportsOrdering)
	assert.False(t, caps.Durable)
}

func TestCapabilities(t *testing.T) {
	caps := Capabilities()
	assert.Equal(t, transport.ChannelCapabilities, caps)
}

func TestDialSharesBus(t *testing.T) {
	original := Factory
	defer func() { Factory = original }()
	created := 0
	Factory = func(cfg gochannel.Config, logger watermill.LoggerAdapter) *gochannel.GoChannel {
		created++
		return gochannel.NewGoChannel(cfg, logger)
	}

	ep := func(raw string) transport.Endpoint {
		u, err := transport.ParseConnectionString(raw)
		require.NoError(t, err)
		return transport.Endpoint{URL: u, Logger: watermill.NopLogger{}}
	}

	first, err := Dial(context.Background(), ep("channel://shared-bus"))
	require.NoError(t, err)
	second, err := Dial(context.Background(), ep("channel://shared-bus"))
	require.NoError(t, err)
	assert.Equal(t, 1, created)
	assert.Same(t, first.(*dialer).bus, second.(*dialer).bus)

	pub, err := first.Publisher(context.Background())
	require.NoError(t, err)
	assert.NoError(t, pub.Close(), "closing one peer leaves the bus open")

	require.NoError(t, Shutdown("shared-bus"))
	require.NoError(t, Shutdown("shared-bus"))
}

func TestEndToEnd(t *testing.T) {
	ctx := context.Background()
	server, err := transport.Open("channel://e2e", transport.Options{PeerID: "server"})
	require.NoError(t, err)
	client, err := transport.Open("channel://e2e", transport.Options{PeerID: "client", RequestTimeout: 2 * time.Second})
	require.NoError(t, err)
	t.Cleanup(func() { _ = Shutdown("e2e") })

	require.NoError(t, server.HandleRequest("add", func(_ context.Context, payload json.RawMessage, _ msgctx.MessageContext) (json.RawMessage, error) {
		var in struct{ A, B int }
		if err := json.Unmarshal(payload, &in); err != nil {
			return nil, err
		}
		return json.Marshal(in.A + in.B)
	}))
	require.NoError(t, server.Connect(ctx, "channel://e2e"))
	defer server.Disconnect(ctx)
	require.NoError(t, client.Connect(ctx, "channel://e2e"))
	defer client.Disconnect(ctx)

	out, err := client.Request(ctx, "add", json.RawMessage(`{"A":2,"B":3}`), msgctx.MessageContext{})
	require.NoError(t, err)
	assert.JSONEq(t, `5`, string(out))
}

func TestEventEmittedBeforeDisconnectIsDelivered(t *testing.T) {
	ctx := context.Background()
	server, err := transport.Open("channel://farewell", transport.Options{PeerID: "server"})
	require.NoError(t, err)
	client, err := transport.Open("channel://farewell", transport.Options{PeerID: "client"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = Shutdown("farewell") })

	require.NoError(t, server.Connect(ctx, "channel://farewell"))
	require.NoError(t, client.Connect(ctx, "channel://farewell"))
	defer client.Disconnect(ctx)

	got := make(chan string, 1)
	_, err = client.On("system:disconnect", func(_ context.Context, payload json.RawMessage, _ msgctx.MessageContext) error {
		got <- string(payload)
		return nil
	})
	require.NoError(t, err)

	mc := msgctx.MessageContext{Target: "client"}
	require.NoError(t, server.Emit(ctx, "system:disconnect", json.RawMessage(`{"reason":"server_stopped"}`), mc))
	require.NoError(t, server.Disconnect(ctx))

	select {
	case payload := <-got:
		assert.JSONEq(t, `{"reason":"server_stopped"}`, payload)
	case <-time.After(2 * time.Second):
		t.Fatal("event queued before Disconnect never arrived")
	}
}

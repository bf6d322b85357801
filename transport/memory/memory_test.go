package memory

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/contractflow/internal/runtime/msgctx"
	"github.com/drblury/contractflow/internal/runtime/msgerr"
	"github.com/drblury/contractflow/transport"
)

func connect(t *testing.T, hub, id string) *transport.Peer {
	t.Helper()
	p := NewPeer(transport.Options{PeerID: id, RequestTimeout: time.Second})
	require.NoError(t, p.Connect(context.Background(), "memory://"+hub))
	t.Cleanup(func() { _ = p.Disconnect(context.Background()) })
	return p
}

func TestRegistered(t *testing.T) {
	adapter, err := transport.Open("memory://registered", transport.Options{})
	require.NoError(t, err)
	assert.IsType(t, &transport.Peer{}, adapter)
	assert.True(t, transport.GetCapabilities(Scheme).SupportsRequestReply)
}

func TestEmitReachesOtherPeers(t *testing.T) {
	t.Parallel()

	hub := t.Name()
	a := connect(t, hub, "a")
	b := connect(t, hub, "b")
	c := connect(t, hub, "c")

	var mu sync.Mutex
	seen := map[string]int{}
	for _, p := range []*transport.Peer{a, b, c} {
		id := p.ID()
		_, err := p.On("hello", func(context.Context, json.RawMessage, msgctx.MessageContext) error {
			mu.Lock()
			seen[id]++
			mu.Unlock()
			return nil
		})
		require.NoError(t, err)
	}

	require.NoError(t, a.Emit(context.Background(), "hello", json.RawMessage(`{}`), msgctx.MessageContext{}))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return seen["b"] == 1 && seen["c"] == 1
	}, time.Second, 5*time.Millisecond)
	mu.Lock()
	assert.Zero(t, seen["a"], "sender does not hear its own event")
	mu.Unlock()
}

func TestTargetedEvent(t *testing.T) {
	t.Parallel()

	hub := t.Name()
	server := connect(t, hub, "server")
	alice := connect(t, hub, "alice")
	bob := connect(t, hub, "bob")

	got := make(chan string, 2)
	for _, p := range []*transport.Peer{alice, bob} {
		id := p.ID()
		_, err := p.On("dm", func(context.Context, json.RawMessage, msgctx.MessageContext) error {
			got <- id
			return nil
		})
		require.NoError(t, err)
	}

	require.NoError(t, server.Emit(context.Background(), "dm", nil, msgctx.MessageContext{Target: "bob"}))

	select {
	case id := <-got:
		assert.Equal(t, "bob", id)
	case <-time.After(time.Second):
		t.Fatal("no delivery")
	}
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, got)
}

func TestRequestResponse(t *testing.T) {
	t.Parallel()

	hub := t.Name()
	server := connect(t, hub, "server")
	client := connect(t, hub, "client")

	require.NoError(t, server.HandleRequest("getUser", func(_ context.Context, payload json.RawMessage, mc msgctx.MessageContext) (json.RawMessage, error) {
		var req struct {
			UserID string `json:"userId"`
		}
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, err
		}
		if req.UserID != "u1" {
			return nil, msgerr.New(msgerr.CodeClientNotFound, msgerr.WithParam("clientId", req.UserID))
		}
		assert.Equal(t, "client", mc.Source)
		return json.RawMessage(`{"id":"u1","name":"Ada"}`), nil
	}))

	out, err := client.Request(context.Background(), "getUser", json.RawMessage(`{"userId":"u1"}`), msgctx.MessageContext{})
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"u1","name":"Ada"}`, string(out))

	_, err = client.Request(context.Background(), "getUser", json.RawMessage(`{"userId":"u2"}`), msgctx.MessageContext{})
	require.Error(t, err)
	assert.Equal(t, msgerr.CodeClientNotFound, msgerr.CodeOf(err))
}

func TestRequestWithoutServerFailsFast(t *testing.T) {
	t.Parallel()

	client := connect(t, t.Name(), "lonely")

	start := time.Now()
	_, err := client.Request(context.Background(), "nobody", nil, msgctx.MessageContext{})
	assert.Equal(t, msgerr.CodeHandlerNotFound, msgerr.CodeOf(err))
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestConcurrentRequestsCorrelate(t *testing.T) {
	t.Parallel()

	hub := t.Name()
	server := connect(t, hub, "server")
	client := connect(t, hub, "client")

	require.NoError(t, server.HandleRequest("double", func(_ context.Context, payload json.RawMessage, _ msgctx.MessageContext) (json.RawMessage, error) {
		var n int
		if err := json.Unmarshal(payload, &n); err != nil {
			return nil, err
		}
		time.Sleep(time.Duration(10-n%10) * time.Millisecond)
		return json.Marshal(n * 2)
	}))

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			payload, _ := json.Marshal(i)
			out, err := client.Request(context.Background(), "double", payload, msgctx.MessageContext{})
			if assert.NoError(t, err) {
				var got int
				assert.NoError(t, json.Unmarshal(out, &got))
				assert.Equal(t, i*2, got)
			}
		}()
	}
	wg.Wait()
}

func TestSeverNotifiesBothSides(t *testing.T) {
	t.Parallel()

	hub := t.Name()
	server := connect(t, hub, "server")
	client := connect(t, hub, "client")

	gone := make(chan string, 1)
	server.OnPeerLost(func(id string) { gone <- id })
	lost := make(chan error, 1)
	client.OnConnectionLost(func(err error) { lost <- err })

	require.True(t, Sever(hub, "client"))

	select {
	case err := <-lost:
		assert.ErrorIs(t, err, ErrConnectionSevered)
	case <-time.After(time.Second):
		t.Fatal("client not told")
	}
	select {
	case id := <-gone:
		assert.Equal(t, "client", id)
	case <-time.After(time.Second):
		t.Fatal("server not told")
	}
	assert.False(t, client.IsConnected())
	assert.False(t, Sever(hub, "client"))

	require.NoError(t, client.Connect(context.Background(), "memory://"+hub), "reconnect after loss")
}

func TestDuplicatePeerID(t *testing.T) {
	t.Parallel()

	hub := t.Name()
	connect(t, hub, "same")
	dup := NewPeer(transport.Options{PeerID: "same"})
	err := dup.Connect(context.Background(), "memory://"+hub)
	assert.Equal(t, msgerr.CodeTransport, msgerr.CodeOf(err))
	assert.False(t, dup.IsConnected())
}

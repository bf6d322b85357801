// Package client implements the contract-aware messaging client: it
// registers with a server over a transport adapter, sends validated
// requests and events, and keeps the connection alive with heartbeats and
// automatic reconnection driven by a single scheduler goroutine.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/drblury/contractflow/internal/runtime/contract"
	errspkg "github.com/drblury/contractflow/internal/runtime/errors"
	"github.com/drblury/contractflow/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/contractflow/internal/runtime/logging"
	"github.com/drblury/contractflow/internal/runtime/middleware"
	"github.com/drblury/contractflow/internal/runtime/msgctx"
	"github.com/drblury/contractflow/internal/runtime/msgerr"
	"github.com/drblury/contractflow/internal/runtime/notify"
	"github.com/drblury/contractflow/internal/runtime/observability"
	"github.com/drblury/contractflow/transport"
)

// Client talks to a server through a transport adapter.
type Client struct {
	contract *contract.Contract
	adapter  transport.Adapter
	opts     Options
	provider observability.Provider
	logger   loggingpkg.ServiceLogger
	pipeline *middleware.Pipeline

	mu            sync.RWMutex
	status        Status
	connStr       string
	subscriptions map[string]contract.SubscribeRequest
	cancel        context.CancelFunc
	loopDone      chan struct{}

	lost            chan error
	statusListeners notify.List[StatusListener]
	errorListeners  notify.List[ErrorListener]
}

type identified interface {
	ID() string
}

// New creates a disconnected client on adapter. When the adapter reports
// its own peer id, it must match Options.ClientID or Options.ClientID must
// be empty.
func New(c *contract.Contract, adapter transport.Adapter, opts Options) (*Client, error) {
	if c == nil {
		return nil, errspkg.ErrContractRequired
	}
	if adapter == nil {
		return nil, errspkg.ErrAdapterRequired
	}
	if peer, ok := adapter.(identified); ok {
		switch {
		case opts.ClientID == "":
			opts.ClientID = peer.ID()
		case opts.ClientID != peer.ID():
			return nil, errspkg.NewConfigValidationError(
				fmt.Errorf("client id %q differs from transport peer id %q", opts.ClientID, peer.ID()))
		}
	}
	opts = opts.withDefaults()
	provider := observability.Resolve(opts.Observability)

	cl := &Client{
		contract:      c,
		adapter:       adapter,
		opts:          opts,
		provider:      provider,
		logger:        provider.Logger.With(loggingpkg.LogFields{"client_id": opts.ClientID}),
		pipeline:      opts.Middleware,
		subscriptions: make(map[string]contract.SubscribeRequest),
		lost:          make(chan error, 1),
	}

	if notifier, ok := adapter.(transport.ConnectionLossNotifier); ok {
		notifier.OnConnectionLost(cl.signalLost)
	}
	_, err := adapter.On(contract.SystemDisconnect, func(_ context.Context, payload json.RawMessage, _ msgctx.MessageContext) error {
		ev, _ := jsoncodec.DecodePayload[contract.DisconnectEvent](payload)
		cl.signalLost(fmt.Errorf("server disconnected: %s", ev.Reason))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return cl, nil
}

// Dial opens an adapter for connectionString from the registry, creates a
// client on it and connects.
func Dial(ctx context.Context, c *contract.Contract, connectionString string, opts Options) (*Client, error) {
	opts = opts.withDefaults()
	provider := observability.Resolve(opts.Observability)
	adapter, err := opts.Registry.Open(connectionString, transport.Options{
		Logger:         loggingpkg.NewWatermillAdapter(provider.Logger),
		RequestTimeout: opts.RequestTimeout,
		PeerID:         opts.ClientID,
		Authenticator:  opts.Authenticator,
	})
	if err != nil {
		return nil, err
	}
	cl, err := New(c, adapter, opts)
	if err != nil {
		return nil, err
	}
	if err := cl.Connect(ctx, connectionString); err != nil {
		return nil, err
	}
	return cl, nil
}

// ID returns the client id.
func (c *Client) ID() string { return c.opts.ClientID }

// Contract returns the client's contract.
func (c *Client) Contract() *contract.Contract { return c.contract }

// Adapter returns the underlying transport adapter.
func (c *Client) Adapter() transport.Adapter { return c.adapter }

// ConnectionString returns the string passed to the last Connect.
func (c *Client) ConnectionString() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connStr
}

// Status returns the current connection state.
func (c *Client) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// IsConnected reports whether the client is registered and usable.
func (c *Client) IsConnected() bool {
	return c.Status() == StatusConnected
}

// OnStatusChange registers fn and returns a function removing it. Listeners
// run on the goroutine that changed the status and must not call
// Disconnect synchronously.
func (c *Client) OnStatusChange(fn StatusListener) func() {
	return c.statusListeners.Add(fn)
}

// OnError registers fn and returns a function removing it.
func (c *Client) OnError(fn ErrorListener) func() {
	return c.errorListeners.Add(fn)
}

// Connect connects the adapter and registers with the server. On failure
// the client is left disconnected and the error is returned.
func (c *Client) Connect(ctx context.Context, connectionString string) error {
	c.mu.Lock()
	from := c.status
	switch from {
	case StatusConnecting, StatusConnected, StatusReconnecting:
		c.mu.Unlock()
		return errspkg.ErrAlreadyConnected
	}
	c.status = StatusConnecting
	c.connStr = connectionString
	c.mu.Unlock()

	c.fireStatus(from, StatusConnecting)
	c.logger.Info("Connecting", loggingpkg.LogFields{"connection": connectionString})

	if err := c.adapter.Connect(ctx, connectionString); err != nil {
		c.setStatus(StatusDisconnected)
		c.reportError(err)
		return err
	}
	if err := c.register(ctx); err != nil {
		_ = c.adapter.Disconnect(context.Background())
		c.setStatus(StatusDisconnected)
		c.reportError(err)
		return err
	}

	c.startLoop(connectionString)
	c.setStatus(StatusConnected)
	return nil
}

// Disconnect stops the scheduler, tells the server the client is leaving
// and closes the adapter. Disconnecting a disconnected client is a no-op.
func (c *Client) Disconnect(ctx context.Context) error {
	c.stopLoop()

	status := c.Status()
	if status == StatusDisconnected {
		return nil
	}
	if status == StatusConnected {
		byeCtx, cancel := context.WithTimeout(ctx, time.Second)
		_, err := c.adapter.Request(byeCtx, contract.SystemDisconnect, nil, c.newContext(byeCtx))
		cancel()
		if err != nil {
			c.logger.Debug("Server did not acknowledge disconnect", loggingpkg.LogFields{"error": err.Error()})
		}
	}

	var err error
	if c.adapter.IsConnected() {
		err = c.adapter.Disconnect(ctx)
	}
	c.setStatus(StatusDisconnected)
	c.logger.Info("Disconnected", nil)
	return err
}

func (c *Client) setStatus(to Status) {
	c.mu.Lock()
	from := c.status
	c.status = to
	c.mu.Unlock()
	c.fireStatus(from, to)
}

func (c *Client) fireStatus(from, to Status) {
	if from == to {
		return
	}
	c.logger.Debug("Status changed", loggingpkg.LogFields{"from": from.String(), "to": to.String()})
	for _, fn := range c.statusListeners.Snapshot() {
		fn(from, to)
	}
}

func (c *Client) reportError(err error) {
	if err == nil {
		return
	}
	for _, fn := range c.errorListeners.Snapshot() {
		fn(err)
	}
}

func (c *Client) signalLost(err error) {
	select {
	case c.lost <- err:
	default:
	}
}

func (c *Client) register(ctx context.Context) error {
	payload, err := jsoncodec.Payload(contract.RegisterRequest{
		ClientID:     c.opts.ClientID,
		ClientType:   c.opts.ClientType,
		Capabilities: c.opts.Capabilities,
		Metadata:     c.opts.Metadata,
	})
	if err != nil {
		return err
	}
	raw, err := c.adapter.Request(ctx, contract.SystemRegister, payload, c.newContext(ctx))
	if err != nil {
		return c.enrich(err)
	}
	resp, err := jsoncodec.DecodePayload[contract.RegisterResponse](raw)
	if err != nil {
		return msgerr.New(msgerr.CodeResponseValidation,
			msgerr.WithParam("target", contract.SystemRegister), msgerr.WithCause(err))
	}
	c.logger.Info("Registered with server", loggingpkg.LogFields{"server_id": resp.ServerID})
	return nil
}

// newContext builds the outbound message context, continuing the
// MessageContext or OpenTelemetry span carried by ctx.
func (c *Client) newContext(ctx context.Context) msgctx.MessageContext {
	partial, _ := msgctx.FromContext(ctx)
	mc := msgctx.New(partial)
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() && partial.TraceID == "" {
		mc = mc.WithSpanContext(sc)
	}
	mc.Source = c.opts.ClientID
	return mc
}

func (c *Client) enrich(err error) *msgerr.Error {
	return c.contract.Errors().Enrich(msgerr.ToMessagingError(err, msgerr.CodeUnknown))
}

func (c *Client) startLoop(connectionString string) {
	// Drop any loss signalled while no scheduler was running.
	select {
	case <-c.lost:
	default:
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	c.mu.Lock()
	c.cancel = cancel
	c.loopDone = done
	c.mu.Unlock()
	go c.run(ctx, connectionString, done)
}

func (c *Client) stopLoop() {
	c.mu.Lock()
	cancel, done := c.cancel, c.loopDone
	c.cancel, c.loopDone = nil, nil
	c.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// run is the client's only background goroutine. It sends heartbeats and
// drives reconnection after a connection loss.
func (c *Client) run(ctx context.Context, connectionString string, done chan struct{}) {
	defer close(done)

	var heartbeat <-chan time.Time
	if c.opts.HeartbeatInterval > 0 {
		ticker := time.NewTicker(c.opts.HeartbeatInterval)
		defer ticker.Stop()
		heartbeat = ticker.C
	}

	retry := time.NewTimer(c.opts.ReconnectInterval)
	retry.Stop()
	defer retry.Stop()
	var retryC <-chan time.Time
	attempts := 0

	for {
		select {
		case <-ctx.Done():
			return

		case err := <-c.lost:
			if c.Status() != StatusConnected {
				continue
			}
			c.logger.Error("Connection lost", err, nil)
			c.reportError(msgerr.New(msgerr.CodeNotConnected, msgerr.WithCause(err)))
			if c.adapter.IsConnected() {
				_ = c.adapter.Disconnect(ctx)
			}
			if c.opts.DisableAutoReconnect {
				c.setStatus(StatusDisconnected)
				return
			}
			c.setStatus(StatusReconnecting)
			attempts = 0
			retry.Reset(c.opts.ReconnectInterval)
			retryC = retry.C

		case <-retryC:
			retryC = nil
			attempts++
			err := c.reconnect(ctx, connectionString)
			if err == nil {
				c.logger.Info("Reconnected", loggingpkg.LogFields{"attempts": attempts})
				c.setStatus(StatusConnected)
				continue
			}
			if ctx.Err() != nil {
				return
			}
			c.logger.Error("Reconnect failed", err, loggingpkg.LogFields{"attempt": attempts})
			if limit := c.opts.MaxReconnectAttempts; limit > 0 && attempts >= limit {
				c.setStatus(StatusError)
				c.reportError(err)
				return
			}
			retry.Reset(c.opts.ReconnectInterval)
			retryC = retry.C

		case <-heartbeat:
			if c.Status() == StatusConnected {
				c.beat(ctx)
			}
		}
	}
}

func (c *Client) reconnect(ctx context.Context, connectionString string) error {
	if c.adapter.IsConnected() {
		_ = c.adapter.Disconnect(ctx)
	}
	if err := c.adapter.Connect(ctx, connectionString); err != nil {
		return err
	}
	if err := c.register(ctx); err != nil {
		_ = c.adapter.Disconnect(ctx)
		return err
	}
	c.resubscribe(ctx)
	return nil
}

func (c *Client) beat(ctx context.Context) {
	hbCtx, cancel := context.WithTimeout(ctx, c.opts.RequestTimeout)
	defer cancel()
	_, err := c.adapter.Request(hbCtx, contract.SystemHeartbeat, nil, c.newContext(hbCtx))
	if err == nil || ctx.Err() != nil {
		return
	}

	switch msgerr.CodeOf(err) {
	case msgerr.CodeClientNotRegistered:
		c.logger.Info("Server forgot this client, registering again", nil)
		if err := c.register(hbCtx); err != nil {
			c.reportError(err)
		}
	case msgerr.CodeNotConnected, msgerr.CodeRequestTimeout, msgerr.CodeTransport, "":
		c.signalLost(err)
	default:
		c.logger.Error("Heartbeat failed", err, nil)
	}
}

func (c *Client) resubscribe(ctx context.Context) {
	c.mu.RLock()
	subs := make([]contract.SubscribeRequest, 0, len(c.subscriptions))
	for id, sub := range c.subscriptions {
		sub.SubscriptionID = id
		subs = append(subs, sub)
	}
	c.mu.RUnlock()

	for _, sub := range subs {
		if _, err := c.subscribe(ctx, sub); err != nil {
			c.logger.Error("Resubscribe failed", err, loggingpkg.LogFields{"subscription_id": sub.SubscriptionID})
		}
	}
}

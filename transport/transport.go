// Package transport defines the Adapter interface peers use to exchange
// events and request/response pairs, and the Peer that implements it on top
// of a Link. Each link implementation (memory, watermill brokers, websocket)
// lives in its own sub-package and registers itself with the scheme registry.
package transport

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/drblury/contractflow/internal/runtime/access"
	"github.com/drblury/contractflow/internal/runtime/msgctx"
)

// DefaultRequestTimeout bounds a request when neither the caller's context
// nor Options set a deadline.
const DefaultRequestTimeout = 30 * time.Second

// HandlerID identifies an event handler registration for Off.
type HandlerID uint64

// EventHandler receives an inbound event. Returned errors are logged.
type EventHandler func(ctx context.Context, payload json.RawMessage, mc msgctx.MessageContext) error

// RequestHandler answers an inbound request. A returned error is converted
// to a wire error response for the requester.
type RequestHandler func(ctx context.Context, payload json.RawMessage, mc msgctx.MessageContext) (json.RawMessage, error)

// Credentials are presented to Login.
type Credentials struct {
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	Token    string `json:"token,omitempty"`
}

// AuthResult is the session established by Login.
type AuthResult struct {
	Token     string        `json:"token"`
	Actor     *access.Actor `json:"actor,omitempty"`
	ExpiresAt time.Time     `json:"expiresAt,omitempty"`
}

// Authenticator verifies credentials for Login.
type Authenticator func(ctx context.Context, creds Credentials) (AuthResult, error)

// Adapter is the protocol-level abstraction used by clients and servers.
type Adapter interface {
	Connect(ctx context.Context, connectionString string) error
	Disconnect(ctx context.Context) error
	IsConnected() bool
	ConnectionString() string

	// Emit publishes an event without waiting for delivery.
	Emit(ctx context.Context, event string, payload json.RawMessage, mc msgctx.MessageContext) error
	On(event string, handler EventHandler) (HandlerID, error)
	Off(event string, id HandlerID)

	// Request sends a request and waits for its response, the request
	// timeout or ctx, whichever comes first.
	Request(ctx context.Context, requestType string, payload json.RawMessage, mc msgctx.MessageContext) (json.RawMessage, error)
	HandleRequest(requestType string, handler RequestHandler) error

	Login(ctx context.Context, creds Credentials) (AuthResult, error)
	Logout(ctx context.Context) error
}

// ConnectionLossNotifier is implemented by adapters that detect a dropped
// connection on their own.
type ConnectionLossNotifier interface {
	OnConnectionLost(fn func(err error))
}

// PeerLossNotifier is implemented by adapters that learn when a remote peer
// goes away.
type PeerLossNotifier interface {
	OnPeerLost(fn func(peerID string))
}

// CapabilitiesProvider is implemented by adapters that can report their
// capabilities.
type CapabilitiesProvider interface {
	Capabilities() Capabilities
}

// Options configures adapters created through the registry.
type Options struct {
	// Logger receives transport diagnostics. Defaults to watermill.NopLogger.
	Logger watermill.LoggerAdapter
	// RequestTimeout defaults to DefaultRequestTimeout.
	RequestTimeout time.Duration
	// PeerID names this peer on the wire. Generated when empty.
	PeerID string
	// Listen asks listening transports to accept inbound connections
	// rather than dial out.
	Listen bool
	// Authenticator backs Login. Defaults to TestAuthenticator.
	Authenticator Authenticator
	// MetricsRegisterer, when set, receives broker-level metrics.
	MetricsRegisterer prometheus.Registerer
}

func (o Options) withDefaults() Options {
	if o.Logger == nil {
		o.Logger = watermill.NopLogger{}
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = DefaultRequestTimeout
	}
	if o.Authenticator == nil {
		o.Authenticator = TestAuthenticator
	}
	return o
}

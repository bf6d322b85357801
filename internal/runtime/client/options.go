package client

import (
	"time"

	"github.com/drblury/contractflow/internal/runtime/config"
	"github.com/drblury/contractflow/internal/runtime/ids"
	"github.com/drblury/contractflow/internal/runtime/metadata"
	"github.com/drblury/contractflow/internal/runtime/middleware"
	"github.com/drblury/contractflow/internal/runtime/observability"
	"github.com/drblury/contractflow/transport"
)

// DefaultClientType is announced when Options.ClientType is empty.
const DefaultClientType = "generic"

// Options configures a Client.
type Options struct {
	// ClientID is announced on registration and used as the transport peer
	// id. Defaults to the adapter's id, or a generated one.
	ClientID     string
	ClientType   string
	Capabilities []string
	Metadata     metadata.Metadata

	RequestTimeout time.Duration
	// HeartbeatInterval between system:heartbeat requests. Negative
	// disables heartbeats.
	HeartbeatInterval    time.Duration
	ReconnectInterval    time.Duration
	MaxReconnectAttempts int
	DisableAutoReconnect bool

	// Registry resolves connection strings in Dial. Defaults to
	// transport.DefaultRegistry.
	Registry      *transport.Registry
	Authenticator transport.Authenticator

	Observability *observability.Provider
	Middleware    *middleware.Pipeline
}

// OptionsFromConfig maps the shared runtime config onto client options.
func OptionsFromConfig(cfg config.Config) Options {
	cfg = cfg.WithDefaults()
	return Options{
		RequestTimeout:       cfg.RequestTimeout,
		HeartbeatInterval:    cfg.HeartbeatInterval,
		ReconnectInterval:    cfg.ReconnectInterval,
		MaxReconnectAttempts: cfg.MaxReconnectAttempts,
		DisableAutoReconnect: cfg.DisableAutoReconnect,
	}
}

func (o Options) withDefaults() Options {
	if o.ClientID == "" {
		o.ClientID = "client-" + ids.CreateULID()
	}
	if o.ClientType == "" {
		o.ClientType = DefaultClientType
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = transport.DefaultRequestTimeout
	}
	if o.HeartbeatInterval == 0 {
		o.HeartbeatInterval = config.DefaultHeartbeatInterval
	}
	if o.ReconnectInterval <= 0 {
		o.ReconnectInterval = config.DefaultReconnectInterval
	}
	if o.Registry == nil {
		o.Registry = transport.DefaultRegistry
	}
	if o.Middleware == nil {
		o.Middleware = middleware.NewPipeline()
	}
	return o
}

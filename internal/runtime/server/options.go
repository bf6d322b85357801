package server

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/drblury/contractflow/internal/runtime/config"
	"github.com/drblury/contractflow/internal/runtime/ids"
	"github.com/drblury/contractflow/internal/runtime/middleware"
	"github.com/drblury/contractflow/internal/runtime/observability"
	"github.com/drblury/contractflow/transport"
)

// Options configures a Server.
type Options struct {
	// ServerID names the server on the wire. Defaults to the adapter's id,
	// or a generated one.
	ServerID string

	HeartbeatInterval time.Duration
	// ClientTimeout evicts clients silent for longer. Defaults to three
	// heartbeat intervals.
	ClientTimeout  time.Duration
	MaxClients     int
	RequestTimeout time.Duration

	// RateLimit per client in requests per second; zero disables it. The
	// limiter runs after Middleware, which is left unchanged.
	RateLimit float64
	RateBurst int

	// MetricsPort serves /metrics and the /api introspection endpoints
	// when positive.
	MetricsPort        int
	CORSAllowedOrigins []string
	// Gatherer backs /metrics. Defaults to prometheus.DefaultGatherer.
	Gatherer prometheus.Gatherer

	// Registry resolves connection strings in Listen. Defaults to
	// transport.DefaultRegistry.
	Registry      *transport.Registry
	Authenticator transport.Authenticator

	Observability *observability.Provider
	Middleware    *middleware.Pipeline
}

// OptionsFromConfig maps the shared runtime config onto server options.
func OptionsFromConfig(cfg config.Config) Options {
	cfg = cfg.WithDefaults()
	return Options{
		HeartbeatInterval:  cfg.HeartbeatInterval,
		ClientTimeout:      cfg.ClientTimeout,
		MaxClients:         cfg.MaxClients,
		RequestTimeout:     cfg.RequestTimeout,
		RateLimit:          cfg.RateLimit,
		RateBurst:          cfg.RateBurst,
		MetricsPort:        cfg.MetricsPort,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
	}
}

func (o Options) withDefaults() Options {
	if o.ServerID == "" {
		o.ServerID = "server-" + ids.CreateULID()
	}
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = config.DefaultHeartbeatInterval
	}
	if o.ClientTimeout <= 0 {
		o.ClientTimeout = config.DefaultClientTimeoutFactor * o.HeartbeatInterval
	}
	if o.MaxClients <= 0 {
		o.MaxClients = config.DefaultMaxClients
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = transport.DefaultRequestTimeout
	}
	if o.Registry == nil {
		o.Registry = transport.DefaultRegistry
	}
	if o.Middleware == nil {
		o.Middleware = middleware.NewPipeline()
	}
	if o.RateLimit > 0 && o.RateBurst <= 0 {
		o.RateBurst = 1
	}
	return o
}

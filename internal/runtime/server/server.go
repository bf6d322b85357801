// Package server implements the contract-aware messaging server: it accepts
// client registrations over a transport adapter, routes requests through the
// middleware pipeline to one handler per type, publishes events to all,
// subscribed or single clients, and evicts clients that stop sending
// heartbeats.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/drblury/contractflow/internal/runtime/contract"
	errspkg "github.com/drblury/contractflow/internal/runtime/errors"
	"github.com/drblury/contractflow/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/contractflow/internal/runtime/logging"
	"github.com/drblury/contractflow/internal/runtime/metadata"
	"github.com/drblury/contractflow/internal/runtime/middleware"
	"github.com/drblury/contractflow/internal/runtime/msgctx"
	"github.com/drblury/contractflow/internal/runtime/notify"
	"github.com/drblury/contractflow/internal/runtime/observability"
	"github.com/drblury/contractflow/transport"
)

// Disconnect reasons reported to listeners and in system:clientDisconnected.
const (
	ReasonClientRequest  = "client_request"
	ReasonTimeout        = "timeout"
	ReasonConnectionLost = "connection_lost"
	ReasonServerStopped  = "server_stopped"
)

// Subscription is a client's filtered interest in events.
type Subscription struct {
	ID     string         `json:"id"`
	Events []string       `json:"events"`
	Filter map[string]any `json:"filter,omitempty"`
}

// ClientConnection is the server's record of a registered client.
type ClientConnection struct {
	ClientID      string                  `json:"clientId"`
	ConnectionID  string                  `json:"connectionId"`
	ClientType    string                  `json:"clientType"`
	Capabilities  []string                `json:"capabilities,omitempty"`
	Metadata      metadata.Metadata       `json:"metadata,omitempty"`
	ConnectedAt   time.Time               `json:"connectedAt"`
	LastActivity  time.Time               `json:"lastActivity"`
	Subscriptions map[string]Subscription `json:"subscriptions,omitempty"`
}

func (c *ClientConnection) clone() ClientConnection {
	out := *c
	out.Capabilities = append([]string(nil), c.Capabilities...)
	out.Metadata = c.Metadata.Clone()
	out.Subscriptions = make(map[string]Subscription, len(c.Subscriptions))
	for id, sub := range c.Subscriptions {
		sub.Events = append([]string(nil), sub.Events...)
		out.Subscriptions[id] = sub
	}
	return out
}

// ClientListener observes registrations.
type ClientListener func(client ClientConnection)

// DisconnectListener observes removals together with their reason.
type DisconnectListener func(client ClientConnection, reason string)

// Server accepts clients over a transport adapter.
type Server struct {
	contract *contract.Contract
	adapter  transport.Adapter
	opts     Options
	provider observability.Provider
	logger   loggingpkg.ServiceLogger
	pipeline *middleware.Pipeline

	mu        sync.RWMutex
	started   bool
	startedAt time.Time
	connStr   string
	clients   map[string]*ClientConnection
	handlers  map[string]struct{}
	cancel    context.CancelFunc
	loopDone  chan struct{}
	http      *observability.HTTPServer

	connected    notify.List[ClientListener]
	disconnected notify.List[DisconnectListener]
}

type identified interface {
	ID() string
}

// New creates a stopped server on adapter and installs the system request
// handlers. Register application handlers before or after Start.
func New(c *contract.Contract, adapter transport.Adapter, opts Options) (*Server, error) {
	if c == nil {
		return nil, errspkg.ErrContractRequired
	}
	if adapter == nil {
		return nil, errspkg.ErrAdapterRequired
	}
	if peer, ok := adapter.(identified); ok {
		switch {
		case opts.ServerID == "":
			opts.ServerID = peer.ID()
		case opts.ServerID != peer.ID():
			return nil, errspkg.NewConfigValidationError(
				fmt.Errorf("server id %q differs from transport peer id %q", opts.ServerID, peer.ID()))
		}
	}
	opts = opts.withDefaults()
	provider := observability.Resolve(opts.Observability)

	s := &Server{
		contract: c,
		adapter:  adapter,
		opts:     opts,
		provider: provider,
		logger:   provider.Logger.With(loggingpkg.LogFields{"server_id": opts.ServerID}),
		pipeline: opts.Middleware,
		clients:  make(map[string]*ClientConnection),
		handlers: make(map[string]struct{}),
	}
	if opts.RateLimit > 0 {
		s.pipeline = opts.Middleware.Extend(middleware.RateLimit(rate.Limit(opts.RateLimit), opts.RateBurst))
	}

	if err := s.installSystemHandlers(); err != nil {
		return nil, err
	}
	if notifier, ok := adapter.(transport.PeerLossNotifier); ok {
		notifier.OnPeerLost(func(peerID string) {
			s.removeClient(peerID, ReasonConnectionLost)
		})
	}
	if notifier, ok := adapter.(transport.ConnectionLossNotifier); ok {
		notifier.OnConnectionLost(func(err error) {
			s.logger.Error("Transport connection lost", err, nil)
		})
	}
	return s, nil
}

// Listen opens a listening adapter for connectionString from the registry,
// creates a server on it and starts it.
func Listen(ctx context.Context, c *contract.Contract, connectionString string, opts Options) (*Server, error) {
	opts = opts.withDefaults()
	provider := observability.Resolve(opts.Observability)
	adapter, err := opts.Registry.Open(connectionString, transport.Options{
		Logger:         loggingpkg.NewWatermillAdapter(provider.Logger),
		RequestTimeout: opts.RequestTimeout,
		PeerID:         opts.ServerID,
		Listen:         true,
		Authenticator:  opts.Authenticator,
	})
	if err != nil {
		return nil, err
	}
	s, err := New(c, adapter, opts)
	if err != nil {
		return nil, err
	}
	if err := s.Start(ctx, connectionString); err != nil {
		return nil, err
	}
	return s, nil
}

// ID returns the server id.
func (s *Server) ID() string { return s.opts.ServerID }

// Contract returns the server's contract.
func (s *Server) Contract() *contract.Contract { return s.contract }

// Adapter returns the underlying transport adapter.
func (s *Server) Adapter() transport.Adapter { return s.adapter }

// IsRunning reports whether Start succeeded and Stop has not been called.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.started
}

// Start connects the adapter, begins accepting registrations and starts the
// heartbeat sweep.
func (s *Server) Start(ctx context.Context, connectionString string) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return errspkg.ErrServerStarted
	}
	s.started = true
	s.connStr = connectionString
	s.mu.Unlock()

	fail := func(err error) error {
		s.mu.Lock()
		s.started = false
		s.mu.Unlock()
		return err
	}

	if err := s.adapter.Connect(ctx, connectionString); err != nil {
		return fail(err)
	}
	if s.opts.MetricsPort > 0 {
		srv := s.newHTTPServer()
		if err := srv.Start(); err != nil {
			_ = s.adapter.Disconnect(ctx)
			return fail(fmt.Errorf("start metrics server: %w", err))
		}
		s.mu.Lock()
		s.http = srv
		s.mu.Unlock()
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.mu.Lock()
	s.cancel = cancel
	s.loopDone = done
	s.startedAt = time.Now()
	s.mu.Unlock()
	go s.run(loopCtx, done)

	s.logger.Info("Server started", loggingpkg.LogFields{
		"connection":  connectionString,
		"max_clients": s.opts.MaxClients,
	})
	return nil
}

// Stop tells every client the server is going away, forgets them and
// releases the transport. Stopping a stopped server is a no-op.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = false
	cancel, done, httpSrv := s.cancel, s.loopDone, s.http
	s.cancel, s.loopDone, s.http = nil, nil, nil
	clients := make([]ClientConnection, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c.clone())
	}
	s.clients = make(map[string]*ClientConnection)
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}

	payload, _ := jsoncodec.Payload(contract.DisconnectEvent{Reason: ReasonServerStopped})
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(16)
	for _, c := range clients {
		clientID := c.ClientID
		g.Go(func() error {
			mc := s.newContext(gctx)
			mc.Target = clientID
			return s.adapter.Emit(gctx, contract.SystemDisconnect, payload, mc)
		})
	}
	if err := g.Wait(); err != nil {
		s.logger.Error("Failed to notify clients of shutdown", err, nil)
	}

	s.provider.Metrics.ClientsConnected(0)
	for _, c := range clients {
		s.fireDisconnected(c, ReasonServerStopped)
	}

	err := s.adapter.Disconnect(ctx)
	if httpSrv != nil {
		if herr := httpSrv.Stop(ctx); herr != nil && err == nil {
			err = herr
		}
	}
	s.logger.Info("Server stopped", loggingpkg.LogFields{"clients": len(clients)})
	return err
}

// OnClientConnected registers fn and returns a function removing it.
func (s *Server) OnClientConnected(fn ClientListener) func() {
	return s.connected.Add(fn)
}

// OnClientDisconnected registers fn and returns a function removing it.
func (s *Server) OnClientDisconnected(fn DisconnectListener) func() {
	return s.disconnected.Add(fn)
}

// GetClients returns the registered clients ordered by connection time.
func (s *Server) GetClients() []ClientConnection {
	s.mu.RLock()
	out := make([]ClientConnection, 0, len(s.clients))
	for _, c := range s.clients {
		out = append(out, c.clone())
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].ConnectedAt.Equal(out[j].ConnectedAt) {
			return out[i].ClientID < out[j].ClientID
		}
		return out[i].ConnectedAt.Before(out[j].ConnectedAt)
	})
	return out
}

// GetClient returns one registered client.
func (s *Server) GetClient(clientID string) (ClientConnection, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.clients[clientID]
	if !ok {
		return ClientConnection{}, false
	}
	return c.clone(), true
}

// GetClientCount returns the number of registered clients.
func (s *Server) GetClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// touch records activity and reports whether the client is registered.
func (s *Server) touch(clientID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.clients[clientID]
	if ok {
		c.LastActivity = time.Now()
	}
	return ok
}

func (s *Server) removeClient(clientID, reason string) bool {
	s.mu.Lock()
	c, ok := s.clients[clientID]
	if ok {
		delete(s.clients, clientID)
	}
	count := len(s.clients)
	s.mu.Unlock()
	if !ok {
		return false
	}

	snapshot := c.clone()
	s.provider.Metrics.ClientsConnected(count)
	s.logger.Info("Client disconnected", loggingpkg.LogFields{"client_id": clientID, "reason": reason})
	s.fireDisconnected(snapshot, reason)
	s.emitSystem(contract.SystemClientDisconnected, contract.ClientEvent{
		ClientID:   clientID,
		ClientType: snapshot.ClientType,
		Reason:     reason,
	})
	return true
}

func (s *Server) fireDisconnected(c ClientConnection, reason string) {
	for _, fn := range s.disconnected.Snapshot() {
		fn(c, reason)
	}
}

// emitSystem broadcasts a lifecycle event on a best-effort basis.
func (s *Server) emitSystem(event string, payload any) {
	if !s.adapter.IsConnected() {
		return
	}
	data, err := jsoncodec.Payload(payload)
	if err != nil {
		s.logger.Error("Failed to encode system event", err, loggingpkg.LogFields{"event": event})
		return
	}
	ctx := context.Background()
	if err := s.adapter.Emit(ctx, event, data, s.newContext(ctx)); err != nil {
		s.logger.Error("Failed to emit system event", err, loggingpkg.LogFields{"event": event})
	}
}

func (s *Server) newContext(ctx context.Context) msgctx.MessageContext {
	partial, _ := msgctx.FromContext(ctx)
	mc := msgctx.New(partial)
	mc.Source = s.opts.ServerID
	mc.Target = ""
	return mc
}

// run is the server's only background goroutine: it evicts clients whose
// last activity is older than ClientTimeout.
func (s *Server) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	interval := s.opts.HeartbeatInterval
	if s.opts.ClientTimeout < interval {
		interval = s.opts.ClientTimeout
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.sweep(now)
		}
	}
}

func (s *Server) sweep(now time.Time) {
	s.mu.RLock()
	var expired []string
	for id, c := range s.clients {
		if now.Sub(c.LastActivity) > s.opts.ClientTimeout {
			expired = append(expired, id)
		}
	}
	s.mu.RUnlock()

	for _, id := range expired {
		if s.removeClient(id, ReasonTimeout) {
			s.logger.Info("Evicted silent client", loggingpkg.LogFields{
				"client_id":  id,
				"timeout_ms": s.opts.ClientTimeout.Milliseconds(),
			})
		}
	}
}

func decodeRequest[T any](requestType string, payload json.RawMessage) (T, error) {
	out, err := jsoncodec.DecodePayload[T](payload)
	if err != nil {
		return out, validationError(requestType, err)
	}
	return out, nil
}

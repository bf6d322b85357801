package server

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/drblury/contractflow/internal/runtime/contract"
	"github.com/drblury/contractflow/internal/runtime/ids"
	"github.com/drblury/contractflow/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/contractflow/internal/runtime/logging"
	"github.com/drblury/contractflow/internal/runtime/msgctx"
	"github.com/drblury/contractflow/internal/runtime/msgerr"
	"github.com/drblury/contractflow/transport"
)

func (s *Server) installSystemHandlers() error {
	handlers := map[string]transport.RequestHandler{
		contract.SystemRegister:    s.handleRegister,
		contract.SystemHeartbeat:   s.handleHeartbeat,
		contract.SystemPing:        s.handlePing,
		contract.SystemSubscribe:   s.handleSubscribe,
		contract.SystemUnsubscribe: s.handleUnsubscribe,
		contract.SystemDisconnect:  s.handleDisconnect,
	}
	for _, name := range contract.SystemRequests() {
		if err := s.adapter.HandleRequest(name, handlers[name]); err != nil {
			return err
		}
	}
	return nil
}

var errMissingClientID = errors.New("client id is required")

func notRegistered(requestType string) *msgerr.Error {
	return msgerr.New(msgerr.CodeClientNotRegistered, msgerr.WithParam("requestType", requestType))
}

func (s *Server) handleRegister(_ context.Context, payload json.RawMessage, mc msgctx.MessageContext) (json.RawMessage, error) {
	req, err := decodeRequest[contract.RegisterRequest](contract.SystemRegister, payload)
	if err != nil {
		return nil, err
	}
	// The transport addresses the peer by its source id.
	clientID := mc.Source
	if clientID == "" {
		clientID = req.ClientID
	}
	if clientID == "" {
		return nil, validationError(contract.SystemRegister, errMissingClientID)
	}
	clientType := req.ClientType
	if clientType == "" {
		clientType = "generic"
	}

	now := time.Now()
	s.mu.Lock()
	existing, again := s.clients[clientID]
	if !again && len(s.clients) >= s.opts.MaxClients {
		s.mu.Unlock()
		s.logger.Info("Registration rejected at capacity", loggingpkg.LogFields{
			"client_id":   clientID,
			"max_clients": s.opts.MaxClients,
		})
		return nil, msgerr.New(msgerr.CodeCapacityExceeded, msgerr.WithParam("maxClients", s.opts.MaxClients))
	}
	conn := &ClientConnection{
		ClientID:      clientID,
		ConnectionID:  ids.CreateULID(),
		ClientType:    clientType,
		Capabilities:  append([]string(nil), req.Capabilities...),
		Metadata:      req.Metadata.Clone(),
		ConnectedAt:   now,
		LastActivity:  now,
		Subscriptions: make(map[string]Subscription),
	}
	if again {
		conn.ConnectedAt = existing.ConnectedAt
		conn.Subscriptions = existing.Subscriptions
	}
	s.clients[clientID] = conn
	count := len(s.clients)
	snapshot := conn.clone()
	s.mu.Unlock()

	s.provider.Metrics.ClientsConnected(count)
	s.logger.Info("Client registered", loggingpkg.LogFields{
		"client_id":   clientID,
		"client_type": clientType,
		"clients":     count,
		"again":       again,
	})
	if !again {
		for _, fn := range s.connected.Snapshot() {
			fn(snapshot)
		}
		s.emitSystem(contract.SystemClientConnected, contract.ClientEvent{
			ClientID:   clientID,
			ClientType: clientType,
		})
	}

	return jsoncodec.Payload(contract.RegisterResponse{
		ClientID:            clientID,
		ServerID:            s.opts.ServerID,
		HeartbeatIntervalMs: s.opts.HeartbeatInterval.Milliseconds(),
	})
}

func (s *Server) handleHeartbeat(_ context.Context, _ json.RawMessage, mc msgctx.MessageContext) (json.RawMessage, error) {
	if !s.touch(mc.Source) {
		return nil, notRegistered(contract.SystemHeartbeat)
	}
	return jsoncodec.Payload(contract.PingResponse{Timestamp: time.Now().UTC()})
}

func (s *Server) handlePing(_ context.Context, _ json.RawMessage, mc msgctx.MessageContext) (json.RawMessage, error) {
	s.touch(mc.Source)
	return jsoncodec.Payload(contract.PingResponse{Timestamp: time.Now().UTC()})
}

func (s *Server) handleSubscribe(_ context.Context, payload json.RawMessage, mc msgctx.MessageContext) (json.RawMessage, error) {
	req, err := decodeRequest[contract.SubscribeRequest](contract.SystemSubscribe, payload)
	if err != nil {
		return nil, err
	}
	for _, event := range req.Events {
		if event != transport.AnyEvent && !s.contract.HasEvent(event) {
			return nil, msgerr.New(msgerr.CodeUnknownMessageType, msgerr.WithParam("type", event))
		}
	}

	id := req.SubscriptionID
	if id == "" {
		id = "sub-" + ids.CreateULID()
	}
	s.mu.Lock()
	c, ok := s.clients[mc.Source]
	if ok {
		c.LastActivity = time.Now()
		c.Subscriptions[id] = Subscription{
			ID:     id,
			Events: append([]string(nil), req.Events...),
			Filter: req.Filter,
		}
	}
	s.mu.Unlock()
	if !ok {
		return nil, notRegistered(contract.SystemSubscribe)
	}

	s.logger.Debug("Subscription added", loggingpkg.LogFields{
		"client_id":       mc.Source,
		"subscription_id": id,
		"events":          req.Events,
	})
	return jsoncodec.Payload(contract.SubscribeResponse{SubscriptionID: id})
}

// handleUnsubscribe always succeeds: removing an unknown subscription is a
// no-op reported through Removed.
func (s *Server) handleUnsubscribe(_ context.Context, payload json.RawMessage, mc msgctx.MessageContext) (json.RawMessage, error) {
	req, err := decodeRequest[contract.UnsubscribeRequest](contract.SystemUnsubscribe, payload)
	if err != nil {
		return nil, err
	}
	removed := false
	s.mu.Lock()
	if c, ok := s.clients[mc.Source]; ok {
		c.LastActivity = time.Now()
		if _, removed = c.Subscriptions[req.SubscriptionID]; removed {
			delete(c.Subscriptions, req.SubscriptionID)
		}
	}
	s.mu.Unlock()
	return jsoncodec.Payload(contract.UnsubscribeResponse{Removed: removed})
}

func (s *Server) handleDisconnect(_ context.Context, _ json.RawMessage, mc msgctx.MessageContext) (json.RawMessage, error) {
	s.removeClient(mc.Source, ReasonClientRequest)
	return json.RawMessage(`{}`), nil
}

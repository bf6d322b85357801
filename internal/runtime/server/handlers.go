package server

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/drblury/contractflow/internal/runtime/contract"
	errspkg "github.com/drblury/contractflow/internal/runtime/errors"
	"github.com/drblury/contractflow/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/contractflow/internal/runtime/logging"
	"github.com/drblury/contractflow/internal/runtime/middleware"
	"github.com/drblury/contractflow/internal/runtime/msgctx"
	"github.com/drblury/contractflow/internal/runtime/msgerr"
	"github.com/drblury/contractflow/internal/runtime/observability"
	"github.com/drblury/contractflow/transport"
)

// RequestHandler answers one request type. clientID names the registered
// caller. Returned errors are converted to wire errors for that caller only.
type RequestHandler func(ctx context.Context, payload json.RawMessage, mc msgctx.MessageContext, clientID string) (json.RawMessage, error)

// EventHandler receives a validated event sent by a client.
type EventHandler func(ctx context.Context, payload json.RawMessage, mc msgctx.MessageContext, clientID string) error

func validationError(target string, cause error) *msgerr.Error {
	return msgerr.New(msgerr.CodeValidation, msgerr.WithParam("target", target), msgerr.WithCause(cause))
}

// HandleRequest registers the single handler for requestType.
func (s *Server) HandleRequest(requestType string, handler RequestHandler) error {
	if handler == nil {
		return errspkg.ErrHandlerRequired
	}
	if contract.IsSystemName(requestType) {
		return fmt.Errorf("%w: %q", errspkg.ErrReservedName, requestType)
	}
	if _, ok := s.contract.Request(requestType); !ok {
		return fmt.Errorf("%w: %q", errspkg.ErrUnknownRequest, requestType)
	}

	s.mu.Lock()
	if _, exists := s.handlers[requestType]; exists {
		s.mu.Unlock()
		return fmt.Errorf("%w: %q", errspkg.ErrHandlerExists, requestType)
	}
	s.handlers[requestType] = struct{}{}
	s.mu.Unlock()

	if err := s.adapter.HandleRequest(requestType, s.wrapRequest(requestType, handler)); err != nil {
		s.mu.Lock()
		delete(s.handlers, requestType)
		s.mu.Unlock()
		return err
	}
	return nil
}

func (s *Server) wrapRequest(requestType string, handler RequestHandler) transport.RequestHandler {
	return func(ctx context.Context, payload json.RawMessage, mc msgctx.MessageContext) (json.RawMessage, error) {
		clientID := mc.Source
		if !s.touch(clientID) {
			return nil, msgerr.New(msgerr.CodeClientNotRegistered, msgerr.WithParam("requestType", requestType))
		}

		start := time.Now()
		resp := s.pipeline.ExecuteRequest(msgctx.WithContext(ctx, mc), middleware.Message{
			Type:     requestType,
			Payload:  payload,
			Context:  mc,
			ClientID: clientID,
		}, func(ctx context.Context, msg middleware.Message) middleware.Response {
			if verr := s.contract.ValidateRequest(msg.Type, msg.Payload); verr != nil {
				return middleware.Fail(verr, msg.Context)
			}
			out, err := handler(ctx, msg.Payload, msg.Context, msg.ClientID)
			if err != nil {
				return middleware.Fail(s.contract.Errors().ToMessagingError(err, msgerr.CodeInternal), msg.Context)
			}
			if verr := s.contract.ValidateResponse(msg.Type, out); verr != nil {
				return middleware.Fail(verr, msg.Context)
			}
			return middleware.OK(out, msg.Context)
		})
		elapsed := time.Since(start)

		fields := loggingpkg.LogFields{
			"request_type": requestType,
			"client_id":    clientID,
			"trace_id":     mc.TraceID,
			"duration_ms":  elapsed.Milliseconds(),
		}
		if !resp.Success {
			err := resp.Err()
			s.provider.Metrics.RequestHandled(requestType, msgerr.CodeOf(err), elapsed)
			s.provider.LogError("Request handler failed", resp.Error, fields)
			return nil, err
		}
		s.provider.Metrics.RequestHandled(requestType, observability.OutcomeOK, elapsed)
		s.logger.Debug("Request handled", fields)
		return resp.Data, nil
	}
}

// Handle registers a typed request handler: the payload is decoded into Req
// and the returned Resp is encoded as the response.
func Handle[Req, Resp any](s *Server, requestType string, handler func(ctx context.Context, req Req, mc msgctx.MessageContext, clientID string) (Resp, error)) error {
	if handler == nil {
		return errspkg.ErrHandlerRequired
	}
	return s.HandleRequest(requestType, func(ctx context.Context, raw json.RawMessage, mc msgctx.MessageContext, clientID string) (json.RawMessage, error) {
		req, err := decodeRequest[Req](requestType, raw)
		if err != nil {
			return nil, err
		}
		resp, err := handler(ctx, req, mc, clientID)
		if err != nil {
			return nil, err
		}
		return jsoncodec.Payload(resp)
	})
}

// HandlerNames returns the application request types with a handler.
func (s *Server) HandlerNames() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.handlers))
	for name := range s.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// On registers handler for events emitted by clients. Events from
// unregistered peers are dropped.
func (s *Server) On(event string, handler EventHandler) (transport.HandlerID, error) {
	if event != transport.AnyEvent && !s.contract.HasEvent(event) {
		return 0, fmt.Errorf("%w: %q", errspkg.ErrUnknownEvent, event)
	}
	if handler == nil {
		return 0, errspkg.ErrHandlerRequired
	}
	return s.adapter.On(event, func(ctx context.Context, payload json.RawMessage, mc msgctx.MessageContext) error {
		clientID := mc.Source
		if !s.touch(clientID) {
			s.logger.Debug("Dropping event from unregistered peer", loggingpkg.LogFields{
				"event":     event,
				"client_id": clientID,
			})
			return nil
		}
		start := time.Now()
		err := s.pipeline.ExecuteEvent(msgctx.WithContext(ctx, mc), middleware.Message{
			Type:     event,
			Payload:  payload,
			Context:  mc,
			ClientID: clientID,
		}, func(ctx context.Context, msg middleware.Message) error {
			if msg.Type != transport.AnyEvent {
				if verr := s.contract.ValidateEvent(msg.Type, msg.Payload); verr != nil {
					return verr
				}
			}
			return handler(ctx, msg.Payload, msg.Context, msg.ClientID)
		})
		s.provider.Metrics.EventHandled(event, observability.Outcome(err), time.Since(start))
		return err
	})
}

// On is the typed form of Server.On.
func On[T any](s *Server, event string, handler func(ctx context.Context, payload T, mc msgctx.MessageContext, clientID string) error) (transport.HandlerID, error) {
	if handler == nil {
		return 0, errspkg.ErrHandlerRequired
	}
	return s.On(event, func(ctx context.Context, raw json.RawMessage, mc msgctx.MessageContext, clientID string) error {
		payload, err := jsoncodec.DecodePayload[T](raw)
		if err != nil {
			return validationError(event, err)
		}
		return handler(ctx, payload, mc, clientID)
	})
}

// Off removes a handler registered with On.
func (s *Server) Off(event string, id transport.HandlerID) {
	s.adapter.Off(event, id)
}

func (s *Server) prepareEvent(event string, payload any) (json.RawMessage, error) {
	if !s.contract.HasEvent(event) {
		return nil, msgerr.New(msgerr.CodeUnknownMessageType,
			msgerr.WithParam("type", event),
			msgerr.WithCause(fmt.Errorf("%w: %q", errspkg.ErrUnknownEvent, event)))
	}
	if !s.IsRunning() {
		return nil, errspkg.ErrServerNotStarted
	}
	data, err := jsoncodec.Payload(payload)
	if err != nil {
		return nil, validationError(event, err)
	}
	if verr := s.contract.ValidateEvent(event, data); verr != nil {
		return nil, verr
	}
	return data, nil
}

func (s *Server) emit(ctx context.Context, event string, data json.RawMessage, target string) error {
	mc := s.newContext(ctx)
	mc.Target = target
	return s.pipeline.ExecuteEvent(msgctx.WithContext(ctx, mc), middleware.Message{
		Type:     event,
		Payload:  data,
		Context:  mc,
		ClientID: target,
	}, func(ctx context.Context, msg middleware.Message) error {
		return s.adapter.Emit(ctx, msg.Type, msg.Payload, msg.Context)
	})
}

// Broadcast sends event to every connected client.
func (s *Server) Broadcast(ctx context.Context, event string, payload any) error {
	data, err := s.prepareEvent(event, payload)
	if err != nil {
		return err
	}
	return s.emit(ctx, event, data, "")
}

// SendToClient sends event to one registered client and fails with
// CLIENT_NOT_FOUND when it is not registered.
func (s *Server) SendToClient(ctx context.Context, clientID, event string, payload any) error {
	data, err := s.prepareEvent(event, payload)
	if err != nil {
		return err
	}
	if _, ok := s.GetClient(clientID); !ok {
		return msgerr.New(msgerr.CodeClientNotFound,
			msgerr.WithParam("clientId", clientID),
			msgerr.WithCause(fmt.Errorf("%w: %q", errspkg.ErrClientNotFound, clientID)))
	}
	return s.emit(ctx, event, data, clientID)
}

// Publish sends event to every client holding a subscription that names it
// and whose filter matches payload. It returns the number of clients
// reached.
func (s *Server) Publish(ctx context.Context, event string, payload any) (int, error) {
	data, err := s.prepareEvent(event, payload)
	if err != nil {
		return 0, err
	}
	fields, _ := jsoncodec.DecodePayload[map[string]json.RawMessage](data)

	var targets []string
	for _, c := range s.GetClients() {
		for _, sub := range c.Subscriptions {
			if sub.matches(event, fields) {
				targets = append(targets, c.ClientID)
				break
			}
		}
	}

	sent := 0
	for _, id := range targets {
		if err := s.emit(ctx, event, data, id); err != nil {
			s.logger.Error("Failed to publish to subscriber", err, loggingpkg.LogFields{
				"event":     event,
				"client_id": id,
			})
			continue
		}
		sent++
	}
	return sent, nil
}

// matches reports whether the subscription covers event and every filter
// entry equals the payload's top-level field of the same name.
func (sub Subscription) matches(event string, fields map[string]json.RawMessage) bool {
	named := false
	for _, e := range sub.Events {
		if e == event || e == transport.AnyEvent {
			named = true
			break
		}
	}
	if !named {
		return false
	}
	for key, want := range sub.Filter {
		got, ok := fields[key]
		if !ok {
			return false
		}
		wantRaw, err := jsoncodec.Marshal(want)
		if err != nil {
			return false
		}
		if !sameJSON(got, wantRaw) {
			return false
		}
	}
	return true
}

// sameJSON compares two JSON values after normalizing them through the
// codec, which orders object keys.
func sameJSON(a, b []byte) bool {
	var av, bv any
	if jsoncodec.Unmarshal(a, &av) != nil || jsoncodec.Unmarshal(b, &bv) != nil {
		return false
	}
	an, err := jsoncodec.Marshal(av)
	if err != nil {
		return false
	}
	bn, err := jsoncodec.Marshal(bv)
	if err != nil {
		return false
	}
	return string(an) == string(bn)
}

package client

import (
	"context"
	"encoding/json"
	"fmt"
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

// EventHandler receives a validated inbound event.
type EventHandler func(ctx context.Context, payload json.RawMessage, mc msgctx.MessageContext) error

func unknownType(name string, sentinel error) *msgerr.Error {
	return msgerr.New(msgerr.CodeUnknownMessageType,
		msgerr.WithParam("type", name),
		msgerr.WithCause(fmt.Errorf("%w: %q", sentinel, name)))
}

func (c *Client) requireConnected() *msgerr.Error {
	if c.Status() != StatusConnected {
		return msgerr.New(msgerr.CodeNotConnected, msgerr.WithCause(errspkg.ErrNotConnected))
	}
	return nil
}

// Request sends requestType with payload (any JSON-encodable value, or
// json.RawMessage) and returns the validated response. A MessageContext
// stored in ctx with msgctx.WithContext is continued. Errors are
// *msgerr.Error values carrying the contract's metadata for their code.
func (c *Client) Request(ctx context.Context, requestType string, payload any) (json.RawMessage, error) {
	if !c.contract.HasRequest(requestType) {
		return nil, unknownType(requestType, errspkg.ErrUnknownRequest)
	}
	if err := c.requireConnected(); err != nil {
		return nil, err
	}
	data, err := jsoncodec.Payload(payload)
	if err != nil {
		return nil, msgerr.New(msgerr.CodeValidation, msgerr.WithParam("target", requestType), msgerr.WithCause(err))
	}

	mc := c.newContext(ctx)
	start := time.Now()
	resp := c.pipeline.ExecuteRequest(msgctx.WithContext(ctx, mc), middleware.Message{
		Type:     requestType,
		Payload:  data,
		Context:  mc,
		ClientID: c.opts.ClientID,
	}, c.send)
	elapsed := time.Since(start)

	fields := loggingpkg.LogFields{
		"request_type": requestType,
		"trace_id":     mc.TraceID,
		"duration_ms":  elapsed.Milliseconds(),
	}
	if !resp.Success {
		err := resp.Err()
		c.provider.Metrics.RequestHandled(requestType, msgerr.CodeOf(err), elapsed)
		c.provider.LogError("Request failed", resp.Error, fields)
		if resp.Error != nil && resp.Error.IsType(msgerr.TypeTransport) {
			c.reportError(err)
		}
		return nil, err
	}
	c.provider.Metrics.RequestHandled(requestType, observability.OutcomeOK, elapsed)
	c.logger.Debug("Request completed", fields)
	return resp.Data, nil
}

// send is the terminal of the outbound request chain.
func (c *Client) send(ctx context.Context, msg middleware.Message) middleware.Response {
	if verr := c.contract.ValidateRequest(msg.Type, msg.Payload); verr != nil {
		return middleware.Fail(verr, msg.Context)
	}
	raw, err := c.adapter.Request(ctx, msg.Type, msg.Payload, msg.Context)
	if err != nil {
		return middleware.Fail(c.enrich(err), msg.Context)
	}
	if verr := c.contract.ValidateResponse(msg.Type, raw); verr != nil {
		return middleware.Fail(verr, msg.Context)
	}
	return middleware.OK(raw, msg.Context)
}

// Request is the typed form of Client.Request: the response is decoded
// into Resp.
func Request[Resp any](ctx context.Context, c *Client, requestType string, payload any) (Resp, error) {
	var zero Resp
	raw, err := c.Request(ctx, requestType, payload)
	if err != nil {
		return zero, err
	}
	out, err := jsoncodec.DecodePayload[Resp](raw)
	if err != nil {
		return zero, msgerr.New(msgerr.CodeResponseValidation,
			msgerr.WithParam("target", requestType), msgerr.WithCause(err))
	}
	return out, nil
}

// Emit validates and publishes an event. Delivery is not acknowledged.
func (c *Client) Emit(ctx context.Context, event string, payload any) error {
	if !c.contract.HasEvent(event) {
		return unknownType(event, errspkg.ErrUnknownEvent)
	}
	if err := c.requireConnected(); err != nil {
		return err
	}
	data, err := jsoncodec.Payload(payload)
	if err != nil {
		return msgerr.New(msgerr.CodeValidation, msgerr.WithParam("target", event), msgerr.WithCause(err))
	}

	mc := c.newContext(ctx)
	return c.pipeline.ExecuteEvent(msgctx.WithContext(ctx, mc), middleware.Message{
		Type:     event,
		Payload:  data,
		Context:  mc,
		ClientID: c.opts.ClientID,
	}, func(ctx context.Context, msg middleware.Message) error {
		if verr := c.contract.ValidateEvent(msg.Type, msg.Payload); verr != nil {
			return verr
		}
		return c.adapter.Emit(ctx, msg.Type, msg.Payload, msg.Context)
	})
}

// On registers handler for event. Handlers may be added before Connect.
// Payloads failing the event schema are logged and dropped.
func (c *Client) On(event string, handler EventHandler) (transport.HandlerID, error) {
	if event != transport.AnyEvent && !c.contract.HasEvent(event) {
		return 0, fmt.Errorf("%w: %q", errspkg.ErrUnknownEvent, event)
	}
	if handler == nil {
		return 0, errspkg.ErrHandlerRequired
	}
	return c.adapter.On(event, func(ctx context.Context, payload json.RawMessage, mc msgctx.MessageContext) error {
		start := time.Now()
		err := c.pipeline.ExecuteEvent(msgctx.WithContext(ctx, mc), middleware.Message{
			Type:     event,
			Payload:  payload,
			Context:  mc,
			ClientID: c.opts.ClientID,
		}, func(ctx context.Context, msg middleware.Message) error {
			if msg.Type != transport.AnyEvent {
				if verr := c.contract.ValidateEvent(msg.Type, msg.Payload); verr != nil {
					return verr
				}
			}
			return handler(ctx, msg.Payload, msg.Context)
		})
		c.provider.Metrics.EventHandled(event, observability.Outcome(err), time.Since(start))
		return err
	})
}

// On is the typed form of Client.On: payloads are decoded into T.
func On[T any](c *Client, event string, handler func(ctx context.Context, payload T, mc msgctx.MessageContext) error) (transport.HandlerID, error) {
	if handler == nil {
		return 0, errspkg.ErrHandlerRequired
	}
	return c.On(event, func(ctx context.Context, raw json.RawMessage, mc msgctx.MessageContext) error {
		payload, err := jsoncodec.DecodePayload[T](raw)
		if err != nil {
			return msgerr.New(msgerr.CodeValidation, msgerr.WithParam("target", event), msgerr.WithCause(err))
		}
		return handler(ctx, payload, mc)
	})
}

// Off removes a handler registered with On.
func (c *Client) Off(event string, id transport.HandlerID) {
	c.adapter.Off(event, id)
}

// Subscribe asks the server to deliver events through Publish to this
// client, optionally restricted by filter, and returns the subscription id.
func (c *Client) Subscribe(ctx context.Context, events []string, filter map[string]any) (string, error) {
	for _, event := range events {
		if !c.contract.HasEvent(event) {
			return "", unknownType(event, errspkg.ErrUnknownEvent)
		}
	}
	if err := c.requireConnected(); err != nil {
		return "", err
	}
	sub := contract.SubscribeRequest{Events: append([]string(nil), events...), Filter: filter}
	id, err := c.subscribe(ctx, sub)
	if err != nil {
		return "", err
	}
	c.mu.Lock()
	c.subscriptions[id] = sub
	c.mu.Unlock()
	return id, nil
}

func (c *Client) subscribe(ctx context.Context, sub contract.SubscribeRequest) (string, error) {
	payload, err := jsoncodec.Payload(sub)
	if err != nil {
		return "", err
	}
	raw, err := c.adapter.Request(ctx, contract.SystemSubscribe, payload, c.newContext(ctx))
	if err != nil {
		return "", c.enrich(err)
	}
	resp, err := jsoncodec.DecodePayload[contract.SubscribeResponse](raw)
	if err != nil {
		return "", msgerr.New(msgerr.CodeResponseValidation,
			msgerr.WithParam("target", contract.SystemSubscribe), msgerr.WithCause(err))
	}
	return resp.SubscriptionID, nil
}

// Unsubscribe cancels a subscription. Unknown or already cancelled ids are
// a no-op, so calling it twice is safe.
func (c *Client) Unsubscribe(ctx context.Context, subscriptionID string) error {
	c.mu.Lock()
	_, ok := c.subscriptions[subscriptionID]
	delete(c.subscriptions, subscriptionID)
	c.mu.Unlock()
	if !ok || c.Status() != StatusConnected {
		return nil
	}

	payload, err := jsoncodec.Payload(contract.UnsubscribeRequest{SubscriptionID: subscriptionID})
	if err != nil {
		return err
	}
	if _, err := c.adapter.Request(ctx, contract.SystemUnsubscribe, payload, c.newContext(ctx)); err != nil {
		return c.enrich(err)
	}
	return nil
}

// Subscriptions returns the ids of the active subscriptions.
func (c *Client) Subscriptions() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.subscriptions))
	for id := range c.subscriptions {
		out = append(out, id)
	}
	return out
}

// Login authenticates through the adapter. Later messages carry the
// returned token.
func (c *Client) Login(ctx context.Context, creds transport.Credentials) (transport.AuthResult, error) {
	res, err := c.adapter.Login(ctx, creds)
	if err != nil {
		return transport.AuthResult{}, c.enrich(err)
	}
	return res, nil
}

// Logout drops the session.
func (c *Client) Logout(ctx context.Context) error {
	return c.adapter.Logout(ctx)
}

// Ping round-trips a system:ping request and returns the elapsed time.
func (c *Client) Ping(ctx context.Context) (time.Duration, error) {
	if err := c.requireConnected(); err != nil {
		return 0, err
	}
	start := time.Now()
	if _, err := c.adapter.Request(ctx, contract.SystemPing, nil, c.newContext(ctx)); err != nil {
		return 0, c.enrich(err)
	}
	return time.Since(start), nil
}

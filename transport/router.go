package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/drblury/contractflow/internal/runtime/errors"
	"github.com/drblury/contractflow/internal/runtime/logging"
	"github.com/drblury/contractflow/internal/runtime/msgctx"
	"github.com/drblury/contractflow/internal/runtime/msgerr"
)

// AnyEvent registers a handler for every inbound event.
const AnyEvent = "*"

type eventEntry struct {
	id      HandlerID
	handler EventHandler
}

// Router dispatches inbound envelopes to registered handlers. A failing or
// panicking handler never affects the other handlers for the same event.
type Router struct {
	logger logging.ServiceLogger
	nextID atomic.Uint64

	mu       sync.RWMutex
	events   map[string][]eventEntry
	requests map[string]RequestHandler
}

// NewRouter returns an empty router.
func NewRouter(logger logging.ServiceLogger) *Router {
	return &Router{
		logger:   logging.OrNop(logger),
		events:   make(map[string][]eventEntry),
		requests: make(map[string]RequestHandler),
	}
}

// On adds handler for event and returns its id.
func (r *Router) On(event string, handler EventHandler) (HandlerID, error) {
	if event == "" {
		return 0, errors.ErrNameRequired
	}
	if handler == nil {
		return 0, fmt.Errorf("event %q: %w", event, errors.ErrHandlerRequired)
	}
	id := HandlerID(r.nextID.Add(1))
	r.mu.Lock()
	r.events[event] = append(r.events[event], eventEntry{id: id, handler: handler})
	r.mu.Unlock()
	return id, nil
}

// Off removes the handler registered under id. Unknown ids are ignored.
func (r *Router) Off(event string, id HandlerID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entries := r.events[event]
	for i, e := range entries {
		if e.id == id {
			entries = append(entries[:i:i], entries[i+1:]...)
			break
		}
	}
	if len(entries) == 0 {
		delete(r.events, event)
		return
	}
	r.events[event] = entries
}

// HandleRequest sets the handler for requestType. Only one handler per type
// is allowed.
func (r *Router) HandleRequest(requestType string, handler RequestHandler) error {
	if requestType == "" {
		return errors.ErrNameRequired
	}
	if handler == nil {
		return fmt.Errorf("request %q: %w", requestType, errors.ErrHandlerRequired)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.requests[requestType]; exists {
		return fmt.Errorf("request %q: %w", requestType, errors.ErrHandlerExists)
	}
	r.requests[requestType] = handler
	return nil
}

// RequestTypes lists the request types with a handler, sorted.
func (r *Router) RequestTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.requests))
	for name := range r.requests {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// HasRequestHandler reports whether requestType has a handler.
func (r *Router) HasRequestHandler(requestType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.requests[requestType]
	return ok
}

// DispatchEvent calls every handler for event, then the AnyEvent handlers.
// It returns the number of handlers that failed.
func (r *Router) DispatchEvent(ctx context.Context, event string, payload json.RawMessage, mc msgctx.MessageContext) int {
	r.mu.RLock()
	handlers := make([]eventEntry, 0, len(r.events[event])+len(r.events[AnyEvent]))
	handlers = append(handlers, r.events[event]...)
	if event != AnyEvent {
		handlers = append(handlers, r.events[AnyEvent]...)
	}
	r.mu.RUnlock()

	failed := 0
	for _, entry := range handlers {
		if err := r.callEvent(ctx, entry.handler, payload, mc); err != nil {
			failed++
			r.logger.Error("Event handler failed", err, logging.LogFields{
				"event":      event,
				"message_id": mc.ID,
			})
		}
	}
	return failed
}

func (r *Router) callEvent(ctx context.Context, h EventHandler, payload json.RawMessage, mc msgctx.MessageContext) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic in event handler: %v", rec)
		}
	}()
	return h(ctx, payload, mc.Clone())
}

// DispatchRequest runs the handler for requestType and converts any failure
// to a messaging error.
func (r *Router) DispatchRequest(ctx context.Context, requestType string, payload json.RawMessage, mc msgctx.MessageContext) (json.RawMessage, *msgerr.Error) {
	r.mu.RLock()
	handler, ok := r.requests[requestType]
	r.mu.RUnlock()
	if !ok {
		return nil, msgerr.New(msgerr.CodeHandlerNotFound, msgerr.WithParam("requestType", requestType))
	}

	out, err := r.callRequest(ctx, handler, payload, mc)
	if err != nil {
		return nil, msgerr.ToMessagingError(err, msgerr.CodeInternal)
	}
	return out, nil
}

func (r *Router) callRequest(ctx context.Context, h RequestHandler, payload json.RawMessage, mc msgctx.MessageContext) (out json.RawMessage, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("Request handler panicked", fmt.Errorf("%v", rec), logging.LogFields{"message_id": mc.ID})
			out, err = nil, msgerr.New(msgerr.CodeInternal)
		}
	}()
	return h(ctx, payload, mc.Clone())
}

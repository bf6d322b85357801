// Package middleware composes interceptors around event and request
// handlers. A Pipeline holds an ordered list of registrations, global and
// per message type, and folds them around a terminal handler on every
// execution: global interceptors wrap per-type ones, which wrap the handler,
// each group in registration order.
package middleware

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/drblury/contractflow/internal/runtime/msgctx"
	"github.com/drblury/contractflow/internal/runtime/msgerr"
)

// Message is what flows through a chain.
type Message struct {
	Type     string
	Payload  json.RawMessage
	Context  msgctx.MessageContext
	ClientID string
}

// Response is the envelope request chains return. Exactly one of Data and
// Error is meaningful, selected by Success.
type Response struct {
	Success bool
	Data    json.RawMessage
	Error   *msgerr.Error
	Context msgctx.MessageContext
}

// OK builds a successful response.
func OK(data json.RawMessage, mc msgctx.MessageContext) Response {
	return Response{Success: true, Data: data, Context: mc}
}

// Fail builds a failed response.
func Fail(err *msgerr.Error, mc msgctx.MessageContext) Response {
	if err == nil {
		err = msgerr.New(msgerr.CodeUnknown)
	}
	return Response{Success: false, Error: err, Context: mc}
}

// Err returns the response error as an error value, or nil on success.
func (r Response) Err() error {
	if r.Success {
		return nil
	}
	if r.Error == nil {
		return msgerr.New(msgerr.CodeUnknown)
	}
	return r.Error
}

// RequestHandler is the continuation of a request chain.
type RequestHandler func(ctx context.Context, msg Message) Response

// EventHandler is the continuation of an event chain.
type EventHandler func(ctx context.Context, msg Message) error

// RequestInterceptor wraps request handling. Not calling next short-circuits
// the chain; the returned Response is the outcome.
type RequestInterceptor func(ctx context.Context, msg Message, next RequestHandler) Response

// EventInterceptor wraps event handling. Not calling next drops the event.
type EventInterceptor func(ctx context.Context, msg Message, next EventHandler) error

// Registration names an interceptor pair. Either side may be nil.
type Registration struct {
	Name    string
	Request RequestInterceptor
	Event   EventInterceptor
}

// Pipeline is safe for concurrent use; registrations may be added while
// messages are executing and apply to subsequent executions.
type Pipeline struct {
	parent *Pipeline

	mu         sync.RWMutex
	global     []Registration
	perRequest map[string][]Registration
	perEvent   map[string][]Registration
}

// NewPipeline returns a pipeline with the given global registrations.
func NewPipeline(global ...Registration) *Pipeline {
	p := &Pipeline{
		perRequest: make(map[string][]Registration),
		perEvent:   make(map[string][]Registration),
	}
	p.Use(global...)
	return p
}

// Extend returns a pipeline that runs p's chain and then regs. Later
// registrations on p still apply to it; registrations on it never reach p.
func (p *Pipeline) Extend(regs ...Registration) *Pipeline {
	child := NewPipeline(regs...)
	child.parent = p
	return child
}

// Use appends global registrations.
func (p *Pipeline) Use(regs ...Registration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.global = append(p.global, regs...)
}

// UseForRequest appends registrations applied only to requests of type.
func (p *Pipeline) UseForRequest(requestType string, regs ...Registration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.perRequest[requestType] = append(p.perRequest[requestType], regs...)
}

// UseForEvent appends registrations applied only to the named event.
func (p *Pipeline) UseForEvent(event string, regs ...Registration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.perEvent[event] = append(p.perEvent[event], regs...)
}

// RequestChain returns the names of the request interceptors applied to
// requestType, outermost first.
func (p *Pipeline) RequestChain(requestType string) []string {
	return names(p.requestInterceptors(requestType))
}

// EventChain returns the names of the event interceptors applied to event,
// outermost first.
func (p *Pipeline) EventChain(event string) []string {
	return names(p.eventInterceptors(event))
}

// ExecuteRequest runs msg through the chain for msg.Type ending in terminal.
func (p *Pipeline) ExecuteRequest(ctx context.Context, msg Message, terminal RequestHandler) Response {
	chain := terminal
	regs := p.requestInterceptors(msg.Type)
	for i := len(regs) - 1; i >= 0; i-- {
		interceptor, next := regs[i].Request, chain
		chain = func(ctx context.Context, m Message) Response {
			return interceptor(ctx, m, next)
		}
	}
	return chain(ctx, msg)
}

// ExecuteEvent runs msg through the chain for msg.Type ending in terminal.
func (p *Pipeline) ExecuteEvent(ctx context.Context, msg Message, terminal EventHandler) error {
	chain := terminal
	regs := p.eventInterceptors(msg.Type)
	for i := len(regs) - 1; i >= 0; i-- {
		interceptor, next := regs[i].Event, chain
		chain = func(ctx context.Context, m Message) error {
			return interceptor(ctx, m, next)
		}
	}
	return chain(ctx, msg)
}

func (p *Pipeline) requestInterceptors(requestType string) []Registration {
	var out []Registration
	if p.parent != nil {
		out = p.parent.requestInterceptors(requestType)
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, groups := range [][]Registration{p.global, p.perRequest[requestType]} {
		for _, r := range groups {
			if r.Request != nil {
				out = append(out, r)
			}
		}
	}
	return out
}

func (p *Pipeline) eventInterceptors(event string) []Registration {
	var out []Registration
	if p.parent != nil {
		out = p.parent.eventInterceptors(event)
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, groups := range [][]Registration{p.global, p.perEvent[event]} {
		for _, r := range groups {
			if r.Event != nil {
				out = append(out, r)
			}
		}
	}
	return out
}

func names(regs []Registration) []string {
	out := make([]string, len(regs))
	for i, r := range regs {
		out[i] = r.Name
	}
	return out
}

// Package contract describes the events, requests and errors two peers agree
// on. A Contract is built once and shared read-only by clients and servers.
package contract

import (
	"fmt"
	"slices"
	"sort"
	"strings"

	errspkg "github.com/drblury/contractflow/internal/runtime/errors"
	"github.com/drblury/contractflow/internal/runtime/msgerr"
)

// SystemPrefix marks names reserved for runtime lifecycle messages.
const SystemPrefix = "system:"

// IsSystemName reports whether name belongs to the reserved namespace.
func IsSystemName(name string) bool {
	return strings.HasPrefix(name, SystemPrefix)
}

// EventDef pairs an event name with its payload schema.
type EventDef struct {
	Name   string
	Schema Schema
}

// Event declares an event.
func Event(name string, schema Schema) EventDef {
	return EventDef{Name: name, Schema: schema}
}

// RequestDef pairs a request name with its request and response schemas.
type RequestDef struct {
	Name     string
	Request  Schema
	Response Schema
}

// Request declares a request/response pair.
func Request(name string, request, response Schema) RequestDef {
	return RequestDef{Name: name, Request: request, Response: response}
}

// EventMap is an immutable set of event definitions.
type EventMap struct {
	defs map[string]EventDef
}

// NewEventMap validates and indexes the definitions.
func NewEventMap(defs ...EventDef) (EventMap, error) {
	out := EventMap{defs: make(map[string]EventDef, len(defs))}
	for _, def := range defs {
		if err := checkName(def.Name); err != nil {
			return EventMap{}, err
		}
		if def.Schema == nil {
			return EventMap{}, fmt.Errorf("%w: event %q", errspkg.ErrSchemaRequired, def.Name)
		}
		if _, exists := out.defs[def.Name]; exists {
			return EventMap{}, fmt.Errorf("%w: event %q", errspkg.ErrDuplicateName, def.Name)
		}
		out.defs[def.Name] = def
	}
	return out, nil
}

// MustEventMap is NewEventMap that panics on error.
func MustEventMap(defs ...EventDef) EventMap {
	m, err := NewEventMap(defs...)
	if err != nil {
		panic(err)
	}
	return m
}

// RequestMap is an immutable set of request definitions.
type RequestMap struct {
	defs map[string]RequestDef
}

// NewRequestMap validates and indexes the definitions.
func NewRequestMap(defs ...RequestDef) (RequestMap, error) {
	out := RequestMap{defs: make(map[string]RequestDef, len(defs))}
	for _, def := range defs {
		if err := checkName(def.Name); err != nil {
			return RequestMap{}, err
		}
		if def.Request == nil || def.Response == nil {
			return RequestMap{}, fmt.Errorf("%w: request %q", errspkg.ErrSchemaRequired, def.Name)
		}
		if _, exists := out.defs[def.Name]; exists {
			return RequestMap{}, fmt.Errorf("%w: request %q", errspkg.ErrDuplicateName, def.Name)
		}
		out.defs[def.Name] = def
	}
	return out, nil
}

// MustRequestMap is NewRequestMap that panics on error.
func MustRequestMap(defs ...RequestDef) RequestMap {
	m, err := NewRequestMap(defs...)
	if err != nil {
		panic(err)
	}
	return m
}

// ErrorMap lists application error definitions in declaration order.
type ErrorMap []msgerr.Definition

// NewErrorMap collects error definitions. Duplicate handling is decided when
// the contract builds its registry.
func NewErrorMap(defs ...msgerr.Definition) ErrorMap {
	return append(ErrorMap(nil), defs...)
}

func checkName(name string) error {
	if strings.TrimSpace(name) == "" {
		return errspkg.ErrNameRequired
	}
	if IsSystemName(name) {
		return fmt.Errorf("%w: %q", errspkg.ErrReservedName, name)
	}
	return nil
}

// ErrorCatalog is the read side of the contract's error registry.
type ErrorCatalog interface {
	Lookup(code string) (msgerr.Definition, bool)
	Definitions() []msgerr.Definition
	Create(code string, opts ...msgerr.Option) *msgerr.Error
	Enrich(err *msgerr.Error) *msgerr.Error
	FromResponse(re msgerr.ResponseError) *msgerr.Error
	ToMessagingError(err error, fallbackCode string) *msgerr.Error
}

// Option configures contract construction.
type Option func(*options)

type options struct {
	policy msgerr.DuplicatePolicy
}

// WithErrorPolicy sets how duplicate error codes in the ErrorMap are treated.
func WithErrorPolicy(p msgerr.DuplicatePolicy) Option {
	return func(o *options) { o.policy = p }
}

// Contract is the shared definition of a messaging domain.
type Contract struct {
	name     string
	events   map[string]EventDef
	requests map[string]RequestDef
	errors   *msgerr.Registry
}

// New builds a contract. Errors are registered on top of the runtime's
// built-in codes.
func New(name string, events EventMap, requests RequestMap, errs ErrorMap, opts ...Option) (*Contract, error) {
	if strings.TrimSpace(name) == "" {
		return nil, errspkg.ErrNameRequired
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	registry := msgerr.NewRegistry(msgerr.WithDuplicatePolicy(o.policy))
	if err := registry.RegisterMany(errs...); err != nil {
		return nil, err
	}
	c := &Contract{
		name:     name,
		events:   make(map[string]EventDef, len(events.defs)),
		requests: make(map[string]RequestDef, len(requests.defs)),
		errors:   registry,
	}
	for k, v := range events.defs {
		c.events[k] = v
	}
	for k, v := range requests.defs {
		c.requests[k] = v
	}
	return c, nil
}

// Must is New that panics on error.
func Must(name string, events EventMap, requests RequestMap, errs ErrorMap, opts ...Option) *Contract {
	c, err := New(name, events, requests, errs, opts...)
	if err != nil {
		panic(err)
	}
	return c
}

// Name returns the contract name given to New.
func (c *Contract) Name() string { return c.name }

// Event returns the definition of an event.
func (c *Contract) Event(name string) (EventDef, bool) {
	def, ok := c.events[name]
	return def, ok
}

// Request returns the definition of a request.
func (c *Contract) Request(name string) (RequestDef, bool) {
	def, ok := c.requests[name]
	return def, ok
}

// EventNames returns the declared event names, sorted.
func (c *Contract) EventNames() []string { return sortedKeys(c.events) }

// RequestNames returns the declared request names, sorted.
func (c *Contract) RequestNames() []string { return sortedKeys(c.requests) }

// HasEvent reports whether name is a declared event or one of
// SystemEvents. Other system-prefixed names are unknown.
func (c *Contract) HasEvent(name string) bool {
	_, ok := c.events[name]
	return ok || slices.Contains(SystemEvents(), name)
}

// HasRequest reports whether name is a declared request or one of
// SystemRequests.
func (c *Contract) HasRequest(name string) bool {
	_, ok := c.requests[name]
	return ok || slices.Contains(SystemRequests(), name)
}

// Errors exposes the contract's error catalog.
func (c *Contract) Errors() ErrorCatalog { return c.errors }

// ValidateEvent checks an event payload. System events are not validated.
func (c *Contract) ValidateEvent(name string, payload []byte) *msgerr.Error {
	if IsSystemName(name) {
		return nil
	}
	def, ok := c.events[name]
	if !ok {
		return c.errors.Create(msgerr.CodeUnknownMessageType, msgerr.WithParam("type", name))
	}
	return c.violations(msgerr.CodeValidation, name, def.Schema.Validate(payload))
}

// ValidateRequest checks a request payload. System requests are not validated.
func (c *Contract) ValidateRequest(name string, payload []byte) *msgerr.Error {
	if IsSystemName(name) {
		return nil
	}
	def, ok := c.requests[name]
	if !ok {
		return c.errors.Create(msgerr.CodeUnknownMessageType, msgerr.WithParam("type", name))
	}
	return c.violations(msgerr.CodeValidation, name, def.Request.Validate(payload))
}

// ValidateResponse checks a response payload against the request's response
// schema.
func (c *Contract) ValidateResponse(name string, payload []byte) *msgerr.Error {
	if IsSystemName(name) {
		return nil
	}
	def, ok := c.requests[name]
	if !ok {
		return c.errors.Create(msgerr.CodeUnknownMessageType, msgerr.WithParam("type", name))
	}
	return c.violations(msgerr.CodeResponseValidation, name, def.Response.Validate(payload))
}

func (c *Contract) violations(code, target string, found []Violation) *msgerr.Error {
	if len(found) == 0 {
		return nil
	}
	return c.errors.Create(code,
		msgerr.WithParam("target", target),
		msgerr.WithDetail("violations", found),
	)
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

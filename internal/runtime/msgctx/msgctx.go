// Package msgctx defines the MessageContext carried by every event, request
// and response: identity, authentication, trace identifiers and free-form
// metadata.
package msgctx

import (
	"context"
	"crypto/rand"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/drblury/contractflow/internal/runtime/access"
	"github.com/drblury/contractflow/internal/runtime/ids"
	"github.com/drblury/contractflow/internal/runtime/metadata"
)

// MetadataOperation is the metadata key NewTraced stores the operation name
// under.
const MetadataOperation = "operation"

// Auth holds the caller's credentials as seen by the receiving peer.
type Auth struct {
	Token string        `json:"token,omitempty"`
	Actor *access.Actor `json:"actor,omitempty"`
}

// MessageContext is the per-message envelope. Treat it as a value: derive
// a new context with Clone or Child instead of mutating one that is shared.
type MessageContext struct {
	ID           string            `json:"id"`
	Timestamp    time.Time         `json:"timestamp"`
	Source       string            `json:"source,omitempty"`
	Target       string            `json:"target,omitempty"`
	Auth         *Auth             `json:"auth,omitempty"`
	TraceID      string            `json:"traceId,omitempty"`
	SpanID       string            `json:"spanId,omitempty"`
	ParentSpanID string            `json:"parentSpanId,omitempty"`
	Metadata     metadata.Metadata `json:"metadata,omitempty"`
}

// Option tunes New.
type Option func(*options)

type options struct {
	tracing bool
}

// WithoutTracing skips trace and span id generation.
func WithoutTracing() Option {
	return func(o *options) { o.tracing = false }
}

// New completes partial: a missing ID or Timestamp is filled in and, unless
// tracing is disabled, a missing trace/span pair is generated.
func New(partial MessageContext, opts ...Option) MessageContext {
	o := options{tracing: true}
	for _, opt := range opts {
		opt(&o)
	}

	mc := partial.Clone()
	if mc.ID == "" {
		mc.ID = ids.CreateULID()
	}
	if mc.Timestamp.IsZero() {
		mc.Timestamp = time.Now().UTC()
	}
	if o.tracing {
		if mc.TraceID == "" {
			mc.TraceID = newTraceID()
		}
		if mc.SpanID == "" {
			mc.SpanID = newSpanID()
		}
	}
	return mc
}

// NewTraced always starts a new span for operation, continuing the trace of
// partial when it has one.
func NewTraced(partial MessageContext, operation string) MessageContext {
	mc := partial.Clone()
	mc.ParentSpanID = partial.SpanID
	mc.SpanID = newSpanID()
	if mc.TraceID == "" {
		mc.TraceID = newTraceID()
	}
	if operation != "" {
		mc.Metadata = mc.Metadata.With(MetadataOperation, operation)
	}
	return New(mc)
}

// Child derives the context for a downstream message: fresh id and
// timestamp, same trace, new span parented to mc's span.
func (mc MessageContext) Child() MessageContext {
	child := mc.Clone()
	child.ID = ""
	child.Timestamp = time.Time{}
	child.ParentSpanID = mc.SpanID
	child.SpanID = newSpanID()
	return New(child)
}

// Clone returns a deep copy.
func (mc MessageContext) Clone() MessageContext {
	out := mc
	if mc.Auth != nil {
		auth := *mc.Auth
		if mc.Auth.Actor != nil {
			actor := mc.Auth.Actor.Clone()
			auth.Actor = &actor
		}
		out.Auth = &auth
	}
	if mc.Metadata != nil {
		out.Metadata = mc.Metadata.Clone()
	}
	return out
}

// WithAuth returns a copy carrying auth.
func (mc MessageContext) WithAuth(token string, actor *access.Actor) MessageContext {
	out := mc.Clone()
	out.Auth = &Auth{Token: token, Actor: actor}
	return out.Clone()
}

// WithMetadata returns a copy with key set.
func (mc MessageContext) WithMetadata(key, value string) MessageContext {
	out := mc.Clone()
	out.Metadata = out.Metadata.With(key, value)
	return out
}

// Token returns the auth token or "".
func (mc MessageContext) Token() string {
	if mc.Auth == nil {
		return ""
	}
	return mc.Auth.Token
}

// Actor returns the authenticated actor or nil.
func (mc MessageContext) Actor() *access.Actor {
	if mc.Auth == nil {
		return nil
	}
	return mc.Auth.Actor
}

// SpanContext converts the trace identifiers to an OpenTelemetry remote span
// context. The result is invalid when the ids are missing or malformed.
func (mc MessageContext) SpanContext() trace.SpanContext {
	traceID, err := trace.TraceIDFromHex(mc.TraceID)
	if err != nil {
		return trace.SpanContext{}
	}
	spanID, err := trace.SpanIDFromHex(mc.SpanID)
	if err != nil {
		return trace.SpanContext{}
	}
	return trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
		Remote:     true,
	})
}

// WithSpanContext returns a copy whose trace ids come from sc, keeping the
// previous span as parent.
func (mc MessageContext) WithSpanContext(sc trace.SpanContext) MessageContext {
	if !sc.IsValid() {
		return mc
	}
	out := mc.Clone()
	if out.SpanID != sc.SpanID().String() {
		out.ParentSpanID = out.SpanID
	}
	out.TraceID = sc.TraceID().String()
	out.SpanID = sc.SpanID().String()
	return out
}

type ctxKey struct{}

// WithContext stores mc in ctx.
func WithContext(ctx context.Context, mc MessageContext) context.Context {
	return context.WithValue(ctx, ctxKey{}, mc)
}

// FromContext returns the MessageContext stored in ctx.
func FromContext(ctx context.Context) (MessageContext, bool) {
	mc, ok := ctx.Value(ctxKey{}).(MessageContext)
	return mc, ok
}

func newTraceID() string {
	var id trace.TraceID
	for !id.IsValid() {
		_, _ = rand.Read(id[:])
	}
	return id.String()
}

func newSpanID() string {
	var id trace.SpanID
	for !id.IsValid() {
		_, _ = rand.Read(id[:])
	}
	return id.String()
}

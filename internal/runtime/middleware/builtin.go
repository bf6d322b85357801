package middleware

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"slices"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/drblury/contractflow/internal/runtime/access"
	"github.com/drblury/contractflow/internal/runtime/contract"
	loggingpkg "github.com/drblury/contractflow/internal/runtime/logging"
	"github.com/drblury/contractflow/internal/runtime/msgerr"
	"github.com/drblury/contractflow/internal/runtime/observability"
)

// Validation checks payloads against c. Requests are validated on the way
// in and their responses on the way out.
func Validation(c *contract.Contract) Registration {
	return Registration{
		Name: "validation",
		Request: func(ctx context.Context, msg Message, next RequestHandler) Response {
			if verr := c.ValidateRequest(msg.Type, msg.Payload); verr != nil {
				return Fail(verr, msg.Context)
			}
			resp := next(ctx, msg)
			if !resp.Success {
				return resp
			}
			if verr := c.ValidateResponse(msg.Type, resp.Data); verr != nil {
				return Fail(verr, resp.Context)
			}
			return resp
		},
		Event: func(ctx context.Context, msg Message, next EventHandler) error {
			if verr := c.ValidateEvent(msg.Type, msg.Payload); verr != nil {
				return verr
			}
			return next(ctx, msg)
		},
	}
}

// TokenVerifier resolves a token to the actor it identifies.
type TokenVerifier func(ctx context.Context, token string) (*access.Actor, error)

// AuthenticationConfig configures Authentication.
type AuthenticationConfig struct {
	Verify TokenVerifier
	// Exclude lists message types that skip the check. System messages
	// are always excluded.
	Exclude []string
}

// Authentication requires a valid token in the message context and attaches
// the verified actor.
func Authentication(cfg AuthenticationConfig) Registration {
	authenticate := func(ctx context.Context, msg Message) (Message, *msgerr.Error) {
		if contract.IsSystemName(msg.Type) || slices.Contains(cfg.Exclude, msg.Type) {
			return msg, nil
		}
		token := msg.Context.Token()
		if token == "" {
			return msg, msgerr.New(msgerr.CodeAuthenticationRequired)
		}
		if cfg.Verify == nil {
			return msg, nil
		}
		actor, err := cfg.Verify(ctx, token)
		if err != nil || actor == nil {
			var me *msgerr.Error
			if errors.As(err, &me) {
				return msg, me
			}
			return msg, msgerr.New(msgerr.CodeInvalidToken, msgerr.WithCause(err))
		}
		msg.Context = msg.Context.WithAuth(token, actor)
		return msg, nil
	}

	return Registration{
		Name: "authentication",
		Request: func(ctx context.Context, msg Message, next RequestHandler) Response {
			authed, aerr := authenticate(ctx, msg)
			if aerr != nil {
				return Fail(aerr, msg.Context)
			}
			return next(ctx, authed)
		},
		Event: func(ctx context.Context, msg Message, next EventHandler) error {
			authed, aerr := authenticate(ctx, msg)
			if aerr != nil {
				return aerr
			}
			return next(ctx, authed)
		},
	}
}

// Authorization maps message types to the permission they require and
// rejects actors lacking it. Unmapped types pass through.
func Authorization(control *access.Control, required map[string]string) Registration {
	authorize := func(msg Message) *msgerr.Error {
		perm, ok := required[msg.Type]
		if !ok {
			return nil
		}
		actor := msg.Context.Actor()
		if actor == nil {
			return msgerr.New(msgerr.CodeAuthenticationRequired)
		}
		if !control.HasPermission(*actor, perm) {
			return msgerr.New(msgerr.CodePermissionDenied,
				msgerr.WithParam("permission", perm),
				msgerr.WithDetail("permission", perm),
			)
		}
		return nil
	}

	return Registration{
		Name: "authorization",
		Request: func(ctx context.Context, msg Message, next RequestHandler) Response {
			if aerr := authorize(msg); aerr != nil {
				return Fail(aerr, msg.Context)
			}
			return next(ctx, msg)
		},
		Event: func(ctx context.Context, msg Message, next EventHandler) error {
			if aerr := authorize(msg); aerr != nil {
				return aerr
			}
			return next(ctx, msg)
		},
	}
}

// Logging logs receipt and completion of every message with its duration
// and trace identifiers. Failures are logged by severity.
func Logging(p observability.Provider) Registration {
	p = p.WithDefaults()
	fieldsOf := func(kind string, msg Message) loggingpkg.LogFields {
		return loggingpkg.LogFields{
			"kind":       kind,
			"type":       msg.Type,
			"message_id": msg.Context.ID,
			"client_id":  msg.ClientID,
			"trace_id":   msg.Context.TraceID,
			"span_id":    msg.Context.SpanID,
		}
	}

	return Registration{
		Name: "logging",
		Request: func(ctx context.Context, msg Message, next RequestHandler) Response {
			fields := fieldsOf("request", msg)
			p.Logger.Debug("Request received", fields)
			start := time.Now()
			resp := next(ctx, msg)
			fields["duration_ms"] = time.Since(start).Milliseconds()
			if resp.Success {
				p.Logger.Info("Request completed", fields)
			} else {
				p.LogError("Request failed", resp.Error, fields)
			}
			return resp
		},
		Event: func(ctx context.Context, msg Message, next EventHandler) error {
			fields := fieldsOf("event", msg)
			p.Logger.Debug("Event received", fields)
			start := time.Now()
			err := next(ctx, msg)
			fields["duration_ms"] = time.Since(start).Milliseconds()
			if err != nil {
				p.LogError("Event handler failed", msgerr.ToMessagingError(err, ""), fields)
			} else {
				p.Logger.Info("Event handled", fields)
			}
			return err
		},
	}
}

// Tracing wraps each message in a span continuing the trace carried by its
// context, and moves the message context onto the new span.
func Tracing(tracer trace.Tracer) Registration {
	start := func(ctx context.Context, kind string, msg Message) (context.Context, trace.Span, Message) {
		if parent := msg.Context.SpanContext(); parent.IsValid() {
			ctx = trace.ContextWithRemoteSpanContext(ctx, parent)
		}
		ctx, span := tracer.Start(ctx, kind+" "+msg.Type,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("messaging.message.id", msg.Context.ID),
				attribute.String("messaging.operation.name", msg.Type),
				attribute.String("contractflow.client_id", msg.ClientID),
			),
		)
		msg.Context = msg.Context.WithSpanContext(span.SpanContext())
		return ctx, span, msg
	}

	return Registration{
		Name: "tracing",
		Request: func(ctx context.Context, msg Message, next RequestHandler) Response {
			ctx, span, msg := start(ctx, "request", msg)
			defer span.End()
			resp := next(ctx, msg)
			if !resp.Success && resp.Error != nil {
				span.SetStatus(codes.Error, resp.Error.Code)
				span.SetAttributes(attribute.String("contractflow.error_code", resp.Error.Code))
			}
			return resp
		},
		Event: func(ctx context.Context, msg Message, next EventHandler) error {
			ctx, span, msg := start(ctx, "event", msg)
			defer span.End()
			err := next(ctx, msg)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, observability.Outcome(err))
			}
			return err
		},
	}
}

// Metrics records counts and latencies of handled messages.
func Metrics(m observability.Metrics) Registration {
	return Registration{
		Name: "metrics",
		Request: func(ctx context.Context, msg Message, next RequestHandler) Response {
			start := time.Now()
			resp := next(ctx, msg)
			m.RequestHandled(msg.Type, observability.Outcome(resp.Err()), time.Since(start))
			return resp
		},
		Event: func(ctx context.Context, msg Message, next EventHandler) error {
			start := time.Now()
			err := next(ctx, msg)
			m.EventHandled(msg.Type, observability.Outcome(err), time.Since(start))
			return err
		},
	}
}

// RateLimit applies a token bucket per client. Messages without a client id
// are keyed by the context source.
func RateLimit(limit rate.Limit, burst int) Registration {
	var mu sync.Mutex
	limiters := make(map[string]*rate.Limiter)
	allow := func(msg Message) *msgerr.Error {
		key := msg.ClientID
		if key == "" {
			key = msg.Context.Source
		}
		mu.Lock()
		l, ok := limiters[key]
		if !ok {
			l = rate.NewLimiter(limit, burst)
			limiters[key] = l
		}
		mu.Unlock()
		if l.Allow() {
			return nil
		}
		return msgerr.New(msgerr.CodeRateLimited, msgerr.WithParam("clientId", key))
	}

	return Registration{
		Name: "rate_limit",
		Request: func(ctx context.Context, msg Message, next RequestHandler) Response {
			if contract.IsSystemName(msg.Type) {
				return next(ctx, msg)
			}
			if rerr := allow(msg); rerr != nil {
				return Fail(rerr, msg.Context)
			}
			return next(ctx, msg)
		},
		Event: func(ctx context.Context, msg Message, next EventHandler) error {
			if contract.IsSystemName(msg.Type) {
				return next(ctx, msg)
			}
			if rerr := allow(msg); rerr != nil {
				return rerr
			}
			return next(ctx, msg)
		},
	}
}

// Recoverer converts panics further down the chain into INTERNAL_ERROR.
func Recoverer(logger loggingpkg.ServiceLogger) Registration {
	logger = loggingpkg.OrNop(logger)
	recovered := func(msg Message, r any) *msgerr.Error {
		cause := fmt.Errorf("panic: %v", r)
		logger.Error("Recovered from panic", cause, loggingpkg.LogFields{
			"type":  msg.Type,
			"stack": string(debug.Stack()),
		})
		return msgerr.New(msgerr.CodeInternal, msgerr.WithCause(cause))
	}

	return Registration{
		Name: "recoverer",
		Request: func(ctx context.Context, msg Message, next RequestHandler) (resp Response) {
			defer func() {
				if r := recover(); r != nil {
					resp = Fail(recovered(msg, r), msg.Context)
				}
			}()
			return next(ctx, msg)
		},
		Event: func(ctx context.Context, msg Message, next EventHandler) (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = recovered(msg, r)
				}
			}()
			return next(ctx, msg)
		},
	}
}

// RetryConfig customises Retry.
type RetryConfig struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	// RetryIf defaults to the retry policy declared on the error.
	RetryIf func(error) bool
}

func (cfg RetryConfig) withDefaults() RetryConfig {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = time.Second
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = 16 * time.Second
	}
	if cfg.RetryIf == nil {
		cfg.RetryIf = msgerr.IsRetryable
	}
	return cfg
}

// Retry re-runs the rest of the chain with exponential backoff while it
// fails with a retryable error.
func Retry(cfg RetryConfig) Registration {
	cfg = cfg.withDefaults()
	opts := msgerr.RetryOptions{
		MaxRetries:   cfg.MaxRetries,
		InitialDelay: cfg.InitialInterval,
		MaxDelay:     cfg.MaxInterval,
		RetryIf:      cfg.RetryIf,
	}

	return Registration{
		Name: "retry",
		Request: func(ctx context.Context, msg Message, next RequestHandler) Response {
			var last Response
			_, err := msgerr.Retry(ctx, func(ctx context.Context) (struct{}, error) {
				last = next(ctx, msg)
				return struct{}{}, last.Err()
			}, opts)
			if err != nil && (last.Success || last.Error == nil) {
				return Fail(msgerr.ToMessagingError(err, ""), msg.Context)
			}
			return last
		},
		Event: func(ctx context.Context, msg Message, next EventHandler) error {
			_, err := msgerr.Retry(ctx, func(ctx context.Context) (struct{}, error) {
				return struct{}{}, next(ctx, msg)
			}, opts)
			return err
		},
	}
}

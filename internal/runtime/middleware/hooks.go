package middleware

import (
	"context"
	"time"

	loggingpkg "github.com/drblury/contractflow/internal/runtime/logging"
	"github.com/drblury/contractflow/internal/runtime/metadata"
	"github.com/drblury/contractflow/internal/runtime/msgerr"
)

// Kind distinguishes requests from events in hook callbacks.
type Kind string

const (
	KindRequest Kind = "request"
	KindEvent   Kind = "event"
)

// HookContext describes the message a hook fires for.
type HookContext struct {
	Kind      Kind
	Type      string
	MessageID string
	ClientID  string
	TraceID   string
	Metadata  metadata.Metadata
	Context   context.Context
	StartedAt time.Time
	// Duration is set for OnDone and OnError.
	Duration time.Duration
}

// Hooks are optional lifecycle callbacks around message handling.
type Hooks struct {
	OnStart func(hc HookContext)
	OnDone  func(hc HookContext)
	OnError func(hc HookContext, err *msgerr.Error)
}

// Merge returns hooks calling h first, then other.
func (h Hooks) Merge(other Hooks) Hooks {
	return Hooks{
		OnStart: chain(h.OnStart, other.OnStart),
		OnDone:  chain(h.OnDone, other.OnDone),
		OnError: chainErr(h.OnError, other.OnError),
	}
}

func chain(a, b func(HookContext)) func(HookContext) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(hc HookContext) {
		a(hc)
		b(hc)
	}
}

func chainErr(a, b func(HookContext, *msgerr.Error)) func(HookContext, *msgerr.Error) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(hc HookContext, err *msgerr.Error) {
		a(hc, err)
		b(hc, err)
	}
}

// WithHooks invokes hooks around the rest of the chain.
func WithHooks(h Hooks) Registration {
	begin := func(ctx context.Context, kind Kind, msg Message) HookContext {
		hc := HookContext{
			Kind:      kind,
			Type:      msg.Type,
			MessageID: msg.Context.ID,
			ClientID:  msg.ClientID,
			TraceID:   msg.Context.TraceID,
			Metadata:  msg.Context.Metadata.Clone(),
			Context:   ctx,
			StartedAt: time.Now(),
		}
		if h.OnStart != nil {
			h.OnStart(hc)
		}
		return hc
	}
	finish := func(hc HookContext, err *msgerr.Error) {
		hc.Duration = time.Since(hc.StartedAt)
		if err != nil {
			if h.OnError != nil {
				h.OnError(hc, err)
			}
			return
		}
		if h.OnDone != nil {
			h.OnDone(hc)
		}
	}

	return Registration{
		Name: "hooks",
		Request: func(ctx context.Context, msg Message, next RequestHandler) Response {
			hc := begin(ctx, KindRequest, msg)
			resp := next(ctx, msg)
			if resp.Success {
				finish(hc, nil)
			} else {
				finish(hc, msgerr.ToMessagingError(resp.Err(), ""))
			}
			return resp
		},
		Event: func(ctx context.Context, msg Message, next EventHandler) error {
			hc := begin(ctx, KindEvent, msg)
			err := next(ctx, msg)
			finish(hc, msgerr.ToMessagingError(err, ""))
			return err
		},
	}
}

// LoggingHooks logs message lifecycle events.
func LoggingHooks(logger loggingpkg.ServiceLogger) Hooks {
	logger = loggingpkg.OrNop(logger)
	fields := func(hc HookContext) loggingpkg.LogFields {
		return loggingpkg.LogFields{
			"kind":       string(hc.Kind),
			"type":       hc.Type,
			"message_id": hc.MessageID,
			"client_id":  hc.ClientID,
		}
	}
	return Hooks{
		OnStart: func(hc HookContext) {
			logger.Debug("Message started", fields(hc))
		},
		OnDone: func(hc HookContext) {
			logger.Info("Message completed", fields(hc).Merge(loggingpkg.LogFields{
				"duration_ms": hc.Duration.Milliseconds(),
			}))
		},
		OnError: func(hc HookContext, err *msgerr.Error) {
			logger.Error("Message failed", err, fields(hc).Merge(loggingpkg.LogFields{
				"duration_ms": hc.Duration.Milliseconds(),
				"error_code":  err.Code,
			}))
		},
	}
}

// AlertingHooks calls alert for failures at or above minSeverity.
func AlertingHooks(minSeverity msgerr.Severity, alert func(hc HookContext, err *msgerr.Error)) Hooks {
	return Hooks{
		OnError: func(hc HookContext, err *msgerr.Error) {
			if err.Metadata.Severity >= minSeverity {
				alert(hc, err)
			}
		},
	}
}

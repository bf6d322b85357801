// Package msgerr implements the typed error catalog: definitions with
// severity and retry metadata, parameterised messages, coercion of arbitrary
// errors, and the wire-safe response shape exchanged between peers.
package msgerr

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	errspkg "github.com/drblury/contractflow/internal/runtime/errors"
)

// Error is the uniform error value used by handlers, middleware and clients.
type Error struct {
	Code     string
	Message  string
	Details  map[string]any
	Metadata Metadata

	public string
	cause  error
}

func (e *Error) Error() string {
	if e.cause != nil && e.cause.Error() != e.Message {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return e.Code + ": " + e.Message
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Is matches another *Error by code, so errors.Is(err, msgerr.New(code))
// works across the wire.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return other.Code == e.Code
}

// IsType reports whether the error belongs to the type.
func (e *Error) IsType(t ErrorType) bool { return e.Metadata.Type == t }

// HasSeverity reports whether the error has the severity.
func (e *Error) HasSeverity(s Severity) bool { return e.Metadata.Severity == s }

// IsRetryable reports the retry policy of the error definition.
func (e *Error) IsRetryable() bool { return e.Metadata.Retry.Retryable }

// StatusCode is a shortcut for Metadata.StatusCode.
func (e *Error) StatusCode() int { return e.Metadata.StatusCode }

// ResponseError is the minimal shape sent to a remote peer.
type ResponseError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func (r ResponseError) Error() string {
	return r.Code + ": " + r.Message
}

// ToResponseError strips everything a remote peer must not see. System and
// unknown errors keep only their code and the definition's generic message.
func (e *Error) ToResponseError() ResponseError {
	if !e.Metadata.Type.Exposable() {
		msg := e.public
		if msg == "" {
			msg = builtinMessage(CodeInternal)
		}
		return ResponseError{Code: e.Code, Message: msg}
	}
	return ResponseError{Code: e.Code, Message: e.Message, Details: cloneDetails(e.Details)}
}

// FromResponseError reconstructs an error received from a peer. Metadata is
// unknown until enriched through a Registry.
func FromResponseError(re ResponseError) *Error {
	return &Error{
		Code:    re.Code,
		Message: re.Message,
		Details: cloneDetails(re.Details),
		public:  re.Message,
	}
}

// WithCause returns a copy of the error wrapping cause.
func (e *Error) WithCause(cause error) *Error {
	out := *e
	out.cause = cause
	return &out
}

// WithDetails returns a copy of the error with merged details.
func (e *Error) WithDetails(details map[string]any) *Error {
	out := *e
	out.Details = cloneDetails(e.Details)
	if out.Details == nil && len(details) > 0 {
		out.Details = make(map[string]any, len(details))
	}
	for k, v := range details {
		out.Details[k] = v
	}
	return &out
}

// ToMessagingError coerces any error into *Error. Values that already are
// (or wrap) *Error are returned as-is; context and connection errors map to
// their transport codes; everything else becomes fallbackCode, or
// UNKNOWN_ERROR when fallbackCode is empty. The original error is kept as the
// cause and its text as the internal message.
func ToMessagingError(err error, fallbackCode string) *Error {
	if err == nil {
		return nil
	}
	var me *Error
	if errors.As(err, &me) {
		return me
	}
	var re ResponseError
	if errors.As(err, &re) {
		return builtinRegistry.FromResponse(re)
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return New(CodeRequestTimeout, WithCause(err))
	case errors.Is(err, context.Canceled):
		return New(CodeRequestCancelled, WithCause(err))
	case errors.Is(err, errspkg.ErrNotConnected):
		return New(CodeNotConnected, WithCause(err))
	}

	code := fallbackCode
	if code == "" {
		code = CodeUnknown
	}
	out := builtinRegistry.Create(code, WithCause(err))
	if !out.Metadata.Type.Exposable() {
		out.Message = err.Error()
	}
	return out
}

// CodeOf returns the code of err when it is (or wraps) an *Error.
func CodeOf(err error) string {
	var me *Error
	if errors.As(err, &me) {
		return me.Code
	}
	return ""
}

// IsType reports whether err is an *Error of the given type.
func IsType(err error, t ErrorType) bool {
	var me *Error
	return errors.As(err, &me) && me.IsType(t)
}

// IsRetryable reports whether err carries a retryable policy.
func IsRetryable(err error) bool {
	var me *Error
	return errors.As(err, &me) && me.IsRetryable()
}

var placeholder = regexp.MustCompile(`\{([A-Za-z0-9_.-]+)\}`)

// Interpolate substitutes {name} placeholders from params. Missing parameters
// are left as literal placeholder text.
func Interpolate(template string, params map[string]any) string {
	if len(params) == 0 {
		return template
	}
	return placeholder.ReplaceAllStringFunc(template, func(match string) string {
		name := match[1 : len(match)-1]
		value, ok := params[name]
		if !ok {
			return match
		}
		return fmt.Sprint(value)
	})
}

func cloneDetails(details map[string]any) map[string]any {
	if details == nil {
		return nil
	}
	out := make(map[string]any, len(details))
	for k, v := range details {
		out[k] = v
	}
	return out
}

func builtinMessage(code string) string {
	if def, ok := builtinRegistry.Lookup(code); ok {
		return def.Message
	}
	return code
}

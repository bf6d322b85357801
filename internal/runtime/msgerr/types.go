package msgerr

import (
	"fmt"
	"strings"
	"time"
)

// ErrorType classifies failures. The zero value is TypeUnknown.
type ErrorType int

const (
	TypeUnknown ErrorType = iota
	TypeBusiness
	TypeValidation
	TypeSystem
	TypeTransport
	TypeSecurity
)

var errorTypeNames = [...]string{
	TypeUnknown:    "unknown",
	TypeBusiness:   "business",
	TypeValidation: "validation",
	TypeSystem:     "system",
	TypeTransport:  "transport",
	TypeSecurity:   "security",
}

func (t ErrorType) String() string {
	if t < 0 || int(t) >= len(errorTypeNames) {
		return "unknown"
	}
	return errorTypeNames[t]
}

// Exposable reports whether messages and details of this type may be sent to
// a remote peer verbatim.
func (t ErrorType) Exposable() bool {
	switch t {
	case TypeBusiness, TypeValidation, TypeTransport, TypeSecurity:
		return true
	case TypeSystem, TypeUnknown:
		return false
	default:
		return false
	}
}

// ParseErrorType is the inverse of ErrorType.String.
func ParseErrorType(s string) (ErrorType, error) {
	for i, name := range errorTypeNames {
		if strings.EqualFold(s, name) {
			return ErrorType(i), nil
		}
	}
	return TypeUnknown, fmt.Errorf("msgerr: unknown error type %q", s)
}

func (t ErrorType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *ErrorType) UnmarshalText(text []byte) error {
	parsed, err := ParseErrorType(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Severity governs logging and alerting, never control flow.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityError
	SeverityCritical
)

var severityNames = [...]string{
	SeverityInfo:     "info",
	SeverityWarning:  "warning",
	SeverityError:    "error",
	SeverityCritical: "critical",
}

func (s Severity) String() string {
	if s < 0 || int(s) >= len(severityNames) {
		return "error"
	}
	return severityNames[s]
}

// ParseSeverity is the inverse of Severity.String.
func ParseSeverity(s string) (Severity, error) {
	for i, name := range severityNames {
		if strings.EqualFold(s, name) {
			return Severity(i), nil
		}
	}
	return SeverityError, fmt.Errorf("msgerr: unknown severity %q", s)
}

func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Severity) UnmarshalText(text []byte) error {
	parsed, err := ParseSeverity(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// RetryPolicy declares whether an operation failing with this error may be
// retried and how.
type RetryPolicy struct {
	Retryable  bool          `json:"retryable"`
	Delay      time.Duration `json:"delay,omitempty"`
	MaxRetries int           `json:"maxRetries,omitempty"`
}

// Metadata describes an error definition.
type Metadata struct {
	Type       ErrorType   `json:"type"`
	Severity   Severity    `json:"severity"`
	StatusCode int         `json:"statusCode,omitempty"`
	Retry      RetryPolicy `json:"retry"`
}

// Definition is a registered error template. Message may contain {name}
// placeholders substituted from parameters at creation time.
type Definition struct {
	Code     string   `json:"code"`
	Message  string   `json:"message"`
	Metadata Metadata `json:"metadata"`
}

// Define is a small constructor for Definition literals.
func Define(code, message string, md Metadata) Definition {
	return Definition{Code: code, Message: message, Metadata: md}
}

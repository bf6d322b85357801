package msgerr

import "time"

// Codes produced by the runtime itself.
const (
	CodeUnknown                 = "UNKNOWN_ERROR"
	CodeInternal                = "INTERNAL_ERROR"
	CodeValidation              = "VALIDATION_ERROR"
	CodeResponseValidation      = "RESPONSE_VALIDATION_ERROR"
	CodeAuthenticationRequired  = "AUTHENTICATION_REQUIRED"
	CodeInvalidToken            = "INVALID_TOKEN"
	CodePermissionDenied        = "PERMISSION_DENIED"
	CodeLoginFailed             = "LOGIN_FAILED"
	CodeRequestTimeout          = "REQUEST_TIMEOUT"
	CodeRequestCancelled        = "REQUEST_CANCELLED"
	CodeNotConnected            = "NOT_CONNECTED"
	CodeTransport               = "TRANSPORT_ERROR"
	CodeHandlerNotFound         = "HANDLER_NOT_FOUND"
	CodeClientNotFound          = "CLIENT_NOT_FOUND"
	CodeClientNotRegistered     = "CLIENT_NOT_REGISTERED"
	CodeCapacityExceeded        = "CAPACITY_EXCEEDED"
	CodeRateLimited             = "RATE_LIMITED"
	CodeUnknownMessageType      = "UNKNOWN_MESSAGE_TYPE"
	CodeSubscriptionNotFound    = "SUBSCRIPTION_NOT_FOUND"
	CodeUnsupportedVersion      = "UNSUPPORTED_VERSION"
	CodeRegistrationUnavailable = "REGISTRATION_UNAVAILABLE"
)

var builtinDefinitions = []Definition{
	Define(CodeUnknown, "An unexpected error occurred", Metadata{Type: TypeUnknown, Severity: SeverityError, StatusCode: 500}),
	Define(CodeInternal, "Internal server error", Metadata{Type: TypeSystem, Severity: SeverityCritical, StatusCode: 500}),
	Define(CodeValidation, "Validation failed for {target}", Metadata{Type: TypeValidation, Severity: SeverityWarning, StatusCode: 400}),
	Define(CodeResponseValidation, "Response validation failed for {target}", Metadata{Type: TypeSystem, Severity: SeverityError, StatusCode: 500}),
	Define(CodeAuthenticationRequired, "Authentication required", Metadata{Type: TypeSecurity, Severity: SeverityWarning, StatusCode: 401}),
	Define(CodeInvalidToken, "Invalid or expired token", Metadata{Type: TypeSecurity, Severity: SeverityWarning, StatusCode: 401}),
	Define(CodePermissionDenied, "Permission denied: {permission}", Metadata{Type: TypeSecurity, Severity: SeverityWarning, StatusCode: 403}),
	Define(CodeLoginFailed, "Invalid credentials", Metadata{Type: TypeSecurity, Severity: SeverityWarning, StatusCode: 401}),
	Define(CodeRequestTimeout, "Request {requestType} timed out after {timeout}", Metadata{
		Type: TypeTransport, Severity: SeverityError, StatusCode: 504,
		Retry: RetryPolicy{Retryable: true, Delay: time.Second, MaxRetries: 3},
	}),
	Define(CodeRequestCancelled, "Request {requestType} was cancelled", Metadata{Type: TypeTransport, Severity: SeverityInfo, StatusCode: 499}),
	Define(CodeNotConnected, "Not connected", Metadata{
		Type: TypeTransport, Severity: SeverityError, StatusCode: 503,
		Retry: RetryPolicy{Retryable: true, Delay: 5 * time.Second, MaxRetries: 5},
	}),
	Define(CodeTransport, "Transport failure: {reason}", Metadata{
		Type: TypeTransport, Severity: SeverityError, StatusCode: 502,
		Retry: RetryPolicy{Retryable: true, Delay: time.Second, MaxRetries: 3},
	}),
	Define(CodeHandlerNotFound, "No handler registered for {requestType}", Metadata{Type: TypeBusiness, Severity: SeverityWarning, StatusCode: 404}),
	Define(CodeClientNotFound, "Client {clientId} not found", Metadata{Type: TypeBusiness, Severity: SeverityWarning, StatusCode: 404}),
	Define(CodeClientNotRegistered, "Client must register before sending {requestType}", Metadata{Type: TypeSecurity, Severity: SeverityWarning, StatusCode: 401}),
	Define(CodeCapacityExceeded, "Server capacity of {maxClients} clients reached", Metadata{
		Type: TypeTransport, Severity: SeverityWarning, StatusCode: 503,
		Retry: RetryPolicy{Retryable: true, Delay: 30 * time.Second, MaxRetries: 3},
	}),
	Define(CodeRateLimited, "Rate limit exceeded for {clientId}", Metadata{
		Type: TypeBusiness, Severity: SeverityInfo, StatusCode: 429,
		Retry: RetryPolicy{Retryable: true, Delay: time.Second, MaxRetries: 3},
	}),
	Define(CodeUnknownMessageType, "Unknown message type {type}", Metadata{Type: TypeValidation, Severity: SeverityWarning, StatusCode: 400}),
	Define(CodeSubscriptionNotFound, "Subscription {subscriptionId} not found", Metadata{Type: TypeBusiness, Severity: SeverityInfo, StatusCode: 404}),
	Define(CodeUnsupportedVersion, "Contract version {version} is not supported", Metadata{Type: TypeValidation, Severity: SeverityWarning, StatusCode: 400}),
	Define(CodeRegistrationUnavailable, "Registration is not available", Metadata{Type: TypeTransport, Severity: SeverityError, StatusCode: 503}),
}

// Builtins returns a copy of the runtime's own error definitions.
func Builtins() []Definition {
	return append([]Definition(nil), builtinDefinitions...)
}

var builtinRegistry = NewRegistry()

// New creates an error from the built-in catalog. Use a Registry for
// application-defined codes.
func New(code string, opts ...Option) *Error {
	return builtinRegistry.Create(code, opts...)
}

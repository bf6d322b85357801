package errors

import sterrors "errors"

var (
	ErrAdapterRequired     = sterrors.New("contractflow: transport adapter is required")
	ErrContractRequired    = sterrors.New("contractflow: contract is required")
	ErrHandlerRequired     = sterrors.New("contractflow: handler function is required")
	ErrHandlerExists       = sterrors.New("contractflow: handler already registered")
	ErrNameRequired        = sterrors.New("contractflow: message name is required")
	ErrSchemaRequired      = sterrors.New("contractflow: schema is required")
	ErrInvalidSchema       = sterrors.New("contractflow: invalid schema document")
	ErrDuplicateName       = sterrors.New("contractflow: duplicate message name")
	ErrReservedName        = sterrors.New("contractflow: message name uses the reserved system prefix")
	ErrNotConnected        = sterrors.New("contractflow: transport is not connected")
	ErrAlreadyConnected    = sterrors.New("contractflow: transport is already connected")
	ErrConnectionString    = sterrors.New("contractflow: invalid connection string")
	ErrUnknownScheme       = sterrors.New("contractflow: no transport registered for scheme")
	ErrClientNotFound      = sterrors.New("contractflow: client not found")
	ErrServerNotStarted    = sterrors.New("contractflow: server is not started")
	ErrServerStarted       = sterrors.New("contractflow: server is already started")
	ErrUnknownEvent        = sterrors.New("contractflow: event is not part of the contract")
	ErrUnknownRequest      = sterrors.New("contractflow: request is not part of the contract")
	ErrConfigRequired      = sterrors.New("contractflow: configuration is required")
	ErrLoggerRequired      = sterrors.New("contractflow: logger is required")
	ErrProviderConfigured  = sterrors.New("contractflow: default observability provider already configured")
	ErrUnsupportedFeature  = sterrors.New("contractflow: operation not supported by this transport")
	ErrInvalidPermission   = sterrors.New("contractflow: permission must have the form resource:action")
	ErrUnknownRole         = sterrors.New("contractflow: unknown role")
	ErrRoleCycle           = sterrors.New("contractflow: role inheritance cycle")
	ErrDuplicateRole       = sterrors.New("contractflow: duplicate role")
	ErrDuplicateErrorCode  = sterrors.New("contractflow: error code already registered")
	ErrInvalidVersion      = sterrors.New("contractflow: invalid contract version")
	ErrUnknownVersion      = sterrors.New("contractflow: contract version not found")
	ErrEmptyErrorCode      = sterrors.New("contractflow: error code is required")
	ErrDuplicatePolicy     = sterrors.New("contractflow: unknown duplicate policy")
)

// ConfigValidationError wraps a configuration problem found while validating
// client, server or transport settings.
type ConfigValidationError struct {
	Err error
}

func (e ConfigValidationError) Error() string {
	return "contractflow: invalid configuration: " + e.Err.Error()
}

func (e ConfigValidationError) Unwrap() error {
	return e.Err
}

// NewConfigValidationError returns nil when err is nil.
func NewConfigValidationError(err error) error {
	if err == nil {
		return nil
	}
	return ConfigValidationError{Err: err}
}

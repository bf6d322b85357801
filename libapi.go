package contractflow

import (
	"context"
	"encoding/json"

	"google.golang.org/protobuf/proto"

	"github.com/drblury/contractflow/internal/runtime/access"
	clientpkg "github.com/drblury/contractflow/internal/runtime/client"
	configpkg "github.com/drblury/contractflow/internal/runtime/config"
	"github.com/drblury/contractflow/internal/runtime/contract"
	errspkg "github.com/drblury/contractflow/internal/runtime/errors"
	idspkg "github.com/drblury/contractflow/internal/runtime/ids"
	"github.com/drblury/contractflow/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/contractflow/internal/runtime/logging"
	metadatapkg "github.com/drblury/contractflow/internal/runtime/metadata"
	"github.com/drblury/contractflow/internal/runtime/middleware"
	"github.com/drblury/contractflow/internal/runtime/msgctx"
	"github.com/drblury/contractflow/internal/runtime/msgerr"
	"github.com/drblury/contractflow/internal/runtime/observability"
	serverpkg "github.com/drblury/contractflow/internal/runtime/server"
	"github.com/drblury/contractflow/transport"
	"github.com/drblury/contractflow/transport/memory"
)

type (
	Contract       = contract.Contract
	ContractOption = contract.Option
	Versioned      = contract.Versioned
	Version        = contract.Version
	EventDef       = contract.EventDef
	RequestDef     = contract.RequestDef
	EventMap       = contract.EventMap
	RequestMap     = contract.RequestMap
	ErrorMap       = contract.ErrorMap
	ErrorCatalog   = contract.ErrorCatalog
	Schema         = contract.Schema
	JSONSchema     = contract.JSONSchema
	Violation      = contract.Violation

	StructSchema[T any]          = contract.StructSchema[T]
	ProtoSchema[T proto.Message] = contract.ProtoSchema[T]

	MessageContext = msgctx.MessageContext
	Auth           = msgctx.Auth
	Metadata       = metadatapkg.Metadata

	MessagingError  = msgerr.Error
	ResponseError   = msgerr.ResponseError
	ErrorType       = msgerr.ErrorType
	Severity        = msgerr.Severity
	RetryPolicy     = msgerr.RetryPolicy
	ErrorMetadata   = msgerr.Metadata
	ErrorDefinition = msgerr.Definition
	ErrorRegistry   = msgerr.Registry
	ErrorOption     = msgerr.Option
	DuplicatePolicy = msgerr.DuplicatePolicy
	RetryOptions    = msgerr.RetryOptions

	Permission       = access.Permission
	Role             = access.Role
	Actor            = access.Actor
	AccessDefinition = access.SystemDefinition
	AccessSystem     = access.System
	AccessControl    = access.Control

	Pipeline             = middleware.Pipeline
	Registration         = middleware.Registration
	Message              = middleware.Message
	Response             = middleware.Response
	Hooks                = middleware.Hooks
	HookContext          = middleware.HookContext
	AuthenticationConfig = middleware.AuthenticationConfig
	TokenVerifier        = middleware.TokenVerifier
	RetryConfig          = middleware.RetryConfig

	Provider        = observability.Provider
	Metrics         = observability.Metrics
	NopMetrics      = observability.NopMetrics
	PrometheusStats = observability.PrometheusMetrics
	MetricsSnapshot = observability.Snapshot

	Client         = clientpkg.Client
	ClientOptions  = clientpkg.Options
	ClientStatus   = clientpkg.Status
	StatusListener = clientpkg.StatusListener
	ErrorListener  = clientpkg.ErrorListener

	Server             = serverpkg.Server
	ServerOptions      = serverpkg.Options
	ServerStats        = serverpkg.Stats
	ClientConnection   = serverpkg.ClientConnection
	Subscription       = serverpkg.Subscription
	RequestHandler     = serverpkg.RequestHandler
	EventHandler       = serverpkg.EventHandler
	ClientListener     = serverpkg.ClientListener
	DisconnectListener = serverpkg.DisconnectListener

	Adapter          = transport.Adapter
	TransportOptions = transport.Options
	Capabilities     = transport.Capabilities
	Credentials      = transport.Credentials
	AuthResult       = transport.AuthResult
	Authenticator    = transport.Authenticator
	HandlerID        = transport.HandlerID
	TransportFactory = transport.Factory

	Config                = configpkg.Config
	ConfigValidationError = errspkg.ConfigValidationError

	ServiceLogger = loggingpkg.ServiceLogger
	LogFields     = loggingpkg.LogFields

	EntryLoggerAdapter[T any] = loggingpkg.EntryLoggerAdapter[T]
)

const (
	StatusDisconnected = clientpkg.StatusDisconnected
	StatusConnecting   = clientpkg.StatusConnecting
	StatusConnected    = clientpkg.StatusConnected
	StatusReconnecting = clientpkg.StatusReconnecting
	StatusError        = clientpkg.StatusError

	ErrorTypeUnknown    = msgerr.TypeUnknown
	ErrorTypeBusiness   = msgerr.TypeBusiness
	ErrorTypeValidation = msgerr.TypeValidation
	ErrorTypeSystem     = msgerr.TypeSystem
	ErrorTypeTransport  = msgerr.TypeTransport
	ErrorTypeSecurity   = msgerr.TypeSecurity

	SeverityInfo     = msgerr.SeverityInfo
	SeverityWarning  = msgerr.SeverityWarning
	SeverityError    = msgerr.SeverityError
	SeverityCritical = msgerr.SeverityCritical

	RejectDuplicates    = msgerr.RejectDuplicates
	OverwriteDuplicates = msgerr.OverwriteDuplicates

	// AnyEvent subscribes a handler to every event.
	AnyEvent = transport.AnyEvent
)

// Built-in error codes.
const (
	CodeUnknown                 = msgerr.CodeUnknown
	CodeInternal                = msgerr.CodeInternal
	CodeValidation              = msgerr.CodeValidation
	CodeResponseValidation      = msgerr.CodeResponseValidation
	CodeAuthenticationRequired  = msgerr.CodeAuthenticationRequired
	CodeInvalidToken            = msgerr.CodeInvalidToken
	CodePermissionDenied        = msgerr.CodePermissionDenied
	CodeLoginFailed             = msgerr.CodeLoginFailed
	CodeRequestTimeout          = msgerr.CodeRequestTimeout
	CodeRequestCancelled        = msgerr.CodeRequestCancelled
	CodeNotConnected            = msgerr.CodeNotConnected
	CodeTransport               = msgerr.CodeTransport
	CodeHandlerNotFound         = msgerr.CodeHandlerNotFound
	CodeClientNotFound          = msgerr.CodeClientNotFound
	CodeClientNotRegistered     = msgerr.CodeClientNotRegistered
	CodeCapacityExceeded        = msgerr.CodeCapacityExceeded
	CodeRateLimited             = msgerr.CodeRateLimited
	CodeUnknownMessageType      = msgerr.CodeUnknownMessageType
	CodeSubscriptionNotFound    = msgerr.CodeSubscriptionNotFound
	CodeUnsupportedVersion      = msgerr.CodeUnsupportedVersion
	CodeRegistrationUnavailable = msgerr.CodeRegistrationUnavailable
)

var (
	// Contracts and schemas
	NewContract              = contract.New
	MustContract             = contract.Must
	NewVersionedContract     = contract.NewVersioned
	DefineEvent              = contract.Event
	DefineRequest            = contract.Request
	NewEventMap              = contract.NewEventMap
	MustEventMap             = contract.MustEventMap
	NewRequestMap            = contract.NewRequestMap
	MustRequestMap           = contract.MustRequestMap
	NewErrorMap              = contract.NewErrorMap
	WithErrorPolicy          = contract.WithErrorPolicy
	NewJSONSchema            = contract.NewJSONSchema
	MustJSONSchema           = contract.MustJSONSchema
	AnySchema                = contract.Any
	IsSystemName             = contract.IsSystemName
	AreVersionsCompatible    = contract.AreVersionsCompatible
	MeetsMinimumRequirements = contract.MeetsMinimumRequirements

	// Message context
	NewMessageContext = msgctx.New
	NewTracedContext  = msgctx.NewTraced
	WithoutTracing    = msgctx.WithoutTracing
	ContextWith       = msgctx.WithContext
	ContextFrom       = msgctx.FromContext
	NewMetadata       = metadatapkg.New

	// Messaging errors
	NewError             = msgerr.New
	DefineError          = msgerr.Define
	BuiltinErrors        = msgerr.Builtins
	NewErrorRegistry     = msgerr.NewRegistry
	WithDuplicatePolicy  = msgerr.WithDuplicatePolicy
	ParseDuplicatePolicy = msgerr.ParseDuplicatePolicy
	WithParam            = msgerr.WithParam
	WithParams           = msgerr.WithParams
	WithDetail           = msgerr.WithDetail
	WithDetails          = msgerr.WithDetails
	WithCause            = msgerr.WithCause
	FromResponseError    = msgerr.FromResponseError
	ToMessagingError     = msgerr.ToMessagingError
	CodeOf               = msgerr.CodeOf
	IsErrorType          = msgerr.IsType
	IsRetryable          = msgerr.IsRetryable
	Interpolate          = msgerr.Interpolate

	// Access control
	ParsePermission  = access.ParsePermission
	MustPermission   = access.MustPermission
	NewRole          = access.NewRole
	NewActor         = access.NewActor
	NewAccessSystem  = access.NewSystem
	MustAccessSystem = access.MustSystem
	NewAccessControl = access.New

	// Middleware
	NewPipeline              = middleware.NewPipeline
	ValidationMiddleware     = middleware.Validation
	AuthenticationMiddleware = middleware.Authentication
	AuthorizationMiddleware  = middleware.Authorization
	LoggingMiddleware        = middleware.Logging
	TracingMiddleware        = middleware.Tracing
	MetricsMiddleware        = middleware.Metrics
	RateLimitMiddleware      = middleware.RateLimit
	RecovererMiddleware      = middleware.Recoverer
	RetryMiddleware          = middleware.Retry
	WithHooks                = middleware.WithHooks
	LoggingHooks             = middleware.LoggingHooks
	AlertingHooks            = middleware.AlertingHooks
	OK                       = middleware.OK
	Fail                     = middleware.Fail

	// Observability
	SetDefaultProvider   = observability.SetDefault
	DefaultProvider      = observability.Default
	NewPrometheusMetrics = observability.NewPrometheusMetrics

	// Client and server
	NewClient               = clientpkg.New
	Dial                    = clientpkg.Dial
	ClientOptionsFromConfig = clientpkg.OptionsFromConfig
	NewServer               = serverpkg.New
	Listen                  = serverpkg.Listen
	ServerOptionsFromConfig = serverpkg.OptionsFromConfig

	// Transports
	DefaultTransportRegistry = transport.DefaultRegistry
	RegisterTransport        = transport.Register
	OpenTransport            = transport.Open
	GetCapabilities          = transport.GetCapabilities
	NewMemoryAdapter         = memory.New
	SeverMemoryPeer          = memory.Sever

	// Configuration
	LoadConfig     = configpkg.Load
	ParseConfig    = configpkg.Parse
	ValidateConfig = configpkg.ValidateConfig

	// Logging
	NewSlogServiceLogger      = loggingpkg.NewSlogServiceLogger
	NewWatermillServiceLogger = loggingpkg.NewWatermillServiceLogger
	NewNopLogger              = loggingpkg.NewNopLogger

	// Encoding
	Marshal       = jsoncodec.Marshal
	MarshalIndent = jsoncodec.MarshalIndent
	Unmarshal     = jsoncodec.Unmarshal

	CreateULID = idspkg.CreateULID

	ErrAdapterRequired    = errspkg.ErrAdapterRequired
	ErrContractRequired   = errspkg.ErrContractRequired
	ErrHandlerRequired    = errspkg.ErrHandlerRequired
	ErrHandlerExists      = errspkg.ErrHandlerExists
	ErrReservedName       = errspkg.ErrReservedName
	ErrNotConnected       = errspkg.ErrNotConnected
	ErrUnknownScheme      = errspkg.ErrUnknownScheme
	ErrClientNotFound     = errspkg.ErrClientNotFound
	ErrServerNotStarted   = errspkg.ErrServerNotStarted
	ErrServerStarted      = errspkg.ErrServerStarted
	ErrUnknownEvent       = errspkg.ErrUnknownEvent
	ErrUnknownRequest     = errspkg.ErrUnknownRequest
	ErrProviderConfigured = errspkg.ErrProviderConfigured
	ErrDuplicateErrorCode = errspkg.ErrDuplicateErrorCode
	ErrUnknownVersion     = errspkg.ErrUnknownVersion
	ErrInvalidSchema      = errspkg.ErrInvalidSchema
)

func NewStructSchema[T any]() *StructSchema[T] {
	return contract.NewStructSchema[T]()
}

func NewProtoSchema[T proto.Message](prototype T) (*ProtoSchema[T], error) {
	return contract.NewProtoSchema(prototype)
}

// Request sends a typed request from c and decodes the response into Resp.
func Request[Resp any](ctx context.Context, c *Client, requestType string, payload any) (Resp, error) {
	return clientpkg.Request[Resp](ctx, c, requestType, payload)
}

// On registers a typed handler for events delivered to c.
func On[T any](c *Client, event string, handler func(ctx context.Context, payload T, mc MessageContext) error) (HandlerID, error) {
	return clientpkg.On(c, event, handler)
}

// Handle registers a typed request handler on s.
func Handle[Req, Resp any](s *Server, requestType string, handler func(ctx context.Context, req Req, mc MessageContext, clientID string) (Resp, error)) error {
	return serverpkg.Handle(s, requestType, handler)
}

// OnClientEvent registers a typed handler for events emitted by clients of s.
func OnClientEvent[T any](s *Server, event string, handler func(ctx context.Context, payload T, mc MessageContext, clientID string) error) (HandlerID, error) {
	return serverpkg.On(s, event, handler)
}

// RetryWithBackoff runs op until it succeeds, fails with a non-retryable
// error, or opts are exhausted.
func RetryWithBackoff[T any](ctx context.Context, op func(context.Context) (T, error), opts RetryOptions) (T, error) {
	return msgerr.Retry(ctx, op, opts)
}

func DecodePayload[T any](raw json.RawMessage) (T, error) {
	return jsoncodec.DecodePayload[T](raw)
}

func NewEntryServiceLogger[T EntryLoggerAdapter[T]](entry T) ServiceLogger {
	return loggingpkg.NewEntryServiceLogger(entry)
}

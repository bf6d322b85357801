// Package observability bundles the logger, metrics sink and tracer the
// runtime reports to. A Provider is injected into clients, servers and
// middleware; SetDefault offers a process-wide fallback that can be set once.
package observability

import (
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	errspkg "github.com/drblury/contractflow/internal/runtime/errors"
	loggingpkg "github.com/drblury/contractflow/internal/runtime/logging"
	"github.com/drblury/contractflow/internal/runtime/msgerr"
)

// TracerName is the instrumentation scope used for runtime spans.
const TracerName = "github.com/drblury/contractflow"

// Metrics receives runtime measurements. Outcome is "ok" or an error code.
type Metrics interface {
	RequestHandled(requestType, outcome string, duration time.Duration)
	EventHandled(event, outcome string, duration time.Duration)
	ClientsConnected(count int)
	ErrorRecorded(code string, errType msgerr.ErrorType)
}

// OutcomeOK labels successful operations.
const OutcomeOK = "ok"

// Outcome returns OutcomeOK for a nil error and the error code otherwise.
func Outcome(err error) string {
	if err == nil {
		return OutcomeOK
	}
	if code := msgerr.CodeOf(err); code != "" {
		return code
	}
	return msgerr.CodeUnknown
}

// NopMetrics discards everything.
type NopMetrics struct{}

func (NopMetrics) RequestHandled(string, string, time.Duration) {}
func (NopMetrics) EventHandled(string, string, time.Duration)   {}
func (NopMetrics) ClientsConnected(int)                         {}
func (NopMetrics) ErrorRecorded(string, msgerr.ErrorType)       {}

// Provider groups the observability backends.
type Provider struct {
	Logger  loggingpkg.ServiceLogger
	Metrics Metrics
	Tracer  trace.Tracer
}

// WithDefaults fills unset backends: a no-op logger, no-op metrics and the
// global OpenTelemetry tracer.
func (p Provider) WithDefaults() Provider {
	p.Logger = loggingpkg.OrNop(p.Logger)
	if p.Metrics == nil {
		p.Metrics = NopMetrics{}
	}
	if p.Tracer == nil {
		p.Tracer = otel.Tracer(TracerName)
	}
	return p
}

var (
	defaultMu       sync.RWMutex
	defaultProvider *Provider
)

// SetDefault installs the process-wide provider. It may be called once,
// normally during startup; later calls return ErrProviderConfigured.
func SetDefault(p Provider) error {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultProvider != nil {
		return errspkg.ErrProviderConfigured
	}
	resolved := p.WithDefaults()
	defaultProvider = &resolved
	return nil
}

// Default returns the provider installed with SetDefault or an all no-op
// provider.
func Default() Provider {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	if defaultProvider == nil {
		return Provider{}.WithDefaults()
	}
	return *defaultProvider
}

// Resolve returns p completed with defaults, falling back to Default for
// every unset backend.
func Resolve(p *Provider) Provider {
	base := Default()
	if p == nil {
		return base
	}
	out := *p
	if out.Logger == nil {
		out.Logger = base.Logger
	}
	if out.Metrics == nil {
		out.Metrics = base.Metrics
	}
	if out.Tracer == nil {
		out.Tracer = base.Tracer
	}
	return out.WithDefaults()
}

// LogError reports a messaging error at a level derived from its severity
// and records it in metrics.
func (p Provider) LogError(msg string, err *msgerr.Error, fields loggingpkg.LogFields) {
	if err == nil {
		return
	}
	entry := fields.Merge(loggingpkg.LogFields{
		"error_code": err.Code,
		"error_type": err.Metadata.Type.String(),
		"severity":   err.Metadata.Severity.String(),
	})
	p.Metrics.ErrorRecorded(err.Code, err.Metadata.Type)

	switch err.Metadata.Severity {
	case msgerr.SeverityInfo:
		p.Logger.Debug(msg, entry.Merge(loggingpkg.LogFields{"error": err.Error()}))
	case msgerr.SeverityWarning:
		p.Logger.Info(msg, entry.Merge(loggingpkg.LogFields{"error": err.Error()}))
	case msgerr.SeverityError, msgerr.SeverityCritical:
		p.Logger.Error(msg, err, entry)
	default:
		p.Logger.Error(msg, err, entry)
	}
}

package msgerr

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	errspkg "github.com/drblury/contractflow/internal/runtime/errors"
)

// DuplicatePolicy controls what Register does when a code is registered twice.
type DuplicatePolicy int

const (
	// RejectDuplicates fails the second registration of an application code.
	RejectDuplicates DuplicatePolicy = iota
	// OverwriteDuplicates lets the last registration win.
	OverwriteDuplicates
)

// ParseDuplicatePolicy accepts "reject" (or "") and "overwrite".
func ParseDuplicatePolicy(s string) (DuplicatePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "reject":
		return RejectDuplicates, nil
	case "overwrite":
		return OverwriteDuplicates, nil
	default:
		return RejectDuplicates, fmt.Errorf("%w: %q", errspkg.ErrDuplicatePolicy, s)
	}
}

// Option customises an error created from a registry.
type Option func(*createOptions)

type createOptions struct {
	params  map[string]any
	details map[string]any
	cause   error
}

// WithParams supplies values for {name} placeholders.
func WithParams(params map[string]any) Option {
	return func(o *createOptions) {
		if o.params == nil {
			o.params = make(map[string]any, len(params))
		}
		for k, v := range params {
			o.params[k] = v
		}
	}
}

// WithParam supplies a single placeholder value.
func WithParam(name string, value any) Option {
	return WithParams(map[string]any{name: value})
}

// WithDetails attaches structured details.
func WithDetails(details map[string]any) Option {
	return func(o *createOptions) {
		if o.details == nil {
			o.details = make(map[string]any, len(details))
		}
		for k, v := range details {
			o.details[k] = v
		}
	}
}

// WithDetail attaches a single detail value.
func WithDetail(key string, value any) Option {
	return WithDetails(map[string]any{key: value})
}

// WithCause records the underlying error.
func WithCause(err error) Option {
	return func(o *createOptions) { o.cause = err }
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithDuplicatePolicy sets the duplicate registration policy.
func WithDuplicatePolicy(p DuplicatePolicy) RegistryOption {
	return func(r *Registry) { r.policy = p }
}

// WithoutBuiltins starts the registry empty.
func WithoutBuiltins() RegistryOption {
	return func(r *Registry) { r.skipBuiltins = true }
}

// Registry is a catalog of error definitions. It is safe for concurrent use.
type Registry struct {
	mu           sync.RWMutex
	defs         map[string]Definition
	builtin      map[string]bool
	policy       DuplicatePolicy
	skipBuiltins bool
}

// NewRegistry returns a registry preloaded with the runtime's built-in codes.
// Built-in codes may be redefined once by the application regardless of the
// duplicate policy.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		defs:    make(map[string]Definition),
		builtin: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(r)
	}
	if !r.skipBuiltins {
		for _, def := range builtinDefinitions {
			r.defs[def.Code] = def
			r.builtin[def.Code] = true
		}
	}
	return r
}

// Policy returns the duplicate policy in effect.
func (r *Registry) Policy() DuplicatePolicy {
	return r.policy
}

// Register adds a definition.
func (r *Registry) Register(def Definition) error {
	return r.RegisterMany(def)
}

// RegisterMany adds definitions atomically: either all are registered or, on
// error, none are.
func (r *Registry) RegisterMany(defs ...Definition) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	batch := make(map[string]bool, len(defs))
	for _, def := range defs {
		if def.Code == "" {
			return errspkg.ErrEmptyErrorCode
		}
		if r.policy == RejectDuplicates {
			_, exists := r.defs[def.Code]
			if (exists && !r.builtin[def.Code]) || batch[def.Code] {
				return fmt.Errorf("%w: %s", errspkg.ErrDuplicateErrorCode, def.Code)
			}
		}
		batch[def.Code] = true
	}
	for _, def := range defs {
		r.defs[def.Code] = def
		delete(r.builtin, def.Code)
	}
	return nil
}

// Lookup returns the definition registered for code.
func (r *Registry) Lookup(code string) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defs[code]
	return def, ok
}

// Definitions returns all definitions sorted by code.
func (r *Registry) Definitions() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Definition, 0, len(r.defs))
	for _, def := range r.defs {
		out = append(out, def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

// Create instantiates the definition for code. An unregistered code yields an
// unknown-type error that still carries the requested code.
func (r *Registry) Create(code string, opts ...Option) *Error {
	var o createOptions
	for _, opt := range opts {
		opt(&o)
	}

	def, ok := r.Lookup(code)
	if !ok {
		def = Definition{
			Code:     code,
			Message:  "Unregistered error code " + code,
			Metadata: Metadata{Type: TypeUnknown, Severity: SeverityError, StatusCode: 500},
		}
	}

	msg := Interpolate(def.Message, o.params)
	return &Error{
		Code:     def.Code,
		Message:  msg,
		Details:  cloneDetails(o.details),
		Metadata: def.Metadata,
		public:   def.Message,
		cause:    o.cause,
	}
}

// Enrich returns a copy of err whose metadata comes from the registered
// definition of its code. Errors with unregistered codes are returned as-is.
func (r *Registry) Enrich(err *Error) *Error {
	if err == nil {
		return nil
	}
	def, ok := r.Lookup(err.Code)
	if !ok {
		return err
	}
	out := *err
	out.Metadata = def.Metadata
	return &out
}

// FromResponse reconstructs a peer error and enriches it with local metadata.
func (r *Registry) FromResponse(re ResponseError) *Error {
	return r.Enrich(FromResponseError(re))
}

// ToMessagingError coerces err using this registry for the fallback code.
func (r *Registry) ToMessagingError(err error, fallbackCode string) *Error {
	if err == nil {
		return nil
	}
	me := ToMessagingError(err, "")
	if me.Code == CodeUnknown && fallbackCode != "" {
		out := r.Create(fallbackCode, WithCause(err))
		if !out.Metadata.Type.Exposable() {
			out.Message = err.Error()
		}
		return out
	}
	return r.Enrich(me)
}

package transport

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"

	"github.com/drblury/contractflow/internal/runtime/errors"
)

// Factory creates an unconnected adapter.
type Factory func(opts Options) (Adapter, error)

// Registry maps connection string schemes to adapter factories and their
// capabilities. Transport packages register themselves from init.
type Registry struct {
	mu           sync.RWMutex
	factories    map[string]Factory
	capabilities map[string]Capabilities
}

// DefaultRegistry is the global transport registry.
var DefaultRegistry = NewRegistry()

// NewRegistry creates a new transport registry.
func NewRegistry() *Registry {
	return &Registry{
		factories:    make(map[string]Factory),
		capabilities: make(map[string]Capabilities),
	}
}

// Register adds a factory for scheme (e.g. "memory", "kafka", "ws").
func (r *Registry) Register(scheme string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[strings.ToLower(scheme)] = factory
}

// RegisterWithCapabilities adds a factory and its capabilities.
func (r *Registry) RegisterWithCapabilities(scheme string, factory Factory, caps Capabilities) {
	r.mu.Lock()
	defer r.mu.Unlock()
	scheme = strings.ToLower(scheme)
	r.factories[scheme] = factory
	r.capabilities[scheme] = caps
}

// GetCapabilities returns the capabilities for a registered scheme.
// Returns a zero Capabilities struct if the scheme is unknown.
func (r *Registry) GetCapabilities(scheme string) Capabilities {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if caps, ok := r.capabilities[strings.ToLower(scheme)]; ok {
		return caps
	}
	return Capabilities{Name: scheme}
}

// New creates an adapter for scheme.
func (r *Registry) New(scheme string, opts Options) (Adapter, error) {
	r.mu.RLock()
	factory, ok := r.factories[strings.ToLower(scheme)]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %q (registered: %v)", errors.ErrUnknownScheme, scheme, r.Names())
	}
	return factory(opts)
}

// Open creates an adapter for the scheme of connectionString. The adapter
// is not connected yet.
func (r *Registry) Open(connectionString string, opts Options) (Adapter, error) {
	scheme, err := Scheme(connectionString)
	if err != nil {
		return nil, err
	}
	return r.New(scheme, opts)
}

// Names returns the registered schemes, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Has returns true if a factory is registered for scheme.
func (r *Registry) Has(scheme string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[strings.ToLower(scheme)]
	return ok
}

// Scheme extracts the scheme of a connection string.
func Scheme(connectionString string) (string, error) {
	u, err := ParseConnectionString(connectionString)
	if err != nil {
		return "", err
	}
	return u.Scheme, nil
}

// ParseConnectionString parses a connection string and requires a scheme.
func ParseConnectionString(connectionString string) (*url.URL, error) {
	u, err := url.Parse(connectionString)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", errors.ErrConnectionString, connectionString, err)
	}
	if u.Scheme == "" {
		return nil, fmt.Errorf("%w: %q has no scheme", errors.ErrConnectionString, connectionString)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	return u, nil
}

// Register adds a factory to the default registry.
func Register(scheme string, factory Factory) {
	DefaultRegistry.Register(scheme, factory)
}

// RegisterWithCapabilities adds a factory and its capabilities to the default registry.
func RegisterWithCapabilities(scheme string, factory Factory, caps Capabilities) {
	DefaultRegistry.RegisterWithCapabilities(scheme, factory, caps)
}

// Open creates an adapter using the default registry.
func Open(connectionString string, opts Options) (Adapter, error) {
	return DefaultRegistry.Open(connectionString, opts)
}

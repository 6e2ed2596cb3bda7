package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// DefaultNamespace prefixes every metric name unless overridden.
const DefaultNamespace = "dispatch"

// Config holds configuration for metrics collection.
type Config struct {
	// Enabled controls whether metrics collection is active.
	Enabled bool

	// Registry is the Prometheus registerer to use. If nil, DefaultRegistry
	// is used and Namespace is ignored.
	Registry prometheus.Registerer

	// Namespace overrides the default "dispatch" namespace for metrics.
	Namespace string
}

// DefaultConfig returns a default metrics configuration.
func DefaultConfig() Config {
	return Config{
		Enabled:   true,
		Registry:  nil,
		Namespace: DefaultNamespace,
	}
}

type registryKey struct {
	reg prometheus.Registerer
	ns  string
}

var (
	resolvedMu sync.Mutex
	resolved   = map[registryKey]*Registry{}
)

// Resolve returns the Registry described by c. The collectors for a given
// registerer and namespace are created once; later calls share them, so
// several pools can report under one registerer.
func (c Config) Resolve() *Registry {
	if c.Registry == nil {
		return DefaultRegistry
	}
	ns := c.Namespace
	if ns == "" {
		ns = DefaultNamespace
	}

	key := registryKey{reg: c.Registry, ns: ns}
	resolvedMu.Lock()
	defer resolvedMu.Unlock()
	if r, ok := resolved[key]; ok {
		return r
	}
	r := NewRegistry(c.Registry, ns)
	resolved[key] = r
	return r
}

// Instrumentable is an interface for components that can be instrumented with metrics.
type Instrumentable interface {
	// MetricsEnabled returns true if metrics are currently enabled.
	MetricsEnabled() bool
}

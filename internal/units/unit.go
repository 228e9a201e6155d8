// Package units resolves remote test units shipped to a node in a bundle.
// Units are registered by kind at init time and described by the bundle's
// manifest, so nothing is loaded reflectively.
package units

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"

	"github.com/ethpandaops/gatf-node/internal/testdef"
)

// ErrUnitNotFound is returned when a requested identifier is missing from
// the manifest or its kind is not registered.
var ErrUnitNotFound = errors.New("unit not found")

// Environment is what a unit sees when it runs.
type Environment struct {
	// Dir is the directory the bundle was extracted to.
	Dir string
	// Drivers maps a driver name to its resolved binary path.
	Drivers map[string]string
	// Config is the configuration negotiated for the session.
	Config *testdef.SharedConfig
	// Client is used by units that issue HTTP requests.
	Client *http.Client
}

// Unit is one remotely executable test unit. Each run returns one result
// map keyed by check name.
type Unit interface {
	ID() string
	Run(ctx context.Context, env *Environment) ([]map[string]testdef.UnitResult, error)
}

// Factory builds a unit from its manifest entry.
type Factory func(entry ManifestEntry) (Unit, error)

// Registry maps unit kinds to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// DefaultRegistry holds the built in unit kinds.
var DefaultRegistry = NewRegistry()

// Register adds a factory for kind. Registering a kind twice panics.
func (r *Registry) Register(kind string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if factory == nil {
		panic("units: Register factory is nil")
	}

	if _, dup := r.factories[kind]; dup {
		panic(fmt.Sprintf("units: Register called twice for kind %q", kind))
	}

	r.factories[kind] = factory
}

// Factory returns the factory registered for kind.
func (r *Registry) Factory(kind string) (Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	f, ok := r.factories[kind]

	return f, ok
}

// Kinds returns the registered kinds in sorted order.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]string, 0, len(r.factories))
	for k := range r.factories {
		kinds = append(kinds, k)
	}

	sort.Strings(kinds)

	return kinds
}

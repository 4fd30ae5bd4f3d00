package simulation

import (
	"fmt"
	"sort"
	"sync"
)

type entry struct {
	factory  func() Simulation
	manifest *SimulationConfig
}

// Registry manages available simulations
type Registry struct {
	mu          sync.RWMutex
	simulations map[string]entry
}

// NewRegistry creates a new simulation registry
func NewRegistry() *Registry {
	return &Registry{
		simulations: make(map[string]entry),
	}
}

// Register adds a simulation to the registry. The manifest may be nil.
func (r *Registry) Register(name string, factory func() Simulation, manifest *SimulationConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if name == "" || factory == nil {
		return fmt.Errorf("simulation name and factory are required")
	}
	if _, exists := r.simulations[name]; exists {
		return fmt.Errorf("simulation %s already registered", name)
	}

	r.simulations[name] = entry{factory: factory, manifest: manifest}
	return nil
}

// Get returns a new instance of the requested simulation
func (r *Registry) Get(name string) (Simulation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, exists := r.simulations[name]
	if !exists {
		return nil, fmt.Errorf("simulation %s not found", name)
	}

	return e.factory(), nil
}

// Manifest returns the parameter manifest registered for name
func (r *Registry) Manifest(name string) (*SimulationConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, exists := r.simulations[name]
	if !exists || e.manifest == nil {
		return nil, false
	}
	return e.manifest, true
}

// List returns all registered simulation names in sorted order
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.simulations))
	for name := range r.simulations {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultRegistry is the global simulation registry
var DefaultRegistry = NewRegistry()

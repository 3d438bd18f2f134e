package device

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/makewise-vision/libcamera-raspberrypi/errors"
)

// Factory creates an unopened device handle for the given device node.
// Factories must not perform I/O; all device access happens in Handle.Open.
type Factory func(node string, logger *slog.Logger) (Handle, error)

// Registration holds the factory and metadata for one device backend.
type Registration struct {
	// Name is the backend identifier (e.g. "v4l2-m2m")
	Name string
	// Description is a human-readable summary of the backend
	Description string
	// Compatibles lists hardware identifiers this backend drives
	// (e.g. "mtk-mdp", "pxp")
	Compatibles []string
	// Factory creates handles for this backend
	Factory Factory
}

// Registry maps device-class identifiers to backend factories. New hardware
// backends are added by registering a factory, never by modifying the engine.
type Registry struct {
	backends map[string]*Registration
	mu       sync.RWMutex
}

// NewRegistry creates a new empty backend registry
func NewRegistry() *Registry {
	return &Registry{
		backends: make(map[string]*Registration),
	}
}

// Register adds a backend registration.
// Returns an error if a backend with the same name is already registered.
func (r *Registry) Register(reg *Registration) error {
	if reg == nil {
		return errors.WrapInvalid(errors.ErrInvalidArgument,
			"Registry", "Register", "registration validation")
	}
	if reg.Name == "" {
		return errors.WrapInvalid(errors.ErrInvalidArgument,
			"Registry", "Register", "backend name validation")
	}
	if reg.Factory == nil {
		return errors.WrapInvalid(errors.ErrInvalidArgument,
			"Registry", "Register", "factory validation")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.backends[reg.Name]; exists {
		msg := fmt.Errorf("backend '%s' is already registered", reg.Name)
		return errors.WrapInvalid(msg, "Registry", "Register", "duplicate backend check")
	}

	r.backends[reg.Name] = reg
	return nil
}

// Get returns the registration for a backend name.
func (r *Registry) Get(name string) (*Registration, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	reg, exists := r.backends[name]
	if !exists {
		msg := fmt.Errorf("unknown device backend '%s'", name)
		return nil, errors.WrapInvalid(msg, "Registry", "Get", "backend lookup")
	}
	return reg, nil
}

// Match returns the first backend declaring compatibility with the given
// hardware identifier.
func (r *Registry) Match(compatible string) (*Registration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, reg := range r.backends {
		for _, c := range reg.Compatibles {
			if c == compatible {
				return reg, true
			}
		}
	}
	return nil, false
}

// List returns the names of all registered backends.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.backends))
	for name := range r.backends {
		names = append(names, name)
	}
	return names
}

package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/MrWong99/auris/pkg/audio"
	"github.com/MrWong99/auris/pkg/classify"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps provider names to their constructor functions for each
// provider type. It is safe for concurrent use.
type Registry struct {
	mu          sync.RWMutex
	devices     map[string]func(ProviderEntry) (audio.Device, error)
	classifiers map[string]func(ProviderEntry) (classify.Engine, error)
	gates       map[string]func(ProviderEntry) (audio.PermissionGate, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		devices:     make(map[string]func(ProviderEntry) (audio.Device, error)),
		classifiers: make(map[string]func(ProviderEntry) (classify.Engine, error)),
		gates:       make(map[string]func(ProviderEntry) (audio.PermissionGate, error)),
	}
}

// RegisterDevice registers a capture device factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterDevice(name string, factory func(ProviderEntry) (audio.Device, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.devices[name] = factory
}

// RegisterClassifier registers a classifier engine factory under name.
func (r *Registry) RegisterClassifier(name string, factory func(ProviderEntry) (classify.Engine, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.classifiers[name] = factory
}

// RegisterGate registers a permission gate factory under name.
func (r *Registry) RegisterGate(name string, factory func(ProviderEntry) (audio.PermissionGate, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gates[name] = factory
}

// CreateDevice instantiates a capture device using the factory registered under entry.Name.
// Returns [ErrProviderNotRegistered] if no factory has been registered for that name.
func (r *Registry) CreateDevice(entry ProviderEntry) (audio.Device, error) {
	r.mu.RLock()
	factory, ok := r.devices[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: device/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateClassifier instantiates a classifier engine using the factory registered under entry.Name.
func (r *Registry) CreateClassifier(entry ProviderEntry) (classify.Engine, error) {
	r.mu.RLock()
	factory, ok := r.classifiers[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: classifier/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateGate instantiates a permission gate using the factory registered under entry.Name.
func (r *Registry) CreateGate(entry ProviderEntry) (audio.PermissionGate, error) {
	r.mu.RLock()
	factory, ok := r.gates[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: gate/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

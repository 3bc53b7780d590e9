package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/meetwren/wren/internal/engine"
	"github.com/meetwren/wren/pkg/crm"
	"github.com/meetwren/wren/pkg/platform"
)

// ErrAdapterNotRegistered is returned by Create* methods when no factory has
// been registered under the requested adapter name.
var ErrAdapterNotRegistered = errors.New("config: adapter not registered")

// Registry maps adapter names to their constructor functions for each
// adapter kind. It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	platforms map[string]func(AdapterEntry) (platform.Adapter, error)
	engines   map[string]func(AdapterEntry) (engine.Engine, error)
	crms      map[string]func(AdapterEntry) (crm.Adapter, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		platforms: make(map[string]func(AdapterEntry) (platform.Adapter, error)),
		engines:   make(map[string]func(AdapterEntry) (engine.Engine, error)),
		crms:      make(map[string]func(AdapterEntry) (crm.Adapter, error)),
	}
}

// RegisterPlatform registers a meeting platform factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterPlatform(name string, factory func(AdapterEntry) (platform.Adapter, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.platforms[name] = factory
}

// RegisterEngine registers a transcription engine factory under name.
func (r *Registry) RegisterEngine(name string, factory func(AdapterEntry) (engine.Engine, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.engines[name] = factory
}

// RegisterCRM registers a CRM adapter factory under name.
func (r *Registry) RegisterCRM(name string, factory func(AdapterEntry) (crm.Adapter, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.crms[name] = factory
}

// CreatePlatform instantiates a platform adapter using the factory registered
// under entry.Name. Returns [ErrAdapterNotRegistered] if no factory has been
// registered for that name.
func (r *Registry) CreatePlatform(entry AdapterEntry) (platform.Adapter, error) {
	r.mu.RLock()
	factory, ok := r.platforms[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: platform/%q", ErrAdapterNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateEngine instantiates a transcription engine using the factory
// registered under entry.Name.
func (r *Registry) CreateEngine(entry AdapterEntry) (engine.Engine, error) {
	r.mu.RLock()
	factory, ok := r.engines[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: engine/%q", ErrAdapterNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateCRM instantiates a CRM adapter using the factory registered under
// entry.Name.
func (r *Registry) CreateCRM(entry AdapterEntry) (crm.Adapter, error) {
	r.mu.RLock()
	factory, ok := r.crms[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: crm/%q", ErrAdapterNotRegistered, entry.Name)
	}
	return factory(entry)
}

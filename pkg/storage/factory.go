package storage

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Registry holds the constructed backend instances for a process,
// keyed by their configured names, and resolves storage URIs.
type Registry struct {
	config   *Config
	backends map[string]Backend
	mutex    sync.RWMutex
}

// NewRegistry constructs all enabled backends from the configuration.
func NewRegistry(config *Config) (*Registry, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	backends := make(map[string]Backend)
	for name, bc := range config.Backends {
		if !bc.Enabled {
			continue
		}

		backend, err := CreateBackend(name, bc)
		if err != nil {
			return nil, fmt.Errorf("failed to create backend %q: %w", name, err)
		}

		backends[name] = backend
	}

	if len(backends) == 0 {
		return nil, fmt.Errorf("no enabled backends in storage configuration")
	}

	if _, ok := backends[config.DefaultBackend]; !ok {
		return nil, fmt.Errorf("default backend %q is not enabled", config.DefaultBackend)
	}

	return &Registry{
		config:   config,
		backends: backends,
	}, nil
}

// Get returns the backend registered under name.
func (r *Registry) Get(name string) (Backend, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	backend, ok := r.backends[name]
	if !ok {
		return nil, NewStorageError(ErrCodeInvalidRequest,
			fmt.Sprintf("backend %q is not registered", name), name, nil)
	}
	return backend, nil
}

// Default returns the configured default backend.
func (r *Registry) Default() Backend {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return r.backends[r.config.DefaultBackend]
}

// Names returns the names of all registered backends.
func (r *Registry) Names() []string {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	names := make([]string, 0, len(r.backends))
	for name := range r.backends {
		names = append(names, name)
	}
	return names
}

// OutputAllowed reports whether jobs may write to the named backend.
func (r *Registry) OutputAllowed(name string) bool {
	return r.config.OutputAllowed(name)
}

// Resolve parses a storage URI and returns the backend plus the
// backend-relative path. URIs take the form "name://rest"; unprefixed
// paths resolve against the default backend.
func (r *Registry) Resolve(uri string) (Backend, string, error) {
	name, rest := ParseURI(uri, r.config.DefaultBackend)

	backend, err := r.Get(name)
	if err != nil {
		return nil, "", err
	}

	return backend, rest, nil
}

// Status collects the status of every registered backend.
func (r *Registry) Status(ctx context.Context) map[string]*BackendStatus {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	statuses := make(map[string]*BackendStatus, len(r.backends))
	for name, backend := range r.backends {
		status, err := backend.Status(ctx)
		if err != nil {
			status = &BackendStatus{Name: name, Type: backend.Type(), Available: false}
		}
		statuses[name] = status
	}
	return statuses
}

// ParseURI splits "name://rest" into its backend name and relative
// path. Strings without a scheme resolve to (defaultBackend, uri).
func ParseURI(uri, defaultBackend string) (name, rest string) {
	idx := strings.Index(uri, "://")
	if idx < 0 {
		return defaultBackend, uri
	}

	name = uri[:idx]
	rest = strings.TrimPrefix(uri[idx+3:], "/")
	if name == "" {
		name = defaultBackend
	}
	return name, rest
}

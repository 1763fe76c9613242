package storage

import (
	"fmt"
	"strings"
	"sync"
)

// BackendConstructor is a function that creates a new backend instance
type BackendConstructor func(name string, config *BackendConfig) (Backend, error)

// backendRegistry holds registered backend constructors keyed by type
var backendRegistry = struct {
	sync.RWMutex
	constructors map[string]BackendConstructor
}{
	constructors: make(map[string]BackendConstructor),
}

// typeAliases maps the accepted spellings of a backend type to its
// canonical registered name.
var typeAliases = map[string]string{
	"local":        "local",
	"filesystem":   "local",
	"file":         "local",
	"nfs":          "local",
	"s3":           "s3",
	"aws":          "s3",
	"minio":        "s3",
	"azure":        "azure",
	"blob":         "azure",
	"azure_blob":   "azure",
	"gcs":          "gcs",
	"google":       "gcs",
	"google_cloud": "gcs",
}

// CanonicalType resolves a backend type alias to its canonical name.
func CanonicalType(backendType string) (string, bool) {
	canonical, ok := typeAliases[strings.ToLower(backendType)]
	return canonical, ok
}

// RegisterBackend registers a backend constructor for a canonical type
func RegisterBackend(backendType string, constructor BackendConstructor) {
	backendRegistry.Lock()
	defer backendRegistry.Unlock()

	backendRegistry.constructors[backendType] = constructor
}

// CreateBackend creates a backend instance using the registered constructor
func CreateBackend(name string, config *BackendConfig) (Backend, error) {
	canonical, ok := CanonicalType(config.Type)
	if !ok {
		return nil, NewConfigError(config.Type, fmt.Sprintf("unknown backend type %q", config.Type))
	}

	backendRegistry.RLock()
	constructor, exists := backendRegistry.constructors[canonical]
	backendRegistry.RUnlock()

	if !exists {
		return nil, NewConfigError(canonical, fmt.Sprintf("backend type %s not registered", canonical))
	}

	return constructor(name, config)
}

// GetRegisteredBackends returns a list of registered backend types
func GetRegisteredBackends() []string {
	backendRegistry.RLock()
	defer backendRegistry.RUnlock()

	types := make([]string, 0, len(backendRegistry.constructors))
	for backendType := range backendRegistry.constructors {
		types = append(types, backendType)
	}

	return types
}

package storage

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config describes the full storage layer: named backend definitions
// plus routing policy for job inputs and outputs.
type Config struct {
	// DefaultBackend receives unprefixed URIs.
	DefaultBackend string `json:"default_backend" yaml:"default_backend"`

	// OutputBackends is the allow-list of backends jobs may write to.
	// Empty means any registered backend.
	OutputBackends []string `json:"output_backends" yaml:"output_backends"`

	// Backends holds the named backend definitions.
	Backends map[string]*BackendConfig `json:"backends" yaml:"backends"`
}

// BackendConfig represents configuration for a single storage backend
type BackendConfig struct {
	// Backend type (local, s3, azure, gcs, or an accepted alias)
	Type string `json:"type" yaml:"type"`

	// Enabled status
	Enabled bool `json:"enabled" yaml:"enabled"`

	// BasePath is the sandbox root for the local backend.
	BasePath string `json:"base_path,omitempty" yaml:"base_path,omitempty"`

	// Object store settings.
	Bucket    string `json:"bucket,omitempty" yaml:"bucket,omitempty"`
	Container string `json:"container,omitempty" yaml:"container,omitempty"`
	Prefix    string `json:"prefix,omitempty" yaml:"prefix,omitempty"`
	Region    string `json:"region,omitempty" yaml:"region,omitempty"`
	Endpoint  string `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`

	// Credentials. Empty values fall back to ambient credentials
	// (instance profile, environment, workload identity).
	AccessKey        string `json:"access_key,omitempty" yaml:"access_key,omitempty"`
	SecretKey        string `json:"secret_key,omitempty" yaml:"secret_key,omitempty"`
	ConnectionString string `json:"connection_string,omitempty" yaml:"connection_string,omitempty"`
	AccountName      string `json:"account_name,omitempty" yaml:"account_name,omitempty"`
	Project          string `json:"project,omitempty" yaml:"project,omitempty"`
	CredentialsFile  string `json:"credentials_file,omitempty" yaml:"credentials_file,omitempty"`

	UseSSL bool `json:"use_ssl" yaml:"use_ssl"`
}

// DefaultConfig returns a single-backend local configuration rooted at
// the given directory.
func DefaultConfig(basePath string) *Config {
	return &Config{
		DefaultBackend: "local",
		Backends: map[string]*BackendConfig{
			"local": {
				Type:     "local",
				Enabled:  true,
				BasePath: basePath,
			},
		},
	}
}

// LoadConfig reads a YAML storage configuration from disk.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read storage config: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse storage config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate checks the configuration for completeness.
func (c *Config) Validate() error {
	if len(c.Backends) == 0 {
		return fmt.Errorf("storage config defines no backends")
	}

	if c.DefaultBackend == "" {
		return fmt.Errorf("storage config missing default_backend")
	}

	if _, ok := c.Backends[c.DefaultBackend]; !ok {
		return fmt.Errorf("default_backend %q is not a configured backend", c.DefaultBackend)
	}

	for name, backend := range c.Backends {
		canonical, ok := CanonicalType(backend.Type)
		if !ok {
			return fmt.Errorf("backend %q: unknown type %q", name, backend.Type)
		}

		switch canonical {
		case "local":
			if backend.BasePath == "" {
				return fmt.Errorf("backend %q: local backend requires base_path", name)
			}
		case "s3", "gcs":
			if backend.Bucket == "" {
				return fmt.Errorf("backend %q: %s backend requires bucket", name, canonical)
			}
		case "azure":
			if backend.Container == "" {
				return fmt.Errorf("backend %q: azure backend requires container", name)
			}
		}
	}

	for _, name := range c.OutputBackends {
		if _, ok := c.Backends[name]; !ok {
			return fmt.Errorf("output_backends lists unknown backend %q", name)
		}
	}

	return nil
}

// OutputAllowed reports whether jobs may write to the named backend.
func (c *Config) OutputAllowed(name string) bool {
	if len(c.OutputBackends) == 0 {
		return true
	}
	for _, allowed := range c.OutputBackends {
		if allowed == name {
			return true
		}
	}
	return false
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	assert.Equal(t, 8080, config.Server.Port)
	assert.Equal(t, 21600, config.Worker.TaskTimeLimit)
	assert.Equal(t, 6*time.Hour, config.Worker.TaskTimeLimitDuration)
	assert.Equal(t, 50, config.Jobs.MaxOperations)
	assert.Equal(t, 10, config.Jobs.MaxConcurrentPerKey)
	assert.Equal(t, 7*24*time.Hour, config.Jobs.Retention)
	assert.Equal(t, "info", config.Logging.Level)
	assert.Equal(t, []string{"default", "analysis", "streaming"}, config.Worker.Queues)

	require.NoError(t, config.Validate())
}

func TestLoadConfigFromFile(t *testing.T) {
	doc := `
server:
  port: 9090
worker:
  gpu: true
  slots: 8
  task_time_limit_seconds: 3600
jobs:
  retention_days: 30
logging:
  level: debug
  format: text
storage:
  default_backend: local
  backends:
    local:
      type: local
      enabled: true
      base_path: /tmp/media
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	config, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, config.Server.Port)
	assert.Equal(t, time.Hour, config.Worker.TaskTimeLimitDuration)
	assert.Equal(t, 30*24*time.Hour, config.Jobs.Retention)
	assert.Equal(t, "debug", config.Logging.Level)

	// GPU workers are capped at two slots and pick up the streaming
	// queue first.
	assert.Equal(t, 2, config.Worker.Slots)
	assert.Equal(t, []string{"streaming", "default"}, config.Worker.Queues)
}

func TestLoadConfigMissingFile(t *testing.T) {
	config, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 8080, config.Server.Port)
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("CODECFLOW_PORT", "7070")
	t.Setenv("CODECFLOW_DATABASE_URL", "postgres://u:p@db:5432/x")
	t.Setenv("CODECFLOW_WORKER_QUEUES", "analysis,default")
	t.Setenv("CODECFLOW_LOG_LEVEL", "warn")

	config, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, 7070, config.Server.Port)
	assert.Equal(t, "postgres://u:p@db:5432/x", config.Database.URL)
	assert.Equal(t, []string{"analysis", "default"}, config.Worker.Queues)
	assert.Equal(t, "warn", config.Logging.Level)
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad port", func(c *Config) { c.Server.Port = 0 }},
		{"empty database url", func(c *Config) { c.Database.URL = "" }},
		{"zero slots", func(c *Config) { c.Worker.Slots = 0 }},
		{"unknown queue", func(c *Config) { c.Worker.Queues = []string{"gpu-turbo"} }},
		{"zero time limit", func(c *Config) { c.Worker.TaskTimeLimit = 0 }},
		{"zero max operations", func(c *Config) { c.Jobs.MaxOperations = 0 }},
		{"zero retention", func(c *Config) { c.Jobs.RetentionDays = 0 }},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig()
			tt.mutate(config)
			assert.Error(t, config.Validate())
		})
	}
}

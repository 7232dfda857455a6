package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rzbill/conduit/internal/executor"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "always", cfg.Fsync)
	assert.Equal(t, executor.DefaultPattern, cfg.Executor.Pattern)
	assert.Equal(t, 10, cfg.Repository.CompletionSize)
	assert.Equal(t, 60*time.Second, cfg.Leader.TTL)
	assert.Equal(t, 10*time.Second, cfg.Leader.Timeout)
	assert.True(t, cfg.Leader.ShouldStopConsumer)
	require.NoError(t, cfg.Validate())
}

func TestLoadNoFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "default", cfg.Repository.Name)
	assert.Equal(t, "default", cfg.Leader.ServiceName)
}

func TestLoadJSON(t *testing.T) {
	path := writeFile(t, "conduit.json", `{
		"data_dir": "/tmp/conduit",
		"repository": {"name": "orders", "completion_size": 3, "completion_timeout": "2s"},
		"leader": {"enabled": true, "ttl": "15s", "endpoints": ["a:2379", "b:2379"]}
	}`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/conduit", cfg.DataDir)
	assert.Equal(t, "orders", cfg.Repository.Name)
	assert.Equal(t, 3, cfg.Repository.CompletionSize)
	assert.Equal(t, 2*time.Second, cfg.Repository.CompletionTimeout)
	assert.True(t, cfg.Leader.Enabled)
	assert.Equal(t, 15*time.Second, cfg.Leader.TTL)
	assert.Equal(t, []string{"a:2379", "b:2379"}, cfg.Leader.Endpoints)
	assert.Equal(t, "orders", cfg.Leader.ServiceName)
	// untouched keys keep their defaults
	assert.Equal(t, 10*time.Second, cfg.Leader.Timeout)
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "conduit.yaml", "repository:\n  name: batches\n  completion_predicate: size >= 4\nlog:\n  level: debug\n")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "batches", cfg.Repository.Name)
	assert.Equal(t, "size >= 4", cfg.Repository.CompletionPredicate)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := writeFile(t, "conduit.json", `{"repository": {"name": "orders"}}`)
	t.Setenv("CONDUIT_REPOSITORY_NAME", "invoices")
	t.Setenv("CONDUIT_LEADER_TTL", "30s")
	t.Setenv("CONDUIT_LEADER_ENDPOINTS", "x:2379, y:2379")
	t.Setenv("CONDUIT_LEADER_SHOULD_STOP_CONSUMER", "false")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "invoices", cfg.Repository.Name)
	assert.Equal(t, 30*time.Second, cfg.Leader.TTL)
	assert.Equal(t, []string{"x:2379", "y:2379"}, cfg.Leader.Endpoints)
	assert.False(t, cfg.Leader.ShouldStopConsumer)
}

func TestLoadBareDurationsAreSeconds(t *testing.T) {
	path := writeFile(t, "conduit.yaml", "leader:\n  ttl: 60\n  timeout: 5\nrepository:\n  completion_interval: 1.5\n")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 60*time.Second, cfg.Leader.TTL)
	assert.Equal(t, 5*time.Second, cfg.Leader.Timeout)
	assert.Equal(t, 1500*time.Millisecond, cfg.Repository.CompletionInterval)

	path = writeFile(t, "conduit.json", `{"leader": {"ttl": 45, "timeout": "2m"}}`)
	cfg, err = Load(path)
	require.NoError(t, err)
	assert.Equal(t, 45*time.Second, cfg.Leader.TTL)
	assert.Equal(t, 2*time.Minute, cfg.Leader.Timeout)
}

func TestLoadEnvBareSeconds(t *testing.T) {
	t.Setenv("CONDUIT_LEADER_TTL", "30")
	t.Setenv("CONDUIT_LEADER_TIMEOUT", " 3 ")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, cfg.Leader.TTL)
	assert.Equal(t, 3*time.Second, cfg.Leader.Timeout)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"fsync", func(c *Config) { c.Fsync = "sometimes" }},
		{"negative size", func(c *Config) { c.Repository.CompletionSize = -1 }},
		{"no completion", func(c *Config) { c.Repository.CompletionSize = 0 }},
		{"negative redeliveries", func(c *Config) { c.Repository.MaximumRedeliveries = -1 }},
		{"pattern", func(c *Config) { c.Executor.Pattern = "${nope}" }},
		{"leader path", func(c *Config) { c.Leader.Enabled = true; c.Leader.ServicePath = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

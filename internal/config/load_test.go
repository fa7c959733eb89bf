package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validConfigYAML = `
schemaVersion: "1.0.0"
logging:
  level: debug
  format: json
events:
  buffer_size: 256
defaults:
  throttle_window: 750ms
  debounce_window: 200ms
  retry:
    max_retries: 5
    initial_delay: 100ms
    multiplier: 1.5
    max_delay: 5s
persistence:
  driver: file
  path: /tmp/flowstate-state.json
  interval: 2s
connectivity:
  probe_addr: "example.com:443"
  probe_timeout: 3s
metrics:
  enabled: true
`

func TestLoad_ValidConfig(t *testing.T) {
	cfg, err := Load([]byte(validConfigYAML), "test.yaml")
	require.NoError(t, err)

	assert.Equal(t, "1.0.0", cfg.SchemaVersion)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, 256, cfg.Events.BufferSize)
	assert.Equal(t, 750*time.Millisecond, cfg.Defaults.ThrottleWindowParsed)
	assert.Equal(t, 200*time.Millisecond, cfg.Defaults.DebounceWindowParsed)
	assert.Equal(t, 5, cfg.Defaults.Retry.MaxRetries)
	assert.Equal(t, 100*time.Millisecond, cfg.Defaults.Retry.InitialDelayParsed)
	assert.Equal(t, 5*time.Second, cfg.Defaults.Retry.MaxDelayParsed)
	assert.Equal(t, "file", cfg.Persistence.Driver)
	assert.Equal(t, 2*time.Second, cfg.Persistence.IntervalParsed)
	assert.Equal(t, 3*time.Second, cfg.Connectivity.ProbeTimeoutParsed)
	assert.True(t, cfg.Metrics.Enabled)
}

func TestLoad_MinimalConfig(t *testing.T) {
	cfg, err := Load([]byte("schemaVersion: \"1.0.0\"\n"), "minimal.yaml")
	require.NoError(t, err)
	assert.Zero(t, cfg.Defaults.ThrottleWindowParsed)
	assert.Empty(t, cfg.Persistence.Driver)
}

func TestLoad_EmptyContent(t *testing.T) {
	_, err := Load(nil, "empty.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot be empty")
}

func TestLoad_MissingSchemaVersion(t *testing.T) {
	_, err := Load([]byte("logging:\n  level: info\n"), "test.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "schemaVersion")
}

func TestLoad_IncompatibleMajorVersion(t *testing.T) {
	_, err := Load([]byte("schemaVersion: \"2.0.0\"\n"), "test.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not compatible")
}

func TestLoad_UnknownField(t *testing.T) {
	_, err := Load([]byte("schemaVersion: \"1.0.0\"\nbogus: true\n"), "test.yaml")
	require.Error(t, err)
}

func TestLoad_InvalidDuration(t *testing.T) {
	yml := "schemaVersion: \"1.0.0\"\ndefaults:\n  throttle_window: quickly\n"
	_, err := Load([]byte(yml), "test.yaml")
	require.Error(t, err)
}

func TestLoad_InvalidLogLevel(t *testing.T) {
	yml := "schemaVersion: \"1.0.0\"\nlogging:\n  level: verbose\n"
	_, err := Load([]byte(yml), "test.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "schema validation")
}

func TestLoad_PersistenceDriverRequiresPath(t *testing.T) {
	yml := "schemaVersion: \"1.0.0\"\npersistence:\n  driver: sqlite\n"
	_, err := Load([]byte(yml), "test.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "persistence.path")
}

func TestValidateStructure_MultiplierBelowOne(t *testing.T) {
	cfg := &Config{SchemaVersion: "1.0.0"}
	cfg.Defaults.Retry.Multiplier = 0.5
	errs := ValidateStructure(cfg)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), "multiplier")
}

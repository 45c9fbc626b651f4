package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, contents map[string]any) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	data, err := json.Marshal(contents)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.json"))
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", cfg.Gateway.Host)
	assert.Equal(t, defaultPort, cfg.Gateway.Port)
	assert.Equal(t, "assistant", cfg.Agents.Default)
	assert.True(t, cfg.Security.AuditLog)
	assert.True(t, cfg.Security.SecretsFilter)
}

func TestLoad_FileValuesOverrideDefaults(t *testing.T) {
	path := writeConfigFile(t, map[string]any{
		"gateway": map[string]any{"port": 9000},
		"agents":  map[string]any{"default": "scheduler"},
	})

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Gateway.Port)
	assert.Equal(t, "scheduler", cfg.Agents.Default)
}

func TestLoad_EnvVarOverridesFileValue(t *testing.T) {
	path := writeConfigFile(t, map[string]any{
		"gateway": map[string]any{"port": 9000},
	})
	t.Setenv("GATEWAYD_GATEWAY_PORT", "9999")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9999, cfg.Gateway.Port)
}

func TestLoad_RejectsOutOfRangePort(t *testing.T) {
	path := writeConfigFile(t, map[string]any{
		"gateway": map[string]any{"port": 70000},
	})
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_RejectsEmptyDefaultAgent(t *testing.T) {
	path := writeConfigFile(t, map[string]any{
		"agents": map[string]any{"default": ""},
	})
	_, err := Load(path)
	assert.Error(t, err)
}

func TestGatewayToken_ReadsFromEnvOnly(t *testing.T) {
	t.Setenv(GatewayTokenEnvVar, "sekret-token")
	assert.Equal(t, "sekret-token", GatewayToken())
}

func TestGatewayToken_EmptyWhenUnset(t *testing.T) {
	assert.Equal(t, "", GatewayToken())
}

func TestProviderAPIKey_KnownAndUnknownProviders(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "anthropic-key")
	assert.Equal(t, "anthropic-key", ProviderAPIKey("anthropic"))
	assert.Equal(t, "", ProviderAPIKey("does-not-exist"))
}

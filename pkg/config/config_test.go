package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func env(m map[string]string) func(string) string {
	return func(key string) string { return m[key] }
}

func TestDefaultValidates(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
}

func TestLoadFromEnvOverridesDefaults(t *testing.T) {
	cfg := Default()
	err := LoadFromEnv(cfg, env(map[string]string{
		"HTTP_ADDR":                  ":9090",
		"KERNEL_POOL_SIZE":           "5",
		"ALLOWED_KERNEL_TYPES":       "worker-python,worker-typescript",
		"MAX_VECTOR_DB_INSTANCES":    "20",
		"VECTORDB_ACTIVITY_MONITORING": "false",
	}))
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.HTTPAddr)
	assert.Equal(t, 5, cfg.Pool.Size)
	assert.Equal(t, 20, cfg.VectorDB.MaxInstances)
	assert.False(t, cfg.VectorDB.ActivityMonitoringEnabled)
	require.Len(t, cfg.Pool.AllowedTypes, 2)
	assert.Equal(t, "worker-python", cfg.Pool.AllowedTypes[0].String())
}

func TestLoadFromEnvRejectsBadInteger(t *testing.T) {
	cfg := Default()
	err := LoadFromEnv(cfg, env(map[string]string{"KERNEL_POOL_SIZE": "not-a-number"}))
	assert.Error(t, err)
}

func TestValidateRejectsMCPServerWithNoTransport(t *testing.T) {
	cfg := Default()
	cfg.MCPServers = []MCPServerConfig{{Name: "broken"}}
	err := cfg.Validate()
	assert.Error(t, err)
}

func TestValidateRejectsMCPServerWithBothTransports(t *testing.T) {
	cfg := Default()
	cfg.MCPServers = []MCPServerConfig{{Name: "broken", Command: "foo", URL: "http://x"}}
	err := cfg.Validate()
	assert.Error(t, err)
}

func TestValidateRejectsUnknownDefaultEmbeddingProvider(t *testing.T) {
	cfg := Default()
	cfg.VectorDB.DefaultEmbeddingProvider = "does-not-exist"
	err := cfg.Validate()
	assert.Error(t, err)
}

func TestParsePreloadEntries(t *testing.T) {
	entries, err := ParsePreloadEntries("worker-python, main-thread-javascript")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, PreloadEntry{Mode: "worker", Language: "python"}, entries[0])
	assert.Equal(t, PreloadEntry{Mode: "main-thread", Language: "javascript"}, entries[1])
}

func TestParsePreloadEntriesRejectsMissingDash(t *testing.T) {
	_, err := ParsePreloadEntries("nodash")
	assert.Error(t, err)
}

func TestLoadMCPServersFileMissingIsNotAnError(t *testing.T) {
	cfg := Default()
	err := LoadMCPServersFile(cfg, "/nonexistent/path/servers.yaml")
	assert.NoError(t, err)
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "gateway.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_NoPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 39400, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, time.Duration(cfg.Server.RequestTimeout))
	assert.True(t, cfg.MetaMCP.Enabled)
	assert.True(t, cfg.Failsafe.CircuitBreaker.Enabled)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := writeConfigFile(t, dir, `
server:
  host: 0.0.0.0
  port: 8080
  request_timeout: 15s
meta_mcp:
  cache_ttl: 5m
backends:
  svc-a:
    http_url: http://localhost:9000
    enabled: true
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 15*time.Second, time.Duration(cfg.Server.RequestTimeout))
	assert.Equal(t, 5*time.Minute, time.Duration(cfg.MetaMCP.CacheTTL))
	require.Contains(t, cfg.Backends, "svc-a")
	assert.Equal(t, TransportHTTP, cfg.Backends["svc-a"].TransportKind())
}

func TestLoad_MissingFileReturnsConfigError(t *testing.T) {
	_, err := Load("/does/not/exist.yaml")
	assert.Error(t, err)
}

func TestLoad_BackendDefaultsFillMissingTimeouts(t *testing.T) {
	dir := t.TempDir()
	path := writeConfigFile(t, dir, `
backends:
  svc-a:
    http_url: http://localhost:9000
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 30*time.Second, time.Duration(cfg.Backends["svc-a"].Timeout))
	assert.Equal(t, 5*time.Minute, time.Duration(cfg.Backends["svc-a"].IdleTimeout))
}

func TestBackendConfig_TransportKindClassification(t *testing.T) {
	cases := []struct {
		name string
		cfg  BackendConfig
		want TransportKind
	}{
		{"stdio", BackendConfig{Command: "mcp-server"}, TransportStdio},
		{"plain http", BackendConfig{HTTPURL: "http://localhost:9000"}, TransportHTTP},
		{"sse suffix", BackendConfig{HTTPURL: "http://localhost:9000/sse"}, TransportSSE},
		{"explicit streamable", BackendConfig{HTTPURL: "http://localhost:9000", StreamableHTTP: true}, TransportStreamable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.cfg.TransportKind())
		})
	}
}

func TestEnabledBackends_FiltersDisabled(t *testing.T) {
	cfg := &Config{Backends: map[string]BackendConfig{
		"on":  {Enabled: true},
		"off": {Enabled: false},
	}}

	enabled := cfg.EnabledBackends()
	assert.Contains(t, enabled, "on")
	assert.NotContains(t, enabled, "off")
}

func TestExpandHeaderEnvVars_SubstitutesKnownVariable(t *testing.T) {
	t.Setenv("GATEWAY_TEST_TOKEN", "secret-value")

	dir := t.TempDir()
	path := writeConfigFile(t, dir, `
backends:
  svc-a:
    http_url: http://localhost:9000
    headers:
      Authorization: "Bearer ${GATEWAY_TEST_TOKEN}"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "Bearer secret-value", cfg.Backends["svc-a"].Headers["Authorization"])
}

func TestExpandHeaderEnvVars_UnsetVariableBecomesEmpty(t *testing.T) {
	dir := t.TempDir()
	path := writeConfigFile(t, dir, `
backends:
  svc-a:
    http_url: http://localhost:9000
    headers:
      X-Trace: "${GATEWAY_TEST_DEFINITELY_UNSET}"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "", cfg.Backends["svc-a"].Headers["X-Trace"])
}

func TestLoad_EnvOverridesFileValue(t *testing.T) {
	dir := t.TempDir()
	path := writeConfigFile(t, dir, `
server:
  port: 8080
`)
	t.Setenv("MCP_GATEWAY_SERVER__PORT", "9090")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
}

func TestParseDuration_AcceptsSuffixesAndBareInteger(t *testing.T) {
	cases := map[string]time.Duration{
		"30s":   30 * time.Second,
		"5m":    5 * time.Minute,
		"100ms": 100 * time.Millisecond,
		"45":    45 * time.Second,
	}
	for input, want := range cases {
		got, err := ParseDuration(input)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

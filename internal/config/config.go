// Package config loads the gateway's configuration from a YAML file
// overlaid with MCP_GATEWAY_-prefixed environment variables, grounded on
// original_source/src/config.rs's figment-based layering.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/giantswarm/mcp-gateway/internal/gwerr"
)

// envPrefix is the namespace every environment override lives under, with
// "__" selecting nested fields (e.g. MCP_GATEWAY_SERVER__PORT).
const envPrefix = "MCP_GATEWAY_"

// Config is the gateway's full configuration tree.
type Config struct {
	Server   ServerConfig             `yaml:"server"`
	MetaMCP  MetaMCPConfig            `yaml:"meta_mcp"`
	Failsafe FailsafeConfig           `yaml:"failsafe"`
	Backends map[string]BackendConfig `yaml:"backends"`
}

// ServerConfig controls the gateway's own HTTP listener.
type ServerConfig struct {
	Host            string   `yaml:"host"`
	Port            int      `yaml:"port"`
	RequestTimeout  Duration `yaml:"request_timeout"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
	MaxBodySize     int      `yaml:"max_body_size"`
}

// Addr returns the host:port pair net/http.Server expects.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

func defaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:            "127.0.0.1",
		Port:            39400,
		RequestTimeout:  Duration(30 * time.Second),
		ShutdownTimeout: Duration(30 * time.Second),
		MaxBodySize:     10 * 1024 * 1024,
	}
}

// MetaMCPConfig controls the Meta-MCP tool surface.
type MetaMCPConfig struct {
	Enabled    bool     `yaml:"enabled"`
	CacheTools bool     `yaml:"cache_tools"`
	CacheTTL   Duration `yaml:"cache_ttl"`
	WarmStart  []string `yaml:"warm_start"`
}

func defaultMetaMCPConfig() MetaMCPConfig {
	return MetaMCPConfig{
		Enabled:    true,
		CacheTools: true,
		CacheTTL:   Duration(5 * time.Minute),
	}
}

// FailsafeConfig groups the default protection-primitive settings applied
// to every backend that doesn't override them.
type FailsafeConfig struct {
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
	Retry          RetryConfig          `yaml:"retry"`
	RateLimit      RateLimitConfig      `yaml:"rate_limit"`
	HealthCheck    HealthCheckConfig    `yaml:"health_check"`
}

type CircuitBreakerConfig struct {
	Enabled          bool     `yaml:"enabled"`
	FailureThreshold int      `yaml:"failure_threshold"`
	SuccessThreshold int      `yaml:"success_threshold"`
	ResetTimeout     Duration `yaml:"reset_timeout"`
}

type RetryConfig struct {
	Enabled        bool     `yaml:"enabled"`
	MaxAttempts    int      `yaml:"max_attempts"`
	InitialBackoff Duration `yaml:"initial_backoff"`
	MaxBackoff     Duration `yaml:"max_backoff"`
	Multiplier     float64  `yaml:"multiplier"`
}

type RateLimitConfig struct {
	Enabled           bool    `yaml:"enabled"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	BurstSize         int     `yaml:"burst_size"`
}

// HealthCheckConfig is carried through for forward compatibility with an
// active health-poller; the gateway's current HealthTracker is purely
// reactive (derived from request outcomes), so Interval/Timeout are parsed
// but have no consumer yet.
type HealthCheckConfig struct {
	Enabled  bool     `yaml:"enabled"`
	Interval Duration `yaml:"interval"`
	Timeout  Duration `yaml:"timeout"`
}

func defaultFailsafeConfig() FailsafeConfig {
	return FailsafeConfig{
		CircuitBreaker: CircuitBreakerConfig{Enabled: true, FailureThreshold: 5, SuccessThreshold: 3, ResetTimeout: Duration(30 * time.Second)},
		Retry:          RetryConfig{Enabled: true, MaxAttempts: 3, InitialBackoff: Duration(100 * time.Millisecond), MaxBackoff: Duration(10 * time.Second), Multiplier: 2.0},
		RateLimit:      RateLimitConfig{Enabled: true, RequestsPerSecond: 100, BurstSize: 50},
		HealthCheck:    HealthCheckConfig{Enabled: true, Interval: Duration(30 * time.Second), Timeout: Duration(5 * time.Second)},
	}
}

// TransportKind selects how a BackendConfig's process is reached.
type TransportKind string

const (
	TransportStdio      TransportKind = "stdio"
	TransportHTTP       TransportKind = "http"
	TransportSSE        TransportKind = "sse"
	TransportStreamable TransportKind = "streamable-http"
)

// BackendConfig describes one upstream MCP server. Exactly one of
// Command (stdio) or HTTPURL (http/sse/streamable) is expected to be set;
// which HTTP sub-mode applies is derived the same way the original does:
// an explicit StreamableHTTP flag wins, else a trailing "/sse" selects SSE,
// else plain HTTP.
type BackendConfig struct {
	Description string `yaml:"description"`
	Enabled     bool   `yaml:"enabled"`

	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
	Cwd     string   `yaml:"cwd"`

	HTTPURL        string `yaml:"http_url"`
	StreamableHTTP bool   `yaml:"streamable_http"`

	IdleTimeout Duration          `yaml:"idle_timeout"`
	Timeout     Duration          `yaml:"timeout"`
	Env         map[string]string `yaml:"env"`
	Headers     map[string]string `yaml:"headers"`
}

func defaultBackendConfig() BackendConfig {
	return BackendConfig{
		Enabled:     true,
		IdleTimeout: Duration(5 * time.Minute),
		Timeout:     Duration(30 * time.Second),
	}
}

// UnmarshalYAML decodes over defaultBackendConfig, so a backend whose YAML
// omits `enabled` stays enabled.
func (b *BackendConfig) UnmarshalYAML(value *yaml.Node) error {
	type plain BackendConfig
	p := plain(defaultBackendConfig())
	if err := value.Decode(&p); err != nil {
		return err
	}
	*b = BackendConfig(p)
	return nil
}

// TransportKind classifies which transport this backend uses, mirroring
// original_source/src/config.rs's TransportConfig::transport_type.
func (b BackendConfig) TransportKind() TransportKind {
	if b.Command != "" {
		return TransportStdio
	}
	if b.StreamableHTTP {
		return TransportStreamable
	}
	if strings.HasSuffix(b.HTTPURL, "/sse") {
		return TransportSSE
	}
	return TransportHTTP
}

// Load reads path (if non-empty) as YAML, applies field-level defaults,
// overlays MCP_GATEWAY_-prefixed environment variables, then expands
// ${VAR} references in every backend's headers.
func Load(path string) (*Config, error) {
	cfg := &Config{
		Server:   defaultServerConfig(),
		MetaMCP:  defaultMetaMCPConfig(),
		Failsafe: defaultFailsafeConfig(),
		Backends: map[string]BackendConfig{},
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, gwerr.Wrap(gwerr.KindConfig, fmt.Sprintf("read config file %q", path), err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, gwerr.Wrap(gwerr.KindConfig, fmt.Sprintf("parse config file %q", path), err)
		}
	}

	for name, b := range cfg.Backends {
		if b.Env == nil {
			b.Env = map[string]string{}
		}
		if b.Headers == nil {
			b.Headers = map[string]string{}
		}
		if b.IdleTimeout == 0 {
			b.IdleTimeout = defaultBackendConfig().IdleTimeout
		}
		if b.Timeout == 0 {
			b.Timeout = defaultBackendConfig().Timeout
		}
		cfg.Backends[name] = b
	}

	applyEnvOverrides(cfg)
	expandHeaderEnvVars(cfg)

	return cfg, nil
}

// EnabledBackends returns only the backends not explicitly disabled,
// mirroring Config::enabled_backends.
func (c *Config) EnabledBackends() map[string]BackendConfig {
	out := make(map[string]BackendConfig, len(c.Backends))
	for name, b := range c.Backends {
		if b.Enabled {
			out[name] = b
		}
	}
	return out
}

// applyEnvOverrides walks the small set of top-level scalar settings that
// are reasonable to override per-deployment without a file edit. Unlike
// figment's fully-generic struct-tag merge, this is a fixed, explicit list
// — acceptable because the env overlay only ever needs to reach these
// operational knobs, not arbitrary backend definitions.
func applyEnvOverrides(cfg *Config) {
	if v, ok := lookupEnv("SERVER__HOST"); ok {
		cfg.Server.Host = v
	}
	if v, ok := lookupEnvInt("SERVER__PORT"); ok {
		cfg.Server.Port = v
	}
	if v, ok := lookupEnvDuration("SERVER__REQUEST_TIMEOUT"); ok {
		cfg.Server.RequestTimeout = v
	}
	if v, ok := lookupEnvDuration("SERVER__SHUTDOWN_TIMEOUT"); ok {
		cfg.Server.ShutdownTimeout = v
	}
	if v, ok := lookupEnvBool("META_MCP__ENABLED"); ok {
		cfg.MetaMCP.Enabled = v
	}
	if v, ok := lookupEnvDuration("META_MCP__CACHE_TTL"); ok {
		cfg.MetaMCP.CacheTTL = v
	}
	if v, ok := lookupEnvBool("FAILSAFE__CIRCUIT_BREAKER__ENABLED"); ok {
		cfg.Failsafe.CircuitBreaker.Enabled = v
	}
	if v, ok := lookupEnvBool("FAILSAFE__RETRY__ENABLED"); ok {
		cfg.Failsafe.Retry.Enabled = v
	}
	if v, ok := lookupEnvBool("FAILSAFE__RATE_LIMIT__ENABLED"); ok {
		cfg.Failsafe.RateLimit.Enabled = v
	}
}

func lookupEnv(key string) (string, bool) {
	return os.LookupEnv(envPrefix + key)
}

func lookupEnvInt(key string) (int, bool) {
	v, ok := lookupEnv(key)
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func lookupEnvBool(key string) (bool, bool) {
	v, ok := lookupEnv(key)
	if !ok {
		return false, false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, false
	}
	return b, true
}

func lookupEnvDuration(key string) (Duration, bool) {
	v, ok := lookupEnv(key)
	if !ok {
		return 0, false
	}
	d, err := ParseDuration(v)
	if err != nil {
		return 0, false
	}
	return Duration(d), true
}

// ParseDuration accepts the original's humantime-lite suffixes ("30s",
// "5m", "100ms") plus a bare integer, interpreted as seconds.
func ParseDuration(s string) (time.Duration, error) {
	switch {
	case strings.HasSuffix(s, "ms"):
		n, err := strconv.ParseInt(strings.TrimSuffix(s, "ms"), 10, 64)
		if err != nil {
			return 0, err
		}
		return time.Duration(n) * time.Millisecond, nil
	case strings.HasSuffix(s, "s"):
		n, err := strconv.ParseInt(strings.TrimSuffix(s, "s"), 10, 64)
		if err != nil {
			return 0, err
		}
		return time.Duration(n) * time.Second, nil
	case strings.HasSuffix(s, "m"):
		n, err := strconv.ParseInt(strings.TrimSuffix(s, "m"), 10, 64)
		if err != nil {
			return 0, err
		}
		return time.Duration(n) * time.Minute, nil
	default:
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return 0, err
		}
		return time.Duration(n) * time.Second, nil
	}
}

// Duration wraps time.Duration so YAML can carry humantime-lite strings
// ("30s", "5m", "100ms") or a bare integer number of seconds, the way
// original_source/src/config.rs's humantime_serde module does.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		parsed, err := ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}

	var n int64
	if err := value.Decode(&n); err != nil {
		return fmt.Errorf("duration must be a string or integer seconds: %w", err)
	}
	*d = Duration(time.Duration(n) * time.Second)
	return nil
}

var envVarPattern = regexp.MustCompile(`\$\{([A-Z_][A-Z0-9_]*)\}`)

// expandHeaderEnvVars substitutes ${VAR} references in every backend's
// headers with the current process environment, leaving unset variables
// as empty strings — matching Config::expand_env_vars.
func expandHeaderEnvVars(cfg *Config) {
	for name, b := range cfg.Backends {
		for k, v := range b.Headers {
			b.Headers[k] = envVarPattern.ReplaceAllStringFunc(v, func(match string) string {
				varName := envVarPattern.FindStringSubmatch(match)[1]
				return os.Getenv(varName)
			})
		}
		cfg.Backends[name] = b
	}
}


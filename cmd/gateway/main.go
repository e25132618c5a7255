// Command gateway runs the Meta-MCP multiplexer: it loads its backend and
// capability definitions, then serves the meta-tool surface over HTTP
// until interrupted.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/giantswarm/mcp-gateway/internal/backend"
	"github.com/giantswarm/mcp-gateway/internal/cache"
	"github.com/giantswarm/mcp-gateway/internal/capability"
	"github.com/giantswarm/mcp-gateway/internal/config"
	"github.com/giantswarm/mcp-gateway/internal/failsafe"
	"github.com/giantswarm/mcp-gateway/internal/gateway"
	"github.com/giantswarm/mcp-gateway/internal/metamcp"
	"github.com/giantswarm/mcp-gateway/internal/secrets"
	"github.com/giantswarm/mcp-gateway/internal/stats"
	"github.com/giantswarm/mcp-gateway/internal/transport"
	"github.com/giantswarm/mcp-gateway/pkg/logging"
)

var version = "dev"

var (
	configPath    string
	capabilityDir string
	logLevelFlag  string
	logFormatFlag string
)

var rootCmd = &cobra.Command{
	Use:     "mcp-gateway",
	Short:   "Universal MCP gateway: a single meta-tool surface in front of many backends",
	Version: version,
	RunE:    runServe,
}

func init() {
	rootCmd.Flags().StringVar(&configPath, "config", "", "path to gateway.yaml (defaults omitted fields)")
	rootCmd.Flags().StringVar(&capabilityDir, "capabilities", "capabilities", "directory of capability YAML definitions")
	rootCmd.Flags().StringVar(&logLevelFlag, "log-level", "info", "debug, info, warn, or error")
	rootCmd.Flags().StringVar(&logFormatFlag, "log-format", "text", "text or json")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	logging.Init(parseLogLevel(logLevelFlag), logFormatFlag, os.Stderr)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	capRegistry, err := capability.NewRegistry(capabilityDir)
	if err != nil {
		return fmt.Errorf("load capabilities from %q: %w", capabilityDir, err)
	}

	backendRegistry := buildBackendRegistry(cfg)

	executor := capability.NewExecutor(secrets.NewResolver(nil), cache.New())
	handler := metamcp.NewHandler(backendRegistry, capRegistry, executor, stats.New())

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	if cfg.MetaMCP.Enabled && len(cfg.MetaMCP.WarmStart) > 0 {
		logging.Info("gateway", "warm-starting %d backend(s)", len(cfg.MetaMCP.WarmStart))
		backendRegistry.WarmStart(ctx, cfg.MetaMCP.WarmStart)
	}

	srv := gateway.New(gateway.Config{
		Addr:            cfg.Server.Addr(),
		RequestTimeout:  durationOf(cfg.Server.RequestTimeout),
		ShutdownTimeout: durationOf(cfg.Server.ShutdownTimeout),
	}, handler, backendRegistry)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logging.Info("gateway", "signal received, shutting down")
		cancel()
	}()

	return srv.Run(runCtx)
}

// buildBackendRegistry translates every enabled backend in cfg into a
// registered backend.Backend, selecting stdio vs. HTTP transport config
// from the backend's declared TransportKind.
func buildBackendRegistry(cfg *config.Config) *backend.Registry {
	registry := backend.NewRegistry()

	for name, b := range cfg.EnabledBackends() {
		bcfg := backend.Config{
			Name:         name,
			ToolCacheTTL: durationOf(cfg.MetaMCP.CacheTTL),
			IdleTimeout:  durationOf(b.IdleTimeout),
			CircuitBreaker: failsafe.CircuitBreakerConfig{
				Enabled:          cfg.Failsafe.CircuitBreaker.Enabled,
				FailureThreshold: cfg.Failsafe.CircuitBreaker.FailureThreshold,
				SuccessThreshold: cfg.Failsafe.CircuitBreaker.SuccessThreshold,
				ResetTimeout:     durationOf(cfg.Failsafe.CircuitBreaker.ResetTimeout),
			},
			Retry: failsafe.RetryConfig{
				Enabled:        cfg.Failsafe.Retry.Enabled,
				MaxAttempts:    cfg.Failsafe.Retry.MaxAttempts,
				InitialBackoff: durationOf(cfg.Failsafe.Retry.InitialBackoff),
				MaxBackoff:     durationOf(cfg.Failsafe.Retry.MaxBackoff),
				Multiplier:     cfg.Failsafe.Retry.Multiplier,
			},
			RateLimit: failsafe.RateLimitConfig{
				Enabled:           cfg.Failsafe.RateLimit.Enabled,
				RequestsPerSecond: cfg.Failsafe.RateLimit.RequestsPerSecond,
				BurstSize:         cfg.Failsafe.RateLimit.BurstSize,
			},
		}

		switch b.TransportKind() {
		case config.TransportStdio:
			bcfg.Stdio = &transport.StdioConfig{
				Command: b.Command,
				Args:    b.Args,
				Env:     envSlice(b.Env),
				Dir:     b.Cwd,
			}
		case config.TransportSSE:
			bcfg.HTTP = &transport.HTTPConfig{
				URL: b.HTTPURL, Mode: transport.ModeSSE,
				Headers: b.Headers, Timeout: durationOf(b.Timeout),
			}
		case config.TransportStreamable:
			bcfg.HTTP = &transport.HTTPConfig{
				URL: b.HTTPURL, Mode: transport.ModeStreamable,
				Headers: b.Headers, Timeout: durationOf(b.Timeout),
			}
		default:
			bcfg.HTTP = &transport.HTTPConfig{
				URL: b.HTTPURL, Mode: transport.ModeStreamable,
				Headers: b.Headers, Timeout: durationOf(b.Timeout),
			}
		}

		registry.Register(bcfg)
	}

	return registry
}

func envSlice(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}

func durationOf(d config.Duration) time.Duration { return time.Duration(d) }

func parseLogLevel(s string) logging.LogLevel {
	switch s {
	case "debug":
		return logging.LevelDebug
	case "warn":
		return logging.LevelWarn
	case "error":
		return logging.LevelError
	default:
		return logging.LevelInfo
	}
}

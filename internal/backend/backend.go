// Package backend implements the per-upstream facade that composes a
// transport with the protection primitives (circuit breaker, retry, rate
// limiter, health meter) and a tool-list cache.
package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/giantswarm/mcp-gateway/internal/failsafe"
	"github.com/giantswarm/mcp-gateway/internal/gwerr"
	"github.com/giantswarm/mcp-gateway/internal/metrics"
	"github.com/giantswarm/mcp-gateway/internal/transport"
	"github.com/giantswarm/mcp-gateway/pkg/logging"
)

// maxConcurrentRequests bounds the number of in-flight requests per
// backend, per spec.md §3's "concurrency_permits (bounded semaphore; fixed
// cap e.g. 100)".
const maxConcurrentRequests = 100

// Config is a backend's immutable-after-registration connection
// descriptor.
type Config struct {
	Name string

	// Exactly one of Stdio/HTTP is populated, selecting the transport.
	Stdio *transport.StdioConfig
	HTTP  *transport.HTTPConfig

	ToolCacheTTL time.Duration
	IdleTimeout  time.Duration

	// Zero-value fields fall back to the failsafe package's defaults, so
	// a Config built without these populated (e.g. in tests) behaves as
	// before this field set existed.
	CircuitBreaker failsafe.CircuitBreakerConfig
	Retry          failsafe.RetryConfig
	RateLimit      failsafe.RateLimitConfig
}

func (c Config) circuitBreakerOrDefault() failsafe.CircuitBreakerConfig {
	if c.CircuitBreaker == (failsafe.CircuitBreakerConfig{}) {
		return failsafe.DefaultCircuitBreakerConfig()
	}
	return c.CircuitBreaker
}

func (c Config) retryOrDefault() failsafe.RetryConfig {
	if c.Retry == (failsafe.RetryConfig{}) {
		return failsafe.DefaultRetryConfig()
	}
	return c.Retry
}

func (c Config) rateLimitOrDefault() failsafe.RateLimitConfig {
	if c.RateLimit == (failsafe.RateLimitConfig{}) {
		return failsafe.DefaultRateLimitConfig()
	}
	return c.RateLimit
}

// Tool is the minimal MCP wire shape this package caches; internal/metamcp
// owns the richer mcp-go type and converts at the boundary.
type Tool struct {
	Name        string
	Description string
	InputSchema map[string]any
}

type toolCacheEntry struct {
	fetchedAt time.Time
	tools     []Tool
}

// Backend is a single upstream MCP server: a transport plus the protection
// primitives and tool-list cache layered around it.
type Backend struct {
	cfg Config

	breaker *failsafe.CircuitBreaker
	retrier *failsafe.Retrier
	limiter *failsafe.RateLimiter
	health  *failsafe.HealthTracker

	permits *semaphore.Weighted

	mu        sync.Mutex
	tr        transport.Transport
	toolCache *toolCacheEntry

	lastUsed     atomic.Int64 // unix nanos
	requestCount atomic.Uint64
}

func New(cfg Config) *Backend {
	return &Backend{
		cfg:     cfg,
		breaker: failsafe.NewCircuitBreaker(cfg.Name, cfg.circuitBreakerOrDefault()),
		retrier: failsafe.NewRetrier(cfg.Name, cfg.retryOrDefault()),
		limiter: failsafe.NewRateLimiter(cfg.rateLimitOrDefault()),
		health:  failsafe.NewHealthTracker(cfg.Name),
		permits: semaphore.NewWeighted(maxConcurrentRequests),
	}
}

func (b *Backend) Name() string { return b.cfg.Name }

// LastUsed reports when EnsureStarted was last invoked on this backend,
// used by idle-timeout reaping.
func (b *Backend) LastUsed() time.Time {
	return time.Unix(0, b.lastUsed.Load())
}

// IsConnected reports whether a transport exists and it reports itself
// connected — spec.md §3's `is_connected ⇔ transport_slot present ∧ that
// transport reports connected` invariant.
func (b *Backend) IsConnected() bool {
	b.mu.Lock()
	tr := b.tr
	b.mu.Unlock()
	return tr != nil && tr.IsConnected()
}

// EnsureStarted is idempotent: concurrent callers may race on the
// "is a transport present?" check, but construction and Initialize happen
// under the backend's lock, so the transport is created exactly once.
func (b *Backend) EnsureStarted(ctx context.Context) error {
	b.lastUsed.Store(time.Now().UnixNano())

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.tr != nil && b.tr.IsConnected() {
		return nil
	}

	tr, err := b.buildTransport()
	if err != nil {
		return err
	}
	if err := tr.Initialize(ctx); err != nil {
		return err
	}

	b.tr = tr
	return nil
}

func (b *Backend) buildTransport() (transport.Transport, error) {
	switch {
	case b.cfg.Stdio != nil:
		return transport.NewStdioTransport(*b.cfg.Stdio), nil
	case b.cfg.HTTP != nil:
		return transport.NewHTTPTransport(*b.cfg.HTTP), nil
	default:
		return nil, gwerr.New(gwerr.KindConfig, fmt.Sprintf("backend %q has no transport configured", b.cfg.Name))
	}
}

// GetTools returns the backend's tool list, serving from cache when fresh
// (age < ToolCacheTTL) and otherwise calling tools/list via requestInternal
// — which bypasses the breaker because EnsureStarted has already run by
// the time GetTools is reachable, per spec.md §9 Open Question 1.
func (b *Backend) GetTools(ctx context.Context) ([]Tool, error) {
	b.mu.Lock()
	cached := b.toolCache
	b.mu.Unlock()

	if cached != nil && time.Since(cached.fetchedAt) < b.cfg.ToolCacheTTL {
		out := make([]Tool, len(cached.tools))
		copy(out, cached.tools)
		return out, nil
	}

	if err := b.EnsureStarted(ctx); err != nil {
		return nil, err
	}

	resp, err := b.requestInternal(ctx, "tools/list", nil)
	if err != nil {
		return nil, err
	}

	tools, err := decodeToolsListResult(resp)
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	b.toolCache = &toolCacheEntry{fetchedAt: time.Now(), tools: tools}
	b.mu.Unlock()

	out := make([]Tool, len(tools))
	copy(out, tools)
	return out, nil
}

// requestInternal calls the transport directly, bypassing the breaker
// check and EnsureStarted — safe only when the caller has already ensured
// the transport is started (GetTools, during backend warm-up).
func (b *Backend) requestInternal(ctx context.Context, method string, params any) (*transport.JSONRPCResponse, error) {
	b.mu.Lock()
	tr := b.tr
	b.mu.Unlock()
	if tr == nil {
		return nil, gwerr.New(gwerr.KindUnavailable, fmt.Sprintf("backend %q has no active transport", b.cfg.Name))
	}
	return tr.Request(ctx, method, params)
}

// Notify forwards a fire-and-forget notification to the backend's
// transport. Like transport.Notify, failures are logged, never returned.
func (b *Backend) Notify(ctx context.Context, method string, params any) {
	if err := b.EnsureStarted(ctx); err != nil {
		logging.Warn("backend", "notify %q to %q: backend not started: %v", method, b.cfg.Name, err)
		return
	}
	b.mu.Lock()
	tr := b.tr
	b.mu.Unlock()
	if tr == nil {
		return
	}
	tr.Notify(ctx, method, params)
}

// Request is the full protected path: breaker fast-fail, concurrency
// permit, EnsureStarted, retry-wrapped transport call, then record
// success/failure on both the breaker and the health meter.
func (b *Backend) Request(ctx context.Context, method string, params any) (*transport.JSONRPCResponse, error) {
	if !b.breaker.CanProceed() {
		metrics.RecordBackendRejected(b.cfg.Name)
		return nil, b.breaker.UnavailableError()
	}

	if err := b.permits.Acquire(ctx, 1); err != nil {
		metrics.RecordBackendRejected(b.cfg.Name)
		return nil, gwerr.Wrap(gwerr.KindUnavailable, fmt.Sprintf("backend %q concurrency limit", b.cfg.Name), err)
	}
	defer b.permits.Release(1)

	if !b.limiter.TryAcquire() {
		metrics.RecordBackendRejected(b.cfg.Name)
		return nil, gwerr.New(gwerr.KindUnavailable, fmt.Sprintf("backend %q rate limit exceeded", b.cfg.Name))
	}

	if err := b.EnsureStarted(ctx); err != nil {
		b.recordFailure()
		return nil, err
	}

	start := time.Now()
	result, err := b.retrier.Do(ctx, func(ctx context.Context) (any, error) {
		return b.requestInternal(ctx, method, params)
	})
	latency := time.Since(start)

	b.requestCount.Add(1)
	if err != nil {
		b.recordFailure()
		return nil, err
	}

	b.breaker.RecordSuccess()
	b.health.RecordSuccess(latency)
	metrics.RecordBackendSuccess(b.cfg.Name, latency.Seconds())
	metrics.SetBackendHealth(b.cfg.Name, b.health.Healthy(), b.breaker.State().String() == "Open")

	resp, ok := result.(*transport.JSONRPCResponse)
	if !ok {
		return nil, gwerr.New(gwerr.KindProtocol, "transport returned an unexpected response type")
	}
	return resp, nil
}

func (b *Backend) recordFailure() {
	b.breaker.RecordFailure()
	b.health.RecordFailure()
	metrics.RecordBackendFailure(b.cfg.Name)
	metrics.SetBackendHealth(b.cfg.Name, b.health.Healthy(), b.breaker.State().String() == "Open")
}

// Status summarizes the backend's health for `list_backends` and /health.
type Status struct {
	Name         string
	Connected    bool
	BreakerState string
	Healthy      bool
	RequestCount uint64
}

func (b *Backend) Status() Status {
	return Status{
		Name:         b.cfg.Name,
		Connected:    b.IsConnected(),
		BreakerState: b.breaker.State().String(),
		Healthy:      b.health.Healthy(),
		RequestCount: b.requestCount.Load(),
	}
}

// toolsListResult is the wire shape of an MCP tools/list result.
type toolsListResult struct {
	Tools []struct {
		Name        string         `json:"name"`
		Description string         `json:"description"`
		InputSchema map[string]any `json:"inputSchema"`
	} `json:"tools"`
}

func decodeToolsListResult(resp *transport.JSONRPCResponse) ([]Tool, error) {
	if resp.Error != nil {
		return nil, gwerr.New(gwerr.KindProtocol, fmt.Sprintf("tools/list failed: %s", resp.Error.Message))
	}

	var parsed toolsListResult
	if err := json.Unmarshal(resp.Result, &parsed); err != nil {
		return nil, gwerr.Wrap(gwerr.KindProtocol, "parse tools/list result", err)
	}

	tools := make([]Tool, len(parsed.Tools))
	for i, t := range parsed.Tools {
		tools[i] = Tool{Name: t.Name, Description: t.Description, InputSchema: t.InputSchema}
	}
	return tools, nil
}

// Stop tears down the transport, if any, and clears the transport slot so
// the next EnsureStarted constructs a fresh one.
func (b *Backend) Stop() error {
	b.mu.Lock()
	tr := b.tr
	b.tr = nil
	b.toolCache = nil
	b.mu.Unlock()

	if tr == nil {
		return nil
	}
	logging.Info("backend", "stopping backend %q", b.cfg.Name)
	return tr.Close()
}

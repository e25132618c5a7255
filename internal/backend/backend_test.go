package backend

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giantswarm/mcp-gateway/internal/gwerr"
	"github.com/giantswarm/mcp-gateway/internal/transport"
)

// fakeTransport is a minimal transport.Transport double for exercising the
// Backend facade without a real subprocess or HTTP server.
type fakeTransport struct {
	initCalls    atomic.Int64
	requestCalls atomic.Int64
	connected    atomic.Bool

	failNextN int
	toolsJSON string
}

func (f *fakeTransport) Initialize(ctx context.Context) error {
	f.initCalls.Add(1)
	f.connected.Store(true)
	return nil
}

func (f *fakeTransport) Request(ctx context.Context, method string, params any) (*transport.JSONRPCResponse, error) {
	f.requestCalls.Add(1)
	if f.failNextN > 0 {
		f.failNextN--
		return nil, gwerr.New(gwerr.KindTransport, "simulated failure")
	}
	if method == "tools/list" {
		return &transport.JSONRPCResponse{Result: json.RawMessage(f.toolsJSON)}, nil
	}
	return &transport.JSONRPCResponse{Result: json.RawMessage(`{}`)}, nil
}

func (f *fakeTransport) Notify(ctx context.Context, method string, params any) {}

func (f *fakeTransport) IsConnected() bool { return f.connected.Load() }

func (f *fakeTransport) Close() error {
	f.connected.Store(false)
	return nil
}

// newTestBackend builds a Backend wired to the given fake transport by
// bypassing buildTransport: it constructs via New then injects the fake
// directly, mirroring what EnsureStarted would otherwise do.
func newTestBackend(t *testing.T, fake *fakeTransport) *Backend {
	t.Helper()
	b := New(Config{Name: "test-backend", ToolCacheTTL: time.Minute})
	b.tr = fake
	return b
}

func TestBackend_EnsureStartedIsIdempotent(t *testing.T) {
	fake := &fakeTransport{}
	fake.connected.Store(true)
	b := newTestBackend(t, fake)

	require.NoError(t, b.EnsureStarted(context.Background()))
	require.NoError(t, b.EnsureStarted(context.Background()))
	assert.Equal(t, int64(0), fake.initCalls.Load(), "already-connected transport should not be re-initialized")
}

func TestBackend_GetToolsCachesUntilTTLExpires(t *testing.T) {
	fake := &fakeTransport{toolsJSON: `{"tools":[{"name":"t1","description":"d"}]}`}
	fake.connected.Store(true)
	b := newTestBackend(t, fake)
	b.cfg.ToolCacheTTL = 50 * time.Millisecond

	tools, err := b.GetTools(context.Background())
	require.NoError(t, err)
	assert.Len(t, tools, 1)
	assert.Equal(t, int64(1), fake.requestCalls.Load())

	tools, err = b.GetTools(context.Background())
	require.NoError(t, err)
	assert.Len(t, tools, 1)
	assert.Equal(t, int64(1), fake.requestCalls.Load(), "second call within TTL should hit cache")

	time.Sleep(60 * time.Millisecond)
	_, err = b.GetTools(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), fake.requestCalls.Load(), "call after TTL should refetch")
}

func TestBackend_RequestRecordsSuccessAndFailure(t *testing.T) {
	fake := &fakeTransport{}
	fake.connected.Store(true)
	b := newTestBackend(t, fake)

	_, err := b.Request(context.Background(), "ping", nil)
	require.NoError(t, err)
	assert.True(t, b.health.Healthy())

	fake.failNextN = 1000 // comfortably outlasts every retry attempt below
	for i := 0; i < 6; i++ {
		_, _ = b.Request(context.Background(), "ping", nil)
	}
	assert.False(t, b.health.Healthy())
}

func TestBackend_BreakerOpenFailsFastWithoutCallingTransport(t *testing.T) {
	fake := &fakeTransport{}
	fake.connected.Store(true)
	b := newTestBackend(t, fake)

	fake.failNextN = 1000
	for i := 0; i < 10; i++ {
		_, _ = b.Request(context.Background(), "ping", nil)
	}

	callsBeforeOpenCheck := fake.requestCalls.Load()
	_, err := b.Request(context.Background(), "ping", nil)
	require.Error(t, err)
	assert.Equal(t, callsBeforeOpenCheck, fake.requestCalls.Load(), "breaker-open request should not reach the transport")
}

func TestBackend_StatusReflectsConnectionAndBreakerState(t *testing.T) {
	fake := &fakeTransport{}
	fake.connected.Store(true)
	b := newTestBackend(t, fake)

	status := b.Status()
	assert.Equal(t, "test-backend", status.Name)
	assert.True(t, status.Connected)
	assert.Equal(t, "Closed", status.BreakerState)
}

func TestBackend_StopClearsTransportAndToolCache(t *testing.T) {
	fake := &fakeTransport{toolsJSON: `{"tools":[]}`}
	fake.connected.Store(true)
	b := newTestBackend(t, fake)

	_, err := b.GetTools(context.Background())
	require.NoError(t, err)

	require.NoError(t, b.Stop())
	assert.False(t, b.IsConnected())
	assert.Nil(t, b.toolCache)
}

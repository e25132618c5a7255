package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giantswarm/mcp-gateway/internal/backend"
	"github.com/giantswarm/mcp-gateway/internal/cache"
	"github.com/giantswarm/mcp-gateway/internal/capability"
	"github.com/giantswarm/mcp-gateway/internal/metamcp"
	"github.com/giantswarm/mcp-gateway/internal/secrets"
	"github.com/giantswarm/mcp-gateway/internal/stats"
	"github.com/giantswarm/mcp-gateway/internal/transport"
)

func newTestServer(t *testing.T) (*Server, *backend.Registry) {
	t.Helper()
	capRegistry, err := capability.NewRegistry(t.TempDir())
	require.NoError(t, err)

	backendRegistry := backend.NewRegistry()
	executor := capability.NewExecutor(secrets.NewResolver(nil), cache.New())
	handler := metamcp.NewHandler(backendRegistry, capRegistry, executor, stats.New())

	s := New(Config{Addr: "127.0.0.1:0"}, handler, backendRegistry)
	return s, backendRegistry
}

func TestHandleMCP_ValidRequestReturns200(t *testing.T) {
	s, _ := newTestServer(t)

	body, _ := json.Marshal(map[string]any{"jsonrpc": "2.0", "id": 1, "method": "tools/list"})
	req := httptest.NewRequest(http.MethodPost, "/mcp", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	s.handleMCP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp transport.JSONRPCResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Nil(t, resp.Error)
}

func TestHandleMCP_NotificationReturns202WithEmptyBody(t *testing.T) {
	s, _ := newTestServer(t)

	body, _ := json.Marshal(map[string]any{"jsonrpc": "2.0", "method": "notifications/initialized"})
	req := httptest.NewRequest(http.MethodPost, "/mcp", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	s.handleMCP(rec, req)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.JSONEq(t, "{}", rec.Body.String())
}

func TestHandleMCP_MalformedEnvelopeReturnsErrorWithNullID(t *testing.T) {
	s, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/mcp", bytes.NewReader([]byte("not json")))
	rec := httptest.NewRecorder()

	s.handleMCP(rec, req)

	var resp transport.JSONRPCResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Nil(t, resp.ID)
	require.NotNil(t, resp.Error)
	assert.Equal(t, -32700, resp.Error.Code)
}

func TestHandleBackendPassthrough_UnknownBackendReturnsNotFoundError(t *testing.T) {
	s, _ := newTestServer(t)

	body, _ := json.Marshal(map[string]any{"jsonrpc": "2.0", "id": 1, "method": "tools/list"})
	req := httptest.NewRequest(http.MethodPost, "/mcp/does-not-exist", bytes.NewReader(body))
	req.SetPathValue("backend", "does-not-exist")
	rec := httptest.NewRecorder()

	s.handleBackendPassthrough(rec, req)

	var resp transport.JSONRPCResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, -32001, resp.Error.Code)
}

func TestHandleHealth_AllClosedBreakersReturns200(t *testing.T) {
	s, backendRegistry := newTestServer(t)
	backendRegistry.Register(backend.Config{Name: "svc-a"})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()

	s.handleHealth(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var report healthReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, "ok", report.Status)
	require.Len(t, report.Backends, 1)
}

func TestRun_ShutsDownOnContextCancel(t *testing.T) {
	s, _ := newTestServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}

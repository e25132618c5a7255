package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNegotiateVersion_PicksHighestCommonVersion(t *testing.T) {
	msg := "Unsupported protocol version (supported versions: 2024-11-05, 2024-10-07)"
	v, ok := negotiateVersion(msg, "2025-11-25")
	require.True(t, ok)
	assert.Equal(t, "2024-11-05", v)
}

func TestNegotiateVersion_NoMatchReturnsFalse(t *testing.T) {
	_, ok := negotiateVersion("some other failure entirely", "2025-11-25")
	assert.False(t, ok)
}

func TestHTTPTransport_StreamableModeRoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req JSONRPCRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if req.Method == "initialize" {
			assert.Equal(t, PreferredProtocolVersion(), r.Header.Get("MCP-Protocol-Version"))
		}

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Mcp-Session-Id", "sess-abc")
		resp := JSONRPCResponse{JSONRPC: "2.0", ID: req.ID, Result: json.RawMessage(`{"ok":true}`)}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	defer srv.Close()

	tr := NewHTTPTransport(HTTPConfig{URL: srv.URL, Mode: ModeStreamable})
	err := tr.Initialize(context.Background())
	require.NoError(t, err)
	assert.True(t, tr.IsConnected())

	tr.mu.RLock()
	sessionID := tr.sessionID
	tr.mu.RUnlock()
	assert.Equal(t, "sess-abc", sessionID)
}

func TestHTTPTransport_VersionNegotiationRetriesOnce(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		var req JSONRPCRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		w.Header().Set("Content-Type", "application/json")
		if calls == 1 {
			resp := JSONRPCResponse{JSONRPC: "2.0", ID: req.ID, Error: &JSONRPCError{
				Code:    -32600,
				Message: "Unsupported protocol version (supported versions: 2024-11-05, 2024-10-07)",
			}}
			require.NoError(t, json.NewEncoder(w).Encode(resp))
			return
		}
		resp := JSONRPCResponse{JSONRPC: "2.0", ID: req.ID, Result: json.RawMessage(`{}`)}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	defer srv.Close()

	tr := NewHTTPTransport(HTTPConfig{URL: srv.URL, Mode: ModeStreamable})
	err := tr.Initialize(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "2024-11-05", tr.currentProtocolVersion())
	assert.Equal(t, 3, calls) // initialize, retried initialize, initialized notification
}

func TestHTTPTransport_SSEHandshakeResolvesRelativeEndpoint(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/sse", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "event: endpoint\ndata: /message?session_id=xyz\n\n")
	})
	mux.HandleFunc("/message", func(w http.ResponseWriter, r *http.Request) {
		var req JSONRPCRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		w.Header().Set("Content-Type", "application/json")
		resp := JSONRPCResponse{JSONRPC: "2.0", ID: req.ID, Result: json.RawMessage(`{}`)}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	tr := NewHTTPTransport(HTTPConfig{URL: srv.URL + "/sse", Mode: ModeSSE})
	err := tr.Initialize(context.Background())
	require.NoError(t, err)

	tr.mu.RLock()
	endpoint, sessionID := tr.messageEndpoint, tr.sessionID
	tr.mu.RUnlock()
	assert.True(t, strings.HasSuffix(endpoint, "/message?session_id=xyz"))
	assert.Equal(t, "xyz", sessionID)
}

func TestHTTPTransport_SSEResponseParsing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req JSONRPCRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		w.Header().Set("Content-Type", "text/event-stream")
		resp := JSONRPCResponse{JSONRPC: "2.0", ID: req.ID, Result: json.RawMessage(`{"tools":[]}`)}
		raw, _ := json.Marshal(resp)
		fmt.Fprintf(w, "data: %s\n\n", raw)
	}))
	defer srv.Close()

	tr := NewHTTPTransport(HTTPConfig{URL: srv.URL, Mode: ModeStreamable})
	resp, err := tr.Request(context.Background(), "tools/list", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"tools":[]}`, string(resp.Result))
}

func TestHTTPTransport_NonSuccessStatusIsTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	tr := NewHTTPTransport(HTTPConfig{URL: srv.URL, Mode: ModeStreamable})
	_, err := tr.Request(context.Background(), "tools/list", nil)
	assert.Error(t, err)
}

func TestHTTPTransport_BearerTokenHeaderSent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		var req JSONRPCRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		resp := JSONRPCResponse{JSONRPC: "2.0", ID: req.ID, Result: json.RawMessage(`{}`)}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	defer srv.Close()

	tr := NewHTTPTransport(HTTPConfig{URL: srv.URL, Mode: ModeStreamable, BearerToken: "tok-1"})
	_, err := tr.Request(context.Background(), "tools/list", nil)
	require.NoError(t, err)
}

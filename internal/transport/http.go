package transport

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/giantswarm/mcp-gateway/internal/gwerr"
	"github.com/giantswarm/mcp-gateway/pkg/logging"
)

// HTTPMode selects between the two HTTP sub-modes described in spec.md
// §4.3.2.
type HTTPMode string

const (
	ModeStreamable HTTPMode = "streamable"
	ModeSSE        HTTPMode = "sse"
)

// HTTPConfig describes an HTTP(S) backend connection. BearerToken, if
// non-empty, is injected as `Authorization: Bearer <token>` on every
// request — credential resolution itself happens upstream of this
// package, in internal/secrets, keeping the transport credential-agnostic.
type HTTPConfig struct {
	URL         string
	Mode        HTTPMode
	Headers     map[string]string
	BearerToken string
	Timeout     time.Duration
}

var supportedVersionsRE = regexp.MustCompile(`(?i)supported versions:\s*([0-9a-z,\s.-]+)`)

// HTTPTransport speaks MCP JSON-RPC over HTTP, in either Streamable mode
// (direct POST) or SSE-handshake mode (GET for an `event: endpoint`
// message-endpoint URL, then POST).
type HTTPTransport struct {
	cfg    HTTPConfig
	client *http.Client

	nextID atomic.Int64

	mu              sync.RWMutex
	messageEndpoint string
	protocolVersion string
	sessionID       string
	connected       bool
}

func NewHTTPTransport(cfg HTTPConfig) *HTTPTransport {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &HTTPTransport{
		cfg:             cfg,
		client:          &http.Client{Timeout: timeout},
		protocolVersion: PreferredProtocolVersion(),
	}
}

// Initialize resolves the message endpoint (immediately, for Streamable
// mode; via the SSE handshake otherwise), then performs the MCP initialize
// handshake with version-mismatch retry.
func (t *HTTPTransport) Initialize(ctx context.Context) error {
	if t.cfg.Mode == ModeSSE {
		if err := t.handshakeSSE(ctx); err != nil {
			return err
		}
	} else {
		t.mu.Lock()
		t.messageEndpoint = t.cfg.URL
		t.mu.Unlock()
	}

	resp, err := t.Request(ctx, "initialize", map[string]any{
		"protocolVersion": t.currentProtocolVersion(),
		"capabilities":    map[string]any{},
		"clientInfo":      map[string]any{"name": "mcp-gateway", "version": "1"},
	})
	if err != nil {
		return err
	}

	if resp.Error != nil {
		negotiated, ok := negotiateVersion(resp.Error.Message, t.currentProtocolVersion())
		if !ok {
			return gwerr.New(gwerr.KindProtocol, fmt.Sprintf("initialize failed: %s", resp.Error.Message))
		}
		t.mu.Lock()
		t.protocolVersion = negotiated
		t.mu.Unlock()

		resp, err = t.Request(ctx, "initialize", map[string]any{
			"protocolVersion": negotiated,
			"capabilities":    map[string]any{},
			"clientInfo":      map[string]any{"name": "mcp-gateway", "version": "1"},
		})
		if err != nil {
			return err
		}
		if resp.Error != nil {
			return gwerr.New(gwerr.KindProtocol, fmt.Sprintf("initialize failed after renegotiation: %s", resp.Error.Message))
		}
	}

	t.mu.Lock()
	t.connected = true
	t.mu.Unlock()

	t.Notify(ctx, "notifications/initialized", nil)
	return nil
}

// negotiateVersion inspects an initialize error message for "unsupported
// protocol version" plus a "supported versions: a, b, c" list, and picks
// the highest version present in both that list and the gateway's ordered
// preference list.
func negotiateVersion(errMessage, attempted string) (string, bool) {
	if !strings.Contains(strings.ToLower(errMessage), "unsupported protocol version") {
		return "", false
	}
	m := supportedVersionsRE.FindStringSubmatch(errMessage)
	if m == nil {
		return "", false
	}
	var serverVersions []string
	for _, v := range strings.Split(m[1], ",") {
		v = strings.TrimSpace(v)
		if v != "" {
			serverVersions = append(serverVersions, v)
		}
	}
	serverSet := make(map[string]bool, len(serverVersions))
	for _, v := range serverVersions {
		serverSet[v] = true
	}
	for _, preferred := range protocolPreference {
		if preferred == attempted {
			continue
		}
		if serverSet[preferred] {
			return preferred, true
		}
	}
	return "", false
}

func (t *HTTPTransport) currentProtocolVersion() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.protocolVersion
}

// handshakeSSE opens an SSE stream on cfg.URL and reads exactly one
// `event: endpoint` / `data: <url>` pair before returning. The payload may
// be absolute or relative (resolved against cfg.URL) and may carry a
// session_id query parameter.
func (t *HTTPTransport) handshakeSSE(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.cfg.URL, nil)
	if err != nil {
		return gwerr.Wrap(gwerr.KindConfig, "build SSE handshake request", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	for k, v := range t.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return gwerr.Wrap(gwerr.KindTransport, "open SSE stream", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return gwerr.New(gwerr.KindTransport, fmt.Sprintf("SSE handshake returned HTTP %d", resp.StatusCode))
	}

	scanner := bufio.NewScanner(resp.Body)
	var sawEndpointEvent bool
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event:"):
			sawEndpointEvent = strings.TrimSpace(strings.TrimPrefix(line, "event:")) == "endpoint"
		case strings.HasPrefix(line, "data:") && sawEndpointEvent:
			endpoint := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			return t.resolveMessageEndpoint(endpoint)
		}
	}
	return gwerr.New(gwerr.KindProtocol, "SSE stream ended before an endpoint event was received")
}

func (t *HTTPTransport) resolveMessageEndpoint(endpoint string) error {
	base, err := url.Parse(t.cfg.URL)
	if err != nil {
		return gwerr.Wrap(gwerr.KindConfig, "parse configured SSE URL", err)
	}
	resolved, err := url.Parse(endpoint)
	if err != nil {
		return gwerr.Wrap(gwerr.KindProtocol, "parse SSE endpoint payload", err)
	}
	final := base.ResolveReference(resolved)

	t.mu.Lock()
	t.messageEndpoint = final.String()
	if sid := final.Query().Get("session_id"); sid != "" {
		t.sessionID = sid
	}
	t.mu.Unlock()
	return nil
}

func (t *HTTPTransport) Request(ctx context.Context, method string, params any) (*JSONRPCResponse, error) {
	id := t.nextID.Add(1)
	req := JSONRPCRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params}
	return t.send(ctx, req)
}

func (t *HTTPTransport) Notify(ctx context.Context, method string, params any) {
	req := JSONRPCRequest{JSONRPC: "2.0", Method: method, Params: params}
	if _, err := t.send(ctx, req); err != nil {
		logging.Warn("transport.http", "send notification %q: %v", method, err)
	}
}

func (t *HTTPTransport) send(ctx context.Context, req JSONRPCRequest) (*JSONRPCResponse, error) {
	raw, err := json.Marshal(req)
	if err != nil {
		return nil, gwerr.Wrap(gwerr.KindConfig, "marshal request", err)
	}

	t.mu.RLock()
	endpoint := t.messageEndpoint
	version := t.protocolVersion
	sessionID := t.sessionID
	t.mu.RUnlock()
	if endpoint == "" && t.cfg.Mode != ModeSSE {
		endpoint = t.cfg.URL
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(raw))
	if err != nil {
		return nil, gwerr.Wrap(gwerr.KindConfig, "build request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json, text/event-stream")
	httpReq.Header.Set("MCP-Protocol-Version", version)
	for k, v := range t.cfg.Headers {
		httpReq.Header.Set(k, v)
	}
	if t.cfg.BearerToken != "" {
		httpReq.Header.Set("Authorization", "Bearer "+t.cfg.BearerToken)
	}
	if sessionID != "" {
		httpReq.Header.Set("Mcp-Session-Id", sessionID)
	}

	resp, err := t.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, gwerr.Wrap(gwerr.KindTimeout, fmt.Sprintf("request %q timed out", req.Method), err)
		}
		return nil, gwerr.Wrap(gwerr.KindTransport, fmt.Sprintf("request %q", req.Method), err)
	}
	defer resp.Body.Close()

	if sid := resp.Header.Get("Mcp-Session-Id"); sid != "" {
		t.mu.Lock()
		t.sessionID = sid
		t.mu.Unlock()
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, gwerr.New(gwerr.KindTransport, fmt.Sprintf("HTTP %d from %s", resp.StatusCode, endpoint))
	}

	// Notifications have no response body to parse.
	if req.ID == nil {
		return &JSONRPCResponse{JSONRPC: "2.0"}, nil
	}

	return parseResponse(resp)
}

func parseResponse(resp *http.Response) (*JSONRPCResponse, error) {
	contentType := resp.Header.Get("Content-Type")

	if strings.Contains(contentType, "text/event-stream") {
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			line := scanner.Text()
			if strings.HasPrefix(line, "data:") {
				payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
				var out JSONRPCResponse
				if err := json.Unmarshal([]byte(payload), &out); err != nil {
					return nil, gwerr.Wrap(gwerr.KindProtocol, "parse SSE response payload", err)
				}
				return &out, nil
			}
		}
		return nil, gwerr.New(gwerr.KindProtocol, "SSE response stream ended with no data line")
	}

	var out JSONRPCResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, gwerr.Wrap(gwerr.KindProtocol, "parse JSON response body", err)
	}
	return &out, nil
}

func (t *HTTPTransport) IsConnected() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.connected
}

func (t *HTTPTransport) Close() error {
	t.mu.Lock()
	t.connected = false
	t.mu.Unlock()
	return nil
}

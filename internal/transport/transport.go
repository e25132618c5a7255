// Package transport implements the gateway's two upstream transports —
// subprocess/stdio and HTTP (Streamable or SSE-handshake) — behind a
// single request/notify contract, so the backend facade never needs to
// know which one it is talking to.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
)

// protocolPreference is the gateway's ordered MCP protocol version
// preference, most-preferred first, per spec.md §6.
var protocolPreference = []string{
	"2025-11-25",
	"2025-06-18",
	"2025-03-26",
	"2024-11-05",
	"2024-10-07",
}

// PreferredProtocolVersion is the version offered in the first
// `initialize` request, before any negotiation.
func PreferredProtocolVersion() string { return protocolPreference[0] }

// ProtocolPreference returns the gateway's full ordered version
// preference, most-preferred first. Callers must treat it as read-only.
func ProtocolPreference() []string { return protocolPreference }

// JSONRPCRequest is the wire shape of an outbound request or notification.
// Notifications omit ID.
type JSONRPCRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      any    `json:"id,omitempty"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// JSONRPCError is the standard JSON-RPC 2.0 error object.
type JSONRPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *JSONRPCError) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// JSONRPCResponse is the wire shape of an inbound response: exactly one of
// Result/Error is populated.
type JSONRPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *JSONRPCError   `json:"error,omitempty"`
}

// Transport is the shared upstream-connection contract implemented by the
// stdio and HTTP transports. The stdio and Streamable-HTTP transports also
// accept Request before Initialize; in SSE mode there is no message
// endpoint until Initialize has run the handshake.
type Transport interface {
	// Initialize performs the MCP initialize handshake and sends the
	// trailing `initialized` notification on success. The HTTP transport
	// retries once with a common version after an "unsupported protocol
	// version" error; the stdio transport offers only its preferred version.
	Initialize(ctx context.Context) error

	// Request sends method/params and waits for the matching response.
	// Fails with gwerr Kind Transport, Timeout, or Protocol.
	Request(ctx context.Context, method string, params any) (*JSONRPCResponse, error)

	// Notify sends a fire-and-forget notification. Failures are logged by
	// the implementation, never returned to the caller.
	Notify(ctx context.Context, method string, params any)

	IsConnected() bool

	Close() error
}

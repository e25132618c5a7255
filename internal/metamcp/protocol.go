// Package metamcp implements the gateway's own MCP server presence: the
// four discovery meta-tools (search_tools, describe_tool, list_backends,
// invoke_tool) that stand in for the full backend tool universe, plus
// initialize/tools-list/tools-call dispatch.
package metamcp

import (
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/giantswarm/mcp-gateway/internal/transport"
)

// serverName/serverVersion populate the initialize response's serverInfo.
const (
	serverName    = "mcp-gateway"
	serverVersion = "0.1.0"
)

// instructions is returned verbatim in initialize, steering clients
// toward the meta-tool workflow instead of expecting a flat tool list.
const instructions = "This server exposes four meta-tools instead of the full backend tool catalog: " +
	"search_tools to discover candidates, describe_tool for full schemas, invoke_tool to execute, " +
	"and list_backends for aggregate backend status."

// InitializeResult is the wire shape of a successful `initialize` response.
type InitializeResult struct {
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    map[string]any `json:"capabilities"`
	ServerInfo      serverInfo     `json:"serverInfo"`
	Instructions    string         `json:"instructions"`
}

type serverInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// negotiateProtocolVersion picks the client's requested version if the
// gateway supports it, else falls back to the gateway's own preference.
func negotiateProtocolVersion(requested string) string {
	for _, v := range transport.ProtocolPreference() {
		if v == requested {
			return requested
		}
	}
	return transport.PreferredProtocolVersion()
}

func buildInitializeResult(requested string) InitializeResult {
	return InitializeResult{
		ProtocolVersion: negotiateProtocolVersion(requested),
		Capabilities: map[string]any{
			"tools":     map[string]any{"listChanged": false},
			"resources": map[string]any{},
			"prompts":   map[string]any{},
			"logging":   map[string]any{},
		},
		ServerInfo:   serverInfo{Name: serverName, Version: serverVersion},
		Instructions: instructions,
	}
}

// metaTools is the fixed set of four tools this server ever advertises
// via tools/list, per spec.md §4.8.
func metaTools() []mcp.Tool {
	return []mcp.Tool{
		{
			Name:        "search_tools",
			Description: "Rank the combined backend+capability tool universe against a query. Default limit 10.",
			InputSchema: mcp.ToolInputSchema{
				Type: "object",
				Properties: map[string]any{
					"query": map[string]any{"type": "string", "description": "Search text"},
					"limit": map[string]any{"type": "integer", "description": "Maximum results (default 10)"},
				},
				Required: []string{"query"},
			},
		},
		{
			Name:        "describe_tool",
			Description: "Full metadata for one tool, including input/output schema.",
			InputSchema: mcp.ToolInputSchema{
				Type:       "object",
				Properties: map[string]any{"tool": map[string]any{"type": "string"}},
				Required:   []string{"tool"},
			},
		},
		{
			Name:        "list_backends",
			Description: "Summary of every registered backend: connection and health status, circuit state, request count, tool count. The transport kind is not reported.",
			InputSchema: mcp.ToolInputSchema{
				Type:       "object",
				Properties: map[string]any{},
			},
		},
		{
			Name:        "invoke_tool",
			Description: "Route to the appropriate backend or capability executor.",
			InputSchema: mcp.ToolInputSchema{
				Type: "object",
				Properties: map[string]any{
					"tool":      map[string]any{"type": "string", "description": "Capability name or backend:tool"},
					"arguments": map[string]any{"type": "object"},
				},
				Required: []string{"tool"},
			},
		},
	}
}

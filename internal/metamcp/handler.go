package metamcp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/giantswarm/mcp-gateway/internal/backend"
	"github.com/giantswarm/mcp-gateway/internal/capability"
	"github.com/giantswarm/mcp-gateway/internal/gwerr"
	"github.com/giantswarm/mcp-gateway/internal/ranking"
	"github.com/giantswarm/mcp-gateway/internal/stats"
	"github.com/giantswarm/mcp-gateway/internal/transport"
	"github.com/giantswarm/mcp-gateway/pkg/logging"
)

// recencyWindow bounds how many recently-invoked tool names feed the
// chains-with ranking bonus.
const recencyWindow = 20

// Request is the inbound JSON-RPC envelope the gateway's HTTP layer
// decodes before handing off to Handle. Params stays raw so each method
// can unmarshal into its own param shape.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// IsNotification reports whether req carries no id, per spec.md §6.
func (r Request) IsNotification() bool { return r.ID == nil }

// Handler serves the gateway's own Meta-MCP surface: initialize,
// tools/list, and tools/call dispatch across the four meta-tools.
type Handler struct {
	backends     *backend.Registry
	capabilities *capability.Registry
	executor     *capability.Executor
	stats        *stats.Stats

	recentMu sync.Mutex
	recent   []string
}

func NewHandler(backends *backend.Registry, capabilities *capability.Registry, executor *capability.Executor, usageStats *stats.Stats) *Handler {
	return &Handler{
		backends:     backends,
		capabilities: capabilities,
		executor:     executor,
		stats:        usageStats,
	}
}

// Handle dispatches one JSON-RPC request and returns its response
// envelope. For notifications it returns nil, nil: the caller (the
// gateway HTTP layer) is responsible for replying 202 with an empty body
// and never serializing a nil response.
func (h *Handler) Handle(ctx context.Context, req Request) (*transport.JSONRPCResponse, error) {
	if req.IsNotification() {
		// notifications/initialized and any other notification require no
		// action from this handler; the gateway has nothing to acknowledge.
		return nil, nil
	}

	result, rpcErr := h.dispatch(ctx, req)
	if rpcErr != nil {
		return &transport.JSONRPCResponse{JSONRPC: "2.0", ID: req.ID, Error: rpcErr}, nil
	}

	raw, err := json.Marshal(result)
	if err != nil {
		return &transport.JSONRPCResponse{JSONRPC: "2.0", ID: req.ID, Error: internalError(err)}, nil
	}
	return &transport.JSONRPCResponse{JSONRPC: "2.0", ID: req.ID, Result: raw}, nil
}

func (h *Handler) dispatch(ctx context.Context, req Request) (any, *transport.JSONRPCError) {
	switch req.Method {
	case "initialize":
		return h.handleInitialize(req.Params)
	case "tools/list":
		return map[string]any{"tools": metaTools()}, nil
	case "tools/call":
		return h.handleToolsCall(ctx, req.Params)
	default:
		return nil, rpcError(gwerr.New(gwerr.KindProtocol, fmt.Sprintf("unsupported method %q", req.Method)))
	}
}

type initializeParams struct {
	ProtocolVersion string `json:"protocolVersion"`
}

func (h *Handler) handleInitialize(params json.RawMessage) (any, *transport.JSONRPCError) {
	var p initializeParams
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, rpcError(gwerr.Wrap(gwerr.KindProtocol, "parse initialize params", err))
		}
	}
	if p.ProtocolVersion == "" {
		p.ProtocolVersion = transport.PreferredProtocolVersion()
	}
	return buildInitializeResult(p.ProtocolVersion), nil
}

type toolsCallParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// callToolResult mirrors mcp.CallToolResult's wire shape without this
// package needing to depend on mcp-go's server-side result constructors.
type callToolResult struct {
	Content []contentBlock `json:"content"`
	IsError bool           `json:"isError"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

func textResult(text string) callToolResult {
	return callToolResult{Content: []contentBlock{{Type: "text", Text: text}}}
}

func errorResult(message string) callToolResult {
	return callToolResult{Content: []contentBlock{{Type: "text", Text: message}}, IsError: true}
}

func (h *Handler) handleToolsCall(ctx context.Context, params json.RawMessage) (any, *transport.JSONRPCError) {
	var p toolsCallParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, rpcError(gwerr.Wrap(gwerr.KindProtocol, "parse tools/call params", err))
	}

	switch p.Name {
	case "search_tools":
		return h.handleSearchTools(ctx, p.Arguments), nil
	case "describe_tool":
		return h.handleDescribeTool(ctx, p.Arguments), nil
	case "list_backends":
		return h.handleListBackends(ctx), nil
	case "invoke_tool":
		return h.handleInvokeTool(ctx, p.Arguments), nil
	default:
		return nil, rpcError(gwerr.New(gwerr.KindProtocol, fmt.Sprintf("unknown meta-tool %q", p.Name)))
	}
}

// liveUniverse fetches every capability plus every backend's currently
// cached (or freshly fetched, on a cold cache) tool list. Per-backend
// failures are logged and that backend is simply omitted, so one
// unreachable backend never breaks search/describe/list for the rest.
func (h *Handler) liveUniverse(ctx context.Context) ([]universeEntry, map[string][]backend.Tool) {
	toolsByBackend := make(map[string][]backend.Tool)
	for _, b := range h.backends.All() {
		tools, err := b.GetTools(ctx)
		if err != nil {
			logging.Warn("metamcp", "GetTools failed for backend %q: %v", b.Name(), err)
			continue
		}
		toolsByBackend[b.Name()] = tools
	}
	return buildUniverse(h.capabilities.All(), toolsByBackend), toolsByBackend
}

func (h *Handler) recentlyUsed() []string {
	h.recentMu.Lock()
	defer h.recentMu.Unlock()
	out := make([]string, len(h.recent))
	copy(out, h.recent)
	return out
}

func (h *Handler) recordUsed(name string) {
	h.recentMu.Lock()
	defer h.recentMu.Unlock()
	h.recent = append([]string{name}, h.recent...)
	if len(h.recent) > recencyWindow {
		h.recent = h.recent[:recencyWindow]
	}
}

func (h *Handler) handleSearchTools(ctx context.Context, args map[string]any) callToolResult {
	query, _ := args["query"].(string)
	limit := 10
	if l, ok := args["limit"].(float64); ok && l > 0 {
		limit = int(l)
	}

	universe, _ := h.liveUniverse(ctx)
	candidates := asCandidates(universe)

	usage := func(name string) uint64 {
		server, tool := splitQualified(name)
		return h.stats.ToolUsage(server, tool)
	}

	results := ranking.Search(query, candidates, usage, h.recentlyUsed())
	items := buildSearchResults(results, universe, limit)
	h.stats.RecordSearch(uint64(len(items)))

	raw, err := json.Marshal(items)
	if err != nil {
		return errorResult(fmt.Sprintf("failed to format search results: %v", err))
	}
	return textResult(string(raw))
}

// splitQualified mirrors stats' server:tool key convention: a bare
// capability name has no server component.
func splitQualified(name string) (server, tool string) {
	for i := 0; i < len(name); i++ {
		if name[i] == ':' {
			return name[:i], name[i+1:]
		}
	}
	return "", name
}

func (h *Handler) handleDescribeTool(ctx context.Context, args map[string]any) callToolResult {
	name, _ := args["tool"].(string)
	if name == "" {
		return errorResult("tool argument is required")
	}

	if def, err := h.capabilities.Get(name); err == nil {
		raw, marshalErr := json.Marshal(buildDescribePayload(def))
		if marshalErr != nil {
			return errorResult(fmt.Sprintf("failed to format tool info: %v", marshalErr))
		}
		return textResult(string(raw))
	}

	universe, toolsByBackend := h.liveUniverse(ctx)
	entry, ok := findEntry(universe, name)
	if !ok || entry.origin != originBackend {
		return errorResult(fmt.Sprintf("tool not found: %s", name))
	}
	for _, t := range toolsByBackend[entry.backend] {
		if t.Name == entry.backendTool {
			raw, err := json.Marshal(buildDescribePayloadForBackendTool(entry.backend, t))
			if err != nil {
				return errorResult(fmt.Sprintf("failed to format tool info: %v", err))
			}
			return textResult(string(raw))
		}
	}
	return errorResult(fmt.Sprintf("tool not found: %s", name))
}

func (h *Handler) handleListBackends(ctx context.Context) callToolResult {
	_, toolsByBackend := h.liveUniverse(ctx)
	summaries := buildBackendSummaries(h.backends.All(), toolsByBackend)

	raw, err := json.Marshal(summaries)
	if err != nil {
		return errorResult(fmt.Sprintf("failed to format backend list: %v", err))
	}
	return textResult(string(raw))
}

func (h *Handler) handleInvokeTool(ctx context.Context, args map[string]any) callToolResult {
	ref, _ := args["tool"].(string)
	if ref == "" {
		return errorResult("tool argument is required")
	}
	arguments, _ := args["arguments"].(map[string]any)
	if arguments == nil {
		arguments = map[string]any{}
	}

	if def, err := h.capabilities.Get(ref); err == nil {
		return h.invokeCapability(ctx, def, arguments)
	}

	_, backendName, backendTool, isBackendRef := resolveToolRef(ref)
	if !isBackendRef {
		return errorResult(fmt.Sprintf("capability not found: %s", ref))
	}
	return h.invokeBackendTool(ctx, backendName, backendTool, arguments)
}

func (h *Handler) invokeCapability(ctx context.Context, def *capability.Definition, arguments map[string]any) callToolResult {
	validation := capability.ValidateArguments(arguments, def.Schema.Input)
	if !validation.IsValid() {
		return errorResult(capability.FormatError(validation.Violations, def.Schema.Input))
	}

	value, err := h.executor.Execute(ctx, def, validation.Coerced)
	if err != nil {
		return errorResult(fmt.Sprintf("invocation failed: %v", err))
	}

	raw, err := json.Marshal(value)
	if err != nil {
		return errorResult(fmt.Sprintf("failed to serialize result: %v", err))
	}

	h.stats.RecordInvocation("", def.Name)
	h.recordUsed(def.Name)
	return textResult(string(raw))
}

func (h *Handler) invokeBackendTool(ctx context.Context, backendName, toolName string, arguments map[string]any) callToolResult {
	b, err := h.backends.Get(backendName)
	if err != nil {
		return errorResult(fmt.Sprintf("backend not found: %s", backendName))
	}

	resp, err := b.Request(ctx, "tools/call", map[string]any{
		"name":      toolName,
		"arguments": arguments,
	})
	if err != nil {
		return errorResult(fmt.Sprintf("invocation failed: %v", err))
	}
	if resp.Error != nil {
		return errorResult(fmt.Sprintf("invocation failed: %s", resp.Error.Message))
	}

	h.stats.RecordInvocation(backendName, toolName)
	h.recordUsed(backendName + ":" + toolName)
	return textResult(string(resp.Result))
}

func rpcError(err *gwerr.Error) *transport.JSONRPCError {
	return &transport.JSONRPCError{Code: gwerr.JSONRPCCode(err.Kind), Message: err.Error()}
}

func internalError(err error) *transport.JSONRPCError {
	return &transport.JSONRPCError{Code: -32603, Message: err.Error()}
}

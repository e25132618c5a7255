package metamcp

import (
	"strings"

	"github.com/giantswarm/mcp-gateway/internal/backend"
	"github.com/giantswarm/mcp-gateway/internal/capability"
	"github.com/giantswarm/mcp-gateway/internal/ranking"
)

// toolOrigin tags where a resolved tool universe entry comes from, so
// invoke_tool knows whether to route to the capability executor or to a
// named backend.
type toolOrigin int

const (
	originCapability toolOrigin = iota
	originBackend
)

// universeEntry is one searchable/describable/invocable tool, reduced
// from either a capability definition or a backend-advertised tool.
type universeEntry struct {
	origin      toolOrigin
	name        string // capability name, or "backend:tool" for backend tools
	backend     string // populated only for originBackend
	backendTool string // the bare upstream tool name, for originBackend
	description string
	inputSchema map[string]any
	tags        []string
	chainsWith  []string
}

// qualifiedName is the name search/describe/invoke results present to
// callers: the bare capability name, or "backend:tool" for backend tools.
func (e universeEntry) qualifiedName() string {
	if e.origin == originBackend {
		return e.backend + ":" + e.backendTool
	}
	return e.name
}

// buildUniverse flattens every registered capability and every tool
// currently cached by every backend into one candidate list. Backend
// lookups use each backend's cached GetTools result via toolsByBackend,
// since building the universe must not itself trigger network calls.
func buildUniverse(capabilities []*capability.Definition, toolsByBackend map[string][]backend.Tool) []universeEntry {
	entries := make([]universeEntry, 0, len(capabilities))

	for _, def := range capabilities {
		entries = append(entries, universeEntry{
			origin:      originCapability,
			name:        def.Name,
			description: def.BuildDescription(),
			inputSchema: def.Schema.Input,
			tags:        def.Metadata.Tags,
			chainsWith:  def.Metadata.ChainsWith,
		})
	}

	for backendName, tools := range toolsByBackend {
		for _, tool := range tools {
			entries = append(entries, universeEntry{
				origin:      originBackend,
				backend:     backendName,
				backendTool: tool.Name,
				description: tool.Description,
				inputSchema: tool.InputSchema,
			})
		}
	}

	return entries
}

// asCandidates converts the universe into ranking.Candidate, keyed by
// qualifiedName so ranking.Search's usage/chains-with lookups line up
// with what invoke_tool accepts back.
func asCandidates(universe []universeEntry) []ranking.Candidate {
	candidates := make([]ranking.Candidate, 0, len(universe))
	for _, e := range universe {
		candidates = append(candidates, ranking.Candidate{
			Name:         e.qualifiedName(),
			Description:  e.description,
			Tags:         e.tags,
			SchemaFields: capability.ExtractSchemaFields(e.inputSchema),
			ChainsWith:   e.chainsWith,
		})
	}
	return candidates
}

func findEntry(universe []universeEntry, qualifiedName string) (universeEntry, bool) {
	for _, e := range universe {
		if e.qualifiedName() == qualifiedName {
			return e, true
		}
	}
	return universeEntry{}, false
}

// resolveToolRef splits a caller-supplied tool reference into a
// capability name lookup and a backend:tool fallback. Capability names
// take precedence over an ambiguous bare name, per spec.md §4.8
// ("matched against the capability registry first").
func resolveToolRef(ref string) (capabilityName string, backendName string, backendTool string, isBackendRef bool) {
	if idx := strings.Index(ref, ":"); idx > 0 && idx < len(ref)-1 {
		return ref, ref[:idx], ref[idx+1:], true
	}
	return ref, "", "", false
}

// describePayload is the JSON body returned by describe_tool.
type describePayload struct {
	Name         string         `json:"name"`
	Description  string         `json:"description"`
	InputSchema  map[string]any `json:"inputSchema,omitempty"`
	OutputSchema map[string]any `json:"outputSchema,omitempty"`
	Origin       string         `json:"origin"`
}

func buildDescribePayload(def *capability.Definition) describePayload {
	return describePayload{
		Name:         def.Name,
		Description:  def.BuildDescription(),
		InputSchema:  def.Schema.Input,
		OutputSchema: def.Schema.Output,
		Origin:       "capability",
	}
}

func buildDescribePayloadForBackendTool(backendName string, tool backend.Tool) describePayload {
	return describePayload{
		Name:        backendName + ":" + tool.Name,
		Description: tool.Description,
		InputSchema: tool.InputSchema,
		Origin:      "backend:" + backendName,
	}
}

// backendSummary is one entry in list_backends' response.
type backendSummary struct {
	Name         string `json:"name"`
	Connected    bool   `json:"connected"`
	BreakerState string `json:"breakerState"`
	Healthy      bool   `json:"healthy"`
	RequestCount uint64 `json:"requestCount"`
	ToolCount    int    `json:"toolCount"`
}

func buildBackendSummaries(backends []*backend.Backend, toolsByBackend map[string][]backend.Tool) []backendSummary {
	summaries := make([]backendSummary, 0, len(backends))
	for _, b := range backends {
		status := b.Status()
		summaries = append(summaries, backendSummary{
			Name:         status.Name,
			Connected:    status.Connected,
			BreakerState: status.BreakerState,
			Healthy:      status.Healthy,
			RequestCount: status.RequestCount,
			ToolCount:    len(toolsByBackend[status.Name]),
		})
	}
	return summaries
}

// searchResultItem is one entry in search_tools' response list.
type searchResultItem struct {
	Tool        string  `json:"tool"`
	Description string  `json:"description"`
	Score       float64 `json:"score"`
}

func buildSearchResults(results []ranking.Result, universe []universeEntry, limit int) []searchResultItem {
	byName := make(map[string]universeEntry, len(universe))
	for _, e := range universe {
		byName[e.qualifiedName()] = e
	}

	if limit <= 0 {
		limit = 10
	}
	if limit > len(results) {
		limit = len(results)
	}

	items := make([]searchResultItem, 0, limit)
	for _, r := range results[:limit] {
		e := byName[r.Candidate.Name]
		items = append(items, searchResultItem{
			Tool:        r.Candidate.Name,
			Description: e.description,
			Score:       r.Score,
		})
	}
	return items
}

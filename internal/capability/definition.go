// Package capability implements declaratively-configured REST "tools":
// parsing and validating capability YAML, hot-reloading it, executing the
// underlying REST call with parameter substitution and credential
// injection, and validating/coercing caller arguments against a JSON
// Schema fragment.
package capability

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// nameRE enforces the capability name invariant from spec.md §3.
var nameRE = regexp.MustCompile(`^[a-z0-9_]+$`)

// SchemaDefinition holds the two JSON-Schema fragments describing a
// capability's input and output.
type SchemaDefinition struct {
	Input  map[string]any `yaml:"input" json:"input"`
	Output map[string]any `yaml:"output,omitempty" json:"output,omitempty"`
}

// RestConfig is one provider's REST call description.
type RestConfig struct {
	BaseURL        string            `yaml:"base_url,omitempty" json:"base_url,omitempty"`
	Path           string            `yaml:"path,omitempty" json:"path,omitempty"`
	Endpoint       string            `yaml:"endpoint,omitempty" json:"endpoint,omitempty"`
	Method         string            `yaml:"method,omitempty" json:"method,omitempty"`
	Headers        map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`
	Params         map[string]string `yaml:"params,omitempty" json:"params,omitempty"`
	ParamMap       map[string]string `yaml:"param_map,omitempty" json:"param_map,omitempty"`
	StaticParams   map[string]any    `yaml:"static_params,omitempty" json:"static_params,omitempty"`
	Body           any               `yaml:"body,omitempty" json:"body,omitempty"`
	ResponsePath   string            `yaml:"response_path,omitempty" json:"response_path,omitempty"`
	ResponseFormat string            `yaml:"response_format,omitempty" json:"response_format,omitempty"`
	TimeoutSeconds int               `yaml:"timeout,omitempty" json:"timeout,omitempty"`
}

func (r RestConfig) methodOrDefault() string {
	if r.Method == "" {
		return "GET"
	}
	return strings.ToUpper(r.Method)
}

// ProvidersConfig holds the primary provider plus an ordered fallback
// list. It supports two YAML shapes: a named map (`primary: {...}`, any
// other keys ignored except `fallback`) and a `fallback:` key that may be
// either a single provider object or an array of provider objects.
type ProvidersConfig struct {
	Primary  RestConfig
	Fallback []RestConfig
}

// UnmarshalYAML implements the custom two-shape deserialization described
// in original_source/src/capability/definition.rs.
func (p *ProvidersConfig) UnmarshalYAML(node *yaml.Node) error {
	var raw map[string]yaml.Node
	if err := node.Decode(&raw); err != nil {
		return fmt.Errorf("providers: expected a mapping: %w", err)
	}

	if primaryNode, ok := raw["primary"]; ok {
		if err := primaryNode.Decode(&p.Primary); err != nil {
			return fmt.Errorf("providers.primary: %w", err)
		}
	}

	if fallbackNode, ok := raw["fallback"]; ok {
		switch fallbackNode.Kind {
		case yaml.SequenceNode:
			if err := fallbackNode.Decode(&p.Fallback); err != nil {
				return fmt.Errorf("providers.fallback: %w", err)
			}
		case yaml.MappingNode:
			var single RestConfig
			if err := fallbackNode.Decode(&single); err != nil {
				return fmt.Errorf("providers.fallback: %w", err)
			}
			p.Fallback = []RestConfig{single}
		default:
			return fmt.Errorf("providers.fallback: expected a mapping or sequence")
		}
	}

	return nil
}

// AuthConfig describes how a credential is fetched and injected.
type AuthConfig struct {
	Required    bool     `yaml:"required,omitempty" json:"required,omitempty"`
	Type        string   `yaml:"type,omitempty" json:"type,omitempty"`
	Scopes      []string `yaml:"scopes,omitempty" json:"scopes,omitempty"`
	Key         string   `yaml:"key,omitempty" json:"key,omitempty"`
	Description string   `yaml:"description,omitempty" json:"description,omitempty"`
	Header      string   `yaml:"header,omitempty" json:"header,omitempty"`
	Prefix      string   `yaml:"prefix,omitempty" json:"prefix,omitempty"`
	Param       string   `yaml:"param,omitempty" json:"param,omitempty"`
}

func (a AuthConfig) headerOrDefault() string {
	if a.Header == "" {
		return "Authorization"
	}
	return a.Header
}

func (a AuthConfig) prefixOrDefault() string {
	if a.Prefix != "" {
		return a.Prefix
	}
	switch a.Type {
	case "basic":
		return "Basic"
	case "api_key":
		return ""
	default: // "oauth", "bearer", ""
		return "Bearer"
	}
}

// CacheConfig describes response caching for a capability.
type CacheConfig struct {
	Strategy    string `yaml:"strategy,omitempty" json:"strategy,omitempty"`
	TTLSeconds  uint64 `yaml:"ttl,omitempty" json:"ttl,omitempty"`
	KeyTemplate string `yaml:"key_template,omitempty" json:"key_template,omitempty"`
}

// CapabilityMetadata carries search/composition hints.
type CapabilityMetadata struct {
	Category      string   `yaml:"category,omitempty" json:"category,omitempty"`
	Tags          []string `yaml:"tags,omitempty" json:"tags,omitempty"`
	CostCategory  string   `yaml:"cost_category,omitempty" json:"cost_category,omitempty"`
	ExecutionTime string   `yaml:"execution_time,omitempty" json:"execution_time,omitempty"`
	ReadOnly      bool     `yaml:"read_only,omitempty" json:"read_only,omitempty"`
	Produces      []string `yaml:"produces,omitempty" json:"produces,omitempty"`
	Consumes      []string `yaml:"consumes,omitempty" json:"consumes,omitempty"`
	ChainsWith    []string `yaml:"chains_with,omitempty" json:"chains_with,omitempty"`
}

// TransformStage is one stage of the fixed project/rename/redact/format
// pipeline. Exactly one of the fields relevant to Kind is populated.
type TransformStage struct {
	Kind string `yaml:"kind" json:"kind"` // "project" | "rename" | "redact" | "format"

	// project: keep only these dotted paths.
	Paths []string `yaml:"paths,omitempty" json:"paths,omitempty"`
	// rename: move From -> To.
	From string `yaml:"from,omitempty" json:"from,omitempty"`
	To   string `yaml:"to,omitempty" json:"to,omitempty"`
	// redact: replace the value at this path with "[REDACTED]".
	Path string `yaml:"path,omitempty" json:"path,omitempty"`
	// format: named post-processor applied at Path.
	Processor string `yaml:"processor,omitempty" json:"processor,omitempty"`
}

// TransformConfig is the list of transform stages applied to a
// capability's response; ApplyTransform runs them in the fixed
// project/rename/redact/format order. An empty list is a no-op, checked
// by IsNoop at the start of each ApplyTransform call.
type TransformConfig struct {
	Stages []TransformStage `yaml:"stages,omitempty" json:"stages,omitempty"`
}

func (t TransformConfig) IsNoop() bool { return len(t.Stages) == 0 }

// WebhookTransform and WebhookDefinition are parsed for completeness of
// the capability YAML surface but webhook ingress itself is out of scope
// (spec.md §1) — no component dispatches them.
type WebhookTransform struct {
	EventType string            `yaml:"event_type,omitempty" json:"event_type,omitempty"`
	Data      map[string]string `yaml:"data,omitempty" json:"data,omitempty"`
}

type WebhookDefinition struct {
	Path            string           `yaml:"path" json:"path"`
	Method          string           `yaml:"method,omitempty" json:"method,omitempty"`
	Secret          string           `yaml:"secret,omitempty" json:"secret,omitempty"`
	SignatureHeader string           `yaml:"signature_header,omitempty" json:"signature_header,omitempty"`
	Notify          bool             `yaml:"notify,omitempty" json:"notify,omitempty"`
	Transform       WebhookTransform `yaml:"transform,omitempty" json:"transform,omitempty"`
}

// Definition is an immutable-after-load capability: a declarative
// description of how to invoke a REST endpoint as if it were an MCP tool.
type Definition struct {
	Fulcrum     string                       `yaml:"fulcrum,omitempty" json:"fulcrum,omitempty"`
	Name        string                       `yaml:"name" json:"name"`
	Description string                       `yaml:"description" json:"description"`
	Schema      SchemaDefinition             `yaml:"schema" json:"schema"`
	Providers   ProvidersConfig              `yaml:"providers" json:"providers"`
	Auth        AuthConfig                   `yaml:"auth,omitempty" json:"auth,omitempty"`
	Cache       CacheConfig                  `yaml:"cache,omitempty" json:"cache,omitempty"`
	Metadata    CapabilityMetadata           `yaml:"metadata,omitempty" json:"metadata,omitempty"`
	Transform   TransformConfig              `yaml:"transform,omitempty" json:"transform,omitempty"`
	Webhooks    map[string]WebhookDefinition `yaml:"webhooks,omitempty" json:"webhooks,omitempty"`
}

// ParseYAML parses a single capability definition from YAML bytes,
// defaulting Fulcrum to "1.0" per spec.md §6, and validates the name
// invariant.
func ParseYAML(data []byte) (*Definition, error) {
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("capability: parse YAML: %w", err)
	}
	if def.Fulcrum == "" {
		def.Fulcrum = "1.0"
	}
	if !nameRE.MatchString(def.Name) {
		return nil, fmt.Errorf("capability: name %q must match [a-z0-9_]+", def.Name)
	}
	return &def, nil
}

func (d *Definition) PrimaryProvider() RestConfig { return d.Providers.Primary }

func (d *Definition) FallbackProviders() []RestConfig { return d.Providers.Fallback }

// IsCacheable reports whether responses for this capability should be
// cached: TTL > 0 and a real (non-"none") strategy configured.
func (d *Definition) IsCacheable() bool {
	return d.Cache.TTLSeconds > 0 && d.Cache.Strategy != "" && d.Cache.Strategy != "none"
}

// ExtractSchemaFields walks the input schema's `properties` one level
// deep, collecting property names and lowercased description words (both
// per-property and top-level), for use by the search ranker's schema-field
// index.
func ExtractSchemaFields(schema map[string]any) []string {
	seen := make(map[string]struct{})
	add := func(words ...string) {
		for _, w := range words {
			w = strings.ToLower(strings.TrimSpace(w))
			if w != "" {
				seen[w] = struct{}{}
			}
		}
	}

	if desc, ok := schema["description"].(string); ok {
		add(strings.Fields(desc)...)
	}

	if props, ok := schema["properties"].(map[string]any); ok {
		for name, raw := range props {
			add(name)
			if propSchema, ok := raw.(map[string]any); ok {
				if desc, ok := propSchema["description"].(string); ok {
					add(strings.Fields(desc)...)
				}
			}
		}
	}

	out := make([]string, 0, len(seen))
	for w := range seen {
		out = append(out, w)
	}
	sort.Strings(out)
	return out
}

// BuildDescription appends invisible-to-humans, searchable-by-the-ranker
// suffixes to the capability's description: `[keywords: ...]` from tags
// and `[schema: ...]` from the input schema's field names/descriptions.
func (d *Definition) BuildDescription() string {
	desc := d.Description

	if len(d.Metadata.Tags) > 0 {
		desc += fmt.Sprintf(" [keywords: %s]", strings.Join(d.Metadata.Tags, ", "))
	}

	fields := ExtractSchemaFields(d.Schema.Input)
	if len(fields) > 0 {
		desc += fmt.Sprintf(" [schema: %s]", strings.Join(fields, ", "))
	}

	return desc
}

// ToToolJSON renders the MCP wire-format tool representation as raw JSON
// (name, description, inputSchema, outputSchema), for packages that embed
// it directly into an mcp-go mcp.Tool without this package importing
// mcp-go itself.
func (d *Definition) ToToolJSON() (json.RawMessage, error) {
	tool := map[string]any{
		"name":        d.Name,
		"description": d.BuildDescription(),
		"inputSchema": d.Schema.Input,
	}
	if d.Schema.Output != nil {
		tool["outputSchema"] = d.Schema.Output
	}
	return json.Marshal(tool)
}

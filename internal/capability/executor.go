package capability

import (
	"bytes"
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/giantswarm/mcp-gateway/internal/cache"
	"github.com/giantswarm/mcp-gateway/internal/gwerr"
	"github.com/giantswarm/mcp-gateway/internal/metrics"
	"github.com/giantswarm/mcp-gateway/internal/secrets"
	"github.com/giantswarm/mcp-gateway/pkg/logging"
)

const maxErrorBodyLen = 500

var placeholderRE = regexp.MustCompile(`\{([a-zA-Z_][a-zA-Z0-9_.]*)\}`)

// Executor executes capability REST calls: build URL/headers/query/body,
// call the endpoint, handle the response, apply the transform pipeline,
// and cache the result.
type Executor struct {
	http     *http.Client
	secrets  *secrets.Resolver
	cache    *cache.Cache
	defaultTimeout time.Duration
}

func NewExecutor(secretResolver *secrets.Resolver, responseCache *cache.Cache) *Executor {
	return &Executor{
		http:           &http.Client{},
		secrets:        secretResolver,
		cache:          responseCache,
		defaultTimeout: 30 * time.Second,
	}
}

// Execute runs the full pipeline described in spec.md §4.5.
func (e *Executor) Execute(ctx context.Context, def *Definition, params map[string]any) (any, error) {
	var cacheKey string
	if def.IsCacheable() {
		key, err := cache.BuildKey("capability", def.Name, params)
		if err != nil {
			return nil, gwerr.Wrap(gwerr.KindConfig, "build cache key", err)
		}
		cacheKey = key
		if v, ok := e.cache.Get(cacheKey); ok {
			metrics.ResponseCacheResult.WithLabelValues("hit").Inc()
			return v, nil
		}
		metrics.ResponseCacheResult.WithLabelValues("miss").Inc()
	}

	effective := mergeWithStaticParams(def.PrimaryProvider().StaticParams, params)

	value, err := e.executeProvider(ctx, def, def.PrimaryProvider(), effective)
	if err != nil && gwerr.IsRetryable(err) {
		for _, fb := range def.FallbackProviders() {
			fbEffective := mergeWithStaticParams(fb.StaticParams, params)
			value, err = e.executeProvider(ctx, def, fb, fbEffective)
			if err == nil || !gwerr.IsRetryable(err) {
				break
			}
		}
	}
	if err != nil {
		metrics.CapabilityExecutions.WithLabelValues(def.Name, "failure").Inc()
		return nil, err
	}

	transformed, err := ApplyTransform(def.Transform, value)
	if err != nil {
		metrics.CapabilityExecutions.WithLabelValues(def.Name, "failure").Inc()
		return nil, gwerr.Wrap(gwerr.KindConfig, "apply transform", err)
	}

	if def.IsCacheable() {
		e.cache.Set(cacheKey, transformed, time.Duration(def.Cache.TTLSeconds)*time.Second)
	}
	metrics.CapabilityExecutions.WithLabelValues(def.Name, "success").Inc()
	return transformed, nil
}

// mergeWithStaticParams builds effective = static ∪ caller, caller wins.
// If static is empty, caller is returned as-is with no copy.
func mergeWithStaticParams(static map[string]any, caller map[string]any) map[string]any {
	if len(static) == 0 {
		return caller
	}
	effective := make(map[string]any, len(static)+len(caller))
	for k, v := range static {
		effective[k] = v
	}
	for k, v := range caller {
		effective[k] = v
	}
	return effective
}

func (e *Executor) executeProvider(ctx context.Context, def *Definition, provider RestConfig, params map[string]any) (any, error) {
	fullURL, err := e.buildURL(provider, params)
	if err != nil {
		return nil, err
	}

	headers, err := e.buildHeaders(ctx, def, provider, params)
	if err != nil {
		return nil, err
	}

	query, err := e.buildQuery(provider, params)
	if err != nil {
		return nil, err
	}
	if def.Auth.Required && def.Auth.Param != "" {
		cred, err := e.secrets.ResolveReference(ctx, def.Auth.Key)
		if err != nil {
			return nil, gwerr.Wrap(gwerr.KindConfig, "resolve auth credential", err)
		}
		query[def.Auth.Param] = cred
	}
	if len(query) > 0 {
		u, err := url.Parse(fullURL)
		if err != nil {
			return nil, gwerr.Wrap(gwerr.KindConfig, "parse URL", err)
		}
		q := u.Query()
		for k, v := range query {
			q.Set(k, v)
		}
		u.RawQuery = q.Encode()
		fullURL = u.String()
	}

	method := provider.methodOrDefault()
	var bodyReader io.Reader
	if method == "POST" || method == "PUT" || method == "PATCH" {
		body, err := e.buildBody(provider, params)
		if err != nil {
			return nil, err
		}
		if body != nil {
			raw, err := json.Marshal(body)
			if err != nil {
				return nil, gwerr.Wrap(gwerr.KindConfig, "marshal body", err)
			}
			bodyReader = bytes.NewReader(raw)
			if headers["Content-Type"] == "" {
				headers["Content-Type"] = "application/json"
			}
		}
	}

	timeout := e.defaultTimeout
	if provider.TimeoutSeconds > 0 {
		timeout = time.Duration(provider.TimeoutSeconds) * time.Second
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, method, fullURL, bodyReader)
	if err != nil {
		return nil, gwerr.Wrap(gwerr.KindConfig, "build request", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := e.http.Do(req)
	if err != nil {
		return nil, gwerr.Wrap(gwerr.KindTransport, fmt.Sprintf("request to %s", fullURL), err)
	}
	defer resp.Body.Close()

	value, err := e.handleResponse(resp, provider)
	if err != nil {
		return nil, err
	}

	if provider.ResponsePath != "" {
		value = ExtractPath(value, provider.ResponsePath)
	}
	return value, nil
}

func (e *Executor) buildURL(provider RestConfig, params map[string]any) (string, error) {
	base := provider.Endpoint
	if base == "" {
		base = provider.BaseURL + provider.Path
	}
	return e.substituteString(base, params)
}

func (e *Executor) buildHeaders(ctx context.Context, def *Definition, provider RestConfig, params map[string]any) (map[string]string, error) {
	headers := make(map[string]string, len(provider.Headers)+1)
	for k, v := range provider.Headers {
		substituted, err := e.substituteString(v, params)
		if err != nil {
			return nil, err
		}
		// A header that still references {access_token} is dropped: auth
		// injection re-adds it below.
		if strings.Contains(substituted, "{access_token}") {
			continue
		}
		headers[k] = substituted
	}

	if def.Auth.Required {
		cred, err := e.secrets.ResolveReference(ctx, def.Auth.Key)
		if err != nil {
			return nil, gwerr.Wrap(gwerr.KindConfig, "resolve auth credential", err)
		}
		if def.Auth.Param == "" {
			headerName := def.Auth.headerOrDefault()
			prefix := def.Auth.prefixOrDefault()
			if prefix != "" {
				headers[headerName] = prefix + " " + cred
			} else {
				headers[headerName] = cred
			}
		}
		// else: executeProvider adds it as the AuthConfig.Param query param.
	}

	return headers, nil
}

func (e *Executor) buildQuery(provider RestConfig, params map[string]any) (map[string]string, error) {
	query := make(map[string]string)
	for k, v := range provider.Params {
		substituted, err := e.substituteString(v, params)
		if err != nil {
			return nil, err
		}
		if substituted == "" || substituted == "null" {
			continue
		}
		query[k] = substituted
	}
	for inputName, apiName := range provider.ParamMap {
		v, ok := params[inputName]
		if !ok || v == nil {
			continue
		}
		query[apiName] = stringifyValue(v)
	}
	return query, nil
}

func (e *Executor) buildBody(provider RestConfig, params map[string]any) (any, error) {
	if provider.Body != nil {
		return e.substituteValue(provider.Body, params)
	}
	if len(params) > 0 {
		return params, nil
	}
	return nil, nil
}

func (e *Executor) handleResponse(resp *http.Response, provider RestConfig) (any, error) {
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, gwerr.Wrap(gwerr.KindTransport, "read response body", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		truncated := string(raw)
		if len(truncated) > maxErrorBodyLen {
			truncated = truncated[:maxErrorBodyLen]
		}
		return nil, gwerr.New(gwerr.KindProtocol, fmt.Sprintf("HTTP %d: %s", resp.StatusCode, truncated))
	}

	isXML := provider.ResponseFormat == "xml" ||
		(provider.ResponseFormat == "" && strings.Contains(resp.Header.Get("Content-Type"), "xml"))

	if isXML {
		return xmlToJSON(raw)
	}

	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return nil, gwerr.Wrap(gwerr.KindProtocol, "parse response body as JSON", err)
	}
	return value, nil
}

// ExtractPath walks a dot-separated selector: numeric segments index
// arrays, other segments key objects. A missing key yields nil, matching
// spec.md's "missing keys yield JSON null".
func ExtractPath(value any, path string) any {
	if path == "" {
		return value
	}
	current := value
	for _, segment := range strings.Split(path, ".") {
		if idx, err := strconv.Atoi(segment); err == nil {
			arr, ok := current.([]any)
			if !ok || idx < 0 || idx >= len(arr) {
				return nil
			}
			current = arr[idx]
			continue
		}
		obj, ok := current.(map[string]any)
		if !ok {
			return nil
		}
		current, ok = obj[segment]
		if !ok {
			return nil
		}
	}
	return current
}

// substituteString replaces every {param} occurrence from params and
// every {env.VAR} occurrence via the secret resolver's template expansion.
func (e *Executor) substituteString(s string, params map[string]any) (string, error) {
	result := placeholderRE.ReplaceAllStringFunc(s, func(match string) string {
		key := match[1 : len(match)-1]
		if strings.HasPrefix(key, "env.") {
			return match // handled by secrets.ResolveTemplate below
		}
		v, ok := params[key]
		if !ok {
			return match
		}
		return stringifyValue(v)
	})
	return e.secrets.ResolveTemplate(result)
}

// substituteValue recursively substitutes strings within arbitrary JSON
// values (objects/arrays recurse; a substituted string that looks like
// JSON is re-parsed).
func (e *Executor) substituteValue(value any, params map[string]any) (any, error) {
	switch v := value.(type) {
	case string:
		substituted, err := e.substituteString(v, params)
		if err != nil {
			return nil, err
		}
		if looksLikeJSON(substituted) {
			var parsed any
			if err := json.Unmarshal([]byte(substituted), &parsed); err == nil {
				return parsed, nil
			}
		}
		return substituted, nil
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			sub, err := e.substituteValue(item, params)
			if err != nil {
				return nil, err
			}
			out[k] = sub
		}
		return out, nil
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			sub, err := e.substituteValue(item, params)
			if err != nil {
				return nil, err
			}
			out[i] = sub
		}
		return out, nil
	default:
		return v, nil
	}
}

func looksLikeJSON(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return false
	}
	return strings.HasPrefix(s, "{") || strings.HasPrefix(s, "[")
}

func stringifyValue(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case nil:
		return ""
	default:
		raw, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(raw)
	}
}

// xmlNode is a generic XML tree used to convert an XML response body into
// the same map[string]any/[]any/string shape JSON decoding would produce.
type xmlNode struct {
	XMLName  xml.Name
	Attrs    []xml.Attr `xml:",any,attr"`
	Content  string     `xml:",chardata"`
	Children []xmlNode  `xml:",any"`
}

func xmlToJSON(raw []byte) (any, error) {
	var root xmlNode
	if err := xml.Unmarshal(raw, &root); err != nil {
		logging.Warn("capability.executor", "failed to parse XML response: %v", err)
		return nil, gwerr.Wrap(gwerr.KindProtocol, "parse response body as XML", err)
	}
	return nodeToValue(root), nil
}

func nodeToValue(n xmlNode) any {
	if len(n.Children) == 0 {
		return strings.TrimSpace(n.Content)
	}
	out := make(map[string]any, len(n.Children))
	for _, child := range n.Children {
		v := nodeToValue(child)
		if existing, ok := out[child.XMLName.Local]; ok {
			switch arr := existing.(type) {
			case []any:
				out[child.XMLName.Local] = append(arr, v)
			default:
				out[child.XMLName.Local] = []any{arr, v}
			}
		} else {
			out[child.XMLName.Local] = v
		}
	}
	return out
}

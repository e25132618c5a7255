// Package secrets resolves credential and secret references without ever
// logging or returning the underlying value in an error. It implements two
// related but distinct resolution styles found in the gateway's backing
// material: ResolveReference resolves a single credential reference used
// for auth-header injection (env:/keychain:/oauth:/bare-name), while
// ResolveTemplate expands inline {env.X}/{keychain.X} patterns embedded in
// an arbitrary template string (header values, URLs).
package secrets

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"runtime"
	"strconv"
	"strings"
	"sync"

	"github.com/giantswarm/mcp-gateway/internal/gwerr"
)

// CredentialSource is the pluggable seam for resolving "oauth:"
// references. env and keychain references are resolved by Resolver itself,
// not through this interface. The package ships OAuth2CredentialSource,
// which delegates to caller-registered token sources; OAuth browser flows
// and on-disk token storage are out of scope (spec.md §1).
type CredentialSource interface {
	// Fetch resolves ref (the part after the "oauth:" prefix, i.e. the
	// provider name) to a plaintext credential.
	Fetch(ctx context.Context, ref string) (string, error)
}

var (
	keychainPattern = regexp.MustCompile(`\{keychain\.([^}]+)\}`)
	envPattern      = regexp.MustCompile(`\{env\.([^}]+)\}`)
)

// Resolver resolves credential references and inline secret-pattern
// templates, memoizing keychain lookups for the life of the process (env
// lookups are never cached, since the environment can change and the
// lookup itself is cheap; oauth references go to the CredentialSource on
// every call).
type Resolver struct {
	oauth CredentialSource

	mu    sync.RWMutex
	cache map[string]string
}

func NewResolver(oauth CredentialSource) *Resolver {
	return &Resolver{oauth: oauth, cache: make(map[string]string)}
}

// ResolveTemplate expands every {keychain.X} and {env.X} occurrence in s.
// A missing environment variable resolves to the empty string, matching
// secrets.rs's `unwrap_or_default()` behavior; a missing keychain entry is
// an error (there is no well-defined default for a missing secret).
func (r *Resolver) ResolveTemplate(s string) (string, error) {
	result := s

	for _, m := range keychainPattern.FindAllStringSubmatch(s, -1) {
		placeholder, service := m[0], m[1]
		secret, err := r.fetchKeychainCached(service)
		if err != nil {
			return "", err
		}
		result = strings.ReplaceAll(result, placeholder, secret)
	}

	for _, m := range envPattern.FindAllStringSubmatch(result, -1) {
		placeholder, name := m[0], m[1]
		result = strings.ReplaceAll(result, placeholder, os.Getenv(name))
	}

	return result, nil
}

func (r *Resolver) fetchKeychainCached(service string) (string, error) {
	r.mu.RLock()
	if v, ok := r.cache[service]; ok {
		r.mu.RUnlock()
		return v, nil
	}
	r.mu.RUnlock()

	secret, err := fetchFromKeychain(service)
	if err != nil {
		return "", err
	}

	r.mu.Lock()
	r.cache[service] = secret
	r.mu.Unlock()
	return secret, nil
}

// ResolveReference resolves a single credential reference used in an
// auth-key context, trying each recognized form in precedence order:
// env:NAME, keychain:SERVICE, oauth:PROVIDER, {env.VAR}, FILE_PATH:dot.path,
// and finally a bare UPPERCASE_NAME interpreted as an env-var name for
// compatibility with the fulcrum capability format.
func (r *Resolver) ResolveReference(ctx context.Context, ref string) (string, error) {
	switch {
	case strings.HasPrefix(ref, "env:"):
		name := strings.TrimPrefix(ref, "env:")
		v, ok := os.LookupEnv(name)
		if !ok {
			return "", gwerr.New(gwerr.KindConfig, fmt.Sprintf("environment variable %q is not set", name))
		}
		return v, nil

	case strings.HasPrefix(ref, "keychain:"):
		service := strings.TrimPrefix(ref, "keychain:")
		return r.fetchKeychainCached(service)

	case strings.HasPrefix(ref, "oauth:"):
		provider := strings.TrimPrefix(ref, "oauth:")
		if r.oauth == nil {
			return "", gwerr.New(gwerr.KindConfig, fmt.Sprintf("no OAuth credential source configured for provider %q", provider))
		}
		return r.oauth.Fetch(ctx, provider)

	case strings.HasPrefix(ref, "{env.") && strings.HasSuffix(ref, "}"):
		name := strings.TrimSuffix(strings.TrimPrefix(ref, "{env."), "}")
		return os.Getenv(name), nil

	case strings.HasPrefix(ref, "FILE_PATH:"):
		return resolveFilePathReference(strings.TrimPrefix(ref, "FILE_PATH:"))

	case looksLikeEnvVarName(ref):
		return os.Getenv(ref), nil

	default:
		return "", gwerr.New(gwerr.KindConfig, fmt.Sprintf("unrecognized credential reference %q", ref))
	}
}

// filePathReferencePattern splits a "FILE_PATH:" reference's remainder into
// the JSON file path and the dotted lookup path within it, the two
// separated by the last ':' so Windows-style drive letters in the file
// path (rare, but possible) don't get mistaken for the separator.
var filePathReferencePattern = regexp.MustCompile(`^(.+):([^:]+)$`)

// resolveFilePathReference implements the FILE_PATH:dot.path resolver
// pattern (spec.md §4.4): reads path as JSON and returns the string value
// at the dotted lookup path within it.
func resolveFilePathReference(remainder string) (string, error) {
	m := filePathReferencePattern.FindStringSubmatch(remainder)
	if m == nil {
		return "", gwerr.New(gwerr.KindConfig, fmt.Sprintf("malformed FILE_PATH reference %q: expected FILE_PATH:<file>:<dot.path>", remainder))
	}
	path, dotPath := m[1], m[2]

	data, err := os.ReadFile(path)
	if err != nil {
		return "", gwerr.Wrap(gwerr.KindConfig, fmt.Sprintf("read secret file %q", path), err)
	}

	var parsed any
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", gwerr.Wrap(gwerr.KindConfig, fmt.Sprintf("parse secret file %q", path), err)
	}

	value := extractDottedPath(parsed, dotPath)
	if value == nil {
		return "", gwerr.New(gwerr.KindConfig, fmt.Sprintf("path %q not found in secret file %q", dotPath, path))
	}

	s, ok := value.(string)
	if !ok {
		return "", gwerr.New(gwerr.KindConfig, fmt.Sprintf("path %q in secret file %q is not a string", dotPath, path))
	}
	return s, nil
}

// extractDottedPath walks a dot-separated selector over decoded JSON:
// numeric segments index arrays, other segments key objects. A missing
// key or out-of-range index yields nil.
func extractDottedPath(value any, path string) any {
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

// looksLikeEnvVarName reports whether ref starts with an ASCII uppercase
// letter and consists only of uppercase letters, digits, and underscores —
// the fulcrum-compatibility bare-name convention.
func looksLikeEnvVarName(ref string) bool {
	if ref == "" || ref[0] < 'A' || ref[0] > 'Z' {
		return false
	}
	for i := 0; i < len(ref); i++ {
		c := ref[i]
		if !(c >= 'A' && c <= 'Z') && !(c >= '0' && c <= '9') && c != '_' {
			return false
		}
	}
	return true
}

func fetchFromKeychain(service string) (string, error) {
	switch runtime.GOOS {
	case "darwin":
		out, err := exec.Command("security", "find-generic-password", "-s", service, "-w").Output()
		if err != nil {
			return "", gwerr.Wrap(gwerr.KindConfig, fmt.Sprintf("keychain entry %q not found", service), err)
		}
		secret := strings.TrimSpace(string(out))
		if secret == "" {
			return "", gwerr.New(gwerr.KindConfig, fmt.Sprintf("keychain entry %q is empty", service))
		}
		return secret, nil

	case "linux":
		out, err := exec.Command("secret-tool", "lookup", "service", service).Output()
		if err != nil {
			return "", gwerr.Wrap(gwerr.KindConfig, fmt.Sprintf("secret-tool entry %q not found", service), err)
		}
		secret := strings.TrimSpace(string(out))
		if secret == "" {
			return "", gwerr.New(gwerr.KindConfig, fmt.Sprintf("secret-tool entry %q is empty", service))
		}
		return secret, nil

	default:
		return "", gwerr.New(gwerr.KindConfig, "keychain access is only supported on macOS and Linux; use {env.VAR} instead")
	}
}

// ClearCache empties the session-scoped keychain memoization cache.
func (r *Resolver) ClearCache() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache = make(map[string]string)
}

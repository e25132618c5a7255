package secrets

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/oauth2"

	"github.com/giantswarm/mcp-gateway/internal/gwerr"
)

// OAuth2CredentialSource is a CredentialSource backed by
// golang.org/x/oauth2 token sources, one per provider name. It never
// persists a token to disk — acquisition and refresh are entirely
// delegated to the caller-supplied oauth2.TokenSource, matching spec.md's
// treatment of OAuth as a pluggable, in-memory-only concern.
type OAuth2CredentialSource struct {
	mu      sync.RWMutex
	sources map[string]oauth2.TokenSource
}

func NewOAuth2CredentialSource() *OAuth2CredentialSource {
	return &OAuth2CredentialSource{sources: make(map[string]oauth2.TokenSource)}
}

// Register associates a provider name with a token source. Typically the
// embedder wraps an *oauth2.Config's TokenSource with
// oauth2.ReuseTokenSource so refreshes are cached in memory.
func (o *OAuth2CredentialSource) Register(provider string, source oauth2.TokenSource) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sources[provider] = source
}

func (o *OAuth2CredentialSource) Fetch(ctx context.Context, provider string) (string, error) {
	o.mu.RLock()
	source, ok := o.sources[provider]
	o.mu.RUnlock()
	if !ok {
		return "", gwerr.New(gwerr.KindConfig, fmt.Sprintf("no OAuth token source registered for provider %q", provider))
	}

	tok, err := source.Token()
	if err != nil {
		return "", gwerr.Wrap(gwerr.KindConfig, fmt.Sprintf("failed to obtain OAuth token for provider %q; re-authenticate", provider), err)
	}
	if !tok.Valid() {
		return "", gwerr.New(gwerr.KindConfig, fmt.Sprintf("OAuth token for provider %q is expired; re-authenticate", provider))
	}
	return tok.AccessToken, nil
}

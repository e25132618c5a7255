package backend

import (
	"context"
	"fmt"
	"sync"

	"github.com/giantswarm/mcp-gateway/internal/gwerr"
	"github.com/giantswarm/mcp-gateway/pkg/logging"
)

// Registry owns every configured backend by name. It is the single place
// that creates and stops Backends, so Stop can broadcast to all of them on
// shutdown.
type Registry struct {
	mu       sync.RWMutex
	backends map[string]*Backend
}

func NewRegistry() *Registry {
	return &Registry{backends: make(map[string]*Backend)}
}

// Register adds a backend built from cfg. Registering a name twice
// replaces the existing entry.
func (r *Registry) Register(cfg Config) *Backend {
	b := New(cfg)
	r.mu.Lock()
	r.backends[cfg.Name] = b
	r.mu.Unlock()
	return b
}

// Get returns the named backend, or a gwerr.KindBackendNotFound error.
func (r *Registry) Get(name string) (*Backend, error) {
	r.mu.RLock()
	b, ok := r.backends[name]
	r.mu.RUnlock()
	if !ok {
		return nil, gwerr.New(gwerr.KindBackendNotFound, fmt.Sprintf("backend %q not found", name))
	}
	return b, nil
}

// All returns every registered backend.
func (r *Registry) All() []*Backend {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Backend, 0, len(r.backends))
	for _, b := range r.backends {
		out = append(out, b)
	}
	return out
}

// WarmStart calls EnsureStarted on every named backend, logging (not
// failing) individual errors, matching meta_mcp.warm_start's best-effort
// startup semantics.
func (r *Registry) WarmStart(ctx context.Context, names []string) {
	for _, name := range names {
		b, err := r.Get(name)
		if err != nil {
			logging.Warn("backend.registry", "warm_start: %v", err)
			continue
		}
		if err := b.EnsureStarted(ctx); err != nil {
			logging.Warn("backend.registry", "warm_start %q: %v", name, err)
		}
	}
}

// StopAll tears down every backend's transport.
func (r *Registry) StopAll() {
	r.mu.RLock()
	backends := make([]*Backend, 0, len(r.backends))
	for _, b := range r.backends {
		backends = append(backends, b)
	}
	r.mu.RUnlock()

	for _, b := range backends {
		if err := b.Stop(); err != nil {
			logging.Warn("backend.registry", "stop %q: %v", b.Name(), err)
		}
	}
}

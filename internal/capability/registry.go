package capability

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/giantswarm/mcp-gateway/internal/gwerr"
	"github.com/giantswarm/mcp-gateway/pkg/logging"
)

// debounceWindow is the quiescence period spec.md §9's "Hot-reload" design
// note requires before a batch of filesystem events triggers a reload.
const debounceWindow = 500 * time.Millisecond

// snapshot is the registry's current, immutable view: active requests keep
// their old *Definition for the duration of the call even if a reload
// replaces it underneath them, since lookups hand back a pointer from
// whichever snapshot was loaded atomically at lookup time.
type snapshot struct {
	byName map[string]*Definition
}

// Registry loads capability YAML files from a directory, validates them,
// and serves them by name. It watches the directory with fsnotify and
// replaces its snapshot in place on change, debounced to avoid reloading
// once per file during a multi-file save.
type Registry struct {
	dir string

	current atomic.Pointer[snapshot]

	watcher *fsnotify.Watcher
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewRegistry loads every *.yaml/*.yml file in dir and returns a Registry
// ready to serve lookups. It does not start watching; call Watch for that.
func NewRegistry(dir string) (*Registry, error) {
	r := &Registry{dir: dir, done: make(chan struct{})}
	if err := r.reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Get returns the named capability definition, or an error classified as
// gwerr.KindCapabilityNotFound if no such capability is loaded.
func (r *Registry) Get(name string) (*Definition, error) {
	snap := r.current.Load()
	def, ok := snap.byName[name]
	if !ok {
		return nil, gwerr.New(gwerr.KindCapabilityNotFound, fmt.Sprintf("capability %q not found", name))
	}
	return def, nil
}

// All returns every currently-loaded capability definition, snapshotted at
// call time.
func (r *Registry) All() []*Definition {
	snap := r.current.Load()
	out := make([]*Definition, 0, len(snap.byName))
	for _, def := range snap.byName {
		out = append(out, def)
	}
	return out
}

func (r *Registry) reload() error {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return gwerr.Wrap(gwerr.KindConfig, fmt.Sprintf("read capability directory %q", r.dir), err)
	}

	byName := make(map[string]*Definition)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml") {
			continue
		}

		path := filepath.Join(r.dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			return gwerr.Wrap(gwerr.KindConfig, fmt.Sprintf("read capability file %q", path), err)
		}
		def, err := ParseYAML(data)
		if err != nil {
			return gwerr.Wrap(gwerr.KindConfig, fmt.Sprintf("parse capability file %q", path), err)
		}
		if _, dup := byName[def.Name]; dup {
			return gwerr.New(gwerr.KindConfig, fmt.Sprintf("duplicate capability name %q in %q", def.Name, path))
		}
		byName[def.Name] = def
	}

	r.current.Store(&snapshot{byName: byName})
	logging.Info("capability.registry", "loaded %d capabilities from %s", len(byName), r.dir)
	return nil
}

// Watch starts an fsnotify watch on the registry's directory and reloads
// (replacing the snapshot in place) on a debounced quiescence window after
// the last filesystem event. It runs until Stop is called or watcher setup
// fails, in which case it logs and returns without watching — a missing
// inotify backend degrades to "load once, never hot-reload" rather than
// crashing the gateway.
func (r *Registry) Watch() {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logging.Warn("capability.registry", "hot-reload disabled: %v", err)
		return
	}
	if err := watcher.Add(r.dir); err != nil {
		logging.Warn("capability.registry", "hot-reload disabled: watch %q: %v", r.dir, err)
		_ = watcher.Close()
		return
	}
	r.watcher = watcher

	r.wg.Add(1)
	go r.watchLoop()
}

func (r *Registry) watchLoop() {
	defer r.wg.Done()

	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-r.done:
			if timer != nil {
				timer.Stop()
			}
			return

		case event, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			if !isYAMLEvent(event) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(debounceWindow)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(debounceWindow)
			}
			timerC = timer.C

		case <-timerC:
			timerC = nil
			if err := r.reload(); err != nil {
				logging.Error("capability.registry", err, "hot-reload failed, keeping previous snapshot")
			}

		case err, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
			logging.Warn("capability.registry", "watch error: %v", err)
		}
	}
}

func isYAMLEvent(event fsnotify.Event) bool {
	return strings.HasSuffix(event.Name, ".yaml") || strings.HasSuffix(event.Name, ".yml")
}

// Stop ends the watch goroutine and closes the underlying fsnotify watcher.
func (r *Registry) Stop() {
	close(r.done)
	if r.watcher != nil {
		_ = r.watcher.Close()
	}
	r.wg.Wait()
}

// Package stats tracks process-wide usage statistics — invocations, cache
// hits, tools discovered via search, and per-tool counts — and derives the
// token/cost savings estimate that justifies the gateway's existence.
package stats

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
)

// tokensPerBackendTool is the assumed per-tool token cost of loading a
// backend tool's full definition into a client's context, used by the
// token-savings estimate.
const tokensPerBackendTool = 150

// metaToolCount is the number of meta-tools the gateway itself exposes in
// place of the full backend tool universe.
const metaToolCount = 4

// Stats is a process-wide, concurrency-safe usage tracker.
type Stats struct {
	totalInvocations atomic.Uint64
	cacheHits        atomic.Uint64
	toolsDiscovered  atomic.Uint64

	mu        sync.Mutex
	toolUsage map[string]*atomic.Uint64
}

func New() *Stats {
	return &Stats{toolUsage: make(map[string]*atomic.Uint64)}
}

// RecordInvocation increments the total invocation counter and the
// per-(server,tool) usage counter.
func (s *Stats) RecordInvocation(server, tool string) {
	s.totalInvocations.Add(1)
	key := server + ":" + tool

	s.mu.Lock()
	counter, ok := s.toolUsage[key]
	if !ok {
		counter = &atomic.Uint64{}
		s.toolUsage[key] = counter
	}
	s.mu.Unlock()

	counter.Add(1)
}

func (s *Stats) RecordCacheHit() { s.cacheHits.Add(1) }

func (s *Stats) RecordSearch(count uint64) { s.toolsDiscovered.Add(count) }

// ToolUsage returns the invocation count recorded for server:tool, or 0.
func (s *Stats) ToolUsage(server, tool string) uint64 {
	s.mu.Lock()
	counter, ok := s.toolUsage[server+":"+tool]
	s.mu.Unlock()
	if !ok {
		return 0
	}
	return counter.Load()
}

// TopTool is one entry in a Snapshot's top-10 most-used tools list.
type TopTool struct {
	Server string
	Tool   string
	Count  uint64
}

// Snapshot is an immutable point-in-time view of the stats tracker.
type Snapshot struct {
	Invocations     uint64
	CacheHits       uint64
	CacheHitRate    float64
	ToolsDiscovered uint64
	ToolsAvailable  int
	TokensSaved     uint64
	TopTools        []TopTool
}

// EstimatedSavingsUSD converts TokensSaved to a dollar figure at the given
// price per million tokens.
func (s Snapshot) EstimatedSavingsUSD(pricePerMillion float64) float64 {
	return float64(s.TokensSaved) * pricePerMillion / 1_000_000.0
}

// Snapshot computes a point-in-time view, given the total number of
// distinct tools available across all backends (used for the token
// savings estimate: without the gateway, a client would load every
// backend tool's definition instead of the gateway's 4 meta-tools).
func (s *Stats) Snapshot(totalBackendTools int) Snapshot {
	invocations := s.totalInvocations.Load()
	cacheHits := s.cacheHits.Load()
	discovered := s.toolsDiscovered.Load()

	var tokensSaved uint64
	if totalBackendTools > metaToolCount {
		tokensSaved = uint64(totalBackendTools-metaToolCount) * tokensPerBackendTool * invocations
	}

	var cacheHitRate float64
	if invocations > 0 {
		cacheHitRate = float64(cacheHits) / float64(invocations)
	}

	return Snapshot{
		Invocations:     invocations,
		CacheHits:       cacheHits,
		CacheHitRate:    cacheHitRate,
		ToolsDiscovered: discovered,
		ToolsAvailable:  totalBackendTools,
		TokensSaved:     tokensSaved,
		TopTools:        s.topTools(10),
	}
}

func (s *Stats) topTools(limit int) []TopTool {
	s.mu.Lock()
	entries := make([]TopTool, 0, len(s.toolUsage))
	for key, counter := range s.toolUsage {
		server, tool := splitKey(key)
		entries = append(entries, TopTool{Server: server, Tool: tool, Count: counter.Load()})
	}
	s.mu.Unlock()

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Count != entries[j].Count {
			return entries[i].Count > entries[j].Count
		}
		return entries[i].Tool < entries[j].Tool
	})

	if len(entries) > limit {
		entries = entries[:limit]
	}
	return entries
}

func splitKey(key string) (server, tool string) {
	for i := 0; i < len(key); i++ {
		if key[i] == ':' {
			return key[:i], key[i+1:]
		}
	}
	return key, ""
}

// CostSavings is a convenience wrapper equivalent to
// Snapshot(totalBackendTools).EstimatedSavingsUSD(pricePerMillion).
func (s *Stats) CostSavings(totalBackendTools int, pricePerMillion float64) float64 {
	return s.Snapshot(totalBackendTools).EstimatedSavingsUSD(pricePerMillion)
}

// String renders a human-readable one-line summary, useful in /health or
// CLI status output.
func (snap Snapshot) String() string {
	return fmt.Sprintf(
		"invocations=%d cache_hit_rate=%.2f tools_discovered=%d tokens_saved=%d",
		snap.Invocations, snap.CacheHitRate, snap.ToolsDiscovered, snap.TokensSaved,
	)
}

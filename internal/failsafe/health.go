package failsafe

import (
	"sort"
	"sync"
	"time"

	"github.com/giantswarm/mcp-gateway/pkg/logging"
)

const unhealthyThreshold = 3

// LatencyHistogram is a fixed-capacity FIFO sample window used to compute
// approximate percentiles. When full, the oldest sample is dropped to make
// room for the newest (original_source's `samples.remove(0)` behavior).
type LatencyHistogram struct {
	mu       sync.Mutex
	capacity int
	samples  []time.Duration
}

func NewLatencyHistogram(capacity int) *LatencyHistogram {
	if capacity <= 0 {
		capacity = 1000
	}
	return &LatencyHistogram{capacity: capacity}
}

func (h *LatencyHistogram) Record(d time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.samples) >= h.capacity {
		h.samples = h.samples[1:]
	}
	h.samples = append(h.samples, d)
}

// Percentile returns the p-th percentile (0 <= p <= 1) of the current
// sample window, or 0 if there are no samples.
func (h *LatencyHistogram) Percentile(p float64) time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := len(h.samples)
	if n == 0 {
		return 0
	}
	sorted := make([]time.Duration, n)
	copy(sorted, h.samples)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	idx := int(float64(n) * p)
	if idx >= n {
		idx = n - 1
	}
	return sorted[idx]
}

// HealthSnapshot is a serializable view of a HealthTracker's state.
type HealthSnapshot struct {
	Healthy             bool          `json:"healthy"`
	TotalSuccesses      uint64        `json:"total_successes"`
	TotalFailures       uint64        `json:"total_failures"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	LastSuccess         *time.Time    `json:"last_success,omitempty"`
	LastFailure         *time.Time    `json:"last_failure,omitempty"`
	P50                 time.Duration `json:"p50"`
	P95                 time.Duration `json:"p95"`
	P99                 time.Duration `json:"p99"`
}

// HealthTracker records success/failure counts and latency samples for a
// backend, and derives a coarse healthy/unhealthy status from consecutive
// failures: unhealthy after 3 in a row, healthy again on the first
// success.
type HealthTracker struct {
	name string

	mu                  sync.Mutex
	healthy             bool
	totalSuccesses      uint64
	totalFailures       uint64
	consecutiveFailures int
	lastSuccess         time.Time
	lastFailure         time.Time

	latency *LatencyHistogram
}

func NewHealthTracker(name string) *HealthTracker {
	return &HealthTracker{name: name, healthy: true, latency: NewLatencyHistogram(1000)}
}

func (h *HealthTracker) RecordSuccess(latency time.Duration) {
	h.latency.Record(latency)

	h.mu.Lock()
	defer h.mu.Unlock()
	h.totalSuccesses++
	h.lastSuccess = time.Now()
	wasUnhealthy := !h.healthy
	h.consecutiveFailures = 0
	h.healthy = true
	if wasUnhealthy {
		logging.Info("failsafe.health", "backend %s recovered", h.name)
	}
}

func (h *HealthTracker) RecordFailure() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.totalFailures++
	h.lastFailure = time.Now()
	h.consecutiveFailures++
	if h.consecutiveFailures >= unhealthyThreshold {
		h.healthy = false
	}
}

func (h *HealthTracker) Healthy() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.healthy
}

func (h *HealthTracker) Snapshot() HealthSnapshot {
	h.mu.Lock()
	snap := HealthSnapshot{
		Healthy:             h.healthy,
		TotalSuccesses:      h.totalSuccesses,
		TotalFailures:       h.totalFailures,
		ConsecutiveFailures: h.consecutiveFailures,
	}
	if !h.lastSuccess.IsZero() {
		t := h.lastSuccess
		snap.LastSuccess = &t
	}
	if !h.lastFailure.IsZero() {
		t := h.lastFailure
		snap.LastFailure = &t
	}
	h.mu.Unlock()

	snap.P50 = h.latency.Percentile(0.50)
	snap.P95 = h.latency.Percentile(0.95)
	snap.P99 = h.latency.Percentile(0.99)
	return snap
}

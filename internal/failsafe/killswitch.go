package failsafe

import (
	"sync"

	"github.com/giantswarm/mcp-gateway/pkg/logging"
)

// ErrorBudgetConfig configures a KillSwitch: once a backend's failure rate
// over its last WindowSize requests exceeds Threshold, the kill switch
// trips and Tripped reports true until Reset is called. The kill switch
// blocks nothing itself, and internal/backend does not consult it.
//
// This supplements spec.md: it is not named in spec.md itself, but is
// grounded in original_source's gateway/meta_mcp.rs import list
// (`kill_switch::{ErrorBudgetConfig, KillSwitch}`). It keeps its own window
// of outcomes and does not read the health tracker or circuit breaker.
type ErrorBudgetConfig struct {
	Enabled    bool
	WindowSize int
	Threshold  float64 // fraction of WindowSize that may fail, e.g. 0.5
}

func DefaultErrorBudgetConfig() ErrorBudgetConfig {
	return ErrorBudgetConfig{Enabled: false, WindowSize: 20, Threshold: 0.5}
}

// KillSwitch is a latch that sits beside the circuit breaker: where the
// breaker recovers automatically after its reset timeout, a tripped kill
// switch stays tripped until explicitly Reset.
type KillSwitch struct {
	name string
	cfg  ErrorBudgetConfig

	mu      sync.Mutex
	outcome []bool // ring buffer of recent outcomes, true = success
	pos     int
	tripped bool
}

func NewKillSwitch(name string, cfg ErrorBudgetConfig) *KillSwitch {
	ks := &KillSwitch{name: name, cfg: cfg}
	if cfg.WindowSize > 0 {
		ks.outcome = make([]bool, 0, cfg.WindowSize)
	}
	return ks
}

func (k *KillSwitch) RecordOutcome(success bool) {
	if !k.cfg.Enabled {
		return
	}
	k.mu.Lock()
	defer k.mu.Unlock()

	if len(k.outcome) < k.cfg.WindowSize {
		k.outcome = append(k.outcome, success)
	} else {
		k.outcome[k.pos%k.cfg.WindowSize] = success
	}
	k.pos++

	if len(k.outcome) < k.cfg.WindowSize {
		return // not enough samples yet to judge
	}
	failures := 0
	for _, ok := range k.outcome {
		if !ok {
			failures++
		}
	}
	rate := float64(failures) / float64(len(k.outcome))
	if rate > k.cfg.Threshold && !k.tripped {
		k.tripped = true
		logging.Warn("failsafe.killswitch", "backend %s tripped: failure rate %.2f exceeds threshold %.2f", k.name, rate, k.cfg.Threshold)
	}
}

// Tripped reports whether the kill switch has tripped since the last Reset.
func (k *KillSwitch) Tripped() bool {
	if !k.cfg.Enabled {
		return false
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.tripped
}

// Reset clears the tripped state and sample window.
func (k *KillSwitch) Reset() {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.tripped = false
	k.outcome = k.outcome[:0]
	k.pos = 0
}

package healthcheck

import (
	"sync"
	"time"
)

// Snapshot describes the latest monitor cycle.
type Snapshot struct {
	LastCycleTime     *time.Time `json:"last_cycle_time"`
	CycleDurationMS   int64      `json:"cycle_duration_ms"`
	ServicesEvaluated int        `json:"services_evaluated"`
	ServicesDown      int        `json:"services_down"`
	MonitorEnabled    bool       `json:"monitor_enabled"`
}

// Tracker records monitor cycles for the health endpoints.
type Tracker struct {
	mu                sync.RWMutex
	now               func() time.Time
	lastCycle         time.Time
	cycleDuration     time.Duration
	servicesEvaluated int
	servicesDown      int
	monitorEnabled    bool
	ready             bool
}

// NewTracker constructs a Tracker for a process that runs the background monitor.
func NewTracker() *Tracker {
	return &Tracker{now: time.Now, monitorEnabled: true}
}

// NewAPIOnlyTracker constructs a Tracker for a process without a background
// monitor. It is ready immediately.
func NewAPIOnlyTracker() *Tracker {
	return &Tracker{now: time.Now, ready: true}
}

// RecordCycle stores the outcome of one monitor pass and marks the tracker ready.
func (t *Tracker) RecordCycle(duration time.Duration, evaluated, down int) {
	if t == nil {
		return
	}
	now := t.now().UTC()
	t.mu.Lock()
	t.lastCycle = now
	t.cycleDuration = duration
	t.servicesEvaluated = evaluated
	t.servicesDown = down
	t.ready = true
	t.mu.Unlock()
}

// Snapshot returns the current tracker snapshot.
func (t *Tracker) Snapshot() Snapshot {
	if t == nil {
		return Snapshot{}
	}
	t.mu.RLock()
	defer t.mu.RUnlock()

	var last *time.Time
	if !t.lastCycle.IsZero() {
		value := t.lastCycle
		last = &value
	}
	return Snapshot{
		LastCycleTime:     last,
		CycleDurationMS:   int64(t.cycleDuration / time.Millisecond),
		ServicesEvaluated: t.servicesEvaluated,
		ServicesDown:      t.servicesDown,
		MonitorEnabled:    t.monitorEnabled,
	}
}

// Ready reports whether the process can serve checks.
func (t *Tracker) Ready() bool {
	if t == nil {
		return false
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.ready
}

// Healthy reports whether the last cycle completed within 2x the monitor
// interval. Without a monitor the process is healthy while it runs.
func (t *Tracker) Healthy(now time.Time, interval time.Duration) bool {
	if t == nil {
		return false
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	if !t.monitorEnabled {
		return true
	}
	if interval <= 0 || t.lastCycle.IsZero() {
		return false
	}
	return now.Sub(t.lastCycle) <= 2*interval
}

// Package sla tracks per-target rolling compliance against service-level
// commitments and flags the actionable breaches that warrant an incident.
package sla

import (
	"sync"
	"time"

	"github.com/adaptiveops/optiwatch/pkg/metrics"
)

// observation is one classified sample inside a target's rolling window.
type observation struct {
	at        time.Time
	value     float64
	compliant bool
}

// ComplianceStatus is the queryable state of one target.
type ComplianceStatus struct {
	Target           string  `json:"target"`
	Metric           string  `json:"metric_name"`
	Rate             float64 `json:"compliance_rate"`
	CurrentValue     float64 `json:"current_value"`
	CurrentCompliant bool    `json:"current_compliant"`
	SampleCount      int     `json:"sample_count"`
}

// BreachEvent is emitted when a sample crosses a target's breach threshold.
// Only actionable breaches are emitted; plain target misses just lower the
// compliance rate.
type BreachEvent struct {
	Target   Target
	Value    float64
	At       time.Time
	Critical bool
}

// Tracker accumulates rolling compliance windows per target. Safe for
// concurrent use.
type Tracker struct {
	mu      sync.RWMutex
	targets map[string]Target
	windows map[string][]observation
	now     func() time.Time
}

// NewTracker builds a tracker for the given targets.
func NewTracker(targets []Target) *Tracker {
	t := &Tracker{
		targets: make(map[string]Target),
		windows: make(map[string][]observation),
		now:     time.Now,
	}
	t.SetTargets(targets)
	return t
}

// SetTargets replaces the target set at runtime. Rolling windows of targets
// that survive the swap are kept so a reload does not reset compliance state.
func (t *Tracker) SetTargets(targets []Target) {
	t.mu.Lock()
	defer t.mu.Unlock()

	next := make(map[string]Target, len(targets))
	for _, target := range targets {
		next[target.Name] = target
	}
	for name := range t.windows {
		if _, kept := next[name]; !kept {
			delete(t.windows, name)
		}
	}
	t.targets = next
}

// Targets returns a copy of the current target set.
func (t *Tracker) Targets() []Target {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Target, 0, len(t.targets))
	for _, target := range t.targets {
		out = append(out, target)
	}
	return out
}

// Observe classifies one sample against every target watching its metric,
// updates the rolling windows, and returns any actionable breach events.
func (t *Tracker) Observe(sample metrics.Sample) []BreachEvent {
	t.mu.Lock()
	defer t.mu.Unlock()

	var breaches []BreachEvent
	for name, target := range t.targets {
		if target.Metric != sample.Name {
			continue
		}
		obs := observation{
			at:        sample.Timestamp,
			value:     sample.Value,
			compliant: target.compliant(sample.Value),
		}
		window := append(t.windows[name], obs)
		t.windows[name] = trim(window, t.now().UTC().Add(-target.Window))

		if target.breached(sample.Value) {
			breaches = append(breaches, BreachEvent{
				Target:   target,
				Value:    sample.Value,
				At:       sample.Timestamp,
				Critical: target.Critical(sample.Value),
			})
		}
	}
	return breaches
}

// Status returns the compliance state of one target. A window with no samples
// reports a rate of 1.0: absence of evidence is not evidence of breach.
func (t *Tracker) Status(name string) (ComplianceStatus, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	target, ok := t.targets[name]
	if !ok {
		return ComplianceStatus{}, false
	}
	return t.statusLocked(target), true
}

// Summary returns the compliance state of every target keyed by target name.
func (t *Tracker) Summary() map[string]ComplianceStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]ComplianceStatus, len(t.targets))
	for name, target := range t.targets {
		out[name] = t.statusLocked(target)
	}
	return out
}

// CurrentlyCompliant reports whether the most recent sample for a target
// satisfies its bound. Unknown targets and empty windows report false so that
// auto-resolution never fires without positive evidence of recovery.
func (t *Tracker) CurrentlyCompliant(name string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	window := t.windows[name]
	if len(window) == 0 {
		return false
	}
	return window[len(window)-1].compliant
}

func (t *Tracker) statusLocked(target Target) ComplianceStatus {
	window := trim(t.windows[target.Name], t.now().UTC().Add(-target.Window))
	status := ComplianceStatus{
		Target:      target.Name,
		Metric:      target.Metric,
		Rate:        1.0,
		SampleCount: len(window),
	}
	if len(window) == 0 {
		return status
	}

	compliantCount := 0
	for _, obs := range window {
		if obs.compliant {
			compliantCount++
		}
	}
	last := window[len(window)-1]
	status.Rate = float64(compliantCount) / float64(len(window))
	status.CurrentValue = last.value
	status.CurrentCompliant = last.compliant
	return status
}

// SetClock overrides the tracker's clock. Intended for tests.
func (t *Tracker) SetClock(now func() time.Time) {
	t.mu.Lock()
	t.now = now
	t.mu.Unlock()
}

func trim(window []observation, cutoff time.Time) []observation {
	idx := 0
	for idx < len(window) && window[idx].at.Before(cutoff) {
		idx++
	}
	if idx == 0 {
		return window
	}
	return append([]observation(nil), window[idx:]...)
}

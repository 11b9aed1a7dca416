package incident

import (
	"fmt"
	"time"
)

// EscalationLevel is one step of a policy's notification ladder, gated by
// elapsed time since the incident triggered.
type EscalationLevel struct {
	After  time.Duration
	Notify []string
}

// Policy is an ordered escalation ladder. Level k of an incident corresponds
// to Levels[k-1]; level 0 is the un-escalated initial state.
type Policy struct {
	Name   string
	Levels []EscalationLevel
}

// NewPolicy validates and builds a policy. Non-monotonic level durations are
// a construction-time failure, the one condition the engine treats as fatal.
func NewPolicy(name string, levels []EscalationLevel) (Policy, error) {
	var prev time.Duration
	for i, level := range levels {
		if level.After <= 0 {
			return Policy{}, fmt.Errorf("policy %s: escalation_levels[%d].after_duration must be positive", name, i)
		}
		if i > 0 && level.After <= prev {
			return Policy{}, fmt.Errorf("policy %s: escalation_levels[%d].after_duration %s must exceed previous %s",
				name, i, level.After, prev)
		}
		prev = level.After
	}
	return Policy{Name: name, Levels: levels}, nil
}

package sla

import (
	"fmt"
	"strings"
	"time"
)

// Direction states whether larger or smaller values are healthier for a
// metric.
type Direction int

const (
	LowerIsBetter Direction = iota
	HigherIsBetter
)

func (d Direction) String() string {
	if d == HigherIsBetter {
		return "higher_is_better"
	}
	return "lower_is_better"
}

// ParseDirection maps a config string to a Direction.
func ParseDirection(raw string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "lower_is_better", "lower-is-better", "lower":
		return LowerIsBetter, nil
	case "higher_is_better", "higher-is-better", "higher":
		return HigherIsBetter, nil
	default:
		return 0, fmt.Errorf("unsupported comparison direction %q", raw)
	}
}

// Target is one named service-level commitment on a metric.
//
// TargetValue is the compliance bound; BreachThreshold is a strictly worse
// bound that makes a breach actionable (incident-worthy). The gap between the
// two keeps minor target misses from turning into alert storms.
type Target struct {
	Name            string
	Metric          string
	TargetValue     float64
	Window          time.Duration
	BreachThreshold float64
	Direction       Direction
	// WarningThreshold and CriticalThreshold classify incident severity when
	// a breach is actionable.
	WarningThreshold  float64
	CriticalThreshold float64
}

// compliant reports whether a value satisfies the target bound.
func (t Target) compliant(value float64) bool {
	if t.Direction == HigherIsBetter {
		return value >= t.TargetValue
	}
	return value <= t.TargetValue
}

// breached reports whether a value crosses the stricter breach bound.
func (t Target) breached(value float64) bool {
	if t.Direction == HigherIsBetter {
		return value < t.BreachThreshold
	}
	return value > t.BreachThreshold
}

// Critical reports whether a value is past the critical severity cutoff.
func (t Target) Critical(value float64) bool {
	if t.CriticalThreshold == 0 {
		return false
	}
	if t.Direction == HigherIsBetter {
		return value < t.CriticalThreshold
	}
	return value > t.CriticalThreshold
}

// Validate rejects malformed targets with an error naming the field.
func (t Target) Validate() error {
	if strings.TrimSpace(t.Name) == "" {
		return fmt.Errorf("target name is required")
	}
	if strings.TrimSpace(t.Metric) == "" {
		return fmt.Errorf("target %s: metric_name is required", t.Name)
	}
	if t.Window <= 0 {
		return fmt.Errorf("target %s: measurement_window must be positive", t.Name)
	}
	if t.Direction == LowerIsBetter && t.BreachThreshold < t.TargetValue {
		return fmt.Errorf("target %s: breach_threshold must be >= target_value for lower_is_better", t.Name)
	}
	if t.Direction == HigherIsBetter && t.BreachThreshold > t.TargetValue {
		return fmt.Errorf("target %s: breach_threshold must be <= target_value for higher_is_better", t.Name)
	}
	return nil
}

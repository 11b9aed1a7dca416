// Package rules evaluates declarative optimization rules against current and
// trending metrics and dispatches the actions of the rules that fire.
package rules

import (
	"fmt"
	"strings"
	"time"
)

// Op is the closed set of condition operators. Parsing happens once at config
// load; evaluation switches exhaustively over the variants.
type Op int

const (
	OpGreaterThan Op = iota
	OpLessThan
	OpEquals
	// OpPredictedIncrease compares a one-step linear extrapolation against a
	// relative fractional increase threshold.
	OpPredictedIncrease
)

func (op Op) String() string {
	switch op {
	case OpGreaterThan:
		return "gt"
	case OpLessThan:
		return "lt"
	case OpEquals:
		return "eq"
	case OpPredictedIncrease:
		return "predicted_increase"
	default:
		return fmt.Sprintf("op(%d)", int(op))
	}
}

// ParseOp maps a config string to an operator.
func ParseOp(raw string) (Op, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "gt":
		return OpGreaterThan, nil
	case "lt":
		return OpLessThan, nil
	case "eq":
		return OpEquals, nil
	case "predicted_increase":
		return OpPredictedIncrease, nil
	default:
		return 0, fmt.Errorf("unsupported operator %q", raw)
	}
}

// Condition is one trigger clause of a rule. When Sustained is non-zero the
// condition must have held continuously for at least that long.
type Condition struct {
	Metric    string
	Op        Op
	Value     float64
	Sustained time.Duration
}

// ActionRef names a registered action and its parameters.
type ActionRef struct {
	Name   string
	Params map[string]string
}

// Rule pairs trigger conditions (AND semantics) with remediation actions.
// Lower Priority executes first when several rules fire in one tick.
type Rule struct {
	ID         string
	Name       string
	Conditions []Condition
	Actions    []ActionRef
	Priority   int
	Enabled    bool
}

// Validate rejects malformed rules with an error naming the field.
func (r Rule) Validate() error {
	if strings.TrimSpace(r.ID) == "" {
		return fmt.Errorf("rule id is required")
	}
	if len(r.Conditions) == 0 {
		return fmt.Errorf("rule %s: trigger_conditions must not be empty", r.ID)
	}
	for i, c := range r.Conditions {
		if strings.TrimSpace(c.Metric) == "" {
			return fmt.Errorf("rule %s: conditions[%d].metric_name is required", r.ID, i)
		}
		if c.Sustained < 0 {
			return fmt.Errorf("rule %s: conditions[%d].sustained_duration must not be negative", r.ID, i)
		}
	}
	if len(r.Actions) == 0 {
		return fmt.Errorf("rule %s: actions must not be empty", r.ID)
	}
	for i, a := range r.Actions {
		if strings.TrimSpace(a.Name) == "" {
			return fmt.Errorf("rule %s: actions[%d].name is required", r.ID, i)
		}
	}
	return nil
}

package rules

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/adaptiveops/optiwatch/pkg/actions"
	"github.com/adaptiveops/optiwatch/pkg/metrics"
	"github.com/adaptiveops/optiwatch/pkg/trend"
)

// DefaultHistorySize bounds the optimization history ring.
const DefaultHistorySize = 500

// defaultPredictionWindow is the trailing span fed to the one-step predictor
// for predicted_increase conditions.
const defaultPredictionWindow = 10 * time.Minute

// MetricView is the read surface the engine needs from the metric store.
type MetricView interface {
	Latest(name string) (metrics.Sample, bool)
	WindowValues(name string, d time.Duration) []float64
}

// Dispatcher runs one named action and reports its recorded outcome.
type Dispatcher interface {
	Execute(ctx context.Context, name string, params map[string]string) actions.Result
}

// Execution is one appended optimization-history entry.
type Execution struct {
	RuleID   string           `json:"rule_id"`
	RuleName string           `json:"rule_name"`
	At       time.Time        `json:"at"`
	Results  []actions.Result `json:"results"`
}

// Failed counts the action results that did not succeed.
func (e Execution) Failed() int {
	n := 0
	for _, r := range e.Results {
		if !r.Success {
			n++
		}
	}
	return n
}

// Engine evaluates rules each tick and dispatches fired actions in ascending
// priority order. Action execution happens outside the engine's lock.
type Engine struct {
	mu               sync.RWMutex
	rules            []Rule
	held             map[string]time.Time // condition key -> first continuously-held instant
	history          []Execution
	historySize      int
	view             MetricView
	dispatcher       Dispatcher
	predictionWindow time.Duration
	now              func() time.Time
}

// NewEngine builds a rule engine over a metric view and an action dispatcher.
func NewEngine(view MetricView, dispatcher Dispatcher) *Engine {
	return &Engine{
		held:             make(map[string]time.Time),
		historySize:      DefaultHistorySize,
		view:             view,
		dispatcher:       dispatcher,
		predictionWindow: defaultPredictionWindow,
		now:              time.Now,
	}
}

// SetRules replaces the rule set at runtime. Sustained-condition timers of
// rules that survive the swap are kept.
func (e *Engine) SetRules(rules []Rule) error {
	for _, r := range rules {
		if err := r.Validate(); err != nil {
			return err
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	keep := make(map[string]struct{}, len(rules))
	for _, r := range rules {
		keep[r.ID] = struct{}{}
	}
	for key := range e.held {
		if _, ok := keep[conditionRuleID(key)]; !ok {
			delete(e.held, key)
		}
	}
	e.rules = append([]Rule(nil), rules...)
	return nil
}

// Rules returns a copy of the current rule set.
func (e *Engine) Rules() []Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]Rule(nil), e.rules...)
}

// EvaluateTick runs one evaluation cycle and returns the executions it
// appended to the history. Disabled rules are never evaluated; their sustained
// timers do not advance.
func (e *Engine) EvaluateTick(ctx context.Context) []Execution {
	now := e.nowUTC()

	e.mu.Lock()
	fired := make([]Rule, 0)
	for _, rule := range e.rules {
		if !rule.Enabled {
			continue
		}
		if e.ruleSatisfiedLocked(rule, now) {
			fired = append(fired, rule)
		}
	}
	e.mu.Unlock()

	if len(fired) == 0 {
		return nil
	}

	sort.SliceStable(fired, func(i, j int) bool {
		if fired[i].Priority != fired[j].Priority {
			return fired[i].Priority < fired[j].Priority
		}
		return fired[i].ID < fired[j].ID
	})

	executions := make([]Execution, 0, len(fired))
	for _, rule := range fired {
		exec := Execution{RuleID: rule.ID, RuleName: rule.Name, At: now}
		for _, ref := range rule.Actions {
			result := e.dispatcher.Execute(ctx, ref.Name, ref.Params)
			if !result.Success {
				log.Printf("[rules] rule %s action %s failed: %s", rule.ID, ref.Name, result.Detail)
			}
			exec.Results = append(exec.Results, result)
		}
		executions = append(executions, exec)
	}

	e.mu.Lock()
	e.history = append(e.history, executions...)
	if overflow := len(e.history) - e.historySize; overflow > 0 {
		e.history = append([]Execution(nil), e.history[overflow:]...)
	}
	e.mu.Unlock()

	return executions
}

// History returns the recorded executions, oldest first.
func (e *Engine) History() []Execution {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]Execution(nil), e.history...)
}

// ruleSatisfiedLocked evaluates all conditions of one rule (logical AND),
// advancing or resetting their sustained timers.
func (e *Engine) ruleSatisfiedLocked(rule Rule, now time.Time) bool {
	satisfied := true
	for i, cond := range rule.Conditions {
		key := conditionKey(rule.ID, i)
		if !e.conditionHolds(cond) {
			delete(e.held, key)
			satisfied = false
			continue
		}
		start, tracked := e.held[key]
		if !tracked {
			start = now
			e.held[key] = start
		}
		if now.Sub(start) < cond.Sustained {
			satisfied = false
		}
	}
	return satisfied
}

// conditionHolds checks one condition against the metric view. A metric with
// no current sample never holds.
func (e *Engine) conditionHolds(cond Condition) bool {
	switch cond.Op {
	case OpGreaterThan, OpLessThan, OpEquals:
		latest, ok := e.view.Latest(cond.Metric)
		if !ok {
			return false
		}
		switch cond.Op {
		case OpGreaterThan:
			return latest.Value > cond.Value
		case OpLessThan:
			return latest.Value < cond.Value
		default:
			return latest.Value == cond.Value
		}
	case OpPredictedIncrease:
		values := e.view.WindowValues(cond.Metric, e.predictionWindow)
		predicted, ok := trend.PredictNext(values)
		if !ok {
			return false
		}
		last := values[len(values)-1]
		return predicted > last*(1+cond.Value)
	default:
		return false
	}
}

// SetPredictionWindow overrides the trailing span used by predicted_increase.
func (e *Engine) SetPredictionWindow(d time.Duration) {
	if d <= 0 {
		return
	}
	e.mu.Lock()
	e.predictionWindow = d
	e.mu.Unlock()
}

// SetHistorySize bounds the optimization history ring.
func (e *Engine) SetHistorySize(n int) {
	if n <= 0 {
		return
	}
	e.mu.Lock()
	e.historySize = n
	e.mu.Unlock()
}

// SetClock overrides the engine's clock. Intended for tests.
func (e *Engine) SetClock(now func() time.Time) {
	e.mu.Lock()
	e.now = now
	e.mu.Unlock()
}

func (e *Engine) nowUTC() time.Time {
	e.mu.RLock()
	now := e.now
	e.mu.RUnlock()
	return now().UTC()
}

func conditionKey(ruleID string, idx int) string {
	return fmt.Sprintf("%s/%d", ruleID, idx)
}

func conditionRuleID(key string) string {
	for i := len(key) - 1; i >= 0; i-- {
		if key[i] == '/' {
			return key[:i]
		}
	}
	return key
}

package rules

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/adaptiveops/optiwatch/pkg/actions"
	"github.com/adaptiveops/optiwatch/pkg/metrics"
)

// fakeView serves canned latest values and windows.
type fakeView struct {
	mu      sync.Mutex
	latest  map[string]float64
	windows map[string][]float64
}

func newFakeView() *fakeView {
	return &fakeView{latest: make(map[string]float64), windows: make(map[string][]float64)}
}

func (v *fakeView) set(name string, value float64) {
	v.mu.Lock()
	v.latest[name] = value
	v.mu.Unlock()
}

func (v *fakeView) Latest(name string) (metrics.Sample, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	value, ok := v.latest[name]
	return metrics.Sample{Name: name, Value: value}, ok
}

func (v *fakeView) WindowValues(name string, _ time.Duration) []float64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.windows[name]
}

// recordingDispatcher records calls instead of touching infrastructure.
type recordingDispatcher struct {
	mu    sync.Mutex
	calls []string
	fail  map[string]bool
}

func (d *recordingDispatcher) Execute(_ context.Context, name string, _ map[string]string) actions.Result {
	d.mu.Lock()
	d.calls = append(d.calls, name)
	failed := d.fail[name]
	d.mu.Unlock()
	if failed {
		return actions.Result{Action: name, Success: false, Detail: "handler refused", Err: fmt.Errorf("handler refused")}
	}
	return actions.Result{Action: name, Success: true, Detail: "ok"}
}

func simpleRule(id string, priority int, actionNames ...string) Rule {
	refs := make([]ActionRef, 0, len(actionNames))
	for _, a := range actionNames {
		refs = append(refs, ActionRef{Name: a})
	}
	return Rule{
		ID:         id,
		Name:       id,
		Conditions: []Condition{{Metric: "cpu", Op: OpGreaterThan, Value: 0.8}},
		Actions:    refs,
		Priority:   priority,
		Enabled:    true,
	}
}

func TestDisabledRuleNeverEvaluated(t *testing.T) {
	view := newFakeView()
	view.set("cpu", 0.95)
	dispatcher := &recordingDispatcher{}
	engine := NewEngine(view, dispatcher)

	rule := simpleRule("r1", 1, "scale-out")
	rule.Enabled = false
	if err := engine.SetRules([]Rule{rule}); err != nil {
		t.Fatalf("set rules: %v", err)
	}

	if got := engine.EvaluateTick(context.Background()); len(got) != 0 {
		t.Fatalf("disabled rule fired: %+v", got)
	}
	if len(dispatcher.calls) != 0 {
		t.Fatalf("dispatcher called for disabled rule: %v", dispatcher.calls)
	}
}

func TestPriorityOrdersExecution(t *testing.T) {
	view := newFakeView()
	view.set("cpu", 0.95)
	dispatcher := &recordingDispatcher{}
	engine := NewEngine(view, dispatcher)

	if err := engine.SetRules([]Rule{
		simpleRule("low", 10, "enable-compression"),
		simpleRule("high", 1, "scale-out"),
	}); err != nil {
		t.Fatalf("set rules: %v", err)
	}

	execs := engine.EvaluateTick(context.Background())
	if len(execs) != 2 {
		t.Fatalf("expected 2 executions, got %d", len(execs))
	}
	if execs[0].RuleID != "high" || execs[1].RuleID != "low" {
		t.Fatalf("wrong order: %s then %s", execs[0].RuleID, execs[1].RuleID)
	}
	if dispatcher.calls[0] != "scale-out" || dispatcher.calls[1] != "enable-compression" {
		t.Fatalf("dispatch order: %v", dispatcher.calls)
	}
}

func TestActionFailureDoesNotBlockSiblings(t *testing.T) {
	view := newFakeView()
	view.set("cpu", 0.95)
	dispatcher := &recordingDispatcher{fail: map[string]bool{"scale-out": true}}
	engine := NewEngine(view, dispatcher)

	if err := engine.SetRules([]Rule{simpleRule("r1", 1, "scale-out", "enable-compression")}); err != nil {
		t.Fatalf("set rules: %v", err)
	}

	execs := engine.EvaluateTick(context.Background())
	if len(execs) != 1 {
		t.Fatalf("expected 1 execution, got %d", len(execs))
	}
	if len(execs[0].Results) != 2 {
		t.Fatalf("both actions must run, got %d results", len(execs[0].Results))
	}
	if execs[0].Results[0].Success || !execs[0].Results[1].Success {
		t.Fatalf("unexpected outcomes: %+v", execs[0].Results)
	}
	if execs[0].Failed() != 1 {
		t.Fatalf("failed count: got %d", execs[0].Failed())
	}
}

func TestSustainedDurationResetsOnGap(t *testing.T) {
	view := newFakeView()
	dispatcher := &recordingDispatcher{}
	engine := NewEngine(view, dispatcher)

	rule := simpleRule("cpu-sustained", 1, "scale-out")
	rule.Conditions = []Condition{{Metric: "cpu", Op: OpGreaterThan, Value: 0.8, Sustained: 3 * time.Minute}}
	if err := engine.SetRules([]Rule{rule}); err != nil {
		t.Fatalf("set rules: %v", err)
	}

	base := time.Unix(0, 0).UTC()
	clock := base
	engine.SetClock(func() time.Time { return clock })

	// cpu alternates 0.9, 0.7, 0.9 every minute; the hold never lasts 3m.
	values := []float64{0.9, 0.7, 0.9, 0.7, 0.9, 0.7, 0.9, 0.7}
	for i, v := range values {
		clock = base.Add(time.Duration(i) * time.Minute)
		view.set("cpu", v)
		if execs := engine.EvaluateTick(context.Background()); len(execs) != 0 {
			t.Fatalf("tick %d (cpu=%v): rule fired before sustained duration", i, v)
		}
	}
}

func TestSustainedDurationFiresAtDeadline(t *testing.T) {
	view := newFakeView()
	view.set("cpu", 0.9)
	dispatcher := &recordingDispatcher{}
	engine := NewEngine(view, dispatcher)

	rule := simpleRule("cpu-sustained", 1, "scale-out")
	rule.Conditions = []Condition{{Metric: "cpu", Op: OpGreaterThan, Value: 0.8, Sustained: 3 * time.Minute}}
	if err := engine.SetRules([]Rule{rule}); err != nil {
		t.Fatalf("set rules: %v", err)
	}

	base := time.Unix(0, 0).UTC()
	clock := base
	engine.SetClock(func() time.Time { return clock })

	for i := 0; i < 3; i++ {
		clock = base.Add(time.Duration(i) * time.Minute)
		if execs := engine.EvaluateTick(context.Background()); len(execs) != 0 {
			t.Fatalf("tick %d: fired before 3m held", i)
		}
	}

	// First tick at or after the deadline fires.
	clock = base.Add(3 * time.Minute)
	execs := engine.EvaluateTick(context.Background())
	if len(execs) != 1 {
		t.Fatalf("expected rule to fire at deadline, got %d executions", len(execs))
	}
}

func TestPredictedIncreaseCondition(t *testing.T) {
	view := newFakeView()
	dispatcher := &recordingDispatcher{}
	engine := NewEngine(view, dispatcher)

	rule := simpleRule("traffic-growth", 1, "scale-out")
	rule.Conditions = []Condition{{Metric: "rps", Op: OpPredictedIncrease, Value: 0.10}}
	if err := engine.SetRules([]Rule{rule}); err != nil {
		t.Fatalf("set rules: %v", err)
	}

	// Slope 50 on last value 200: predicted 250 > 200*1.10.
	view.windows["rps"] = []float64{100, 150, 200}
	if execs := engine.EvaluateTick(context.Background()); len(execs) != 1 {
		t.Fatalf("expected predicted increase to fire, got %d", len(execs))
	}

	// Flat series predicts no increase.
	view.windows["rps"] = []float64{200, 200, 200}
	if execs := engine.EvaluateTick(context.Background()); len(execs) != 0 {
		t.Fatalf("flat series fired: %d", len(execs))
	}

	// Two points are insufficient for a prediction.
	view.windows["rps"] = []float64{100, 200}
	if execs := engine.EvaluateTick(context.Background()); len(execs) != 0 {
		t.Fatalf("insufficient window fired: %d", len(execs))
	}
}

func TestHistoryIsBounded(t *testing.T) {
	view := newFakeView()
	view.set("cpu", 0.95)
	dispatcher := &recordingDispatcher{}
	engine := NewEngine(view, dispatcher)
	engine.SetHistorySize(3)

	if err := engine.SetRules([]Rule{simpleRule("r1", 1, "scale-out")}); err != nil {
		t.Fatalf("set rules: %v", err)
	}
	for i := 0; i < 10; i++ {
		engine.EvaluateTick(context.Background())
	}

	history := engine.History()
	if len(history) != 3 {
		t.Fatalf("history not bounded: got %d", len(history))
	}
	if history[0].RuleID != "r1" {
		t.Fatalf("unexpected history entry: %+v", history[0])
	}
}

func TestSetRulesValidates(t *testing.T) {
	engine := NewEngine(newFakeView(), &recordingDispatcher{})
	err := engine.SetRules([]Rule{{ID: "bad", Enabled: true}})
	if err == nil {
		t.Fatal("expected validation error")
	}
}

func TestParseOp(t *testing.T) {
	for raw, want := range map[string]Op{
		"gt": OpGreaterThan, "lt": OpLessThan, "eq": OpEquals, "predicted_increase": OpPredictedIncrease,
	} {
		got, err := ParseOp(raw)
		if err != nil || got != want {
			t.Fatalf("parse %q: got %v err %v", raw, got, err)
		}
	}
	if _, err := ParseOp("between"); err == nil {
		t.Fatal("expected error for unknown operator")
	}
}

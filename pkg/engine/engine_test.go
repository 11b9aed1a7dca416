package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/adaptiveops/optiwatch/pkg/engcfg"
	"github.com/adaptiveops/optiwatch/pkg/metrics"
	"github.com/adaptiveops/optiwatch/pkg/rules"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recordingArchiver struct {
	mu    sync.Mutex
	execs []rules.Execution
}

func (a *recordingArchiver) ArchiveExecution(exec rules.Execution) error {
	a.mu.Lock()
	a.execs = append(a.execs, exec)
	a.mu.Unlock()
	return nil
}

func (a *recordingArchiver) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.execs)
}

func testConfig() engcfg.Config {
	cfg := engcfg.Default()
	cfg.Ingest.SamplesPerSecondLimit = 10000
	cfg.SLATargets = []engcfg.TargetConfig{{
		Name:              "api-latency",
		Metric:            "app.latency_ms",
		TargetValue:       400,
		WindowMinutes:     30,
		BreachThreshold:   500,
		Direction:         "lower_is_better",
		CriticalThreshold: 800,
		EscalationLevels: []engcfg.EscalationLevelConfig{
			{AfterMinutes: 5, Notify: []string{"oncall"}},
		},
	}}
	cfg.Rules = []engcfg.RuleConfig{{
		ID:       "cache-on-slow-latency",
		Name:     "Grow cache when latency is high",
		Priority: 10,
		Conditions: []engcfg.ConditionConfig{{
			Metric: "app.latency_ms",
			Op:     "gt",
			Value:  400,
		}},
		Actions: []engcfg.ActionConfig{{
			Name:   "increase-cache-size",
			Params: map[string]string{"step_mb": "256"},
		}},
	}}
	return cfg
}

func newTestEngine(t *testing.T, cfg engcfg.Config, opts Options) (*Engine, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	opts.Clock = clock.Now
	e, err := New(cfg, opts)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return e, clock
}

func record(t *testing.T, e *Engine, clock *fakeClock, name string, value float64) {
	t.Helper()
	if err := e.RecordMetric(metrics.New(clock.Now(), name, value, nil)); err != nil {
		t.Fatalf("record %s=%v: %v", name, value, err)
	}
}

func TestBreachOpensSingleIncident(t *testing.T) {
	e, clock := newTestEngine(t, testConfig(), Options{})

	// Compliant samples: no incident.
	for i := 0; i < 3; i++ {
		record(t, e, clock, "app.latency_ms", 350)
		clock.Advance(time.Minute)
	}
	if got := len(e.ActiveIncidents()); got != 0 {
		t.Fatalf("expected no incidents while compliant, got %d", got)
	}

	// Target miss below the breach threshold lowers the rate but opens
	// nothing.
	record(t, e, clock, "app.latency_ms", 450)
	clock.Advance(time.Minute)
	if got := len(e.ActiveIncidents()); got != 0 {
		t.Fatalf("expected no incidents for non-actionable miss, got %d", got)
	}

	// Actionable breach opens exactly one incident; a second breach while
	// it is active does not duplicate.
	record(t, e, clock, "app.latency_ms", 620)
	clock.Advance(time.Minute)
	record(t, e, clock, "app.latency_ms", 640)

	active := e.ActiveIncidents()
	if len(active) != 1 {
		t.Fatalf("expected 1 incident, got %d", len(active))
	}
	if active[0].SLATarget != "api-latency" {
		t.Fatalf("unexpected target: %s", active[0].SLATarget)
	}
}

func TestCriticalBreachSeverity(t *testing.T) {
	e, clock := newTestEngine(t, testConfig(), Options{})

	record(t, e, clock, "app.latency_ms", 900)
	active := e.ActiveIncidents()
	if len(active) != 1 {
		t.Fatalf("expected 1 incident, got %d", len(active))
	}
	if string(active[0].Severity) != "critical" {
		t.Fatalf("expected critical severity past the critical cutoff, got %s", active[0].Severity)
	}
}

func TestRuleTickExecutesAndArchives(t *testing.T) {
	archiver := &recordingArchiver{}
	e, clock := newTestEngine(t, testConfig(), Options{Executions: archiver})

	var mu sync.Mutex
	var calls []map[string]string
	e.RegisterAction("increase-cache-size", func(ctx context.Context, params map[string]string) (string, error) {
		mu.Lock()
		calls = append(calls, params)
		mu.Unlock()
		return "cache grown", nil
	})

	record(t, e, clock, "app.latency_ms", 450)
	if err := e.ruleTick(context.Background()); err != nil {
		t.Fatalf("rule tick: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(calls) != 1 {
		t.Fatalf("expected 1 action call, got %d", len(calls))
	}
	if calls[0]["step_mb"] != "256" {
		t.Fatalf("unexpected params: %v", calls[0])
	}
	if archiver.count() != 1 {
		t.Fatalf("expected 1 archived execution, got %d", archiver.count())
	}
	if got := len(e.OptimizationHistory()); got != 1 {
		t.Fatalf("expected 1 history entry, got %d", got)
	}
}

func TestRateLimitDropsNotFails(t *testing.T) {
	cfg := testConfig()
	cfg.Ingest.SamplesPerSecondLimit = 1
	e, clock := newTestEngine(t, cfg, Options{})

	record(t, e, clock, "app.latency_ms", 100)
	record(t, e, clock, "app.latency_ms", 100) // same second, dropped

	summary := e.SLASummary()
	if summary["api-latency"].SampleCount != 1 {
		t.Fatalf("expected 1 observed sample after rate limit, got %d", summary["api-latency"].SampleCount)
	}
}

func TestIngestAfterShutdownIsDropped(t *testing.T) {
	e, clock := newTestEngine(t, testConfig(), Options{})
	e.Shutdown()

	// A closed store drops the sample; ingestion never surfaces the error.
	if err := e.RecordMetric(metrics.New(clock.Now(), "app.latency_ms", 620, nil)); err != nil {
		t.Fatalf("ingest after shutdown: %v", err)
	}
	if got := len(e.ActiveIncidents()); got != 0 {
		t.Fatalf("dropped sample opened %d incidents", got)
	}
}

func TestAutoResolveAfterCompliance(t *testing.T) {
	e, clock := newTestEngine(t, testConfig(), Options{})

	record(t, e, clock, "app.latency_ms", 620)
	if got := len(e.ActiveIncidents()); got != 1 {
		t.Fatalf("expected 1 incident, got %d", got)
	}

	// Let the breach sample age out of the compliance window, then feed
	// compliant samples.
	clock.Advance(31 * time.Minute)
	for i := 0; i < 5; i++ {
		record(t, e, clock, "app.latency_ms", 300)
		clock.Advance(time.Minute)
	}

	if err := e.slaTick(context.Background()); err != nil {
		t.Fatalf("sla tick: %v", err)
	}
	if got := len(e.ActiveIncidents()); got != 0 {
		t.Fatalf("expected incident auto-resolved, got %d active", got)
	}
}

func TestApplyConfigKeepsIncidents(t *testing.T) {
	e, clock := newTestEngine(t, testConfig(), Options{})

	record(t, e, clock, "app.latency_ms", 620)
	if got := len(e.ActiveIncidents()); got != 1 {
		t.Fatalf("expected 1 incident before reload, got %d", got)
	}

	cfg := testConfig()
	cfg.Rules = nil
	if err := e.ApplyConfig(cfg); err != nil {
		t.Fatalf("apply config: %v", err)
	}

	if got := len(e.ActiveIncidents()); got != 1 {
		t.Fatalf("expected incident to survive reload, got %d", got)
	}
}

func TestApplyConfigRejectsBadRules(t *testing.T) {
	e, _ := newTestEngine(t, testConfig(), Options{})

	cfg := testConfig()
	cfg.Rules[0].Conditions = nil
	if err := e.ApplyConfig(cfg); err == nil {
		t.Fatal("expected error for rule without conditions")
	}
	// Old rules stay in force.
	if got := len(e.rules.Rules()); got != 1 {
		t.Fatalf("expected previous rules retained, got %d", got)
	}
}

func TestDashboardSnapshotBeforeFirstTick(t *testing.T) {
	e, clock := newTestEngine(t, testConfig(), Options{})

	record(t, e, clock, "app.latency_ms", 300)
	snap := e.DashboardSnapshot()
	if snap.GeneratedAt.IsZero() {
		t.Fatal("expected composed snapshot before first dashboard tick")
	}
	if _, ok := snap.Targets["api-latency"]; !ok {
		t.Fatalf("expected target summary, got %v", snap.Targets)
	}
}

// Package engine assembles the sampling, trend, rule, SLA, and incident
// subsystems into one long-running optimization daemon.
package engine

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/adaptiveops/optiwatch/pkg/actions"
	"github.com/adaptiveops/optiwatch/pkg/engcfg"
	"github.com/adaptiveops/optiwatch/pkg/incident"
	"github.com/adaptiveops/optiwatch/pkg/metrics"
	"github.com/adaptiveops/optiwatch/pkg/rules"
	"github.com/adaptiveops/optiwatch/pkg/runbook"
	"github.com/adaptiveops/optiwatch/pkg/safety"
	"github.com/adaptiveops/optiwatch/pkg/sampler"
	"github.com/adaptiveops/optiwatch/pkg/sla"
	"github.com/adaptiveops/optiwatch/pkg/status"
)

// EventExporter ships incident lifecycle events to an external sink.
type EventExporter interface {
	ExportBatch(events []incident.AlertPayload) error
}

// ExecutionArchiver persists optimization executions. The sqlite history
// store satisfies this alongside incident.Archiver.
type ExecutionArchiver interface {
	ArchiveExecution(exec rules.Execution) error
}

// Options carries the engine's external collaborators. Zero-value fields
// disable the corresponding integration.
type Options struct {
	Notifier      incident.Notifier
	Archiver      incident.Archiver
	Executions    ExecutionArchiver
	Events        EventExporter
	Sources       []sampler.Source
	ActionTimeout time.Duration
	Clock         func() time.Time
}

// Engine owns the metric store, SLA tracker, rule engine, and incident
// manager, and drives them from periodic background loops.
type Engine struct {
	cfg engcfg.Config

	store      *metrics.Store
	tracker    *sla.Tracker
	rules      *rules.Engine
	executor   *actions.Executor
	manager    *incident.Manager
	aggregator *status.Aggregator
	runbooks   *runbook.Catalogue

	limiter    *safety.RateLimiter
	sources    []sampler.Source
	events     EventExporter
	executions ExecutionArchiver

	metrics *engineMetrics
	tracer  trace.Tracer
	now     func() time.Time

	mu       sync.RWMutex
	snapshot status.Snapshot

	wg sync.WaitGroup
}

// New builds an engine from a validated config. Construction fails on
// malformed rules, targets, or escalation ladders; everything else is
// tolerated at runtime.
func New(cfg engcfg.Config, opts Options) (*Engine, error) {
	builtRules, err := cfg.BuildRules()
	if err != nil {
		return nil, fmt.Errorf("build rules: %w", err)
	}
	targets, err := cfg.BuildTargets()
	if err != nil {
		return nil, fmt.Errorf("build targets: %w", err)
	}
	policies, err := cfg.BuildPolicies()
	if err != nil {
		return nil, fmt.Errorf("build policies: %w", err)
	}

	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}

	store := metrics.NewStore(cfg.Store.Capacity, time.Duration(cfg.Store.MaxAgeMinutes)*time.Minute)
	tracker := sla.NewTracker(targets)

	catalogue := runbook.NewCatalogue(cfg.BuildRunbooks())

	managerOpts := []incident.Option{incident.WithRunbooks(catalogue)}
	if opts.Archiver != nil {
		managerOpts = append(managerOpts, incident.WithArchiver(opts.Archiver))
	}
	if opts.Clock != nil {
		managerOpts = append(managerOpts, incident.WithClock(clock))
	}
	manager := incident.NewManager(policies, opts.Notifier, managerOpts...)

	executor := actions.NewExecutor(opts.ActionTimeout)
	ruleEngine := rules.NewEngine(store, executor)
	if err := ruleEngine.SetRules(builtRules); err != nil {
		return nil, fmt.Errorf("set rules: %w", err)
	}

	e := &Engine{
		cfg:        cfg,
		store:      store,
		tracker:    tracker,
		rules:      ruleEngine,
		executor:   executor,
		manager:    manager,
		runbooks:   catalogue,
		aggregator: status.NewAggregator(store, tracker, manager, 0),
		limiter:    safety.NewRateLimiter(cfg.Ingest.SamplesPerSecondLimit),
		sources:    opts.Sources,
		events:     opts.Events,
		executions: opts.Executions,
		metrics:    newEngineMetrics(),
		tracer:     otel.Tracer("optiwatch/engine"),
		now:        clock,
	}
	if opts.Clock != nil {
		store.SetClock(clock)
		tracker.SetClock(clock)
		ruleEngine.SetClock(clock)
	}
	return e, nil
}

// RegisterAction installs one named action handler.
func (e *Engine) RegisterAction(name string, h actions.Handler) {
	e.executor.Register(name, h)
}

// Registry exposes the engine's self-metrics for the HTTP surface.
func (e *Engine) Registry() *prometheus.Registry {
	return e.metrics.registry
}

// RecordMetric ingests one sample: rate-limit, store, then SLA
// classification. Ingestion is fail-safe: samples refused by the limiter or
// the store are logged, counted, and dropped rather than surfaced as errors.
// Actionable breaches open incidents unless one is already active for the
// target.
func (e *Engine) RecordMetric(sample metrics.Sample) error {
	e.mu.RLock()
	limiter := e.limiter
	e.mu.RUnlock()
	if !limiter.Allow(e.now()) {
		e.metrics.droppedSamples.WithLabelValues("rate_limit").Inc()
		return nil
	}
	if err := e.store.Record(sample); err != nil {
		e.metrics.droppedSamples.WithLabelValues("store").Inc()
		log.Printf("[engine] sample %s dropped: %v", sample.Name, err)
		return nil
	}
	e.metrics.samplesIngested.Inc()

	for _, breach := range e.tracker.Observe(sample) {
		e.metrics.breachEvents.WithLabelValues(breach.Target.Name).Inc()
		if e.manager.HasActiveForTarget(breach.Target.Name) {
			continue
		}
		severity := incident.SeverityWarning
		if breach.Critical {
			severity = incident.SeverityCritical
		}
		inc := e.manager.CreateSLAIncident(
			breach.Target.Name,
			breach.Target.Metric,
			severity,
			fmt.Sprintf("SLA breach: %s", breach.Target.Name),
			fmt.Sprintf("%s=%.3f crossed the %s breach threshold %.3f",
				breach.Target.Metric, breach.Value, breach.Target.Name, breach.Target.BreachThreshold),
		)
		log.Printf("[engine] opened incident %s for target %s (severity=%s)", inc.ID, breach.Target.Name, severity)
	}
	return nil
}

// Start launches the notification consumer and the four background loops.
// It returns immediately; loops stop when ctx is cancelled.
func (e *Engine) Start(ctx context.Context) {
	e.manager.Start(ctx)

	iv := e.cfg.Intervals
	e.startLoop(ctx, "sample", time.Duration(iv.SampleSeconds)*time.Second, e.sampleTick)
	e.startLoop(ctx, "rules", time.Duration(iv.EvaluationSeconds)*time.Second, e.ruleTick)
	e.startLoop(ctx, "sla", time.Duration(iv.SLACheckSeconds)*time.Second, e.slaTick)
	e.startLoop(ctx, "dashboard", time.Duration(iv.DashboardSeconds)*time.Second, e.dashboardTick)
}

// Wait blocks until all background loops have exited.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// Shutdown stops ingestion. Pending reads keep working.
func (e *Engine) Shutdown() {
	e.store.Close()
	e.metrics.up.Set(0)
}

func (e *Engine) startLoop(ctx context.Context, name string, interval time.Duration, tick func(context.Context) error) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		bo := safety.NewBackoff(interval/4, 4*interval)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			if err := tick(ctx); err != nil {
				e.metrics.loopFailures.WithLabelValues(name).Inc()
				log.Printf("[engine] %s tick failed: %v", name, err)

				delay := time.NewTimer(bo.Next())
				select {
				case <-ctx.Done():
					delay.Stop()
					return
				case <-delay.C:
				}
				continue
			}
			bo.Reset()
			e.metrics.SetHeartbeat(e.now())
		}
	}()
}

// sampleTick collects from every source and ingests the results. A failing
// source is logged and skipped; the tick errors only when all sources fail.
func (e *Engine) sampleTick(ctx context.Context) error {
	ctx, span := e.tracer.Start(ctx, "engine.sample_tick")
	defer span.End()

	if len(e.sources) == 0 {
		return nil
	}

	var collected int
	for _, src := range e.sources {
		samples, err := src.Collect(ctx)
		if err != nil {
			log.Printf("[engine] source %s collect failed: %v", src.Name(), err)
			continue
		}
		for _, s := range samples {
			if err := e.RecordMetric(s); err != nil {
				return err
			}
		}
		collected += len(samples)
	}
	span.SetAttributes(attribute.Int("samples.collected", collected))

	if collected == 0 {
		return fmt.Errorf("all %d sources failed", len(e.sources))
	}
	return nil
}

// ruleTick runs one rule evaluation pass and archives the executions.
func (e *Engine) ruleTick(ctx context.Context) error {
	ctx, span := e.tracer.Start(ctx, "engine.rule_tick")
	defer span.End()

	execs := e.rules.EvaluateTick(ctx)
	span.SetAttributes(attribute.Int("rules.fired", len(execs)))

	for _, exec := range execs {
		e.metrics.ruleExecutions.WithLabelValues(exec.RuleID).Inc()
		if failed := exec.Failed(); failed > 0 {
			e.metrics.actionFailures.Add(float64(failed))
		}
		if e.executions != nil {
			if err := e.executions.ArchiveExecution(exec); err != nil {
				log.Printf("[engine] archive execution %s: %v", exec.RuleID, err)
			}
		}
	}
	return nil
}

// slaTick auto-resolves compliant SLA incidents, then advances escalations.
func (e *Engine) slaTick(ctx context.Context) error {
	_, span := e.tracer.Start(ctx, "engine.sla_tick")
	defer span.End()

	resolved := e.manager.ResolveWhereCompliant(e.tracker.CurrentlyCompliant)
	escalated := e.manager.CheckEscalations()
	span.SetAttributes(
		attribute.Int("incidents.resolved", len(resolved)),
		attribute.Int("incidents.escalated", len(escalated)),
	)

	if e.events != nil {
		batch := make([]incident.AlertPayload, 0, len(resolved)+len(escalated))
		for _, inc := range resolved {
			batch = append(batch, lifecycleEvent(inc, "resolved"))
		}
		for _, inc := range escalated {
			batch = append(batch, lifecycleEvent(inc, "escalated"))
		}
		if err := e.events.ExportBatch(batch); err != nil {
			log.Printf("[engine] export incident events: %v", err)
		}
	}

	for severity, n := range e.manager.CountsBySeverity() {
		e.metrics.activeIncidents.WithLabelValues(string(severity)).Set(float64(n))
	}
	return nil
}

// dashboardTick refreshes the cached status snapshot and compliance gauges.
func (e *Engine) dashboardTick(ctx context.Context) error {
	_, span := e.tracer.Start(ctx, "engine.dashboard_tick")
	defer span.End()

	snap := e.aggregator.Snapshot()
	for name, summary := range snap.Targets {
		e.metrics.slaCompliance.WithLabelValues(name).Set(summary.Rate)
	}

	e.mu.Lock()
	e.snapshot = snap
	e.mu.Unlock()
	return nil
}

// DashboardSnapshot returns the latest cached snapshot, composing a fresh
// one when no dashboard tick has run yet.
func (e *Engine) DashboardSnapshot() status.Snapshot {
	e.mu.RLock()
	snap := e.snapshot
	e.mu.RUnlock()
	if snap.GeneratedAt.IsZero() {
		return e.aggregator.Snapshot()
	}
	return snap
}

// ActiveIncidents lists active incidents sorted by trigger time.
func (e *Engine) ActiveIncidents() []incident.Incident {
	return e.manager.Active()
}

// Acknowledge marks an active incident acknowledged.
func (e *Engine) Acknowledge(id string) (incident.Incident, error) {
	return e.manager.Acknowledge(id)
}

// Resolve manually resolves an active incident.
func (e *Engine) Resolve(id string) (incident.Incident, error) {
	return e.manager.Resolve(id)
}

// TriggerIncident opens a manual incident outside the SLA path.
func (e *Engine) TriggerIncident(severity incident.Severity, title, description string, affectedMetrics []string, policyName string) incident.Incident {
	return e.manager.Trigger(severity, title, description, affectedMetrics, policyName)
}

// SLASummary reports current compliance per target.
func (e *Engine) SLASummary() map[string]sla.ComplianceStatus {
	return e.tracker.Summary()
}

// OptimizationHistory returns the bounded rule-execution history.
func (e *Engine) OptimizationHistory() []rules.Execution {
	return e.rules.History()
}

// ApplyConfig hot-reloads rules, targets, escalation policies, and runbooks.
// Active incidents and accumulated compliance windows survive the swap; the
// store's capacity is fixed at construction.
func (e *Engine) ApplyConfig(cfg engcfg.Config) error {
	builtRules, err := cfg.BuildRules()
	if err != nil {
		return fmt.Errorf("build rules: %w", err)
	}
	targets, err := cfg.BuildTargets()
	if err != nil {
		return fmt.Errorf("build targets: %w", err)
	}
	policies, err := cfg.BuildPolicies()
	if err != nil {
		return fmt.Errorf("build policies: %w", err)
	}

	if err := e.rules.SetRules(builtRules); err != nil {
		return fmt.Errorf("set rules: %w", err)
	}
	e.tracker.SetTargets(targets)
	e.manager.SetPolicies(policies)
	e.runbooks.Replace(cfg.BuildRunbooks())

	e.mu.Lock()
	e.cfg = cfg
	e.limiter = safety.NewRateLimiter(cfg.Ingest.SamplesPerSecondLimit)
	e.mu.Unlock()

	log.Printf("[engine] config applied: %d rules, %d targets, %d policies",
		len(builtRules), len(targets), len(policies))
	return nil
}

func lifecycleEvent(inc incident.Incident, event string) incident.AlertPayload {
	return incident.AlertPayload{
		IncidentID:  inc.ID,
		Event:       event,
		Title:       inc.Title,
		Description: inc.Description,
		Severity:    inc.Severity,
		Level:       inc.Level,
		Target:      inc.SLATarget,
		Metrics:     inc.AffectedMetrics,
		At:          inc.TriggeredAt,
	}
}

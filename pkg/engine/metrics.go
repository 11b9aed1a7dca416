package engine

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type engineMetrics struct {
	registry *prometheus.Registry

	heartbeat prometheus.Gauge
	up        prometheus.Gauge

	samplesIngested prometheus.Counter
	droppedSamples  *prometheus.CounterVec
	ruleExecutions  *prometheus.CounterVec
	actionFailures  prometheus.Counter
	breachEvents    *prometheus.CounterVec
	activeIncidents *prometheus.GaugeVec
	slaCompliance   *prometheus.GaugeVec
	loopFailures    *prometheus.CounterVec
}

func newEngineMetrics() *engineMetrics {
	registry := prometheus.NewRegistry()
	m := &engineMetrics{
		registry: registry,
		heartbeat: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "optiwatch_engine_heartbeat",
			Help: "Unix timestamp of the latest completed loop tick.",
		}),
		up: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "optiwatch_engine_up",
			Help: "Engine process liveness.",
		}),
		samplesIngested: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "optiwatch_samples_ingested_total",
			Help: "Metric samples accepted into the store.",
		}),
		droppedSamples: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "optiwatch_samples_dropped_total",
			Help: "Dropped metric samples by reason.",
		}, []string{"reason"}),
		ruleExecutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "optiwatch_rule_executions_total",
			Help: "Optimization rule executions by rule id.",
		}, []string{"rule"}),
		actionFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "optiwatch_action_failures_total",
			Help: "Failed action invocations across all rules.",
		}),
		breachEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "optiwatch_sla_breach_events_total",
			Help: "Actionable SLA breach events by target.",
		}, []string{"target"}),
		activeIncidents: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "optiwatch_active_incidents",
			Help: "Active incidents by severity.",
		}, []string{"severity"}),
		slaCompliance: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "optiwatch_sla_compliance_rate",
			Help: "Rolling compliance rate by SLA target.",
		}, []string{"target"}),
		loopFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "optiwatch_loop_failures_total",
			Help: "Background loop tick failures by loop name.",
		}, []string{"loop"}),
	}

	registry.MustRegister(
		m.heartbeat,
		m.up,
		m.samplesIngested,
		m.droppedSamples,
		m.ruleExecutions,
		m.actionFailures,
		m.breachEvents,
		m.activeIncidents,
		m.slaCompliance,
		m.loopFailures,
	)

	m.up.Set(1)
	m.heartbeat.Set(float64(time.Now().UTC().Unix()))
	return m
}

func (m *engineMetrics) SetHeartbeat(ts time.Time) {
	m.heartbeat.Set(float64(ts.UTC().Unix()))
}

// Package status composes read-only dashboard views from the metric store,
// the SLA tracker and the incident manager. It has no side effects and is
// safe to call concurrently with all writers.
package status

import (
	"time"

	"github.com/adaptiveops/optiwatch/pkg/incident"
	"github.com/adaptiveops/optiwatch/pkg/sla"
	"github.com/adaptiveops/optiwatch/pkg/trend"
)

// Compliance-rate cutoffs for target classification.
const (
	compliantCutoff = 0.95
	atRiskCutoff    = 0.90
)

// TargetState classifies one SLA target's rolling compliance.
type TargetState string

const (
	StateCompliant TargetState = "compliant"
	StateAtRisk    TargetState = "at_risk"
	StateBreach    TargetState = "breach"
)

// TargetSummary is one target's dashboard row.
type TargetSummary struct {
	sla.ComplianceStatus
	State TargetState `json:"state"`
}

// Snapshot is one read-composed dashboard view.
type Snapshot struct {
	GeneratedAt     time.Time                 `json:"generated_at"`
	Targets         map[string]TargetSummary  `json:"sla_targets"`
	ActiveIncidents map[incident.Severity]int `json:"active_incidents"`
	ActiveTotal     int                       `json:"active_total"`
	Trends          map[string]trend.Analysis `json:"trends"`
}

// MetricReader is the store surface the aggregator reads.
type MetricReader interface {
	Names() []string
	WindowValues(name string, d time.Duration) []float64
}

// SLAReader is the tracker surface the aggregator reads.
type SLAReader interface {
	Summary() map[string]sla.ComplianceStatus
}

// IncidentReader is the manager surface the aggregator reads.
type IncidentReader interface {
	CountsBySeverity() map[incident.Severity]int
}

// Aggregator pulls from all stores on demand.
type Aggregator struct {
	store       MetricReader
	tracker     SLAReader
	incidents   IncidentReader
	trendWindow time.Duration
	now         func() time.Time
}

// NewAggregator builds an aggregator. trendWindow defaults to 15 minutes.
func NewAggregator(store MetricReader, tracker SLAReader, incidents IncidentReader, trendWindow time.Duration) *Aggregator {
	if trendWindow <= 0 {
		trendWindow = 15 * time.Minute
	}
	return &Aggregator{
		store:       store,
		tracker:     tracker,
		incidents:   incidents,
		trendWindow: trendWindow,
		now:         time.Now,
	}
}

// Snapshot composes the current dashboard view.
func (a *Aggregator) Snapshot() Snapshot {
	snap := Snapshot{
		GeneratedAt:     a.now().UTC(),
		Targets:         make(map[string]TargetSummary),
		ActiveIncidents: a.incidents.CountsBySeverity(),
		Trends:          make(map[string]trend.Analysis),
	}
	for _, n := range snap.ActiveIncidents {
		snap.ActiveTotal += n
	}

	for name, cs := range a.tracker.Summary() {
		snap.Targets[name] = TargetSummary{ComplianceStatus: cs, State: Classify(cs.Rate)}
	}

	for _, name := range a.store.Names() {
		snap.Trends[name] = trend.Analyze(a.store.WindowValues(name, a.trendWindow))
	}
	return snap
}

// Classify maps a compliance rate to a target state using the 95%/90%
// cutoffs.
func Classify(rate float64) TargetState {
	switch {
	case rate >= compliantCutoff:
		return StateCompliant
	case rate >= atRiskCutoff:
		return StateAtRisk
	default:
		return StateBreach
	}
}

package sampler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/adaptiveops/optiwatch/pkg/metrics"
)

// syntheticProfile is one scenario step's metric values.
type syntheticProfile struct {
	latencyMS float64
	cpuPct    float64
	memPct    float64
	rps       float64
}

var syntheticScenarios = map[string][]syntheticProfile{
	"baseline": {
		{latencyMS: 120, cpuPct: 0.35, memPct: 0.48, rps: 220},
	},
	"latency_spike": {
		{latencyMS: 130, cpuPct: 0.40, memPct: 0.50, rps: 210},
		{latencyMS: 460, cpuPct: 0.55, memPct: 0.52, rps: 190},
		{latencyMS: 900, cpuPct: 0.62, memPct: 0.55, rps: 150},
	},
	"cpu_saturation": {
		{latencyMS: 180, cpuPct: 0.82, memPct: 0.55, rps: 200},
		{latencyMS: 260, cpuPct: 0.91, memPct: 0.58, rps: 180},
	},
	"memory_pressure": {
		{latencyMS: 160, cpuPct: 0.50, memPct: 0.87, rps: 205},
		{latencyMS: 210, cpuPct: 0.54, memPct: 0.93, rps: 195},
	},
	"traffic_growth": {
		{latencyMS: 140, cpuPct: 0.45, memPct: 0.50, rps: 240},
		{latencyMS: 150, cpuPct: 0.50, memPct: 0.51, rps: 310},
		{latencyMS: 170, cpuPct: 0.56, memPct: 0.53, rps: 400},
	},
}

// SupportedScenarios returns accepted synthetic scenario names.
func SupportedScenarios() []string {
	return []string{"baseline", "latency_spike", "cpu_saturation", "memory_pressure", "traffic_growth"}
}

// SyntheticSource emits deterministic scenario-driven samples, cycling
// through the scenario's profile sequence one step per collect.
type SyntheticSource struct {
	mu       sync.Mutex
	scenario string
	idx      int
}

// NewSyntheticSource builds a scenario source.
func NewSyntheticSource(scenario string) (*SyntheticSource, error) {
	if _, ok := syntheticScenarios[scenario]; !ok {
		return nil, fmt.Errorf("unsupported scenario %q", scenario)
	}
	return &SyntheticSource{scenario: scenario}, nil
}

func (s *SyntheticSource) Name() string { return "synthetic:" + s.scenario }

func (s *SyntheticSource) Collect(context.Context) ([]metrics.Sample, error) {
	s.mu.Lock()
	steps := syntheticScenarios[s.scenario]
	profile := steps[s.idx%len(steps)]
	s.idx++
	s.mu.Unlock()

	now := time.Now().UTC()
	tags := map[string]string{"source": "synthetic", "scenario": s.scenario}
	return []metrics.Sample{
		metrics.New(now, "app.latency_ms", profile.latencyMS, tags),
		metrics.New(now, "app.cpu_pct", profile.cpuPct, tags),
		metrics.New(now, "app.mem_pct", profile.memPct, tags),
		metrics.New(now, "app.rps", profile.rps, tags),
	}, nil
}

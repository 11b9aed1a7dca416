package sampler

import (
	"context"
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"

	"github.com/adaptiveops/optiwatch/pkg/metrics"
)

// System metric names emitted by SystemSource.
const (
	MetricCPUUsedPct  = "system.cpu.used_pct"
	MetricMemUsedPct  = "system.mem.used_pct"
	MetricLoad1       = "system.load.1m"
	MetricDiskUsedPct = "system.disk.used_pct"
)

// SystemSource samples host CPU, memory, load and root-disk utilization.
type SystemSource struct {
	diskPath string
}

// NewSystemSource builds a host sampler. diskPath defaults to "/".
func NewSystemSource(diskPath string) *SystemSource {
	if diskPath == "" {
		diskPath = "/"
	}
	return &SystemSource{diskPath: diskPath}
}

func (s *SystemSource) Name() string { return "system" }

// Collect gathers one batch. Individual probe failures skip that metric only;
// Collect errors out when nothing at all could be read.
func (s *SystemSource) Collect(ctx context.Context) ([]metrics.Sample, error) {
	now := time.Now().UTC()
	tags := map[string]string{"source": "system"}
	out := make([]metrics.Sample, 0, 4)
	var lastErr error

	if pcts, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(pcts) > 0 {
		out = append(out, metrics.New(now, MetricCPUUsedPct, pcts[0], tags))
	} else if err != nil {
		lastErr = err
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		out = append(out, metrics.New(now, MetricMemUsedPct, vm.UsedPercent, tags))
	} else {
		lastErr = err
	}

	if avg, err := load.AvgWithContext(ctx); err == nil {
		out = append(out, metrics.New(now, MetricLoad1, avg.Load1, tags))
	} else {
		lastErr = err
	}

	if usage, err := disk.UsageWithContext(ctx, s.diskPath); err == nil {
		out = append(out, metrics.New(now, MetricDiskUsedPct, usage.UsedPercent, tags))
	} else {
		lastErr = err
	}

	if len(out) == 0 {
		return nil, fmt.Errorf("system sample: no probes succeeded: %w", lastErr)
	}
	return out, nil
}

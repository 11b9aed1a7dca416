// Package sampler produces raw metric samples on a schedule. Sources are the
// abstract value acquisition hook; the engine never talks to hardware
// directly.
package sampler

import (
	"context"
	"time"

	"github.com/adaptiveops/optiwatch/pkg/metrics"
)

// Source produces one batch of measurements per collection cycle. A failed
// collect is a transient error: the caller logs and skips the cycle.
type Source interface {
	Name() string
	Collect(ctx context.Context) ([]metrics.Sample, error)
}

// Func adapts a plain function to the Source interface.
type Func struct {
	SourceName string
	Fn         func(ctx context.Context) ([]metrics.Sample, error)
}

func (f Func) Name() string { return f.SourceName }

func (f Func) Collect(ctx context.Context) ([]metrics.Sample, error) {
	return f.Fn(ctx)
}

// Static returns a source emitting a fixed sample set stamped at collect
// time. Useful for wiring tests and demos.
func Static(name string, values map[string]float64) Source {
	return Func{
		SourceName: name,
		Fn: func(context.Context) ([]metrics.Sample, error) {
			now := time.Now().UTC()
			out := make([]metrics.Sample, 0, len(values))
			for metric, v := range values {
				out = append(out, metrics.New(now, metric, v, map[string]string{"source": name}))
			}
			return out, nil
		},
	}
}

package sampler

import (
	"context"
	"testing"
)

func TestSyntheticSourceCyclesDeterministically(t *testing.T) {
	src, err := NewSyntheticSource("latency_spike")
	if err != nil {
		t.Fatalf("new source: %v", err)
	}

	var latencies []float64
	for i := 0; i < 4; i++ {
		batch, err := src.Collect(context.Background())
		if err != nil {
			t.Fatalf("collect %d: %v", i, err)
		}
		if len(batch) != 4 {
			t.Fatalf("collect %d: got %d samples", i, len(batch))
		}
		for _, s := range batch {
			if s.Name == "app.latency_ms" {
				latencies = append(latencies, s.Value)
			}
		}
	}

	want := []float64{130, 460, 900, 130}
	for i := range want {
		if latencies[i] != want[i] {
			t.Fatalf("step %d: got %v want %v", i, latencies[i], want[i])
		}
	}
}

func TestSyntheticSourceRejectsUnknownScenario(t *testing.T) {
	if _, err := NewSyntheticSource("flux-capacitor"); err == nil {
		t.Fatal("expected error for unknown scenario")
	}
}

func TestStaticSource(t *testing.T) {
	src := Static("fixture", map[string]float64{"latency": 1.5})
	batch, err := src.Collect(context.Background())
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if len(batch) != 1 || batch[0].Name != "latency" || batch[0].Value != 1.5 {
		t.Fatalf("unexpected batch: %+v", batch)
	}
	if batch[0].Tags["source"] != "fixture" {
		t.Fatalf("tags: %+v", batch[0].Tags)
	}
}

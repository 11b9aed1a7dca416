package trend

import (
	"math"
	"math/rand"
	"testing"
)

// referenceSlope is an independent least-squares fit used to cross-check the
// production implementation.
func referenceSlope(values []float64) float64 {
	n := float64(len(values))
	meanX := (n - 1) / 2
	var meanY float64
	for _, v := range values {
		meanY += v
	}
	meanY /= n

	var num, den float64
	for i, v := range values {
		dx := float64(i) - meanX
		num += dx * (v - meanY)
		den += dx * dx
	}
	if den == 0 {
		return 0
	}
	return num / den
}

func TestInsufficientData(t *testing.T) {
	for _, values := range [][]float64{nil, {1}, {1, 2}} {
		out := Analyze(values)
		if out.Direction != DirectionInsufficient {
			t.Fatalf("values %v: expected insufficient_data, got %s", values, out.Direction)
		}
		if out.SampleCount != len(values) {
			t.Fatalf("sample count: got %d want %d", out.SampleCount, len(values))
		}
	}
}

func TestSlopeMatchesReferenceFit(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for trial := 0; trial < 200; trial++ {
		n := 3 + rng.Intn(40)
		base := rng.Float64() * 100
		drift := (rng.Float64() - 0.5) * 4
		values := make([]float64, n)
		for i := range values {
			values[i] = base + drift*float64(i) + (rng.Float64()-0.5)
		}

		got := Slope(values)
		want := referenceSlope(values)
		if math.Abs(got-want) > 1e-9 {
			t.Fatalf("trial %d: slope %v diverges from reference %v", trial, got, want)
		}
		if want > stableSlopeEpsilon && got <= 0 {
			t.Fatalf("trial %d: slope sign mismatch: got %v want positive", trial, got)
		}
		if want < -stableSlopeEpsilon && got >= 0 {
			t.Fatalf("trial %d: slope sign mismatch: got %v want negative", trial, got)
		}
	}
}

func TestDirectionClassification(t *testing.T) {
	cases := []struct {
		name   string
		values []float64
		want   Direction
	}{
		{"increasing", []float64{1, 2, 3, 4}, DirectionIncreasing},
		{"decreasing", []float64{4, 3, 2, 1}, DirectionDecreasing},
		{"flat", []float64{5, 5, 5, 5}, DirectionStable},
		{"tiny drift", []float64{1.000, 1.001, 1.002}, DirectionStable},
	}
	for _, tc := range cases {
		if got := Analyze(tc.values).Direction; got != tc.want {
			t.Errorf("%s: got %s want %s", tc.name, got, tc.want)
		}
	}
}

func TestAnalyzeSummaryFields(t *testing.T) {
	out := Analyze([]float64{2, 6, 4})
	if out.Current != 4 {
		t.Fatalf("current: got %v", out.Current)
	}
	if out.Average != 4 {
		t.Fatalf("average: got %v", out.Average)
	}
	if out.Min != 2 || out.Max != 6 {
		t.Fatalf("min/max: got %v/%v", out.Min, out.Max)
	}
}

func TestVolatility(t *testing.T) {
	if got := Volatility([]float64{5, 5, 5}); got != 0 {
		t.Fatalf("flat series volatility: got %v", got)
	}
	// Zero mean must not divide by zero.
	if got := Volatility([]float64{-1, 0, 1}); got != 0 {
		t.Fatalf("zero-mean volatility: got %v", got)
	}
	got := Volatility([]float64{2, 4, 6})
	want := math.Sqrt(8.0/3.0) / 4.0
	if math.Abs(got-want) > 1e-9 {
		t.Fatalf("volatility: got %v want %v", got, want)
	}
}

func TestPredictNext(t *testing.T) {
	if _, ok := PredictNext([]float64{1, 2}); ok {
		t.Fatal("expected no prediction below MinSamples")
	}
	predicted, ok := PredictNext([]float64{1, 2, 3})
	if !ok {
		t.Fatal("expected prediction")
	}
	if math.Abs(predicted-4) > 1e-9 {
		t.Fatalf("predicted: got %v want 4", predicted)
	}
}

func TestAnalyzeIsDeterministic(t *testing.T) {
	values := []float64{3.2, 4.9, 4.1, 5.8, 6.0}
	first := Analyze(values)
	for i := 0; i < 5; i++ {
		if Analyze(values) != first {
			t.Fatal("analysis must be deterministic for the same window")
		}
	}
}

package safety

import (
	"math/rand"
	"sync"
	"time"
)

// Backoff computes jittered exponential delays for a repeatedly failing
// periodic task. The jitter spreads retries so several tasks recovering from
// one shared outage do not stampede together.
type Backoff struct {
	mu       sync.Mutex
	base     time.Duration
	max      time.Duration
	failures int
	rng      *rand.Rand
}

// NewBackoff creates a backoff starting at base and capped at max.
func NewBackoff(base, max time.Duration) *Backoff {
	if base <= 0 {
		base = time.Second
	}
	if max < base {
		max = base
	}
	return &Backoff{
		base: base,
		max:  max,
		rng:  rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Next records one more failure and returns the delay before the next
// attempt: base * 2^(failures-1), capped at max, with ±25% jitter.
func (b *Backoff) Next() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	d := b.base
	for i := 1; i < b.failures && d < b.max; i++ {
		d *= 2
	}
	if d > b.max {
		d = b.max
	}

	jitter := 1 + (b.rng.Float64()-0.5)*0.5
	out := time.Duration(float64(d) * jitter)
	if out < b.base/2 {
		out = b.base / 2
	}
	return out
}

// Reset clears the failure count after a successful attempt.
func (b *Backoff) Reset() {
	b.mu.Lock()
	b.failures = 0
	b.mu.Unlock()
}

// Failures returns the consecutive failure count.
func (b *Backoff) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

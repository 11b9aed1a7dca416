package metrics

import (
	"errors"
	"sort"
	"sync"
	"time"
)

// ErrStoreClosed is returned by Record after Close. It is the only error
// condition the store reports; a full buffer evicts, it never fails.
var ErrStoreClosed = errors.New("metric store is closed")

const (
	// DefaultCapacity bounds the total sample count across all metrics.
	DefaultCapacity = 10000
	// DefaultMaxAge bounds how far back window queries reach.
	DefaultMaxAge = time.Hour
)

// Store is a bounded, thread-safe, time-ordered buffer of recent samples.
// When the capacity is reached the oldest sample is evicted, regardless of
// which metric it belongs to. Window queries additionally drop samples older
// than the configured max age.
type Store struct {
	mu     sync.RWMutex
	buf    []Sample
	head   int // index of the oldest sample
	size   int
	maxAge time.Duration
	closed bool
	now    func() time.Time
}

// NewStore creates a store holding at most capacity samples.
// Non-positive arguments fall back to defaults.
func NewStore(capacity int, maxAge time.Duration) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	return &Store{
		buf:    make([]Sample, capacity),
		maxAge: maxAge,
		now:    time.Now,
	}
}

// Record appends one sample, evicting the oldest when the buffer is full.
func (s *Store) Record(sample Sample) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	idx := (s.head + s.size) % len(s.buf)
	s.buf[idx] = sample
	if s.size < len(s.buf) {
		s.size++
	} else {
		s.head = (s.head + 1) % len(s.buf)
	}
	return nil
}

// Window returns all samples for one metric within [now-d, now], ordered by
// timestamp. Samples older than the store's max age are skipped even when the
// requested window is larger.
func (s *Store) Window(name string, d time.Duration) []Sample {
	now := s.nowUTC()
	cutoff := now.Add(-d)
	if ageCutoff := now.Add(-s.maxAge); ageCutoff.After(cutoff) {
		cutoff = ageCutoff
	}

	s.mu.RLock()
	out := make([]Sample, 0, 16)
	for i := 0; i < s.size; i++ {
		sample := s.buf[(s.head+i)%len(s.buf)]
		if sample.Name != name {
			continue
		}
		if sample.Timestamp.Before(cutoff) || sample.Timestamp.After(now) {
			continue
		}
		out = append(out, sample)
	}
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}

// WindowValues returns just the values of Window, in timestamp order.
func (s *Store) WindowValues(name string, d time.Duration) []float64 {
	samples := s.Window(name, d)
	out := make([]float64, 0, len(samples))
	for _, sample := range samples {
		out = append(out, sample.Value)
	}
	return out
}

// Latest returns the most recent sample recorded for a metric.
func (s *Store) Latest(name string) (Sample, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := s.size - 1; i >= 0; i-- {
		sample := s.buf[(s.head+i)%len(s.buf)]
		if sample.Name == name {
			return sample, true
		}
	}
	return Sample{}, false
}

// Names returns the distinct metric names currently buffered, sorted.
func (s *Store) Names() []string {
	s.mu.RLock()
	seen := make(map[string]struct{})
	for i := 0; i < s.size; i++ {
		seen[s.buf[(s.head+i)%len(s.buf)].Name] = struct{}{}
	}
	s.mu.RUnlock()

	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of buffered samples.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.size
}

// Close marks the store closed. Subsequent Record calls fail, reads keep
// working during shutdown.
func (s *Store) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

// SetClock overrides the store's clock. Intended for tests.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

func (s *Store) nowUTC() time.Time {
	s.mu.RLock()
	now := s.now
	s.mu.RUnlock()
	return now().UTC()
}

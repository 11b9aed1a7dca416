package metrics

import "time"

// Sample is one timestamped measurement of a named quantity.
// A sample is immutable once recorded.
type Sample struct {
	Timestamp time.Time         `json:"timestamp"`
	Name      string            `json:"metric_name"`
	Value     float64           `json:"value"`
	Tags      map[string]string `json:"tags,omitempty"`
}

// New builds a sample with a defensive copy of the tag map.
func New(ts time.Time, name string, value float64, tags map[string]string) Sample {
	s := Sample{Timestamp: ts.UTC(), Name: name, Value: value}
	if len(tags) > 0 {
		s.Tags = make(map[string]string, len(tags))
		for k, v := range tags {
			s.Tags[k] = v
		}
	}
	return s
}

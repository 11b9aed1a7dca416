// Package runbook holds advisory remediation documentation matched against
// incident descriptions. Lookups never mutate incident state.
package runbook

import (
	"strings"
	"sync"
)

// Runbook is one advisory procedure document.
type Runbook struct {
	ID              string   `yaml:"id" json:"id"`
	Title           string   `yaml:"title" json:"title"`
	TriggerKeywords []string `yaml:"trigger_keywords" json:"trigger_keywords"`
	Steps           []string `yaml:"steps" json:"steps"`
	EscalationPath  string   `yaml:"escalation_path" json:"escalation_path"`
}

// Catalogue is a read-mostly set of runbooks with keyword lookup.
type Catalogue struct {
	mu    sync.RWMutex
	books []Runbook
}

// NewCatalogue builds a catalogue from the given runbooks.
func NewCatalogue(books []Runbook) *Catalogue {
	c := &Catalogue{}
	c.Replace(books)
	return c
}

// Replace swaps the runbook set at runtime.
func (c *Catalogue) Replace(books []Runbook) {
	c.mu.Lock()
	c.books = append([]Runbook(nil), books...)
	c.mu.Unlock()
}

// All returns a copy of the catalogue.
func (c *Catalogue) All() []Runbook {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]Runbook(nil), c.books...)
}

// Match returns the runbook whose trigger keywords best match a free-text
// incident description. Matching is case-insensitive substring containment;
// the runbook with the most keyword hits wins, first one breaks ties.
func (c *Catalogue) Match(description string) (Runbook, bool) {
	haystack := strings.ToLower(description)

	c.mu.RLock()
	defer c.mu.RUnlock()

	var best Runbook
	bestHits := 0
	for _, book := range c.books {
		hits := 0
		for _, kw := range book.TriggerKeywords {
			kw = strings.ToLower(strings.TrimSpace(kw))
			if kw != "" && strings.Contains(haystack, kw) {
				hits++
			}
		}
		if hits > bestHits {
			best = book
			bestHits = hits
		}
	}
	return best, bestHits > 0
}

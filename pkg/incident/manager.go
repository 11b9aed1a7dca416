package incident

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/adaptiveops/optiwatch/pkg/runbook"
)

const (
	// DefaultHistorySize bounds the resolved-incident ring.
	DefaultHistorySize = 500
	// DefaultQueueSize bounds the pending-notification queue. Breach spikes
	// that overflow it drop notifications instead of stalling escalation.
	DefaultQueueSize = 256
)

// ErrNotFound reports an operation against an unknown or already resolved
// incident id.
var ErrNotFound = fmt.Errorf("incident not found or already resolved")

type notification struct {
	recipients []string
	payload    AlertPayload
}

// Manager owns all incident state. Active incidents are mutated only behind
// the manager's lock; every accessor hands out copies.
type Manager struct {
	mu          sync.RWMutex
	active      map[string]*Incident
	history     []Incident
	historySize int
	policies    map[string]Policy
	runbooks    *runbook.Catalogue
	archiver    Archiver
	now         func() time.Time

	queue    chan notification
	notifier Notifier
	dropped  uint64
}

// Option tweaks manager construction.
type Option func(*Manager)

// WithRunbooks enables advisory runbook association at creation time.
func WithRunbooks(c *runbook.Catalogue) Option {
	return func(m *Manager) { m.runbooks = c }
}

// WithArchiver externalizes resolved incidents to a persistent sink.
func WithArchiver(a Archiver) Option {
	return func(m *Manager) { m.archiver = a }
}

// WithHistorySize bounds the in-memory resolved history.
func WithHistorySize(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.historySize = n
		}
	}
}

// WithQueueSize bounds the notification queue.
func WithQueueSize(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.queue = make(chan notification, n)
		}
	}
}

// WithClock overrides the manager clock. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager builds a manager with the given escalation policies and
// notification sink. A nil notifier silently discards notifications.
func NewManager(policies map[string]Policy, notifier Notifier, opts ...Option) *Manager {
	m := &Manager{
		active:      make(map[string]*Incident),
		historySize: DefaultHistorySize,
		policies:    make(map[string]Policy),
		now:         time.Now,
		queue:       make(chan notification, DefaultQueueSize),
		notifier:    notifier,
	}
	for name, p := range policies {
		m.policies[name] = p
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start launches the notification consumer. It drains the queue until the
// context is canceled; escalation checks never block on delivery.
func (m *Manager) Start(ctx context.Context) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case n := <-m.queue:
				m.deliver(ctx, n)
			}
		}
	}()
}

// deliver hands one notification to the sink. Retry policy lives in the
// sink; a delivery it gives up on is logged and dropped here.
func (m *Manager) deliver(ctx context.Context, n notification) {
	if m.notifier == nil {
		return
	}
	if err := m.notifier.Notify(ctx, n.recipients, n.payload); err != nil {
		log.Printf("[incident] %s notification for %s dropped: %v",
			n.payload.Event, n.payload.IncidentID, err)
	}
}

// enqueue never blocks; a full queue drops the notification with a log.
func (m *Manager) enqueue(recipients []string, payload AlertPayload) {
	if len(recipients) == 0 {
		return
	}
	select {
	case m.queue <- notification{recipients: recipients, payload: payload}:
	default:
		m.mu.Lock()
		m.dropped++
		m.mu.Unlock()
		log.Printf("[incident] notification queue full, dropping %s for %s", payload.Event, payload.IncidentID)
	}
}

// DroppedNotifications returns how many notifications overflowed the queue.
func (m *Manager) DroppedNotifications() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.dropped
}

// CreateSLAIncident opens a level-0 incident for an actionable SLA breach.
// The target's escalation ladder drives later escalation checks.
func (m *Manager) CreateSLAIncident(target, metric string, severity Severity, title, description string) Incident {
	return m.create(Incident{
		Type:            TypeSLABreach,
		Severity:        severity,
		Title:           title,
		Description:     description,
		AffectedMetrics: []string{metric},
		SLATarget:       target,
		PolicyName:      target,
	})
}

// Trigger opens a manually raised incident. Manual incidents escalate only
// when policyName maps to a configured ladder and never auto-resolve.
func (m *Manager) Trigger(severity Severity, title, description string, affectedMetrics []string, policyName string) Incident {
	return m.create(Incident{
		Type:            TypeManual,
		Severity:        severity,
		Title:           title,
		Description:     description,
		AffectedMetrics: affectedMetrics,
		PolicyName:      policyName,
	})
}

func (m *Manager) create(inc Incident) Incident {
	inc.ID = uuid.NewString()
	inc.TriggeredAt = m.nowUTC()
	inc.Level = 0
	inc.Status = StatusActive

	if m.runbooks != nil {
		if book, ok := m.runbooks.Match(inc.Title + " " + inc.Description); ok {
			inc.RunbookID = book.ID
		}
	}

	m.mu.Lock()
	m.active[inc.ID] = &inc
	m.mu.Unlock()

	log.Printf("[incident] created %s (%s) severity=%s target=%s", inc.ID, inc.Title, inc.Severity, inc.SLATarget)
	return inc
}

// CheckEscalations advances every unresolved incident through its policy's
// ladder and fans out the notify set of each newly reached level exactly
// once. It returns only the incidents whose level advanced during this pass;
// incidents that escalated on an earlier pass and merely stayed escalated are
// not re-reported. Escalation is monotonic; levels never go back down even if
// the underlying metric recovers temporarily. Negative elapsed values from
// clock adjustments are treated as zero.
func (m *Manager) CheckEscalations() []Incident {
	now := m.nowUTC()

	m.mu.Lock()
	var escalated []Incident
	var pending []notification
	for _, inc := range m.active {
		policy, ok := m.policies[inc.PolicyName]
		if !ok {
			continue
		}
		elapsed := now.Sub(inc.TriggeredAt)
		if elapsed < 0 {
			elapsed = 0
		}
		advanced := false
		for idx, level := range policy.Levels {
			levelIndex := idx + 1
			if elapsed < level.After || inc.Level >= levelIndex {
				continue
			}
			inc.Level = levelIndex
			inc.Status = StatusEscalated
			advanced = true
			pending = append(pending, notification{
				recipients: level.Notify,
				payload: AlertPayload{
					IncidentID:  inc.ID,
					Event:       "escalated",
					Title:       inc.Title,
					Description: inc.Description,
					Severity:    inc.Severity,
					Level:       levelIndex,
					Target:      inc.SLATarget,
					Metrics:     append([]string(nil), inc.AffectedMetrics...),
					At:          now,
				},
			})
		}
		if advanced {
			escalated = append(escalated, *inc)
		}
	}
	m.mu.Unlock()

	for _, n := range pending {
		m.enqueue(n.recipients, n.payload)
	}
	return escalated
}

// ResolveWhereCompliant auto-resolves every unresolved SLA-origin incident
// whose originating target currently satisfies its bound again. Manually
// triggered incidents are never auto-resolved.
func (m *Manager) ResolveWhereCompliant(isCompliant func(target string) bool) []Incident {
	m.mu.Lock()
	var ids []string
	for id, inc := range m.active {
		if inc.Type != TypeSLABreach {
			continue
		}
		if isCompliant(inc.SLATarget) {
			ids = append(ids, id)
		}
	}
	m.mu.Unlock()

	resolved := make([]Incident, 0, len(ids))
	for _, id := range ids {
		if inc, err := m.Resolve(id); err == nil {
			resolved = append(resolved, inc)
		}
	}
	return resolved
}

// Resolve moves an incident to its terminal state and into history.
// ResolvedAt is set exactly once; a resolved incident is never re-escalated.
func (m *Manager) Resolve(id string) (Incident, error) {
	now := m.nowUTC()

	m.mu.Lock()
	inc, ok := m.active[id]
	if !ok {
		m.mu.Unlock()
		return Incident{}, ErrNotFound
	}
	delete(m.active, id)
	resolvedAt := now
	inc.ResolvedAt = &resolvedAt
	inc.Status = StatusResolved
	done := *inc
	m.history = append(m.history, done)
	if overflow := len(m.history) - m.historySize; overflow > 0 {
		m.history = append([]Incident(nil), m.history[overflow:]...)
	}
	m.mu.Unlock()

	log.Printf("[incident] resolved %s (%s)", done.ID, done.Title)
	if m.archiver != nil {
		if err := m.archiver.ArchiveIncident(done); err != nil {
			log.Printf("[incident] archive of %s failed: %v", done.ID, err)
		}
	}
	return done, nil
}

// Acknowledge stamps an unresolved incident as seen by an operator.
func (m *Manager) Acknowledge(id string) (Incident, error) {
	now := m.nowUTC()

	m.mu.Lock()
	defer m.mu.Unlock()
	inc, ok := m.active[id]
	if !ok {
		return Incident{}, ErrNotFound
	}
	if inc.AcknowledgedAt == nil {
		inc.AcknowledgedAt = &now
	}
	return *inc, nil
}

// Active returns copies of all unresolved incidents, oldest first.
func (m *Manager) Active() []Incident {
	m.mu.RLock()
	out := make([]Incident, 0, len(m.active))
	for _, inc := range m.active {
		out = append(out, *inc)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].TriggeredAt.Equal(out[j].TriggeredAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].TriggeredAt.Before(out[j].TriggeredAt)
	})
	return out
}

// Get returns one incident by id, checking active incidents then history.
func (m *Manager) Get(id string) (Incident, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if inc, ok := m.active[id]; ok {
		return *inc, true
	}
	for i := len(m.history) - 1; i >= 0; i-- {
		if m.history[i].ID == id {
			return m.history[i], true
		}
	}
	return Incident{}, false
}

// History returns the bounded resolved-incident history, oldest first.
func (m *Manager) History() []Incident {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Incident(nil), m.history...)
}

// CountsBySeverity tallies unresolved incidents.
func (m *Manager) CountsBySeverity() map[Severity]int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[Severity]int)
	for _, inc := range m.active {
		out[inc.Severity]++
	}
	return out
}

// HasActiveForTarget reports whether an unresolved SLA incident already
// exists for a target, so repeated breach samples extend one incident instead
// of storming.
func (m *Manager) HasActiveForTarget(target string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, inc := range m.active {
		if inc.Type == TypeSLABreach && inc.SLATarget == target {
			return true
		}
	}
	return false
}

// SetPolicies replaces the escalation policies at runtime. In-flight
// incidents keep their state; only the ladders change.
func (m *Manager) SetPolicies(policies map[string]Policy) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.policies = make(map[string]Policy, len(policies))
	for name, p := range policies {
		m.policies[name] = p
	}
}

func (m *Manager) nowUTC() time.Time {
	m.mu.RLock()
	now := m.now
	m.mu.RUnlock()
	return now().UTC()
}

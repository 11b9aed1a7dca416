package history

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/adaptiveops/optiwatch/pkg/actions"
	"github.com/adaptiveops/optiwatch/pkg/incident"
	"github.com/adaptiveops/optiwatch/pkg/rules"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestArchiveAndQueryIncident(t *testing.T) {
	s := newTestStore(t)

	triggered := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	resolved := triggered.Add(20 * time.Minute)
	inc := incident.Incident{
		ID:              "inc-1",
		Type:            incident.TypeSLABreach,
		Severity:        incident.SeverityCritical,
		Title:           "SLA breach: api-latency",
		Description:     "latency over threshold",
		AffectedMetrics: []string{"app.latency_ms"},
		SLATarget:       "api-latency",
		Level:           2,
		Status:          incident.StatusResolved,
		TriggeredAt:     triggered,
		ResolvedAt:      &resolved,
	}
	if err := s.ArchiveIncident(inc); err != nil {
		t.Fatalf("archive: %v", err)
	}

	got, err := s.Incidents(triggered, resolved.Add(time.Hour), 10)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 archived incident, got %d", len(got))
	}
	if got[0].ID != "inc-1" || got[0].EscalationLevel != 2 {
		t.Fatalf("unexpected row: %+v", got[0])
	}
	if !got[0].ResolvedAt.Equal(resolved) {
		t.Fatalf("resolved_at: expected %v, got %v", resolved, got[0].ResolvedAt)
	}
}

func TestArchiveIncidentIdempotent(t *testing.T) {
	s := newTestStore(t)

	now := time.Now().UTC().Truncate(time.Second)
	inc := incident.Incident{
		ID:          "inc-dup",
		Type:        incident.TypeManual,
		Severity:    incident.SeverityWarning,
		Title:       "disk pressure",
		Status:      incident.StatusResolved,
		TriggeredAt: now,
		ResolvedAt:  &now,
	}
	if err := s.ArchiveIncident(inc); err != nil {
		t.Fatalf("first archive: %v", err)
	}
	if err := s.ArchiveIncident(inc); err != nil {
		t.Fatalf("second archive should replace, not fail: %v", err)
	}

	got, err := s.Incidents(now.Add(-time.Hour), now.Add(time.Hour), 10)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 row after replay, got %d", len(got))
	}
}

func TestArchiveExecution(t *testing.T) {
	s := newTestStore(t)

	exec := rules.Execution{
		RuleID:   "cache-on-slow-latency",
		RuleName: "Grow cache when latency trends up",
		At:       time.Now().UTC(),
		Results: []actions.Result{
			{Action: "increase-cache-size", Success: true, Detail: "cache grown by 256MB"},
			{Action: "enable-compression", Success: false},
		},
	}
	if err := s.ArchiveExecution(exec); err != nil {
		t.Fatalf("archive execution: %v", err)
	}
	if err := s.ArchiveExecution(exec); err != nil {
		t.Fatalf("archive second execution: %v", err)
	}

	n, err := s.ExecutionCount("cache-on-slow-latency")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 executions, got %d", n)
	}
}

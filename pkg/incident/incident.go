// Package incident owns the alert/incident lifecycle: creation, timed
// multi-level escalation with notification fan-out, and resolution. The
// manager is the only writer of incident state transitions.
package incident

import (
	"context"
	"time"
)

// Severity grades an incident.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Status is the lifecycle state of an incident.
type Status string

const (
	StatusActive    Status = "active"
	StatusEscalated Status = "escalated"
	StatusResolved  Status = "resolved"
)

// Incident origin types. Only SLA-origin incidents are eligible for
// auto-resolution; manually triggered ones need an explicit Resolve.
const (
	TypeSLABreach = "sla_breach"
	TypeManual    = "manual"
)

// Incident is one tracked, escalating record of an unresolved breach or
// explicit trigger. Once ResolvedAt is set the record is immutable and lives
// in history; IDs are never reused.
type Incident struct {
	ID              string     `json:"id"`
	Type            string     `json:"type"`
	Severity        Severity   `json:"severity"`
	Title           string     `json:"title"`
	Description     string     `json:"description"`
	AffectedMetrics []string   `json:"affected_metrics"`
	SLATarget       string     `json:"sla_target,omitempty"`
	PolicyName      string     `json:"policy_name,omitempty"`
	RunbookID       string     `json:"runbook_id,omitempty"`
	TriggeredAt     time.Time  `json:"triggered_at"`
	AcknowledgedAt  *time.Time `json:"acknowledged_at,omitempty"`
	ResolvedAt      *time.Time `json:"resolved_at,omitempty"`
	Level           int        `json:"escalation_level"`
	Status          Status     `json:"status"`
}

// Resolved reports whether the incident reached its terminal state.
func (i Incident) Resolved() bool {
	return i.ResolvedAt != nil
}

// AlertPayload is the transport-agnostic notification body handed to the
// injected sink.
type AlertPayload struct {
	IncidentID  string    `json:"incident_id"`
	Event       string    `json:"event"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Severity    Severity  `json:"severity"`
	Level       int       `json:"escalation_level"`
	Target      string    `json:"sla_target,omitempty"`
	Metrics     []string  `json:"affected_metrics,omitempty"`
	At          time.Time `json:"at"`
}

// Notifier delivers one alert payload to a set of recipients. The transport
// (email, chat, webhook, ...) is an external collaborator and owns its own
// bounded retry; cancelling the context abandons the delivery.
type Notifier interface {
	Notify(ctx context.Context, recipients []string, payload AlertPayload) error
}

// Archiver receives resolved incidents for externalization. Best-effort; the
// bounded in-memory history stays authoritative.
type Archiver interface {
	ArchiveIncident(inc Incident) error
}

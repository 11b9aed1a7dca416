package notify

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/adaptiveops/optiwatch/pkg/incident"
)

// PagerDuty Events API v2 payload.
type pagerDutyPayload struct {
	RoutingKey  string         `json:"routing_key"`
	EventAction string         `json:"event_action"`
	DedupKey    string         `json:"dedup_key"`
	Payload     pdEventPayload `json:"payload"`
}

type pdEventPayload struct {
	Summary       string            `json:"summary"`
	Source        string            `json:"source"`
	Severity      string            `json:"severity"`
	Timestamp     string            `json:"timestamp"`
	Component     string            `json:"component"`
	CustomDetails map[string]string `json:"custom_details"`
}

// BuildPagerDutyPayload formats an alert as a PagerDuty Events v2 event.
// Resolutions map to the resolve action so PagerDuty closes the matching
// incident via the dedup key.
func BuildPagerDutyPayload(recipients []string, alert incident.AlertPayload) ([]byte, string, error) {
	action := "trigger"
	if alert.Event == "resolved" {
		action = "resolve"
	}

	severity := "warning"
	switch alert.Severity {
	case incident.SeverityCritical:
		severity = "critical"
	case incident.SeverityInfo:
		severity = "info"
	}

	payload := pagerDutyPayload{
		EventAction: action,
		DedupKey:    alert.IncidentID,
		Payload: pdEventPayload{
			Summary:   fmt.Sprintf("[%s] %s (level %d)", alert.Target, alert.Title, alert.Level),
			Source:    "optiwatch",
			Severity:  severity,
			Timestamp: alert.At.Format("2006-01-02T15:04:05.000+0000"),
			Component: alert.Target,
			CustomDetails: map[string]string{
				"incident_id":      alert.IncidentID,
				"event":            alert.Event,
				"description":      alert.Description,
				"escalation_level": fmt.Sprintf("%d", alert.Level),
				"recipients":       strings.Join(recipients, "; "),
				"affected_metrics": strings.Join(alert.Metrics, "; "),
			},
		},
	}

	data, err := json.Marshal(payload)
	return data, "application/json", err
}

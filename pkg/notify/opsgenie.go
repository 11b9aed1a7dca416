package notify

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/adaptiveops/optiwatch/pkg/incident"
)

// Opsgenie Alert API payload.
type opsgeniePayload struct {
	Message     string            `json:"message"`
	Alias       string            `json:"alias"`
	Description string            `json:"description"`
	Priority    string            `json:"priority"`
	Source      string            `json:"source"`
	Tags        []string          `json:"tags"`
	Details     map[string]string `json:"details"`
	Entity      string            `json:"entity"`
}

// BuildOpsgeniePayload formats an alert as an Opsgenie alert.
func BuildOpsgeniePayload(recipients []string, alert incident.AlertPayload) ([]byte, string, error) {
	priority := "P3"
	switch alert.Severity {
	case incident.SeverityCritical:
		priority = "P2"
		if alert.Level >= 2 {
			priority = "P1"
		}
	case incident.SeverityInfo:
		priority = "P5"
	}

	payload := opsgeniePayload{
		Message:     fmt.Sprintf("[%s] %s", alert.Target, alert.Title),
		Alias:       alert.IncidentID,
		Description: fmt.Sprintf("Event: %s\nLevel: %d\n%s\nMetrics: %s", alert.Event, alert.Level, alert.Description, strings.Join(alert.Metrics, "; ")),
		Priority:    priority,
		Source:      "optiwatch",
		Tags:        append([]string{"optiwatch", string(alert.Severity)}, alert.Target),
		Details: map[string]string{
			"incident_id":      alert.IncidentID,
			"event":            alert.Event,
			"sla_target":       alert.Target,
			"escalation_level": fmt.Sprintf("%d", alert.Level),
			"recipients":       strings.Join(recipients, "; "),
		},
		Entity: alert.Target,
	}

	data, err := json.Marshal(payload)
	return data, "application/json", err
}

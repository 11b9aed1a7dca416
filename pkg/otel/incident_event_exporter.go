// Package otel exports incident lifecycle events to an OTLP/HTTP logs
// endpoint so they land next to the rest of the fleet's telemetry.
package otel

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/adaptiveops/optiwatch/pkg/incident"
)

// IncidentEventExporter sends incident lifecycle events to an OTLP/HTTP logs
// endpoint.
type IncidentEventExporter struct {
	endpoint    string
	serviceName string
	scopeName   string
	client      *http.Client
}

// NewIncidentEventExporter constructs an OTLP/HTTP logs exporter.
func NewIncidentEventExporter(
	endpoint string,
	serviceName string,
	scopeName string,
	timeout time.Duration,
) *IncidentEventExporter {
	if serviceName == "" {
		serviceName = "optiwatch"
	}
	if scopeName == "" {
		scopeName = "optiwatch/incident"
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &IncidentEventExporter{
		endpoint:    endpoint,
		serviceName: serviceName,
		scopeName:   scopeName,
		client:      &http.Client{Timeout: timeout},
	}
}

// ExportBatch posts one OTLP payload that contains all provided events.
func (e *IncidentEventExporter) ExportBatch(events []incident.AlertPayload) error {
	if len(events) == 0 {
		return nil
	}
	if e.endpoint == "" {
		return fmt.Errorf("otlp endpoint is required")
	}

	payload := buildLogsPayload(e.serviceName, e.scopeName, events)
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal otlp payload: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, e.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build otlp request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("send otlp payload: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("otlp endpoint returned status %d", resp.StatusCode)
	}
	return nil
}

type logsPayload struct {
	ResourceLogs []resourceLogs `json:"resourceLogs"`
}

type resourceLogs struct {
	Resource  resource    `json:"resource"`
	ScopeLogs []scopeLogs `json:"scopeLogs"`
}

type resource struct {
	Attributes []keyValue `json:"attributes"`
}

type scopeLogs struct {
	Scope      scope       `json:"scope"`
	LogRecords []logRecord `json:"logRecords"`
}

type scope struct {
	Name string `json:"name"`
}

type logRecord struct {
	TimeUnixNano         string     `json:"timeUnixNano"`
	ObservedTimeUnixNano string     `json:"observedTimeUnixNano"`
	SeverityText         string     `json:"severityText"`
	Body                 anyValue   `json:"body"`
	Attributes           []keyValue `json:"attributes"`
}

type keyValue struct {
	Key   string   `json:"key"`
	Value anyValue `json:"value"`
}

type anyValue struct {
	StringValue string `json:"stringValue,omitempty"`
	IntValue    string `json:"intValue,omitempty"`
}

func buildLogsPayload(serviceName string, scopeName string, events []incident.AlertPayload) logsPayload {
	records := make([]logRecord, 0, len(events))
	for _, event := range events {
		records = append(records, toLogRecord(event))
	}

	return logsPayload{
		ResourceLogs: []resourceLogs{
			{
				Resource: resource{
					Attributes: []keyValue{
						strAttribute("service.name", serviceName),
					},
				},
				ScopeLogs: []scopeLogs{
					{
						Scope:      scope{Name: scopeName},
						LogRecords: records,
					},
				},
			},
		},
	}
}

func toLogRecord(event incident.AlertPayload) logRecord {
	now := strconv.FormatInt(time.Now().UTC().UnixNano(), 10)
	ts := strconv.FormatInt(event.At.UnixNano(), 10)
	if event.At.IsZero() {
		ts = now
	}

	attrs := []keyValue{
		strAttribute("incident.id", event.IncidentID),
		strAttribute("incident.event", event.Event),
		strAttribute("incident.severity", string(event.Severity)),
		intAttribute("incident.escalation_level", event.Level),
		strAttribute("sla.target", event.Target),
		strAttribute("affected.metrics", strings.Join(event.Metrics, ",")),
	}

	return logRecord{
		TimeUnixNano:         ts,
		ObservedTimeUnixNano: now,
		SeverityText:         severityText(event.Severity),
		Body: anyValue{
			StringValue: fmt.Sprintf(
				"incident=%s event=%s level=%d target=%s",
				event.IncidentID,
				event.Event,
				event.Level,
				event.Target,
			),
		},
		Attributes: attrs,
	}
}

func strAttribute(key string, value string) keyValue {
	return keyValue{Key: key, Value: anyValue{StringValue: value}}
}

func intAttribute(key string, value int) keyValue {
	return keyValue{Key: key, Value: anyValue{IntValue: strconv.Itoa(value)}}
}

func severityText(severity incident.Severity) string {
	switch severity {
	case incident.SeverityCritical:
		return "ERROR"
	case incident.SeverityWarning:
		return "WARN"
	default:
		return "INFO"
	}
}

package otel

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/adaptiveops/optiwatch/pkg/incident"
)

func TestIncidentEventExporterExportBatch(t *testing.T) {
	var captured logsPayload
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		if r.Method != http.MethodPost {
			t.Fatalf("expected POST, got %s", r.Method)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Fatalf("decode payload: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	exporter := NewIncidentEventExporter(server.URL, "optiwatch", "incident", 2*time.Second)
	err := exporter.ExportBatch([]incident.AlertPayload{
		{
			IncidentID: "inc-1",
			Event:      "escalated",
			Title:      "SLA breach: api-latency",
			Severity:   incident.SeverityWarning,
			Level:      1,
			Target:     "api-latency",
			Metrics:    []string{"app.latency_ms"},
			At:         time.Now().UTC(),
		},
	})
	if err != nil {
		t.Fatalf("export batch: %v", err)
	}

	if len(captured.ResourceLogs) != 1 {
		t.Fatalf("expected 1 resource log, got %d", len(captured.ResourceLogs))
	}
	records := captured.ResourceLogs[0].ScopeLogs[0].LogRecords
	if len(records) != 1 {
		t.Fatalf("expected 1 log record, got %d", len(records))
	}
	if records[0].SeverityText != "WARN" {
		t.Fatalf("expected WARN severity, got %s", records[0].SeverityText)
	}
}

func TestIncidentEventExporterNon2xx(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	exporter := NewIncidentEventExporter(server.URL, "", "", 2*time.Second)
	err := exporter.ExportBatch([]incident.AlertPayload{{IncidentID: "inc-1"}})
	if err == nil {
		t.Fatal("expected non-2xx error")
	}
}

func TestIncidentEventExporterEmptyBatch(t *testing.T) {
	exporter := NewIncidentEventExporter("", "", "", 0)
	if err := exporter.ExportBatch(nil); err != nil {
		t.Fatalf("empty batch should be a no-op: %v", err)
	}
}

// Command engined runs the adaptive optimization and incident escalation
// daemon: it samples metrics, evaluates optimization rules, tracks SLA
// compliance, and escalates incidents per target policy.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/adaptiveops/optiwatch/pkg/actions"
	"github.com/adaptiveops/optiwatch/pkg/engcfg"
	"github.com/adaptiveops/optiwatch/pkg/engine"
	"github.com/adaptiveops/optiwatch/pkg/history"
	"github.com/adaptiveops/optiwatch/pkg/incident"
	"github.com/adaptiveops/optiwatch/pkg/notify"
	"github.com/adaptiveops/optiwatch/pkg/otel"
	"github.com/adaptiveops/optiwatch/pkg/sampler"
	"github.com/adaptiveops/optiwatch/pkg/tracing"
)

var version = "dev"

func main() {
	if len(os.Args) == 2 && (os.Args[1] == "--version" || os.Args[1] == "version") {
		fmt.Println(version)
		return
	}

	var (
		configPath = flag.String("config", filepath.Join("config", "engine.yaml"), "engine config path")
		bind       = flag.String("bind", ":8080", "API, metrics, and health bind address")

		scenario   = flag.String("scenario", "", "synthetic scenario name (empty = system sampling only)")
		diskPath   = flag.String("disk-path", "/", "mount point for disk usage sampling")
		sampleSys  = flag.Bool("sample-system", true, "enable host system sampling")
		serviceTag = flag.String("service-name", "optiwatch-engined", "service name for traces")

		webhookURL       = flag.String("webhook-url", "", "webhook endpoint URL (overrides config; empty = config value)")
		webhookSecret    = flag.String("webhook-secret", "", "HMAC-SHA256 secret for webhook signing")
		webhookFormat    = flag.String("webhook-format", "", "webhook payload format: generic|pagerduty|opsgenie")
		webhookTimeoutMS = flag.Int("webhook-timeout-ms", 0, "webhook HTTP timeout in milliseconds")

		historyPath  = flag.String("history-path", "", "sqlite archive path (overrides config; empty = config value)")
		otlpLogsURL  = flag.String("otlp-logs-endpoint", "", "OTLP/HTTP logs endpoint for incident events (empty = disabled)")
		otlpTraceURL = flag.String("otlp-trace-endpoint", "", "OTLP/gRPC trace endpoint (empty = stdout traces)")
	)
	flag.Parse()

	cfg := engcfg.Default()
	if *configPath != "" {
		loaded, loadErr := engcfg.Load(*configPath)
		if loadErr != nil {
			log.Printf("config load warning (%s): %v; using defaults", *configPath, loadErr)
		} else {
			cfg = loaded
		}
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	shutdownTracing, err := tracing.Setup(ctx, *serviceTag, *otlpTraceURL)
	if err != nil {
		log.Fatalf("setup tracer provider: %v", err)
	}
	defer func() {
		c, stop := context.WithTimeout(context.Background(), 5*time.Second)
		defer stop()
		_ = shutdownTracing(c)
	}()

	// CLI flags override config file values.
	whURL := firstNonEmpty(*webhookURL, cfg.Webhook.URL)
	var notifier incident.Notifier
	if whURL != "" {
		whFormat := firstNonEmpty(*webhookFormat, cfg.Webhook.Format)
		whSecret := firstNonEmpty(*webhookSecret, cfg.Webhook.Secret)
		whTimeout := *webhookTimeoutMS
		if whTimeout <= 0 {
			whTimeout = cfg.Webhook.TimeoutMS
		}
		notifier = notify.New(whURL, whSecret, notify.Format(whFormat), whTimeout)
		log.Printf("webhook notifier enabled: %s (format=%s)", whURL, whFormat)
	}

	opts := engine.Options{Notifier: notifier}

	dbPath := firstNonEmpty(*historyPath, cfg.History.Path)
	if dbPath != "" {
		archive, err := history.New(dbPath)
		if err != nil {
			log.Fatalf("open history store: %v", err)
		}
		defer archive.Close()
		opts.Archiver = archive
		opts.Executions = archive
		log.Printf("incident archive enabled: %s", archive.DBPath())
	}

	if *otlpLogsURL != "" {
		opts.Events = otel.NewIncidentEventExporter(*otlpLogsURL, *serviceTag, "optiwatch/incident", 5*time.Second)
		log.Printf("incident event exporter enabled: %s", *otlpLogsURL)
	}

	if *sampleSys {
		opts.Sources = append(opts.Sources, sampler.NewSystemSource(*diskPath))
	}
	if *scenario != "" {
		src, err := sampler.NewSyntheticSource(*scenario)
		if err != nil {
			log.Fatalf("synthetic source: %v", err)
		}
		opts.Sources = append(opts.Sources, src)
	}

	eng, err := engine.New(cfg, opts)
	if err != nil {
		log.Fatalf("build engine: %v", err)
	}
	registerDemoActions(eng)

	eng.Start(ctx)
	go watchReload(ctx, eng, *configPath)

	server := &http.Server{
		Addr:              *bind,
		Handler:           apiMux(eng),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Printf("engined %s listening on %s", version, *bind)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("http server failed: %v", err)
			cancel()
		}
	}()

	<-ctx.Done()
	log.Printf("shutting down")

	shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	_ = server.Shutdown(shutdownCtx)
	eng.Wait()
	eng.Shutdown()
}

// watchReload re-reads the config file on SIGHUP and applies it without
// dropping active incidents.
func watchReload(ctx context.Context, eng *engine.Engine, path string) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			cfg, err := engcfg.Load(path)
			if err != nil {
				log.Printf("reload skipped: %v", err)
				continue
			}
			if err := eng.ApplyConfig(cfg); err != nil {
				log.Printf("reload rejected: %v", err)
				continue
			}
			log.Printf("config reloaded from %s", path)
		}
	}
}

func apiMux(eng *engine.Engine) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(eng.Registry(), promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	mux.HandleFunc("/api/v1/snapshot", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		writeJSON(w, eng.DashboardSnapshot())
	})

	mux.HandleFunc("/api/v1/sla", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		writeJSON(w, eng.SLASummary())
	})

	mux.HandleFunc("/api/v1/incidents", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		writeJSON(w, eng.ActiveIncidents())
	})

	mux.HandleFunc("/api/v1/incidents/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		rest := strings.TrimPrefix(r.URL.Path, "/api/v1/incidents/")
		id, verb, ok := strings.Cut(rest, "/")
		if !ok || id == "" {
			http.Error(w, "expected /api/v1/incidents/{id}/{acknowledge|resolve}", http.StatusBadRequest)
			return
		}

		var inc incident.Incident
		var err error
		switch verb {
		case "acknowledge":
			inc, err = eng.Acknowledge(id)
		case "resolve":
			inc, err = eng.Resolve(id)
		default:
			http.Error(w, fmt.Sprintf("unsupported verb %q", verb), http.StatusBadRequest)
			return
		}
		if err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		writeJSON(w, inc)
	})

	mux.HandleFunc("/api/v1/history", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		writeJSON(w, eng.OptimizationHistory())
	})

	return mux
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("encode response: %v", err)
	}
}

// registerDemoActions installs the built-in remediation handlers. They record
// intent; real infrastructure hooks replace them per deployment.
func registerDemoActions(eng *engine.Engine) {
	intent := func(format string, keys ...string) actions.Handler {
		return func(_ context.Context, params map[string]string) (string, error) {
			args := make([]any, 0, len(keys))
			for _, k := range keys {
				args = append(args, params[k])
			}
			return fmt.Sprintf(format, args...), nil
		}
	}

	eng.RegisterAction("increase-cache-size", intent("cache size increased by %sMB", "step_mb"))
	eng.RegisterAction("scale-out", intent("scale-out requested: %s instances", "instances"))
	eng.RegisterAction("enable-compression", intent("response compression enabled for %s", "route"))
	eng.RegisterAction("reprioritize-traffic", intent("traffic class %s reprioritized", "class"))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// Command optictl is the operator CLI for the optimization engine: it
// validates engine configs and queries a running daemon.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/adaptiveops/optiwatch/pkg/engcfg"
	"github.com/adaptiveops/optiwatch/pkg/schema"
	"github.com/adaptiveops/optiwatch/pkg/status"
)

var version = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(2)
	}

	switch os.Args[1] {
	case "validate":
		runValidate(os.Args[2:])
	case "snapshot":
		runSnapshot(os.Args[2:])
	case "incidents":
		runIncidents(os.Args[2:])
	case "version", "--version":
		fmt.Println(version)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", os.Args[1])
		printUsage()
		os.Exit(2)
	}
}

func runValidate(args []string) {
	fs := flag.NewFlagSet("optictl validate", flag.ExitOnError)
	configPath := fs.String("config", filepath.Join("config", "engine.yaml"), "engine config path")
	contractRoot := fs.String("contract-root", ".", "root directory holding docs/contracts")
	contractVersion := fs.String("contract-version", "", "contract version (default: current)")
	_ = fs.Parse(args)

	cfg, err := engcfg.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load: %v\n", err)
		os.Exit(1)
	}
	if err := schema.Validate(*contractRoot, *contractVersion, schema.ContractEngineConfig, cfg); err != nil {
		fmt.Fprintf(os.Stderr, "contract: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "semantic: %v\n", err)
		os.Exit(1)
	}

	rules, _ := cfg.BuildRules()
	targets, _ := cfg.BuildTargets()
	fmt.Printf("%s: OK (%d rules, %d targets, %d runbooks)\n", *configPath, len(rules), len(targets), len(cfg.Runbooks))
}

func runSnapshot(args []string) {
	fs := flag.NewFlagSet("optictl snapshot", flag.ExitOnError)
	addr := fs.String("addr", "http://localhost:8080", "engined base URL")
	output := fs.String("output", "text", "output mode: text|json")
	_ = fs.Parse(args)

	body, err := get(*addr + "/api/v1/snapshot")
	if err != nil {
		fmt.Fprintf(os.Stderr, "query snapshot: %v\n", err)
		os.Exit(1)
	}

	if *output == "json" {
		fmt.Println(string(body))
		return
	}

	var snap status.Snapshot
	if err := json.Unmarshal(body, &snap); err != nil {
		fmt.Fprintf(os.Stderr, "decode snapshot: %v\n", err)
		os.Exit(1)
	}
	printSnapshot(snap)
}

func runIncidents(args []string) {
	fs := flag.NewFlagSet("optictl incidents", flag.ExitOnError)
	addr := fs.String("addr", "http://localhost:8080", "engined base URL")
	_ = fs.Parse(args)

	body, err := get(*addr + "/api/v1/incidents")
	if err != nil {
		fmt.Fprintf(os.Stderr, "query incidents: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(body))
}

func get(url string) ([]byte, error) {
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func printSnapshot(snap status.Snapshot) {
	fmt.Printf("generated_at: %s\n", snap.GeneratedAt.Format("2006-01-02T15:04:05Z07:00"))
	fmt.Printf("active_incidents: %d\n", snap.ActiveTotal)
	fmt.Println()

	fmt.Println("sla_targets:")
	names := make([]string, 0, len(snap.Targets))
	for name := range snap.Targets {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		t := snap.Targets[name]
		fmt.Printf("- [%s] %s rate=%.4f current=%.3f samples=%d\n",
			t.State, name, t.Rate, t.CurrentValue, t.SampleCount)
	}

	fmt.Println()
	fmt.Println("trends:")
	metrics := make([]string, 0, len(snap.Trends))
	for name := range snap.Trends {
		metrics = append(metrics, name)
	}
	sort.Strings(metrics)
	for _, name := range metrics {
		tr := snap.Trends[name]
		fmt.Printf("- %s: %s slope=%.4f volatility=%.4f current=%.3f\n",
			name, tr.Direction, tr.Slope, tr.Volatility, tr.Current)
	}
}

func printUsage() {
	fmt.Println("Usage:")
	fmt.Println("  optictl validate [--config path] [--contract-root dir] [--contract-version vN]")
	fmt.Println("  optictl snapshot [--addr url] [--output text|json]")
	fmt.Println("  optictl incidents [--addr url]")
}

// Package engcfg loads and validates the engine's YAML configuration and
// builds the domain objects (rules, SLA targets, escalation policies,
// runbooks) the engine wires together at startup and on hot reload.
package engcfg

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/adaptiveops/optiwatch/pkg/incident"
	"github.com/adaptiveops/optiwatch/pkg/rules"
	"github.com/adaptiveops/optiwatch/pkg/runbook"
	"github.com/adaptiveops/optiwatch/pkg/sla"
)

// Config mirrors config/engine.yaml.
type Config struct {
	APIVersion string          `yaml:"apiVersion" json:"apiVersion"`
	Kind       string          `yaml:"kind" json:"kind"`
	Intervals  IntervalsConfig `yaml:"intervals" json:"intervals"`
	Store      StoreConfig     `yaml:"store" json:"store"`
	Ingest     IngestConfig    `yaml:"ingest" json:"ingest"`
	OTLP       OTLPConfig      `yaml:"otlp" json:"otlp"`
	Webhook    WebhookConfig   `yaml:"webhook" json:"webhook"`
	History    HistoryConfig   `yaml:"history" json:"history"`
	Rules      []RuleConfig    `yaml:"rules" json:"rules"`
	SLATargets []TargetConfig  `yaml:"sla_targets" json:"sla_targets"`
	Runbooks   []RunbookConfig `yaml:"runbooks" json:"runbooks"`
}

// IntervalsConfig holds the periods of the engine's background loops.
type IntervalsConfig struct {
	SampleSeconds     int `yaml:"sample_seconds" json:"sample_seconds"`
	EvaluationSeconds int `yaml:"evaluation_seconds" json:"evaluation_seconds"`
	SLACheckSeconds   int `yaml:"sla_check_seconds" json:"sla_check_seconds"`
	DashboardSeconds  int `yaml:"dashboard_seconds" json:"dashboard_seconds"`
}

// StoreConfig bounds the in-memory sample store.
type StoreConfig struct {
	Capacity      int `yaml:"capacity" json:"capacity"`
	MaxAgeMinutes int `yaml:"max_age_minutes" json:"max_age_minutes"`
}

// IngestConfig controls sample-rate limiting.
type IngestConfig struct {
	SamplesPerSecondLimit int `yaml:"samples_per_second_limit" json:"samples_per_second_limit"`
}

// OTLPConfig contains collector endpoint settings.
type OTLPConfig struct {
	Endpoint string `yaml:"endpoint" json:"endpoint"`
}

// WebhookConfig configures the outbound alert webhook. An empty URL disables
// webhook delivery.
type WebhookConfig struct {
	URL       string `yaml:"url" json:"url"`
	Secret    string `yaml:"secret" json:"secret,omitempty"`
	Format    string `yaml:"format" json:"format"`
	TimeoutMS int    `yaml:"timeout_ms" json:"timeout_ms"`
}

// HistoryConfig configures the on-disk incident archive. An empty path
// disables archival.
type HistoryConfig struct {
	Path string `yaml:"path" json:"path"`
}

// ConditionConfig is one trigger clause of a rule.
type ConditionConfig struct {
	Metric           string  `yaml:"metric" json:"metric"`
	Op               string  `yaml:"op" json:"op"`
	Value            float64 `yaml:"value" json:"value"`
	SustainedSeconds int     `yaml:"sustained_seconds" json:"sustained_seconds,omitempty"`
}

// ActionConfig names a registered action with optional parameters.
type ActionConfig struct {
	Name   string            `yaml:"name" json:"name"`
	Params map[string]string `yaml:"params" json:"params,omitempty"`
}

// RuleConfig is one optimization rule.
type RuleConfig struct {
	ID         string            `yaml:"id" json:"id"`
	Name       string            `yaml:"name" json:"name"`
	Priority   int               `yaml:"priority" json:"priority"`
	Enabled    *bool             `yaml:"enabled" json:"enabled,omitempty"`
	Conditions []ConditionConfig `yaml:"conditions" json:"conditions"`
	Actions    []ActionConfig    `yaml:"actions" json:"actions"`
}

// EscalationLevelConfig is one step of a target's notification ladder.
type EscalationLevelConfig struct {
	AfterMinutes int      `yaml:"after_minutes" json:"after_minutes"`
	Notify       []string `yaml:"notify" json:"notify"`
}

// TargetConfig is one SLA target with its escalation ladder.
type TargetConfig struct {
	Name              string                  `yaml:"name" json:"name"`
	Metric            string                  `yaml:"metric" json:"metric"`
	TargetValue       float64                 `yaml:"target_value" json:"target_value"`
	WindowMinutes     int                     `yaml:"window_minutes" json:"window_minutes"`
	BreachThreshold   float64                 `yaml:"breach_threshold" json:"breach_threshold"`
	Direction         string                  `yaml:"direction" json:"direction"`
	WarningThreshold  float64                 `yaml:"warning_threshold" json:"warning_threshold,omitempty"`
	CriticalThreshold float64                 `yaml:"critical_threshold" json:"critical_threshold,omitempty"`
	EscalationLevels  []EscalationLevelConfig `yaml:"escalation_levels" json:"escalation_levels"`
}

// RunbookConfig is one advisory runbook document.
type RunbookConfig struct {
	ID              string   `yaml:"id" json:"id"`
	Title           string   `yaml:"title" json:"title"`
	TriggerKeywords []string `yaml:"trigger_keywords" json:"trigger_keywords"`
	Steps           []string `yaml:"steps" json:"steps"`
	EscalationPath  string   `yaml:"escalation_path" json:"escalation_path,omitempty"`
}

// Default returns v1 defaults with no rules, targets, or runbooks.
func Default() Config {
	return Config{
		APIVersion: "engine.optiwatch.dev/v1",
		Kind:       "EngineConfig",
		Intervals: IntervalsConfig{
			SampleSeconds:     30,
			EvaluationSeconds: 60,
			SLACheckSeconds:   120,
			DashboardSeconds:  60,
		},
		Store: StoreConfig{
			Capacity:      10000,
			MaxAgeMinutes: 60,
		},
		Ingest: IngestConfig{
			SamplesPerSecondLimit: 500,
		},
		OTLP: OTLPConfig{
			Endpoint: "http://otel-collector:4317",
		},
		Webhook: WebhookConfig{
			Format:    "generic",
			TimeoutMS: 5000,
		},
	}
}

// Load parses and normalizes an engine config file.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("unmarshal config %s: %w", path, err)
	}
	normalize(&cfg)
	return cfg, nil
}

func normalize(cfg *Config) {
	def := Default()
	if cfg.APIVersion == "" {
		cfg.APIVersion = def.APIVersion
	}
	if cfg.Kind == "" {
		cfg.Kind = def.Kind
	}
	if cfg.Intervals.SampleSeconds <= 0 {
		cfg.Intervals.SampleSeconds = def.Intervals.SampleSeconds
	}
	if cfg.Intervals.EvaluationSeconds <= 0 {
		cfg.Intervals.EvaluationSeconds = def.Intervals.EvaluationSeconds
	}
	if cfg.Intervals.SLACheckSeconds <= 0 {
		cfg.Intervals.SLACheckSeconds = def.Intervals.SLACheckSeconds
	}
	if cfg.Intervals.DashboardSeconds <= 0 {
		cfg.Intervals.DashboardSeconds = def.Intervals.DashboardSeconds
	}
	if cfg.Store.Capacity <= 0 {
		cfg.Store.Capacity = def.Store.Capacity
	}
	if cfg.Store.MaxAgeMinutes <= 0 {
		cfg.Store.MaxAgeMinutes = def.Store.MaxAgeMinutes
	}
	if cfg.Ingest.SamplesPerSecondLimit <= 0 {
		cfg.Ingest.SamplesPerSecondLimit = def.Ingest.SamplesPerSecondLimit
	}
	if cfg.OTLP.Endpoint == "" {
		cfg.OTLP.Endpoint = def.OTLP.Endpoint
	}
	if cfg.Webhook.Format == "" {
		cfg.Webhook.Format = def.Webhook.Format
	}
	if cfg.Webhook.TimeoutMS <= 0 {
		cfg.Webhook.TimeoutMS = def.Webhook.TimeoutMS
	}
}

// Validate builds every domain object once and reports the first
// malformed entry. It does not retain the results.
func (c Config) Validate() error {
	if _, err := c.BuildRules(); err != nil {
		return err
	}
	if _, err := c.BuildTargets(); err != nil {
		return err
	}
	if _, err := c.BuildPolicies(); err != nil {
		return err
	}
	return nil
}

// BuildRules converts the rule section into validated engine rules.
func (c Config) BuildRules() ([]rules.Rule, error) {
	out := make([]rules.Rule, 0, len(c.Rules))
	for _, rc := range c.Rules {
		conds := make([]rules.Condition, 0, len(rc.Conditions))
		for i, cc := range rc.Conditions {
			op, err := rules.ParseOp(cc.Op)
			if err != nil {
				return nil, fmt.Errorf("rule %s: conditions[%d]: %w", rc.ID, i, err)
			}
			conds = append(conds, rules.Condition{
				Metric:    cc.Metric,
				Op:        op,
				Value:     cc.Value,
				Sustained: time.Duration(cc.SustainedSeconds) * time.Second,
			})
		}
		acts := make([]rules.ActionRef, 0, len(rc.Actions))
		for _, ac := range rc.Actions {
			acts = append(acts, rules.ActionRef{Name: ac.Name, Params: ac.Params})
		}
		enabled := true
		if rc.Enabled != nil {
			enabled = *rc.Enabled
		}
		r := rules.Rule{
			ID:         rc.ID,
			Name:       rc.Name,
			Priority:   rc.Priority,
			Enabled:    enabled,
			Conditions: conds,
			Actions:    acts,
		}
		if err := r.Validate(); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// BuildTargets converts the SLA section into validated targets.
func (c Config) BuildTargets() ([]sla.Target, error) {
	out := make([]sla.Target, 0, len(c.SLATargets))
	for _, tc := range c.SLATargets {
		dir, err := sla.ParseDirection(tc.Direction)
		if err != nil {
			return nil, fmt.Errorf("sla_target %s: %w", tc.Name, err)
		}
		t := sla.Target{
			Name:              tc.Name,
			Metric:            tc.Metric,
			TargetValue:       tc.TargetValue,
			Window:            time.Duration(tc.WindowMinutes) * time.Minute,
			BreachThreshold:   tc.BreachThreshold,
			Direction:         dir,
			WarningThreshold:  tc.WarningThreshold,
			CriticalThreshold: tc.CriticalThreshold,
		}
		if err := t.Validate(); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// BuildPolicies converts per-target escalation ladders into policies keyed
// by target name. Targets without levels get no policy and never escalate.
func (c Config) BuildPolicies() (map[string]incident.Policy, error) {
	out := make(map[string]incident.Policy, len(c.SLATargets))
	for _, tc := range c.SLATargets {
		if len(tc.EscalationLevels) == 0 {
			continue
		}
		levels := make([]incident.EscalationLevel, 0, len(tc.EscalationLevels))
		for _, lc := range tc.EscalationLevels {
			levels = append(levels, incident.EscalationLevel{
				After:  time.Duration(lc.AfterMinutes) * time.Minute,
				Notify: append([]string(nil), lc.Notify...),
			})
		}
		p, err := incident.NewPolicy(tc.Name, levels)
		if err != nil {
			return nil, err
		}
		out[tc.Name] = p
	}
	return out, nil
}

// BuildRunbooks converts the runbook section into catalogue entries.
func (c Config) BuildRunbooks() []runbook.Runbook {
	out := make([]runbook.Runbook, 0, len(c.Runbooks))
	for _, rc := range c.Runbooks {
		out = append(out, runbook.Runbook{
			ID:              rc.ID,
			Title:           rc.Title,
			TriggerKeywords: append([]string(nil), rc.TriggerKeywords...),
			Steps:           append([]string(nil), rc.Steps...),
			EscalationPath:  rc.EscalationPath,
		})
	}
	return out
}

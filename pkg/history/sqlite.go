// Package history persists resolved incidents and optimization executions to
// a local SQLite database. The engine's bounded in-memory rings stay
// authoritative; this archive survives restarts.
package history

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/adaptiveops/optiwatch/pkg/incident"
	"github.com/adaptiveops/optiwatch/pkg/rules"
)

// Store provides database operations. It implements incident.Archiver.
type Store struct {
	db     *sql.DB
	dbPath string
}

// New opens (or creates) the SQLite database and runs migrations.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite single-writer
	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrations: %w", err)
	}
	return &Store{db: db, dbPath: dbPath}, nil
}

// DBPath returns the database file path.
func (s *Store) DBPath() string { return s.dbPath }

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// ArchiveIncident inserts one resolved incident.
func (s *Store) ArchiveIncident(inc incident.Incident) error {
	var resolvedAt int64
	if inc.ResolvedAt != nil {
		resolvedAt = inc.ResolvedAt.UTC().Unix()
	}
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO incidents
		(id, type, severity, title, description, affected_metrics, sla_target, escalation_level, status, triggered_at, resolved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		inc.ID, inc.Type, string(inc.Severity), inc.Title, inc.Description,
		strings.Join(inc.AffectedMetrics, ","), inc.SLATarget, inc.Level,
		string(inc.Status), inc.TriggeredAt.UTC().Unix(), resolvedAt)
	if err != nil {
		return fmt.Errorf("archive incident %s: %w", inc.ID, err)
	}
	return nil
}

// ArchiveExecution inserts one optimization execution with its action
// results serialized as JSON.
func (s *Store) ArchiveExecution(exec rules.Execution) error {
	results, err := json.Marshal(exec.Results)
	if err != nil {
		return fmt.Errorf("marshal execution results: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO executions (rule_id, rule_name, at, failed, results)
		VALUES (?, ?, ?, ?, ?)`,
		exec.RuleID, exec.RuleName, exec.At.UTC().Unix(), exec.Failed(), string(results))
	if err != nil {
		return fmt.Errorf("archive execution %s: %w", exec.RuleID, err)
	}
	return nil
}

// ArchivedIncident is one row of the incident archive.
type ArchivedIncident struct {
	ID              string
	Type            string
	Severity        string
	Title           string
	SLATarget       string
	EscalationLevel int
	Status          string
	TriggeredAt     time.Time
	ResolvedAt      time.Time
}

// Incidents returns archived incidents resolved in [from, to], newest first.
func (s *Store) Incidents(from, to time.Time, limit int) ([]ArchivedIncident, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(`
		SELECT id, type, severity, title, sla_target, escalation_level, status, triggered_at, resolved_at
		FROM incidents
		WHERE resolved_at >= ? AND resolved_at <= ?
		ORDER BY resolved_at DESC
		LIMIT ?`,
		from.UTC().Unix(), to.UTC().Unix(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ArchivedIncident
	for rows.Next() {
		var a ArchivedIncident
		var triggered, resolved int64
		if err := rows.Scan(&a.ID, &a.Type, &a.Severity, &a.Title, &a.SLATarget,
			&a.EscalationLevel, &a.Status, &triggered, &resolved); err != nil {
			return nil, err
		}
		a.TriggeredAt = time.Unix(triggered, 0).UTC()
		a.ResolvedAt = time.Unix(resolved, 0).UTC()
		out = append(out, a)
	}
	return out, rows.Err()
}

// ExecutionCount returns the number of archived executions for one rule.
func (s *Store) ExecutionCount(ruleID string) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM executions WHERE rule_id = ?`, ruleID).Scan(&n)
	return n, err
}

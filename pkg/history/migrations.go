package history

import "database/sql"

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS incidents (
		id TEXT PRIMARY KEY,
		type TEXT NOT NULL,
		severity TEXT NOT NULL,
		title TEXT NOT NULL,
		description TEXT DEFAULT '',
		affected_metrics TEXT DEFAULT '',
		sla_target TEXT DEFAULT '',
		escalation_level INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		triggered_at INTEGER NOT NULL,
		resolved_at INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_incidents_resolved ON incidents(resolved_at);
	CREATE INDEX IF NOT EXISTS idx_incidents_target ON incidents(sla_target);`,

	`CREATE TABLE IF NOT EXISTS executions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		rule_id TEXT NOT NULL,
		rule_name TEXT NOT NULL DEFAULT '',
		at INTEGER NOT NULL,
		failed INTEGER NOT NULL DEFAULT 0,
		results TEXT NOT NULL DEFAULT '[]'
	);
	CREATE INDEX IF NOT EXISTS idx_executions_rule ON executions(rule_id, at);`,
}

func runMigrations(db *sql.DB) error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`); err != nil {
		return err
	}

	var currentVersion int
	row := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version")
	if err := row.Scan(&currentVersion); err != nil {
		return err
	}

	for i := currentVersion; i < len(migrations); i++ {
		tx, err := db.Begin()
		if err != nil {
			return err
		}
		if _, err := tx.Exec(migrations[i]); err != nil {
			tx.Rollback()
			return err
		}
		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", i+1); err != nil {
			tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
	}
	return nil
}

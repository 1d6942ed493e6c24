package store

// schemaVersion is bumped whenever the DDL below changes shape. Per
// spec.md §6, a store opened against a database stamped with a different
// version must refuse to start.
const schemaVersion = 1

const schemaSQL = `
-- ============================================================
-- SCHEMA_META: single-row version stamp (spec.md §6)
-- ============================================================
CREATE TABLE IF NOT EXISTS schema_meta (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	version INTEGER NOT NULL
);

-- ============================================================
-- VIOLATIONS: current known state of every finding
-- ============================================================
CREATE TABLE IF NOT EXISTS violations (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	file_path TEXT NOT NULL,
	rule_id TEXT NOT NULL,
	category TEXT NOT NULL,
	severity TEXT NOT NULL CHECK (severity IN ('error', 'warn', 'info')),
	source TEXT NOT NULL CHECK (source IN ('typechecker', 'linter', 'unused-exports', 'schema')),
	message TEXT NOT NULL,
	line INTEGER,
	column INTEGER,
	code_snippet TEXT,
	hash TEXT NOT NULL UNIQUE,
	first_seen_at TEXT NOT NULL,
	last_seen_at TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'active' CHECK (status IN ('active', 'resolved', 'ignored'))
);

CREATE INDEX IF NOT EXISTS idx_violations_status ON violations(status);
CREATE INDEX IF NOT EXISTS idx_violations_cat_sev_active ON violations(category, severity) WHERE status = 'active';
CREATE INDEX IF NOT EXISTS idx_violations_file_rule ON violations(file_path, rule_id);

-- ============================================================
-- RULE_CHECKS: one invocation of one rule by one engine
-- ============================================================
CREATE TABLE IF NOT EXISTS rule_checks (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	rule_id TEXT NOT NULL,
	engine TEXT NOT NULL,
	started_at TEXT NOT NULL,
	completed_at TEXT,
	status TEXT NOT NULL CHECK (status IN ('running', 'completed', 'failed', 'timeout')),
	violations_found INTEGER DEFAULT 0,
	execution_time_ms INTEGER DEFAULT 0,
	error_message TEXT,
	files_checked INTEGER DEFAULT 0,
	files_with_violations INTEGER DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_rule_checks_rule_engine ON rule_checks(rule_id, engine);

-- ============================================================
-- VIOLATION_HISTORY: per-check delta events
-- ============================================================
CREATE TABLE IF NOT EXISTS violation_history (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	check_id INTEGER NOT NULL,
	violation_hash TEXT NOT NULL,
	action TEXT NOT NULL CHECK (action IN ('added', 'removed', 'modified', 'unchanged')),
	previous_line INTEGER,
	previous_message TEXT,
	recorded_at TEXT NOT NULL,

	FOREIGN KEY(check_id) REFERENCES rule_checks(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_history_recorded_at ON violation_history(recorded_at);
CREATE INDEX IF NOT EXISTS idx_history_check ON violation_history(check_id);

-- ============================================================
-- RULE_SCHEDULES: adaptive scheduling state per (rule, engine)
-- ============================================================
CREATE TABLE IF NOT EXISTS rule_schedules (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	rule_id TEXT NOT NULL,
	engine TEXT NOT NULL,
	enabled INTEGER NOT NULL DEFAULT 1,
	priority INTEGER NOT NULL DEFAULT 100,
	check_frequency_ms INTEGER NOT NULL,
	last_run_at TEXT,
	next_run_at TEXT,
	consecutive_zero_count INTEGER NOT NULL DEFAULT 0,
	avg_execution_time_ms REAL NOT NULL DEFAULT 0,
	avg_violations_found REAL NOT NULL DEFAULT 0,

	UNIQUE(rule_id, engine)
);

CREATE INDEX IF NOT EXISTS idx_schedules_next_run_enabled ON rule_schedules(next_run_at) WHERE enabled = 1;
CREATE INDEX IF NOT EXISTS idx_schedules_priority_next_run ON rule_schedules(priority, next_run_at);

-- ============================================================
-- WATCH_SESSIONS: one continuous watch-mode run
-- ============================================================
CREATE TABLE IF NOT EXISTS watch_sessions (
	id TEXT PRIMARY KEY,
	session_start TEXT NOT NULL,
	session_end TEXT,
	total_checks INTEGER NOT NULL DEFAULT 0,
	total_violations_start INTEGER NOT NULL DEFAULT 0,
	total_violations_end INTEGER NOT NULL DEFAULT 0,
	configuration TEXT NOT NULL DEFAULT '{}',
	errors TEXT NOT NULL DEFAULT '[]'
);

-- ============================================================
-- PERFORMANCE_METRICS: time-series observability points
-- ============================================================
CREATE TABLE IF NOT EXISTS performance_metrics (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	metric_type TEXT NOT NULL,
	metric_value REAL NOT NULL,
	metric_unit TEXT,
	context TEXT,
	recorded_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_metrics_recorded_at ON performance_metrics(recorded_at);
CREATE INDEX IF NOT EXISTS idx_metrics_type ON performance_metrics(metric_type, recorded_at);
`

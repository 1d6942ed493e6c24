package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/Invisible-Cities-Agency/sidequestcore/internal/violation"
)

// UpsertSchedule registers (rule_id, engine) if absent, otherwise leaves
// the existing row untouched except for enabled/priority/frequency —
// the running statistics (avg_*, consecutive_zero_count, last/next_run_at)
// are owned exclusively by the scheduler via UpdateScheduleStats.
func (s *Store) UpsertSchedule(sch violation.RuleSchedule) (int64, error) {
	res, err := s.db.Exec(`
		INSERT INTO rule_schedules (rule_id, engine, enabled, priority, check_frequency_ms)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(rule_id, engine) DO UPDATE SET
			enabled = excluded.enabled,
			priority = excluded.priority,
			check_frequency_ms = excluded.check_frequency_ms
	`, sch.RuleID, sch.Engine, sch.Enabled, sch.Priority, sch.CheckFrequencyMs)
	if err != nil {
		return 0, fmt.Errorf("store: upsertSchedule: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil && id != 0 {
		return id, nil
	}
	var id int64
	err = s.db.QueryRow(`SELECT id FROM rule_schedules WHERE rule_id = ? AND engine = ?`, sch.RuleID, sch.Engine).Scan(&id)
	return id, err
}

// SetEnabled flips a schedule's enabled flag. Per spec.md §4.3's state
// machine, "idle → disabled is allowed at any time".
func (s *Store) SetEnabled(ruleID, engine string, enabled bool) error {
	_, err := s.db.Exec(`UPDATE rule_schedules SET enabled = ? WHERE rule_id = ? AND engine = ?`, enabled, ruleID, engine)
	return err
}

// GetNextRulesToCheck returns up to limit enabled schedules whose
// next_run_at has elapsed, ordered by (priority ASC, next_run_at ASC).
func (s *Store) GetNextRulesToCheck(limit int) ([]violation.RuleSchedule, error) {
	now := nowString()
	rows, err := s.db.Query(`
		SELECT id, rule_id, engine, enabled, priority, check_frequency_ms, last_run_at, next_run_at,
		       consecutive_zero_count, avg_execution_time_ms, avg_violations_found
		FROM rule_schedules
		WHERE enabled = 1 AND (next_run_at IS NULL OR next_run_at <= ?)
		ORDER BY priority ASC, next_run_at ASC
		LIMIT ?
	`, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []violation.RuleSchedule
	for rows.Next() {
		sch, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *sch)
	}
	return out, rows.Err()
}

// GetSchedule returns a single schedule by (rule, engine).
func (s *Store) GetSchedule(ruleID, engine string) (*violation.RuleSchedule, error) {
	row := s.db.QueryRow(`
		SELECT id, rule_id, engine, enabled, priority, check_frequency_ms, last_run_at, next_run_at,
		       consecutive_zero_count, avg_execution_time_ms, avg_violations_found
		FROM rule_schedules WHERE rule_id = ? AND engine = ?
	`, ruleID, engine)
	sch, err := scanSchedule(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return sch, nil
}

// ListSchedules returns every registered schedule.
func (s *Store) ListSchedules() ([]violation.RuleSchedule, error) {
	rows, err := s.db.Query(`
		SELECT id, rule_id, engine, enabled, priority, check_frequency_ms, last_run_at, next_run_at,
		       consecutive_zero_count, avg_execution_time_ms, avg_violations_found
		FROM rule_schedules ORDER BY priority ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []violation.RuleSchedule
	for rows.Next() {
		sch, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *sch)
	}
	return out, rows.Err()
}

// UpdateScheduleStats persists the adaptive-frequency fields computed by
// the scheduler (spec.md §4.3). Application code, not a trigger, owns
// this write (SPEC_FULL.md §13).
func (s *Store) UpdateScheduleStats(id int64, lastRunAt, nextRunAt time.Time, consecutiveZero int, avgExecMs, avgViolations float64) error {
	_, err := s.db.Exec(`
		UPDATE rule_schedules
		SET last_run_at = ?, next_run_at = ?, consecutive_zero_count = ?,
		    avg_execution_time_ms = ?, avg_violations_found = ?
		WHERE id = ?
	`, lastRunAt.UTC().Format(timeFormat), nextRunAt.UTC().Format(timeFormat), consecutiveZero, avgExecMs, avgViolations, id)
	return err
}

func scanSchedule(row rowScanner) (*violation.RuleSchedule, error) {
	var sch violation.RuleSchedule
	var enabled bool
	var lastRun, nextRun sql.NullString

	err := row.Scan(&sch.ID, &sch.RuleID, &sch.Engine, &enabled, &sch.Priority, &sch.CheckFrequencyMs,
		&lastRun, &nextRun, &sch.ConsecutiveZeroCount, &sch.AvgExecutionTimeMs, &sch.AvgViolationsFound)
	if err != nil {
		return nil, err
	}
	sch.Enabled = enabled
	if sch.LastRunAt, err = scanNullableTime(lastRun); err != nil {
		return nil, err
	}
	if sch.NextRunAt, err = scanNullableTime(nextRun); err != nil {
		return nil, err
	}
	return &sch, nil
}

package store

import (
	"database/sql"
	"fmt"

	"github.com/Invisible-Cities-Agency/sidequestcore/internal/violation"
)

// StartRuleCheck creates a RuleCheck in the 'running' state and returns
// its id, the foreign key every delta recorded during its execution uses.
func (s *Store) StartRuleCheck(ruleID, engine string) (int64, error) {
	now := nowString()
	res, err := s.db.Exec(`
		INSERT INTO rule_checks (rule_id, engine, started_at, status)
		VALUES (?, ?, ?, 'running')
	`, ruleID, engine, now)
	if err != nil {
		return 0, fmt.Errorf("store: startRuleCheck: %w", err)
	}
	return res.LastInsertId()
}

// CompleteRuleCheck transitions a RuleCheck to 'completed'.
func (s *Store) CompleteRuleCheck(checkID int64, found int, execMs int64, filesChecked, filesWithViolations int) error {
	now := nowString()
	_, err := s.db.Exec(`
		UPDATE rule_checks
		SET status = 'completed', completed_at = ?, violations_found = ?, execution_time_ms = ?,
		    files_checked = ?, files_with_violations = ?
		WHERE id = ? AND status = 'running'
	`, now, found, execMs, filesChecked, filesWithViolations, checkID)
	if err != nil {
		return fmt.Errorf("store: completeRuleCheck: %w", err)
	}
	return nil
}

// FailRuleCheck transitions a RuleCheck to 'failed' with msg.
func (s *Store) FailRuleCheck(checkID int64, msg string) error {
	return s.finishWithStatus(checkID, violation.CheckFailed, msg)
}

// TimeoutRuleCheck transitions a RuleCheck to 'timeout'.
func (s *Store) TimeoutRuleCheck(checkID int64, msg string) error {
	return s.finishWithStatus(checkID, violation.CheckTimeout, msg)
}

func (s *Store) finishWithStatus(checkID int64, status violation.CheckStatus, msg string) error {
	now := nowString()
	_, err := s.db.Exec(`
		UPDATE rule_checks
		SET status = ?, completed_at = ?, error_message = ?
		WHERE id = ? AND status = 'running'
	`, string(status), now, msg, checkID)
	if err != nil {
		return fmt.Errorf("store: finishWithStatus(%s): %w", status, err)
	}
	return nil
}

// GetRuleCheck returns a single RuleCheck by id.
func (s *Store) GetRuleCheck(checkID int64) (*violation.RuleCheck, error) {
	row := s.db.QueryRow(`
		SELECT id, rule_id, engine, started_at, completed_at, status, violations_found,
		       execution_time_ms, COALESCE(error_message, ''), files_checked, files_with_violations
		FROM rule_checks WHERE id = ?
	`, checkID)

	var rc violation.RuleCheck
	var started string
	var completed sql.NullString
	var status string

	err := row.Scan(&rc.ID, &rc.RuleID, &rc.Engine, &started, &completed, &status, &rc.ViolationsFound,
		&rc.ExecutionTimeMs, &rc.ErrorMessage, &rc.FilesChecked, &rc.FilesWithViolations)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	rc.Status = violation.CheckStatus(status)
	if rc.StartedAt, err = parseTime(started); err != nil {
		return nil, err
	}
	if rc.CompletedAt, err = scanNullableTime(completed); err != nil {
		return nil, err
	}
	return &rc, nil
}

// ListRunningChecksOlderThan returns checks still 'running' whose
// started_at predates the cutoff, i.e. executions that were never
// completed or failed. The scheduler does not call it; nothing in the
// kernel moves such checks out of 'running'.
func (s *Store) ListRunningChecksOlderThan(cutoffRFC3339 string) ([]violation.RuleCheck, error) {
	rows, err := s.db.Query(`
		SELECT id, rule_id, engine, started_at
		FROM rule_checks WHERE status = 'running' AND started_at < ?
	`, cutoffRFC3339)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []violation.RuleCheck
	for rows.Next() {
		var rc violation.RuleCheck
		var started string
		if err := rows.Scan(&rc.ID, &rc.RuleID, &rc.Engine, &started); err != nil {
			return nil, err
		}
		if rc.StartedAt, err = parseTime(started); err != nil {
			return nil, err
		}
		rc.Status = violation.CheckRunning
		out = append(out, rc)
	}
	return out, rows.Err()
}

package store

import (
	"database/sql"
	"fmt"

	"github.com/Invisible-Cities-Agency/sidequestcore/internal/violation"
)

// RecordViolationDeltas computes the set difference between
// currentHashes and the hashes that the most recent earlier check of the
// rule owning checkID recorded as present (added or unchanged), inserts
// the corresponding ViolationHistory rows, and — per the
// resolution-semantics decision in SPEC_FULL.md §13 — automatically
// resolves violations that dropped out of the sweep.
func (s *Store) RecordViolationDeltas(checkID int64, currentHashes []string) (violation.DeltaResult, error) {
	var result violation.DeltaResult

	check, err := s.GetRuleCheck(checkID)
	if err != nil {
		return result, fmt.Errorf("store: recordViolationDeltas: lookup check: %w", err)
	}
	if check == nil {
		return result, fmt.Errorf("store: recordViolationDeltas: check %d not found", checkID)
	}

	rows, err := s.db.Query(`
		SELECT violation_hash FROM violation_history WHERE action IN ('added', 'unchanged') AND check_id = (
			SELECT MAX(vh.check_id) FROM violation_history vh JOIN rule_checks rc ON rc.id = vh.check_id
			WHERE rc.rule_id = ? AND vh.check_id < ?)`, check.RuleID, checkID)
	if err != nil {
		return result, fmt.Errorf("store: recordViolationDeltas: lookup previous active: %w", err)
	}
	defer rows.Close()
	previousActive := make(map[string]struct{})
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return result, err
		}
		previousActive[h] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return result, err
	}

	current := make(map[string]struct{}, len(currentHashes))
	for _, h := range currentHashes {
		current[h] = struct{}{}
	}

	tx, err := s.db.Begin()
	if err != nil {
		return result, err
	}
	now := nowString()

	for h := range current {
		action := violation.DeltaAdded
		if _, ok := previousActive[h]; ok {
			action = violation.DeltaUnchanged
			result.Unchanged++
		} else {
			result.Added++
		}
		if err := insertHistory(tx, checkID, h, action, now); err != nil {
			_ = tx.Rollback()
			return violation.DeltaResult{}, err
		}
	}

	var resolvedHashes []string
	for h := range previousActive {
		if _, ok := current[h]; ok {
			continue
		}
		result.Removed++
		resolvedHashes = append(resolvedHashes, h)
		if err := insertHistory(tx, checkID, h, violation.DeltaRemoved, now); err != nil {
			_ = tx.Rollback()
			return violation.DeltaResult{}, err
		}
	}

	for _, h := range resolvedHashes {
		if _, err := tx.Exec(`UPDATE violations SET status = 'resolved' WHERE hash = ? AND status = 'active'`, h); err != nil {
			_ = tx.Rollback()
			return violation.DeltaResult{}, err
		}
	}

	if err := tx.Commit(); err != nil {
		return violation.DeltaResult{}, err
	}
	return result, nil
}

func insertHistory(tx *sql.Tx, checkID int64, hash string, action violation.DeltaAction, recordedAt string) error {
	_, err := tx.Exec(`
		INSERT INTO violation_history (check_id, violation_hash, action, recorded_at)
		VALUES (?, ?, ?, ?)
	`, checkID, hash, string(action), recordedAt)
	return err
}

// HistoryForCheck returns the ViolationHistory rows recorded for checkID,
// ordered by id (i.e. insertion order).
func (s *Store) HistoryForCheck(checkID int64) ([]violation.ViolationHistory, error) {
	rows, err := s.db.Query(`
		SELECT id, check_id, violation_hash, action, previous_line, COALESCE(previous_message, ''), recorded_at
		FROM violation_history WHERE check_id = ? ORDER BY id
	`, checkID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []violation.ViolationHistory
	for rows.Next() {
		var h violation.ViolationHistory
		var action, recordedAt string
		var previousLine sql.NullInt64
		if err := rows.Scan(&h.ID, &h.CheckID, &h.ViolationHash, &action, &previousLine, &h.PreviousMessage, &recordedAt); err != nil {
			return nil, err
		}
		h.Action = violation.DeltaAction(action)
		h.PreviousLine = scanNullableInt(previousLine)
		if h.RecordedAt, err = parseTime(recordedAt); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

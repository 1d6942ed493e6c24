package store

import (
	"database/sql"
	"fmt"

	"github.com/Invisible-Cities-Agency/sidequestcore/internal/violation"
)

// StoreViolations idempotently upserts vs keyed by Hash. On conflict it
// bumps last_seen_at and never touches first_seen_at or status. Per-row
// failures are collected into StoreResult.Errors; the whole batch runs in
// one transaction, so a row error never rolls back rows already applied
// within the same call (spec.md §4.1: "the batch as a whole never
// raises"), while a transaction-level failure (e.g. Commit itself
// failing) leaves the store unchanged.
func (s *Store) StoreViolations(vs []violation.Violation) (violation.StoreResult, error) {
	var result violation.StoreResult
	if len(vs) == 0 {
		return result, nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return result, fmt.Errorf("store: begin storeViolations: %w", err)
	}

	for _, v := range vs {
		if err := s.upsertViolation(tx, v, &result); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", v.Hash, err))
		}
	}

	if err := tx.Commit(); err != nil {
		_ = tx.Rollback()
		return violation.StoreResult{}, fmt.Errorf("store: commit storeViolations: %w", err)
	}
	return result, nil
}

func (s *Store) upsertViolation(tx *sql.Tx, v violation.Violation, result *violation.StoreResult) error {
	now := nowString()
	status := v.Status
	if status == "" {
		status = violation.StatusActive
	}

	var existingID int64
	err := tx.QueryRow(`SELECT id FROM violations WHERE hash = ?`, v.Hash).Scan(&existingID)
	switch {
	case err == sql.ErrNoRows:
		_, err := tx.Exec(`
			INSERT INTO violations
				(file_path, rule_id, category, severity, source, message, line, column, code_snippet, hash, first_seen_at, last_seen_at, status)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, v.FilePath, v.RuleID, v.Category, string(v.Severity), string(v.Source), v.Message,
			nullableInt(v.Line), nullableInt(v.Column), v.CodeSnippet, v.Hash, now, now, string(status))
		if err != nil {
			return err
		}
		result.Inserted++
		return nil
	case err != nil:
		return err
	default:
		_, err := tx.Exec(`UPDATE violations SET last_seen_at = ? WHERE hash = ?`, now, v.Hash)
		if err != nil {
			return err
		}
		result.Updated++
		return nil
	}
}

// ResolveViolations sets status = 'resolved' for each active row matching
// one of hashes and returns the number of rows affected.
func (s *Store) ResolveViolations(hashes []string) (int, error) {
	return s.setStatusForHashes(hashes, violation.StatusResolved, violation.StatusActive)
}

// IgnoreViolations sets status = 'ignored' for each active row matching
// one of hashes.
func (s *Store) IgnoreViolations(hashes []string) (int, error) {
	return s.setStatusForHashes(hashes, violation.StatusIgnored, violation.StatusActive)
}

// ReactivateViolations transitions resolved or ignored rows back to
// active (spec.md §3: "resolved/ignored → active (explicit reactivation)").
func (s *Store) ReactivateViolations(hashes []string) (int, error) {
	if len(hashes) == 0 {
		return 0, nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return 0, err
	}
	var n int
	now := nowString()
	for _, h := range hashes {
		res, err := tx.Exec(`
			UPDATE violations SET status = 'active', last_seen_at = ?
			WHERE hash = ? AND status IN ('resolved', 'ignored')
		`, now, h)
		if err != nil {
			_ = tx.Rollback()
			return 0, err
		}
		affected, _ := res.RowsAffected()
		n += int(affected)
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return n, nil
}

func (s *Store) setStatusForHashes(hashes []string, to, from violation.Status) (int, error) {
	if len(hashes) == 0 {
		return 0, nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return 0, err
	}
	var n int
	for _, h := range hashes {
		res, err := tx.Exec(`UPDATE violations SET status = ? WHERE hash = ? AND status = ?`, string(to), h, string(from))
		if err != nil {
			_ = tx.Rollback()
			return 0, err
		}
		affected, _ := res.RowsAffected()
		n += int(affected)
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return n, nil
}

// GetActiveHashesForRule returns the hashes of every currently-active
// violation for ruleID.
func (s *Store) GetActiveHashesForRule(ruleID string) (map[string]struct{}, error) {
	rows, err := s.db.Query(`SELECT hash FROM violations WHERE rule_id = ? AND status = 'active'`, ruleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	set := make(map[string]struct{})
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, err
		}
		set[h] = struct{}{}
	}
	return set, rows.Err()
}

// GetViolationByHash returns a single violation, or (nil, nil) if absent.
func (s *Store) GetViolationByHash(hash string) (*violation.Violation, error) {
	row := s.db.QueryRow(`
		SELECT id, file_path, rule_id, category, severity, source, message, line, column,
		       code_snippet, hash, first_seen_at, last_seen_at, status
		FROM violations WHERE hash = ?
	`, hash)
	v, err := scanViolation(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return v, nil
}

// ListActiveViolations returns all active violations, ordered by
// last_seen_at descending (most-recently-seen first).
func (s *Store) ListActiveViolations() ([]violation.Violation, error) {
	rows, err := s.db.Query(`
		SELECT id, file_path, rule_id, category, severity, source, message, line, column,
		       code_snippet, hash, first_seen_at, last_seen_at, status
		FROM violations WHERE status = 'active' ORDER BY last_seen_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []violation.Violation
	for rows.Next() {
		v, err := scanViolation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *v)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanViolation(row rowScanner) (*violation.Violation, error) {
	var v violation.Violation
	var severity, source, status string
	var line, column sql.NullInt64
	var codeSnippet sql.NullString
	var firstSeen, lastSeen string

	err := row.Scan(&v.ID, &v.FilePath, &v.RuleID, &v.Category, &severity, &source, &v.Message,
		&line, &column, &codeSnippet, &v.Hash, &firstSeen, &lastSeen, &status)
	if err != nil {
		return nil, err
	}

	v.Severity = violation.Severity(severity)
	v.Source = violation.Source(source)
	v.Status = violation.Status(status)
	v.Line = scanNullableInt(line)
	v.Column = scanNullableInt(column)
	v.CodeSnippet = codeSnippet.String

	if v.FirstSeenAt, err = parseTime(firstSeen); err != nil {
		return nil, err
	}
	if v.LastSeenAt, err = parseTime(lastSeen); err != nil {
		return nil, err
	}
	return &v, nil
}

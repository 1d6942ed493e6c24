package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/Invisible-Cities-Agency/sidequestcore/internal/violation"
)

// CreateSession inserts a new WatchSession row. The session id is caller
// supplied (the watch controller mints a uuid), matching spec.md §9's
// "id string" shape rather than an autoincrement key.
func (s *Store) CreateSession(sess violation.WatchSession) error {
	cfg := sess.Configuration
	if cfg == "" {
		cfg = "{}"
	}
	errs, err := marshalErrors(sess.Errors)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`
		INSERT INTO watch_sessions
			(id, session_start, session_end, total_checks, total_violations_start, total_violations_end, configuration, errors)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, sess.ID, nullableTimeString(&sess.SessionStart), nullableTimeString(sess.SessionEnd),
		sess.TotalChecks, sess.TotalViolationsStart, sess.TotalViolationsEnd, cfg, errs)
	if err != nil {
		return fmt.Errorf("store: createSession: %w", err)
	}
	return nil
}

// GetSession returns a session by id, or (nil, nil) if absent.
func (s *Store) GetSession(id string) (*violation.WatchSession, error) {
	row := s.db.QueryRow(`
		SELECT id, session_start, session_end, total_checks, total_violations_start, total_violations_end, configuration, errors
		FROM watch_sessions WHERE id = ?
	`, id)
	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return sess, err
}

// LatestSession returns the most recently started session, used by the
// watch controller to decide whether to resume (spec.md §4.4).
func (s *Store) LatestSession() (*violation.WatchSession, error) {
	row := s.db.QueryRow(`
		SELECT id, session_start, session_end, total_checks, total_violations_start, total_violations_end, configuration, errors
		FROM watch_sessions ORDER BY session_start DESC LIMIT 1
	`)
	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return sess, err
}

// UpdateSessionCounts bumps totalChecks/totalViolationsEnd after an
// analysis cycle completes.
func (s *Store) UpdateSessionCounts(id string, totalChecks, totalViolationsEnd int) error {
	_, err := s.db.Exec(`
		UPDATE watch_sessions SET total_checks = ?, total_violations_end = ? WHERE id = ?
	`, totalChecks, totalViolationsEnd, id)
	return err
}

// EndSession stamps session_end, closing the session out.
func (s *Store) EndSession(id string) error {
	_, err := s.db.Exec(`UPDATE watch_sessions SET session_end = ? WHERE id = ?`, nowString(), id)
	return err
}

// AppendSessionError appends e to the session's bounded error list,
// capped at violation.MaxSessionErrors (spec.md §9: "the oldest error is
// dropped once the cap is reached").
func (s *Store) AppendSessionError(id string, e violation.SessionError) error {
	sess, err := s.GetSession(id)
	if err != nil {
		return err
	}
	if sess == nil {
		return fmt.Errorf("store: appendSessionError: session %q not found", id)
	}

	errs := append(sess.Errors, e)
	if len(errs) > violation.MaxSessionErrors {
		errs = errs[len(errs)-violation.MaxSessionErrors:]
	}

	encoded, err := marshalErrors(errs)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`UPDATE watch_sessions SET errors = ? WHERE id = ?`, encoded, id)
	return err
}

func marshalErrors(errs []violation.SessionError) (string, error) {
	if errs == nil {
		errs = []violation.SessionError{}
	}
	b, err := json.Marshal(errs)
	if err != nil {
		return "", fmt.Errorf("store: marshal session errors: %w", err)
	}
	return string(b), nil
}

func scanSession(row rowScanner) (*violation.WatchSession, error) {
	var sess violation.WatchSession
	var start string
	var end sql.NullString
	var cfg, errs string

	err := row.Scan(&sess.ID, &start, &end, &sess.TotalChecks, &sess.TotalViolationsStart,
		&sess.TotalViolationsEnd, &cfg, &errs)
	if err != nil {
		return nil, err
	}

	startedAt, err := parseTime(start)
	if err != nil {
		return nil, err
	}
	sess.SessionStart = startedAt
	if sess.SessionEnd, err = scanNullableTime(end); err != nil {
		return nil, err
	}
	sess.Configuration = cfg

	if errs != "" {
		if err := json.Unmarshal([]byte(errs), &sess.Errors); err != nil {
			return nil, fmt.Errorf("store: unmarshal session errors: %w", err)
		}
	}
	return &sess, nil
}

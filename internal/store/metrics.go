package store

import (
	"fmt"
	"time"

	"github.com/Invisible-Cities-Agency/sidequestcore/internal/violation"
)

// RecordMetric inserts a single PerformanceMetric row. Callers (the
// tracker) are expected to swallow the returned error rather than let a
// metrics-recording failure abort the operation being measured.
func (s *Store) RecordMetric(metricType string, value float64, unit, context string) error {
	_, err := s.db.Exec(`
		INSERT INTO performance_metrics (metric_type, metric_value, metric_unit, context, recorded_at)
		VALUES (?, ?, ?, ?, ?)
	`, metricType, value, unit, context, nowString())
	if err != nil {
		return fmt.Errorf("store: recordMetric: %w", err)
	}
	return nil
}

// MetricsSince returns metrics of metricType recorded at or after since,
// ordered oldest first. The analysis package does not read metrics; its
// trend/flakiness views query rule_checks and violation_history.
func (s *Store) MetricsSince(metricType string, since time.Time) ([]violation.PerformanceMetric, error) {
	rows, err := s.db.Query(`
		SELECT id, metric_type, metric_value, COALESCE(metric_unit, ''), COALESCE(context, ''), recorded_at
		FROM performance_metrics WHERE metric_type = ? AND recorded_at >= ? ORDER BY recorded_at ASC
	`, metricType, since.UTC().Format(timeFormat))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []violation.PerformanceMetric
	for rows.Next() {
		var m violation.PerformanceMetric
		var recorded string
		if err := rows.Scan(&m.ID, &m.MetricType, &m.MetricValue, &m.MetricUnit, &m.Context, &recorded); err != nil {
			return nil, err
		}
		if m.RecordedAt, err = parseTime(recorded); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// CleanupOldData deletes violation_history and performance_metrics rows
// older than the retention horizon (spec.md §4.1's maxHistoryDays).
// Violations themselves, active or resolved, are never deleted here —
// only their history/metric trail ages out.
func (s *Store) CleanupOldData(retainDays int) (historyDeleted, metricsDeleted int64, err error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -retainDays).Format(timeFormat)

	tx, err := s.db.Begin()
	if err != nil {
		return 0, 0, err
	}

	res, err := tx.Exec(`DELETE FROM violation_history WHERE recorded_at < ?`, cutoff)
	if err != nil {
		_ = tx.Rollback()
		return 0, 0, fmt.Errorf("store: cleanup history: %w", err)
	}
	historyDeleted, _ = res.RowsAffected()

	res, err = tx.Exec(`DELETE FROM performance_metrics WHERE recorded_at < ?`, cutoff)
	if err != nil {
		_ = tx.Rollback()
		return 0, 0, fmt.Errorf("store: cleanup metrics: %w", err)
	}
	metricsDeleted, _ = res.RowsAffected()

	if err := tx.Commit(); err != nil {
		return 0, 0, err
	}
	return historyDeleted, metricsDeleted, nil
}

// Package analysis provides read-only statistical views over stored
// check history: trends, flakiness, and predicted growth. It is a pure
// function of history already in Store and sits off the hot path —
// nothing here mutates state. Grounded on the teacher's learning.go
// confidence-ratio bookkeeping (success_count/failure_count → a 0..1
// score), generalized from intent-pattern confidence to rule flakiness.
package analysis

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/Invisible-Cities-Agency/sidequestcore/internal/store"
)

// TrendDirection classifies the shape of a rule's recent history.
type TrendDirection string

const (
	TrendIncreasing TrendDirection = "increasing"
	TrendDecreasing TrendDirection = "decreasing"
	TrendStable     TrendDirection = "stable"
)

// stableBandPercent bounds how much a series may move while still being
// reported as TrendStable.
const stableBandPercent = 0.10

// TrendPoint is one completed check's outcome.
type TrendPoint struct {
	CheckedAt       time.Time
	ViolationsFound int
}

// TrendReport summarizes a rule's recent violation counts.
type TrendReport struct {
	RuleID        string
	Engine        string
	Points        []TrendPoint
	Direction     TrendDirection
	ChangePercent float64
}

// Service exposes the read-only statistical views over Store history.
type Service struct {
	store *store.Store
}

// New builds a Service over s.
func New(s *store.Store) *Service {
	return &Service{store: s}
}

// Trend loads the most recent `limit` completed checks for (ruleID,
// engineID), oldest first, and classifies their direction by comparing
// the mean of the first half against the mean of the second half.
func (a *Service) Trend(ruleID, engineID string, limit int) (TrendReport, error) {
	report := TrendReport{RuleID: ruleID, Engine: engineID, Direction: TrendStable}
	if limit <= 0 {
		limit = 20
	}

	rows, err := a.store.DB().Query(`
		SELECT started_at, violations_found FROM rule_checks
		WHERE rule_id = ? AND engine = ? AND status = 'completed'
		ORDER BY started_at DESC LIMIT ?
	`, ruleID, engineID, limit)
	if err != nil {
		return report, fmt.Errorf("analysis: trend query: %w", err)
	}
	defer rows.Close()

	var reversed []TrendPoint
	for rows.Next() {
		var startedAt string
		var found int
		if err := rows.Scan(&startedAt, &found); err != nil {
			return report, err
		}
		t, err := time.Parse(time.RFC3339Nano, startedAt)
		if err != nil {
			return report, err
		}
		reversed = append(reversed, TrendPoint{CheckedAt: t, ViolationsFound: found})
	}
	if err := rows.Err(); err != nil {
		return report, err
	}

	report.Points = make([]TrendPoint, len(reversed))
	for i, p := range reversed {
		report.Points[len(reversed)-1-i] = p
	}

	report.Direction, report.ChangePercent = classify(report.Points)
	return report, nil
}

func classify(points []TrendPoint) (TrendDirection, float64) {
	if len(points) < 2 {
		return TrendStable, 0
	}

	mid := len(points) / 2
	firstHalf, secondHalf := points[:mid], points[mid:]
	firstMean := mean(firstHalf)
	secondMean := mean(secondHalf)

	if firstMean == 0 {
		if secondMean == 0 {
			return TrendStable, 0
		}
		return TrendIncreasing, 100
	}

	changePercent := ((secondMean - firstMean) / firstMean) * 100
	switch {
	case changePercent > stableBandPercent*100:
		return TrendIncreasing, changePercent
	case changePercent < -stableBandPercent*100:
		return TrendDecreasing, changePercent
	default:
		return TrendStable, changePercent
	}
}

func mean(points []TrendPoint) float64 {
	if len(points) == 0 {
		return 0
	}
	var sum int
	for _, p := range points {
		sum += p.ViolationsFound
	}
	return float64(sum) / float64(len(points))
}

// Flakiness scores how often a rule's violations churn (added or removed)
// rather than stay unchanged across its history since `since`, as a ratio
// in [0, 1]. A rule whose findings never settle scores close to 1; a rule
// whose findings are stable scores close to 0.
func (a *Service) Flakiness(ruleID string, since time.Time) (float64, error) {
	row := a.store.DB().QueryRow(`
		SELECT
			COALESCE(SUM(CASE WHEN vh.action IN ('added', 'removed') THEN 1 ELSE 0 END), 0),
			COUNT(*)
		FROM violation_history vh
		JOIN rule_checks rc ON rc.id = vh.check_id
		WHERE rc.rule_id = ? AND vh.recorded_at >= ?
	`, ruleID, since.UTC().Format(time.RFC3339Nano))

	var churned, total int
	if err := row.Scan(&churned, &total); err != nil {
		return 0, fmt.Errorf("analysis: flakiness query: %w", err)
	}
	if total == 0 {
		return 0, nil
	}
	return float64(churned) / float64(total), nil
}

// PredictedGrowth extrapolates the next check's violation count as the
// last observed value plus the average step between consecutive checks
// over the last `limit` completed runs — a simple linear projection, not
// a model; intended as a rough early-warning signal, not a guarantee.
func (a *Service) PredictedGrowth(ruleID, engineID string, limit int) (float64, error) {
	report, err := a.Trend(ruleID, engineID, limit)
	if err != nil {
		return 0, err
	}
	if len(report.Points) < 2 {
		if len(report.Points) == 1 {
			return float64(report.Points[0].ViolationsFound), nil
		}
		return 0, nil
	}

	var stepSum float64
	for i := 1; i < len(report.Points); i++ {
		stepSum += float64(report.Points[i].ViolationsFound - report.Points[i-1].ViolationsFound)
	}
	avgStep := stepSum / float64(len(report.Points)-1)

	last := float64(report.Points[len(report.Points)-1].ViolationsFound)
	predicted := last + avgStep
	if predicted < 0 {
		predicted = 0
	}
	return predicted, nil
}

// Describe renders a TrendReport as a short human-readable summary,
// e.g. "12 violations, up 50% over the last 6 checks (latest: 3 minutes ago)".
func (a *Service) Describe(report TrendReport) string {
	if len(report.Points) == 0 {
		return fmt.Sprintf("%s/%s: no completed checks yet", report.RuleID, report.Engine)
	}

	latest := report.Points[len(report.Points)-1]
	count := humanize.Comma(int64(latest.ViolationsFound))
	when := humanize.Time(latest.CheckedAt)

	switch report.Direction {
	case TrendIncreasing:
		return fmt.Sprintf("%s violations, up %.0f%% over the last %d checks (latest: %s)",
			count, report.ChangePercent, len(report.Points), when)
	case TrendDecreasing:
		return fmt.Sprintf("%s violations, down %.0f%% over the last %d checks (latest: %s)",
			count, -report.ChangePercent, len(report.Points), when)
	default:
		return fmt.Sprintf("%s violations, stable over the last %d checks (latest: %s)",
			count, len(report.Points), when)
	}
}

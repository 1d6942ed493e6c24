package tracker

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Invisible-Cities-Agency/sidequestcore/internal/store"
	"github.com/Invisible-Cities-Agency/sidequestcore/internal/violation"
)

func newTestTracker(t *testing.T) *Tracker {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "sidequest.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	tr, err := New(s, nil)
	require.NoError(t, err)
	return tr
}

func input(file, rule, message string, line *int) violation.InputViolation {
	return violation.InputViolation{
		File: file, Rule: rule, Message: message, Line: line,
		Category: "lint", Severity: violation.SeverityWarn, Source: violation.SourceLinter,
	}
}

func intPtr(i int) *int { return &i }

func TestHashDeterminism(t *testing.T) {
	tr := newTestTracker(t)
	a := input("a.go", "no-unused-vars", "'x' unused at line 42", intPtr(42))
	b := input("a.go", "no-unused-vars", "'x' unused at line 42", intPtr(99))
	assert.Equal(t, tr.GenerateViolationHash(a), tr.GenerateViolationHash(b))
}

func TestHashStableUnderLineNumberEdits(t *testing.T) {
	tr := newTestTracker(t)
	a := input("a.go", "no-unused-vars", "error at line 42", nil)
	b := input("a.go", "no-unused-vars", "error at line 57", nil)
	assert.Equal(t, tr.GenerateViolationHash(a), tr.GenerateViolationHash(b))
}

func TestHashStableUnderCoordinateEdits(t *testing.T) {
	tr := newTestTracker(t)
	a := input("a.go", "rule", "unexpected token at 10:5", nil)
	b := input("a.go", "rule", "unexpected token at 20:9", nil)
	assert.Equal(t, tr.GenerateViolationHash(a), tr.GenerateViolationHash(b))
}

func TestHashDiffersAcrossFileOrRule(t *testing.T) {
	tr := newTestTracker(t)
	base := tr.GenerateViolationHash(input("a.go", "rule1", "msg", nil))
	otherFile := tr.GenerateViolationHash(input("b.go", "rule1", "msg", nil))
	otherRule := tr.GenerateViolationHash(input("a.go", "rule2", "msg", nil))
	assert.NotEqual(t, base, otherFile)
	assert.NotEqual(t, base, otherRule)
}

func TestValidateRejectsMissingFields(t *testing.T) {
	tr := newTestTracker(t)

	valid, errs, _ := tr.ValidateViolation(input("a.go", "r", "msg", nil))
	assert.True(t, valid)
	assert.Empty(t, errs)

	_, errs, _ = tr.ValidateViolation(input("", "r", "msg", nil))
	assert.Contains(t, errs, "File path is required")

	_, errs, _ = tr.ValidateViolation(input("a.go", "r", "", nil))
	assert.Contains(t, errs, "Message is required")

	negLine := input("a.go", "r", "msg", intPtr(-1))
	_, errs, _ = tr.ValidateViolation(negLine)
	assert.Contains(t, errs, "Line number must be a positive integer")

	badSeverity := input("a.go", "r", "msg", nil)
	badSeverity.Severity = "bogus"
	_, errs, _ = tr.ValidateViolation(badSeverity)
	assert.Contains(t, errs, "Severity must be one of error, warn, info")
}

func TestValidateAllowsAbsentLineAndColumn(t *testing.T) {
	tr := newTestTracker(t)
	valid, errs, _ := tr.ValidateViolation(input("a.go", "r", "msg", nil))
	assert.True(t, valid)
	assert.Empty(t, errs)
}

func TestSanitizeTrimsWhitespace(t *testing.T) {
	tr := newTestTracker(t)
	v := input("  a.go  ", "  rule  ", "  message  ", nil)
	v.Category = "  lint  "
	v.Code = "  x := 1  "

	got := tr.SanitizeViolation(v)
	assert.Equal(t, "a.go", got.File)
	assert.Equal(t, "rule", got.Rule)
	assert.Equal(t, "message", got.Message)
	assert.Equal(t, "lint", got.Category)
	assert.Equal(t, "x := 1", got.Code)
}

func TestDeduplicateIsStableAndIdempotent(t *testing.T) {
	tr := newTestTracker(t)
	vs := []violation.Violation{
		{Hash: "h1", FilePath: "a.go"},
		{Hash: "h2", FilePath: "b.go"},
		{Hash: "h1", FilePath: "a.go-dup"},
	}

	once := tr.DeduplicateViolations(vs)
	require.Len(t, once, 2)
	assert.Equal(t, "h1", once[0].Hash)
	assert.Equal(t, "h2", once[1].Hash)

	twice := tr.DeduplicateViolations(once)
	assert.Equal(t, once, twice)
}

func TestProcessViolationsDedupAndStore(t *testing.T) {
	tr := newTestTracker(t)

	vs := []violation.InputViolation{
		input("a.go", "rule1", "msg one", nil),
		input("b.go", "rule2", "msg two", nil),
		input("a.go", "rule1", "msg one", nil), // exact duplicate of the first
	}

	result := tr.ProcessViolations(vs)
	assert.Equal(t, 3, result.Processed)
	assert.Equal(t, 1, result.Deduplicated)
	assert.Equal(t, 2, result.Inserted)
	assert.Empty(t, result.Errors)

	// Re-running the same input is idempotent storage: both now update.
	result = tr.ProcessViolations(vs)
	assert.Equal(t, 0, result.Inserted)
	assert.Equal(t, 2, result.Updated)
}

func TestProcessViolationsCollectsValidationErrors(t *testing.T) {
	tr := newTestTracker(t)

	vs := []violation.InputViolation{
		input("a.go", "rule1", "ok", nil),
		input("", "rule1", "missing file", nil),
		input("b.go", "rule1", "bad line", intPtr(-1)),
	}

	result := tr.ProcessViolations(vs)
	assert.Equal(t, 3, result.Processed)
	assert.Equal(t, 1, result.Inserted)
	assert.Contains(t, result.Errors, "File path is required")
	assert.Contains(t, result.Errors, "Line number must be a positive integer")
}

func TestApplyFiltersIntersectsFacets(t *testing.T) {
	vs := []violation.Violation{
		{Hash: "h1", RuleID: "r1", Severity: violation.SeverityError, FilePath: "a.go"},
		{Hash: "h2", RuleID: "r1", Severity: violation.SeverityWarn, FilePath: "b.go"},
		{Hash: "h3", RuleID: "r2", Severity: violation.SeverityError, FilePath: "a.go"},
	}

	got := ApplyFilters(vs, Filters{RuleIDs: []string{"r1"}, Severities: []violation.Severity{violation.SeverityError}})
	require.Len(t, got, 1)
	assert.Equal(t, "h1", got[0].Hash)

	got = ApplyFilters(vs, Filters{FilePaths: []string{"a.go"}})
	assert.Len(t, got, 2)
}

func TestCacheStatsAndClear(t *testing.T) {
	tr := newTestTracker(t)
	tr.GenerateViolationHash(input("a.go", "r1", "msg", nil))
	tr.ValidateViolation(input("a.go", "r1", "msg", nil))

	stats := tr.GetCacheStats()
	assert.Equal(t, 1, stats.HashCacheLen)
	assert.Equal(t, 1, stats.ValidationCacheLen)

	tr.ClearCaches()
	stats = tr.GetCacheStats()
	assert.Zero(t, stats.HashCacheLen)
	assert.Zero(t, stats.ValidationCacheLen)
}

func TestLifecycleWrappers(t *testing.T) {
	tr := newTestTracker(t)
	vs := []violation.InputViolation{input("a.go", "r1", "msg", nil)}
	result := tr.ProcessViolations(vs)
	require.Equal(t, 1, result.Inserted)

	hash := tr.GenerateViolationHash(vs[0])

	n, err := tr.MarkAsResolved([]string{hash})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = tr.ReactivateViolations([]string{hash})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = tr.MarkAsIgnored([]string{hash})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

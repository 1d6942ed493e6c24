// Package tracker is the gatekeeper between unvalidated engine output and
// the store: it validates, sanitizes, hashes, deduplicates, batches, and
// routes incoming violations. Grounded on internal/core's validation and
// config-memoization helpers, generalized from string config lookups to
// violation records and widened to hold two distinct bounded caches.
package tracker

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"

	"github.com/Invisible-Cities-Agency/sidequestcore/internal/store"
	"github.com/Invisible-Cities-Agency/sidequestcore/internal/violation"
)

const (
	defaultHashCacheSize     = 4096
	defaultValidationCacheSize = 4096
	defaultBatchSize         = 100
)

var lineNumberPattern = regexp.MustCompile(`line \d+`)
var coordinatePattern = regexp.MustCompile(`\d+:\d+`)

// CacheStats reports the two memoization caches' occupancy.
type CacheStats struct {
	HashCacheLen       int
	ValidationCacheLen int
}

// validationEntry is the memoized result of validateViolation.
type validationEntry struct {
	isValid  bool
	errors   []string
	warnings []string
}

// Tracker is the ViolationTracker described in §4.2: stateless-ish,
// layered over Store, holding two bounded in-memory caches.
type Tracker struct {
	store      *store.Store
	log        *logrus.Logger
	batchSize  int
	silent     bool

	hashCache       *lru.Cache[string, string]
	validationCache *lru.Cache[string, validationEntry]
}

// Option configures a Tracker at construction time.
type Option func(*Tracker)

// WithBatchSize overrides the chunk size processViolations batches into.
func WithBatchSize(n int) Option {
	return func(t *Tracker) {
		if n > 0 {
			t.batchSize = n
		}
	}
}

// New builds a Tracker backed by s, sized with the default cache
// capacities. Cache construction only fails on a non-positive size, which
// never happens here, so the error is never observed in practice.
func New(s *store.Store, log *logrus.Logger, opts ...Option) (*Tracker, error) {
	hashCache, err := lru.New[string, string](defaultHashCacheSize)
	if err != nil {
		return nil, fmt.Errorf("tracker: new hash cache: %w", err)
	}
	validationCache, err := lru.New[string, validationEntry](defaultValidationCacheSize)
	if err != nil {
		return nil, fmt.Errorf("tracker: new validation cache: %w", err)
	}

	t := &Tracker{
		store:           s,
		log:             log,
		batchSize:       defaultBatchSize,
		hashCache:       hashCache,
		validationCache: validationCache,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// SetSilentMode suppresses non-error log output from the tracker.
func (t *Tracker) SetSilentMode(silent bool) { t.silent = silent }

func (t *Tracker) logf(format string, args ...any) {
	if t.silent || t.log == nil {
		return
	}
	t.log.Debugf(format, args...)
}

// ProcessViolations validates, sanitizes, deduplicates, batches, and
// stores vs, emitting one violation_processing PerformanceMetric per call.
func (t *Tracker) ProcessViolations(vs []violation.InputViolation) violation.ProcessResult {
	start := time.Now()
	var result violation.ProcessResult
	result.Processed = len(vs)

	valid := make([]violation.Violation, 0, len(vs))
	for _, raw := range vs {
		sanitized := sanitizeInput(raw)
		validation := t.validate(sanitized)
		if !validation.isValid {
			result.Errors = append(result.Errors, validation.errors...)
			continue
		}
		valid = append(valid, toViolation(sanitized, t.hash(sanitized)))
	}

	deduped := t.deduplicate(valid)
	result.Deduplicated = len(valid) - len(deduped)

	for i := 0; i < len(deduped); i += t.batchSize {
		end := i + t.batchSize
		if end > len(deduped) {
			end = len(deduped)
		}
		chunk := deduped[i:end]

		storeResult, err := t.store.StoreViolations(chunk)
		if err != nil {
			result.Errors = append(result.Errors, err.Error())
			continue
		}
		result.Inserted += storeResult.Inserted
		result.Updated += storeResult.Updated
		result.Errors = append(result.Errors, storeResult.Errors...)
	}

	elapsedMs := float64(time.Since(start).Microseconds()) / 1000.0
	if err := t.store.RecordMetric("violation_processing", elapsedMs, "ms",
		fmt.Sprintf("processed=%d", result.Processed)); err != nil {
		t.logf("tracker: record metric failed: %v", err)
	}

	t.logf("tracker: processed=%d inserted=%d updated=%d deduplicated=%d errors=%d",
		result.Processed, result.Inserted, result.Updated, result.Deduplicated, len(result.Errors))
	return result
}

// DeduplicateViolations preserves the first occurrence of each hash in
// input order; stable, per §8 law 4.
func (t *Tracker) DeduplicateViolations(vs []violation.Violation) []violation.Violation {
	return t.deduplicate(vs)
}

func (t *Tracker) deduplicate(vs []violation.Violation) []violation.Violation {
	seen := make(map[string]struct{}, len(vs))
	out := make([]violation.Violation, 0, len(vs))
	for _, v := range vs {
		if _, ok := seen[v.Hash]; ok {
			continue
		}
		seen[v.Hash] = struct{}{}
		out = append(out, v)
	}
	return out
}

// GenerateViolationHash computes the SHA-256 hash defined in spec §3:
// file_path | rule_id | normalized(message), where normalized(message)
// collapses "line N" to "line X" and "N:M" to "X:Y" so edits that merely
// shift line numbers do not resurrect the same logical finding.
func (t *Tracker) GenerateViolationHash(v violation.InputViolation) string {
	return t.hash(v)
}

func (t *Tracker) hash(v violation.InputViolation) string {
	key := v.File + "\x00" + v.Rule + "\x00" + v.Message
	if cached, ok := t.hashCache.Get(key); ok {
		return cached
	}

	normalized := lineNumberPattern.ReplaceAllString(v.Message, "line X")
	normalized = coordinatePattern.ReplaceAllString(normalized, "X:Y")

	sum := sha256.Sum256([]byte(v.File + "|" + v.Rule + "|" + normalized))
	hash := hex.EncodeToString(sum[:])

	t.hashCache.Add(key, hash)
	return hash
}

// ValidateViolation rejects a violation missing required fields or
// carrying invalid enum/negative-coordinate values; line/column may be
// absent. Results are memoized per input shape.
func (t *Tracker) ValidateViolation(v violation.InputViolation) (bool, []string, []string) {
	entry := t.validate(v)
	return entry.isValid, entry.errors, entry.warnings
}

func (t *Tracker) validate(v violation.InputViolation) validationEntry {
	key := fmt.Sprintf("%s\x00%s\x00%s\x00%s\x00%v\x00%v",
		v.File, v.Message, v.Severity, v.Rule, v.Line, v.Column)
	if cached, ok := t.validationCache.Get(key); ok {
		return cached
	}

	var errs []string
	if strings.TrimSpace(v.File) == "" {
		errs = append(errs, "File path is required")
	}
	if strings.TrimSpace(v.Message) == "" {
		errs = append(errs, "Message is required")
	}
	if !v.Severity.Valid() {
		errs = append(errs, "Severity must be one of error, warn, info")
	}
	if v.Line != nil && *v.Line < 0 {
		errs = append(errs, "Line number must be a positive integer")
	}
	if v.Column != nil && *v.Column < 0 {
		errs = append(errs, "Column number must be a positive integer")
	}

	entry := validationEntry{isValid: len(errs) == 0, errors: errs}
	t.validationCache.Add(key, entry)
	return entry
}

// SanitizeViolation trims whitespace around File, Message, Category, Rule,
// and Code, leaving Line, Column, Severity, and Source untouched.
func (t *Tracker) SanitizeViolation(v violation.InputViolation) violation.InputViolation {
	return sanitizeInput(v)
}

func sanitizeInput(v violation.InputViolation) violation.InputViolation {
	v.File = strings.TrimSpace(v.File)
	v.Message = strings.TrimSpace(v.Message)
	v.Category = strings.TrimSpace(v.Category)
	v.Rule = strings.TrimSpace(v.Rule)
	v.Code = strings.TrimSpace(v.Code)
	return v
}

func toViolation(v violation.InputViolation, hash string) violation.Violation {
	now := time.Now().UTC()
	return violation.Violation{
		FilePath:    v.File,
		RuleID:      v.Rule,
		Category:    v.Category,
		Severity:    v.Severity,
		Source:      v.Source,
		Message:     v.Message,
		Line:        v.Line,
		Column:      v.Column,
		CodeSnippet: v.Code,
		Hash:        hash,
		FirstSeenAt: now,
		LastSeenAt:  now,
		Status:      violation.StatusActive,
	}
}

// FilterByRuleIDs keeps only violations whose RuleID is in ids.
func FilterByRuleIDs(vs []violation.Violation, ids []string) []violation.Violation {
	set := toSet(ids)
	return filter(vs, func(v violation.Violation) bool { _, ok := set[v.RuleID]; return ok })
}

// FilterBySeverities keeps only violations whose Severity is in sevs.
func FilterBySeverities(vs []violation.Violation, sevs []violation.Severity) []violation.Violation {
	set := make(map[violation.Severity]struct{}, len(sevs))
	for _, s := range sevs {
		set[s] = struct{}{}
	}
	return filter(vs, func(v violation.Violation) bool { _, ok := set[v.Severity]; return ok })
}

// FilterByFilePaths keeps only violations whose FilePath is in paths.
func FilterByFilePaths(vs []violation.Violation, paths []string) []violation.Violation {
	set := toSet(paths)
	return filter(vs, func(v violation.Violation) bool { _, ok := set[v.FilePath]; return ok })
}

// Filters bundles the three facets ApplyFilters intersects.
type Filters struct {
	RuleIDs    []string
	Severities []violation.Severity
	FilePaths  []string
}

// ApplyFilters intersects every non-empty facet in f against vs.
func ApplyFilters(vs []violation.Violation, f Filters) []violation.Violation {
	out := vs
	if len(f.RuleIDs) > 0 {
		out = FilterByRuleIDs(out, f.RuleIDs)
	}
	if len(f.Severities) > 0 {
		out = FilterBySeverities(out, f.Severities)
	}
	if len(f.FilePaths) > 0 {
		out = FilterByFilePaths(out, f.FilePaths)
	}
	return out
}

func filter(vs []violation.Violation, keep func(violation.Violation) bool) []violation.Violation {
	out := make([]violation.Violation, 0, len(vs))
	for _, v := range vs {
		if keep(v) {
			out = append(out, v)
		}
	}
	return out
}

func toSet(vals []string) map[string]struct{} {
	set := make(map[string]struct{}, len(vals))
	for _, v := range vals {
		set[v] = struct{}{}
	}
	return set
}

// MarkAsResolved is a thin wrapper over Store.ResolveViolations.
func (t *Tracker) MarkAsResolved(hashes []string) (int, error) {
	return t.store.ResolveViolations(hashes)
}

// MarkAsIgnored is a thin wrapper over Store.IgnoreViolations.
func (t *Tracker) MarkAsIgnored(hashes []string) (int, error) {
	return t.store.IgnoreViolations(hashes)
}

// ReactivateViolations is a thin wrapper over Store.ReactivateViolations.
func (t *Tracker) ReactivateViolations(hashes []string) (int, error) {
	return t.store.ReactivateViolations(hashes)
}

// GetCacheStats reports the current occupancy of both memoization caches.
func (t *Tracker) GetCacheStats() CacheStats {
	return CacheStats{
		HashCacheLen:       t.hashCache.Len(),
		ValidationCacheLen: t.validationCache.Len(),
	}
}

// ClearCaches purges both memoization caches.
func (t *Tracker) ClearCaches() {
	t.hashCache.Purge()
	t.validationCache.Purge()
}

// Package scheduler owns the set of rule schedules and decides which
// (rule, engine) pair to run next, respecting a concurrency cap, and
// applies adaptive frequency adjustments based on observed outcomes
// (spec.md §4.3). Grounded on other_examples' kk-alert scheduler.go for
// the in-flight-set + goroutine-per-task + RWMutex shape, and on
// r3e-network-service_layer's automation scheduler for the
// context.WithTimeout + sync.WaitGroup per-cycle lifecycle.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Invisible-Cities-Agency/sidequestcore/internal/engine"
	"github.com/Invisible-Cities-Agency/sidequestcore/internal/store"
	"github.com/Invisible-Cities-Agency/sidequestcore/internal/tracker"
	"github.com/Invisible-Cities-Agency/sidequestcore/internal/violation"
)

const (
	defaultPerExecutionTimeout = 30 * time.Second
	defaultSelectionLimit      = 256
	ewmaAlpha                  = 0.2
	hotThreshold               = 5  // observed violations > hotThreshold runs hotter
	quietThreshold             = 5  // consecutive_zero_count > quietThreshold backs off
)

// RuleResult is the outcome of one scheduler-dispatched execution.
type RuleResult struct {
	RuleID  string
	Engine  string
	CheckID int64
	Status  violation.CheckStatus
	Found   int
	Delta   violation.DeltaResult
	Process violation.ProcessResult
	Err     error
}

// Events bundles the four callbacks named in spec.md §4.3. Delivery is
// best-effort in the order emitted; a nil field is simply skipped.
type Events struct {
	RuleStarted    func(ruleID, engineID string)
	RuleCompleted  func(result RuleResult)
	RuleFailed     func(ruleID, engineID string, err error)
	CycleCompleted func(results []RuleResult)
}

// Scheduler dispatches due rule schedules against registered engine
// adapters, routes their output through the tracker, and records deltas.
type Scheduler struct {
	store    *store.Store
	tracker  *tracker.Tracker
	registry *engine.Registry

	maxConcurrent       int
	perExecutionTimeout time.Duration
	events              Events
	log                 *logrus.Logger

	mu       sync.Mutex
	inFlight map[string]struct{}
}

// Option configures a Scheduler at construction time.
type Option func(*Scheduler)

// WithLogger attaches a logger for per-dispatch debug output.
func WithLogger(log *logrus.Logger) Option {
	return func(s *Scheduler) { s.log = log }
}

// WithMaxConcurrent overrides the default concurrency cap (3).
func WithMaxConcurrent(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.maxConcurrent = n
		}
	}
}

// WithPerExecutionTimeout overrides the default 30s per-rule timeout.
func WithPerExecutionTimeout(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.perExecutionTimeout = d
		}
	}
}

// WithEvents installs the four event callbacks.
func WithEvents(events Events) Option {
	return func(s *Scheduler) { s.events = events }
}

// New builds a Scheduler over st/tr/reg with a default concurrency cap of
// 3 and a default per-execution timeout of 30s.
func New(st *store.Store, tr *tracker.Tracker, reg *engine.Registry, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:               st,
		tracker:              tr,
		registry:             reg,
		maxConcurrent:        3,
		perExecutionTimeout:  defaultPerExecutionTimeout,
		inFlight:             make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func scheduleKey(ruleID, engineID string) string { return ruleID + "\x00" + engineID }

func (s *Scheduler) debugf(format string, args ...any) {
	if s.log != nil {
		s.log.Debugf(format, args...)
	}
}

// ExecuteNextRules loads due schedules, skips any (rule, engine) already
// in flight, and dispatches up to maxConcurrent-inFlight executions in
// parallel, blocking until the dispatched batch completes. It is safe to
// call concurrently from multiple ticks; each call only claims the slots
// free at the moment it runs.
func (s *Scheduler) ExecuteNextRules(ctx context.Context) []RuleResult {
	due, err := s.store.GetNextRulesToCheck(defaultSelectionLimit)
	if err != nil {
		if s.events.CycleCompleted != nil {
			s.events.CycleCompleted(nil)
		}
		return nil
	}

	toRun := s.claimSlots(due)
	if len(toRun) == 0 {
		if s.events.CycleCompleted != nil {
			s.events.CycleCompleted(nil)
		}
		return nil
	}

	results := make([]RuleResult, len(toRun))
	var wg sync.WaitGroup
	for i, sch := range toRun {
		wg.Add(1)
		go func(i int, sch violation.RuleSchedule) {
			defer wg.Done()
			defer s.release(sch)
			results[i] = s.execute(ctx, sch)
		}(i, sch)
	}
	wg.Wait()

	if s.events.CycleCompleted != nil {
		s.events.CycleCompleted(results)
	}
	return results
}

func (s *Scheduler) claimSlots(due []violation.RuleSchedule) []violation.RuleSchedule {
	s.mu.Lock()
	defer s.mu.Unlock()

	free := s.maxConcurrent - len(s.inFlight)
	if free <= 0 {
		return nil
	}

	var toRun []violation.RuleSchedule
	for _, sch := range due {
		if len(toRun) >= free {
			break
		}
		key := scheduleKey(sch.RuleID, sch.Engine)
		if _, busy := s.inFlight[key]; busy {
			continue
		}
		s.inFlight[key] = struct{}{}
		toRun = append(toRun, sch)
	}
	return toRun
}

func (s *Scheduler) release(sch violation.RuleSchedule) {
	s.mu.Lock()
	delete(s.inFlight, scheduleKey(sch.RuleID, sch.Engine))
	s.mu.Unlock()
}

// execute runs the happens-before chain required by spec.md §5:
// startRuleCheck → adapter invocation → processViolations →
// recordViolationDeltas → completeRuleCheck/failRuleCheck.
func (s *Scheduler) execute(ctx context.Context, sch violation.RuleSchedule) RuleResult {
	s.debugf("scheduler: dispatching rule=%s engine=%s", sch.RuleID, sch.Engine)
	if s.events.RuleStarted != nil {
		s.events.RuleStarted(sch.RuleID, sch.Engine)
	}

	checkID, err := s.store.StartRuleCheck(sch.RuleID, sch.Engine)
	if err != nil {
		return s.fail(sch, 0, err)
	}

	adapter, err := s.registry.Get(sch.Engine)
	if err != nil {
		_ = s.store.FailRuleCheck(checkID, err.Error())
		return s.fail(sch, checkID, err)
	}

	timeout := s.perExecutionTimeout
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	vs, runErr := adapter.CheckRule(execCtx, sch.RuleID)
	elapsed := time.Since(start)

	if errors.Is(execCtx.Err(), context.DeadlineExceeded) {
		_ = s.store.TimeoutRuleCheck(checkID, "execution exceeded per-rule timeout")
		s.applyOutcome(sch, 0, timeout)
		result := s.fail(sch, checkID, execCtx.Err())
		result.Status = violation.CheckTimeout
		return result
	}
	if runErr != nil {
		_ = s.store.FailRuleCheck(checkID, runErr.Error())
		return s.fail(sch, checkID, runErr)
	}

	process := s.tracker.ProcessViolations(vs)

	hashes := make([]string, 0, len(vs))
	filesSeen := make(map[string]struct{}, len(vs))
	for _, v := range vs {
		hashes = append(hashes, s.tracker.GenerateViolationHash(v))
		filesSeen[v.File] = struct{}{}
	}

	delta, deltaErr := s.store.RecordViolationDeltas(checkID, hashes)
	if deltaErr != nil {
		_ = s.store.FailRuleCheck(checkID, deltaErr.Error())
		return s.fail(sch, checkID, deltaErr)
	}

	if err := s.store.CompleteRuleCheck(checkID, len(vs), elapsed.Milliseconds(), len(filesSeen), len(filesSeen)); err != nil {
		return s.fail(sch, checkID, err)
	}

	s.applyOutcome(sch, len(vs), elapsed)

	result := RuleResult{
		RuleID:  sch.RuleID,
		Engine:  sch.Engine,
		CheckID: checkID,
		Status:  violation.CheckCompleted,
		Found:   len(vs),
		Delta:   delta,
		Process: process,
	}
	if s.events.RuleCompleted != nil {
		s.events.RuleCompleted(result)
	}
	return result
}

func (s *Scheduler) fail(sch violation.RuleSchedule, checkID int64, err error) RuleResult {
	result := RuleResult{RuleID: sch.RuleID, Engine: sch.Engine, CheckID: checkID, Status: violation.CheckFailed, Err: err}
	if s.events.RuleFailed != nil {
		s.events.RuleFailed(sch.RuleID, sch.Engine, err)
	}
	return result
}

// applyOutcome implements the adaptive frequency formulas of spec.md
// §4.3. A timed-out execution is treated as a zero-violation outcome, as
// the timeout policy requires; non-timeout failures do not reach this
// function at all, so a schedule that merely failed stays due and is
// retried on the next tick rather than backing off.
//
// The next-run gap is decided from this execution's raw observed count,
// not the smoothed average — spec.md §8's law 7 and its worked scenario
// both key the freq/2 and freq×3 bounds off the just-observed count, so
// that is what decides Δ here. avg_violations_found/avg_execution_time_ms
// are still maintained as smoothed statistics for the analysis views.
func (s *Scheduler) applyOutcome(sch violation.RuleSchedule, observed int, elapsed time.Duration) {
	avgExecMs := 0.8*sch.AvgExecutionTimeMs + ewmaAlpha*float64(elapsed.Milliseconds())
	avgViolations := 0.8*sch.AvgViolationsFound + ewmaAlpha*float64(observed)

	consecutiveZero := sch.ConsecutiveZeroCount
	if observed == 0 {
		consecutiveZero++
	} else {
		consecutiveZero = 0
	}

	freq := time.Duration(sch.CheckFrequencyMs) * time.Millisecond
	delta := freq
	switch {
	case observed > hotThreshold:
		delta = freq / 2
	case consecutiveZero > quietThreshold:
		delta = freq * 3
	}

	now := time.Now().UTC()
	_ = s.store.UpdateScheduleStats(sch.ID, now, now.Add(delta), consecutiveZero, avgExecMs, avgViolations)
}

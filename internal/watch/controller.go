// Package watch implements the watch-mode controller: a state machine
// coordinating periodic analysis cycles, session persistence, error
// recovery, and graceful shutdown on top of Orchestrator (spec.md §4.4).
// Grounded on the autotidy watcher's single-goroutine select loop (ticker
// + done channel + ordered shutdown draining) and the teacher's
// Engine.watchConfig/Close ticker-vs-context-cancellation shape.
package watch

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/Invisible-Cities-Agency/sidequestcore/internal/orchestrator"
	"github.com/Invisible-Cities-Agency/sidequestcore/internal/vcsinfo"
	"github.com/Invisible-Cities-Agency/sidequestcore/internal/violation"
)

const (
	defaultTickInterval   = 3 * time.Second
	defaultSafetyDeadline = 10 * time.Minute
	defaultRecoveryDelay  = 5 * time.Second
)

// Summary is the per-cycle breakdown spec.md §4.4 requires: "compute a
// violation summary (by source, category, severity)".
type Summary struct {
	Total      int
	BySource   map[string]int
	ByCategory map[string]int
	BySeverity map[string]int
}

// Events bundles the controller's four observable callbacks. A nil field
// is simply skipped; callbacks run synchronously on the controller's
// goroutine, so a slow callback delays the loop.
type Events struct {
	PhaseChanged      func(from, to Phase)
	InvalidTransition func(from Phase, attempted string)
	Shutdown          func(reason ShutdownReason)
	DisplayUpdate     func(summary Summary)
}

// Options configures one Controller run.
type Options struct {
	DataDir        string // holds watch-session.json
	Cwd            string // holds .sidequest-logs/, and is compared for resumption
	TargetPath     string
	Strict         bool
	ESLintOnly     bool
	TickInterval   time.Duration
	SafetyDeadline time.Duration
	RecoveryDelay  time.Duration

	// ClearSession truncates watch-session.json on a clean shutdown
	// (spec.md §6: "truncated on clean shutdown if explicit session
	// clearing was requested"). It has no effect on an error shutdown,
	// since an abrupt exit should leave a session behind to resume.
	ClearSession bool

	// WatchPath, when set, enables an fsnotify-driven early trigger for
	// the analysis cycle on top of the regular ticker (spec.md §4.4 names
	// the ticker/deadline/signal trio as the required drivers; this is an
	// additional, optional one). Empty disables it.
	WatchPath     string
	WatchDebounce time.Duration
}

func (o Options) withDefaults() Options {
	if o.TickInterval <= 0 {
		o.TickInterval = defaultTickInterval
	}
	if o.SafetyDeadline <= 0 {
		o.SafetyDeadline = defaultSafetyDeadline
	}
	if o.RecoveryDelay <= 0 {
		o.RecoveryDelay = defaultRecoveryDelay
	}
	if o.WatchDebounce <= 0 {
		o.WatchDebounce = 500 * time.Millisecond
	}
	return o
}

// Controller is the watch-mode state machine. It is the sole caller of
// cycle logic, so phase transitions need no lock beyond what guards
// concurrent reads from observers (e.g. tests).
type Controller struct {
	orch   *orchestrator.Orchestrator
	log    *logrus.Logger
	opts   Options
	errs   *errorLog
	vcs    *vcsinfo.Info
	events Events

	mu      sync.Mutex
	phase   Phase
	session violation.WatchSession
}

// New builds a Controller over orch. Call Run to drive it.
func New(orch *orchestrator.Orchestrator, log *logrus.Logger, opts Options, events Events) *Controller {
	opts = opts.withDefaults()
	return &Controller{
		orch:   orch,
		log:    log,
		opts:   opts,
		errs:   newErrorLog(opts.Cwd),
		vcs:    vcsinfo.New(opts.Cwd),
		events: events,
		phase:  PhaseIdle,
	}
}

func (c *Controller) logf(format string, args ...any) {
	if c.log != nil {
		c.log.Debugf(format, args...)
	}
}

func (c *Controller) setPhase(to Phase) {
	c.mu.Lock()
	from := c.phase
	c.phase = to
	c.mu.Unlock()
	if from != to && c.events.PhaseChanged != nil {
		c.events.PhaseChanged(from, to)
	}
}

func (c *Controller) currentPhase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// Run drives the controller to completion: loads or resumes a session,
// performs one immediate analysis cycle, then alternates ticks, a safety
// deadline, and OS signals until one of them requests shutdown. It
// returns the process exit code spec.md §6 assigns to the shutdown reason
// (0 for timeout/interrupt, 1 for error).
func (c *Controller) Run(parentCtx context.Context) int {
	c.setPhase(PhaseStarting)
	c.loadOrCreateSession()
	c.setPhase(PhaseRunning)

	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	// The adaptive rule scheduler runs on its own background cadence for
	// the whole lifetime of the watch session; the controller only
	// decides when the next *full-scan* analysis cycle happens (spec.md
	// §4.4's note that WatchController "drives Scheduler and the display
	// on a timer").
	c.orch.StartWatch(ctx)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	ticker := time.NewTicker(c.opts.TickInterval)
	defer ticker.Stop()

	deadline := time.NewTimer(c.opts.SafetyDeadline)
	defer deadline.Stop()

	retryCh := make(chan struct{}, 1)

	fsDone := make(chan struct{})
	if trigger := newFSTrigger(c.opts.WatchPath, c.opts.WatchDebounce, c.logf); trigger != nil {
		go trigger.run(fsDone, retryCh)
		defer close(fsDone)
	}

	c.runCycle(ctx, retryCh)

	reason := ReasonInterrupt
loop:
	for {
		select {
		case <-parentCtx.Done():
			reason = ReasonInterrupt
			break loop
		case <-sigCh:
			reason = ReasonInterrupt
			break loop
		case <-deadline.C:
			reason = ReasonTimeout
			break loop
		case <-ticker.C:
			c.runCycle(ctx, retryCh)
		case <-retryCh:
			c.runCycle(ctx, retryCh)
		}
	}

	c.shutdown(reason)
	return reason.ExitCode()
}

// runCycle performs one analysis cycle if the state machine allows it.
// On a rejected tick, it emits InvalidTransition and returns without
// touching any state — ticks that arrive mid-analysis are simply dropped,
// never queued (spec.md §8 law 6).
func (c *Controller) runCycle(ctx context.Context, retryCh chan struct{}) {
	if !canStartAnalysis(c.currentPhase()) {
		if c.events.InvalidTransition != nil {
			c.events.InvalidTransition(c.currentPhase(), "analyzing")
		}
		return
	}

	c.setPhase(PhaseAnalyzing)
	defer c.setPhase(PhaseRunning)

	if _, err := c.orch.Check(ctx); err != nil {
		c.recordCycleError(err, "analyzing")
		c.scheduleRetry(retryCh)
		return
	}

	summary, err := c.summarize()
	if err != nil {
		c.recordCycleError(err, "summarize")
		c.scheduleRetry(retryCh)
		return
	}

	c.session.TotalChecks++
	c.session.TotalViolationsEnd = summary.Total
	c.persistSession()

	if canUpdateDisplay(c.currentPhase()) && c.events.DisplayUpdate != nil {
		c.events.DisplayUpdate(summary)
	}
}

// scheduleRetry arranges a single recovery attempt after opts.RecoveryDelay
// without exiting (spec.md §4.4), rather than waiting for the next regular
// tick.
func (c *Controller) scheduleRetry(retryCh chan struct{}) {
	time.AfterFunc(c.opts.RecoveryDelay, func() {
		select {
		case retryCh <- struct{}{}:
		default:
		}
	})
}

func (c *Controller) summarize() (Summary, error) {
	vs, err := c.orch.Store().ListActiveViolations()
	if err != nil {
		return Summary{}, fmt.Errorf("watch: list active violations: %w", err)
	}

	summary := Summary{
		Total:      len(vs),
		BySource:   make(map[string]int),
		ByCategory: make(map[string]int),
		BySeverity: make(map[string]int),
	}
	for _, v := range vs {
		summary.BySource[string(v.Source)]++
		summary.ByCategory[v.Category]++
		summary.BySeverity[string(v.Severity)]++
	}
	return summary, nil
}

// recordCycleError logs err both to the session's bounded error list and
// to the structured error log file (spec.md §4.4).
func (c *Controller) recordCycleError(err error, phase string) {
	c.logf("watch: cycle error in phase %s: %v", phase, err)

	sessErr := violation.SessionError{Timestamp: time.Now().UTC(), Message: err.Error(), Phase: phase}
	c.session.Errors = append(c.session.Errors, sessErr)
	if len(c.session.Errors) > violation.MaxSessionErrors {
		c.session.Errors = c.session.Errors[len(c.session.Errors)-violation.MaxSessionErrors:]
	}
	_ = c.orch.Store().AppendSessionError(c.session.ID, sessErr)
	c.persistSession()

	_ = c.errs.Append(errorLogRecord{
		Timestamp:   sessErr.Timestamp,
		Error:       err.Error(),
		ChecksCount: c.session.TotalChecks,
		Phase:       phase,
	})
}

// loadOrCreateSession resumes the prior session if it satisfies spec.md
// §4.4's resumption predicate, otherwise starts a fresh one.
func (c *Controller) loadOrCreateSession() {
	now := time.Now().UTC()
	doc := readSessionFile(c.opts.DataDir)

	if resumable(doc, c.opts.Cwd, c.opts.TargetPath, c.opts.Strict, c.opts.ESLintOnly, now) {
		c.session = doc.WatchSession
		c.logf("watch: resuming session %s", c.session.ID)
		return
	}

	c.session = violation.WatchSession{
		ID:           uuid.NewString(),
		SessionStart: now,
	}
	if err := c.orch.Store().CreateSession(c.session); err != nil {
		c.logf("watch: create session: %v", err)
	}
	c.persistSession()
}

func (c *Controller) persistSession() {
	doc := sessionDocument{
		WatchSession: c.session,
		LastUpdate:   time.Now().UTC(),
		WorkingDir:   c.opts.Cwd,
		TargetPath:   c.opts.TargetPath,
		Strict:       c.opts.Strict,
		ESLintOnly:   c.opts.ESLintOnly,
	}
	if c.vcs.IsRepo() {
		doc.GitBranch, _ = c.vcs.CurrentBranch()
		doc.GitCommit, _ = c.vcs.CurrentCommit()
	}
	if err := writeSessionFile(c.opts.DataDir, doc); err != nil {
		c.logf("watch: persist session file: %v", err)
	}
	_ = c.orch.Store().UpdateSessionCounts(c.session.ID, c.session.TotalChecks, c.session.TotalViolationsEnd)
}

// shutdown clears timers (the caller's defers handle that), stops the
// scheduler, flushes and closes the store, and emits Shutdown(reason),
// regardless of cause (spec.md §4.4). A clean shutdown (timeout or
// interrupt, not error) honors ClearSession by truncating the session
// file instead of leaving it behind for the next run to resume.
func (c *Controller) shutdown(reason ShutdownReason) {
	c.setPhase(PhaseShuttingDown)
	c.orch.StopWatch()

	c.session.SessionEnd = ptrTime(time.Now().UTC())
	_ = c.orch.Store().EndSession(c.session.ID)

	if c.opts.ClearSession && reason != ReasonError {
		if err := clearSessionFile(c.opts.DataDir); err != nil {
			c.logf("watch: clear session file: %v", err)
		}
	} else {
		c.persistSession()
	}

	if err := c.orch.Close(); err != nil {
		c.logf("watch: close store: %v", err)
	}
	_ = c.errs.Close()

	c.setPhase(PhaseStopped)
	if c.events.Shutdown != nil {
		c.events.Shutdown(reason)
	}
}

func ptrTime(t time.Time) *time.Time { return &t }

// Package orchestrator is the composition root: it owns Store, Tracker,
// Scheduler, and AnalysisService, forwards scheduler events, and exposes
// one-shot checks plus start/stop of the scheduler's background polling
// loop. Grounded on the teacher's cmd/goclode/main.go wiring order
// (engine → dependent services, explicit construction, no singletons,
// per spec.md §9's design note) and internal/session/manager.go's
// constructor-injection style.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Invisible-Cities-Agency/sidequestcore/internal/analysis"
	"github.com/Invisible-Cities-Agency/sidequestcore/internal/config"
	"github.com/Invisible-Cities-Agency/sidequestcore/internal/engine"
	"github.com/Invisible-Cities-Agency/sidequestcore/internal/scheduler"
	"github.com/Invisible-Cities-Agency/sidequestcore/internal/store"
	"github.com/Invisible-Cities-Agency/sidequestcore/internal/tracker"
	"github.com/Invisible-Cities-Agency/sidequestcore/internal/violation"
)

// defaultSchedulerPollInterval is how often the background loop started
// by StartWatch calls Scheduler.ExecuteNextRules.
const defaultSchedulerPollInterval = 1 * time.Second

// retentionInterval is how often the optional retention loop calls
// Store.CleanupOldData.
const retentionInterval = 24 * time.Hour

// Orchestrator wires the orchestration kernel's components together and
// is the sole owner of their lifetimes.
type Orchestrator struct {
	cfg      config.Config
	log      *logrus.Logger
	store    *store.Store
	tracker  *tracker.Tracker
	registry *engine.Registry
	sched    *scheduler.Scheduler
	analysis *analysis.Service

	pollInterval      time.Duration
	retentionInterval time.Duration

	mu       sync.Mutex
	cancel   context.CancelFunc
	loopDone chan struct{}

	retentionDone chan struct{}
}

// New opens the store at cfg.Database.Path and wires Tracker, a fresh
// empty engine Registry, Scheduler, and AnalysisService over it.
// Adapters are registered afterward via RegisterEngine.
func New(cfg config.Config, log *logrus.Logger, events scheduler.Events) (*Orchestrator, error) {
	s, err := store.Open(cfg.Database.Path, log)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: open store: %w", err)
	}

	tr, err := tracker.New(s, log, tracker.WithBatchSize(cfg.Performance.BatchSize))
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("orchestrator: new tracker: %w", err)
	}

	reg := engine.NewRegistry()

	sched := scheduler.New(s, tr, reg,
		scheduler.WithMaxConcurrent(cfg.Polling.MaxConcurrentChecks),
		scheduler.WithEvents(events),
		scheduler.WithLogger(log),
	)

	return &Orchestrator{
		cfg:               cfg,
		log:               log,
		store:             s,
		tracker:           tr,
		registry:          reg,
		sched:             sched,
		analysis:          analysis.New(s),
		pollInterval:      defaultSchedulerPollInterval,
		retentionInterval: retentionInterval,
	}, nil
}

// RegisterEngine adds an analysis-engine adapter to the registry the
// scheduler dispatches against.
func (o *Orchestrator) RegisterEngine(a engine.Adapter, priority int) {
	o.registry.Register(a, priority)
}

// Store, Tracker, Scheduler, Analysis, Registry expose the wired
// components for callers (notably internal/watch) that need direct
// access without the orchestrator mediating every call.
func (o *Orchestrator) Store() *store.Store            { return o.store }
func (o *Orchestrator) Tracker() *tracker.Tracker       { return o.tracker }
func (o *Orchestrator) Scheduler() *scheduler.Scheduler { return o.sched }
func (o *Orchestrator) Analysis() *analysis.Service     { return o.analysis }
func (o *Orchestrator) Registry() *engine.Registry      { return o.registry }

// Check performs one full scan across every available engine adapter and
// routes the combined output through the tracker's persistence path, for
// the one-shot report mode and for the watch controller's analysis cycle
// (spec.md §4.4: "request a full scan from the engine pool").
func (o *Orchestrator) Check(ctx context.Context) (violation.ProcessResult, error) {
	var all []violation.InputViolation
	for _, a := range o.registry.Available() {
		vs, err := a.FullScan(ctx)
		if err != nil {
			return violation.ProcessResult{}, fmt.Errorf("orchestrator: full scan via %s: %w", a.ID(), err)
		}
		all = append(all, vs...)
	}
	return o.tracker.ProcessViolations(all), nil
}

// StartWatch launches the background loop that polls the scheduler on
// pollInterval, plus an optional retention loop when
// cfg.Database.MaxHistoryDays > 0 (spec.md §4.1's retention horizon).
// It is idempotent: calling it while already running is a no-op.
func (o *Orchestrator) StartWatch(ctx context.Context) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.cancel != nil {
		return
	}

	loopCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel
	o.loopDone = make(chan struct{})
	go o.pollLoop(loopCtx)

	if o.cfg.Database.MaxHistoryDays > 0 {
		o.retentionDone = make(chan struct{})
		go o.retentionLoop(loopCtx, o.cfg.Database.MaxHistoryDays)
	}
}

func (o *Orchestrator) pollLoop(ctx context.Context) {
	defer close(o.loopDone)

	ticker := time.NewTicker(o.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.sched.ExecuteNextRules(ctx)
		}
	}
}

// retentionLoop periodically ages out violation_history and
// performance_metrics rows older than retainDays, the "optional
// background ticker" supplementing Store.CleanupOldData's direct-call
// form, grounded on the teacher's watchConfig ticker-driven background
// loop shape.
func (o *Orchestrator) retentionLoop(ctx context.Context, retainDays int) {
	defer close(o.retentionDone)

	ticker := time.NewTicker(o.retentionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, _, err := o.store.CleanupOldData(retainDays); err != nil && o.log != nil {
				o.log.Warnf("orchestrator: retention cleanup: %v", err)
			}
		}
	}
}

// StopWatch cancels the background polling (and, if running, retention)
// loop and waits for both to exit. It is idempotent: calling it while
// not running is a no-op.
func (o *Orchestrator) StopWatch() {
	o.mu.Lock()
	cancel := o.cancel
	done := o.loopDone
	retentionDone := o.retentionDone
	o.cancel = nil
	o.loopDone = nil
	o.retentionDone = nil
	o.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	if retentionDone != nil {
		<-retentionDone
	}
}

// Close flushes and closes the store. Callers must StopWatch first if a
// background loop is running.
func (o *Orchestrator) Close() error {
	return o.store.Close()
}

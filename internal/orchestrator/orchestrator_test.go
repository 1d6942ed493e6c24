package orchestrator

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Invisible-Cities-Agency/sidequestcore/internal/config"
	"github.com/Invisible-Cities-Agency/sidequestcore/internal/scheduler"
	"github.com/Invisible-Cities-Agency/sidequestcore/internal/violation"
)

type fakeAdapter struct {
	id         string
	available  bool
	calls      int32
	violations []violation.InputViolation
	err        error
}

func (f *fakeAdapter) ID() string        { return f.id }
func (f *fakeAdapter) Name() string      { return f.id }
func (f *fakeAdapter) IsAvailable() bool { return f.available }
func (f *fakeAdapter) CheckRule(ctx context.Context, ruleID string) ([]violation.InputViolation, error) {
	return nil, nil
}
func (f *fakeAdapter) FullScan(ctx context.Context) ([]violation.InputViolation, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.err != nil {
		return nil, f.err
	}
	return f.violations, nil
}

func newTestConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Database.Path = filepath.Join(t.TempDir(), "sidequest.db")
	return cfg
}

func TestCheckRoutesFullScanResultsThroughTracker(t *testing.T) {
	orch, err := New(newTestConfig(t), nil, scheduler.Events{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = orch.Close() })

	line := 3
	adapter := &fakeAdapter{id: "fake", available: true, violations: []violation.InputViolation{
		{File: "a.go", Line: &line, Message: "oops", Severity: violation.SeverityWarn, Source: violation.SourceLinter, Rule: "r1", Category: "style"},
	}}
	orch.RegisterEngine(adapter, 1)

	result, err := orch.Check(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Processed)
	assert.Equal(t, 1, result.Inserted)
	assert.Equal(t, int32(1), atomic.LoadInt32(&adapter.calls))
}

func TestCheckSkipsUnavailableAdapters(t *testing.T) {
	orch, err := New(newTestConfig(t), nil, scheduler.Events{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = orch.Close() })

	unavailable := &fakeAdapter{id: "down", available: false}
	orch.RegisterEngine(unavailable, 1)

	result, err := orch.Check(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, result.Processed)
	assert.Equal(t, int32(0), atomic.LoadInt32(&unavailable.calls), "unavailable adapters must not be scanned")
}

func TestCheckPropagatesAdapterError(t *testing.T) {
	orch, err := New(newTestConfig(t), nil, scheduler.Events{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = orch.Close() })

	failing := &fakeAdapter{id: "broken", available: true, err: errors.New("scan failed")}
	orch.RegisterEngine(failing, 1)

	_, err = orch.Check(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken")
}

func TestStartStopWatchIsIdempotentAndStoppable(t *testing.T) {
	orch, err := New(newTestConfig(t), nil, scheduler.Events{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = orch.Close() })

	orch.pollInterval = 2 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	orch.StartWatch(ctx)
	orch.StartWatch(ctx) // second call is a no-op, not a second goroutine

	time.Sleep(20 * time.Millisecond)

	orch.StopWatch()
	orch.StopWatch() // second call is also a no-op, must not block or panic
}

func TestStopWatchWithoutStartIsANoOp(t *testing.T) {
	orch, err := New(newTestConfig(t), nil, scheduler.Events{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = orch.Close() })

	orch.StopWatch()
}

func TestRetentionLoopRunsWhenMaxHistoryDaysSetAndStopsCleanly(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.Database.MaxHistoryDays = 30
	orch, err := New(cfg, nil, scheduler.Events{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = orch.Close() })

	orch.retentionInterval = 2 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	orch.StartWatch(ctx)
	time.Sleep(20 * time.Millisecond)
	orch.StopWatch() // must not hang even though retentionLoop ran
}

func TestRetentionLoopDisabledWhenMaxHistoryDaysZero(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.Database.MaxHistoryDays = 0
	orch, err := New(cfg, nil, scheduler.Events{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = orch.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	orch.StartWatch(ctx)
	assert.Nil(t, orch.retentionDone, "no retention loop should start when MaxHistoryDays is 0")
	orch.StopWatch()
}

package watch

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanStartAnalysisOnlyFromRunning(t *testing.T) {
	assert.True(t, canStartAnalysis(PhaseRunning))
	assert.False(t, canStartAnalysis(PhaseAnalyzing))
	assert.False(t, canStartAnalysis(PhaseStarting))
	assert.False(t, canStartAnalysis(PhaseShuttingDown))
	assert.False(t, canStartAnalysis(PhaseIdle))
}

func TestCanUpdateDisplayExcludesStartingAndShuttingDown(t *testing.T) {
	assert.False(t, canUpdateDisplay(PhaseStarting))
	assert.False(t, canUpdateDisplay(PhaseShuttingDown))
	assert.True(t, canUpdateDisplay(PhaseRunning))
	assert.True(t, canUpdateDisplay(PhaseAnalyzing))
	assert.True(t, canUpdateDisplay(PhaseIdle))
}

func TestShutdownReasonExitCode(t *testing.T) {
	assert.Equal(t, 0, ReasonTimeout.ExitCode())
	assert.Equal(t, 0, ReasonInterrupt.ExitCode())
	assert.Equal(t, 1, ReasonError.ExitCode())
}

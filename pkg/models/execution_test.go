package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestExecutionStatus_Transitions(t *testing.T) {
	tests := []struct {
		from ExecutionStatus
		to   ExecutionStatus
		ok   bool
	}{
		{ExecutionStatusRunning, ExecutionStatusWaiting, true},
		{ExecutionStatusRunning, ExecutionStatusCompleted, true},
		{ExecutionStatusRunning, ExecutionStatusFailed, true},
		{ExecutionStatusRunning, ExecutionStatusCancelled, true},
		{ExecutionStatusWaiting, ExecutionStatusRunning, true},
		{ExecutionStatusWaiting, ExecutionStatusCancelled, true},
		{ExecutionStatusWaiting, ExecutionStatusCompleted, false},
		{ExecutionStatusFailed, ExecutionStatusRunning, true},
		{ExecutionStatusCancelled, ExecutionStatusRunning, true},
		{ExecutionStatusCompleted, ExecutionStatusRunning, false},
		{ExecutionStatusFailed, ExecutionStatusCancelled, false},
		{ExecutionStatusCancelled, ExecutionStatusCancelled, false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.ok, tt.from.CanTransitionTo(tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestExecutionStatus_IsTerminal(t *testing.T) {
	assert.False(t, ExecutionStatusRunning.IsTerminal())
	assert.False(t, ExecutionStatusWaiting.IsTerminal())
	assert.True(t, ExecutionStatusCompleted.IsTerminal())
	assert.True(t, ExecutionStatusFailed.IsTerminal())
	assert.True(t, ExecutionStatusCancelled.IsTerminal())
}

func TestWorkflowExecution_IsDue(t *testing.T) {
	now := time.Now().UTC()
	later := now.Add(time.Hour)
	earlier := now.Add(-time.Hour)

	running := &WorkflowExecution{Status: ExecutionStatusRunning}
	assert.True(t, running.IsDue(now))

	waiting := &WorkflowExecution{Status: ExecutionStatusWaiting, NextRunAt: &later}
	assert.False(t, waiting.IsDue(now))

	due := &WorkflowExecution{Status: ExecutionStatusWaiting, NextRunAt: &earlier}
	assert.True(t, due.IsDue(now))

	completed := &WorkflowExecution{Status: ExecutionStatusCompleted}
	assert.False(t, completed.IsDue(now))
}

func TestWorkflowExecution_Duration(t *testing.T) {
	started := time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC)
	finished := started.Add(42 * time.Minute)

	execution := &WorkflowExecution{StartedAt: started, CompletedAt: &finished}
	assert.Equal(t, 42*time.Minute, execution.Duration())

	unfinished := &WorkflowExecution{StartedAt: started}
	assert.Zero(t, unfinished.Duration())
}

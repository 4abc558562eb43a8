package types

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWorkflowStatus_CanTransitionTo(t *testing.T) {
	assert.True(t, WorkflowStatusPending.CanTransitionTo(WorkflowStatusRunning))
	assert.True(t, WorkflowStatusRunning.CanTransitionTo(WorkflowStatusRunning))
	assert.True(t, WorkflowStatusRunning.CanTransitionTo(WorkflowStatusSuccess))
	assert.True(t, WorkflowStatusRunning.CanTransitionTo(WorkflowStatusError))

	// 不允许回退
	assert.False(t, WorkflowStatusRunning.CanTransitionTo(WorkflowStatusPending))
	// 终态不可变
	assert.False(t, WorkflowStatusSuccess.CanTransitionTo(WorkflowStatusError))
	assert.False(t, WorkflowStatusError.CanTransitionTo(WorkflowStatusRunning))
	assert.False(t, WorkflowStatusSuccess.CanTransitionTo(WorkflowStatusSuccess))
}

func TestParseWorkflowStatus(t *testing.T) {
	s, ok := ParseWorkflowStatus("RUNNING")
	assert.True(t, ok)
	assert.Equal(t, WorkflowStatusRunning, s)

	_, ok = ParseWorkflowStatus("running")
	assert.False(t, ok)
}

func TestUnavailable_Wraps(t *testing.T) {
	base := fmt.Errorf("dial tcp: connection refused")
	err := Unavailable("查询工作流", base)
	assert.True(t, errors.Is(err, ErrStoreUnavailable))
	assert.True(t, errors.Is(err, base))

	// 不重复包装
	assert.Equal(t, err, Unavailable("again", err))
	assert.Nil(t, Unavailable("noop", nil))
}

func TestNonDeterminismError_Is(t *testing.T) {
	err := &NonDeterminismError{WorkflowID: "wf", StepIndex: 1, RecordedName: "a", CurrentName: "b"}
	assert.True(t, errors.Is(err, ErrNonDeterminism))
	assert.Contains(t, err.Error(), `recorded "a"`)
}

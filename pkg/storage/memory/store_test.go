package memory

import (
	"context"
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LENAX/durable-engine/pkg/core/types"
	"github.com/LENAX/durable-engine/pkg/storage"
	"github.com/LENAX/durable-engine/pkg/storage/storagetest"
)

func TestMemoryStore(t *testing.T) {
	storagetest.Run(t, func(t *testing.T, clock clockwork.Clock) storage.Store {
		return NewStore(clock)
	})
}

func TestMemoryStore_Unavailable(t *testing.T) {
	ctx := context.Background()
	s := NewStore(nil)
	_, _, err := s.CreateOrGetWorkflow(ctx, &storage.WorkflowRecord{ID: "wf", Name: "wf"})
	require.NoError(t, err)

	s.SetUnavailable(true)
	_, err = s.GetWorkflowStatus(ctx, "wf")
	assert.ErrorIs(t, err, types.ErrStoreUnavailable)
	assert.ErrorIs(t, s.SetWorkflowStatus(ctx, "wf", types.WorkflowStatusRunning, nil, ""), types.ErrStoreUnavailable)
	_, err = s.GetStepResult(ctx, "wf", 0)
	assert.ErrorIs(t, err, types.ErrStoreUnavailable)
	assert.ErrorIs(t, s.Ping(ctx), types.ErrStoreUnavailable)

	// 恢复后状态未被破坏
	s.SetUnavailable(false)
	rec, err := s.GetWorkflowStatus(ctx, "wf")
	require.NoError(t, err)
	assert.Equal(t, types.WorkflowStatusPending, rec.Status)
}

func TestMemoryStore_FailOnRecordStep(t *testing.T) {
	ctx := context.Background()
	s := NewStore(nil)
	s.SetFailOnRecordStep(1)

	_, err := s.RecordStepResult(ctx, &storage.StepRecord{WorkflowID: "wf", StepIndex: 0, Name: "a", Completed: true})
	require.NoError(t, err)
	_, err = s.RecordStepResult(ctx, &storage.StepRecord{WorkflowID: "wf", StepIndex: 1, Name: "b", Completed: true})
	assert.ErrorIs(t, err, types.ErrStoreUnavailable)
	assert.Equal(t, 1, s.RecordStepCalls())

	s.SetFailOnRecordStep(-1)
	_, err = s.RecordStepResult(ctx, &storage.StepRecord{WorkflowID: "wf", StepIndex: 1, Name: "b", Completed: true})
	require.NoError(t, err)
}

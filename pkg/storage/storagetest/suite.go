// Package storagetest 提供所有Store实现共用的一致性测试
package storagetest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LENAX/durable-engine/pkg/core/types"
	"github.com/LENAX/durable-engine/pkg/storage"
)

// Factory 为每个子测试创建一个全新的Store
type Factory func(t *testing.T, clock clockwork.Clock) storage.Store

// Run 执行Store一致性测试
func Run(t *testing.T, newStore Factory) {
	t.Run("CreateOrGetWorkflow", func(t *testing.T) { testCreateOrGet(t, newStore) })
	t.Run("ConcurrentCreate", func(t *testing.T) { testConcurrentCreate(t, newStore) })
	t.Run("StatusTransitions", func(t *testing.T) { testStatusTransitions(t, newStore) })
	t.Run("ClaimWorkflow", func(t *testing.T) { testClaim(t, newStore) })
	t.Run("StepResults", func(t *testing.T) { testStepResults(t, newStore) })
	t.Run("ConcurrentRecordStep", func(t *testing.T) { testConcurrentRecordStep(t, newStore) })
	t.Run("ListWorkflows", func(t *testing.T) { testListWorkflows(t, newStore) })
}

func testCreateOrGet(t *testing.T, newStore Factory) {
	ctx := context.Background()
	clock := clockwork.NewFakeClockAt(time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC))
	s := newStore(t, clock)

	rec, isNew, err := s.CreateOrGetWorkflow(ctx, &storage.WorkflowRecord{
		ID:    "abcd",
		Name:  "transferFunds",
		Input: []byte(`{"amount":100,"recipient":"alice"}`),
	})
	require.NoError(t, err)
	assert.True(t, isNew)
	assert.Equal(t, types.WorkflowStatusPending, rec.Status)
	assert.JSONEq(t, `{"amount":100,"recipient":"alice"}`, string(rec.Input))
	assert.True(t, rec.CreatedAt.Equal(clock.Now()))

	// 第二次调用返回已有记录，输入以首次为准
	clock.Advance(time.Minute)
	again, isNew, err := s.CreateOrGetWorkflow(ctx, &storage.WorkflowRecord{
		ID:    "abcd",
		Name:  "transferFunds",
		Input: []byte(`{"amount":999}`),
	})
	require.NoError(t, err)
	assert.False(t, isNew)
	assert.JSONEq(t, `{"amount":100,"recipient":"alice"}`, string(again.Input))
	assert.True(t, again.CreatedAt.Equal(rec.CreatedAt))

	_, err = s.GetWorkflowStatus(ctx, "missing")
	assert.ErrorIs(t, err, types.ErrWorkflowNotFound)
}

func testConcurrentCreate(t *testing.T, newStore Factory) {
	ctx := context.Background()
	s := newStore(t, clockwork.NewRealClock())

	const callers = 16
	var (
		wg       sync.WaitGroup
		newCount int32
		errs     = make(chan error, callers)
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, isNew, err := s.CreateOrGetWorkflow(ctx, &storage.WorkflowRecord{ID: "same-id", Name: "wf"})
			if err != nil {
				errs <- err
				return
			}
			if isNew {
				atomic.AddInt32(&newCount, 1)
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), newCount)
}

func testStatusTransitions(t *testing.T, newStore Factory) {
	ctx := context.Background()
	s := newStore(t, clockwork.NewFakeClock())

	_, _, err := s.CreateOrGetWorkflow(ctx, &storage.WorkflowRecord{ID: "wf-1", Name: "checkBalance"})
	require.NoError(t, err)

	// PENDING -> PENDING 不是合法转换
	err = s.SetWorkflowStatus(ctx, "wf-1", types.WorkflowStatusPending, nil, "")
	assert.ErrorIs(t, err, types.ErrInvalidTransition)

	require.NoError(t, s.SetWorkflowStatus(ctx, "wf-1", types.WorkflowStatusRunning, nil, ""))
	// RUNNING -> RUNNING 为幂等操作
	require.NoError(t, s.SetWorkflowStatus(ctx, "wf-1", types.WorkflowStatusRunning, nil, ""))

	// 状态不能回退
	err = s.SetWorkflowStatus(ctx, "wf-1", types.WorkflowStatusPending, nil, "")
	assert.ErrorIs(t, err, types.ErrInvalidTransition)
	rec, err := s.GetWorkflowStatus(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, types.WorkflowStatusRunning, rec.Status)

	require.NoError(t, s.SetWorkflowStatus(ctx, "wf-1", types.WorkflowStatusSuccess, []byte(`true`), ""))

	rec, err = s.GetWorkflowStatus(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, types.WorkflowStatusSuccess, rec.Status)
	assert.Equal(t, "true", string(rec.Output))

	// 终态不可变
	err = s.SetWorkflowStatus(ctx, "wf-1", types.WorkflowStatusError, nil, "boom")
	assert.ErrorIs(t, err, types.ErrInvalidTransition)
	err = s.SetWorkflowStatus(ctx, "wf-1", types.WorkflowStatusRunning, nil, "")
	assert.ErrorIs(t, err, types.ErrInvalidTransition)

	rec, err = s.GetWorkflowStatus(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, types.WorkflowStatusSuccess, rec.Status)
	assert.Empty(t, rec.Error)

	err = s.SetWorkflowStatus(ctx, "missing", types.WorkflowStatusRunning, nil, "")
	assert.ErrorIs(t, err, types.ErrWorkflowNotFound)
}

func testClaim(t *testing.T, newStore Factory) {
	ctx := context.Background()
	s := newStore(t, clockwork.NewFakeClock())

	_, _, err := s.CreateOrGetWorkflow(ctx, &storage.WorkflowRecord{ID: "wf-claim", Name: "wf"})
	require.NoError(t, err)

	rec, err := s.ClaimWorkflow(ctx, "wf-claim", "executor-a", false)
	require.NoError(t, err)
	assert.Equal(t, types.WorkflowStatusRunning, rec.Status)
	assert.Equal(t, "executor-a", rec.ExecutorID)
	assert.Equal(t, 0, rec.RecoveryAttempts)

	rec, err = s.ClaimWorkflow(ctx, "wf-claim", "executor-b", true)
	require.NoError(t, err)
	assert.Equal(t, "executor-b", rec.ExecutorID)
	assert.Equal(t, 1, rec.RecoveryAttempts)

	require.NoError(t, s.SetWorkflowStatus(ctx, "wf-claim", types.WorkflowStatusError, nil, "failed"))

	// 终态记录原样返回
	rec, err = s.ClaimWorkflow(ctx, "wf-claim", "executor-c", true)
	require.NoError(t, err)
	assert.Equal(t, types.WorkflowStatusError, rec.Status)
	assert.Equal(t, "executor-b", rec.ExecutorID)
	assert.Equal(t, "failed", rec.Error)

	_, err = s.ClaimWorkflow(ctx, "missing", "executor-a", false)
	assert.ErrorIs(t, err, types.ErrWorkflowNotFound)
}

func testStepResults(t *testing.T, newStore Factory) {
	ctx := context.Background()
	s := newStore(t, clockwork.NewFakeClock())

	_, err := s.GetStepResult(ctx, "wf-steps", 0)
	assert.ErrorIs(t, err, types.ErrStepNotPresent)

	first, err := s.RecordStepResult(ctx, &storage.StepRecord{
		WorkflowID: "wf-steps",
		StepIndex:  0,
		Name:       "check_current_balance",
		Kind:       types.StepKindStep,
		Output:     []byte(`1000`),
		Completed:  true,
	})
	require.NoError(t, err)
	assert.Equal(t, "1000", string(first.Output))

	// 冲突写入不覆盖，返回已有记录
	second, err := s.RecordStepResult(ctx, &storage.StepRecord{
		WorkflowID: "wf-steps",
		StepIndex:  0,
		Name:       "check_current_balance",
		Kind:       types.StepKindStep,
		Output:     []byte(`5`),
		Completed:  true,
	})
	require.NoError(t, err)
	assert.Equal(t, "1000", string(second.Output))

	_, err = s.RecordStepResult(ctx, &storage.StepRecord{
		WorkflowID: "wf-steps",
		StepIndex:  1,
		Name:       "transfer_money",
		Kind:       types.StepKindStep,
		Error:      "insufficient funds",
		Completed:  true,
	})
	require.NoError(t, err)

	got, err := s.GetStepResult(ctx, "wf-steps", 1)
	require.NoError(t, err)
	assert.True(t, got.Failed())
	assert.True(t, got.Completed)
	assert.Equal(t, "insufficient funds", got.Error)
	assert.Equal(t, types.StepKindStep, got.Kind)

	steps, err := s.ListSteps(ctx, "wf-steps")
	require.NoError(t, err)
	require.Len(t, steps, 2)
	assert.Equal(t, 0, steps[0].StepIndex)
	assert.Equal(t, 1, steps[1].StepIndex)
}

func testConcurrentRecordStep(t *testing.T, newStore Factory) {
	ctx := context.Background()
	s := newStore(t, clockwork.NewRealClock())

	const writers = 8
	var wg sync.WaitGroup
	results := make([]*storage.StepRecord, writers)
	errs := make([]error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = s.RecordStepResult(ctx, &storage.StepRecord{
				WorkflowID: "wf-race",
				StepIndex:  3,
				Name:       "step",
				Kind:       types.StepKindStep,
				Output:     []byte(fmt.Sprintf("%d", i)),
				Completed:  true,
			})
		}(i)
	}
	wg.Wait()

	// 所有写入者看到同一个结果
	for i := 0; i < writers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, string(results[0].Output), string(results[i].Output))
	}
}

func testListWorkflows(t *testing.T, newStore Factory) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	s := newStore(t, clock)

	for i := 0; i < 5; i++ {
		name := "checkBalance"
		if i%2 == 1 {
			name = "transferFunds"
		}
		_, _, err := s.CreateOrGetWorkflow(ctx, &storage.WorkflowRecord{ID: fmt.Sprintf("wf-%d", i), Name: name})
		require.NoError(t, err)
		clock.Advance(time.Second)
	}
	require.NoError(t, s.SetWorkflowStatus(ctx, "wf-0", types.WorkflowStatusRunning, nil, ""))
	require.NoError(t, s.SetWorkflowStatus(ctx, "wf-1", types.WorkflowStatusRunning, nil, ""))
	require.NoError(t, s.SetWorkflowStatus(ctx, "wf-1", types.WorkflowStatusSuccess, []byte(`true`), ""))

	all, err := s.ListWorkflows(ctx, storage.ListFilter{})
	require.NoError(t, err)
	require.Len(t, all, 5)
	assert.Equal(t, "wf-0", all[0].ID)
	assert.Equal(t, "wf-4", all[4].ID)

	unfinished, err := s.ListWorkflows(ctx, storage.ListFilter{
		Statuses: []types.WorkflowStatus{types.WorkflowStatusPending, types.WorkflowStatusRunning},
	})
	require.NoError(t, err)
	assert.Len(t, unfinished, 4)

	transfers, err := s.ListWorkflows(ctx, storage.ListFilter{Name: "transferFunds"})
	require.NoError(t, err)
	assert.Len(t, transfers, 2)

	page, err := s.ListWorkflows(ctx, storage.ListFilter{Limit: 2, Offset: 2})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "wf-2", page[0].ID)
	assert.Equal(t, "wf-3", page[1].ID)
}

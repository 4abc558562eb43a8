package engine

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LENAX/durable-engine/pkg/core/types"
	"github.com/LENAX/durable-engine/pkg/storage/memory"
)

func registerSleeper(t *testing.T, e *Engine, wait time.Duration, after *int32) {
	t.Helper()
	require.NoError(t, Register(e, "sleeper", func(ctx *Context, _ struct{}) (string, error) {
		if _, err := RunStep(ctx, "before", func(context.Context) (string, error) { return "ok", nil }); err != nil {
			return "", err
		}
		if err := ctx.Sleep(wait); err != nil {
			return "", err
		}
		return RunStep(ctx, "after", func(context.Context) (string, error) {
			atomic.AddInt32(after, 1)
			return "done", nil
		})
	}))
}

func TestSleep_ResumesOnlyRemainingTime(t *testing.T) {
	ctx := testContext(t)
	clock := clockwork.NewFakeClockAt(testEpoch)
	store := memory.NewStore(clock)

	var after int32
	first := newTestEngine(t, store, clock)
	registerSleeper(t, first, 15*time.Second, &after)

	h, err := first.StartAsync(ctx, "sleeper", struct{}{}, WithWorkflowID("wf-sleep"))
	require.NoError(t, err)
	require.NoError(t, clock.BlockUntilContext(ctx, 1))

	status, err := h.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, types.WorkflowStatusRunning, status.Status)

	// 等待10秒后进程退出
	clock.Advance(10 * time.Second)
	first.Stop()
	assert.Equal(t, int32(0), atomic.LoadInt32(&after))

	second := newTestEngine(t, store, clock)
	registerSleeper(t, second, 15*time.Second, &after)
	handles, err := second.Recover(ctx)
	require.NoError(t, err)
	require.Len(t, handles, 1)

	// 恢复后只需再等待剩余的5秒
	require.NoError(t, clock.BlockUntilContext(ctx, 2))
	clock.Advance(5 * time.Second)

	out, err := GetResult[string](ctx, handles[0])
	require.NoError(t, err)
	assert.Equal(t, "done", out)
	assert.Equal(t, int32(1), atomic.LoadInt32(&after))

	steps, err := second.ListSteps(ctx, "wf-sleep")
	require.NoError(t, err)
	require.Len(t, steps, 3)
	assert.Equal(t, types.StepKindStep, steps[0].Kind)
	assert.Equal(t, types.StepKindSleep, steps[1].Kind)
	assert.Equal(t, "sleep", steps[1].Name)
	assert.Equal(t, "after", steps[2].Name)

	deadline, err := decodeDeadline(steps[1])
	require.NoError(t, err)
	assert.True(t, deadline.Equal(testEpoch.Add(15*time.Second)))
}

func TestSleep_ElapsedDeadlineDoesNotWait(t *testing.T) {
	ctx := testContext(t)
	clock := clockwork.NewFakeClockAt(testEpoch)
	store := memory.NewStore(clock)

	var after int32
	first := newTestEngine(t, store, clock)
	registerSleeper(t, first, time.Minute, &after)
	_, err := first.StartAsync(ctx, "sleeper", struct{}{}, WithWorkflowID("wf-late"))
	require.NoError(t, err)
	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	first.Stop()

	// 停机期间唤醒时间已过
	clock.Advance(2 * time.Minute)

	second := newTestEngine(t, store, clock)
	registerSleeper(t, second, time.Minute, &after)
	handles, err := second.Recover(ctx)
	require.NoError(t, err)
	require.Len(t, handles, 1)

	out, err := GetResult[string](ctx, handles[0])
	require.NoError(t, err)
	assert.Equal(t, "done", out)
}

func TestSleep_ReleasesWorkerSlot(t *testing.T) {
	ctx := testContext(t)
	clock := clockwork.NewFakeClockAt(testEpoch)
	e := newTestEngine(t, memory.NewStore(clock), clock, WithWorkerConcurrency(1))

	var after int32
	registerSleeper(t, e, time.Second, &after)

	h1, err := e.StartAsync(ctx, "sleeper", struct{}{}, WithWorkflowID("wf-1"))
	require.NoError(t, err)
	h2, err := e.StartAsync(ctx, "sleeper", struct{}{}, WithWorkflowID("wf-2"))
	require.NoError(t, err)

	// 只有一个worker名额，两个工作流能同时进入等待说明等待期间释放了名额
	require.NoError(t, clock.BlockUntilContext(ctx, 2))
	clock.Advance(time.Second)

	for _, h := range []*Handle{h1, h2} {
		out, err := GetResult[string](ctx, h)
		require.NoError(t, err)
		assert.Equal(t, "done", out)
	}
	assert.Equal(t, int32(2), atomic.LoadInt32(&after))
}

func TestSleep_StepKindMismatchIsNonDeterministic(t *testing.T) {
	ctx := testContext(t)
	e := newTestEngine(t, memory.NewStore(nil), clockwork.NewRealClock())

	require.NoError(t, Register(e, "flipping", func(ctx *Context, _ struct{}) (bool, error) {
		return RunStep(ctx, "step", func(context.Context) (bool, error) { return true, nil })
	}))

	_, err := e.StartSync(ctx, "flipping", struct{}{}, WithWorkflowID("wf-flip"))
	require.NoError(t, err)

	// 下标0处记录的是普通步骤，重放时改为等待
	rec, err := e.store.GetWorkflowStatus(ctx, "wf-flip")
	require.NoError(t, err)
	wctx := newContext(ctx, e, rec.ID, rec.Name, false)
	err = wctx.Sleep(time.Millisecond)
	assert.ErrorIs(t, err, types.ErrNonDeterminism)
}

package engine

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LENAX/durable-engine/pkg/core/events"
	"github.com/LENAX/durable-engine/pkg/core/types"
	"github.com/LENAX/durable-engine/pkg/storage"
	"github.com/LENAX/durable-engine/pkg/storage/memory"
)

var testEpoch = time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)

func newTestEngine(t *testing.T, store storage.Store, clock clockwork.Clock, opts ...Option) *Engine {
	t.Helper()
	base := []Option{
		WithClock(clock),
		WithExecutorID("test-executor"),
		WithPollInterval(5 * time.Millisecond),
	}
	e, err := NewEngine(store, append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(e.Stop)
	return e
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// registerCheckBalance 注册与余额检查相同结构的工作流：一个步骤 + 比较
func registerCheckBalance(t *testing.T, e *Engine, calls *int32) {
	t.Helper()
	require.NoError(t, Register(e, "checkBalance", func(ctx *Context, amount int) (bool, error) {
		balance, err := RunStep(ctx, "check_current_balance", func(context.Context) (int, error) {
			atomic.AddInt32(calls, 1)
			return 1000, nil
		})
		if err != nil {
			return false, err
		}
		return amount <= balance, nil
	}))
}

func TestStartSync_ReturnsOutputAndRecordsSteps(t *testing.T) {
	ctx := testContext(t)
	store := memory.NewStore(clockwork.NewFakeClockAt(testEpoch))
	e := newTestEngine(t, store, clockwork.NewFakeClockAt(testEpoch))

	var calls int32
	registerCheckBalance(t, e, &calls)

	ok, err := RunSync[bool](ctx, e, "checkBalance", 500, WithWorkflowID("wf-500"))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = RunSync[bool](ctx, e, "checkBalance", 1500, WithWorkflowID("wf-1500"))
	require.NoError(t, err)
	assert.False(t, ok)

	status, err := e.GetStatus(ctx, "wf-500")
	require.NoError(t, err)
	assert.Equal(t, types.WorkflowStatusSuccess, status.Status)
	assert.JSONEq(t, "true", string(status.Output))
	assert.Equal(t, "test-executor", status.ExecutorID)

	steps, err := e.ListSteps(ctx, "wf-500")
	require.NoError(t, err)
	require.Len(t, steps, 1)
	assert.Equal(t, "check_current_balance", steps[0].Name)
	assert.Equal(t, "1000", string(steps[0].Output))

	// 同一ID再次同步启动只返回已有结果，不再执行步骤
	ok, err = RunSync[bool](ctx, e, "checkBalance", 500, WithWorkflowID("wf-500"))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestStartAsync_DuplicateIDRunsOnce(t *testing.T) {
	ctx := testContext(t)
	store := memory.NewStore(nil)
	e := newTestEngine(t, store, clockwork.NewRealClock())

	var runs int32
	release := make(chan struct{})
	require.NoError(t, Register(e, "transferFunds", func(ctx *Context, in map[string]any) (string, error) {
		atomic.AddInt32(&runs, 1)
		return RunStep(ctx, "transfer_money", func(context.Context) (string, error) {
			<-release
			return "Success", nil
		})
	}))

	input := map[string]any{"amount": 100, "recipient": "alice"}
	h1, err := e.StartAsync(ctx, "transferFunds", input, WithWorkflowID("abcd"))
	require.NoError(t, err)
	h2, err := e.StartAsync(ctx, "transferFunds", input, WithWorkflowID("abcd"))
	require.NoError(t, err)
	assert.Equal(t, "abcd", h1.ID)
	assert.Equal(t, "abcd", h2.ID)

	status, err := h2.Status(ctx)
	require.NoError(t, err)
	assert.Contains(t, []types.WorkflowStatus{types.WorkflowStatusPending, types.WorkflowStatusRunning}, status.Status)

	close(release)

	r1, err := GetResult[string](ctx, h1)
	require.NoError(t, err)
	r2, err := GetResult[string](ctx, h2)
	require.NoError(t, err)
	assert.Equal(t, "Success", r1)
	assert.Equal(t, "Success", r2)
	assert.Equal(t, int32(1), atomic.LoadInt32(&runs))
	assert.Equal(t, 1, store.RecordStepCalls())
}

func TestStartAsync_DefaultIDSource(t *testing.T) {
	ctx := testContext(t)
	e := newTestEngine(t, memory.NewStore(nil), clockwork.NewRealClock(),
		WithIDSource(IDSourceFunc(func() string { return "fixed-id" })))

	var calls int32
	registerCheckBalance(t, e, &calls)

	h, err := e.StartAsync(ctx, "checkBalance", 10)
	require.NoError(t, err)
	assert.Equal(t, "fixed-id", h.ID)

	ok, err := GetResult[bool](ctx, h)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestStart_Errors(t *testing.T) {
	ctx := testContext(t)
	store := memory.NewStore(nil)
	e := newTestEngine(t, store, clockwork.NewRealClock())

	var calls int32
	registerCheckBalance(t, e, &calls)
	require.NoError(t, e.RegisterWorkflow("other", func(*Context, []byte) ([]byte, error) { return []byte(`1`), nil }))

	_, err := e.StartSync(ctx, "missing", nil)
	assert.ErrorIs(t, err, types.ErrWorkflowNotRegistered)

	_, err = e.StartSync(ctx, "checkBalance", 1, WithWorkflowID("shared"))
	require.NoError(t, err)
	_, err = e.StartAsync(ctx, "other", nil, WithWorkflowID("shared"))
	assert.ErrorIs(t, err, types.ErrWorkflowConflict)

	_, err = e.GetStatus(ctx, "nope")
	assert.ErrorIs(t, err, types.ErrWorkflowNotFound)
	_, err = e.RetrieveHandle(ctx, "nope")
	assert.ErrorIs(t, err, types.ErrWorkflowNotFound)
	_, err = e.ListSteps(ctx, "nope")
	assert.ErrorIs(t, err, types.ErrWorkflowNotFound)

	store.SetUnavailable(true)
	_, err = e.StartSync(ctx, "checkBalance", 1)
	assert.ErrorIs(t, err, types.ErrStoreUnavailable)

	assert.Error(t, e.RegisterWorkflow("checkBalance", func(*Context, []byte) ([]byte, error) { return nil, nil }), "重复注册")
	assert.Error(t, e.RegisterWorkflow("", func(*Context, []byte) ([]byte, error) { return nil, nil }))
}

func TestWorkflowFailure_IsTerminalError(t *testing.T) {
	ctx := testContext(t)
	e := newTestEngine(t, memory.NewStore(nil), clockwork.NewRealClock())

	require.NoError(t, Register(e, "alwaysFails", func(ctx *Context, _ struct{}) (bool, error) {
		_, err := RunStep(ctx, "transfer_money", func(context.Context) (string, error) {
			return "", errors.New("bank offline")
		})
		return false, err
	}))

	_, err := e.StartSync(ctx, "alwaysFails", struct{}{}, WithWorkflowID("wf-fail"))
	var wfErr *types.WorkflowError
	require.ErrorAs(t, err, &wfErr)
	assert.Equal(t, "wf-fail", wfErr.WorkflowID)
	assert.Contains(t, wfErr.Message, "bank offline")

	status, err := e.GetStatus(ctx, "wf-fail")
	require.NoError(t, err)
	assert.Equal(t, types.WorkflowStatusError, status.Status)

	steps, err := e.ListSteps(ctx, "wf-fail")
	require.NoError(t, err)
	require.Len(t, steps, 1)
	assert.True(t, steps[0].Failed())
	assert.Equal(t, "bank offline", steps[0].Error)

	// 终态之后的重复启动得到同样的错误
	_, err = e.StartSync(ctx, "alwaysFails", struct{}{}, WithWorkflowID("wf-fail"))
	require.ErrorAs(t, err, &wfErr)
}

func TestWorkflowPanic_IsTerminalError(t *testing.T) {
	ctx := testContext(t)
	e := newTestEngine(t, memory.NewStore(nil), clockwork.NewRealClock())

	require.NoError(t, e.RegisterWorkflow("panics", func(*Context, []byte) ([]byte, error) {
		panic("boom")
	}))

	_, err := e.StartSync(ctx, "panics", nil, WithWorkflowID("wf-panic"))
	var wfErr *types.WorkflowError
	require.ErrorAs(t, err, &wfErr)
	assert.Contains(t, wfErr.Message, "boom")
}

func TestRunStepWithOptions_RetriesBeforeRecording(t *testing.T) {
	ctx := testContext(t)
	store := memory.NewStore(nil)
	e := newTestEngine(t, store, clockwork.NewRealClock())

	var attempts int32
	require.NoError(t, Register(e, "flaky", func(ctx *Context, _ struct{}) (int, error) {
		return RunStepWithOptions(ctx, "flaky_step", StepOptions{MaxAttempts: 3}, func(context.Context) (int, error) {
			if atomic.AddInt32(&attempts, 1) < 3 {
				return 0, errors.New("temporary")
			}
			return 42, nil
		})
	}))

	out, err := RunSync[int](ctx, e, "flaky", struct{}{})
	require.NoError(t, err)
	assert.Equal(t, 42, out)
	assert.Equal(t, int32(3), atomic.LoadInt32(&attempts))
	assert.Equal(t, 1, store.RecordStepCalls())
}

func TestEngine_PublishesLifecycleEvents(t *testing.T) {
	ctx := testContext(t)
	bus := events.NewBus(nil)
	defer bus.Close()

	e := newTestEngine(t, memory.NewStore(nil), clockwork.NewRealClock(), WithEventBus(bus))
	var calls int32
	registerCheckBalance(t, e, &calls)

	stream, err := bus.Subscribe(ctx)
	require.NoError(t, err)

	_, err = e.StartSync(ctx, "checkBalance", 5, WithWorkflowID("wf-events"))
	require.NoError(t, err)

	var got []events.Type
	for len(got) < 3 {
		select {
		case evt := <-stream:
			assert.Equal(t, "wf-events", evt.WorkflowID)
			got = append(got, evt.Type)
		case <-ctx.Done():
			t.Fatalf("只收到 %v", got)
		}
	}
	assert.Equal(t, []events.Type{events.WorkflowStarted, events.StepCompleted, events.WorkflowCompleted}, got)
}

func TestEngine_StalledSubscriberDoesNotBlockWorkflows(t *testing.T) {
	ctx := testContext(t)
	bus := events.NewBus(nil)
	defer bus.Close()

	e := newTestEngine(t, memory.NewStore(nil), clockwork.NewRealClock(), WithEventBus(bus))
	require.NoError(t, Register(e, "manySteps", func(ctx *Context, n int) (int, error) {
		for i := 0; i < n; i++ {
			if _, err := RunStep(ctx, "noop", func(context.Context) (int, error) { return i, nil }); err != nil {
				return 0, err
			}
		}
		return n, nil
	}))

	// 订阅后从不读取
	_, err := bus.Subscribe(ctx)
	require.NoError(t, err)

	n, err := RunSync[int](ctx, e, "manySteps", 200, WithWorkflowID("wf-stalled"))
	require.NoError(t, err)
	assert.Equal(t, 200, n)
	assert.Eventually(t, func() bool { return bus.Dropped() > 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestEngine_Metrics(t *testing.T) {
	ctx := testContext(t)
	e := newTestEngine(t, memory.NewStore(nil), clockwork.NewRealClock())
	var calls int32
	registerCheckBalance(t, e, &calls)

	_, err := e.StartSync(ctx, "checkBalance", 5)
	require.NoError(t, err)

	assert.Equal(t, float64(1), testutil.ToFloat64(e.metrics.workflowsStarted.WithLabelValues("checkBalance")))
	assert.Equal(t, float64(1), testutil.ToFloat64(e.metrics.workflowsFinished.WithLabelValues("checkBalance", "SUCCESS")))
	assert.Equal(t, float64(1), testutil.ToFloat64(e.metrics.steps.WithLabelValues("check_current_balance", "executed")))
	assert.Equal(t, float64(0), testutil.ToFloat64(e.metrics.activeWorkflows))

	families, err := e.MetricsGatherer().Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestListWorkflows(t *testing.T) {
	ctx := testContext(t)
	e := newTestEngine(t, memory.NewStore(nil), clockwork.NewRealClock())
	var calls int32
	registerCheckBalance(t, e, &calls)

	for _, id := range []string{"a", "b", "c"} {
		_, err := e.StartSync(ctx, "checkBalance", 1, WithWorkflowID(id))
		require.NoError(t, err)
	}

	all, err := e.ListWorkflows(ctx, storage.ListFilter{Name: "checkBalance"})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	running, err := e.ListWorkflows(ctx, storage.ListFilter{Statuses: []types.WorkflowStatus{types.WorkflowStatusRunning}})
	require.NoError(t, err)
	assert.Empty(t, running)
}

func TestEngine_StopRejectsNewExecutions(t *testing.T) {
	ctx := testContext(t)
	e := newTestEngine(t, memory.NewStore(nil), clockwork.NewRealClock())
	var calls int32
	registerCheckBalance(t, e, &calls)

	e.Stop()
	_, err := e.StartAsync(ctx, "checkBalance", 1)
	assert.ErrorIs(t, err, ErrEngineStopped)
}

package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/LENAX/durable-engine/pkg/core/events"
	"github.com/LENAX/durable-engine/pkg/core/types"
	"github.com/LENAX/durable-engine/pkg/storage"
)

// ErrEngineStopped 引擎已停止，不再接受新的执行
var ErrEngineStopped = errors.New("engine stopped")

// ========== 进程内执行登记 ==========

// begin 登记一次执行；已有执行时返回已有执行且owner为false
// async为true时计入WaitGroup，Stop会等待其结束
func (e *Engine) begin(id string, async bool) (*execution, bool, error) {
	e.activeMu.Lock()
	defer e.activeMu.Unlock()

	if exec, ok := e.active[id]; ok {
		return exec, false, nil
	}
	if e.stopping {
		return nil, false, ErrEngineStopped
	}

	exec := &execution{done: make(chan struct{})}
	e.active[id] = exec
	if async {
		e.wg.Add(1)
	}
	e.metrics.activeWorkflows.Inc()
	return exec, true, nil
}

// end 结束一次执行并唤醒所有等待者
func (e *Engine) end(id string, exec *execution, rec *storage.WorkflowRecord, err error) {
	exec.record = rec
	exec.err = err

	e.activeMu.Lock()
	if e.active[id] == exec {
		delete(e.active, id)
	}
	e.activeMu.Unlock()

	e.metrics.activeWorkflows.Dec()
	close(exec.done)
}

// activeExecution 获取本进程内正在进行的执行
func (e *Engine) activeExecution(id string) *execution {
	e.activeMu.Lock()
	defer e.activeMu.Unlock()
	return e.active[id]
}

// spawn 在后台协程中执行，先获取worker名额
func (e *Engine) spawn(id string, exec *execution, work func(ctx context.Context, slotHeld bool) (*storage.WorkflowRecord, error)) {
	go func() {
		defer e.wg.Done()

		if err := e.sem.Acquire(e.ctx, 1); err != nil {
			e.end(id, exec, nil, err)
			return
		}
		rec, err := work(e.ctx, true)
		if err != nil && !errors.Is(err, context.Canceled) {
			e.log.Error().Err(err).Str("workflow_id", id).Msg("❌ [运行时] 工作流执行中断")
		}
		e.end(id, exec, rec, err)
	}()
}

// ========== 工作流运行时 ==========

// execute 登记执行者并运行工作流
func (e *Engine) execute(ctx context.Context, id string, recovering, slotHeld bool) (*storage.WorkflowRecord, error) {
	claimed, err := e.claim(ctx, id, recovering)
	if err != nil || claimed.Status.IsTerminal() {
		if slotHeld {
			e.sem.Release(1)
		}
		return claimed, err
	}
	return e.run(ctx, claimed, slotHeld)
}

// claim 将工作流置为RUNNING；恢复次数超限时直接置为ERROR
func (e *Engine) claim(ctx context.Context, id string, recovering bool) (*storage.WorkflowRecord, error) {
	rec, err := e.store.ClaimWorkflow(ctx, id, e.executorID, recovering)
	if err != nil {
		return nil, fmt.Errorf("登记工作流 %s 失败: %w", id, err)
	}
	if rec.Status.IsTerminal() {
		return rec, nil
	}

	if recovering && rec.RecoveryAttempts > e.maxRecoveryTries {
		msg := fmt.Sprintf("超过最大恢复次数(%d)", e.maxRecoveryTries)
		e.log.Warn().Str("workflow_id", id).Int("attempts", rec.RecoveryAttempts).Msg("⚠️ [运行时] " + msg)
		return e.finalize(ctx, rec, types.WorkflowStatusError, nil, msg)
	}
	return rec, nil
}

// run 执行工作流函数并写入终态
// 存储不可达或引擎停止导致的中断不写终态，记录保持RUNNING等待恢复
func (e *Engine) run(ctx context.Context, rec *storage.WorkflowRecord, slotHeld bool) (*storage.WorkflowRecord, error) {
	wctx := newContext(ctx, e, rec.ID, rec.Name, slotHeld)
	defer func() {
		if wctx.slotHeld {
			e.sem.Release(1)
		}
	}()

	fn, ok := e.registry.get(rec.Name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", types.ErrWorkflowNotRegistered, rec.Name)
	}

	e.metrics.workflowsStarted.WithLabelValues(rec.Name).Inc()
	e.publish(events.Event{
		Type:         events.WorkflowStarted,
		WorkflowID:   rec.ID,
		WorkflowName: rec.Name,
		Status:       string(types.WorkflowStatusRunning),
	})
	e.log.Info().Str("workflow_id", rec.ID).Str("workflow", rec.Name).Msg("🚀 [运行时] 开始执行工作流")

	output, runErr := invokeWorkflow(wctx, fn, rec.Input)

	if wctx.interrupted() || (runErr != nil && ctx.Err() != nil) {
		cause := wctx.fatal
		if cause == nil {
			cause = ctx.Err()
		}
		e.log.Warn().Err(cause).Str("workflow_id", rec.ID).Msg("⚠️ [运行时] 工作流执行中断，保持RUNNING等待恢复")
		return nil, cause
	}

	// 非确定性错误即使被工作流函数吞掉，也必须以ERROR结束
	if wctx.fatal != nil {
		runErr = wctx.fatal
	}
	if runErr != nil {
		return e.finalize(ctx, rec, types.WorkflowStatusError, nil, runErr.Error())
	}
	return e.finalize(ctx, rec, types.WorkflowStatusSuccess, output, "")
}

// finalize 写入终态
func (e *Engine) finalize(ctx context.Context, rec *storage.WorkflowRecord, status types.WorkflowStatus, output []byte, errMsg string) (*storage.WorkflowRecord, error) {
	err := e.withRetries(ctx, "写入终态", func() error {
		return e.store.SetWorkflowStatus(ctx, rec.ID, status, output, errMsg)
	})
	if err != nil {
		if errors.Is(err, types.ErrInvalidTransition) {
			// 其他执行者已写入终态，以存储为准
			return e.store.GetWorkflowStatus(ctx, rec.ID)
		}
		e.log.Error().Err(err).Str("workflow_id", rec.ID).Msg("❌ [运行时] 写入终态失败")
		return nil, err
	}

	final := *rec
	final.Status = status
	final.Output = output
	final.Error = errMsg
	final.UpdatedAt = e.clock.Now().UTC()
	e.cacheTerminal(&final)

	e.metrics.workflowsFinished.WithLabelValues(rec.Name, string(status)).Inc()
	evt := events.Event{
		Type:         events.WorkflowCompleted,
		WorkflowID:   rec.ID,
		WorkflowName: rec.Name,
		Status:       string(status),
	}
	if status == types.WorkflowStatusError {
		evt.Type = events.WorkflowFailed
		evt.Error = errMsg
		e.log.Warn().Str("workflow_id", rec.ID).Str("error", errMsg).Msg("❌ [运行时] 工作流执行失败")
	} else {
		e.log.Info().Str("workflow_id", rec.ID).Msg("✅ [运行时] 工作流执行成功")
	}
	e.publish(evt)
	return &final, nil
}

// invokeWorkflow 调用工作流函数并将panic转换为错误
func invokeWorkflow(ctx *Context, fn WorkflowFunc, input []byte) (output []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("workflow panic: %v", r)
		}
	}()
	return fn(ctx, input)
}

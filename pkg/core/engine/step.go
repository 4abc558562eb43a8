package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/LENAX/durable-engine/pkg/core/events"
	"github.com/LENAX/durable-engine/pkg/core/types"
	"github.com/LENAX/durable-engine/pkg/storage"
)

// StepOptions 步骤执行选项
// 重试在记录结果之前完成，最终只记录一次结果
type StepOptions struct {
	MaxAttempts int           // 最大尝试次数，<=1表示不重试
	Interval    time.Duration // 首次重试间隔
	BackoffRate float64       // 间隔增长倍率，<=1时使用2
}

// RunStep 执行一个持久化步骤（对外导出）
// 已有记录时直接返回记录的结果（包括失败），不再调用fn
func RunStep[T any](ctx *Context, name string, fn func(context.Context) (T, error)) (T, error) {
	return RunStepWithOptions(ctx, name, StepOptions{}, fn)
}

// RunStepWithOptions 带重试选项执行持久化步骤（对外导出）
func RunStepWithOptions[T any](ctx *Context, name string, opts StepOptions, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	raw, err := ctx.runStep(name, opts, func(c context.Context) ([]byte, error) {
		v, err := fn(c)
		if err != nil {
			return nil, err
		}
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("序列化步骤输出失败: %w", err)
		}
		return data, nil
	})
	if err != nil {
		return zero, err
	}

	// 首次执行与重放都从序列化结果还原，保证两者得到的值一致
	var out T
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &out); err != nil {
			return zero, fmt.Errorf("解析步骤 %s 的输出失败: %w", name, err)
		}
	}
	return out, nil
}

// runStep 步骤执行器核心：先查存储，未命中则执行并记录
func (c *Context) runStep(name string, opts StepOptions, fn func(context.Context) ([]byte, error)) ([]byte, error) {
	if c.fatal != nil {
		return nil, c.fatal
	}
	e := c.engine
	idx := c.allocIndex()

	rec, err := e.store.GetStepResult(c, c.workflowID, idx)
	switch {
	case err == nil:
		if rec.Kind != types.StepKindStep || rec.Name != name {
			return nil, c.abort(&types.NonDeterminismError{
				WorkflowID:   c.workflowID,
				StepIndex:    idx,
				RecordedName: rec.Name,
				CurrentName:  name,
			})
		}
		if rec.Completed {
			e.metrics.steps.WithLabelValues(name, "replayed").Inc()
			e.log.Debug().Str("workflow_id", c.workflowID).Int("step", idx).Str("name", name).Msg("[步骤执行器] 重放已记录的结果")
			return c.outcome(rec, true)
		}
	case errors.Is(err, types.ErrStepNotPresent):
	default:
		return nil, c.abort(err)
	}

	spanCtx, span := e.tracer.Start(c, "step "+name, trace.WithAttributes(
		attribute.String("workflow.id", c.workflowID),
		attribute.String("workflow.name", c.workflowName),
		attribute.Int("step.index", idx),
	))
	start := e.clock.Now()
	output, stepErr := e.invokeStep(spanCtx, name, opts, fn)
	e.metrics.stepDuration.WithLabelValues(name).Observe(e.clock.Since(start).Seconds())

	// 引擎停止导致的失败不能被记录为步骤失败，否则重放时会错误地复现
	if stepErr != nil && c.Err() != nil {
		span.SetStatus(codes.Error, "interrupted")
		span.End()
		return nil, c.abort(c.Err())
	}

	record := &storage.StepRecord{
		WorkflowID: c.workflowID,
		StepIndex:  idx,
		Name:       name,
		Kind:       types.StepKindStep,
		Completed:  true,
	}
	if stepErr != nil {
		record.Error = stepErr.Error()
		span.RecordError(stepErr)
		span.SetStatus(codes.Error, stepErr.Error())
	} else {
		record.Output = output
	}
	span.End()

	winner, err := e.store.RecordStepResult(c, record)
	if err != nil {
		e.log.Error().Err(err).Str("workflow_id", c.workflowID).Int("step", idx).Msg("❌ [步骤执行器] 记录步骤结果失败")
		return nil, c.abort(err)
	}

	evt := events.Event{
		Type:         events.StepCompleted,
		WorkflowID:   c.workflowID,
		WorkflowName: c.workflowName,
		StepIndex:    idx,
		StepName:     name,
	}
	if winner.Failed() {
		evt.Type = events.StepFailed
		evt.Error = winner.Error
		e.metrics.steps.WithLabelValues(name, "failed").Inc()
	} else {
		e.metrics.steps.WithLabelValues(name, "executed").Inc()
	}
	e.publish(evt)

	return c.outcome(winner, false)
}

// outcome 将步骤记录转换为返回值
func (c *Context) outcome(rec *storage.StepRecord, replayed bool) ([]byte, error) {
	if rec.Failed() {
		return nil, &types.StepError{
			WorkflowID: c.workflowID,
			StepIndex:  rec.StepIndex,
			StepName:   rec.Name,
			Message:    rec.Error,
			Replayed:   replayed,
		}
	}
	return rec.Output, nil
}

// invokeStep 调用步骤函数，处理重试与panic
func (e *Engine) invokeStep(ctx context.Context, name string, opts StepOptions, fn func(context.Context) ([]byte, error)) ([]byte, error) {
	attempts := opts.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	backoff := opts.BackoffRate
	if backoff <= 1 {
		backoff = 2
	}
	interval := opts.Interval

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		output, err := safeCall(ctx, fn)
		if err == nil {
			return output, nil
		}
		lastErr = err
		if attempt == attempts || ctx.Err() != nil {
			break
		}

		e.log.Warn().Err(err).Str("step", name).Int("attempt", attempt).Msg("⚠️ [步骤执行器] 步骤失败，准备重试")
		if interval > 0 {
			select {
			case <-e.clock.After(interval):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			interval = time.Duration(float64(interval) * backoff)
		}
	}
	if attempts > 1 {
		return nil, fmt.Errorf("重试%d次后仍失败: %w", attempts, lastErr)
	}
	return nil, lastErr
}

// safeCall 调用函数并将panic转换为错误
func safeCall(ctx context.Context, fn func(context.Context) ([]byte, error)) (output []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(ctx)
}

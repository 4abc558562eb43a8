package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/LENAX/durable-engine/pkg/core/types"
	"github.com/LENAX/durable-engine/pkg/storage"
)

// StartOption 启动工作流的选项
type StartOption func(*startOptions)

type startOptions struct {
	workflowID string
}

// WithWorkflowID 指定工作流ID（幂等键）
// 同一ID的重复启动不会再次执行，只会得到已有执行的结果
func WithWorkflowID(id string) StartOption {
	return func(o *startOptions) {
		o.workflowID = id
	}
}

// Status 工作流状态快照（对外导出）
type Status struct {
	WorkflowID       string               `json:"workflow_id"`
	Name             string               `json:"name"`
	Status           types.WorkflowStatus `json:"status"`
	Output           json.RawMessage      `json:"output,omitempty"`
	Error            string               `json:"error,omitempty"`
	ExecutorID       string               `json:"executor_id,omitempty"`
	RecoveryAttempts int                  `json:"recovery_attempts"`
	CreatedAt        time.Time            `json:"created_at"`
	UpdatedAt        time.Time            `json:"updated_at"`
}

func newStatus(rec *storage.WorkflowRecord) *Status {
	s := &Status{
		WorkflowID:       rec.ID,
		Name:             rec.Name,
		Status:           rec.Status,
		Error:            rec.Error,
		ExecutorID:       rec.ExecutorID,
		RecoveryAttempts: rec.RecoveryAttempts,
		CreatedAt:        rec.CreatedAt,
		UpdatedAt:        rec.UpdatedAt,
	}
	if len(rec.Output) > 0 {
		s.Output = json.RawMessage(rec.Output)
	}
	return s
}

// Handle 工作流句柄（对外导出）
type Handle struct {
	ID     string
	engine *Engine
}

// Status 查询当前状态
func (h *Handle) Status(ctx context.Context) (*Status, error) {
	return h.engine.GetStatus(ctx, h.ID)
}

// Result 等待工作流结束并返回输出
// 工作流以ERROR结束时返回*types.WorkflowError
func (h *Handle) Result(ctx context.Context) (json.RawMessage, error) {
	rec, err := h.engine.await(ctx, h.ID)
	if err != nil {
		return nil, err
	}
	return resultOf(rec)
}

// GetResult 等待工作流结束并解析为T（对外导出）
func GetResult[T any](ctx context.Context, h *Handle) (T, error) {
	var out T
	raw, err := h.Result(ctx)
	if err != nil {
		return out, err
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &out); err != nil {
			return out, fmt.Errorf("解析工作流 %s 的输出失败: %w", h.ID, err)
		}
	}
	return out, nil
}

// ========== 启动入口 ==========

// StartSync 同步启动工作流并等待结果（对外导出）
// 新建的工作流在调用方协程中执行，不占用worker名额；已存在的工作流只等待其结果
func (e *Engine) StartSync(ctx context.Context, name string, input any, opts ...StartOption) (json.RawMessage, error) {
	rec, isNew, err := e.enqueue(ctx, name, input, opts)
	if err != nil {
		return nil, err
	}
	if !isNew {
		final, err := e.await(ctx, rec.ID)
		if err != nil {
			return nil, err
		}
		return resultOf(final)
	}

	exec, owner, err := e.begin(rec.ID, false)
	if err != nil {
		return nil, err
	}
	if !owner {
		final, err := e.awaitExecution(ctx, rec.ID, exec)
		if err != nil {
			return nil, err
		}
		return resultOf(final)
	}

	final, runErr := e.execute(ctx, rec.ID, false, false)
	e.end(rec.ID, exec, final, runErr)
	if runErr != nil {
		return nil, runErr
	}
	return resultOf(final)
}

// StartAsync 异步启动工作流，立即返回句柄（对外导出）
func (e *Engine) StartAsync(ctx context.Context, name string, input any, opts ...StartOption) (*Handle, error) {
	rec, isNew, err := e.enqueue(ctx, name, input, opts)
	if err != nil {
		return nil, err
	}
	h := &Handle{ID: rec.ID, engine: e}
	if !isNew {
		return h, nil
	}

	exec, owner, err := e.begin(rec.ID, true)
	if err != nil {
		return nil, err
	}
	if owner {
		e.spawn(rec.ID, exec, func(ctx context.Context, slotHeld bool) (*storage.WorkflowRecord, error) {
			return e.execute(ctx, rec.ID, false, slotHeld)
		})
	}
	return h, nil
}

// RunSync 同步启动强类型工作流（对外导出）
func RunSync[Out any](ctx context.Context, e *Engine, name string, input any, opts ...StartOption) (Out, error) {
	var out Out
	raw, err := e.StartSync(ctx, name, input, opts...)
	if err != nil {
		return out, err
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &out); err != nil {
			return out, fmt.Errorf("解析工作流 %s 的输出失败: %w", name, err)
		}
	}
	return out, nil
}

// enqueue 创建或获取工作流记录
func (e *Engine) enqueue(ctx context.Context, name string, input any, opts []StartOption) (*storage.WorkflowRecord, bool, error) {
	if _, ok := e.registry.get(name); !ok {
		return nil, false, fmt.Errorf("%w: %s", types.ErrWorkflowNotRegistered, name)
	}

	so := &startOptions{}
	for _, opt := range opts {
		opt(so)
	}
	id := so.workflowID
	if id == "" {
		id = e.idSource.NewID()
	}

	payload, err := json.Marshal(input)
	if err != nil {
		return nil, false, fmt.Errorf("序列化工作流输入失败: %w", err)
	}

	rec, isNew, err := e.store.CreateOrGetWorkflow(ctx, &storage.WorkflowRecord{
		ID:     id,
		Name:   name,
		Input:  payload,
		Status: types.WorkflowStatusPending,
	})
	if err != nil {
		return nil, false, fmt.Errorf("创建工作流记录失败: %w", err)
	}
	if rec.Name != name {
		return nil, false, fmt.Errorf("%w: ID %s 已被工作流 %s 使用", types.ErrWorkflowConflict, id, rec.Name)
	}
	if !isNew {
		e.log.Debug().Str("workflow_id", id).Str("status", string(rec.Status)).Msg("[引擎] 工作流已存在，等待已有执行")
	}
	return rec, isNew, nil
}

// ========== 等待结果 ==========

// await 等待工作流进入终态
// 本进程内有执行时等待其结束，否则按pollInterval轮询存储
func (e *Engine) await(ctx context.Context, id string) (*storage.WorkflowRecord, error) {
	if exec := e.activeExecution(id); exec != nil {
		return e.awaitExecution(ctx, id, exec)
	}
	return e.poll(ctx, id)
}

func (e *Engine) awaitExecution(ctx context.Context, id string, exec *execution) (*storage.WorkflowRecord, error) {
	select {
	case <-exec.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if exec.err != nil {
		return nil, exec.err
	}
	if exec.record != nil && exec.record.Status.IsTerminal() {
		return exec.record, nil
	}
	return e.poll(ctx, id)
}

func (e *Engine) poll(ctx context.Context, id string) (*storage.WorkflowRecord, error) {
	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()

	for {
		rec, err := e.lookup(ctx, id)
		if err != nil {
			return nil, err
		}
		if rec.Status.IsTerminal() {
			return rec, nil
		}
		// 轮询期间可能被本进程的恢复扫描接管
		if exec := e.activeExecution(id); exec != nil {
			return e.awaitExecution(ctx, id, exec)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// resultOf 将终态记录转换为返回值
func resultOf(rec *storage.WorkflowRecord) (json.RawMessage, error) {
	if rec.Status == types.WorkflowStatusError {
		return nil, &types.WorkflowError{WorkflowID: rec.ID, Message: rec.Error}
	}
	return json.RawMessage(rec.Output), nil
}

// ========== 查询 ==========

// GetStatus 查询工作流状态（对外导出）
func (e *Engine) GetStatus(ctx context.Context, id string) (*Status, error) {
	rec, err := e.lookup(ctx, id)
	if err != nil {
		return nil, err
	}
	return newStatus(rec), nil
}

// RetrieveHandle 获取已有工作流的句柄（对外导出）
func (e *Engine) RetrieveHandle(ctx context.Context, id string) (*Handle, error) {
	if _, err := e.lookup(ctx, id); err != nil {
		return nil, err
	}
	return &Handle{ID: id, engine: e}, nil
}

// ListWorkflows 按条件列出工作流（对外导出）
func (e *Engine) ListWorkflows(ctx context.Context, filter storage.ListFilter) ([]*Status, error) {
	records, err := e.store.ListWorkflows(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("列出工作流失败: %w", err)
	}
	result := make([]*Status, 0, len(records))
	for _, rec := range records {
		result = append(result, newStatus(rec))
	}
	return result, nil
}

// ListSteps 列出工作流已记录的步骤（对外导出）
func (e *Engine) ListSteps(ctx context.Context, id string) ([]*storage.StepRecord, error) {
	if _, err := e.lookup(ctx, id); err != nil {
		return nil, err
	}
	steps, err := e.store.ListSteps(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("列出步骤失败: %w", err)
	}
	return steps, nil
}

// lookup 读取工作流记录，终态记录优先走缓存
func (e *Engine) lookup(ctx context.Context, id string) (*storage.WorkflowRecord, error) {
	if e.statusCache != nil {
		if v, ok := e.statusCache.Get(statusCacheKey(id)); ok {
			if rec, ok := v.(*storage.WorkflowRecord); ok {
				return rec, nil
			}
		}
	}

	rec, err := e.store.GetWorkflowStatus(ctx, id)
	if err != nil {
		if errors.Is(err, types.ErrWorkflowNotFound) {
			return nil, fmt.Errorf("%w: %s", types.ErrWorkflowNotFound, id)
		}
		return nil, err
	}
	if rec.Status.IsTerminal() {
		e.cacheTerminal(rec)
	}
	return rec, nil
}

// cacheTerminal 缓存终态记录（终态不可变）
func (e *Engine) cacheTerminal(rec *storage.WorkflowRecord) {
	if e.statusCache == nil || !rec.Status.IsTerminal() {
		return
	}
	if err := e.statusCache.Set(statusCacheKey(rec.ID), rec, e.cacheTTL); err != nil {
		e.log.Debug().Err(err).Str("workflow_id", rec.ID).Msg("[缓存] 写入失败")
	}
}

func statusCacheKey(id string) string {
	return "workflow:" + id
}

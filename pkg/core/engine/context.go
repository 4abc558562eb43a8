package engine

import (
	"context"
	"errors"

	"github.com/LENAX/durable-engine/pkg/core/types"
)

// Context 工作流执行上下文（对外导出）
// 每次执行（含重放）都会重建，步骤下标从0开始按调用顺序递增
type Context struct {
	context.Context

	engine       *Engine
	workflowID   string
	workflowName string
	nextIndex    int

	// 导致本次执行必须中止的错误（存储不可达、非确定性、引擎停止）
	fatal error

	slotHeld bool
}

func newContext(ctx context.Context, e *Engine, workflowID, workflowName string, slotHeld bool) *Context {
	return &Context{
		Context:      ctx,
		engine:       e,
		workflowID:   workflowID,
		workflowName: workflowName,
		slotHeld:     slotHeld,
	}
}

// WorkflowID 当前工作流ID
func (c *Context) WorkflowID() string {
	return c.workflowID
}

// WorkflowName 当前工作流名称
func (c *Context) WorkflowName() string {
	return c.workflowName
}

// StepCount 已分配的步骤下标数量
func (c *Context) StepCount() int {
	return c.nextIndex
}

// Engine 所属引擎，工作流内可用于查询其他工作流状态
func (c *Context) Engine() *Engine {
	return c.engine
}

// allocIndex 分配下一个步骤下标
func (c *Context) allocIndex() int {
	idx := c.nextIndex
	c.nextIndex++
	return idx
}

// abort 记录致命错误并返回，之后的步骤都会直接失败
func (c *Context) abort(err error) error {
	if c.fatal == nil {
		c.fatal = err
	}
	return err
}

// interrupted 致命错误是否应保持RUNNING等待恢复（非确定性错误除外）
func (c *Context) interrupted() bool {
	return c.fatal != nil && !errors.Is(c.fatal, types.ErrNonDeterminism)
}

package engine

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// WorkflowFunc 工作流函数，输入输出均为JSON
// 函数体必须是确定性的：每次执行调用步骤和等待的顺序必须一致
type WorkflowFunc func(ctx *Context, input []byte) ([]byte, error)

// registry 工作流注册表
type registry struct {
	mu    sync.RWMutex
	funcs map[string]WorkflowFunc
}

func newRegistry() *registry {
	return &registry{funcs: make(map[string]WorkflowFunc)}
}

func (r *registry) register(name string, fn WorkflowFunc) error {
	if name == "" {
		return fmt.Errorf("工作流名称不能为空")
	}
	if fn == nil {
		return fmt.Errorf("工作流 %s 的函数不能为空", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.funcs[name]; exists {
		return fmt.Errorf("工作流 %s 已注册", name)
	}
	r.funcs[name] = fn
	return nil
}

func (r *registry) get(name string) (WorkflowFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.funcs[name]
	return fn, ok
}

func (r *registry) names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.funcs))
	for name := range r.funcs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RegisterWorkflow 注册原始JSON工作流（对外导出）
func (e *Engine) RegisterWorkflow(name string, fn WorkflowFunc) error {
	if err := e.registry.register(name, fn); err != nil {
		return err
	}
	e.log.Debug().Str("workflow", name).Msg("✅ [注册表] 已注册工作流")
	return nil
}

// Workflows 列出已注册的工作流名称
func (e *Engine) Workflows() []string {
	return e.registry.names()
}

// Register 注册强类型工作流（对外导出）
// 输入输出通过JSON序列化持久化，重放时从存储中还原
func Register[In, Out any](e *Engine, name string, fn func(ctx *Context, input In) (Out, error)) error {
	return e.RegisterWorkflow(name, func(ctx *Context, raw []byte) ([]byte, error) {
		var in In
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &in); err != nil {
				return nil, fmt.Errorf("解析工作流输入失败: %w", err)
			}
		}
		out, err := fn(ctx, in)
		if err != nil {
			return nil, err
		}
		data, err := json.Marshal(out)
		if err != nil {
			return nil, fmt.Errorf("序列化工作流输出失败: %w", err)
		}
		return data, nil
	})
}

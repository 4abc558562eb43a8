package plugin

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/LENAX/durable-engine/pkg/core/events"
)

// TriggerEvent 插件触发事件类型，与引擎生命周期事件一一对应（对外导出）
type TriggerEvent string

const (
	EventWorkflowStarted   TriggerEvent = TriggerEvent(events.WorkflowStarted)   // 工作流开始执行
	EventWorkflowCompleted TriggerEvent = TriggerEvent(events.WorkflowCompleted) // 工作流成功
	EventWorkflowFailed    TriggerEvent = TriggerEvent(events.WorkflowFailed)    // 工作流失败
	EventWorkflowRecovered TriggerEvent = TriggerEvent(events.WorkflowRecovered) // 工作流被恢复
	EventStepCompleted     TriggerEvent = TriggerEvent(events.StepCompleted)     // 步骤成功
	EventStepFailed        TriggerEvent = TriggerEvent(events.StepFailed)        // 步骤失败
)

// PluginBinding 插件绑定规则（对外导出）
type PluginBinding struct {
	PluginName string              // 插件名称
	Event      TriggerEvent        // 触发事件
	Workflow   string              // 可选：只处理该工作流的事件
	Condition  func(data any) bool // 可选：条件函数，满足条件才触发
}

// PluginData 传递给插件的数据（对外导出）
type PluginData struct {
	Event        TriggerEvent           // 触发事件
	WorkflowID   string                 // 工作流ID
	WorkflowName string                 // 工作流名称
	StepIndex    int                    // 步骤下标（步骤事件）
	StepName     string                 // 步骤名称（步骤事件）
	Status       string                 // 状态
	Error        string                 // 错误信息（如果有）
	Timestamp    time.Time              // 事件时间
	Data         map[string]interface{} // 自定义数据
}

// NewPluginData 由生命周期事件构建插件数据
func NewPluginData(evt events.Event) PluginData {
	return PluginData{
		Event:        TriggerEvent(evt.Type),
		WorkflowID:   evt.WorkflowID,
		WorkflowName: evt.WorkflowName,
		StepIndex:    evt.StepIndex,
		StepName:     evt.StepName,
		Status:       evt.Status,
		Error:        evt.Error,
		Timestamp:    evt.Timestamp,
	}
}

// PluginManager 插件管理器接口（对外导出）
type PluginManager interface {
	// Register 注册插件
	Register(plugin Plugin) error
	// RegisterWithInit 注册并初始化插件
	RegisterWithInit(plugin Plugin, params map[string]string) error
	// Bind 绑定插件到事件
	Bind(binding PluginBinding) error
	// Trigger 触发插件
	Trigger(ctx context.Context, event TriggerEvent, data PluginData) error
	// GetPlugin 获取已注册的插件
	GetPlugin(name string) (Plugin, bool)
	// ListPlugins 列出所有已注册的插件
	ListPlugins() []string
	// Unregister 取消注册插件
	Unregister(name string) error
}

// pluginManagerImpl 插件管理器实现（内部实现）
type pluginManagerImpl struct {
	plugins  map[string]Plugin                // 插件名称 -> 插件实例
	bindings map[TriggerEvent][]PluginBinding // 事件类型 -> 绑定列表
	mu       sync.RWMutex
}

// NewPluginManager 创建插件管理器（对外导出）
func NewPluginManager() PluginManager {
	return &pluginManagerImpl{
		plugins:  make(map[string]Plugin),
		bindings: make(map[TriggerEvent][]PluginBinding),
	}
}

// Register 注册插件（实现PluginManager接口）
func (pm *pluginManagerImpl) Register(plugin Plugin) error {
	if plugin == nil {
		return fmt.Errorf("插件不能为空")
	}
	name := plugin.Name()
	if name == "" {
		return fmt.Errorf("插件名称不能为空")
	}

	pm.mu.Lock()
	defer pm.mu.Unlock()
	if _, exists := pm.plugins[name]; exists {
		return fmt.Errorf("插件 %s 已注册", name)
	}
	pm.plugins[name] = plugin
	return nil
}

// RegisterWithInit 注册并初始化插件（实现PluginManager接口）
func (pm *pluginManagerImpl) RegisterWithInit(plugin Plugin, params map[string]string) error {
	if err := pm.Register(plugin); err != nil {
		return err
	}
	if err := plugin.Init(params); err != nil {
		// 初始化失败，移除已注册的插件
		pm.mu.Lock()
		delete(pm.plugins, plugin.Name())
		pm.mu.Unlock()
		return fmt.Errorf("插件 %s 初始化失败: %w", plugin.Name(), err)
	}
	return nil
}

// Bind 绑定插件到事件（实现PluginManager接口）
func (pm *pluginManagerImpl) Bind(binding PluginBinding) error {
	if binding.PluginName == "" {
		return fmt.Errorf("插件名称不能为空")
	}
	if binding.Event == "" {
		return fmt.Errorf("触发事件不能为空")
	}

	pm.mu.Lock()
	defer pm.mu.Unlock()
	if _, exists := pm.plugins[binding.PluginName]; !exists {
		return fmt.Errorf("插件 %s 未注册", binding.PluginName)
	}
	pm.bindings[binding.Event] = append(pm.bindings[binding.Event], binding)
	return nil
}

// Trigger 触发插件（实现PluginManager接口）
// 单个插件失败不影响其他插件，所有错误合并返回
func (pm *pluginManagerImpl) Trigger(ctx context.Context, event TriggerEvent, data PluginData) error {
	pm.mu.RLock()
	bindings := append([]PluginBinding(nil), pm.bindings[event]...)
	pm.mu.RUnlock()

	var errs []error
	for _, binding := range bindings {
		if binding.Workflow != "" && binding.Workflow != data.WorkflowName {
			continue
		}
		if binding.Condition != nil && !binding.Condition(data) {
			continue
		}

		plugin, exists := pm.GetPlugin(binding.PluginName)
		if !exists {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := plugin.Execute(data); err != nil {
			errs = append(errs, fmt.Errorf("插件 %s 执行失败: %w", binding.PluginName, err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("触发插件失败: %w", errors.Join(errs...))
	}
	return nil
}

// GetPlugin 获取已注册的插件（实现PluginManager接口）
func (pm *pluginManagerImpl) GetPlugin(name string) (Plugin, bool) {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	plugin, exists := pm.plugins[name]
	return plugin, exists
}

// ListPlugins 列出所有已注册的插件（实现PluginManager接口）
func (pm *pluginManagerImpl) ListPlugins() []string {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	names := make([]string, 0, len(pm.plugins))
	for name := range pm.plugins {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Unregister 取消注册插件（实现PluginManager接口）
func (pm *pluginManagerImpl) Unregister(name string) error {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	if _, exists := pm.plugins[name]; !exists {
		return fmt.Errorf("插件 %s 未注册", name)
	}
	delete(pm.plugins, name)

	// 移除所有相关的绑定
	for event, bindings := range pm.bindings {
		filtered := bindings[:0:0]
		for _, binding := range bindings {
			if binding.PluginName != name {
				filtered = append(filtered, binding)
			}
		}
		pm.bindings[event] = filtered
	}
	return nil
}

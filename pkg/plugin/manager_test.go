package plugin

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockPlugin 测试用的Mock插件
type mockPlugin struct {
	name         string
	initParams   map[string]string
	initError    error
	executeError error

	mu    sync.Mutex
	calls []PluginData
}

func newMockPlugin(name string) *mockPlugin {
	return &mockPlugin{name: name}
}

func (m *mockPlugin) Name() string {
	return m.name
}

func (m *mockPlugin) Init(params map[string]string) error {
	m.initParams = params
	return m.initError
}

func (m *mockPlugin) Execute(data interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, data.(PluginData))
	return m.executeError
}

func (m *mockPlugin) received() []PluginData {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]PluginData(nil), m.calls...)
}

// TestPluginManager_Register 测试插件注册
func TestPluginManager_Register(t *testing.T) {
	pm := NewPluginManager()

	require.NoError(t, pm.Register(newMockPlugin("test_plugin")))

	// 重复注册
	assert.Error(t, pm.Register(newMockPlugin("test_plugin")))
	// 空插件
	assert.Error(t, pm.Register(nil))
	// 空名称插件
	assert.Error(t, pm.Register(newMockPlugin("")))
}

// TestPluginManager_RegisterWithInit 测试插件注册并初始化
func TestPluginManager_RegisterWithInit(t *testing.T) {
	pm := NewPluginManager()

	p1 := newMockPlugin("test_plugin")
	require.NoError(t, pm.RegisterWithInit(p1, map[string]string{"key": "value"}))
	assert.Equal(t, "value", p1.initParams["key"])

	// 初始化失败后插件被移除
	p2 := newMockPlugin("test_plugin2")
	p2.initError = errors.New("初始化失败")
	assert.Error(t, pm.RegisterWithInit(p2, nil))
	_, exists := pm.GetPlugin("test_plugin2")
	assert.False(t, exists)
}

// TestPluginManager_Bind 测试插件绑定
func TestPluginManager_Bind(t *testing.T) {
	pm := NewPluginManager()
	require.NoError(t, pm.Register(newMockPlugin("test_plugin")))

	require.NoError(t, pm.Bind(PluginBinding{PluginName: "test_plugin", Event: EventWorkflowFailed}))

	assert.Error(t, pm.Bind(PluginBinding{PluginName: "not_exist", Event: EventWorkflowFailed}))
	assert.Error(t, pm.Bind(PluginBinding{PluginName: "", Event: EventWorkflowFailed}))
	assert.Error(t, pm.Bind(PluginBinding{PluginName: "test_plugin", Event: ""}))
}

// TestPluginManager_Trigger 测试插件触发
func TestPluginManager_Trigger(t *testing.T) {
	pm := NewPluginManager()
	p1 := newMockPlugin("test_plugin")
	require.NoError(t, pm.Register(p1))
	require.NoError(t, pm.Bind(PluginBinding{PluginName: "test_plugin", Event: EventWorkflowCompleted}))

	data := PluginData{
		Event:        EventWorkflowCompleted,
		WorkflowID:   "abcd",
		WorkflowName: "transferFunds",
		Status:       "SUCCESS",
	}
	require.NoError(t, pm.Trigger(context.Background(), EventWorkflowCompleted, data))

	calls := p1.received()
	require.Len(t, calls, 1)
	assert.Equal(t, "abcd", calls[0].WorkflowID)

	// 未绑定事件不触发
	require.NoError(t, pm.Trigger(context.Background(), EventWorkflowFailed, data))
	assert.Len(t, p1.received(), 1)
}

// TestPluginManager_TriggerFilters 测试工作流过滤与条件函数
func TestPluginManager_TriggerFilters(t *testing.T) {
	pm := NewPluginManager()
	p1 := newMockPlugin("test_plugin")
	require.NoError(t, pm.Register(p1))
	require.NoError(t, pm.Bind(PluginBinding{
		PluginName: "test_plugin",
		Event:      EventStepFailed,
		Workflow:   "transferFunds",
		Condition: func(data any) bool {
			return data.(PluginData).StepName == "transfer_money"
		},
	}))

	ctx := context.Background()
	require.NoError(t, pm.Trigger(ctx, EventStepFailed, PluginData{WorkflowName: "transferFunds", StepName: "transfer_money"}))
	require.NoError(t, pm.Trigger(ctx, EventStepFailed, PluginData{WorkflowName: "transferFunds", StepName: "send_confirmation_message"}))
	require.NoError(t, pm.Trigger(ctx, EventStepFailed, PluginData{WorkflowName: "checkBalance", StepName: "transfer_money"}))

	assert.Len(t, p1.received(), 1)
}

// TestPluginManager_TriggerCollectsErrors 测试单个插件失败不影响其他插件
func TestPluginManager_TriggerCollectsErrors(t *testing.T) {
	pm := NewPluginManager()
	failing := newMockPlugin("failing")
	failing.executeError = errors.New("smtp down")
	ok := newMockPlugin("ok")
	require.NoError(t, pm.Register(failing))
	require.NoError(t, pm.Register(ok))
	require.NoError(t, pm.Bind(PluginBinding{PluginName: "failing", Event: EventWorkflowFailed}))
	require.NoError(t, pm.Bind(PluginBinding{PluginName: "ok", Event: EventWorkflowFailed}))

	err := pm.Trigger(context.Background(), EventWorkflowFailed, PluginData{WorkflowID: "wf-1"})
	require.Error(t, err)
	assert.ErrorIs(t, err, failing.executeError)
	assert.Len(t, ok.received(), 1)
}

// TestPluginManager_Unregister 测试插件注销
func TestPluginManager_Unregister(t *testing.T) {
	pm := NewPluginManager()
	p1 := newMockPlugin("test_plugin")
	require.NoError(t, pm.Register(p1))
	require.NoError(t, pm.Bind(PluginBinding{PluginName: "test_plugin", Event: EventWorkflowCompleted}))

	require.NoError(t, pm.Unregister("test_plugin"))
	_, exists := pm.GetPlugin("test_plugin")
	assert.False(t, exists)
	assert.Error(t, pm.Unregister("test_plugin"))

	// 绑定也被移除
	require.NoError(t, pm.Trigger(context.Background(), EventWorkflowCompleted, PluginData{}))
	assert.Empty(t, p1.received())
}

// TestPluginManager_ListPlugins 测试列出插件
func TestPluginManager_ListPlugins(t *testing.T) {
	pm := NewPluginManager()
	for _, name := range []string{"plugin3", "plugin1", "plugin2"} {
		require.NoError(t, pm.Register(newMockPlugin(name)))
	}
	assert.Equal(t, []string{"plugin1", "plugin2", "plugin3"}, pm.ListPlugins())
}
